// Package token defines the generic token store the engine persists its
// state into: login sessions and remember-me tokens are both rows of the
// same store, distinguished by a type string. The store is the transactional
// boundary for multi-node deployments; the engine itself never takes
// in-process locks around store operations.
package token

import (
	"context"
	"errors"
	"time"
)

// Token type strings used by the engine.
const (
	TypeSession    = "session"
	TypeRememberMe = "rememberMe"
)

// Token is one stored token: an envelope (type, id, owner, timestamps) and
// an opaque serialized payload.
type Token struct {
	Type     string
	ID       string
	Owner    int64
	Contents []byte
	Created  time.Time
	// Expires is the absolute deadline after which the store drops the
	// token. Nil means no absolute deadline.
	Expires *time.Time
}

// IsExpired tells whether the token's absolute deadline has passed.
func (t Token) IsExpired(now time.Time) bool {
	return t.Expires != nil && now.After(*t.Expires)
}

// ErrNotFound is returned when no live token matches the given type and id.
var ErrNotFound = errors.New("token not found")

// ErrAlreadyExists is returned when adding a token with an id already in use
// for its type.
var ErrAlreadyExists = errors.New("token already exists")

// Store persists tokens. Implementations drop tokens past their absolute
// expiration: an expired token is reported as not found.
type Store interface {
	// Add stores a new token.
	Add(ctx context.Context, t Token) error

	// GetByID returns a live token by type and id.
	GetByID(ctx context.Context, tokenType, id string) (Token, error)

	// Update replaces the contents, and optionally the absolute expiration,
	// of a live token. A nil expires leaves the stored deadline unchanged.
	Update(ctx context.Context, tokenType, id string, expires *time.Time, contents []byte) error

	// Remove deletes a token. Removing an absent token returns ErrNotFound;
	// callers racing with expiry or logout treat that as success.
	Remove(ctx context.Context, tokenType, id string) error

	// GetOwned returns all live tokens of a type owned by an entity.
	GetOwned(ctx context.Context, tokenType string, owner int64) ([]Token, error)

	// GetAll returns all live tokens of a type.
	GetAll(ctx context.Context, tokenType string) ([]Token, error)

	// InTransaction runs fn atomically with respect to other transactions on
	// the same store. fn receives a Store view bound to the transaction.
	// The transaction commits when fn returns nil and rolls back otherwise.
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}
