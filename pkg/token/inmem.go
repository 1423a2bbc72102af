package token

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// InMemStore is a Store backed by process memory. Suitable for tests and
// single-node deployments; multi-node setups need the postgres or redis
// store.
type InMemStore struct {
	mu     sync.Mutex
	txMu   sync.Mutex
	tokens map[string]Token // key: type + "/" + id
	now    func() time.Time
}

var _ Store = (*InMemStore)(nil)

// NewInMemStore creates an empty in-memory token store.
func NewInMemStore() *InMemStore {
	return &InMemStore{
		tokens: make(map[string]Token),
		now:    time.Now,
	}
}

func key(tokenType, id string) string {
	return tokenType + "/" + id
}

// Add implements Store.
func (s *InMemStore) Add(ctx context.Context, t Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(t.Type, t.ID)
	if existing, ok := s.tokens[k]; ok && !existing.IsExpired(s.now()) {
		return fmt.Errorf("adding token %s/%s: %w", t.Type, t.ID, ErrAlreadyExists)
	}
	s.tokens[k] = t
	return nil
}

// GetByID implements Store.
func (s *InMemStore) GetByID(ctx context.Context, tokenType, id string) (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(tokenType, id)
}

func (s *InMemStore) getLocked(tokenType, id string) (Token, error) {
	t, ok := s.tokens[key(tokenType, id)]
	if !ok || t.IsExpired(s.now()) {
		return Token{}, fmt.Errorf("token %s/%s: %w", tokenType, id, ErrNotFound)
	}
	return t, nil
}

// Update implements Store.
func (s *InMemStore) Update(ctx context.Context, tokenType, id string, expires *time.Time, contents []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.getLocked(tokenType, id)
	if err != nil {
		return err
	}
	t.Contents = contents
	if expires != nil {
		t.Expires = expires
	}
	s.tokens[key(tokenType, id)] = t
	return nil
}

// Remove implements Store.
func (s *InMemStore) Remove(ctx context.Context, tokenType, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(tokenType, id)
	if _, ok := s.tokens[k]; !ok {
		return fmt.Errorf("token %s/%s: %w", tokenType, id, ErrNotFound)
	}
	delete(s.tokens, k)
	return nil
}

// GetOwned implements Store.
func (s *InMemStore) GetOwned(ctx context.Context, tokenType string, owner int64) ([]Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Token
	now := s.now()
	for _, t := range s.tokens {
		if t.Type == tokenType && t.Owner == owner && !t.IsExpired(now) {
			out = append(out, t)
		}
	}
	return out, nil
}

// GetAll implements Store.
func (s *InMemStore) GetAll(ctx context.Context, tokenType string) ([]Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Token
	now := s.now()
	for _, t := range s.tokens {
		if t.Type == tokenType && !t.IsExpired(now) {
			out = append(out, t)
		}
	}
	return out, nil
}

// InTransaction implements Store. The in-memory implementation serializes
// transactions on a single mutex, which trivially gives the atomicity the
// session manager needs.
func (s *InMemStore) InTransaction(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return fn(ctx, &inMemTx{store: s})
}

// inMemTx is the transaction-bound view. Operations go straight to the
// store; atomicity comes from the transaction mutex.
type inMemTx struct {
	store *InMemStore
}

var _ Store = (*inMemTx)(nil)

func (t *inMemTx) Add(ctx context.Context, tok Token) error { return t.store.Add(ctx, tok) }
func (t *inMemTx) GetByID(ctx context.Context, tokenType, id string) (Token, error) {
	return t.store.GetByID(ctx, tokenType, id)
}
func (t *inMemTx) Update(ctx context.Context, tokenType, id string, expires *time.Time, contents []byte) error {
	return t.store.Update(ctx, tokenType, id, expires, contents)
}
func (t *inMemTx) Remove(ctx context.Context, tokenType, id string) error {
	return t.store.Remove(ctx, tokenType, id)
}
func (t *inMemTx) GetOwned(ctx context.Context, tokenType string, owner int64) ([]Token, error) {
	return t.store.GetOwned(ctx, tokenType, owner)
}
func (t *inMemTx) GetAll(ctx context.Context, tokenType string) ([]Token, error) {
	return t.store.GetAll(ctx, tokenType)
}
func (t *inMemTx) InTransaction(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	// already inside the transaction
	return fn(ctx, t)
}
