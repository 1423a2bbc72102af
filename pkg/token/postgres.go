package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX allows the store to run on a pool or inside a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore is a Store backed by PostgreSQL. Transactions map to real
// database transactions, which is what makes get-or-create session logic
// safe across server instances.
//
// Expected schema:
//
//	CREATE TABLE idp_token (
//	    token_type TEXT        NOT NULL,
//	    id         TEXT        NOT NULL,
//	    owner      BIGINT      NOT NULL,
//	    contents   BYTEA       NOT NULL,
//	    created    TIMESTAMPTZ NOT NULL,
//	    expires    TIMESTAMPTZ,
//	    PRIMARY KEY (token_type, id)
//	);
//	CREATE INDEX idp_token_owner_idx ON idp_token (token_type, owner);
type PostgresStore struct {
	pool *pgxpool.Pool
	db   DBTX
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a Store on top of a pgx pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, db: pool}
}

const notExpired = "(expires IS NULL OR expires > now())"

// Add implements Store.
func (s *PostgresStore) Add(ctx context.Context, t Token) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO idp_token (token_type, id, owner, contents, created, expires)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		t.Type, t.ID, t.Owner, t.Contents, t.Created, t.Expires)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("adding token %s/%s: %w", t.Type, t.ID, ErrAlreadyExists)
		}
		return fmt.Errorf("adding token %s/%s: %w", t.Type, t.ID, err)
	}
	return nil
}

// GetByID implements Store.
func (s *PostgresStore) GetByID(ctx context.Context, tokenType, id string) (Token, error) {
	row := s.db.QueryRow(ctx, `
		SELECT token_type, id, owner, contents, created, expires
		FROM idp_token
		WHERE token_type = $1 AND id = $2 AND `+notExpired,
		tokenType, id)
	return scanToken(row, tokenType, id)
}

func scanToken(row pgx.Row, tokenType, id string) (Token, error) {
	var t Token
	err := row.Scan(&t.Type, &t.ID, &t.Owner, &t.Contents, &t.Created, &t.Expires)
	if errors.Is(err, pgx.ErrNoRows) {
		return Token{}, fmt.Errorf("token %s/%s: %w", tokenType, id, ErrNotFound)
	}
	if err != nil {
		return Token{}, fmt.Errorf("reading token %s/%s: %w", tokenType, id, err)
	}
	return t, nil
}

// Update implements Store.
func (s *PostgresStore) Update(ctx context.Context, tokenType, id string, expires *time.Time, contents []byte) error {
	var tag pgconn.CommandTag
	var err error
	if expires != nil {
		tag, err = s.db.Exec(ctx, `
			UPDATE idp_token SET contents = $3, expires = $4
			WHERE token_type = $1 AND id = $2 AND `+notExpired,
			tokenType, id, contents, *expires)
	} else {
		tag, err = s.db.Exec(ctx, `
			UPDATE idp_token SET contents = $3
			WHERE token_type = $1 AND id = $2 AND `+notExpired,
			tokenType, id, contents)
	}
	if err != nil {
		return fmt.Errorf("updating token %s/%s: %w", tokenType, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("token %s/%s: %w", tokenType, id, ErrNotFound)
	}
	return nil
}

// Remove implements Store.
func (s *PostgresStore) Remove(ctx context.Context, tokenType, id string) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM idp_token WHERE token_type = $1 AND id = $2`, tokenType, id)
	if err != nil {
		return fmt.Errorf("removing token %s/%s: %w", tokenType, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("token %s/%s: %w", tokenType, id, ErrNotFound)
	}
	return nil
}

// GetOwned implements Store.
func (s *PostgresStore) GetOwned(ctx context.Context, tokenType string, owner int64) ([]Token, error) {
	rows, err := s.db.Query(ctx, `
		SELECT token_type, id, owner, contents, created, expires
		FROM idp_token
		WHERE token_type = $1 AND owner = $2 AND `+notExpired,
		tokenType, owner)
	if err != nil {
		return nil, fmt.Errorf("listing owned %s tokens: %w", tokenType, err)
	}
	defer rows.Close()
	return collectTokens(rows)
}

// GetAll implements Store.
func (s *PostgresStore) GetAll(ctx context.Context, tokenType string) ([]Token, error) {
	rows, err := s.db.Query(ctx, `
		SELECT token_type, id, owner, contents, created, expires
		FROM idp_token
		WHERE token_type = $1 AND `+notExpired,
		tokenType)
	if err != nil {
		return nil, fmt.Errorf("listing %s tokens: %w", tokenType, err)
	}
	defer rows.Close()
	return collectTokens(rows)
}

func collectTokens(rows pgx.Rows) ([]Token, error) {
	var out []Token
	for rows.Next() {
		var t Token
		if err := rows.Scan(&t.Type, &t.ID, &t.Owner, &t.Contents, &t.Created, &t.Expires); err != nil {
			return nil, fmt.Errorf("scanning token row: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// InTransaction implements Store using a serializable database transaction.
func (s *PostgresStore) InTransaction(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	if s.pool == nil {
		// already transaction-bound
		return fn(ctx, s)
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("beginning token transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &PostgresStore{db: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing token transaction: %w", err)
	}
	return nil
}
