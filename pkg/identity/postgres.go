package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tenvia/idp-core/pkg/authn"
)

// PostgresStore is an identity and credential store backed by PostgreSQL.
//
// Expected schema:
//
//	CREATE TABLE idp_entity (
//	    id      BIGSERIAL PRIMARY KEY,
//	    subject TEXT NOT NULL UNIQUE,
//	    label   TEXT NOT NULL DEFAULT '',
//	    enabled BOOLEAN NOT NULL DEFAULT TRUE
//	);
//	CREATE TABLE idp_entity_attribute (
//	    entity_id BIGINT NOT NULL REFERENCES idp_entity (id) ON DELETE CASCADE,
//	    name      TEXT   NOT NULL,
//	    value     TEXT   NOT NULL
//	);
//	CREATE TABLE idp_entity_group (
//	    entity_id  BIGINT NOT NULL REFERENCES idp_entity (id) ON DELETE CASCADE,
//	    group_path TEXT   NOT NULL
//	);
//	CREATE TABLE idp_credential_definition (
//	    name          TEXT PRIMARY KEY,
//	    type_id       TEXT NOT NULL,
//	    configuration TEXT NOT NULL DEFAULT ''
//	);
//	CREATE TABLE idp_credential (
//	    entity_id       BIGINT NOT NULL REFERENCES idp_entity (id) ON DELETE CASCADE,
//	    credential_name TEXT   NOT NULL REFERENCES idp_credential_definition (name),
//	    serialized      TEXT   NOT NULL,
//	    state           TEXT   NOT NULL DEFAULT 'valid',
//	    PRIMARY KEY (entity_id, credential_name)
//	);
type PostgresStore struct {
	pool *pgxpool.Pool
}

var (
	_ authn.IdentityResolver = (*PostgresStore)(nil)
	_ authn.CredentialStore  = (*PostgresStore)(nil)
)

// NewPostgresStore creates a store on top of a pgx pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// AddEntity registers an entity and returns its assigned id.
func (s *PostgresStore) AddEntity(ctx context.Context, e Entity) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO idp_entity (subject, label, enabled)
		VALUES ($1, $2, $3)
		RETURNING id`,
		e.Subject, e.Label, e.Enabled).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("adding entity %q: %w", e.Subject, err)
	}
	for name, values := range e.Attributes {
		for _, value := range values {
			if _, err := s.pool.Exec(ctx, `
				INSERT INTO idp_entity_attribute (entity_id, name, value)
				VALUES ($1, $2, $3)`, id, name, value); err != nil {
				return 0, fmt.Errorf("adding attribute %q of entity %d: %w", name, id, err)
			}
		}
	}
	for _, group := range e.Groups {
		if _, err := s.pool.Exec(ctx, `
			INSERT INTO idp_entity_group (entity_id, group_path)
			VALUES ($1, $2)`, id, group); err != nil {
			return 0, fmt.Errorf("adding group %q of entity %d: %w", group, id, err)
		}
	}
	return id, nil
}

// AddCredentialDefinition registers a local credential definition.
func (s *PostgresStore) AddCredentialDefinition(ctx context.Context, def authn.CredentialDefinition) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO idp_credential_definition (name, type_id, configuration)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO NOTHING`,
		def.Name, def.TypeID, def.Configuration)
	if err != nil {
		return fmt.Errorf("adding credential definition %q: %w", def.Name, err)
	}
	return nil
}

// ResolveSubject implements authn.IdentityResolver.
func (s *PostgresStore) ResolveSubject(ctx context.Context, identity string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM idp_entity WHERE subject = $1`, identity).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, authn.ErrUnknownSubject
	}
	if err != nil {
		return 0, fmt.Errorf("resolving subject: %w", err)
	}
	return id, nil
}

// IsEntityEnabled implements authn.IdentityResolver.
func (s *PostgresStore) IsEntityEnabled(ctx context.Context, entityID int64) (bool, error) {
	var enabled bool
	err := s.pool.QueryRow(ctx,
		`SELECT enabled FROM idp_entity WHERE id = $1`, entityID).Scan(&enabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("entity %d: %w", entityID, authn.ErrUnknownSubject)
	}
	if err != nil {
		return false, fmt.Errorf("reading entity %d: %w", entityID, err)
	}
	return enabled, nil
}

// EntityLabel implements authn.IdentityResolver.
func (s *PostgresStore) EntityLabel(ctx context.Context, entityID int64) (string, error) {
	var label string
	err := s.pool.QueryRow(ctx,
		`SELECT label FROM idp_entity WHERE id = $1`, entityID).Scan(&label)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading label of entity %d: %w", entityID, err)
	}
	return label, nil
}

// AttributeValues implements authn.IdentityResolver.
func (s *PostgresStore) AttributeValues(ctx context.Context, entityID int64, attribute string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT value FROM idp_entity_attribute
		WHERE entity_id = $1 AND name = $2`, entityID, attribute)
	if err != nil {
		return nil, fmt.Errorf("reading attribute %q of entity %d: %w", attribute, entityID, err)
	}
	defer rows.Close()
	return collectStrings(rows)
}

// Groups implements authn.IdentityResolver.
func (s *PostgresStore) Groups(ctx context.Context, entityID int64) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT group_path FROM idp_entity_group WHERE entity_id = $1`, entityID)
	if err != nil {
		return nil, fmt.Errorf("reading groups of entity %d: %w", entityID, err)
	}
	defer rows.Close()
	return collectStrings(rows)
}

func collectStrings(rows pgx.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// GetCredentialDefinition implements authn.CredentialStore.
func (s *PostgresStore) GetCredentialDefinition(ctx context.Context, name string) (authn.CredentialDefinition, error) {
	var def authn.CredentialDefinition
	err := s.pool.QueryRow(ctx, `
		SELECT name, type_id, configuration
		FROM idp_credential_definition WHERE name = $1`, name).
		Scan(&def.Name, &def.TypeID, &def.Configuration)
	if errors.Is(err, pgx.ErrNoRows) {
		return authn.CredentialDefinition{}, fmt.Errorf("credential definition %q: %w", name, authn.ErrCredentialNotFound)
	}
	if err != nil {
		return authn.CredentialDefinition{}, fmt.Errorf("reading credential definition %q: %w", name, err)
	}
	return def, nil
}

// GetCredential implements authn.CredentialStore.
func (s *PostgresStore) GetCredential(ctx context.Context, entityID int64, credentialName string) (string, error) {
	var serialized string
	err := s.pool.QueryRow(ctx, `
		SELECT serialized FROM idp_credential
		WHERE entity_id = $1 AND credential_name = $2`, entityID, credentialName).
		Scan(&serialized)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("credential %q of entity %d: %w", credentialName, entityID, authn.ErrCredentialNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("reading credential %q of entity %d: %w", credentialName, entityID, err)
	}
	return serialized, nil
}

// SetCredential implements authn.CredentialStore. Setting a credential marks
// it valid.
func (s *PostgresStore) SetCredential(ctx context.Context, entityID int64, credentialName, serialized string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO idp_credential (entity_id, credential_name, serialized, state)
		VALUES ($1, $2, $3, 'valid')
		ON CONFLICT (entity_id, credential_name)
		DO UPDATE SET serialized = EXCLUDED.serialized, state = 'valid'`,
		entityID, credentialName, serialized)
	if err != nil {
		return fmt.Errorf("storing credential %q of entity %d: %w", credentialName, entityID, err)
	}
	return nil
}

// GetCredentialState implements authn.CredentialStore.
func (s *PostgresStore) GetCredentialState(ctx context.Context, entityID int64, credentialName string) (authn.LocalCredentialState, error) {
	var state string
	err := s.pool.QueryRow(ctx, `
		SELECT state FROM idp_credential
		WHERE entity_id = $1 AND credential_name = $2`, entityID, credentialName).
		Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return authn.CredentialStateNotSet, nil
	}
	if err != nil {
		return "", fmt.Errorf("reading credential state %q of entity %d: %w", credentialName, entityID, err)
	}
	return authn.LocalCredentialState(state), nil
}
