package identity

import (
	"context"
	"fmt"
	"sync"

	"github.com/tenvia/idp-core/pkg/authn"
)

// InMemStore keeps entities and credentials in process memory. All data is
// lost on restart; intended for development and tests.
type InMemStore struct {
	mu          sync.RWMutex
	nextID      int64
	bySubject   map[string]int64
	entities    map[int64]Entity
	definitions map[string]authn.CredentialDefinition
	credentials map[int64]map[string]string
	states      map[int64]map[string]authn.LocalCredentialState
}

var (
	_ authn.IdentityResolver = (*InMemStore)(nil)
	_ authn.CredentialStore  = (*InMemStore)(nil)
)

// NewInMemStore creates an empty store.
func NewInMemStore() *InMemStore {
	return &InMemStore{
		nextID:      1,
		bySubject:   make(map[string]int64),
		entities:    make(map[int64]Entity),
		definitions: make(map[string]authn.CredentialDefinition),
		credentials: make(map[int64]map[string]string),
		states:      make(map[int64]map[string]authn.LocalCredentialState),
	}
}

// AddEntity registers an entity and returns its assigned id.
func (s *InMemStore) AddEntity(e Entity) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.Subject == "" {
		return 0, fmt.Errorf("entity subject is required")
	}
	if _, exists := s.bySubject[e.Subject]; exists {
		return 0, fmt.Errorf("subject %q is already taken", e.Subject)
	}
	e.ID = s.nextID
	s.nextID++
	s.bySubject[e.Subject] = e.ID
	s.entities[e.ID] = e
	return e.ID, nil
}

// SetEntityEnabled flips the login flag of an entity.
func (s *InMemStore) SetEntityEnabled(entityID int64, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[entityID]
	if !ok {
		return fmt.Errorf("entity %d: %w", entityID, authn.ErrUnknownSubject)
	}
	e.Enabled = enabled
	s.entities[entityID] = e
	return nil
}

// AddCredentialDefinition registers a local credential definition.
func (s *InMemStore) AddCredentialDefinition(def authn.CredentialDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.definitions[def.Name]; exists {
		return fmt.Errorf("credential %q is already defined", def.Name)
	}
	s.definitions[def.Name] = def
	return nil
}

// SetCredentialState overrides the per-entity state of a credential.
func (s *InMemStore) SetCredentialState(entityID int64, credentialName string, state authn.LocalCredentialState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.states[entityID] == nil {
		s.states[entityID] = make(map[string]authn.LocalCredentialState)
	}
	s.states[entityID][credentialName] = state
}

// ResolveSubject implements authn.IdentityResolver.
func (s *InMemStore) ResolveSubject(ctx context.Context, identity string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.bySubject[identity]
	if !ok {
		return 0, authn.ErrUnknownSubject
	}
	return id, nil
}

// IsEntityEnabled implements authn.IdentityResolver.
func (s *InMemStore) IsEntityEnabled(ctx context.Context, entityID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[entityID]
	if !ok {
		return false, fmt.Errorf("entity %d: %w", entityID, authn.ErrUnknownSubject)
	}
	return e.Enabled, nil
}

// EntityLabel implements authn.IdentityResolver.
func (s *InMemStore) EntityLabel(ctx context.Context, entityID int64) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entities[entityID].Label, nil
}

// AttributeValues implements authn.IdentityResolver.
func (s *InMemStore) AttributeValues(ctx context.Context, entityID int64, attribute string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entities[entityID].Attributes[attribute], nil
}

// Groups implements authn.IdentityResolver.
func (s *InMemStore) Groups(ctx context.Context, entityID int64) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entities[entityID].Groups, nil
}

// GetCredentialDefinition implements authn.CredentialStore.
func (s *InMemStore) GetCredentialDefinition(ctx context.Context, name string) (authn.CredentialDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.definitions[name]
	if !ok {
		return authn.CredentialDefinition{}, fmt.Errorf("credential definition %q: %w", name, authn.ErrCredentialNotFound)
	}
	return def, nil
}

// GetCredential implements authn.CredentialStore.
func (s *InMemStore) GetCredential(ctx context.Context, entityID int64, credentialName string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	serialized, ok := s.credentials[entityID][credentialName]
	if !ok {
		return "", fmt.Errorf("credential %q of entity %d: %w", credentialName, entityID, authn.ErrCredentialNotFound)
	}
	return serialized, nil
}

// SetCredential implements authn.CredentialStore. Setting a credential marks
// it valid.
func (s *InMemStore) SetCredential(ctx context.Context, entityID int64, credentialName, serialized string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.definitions[credentialName]; !ok {
		return fmt.Errorf("credential definition %q: %w", credentialName, authn.ErrCredentialNotFound)
	}
	if s.credentials[entityID] == nil {
		s.credentials[entityID] = make(map[string]string)
	}
	s.credentials[entityID][credentialName] = serialized
	if s.states[entityID] == nil {
		s.states[entityID] = make(map[string]authn.LocalCredentialState)
	}
	s.states[entityID][credentialName] = authn.CredentialStateValid
	return nil
}

// GetCredentialState implements authn.CredentialStore.
func (s *InMemStore) GetCredentialState(ctx context.Context, entityID int64, credentialName string) (authn.LocalCredentialState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[entityID][credentialName]
	if !ok {
		return authn.CredentialStateNotSet, nil
	}
	return state, nil
}
