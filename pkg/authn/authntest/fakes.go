// Package authntest provides in-memory fakes of the authn collaborator
// interfaces for tests.
package authntest

import (
	"context"
	"net/http"
	"sync"

	"github.com/tenvia/idp-core/pkg/authn"
)

// Verificator is a scriptable credential verificator. The zero value denies
// everything.
type Verificator struct {
	Exchange string
	Config   string

	// CheckFunc produces the result of Check. When nil every check denies.
	CheckFunc func(entityID int64, credential string) authn.Result
}

func (v *Verificator) ExchangeID() string {
	if v.Exchange == "" {
		return "fake-exchange"
	}
	return v.Exchange
}

func (v *Verificator) UpdateConfiguration(config string) error {
	v.Config = config
	return nil
}

func (v *Verificator) Check(ctx context.Context, entityID int64, credential string) authn.Result {
	if v.CheckFunc == nil {
		return authn.NewDenyResult(authn.ResolvableError{Code: "invalidCredential"}, nil)
	}
	return v.CheckFunc(entityID, credential)
}

// LocalVerificator extends Verificator with the local-credential binding. It
// reports a credential as set for every entity listed in EntitiesWithCredential.
type LocalVerificator struct {
	Verificator
	Name                   string
	EntitiesWithCredential map[int64]bool
}

func (v *LocalVerificator) SetCredentialName(name string) { v.Name = name }

func (v *LocalVerificator) CredentialName() string { return v.Name }

func (v *LocalVerificator) IsCredentialSet(ctx context.Context, entityID int64) (bool, error) {
	return v.EntitiesWithCredential[entityID], nil
}

// Retrieval is a scriptable credential retrieval.
type Retrieval struct {
	BindingName string
	Config      string
	Destroyed   bool

	// AuthenticateFunc produces the result of Authenticate. When nil the
	// retrieval reports notApplicable, as a request without a credential
	// would.
	AuthenticateFunc func(r *http.Request, presetEntity int64) authn.Result
}

func (f *Retrieval) Binding() string {
	if f.BindingName == "" {
		return "web"
	}
	return f.BindingName
}

func (f *Retrieval) UpdateConfiguration(config string) error {
	f.Config = config
	return nil
}

func (f *Retrieval) Authenticate(ctx context.Context, r *http.Request, presetEntity int64) authn.Result {
	if f.AuthenticateFunc == nil {
		return authn.NewNotApplicableResult()
	}
	return f.AuthenticateFunc(r, presetEntity)
}

func (f *Retrieval) Destroy() { f.Destroyed = true }

// CredentialStore is an in-memory credential store fake.
type CredentialStore struct {
	mu          sync.Mutex
	Definitions map[string]authn.CredentialDefinition
	Credentials map[int64]map[string]string
	States      map[int64]map[string]authn.LocalCredentialState
}

// NewCredentialStore creates an empty credential store.
func NewCredentialStore() *CredentialStore {
	return &CredentialStore{
		Definitions: make(map[string]authn.CredentialDefinition),
		Credentials: make(map[int64]map[string]string),
		States:      make(map[int64]map[string]authn.LocalCredentialState),
	}
}

func (s *CredentialStore) GetCredentialDefinition(ctx context.Context, name string) (authn.CredentialDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	def, ok := s.Definitions[name]
	if !ok {
		return authn.CredentialDefinition{}, authn.ErrCredentialNotFound
	}
	return def, nil
}

func (s *CredentialStore) GetCredential(ctx context.Context, entityID int64, credentialName string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	serialized, ok := s.Credentials[entityID][credentialName]
	if !ok {
		return "", authn.ErrCredentialNotFound
	}
	return serialized, nil
}

func (s *CredentialStore) SetCredential(ctx context.Context, entityID int64, credentialName, serialized string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Credentials[entityID] == nil {
		s.Credentials[entityID] = make(map[string]string)
	}
	s.Credentials[entityID][credentialName] = serialized
	if s.States[entityID] == nil {
		s.States[entityID] = make(map[string]authn.LocalCredentialState)
	}
	s.States[entityID][credentialName] = authn.CredentialStateValid
	return nil
}

func (s *CredentialStore) GetCredentialState(ctx context.Context, entityID int64, credentialName string) (authn.LocalCredentialState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.States[entityID][credentialName]
	if !ok {
		return authn.CredentialStateNotSet, nil
	}
	return state, nil
}

// IdentityResolver is an in-memory identity resolver fake.
type IdentityResolver struct {
	// Subjects maps presented identities to entity ids.
	Subjects map[string]int64
	// Disabled lists entities that must not log in.
	Disabled map[int64]bool
	// Labels maps entity ids to display names.
	Labels map[int64]string
	// Attributes maps entity id to attribute name to values.
	Attributes map[int64]map[string][]string
	// GroupsOf maps entity ids to group memberships.
	GroupsOf map[int64][]string
}

func (r *IdentityResolver) ResolveSubject(ctx context.Context, identity string) (int64, error) {
	id, ok := r.Subjects[identity]
	if !ok {
		return 0, authn.ErrUnknownSubject
	}
	return id, nil
}

func (r *IdentityResolver) IsEntityEnabled(ctx context.Context, entityID int64) (bool, error) {
	return !r.Disabled[entityID], nil
}

func (r *IdentityResolver) EntityLabel(ctx context.Context, entityID int64) (string, error) {
	return r.Labels[entityID], nil
}

func (r *IdentityResolver) AttributeValues(ctx context.Context, entityID int64, attribute string) ([]string, error) {
	return r.Attributes[entityID][attribute], nil
}

func (r *IdentityResolver) Groups(ctx context.Context, entityID int64) ([]string, error) {
	return r.GroupsOf[entityID], nil
}

// ExpressionEvaluator is a scriptable expression evaluator.
type ExpressionEvaluator struct {
	// EvaluateFunc produces the result of EvaluateBool. When nil every
	// expression evaluates to false.
	EvaluateFunc func(expression string, variables map[string]any) (bool, error)
}

func (e *ExpressionEvaluator) EvaluateBool(ctx context.Context, expression string, variables map[string]any) (bool, error) {
	if e.EvaluateFunc == nil {
		return false, nil
	}
	return e.EvaluateFunc(expression, variables)
}
