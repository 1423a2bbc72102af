package authenticator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tenvia/idp-core/pkg/authn"
)

// TypeRegistration describes one authenticator type: how to build its
// verificator and the retrieval wrapping it. The set of registrations is
// fixed at startup, no dynamic discovery happens later.
type TypeRegistration struct {
	// Type is the registered authenticator type name, e.g. "password-web".
	Type string

	// Binding is the access channel of the retrievals this type produces.
	Binding string

	// CredentialType restricts which local credential definitions the type
	// accepts. Empty for non-local types.
	CredentialType string

	// NewVerificator builds a fresh verificator.
	NewVerificator func() authn.CredentialVerificator

	// NewRetrieval wraps a verificator into a binding-specific retrieval.
	NewRetrieval func(v authn.CredentialVerificator) authn.CredentialRetrieval
}

// Registry resolves authenticator definitions to live instances.
type Registry struct {
	mu          sync.RWMutex
	types       map[string]TypeRegistration
	credentials authn.CredentialStore
}

// NewRegistry creates an empty registry. The credential store is consulted
// when instantiating local authenticators.
func NewRegistry(credentials authn.CredentialStore) *Registry {
	return &Registry{
		types:       make(map[string]TypeRegistration),
		credentials: credentials,
	}
}

// Register adds an authenticator type. Registering the same type twice is an
// error.
func (r *Registry) Register(reg TypeRegistration) error {
	if reg.Type == "" || reg.NewVerificator == nil || reg.NewRetrieval == nil {
		return fmt.Errorf("incomplete type registration %q: %w", reg.Type, authn.ErrWrongArgument)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.types[reg.Type]; exists {
		return fmt.Errorf("authenticator type %q already registered: %w", reg.Type, authn.ErrWrongArgument)
	}
	r.types[reg.Type] = reg
	return nil
}

// SupportedTypes returns the registered type names.
func (r *Registry) SupportedTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	return names
}

// NewInstance turns a definition into a live instance. An unregistered type
// yields ErrUnknownAuthenticatorType. A local credential binding is checked
// against the credential store: the credential must exist and its type must
// match the one the authenticator type declares, otherwise an
// IllegalCredentialError is returned. The verificator configuration of a
// local authenticator is derived from the bound credential definition.
func (r *Registry) NewInstance(ctx context.Context, def Definition) (*Instance, error) {
	r.mu.RLock()
	reg, ok := r.types[def.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("authenticator %s of type %q: %w", def.ID, def.Type, authn.ErrUnknownAuthenticatorType)
	}

	verificator := reg.NewVerificator()
	meta := Metadata{
		ID:                     def.ID,
		Type:                   def.Type,
		RetrievalConfiguration: def.Configuration,
		Revision:               1,
	}

	if def.LocalCredentialName != "" {
		lv, isLocal := verificator.(authn.LocalCredentialVerificator)
		if !isLocal {
			return nil, &authn.IllegalCredentialError{
				CredentialName: def.LocalCredentialName,
				Reason:         fmt.Sprintf("authenticator type %q does not verify local credentials", def.Type),
			}
		}
		credDef, err := r.credentials.GetCredentialDefinition(ctx, def.LocalCredentialName)
		if err != nil {
			if errors.Is(err, authn.ErrCredentialNotFound) {
				return nil, &authn.IllegalCredentialError{
					CredentialName: def.LocalCredentialName,
					Reason:         "no such credential is defined",
				}
			}
			return nil, fmt.Errorf("resolving credential %q: %w", def.LocalCredentialName, err)
		}
		if reg.CredentialType != "" && credDef.TypeID != reg.CredentialType {
			return nil, &authn.IllegalCredentialError{
				CredentialName: def.LocalCredentialName,
				Reason: fmt.Sprintf("credential is of type %q, authenticator type %q requires %q",
					credDef.TypeID, def.Type, reg.CredentialType),
			}
		}
		lv.SetCredentialName(def.LocalCredentialName)
		if err := lv.UpdateConfiguration(credDef.Configuration); err != nil {
			return nil, fmt.Errorf("configuring verificator of %s from credential %q: %w",
				def.ID, def.LocalCredentialName, err)
		}
		meta.LocalCredentialName = def.LocalCredentialName
	} else {
		if err := verificator.UpdateConfiguration(def.Configuration); err != nil {
			return nil, fmt.Errorf("configuring verificator of %s: %w", def.ID, err)
		}
		meta.VerificatorConfiguration = def.Configuration
	}

	retrieval := reg.NewRetrieval(verificator)
	if err := retrieval.UpdateConfiguration(def.Configuration); err != nil {
		retrieval.Destroy()
		return nil, fmt.Errorf("configuring retrieval of %s: %w", def.ID, err)
	}

	slog.Debug("Instantiated authenticator", "id", def.ID, "type", def.Type,
		"binding", retrieval.Binding(), "localCredential", def.LocalCredentialName)

	return &Instance{meta: meta, retrieval: retrieval, verificator: verificator}, nil
}
