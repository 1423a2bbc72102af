package authn

import (
	"context"
	"errors"
	"net/http"
)

// CredentialVerificator checks one kind of credential for a subject. A
// verificator never throws away collaborator failures: storage or network
// errors must be converted to a deny result with the cause attached, so a
// transient outage fails closed.
type CredentialVerificator interface {
	// ExchangeID names the credential exchange this verificator implements,
	// e.g. "password-exchange". Retrieval factories are keyed by it.
	ExchangeID() string

	// UpdateConfiguration replaces the verificator configuration.
	UpdateConfiguration(config string) error

	// Check verifies the supplied raw credential for the given entity.
	Check(ctx context.Context, entityID int64, credential string) Result
}

// LocalCredentialVerificator is a verificator bound to a credential stored
// locally for each entity. Its effective configuration is derived from the
// bound credential definition and is not published through authenticator
// metadata.
type LocalCredentialVerificator interface {
	CredentialVerificator

	// SetCredentialName binds the verificator to a named local credential.
	SetCredentialName(name string)

	// CredentialName returns the bound local credential name.
	CredentialName() string

	// IsCredentialSet tells whether the entity has a usable instance of the
	// bound credential.
	IsCredentialSet(ctx context.Context, entityID int64) (bool, error)
}

// CredentialRetrieval extracts a raw credential from a request in a
// binding-specific way and feeds it to its verificator. Retrievals hold
// binding resources (endpoints, listeners) owned by the enclosing flow.
type CredentialRetrieval interface {
	// Binding names the access channel this retrieval serves, e.g. "web".
	Binding() string

	// UpdateConfiguration replaces the retrieval configuration.
	UpdateConfiguration(config string) error

	// Authenticate extracts the credential from the request and verifies it.
	// presetEntity is non-zero for second-factor invocations, where the
	// subject is already fixed by the first factor; it is zero when the
	// retrieval must resolve the subject itself. A request without a usable
	// credential yields a notApplicable result.
	Authenticate(ctx context.Context, r *http.Request, presetEntity int64) Result

	// Destroy releases binding resources. Called when the owning flow is
	// destroyed.
	Destroy()
}

// LocalCredentialState describes the per-entity state of a local credential.
type LocalCredentialState string

const (
	CredentialStateValid    LocalCredentialState = "valid"
	CredentialStateOutdated LocalCredentialState = "outdated"
	CredentialStateDisabled LocalCredentialState = "disabled"
	CredentialStateNotSet   LocalCredentialState = "notSet"
)

// CredentialDefinition is the declarative description of a local credential.
type CredentialDefinition struct {
	Name          string
	TypeID        string
	Configuration string
}

// ErrUnknownSubject is returned by ResolveSubject when no entity matches the
// presented identity.
var ErrUnknownSubject = errors.New("unknown subject")

// ErrCredentialNotFound is returned when a named credential definition does
// not exist or an entity has no instance of a credential.
var ErrCredentialNotFound = errors.New("credential not found")

// IdentityResolver resolves presented identities to local entities and
// exposes the entity attributes the engine needs. Implemented by the entity
// management subsystem.
type IdentityResolver interface {
	// ResolveSubject maps an identity value (username, email, persistent id)
	// to an entity id. Returns ErrUnknownSubject when no entity matches.
	ResolveSubject(ctx context.Context, identity string) (int64, error)

	// IsEntityEnabled tells whether the entity may log in at all.
	IsEntityEnabled(ctx context.Context, entityID int64) (bool, error)

	// EntityLabel returns the entity's display name, empty when not set or
	// not readable.
	EntityLabel(ctx context.Context, entityID int64) (string, error)

	// AttributeValues returns the values of a root-group attribute, nil when
	// the attribute is absent.
	AttributeValues(ctx context.Context, entityID int64, attribute string) ([]string, error)

	// Groups returns the groups the entity is a member of.
	Groups(ctx context.Context, entityID int64) ([]string, error)
}

// CredentialStore gives verificators access to per-entity credential state.
// Implemented by the credential management subsystem.
type CredentialStore interface {
	// GetCredentialDefinition returns the definition of a named credential.
	// Returns ErrCredentialNotFound when it does not exist.
	GetCredentialDefinition(ctx context.Context, name string) (CredentialDefinition, error)

	// GetCredential returns the serialized credential instance of an entity.
	// Returns ErrCredentialNotFound when the entity has none.
	GetCredential(ctx context.Context, entityID int64, credentialName string) (string, error)

	// SetCredential stores the serialized credential instance of an entity.
	SetCredential(ctx context.Context, entityID int64, credentialName, serialized string) error

	// GetCredentialState returns the entity's local authentication state for
	// the credential.
	GetCredentialState(ctx context.Context, entityID int64, credentialName string) (LocalCredentialState, error)
}

// ExpressionEvaluator evaluates a dynamic second-factor policy expression
// against a variable context. Implemented by the scripting subsystem.
type ExpressionEvaluator interface {
	// EvaluateBool must yield a boolean; any error is treated by the caller
	// as "second factor required".
	EvaluateBool(ctx context.Context, expression string, variables map[string]any) (bool, error)
}
