// Package credential provides the built-in local credential verificators:
// bcrypt passwords and TOTP codes. Both implement the verificator contract
// consumed by the authenticator registry.
package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/bcrypt"

	"github.com/tenvia/idp-core/pkg/authn"
)

// PasswordExchangeID is the exchange implemented by PasswordVerificator.
const PasswordExchangeID = "password-exchange"

type passwordConfig struct {
	MinLength  int `json:"minLength"`
	BcryptCost int `json:"bcryptCost"`
}

// PasswordVerificator verifies bcrypt-hashed passwords stored per entity.
type PasswordVerificator struct {
	store          authn.CredentialStore
	credentialName string
	config         passwordConfig
}

// NewPasswordVerificator creates a password verificator over the credential
// store.
func NewPasswordVerificator(store authn.CredentialStore) *PasswordVerificator {
	return &PasswordVerificator{
		store:  store,
		config: passwordConfig{MinLength: 8, BcryptCost: bcrypt.DefaultCost},
	}
}

func (v *PasswordVerificator) ExchangeID() string {
	return PasswordExchangeID
}

// UpdateConfiguration parses the bound credential's configuration.
func (v *PasswordVerificator) UpdateConfiguration(config string) error {
	if config == "" {
		return nil
	}
	var parsed passwordConfig
	if err := json.Unmarshal([]byte(config), &parsed); err != nil {
		return fmt.Errorf("parsing password credential configuration: %w", err)
	}
	if parsed.MinLength > 0 {
		v.config.MinLength = parsed.MinLength
	}
	if parsed.BcryptCost >= bcrypt.MinCost && parsed.BcryptCost <= bcrypt.MaxCost {
		v.config.BcryptCost = parsed.BcryptCost
	}
	return nil
}

func (v *PasswordVerificator) SetCredentialName(name string) {
	v.credentialName = name
}

func (v *PasswordVerificator) CredentialName() string {
	return v.credentialName
}

// IsCredentialSet tells whether the entity has a usable password.
func (v *PasswordVerificator) IsCredentialSet(ctx context.Context, entityID int64) (bool, error) {
	state, err := v.store.GetCredentialState(ctx, entityID, v.credentialName)
	if err != nil {
		return false, fmt.Errorf("reading password state of entity %d: %w", entityID, err)
	}
	return state == authn.CredentialStateValid || state == authn.CredentialStateOutdated, nil
}

// Check verifies the password. Storage failures and missing or disabled
// credentials all deny; an outdated password still authenticates but flags
// the credential for forced renewal.
func (v *PasswordVerificator) Check(ctx context.Context, entityID int64, credential string) authn.Result {
	state, err := v.store.GetCredentialState(ctx, entityID, v.credentialName)
	if err != nil {
		slog.Warn("Password state lookup failed", "entity", entityID, "err", err)
		return authn.NewDenyResult(authn.ResolvableError{Code: "credentialUnavailable"}, err)
	}
	if state == authn.CredentialStateNotSet || state == authn.CredentialStateDisabled {
		return authn.NewDenyResult(authn.ResolvableError{Code: "invalidCredential"}, nil)
	}

	hash, err := v.store.GetCredential(ctx, entityID, v.credentialName)
	if err != nil {
		slog.Warn("Password lookup failed", "entity", entityID, "err", err)
		return authn.NewDenyResult(authn.ResolvableError{Code: "credentialUnavailable"}, err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(credential)); err != nil {
		if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			slog.Warn("Password comparison failed", "entity", entityID, "err", err)
		}
		return authn.NewDenyResult(authn.ResolvableError{Code: "invalidCredential"}, nil)
	}

	entity := authn.AuthenticatedEntity{EntityID: entityID}
	if state == authn.CredentialStateOutdated {
		entity.OutdatedCredentialID = v.credentialName
	}
	return authn.NewSuccessResult(entity)
}

// SetPassword hashes and stores a new password for the entity.
func (v *PasswordVerificator) SetPassword(ctx context.Context, entityID int64, password string) error {
	if len(password) < v.config.MinLength {
		return &authn.IllegalCredentialError{
			CredentialName: v.credentialName,
			Reason:         fmt.Sprintf("password shorter than %d characters", v.config.MinLength),
		}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), v.config.BcryptCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	if err := v.store.SetCredential(ctx, entityID, v.credentialName, string(hash)); err != nil {
		return fmt.Errorf("storing password of entity %d: %w", entityID, err)
	}
	return nil
}
