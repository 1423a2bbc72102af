package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/tenvia/idp-core/pkg/authn"
)

// TOTPExchangeID is the exchange implemented by TOTPVerificator.
const TOTPExchangeID = "totp-exchange"

type totpConfig struct {
	Issuer string `json:"issuer"`
	Digits int    `json:"digits"`
	Period int    `json:"period"`
}

// totpCredential is the stored per-entity TOTP state.
type totpCredential struct {
	Secret string `json:"secret"`
}

// TOTPVerificator verifies time-based one-time codes against a per-entity
// shared secret.
type TOTPVerificator struct {
	store          authn.CredentialStore
	credentialName string
	config         totpConfig
}

// NewTOTPVerificator creates a TOTP verificator over the credential store.
func NewTOTPVerificator(store authn.CredentialStore) *TOTPVerificator {
	return &TOTPVerificator{
		store:  store,
		config: totpConfig{Issuer: "idp-core", Digits: 6, Period: 30},
	}
}

func (v *TOTPVerificator) ExchangeID() string {
	return TOTPExchangeID
}

// UpdateConfiguration parses the bound credential's configuration.
func (v *TOTPVerificator) UpdateConfiguration(config string) error {
	if config == "" {
		return nil
	}
	var parsed totpConfig
	if err := json.Unmarshal([]byte(config), &parsed); err != nil {
		return fmt.Errorf("parsing totp credential configuration: %w", err)
	}
	if parsed.Issuer != "" {
		v.config.Issuer = parsed.Issuer
	}
	if parsed.Digits == 6 || parsed.Digits == 8 {
		v.config.Digits = parsed.Digits
	}
	if parsed.Period > 0 {
		v.config.Period = parsed.Period
	}
	return nil
}

func (v *TOTPVerificator) SetCredentialName(name string) {
	v.credentialName = name
}

func (v *TOTPVerificator) CredentialName() string {
	return v.credentialName
}

// IsCredentialSet tells whether the entity has enrolled a TOTP secret.
func (v *TOTPVerificator) IsCredentialSet(ctx context.Context, entityID int64) (bool, error) {
	state, err := v.store.GetCredentialState(ctx, entityID, v.credentialName)
	if err != nil {
		return false, fmt.Errorf("reading totp state of entity %d: %w", entityID, err)
	}
	return state == authn.CredentialStateValid || state == authn.CredentialStateOutdated, nil
}

// Check validates the presented code against the entity's secret. Storage
// failures deny with the cause attached.
func (v *TOTPVerificator) Check(ctx context.Context, entityID int64, credential string) authn.Result {
	serialized, err := v.store.GetCredential(ctx, entityID, v.credentialName)
	if err != nil {
		slog.Warn("TOTP secret lookup failed", "entity", entityID, "err", err)
		return authn.NewDenyResult(authn.ResolvableError{Code: "credentialUnavailable"}, err)
	}
	var cred totpCredential
	if err := json.Unmarshal([]byte(serialized), &cred); err != nil {
		slog.Warn("Unparsable totp credential", "entity", entityID, "err", err)
		return authn.NewDenyResult(authn.ResolvableError{Code: "credentialUnavailable"}, err)
	}

	valid, err := totp.ValidateCustom(credential, cred.Secret, time.Now(), totp.ValidateOpts{
		Period: uint(v.config.Period),
		Skew:   1,
		Digits: otp.Digits(v.config.Digits),
	})
	if err != nil || !valid {
		return authn.NewDenyResult(authn.ResolvableError{Code: "invalidCredential"}, nil)
	}
	return authn.NewSuccessResult(authn.AuthenticatedEntity{EntityID: entityID})
}

// Enroll generates a fresh secret for the entity, stores it and returns the
// otpauth provisioning URL for the user's authenticator app.
func (v *TOTPVerificator) Enroll(ctx context.Context, entityID int64, accountName string) (string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      v.config.Issuer,
		AccountName: accountName,
		Period:      uint(v.config.Period),
		Digits:      otp.Digits(v.config.Digits),
	})
	if err != nil {
		return "", fmt.Errorf("generating totp secret: %w", err)
	}
	serialized, err := json.Marshal(totpCredential{Secret: key.Secret()})
	if err != nil {
		return "", fmt.Errorf("serializing totp credential: %w", err)
	}
	if err := v.store.SetCredential(ctx, entityID, v.credentialName, string(serialized)); err != nil {
		return "", fmt.Errorf("storing totp secret of entity %d: %w", entityID, err)
	}
	return key.URL(), nil
}
