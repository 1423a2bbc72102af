package authenticator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tenvia/idp-core/pkg/authn"
	"github.com/tenvia/idp-core/pkg/authn/authntest"
)

func newTestRegistry(t *testing.T) (*Registry, *authntest.CredentialStore) {
	t.Helper()
	creds := authntest.NewCredentialStore()
	creds.Definitions["sys:password"] = authn.CredentialDefinition{
		Name:          "sys:password",
		TypeID:        "password",
		Configuration: `{"minLength":8}`,
	}
	creds.Definitions["sys:cert"] = authn.CredentialDefinition{
		Name:   "sys:cert",
		TypeID: "certificate",
	}

	r := NewRegistry(creds)
	require.NoError(t, r.Register(TypeRegistration{
		Type:           "password-web",
		Binding:        "web",
		CredentialType: "password",
		NewVerificator: func() authn.CredentialVerificator {
			return &authntest.LocalVerificator{Verificator: authntest.Verificator{Exchange: "password-exchange"}}
		},
		NewRetrieval: func(v authn.CredentialVerificator) authn.CredentialRetrieval {
			return &authntest.Retrieval{BindingName: "web"}
		},
	}))
	require.NoError(t, r.Register(TypeRegistration{
		Type:    "saml-web",
		Binding: "web",
		NewVerificator: func() authn.CredentialVerificator {
			return &authntest.Verificator{Exchange: "saml-exchange"}
		},
		NewRetrieval: func(v authn.CredentialVerificator) authn.CredentialRetrieval {
			return &authntest.Retrieval{BindingName: "web"}
		},
	}))
	return r, creds
}

func TestNewInstanceLocal(t *testing.T) {
	r, _ := newTestRegistry(t)

	inst, err := r.NewInstance(context.Background(), Definition{
		ID:                  "pwdWeb",
		Type:                "password-web",
		Configuration:       `{"registrationEnabled":false}`,
		LocalCredentialName: "sys:password",
	})
	require.NoError(t, err)

	meta := inst.Metadata()
	assert.Equal(t, "pwdWeb", meta.ID)
	assert.Equal(t, int64(1), meta.Revision)
	assert.True(t, meta.IsLocal())
	assert.Equal(t, `{"registrationEnabled":false}`, meta.RetrievalConfiguration)
	assert.Empty(t, meta.VerificatorConfiguration,
		"local verificator configuration must not be advertised")

	lv := inst.LocalVerificator()
	require.NotNil(t, lv)
	assert.Equal(t, "sys:password", lv.CredentialName())
	// derived from the bound credential, not from the definition
	assert.Equal(t, `{"minLength":8}`, lv.(*authntest.LocalVerificator).Config)
}

func TestNewInstanceNonLocal(t *testing.T) {
	r, _ := newTestRegistry(t)

	inst, err := r.NewInstance(context.Background(), Definition{
		ID:            "samlWeb",
		Type:          "saml-web",
		Configuration: `{"idp":"https://idp.example.com"}`,
	})
	require.NoError(t, err)

	meta := inst.Metadata()
	assert.False(t, meta.IsLocal())
	assert.Equal(t, `{"idp":"https://idp.example.com"}`, meta.VerificatorConfiguration)
	assert.Nil(t, inst.LocalVerificator())
}

func TestNewInstanceUnknownType(t *testing.T) {
	r, _ := newTestRegistry(t)

	_, err := r.NewInstance(context.Background(), Definition{ID: "x", Type: "no-such-type"})
	assert.ErrorIs(t, err, authn.ErrUnknownAuthenticatorType)
}

func TestNewInstanceBadCredentialBinding(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	var credErr *authn.IllegalCredentialError

	_, err := r.NewInstance(ctx, Definition{
		ID: "pwdWeb", Type: "password-web", LocalCredentialName: "missing",
	})
	require.ErrorAs(t, err, &credErr)

	_, err = r.NewInstance(ctx, Definition{
		ID: "pwdWeb", Type: "password-web", LocalCredentialName: "sys:cert",
	})
	require.ErrorAs(t, err, &credErr)

	_, err = r.NewInstance(ctx, Definition{
		ID: "samlWeb", Type: "saml-web", LocalCredentialName: "sys:password",
	})
	require.ErrorAs(t, err, &credErr, "non-local type must reject a credential binding")
}

func TestRegisterDuplicateType(t *testing.T) {
	r, _ := newTestRegistry(t)

	err := r.Register(TypeRegistration{
		Type:           "password-web",
		Binding:        "web",
		NewVerificator: func() authn.CredentialVerificator { return &authntest.Verificator{} },
		NewRetrieval: func(v authn.CredentialVerificator) authn.CredentialRetrieval {
			return &authntest.Retrieval{}
		},
	})
	assert.ErrorIs(t, err, authn.ErrWrongArgument)
}

func TestUpdateConfigurationBumpsRevision(t *testing.T) {
	r, _ := newTestRegistry(t)

	inst, err := r.NewInstance(context.Background(), Definition{
		ID:                  "pwdWeb",
		Type:                "password-web",
		LocalCredentialName: "sys:password",
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), inst.Revision())

	require.NoError(t, inst.UpdateConfiguration(`{"registrationEnabled":true}`, "ignored", ""))
	assert.Equal(t, int64(2), inst.Revision())

	meta := inst.Metadata()
	assert.Equal(t, `{"registrationEnabled":true}`, meta.RetrievalConfiguration)
	assert.Empty(t, meta.VerificatorConfiguration)
	assert.Equal(t, "sys:password", meta.LocalCredentialName)
}
