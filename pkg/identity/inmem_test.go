package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenvia/idp-core/pkg/authn"
)

func TestInMemStoreEntities(t *testing.T) {
	ctx := context.Background()
	store := NewInMemStore()

	id, err := store.AddEntity(Entity{
		Subject: "alice",
		Label:   "Alice",
		Enabled: true,
		Groups:  []string{"/staff"},
		Attributes: map[string][]string{
			"sys:2ndFactorOptIn": {"true"},
		},
	})
	require.NoError(t, err)
	require.NotZero(t, id)

	resolved, err := store.ResolveSubject(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, id, resolved)

	_, err = store.ResolveSubject(ctx, "nobody")
	assert.ErrorIs(t, err, authn.ErrUnknownSubject)

	enabled, err := store.IsEntityEnabled(ctx, id)
	require.NoError(t, err)
	assert.True(t, enabled)

	require.NoError(t, store.SetEntityEnabled(id, false))
	enabled, err = store.IsEntityEnabled(ctx, id)
	require.NoError(t, err)
	assert.False(t, enabled)

	label, err := store.EntityLabel(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Alice", label)

	values, err := store.AttributeValues(ctx, id, "sys:2ndFactorOptIn")
	require.NoError(t, err)
	assert.Equal(t, []string{"true"}, values)

	groups, err := store.Groups(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"/staff"}, groups)
}

func TestInMemStoreRejectsDuplicateSubject(t *testing.T) {
	store := NewInMemStore()
	_, err := store.AddEntity(Entity{Subject: "alice", Enabled: true})
	require.NoError(t, err)
	_, err = store.AddEntity(Entity{Subject: "alice", Enabled: true})
	assert.Error(t, err)
}

func TestInMemStoreCredentials(t *testing.T) {
	ctx := context.Background()
	store := NewInMemStore()
	id, err := store.AddEntity(Entity{Subject: "alice", Enabled: true})
	require.NoError(t, err)

	_, err = store.GetCredentialDefinition(ctx, "sys:password")
	assert.ErrorIs(t, err, authn.ErrCredentialNotFound)

	require.NoError(t, store.AddCredentialDefinition(authn.CredentialDefinition{
		Name: "sys:password", TypeID: "password", Configuration: `{"minLength":10}`,
	}))

	def, err := store.GetCredentialDefinition(ctx, "sys:password")
	require.NoError(t, err)
	assert.Equal(t, "password", def.TypeID)

	// credential writes require a definition
	err = store.SetCredential(ctx, id, "sys:unknown", "x")
	assert.ErrorIs(t, err, authn.ErrCredentialNotFound)

	state, err := store.GetCredentialState(ctx, id, "sys:password")
	require.NoError(t, err)
	assert.Equal(t, authn.CredentialStateNotSet, state)

	require.NoError(t, store.SetCredential(ctx, id, "sys:password", "serialized"))

	serialized, err := store.GetCredential(ctx, id, "sys:password")
	require.NoError(t, err)
	assert.Equal(t, "serialized", serialized)

	state, err = store.GetCredentialState(ctx, id, "sys:password")
	require.NoError(t, err)
	assert.Equal(t, authn.CredentialStateValid, state)

	store.SetCredentialState(id, "sys:password", authn.CredentialStateOutdated)
	state, err = store.GetCredentialState(ctx, id, "sys:password")
	require.NoError(t, err)
	assert.Equal(t, authn.CredentialStateOutdated, state)
}
