package authn

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultPayloadMatchesStatus(t *testing.T) {
	success := NewSuccessResult(AuthenticatedEntity{EntityID: 42, AuthenticatedWith: []string{"pwd.web"}})
	assert.Equal(t, StatusSuccess, success.Status())
	assert.Equal(t, int64(42), success.SuccessResult().Entity.EntityID)

	cause := errors.New("storage down")
	deny := NewDenyResult(ResolvableError{Code: "invalidCredential"}, cause)
	assert.Equal(t, StatusDeny, deny.Status())
	assert.Equal(t, "invalidCredential", deny.DenyResult().Reason.Code)
	assert.Equal(t, cause, deny.DenyResult().Cause)

	na := NewNotApplicableResult()
	assert.Equal(t, StatusNotApplicable, na.Status())
}

func TestResultWrongPayloadAccessPanics(t *testing.T) {
	deny := NewDenyResult(ResolvableError{Code: "invalidCredential"}, nil)
	assert.Panics(t, func() { deny.SuccessResult() })
	assert.Panics(t, func() { deny.UnknownRemotePrincipalResult() })

	success := NewSuccessResult(AuthenticatedEntity{EntityID: 1})
	assert.Panics(t, func() { success.DenyResult() })
}

func TestRemoteResults(t *testing.T) {
	participant := SessionParticipant{ID: "idp1-session", Protocol: "saml"}
	remote := NewRemoteSuccessResult(AuthenticatedEntity{EntityID: 7, RemoteIdP: "idp1"}, participant)
	assert.True(t, remote.IsRemote())
	require.Len(t, remote.SessionParticipants(), 1)
	assert.Equal(t, "idp1-session", remote.SessionParticipants()[0].ID)

	unknown := NewUnknownRemotePrincipalResult(UnknownRemotePrincipalResult{
		Principal:          RemotePrincipal{IdPID: "idp1", SubjectID: "alice"},
		RegistrationFormID: "signup",
		AssociationAllowed: true,
	})
	assert.True(t, unknown.IsRemote())
	assert.Equal(t, "alice", unknown.UnknownRemotePrincipalResult().Principal.SubjectID)
}

func TestAuthenticationErrorUnwrapsDenyCause(t *testing.T) {
	cause := errors.New("ldap timeout")
	err := NewAuthenticationError(NewDenyResult(ResolvableError{Code: "invalidCredential"}, cause), "")
	assert.Equal(t, "authentication failed", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestUsedOutdatedCredential(t *testing.T) {
	assert.False(t, AuthenticatedEntity{}.UsedOutdatedCredential())
	assert.True(t, AuthenticatedEntity{OutdatedCredentialID: "sys:password"}.UsedOutdatedCredential())
}
