package authn

// AuthenticatedEntity is the merged outcome of a completed authentication:
// who logged in and with what.
type AuthenticatedEntity struct {
	// EntityID is the local entity the principal resolved to.
	EntityID int64

	// AuthenticatedWith lists the authentication option ids that were
	// actually exercised (first factor, and second factor if any).
	AuthenticatedWith []string

	// OutdatedCredentialID names the credential the entity logged in with
	// although it is marked outdated. Empty when all used credentials are
	// current. The caller is expected to force a credential update.
	OutdatedCredentialID string

	// RemoteIdP identifies the upstream IdP for remotely authenticated
	// entities, empty for local ones.
	RemoteIdP string

	// RemoteProtocol is the federation protocol the upstream IdP spoke,
	// empty for local logins.
	RemoteProtocol string

	// RemoteACRs are the authentication context class references the
	// upstream IdP reported for this login.
	RemoteACRs []string
}

// UsedOutdatedCredential tells whether any credential used for this login is
// flagged as outdated.
func (e AuthenticatedEntity) UsedOutdatedCredential() bool {
	return e.OutdatedCredentialID != ""
}

// SessionParticipant is a remote party taking part in a federated session,
// recorded so that logout can be propagated.
type SessionParticipant struct {
	// ID uniquely identifies the participant within its protocol.
	ID string
	// Protocol is the federation protocol the participant speaks.
	Protocol string
	// LogoutEndpoint is where a logout notification should be delivered.
	LogoutEndpoint string
}
