// Package session implements the login session: the object created when an
// authentication finalizes, its wire codec, and the manager coordinating
// sessions through the shared token store.
package session

import (
	"fmt"
	"time"
)

// AuthNInfo records one performed authentication: which option and when.
type AuthNInfo struct {
	OptionID string
	Time     time.Time
}

// RememberMeInfo records which factors were skipped thanks to a remember-me
// token when the session was established.
type RememberMeInfo struct {
	FirstFactorSkipped  bool
	SecondFactorSkipped bool
}

// LoginSession is an established login of an entity in a realm.
//
// Two independent expiration modes exist. When Expires is nil the session is
// purely sliding: it dies once unused for longer than MaxInactivity. When
// Expires is set, the inactivity rule still applies but the token store
// additionally drops the session at the absolute deadline, whatever its
// activity.
type LoginSession struct {
	ID      string
	Started time.Time
	// Expires is the absolute deadline, nil for sliding-only sessions. It is
	// enforced by the token store, not by IsExpiredAt.
	Expires       *time.Time
	LastUsed      time.Time
	MaxInactivity time.Duration

	EntityID    int64
	Realm       string
	EntityLabel string

	// AuthenticatedIdentities lists the identity values the entity
	// authenticated with during the session's lifetime, in order of first
	// use, without duplicates.
	AuthenticatedIdentities []string

	RemoteIdP            string
	OutdatedCredentialID string

	RememberMe     RememberMeInfo
	Login1stFactor *AuthNInfo
	Login2ndFactor *AuthNInfo
	// AdditionalAuthn records an extra authentication performed within the
	// session, e.g. to confirm a sensitive operation.
	AdditionalAuthn *AuthNInfo

	// SessionData is free-form per-session state attached by external code.
	// The session does not validate keys; callers own namespacing.
	SessionData map[string]string
}

// IsExpiredAt applies the inactivity rule, the only expiration test the
// reaper uses: the session is expired when it was unused for longer than
// MaxInactivity. The absolute deadline is intentionally not consulted here.
func (s *LoginSession) IsExpiredAt(t time.Time) bool {
	return t.Sub(s.LastUsed) > s.MaxInactivity
}

// AddAuthenticatedIdentities appends identities not yet recorded, keeping
// first-use order.
func (s *LoginSession) AddAuthenticatedIdentities(identities ...string) {
	for _, id := range identities {
		if !contains(s.AuthenticatedIdentities, id) {
			s.AuthenticatedIdentities = append(s.AuthenticatedIdentities, id)
		}
	}
}

func contains(list []string, v string) bool {
	for _, e := range list {
		if e == v {
			return true
		}
	}
	return false
}

func (s *LoginSession) String() string {
	return fmt.Sprintf("session %s of entity %d in realm %s", s.ID, s.EntityID, s.Realm)
}
