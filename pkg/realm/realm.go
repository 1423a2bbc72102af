// Package realm defines the authentication realm: an isolation boundary for
// sessions, attempt limits and remember-me policy. Distinct realms on one
// server never share login state.
package realm

import (
	"fmt"
	"time"
)

// RememberMePolicy controls what a remember-me token may skip in a realm.
type RememberMePolicy string

const (
	// RememberMeDisallow disables remember-me for the realm.
	RememberMeDisallow RememberMePolicy = "disallow"
	// RememberMeWholeAuthn lets a remembered client skip both factors.
	RememberMeWholeAuthn RememberMePolicy = "allowForWholeAuthn"
	// RememberMeSecondFactor lets a remembered client skip only the second
	// factor.
	RememberMeSecondFactor RememberMePolicy = "allowFor2ndFactor"
)

// Realm groups the session and anti-abuse settings of one login domain.
type Realm struct {
	Name string

	// MaxInactivity is the sliding session lifetime: a session unused for
	// longer than this is expired by the reaper.
	MaxInactivity time.Duration

	// BlockAfterUnsuccessfulLogins is the attempt-counter threshold.
	BlockAfterUnsuccessfulLogins int

	// BlockFor is how long a client is blocked after crossing the threshold.
	BlockFor time.Duration

	// RememberMePolicy gates the remember-me processor for this realm.
	RememberMePolicy RememberMePolicy

	// AllowForRememberMeDays is the remember-me token validity. It also
	// bounds the absolute expiration of sessions created with remember-me.
	AllowForRememberMeDays int
}

// RememberMeValidity returns the remember-me token lifetime.
func (r *Realm) RememberMeValidity() time.Duration {
	return time.Duration(r.AllowForRememberMeDays) * 24 * time.Hour
}

// Validate checks realm invariants.
func (r *Realm) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("realm name is required")
	}
	if r.MaxInactivity <= 0 {
		return fmt.Errorf("realm %s: maxInactivity must be positive, got %v", r.Name, r.MaxInactivity)
	}
	if r.BlockAfterUnsuccessfulLogins < 0 {
		return fmt.Errorf("realm %s: blockAfterUnsuccessfulLogins must be non-negative", r.Name)
	}
	if r.RememberMePolicy != RememberMeDisallow && r.AllowForRememberMeDays <= 0 {
		return fmt.Errorf("realm %s: remember-me enabled but allowForRememberMeDays is not positive", r.Name)
	}
	switch r.RememberMePolicy {
	case RememberMeDisallow, RememberMeWholeAuthn, RememberMeSecondFactor:
	default:
		return fmt.Errorf("realm %s: unknown remember-me policy %q", r.Name, r.RememberMePolicy)
	}
	return nil
}

// Default returns a realm with the defaults used when no realm is
// configured explicitly.
func Default() *Realm {
	return &Realm{
		Name:                         "default",
		MaxInactivity:                30 * time.Minute,
		BlockAfterUnsuccessfulLogins: 5,
		BlockFor:                     time.Minute,
		RememberMePolicy:             RememberMeDisallow,
	}
}
