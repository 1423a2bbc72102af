package processor

import (
	"github.com/tenvia/idp-core/pkg/authenticator"
	"github.com/tenvia/idp-core/pkg/authn"
	"github.com/tenvia/idp-core/pkg/flow"
)

// PartialAuthnState is the outcome of a processed first factor: the attempt
// is not failed, but may still need a second factor before it can finalize.
// Discarding a state without finalizing it has no side effects.
type PartialAuthnState struct {
	firstFactorOptionID    string
	primaryResult          authn.Result
	flow                   *flow.Flow
	secondaryAuthenticator *authenticator.Instance
}

// FirstFactorOptionID returns the authenticator id that served the first
// factor.
func (s *PartialAuthnState) FirstFactorOptionID() string {
	return s.firstFactorOptionID
}

// PrimaryResult returns the first-factor result. Its status is success or
// unknownRemotePrincipal, never deny.
func (s *PartialAuthnState) PrimaryResult() authn.Result {
	return s.primaryResult
}

// Flow returns the flow the attempt runs under.
func (s *PartialAuthnState) Flow() *flow.Flow {
	return s.flow
}

// IsSecondaryAuthenticationRequired tells whether a second factor must be
// passed before the attempt can finalize.
func (s *PartialAuthnState) IsSecondaryAuthenticationRequired() bool {
	return s.secondaryAuthenticator != nil
}

// SecondaryAuthenticator returns the authenticator selected for the second
// factor. Panics when no second factor is required; callers must check
// IsSecondaryAuthenticationRequired first.
func (s *PartialAuthnState) SecondaryAuthenticator() *authenticator.Instance {
	if s.secondaryAuthenticator == nil {
		panic("no secondary authentication is required for this state")
	}
	return s.secondaryAuthenticator
}
