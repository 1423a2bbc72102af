package processor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tenvia/idp-core/pkg/authenticator"
	"github.com/tenvia/idp-core/pkg/authn"
	"github.com/tenvia/idp-core/pkg/flow"
)

// Processor sequences authentication attempts. It is stateless and safe for
// concurrent use by many simultaneous logins; all per-attempt state travels
// in PartialAuthnState values.
type Processor struct {
	resolver authn.IdentityResolver
}

// New creates a processor.
func New(resolver authn.IdentityResolver) *Processor {
	return &Processor{resolver: resolver}
}

// ProcessPrimaryAuthnResult consumes a first-factor result. A deny or
// notApplicable result fails the attempt with an AuthenticationError. An
// unknownRemotePrincipal result yields a state the caller must route to the
// association or registration flow; the processor does not advance it. A
// success result is checked against the flow policy: when a second factor is
// required, one authenticator is selected deterministically, preferring one
// the entity already holds a valid credential for, then the first configured
// one matching the request binding. When a second factor is mandated but no
// authenticator is usable for the entity, the attempt fails rather than
// silently downgrading to single-factor.
func (p *Processor) ProcessPrimaryAuthnResult(ctx context.Context, result authn.Result,
	fl *flow.Flow, authnOptionID, binding string) (*PartialAuthnState, error) {

	switch result.Status() {
	case authn.StatusDeny, authn.StatusNotApplicable:
		slog.Debug("Primary authentication failed", "flow", fl.ID(),
			"option", authnOptionID, "status", result.Status())
		return nil, wrapDeny(result)

	case authn.StatusUnknownRemotePrincipal:
		return &PartialAuthnState{
			firstFactorOptionID: authnOptionID,
			primaryResult:       result,
			flow:                fl,
		}, nil

	case authn.StatusSuccess:
		// handled below
	default:
		panic(fmt.Sprintf("unknown authentication result status %q", result.Status()))
	}

	entity := result.SuccessResult().Entity
	enabled, err := p.resolver.IsEntityEnabled(ctx, entity.EntityID)
	if err != nil {
		slog.Warn("Entity state check failed, denying", "entity", entity.EntityID, "err", err)
		return nil, authn.NewAuthenticationError(
			authn.NewDenyResult(authn.ResolvableError{Code: "entityUnavailable"}, err), "")
	}
	if !enabled {
		slog.Info("Denying login of a disabled entity", "entity", entity.EntityID)
		return nil, authn.NewAuthenticationError(
			authn.NewDenyResult(authn.ResolvableError{Code: "entityDisabled"}, nil), "")
	}

	credentialBacked := p.GetValidAuthenticatorForEntity(ctx, fl.SecondFactorAuthenticators(), entity.EntityID)
	required := fl.RequiresSecondFactor(ctx, flow.SecondFactorQuery{
		Entity:                         entity,
		FirstFactorOptionID:            authnOptionID,
		HasValidSecondFactorCredential: credentialBacked != nil,
		UpstreamIdP:                    entity.RemoteIdP,
		UpstreamProtocol:               entity.RemoteProtocol,
		UpstreamACRs:                   entity.RemoteACRs,
	})
	if !required {
		return &PartialAuthnState{
			firstFactorOptionID: authnOptionID,
			primaryResult:       result,
			flow:                fl,
		}, nil
	}

	secondary := credentialBacked
	if secondary == nil {
		secondary = firstWithBinding(fl.SecondFactorAuthenticators(), binding)
	}
	if secondary == nil {
		slog.Info("Second factor is mandated but the entity has no usable second-factor authenticator",
			"flow", fl.ID(), "entity", entity.EntityID, "binding", binding)
		return nil, authn.NewAuthenticationError(
			authn.NewDenyResult(authn.ResolvableError{Code: "secondFactorUnavailable"}, nil), "")
	}

	slog.Debug("Second factor required", "flow", fl.ID(), "entity", entity.EntityID,
		"authenticator", secondary.ID())
	return &PartialAuthnState{
		firstFactorOptionID:    authnOptionID,
		primaryResult:          result,
		flow:                   fl,
		secondaryAuthenticator: secondary,
	}, nil
}

// FinalizeAfterPrimaryAuthentication completes an attempt that needs no
// second factor. skipSecondFactor is set only by the remember-me path, and
// the caller is expected to log that decision. Calling this on a state that
// still requires a second factor without the skip is a programmer error and
// panics.
func (p *Processor) FinalizeAfterPrimaryAuthentication(state *PartialAuthnState, skipSecondFactor bool) authn.AuthenticatedEntity {
	if state.IsSecondaryAuthenticationRequired() && !skipSecondFactor {
		panic("finalizing an attempt that still requires secondary authentication")
	}
	entity := state.primaryResult.SuccessResult().Entity
	entity.AuthenticatedWith = unionPreservingOrder(entity.AuthenticatedWith,
		optionIDList(state.firstFactorOptionID))
	return entity
}

// FinalizeAfterSecondaryAuthentication completes an attempt with the
// second-factor result. A non-success result fails the attempt; the first
// factor is not revoked, the attempt simply never completes. Calling this on
// a state that does not require a second factor is a programmer error and
// panics.
func (p *Processor) FinalizeAfterSecondaryAuthentication(state *PartialAuthnState, result authn.Result) (authn.AuthenticatedEntity, error) {
	if !state.IsSecondaryAuthenticationRequired() {
		panic("no secondary authentication was required for this state")
	}
	if result.Status() != authn.StatusSuccess {
		slog.Debug("Secondary authentication failed",
			"authenticator", state.secondaryAuthenticator.ID(), "status", result.Status())
		return authn.AuthenticatedEntity{}, wrapDeny(result)
	}

	primary := state.primaryResult.SuccessResult().Entity
	secondary := result.SuccessResult().Entity
	if secondary.EntityID != 0 && secondary.EntityID != primary.EntityID {
		slog.Warn("Second factor passed by a different entity than the first",
			"first", primary.EntityID, "second", secondary.EntityID)
		return authn.AuthenticatedEntity{}, authn.NewAuthenticationError(
			authn.NewDenyResult(authn.ResolvableError{Code: "entityMismatch"}, nil), "")
	}

	merged := authn.AuthenticatedEntity{
		EntityID: primary.EntityID,
		AuthenticatedWith: unionPreservingOrder(
			unionPreservingOrder(primary.AuthenticatedWith, optionIDList(state.firstFactorOptionID)),
			unionPreservingOrder(secondary.AuthenticatedWith, optionIDList(state.secondaryAuthenticator.ID()))),
		OutdatedCredentialID: primary.OutdatedCredentialID,
		RemoteIdP:            primary.RemoteIdP,
		RemoteProtocol:       primary.RemoteProtocol,
		RemoteACRs:           primary.RemoteACRs,
	}
	if merged.OutdatedCredentialID == "" {
		merged.OutdatedCredentialID = secondary.OutdatedCredentialID
	}
	return merged, nil
}

// CheckIfUserHasCredential tells whether the entity holds a usable instance
// of the local credential the authenticator verifies. Non-local
// authenticators and lookup failures report false.
func (p *Processor) CheckIfUserHasCredential(ctx context.Context, a *authenticator.Instance, entityID int64) bool {
	lv := a.LocalVerificator()
	if lv == nil {
		return false
	}
	set, err := lv.IsCredentialSet(ctx, entityID)
	if err != nil {
		slog.Warn("Credential presence check failed", "authenticator", a.ID(),
			"entity", entityID, "err", err)
		return false
	}
	return set
}

// GetValidAuthenticatorForEntity returns the first of the candidates the
// entity holds a valid credential for, nil when none matches.
func (p *Processor) GetValidAuthenticatorForEntity(ctx context.Context, candidates []*authenticator.Instance, entityID int64) *authenticator.Instance {
	for _, a := range candidates {
		if p.CheckIfUserHasCredential(ctx, a, entityID) {
			return a
		}
	}
	return nil
}

// ExtractParticipants aggregates the remote session participants across all
// supplied results, deduplicated by participant identity. Used to drive
// federated logout.
func ExtractParticipants(results ...authn.Result) []authn.SessionParticipant {
	type key struct {
		id       string
		protocol string
	}
	seen := make(map[key]bool)
	var participants []authn.SessionParticipant
	for _, r := range results {
		for _, part := range r.SessionParticipants() {
			k := key{id: part.ID, protocol: part.Protocol}
			if seen[k] {
				continue
			}
			seen[k] = true
			participants = append(participants, part)
		}
	}
	return participants
}

// wrapDeny turns a non-success result into the error reported to callers.
// The message is generic for both factors, so callers cannot leak which one
// failed.
func wrapDeny(result authn.Result) error {
	if result.IsRemote() {
		return authn.NewRemoteAuthenticationError(result, "")
	}
	return authn.NewAuthenticationError(result, "")
}

func firstWithBinding(candidates []*authenticator.Instance, binding string) *authenticator.Instance {
	for _, a := range candidates {
		if a.Binding() == binding {
			return a
		}
	}
	return nil
}

func optionIDList(optionID string) []string {
	if optionID == "" {
		return nil
	}
	return []string{optionID}
}

func unionPreservingOrder(first, second []string) []string {
	out := make([]string, 0, len(first)+len(second))
	seen := make(map[string]bool, len(first)+len(second))
	for _, id := range first {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range second {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
