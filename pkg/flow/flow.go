// Package flow composes authenticators into an authentication flow and
// decides, per finished first factor, whether a second factor is required.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tenvia/idp-core/pkg/authenticator"
	"github.com/tenvia/idp-core/pkg/authn"
)

// Policy determines when a flow demands a second authentication factor.
type Policy string

const (
	// PolicyNever skips the second factor unconditionally.
	PolicyNever Policy = "NEVER"
	// PolicyAlways requires the second factor whenever the flow has any
	// second-factor authenticator configured.
	PolicyAlways Policy = "ALWAYS"
	// PolicyUserOptIn requires the second factor iff the entity opted in
	// through its stored attribute.
	PolicyUserOptIn Policy = "USER_OPT_IN"
	// PolicyDynamicExpression requires the second factor iff the configured
	// expression evaluates to true. Evaluation failures count as true.
	PolicyDynamicExpression Policy = "DYNAMIC_EXPRESSION"
)

// OptInAttribute is the entity attribute consulted by PolicyUserOptIn. A
// missing attribute means not opted in.
const OptInAttribute = "sys:2ndFactorOptIn"

// Config is the declarative definition of a flow.
type Config struct {
	ID     string
	Policy Policy

	// PolicyExpression is the boolean expression of PolicyDynamicExpression.
	PolicyExpression string

	// ContextAttributes lists entity attributes exposed to the policy
	// expression.
	ContextAttributes []string

	FirstFactor  []*authenticator.Instance
	SecondFactor []*authenticator.Instance

	// Revision is the configuration revision of this definition. The
	// management layer increments it on every edit; zero means first
	// revision. Flows are rebuilt rather than mutated, so the revision
	// travels with the config.
	Revision int64
}

// Flow is an immutable composition of first- and second-factor
// authenticators under a policy. Safe for concurrent use; all per-attempt
// state lives elsewhere.
type Flow struct {
	id                string
	policy            Policy
	policyExpression  string
	contextAttributes []string
	firstFactor       []*authenticator.Instance
	secondFactor      []*authenticator.Instance
	revision          int64

	resolver  authn.IdentityResolver
	evaluator authn.ExpressionEvaluator
}

// New builds a flow. The evaluator may be nil unless the policy is
// PolicyDynamicExpression.
func New(cfg Config, resolver authn.IdentityResolver, evaluator authn.ExpressionEvaluator) (*Flow, error) {
	switch cfg.Policy {
	case PolicyNever, PolicyAlways, PolicyUserOptIn, PolicyDynamicExpression:
	default:
		return nil, fmt.Errorf("flow %s: unknown policy %q: %w", cfg.ID, cfg.Policy, authn.ErrWrongArgument)
	}
	if len(cfg.FirstFactor) == 0 {
		return nil, fmt.Errorf("flow %s: at least one first-factor authenticator is required: %w",
			cfg.ID, authn.ErrWrongArgument)
	}
	if cfg.Policy == PolicyDynamicExpression {
		if cfg.PolicyExpression == "" {
			return nil, fmt.Errorf("flow %s: policy expression is required: %w", cfg.ID, authn.ErrWrongArgument)
		}
		if evaluator == nil {
			return nil, fmt.Errorf("flow %s: no expression evaluator available: %w", cfg.ID, authn.ErrWrongArgument)
		}
	}
	revision := cfg.Revision
	if revision == 0 {
		revision = 1
	}
	return &Flow{
		id:                cfg.ID,
		policy:            cfg.Policy,
		policyExpression:  cfg.PolicyExpression,
		contextAttributes: cfg.ContextAttributes,
		firstFactor:       cfg.FirstFactor,
		secondFactor:      cfg.SecondFactor,
		revision:          revision,
		resolver:          resolver,
		evaluator:         evaluator,
	}, nil
}

// ID returns the flow name.
func (f *Flow) ID() string { return f.id }

// Policy returns the second-factor policy.
func (f *Flow) Policy() Policy { return f.policy }

// Revision returns the flow configuration revision. Consumers caching
// derived state (deployed endpoints) compare revisions to decide whether to
// reload.
func (f *Flow) Revision() int64 { return f.revision }

// FirstFactorAuthenticators returns the first-factor authenticator set.
func (f *Flow) FirstFactorAuthenticators() []*authenticator.Instance {
	return f.firstFactor
}

// SecondFactorAuthenticators returns the ordered second-factor
// authenticator list.
func (f *Flow) SecondFactorAuthenticators() []*authenticator.Instance {
	return f.secondFactor
}

// AllAuthenticators returns the union of both factor sets, first factor
// first, without duplicates.
func (f *Flow) AllAuthenticators() []*authenticator.Instance {
	seen := make(map[*authenticator.Instance]bool, len(f.firstFactor)+len(f.secondFactor))
	all := make([]*authenticator.Instance, 0, len(f.firstFactor)+len(f.secondFactor))
	for _, a := range f.firstFactor {
		if !seen[a] {
			seen[a] = true
			all = append(all, a)
		}
	}
	for _, a := range f.secondFactor {
		if !seen[a] {
			seen[a] = true
			all = append(all, a)
		}
	}
	return all
}

// CheckCompatibility verifies that every authenticator's binding is among
// the supported ones. Evaluated once at endpoint attach time, not per
// request.
func (f *Flow) CheckCompatibility(supportedBindings []string) error {
	supported := make(map[string]bool, len(supportedBindings))
	for _, b := range supportedBindings {
		supported[b] = true
	}
	for _, a := range f.AllAuthenticators() {
		if !supported[a.Binding()] {
			return fmt.Errorf("flow %s: authenticator %s uses binding %q, endpoint supports only [%s]: %w",
				f.id, a.ID(), a.Binding(), strings.Join(supportedBindings, ", "), authn.ErrWrongArgument)
		}
	}
	return nil
}

// Destroy releases the binding resources of every contained retrieval. The
// flow owns its authenticators' retrieval lifetime.
func (f *Flow) Destroy() {
	for _, a := range f.AllAuthenticators() {
		a.Retrieval().Destroy()
	}
}

// SecondFactorQuery carries the facts the policy may consult after a
// successful first factor.
type SecondFactorQuery struct {
	Entity authn.AuthenticatedEntity

	// FirstFactorOptionID is the authenticator id that served the first
	// factor.
	FirstFactorOptionID string

	// HasValidSecondFactorCredential tells whether the entity holds a valid
	// credential for any of the flow's second-factor authenticators.
	HasValidSecondFactorCredential bool

	// UpstreamProtocol, UpstreamACRs and UpstreamIdP describe the remote IdP
	// that produced the first-factor result, when it was remote.
	UpstreamProtocol string
	UpstreamACRs     []string
	UpstreamIdP      string
}

// RequiresSecondFactor decides whether the entity must pass a second factor
// in this flow. Lookup and evaluation failures count as "required": the
// decision fails closed.
func (f *Flow) RequiresSecondFactor(ctx context.Context, q SecondFactorQuery) bool {
	if len(f.secondFactor) == 0 && f.policy != PolicyDynamicExpression {
		return false
	}
	switch f.policy {
	case PolicyNever:
		return false
	case PolicyAlways:
		return true
	case PolicyUserOptIn:
		return f.userOptedIn(ctx, q.Entity.EntityID)
	case PolicyDynamicExpression:
		return f.evaluateExpression(ctx, q)
	default:
		return true
	}
}

func (f *Flow) userOptedIn(ctx context.Context, entityID int64) bool {
	values, err := f.resolver.AttributeValues(ctx, entityID, OptInAttribute)
	if err != nil {
		slog.Warn("Opt-in attribute lookup failed, requiring the second factor",
			"flow", f.id, "entity", entityID, "err", err)
		return true
	}
	return len(values) > 0 && strings.EqualFold(values[0], "true")
}

func (f *Flow) evaluateExpression(ctx context.Context, q SecondFactorQuery) bool {
	vars := map[string]any{
		"entityId":                    q.Entity.EntityID,
		"authenticatedWith":           q.Entity.AuthenticatedWith,
		"hasValid2ndFactorCredential": q.HasValidSecondFactorCredential,
		"firstFactorOptionId":         q.FirstFactorOptionID,
		"upstreamProtocol":            q.UpstreamProtocol,
		"upstreamACRs":                q.UpstreamACRs,
		"upstreamIdP":                 q.UpstreamIdP,
	}
	if groups, err := f.resolver.Groups(ctx, q.Entity.EntityID); err == nil {
		vars["groups"] = groups
	} else {
		slog.Warn("Group lookup failed, requiring the second factor",
			"flow", f.id, "entity", q.Entity.EntityID, "err", err)
		return true
	}
	attrs := make(map[string][]string, len(f.contextAttributes))
	for _, name := range f.contextAttributes {
		values, err := f.resolver.AttributeValues(ctx, q.Entity.EntityID, name)
		if err != nil {
			slog.Warn("Attribute lookup failed, requiring the second factor",
				"flow", f.id, "entity", q.Entity.EntityID, "attribute", name, "err", err)
			return true
		}
		attrs[name] = values
	}
	vars["attributes"] = attrs

	required, err := f.evaluator.EvaluateBool(ctx, f.policyExpression, vars)
	if err != nil {
		slog.Warn("Second-factor policy expression failed, requiring the second factor",
			"flow", f.id, "entity", q.Entity.EntityID, "err", err)
		return true
	}
	return required
}
