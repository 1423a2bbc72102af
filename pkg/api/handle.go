// Package api is the web binding of the authentication engine: JSON login,
// second-factor, logout and session endpoints on chi, with per-realm session
// and remember-me cookies.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/jwtauth/v5"
	"github.com/go-chi/render"

	"github.com/tenvia/idp-core/pkg/authenticator"
	"github.com/tenvia/idp-core/pkg/authn"
	"github.com/tenvia/idp-core/pkg/dosguard"
	"github.com/tenvia/idp-core/pkg/flow"
	"github.com/tenvia/idp-core/pkg/processor"
	"github.com/tenvia/idp-core/pkg/realm"
	"github.com/tenvia/idp-core/pkg/rememberme"
	"github.com/tenvia/idp-core/pkg/session"
	"github.com/tenvia/idp-core/pkg/sessiontoken"
)

const stateTTL = 5 * time.Minute

// Handle serves the authentication endpoints of one realm and flow.
type Handle struct {
	flow       *flow.Flow
	processor  *processor.Processor
	sessions   *session.Manager
	counter    dosguard.Counter
	rememberMe *rememberme.Processor
	assertions *sessiontoken.Generator
	resolver   authn.IdentityResolver
	realm      *realm.Realm
	states     *stateCache
}

// Option configures a Handle.
type Option func(*Handle)

// NewHandle creates the handler.
func NewHandle(opts ...Option) *Handle {
	h := &Handle{states: newStateCache(stateTTL)}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func WithFlow(f *flow.Flow) Option {
	return func(h *Handle) { h.flow = f }
}

func WithProcessor(p *processor.Processor) Option {
	return func(h *Handle) { h.processor = p }
}

func WithSessionManager(m *session.Manager) Option {
	return func(h *Handle) { h.sessions = m }
}

func WithCounter(c dosguard.Counter) Option {
	return func(h *Handle) { h.counter = c }
}

func WithRememberMe(p *rememberme.Processor) Option {
	return func(h *Handle) { h.rememberMe = p }
}

func WithAssertionGenerator(g *sessiontoken.Generator) Option {
	return func(h *Handle) { h.assertions = g }
}

func WithIdentityResolver(r authn.IdentityResolver) Option {
	return func(h *Handle) { h.resolver = r }
}

func WithRealm(r *realm.Realm) Option {
	return func(h *Handle) { h.realm = r }
}

// Routes mounts the authentication endpoints.
func (h *Handle) Routes(r chi.Router) {
	r.Use(SessionMiddleware(h.sessions, h.realm))

	r.Post("/login", h.postLogin)
	r.Post("/login/second-factor", h.postSecondFactor)
	r.Post("/logout", h.postLogout)
	r.Get("/whoami", h.getWhoami)

	// downstream services verify assertion tokens without the cookie
	r.Group(func(r chi.Router) {
		r.Use(jwtauth.Verifier(h.assertions.JWTAuth()))
		r.Use(jwtauth.Authenticator(h.assertions.JWTAuth()))
		r.Get("/assertion/introspect", h.getIntrospect)
	})
}

type loginOptions struct {
	Authenticator string `json:"authenticator"`
	RememberMe    bool   `json:"rememberMe"`
}

func (h *Handle) postLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ip := clientKey(r)

	if remaining := h.counter.RemainingBlockedTime(ip); remaining > 0 {
		renderBlocked(w, r, remaining)
		return
	}

	// a valid remember-me token can skip the whole authentication
	if s, err := h.rememberMe.ProcessRememberedWholeAuthn(ctx, w, r, h.realm); err == nil && s != nil {
		h.counter.SuccessfulAttempt(ip)
		h.respondLoggedIn(w, r, s, "")
		return
	} else if err != nil {
		slog.Error("Remember-me processing failed", "err", err)
	}

	var opts loginOptions
	_ = decodeBody(r, &opts)

	inst := h.selectFirstFactor(opts.Authenticator)
	if inst == nil {
		renderError(w, r, http.StatusBadRequest, "unknown authenticator")
		return
	}

	result := inst.Retrieval().Authenticate(ctx, r, 0)
	state, err := h.processor.ProcessPrimaryAuthnResult(ctx, result, h.flow, inst.ID(), WebBinding)
	if err != nil {
		h.counter.UnsuccessfulAttempt(ip)
		slog.Info("Login denied", "authenticator", inst.ID(), "client", ip)
		renderError(w, r, http.StatusUnauthorized, "authentication failed")
		return
	}

	if state.PrimaryResult().Status() == authn.StatusUnknownRemotePrincipal {
		unknown := state.PrimaryResult().UnknownRemotePrincipalResult()
		render.Status(r, http.StatusConflict)
		render.JSON(w, r, LoginResponse{
			Status:             "unknownRemotePrincipal",
			RegistrationFormID: unknown.RegistrationFormID,
		})
		return
	}

	if !state.IsSecondaryAuthenticationRequired() {
		entity := h.processor.FinalizeAfterPrimaryAuthentication(state, false)
		h.completeLogin(w, r, entity, inst.ID(), "", opts.RememberMe)
		return
	}

	// a valid remember-me token can still skip the second factor
	primaryEntity := state.PrimaryResult().SuccessResult().Entity
	if s, err := h.rememberMe.ProcessRememberedSecondFactor(ctx, w, r, h.realm,
		primaryEntity.EntityID, inst.ID()); err == nil && s != nil {
		slog.Info("Second factor skipped by remember-me", "entity", primaryEntity.EntityID)
		h.counter.SuccessfulAttempt(ip)
		h.respondLoggedIn(w, r, s, primaryEntity.OutdatedCredentialID)
		return
	} else if err != nil {
		slog.Error("Remember-me second-factor processing failed",
			"entity", primaryEntity.EntityID, "err", err)
	}

	stateID := h.states.Put(state)
	render.JSON(w, r, LoginResponse{
		Status:               "secondFactorRequired",
		SecondFactorRequired: true,
		StateID:              stateID,
		Authenticator:        state.SecondaryAuthenticator().ID(),
	})
}

type secondFactorRequest struct {
	StateID    string `json:"stateId"`
	RememberMe bool   `json:"rememberMe"`
}

func (h *Handle) postSecondFactor(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ip := clientKey(r)

	if remaining := h.counter.RemainingBlockedTime(ip); remaining > 0 {
		renderBlocked(w, r, remaining)
		return
	}

	var req secondFactorRequest
	if err := decodeBody(r, &req); err != nil || req.StateID == "" {
		renderError(w, r, http.StatusBadRequest, "missing login state")
		return
	}

	state := h.states.Take(req.StateID)
	if state == nil {
		renderError(w, r, http.StatusUnauthorized, "authentication failed")
		return
	}

	primary := state.PrimaryResult().SuccessResult().Entity
	secondary := state.SecondaryAuthenticator()
	result := secondary.Retrieval().Authenticate(ctx, r, primary.EntityID)

	entity, err := h.processor.FinalizeAfterSecondaryAuthentication(state, result)
	if err != nil {
		h.counter.UnsuccessfulAttempt(ip)
		slog.Info("Second factor denied", "authenticator", secondary.ID(), "client", ip)
		renderError(w, r, http.StatusUnauthorized, "authentication failed")
		return
	}
	h.completeLogin(w, r, entity, state.FirstFactorOptionID(), secondary.ID(), req.RememberMe)
}

func (h *Handle) postLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ic := InvocationFrom(ctx)

	if ic.LoggedIn() {
		if err := h.sessions.RemoveSession(ctx, ic.Session.ID); err != nil {
			slog.Warn("Session removal failed", "session", ic.Session.ID, "err", err)
		}
		slog.Info("Logged out", "session", ic.Session.ID, "entity", ic.Session.EntityID)
	}
	if err := h.rememberMe.RemoveRememberMeWithWholeAuthn(ctx, w, r, h.realm); err != nil {
		slog.Warn("Remember-me revocation failed", "err", err)
	}
	clearSessionCookie(w, h.realm.Name)
	render.NoContent(w, r)
}

func (h *Handle) getWhoami(w http.ResponseWriter, r *http.Request) {
	ic := InvocationFrom(r.Context())
	if !ic.LoggedIn() {
		renderError(w, r, http.StatusUnauthorized, "no session")
		return
	}
	render.JSON(w, r, sessionResponse(ic.Session))
}

func (h *Handle) getIntrospect(w http.ResponseWriter, r *http.Request) {
	_, claims, err := jwtauth.FromContext(r.Context())
	if err != nil {
		renderError(w, r, http.StatusUnauthorized, "invalid assertion")
		return
	}
	render.JSON(w, r, claims)
}

// completeLogin establishes the session for a finalized authentication,
// issues cookies and tokens, and writes the success response.
func (h *Handle) completeLogin(w http.ResponseWriter, r *http.Request,
	entity authn.AuthenticatedEntity, firstOptionID, secondOptionID string, wantRememberMe bool) {

	ctx := r.Context()
	ip := clientKey(r)

	label, err := h.resolver.EntityLabel(ctx, entity.EntityID)
	if err != nil {
		slog.Warn("Entity label lookup failed", "entity", entity.EntityID, "err", err)
	}

	s, err := h.sessions.GetCreateSession(ctx, session.CreateParams{
		EntityID:             entity.EntityID,
		Realm:                h.realm,
		EntityLabel:          label,
		OutdatedCredentialID: entity.OutdatedCredentialID,
		FirstFactorOptionID:  firstOptionID,
		SecondFactorOptionID: secondOptionID,
	})
	if err != nil {
		slog.Error("Session establishment failed", "entity", entity.EntityID, "err", err)
		renderError(w, r, http.StatusInternalServerError, "session establishment failed")
		return
	}
	h.counter.SuccessfulAttempt(ip)

	if wantRememberMe {
		if err := h.rememberMe.AddRememberMeCookieAndToken(ctx, w, r,
			entity.EntityID, h.realm, firstOptionID, secondOptionID); err != nil {
			slog.Warn("Remember-me issuance failed", "entity", entity.EntityID, "err", err)
		}
	}
	h.respondLoggedIn(w, r, s, entity.OutdatedCredentialID)
}

func (h *Handle) respondLoggedIn(w http.ResponseWriter, r *http.Request, s *session.LoginSession, outdatedCredential string) {
	setSessionCookie(w, h.realm.Name, s.ID)

	assertion, _, err := h.assertions.FromSession(s)
	if err != nil {
		slog.Error("Assertion signing failed", "session", s.ID, "err", err)
		renderError(w, r, http.StatusInternalServerError, "assertion signing failed")
		return
	}
	render.JSON(w, r, LoginResponse{
		Status:             "success",
		Session:            sessionResponse(s),
		AssertionToken:     assertion,
		OutdatedCredential: outdatedCredential,
	})
}

func (h *Handle) selectFirstFactor(authenticatorID string) *authenticator.Instance {
	for _, inst := range h.flow.FirstFactorAuthenticators() {
		if authenticatorID == "" || inst.ID() == authenticatorID {
			return inst
		}
	}
	return nil
}

func clientKey(r *http.Request) string {
	return rememberme.MachineDetailsFromRequest(r).ClientIP
}
