package api

import (
	"net/http"
	"time"

	"github.com/go-chi/render"
	"github.com/jinzhu/copier"

	"github.com/tenvia/idp-core/pkg/session"
)

// SessionResponse is the public view of a login session.
type SessionResponse struct {
	ID                      string     `json:"id"`
	EntityID                int64      `json:"entityId"`
	Realm                   string     `json:"realm"`
	EntityLabel             string     `json:"entityLabel,omitempty"`
	Started                 time.Time  `json:"started"`
	LastUsed                time.Time  `json:"lastUsed"`
	Expires                 *time.Time `json:"expires,omitempty"`
	AuthenticatedIdentities []string   `json:"authenticatedIdentities,omitempty"`
	OutdatedCredentialID    string     `json:"outdatedCredentialId,omitempty"`
}

// LoginResponse is returned by the login and second-factor endpoints.
type LoginResponse struct {
	Status string `json:"status"`

	// SecondFactorRequired marks an attempt awaiting its second factor;
	// StateID and Authenticator tell the client how to continue.
	SecondFactorRequired bool   `json:"secondFactorRequired,omitempty"`
	StateID              string `json:"stateId,omitempty"`
	Authenticator        string `json:"authenticator,omitempty"`

	// RegistrationFormID is offered when a remote principal is unknown
	// locally.
	RegistrationFormID string `json:"registrationFormId,omitempty"`

	Session        *SessionResponse `json:"session,omitempty"`
	AssertionToken string           `json:"assertionToken,omitempty"`

	// OutdatedCredential tells the client a forced credential renewal is due.
	OutdatedCredential string `json:"outdatedCredential,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`

	// RetryAfterSeconds is set when the client is blocked by the attempt
	// counter.
	RetryAfterSeconds int64 `json:"retryAfterSeconds,omitempty"`
}

func sessionResponse(s *session.LoginSession) *SessionResponse {
	resp := &SessionResponse{}
	_ = copier.Copy(resp, s)
	return resp
}

func renderError(w http.ResponseWriter, r *http.Request, status int, message string) {
	render.Status(r, status)
	render.JSON(w, r, errorResponse{Error: message})
}

func renderBlocked(w http.ResponseWriter, r *http.Request, remaining time.Duration) {
	render.Status(r, http.StatusTooManyRequests)
	render.JSON(w, r, errorResponse{
		Error:             "too many unsuccessful authentication attempts",
		RetryAfterSeconds: int64(remaining.Seconds()) + 1,
	})
}
