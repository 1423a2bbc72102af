package authn

import "fmt"

// Status discriminates the authentication result union.
type Status string

const (
	// StatusNotApplicable means the authenticator was not invoked, e.g. the
	// request carried no credential it could consume.
	StatusNotApplicable Status = "notApplicable"

	// StatusDeny means the credential was checked and rejected.
	StatusDeny Status = "deny"

	// StatusUnknownRemotePrincipal means a remote IdP authenticated the
	// principal but no local entity is mapped to it.
	StatusUnknownRemotePrincipal Status = "unknownRemotePrincipal"

	// StatusSuccess means the principal is authenticated.
	StatusSuccess Status = "success"
)

// ResolvableError is a message-catalog reference describing a denial in a
// form safe to localize for the end user.
type ResolvableError struct {
	Code string
	Args []any
}

func (e ResolvableError) String() string {
	if e.Code == "" {
		return "authentication failed"
	}
	return fmt.Sprintf("%s %v", e.Code, e.Args)
}

// SuccessResult is the payload of a success-status result.
type SuccessResult struct {
	Entity AuthenticatedEntity
}

// DenyResult is the payload of a deny-status result.
type DenyResult struct {
	Reason ResolvableError
	// Cause carries the underlying collaborator failure, if any. It is for
	// logs and audit only and must never reach the end user.
	Cause error
}

// UnknownRemotePrincipalResult is the payload of an
// unknownRemotePrincipal-status result.
type UnknownRemotePrincipalResult struct {
	Principal RemotePrincipal
	// RegistrationFormID is a candidate self-registration form the caller
	// may offer to the unknown principal.
	RegistrationFormID string
	// AssociationAllowed tells whether linking the remote principal to an
	// existing local entity is permitted.
	AssociationAllowed bool
}

// RemotePrincipal describes a subject authenticated by an upstream IdP.
type RemotePrincipal struct {
	IdPID      string
	SubjectID  string
	Protocol   string
	Attributes map[string][]string
}

// Result is the outcome of running one authenticator. It is an immutable
// tagged union: exactly one payload matches the status, and accessing a
// mismatched payload is a programming error that panics.
type Result struct {
	status        Status
	success       SuccessResult
	deny          DenyResult
	unknownRemote UnknownRemotePrincipalResult
	remote        bool
	participants  []SessionParticipant
}

// NewNotApplicableResult reports that the authenticator did not take part in
// this authentication at all.
func NewNotApplicableResult() Result {
	return Result{status: StatusNotApplicable}
}

// NewDenyResult builds a local denial. cause may be nil.
func NewDenyResult(reason ResolvableError, cause error) Result {
	return Result{status: StatusDeny, deny: DenyResult{Reason: reason, Cause: cause}}
}

// NewRemoteDenyResult builds a denial originating from a remote IdP.
func NewRemoteDenyResult(reason ResolvableError, cause error) Result {
	r := NewDenyResult(reason, cause)
	r.remote = true
	return r
}

// NewSuccessResult builds a successful local authentication result.
func NewSuccessResult(entity AuthenticatedEntity) Result {
	return Result{status: StatusSuccess, success: SuccessResult{Entity: entity}}
}

// NewRemoteSuccessResult builds a successful result obtained from a remote
// IdP. participants are the remote session peers to record for federated
// logout.
func NewRemoteSuccessResult(entity AuthenticatedEntity, participants ...SessionParticipant) Result {
	return Result{
		status:       StatusSuccess,
		success:      SuccessResult{Entity: entity},
		remote:       true,
		participants: participants,
	}
}

// NewUnknownRemotePrincipalResult builds a result for a remotely
// authenticated principal with no local mapping.
func NewUnknownRemotePrincipalResult(payload UnknownRemotePrincipalResult) Result {
	return Result{status: StatusUnknownRemotePrincipal, unknownRemote: payload, remote: true}
}

// Status returns the discriminator of this result.
func (r Result) Status() Status {
	return r.status
}

// IsRemote tells whether the result was produced by a remote authenticator.
func (r Result) IsRemote() bool {
	return r.remote
}

// SuccessResult returns the success payload. Panics unless Status() is
// StatusSuccess.
func (r Result) SuccessResult() SuccessResult {
	r.mustBe(StatusSuccess)
	return r.success
}

// DenyResult returns the denial payload. Panics unless Status() is
// StatusDeny.
func (r Result) DenyResult() DenyResult {
	r.mustBe(StatusDeny)
	return r.deny
}

// UnknownRemotePrincipalResult returns the unknown-principal payload. Panics
// unless Status() is StatusUnknownRemotePrincipal.
func (r Result) UnknownRemotePrincipalResult() UnknownRemotePrincipalResult {
	r.mustBe(StatusUnknownRemotePrincipal)
	return r.unknownRemote
}

// SessionParticipants returns the remote session peers recorded with a
// remote success result. Empty for all other results.
func (r Result) SessionParticipants() []SessionParticipant {
	return r.participants
}

func (r Result) mustBe(s Status) {
	if r.status != s {
		panic(fmt.Sprintf("authn: accessed %s payload of a %s result", s, r.status))
	}
}

func (r Result) String() string {
	switch r.status {
	case StatusSuccess:
		return fmt.Sprintf("success[entity=%d]", r.success.Entity.EntityID)
	case StatusDeny:
		return fmt.Sprintf("deny[%s]", r.deny.Reason.String())
	case StatusUnknownRemotePrincipal:
		return fmt.Sprintf("unknownRemotePrincipal[idp=%s]", r.unknownRemote.Principal.IdPID)
	default:
		return string(r.status)
	}
}
