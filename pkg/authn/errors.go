package authn

import (
	"errors"
	"fmt"
)

// AuthenticationError reports a failed or incomplete authentication attempt.
// It carries the deny-status result that triggered it. Callers must show end
// users only a generic failure message, never the wrapped cause, and must not
// reveal which factor failed.
type AuthenticationError struct {
	Result  Result
	Message string
}

func (e *AuthenticationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "authentication failed"
}

func (e *AuthenticationError) Unwrap() error {
	if e.Result.Status() == StatusDeny {
		return e.Result.DenyResult().Cause
	}
	return nil
}

// NewAuthenticationError builds an AuthenticationError around a result.
func NewAuthenticationError(result Result, message string) *AuthenticationError {
	return &AuthenticationError{Result: result, Message: message}
}

// RemoteAuthenticationError is an AuthenticationError produced by a
// remote/federated authenticator. Upstream code may use the distinction to
// offer a retry with another IdP.
type RemoteAuthenticationError struct {
	AuthenticationError
}

// NewRemoteAuthenticationError builds a RemoteAuthenticationError.
func NewRemoteAuthenticationError(result Result, message string) *RemoteAuthenticationError {
	return &RemoteAuthenticationError{AuthenticationError{Result: result, Message: message}}
}

// AuthorizationError reports that an established identity is not permitted
// to perform an action. Distinct from authentication failure.
type AuthorizationError struct {
	Message string
}

func (e *AuthorizationError) Error() string {
	return e.Message
}

// IllegalCredentialError reports a problem with a credential definition or
// its contents, e.g. binding an authenticator to a credential of an
// incompatible type. Safe to surface verbatim to administrative and
// credential-reset UIs.
type IllegalCredentialError struct {
	CredentialName string
	Reason         string
}

func (e *IllegalCredentialError) Error() string {
	return fmt.Sprintf("credential %q: %s", e.CredentialName, e.Reason)
}

// ErrTooManyAttempts is returned when the unsuccessful-attempt counter has
// blocked the client.
var ErrTooManyAttempts = errors.New("too many unsuccessful authentication attempts, try again later")

// ErrUnknownAuthenticatorType is returned when an authenticator definition
// names a type absent from the registry.
var ErrUnknownAuthenticatorType = errors.New("unknown authenticator type")

// ErrWrongArgument reports a caller-supplied argument that does not match
// server state, e.g. attaching a flow to an endpoint that does not support
// one of the flow's bindings.
var ErrWrongArgument = errors.New("wrong argument")
