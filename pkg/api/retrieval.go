package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/render"

	"github.com/tenvia/idp-core/pkg/authn"
)

// WebBinding is the binding name of all form retrievals in this package.
const WebBinding = "web"

type passwordRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// PasswordFormRetrieval extracts a username and password from a JSON request
// body, resolves the subject and feeds the password to its verificator.
type PasswordFormRetrieval struct {
	verificator authn.CredentialVerificator
	resolver    authn.IdentityResolver
	config      string
}

// NewPasswordFormRetrieval creates the retrieval wrapping the verificator.
func NewPasswordFormRetrieval(v authn.CredentialVerificator, resolver authn.IdentityResolver) *PasswordFormRetrieval {
	return &PasswordFormRetrieval{verificator: v, resolver: resolver}
}

func (p *PasswordFormRetrieval) Binding() string { return WebBinding }

func (p *PasswordFormRetrieval) UpdateConfiguration(config string) error {
	p.config = config
	return nil
}

// Authenticate resolves the username to an entity and checks the password.
// A request without both fields is not applicable; an unknown username is a
// denial.
func (p *PasswordFormRetrieval) Authenticate(ctx context.Context, r *http.Request, presetEntity int64) authn.Result {
	var data passwordRequest
	if err := decodeBody(r, &data); err != nil || data.Username == "" || data.Password == "" {
		return authn.NewNotApplicableResult()
	}

	entityID := presetEntity
	if entityID == 0 {
		var err error
		entityID, err = p.resolver.ResolveSubject(ctx, data.Username)
		if err != nil {
			if errors.Is(err, authn.ErrUnknownSubject) {
				return authn.NewDenyResult(authn.ResolvableError{Code: "invalidCredential"}, nil)
			}
			return authn.NewDenyResult(authn.ResolvableError{Code: "credentialUnavailable"}, err)
		}
	}
	return p.verificator.Check(ctx, entityID, data.Password)
}

func (p *PasswordFormRetrieval) Destroy() {}

type codeRequest struct {
	Code string `json:"code"`
}

// CodeFormRetrieval extracts a one-time code from a JSON request body and
// feeds it to its verificator. It serves only as a second factor: the
// subject must already be fixed.
type CodeFormRetrieval struct {
	verificator authn.CredentialVerificator
	config      string
}

// NewCodeFormRetrieval creates the retrieval wrapping the verificator.
func NewCodeFormRetrieval(v authn.CredentialVerificator) *CodeFormRetrieval {
	return &CodeFormRetrieval{verificator: v}
}

func (c *CodeFormRetrieval) Binding() string { return WebBinding }

func (c *CodeFormRetrieval) UpdateConfiguration(config string) error {
	c.config = config
	return nil
}

func (c *CodeFormRetrieval) Authenticate(ctx context.Context, r *http.Request, presetEntity int64) authn.Result {
	if presetEntity == 0 {
		return authn.NewNotApplicableResult()
	}
	var data codeRequest
	if err := decodeBody(r, &data); err != nil || data.Code == "" {
		return authn.NewNotApplicableResult()
	}
	return c.verificator.Check(ctx, presetEntity, data.Code)
}

func (c *CodeFormRetrieval) Destroy() {}

// decodeBody decodes the JSON body and restores it, so the handler and
// several retrievals can each read the same request.
func decodeBody(r *http.Request, into any) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return render.DecodeJSON(bytes.NewReader(body), into)
}
