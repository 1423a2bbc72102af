// Package sessiontoken derives signed assertion tokens from login sessions.
// Protocol front-ends hand these JWTs to downstream services, which verify
// them without touching the token store.
package sessiontoken

import (
	"fmt"
	"strconv"
	"time"

	"github.com/go-chi/jwtauth/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/tenvia/idp-core/pkg/session"
)

// Claims are the assertion claims derived from a login session.
type Claims struct {
	SessionID               string   `json:"sid"`
	Realm                   string   `json:"realm"`
	EntityLabel             string   `json:"name,omitempty"`
	AuthenticatedIdentities []string `json:"authenticated_identities,omitempty"`
	RememberMeUsed          bool     `json:"remember_me,omitempty"`
	jwt.RegisteredClaims
}

// Generator signs and parses session assertion tokens with an HMAC-SHA256
// key.
type Generator struct {
	secret   []byte
	issuer   string
	audience string
	validity time.Duration
}

// NewGenerator creates a generator. validity caps the assertion lifetime
// independently of the session's.
func NewGenerator(secret, issuer, audience string, validity time.Duration) *Generator {
	return &Generator{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
		validity: validity,
	}
}

// FromSession signs an assertion for the session. The token expires at the
// generator's validity or the session's absolute deadline, whichever comes
// first.
func (g *Generator) FromSession(s *session.LoginSession) (string, time.Time, error) {
	now := time.Now().UTC()
	expires := now.Add(g.validity)
	if s.Expires != nil && s.Expires.Before(expires) {
		expires = *s.Expires
	}

	claims := Claims{
		SessionID:               s.ID,
		Realm:                   s.Realm,
		EntityLabel:             s.EntityLabel,
		AuthenticatedIdentities: s.AuthenticatedIdentities,
		RememberMeUsed:          s.RememberMe.FirstFactorSkipped || s.RememberMe.SecondFactorSkipped,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(s.EntityID, 10),
			Issuer:    g.issuer,
			Audience:  jwt.ClaimStrings{g.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(expires),
			ID:        s.ID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(g.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing session assertion: %w", err)
	}
	return signed, expires, nil
}

// Parse validates a signed assertion and returns its claims.
func (g *Generator) Parse(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		return g.secret, nil
	}, jwt.WithIssuer(g.issuer), jwt.WithAudience(g.audience))
	if err != nil {
		return nil, fmt.Errorf("parsing session assertion: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid session assertion")
	}
	return claims, nil
}

// EntityID returns the asserted entity id.
func (c *Claims) EntityID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing assertion subject %q: %w", c.Subject, err)
	}
	return id, nil
}

// JWTAuth returns the verifier used by HTTP middleware to protect API
// routes with session assertions.
func (g *Generator) JWTAuth() *jwtauth.JWTAuth {
	return jwtauth.New("HS256", g.secret, nil)
}
