// Package rememberme lets a returning browser skip one or both
// authentication factors by presenting a long-lived token issued at a
// previous login. Tokens are bound to an entity, a realm and the issuing
// machine, stored hashed, and rotated on every successful use.
package rememberme

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tenvia/idp-core/pkg/authn"
	"github.com/tenvia/idp-core/pkg/dosguard"
	"github.com/tenvia/idp-core/pkg/realm"
	"github.com/tenvia/idp-core/pkg/session"
	"github.com/tenvia/idp-core/pkg/token"
)

// CookiePrefix is the prefix of the per-realm remember-me cookie.
const CookiePrefix = "IREMEMBER_"

// tokenData is the stored payload of a remember-me token. The random token
// half of the cookie is kept only as a SHA-256 hash, so a stolen store dump
// yields no usable cookies.
type tokenData struct {
	TokenHash            string         `json:"tokenHash"`
	Machine              MachineDetails `json:"machine"`
	FirstFactorOptionID  string         `json:"firstFactorOptionId,omitempty"`
	SecondFactorOptionID string         `json:"secondFactorOptionId,omitempty"`
	Created              time.Time      `json:"created"`
}

// Processor issues, validates and revokes remember-me tokens.
type Processor struct {
	store    token.Store
	counter  dosguard.Counter
	sessions *session.Manager
	resolver authn.IdentityResolver
}

// NewProcessor creates a remember-me processor. The counter is charged only
// for cryptographically invalid material: a merely expired or mismatched
// token is not an attack signal.
func NewProcessor(store token.Store, counter dosguard.Counter, sessions *session.Manager, resolver authn.IdentityResolver) *Processor {
	return &Processor{store: store, counter: counter, sessions: sessions, resolver: resolver}
}

// CookieName returns the remember-me cookie name for a realm.
func CookieName(realmName string) string {
	return CookiePrefix + realmName
}

// AddRememberMeCookieAndToken issues a remember-me token for the entity and
// sets the matching cookie. The recorded option ids name the factors
// actually performed at issuance. A realm whose policy disallows remember-me
// gets neither token nor cookie.
func (p *Processor) AddRememberMeCookieAndToken(ctx context.Context, w http.ResponseWriter, r *http.Request,
	entityID int64, rlm *realm.Realm, firstFactorOptionID, secondFactorOptionID string) error {

	if rlm.RememberMePolicy == realm.RememberMeDisallow {
		return nil
	}

	series := uuid.NewString()
	rawToken, err := randomToken()
	if err != nil {
		return fmt.Errorf("generating remember-me token: %w", err)
	}

	data := tokenData{
		TokenHash:            hashToken(rawToken),
		Machine:              MachineDetailsFromRequest(r),
		FirstFactorOptionID:  firstFactorOptionID,
		SecondFactorOptionID: secondFactorOptionID,
		Created:              time.Now(),
	}
	contents, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("serializing remember-me token: %w", err)
	}

	expires := time.Now().Add(rlm.RememberMeValidity())
	err = p.store.Add(ctx, token.Token{
		Type:     token.TypeRememberMe,
		ID:       series,
		Owner:    entityID,
		Contents: contents,
		Created:  data.Created,
		Expires:  &expires,
	})
	if err != nil {
		return fmt.Errorf("storing remember-me token: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName(rlm.Name),
		Value:    series + "|" + rawToken,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
	slog.Info("Issued a remember-me token", "entity", entityID, "realm", rlm.Name,
		"series", series, "validUntil", expires)
	return nil
}

// ProcessRememberedWholeAuthn validates the request's remember-me token and,
// when the realm policy lets a remembered client skip the whole
// authentication, establishes a session for the token's owner. A nil session
// with a nil error means no usable token was presented and the caller falls
// through to interactive authentication.
func (p *Processor) ProcessRememberedWholeAuthn(ctx context.Context, w http.ResponseWriter, r *http.Request,
	rlm *realm.Realm) (*session.LoginSession, error) {

	if rlm.RememberMePolicy != realm.RememberMeWholeAuthn {
		return nil, nil
	}
	stored, data, ok := p.validateToken(ctx, r, rlm)
	if !ok {
		return nil, nil
	}

	label, err := p.resolver.EntityLabel(ctx, stored.Owner)
	if err != nil {
		slog.Warn("Entity label lookup failed", "entity", stored.Owner, "err", err)
	}
	slog.Info("Whole authentication skipped with a remember-me token",
		"entity", stored.Owner, "realm", rlm.Name, "series", stored.ID)

	s, err := p.sessions.GetCreateSession(ctx, session.CreateParams{
		EntityID:    stored.Owner,
		Realm:       rlm,
		EntityLabel: label,
		RememberMe: session.RememberMeInfo{
			FirstFactorSkipped:  true,
			SecondFactorSkipped: true,
		},
		FirstFactorOptionID:  data.FirstFactorOptionID,
		SecondFactorOptionID: data.SecondFactorOptionID,
		AbsoluteExpiry:       stored.Expires,
	})
	if err != nil {
		return nil, fmt.Errorf("establishing remembered session: %w", err)
	}
	if err := p.rotate(ctx, w, stored, data, rlm); err != nil {
		slog.Warn("Remember-me token rotation failed", "series", stored.ID, "err", err)
	}
	return s, nil
}

// ProcessRememberedSecondFactor validates the request's remember-me token
// for an entity that already passed the first factor interactively, and
// establishes the session with the second factor skipped. A token owned by a
// different entity than the one that passed the first factor is treated as
// an attack signal and charges the counter. A nil session with a nil error
// means the second factor must be passed interactively.
func (p *Processor) ProcessRememberedSecondFactor(ctx context.Context, w http.ResponseWriter, r *http.Request,
	rlm *realm.Realm, firstFactorEntity int64, firstFactorOptionID string) (*session.LoginSession, error) {

	if rlm.RememberMePolicy == realm.RememberMeDisallow {
		return nil, nil
	}
	stored, data, ok := p.validateToken(ctx, r, rlm)
	if !ok {
		return nil, nil
	}
	if data.SecondFactorOptionID == "" {
		// issued before any second factor was performed, nothing to skip
		return nil, nil
	}
	if stored.Owner != firstFactorEntity {
		slog.Warn("Remember-me token presented for a different entity",
			"tokenOwner", stored.Owner, "authenticated", firstFactorEntity, "series", stored.ID)
		p.counter.UnsuccessfulAttempt(clientIP(r))
		return nil, nil
	}

	label, err := p.resolver.EntityLabel(ctx, firstFactorEntity)
	if err != nil {
		slog.Warn("Entity label lookup failed", "entity", firstFactorEntity, "err", err)
	}
	slog.Info("Second factor skipped with a remember-me token",
		"entity", firstFactorEntity, "realm", rlm.Name, "series", stored.ID)

	s, err := p.sessions.GetCreateSession(ctx, session.CreateParams{
		EntityID:    firstFactorEntity,
		Realm:       rlm,
		EntityLabel: label,
		RememberMe: session.RememberMeInfo{
			SecondFactorSkipped: true,
		},
		FirstFactorOptionID:  firstFactorOptionID,
		SecondFactorOptionID: data.SecondFactorOptionID,
		AbsoluteExpiry:       stored.Expires,
	})
	if err != nil {
		return nil, fmt.Errorf("establishing remembered session: %w", err)
	}
	if err := p.rotate(ctx, w, stored, data, rlm); err != nil {
		slog.Warn("Remember-me token rotation failed", "series", stored.ID, "err", err)
	}
	return s, nil
}

// RemoveRememberMeWithWholeAuthn revokes the request's remember-me token and
// clears the cookie. Called on explicit logout.
func (p *Processor) RemoveRememberMeWithWholeAuthn(ctx context.Context, w http.ResponseWriter, r *http.Request,
	rlm *realm.Realm) error {

	clearCookie(w, rlm.Name)
	series, _, err := parseCookie(r, rlm.Name)
	if err != nil {
		return nil
	}
	if err := p.store.Remove(ctx, token.TypeRememberMe, series); err != nil && !errors.Is(err, token.ErrNotFound) {
		return fmt.Errorf("revoking remember-me token %s: %w", series, err)
	}
	return nil
}

// RevokeForEntity removes every remember-me token of an entity. Called on
// credential change, so stale tokens never outlive a password reset.
func (p *Processor) RevokeForEntity(ctx context.Context, entityID int64) error {
	owned, err := p.store.GetOwned(ctx, token.TypeRememberMe, entityID)
	if err != nil {
		return fmt.Errorf("listing remember-me tokens of entity %d: %w", entityID, err)
	}
	for _, t := range owned {
		if err := p.store.Remove(ctx, token.TypeRememberMe, t.ID); err != nil && !errors.Is(err, token.ErrNotFound) {
			return fmt.Errorf("revoking remember-me token %s: %w", t.ID, err)
		}
	}
	if len(owned) > 0 {
		slog.Info("Revoked remember-me tokens", "entity", entityID, "count", len(owned))
	}
	return nil
}

// validateToken resolves and checks the request's remember-me cookie. A
// malformed cookie or a wrong token hash charges the counter; an absent,
// expired or machine-mismatched token is a silent miss.
func (p *Processor) validateToken(ctx context.Context, r *http.Request, rlm *realm.Realm) (token.Token, tokenData, bool) {
	series, rawToken, err := parseCookie(r, rlm.Name)
	if err != nil {
		if !errors.Is(err, http.ErrNoCookie) {
			slog.Warn("Malformed remember-me cookie", "realm", rlm.Name, "client", clientIP(r))
			p.counter.UnsuccessfulAttempt(clientIP(r))
		}
		return token.Token{}, tokenData{}, false
	}

	stored, err := p.store.GetByID(ctx, token.TypeRememberMe, series)
	if err != nil {
		if !errors.Is(err, token.ErrNotFound) {
			slog.Warn("Remember-me token lookup failed", "series", series, "err", err)
		}
		return token.Token{}, tokenData{}, false
	}

	var data tokenData
	if err := json.Unmarshal(stored.Contents, &data); err != nil {
		slog.Warn("Unparsable remember-me token, removing", "series", series, "err", err)
		_ = p.store.Remove(ctx, token.TypeRememberMe, series)
		return token.Token{}, tokenData{}, false
	}

	if subtle.ConstantTimeCompare([]byte(hashToken(rawToken)), []byte(data.TokenHash)) != 1 {
		// a valid series with a wrong token means the cookie was stolen or
		// forged; revoke the series and charge the counter
		slog.Warn("Remember-me token hash mismatch, revoking series",
			"series", series, "client", clientIP(r))
		_ = p.store.Remove(ctx, token.TypeRememberMe, series)
		p.counter.UnsuccessfulAttempt(clientIP(r))
		return token.Token{}, tokenData{}, false
	}

	if !data.Machine.Matches(MachineDetailsFromRequest(r)) {
		slog.Debug("Remember-me machine mismatch", "series", series, "client", clientIP(r))
		return token.Token{}, tokenData{}, false
	}
	return stored, data, true
}

// rotate replaces the random token half and re-issues the cookie, keeping
// the series and the stored deadline.
func (p *Processor) rotate(ctx context.Context, w http.ResponseWriter, stored token.Token, data tokenData, rlm *realm.Realm) error {
	rawToken, err := randomToken()
	if err != nil {
		return err
	}
	data.TokenHash = hashToken(rawToken)
	contents, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if err := p.store.Update(ctx, token.TypeRememberMe, stored.ID, nil, contents); err != nil {
		return err
	}

	cookie := &http.Cookie{
		Name:     CookieName(rlm.Name),
		Value:    stored.ID + "|" + rawToken,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	}
	if stored.Expires != nil {
		cookie.Expires = *stored.Expires
	}
	http.SetCookie(w, cookie)
	return nil
}

func parseCookie(r *http.Request, realmName string) (series, rawToken string, err error) {
	c, err := r.Cookie(CookieName(realmName))
	if err != nil {
		return "", "", err
	}
	parts := strings.SplitN(c.Value, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed remember-me cookie value")
	}
	return parts[0], parts[1], nil
}

func clearCookie(w http.ResponseWriter, realmName string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName(realmName),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}

func hashToken(rawToken string) string {
	sum := sha256.Sum256([]byte(rawToken))
	return hex.EncodeToString(sum[:])
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
