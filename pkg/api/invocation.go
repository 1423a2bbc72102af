package api

import (
	"context"
	"net/http"

	"github.com/tenvia/idp-core/pkg/realm"
	"github.com/tenvia/idp-core/pkg/session"
)

// SessionCookiePrefix is the prefix of the per-realm session cookie.
const SessionCookiePrefix = "ISESSION_"

// SessionCookieName returns the session cookie name for a realm.
func SessionCookieName(realmName string) string {
	return SessionCookiePrefix + realmName
}

// InvocationContext carries the per-request state resolved by the session
// middleware. It is passed explicitly, never kept in package globals.
type InvocationContext struct {
	Realm   *realm.Realm
	Session *session.LoginSession
	Locale  string
}

// LoggedIn tells whether the request belongs to an established session.
func (ic *InvocationContext) LoggedIn() bool {
	return ic != nil && ic.Session != nil
}

type invocationKey struct{}

// WithInvocation attaches the invocation context to the request context.
func WithInvocation(ctx context.Context, ic *InvocationContext) context.Context {
	return context.WithValue(ctx, invocationKey{}, ic)
}

// InvocationFrom returns the request's invocation context, nil when the
// middleware did not run.
func InvocationFrom(ctx context.Context) *InvocationContext {
	ic, _ := ctx.Value(invocationKey{}).(*InvocationContext)
	return ic
}

// SessionMiddleware resolves the realm's session cookie into an
// InvocationContext and bumps the session activity. Requests without a live
// session pass through with an anonymous context; handlers that need a
// session check LoggedIn themselves.
func SessionMiddleware(sessions *session.Manager, rlm *realm.Realm) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ic := &InvocationContext{
				Realm:  rlm,
				Locale: r.Header.Get("Accept-Language"),
			}
			if cookie, err := r.Cookie(SessionCookieName(rlm.Name)); err == nil && cookie.Value != "" {
				if s, err := sessions.GetSession(r.Context(), cookie.Value); err == nil && s.Realm == rlm.Name {
					ic.Session = s
					_ = sessions.UpdateSessionActivity(r.Context(), s.ID)
				}
			}
			next.ServeHTTP(w, r.WithContext(WithInvocation(r.Context(), ic)))
		})
	}
}

func setSessionCookie(w http.ResponseWriter, realmName, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName(realmName),
		Value:    sessionID,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}

func clearSessionCookie(w http.ResponseWriter, realmName string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName(realmName),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}
