package rememberme

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tenvia/idp-core/pkg/authn/authntest"
	"github.com/tenvia/idp-core/pkg/realm"
	"github.com/tenvia/idp-core/pkg/session"
	"github.com/tenvia/idp-core/pkg/token"
)

// countingCounter records the keys charged with unsuccessful attempts.
type countingCounter struct {
	charged []string
}

func (c *countingCounter) UnsuccessfulAttempt(key string) { c.charged = append(c.charged, key) }
func (c *countingCounter) SuccessfulAttempt(key string)   {}
func (c *countingCounter) RemainingBlockedTime(key string) time.Duration {
	return 0
}

type fixture struct {
	store     *token.InMemStore
	counter   *countingCounter
	sessions  *session.Manager
	processor *Processor
	realm     *realm.Realm
}

func newFixture(policy realm.RememberMePolicy) *fixture {
	store := token.NewInMemStore()
	counter := &countingCounter{}
	sessions := session.NewManager(store)
	rlm := realm.Default()
	rlm.RememberMePolicy = policy
	rlm.AllowForRememberMeDays = 14
	resolver := &authntest.IdentityResolver{Labels: map[int64]string{42: "Alice"}}
	return &fixture{
		store:     store,
		counter:   counter,
		sessions:  sessions,
		processor: NewProcessor(store, counter, sessions, resolver),
		realm:     rlm,
	}
}

func baseRequest() *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/login", nil)
	r.RemoteAddr = "10.1.2.3:51234"
	r.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) Firefox/130.0")
	r.Header.Set("Accept", "text/html")
	r.Header.Set("Accept-Language", "en-US")
	return r
}

// issue performs token issuance and returns the resulting cookie.
func issue(t *testing.T, f *fixture, entityID int64, firstOption, secondOption string) *http.Cookie {
	t.Helper()
	w := httptest.NewRecorder()
	require.NoError(t, f.processor.AddRememberMeCookieAndToken(
		context.Background(), w, baseRequest(), entityID, f.realm, firstOption, secondOption))
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	return cookies[0]
}

func TestIssueAndProcessWholeAuthn(t *testing.T) {
	f := newFixture(realm.RememberMeWholeAuthn)
	cookie := issue(t, f, 42, "pwdWeb", "totpWeb")
	assert.Equal(t, "IREMEMBER_default", cookie.Name)

	r := baseRequest()
	r.AddCookie(cookie)
	w := httptest.NewRecorder()

	s, err := f.processor.ProcessRememberedWholeAuthn(context.Background(), w, r, f.realm)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, int64(42), s.EntityID)
	assert.Equal(t, "Alice", s.EntityLabel)
	assert.True(t, s.RememberMe.FirstFactorSkipped)
	assert.True(t, s.RememberMe.SecondFactorSkipped)
	require.NotNil(t, s.Expires, "remembered sessions carry the token's absolute deadline")
	assert.Empty(t, f.counter.charged)
}

func TestProcessRotatesToken(t *testing.T) {
	f := newFixture(realm.RememberMeWholeAuthn)
	cookie := issue(t, f, 42, "pwdWeb", "")

	r := baseRequest()
	r.AddCookie(cookie)
	w := httptest.NewRecorder()
	_, err := f.processor.ProcessRememberedWholeAuthn(context.Background(), w, r, f.realm)
	require.NoError(t, err)

	rotated := w.Result().Cookies()
	require.Len(t, rotated, 1)
	assert.NotEqual(t, cookie.Value, rotated[0].Value, "the token half must rotate on use")

	// the superseded cookie is now a forgery signal
	r2 := baseRequest()
	r2.AddCookie(cookie)
	s, err := f.processor.ProcessRememberedWholeAuthn(context.Background(), httptest.NewRecorder(), r2, f.realm)
	require.NoError(t, err)
	assert.Nil(t, s)
	assert.Equal(t, []string{"10.1.2.3"}, f.counter.charged)
}

func TestPolicyGatesProcessing(t *testing.T) {
	f := newFixture(realm.RememberMeSecondFactor)
	cookie := issue(t, f, 42, "pwdWeb", "totpWeb")

	r := baseRequest()
	r.AddCookie(cookie)
	s, err := f.processor.ProcessRememberedWholeAuthn(context.Background(), httptest.NewRecorder(), r, f.realm)
	require.NoError(t, err)
	assert.Nil(t, s, "second-factor-only policy must not skip the whole authentication")
}

func TestDisallowPolicyIssuesNothing(t *testing.T) {
	f := newFixture(realm.RememberMeDisallow)
	w := httptest.NewRecorder()
	require.NoError(t, f.processor.AddRememberMeCookieAndToken(
		context.Background(), w, baseRequest(), 42, f.realm, "pwdWeb", ""))
	assert.Empty(t, w.Result().Cookies())

	owned, err := f.store.GetOwned(context.Background(), token.TypeRememberMe, 42)
	require.NoError(t, err)
	assert.Empty(t, owned)
}

func TestMachineMismatchIsSilentMiss(t *testing.T) {
	f := newFixture(realm.RememberMeWholeAuthn)
	cookie := issue(t, f, 42, "pwdWeb", "")

	r := baseRequest()
	r.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0) Chrome/128.0")
	r.AddCookie(cookie)
	s, err := f.processor.ProcessRememberedWholeAuthn(context.Background(), httptest.NewRecorder(), r, f.realm)
	require.NoError(t, err)
	assert.Nil(t, s)
	assert.Empty(t, f.counter.charged, "a machine mismatch is not an attack signal")
}

func TestMalformedCookieChargesCounter(t *testing.T) {
	f := newFixture(realm.RememberMeWholeAuthn)

	r := baseRequest()
	r.AddCookie(&http.Cookie{Name: CookieName(f.realm.Name), Value: "garbage-without-separator"})
	s, err := f.processor.ProcessRememberedWholeAuthn(context.Background(), httptest.NewRecorder(), r, f.realm)
	require.NoError(t, err)
	assert.Nil(t, s)
	assert.Equal(t, []string{"10.1.2.3"}, f.counter.charged)
}

func TestWrongTokenHashRevokesSeries(t *testing.T) {
	f := newFixture(realm.RememberMeWholeAuthn)
	cookie := issue(t, f, 42, "pwdWeb", "")

	series := cookie.Value[:36] // uuid series half
	r := baseRequest()
	r.AddCookie(&http.Cookie{Name: cookie.Name, Value: series + "|" + "forgedforgedforged"})
	s, err := f.processor.ProcessRememberedWholeAuthn(context.Background(), httptest.NewRecorder(), r, f.realm)
	require.NoError(t, err)
	assert.Nil(t, s)
	assert.Equal(t, []string{"10.1.2.3"}, f.counter.charged)

	_, err = f.store.GetByID(context.Background(), token.TypeRememberMe, series)
	assert.ErrorIs(t, err, token.ErrNotFound, "a forged series must be revoked")
}

func TestAbsentCookieIsSilentMiss(t *testing.T) {
	f := newFixture(realm.RememberMeWholeAuthn)
	s, err := f.processor.ProcessRememberedWholeAuthn(
		context.Background(), httptest.NewRecorder(), baseRequest(), f.realm)
	require.NoError(t, err)
	assert.Nil(t, s)
	assert.Empty(t, f.counter.charged)
}

func TestProcessRememberedSecondFactor(t *testing.T) {
	f := newFixture(realm.RememberMeSecondFactor)
	cookie := issue(t, f, 42, "pwdWeb", "totpWeb")

	r := baseRequest()
	r.AddCookie(cookie)
	s, err := f.processor.ProcessRememberedSecondFactor(
		context.Background(), httptest.NewRecorder(), r, f.realm, 42, "pwdWeb")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.False(t, s.RememberMe.FirstFactorSkipped)
	assert.True(t, s.RememberMe.SecondFactorSkipped)
	require.NotNil(t, s.Login2ndFactor)
	assert.Equal(t, "totpWeb", s.Login2ndFactor.OptionID)
	assert.Empty(t, f.counter.charged)
}

func TestSecondFactorSkipRequiresRecordedSecondFactor(t *testing.T) {
	f := newFixture(realm.RememberMeSecondFactor)
	cookie := issue(t, f, 42, "pwdWeb", "")

	r := baseRequest()
	r.AddCookie(cookie)
	s, err := f.processor.ProcessRememberedSecondFactor(
		context.Background(), httptest.NewRecorder(), r, f.realm, 42, "pwdWeb")
	require.NoError(t, err)
	assert.Nil(t, s, "a token issued without a second factor must not skip one")
	assert.Empty(t, f.counter.charged)
}

func TestSecondFactorEntityMismatchChargesCounter(t *testing.T) {
	f := newFixture(realm.RememberMeSecondFactor)
	cookie := issue(t, f, 42, "pwdWeb", "totpWeb")

	r := baseRequest()
	r.AddCookie(cookie)
	s, err := f.processor.ProcessRememberedSecondFactor(
		context.Background(), httptest.NewRecorder(), r, f.realm, 43, "pwdWeb")
	require.NoError(t, err)
	assert.Nil(t, s)
	assert.Equal(t, []string{"10.1.2.3"}, f.counter.charged)
}

func TestRemoveRememberMeWithWholeAuthn(t *testing.T) {
	f := newFixture(realm.RememberMeWholeAuthn)
	cookie := issue(t, f, 42, "pwdWeb", "")
	series := cookie.Value[:36]

	r := baseRequest()
	r.AddCookie(cookie)
	w := httptest.NewRecorder()
	require.NoError(t, f.processor.RemoveRememberMeWithWholeAuthn(context.Background(), w, r, f.realm))

	cleared := w.Result().Cookies()
	require.Len(t, cleared, 1)
	assert.Empty(t, cleared[0].Value)
	assert.Negative(t, cleared[0].MaxAge)

	_, err := f.store.GetByID(context.Background(), token.TypeRememberMe, series)
	assert.ErrorIs(t, err, token.ErrNotFound)

	// a second logout or a missing cookie is not an error
	require.NoError(t, f.processor.RemoveRememberMeWithWholeAuthn(
		context.Background(), httptest.NewRecorder(), baseRequest(), f.realm))
}

func TestRevokeForEntity(t *testing.T) {
	f := newFixture(realm.RememberMeWholeAuthn)
	issue(t, f, 42, "pwdWeb", "")
	issue(t, f, 42, "pwdWeb", "totpWeb")
	other := issue(t, f, 43, "pwdWeb", "")

	require.NoError(t, f.processor.RevokeForEntity(context.Background(), 42))

	owned, err := f.store.GetOwned(context.Background(), token.TypeRememberMe, 42)
	require.NoError(t, err)
	assert.Empty(t, owned)

	_, err = f.store.GetByID(context.Background(), token.TypeRememberMe, other.Value[:36])
	assert.NoError(t, err, "other entities' tokens survive")
}
