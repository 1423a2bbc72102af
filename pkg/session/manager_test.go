package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tenvia/idp-core/pkg/realm"
	"github.com/tenvia/idp-core/pkg/token"
)

func testRealm() *realm.Realm {
	r := realm.Default()
	r.Name = "main"
	return r
}

func createParams() CreateParams {
	return CreateParams{
		EntityID:            42,
		Realm:               testRealm(),
		EntityLabel:         "Alice",
		FirstFactorOptionID: "pwdWeb.password",
	}
}

func TestGetCreateSessionCreatesOnce(t *testing.T) {
	m := NewManager(token.NewInMemStore())
	ctx := context.Background()

	s1, err := m.GetCreateSession(ctx, createParams())
	require.NoError(t, err)
	require.NotEmpty(t, s1.ID)
	assert.Equal(t, int64(42), s1.EntityID)
	assert.Equal(t, "main", s1.Realm)
	require.NotNil(t, s1.Login1stFactor)
	assert.Nil(t, s1.Login2ndFactor)

	s2, err := m.GetCreateSession(ctx, createParams())
	require.NoError(t, err)
	assert.Equal(t, s1.ID, s2.ID)
	assert.False(t, s2.LastUsed.Before(s1.LastUsed))
}

func TestGetCreateSessionConcurrentCallsShareOneSession(t *testing.T) {
	m := NewManager(token.NewInMemStore())
	ctx := context.Background()

	const callers = 16
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := m.GetCreateSession(ctx, createParams())
			if err != nil {
				t.Error(err)
				return
			}
			ids[i] = s.ID
		}(i)
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		assert.Equal(t, ids[0], ids[i], "all callers must share one session")
	}

	all, err := m.store.GetAll(ctx, token.TypeSession)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestGetCreateSessionSeparatesRealms(t *testing.T) {
	m := NewManager(token.NewInMemStore())
	ctx := context.Background()

	s1, err := m.GetCreateSession(ctx, createParams())
	require.NoError(t, err)

	p := createParams()
	p.Realm = realm.Default()
	p.Realm.Name = "admin"
	s2, err := m.GetCreateSession(ctx, p)
	require.NoError(t, err)

	assert.NotEqual(t, s1.ID, s2.ID)
}

func TestGetSessionExpiry(t *testing.T) {
	store := token.NewInMemStore()
	m := NewManager(store)
	ctx := context.Background()

	p := createParams()
	p.Realm.MaxInactivity = 50 * time.Millisecond
	s, err := m.GetCreateSession(ctx, p)
	require.NoError(t, err)

	got, err := m.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)

	time.Sleep(60 * time.Millisecond)
	_, err = m.GetSession(ctx, s.ID)
	assert.ErrorIs(t, err, ErrSessionExpired)

	_, err = m.GetSession(ctx, "no-such-session")
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestGetCreateSessionIgnoresExpiredSession(t *testing.T) {
	m := NewManager(token.NewInMemStore())
	ctx := context.Background()

	p := createParams()
	p.Realm.MaxInactivity = 10 * time.Millisecond
	s1, err := m.GetCreateSession(ctx, p)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	s2, err := m.GetCreateSession(ctx, p)
	require.NoError(t, err)
	assert.NotEqual(t, s1.ID, s2.ID, "an expired session must not be resurrected")
}

func TestUpdateSessionActivityThrottlesWrites(t *testing.T) {
	store := token.NewInMemStore()
	m := NewManager(store)
	m.activityWriteDelay = time.Hour
	ctx := context.Background()

	s, err := m.GetCreateSession(ctx, createParams())
	require.NoError(t, err)

	require.NoError(t, m.UpdateSessionActivity(ctx, s.ID))
	first, err := m.GetSession(ctx, s.ID)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, m.UpdateSessionActivity(ctx, s.ID))
	second, err := m.GetSession(ctx, s.ID)
	require.NoError(t, err)

	assert.True(t, second.LastUsed.Equal(first.LastUsed), "second bump within the delay must be skipped")
}

func TestUpdateSessionData(t *testing.T) {
	m := NewManager(token.NewInMemStore())
	ctx := context.Background()

	s, err := m.GetCreateSession(ctx, createParams())
	require.NoError(t, err)

	require.NoError(t, m.UpdateSessionData(ctx, s.ID, func(data map[string]string) {
		data["oauth.grant"] = "g1"
	}))

	got, err := m.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "g1", got.SessionData["oauth.grant"])
}

func TestRecordAdditionalAuthentication(t *testing.T) {
	m := NewManager(token.NewInMemStore())
	ctx := context.Background()

	s, err := m.GetCreateSession(ctx, createParams())
	require.NoError(t, err)

	require.NoError(t, m.RecordAdditionalAuthentication(ctx, s.ID, "pwdWeb.password"))
	got, err := m.GetSession(ctx, s.ID)
	require.NoError(t, err)
	require.NotNil(t, got.AdditionalAuthn)
	assert.Equal(t, "pwdWeb.password", got.AdditionalAuthn.OptionID)
}

func TestRemoveSessionIdempotent(t *testing.T) {
	m := NewManager(token.NewInMemStore())
	ctx := context.Background()

	s, err := m.GetCreateSession(ctx, createParams())
	require.NoError(t, err)

	require.NoError(t, m.RemoveSession(ctx, s.ID))
	// racing with the reaper or a double logout is fine
	require.NoError(t, m.RemoveSession(ctx, s.ID))
}

func TestReaperRemovesOnlyInactiveSessions(t *testing.T) {
	store := token.NewInMemStore()
	m := NewManager(store)
	ctx := context.Background()

	shortLived := createParams()
	shortLived.Realm.MaxInactivity = 10 * time.Millisecond
	s1, err := m.GetCreateSession(ctx, shortLived)
	require.NoError(t, err)

	longLived := createParams()
	longLived.EntityID = 43
	s2, err := m.GetCreateSession(ctx, longLived)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	m.reapInactiveSessions(ctx)

	_, err = store.GetByID(ctx, token.TypeSession, s1.ID)
	assert.ErrorIs(t, err, token.ErrNotFound)
	_, err = store.GetByID(ctx, token.TypeSession, s2.ID)
	assert.NoError(t, err)
}
