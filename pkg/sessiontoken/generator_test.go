package sessiontoken

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tenvia/idp-core/pkg/session"
)

func testSession() *session.LoginSession {
	return &session.LoginSession{
		ID:                      "11111111-2222-3333-4444-555555555555",
		Started:                 time.Now(),
		LastUsed:                time.Now(),
		MaxInactivity:           30 * time.Minute,
		EntityID:                42,
		Realm:                   "main",
		EntityLabel:             "Alice",
		AuthenticatedIdentities: []string{"alice"},
		RememberMe:              session.RememberMeInfo{SecondFactorSkipped: true},
	}
}

func TestFromSessionRoundTrip(t *testing.T) {
	g := NewGenerator("test-secret", "https://idp.example.com", "downstream", time.Hour)

	signed, expires, err := g.FromSession(testSession())
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expires, 5*time.Second)

	claims, err := g.Parse(signed)
	require.NoError(t, err)
	assert.Equal(t, "11111111-2222-3333-4444-555555555555", claims.SessionID)
	assert.Equal(t, "main", claims.Realm)
	assert.Equal(t, "Alice", claims.EntityLabel)
	assert.Equal(t, []string{"alice"}, claims.AuthenticatedIdentities)
	assert.True(t, claims.RememberMeUsed)

	entityID, err := claims.EntityID()
	require.NoError(t, err)
	assert.Equal(t, int64(42), entityID)
}

func TestFromSessionCapsAtAbsoluteDeadline(t *testing.T) {
	g := NewGenerator("test-secret", "idp", "downstream", time.Hour)
	s := testSession()
	deadline := time.Now().Add(10 * time.Minute)
	s.Expires = &deadline

	_, expires, err := g.FromSession(s)
	require.NoError(t, err)
	assert.WithinDuration(t, deadline, expires, time.Second)
}

func TestParseRejectsForeignTokens(t *testing.T) {
	g := NewGenerator("test-secret", "idp", "downstream", time.Hour)
	other := NewGenerator("other-secret", "idp", "downstream", time.Hour)

	signed, _, err := other.FromSession(testSession())
	require.NoError(t, err)
	_, err = g.Parse(signed)
	assert.Error(t, err)

	wrongAudience := NewGenerator("test-secret", "idp", "somebody-else", time.Hour)
	signed, _, err = wrongAudience.FromSession(testSession())
	require.NoError(t, err)
	_, err = g.Parse(signed)
	assert.Error(t, err)

	_, err = g.Parse("not-a-token")
	assert.Error(t, err)
}
