package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tenvia/idp-core/pkg/realm"
	"github.com/tenvia/idp-core/pkg/token"
)

// ErrSessionExpired is returned when the requested session exists but is
// past its inactivity limit.
var ErrSessionExpired = errors.New("session expired")

// ErrNoSession is returned when no live session matches the query.
var ErrNoSession = errors.New("no session")

// defaultActivityWriteDelay throttles per-request lastUsed writes to the
// store.
const defaultActivityWriteDelay = 3 * time.Second

// Manager implements session management on top of the shared token store.
// The manager itself is stateless apart from a throttling cache; all session
// state lives in the store, so any number of server instances can share it.
type Manager struct {
	store              token.Store
	activityWriteDelay time.Duration

	mu             sync.Mutex
	recentActivity map[string]time.Time
}

// NewManager creates a session manager on the given token store.
func NewManager(store token.Store) *Manager {
	return &Manager{
		store:              store,
		activityWriteDelay: defaultActivityWriteDelay,
		recentActivity:     make(map[string]time.Time),
	}
}

// CreateParams carries everything known about a finalized authentication
// when its session is established.
type CreateParams struct {
	EntityID             int64
	Realm                *realm.Realm
	EntityLabel          string
	OutdatedCredentialID string
	RememberMe           RememberMeInfo
	FirstFactorOptionID  string
	SecondFactorOptionID string
	// AbsoluteExpiry caps the session lifetime regardless of activity. Nil
	// for sliding-only sessions.
	AbsoluteExpiry *time.Time
}

// GetCreateSession returns the entity's live session in the realm, creating
// one if none exists. The check-then-create-or-update runs inside a token
// store transaction, so concurrent logins of the same entity in the same
// realm converge on a single session: the loser of the race refreshes the
// winner's session instead of duplicating it.
func (m *Manager) GetCreateSession(ctx context.Context, p CreateParams) (*LoginSession, error) {
	var result *LoginSession
	err := m.store.InTransaction(ctx, func(ctx context.Context, tx token.Store) error {
		now := time.Now()

		existing, err := m.findOwnedSession(ctx, tx, p.EntityID, p.Realm.Name)
		if err != nil {
			return err
		}
		if existing != nil {
			existing.LastUsed = now
			existing.RememberMe = p.RememberMe
			existing.OutdatedCredentialID = p.OutdatedCredentialID
			existing.Login1stFactor = authnInfoOrNil(p.FirstFactorOptionID, now)
			existing.Login2ndFactor = authnInfoOrNil(p.SecondFactorOptionID, now)

			tok, err := Serialize(existing)
			if err != nil {
				return err
			}
			if err := tx.Update(ctx, token.TypeSession, existing.ID, nil, tok.Contents); err != nil {
				return fmt.Errorf("refreshing session %s: %w", existing.ID, err)
			}
			slog.Debug("Using existing session", "session", existing.ID,
				"entity", existing.EntityID, "realm", p.Realm.Name)
			result = existing
			return nil
		}

		created, err := m.createSession(ctx, tx, p, now)
		if err != nil {
			return err
		}
		result = created
		return nil
	})
	return result, err
}

func (m *Manager) createSession(ctx context.Context, tx token.Store, p CreateParams, now time.Time) (*LoginSession, error) {
	s := &LoginSession{
		ID:                   uuid.NewString(),
		Started:              now,
		Expires:              p.AbsoluteExpiry,
		LastUsed:             now,
		MaxInactivity:        p.Realm.MaxInactivity,
		EntityID:             p.EntityID,
		Realm:                p.Realm.Name,
		EntityLabel:          p.EntityLabel,
		OutdatedCredentialID: p.OutdatedCredentialID,
		RememberMe:           p.RememberMe,
		Login1stFactor:       authnInfoOrNil(p.FirstFactorOptionID, now),
		Login2ndFactor:       authnInfoOrNil(p.SecondFactorOptionID, now),
		SessionData:          make(map[string]string),
	}
	tok, err := Serialize(s)
	if err != nil {
		return nil, err
	}
	if err := tx.Add(ctx, tok); err != nil {
		return nil, fmt.Errorf("creating session for entity %d: %w", p.EntityID, err)
	}
	slog.Debug("Created a new session", "session", s.ID, "entity", s.EntityID, "realm", s.Realm)
	return s, nil
}

func authnInfoOrNil(optionID string, t time.Time) *AuthNInfo {
	if optionID == "" {
		return nil
	}
	return &AuthNInfo{OptionID: optionID, Time: t}
}

func (m *Manager) findOwnedSession(ctx context.Context, store token.Store, entityID int64, realmName string) (*LoginSession, error) {
	tokens, err := store.GetOwned(ctx, token.TypeSession, entityID)
	if err != nil {
		return nil, fmt.Errorf("listing sessions of entity %d: %w", entityID, err)
	}
	now := time.Now()
	for _, t := range tokens {
		s, err := Deserialize(t)
		if err != nil {
			slog.Warn("Skipping unparsable session token", "token", t.ID, "err", err)
			continue
		}
		if s.Realm == realmName && !s.IsExpiredAt(now) {
			return s, nil
		}
	}
	return nil, nil
}

// GetSession returns a live session by id.
func (m *Manager) GetSession(ctx context.Context, id string) (*LoginSession, error) {
	t, err := m.store.GetByID(ctx, token.TypeSession, id)
	if err != nil {
		if errors.Is(err, token.ErrNotFound) {
			return nil, ErrNoSession
		}
		return nil, err
	}
	s, err := Deserialize(t)
	if err != nil {
		return nil, err
	}
	if s.IsExpiredAt(time.Now()) {
		return nil, ErrSessionExpired
	}
	return s, nil
}

// GetOwnedSession returns the entity's live session in the realm.
func (m *Manager) GetOwnedSession(ctx context.Context, entityID int64, realmName string) (*LoginSession, error) {
	s, err := m.findOwnedSession(ctx, m.store, entityID, realmName)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, fmt.Errorf("entity %d has no session in realm %s: %w", entityID, realmName, ErrNoSession)
	}
	return s, nil
}

// UpdateSessionActivity bumps the session's lastUsed timestamp. Writes are
// throttled: a bump younger than the write delay is skipped, so hot sessions
// do not hammer the store on every request.
func (m *Manager) UpdateSessionActivity(ctx context.Context, id string) error {
	m.mu.Lock()
	last, ok := m.recentActivity[id]
	m.mu.Unlock()
	if ok && time.Since(last) < m.activityWriteDelay {
		return nil
	}

	err := m.updateSession(ctx, id, func(s *LoginSession) {
		s.LastUsed = time.Now()
	})
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.recentActivity[id] = time.Now()
	m.mu.Unlock()
	return nil
}

// UpdateSessionData applies the updater to the session's free-form data map
// and persists the result.
func (m *Manager) UpdateSessionData(ctx context.Context, id string, updater func(data map[string]string)) error {
	return m.updateSession(ctx, id, func(s *LoginSession) {
		if s.SessionData == nil {
			s.SessionData = make(map[string]string)
		}
		updater(s.SessionData)
	})
}

// RecordAdditionalAuthentication stores an extra authentication performed
// within the session.
func (m *Manager) RecordAdditionalAuthentication(ctx context.Context, id, optionID string) error {
	err := m.updateSession(ctx, id, func(s *LoginSession) {
		s.AdditionalAuthn = &AuthNInfo{OptionID: optionID, Time: time.Now()}
	})
	if err != nil {
		return err
	}
	slog.Debug("Recorded additional authentication", "option", optionID, "session", id)
	return nil
}

// RecordAuthenticatedIdentities appends identities used during login and the
// upstream IdP, called by the binding once authentication finalizes.
func (m *Manager) RecordAuthenticatedIdentities(ctx context.Context, id string, remoteIdP string, identities ...string) error {
	return m.updateSession(ctx, id, func(s *LoginSession) {
		s.AddAuthenticatedIdentities(identities...)
		if remoteIdP != "" {
			s.RemoteIdP = remoteIdP
		}
	})
}

func (m *Manager) updateSession(ctx context.Context, id string, mutate func(*LoginSession)) error {
	return m.store.InTransaction(ctx, func(ctx context.Context, tx token.Store) error {
		t, err := tx.GetByID(ctx, token.TypeSession, id)
		if err != nil {
			if errors.Is(err, token.ErrNotFound) {
				return ErrNoSession
			}
			return err
		}
		s, err := Deserialize(t)
		if err != nil {
			return err
		}
		if s.IsExpiredAt(time.Now()) {
			return ErrSessionExpired
		}
		mutate(s)
		updated, err := Serialize(s)
		if err != nil {
			return err
		}
		return tx.Update(ctx, token.TypeSession, id, nil, updated.Contents)
	})
}

// RemoveSession destroys a session. Removing an already-gone session is not
// an error: logout regularly races with the reaper.
func (m *Manager) RemoveSession(ctx context.Context, id string) error {
	m.mu.Lock()
	delete(m.recentActivity, id)
	m.mu.Unlock()

	err := m.store.Remove(ctx, token.TypeSession, id)
	if errors.Is(err, token.ErrNotFound) {
		slog.Debug("Session already removed", "session", id)
		return nil
	}
	if err != nil {
		return fmt.Errorf("removing session %s: %w", id, err)
	}
	slog.Debug("Removed session", "session", id)
	return nil
}
