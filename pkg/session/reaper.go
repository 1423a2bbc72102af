package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/tenvia/idp-core/pkg/token"
)

// StartReaper launches a goroutine terminating sessions past their
// inactivity limit. It stops when ctx is cancelled. Sessions past their
// absolute deadline never reach the reaper: the token store drops those on
// its own.
func (m *Manager) StartReaper(ctx context.Context, period time.Duration) {
	go func() {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.reapInactiveSessions(ctx)
			}
		}
	}()
}

func (m *Manager) reapInactiveSessions(ctx context.Context) {
	tokens, err := m.store.GetAll(ctx, token.TypeSession)
	if err != nil {
		slog.Warn("Listing session tokens failed, cleanup postponed to the next round", "err", err)
		return
	}
	now := time.Now()
	for _, t := range tokens {
		s, err := Deserialize(t)
		if err != nil {
			slog.Warn("Skipping unparsable session token during cleanup", "token", t.ID, "err", err)
			continue
		}
		if !s.IsExpiredAt(now) {
			continue
		}
		slog.Debug("Expiring login session", "session", s.ID,
			"inactiveFor", now.Sub(s.LastUsed))
		// a concurrent logout may have removed it already, which is fine
		if err := m.RemoveSession(ctx, s.ID); err != nil {
			slog.Error("Removing expired session failed", "session", s.ID, "err", err)
		}
	}
}
