package api

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tenvia/idp-core/pkg/processor"
)

// stateCache holds partial authentication states between the first- and
// second-factor requests of one login attempt. Entries are single use and
// expire quickly; an abandoned attempt simply ages out with no side effects.
type stateCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]stateEntry
}

type stateEntry struct {
	state   *processor.PartialAuthnState
	expires time.Time
}

func newStateCache(ttl time.Duration) *stateCache {
	return &stateCache{ttl: ttl, entries: make(map[string]stateEntry)}
}

// Put stores the state and returns its one-time handle.
func (c *stateCache) Put(state *processor.PartialAuthnState) string {
	id := uuid.NewString()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prune()
	c.entries[id] = stateEntry{state: state, expires: time.Now().Add(c.ttl)}
	return id
}

// Take removes and returns the state for the handle, nil when the handle is
// unknown, already used or expired.
func (c *stateCache) Take(id string) *processor.PartialAuthnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[id]
	if !ok {
		return nil
	}
	delete(c.entries, id)
	if time.Now().After(entry.expires) {
		return nil
	}
	return entry.state
}

func (c *stateCache) prune() {
	now := time.Now()
	for id, entry := range c.entries {
		if now.After(entry.expires) {
			delete(c.entries, id)
		}
	}
}
