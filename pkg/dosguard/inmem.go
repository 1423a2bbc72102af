package dosguard

import (
	"log/slog"
	"sync"
	"time"
)

// record is one key's state. Each record carries its own lock so that login
// storms against different keys do not contend on a single mutex.
type record struct {
	mu           sync.Mutex
	failures     int
	blockedUntil time.Time
}

// LockoutCounter is the in-memory Counter implementation.
type LockoutCounter struct {
	records     sync.Map // string -> *record
	maxAttempts int
	blockTime   time.Duration
	now         func() time.Time
}

var _ Counter = (*LockoutCounter)(nil)

// NewLockoutCounter creates a counter that blocks a key for blockTime after
// maxAttempts consecutive failures.
func NewLockoutCounter(maxAttempts int, blockTime time.Duration) *LockoutCounter {
	return &LockoutCounter{
		maxAttempts: maxAttempts,
		blockTime:   blockTime,
		now:         time.Now,
	}
}

func (c *LockoutCounter) get(key string) *record {
	if r, ok := c.records.Load(key); ok {
		return r.(*record)
	}
	r, _ := c.records.LoadOrStore(key, &record{})
	return r.(*record)
}

// UnsuccessfulAttempt implements Counter.
func (c *LockoutCounter) UnsuccessfulAttempt(key string) {
	r := c.get(key)
	r.mu.Lock()
	defer r.mu.Unlock()

	r.failures++
	if r.failures >= c.maxAttempts {
		r.blockedUntil = c.now().Add(c.blockTime)
		r.failures = 0
		slog.Warn("Blocking client after too many unsuccessful authentication attempts",
			"key", key, "blockedFor", c.blockTime)
	}
}

// SuccessfulAttempt implements Counter.
func (c *LockoutCounter) SuccessfulAttempt(key string) {
	c.records.Delete(key)
}

// RemainingBlockedTime implements Counter.
func (c *LockoutCounter) RemainingBlockedTime(key string) time.Duration {
	v, ok := c.records.Load(key)
	if !ok {
		return 0
	}
	r := v.(*record)
	r.mu.Lock()
	defer r.mu.Unlock()

	remaining := r.blockedUntil.Sub(c.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Prune drops records that are neither blocked nor carrying failures newer
// than the block window. Intended to be called periodically from a
// maintenance goroutine.
func (c *LockoutCounter) Prune() {
	now := c.now()
	c.records.Range(func(key, v any) bool {
		r := v.(*record)
		r.mu.Lock()
		stale := r.failures == 0 && r.blockedUntil.Before(now)
		r.mu.Unlock()
		if stale {
			c.records.Delete(key)
		}
		return true
	})
}
