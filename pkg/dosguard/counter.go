// Package dosguard defends against credential guessing with a per-client-key
// sliding counter of unsuccessful authentication attempts. Separate counter
// instances must be used for interactive logins, background/polling requests
// and internal framework requests: their legitimate request rates differ by
// orders of magnitude and must never share a blocklist.
package dosguard

import "time"

// Counter tracks unsuccessful authentication attempts per client key
// (typically a source IP) and blocks the key after a configured number of
// failures.
//
// Implementations must be safe for concurrent use by many request-handling
// goroutines operating on the same key.
type Counter interface {
	// UnsuccessfulAttempt records one failed attempt for key. When the
	// failure count reaches the configured threshold the key is blocked for
	// the configured time and the count restarts from zero, so a persistent
	// attacker is re-blocked on every threshold's worth of failures rather
	// than accumulating an unbounded count.
	UnsuccessfulAttempt(key string)

	// SuccessfulAttempt clears all recorded state for key.
	SuccessfulAttempt(key string)

	// RemainingBlockedTime returns how long the key stays blocked, zero when
	// it is not blocked or the block has lapsed.
	RemainingBlockedTime(key string) time.Duration
}
