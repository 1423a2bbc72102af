package dosguard

import "time"

// NoopCounter is a Counter that never blocks. It is used when an operator
// disables brute-force protection for a channel; it honors the full Counter
// contract so callers need no special casing.
type NoopCounter struct{}

var _ Counter = NoopCounter{}

// NewNoopCounter returns the no-op counter.
func NewNoopCounter() NoopCounter {
	return NoopCounter{}
}

// UnsuccessfulAttempt implements Counter.
func (NoopCounter) UnsuccessfulAttempt(key string) {}

// SuccessfulAttempt implements Counter.
func (NoopCounter) SuccessfulAttempt(key string) {}

// RemainingBlockedTime implements Counter. Always zero.
func (NoopCounter) RemainingBlockedTime(key string) time.Duration {
	return 0
}
