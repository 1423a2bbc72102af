package dosguard

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLockoutCounterBlocksAfterThreshold(t *testing.T) {
	c := NewLockoutCounter(3, time.Minute)

	c.UnsuccessfulAttempt("10.0.0.1")
	c.UnsuccessfulAttempt("10.0.0.1")
	assert.Equal(t, time.Duration(0), c.RemainingBlockedTime("10.0.0.1"))

	c.UnsuccessfulAttempt("10.0.0.1")
	assert.Greater(t, c.RemainingBlockedTime("10.0.0.1"), time.Duration(0))

	// other keys are unaffected
	assert.Equal(t, time.Duration(0), c.RemainingBlockedTime("10.0.0.2"))
}

func TestLockoutCounterSuccessResets(t *testing.T) {
	c := NewLockoutCounter(3, time.Minute)

	c.UnsuccessfulAttempt("10.0.0.1")
	c.UnsuccessfulAttempt("10.0.0.1")
	c.SuccessfulAttempt("10.0.0.1")
	assert.Equal(t, time.Duration(0), c.RemainingBlockedTime("10.0.0.1"))

	// after a reset, maxAttempts-1 failures do not re-trigger a block
	c.UnsuccessfulAttempt("10.0.0.1")
	c.UnsuccessfulAttempt("10.0.0.1")
	assert.Equal(t, time.Duration(0), c.RemainingBlockedTime("10.0.0.1"))
}

func TestLockoutCounterWindowRestartsAfterBlock(t *testing.T) {
	now := time.Now()
	c := NewLockoutCounter(2, time.Minute)
	c.now = func() time.Time { return now }

	c.UnsuccessfulAttempt("k")
	c.UnsuccessfulAttempt("k")
	assert.Equal(t, time.Minute, c.RemainingBlockedTime("k"))

	// the count was reset to zero on blocking: a single further failure does
	// not extend the block, two do
	now = now.Add(2 * time.Minute)
	assert.Equal(t, time.Duration(0), c.RemainingBlockedTime("k"))
	c.UnsuccessfulAttempt("k")
	assert.Equal(t, time.Duration(0), c.RemainingBlockedTime("k"))
	c.UnsuccessfulAttempt("k")
	assert.Equal(t, time.Minute, c.RemainingBlockedTime("k"))
}

func TestLockoutCounterConcurrentIncrements(t *testing.T) {
	c := NewLockoutCounter(100, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 99; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.UnsuccessfulAttempt("k")
		}()
	}
	wg.Wait()

	assert.Equal(t, time.Duration(0), c.RemainingBlockedTime("k"))
	c.UnsuccessfulAttempt("k")
	assert.Greater(t, c.RemainingBlockedTime("k"), time.Duration(0))
}

func TestLockoutCounterPrune(t *testing.T) {
	now := time.Now()
	c := NewLockoutCounter(2, time.Minute)
	c.now = func() time.Time { return now }

	c.UnsuccessfulAttempt("blocked")
	c.UnsuccessfulAttempt("blocked")
	c.UnsuccessfulAttempt("counting")

	now = now.Add(2 * time.Minute)
	c.Prune()

	if _, ok := c.records.Load("blocked"); ok {
		t.Error("lapsed block should be pruned")
	}
	if _, ok := c.records.Load("counting"); !ok {
		t.Error("record with pending failures should be kept")
	}
}

func TestNoopCounter(t *testing.T) {
	c := NewNoopCounter()
	for i := 0; i < 1000; i++ {
		c.UnsuccessfulAttempt("k")
	}
	assert.Equal(t, time.Duration(0), c.RemainingBlockedTime("k"))
}
