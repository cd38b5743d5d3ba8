package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock for deterministic bucket tests.
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestTokenBucketStartsFull(t *testing.T) {
	clock := newFakeClock()
	b := NewTokenBucket(5, 5, time.Minute, WithBucketNow(clock.Now))
	assert.Equal(t, 5, b.AvailableTokens())
}

func TestTokenBucketConsumeAndDeny(t *testing.T) {
	clock := newFakeClock()
	b := NewTokenBucket(5, 5, time.Minute, WithBucketNow(clock.Now))

	for i := 0; i < 5; i++ {
		require.True(t, b.TryConsume(1), "token %d", i)
	}
	assert.Zero(t, b.AvailableTokens())

	// Denial leaves the bucket unchanged.
	assert.False(t, b.TryConsume(1))
	assert.Zero(t, b.AvailableTokens())
}

func TestTokenBucketLazyRefill(t *testing.T) {
	clock := newFakeClock()
	b := NewTokenBucket(5, 5, time.Minute, WithBucketNow(clock.Now))

	for i := 0; i < 5; i++ {
		require.True(t, b.TryConsume(1))
	}

	// 5 per minute means one token every 12s; 11s earns nothing.
	clock.Advance(11 * time.Second)
	assert.Zero(t, b.AvailableTokens())
	assert.False(t, b.TryConsume(1))

	// One more second completes the interval.
	clock.Advance(time.Second)
	assert.Equal(t, 1, b.AvailableTokens())
	assert.True(t, b.TryConsume(1))
}

func TestTokenBucketPartialProgressPreserved(t *testing.T) {
	clock := newFakeClock()
	b := NewTokenBucket(5, 5, time.Minute, WithBucketNow(clock.Now))

	for i := 0; i < 5; i++ {
		require.True(t, b.TryConsume(1))
	}

	// 18s = one whole interval plus half of the next. The half must not be
	// discarded by the read.
	clock.Advance(18 * time.Second)
	assert.Equal(t, 1, b.AvailableTokens())

	clock.Advance(6 * time.Second)
	assert.Equal(t, 2, b.AvailableTokens())
}

func TestTokenBucketNeverExceedsCapacity(t *testing.T) {
	clock := newFakeClock()
	b := NewTokenBucket(5, 5, time.Minute, WithBucketNow(clock.Now))

	require.True(t, b.TryConsume(2))
	clock.Advance(time.Hour)
	assert.Equal(t, 5, b.AvailableTokens())
}

func TestTokenBucketConsumeMoreThanAvailable(t *testing.T) {
	clock := newFakeClock()
	b := NewTokenBucket(5, 5, time.Minute, WithBucketNow(clock.Now))

	assert.False(t, b.TryConsume(6))
	assert.Equal(t, 5, b.AvailableTokens())
	assert.True(t, b.TryConsume(5))
}
