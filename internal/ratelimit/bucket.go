package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket is a lazily refilled token bucket. Tokens are whole units,
// refilled from elapsed wall-clock time on every read or consume; the count
// never leaves [0, capacity]. A denied consume leaves the bucket unchanged.
type TokenBucket struct {
	mu            sync.Mutex
	capacity      int
	tokens        int
	tokenInterval time.Duration
	lastRefill    time.Time
	now           func() time.Time
}

// BucketOption configures a TokenBucket.
type BucketOption func(*TokenBucket)

// WithBucketNow overrides the bucket's clock.
func WithBucketNow(now func() time.Time) BucketOption {
	return func(b *TokenBucket) { b.now = now }
}

// NewTokenBucket creates a full bucket that refills `refill` tokens per
// `per` interval, spread evenly so one token becomes available every
// per/refill.
func NewTokenBucket(capacity, refill int, per time.Duration, opts ...BucketOption) *TokenBucket {
	b := &TokenBucket{
		capacity:      capacity,
		tokens:        capacity,
		tokenInterval: per / time.Duration(refill),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.lastRefill = b.now()
	return b
}

// TryConsume takes n tokens, reporting whether enough were available.
func (b *TokenBucket) TryConsume(n int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	if b.tokens < n {
		return false
	}
	b.tokens -= n
	return true
}

// AvailableTokens returns the current token count after a lazy refill.
func (b *TokenBucket) AvailableTokens() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	return b.tokens
}

// refill credits whole tokens for the time elapsed since the last refill.
// lastRefill only advances by the intervals actually credited, so partial
// progress toward the next token is never lost.
func (b *TokenBucket) refill() {
	now := b.now()
	if b.tokens >= b.capacity {
		b.lastRefill = now
		return
	}

	earned := int(now.Sub(b.lastRefill) / b.tokenInterval)
	if earned <= 0 {
		return
	}
	if b.tokens+earned >= b.capacity {
		b.tokens = b.capacity
		b.lastRefill = now
		return
	}
	b.tokens += earned
	b.lastRefill = b.lastRefill.Add(time.Duration(earned) * b.tokenInterval)
}
