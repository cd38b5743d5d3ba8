package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/atlas-fin/securecore/internal/domain"
	"github.com/atlas-fin/securecore/internal/infra/audit"
)

var (
	// ErrUnlockDisabled is returned when administrative unlock is turned off.
	ErrUnlockDisabled = errors.New("administrative unlock is disabled")
	// ErrNoLockout is returned when the identity has no lockout on record.
	ErrNoLockout = errors.New("no lockout for identity")
	// ErrNoUnlockToken is returned when the lockout never escalated far
	// enough to mint a token.
	ErrNoUnlockToken = errors.New("no unlock token available")
	// ErrInvalidUnlockToken is returned on a token mismatch.
	ErrInvalidUnlockToken = errors.New("invalid unlock token")
)

// slowOpThreshold is the latency budget for limiter operations; exceeding
// it is logged as a warning, never surfaced as an error.
const slowOpThreshold = 10 * time.Millisecond

// Config holds the rate limiter knobs.
type Config struct {
	MaxAttemptsPerMinute    int
	BucketCapacity          int
	BucketRefill            int
	BucketRefillPeriod      time.Duration
	AccountLockoutThreshold int
	SourceLockoutThreshold  int
	WhitelistedSources      []string
	AdminUnlockEnabled      bool
}

// DefaultConfig matches the shipped defaults: 5 attempts/min per source,
// account lockout from the 3rd failure, source blocked at 10 failures.
func DefaultConfig() Config {
	return Config{
		MaxAttemptsPerMinute:    5,
		BucketCapacity:          5,
		BucketRefill:            5,
		BucketRefillPeriod:      time.Minute,
		AccountLockoutThreshold: 3,
		SourceLockoutThreshold:  10,
		WhitelistedSources:      []string{"127.0.0.1", "::1"},
		AdminUnlockEnabled:      true,
	}
}

// sourceState is the per-source-address ledger entry.
type sourceState struct {
	bucket         *TokenBucket
	failedAttempts int
	lastAttempt    time.Time
	whitelisted    bool
}

// SecurityStats is a point-in-time summary for monitoring.
type SecurityStats struct {
	LockedAccounts      int
	TotalFailedAttempts int
	BlockedSources      int
	WhitelistedSources  int
	RecentEvents        []domain.AuditEvent
}

// RateLimiter decides whether authentication attempts may proceed. It keeps
// a per-identity lockout ledger, a per-source token bucket ledger and an
// append-only audit trail. All state is in-memory and per-process.
type RateLimiter struct {
	cfg Config

	lockoutMu sync.RWMutex
	lockouts  map[string]*domain.AccountLockout

	sourceMu  sync.RWMutex
	sources   map[string]*sourceState
	whitelist map[string]bool

	trail  *audit.Trail
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a RateLimiter.
type Option func(*RateLimiter)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *RateLimiter) { r.logger = l }
}

// WithTrail supplies a shared audit trail instead of an owned one.
func WithTrail(t *audit.Trail) Option {
	return func(r *RateLimiter) { r.trail = t }
}

// WithNow overrides the limiter's clock.
func WithNow(now func() time.Time) Option {
	return func(r *RateLimiter) { r.now = now }
}

// New creates a rate limiter with the given configuration.
func New(cfg Config, opts ...Option) *RateLimiter {
	r := &RateLimiter{
		cfg:       cfg,
		lockouts:  make(map[string]*domain.AccountLockout),
		sources:   make(map[string]*sourceState),
		whitelist: make(map[string]bool, len(cfg.WhitelistedSources)),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, addr := range cfg.WhitelistedSources {
		r.whitelist[addr] = true
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.trail == nil {
		r.trail = audit.NewTrail(audit.WithLogger(r.logger), audit.WithNow(r.now))
	}
	return r
}

// CheckAttempt decides whether an authentication attempt may proceed.
// Account lockout is evaluated before the source bucket and wins even when
// tokens remain. Failure counters are never mutated here. Unknown
// identities and sources start cold and are allowed.
func (r *RateLimiter) CheckAttempt(ctx context.Context, identity, source string) domain.Decision {
	start := r.now()
	defer r.logPerformance(ctx, "check_attempt", start)

	if d, denied := r.checkLockout(ctx, identity, source); denied {
		return d
	}
	if source != "" {
		if d, denied := r.checkSource(ctx, identity, source); denied {
			return d
		}
	}

	r.trail.Append(ctx, domain.AuditEvent{
		EventType:     domain.EventAuthAttempt,
		Identity:      identity,
		SourceAddress: source,
		Details:       "authentication attempt allowed",
		Severity:      domain.SeverityInfo,
	})
	return domain.Decision{
		Kind:              domain.Allow,
		RemainingAttempts: r.remainingAttempts(identity),
	}
}

// RecordSuccess resets the identity's lockout ledger. The source bucket is
// an orthogonal axis and is left untouched.
func (r *RateLimiter) RecordSuccess(ctx context.Context, identity, source string) {
	start := r.now()
	defer r.logPerformance(ctx, "record_success", start)

	r.lockoutMu.Lock()
	if lockout, ok := r.lockouts[identity]; ok {
		lockout.Reset()
	}
	r.lockoutMu.Unlock()

	r.trail.Append(ctx, domain.AuditEvent{
		EventType:     domain.EventAuthSuccess,
		Identity:      identity,
		SourceAddress: source,
		Details:       "authentication successful, lockout reset",
		Severity:      domain.SeverityInfo,
	})
}

// RecordFailure registers a failed attempt, escalating the identity's
// lockout per the fixed threshold table and counting the failure against
// the source ledger.
func (r *RateLimiter) RecordFailure(ctx context.Context, identity, source string) domain.Decision {
	start := r.now()
	defer r.logPerformance(ctx, "record_failure", start)
	now := r.now()

	r.lockoutMu.Lock()
	lockout, ok := r.lockouts[identity]
	if !ok {
		lockout = domain.NewAccountLockout(identity, now)
		r.lockouts[identity] = lockout
	}
	duration := lockout.AddFailure(now, generateUnlockToken)
	snapshot := lockout.Clone()
	r.lockoutMu.Unlock()

	if source != "" {
		r.sourceMu.Lock()
		state := r.sourceEntry(source)
		state.failedAttempts++
		state.lastAttempt = now
		r.sourceMu.Unlock()
	}

	eventType, severity := domain.EventAuthFailure, domain.SeverityWarning
	switch {
	case snapshot.FailedAttempts >= 10:
		eventType, severity = domain.EventBruteForceDetected, domain.SeverityEmergency
	case snapshot.LockoutLevel >= 3:
		eventType, severity = domain.EventAccountLockout, domain.SeverityCritical
	}

	r.trail.Append(ctx, domain.AuditEvent{
		EventType:     eventType,
		Identity:      identity,
		SourceAddress: source,
		Details: fmt.Sprintf("failed attempt #%d, lockout level %d, duration %s",
			snapshot.FailedAttempts, snapshot.LockoutLevel, duration),
		Severity: severity,
	})

	remaining := r.cfg.AccountLockoutThreshold - snapshot.FailedAttempts
	if remaining < 0 {
		remaining = 0
	}
	if snapshot.IsLocked(now) {
		return domain.Decision{
			Kind:              domain.DenyAccountLocked,
			RetryAfter:        snapshot.RemainingLockout(now),
			RemainingAttempts: remaining,
			UnlockToken:       snapshot.UnlockToken,
			Lockout:           snapshot,
		}
	}
	return domain.Decision{
		Kind:              domain.Allow,
		RemainingAttempts: remaining,
		Lockout:           snapshot,
	}
}

// AdminUnlock clears a lockout when the caller presents the token minted at
// escalation. State is untouched on any mismatch.
func (r *RateLimiter) AdminUnlock(ctx context.Context, identity, token string) error {
	if !r.cfg.AdminUnlockEnabled {
		return ErrUnlockDisabled
	}

	r.lockoutMu.Lock()
	defer r.lockoutMu.Unlock()

	lockout, ok := r.lockouts[identity]
	if !ok {
		return ErrNoLockout
	}
	if lockout.UnlockToken == "" {
		return ErrNoUnlockToken
	}
	if lockout.UnlockToken != token {
		r.logger.ErrorContext(ctx, "invalid unlock token presented", "identity", identity)
		return ErrInvalidUnlockToken
	}
	lockout.Reset()

	r.trail.Append(ctx, domain.AuditEvent{
		EventType: domain.EventAdminOverride,
		Identity:  identity,
		Details:   "administrative unlock successful",
		Severity:  domain.SeverityWarning,
	})
	return nil
}

// WhitelistSource exempts a source address from bucket throttling. Account
// lockout still applies to whitelisted sources.
func (r *RateLimiter) WhitelistSource(ctx context.Context, source string) {
	r.sourceMu.Lock()
	r.whitelist[source] = true
	if state, ok := r.sources[source]; ok {
		state.whitelisted = true
	}
	r.sourceMu.Unlock()

	r.trail.Append(ctx, domain.AuditEvent{
		EventType:     domain.EventWhitelistBypass,
		SourceAddress: source,
		Details:       "source address whitelisted",
		Severity:      domain.SeverityInfo,
	})
}

// Stats summarizes the current ledgers plus the 100 newest audit events.
func (r *RateLimiter) Stats() SecurityStats {
	now := r.now()

	r.lockoutMu.RLock()
	locked, totalFailed := 0, 0
	for _, l := range r.lockouts {
		if l.IsLocked(now) {
			locked++
		}
		totalFailed += l.FailedAttempts
	}
	r.lockoutMu.RUnlock()

	r.sourceMu.RLock()
	blocked := 0
	for _, s := range r.sources {
		if s.failedAttempts >= r.cfg.SourceLockoutThreshold {
			blocked++
		}
	}
	whitelisted := len(r.whitelist)
	r.sourceMu.RUnlock()

	return SecurityStats{
		LockedAccounts:      locked,
		TotalFailedAttempts: totalFailed,
		BlockedSources:      blocked,
		WhitelistedSources:  whitelisted,
		RecentEvents:        r.trail.Recent(100),
	}
}

// ExportAuditLog returns a copy of the audit trail.
func (r *RateLimiter) ExportAuditLog() []domain.AuditEvent {
	return r.trail.Export()
}

// CleanupAuditLog drops audit events older than the given age and reports
// how many remain.
func (r *RateLimiter) CleanupAuditLog(olderThan time.Duration) int {
	return r.trail.Cleanup(olderThan)
}

// CleanupLedgers evicts lockout and source entries idle longer than
// maxIdle. Locked accounts are never evicted. Returns the eviction count.
func (r *RateLimiter) CleanupLedgers(maxIdle time.Duration) int {
	now := r.now()
	cutoff := now.Add(-maxIdle)
	evicted := 0

	r.lockoutMu.Lock()
	for id, l := range r.lockouts {
		if !l.IsLocked(now) && l.LastFailure.Before(cutoff) {
			delete(r.lockouts, id)
			evicted++
		}
	}
	r.lockoutMu.Unlock()

	r.sourceMu.Lock()
	for addr, s := range r.sources {
		if s.lastAttempt.Before(cutoff) {
			delete(r.sources, addr)
			evicted++
		}
	}
	r.sourceMu.Unlock()

	return evicted
}

// checkLockout is the first gate: a locked account denies the attempt even
// when bucket tokens remain.
func (r *RateLimiter) checkLockout(ctx context.Context, identity, source string) (domain.Decision, bool) {
	now := r.now()

	r.lockoutMu.RLock()
	lockout, ok := r.lockouts[identity]
	var snapshot *domain.AccountLockout
	if ok && lockout.IsLocked(now) {
		snapshot = lockout.Clone()
	}
	r.lockoutMu.RUnlock()

	if snapshot == nil {
		return domain.Decision{}, false
	}

	r.trail.Append(ctx, domain.AuditEvent{
		EventType:     domain.EventAccountLockout,
		Identity:      identity,
		SourceAddress: source,
		Details: fmt.Sprintf("account locked, level %d, %s remaining",
			snapshot.LockoutLevel, snapshot.RemainingLockout(now)),
		Severity: domain.SeverityCritical,
	})
	return domain.Decision{
		Kind:        domain.DenyAccountLocked,
		RetryAfter:  snapshot.RemainingLockout(now),
		UnlockToken: snapshot.UnlockToken,
		Lockout:     snapshot,
	}, true
}

// checkSource is the second gate: whitelisted sources bypass the bucket,
// sources with an excessive failure history are refused outright.
func (r *RateLimiter) checkSource(ctx context.Context, identity, source string) (domain.Decision, bool) {
	r.sourceMu.Lock()
	state := r.sourceEntry(source)
	state.lastAttempt = r.now()
	if state.whitelisted {
		r.sourceMu.Unlock()
		return domain.Decision{}, false
	}
	if state.failedAttempts >= r.cfg.SourceLockoutThreshold {
		r.sourceMu.Unlock()
		r.trail.Append(ctx, domain.AuditEvent{
			EventType:     domain.EventBruteForceDetected,
			Identity:      identity,
			SourceAddress: source,
			Details:       fmt.Sprintf("source blocked after %d failures", r.cfg.SourceLockoutThreshold),
			Severity:      domain.SeverityEmergency,
		})
		return domain.Decision{Kind: domain.DenyBruteForce}, true
	}
	consumed := state.bucket.TryConsume(1)
	remaining := state.bucket.AvailableTokens()
	r.sourceMu.Unlock()

	if consumed {
		return domain.Decision{}, false
	}

	r.trail.Append(ctx, domain.AuditEvent{
		EventType:     domain.EventRateLimitExceeded,
		Identity:      identity,
		SourceAddress: source,
		Details:       fmt.Sprintf("source rate limit exceeded, %d tokens available", remaining),
		Severity:      domain.SeverityWarning,
	})
	return domain.Decision{
		Kind:              domain.DenyRateLimit,
		RetryAfter:        time.Minute / time.Duration(r.cfg.MaxAttemptsPerMinute),
		RemainingAttempts: remaining,
	}, true
}

// sourceEntry materializes a ledger entry; callers hold sourceMu.
func (r *RateLimiter) sourceEntry(source string) *sourceState {
	state, ok := r.sources[source]
	if !ok {
		state = &sourceState{
			bucket: NewTokenBucket(r.cfg.BucketCapacity, r.cfg.BucketRefill,
				r.cfg.BucketRefillPeriod, WithBucketNow(r.now)),
			whitelisted: r.whitelist[source],
			lastAttempt: r.now(),
		}
		r.sources[source] = state
	}
	return state
}

func (r *RateLimiter) remainingAttempts(identity string) int {
	r.lockoutMu.RLock()
	defer r.lockoutMu.RUnlock()
	if l, ok := r.lockouts[identity]; ok {
		if rem := r.cfg.AccountLockoutThreshold - l.FailedAttempts; rem > 0 {
			return rem
		}
		return 0
	}
	return r.cfg.AccountLockoutThreshold
}

func (r *RateLimiter) logPerformance(ctx context.Context, op string, start time.Time) {
	if elapsed := r.now().Sub(start); elapsed > slowOpThreshold {
		r.logger.WarnContext(ctx, "rate limiter operation exceeded latency target",
			"operation", op, "elapsed", elapsed, "target", slowOpThreshold)
	}
}
