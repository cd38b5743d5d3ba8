package domain

import "time"

// lockoutDurations maps escalation level to lockout duration: 1 minute,
// 5 minutes, 15 minutes, 1 hour, 24 hours.
var lockoutDurations = map[int]time.Duration{
	1: 60 * time.Second,
	2: 300 * time.Second,
	3: 900 * time.Second,
	4: 3600 * time.Second,
	5: 86400 * time.Second,
}

// LockoutDuration returns the lockout duration for an escalation level,
// zero for level 0.
func LockoutDuration(level int) time.Duration {
	return lockoutDurations[level]
}

// LockoutLevelForAttempts maps a cumulative failure count to an escalation
// level. Escalation starts at the third failure and caps at level 5.
func LockoutLevelForAttempts(attempts int) int {
	switch {
	case attempts < 3:
		return 0
	case attempts == 3:
		return 1
	case attempts == 4:
		return 2
	case attempts == 5:
		return 3
	case attempts == 6:
		return 4
	default:
		return 5
	}
}

// AccountLockout is the per-identity failure ledger. The failure count only
// grows until an explicit reset; expiry of a lockout window does not clear
// the count, so the next failure escalates from where it left off.
type AccountLockout struct {
	Identity       string
	FailedAttempts int
	LockoutUntil   *time.Time
	LockoutLevel   int
	FirstFailure   time.Time
	LastFailure    time.Time
	UnlockToken    string
}

// NewAccountLockout creates a cold ledger entry with no failures recorded.
func NewAccountLockout(identity string, now time.Time) *AccountLockout {
	return &AccountLockout{
		Identity:     identity,
		FirstFailure: now,
		LastFailure:  now,
	}
}

// AddFailure records one failed attempt and re-derives the escalation
// level. A lockout at level 3 or above mints an unlock token through
// tokenFn, once. Returns the lockout duration applied, zero when the
// failure did not lock the account.
func (l *AccountLockout) AddFailure(now time.Time, tokenFn func() string) time.Duration {
	l.FailedAttempts++
	l.LastFailure = now
	if l.FailedAttempts == 1 {
		l.FirstFailure = now
	}

	l.LockoutLevel = LockoutLevelForAttempts(l.FailedAttempts)
	if l.LockoutLevel == 0 {
		return 0
	}

	duration := LockoutDuration(l.LockoutLevel)
	until := now.Add(duration)
	l.LockoutUntil = &until

	if l.LockoutLevel >= 3 && l.UnlockToken == "" && tokenFn != nil {
		l.UnlockToken = tokenFn()
	}
	return duration
}

// IsLocked reports whether the lockout window is still open.
func (l *AccountLockout) IsLocked(now time.Time) bool {
	return l.LockoutUntil != nil && now.Before(*l.LockoutUntil)
}

// RemainingLockout returns how long until the lockout window closes.
func (l *AccountLockout) RemainingLockout(now time.Time) time.Duration {
	if l.LockoutUntil == nil || !now.Before(*l.LockoutUntil) {
		return 0
	}
	return l.LockoutUntil.Sub(now)
}

// Reset clears the ledger after a successful authentication or an
// administrative unlock.
func (l *AccountLockout) Reset() {
	l.FailedAttempts = 0
	l.LockoutUntil = nil
	l.LockoutLevel = 0
	l.UnlockToken = ""
}

// Clone returns an independent copy for use outside the ledger lock.
func (l *AccountLockout) Clone() *AccountLockout {
	cp := *l
	if l.LockoutUntil != nil {
		until := *l.LockoutUntil
		cp.LockoutUntil = &until
	}
	return &cp
}
