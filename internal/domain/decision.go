package domain

import "time"

// DecisionKind is the outcome of a rate-limiting check. Denial is always a
// decision value, never an error.
type DecisionKind string

const (
	Allow             DecisionKind = "allow"
	DenyRateLimit     DecisionKind = "deny_rate_limit"
	DenyAccountLocked DecisionKind = "deny_account_locked"
	DenyBruteForce    DecisionKind = "deny_brute_force"
)

// Decision is the result of a rate-limiter operation, carrying enough
// context for the caller to render a response and for the audit trail to
// reconstruct the incident.
type Decision struct {
	Kind              DecisionKind
	RetryAfter        time.Duration
	RemainingAttempts int
	UnlockToken       string
	Lockout           *AccountLockout
}

// Allowed reports whether the attempt may proceed.
func (d Decision) Allowed() bool {
	return d.Kind == Allow
}
