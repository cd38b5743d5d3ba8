package domain

import (
	"context"
	"time"
)

// AuditSeverity classifies how urgent an audit event is.
type AuditSeverity string

const (
	SeverityInfo      AuditSeverity = "info"
	SeverityWarning   AuditSeverity = "warning"
	SeverityCritical  AuditSeverity = "critical"
	SeverityEmergency AuditSeverity = "emergency"
)

// AuditEventType identifies the kind of security event recorded.
type AuditEventType string

const (
	EventAuthAttempt        AuditEventType = "authentication_attempt"
	EventAuthSuccess        AuditEventType = "authentication_success"
	EventAuthFailure        AuditEventType = "authentication_failure"
	EventAccountLockout     AuditEventType = "account_lockout"
	EventAccountUnlock      AuditEventType = "account_unlock"
	EventRateLimitExceeded  AuditEventType = "rate_limit_exceeded"
	EventBruteForceDetected AuditEventType = "brute_force_detected"
	EventWhitelistBypass    AuditEventType = "whitelist_bypass"
	EventAdminOverride      AuditEventType = "admin_override"
	EventVaultInitialized   AuditEventType = "vault_initialized"
	EventKeyRotated         AuditEventType = "key_rotated"
	EventPinMismatch        AuditEventType = "pin_verification_failed"
)

// AuditEvent is one append-only entry in the security audit trail.
// An incident must be reconstructable from these entries alone.
type AuditEvent struct {
	ID            string         `json:"id"`
	Timestamp     time.Time      `json:"timestamp"`
	EventType     AuditEventType `json:"event_type"`
	Identity      string         `json:"identity,omitempty"`
	SourceAddress string         `json:"source_address,omitempty"`
	Details       string         `json:"details"`
	Severity      AuditSeverity  `json:"severity"`
}

// AuditSink receives security events as they happen. Append reports an
// error only when a configured durable store rejected the event; the
// in-process record always succeeds.
type AuditSink interface {
	Append(ctx context.Context, event AuditEvent) error
}

// AuditRepository persists audit events to a shared backing store. It is an
// extension point; the in-process trail never depends on one being present.
type AuditRepository interface {
	CreateAuditEvent(ctx context.Context, event *AuditEvent) error
	AuditHistory(ctx context.Context, identity string, limit int) ([]*AuditEvent, error)
}
