package persistence

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atlas-fin/securecore/internal/domain"
)

// AuditEventsSchema is the table backing the shared audit store. Applied by
// the operator; the library never migrates on its own.
const AuditEventsSchema = `CREATE TABLE IF NOT EXISTS audit_events (
	id TEXT PRIMARY KEY,
	timestamp TIMESTAMPTZ NOT NULL,
	event_type TEXT NOT NULL,
	identity TEXT,
	source_address TEXT,
	details TEXT,
	severity TEXT NOT NULL
)`

// AuditRepository stores audit events in Postgres. It exists so deployments
// that need cross-process incident reconstruction can share one trail; the
// in-memory trail stays authoritative for the local process.
type AuditRepository struct {
	db *pgxpool.Pool
}

// NewAuditRepository wraps a pgx pool.
func NewAuditRepository(db *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{db: db}
}

// CreateAuditEvent appends one event to the shared store.
func (r *AuditRepository) CreateAuditEvent(ctx context.Context, event *domain.AuditEvent) error {
	query := `INSERT INTO audit_events (id, timestamp, event_type, identity, source_address, details, severity)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.db.Exec(ctx, query,
		event.ID, event.Timestamp, event.EventType,
		event.Identity, event.SourceAddress, event.Details, event.Severity)
	return err
}

// AuditHistory returns the newest events for an identity, newest first.
func (r *AuditRepository) AuditHistory(ctx context.Context, identity string, limit int) ([]*domain.AuditEvent, error) {
	query := `SELECT id, timestamp, event_type, identity, source_address, details, severity
		FROM audit_events WHERE identity = $1 ORDER BY timestamp DESC LIMIT $2`
	rows, err := r.db.Query(ctx, query, identity, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*domain.AuditEvent
	for rows.Next() {
		var e domain.AuditEvent
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.EventType,
			&e.Identity, &e.SourceAddress, &e.Details, &e.Severity); err != nil {
			return nil, err
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}
