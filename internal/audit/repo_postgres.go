package audit

import (
	"context"
	"database/sql"
	"errors"

	"commhub/pkg/utils"
)

// PostgresRepo stores events in the audit_events table.
// The table is INSERT-only; nothing in this package updates or deletes rows.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const auditSchema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id          UUID PRIMARY KEY,
	owner_id    TEXT NOT NULL,
	event_type  TEXT NOT NULL,
	service     TEXT NOT NULL,
	status      TEXT NOT NULL,
	message     TEXT NOT NULL DEFAULT '',
	metadata    JSONB,
	created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS audit_events_owner_created_idx ON audit_events (owner_id, created_at);
`

// Migrate creates the audit table if it is missing.
func (r *PostgresRepo) Migrate(ctx context.Context) error {
	if r.db == nil {
		return errors.New("audit: db is nil")
	}
	return utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, auditSchema)
		return err
	})
}

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO audit_events (id, owner_id, event_type, service, status, message, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`
	var metadata any
	if e.Metadata != "" {
		metadata = e.Metadata
	}
	_, err := r.db.ExecContext(ctx, q,
		e.ID,
		e.OwnerID,
		string(e.Type),
		e.Service,
		string(e.Status),
		e.Message,
		metadata,
		e.CreatedAt,
	)
	return err
}

// Recent returns the newest events for ownerID, newest first.
func (r *PostgresRepo) Recent(ctx context.Context, ownerID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
SELECT id, owner_id, event_type, service, status, message, COALESCE(metadata::text, ''), created_at
FROM audit_events
WHERE owner_id = $1
ORDER BY created_at DESC
LIMIT $2
`
	rows, err := r.db.QueryContext(ctx, q, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var typ, status string
		if err := rows.Scan(&e.ID, &e.OwnerID, &typ, &e.Service, &status, &e.Message, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Type = EventType(typ)
		e.Status = Status(status)
		out = append(out, e)
	}
	return out, rows.Err()
}
