package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tillpoint/pos-gateway/internal/domain"
)

// SessionAuditRepository stores session lifecycle events.
type SessionAuditRepository interface {
	Insert(ctx context.Context, entry domain.AuditEntry) error
	ListRecent(ctx context.Context, limit int) ([]domain.AuditEntry, error)
}

type sessionAuditRepository struct {
	pool *pgxpool.Pool
}

// NewSessionAuditRepository builds repository.
func NewSessionAuditRepository(pool *pgxpool.Pool) SessionAuditRepository {
	return &sessionAuditRepository{pool: pool}
}

func (r *sessionAuditRepository) Insert(ctx context.Context, entry domain.AuditEntry) error {
	const query = `
        INSERT INTO session_audit (id, event_type, subject, role, detail, occurred_at)
        VALUES ($1,$2,$3,$4,$5,$6)
        ON CONFLICT (id) DO NOTHING`
	detail := entry.Detail
	if detail == nil {
		detail = map[string]any{}
	}
	_, err := r.pool.Exec(ctx, query,
		entry.ID,
		entry.EventType,
		entry.Subject,
		string(entry.Role),
		detail,
		entry.OccurredAt,
	)
	return err
}

func (r *sessionAuditRepository) ListRecent(ctx context.Context, limit int) ([]domain.AuditEntry, error) {
	const query = `
        SELECT id::text, event_type, subject, role, detail, occurred_at
        FROM session_audit ORDER BY occurred_at DESC LIMIT $1`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []domain.AuditEntry{}
	for rows.Next() {
		var (
			entry domain.AuditEntry
			role  string
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.EventType,
			&entry.Subject,
			&role,
			&entry.Detail,
			&entry.OccurredAt,
		); err != nil {
			return nil, err
		}
		entry.Role = domain.Role(role)
		result = append(result, entry)
	}
	return result, rows.Err()
}
