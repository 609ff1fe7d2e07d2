package postgres

import (
	"context"
	"database/sql"
	"time"

	domain "github.com/ryotask/ecpatrol/internal/domain/warnings"
)

type WarningRepository struct{ db *sql.DB }

func NewWarningRepository(db *sql.DB) *WarningRepository { return &WarningRepository{db: db} }

func (r *WarningRepository) Save(ctx context.Context, w *domain.PatrolWarning) error {
	const q = `
INSERT INTO patrol_warnings
  (tenant_id, session_id, source, phase, message, created_at)
VALUES ($1,$2,$3,$4,$5,$6);`
	created := w.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := r.db.ExecContext(ctx, q,
		stringOrDash(w.TenantID), stringOrDash(w.SessionID),
		stringOrDash(w.Source), stringOrDash(w.Phase), stringOrDash(w.Message),
		created,
	)
	return err
}

func (r *WarningRepository) ListBySession(ctx context.Context, tenant string, sessionID string, limit int) ([]*domain.PatrolWarning, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
SELECT id, tenant_id, session_id, source, phase, message, created_at
FROM patrol_warnings
WHERE tenant_id=$1 AND session_id=$2
ORDER BY created_at DESC, id DESC
LIMIT $3;`
	rows, err := r.db.QueryContext(ctx, q, tenant, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.PatrolWarning
	for rows.Next() {
		var w domain.PatrolWarning
		if err := rows.Scan(&w.ID, &w.TenantID, &w.SessionID, &w.Source, &w.Phase, &w.Message, &w.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &w)
	}
	return out, rows.Err()
}
