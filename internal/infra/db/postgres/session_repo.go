package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	domain "github.com/ryotask/ecpatrol/internal/domain/patrol"
)

type SessionRepository struct{ db *sql.DB }

func NewSessionRepository(db *sql.DB) *SessionRepository { return &SessionRepository{db: db} }

// Save insert/update session record
func (r *SessionRepository) Save(ctx context.Context, s *domain.Session) error {
	const q = `
INSERT INTO patrol_sessions
(id, tenant_id, kind, target, shop_name, status, cursor,
 high, medium, critical, results_total,
 results_json, report_url, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,
        $8,$9,$10,$11,
        $12,$13,$14,$15)
ON CONFLICT (id) DO UPDATE SET
 status = EXCLUDED.status,
 cursor = EXCLUDED.cursor,
 shop_name = EXCLUDED.shop_name,
 high = EXCLUDED.high,
 medium = EXCLUDED.medium,
 critical = EXCLUDED.critical,
 results_total = EXCLUDED.results_total,
 results_json = EXCLUDED.results_json,
 report_url = EXCLUDED.report_url,
 updated_at = EXCLUDED.updated_at;`

	tenant := stringOrDash(s.TenantID)
	kind := stringOrDash(string(s.Kind))
	status := stringOrDash(string(s.Status))
	created := s.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	updated := s.UpdatedAt
	if updated.IsZero() {
		updated = created
	}
	results := "[]"
	if len(s.Results) > 0 {
		b, err := json.Marshal(s.Results)
		if err != nil {
			return err
		}
		results = string(b)
	}

	_, err := r.db.ExecContext(ctx, q,
		s.ID, tenant, kind, s.Target, s.ShopName, status, s.Cursor,
		s.Summary.High, s.Summary.Medium, s.Summary.Critical, s.Summary.Total,
		results, s.ReportURL, created, updated,
	)
	return err
}

// Get by ID + Tenant
func (r *SessionRepository) Get(ctx context.Context, tenant string, id domain.SessionID) (*domain.Session, error) {
	const q = `
SELECT id, tenant_id, kind, target, shop_name, status, cursor,
       high, medium, critical, results_total,
       results_json, report_url, created_at, updated_at
FROM patrol_sessions
WHERE tenant_id=$1 AND id=$2
LIMIT 1;`
	row := r.db.QueryRowContext(ctx, q, tenant, id)
	var s domain.Session
	var hi, med, crit, tot int
	var results string
	if err := row.Scan(
		&s.ID, &s.TenantID, &s.Kind, &s.Target, &s.ShopName, &s.Status, &s.Cursor,
		&hi, &med, &crit, &tot,
		&results, &s.ReportURL, &s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	s.Summary = domain.Summary{Total: tot, High: hi, Medium: med, Critical: crit}
	if err := json.Unmarshal([]byte(results), &s.Results); err != nil {
		return nil, fmt.Errorf("decode results for %s: %w", s.ID, err)
	}
	return &s, nil
}

// Latest sessions per tenant, without results payload
func (r *SessionRepository) Latest(ctx context.Context, tenant string, limit int) ([]*domain.Session, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
SELECT id, tenant_id, kind, target, shop_name, status, cursor,
       high, medium, critical, results_total,
       report_url, created_at, updated_at
FROM patrol_sessions
WHERE tenant_id=$1 ORDER BY created_at DESC
LIMIT $2;`
	rows, err := r.db.QueryContext(ctx, q, tenant, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Session
	for rows.Next() {
		s, err := scanListRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Summary counts checked items since N days
func (r *SessionRepository) Summary(ctx context.Context, tenant string, sinceDays int) (int, int, int, int, error) {
	if sinceDays <= 0 {
		sinceDays = 7
	}
	cut := time.Now().AddDate(0, 0, -sinceDays)
	const q = `
SELECT COALESCE(SUM(results_total),0) AS total_items,
       COALESCE(SUM(high),0)     AS high,
       COALESCE(SUM(medium),0)   AS medium,
       COALESCE(SUM(critical),0) AS critical
FROM patrol_sessions
WHERE tenant_id=$1 AND created_at >= $2;`
	var t, h, m, c int
	if err := r.db.QueryRowContext(ctx, q, tenant, cut).Scan(&t, &h, &m, &c); err != nil {
		return 0, 0, 0, 0, err
	}
	return t, h, m, c, nil
}

// Paginate with offset + limit (classic pagination)
func (r *SessionRepository) Paginate(ctx context.Context, tenant string, page, pageSize int, filters map[string]interface{}) (domain.PaginatedResult, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	query := `
SELECT id, tenant_id, kind, target, shop_name, status, cursor,
       high, medium, critical, results_total,
       report_url, created_at, updated_at
FROM patrol_sessions
WHERE tenant_id=$1`
	args := []interface{}{tenant}
	query, args, next := applyFilters(query, args, 2, filters)

	query += fmt.Sprintf("\nORDER BY created_at DESC LIMIT $%d OFFSET $%d", next, next+1)
	args = append(args, pageSize, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return domain.PaginatedResult{}, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.Session
	for rows.Next() {
		s, err := scanListRow(rows)
		if err != nil {
			return domain.PaginatedResult{}, err
		}
		sessions = append(sessions, s)
	}
	if err = rows.Err(); err != nil {
		return domain.PaginatedResult{}, fmt.Errorf("iterating rows: %w", err)
	}

	total, err := r.Count(ctx, tenant, filters)
	if err != nil {
		return domain.PaginatedResult{}, fmt.Errorf("getting total count: %w", err)
	}

	return domain.PaginatedResult{
		Data:       sessions,
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: int(math.Ceil(float64(total) / float64(pageSize))),
	}, nil
}

// Count returns the total number of records matching the given filters
func (r *SessionRepository) Count(ctx context.Context, tenant string, filters map[string]interface{}) (int64, error) {
	query := "SELECT COUNT(*) FROM patrol_sessions WHERE tenant_id = $1"
	args := []interface{}{tenant}
	query, args, _ = applyFilters(query, args, 2, filters)

	var count int64
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func applyFilters(query string, args []interface{}, next int, filters map[string]interface{}) (string, []interface{}, int) {
	for key, value := range filters {
		switch key {
		case "kind":
			query += fmt.Sprintf(" AND kind = $%d", next)
			args = append(args, value)
			next++
		case "status":
			query += fmt.Sprintf(" AND status = $%d", next)
			args = append(args, value)
			next++
		case "target":
			// match as substring or as a path/host segment
			term, _ := value.(string)
			regex := fmt.Sprintf("(^|\\.|/)%s($|\\.|/)", regexp.QuoteMeta(term))
			query += fmt.Sprintf(" AND (target LIKE $%d OR target ~ $%d)", next, next+1)
			args = append(args, "%"+escapeLikePattern(term)+"%", regex)
			next += 2
		}
	}
	return query, args, next
}

func scanListRow(rows *sql.Rows) (*domain.Session, error) {
	var s domain.Session
	var hi, med, crit, tot int
	if err := rows.Scan(
		&s.ID, &s.TenantID, &s.Kind, &s.Target, &s.ShopName, &s.Status, &s.Cursor,
		&hi, &med, &crit, &tot,
		&s.ReportURL, &s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("scanning row: %w", err)
	}
	s.Summary = domain.Summary{Total: tot, High: hi, Medium: med, Critical: crit}
	return &s, nil
}

func stringOrDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func escapeLikePattern(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "%", "\\%")
	s = strings.ReplaceAll(s, "_", "\\_")
	return s
}
