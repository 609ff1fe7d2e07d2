package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	domain "github.com/ryotask/ecpatrol/internal/domain/patrol"
)

type SessionRepository struct {
	db *sql.DB
}

func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Save insert/update satu baris sesi. Dipanggil per halaman/batch oleh
// controller, jadi upsert penuh termasuk results_json.
func (r *SessionRepository) Save(ctx context.Context, s *domain.Session) error {
	const q = `
INSERT INTO patrol_sessions
(id, tenant_id, kind, target, shop_name, status, cursor,
 high, medium, critical, results_total,
 results_json, report_url, created_at, updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON DUPLICATE KEY UPDATE
 status=VALUES(status), cursor=VALUES(cursor), shop_name=VALUES(shop_name),
 high=VALUES(high), medium=VALUES(medium), critical=VALUES(critical),
 results_total=VALUES(results_total),
 results_json=VALUES(results_json), report_url=VALUES(report_url),
 updated_at=VALUES(updated_at);
`
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
	results, err := resultsJSON(s.Results)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, q,
		s.ID, tenant, kind, s.Target, s.ShopName, status, s.Cursor,
		s.Summary.High, s.Summary.Medium, s.Summary.Critical, s.Summary.Total,
		results, s.ReportURL, created, updated,
	)
	return err
}

// Get by ID + Tenant, termasuk seluruh results
func (r *SessionRepository) Get(ctx context.Context, tenant string, id domain.SessionID) (*domain.Session, error) {
	const q = `
SELECT id, tenant_id, kind, target, shop_name, status, cursor,
       high, medium, critical, results_total,
       results_json, report_url, created_at, updated_at
FROM patrol_sessions
WHERE tenant_id=? AND id=? LIMIT 1;
`
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

// Latest sessions per tenant. Results sengaja tidak di-load; list view cuma
// butuh summary.
func (r *SessionRepository) Latest(ctx context.Context, tenant string, limit int) ([]*domain.Session, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
SELECT id, tenant_id, kind, target, shop_name, status, cursor,
       high, medium, critical, results_total,
       report_url, created_at, updated_at
FROM patrol_sessions
WHERE tenant_id=? ORDER BY created_at DESC LIMIT ?;
`
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

// Summary totals item yang diperiksa sejak N hari terakhir
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
WHERE tenant_id=? AND created_at >= ?;
`
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
WHERE tenant_id=?`
	args := []interface{}{tenant}
	query, args = applyFilters(query, args, filters)

	query += "\nORDER BY created_at DESC LIMIT ? OFFSET ?"
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
	query := "SELECT COUNT(*) FROM patrol_sessions WHERE tenant_id = ?"
	args := []interface{}{tenant}
	query, args = applyFilters(query, args, filters)

	var count int64
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func applyFilters(query string, args []interface{}, filters map[string]interface{}) (string, []interface{}) {
	for key, value := range filters {
		switch key {
		case "kind":
			query += " AND kind = ?"
			args = append(args, value)
		case "status":
			query += " AND status = ?"
			args = append(args, value)
		case "target":
			term, _ := value.(string)
			query += " AND target LIKE ?"
			args = append(args, "%"+escapeLikePattern(term)+"%")
		}
	}
	return query, args
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
