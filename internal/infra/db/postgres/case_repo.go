package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	domain "github.com/entomolab/casetrace/internal/domain/cases"
)

// CaseRepository is the lib/pq variant of the mysql repository;
// deployments pick a driver via config.
type CaseRepository struct{ db *sql.DB }

func NewCaseRepository(db *sql.DB) *CaseRepository { return &CaseRepository{db: db} }

const caseColumns = `id, owner_id, title, scene_location, scene_temp_c, discovered_at, status, notes, created_at, updated_at`

func (r *CaseRepository) Save(ctx context.Context, c *domain.Case) error {
	const q = `
INSERT INTO cases
(id, owner_id, title, scene_location, scene_temp_c, discovered_at, status, notes, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (id) DO UPDATE SET
 title = EXCLUDED.title,
 scene_location = EXCLUDED.scene_location,
 scene_temp_c = EXCLUDED.scene_temp_c,
 discovered_at = EXCLUDED.discovered_at,
 status = EXCLUDED.status,
 notes = EXCLUDED.notes,
 updated_at = EXCLUDED.updated_at;`

	owner := stringOrDash(c.OwnerID)
	status := stringOrDash(string(c.Status))
	created := c.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	updated := c.UpdatedAt
	if updated.IsZero() {
		updated = created
	}

	_, err := r.db.ExecContext(ctx, q,
		c.ID, owner, c.Title, c.SceneLocation, c.SceneTempC, c.DiscoveredAt,
		status, c.Notes, created, updated,
	)
	return err
}

func (r *CaseRepository) Get(ctx context.Context, owner string, id domain.CaseID) (*domain.Case, error) {
	const q = `
SELECT ` + caseColumns + `
FROM cases
WHERE owner_id=$1 AND id=$2 LIMIT 1;`
	c, err := scanCase(r.db.QueryRowContext(ctx, q, owner, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return c, err
}

func (r *CaseRepository) Delete(ctx context.Context, owner string, id domain.CaseID) error {
	const q = `DELETE FROM cases WHERE owner_id=$1 AND id=$2;`
	res, err := r.db.ExecContext(ctx, q, owner, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *CaseRepository) Cursor(ctx context.Context, owner string, cursorTime time.Time, cursorID string, pageSize int) ([]*domain.Case, error) {
	if pageSize <= 0 {
		pageSize = 20
	}
	const q = `
SELECT ` + caseColumns + `
FROM cases
WHERE owner_id=$1
  AND (created_at < $2 OR (created_at = $2 AND id < $3))
ORDER BY created_at DESC, id DESC
LIMIT $4;`
	rows, err := r.db.QueryContext(ctx, q, owner, cursorTime, cursorID, pageSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *CaseRepository) Paginate(ctx context.Context, owner string, page, pageSize int, filters map[string]interface{}) (domain.PaginatedResult, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	query := `
SELECT ` + caseColumns + `
FROM cases
WHERE owner_id=$1`
	args := []interface{}{owner}
	query, args = applyCaseFilters(query, args, filters)

	query += fmt.Sprintf("\nORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, pageSize, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return domain.PaginatedResult{}, fmt.Errorf("querying cases: %w", err)
	}
	defer rows.Close()

	var out []*domain.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return domain.PaginatedResult{}, fmt.Errorf("scanning row: %w", err)
		}
		out = append(out, c)
	}
	if err = rows.Err(); err != nil {
		return domain.PaginatedResult{}, fmt.Errorf("iterating rows: %w", err)
	}

	total, err := r.Count(ctx, owner, filters)
	if err != nil {
		return domain.PaginatedResult{}, fmt.Errorf("getting total count: %w", err)
	}

	return domain.PaginatedResult{
		Data:       out,
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: int(math.Ceil(float64(total) / float64(pageSize))),
	}, nil
}

func (r *CaseRepository) Count(ctx context.Context, owner string, filters map[string]interface{}) (int64, error) {
	query := `SELECT COUNT(*) FROM cases WHERE owner_id=$1`
	args := []interface{}{owner}
	query, args = applyCaseFilters(query, args, filters)

	var count int64
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func applyCaseFilters(query string, args []interface{}, filters map[string]interface{}) (string, []interface{}) {
	if filters == nil {
		return query, args
	}
	for key, value := range filters {
		switch key {
		case "status":
			query += fmt.Sprintf(" AND status = $%d", len(args)+1)
			args = append(args, value)
		case "title":
			query += fmt.Sprintf(" AND title ILIKE $%d", len(args)+1)
			args = append(args, "%"+escapeLikePattern(value.(string))+"%")
		}
	}
	return query, args
}

func (r *CaseRepository) CountByStatus(ctx context.Context, owner string, since time.Time) (map[domain.Status]int, error) {
	const q = `
SELECT status, COUNT(*)
FROM cases
WHERE owner_id=$1 AND created_at >= $2
GROUP BY status;`
	rows, err := r.db.QueryContext(ctx, q, owner, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[domain.Status]int)
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		out[domain.Status(st)] = n
	}
	return out, rows.Err()
}

func scanCase(row rowScanner) (*domain.Case, error) {
	var c domain.Case
	var notes sql.NullString
	if err := row.Scan(
		&c.ID, &c.OwnerID, &c.Title, &c.SceneLocation, &c.SceneTempC,
		&c.DiscoveredAt, &c.Status, &notes, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	c.Notes = notes.String
	return &c, nil
}
