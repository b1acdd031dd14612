package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	domain "github.com/entomolab/casetrace/internal/domain/analysis"
)

type AnalysisRepository struct{ db *sql.DB }

func NewAnalysisRepository(db *sql.DB) *AnalysisRepository {
	return &AnalysisRepository{db: db}
}

const analysisColumns = `a.id, a.case_id, a.pmi_hours_min, a.pmi_hours_max, a.oldest_stage, a.mean_confidence, a.method, a.suspect, a.computed_at`

func (r *AnalysisRepository) Save(ctx context.Context, e *domain.Estimate) error {
	const q = `
INSERT INTO analyses
(id, case_id, pmi_hours_min, pmi_hours_max, oldest_stage, mean_confidence, method, suspect, computed_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9);`
	computed := e.ComputedAt
	if computed.IsZero() {
		computed = time.Now()
	}
	_, err := r.db.ExecContext(ctx, q,
		e.ID, e.CaseID, e.PMIHoursMin, e.PMIHoursMax, e.OldestStage,
		e.MeanConfidence, stringOrDash(e.Method), e.Suspect, computed,
	)
	return err
}

func (r *AnalysisRepository) LatestByCase(ctx context.Context, owner, caseID string) (*domain.Estimate, error) {
	const q = `
SELECT ` + analysisColumns + `
FROM analyses a
JOIN cases c ON c.id = a.case_id
WHERE c.owner_id=$1 AND a.case_id=$2
ORDER BY a.computed_at DESC, a.id DESC
LIMIT 1;`
	e, err := scanEstimate(r.db.QueryRowContext(ctx, q, owner, caseID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return e, err
}

func (r *AnalysisRepository) History(ctx context.Context, owner, caseID string, limit int) ([]*domain.Estimate, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
SELECT ` + analysisColumns + `
FROM analyses a
JOIN cases c ON c.id = a.case_id
WHERE c.owner_id=$1 AND a.case_id=$2
ORDER BY a.computed_at DESC, a.id DESC
LIMIT $3;`
	rows, err := r.db.QueryContext(ctx, q, owner, caseID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Estimate
	for rows.Next() {
		e, err := scanEstimate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *AnalysisRepository) AveragePMI(ctx context.Context, owner string, since time.Time) (float64, int, error) {
	const q = `
SELECT COALESCE(AVG((a.pmi_hours_min + a.pmi_hours_max) / 2), 0), COUNT(*)
FROM analyses a
JOIN cases c ON c.id = a.case_id
WHERE c.owner_id=$1 AND a.computed_at >= $2
  AND a.computed_at = (
    SELECT MAX(a2.computed_at) FROM analyses a2 WHERE a2.case_id = a.case_id
  );`
	var avg float64
	var n int
	if err := r.db.QueryRowContext(ctx, q, owner, since).Scan(&avg, &n); err != nil {
		return 0, 0, err
	}
	return avg, n, nil
}

func (r *AnalysisRepository) DeleteByCase(ctx context.Context, owner, caseID string) error {
	const q = `
DELETE FROM analyses a
USING cases c
WHERE c.id = a.case_id AND c.owner_id=$1 AND a.case_id=$2;`
	_, err := r.db.ExecContext(ctx, q, owner, caseID)
	return err
}

func scanEstimate(row rowScanner) (*domain.Estimate, error) {
	var e domain.Estimate
	if err := row.Scan(
		&e.ID, &e.CaseID, &e.PMIHoursMin, &e.PMIHoursMax, &e.OldestStage,
		&e.MeanConfidence, &e.Method, &e.Suspect, &e.ComputedAt,
	); err != nil {
		return nil, err
	}
	return &e, nil
}
