package postgres

import (
	"context"
	"database/sql"
	"time"

	domain "github.com/entomolab/casetrace/internal/domain/detecterrors"
)

type DetectErrorRepository struct{ db *sql.DB }

func NewDetectErrorRepository(db *sql.DB) *DetectErrorRepository {
	return &DetectErrorRepository{db: db}
}

func (r *DetectErrorRepository) Save(ctx context.Context, e *domain.DetectError) error {
	const q = `
INSERT INTO detect_errors (upload_id, phase, message, created_at)
VALUES ($1,$2,$3,$4);`
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := r.db.ExecContext(ctx, q, e.UploadID, e.Phase, e.Message, created)
	return err
}

func (r *DetectErrorRepository) ListByUpload(ctx context.Context, uploadID string, limit int) ([]*domain.DetectError, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
SELECT id, upload_id, phase, message, created_at
FROM detect_errors
WHERE upload_id=$1
ORDER BY created_at DESC
LIMIT $2;`
	rows, err := r.db.QueryContext(ctx, q, uploadID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.DetectError
	for rows.Next() {
		var e domain.DetectError
		if err := rows.Scan(&e.ID, &e.UploadID, &e.Phase, &e.Message, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (r *DetectErrorRepository) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	const q = `DELETE FROM detect_errors WHERE created_at < $1;`
	res, err := r.db.ExecContext(ctx, q, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
