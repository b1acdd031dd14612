package mysql

import (
	"context"
	"database/sql"
	"errors"
	"time"

	domain "github.com/entomolab/casetrace/internal/domain/uploads"
)

type UploadRepository struct {
	db *sql.DB
}

func NewUploadRepository(db *sql.DB) *UploadRepository {
	return &UploadRepository{db: db}
}

const uploadColumns = `id, case_id, owner_id, object_key, image_url, content_type, size_bytes, status, fail_reason, queued_at, processed_at`

func (r *UploadRepository) Save(ctx context.Context, u *domain.Upload) error {
	const q = `
INSERT INTO uploads
(id, case_id, owner_id, object_key, image_url, content_type, size_bytes, status, fail_reason, queued_at, processed_at, status_changed_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
ON DUPLICATE KEY UPDATE
 status=VALUES(status), fail_reason=VALUES(fail_reason), processed_at=VALUES(processed_at), status_changed_at=VALUES(status_changed_at);
`
	status := stringOrDash(string(u.Status))
	queued := u.QueuedAt
	if queued.IsZero() {
		queued = time.Now()
	}
	_, err := r.db.ExecContext(ctx, q,
		u.ID, u.CaseID, u.OwnerID, u.ObjectKey, u.ImageURL, u.ContentType,
		u.SizeBytes, status, u.FailReason, queued, u.ProcessedAt, queued,
	)
	return err
}

func (r *UploadRepository) Get(ctx context.Context, owner string, id domain.UploadID) (*domain.Upload, error) {
	const q = `
SELECT ` + uploadColumns + `
FROM uploads
WHERE owner_id=? AND id=? LIMIT 1;
`
	u, err := scanUpload(r.db.QueryRowContext(ctx, q, owner, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return u, err
}

func (r *UploadRepository) ListByCase(ctx context.Context, owner, caseID string) ([]*domain.Upload, error) {
	const q = `
SELECT ` + uploadColumns + `
FROM uploads
WHERE owner_id=? AND case_id=?
ORDER BY queued_at DESC;
`
	rows, err := r.db.QueryContext(ctx, q, owner, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Upload
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// NextQueued returns the oldest queued upload, nil when none.
func (r *UploadRepository) NextQueued(ctx context.Context) (*domain.Upload, error) {
	const q = `
SELECT ` + uploadColumns + `
FROM uploads
WHERE status='queued'
ORDER BY queued_at ASC
LIMIT 1;
`
	u, err := scanUpload(r.db.QueryRowContext(ctx, q))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

// MarkProcessing claims the upload. The status guard makes the claim a
// compare-and-set, so concurrent detect requests cannot both win.
func (r *UploadRepository) MarkProcessing(ctx context.Context, id domain.UploadID) error {
	const q = `UPDATE uploads SET status='processing', status_changed_at=NOW(3) WHERE id=? AND status IN ('queued','failed');`
	res, err := r.db.ExecContext(ctx, q, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotQueued
	}
	return nil
}

func (r *UploadRepository) MarkComplete(ctx context.Context, id domain.UploadID, processedAt time.Time) error {
	const q = `UPDATE uploads SET status='complete', fail_reason='', processed_at=?, status_changed_at=NOW(3) WHERE id=?;`
	_, err := r.db.ExecContext(ctx, q, processedAt, id)
	return err
}

func (r *UploadRepository) MarkFailed(ctx context.Context, id domain.UploadID, reason string, processedAt time.Time) error {
	const q = `UPDATE uploads SET status='failed', fail_reason=?, processed_at=?, status_changed_at=NOW(3) WHERE id=?;`
	_, err := r.db.ExecContext(ctx, q, reason, processedAt, id)
	return err
}

// RequeueStuck flips processing rows back to queued when the claim is
// older than the cutoff. Queue wait time does not count against the job.
func (r *UploadRepository) RequeueStuck(ctx context.Context, cutoff time.Time) (int64, error) {
	const q = `
UPDATE uploads
SET status='queued', status_changed_at=NOW(3)
WHERE status='processing' AND status_changed_at < ?;
`
	res, err := r.db.ExecContext(ctx, q, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *UploadRepository) CountByStatus(ctx context.Context, owner string, since time.Time) (map[domain.Status]int, error) {
	const q = `
SELECT status, COUNT(*)
FROM uploads
WHERE owner_id=? AND queued_at >= ?
GROUP BY status;
`
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

func (r *UploadRepository) DeleteByCase(ctx context.Context, owner, caseID string) error {
	const q = `DELETE FROM uploads WHERE owner_id=? AND case_id=?;`
	_, err := r.db.ExecContext(ctx, q, owner, caseID)
	return err
}

func scanUpload(row rowScanner) (*domain.Upload, error) {
	var u domain.Upload
	var processed sql.NullTime
	if err := row.Scan(
		&u.ID, &u.CaseID, &u.OwnerID, &u.ObjectKey, &u.ImageURL, &u.ContentType,
		&u.SizeBytes, &u.Status, &u.FailReason, &u.QueuedAt, &processed,
	); err != nil {
		return nil, err
	}
	if processed.Valid {
		t := processed.Time
		u.ProcessedAt = &t
	}
	return &u, nil
}
