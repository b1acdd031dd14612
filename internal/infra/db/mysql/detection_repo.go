package mysql

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	domain "github.com/entomolab/casetrace/internal/domain/detections"
)

type DetectionRepository struct {
	db *sql.DB
}

func NewDetectionRepository(db *sql.DB) *DetectionRepository {
	return &DetectionRepository{db: db}
}

const detectionColumns = `d.id, d.upload_id, d.case_id, d.stage, d.species_hint, d.confidence,
       d.box_x, d.box_y, d.box_w, d.box_h,
       d.verification, d.corrected_stage, d.verified_by, d.created_at, d.verified_at`

// SaveBatch inserts all detections of one processed upload in a single
// multi-row statement.
func (r *DetectionRepository) SaveBatch(ctx context.Context, ds []*domain.Detection) error {
	if len(ds) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString(`
INSERT INTO detections
(id, upload_id, case_id, stage, species_hint, confidence,
 box_x, box_y, box_w, box_h,
 verification, corrected_stage, verified_by, created_at)
VALUES `)
	args := make([]interface{}, 0, len(ds)*14)
	for i, d := range ds {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("(?,?,?,?,?,?,?,?,?,?,?,?,?,?)")
		verification := d.Verification
		if verification == "" {
			verification = domain.VerificationPending
		}
		created := d.CreatedAt
		if created.IsZero() {
			created = time.Now()
		}
		args = append(args,
			d.ID, d.UploadID, d.CaseID, d.Stage, d.SpeciesHint, d.Confidence,
			d.Box.X, d.Box.Y, d.Box.W, d.Box.H,
			verification, d.CorrectedStage, d.VerifiedBy, created,
		)
	}
	sb.WriteString(";")
	_, err := r.db.ExecContext(ctx, sb.String(), args...)
	return err
}

// ownership is enforced by joining through cases; detections do not
// carry their own owner column.
func (r *DetectionRepository) Get(ctx context.Context, owner string, id domain.DetectionID) (*domain.Detection, error) {
	const q = `
SELECT ` + detectionColumns + `
FROM detections d
JOIN cases c ON c.id = d.case_id
WHERE c.owner_id=? AND d.id=? LIMIT 1;
`
	d, err := scanDetection(r.db.QueryRowContext(ctx, q, owner, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return d, err
}

func (r *DetectionRepository) ListByUpload(ctx context.Context, owner, uploadID string) ([]*domain.Detection, error) {
	const q = `
SELECT ` + detectionColumns + `
FROM detections d
JOIN cases c ON c.id = d.case_id
WHERE c.owner_id=? AND d.upload_id=?
ORDER BY d.confidence DESC;
`
	return r.queryList(ctx, q, owner, uploadID)
}

func (r *DetectionRepository) ListByCase(ctx context.Context, owner, caseID string) ([]*domain.Detection, error) {
	const q = `
SELECT ` + detectionColumns + `
FROM detections d
JOIN cases c ON c.id = d.case_id
WHERE c.owner_id=? AND d.case_id=?
ORDER BY d.created_at DESC, d.id DESC;
`
	return r.queryList(ctx, q, owner, caseID)
}

func (r *DetectionRepository) queryList(ctx context.Context, q string, args ...interface{}) ([]*domain.Detection, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Detection
	for rows.Next() {
		d, err := scanDetection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *DetectionRepository) UpdateVerification(ctx context.Context, owner string, id domain.DetectionID, v domain.Verification, corrected domain.LifeStage, verifiedBy string, at time.Time) error {
	const q = `
UPDATE detections d
JOIN cases c ON c.id = d.case_id
SET d.verification=?, d.corrected_stage=?, d.verified_by=?, d.verified_at=?
WHERE c.owner_id=? AND d.id=?;
`
	res, err := r.db.ExecContext(ctx, q, v, corrected, verifiedBy, at, owner, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// StageSummary tallies effective stages; corrected stages replace
// detected ones and rejected rows are excluded. An empty caseID spans
// all the owner's cases.
func (r *DetectionRepository) StageSummary(ctx context.Context, owner, caseID string) (domain.StageCounts, error) {
	query := `
SELECT
  COALESCE(SUM(CASE WHEN eff='egg' THEN 1 ELSE 0 END),0),
  COALESCE(SUM(CASE WHEN eff='instar1' THEN 1 ELSE 0 END),0),
  COALESCE(SUM(CASE WHEN eff='instar2' THEN 1 ELSE 0 END),0),
  COALESCE(SUM(CASE WHEN eff='instar3' THEN 1 ELSE 0 END),0),
  COALESCE(SUM(CASE WHEN eff='pupa' THEN 1 ELSE 0 END),0),
  COALESCE(SUM(CASE WHEN eff='adult' THEN 1 ELSE 0 END),0),
  COUNT(*)
FROM (
  SELECT CASE WHEN d.verification='corrected' AND d.corrected_stage<>'' THEN d.corrected_stage ELSE d.stage END AS eff
  FROM detections d
  JOIN cases c ON c.id = d.case_id
  WHERE c.owner_id=? AND d.verification <> 'rejected'`
	args := []interface{}{owner}
	if caseID != "" {
		query += " AND d.case_id=?"
		args = append(args, caseID)
	}
	query += `
) t;`
	var counts domain.StageCounts
	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&counts.Egg, &counts.Instar1, &counts.Instar2, &counts.Instar3,
		&counts.Pupa, &counts.Adult, &counts.Total,
	)
	return counts, err
}

// ConfidenceBuckets splits detections since the cutoff into
// low (<0.5) / medium (0.5..0.8) / high (>0.8).
func (r *DetectionRepository) ConfidenceBuckets(ctx context.Context, owner string, since time.Time) (domain.ConfidenceBuckets, error) {
	const q = `
SELECT
  COALESCE(SUM(CASE WHEN d.confidence < 0.5 THEN 1 ELSE 0 END),0),
  COALESCE(SUM(CASE WHEN d.confidence >= 0.5 AND d.confidence <= 0.8 THEN 1 ELSE 0 END),0),
  COALESCE(SUM(CASE WHEN d.confidence > 0.8 THEN 1 ELSE 0 END),0)
FROM detections d
JOIN cases c ON c.id = d.case_id
WHERE c.owner_id=? AND d.created_at >= ?;
`
	var b domain.ConfidenceBuckets
	err := r.db.QueryRowContext(ctx, q, owner, since).Scan(&b.Low, &b.Medium, &b.High)
	return b, err
}

func (r *DetectionRepository) CountByVerification(ctx context.Context, owner string, since time.Time) (map[domain.Verification]int, error) {
	const q = `
SELECT d.verification, COUNT(*)
FROM detections d
JOIN cases c ON c.id = d.case_id
WHERE c.owner_id=? AND d.created_at >= ?
GROUP BY d.verification;
`
	rows, err := r.db.QueryContext(ctx, q, owner, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[domain.Verification]int)
	for rows.Next() {
		var v string
		var n int
		if err := rows.Scan(&v, &n); err != nil {
			return nil, err
		}
		out[domain.Verification(v)] = n
	}
	return out, rows.Err()
}

func (r *DetectionRepository) DeleteByCase(ctx context.Context, owner, caseID string) error {
	const q = `
DELETE d FROM detections d
JOIN cases c ON c.id = d.case_id
WHERE c.owner_id=? AND d.case_id=?;
`
	_, err := r.db.ExecContext(ctx, q, owner, caseID)
	return err
}

func (r *DetectionRepository) DeleteByUpload(ctx context.Context, uploadID string) error {
	const q = `DELETE FROM detections WHERE upload_id=?;`
	_, err := r.db.ExecContext(ctx, q, uploadID)
	return err
}

func scanDetection(row rowScanner) (*domain.Detection, error) {
	var d domain.Detection
	var verifiedAt sql.NullTime
	if err := row.Scan(
		&d.ID, &d.UploadID, &d.CaseID, &d.Stage, &d.SpeciesHint, &d.Confidence,
		&d.Box.X, &d.Box.Y, &d.Box.W, &d.Box.H,
		&d.Verification, &d.CorrectedStage, &d.VerifiedBy, &d.CreatedAt, &verifiedAt,
	); err != nil {
		return nil, err
	}
	if verifiedAt.Valid {
		t := verifiedAt.Time
		d.VerifiedAt = &t
	}
	return &d, nil
}
