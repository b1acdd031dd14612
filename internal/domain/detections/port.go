package detections

import (
	"context"
	"time"
)

// Repository port for detection persistence
type Repository interface {
	SaveBatch(ctx context.Context, ds []*Detection) error
	Get(ctx context.Context, owner string, id DetectionID) (*Detection, error)
	ListByUpload(ctx context.Context, owner, uploadID string) ([]*Detection, error)
	ListByCase(ctx context.Context, owner, caseID string) ([]*Detection, error)

	UpdateVerification(ctx context.Context, owner string, id DetectionID, v Verification, corrected LifeStage, verifiedBy string, at time.Time) error

	// StageSummary tallies effective stages, excluding rejected rows. An
	// empty caseID aggregates across all the owner's cases.
	StageSummary(ctx context.Context, owner, caseID string) (StageCounts, error)
	ConfidenceBuckets(ctx context.Context, owner string, since time.Time) (ConfidenceBuckets, error)
	CountByVerification(ctx context.Context, owner string, since time.Time) (map[Verification]int, error)
	DeleteByCase(ctx context.Context, owner, caseID string) error
	// DeleteByUpload clears an upload's detections before a fresh batch
	// is written, so a retried job cannot double-count.
	DeleteByUpload(ctx context.Context, uploadID string) error
}

// Detector port: runs the vision model over an image and returns its raw
// JSON output. Parsing is the domain's job, not the adapter's.
type Detector interface {
	Detect(ctx context.Context, imageURL string) (string, error)
}
