package analysis

import (
	"context"
	"time"
)

// Repository port for estimate persistence
type Repository interface {
	Save(ctx context.Context, e *Estimate) error
	LatestByCase(ctx context.Context, owner, caseID string) (*Estimate, error)
	History(ctx context.Context, owner, caseID string, limit int) ([]*Estimate, error)

	// AveragePMI returns the mean of the midpoints of each case's latest
	// estimate for the owner, over estimates computed since the cutoff.
	AveragePMI(ctx context.Context, owner string, since time.Time) (float64, int, error)
	DeleteByCase(ctx context.Context, owner, caseID string) error
}
