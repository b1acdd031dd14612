package detecterrors

import (
	"context"
	"time"
)

// Repository defines persistence for detection failures
type Repository interface {
	Save(ctx context.Context, e *DetectError) error
	ListByUpload(ctx context.Context, uploadID string, limit int) ([]*DetectError, error)
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
