package cases

import (
	"context"
	"time"
)

// Repository port for case persistence
type Repository interface {
	Save(ctx context.Context, c *Case) error
	Get(ctx context.Context, owner string, id CaseID) (*Case, error)
	Delete(ctx context.Context, owner string, id CaseID) error

	Paginate(ctx context.Context, owner string, page, pageSize int, filters map[string]interface{}) (PaginatedResult, error)
	Cursor(ctx context.Context, owner string, cursorTime time.Time, cursorID string, pageSize int) ([]*Case, error)
	Count(ctx context.Context, owner string, filters map[string]interface{}) (int64, error)
	CountByStatus(ctx context.Context, owner string, since time.Time) (map[Status]int, error)
}
