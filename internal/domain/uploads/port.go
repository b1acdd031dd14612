package uploads

import (
	"context"
	"io"
	"time"
)

// Repository port for upload persistence
type Repository interface {
	Save(ctx context.Context, u *Upload) error
	Get(ctx context.Context, owner string, id UploadID) (*Upload, error)
	ListByCase(ctx context.Context, owner, caseID string) ([]*Upload, error)

	// NextQueued returns the oldest queued upload, or nil when the queue
	// is empty. Used by the background poller.
	NextQueued(ctx context.Context) (*Upload, error)

	// MarkProcessing claims the upload for detection. Only a queued or
	// failed upload can be claimed; ErrNotQueued otherwise, so two
	// workers never process the same upload at once.
	MarkProcessing(ctx context.Context, id UploadID) error
	MarkComplete(ctx context.Context, id UploadID, processedAt time.Time) error
	MarkFailed(ctx context.Context, id UploadID, reason string, processedAt time.Time) error

	// RequeueStuck flips uploads back to queued when they have been in
	// processing longer than cutoff, measured from the moment the claim
	// was taken. Returns the number of rows touched.
	RequeueStuck(ctx context.Context, cutoff time.Time) (int64, error)
	CountByStatus(ctx context.Context, owner string, since time.Time) (map[Status]int, error)
	DeleteByCase(ctx context.Context, owner, caseID string) error
}

// ImageStore port for the object storage backend
type ImageStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error)
	PresignedURL(ctx context.Context, key string) (string, error)
	Remove(ctx context.Context, key string) error
	// PutArtifact stores a small blob (raw detector output) under key.
	PutArtifact(ctx context.Context, key string, data []byte, contentType string) (string, error)
}
