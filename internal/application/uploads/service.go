package uploads

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/google/uuid"

	"github.com/entomolab/casetrace/internal/application"
	"github.com/entomolab/casetrace/internal/domain/cases"
	domain "github.com/entomolab/casetrace/internal/domain/uploads"
)

// image content types the detector accepts
var allowedTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// Notifier wakes the background poller when new work is queued.
type Notifier interface {
	Notify()
}

// NotifierFunc adapts a func to the Notifier interface.
type NotifierFunc func()

func (f NotifierFunc) Notify() { f() }

// Service implements upload use-cases.
type Service struct {
	Repo         domain.Repository
	Cases        cases.Repository
	Images       domain.ImageStore
	Clock        application.Clock
	MaxSizeBytes int64
	Notifier     Notifier
}

type CreateUploadCommand struct {
	OwnerID     string
	CaseID      string
	ContentType string
	SizeBytes   int64
	Body        io.Reader
}

// Create streams the image to the object store and queues it for
// detection. The poller is nudged afterwards so a deactivated poller
// picks the job up immediately.
func (s *Service) Create(ctx context.Context, cmd CreateUploadCommand) (*domain.Upload, error) {
	ext, ok := allowedTypes[cmd.ContentType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedType, cmd.ContentType)
	}
	if s.MaxSizeBytes > 0 && cmd.SizeBytes > s.MaxSizeBytes {
		return nil, fmt.Errorf("%w: %d bytes", domain.ErrTooLarge, cmd.SizeBytes)
	}

	// ownership check before touching the bucket
	if _, err := s.Cases.Get(ctx, cmd.OwnerID, cases.CaseID(cmd.CaseID)); err != nil {
		return nil, err
	}

	id := domain.UploadID(uuid.New().String())
	key := path.Join(cmd.CaseID, string(id)+ext)

	url, err := s.Images.Put(ctx, key, cmd.Body, cmd.SizeBytes, cmd.ContentType)
	if err != nil {
		return nil, fmt.Errorf("storing image: %w", err)
	}

	u := &domain.Upload{
		ID:          id,
		CaseID:      cmd.CaseID,
		OwnerID:     cmd.OwnerID,
		ObjectKey:   key,
		ImageURL:    url,
		ContentType: cmd.ContentType,
		SizeBytes:   cmd.SizeBytes,
		Status:      domain.StatusQueued,
		QueuedAt:    s.Clock.Now(),
	}
	if err := s.Repo.Save(ctx, u); err != nil {
		return nil, err
	}

	if s.Notifier != nil {
		s.Notifier.Notify()
	}
	return u, nil
}

func (s *Service) Get(ctx context.Context, owner string, id domain.UploadID) (*domain.Upload, error) {
	return s.Repo.Get(ctx, owner, id)
}

func (s *Service) ListByCase(ctx context.Context, owner, caseID string) ([]*domain.Upload, error) {
	if _, err := s.Cases.Get(ctx, owner, cases.CaseID(caseID)); err != nil {
		return nil, err
	}
	return s.Repo.ListByCase(ctx, owner, caseID)
}

// ViewURL returns a browser-usable URL for the stored image; for private
// buckets this is a fresh presigned GET.
func (s *Service) ViewURL(ctx context.Context, owner string, id domain.UploadID) (string, error) {
	u, err := s.Repo.Get(ctx, owner, id)
	if err != nil {
		return "", err
	}
	return s.Images.PresignedURL(ctx, u.ObjectKey)
}
