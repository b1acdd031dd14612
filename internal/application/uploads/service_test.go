package uploads

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entomolab/casetrace/internal/domain/cases"
	domain "github.com/entomolab/casetrace/internal/domain/uploads"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type stubCaseRepo struct {
	owned map[cases.CaseID]string
}

func (r *stubCaseRepo) Get(ctx context.Context, owner string, id cases.CaseID) (*cases.Case, error) {
	if r.owned[id] != owner {
		return nil, cases.ErrNotFound
	}
	return &cases.Case{ID: id, OwnerID: owner}, nil
}

func (r *stubCaseRepo) Save(ctx context.Context, c *cases.Case) error                  { return nil }
func (r *stubCaseRepo) Delete(ctx context.Context, owner string, id cases.CaseID) error { return nil }
func (r *stubCaseRepo) Paginate(ctx context.Context, owner string, page, pageSize int, filters map[string]interface{}) (cases.PaginatedResult, error) {
	return cases.PaginatedResult{}, nil
}
func (r *stubCaseRepo) Cursor(ctx context.Context, owner string, cursorTime time.Time, cursorID string, pageSize int) ([]*cases.Case, error) {
	return nil, nil
}
func (r *stubCaseRepo) Count(ctx context.Context, owner string, filters map[string]interface{}) (int64, error) {
	return 0, nil
}
func (r *stubCaseRepo) CountByStatus(ctx context.Context, owner string, since time.Time) (map[cases.Status]int, error) {
	return nil, nil
}

type stubUploadRepo struct {
	saved []*domain.Upload
}

func (r *stubUploadRepo) Save(ctx context.Context, u *domain.Upload) error {
	r.saved = append(r.saved, u)
	return nil
}

func (r *stubUploadRepo) Get(ctx context.Context, owner string, id domain.UploadID) (*domain.Upload, error) {
	for _, u := range r.saved {
		if u.ID == id && u.OwnerID == owner {
			return u, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *stubUploadRepo) ListByCase(ctx context.Context, owner, caseID string) ([]*domain.Upload, error) {
	return r.saved, nil
}
func (r *stubUploadRepo) NextQueued(ctx context.Context) (*domain.Upload, error) { return nil, nil }
func (r *stubUploadRepo) MarkProcessing(ctx context.Context, id domain.UploadID) error {
	return nil
}
func (r *stubUploadRepo) MarkComplete(ctx context.Context, id domain.UploadID, at time.Time) error {
	return nil
}
func (r *stubUploadRepo) MarkFailed(ctx context.Context, id domain.UploadID, reason string, at time.Time) error {
	return nil
}
func (r *stubUploadRepo) RequeueStuck(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}
func (r *stubUploadRepo) CountByStatus(ctx context.Context, owner string, since time.Time) (map[domain.Status]int, error) {
	return nil, nil
}
func (r *stubUploadRepo) DeleteByCase(ctx context.Context, owner, caseID string) error { return nil }

type stubStore struct {
	putKeys []string
}

func (s *stubStore) Put(ctx context.Context, key string, body io.Reader, size int64, ct string) (string, error) {
	io.Copy(io.Discard, body)
	s.putKeys = append(s.putKeys, key)
	return "https://store.example/" + key, nil
}
func (s *stubStore) PresignedURL(ctx context.Context, key string) (string, error) {
	return "https://store.example/" + key + "?signed", nil
}
func (s *stubStore) Remove(ctx context.Context, key string) error { return nil }
func (s *stubStore) PutArtifact(ctx context.Context, key string, data []byte, ct string) (string, error) {
	return "", nil
}

func newService() (*Service, *stubUploadRepo, *stubStore, *int) {
	repo := &stubUploadRepo{}
	store := &stubStore{}
	notified := 0
	svc := &Service{
		Repo:         repo,
		Cases:        &stubCaseRepo{owned: map[cases.CaseID]string{"case-1": "owner-1"}},
		Images:       store,
		Clock:        fixedClock{t: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)},
		MaxSizeBytes: 1 << 20,
		Notifier:     NotifierFunc(func() { notified++ }),
	}
	return svc, repo, store, &notified
}

func TestCreateUpload(t *testing.T) {
	svc, repo, store, notified := newService()

	u, err := svc.Create(context.Background(), CreateUploadCommand{
		OwnerID:     "owner-1",
		CaseID:      "case-1",
		ContentType: "image/jpeg",
		SizeBytes:   1024,
		Body:        strings.NewReader("jpeg-bytes"),
	})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusQueued, u.Status)
	assert.Equal(t, "case-1", u.CaseID)
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, "case-1/"+string(u.ID)+".jpg", u.ObjectKey)
	assert.Equal(t, "https://store.example/"+u.ObjectKey, u.ImageURL)

	require.Len(t, repo.saved, 1)
	require.Len(t, store.putKeys, 1)
	assert.Equal(t, 1, *notified, "poller should be nudged once")
}

func TestCreateUploadUnsupportedType(t *testing.T) {
	svc, repo, _, notified := newService()

	_, err := svc.Create(context.Background(), CreateUploadCommand{
		OwnerID:     "owner-1",
		CaseID:      "case-1",
		ContentType: "application/pdf",
		SizeBytes:   1024,
		Body:        strings.NewReader("%PDF"),
	})
	assert.ErrorIs(t, err, domain.ErrUnsupportedType)
	assert.Empty(t, repo.saved)
	assert.Zero(t, *notified)
}

func TestCreateUploadTooLarge(t *testing.T) {
	svc, _, store, _ := newService()

	_, err := svc.Create(context.Background(), CreateUploadCommand{
		OwnerID:     "owner-1",
		CaseID:      "case-1",
		ContentType: "image/png",
		SizeBytes:   2 << 20,
		Body:        strings.NewReader("png-bytes"),
	})
	assert.ErrorIs(t, err, domain.ErrTooLarge)
	assert.Empty(t, store.putKeys, "nothing should reach the bucket")
}

func TestCreateUploadForeignCase(t *testing.T) {
	svc, _, store, _ := newService()

	_, err := svc.Create(context.Background(), CreateUploadCommand{
		OwnerID:     "intruder",
		CaseID:      "case-1",
		ContentType: "image/jpeg",
		SizeBytes:   10,
		Body:        strings.NewReader("x"),
	})
	assert.ErrorIs(t, err, cases.ErrNotFound)
	assert.Empty(t, store.putKeys)
}

func TestViewURL(t *testing.T) {
	svc, _, _, _ := newService()

	u, err := svc.Create(context.Background(), CreateUploadCommand{
		OwnerID:     "owner-1",
		CaseID:      "case-1",
		ContentType: "image/webp",
		SizeBytes:   10,
		Body:        strings.NewReader("webp"),
	})
	require.NoError(t, err)

	url, err := svc.ViewURL(context.Background(), "owner-1", u.ID)
	require.NoError(t, err)
	assert.Contains(t, url, "?signed")
}
