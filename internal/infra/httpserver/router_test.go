package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appanalysis "github.com/entomolab/casetrace/internal/application/analysis"
	appauth "github.com/entomolab/casetrace/internal/application/auth"
	appcases "github.com/entomolab/casetrace/internal/application/cases"
	appdash "github.com/entomolab/casetrace/internal/application/dashboard"
	appdetections "github.com/entomolab/casetrace/internal/application/detections"
	appuploads "github.com/entomolab/casetrace/internal/application/uploads"
	"github.com/entomolab/casetrace/internal/domain/analysis"
	"github.com/entomolab/casetrace/internal/domain/cases"
	"github.com/entomolab/casetrace/internal/domain/detecterrors"
	"github.com/entomolab/casetrace/internal/domain/detections"
	"github.com/entomolab/casetrace/internal/domain/uploads"
	"github.com/entomolab/casetrace/internal/domain/users"
	"github.com/entomolab/casetrace/internal/middleware"
)

// --- in-memory ports ---

type memUsers struct {
	mu   sync.Mutex
	byID map[users.UserID]*users.User
}

func (m *memUsers) Create(ctx context.Context, u *users.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.byID {
		if e.Email == u.Email {
			return users.ErrEmailTaken
		}
	}
	m.byID[u.ID] = u
	return nil
}

func (m *memUsers) GetByEmail(ctx context.Context, email string) (*users.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.byID {
		if e.Email == email {
			return e, nil
		}
	}
	return nil, users.ErrNotFound
}

func (m *memUsers) GetByID(ctx context.Context, id users.UserID) (*users.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.byID[id]; ok {
		return u, nil
	}
	return nil, users.ErrNotFound
}

func (m *memUsers) UpdateProfile(ctx context.Context, id users.UserID, name, org string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return users.ErrNotFound
	}
	u.Name, u.Organization = name, org
	return nil
}

func (m *memUsers) UpdatePassword(ctx context.Context, id users.UserID, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return users.ErrNotFound
	}
	u.PasswordHash = hash
	return nil
}

type memCases struct {
	mu   sync.Mutex
	byID map[cases.CaseID]*cases.Case
}

func (m *memCases) Save(ctx context.Context, c *cases.Case) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[c.ID] = c
	return nil
}

func (m *memCases) Get(ctx context.Context, owner string, id cases.CaseID) (*cases.Case, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byID[id]
	if !ok || c.OwnerID != owner {
		return nil, cases.ErrNotFound
	}
	return c, nil
}

func (m *memCases) Delete(ctx context.Context, owner string, id cases.CaseID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byID[id]
	if !ok || c.OwnerID != owner {
		return cases.ErrNotFound
	}
	delete(m.byID, id)
	return nil
}

func (m *memCases) Paginate(ctx context.Context, owner string, page, pageSize int, filters map[string]interface{}) (cases.PaginatedResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*cases.Case
	for _, c := range m.byID {
		if c.OwnerID != owner {
			continue
		}
		if st, ok := filters["status"]; ok && string(c.Status) != st.(string) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return cases.PaginatedResult{
		Data: out, Page: 1, PageSize: pageSize,
		Total: int64(len(out)), TotalPages: 1,
	}, nil
}

func (m *memCases) Cursor(ctx context.Context, owner string, cursorTime time.Time, cursorID string, pageSize int) ([]*cases.Case, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*cases.Case
	for _, c := range m.byID {
		if c.OwnerID != owner {
			continue
		}
		if c.CreatedAt.Before(cursorTime) || (c.CreatedAt.Equal(cursorTime) && string(c.ID) < cursorID) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > pageSize {
		out = out[:pageSize]
	}
	return out, nil
}

func (m *memCases) Count(ctx context.Context, owner string, filters map[string]interface{}) (int64, error) {
	res, _ := m.Paginate(ctx, owner, 1, 1000, filters)
	return res.Total, nil
}

func (m *memCases) CountByStatus(ctx context.Context, owner string, since time.Time) (map[cases.Status]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[cases.Status]int{}
	for _, c := range m.byID {
		if c.OwnerID == owner {
			out[c.Status]++
		}
	}
	return out, nil
}

type memUploads struct {
	mu   sync.Mutex
	byID map[uploads.UploadID]*uploads.Upload
}

func (m *memUploads) Save(ctx context.Context, u *uploads.Upload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[u.ID] = u
	return nil
}

func (m *memUploads) Get(ctx context.Context, owner string, id uploads.UploadID) (*uploads.Upload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok || u.OwnerID != owner {
		return nil, uploads.ErrNotFound
	}
	return u, nil
}

func (m *memUploads) ListByCase(ctx context.Context, owner, caseID string) ([]*uploads.Upload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*uploads.Upload
	for _, u := range m.byID {
		if u.OwnerID == owner && u.CaseID == caseID {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *memUploads) NextQueued(ctx context.Context) (*uploads.Upload, error) { return nil, nil }

func (m *memUploads) MarkProcessing(ctx context.Context, id uploads.UploadID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.byID[id]
	if u.Status != uploads.StatusQueued && u.Status != uploads.StatusFailed {
		return uploads.ErrNotQueued
	}
	u.Status = uploads.StatusProcessing
	return nil
}

func (m *memUploads) MarkComplete(ctx context.Context, id uploads.UploadID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.byID[id]
	u.Status = uploads.StatusComplete
	u.ProcessedAt = &at
	return nil
}

func (m *memUploads) MarkFailed(ctx context.Context, id uploads.UploadID, reason string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.byID[id]
	u.Status = uploads.StatusFailed
	u.FailReason = reason
	u.ProcessedAt = &at
	return nil
}

func (m *memUploads) RequeueStuck(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (m *memUploads) CountByStatus(ctx context.Context, owner string, since time.Time) (map[uploads.Status]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[uploads.Status]int{}
	for _, u := range m.byID {
		if u.OwnerID == owner {
			out[u.Status]++
		}
	}
	return out, nil
}

func (m *memUploads) DeleteByCase(ctx context.Context, owner, caseID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, u := range m.byID {
		if u.OwnerID == owner && u.CaseID == caseID {
			delete(m.byID, id)
		}
	}
	return nil
}

type memDetections struct {
	mu   sync.Mutex
	list []*detections.Detection
}

func (m *memDetections) SaveBatch(ctx context.Context, ds []*detections.Detection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.list = append(m.list, ds...)
	return nil
}

func (m *memDetections) Get(ctx context.Context, owner string, id detections.DetectionID) (*detections.Detection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.list {
		if d.ID == id {
			return d, nil
		}
	}
	return nil, detections.ErrNotFound
}

func (m *memDetections) ListByUpload(ctx context.Context, owner, uploadID string) ([]*detections.Detection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*detections.Detection
	for _, d := range m.list {
		if d.UploadID == uploadID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *memDetections) ListByCase(ctx context.Context, owner, caseID string) ([]*detections.Detection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*detections.Detection
	for _, d := range m.list {
		if d.CaseID == caseID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *memDetections) UpdateVerification(ctx context.Context, owner string, id detections.DetectionID, v detections.Verification, corrected detections.LifeStage, verifiedBy string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.list {
		if d.ID == id {
			d.Verification, d.CorrectedStage, d.VerifiedBy, d.VerifiedAt = v, corrected, verifiedBy, &at
			return nil
		}
	}
	return detections.ErrNotFound
}

func (m *memDetections) StageSummary(ctx context.Context, owner, caseID string) (detections.StageCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ds []*detections.Detection
	for _, d := range m.list {
		if caseID == "" || d.CaseID == caseID {
			ds = append(ds, d)
		}
	}
	return detections.CountStages(ds), nil
}

func (m *memDetections) ConfidenceBuckets(ctx context.Context, owner string, since time.Time) (detections.ConfidenceBuckets, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var b detections.ConfidenceBuckets
	for _, d := range m.list {
		switch {
		case d.Confidence < 0.5:
			b.Low++
		case d.Confidence > 0.8:
			b.High++
		default:
			b.Medium++
		}
	}
	return b, nil
}

func (m *memDetections) CountByVerification(ctx context.Context, owner string, since time.Time) (map[detections.Verification]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[detections.Verification]int{}
	for _, d := range m.list {
		out[d.Verification]++
	}
	return out, nil
}

func (m *memDetections) DeleteByCase(ctx context.Context, owner, caseID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []*detections.Detection
	for _, d := range m.list {
		if d.CaseID != caseID {
			kept = append(kept, d)
		}
	}
	m.list = kept
	return nil
}

func (m *memDetections) DeleteByUpload(ctx context.Context, uploadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []*detections.Detection
	for _, d := range m.list {
		if d.UploadID != uploadID {
			kept = append(kept, d)
		}
	}
	m.list = kept
	return nil
}

type memAnalyses struct {
	mu   sync.Mutex
	list []*analysis.Estimate
}

func (m *memAnalyses) Save(ctx context.Context, e *analysis.Estimate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.list = append(m.list, e)
	return nil
}

func (m *memAnalyses) LatestByCase(ctx context.Context, owner, caseID string) (*analysis.Estimate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.list) - 1; i >= 0; i-- {
		if m.list[i].CaseID == caseID {
			return m.list[i], nil
		}
	}
	return nil, analysis.ErrNotFound
}

func (m *memAnalyses) History(ctx context.Context, owner, caseID string, limit int) ([]*analysis.Estimate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*analysis.Estimate
	for _, e := range m.list {
		if e.CaseID == caseID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memAnalyses) AveragePMI(ctx context.Context, owner string, since time.Time) (float64, int, error) {
	return 0, 0, nil
}

func (m *memAnalyses) DeleteByCase(ctx context.Context, owner, caseID string) error { return nil }

type memStore struct{}

func (memStore) Put(ctx context.Context, key string, body io.Reader, size int64, ct string) (string, error) {
	io.Copy(io.Discard, body)
	return "https://store.example/" + key, nil
}
func (memStore) PresignedURL(ctx context.Context, key string) (string, error) {
	return "https://store.example/" + key + "?signed", nil
}
func (memStore) Remove(ctx context.Context, key string) error { return nil }
func (memStore) PutArtifact(ctx context.Context, key string, data []byte, ct string) (string, error) {
	return "https://store.example/" + key, nil
}

type cannedDetector struct{ raw string }

func (d cannedDetector) Detect(ctx context.Context, imageURL string) (string, error) {
	return d.raw, nil
}

type memErrors struct{}

func (memErrors) Save(ctx context.Context, e *detecterrors.DetectError) error { return nil }
func (memErrors) ListByUpload(ctx context.Context, uploadID string, limit int) ([]*detecterrors.DetectError, error) {
	return nil, nil
}
func (memErrors) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type sysClock struct{}

func (sysClock) Now() time.Time { return time.Now() }

// --- test server ---

type testEnv struct {
	srv        *httptest.Server
	detections *memDetections
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := zerolog.Nop()
	clock := sysClock{}

	userRepo := &memUsers{byID: map[users.UserID]*users.User{}}
	caseRepo := &memCases{byID: map[cases.CaseID]*cases.Case{}}
	uploadRepo := &memUploads{byID: map[uploads.UploadID]*uploads.Upload{}}
	detectionRepo := &memDetections{}
	analysisRepo := &memAnalyses{}
	store := memStore{}

	authSvc := &appauth.Service{Repo: userRepo, Secret: []byte("test-secret"), TokenTTL: time.Hour, Clock: clock}
	analysisSvc := &appanalysis.Service{Repo: analysisRepo, Cases: caseRepo, Detections: detectionRepo, Clock: clock}
	dashboardSvc := appdash.NewService(caseRepo, uploadRepo, detectionRepo, analysisRepo, clock)
	detectionsSvc := &appdetections.Service{
		Repo:     detectionRepo,
		Uploads:  uploadRepo,
		Detector: cannedDetector{raw: `[{"stage": "instar3", "confidence": 0.9}, {"stage": "egg", "confidence": 0.4}]`},
		Artifacts: store,
		Errors:    memErrors{},
		Clock:     clock,
		Log:       log,
		Analysis:  analysisSvc,
		Dashboard: dashboardSvc,
	}
	casesSvc := &appcases.Service{
		Repo: caseRepo, Uploads: uploadRepo, Detections: detectionRepo,
		Analyses: analysisRepo, Images: store, Clock: clock, Log: log,
	}
	uploadsSvc := &appuploads.Service{
		Repo: uploadRepo, Cases: caseRepo, Images: store,
		Clock: clock, MaxSizeBytes: 1 << 20,
	}

	mux := chi.NewRouter()
	mux.Use(middleware.JWTAuth(authSvc))
	mux.Mount("/", NewRouter(authSvc, casesSvc, uploadsSvc, detectionsSvc, analysisSvc, dashboardSvc, log))

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, detections: detectionRepo}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rdr)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (e *testEnv) registerAndLogin(t *testing.T, email string) string {
	t.Helper()
	resp := e.do(t, "POST", "/v1/auth/register", "", map[string]string{
		"email": email, "name": "Test User", "password": "password-1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = e.do(t, "POST", "/v1/auth/login", "", map[string]string{
		"email": email, "password": "password-1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode[map[string]any](t, resp)
	return out["token"].(string)
}

func (e *testEnv) createCase(t *testing.T, token string) string {
	t.Helper()
	resp := e.do(t, "POST", "/v1/cases", token, map[string]any{
		"title": "Test scene", "scene_temp_c": 21.0,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	c := decode[map[string]any](t, resp)
	return c["id"].(string)
}

func (e *testEnv) uploadImage(t *testing.T, token, caseID string) string {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", `form-data; name="image"; filename="specimen.jpg"`)
	hdr.Set("Content-Type", "image/jpeg")
	part, err := w.CreatePart(hdr)
	require.NoError(t, err)
	part.Write([]byte("fake-jpeg-bytes"))
	require.NoError(t, w.Close())

	req, err := http.NewRequest("POST", e.srv.URL+"/v1/cases/"+caseID+"/uploads", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	up := decode[map[string]any](t, resp)
	return up["id"].(string)
}

// --- tests ---

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, "GET", "/v1/cases", "", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRegisterLoginAndProfile(t *testing.T) {
	env := newTestEnv(t)
	token := env.registerAndLogin(t, "tech@lab.example")

	resp := env.do(t, "GET", "/v1/profile", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	u := decode[map[string]any](t, resp)
	assert.Equal(t, "tech@lab.example", u["email"])
	_, hasHash := u["password_hash"]
	assert.False(t, hasHash)
}

func TestCaseLifecycle(t *testing.T) {
	env := newTestEnv(t)
	token := env.registerAndLogin(t, "a@lab.example")
	caseID := env.createCase(t, token)

	resp := env.do(t, "GET", "/v1/cases/"+caseID, token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	c := decode[map[string]any](t, resp)
	assert.Equal(t, "open", c["status"])

	resp = env.do(t, "PATCH", "/v1/cases/"+caseID, token, map[string]any{"status": "under_review"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	c = decode[map[string]any](t, resp)
	assert.Equal(t, "under_review", c["status"])

	resp = env.do(t, "PATCH", "/v1/cases/"+caseID, token, map[string]any{"status": "bogus"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = env.do(t, "DELETE", "/v1/cases/"+caseID, token, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp = env.do(t, "GET", "/v1/cases/"+caseID, token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestCasesAreOwnerScoped(t *testing.T) {
	env := newTestEnv(t)
	tokenA := env.registerAndLogin(t, "a@lab.example")
	tokenB := env.registerAndLogin(t, "b@lab.example")
	caseID := env.createCase(t, tokenA)

	resp := env.do(t, "GET", "/v1/cases/"+caseID, tokenB, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListCasesCursor(t *testing.T) {
	env := newTestEnv(t)
	token := env.registerAndLogin(t, "cursor@lab.example")
	for i := 0; i < 3; i++ {
		env.createCase(t, token)
	}

	after := time.Now().Add(time.Hour).UTC().Format(time.RFC3339Nano)
	resp := env.do(t, "GET", "/v1/cases?cursor_time="+after+"&page_size=2", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[[]map[string]any](t, resp)
	assert.Len(t, list, 2)

	resp = env.do(t, "GET", "/v1/cases?cursor_time=yesterday", token, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestUploadAndDetectFlow(t *testing.T) {
	env := newTestEnv(t)
	token := env.registerAndLogin(t, "flow@lab.example")
	caseID := env.createCase(t, token)
	uploadID := env.uploadImage(t, token, caseID)

	resp := env.do(t, "POST", "/v1/uploads/"+uploadID+"/detect", token, nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	out := decode[map[string]any](t, resp)
	assert.Equal(t, "queued", out["status"])

	// detection runs in the background
	require.Eventually(t, func() bool {
		resp := env.do(t, "GET", "/v1/uploads/"+uploadID+"/detections", token, nil)
		defer resp.Body.Close()
		var ds []map[string]any
		json.NewDecoder(resp.Body).Decode(&ds)
		return len(ds) == 2
	}, 2*time.Second, 10*time.Millisecond)

	// the recompute hook produced a PMI estimate for the case
	resp = env.do(t, "GET", "/v1/cases/"+caseID+"/analysis", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	est := decode[map[string]any](t, resp)
	assert.Equal(t, "instar3", est["oldest_stage"])
	assert.Equal(t, "adh-v1", est["method"])
}

func TestDetectTwiceConflicts(t *testing.T) {
	env := newTestEnv(t)
	token := env.registerAndLogin(t, "twice@lab.example")
	caseID := env.createCase(t, token)
	uploadID := env.uploadImage(t, token, caseID)

	resp := env.do(t, "POST", "/v1/uploads/"+uploadID+"/detect", token, nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()

	require.Eventually(t, func() bool {
		resp := env.do(t, "GET", "/v1/uploads/"+uploadID, token, nil)
		defer resp.Body.Close()
		var u map[string]any
		json.NewDecoder(resp.Body).Decode(&u)
		return u["status"] == "complete"
	}, 2*time.Second, 10*time.Millisecond)

	// a completed upload cannot be detected again
	resp = env.do(t, "POST", "/v1/uploads/"+uploadID+"/detect", token, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	resp = env.do(t, "GET", "/v1/uploads/"+uploadID+"/detections", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ds := decode[[]map[string]any](t, resp)
	assert.Len(t, ds, 2, "detections must not be duplicated")
}

func TestVerifyDetection(t *testing.T) {
	env := newTestEnv(t)
	token := env.registerAndLogin(t, "verify@lab.example")
	caseID := env.createCase(t, token)
	uploadID := env.uploadImage(t, token, caseID)

	resp := env.do(t, "POST", "/v1/uploads/"+uploadID+"/detect", token, nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()

	var detID string
	require.Eventually(t, func() bool {
		resp := env.do(t, "GET", "/v1/uploads/"+uploadID+"/detections", token, nil)
		defer resp.Body.Close()
		var ds []map[string]any
		json.NewDecoder(resp.Body).Decode(&ds)
		if len(ds) == 0 {
			return false
		}
		detID = ds[0]["id"].(string)
		return true
	}, 2*time.Second, 10*time.Millisecond)

	resp = env.do(t, "POST", "/v1/detections/"+detID+"/verify", token, map[string]string{
		"verification": "confirmed",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	d := decode[map[string]any](t, resp)
	assert.Equal(t, "confirmed", d["verification"])

	// correcting to the same stage is rejected
	stage := d["stage"].(string)
	resp = env.do(t, "POST", "/v1/detections/"+detID+"/verify", token, map[string]string{
		"verification": "corrected", "corrected_stage": stage,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = env.do(t, "POST", "/v1/detections/"+detID+"/verify", token, map[string]string{
		"verification": "approved",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	// pending is the initial state, not a verdict
	resp = env.do(t, "POST", "/v1/detections/"+detID+"/verify", token, map[string]string{
		"verification": "pending",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestAnalysisWithoutDetections(t *testing.T) {
	env := newTestEnv(t)
	token := env.registerAndLogin(t, "empty@lab.example")
	caseID := env.createCase(t, token)

	resp := env.do(t, "GET", "/v1/cases/"+caseID+"/analysis", token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp = env.do(t, "POST", "/v1/cases/"+caseID+"/analysis/recompute", token, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	resp.Body.Close()
}

func TestDashboardSummary(t *testing.T) {
	env := newTestEnv(t)
	token := env.registerAndLogin(t, "dash@lab.example")
	env.createCase(t, token)

	resp := env.do(t, "GET", "/v1/dashboard/summary?days=14", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sum := decode[map[string]any](t, resp)
	assert.Equal(t, float64(14), sum["days"])
	byStatus := sum["cases_by_status"].(map[string]any)
	assert.Equal(t, float64(1), byStatus["open"])

	hist := sum["stage_histogram"].(map[string]any)
	assert.Equal(t, float64(0), hist["total"])
	assert.Equal(t, float64(0), sum["detection_total"])
}

func TestUnsupportedUploadType(t *testing.T) {
	env := newTestEnv(t)
	token := env.registerAndLogin(t, "pdf@lab.example")
	caseID := env.createCase(t, token)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", `form-data; name="image"; filename="report.pdf"`)
	hdr.Set("Content-Type", "application/pdf")
	part, err := w.CreatePart(hdr)
	require.NoError(t, err)
	part.Write([]byte("%PDF-1.4"))
	require.NoError(t, w.Close())

	req, err := http.NewRequest("POST", env.srv.URL+"/v1/cases/"+caseID+"/uploads", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
}

func TestInvalidIDsAreBadRequests(t *testing.T) {
	env := newTestEnv(t)
	token := env.registerAndLogin(t, "ids@lab.example")

	resp := env.do(t, "GET", "/v1/uploads/not-a-uuid", token, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = env.do(t, "GET", "/v1/cases/has%20space", token, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}
