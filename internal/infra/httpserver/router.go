package httpserver

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	appanalysis "github.com/entomolab/casetrace/internal/application/analysis"
	appauth "github.com/entomolab/casetrace/internal/application/auth"
	appcases "github.com/entomolab/casetrace/internal/application/cases"
	appdash "github.com/entomolab/casetrace/internal/application/dashboard"
	appdetections "github.com/entomolab/casetrace/internal/application/detections"
	appuploads "github.com/entomolab/casetrace/internal/application/uploads"
	domanalysis "github.com/entomolab/casetrace/internal/domain/analysis"
	domcases "github.com/entomolab/casetrace/internal/domain/cases"
	domdetections "github.com/entomolab/casetrace/internal/domain/detections"
	domuploads "github.com/entomolab/casetrace/internal/domain/uploads"
	domusers "github.com/entomolab/casetrace/internal/domain/users"
	"github.com/entomolab/casetrace/internal/middleware"
)

type Router struct {
	authSvc       *appauth.Service
	casesSvc      *appcases.Service
	uploadsSvc    *appuploads.Service
	detectionsSvc *appdetections.Service
	analysisSvc   *appanalysis.Service
	dashboardSvc  *appdash.Service
	log           zerolog.Logger
}

func NewRouter(
	authSvc *appauth.Service,
	casesSvc *appcases.Service,
	uploadsSvc *appuploads.Service,
	detectionsSvc *appdetections.Service,
	analysisSvc *appanalysis.Service,
	dashboardSvc *appdash.Service,
	log zerolog.Logger,
) chi.Router {
	r := &Router{
		authSvc:       authSvc,
		casesSvc:      casesSvc,
		uploadsSvc:    uploadsSvc,
		detectionsSvc: detectionsSvc,
		analysisSvc:   analysisSvc,
		dashboardSvc:  dashboardSvc,
		log:           log,
	}
	mux := chi.NewRouter()

	mux.Route("/v1", func(rt chi.Router) {
		rt.Post("/auth/register", r.wrap(r.handleRegister))
		rt.Post("/auth/login", r.wrap(r.handleLogin))

		rt.Get("/profile", r.wrap(r.handleProfile))
		rt.Patch("/profile", r.wrap(r.handleUpdateProfile))
		rt.Put("/profile/password", r.wrap(r.handleChangePassword))

		rt.Post("/cases", r.wrap(r.handleCreateCase))
		rt.Get("/cases", r.wrap(r.handleListCases))
		rt.Get("/cases/{id}", r.wrap(r.handleGetCase))
		rt.Patch("/cases/{id}", r.wrap(r.handleUpdateCase))
		rt.Delete("/cases/{id}", r.wrap(r.handleDeleteCase))

		rt.Post("/cases/{id}/uploads", r.wrap(r.handleCreateUpload))
		rt.Get("/cases/{id}/uploads", r.wrap(r.handleListUploads))
		rt.Get("/uploads/{id}", r.wrap(r.handleGetUpload))
		rt.Post("/uploads/{id}/detect", r.wrap(r.handleDetect))
		rt.Get("/uploads/{id}/detections", r.wrap(r.handleListDetections))

		rt.Post("/detections/{id}/verify", r.wrap(r.handleVerify))

		rt.Get("/cases/{id}/detections", r.wrap(r.handleCaseDetections))
		rt.Get("/cases/{id}/analysis", r.wrap(r.handleAnalysis))
		rt.Get("/cases/{id}/analysis/history", r.wrap(r.handleAnalysisHistory))
		rt.Post("/cases/{id}/analysis/recompute", r.wrap(r.handleRecompute))

		rt.Get("/dashboard/summary", r.wrap(r.handleDashboard))
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

type httpError struct {
	status  int
	message string
}

func (e *httpError) Error() string { return e.message }

func badRequest(format string, args ...any) error {
	return &httpError{status: http.StatusBadRequest, message: fmt.Sprintf(format, args...)}
}

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		err := h(w, req)
		if err == nil {
			return
		}

		var he *httpError
		switch {
		case errors.As(err, &he):
			http.Error(w, he.message, he.status)
		case errors.Is(err, sql.ErrNoRows),
			errors.Is(err, domcases.ErrNotFound),
			errors.Is(err, domuploads.ErrNotFound),
			errors.Is(err, domdetections.ErrNotFound),
			errors.Is(err, domanalysis.ErrNotFound),
			errors.Is(err, domusers.ErrNotFound):
			http.Error(w, "not found", http.StatusNotFound)
		case errors.Is(err, domusers.ErrEmailTaken):
			http.Error(w, "email already registered", http.StatusConflict)
		case errors.Is(err, appauth.ErrInvalidCredentials), errors.Is(err, appauth.ErrInvalidToken):
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
		case errors.Is(err, domdetections.ErrQuotaExceeded):
			http.Error(w, "detector quota exceeded", http.StatusTooManyRequests)
		case errors.Is(err, domuploads.ErrUnsupportedType):
			http.Error(w, err.Error(), http.StatusUnsupportedMediaType)
		case errors.Is(err, domuploads.ErrTooLarge):
			http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
		case errors.Is(err, domdetections.ErrBadCorrection), errors.Is(err, domdetections.ErrBadVerdict):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, domuploads.ErrNotQueued):
			http.Error(w, err.Error(), http.StatusConflict)
		case errors.Is(err, domanalysis.ErrNoDetections):
			http.Error(w, "no usable detections for this case yet", http.StatusUnprocessableEntity)
		default:
			r.log.Error().Err(err).Str("path", req.URL.Path).Msg("handler error")
			http.Error(w, "internal server error", http.StatusInternalServerError)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

func owner(req *http.Request) string {
	return middleware.GetUserIDFromContext(req.Context())
}

// POST /v1/auth/register
func (r *Router) handleRegister(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		Email        string `json:"email"`
		Name         string `json:"name"`
		Organization string `json:"organization"`
		Password     string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return badRequest("invalid JSON body")
	}

	u, err := r.authSvc.Register(req.Context(), appauth.RegisterCommand{
		Email:        body.Email,
		Name:         body.Name,
		Organization: body.Organization,
		Password:     body.Password,
	})
	if err != nil {
		if errors.Is(err, domusers.ErrEmailTaken) {
			return err
		}
		return badRequest("%v", err)
	}
	return writeJSON(w, http.StatusCreated, u)
}

// POST /v1/auth/login
func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return badRequest("invalid JSON body")
	}

	token, u, err := r.authSvc.Login(req.Context(), body.Email, body.Password)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{
		"token": token,
		"user":  u,
	})
}

// GET /v1/profile
func (r *Router) handleProfile(w http.ResponseWriter, req *http.Request) error {
	u, err := r.authSvc.Profile(req.Context(), domusers.UserID(owner(req)))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, u)
}

// PATCH /v1/profile
func (r *Router) handleUpdateProfile(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		Name         string `json:"name"`
		Organization string `json:"organization"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return badRequest("invalid JSON body")
	}

	u, err := r.authSvc.UpdateProfile(req.Context(), domusers.UserID(owner(req)), body.Name, body.Organization)
	if err != nil {
		if errors.Is(err, domusers.ErrNotFound) {
			return err
		}
		return badRequest("%v", err)
	}
	return writeJSON(w, http.StatusOK, u)
}

// PUT /v1/profile/password
func (r *Router) handleChangePassword(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return badRequest("invalid JSON body")
	}

	err := r.authSvc.ChangePassword(req.Context(), domusers.UserID(owner(req)), body.CurrentPassword, body.NewPassword)
	if err != nil {
		if errors.Is(err, appauth.ErrInvalidCredentials) || errors.Is(err, domusers.ErrNotFound) {
			return err
		}
		return badRequest("%v", err)
	}
	return writeJSON(w, http.StatusOK, map[string]string{"status": "password changed"})
}

// POST /v1/cases
func (r *Router) handleCreateCase(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		Title         string    `json:"title"`
		SceneLocation string    `json:"scene_location"`
		SceneTempC    float64   `json:"scene_temp_c"`
		DiscoveredAt  time.Time `json:"discovered_at"`
		Notes         string    `json:"notes"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return badRequest("invalid JSON body")
	}

	c, err := r.casesSvc.Create(req.Context(), appcases.CreateCaseCommand{
		OwnerID:       owner(req),
		Title:         middleware.SanitizeString(body.Title),
		SceneLocation: middleware.SanitizeString(body.SceneLocation),
		SceneTempC:    body.SceneTempC,
		DiscoveredAt:  body.DiscoveredAt,
		Notes:         body.Notes,
	})
	if err != nil {
		return badRequest("%v", err)
	}
	return writeJSON(w, http.StatusCreated, c)
}

// GET /v1/cases?page=&page_size=&status=&title=
// With cursor_time (RFC3339) and cursor_id set, keyset pagination is
// used instead of page offsets; filters do not apply in that mode.
func (r *Router) handleListCases(w http.ResponseWriter, req *http.Request) error {
	q := req.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	size, _ := strconv.Atoi(q.Get("page_size"))
	size = middleware.ValidateLimit(size)

	if ct := q.Get("cursor_time"); ct != "" {
		at, err := time.Parse(time.RFC3339Nano, ct)
		if err != nil {
			return badRequest("invalid cursor_time: %v", err)
		}
		list, err := r.casesSvc.ListCursor(req.Context(), owner(req), at, q.Get("cursor_id"), size)
		if err != nil {
			return err
		}
		return writeJSON(w, http.StatusOK, list)
	}

	filters := map[string]interface{}{}
	if st := q.Get("status"); st != "" {
		if !domcases.ValidStatus(domcases.Status(st)) {
			return badRequest("invalid status: %s", st)
		}
		filters["status"] = st
	}
	if title := q.Get("title"); title != "" {
		filters["title"] = middleware.SanitizeString(title)
	}

	list, err := r.casesSvc.List(req.Context(), owner(req), page, size, filters)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, list)
}

// GET /v1/cases/{id}
func (r *Router) handleGetCase(w http.ResponseWriter, req *http.Request) error {
	id := chi.URLParam(req, "id")
	if err := middleware.ValidateCaseID(id); err != nil {
		return badRequest("%v", err)
	}
	c, err := r.casesSvc.Get(req.Context(), owner(req), domcases.CaseID(id))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, c)
}

// PATCH /v1/cases/{id}
func (r *Router) handleUpdateCase(w http.ResponseWriter, req *http.Request) error {
	id := chi.URLParam(req, "id")
	if err := middleware.ValidateCaseID(id); err != nil {
		return badRequest("%v", err)
	}
	var body struct {
		Title         *string  `json:"title"`
		SceneLocation *string  `json:"scene_location"`
		SceneTempC    *float64 `json:"scene_temp_c"`
		Status        *string  `json:"status"`
		Notes         *string  `json:"notes"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return badRequest("invalid JSON body")
	}

	c, err := r.casesSvc.Update(req.Context(), owner(req), domcases.CaseID(id), appcases.UpdateCaseCommand{
		Title:         body.Title,
		SceneLocation: body.SceneLocation,
		SceneTempC:    body.SceneTempC,
		Status:        body.Status,
		Notes:         body.Notes,
	})
	if err != nil {
		if errors.Is(err, domcases.ErrNotFound) {
			return err
		}
		return badRequest("%v", err)
	}
	return writeJSON(w, http.StatusOK, c)
}

// DELETE /v1/cases/{id}
func (r *Router) handleDeleteCase(w http.ResponseWriter, req *http.Request) error {
	id := chi.URLParam(req, "id")
	if err := middleware.ValidateCaseID(id); err != nil {
		return badRequest("%v", err)
	}
	if err := r.casesSvc.Delete(req.Context(), owner(req), domcases.CaseID(id)); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// POST /v1/cases/{id}/uploads  (multipart, field "image")
func (r *Router) handleCreateUpload(w http.ResponseWriter, req *http.Request) error {
	caseID := chi.URLParam(req, "id")
	if err := middleware.ValidateCaseID(caseID); err != nil {
		return badRequest("%v", err)
	}

	if err := req.ParseMultipartForm(32 << 20); err != nil {
		return badRequest("invalid multipart form: %v", err)
	}
	file, header, err := req.FormFile("image")
	if err != nil {
		return badRequest("image file is required")
	}
	defer file.Close()

	up, err := r.uploadsSvc.Create(req.Context(), appuploads.CreateUploadCommand{
		OwnerID:     owner(req),
		CaseID:      caseID,
		ContentType: header.Header.Get("Content-Type"),
		SizeBytes:   header.Size,
		Body:        file,
	})
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusCreated, up)
}

// GET /v1/cases/{id}/uploads
func (r *Router) handleListUploads(w http.ResponseWriter, req *http.Request) error {
	caseID := chi.URLParam(req, "id")
	if err := middleware.ValidateCaseID(caseID); err != nil {
		return badRequest("%v", err)
	}
	list, err := r.uploadsSvc.ListByCase(req.Context(), owner(req), caseID)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, list)
}

// GET /v1/uploads/{id}?view=1
func (r *Router) handleGetUpload(w http.ResponseWriter, req *http.Request) error {
	id := chi.URLParam(req, "id")
	if err := middleware.ValidateUUID(id); err != nil {
		return badRequest("%v", err)
	}

	up, err := r.uploadsSvc.Get(req.Context(), owner(req), domuploads.UploadID(id))
	if err != nil {
		return err
	}
	if req.URL.Query().Get("view") != "" {
		url, err := r.uploadsSvc.ViewURL(req.Context(), owner(req), up.ID)
		if err != nil {
			return err
		}
		return writeJSON(w, http.StatusOK, map[string]any{
			"upload":   up,
			"view_url": url,
		})
	}
	return writeJSON(w, http.StatusOK, up)
}

// POST /v1/uploads/{id}/detect
func (r *Router) handleDetect(w http.ResponseWriter, req *http.Request) error {
	id := chi.URLParam(req, "id")
	if err := middleware.ValidateUUID(id); err != nil {
		return badRequest("%v", err)
	}
	own := owner(req)

	// existence and ownership check before queueing background work
	up, err := r.uploadsSvc.Get(req.Context(), own, domuploads.UploadID(id))
	if err != nil {
		return err
	}
	switch up.Status {
	case domuploads.StatusProcessing:
		return &httpError{status: http.StatusConflict, message: "detection already in progress"}
	case domuploads.StatusComplete:
		return &httpError{status: http.StatusConflict, message: "upload already processed"}
	}

	go func() {
		middleware.DetectJobStarted()
		defer middleware.DetectJobDone()

		result, err := r.detectionsSvc.ProcessUploadUntilDone(own, up.ID)
		if err != nil {
			// a lost claim means the poller picked this upload up first
			if errors.Is(err, domuploads.ErrNotQueued) {
				middleware.ObserveDetectJob("skipped")
				r.log.Info().Str("upload_id", string(up.ID)).Msg("upload already claimed")
				return
			}
			middleware.ObserveDetectJob("failed")
			r.log.Error().Err(err).Str("upload_id", string(up.ID)).Msg("background detection failed")
			return
		}
		middleware.ObserveDetectJob("complete")
		r.log.Info().
			Str("upload_id", result.UploadID).
			Int("detections", result.Detections).
			Msg("detection finished")
	}()

	return writeJSON(w, http.StatusAccepted, map[string]any{
		"status":    "queued",
		"upload_id": string(up.ID),
		"case_id":   up.CaseID,
		"message":   "detection started in background",
		"queuedAt":  time.Now(),
	})
}

// GET /v1/uploads/{id}/detections
func (r *Router) handleListDetections(w http.ResponseWriter, req *http.Request) error {
	id := chi.URLParam(req, "id")
	if err := middleware.ValidateUUID(id); err != nil {
		return badRequest("%v", err)
	}
	list, err := r.detectionsSvc.ListByUpload(req.Context(), owner(req), id)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, list)
}

// POST /v1/detections/{id}/verify
// Body: {"verification": "confirmed|corrected|rejected", "corrected_stage": "..."}
func (r *Router) handleVerify(w http.ResponseWriter, req *http.Request) error {
	id := chi.URLParam(req, "id")
	if err := middleware.ValidateUUID(id); err != nil {
		return badRequest("%v", err)
	}
	var body struct {
		Verification   string `json:"verification"`
		CorrectedStage string `json:"corrected_stage"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return badRequest("invalid JSON body")
	}
	if err := middleware.ValidateVerification(body.Verification); err != nil {
		return badRequest("%v", err)
	}

	d, err := r.detectionsSvc.Verify(req.Context(), appdetections.VerifyCommand{
		Owner:          owner(req),
		DetectionID:    domdetections.DetectionID(id),
		Verification:   domdetections.Verification(body.Verification),
		CorrectedStage: domdetections.LifeStage(body.CorrectedStage),
		VerifiedBy:     owner(req),
	})
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, d)
}

// GET /v1/cases/{id}/detections
func (r *Router) handleCaseDetections(w http.ResponseWriter, req *http.Request) error {
	caseID := chi.URLParam(req, "id")
	if err := middleware.ValidateCaseID(caseID); err != nil {
		return badRequest("%v", err)
	}
	list, err := r.detectionsSvc.ListByCase(req.Context(), owner(req), caseID)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, list)
}

// GET /v1/cases/{id}/analysis
func (r *Router) handleAnalysis(w http.ResponseWriter, req *http.Request) error {
	caseID := chi.URLParam(req, "id")
	if err := middleware.ValidateCaseID(caseID); err != nil {
		return badRequest("%v", err)
	}
	e, err := r.analysisSvc.LatestByCase(req.Context(), owner(req), caseID)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, e)
}

// GET /v1/cases/{id}/analysis/history?limit=
func (r *Router) handleAnalysisHistory(w http.ResponseWriter, req *http.Request) error {
	caseID := chi.URLParam(req, "id")
	if err := middleware.ValidateCaseID(caseID); err != nil {
		return badRequest("%v", err)
	}
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	list, err := r.analysisSvc.History(req.Context(), owner(req), caseID, middleware.ValidateLimit(limit))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, list)
}

// POST /v1/cases/{id}/analysis/recompute
func (r *Router) handleRecompute(w http.ResponseWriter, req *http.Request) error {
	caseID := chi.URLParam(req, "id")
	if err := middleware.ValidateCaseID(caseID); err != nil {
		return badRequest("%v", err)
	}
	e, err := r.analysisSvc.RecomputeEstimate(req.Context(), owner(req), caseID)
	if err != nil {
		return err
	}
	r.dashboardSvc.Invalidate(owner(req))
	return writeJSON(w, http.StatusOK, e)
}

// GET /v1/dashboard/summary?days=30
func (r *Router) handleDashboard(w http.ResponseWriter, req *http.Request) error {
	days, _ := strconv.Atoi(req.URL.Query().Get("days"))
	sum, err := r.dashboardSvc.Summary(req.Context(), owner(req), middleware.ValidateDays(days))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, sum)
}
