package detections

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/entomolab/casetrace/internal/application"
	"github.com/entomolab/casetrace/internal/domain/detecterrors"
	domain "github.com/entomolab/casetrace/internal/domain/detections"
	"github.com/entomolab/casetrace/internal/domain/uploads"
)

// Invalidator drops cached dashboard summaries after review activity.
type Invalidator interface {
	Invalidate(owner string)
}

// Recomputer re-runs the case PMI analysis after detections change.
type Recomputer interface {
	Recompute(ctx context.Context, owner, caseID string) error
}

// Service orchestrates detection of life-stages on uploaded images.
// Safe for concurrent use.
type Service struct {
	Repo      domain.Repository
	Uploads   uploads.Repository
	Detector  domain.Detector
	Artifacts uploads.ImageStore
	Errors    detecterrors.Repository
	Clock     application.Clock
	Log       zerolog.Logger

	Analysis  Recomputer
	Dashboard Invalidator
}

// ProcessResult summarizes one processed upload.
type ProcessResult struct {
	UploadID   string             `json:"upload_id"`
	Status     string             `json:"status"`
	Counts     domain.StageCounts `json:"counts"`
	Detections int                `json:"detections"`
	RawURL     string             `json:"raw_url,omitempty"`
}

// ProcessUploadUntilDone runs the pipeline under context.Background() so
// it can be called from a goroutine after the HTTP response went out
// without being cancelled with the request.
func (s *Service) ProcessUploadUntilDone(owner string, id uploads.UploadID) (ProcessResult, error) {
	return s.ProcessUpload(context.Background(), owner, id)
}

// ProcessUpload runs detector → parse → persist → artifact for one
// upload and moves its status queued → processing → complete|failed.
func (s *Service) ProcessUpload(ctx context.Context, owner string, id uploads.UploadID) (ProcessResult, error) {
	up, err := s.Uploads.Get(ctx, owner, id)
	if err != nil {
		return ProcessResult{}, err
	}
	// the claim fails when another worker got here first or the upload
	// is already complete
	if err := s.Uploads.MarkProcessing(ctx, up.ID); err != nil {
		return ProcessResult{}, err
	}

	raw, err := s.Detector.Detect(ctx, up.ImageURL)
	if err != nil {
		return s.fail(ctx, up, "detect", err)
	}

	parsed, err := domain.ParseDetections(raw)
	if err != nil {
		return s.fail(ctx, up, "parse", err)
	}

	now := s.Clock.Now()
	batch := make([]*domain.Detection, 0, len(parsed))
	for i := range parsed {
		d := parsed[i]
		d.ID = domain.DetectionID(uuid.New().String())
		d.UploadID = string(up.ID)
		d.CaseID = up.CaseID
		d.CreatedAt = now
		batch = append(batch, &d)
	}
	// a retried upload replaces its earlier batch instead of appending
	if err := s.Repo.DeleteByUpload(ctx, string(up.ID)); err != nil {
		return s.fail(ctx, up, "store", err)
	}
	if err := s.Repo.SaveBatch(ctx, batch); err != nil {
		return s.fail(ctx, up, "store", err)
	}

	// raw detector output kept as an audit artifact next to the image
	rawKey := path.Join(up.CaseID, string(up.ID)+"-detections.json")
	rawURL, err := s.Artifacts.PutArtifact(ctx, rawKey, []byte(raw), "application/json")
	if err != nil {
		// artifact loss is not worth failing the upload over
		s.Log.Warn().Err(err).Str("upload_id", string(up.ID)).Msg("storing raw detector output")
		rawURL = ""
	}

	if err := s.Uploads.MarkComplete(ctx, up.ID, s.Clock.Now()); err != nil {
		return ProcessResult{}, err
	}

	if s.Analysis != nil {
		if err := s.Analysis.Recompute(ctx, owner, up.CaseID); err != nil {
			s.Log.Warn().Err(err).Str("case_id", up.CaseID).Msg("recomputing analysis")
		}
	}
	if s.Dashboard != nil {
		s.Dashboard.Invalidate(owner)
	}

	counts := domain.CountStages(batch)
	return ProcessResult{
		UploadID:   string(up.ID),
		Status:     string(uploads.StatusComplete),
		Counts:     counts,
		Detections: len(batch),
		RawURL:     rawURL,
	}, nil
}

func (s *Service) fail(ctx context.Context, up *uploads.Upload, phase string, cause error) (ProcessResult, error) {
	if err := s.Errors.Save(ctx, &detecterrors.DetectError{
		UploadID:  string(up.ID),
		Phase:     phase,
		Message:   cause.Error(),
		CreatedAt: s.Clock.Now(),
	}); err != nil {
		s.Log.Error().Err(err).Str("upload_id", string(up.ID)).Msg("recording detect error")
	}
	reason := fmt.Sprintf("%s: %v", phase, cause)
	if err := s.Uploads.MarkFailed(ctx, up.ID, reason, s.Clock.Now()); err != nil {
		s.Log.Error().Err(err).Str("upload_id", string(up.ID)).Msg("marking upload failed")
	}
	return ProcessResult{UploadID: string(up.ID), Status: string(uploads.StatusFailed)}, cause
}

// VerifyCommand is a reviewer's verdict on one detection.
type VerifyCommand struct {
	Owner          string
	DetectionID    domain.DetectionID
	Verification   domain.Verification
	CorrectedStage domain.LifeStage
	VerifiedBy     string
}

// Verify records the verdict and triggers analysis recompute since the
// effective stage set may have changed.
func (s *Service) Verify(ctx context.Context, cmd VerifyCommand) (*domain.Detection, error) {
	if !domain.ValidVerification(cmd.Verification) || cmd.Verification == domain.VerificationPending {
		return nil, domain.ErrBadVerdict
	}

	d, err := s.Repo.Get(ctx, cmd.Owner, cmd.DetectionID)
	if err != nil {
		return nil, err
	}

	corrected := domain.LifeStage(strings.ToLower(string(cmd.CorrectedStage)))
	if cmd.Verification == domain.VerificationCorrected {
		if !domain.ValidStage(corrected) || corrected == d.Stage {
			return nil, domain.ErrBadCorrection
		}
	} else {
		corrected = ""
	}

	now := s.Clock.Now()
	if err := s.Repo.UpdateVerification(ctx, cmd.Owner, cmd.DetectionID, cmd.Verification, corrected, cmd.VerifiedBy, now); err != nil {
		return nil, err
	}

	if s.Analysis != nil {
		if err := s.Analysis.Recompute(ctx, cmd.Owner, d.CaseID); err != nil {
			s.Log.Warn().Err(err).Str("case_id", d.CaseID).Msg("recomputing analysis")
		}
	}
	if s.Dashboard != nil {
		s.Dashboard.Invalidate(cmd.Owner)
	}
	return s.Repo.Get(ctx, cmd.Owner, cmd.DetectionID)
}

func (s *Service) ListByUpload(ctx context.Context, owner, uploadID string) ([]*domain.Detection, error) {
	return s.Repo.ListByUpload(ctx, owner, uploadID)
}

func (s *Service) ListByCase(ctx context.Context, owner, caseID string) ([]*domain.Detection, error) {
	return s.Repo.ListByCase(ctx, owner, caseID)
}
