package dashboard

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/entomolab/casetrace/internal/application"
	"github.com/entomolab/casetrace/internal/domain/analysis"
	"github.com/entomolab/casetrace/internal/domain/cases"
	"github.com/entomolab/casetrace/internal/domain/detections"
	"github.com/entomolab/casetrace/internal/domain/uploads"
)

const cacheTTL = 30 * time.Second

// Summary aggregates the review dashboard for one user. Stages is the
// effective-stage histogram over all the owner's detections; its total
// excludes rejected rows.
type Summary struct {
	Days            int                             `json:"days"`
	CasesByStatus   map[cases.Status]int            `json:"cases_by_status"`
	UploadsByStatus map[uploads.Status]int          `json:"uploads_by_status"`
	Stages          detections.StageCounts          `json:"stage_histogram"`
	DetectionTotal  int                             `json:"detection_total"`
	Confidence      detections.ConfidenceBuckets    `json:"confidence"`
	Verification    map[detections.Verification]int `json:"verification"`
	CorrectionRate  float64                         `json:"correction_rate"`
	AveragePMIHours float64                         `json:"average_pmi_hours"`
	EstimatedCases  int                             `json:"estimated_cases"`
	GeneratedAt     time.Time                       `json:"generated_at"`
}

// Service aggregates dashboard metrics with a short per-owner cache so a
// polling dashboard does not hammer the database.
type Service struct {
	Cases      cases.Repository
	Uploads    uploads.Repository
	Detections detections.Repository
	Analyses   analysis.Repository
	Clock      application.Clock

	cache *gocache.Cache
}

func NewService(c cases.Repository, u uploads.Repository, d detections.Repository, a analysis.Repository, clock application.Clock) *Service {
	return &Service{
		Cases:      c,
		Uploads:    u,
		Detections: d,
		Analyses:   a,
		Clock:      clock,
		cache:      gocache.New(cacheTTL, 2*cacheTTL),
	}
}

func cacheKey(owner string, days int) string {
	return fmt.Sprintf("%s:%d", owner, days)
}

// Invalidate drops all cached summaries for the owner. Called after
// verification verdicts and analysis recomputes.
func (s *Service) Invalidate(owner string) {
	for key := range s.cache.Items() {
		if len(key) > len(owner) && key[:len(owner)] == owner && key[len(owner)] == ':' {
			s.cache.Delete(key)
		}
	}
}

func (s *Service) Summary(ctx context.Context, owner string, days int) (*Summary, error) {
	if days <= 0 {
		days = 30
	}
	if days > 365 {
		days = 365
	}

	key := cacheKey(owner, days)
	if v, ok := s.cache.Get(key); ok {
		return v.(*Summary), nil
	}

	since := s.Clock.Now().AddDate(0, 0, -days)

	caseCounts, err := s.Cases.CountByStatus(ctx, owner, since)
	if err != nil {
		return nil, fmt.Errorf("case counts: %w", err)
	}
	uploadCounts, err := s.Uploads.CountByStatus(ctx, owner, since)
	if err != nil {
		return nil, fmt.Errorf("upload counts: %w", err)
	}
	stages, err := s.Detections.StageSummary(ctx, owner, "")
	if err != nil {
		return nil, fmt.Errorf("stage histogram: %w", err)
	}
	buckets, err := s.Detections.ConfidenceBuckets(ctx, owner, since)
	if err != nil {
		return nil, fmt.Errorf("confidence buckets: %w", err)
	}
	verification, err := s.Detections.CountByVerification(ctx, owner, since)
	if err != nil {
		return nil, fmt.Errorf("verification counts: %w", err)
	}
	avgPMI, estimated, err := s.Analyses.AveragePMI(ctx, owner, since)
	if err != nil {
		return nil, fmt.Errorf("average pmi: %w", err)
	}

	confirmed := verification[detections.VerificationConfirmed]
	corrected := verification[detections.VerificationCorrected]
	var rate float64
	if confirmed+corrected > 0 {
		rate = float64(corrected) / float64(confirmed+corrected)
	}

	sum := &Summary{
		Days:            days,
		CasesByStatus:   caseCounts,
		UploadsByStatus: uploadCounts,
		Stages:          stages,
		DetectionTotal:  stages.Total,
		Confidence:      buckets,
		Verification:    verification,
		CorrectionRate:  rate,
		AveragePMIHours: avgPMI,
		EstimatedCases:  estimated,
		GeneratedAt:     s.Clock.Now(),
	}
	s.cache.Set(key, sum, cacheTTL)
	return sum, nil
}
