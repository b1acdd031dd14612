package analysis

import (
	"context"

	"github.com/google/uuid"

	"github.com/entomolab/casetrace/internal/application"
	domain "github.com/entomolab/casetrace/internal/domain/analysis"
	"github.com/entomolab/casetrace/internal/domain/cases"
	"github.com/entomolab/casetrace/internal/domain/detections"
)

// Service computes and stores PMI estimates per case.
type Service struct {
	Repo       domain.Repository
	Cases      cases.Repository
	Detections detections.Repository
	Clock      application.Clock
}

// Recompute derives a fresh estimate from the case's current detection
// set. Rejected detections are excluded; corrected stages win over the
// detected ones. The oldest observed stage drives the estimate.
func (s *Service) Recompute(ctx context.Context, owner, caseID string) error {
	_, err := s.RecomputeEstimate(ctx, owner, caseID)
	return err
}

func (s *Service) RecomputeEstimate(ctx context.Context, owner, caseID string) (*domain.Estimate, error) {
	c, err := s.Cases.Get(ctx, owner, cases.CaseID(caseID))
	if err != nil {
		return nil, err
	}

	ds, err := s.Detections.ListByCase(ctx, owner, caseID)
	if err != nil {
		return nil, err
	}

	oldest := detections.LifeStage("")
	var confSum float64
	var usable int
	for _, d := range ds {
		if d.Verification == detections.VerificationRejected {
			continue
		}
		usable++
		confSum += d.Confidence
		st := d.EffectiveStage()
		if oldest == "" || detections.Older(st, oldest) {
			oldest = st
		}
	}
	if usable == 0 {
		return nil, domain.ErrNoDetections
	}

	minH, maxH, suspect := domain.EstimatePMI(oldest, c.SceneTempC)
	e := &domain.Estimate{
		ID:             domain.EstimateID(uuid.New().String()),
		CaseID:         caseID,
		PMIHoursMin:    minH,
		PMIHoursMax:    maxH,
		OldestStage:    oldest,
		MeanConfidence: confSum / float64(usable),
		Method:         domain.MethodADHv1,
		Suspect:        suspect,
		ComputedAt:     s.Clock.Now(),
	}
	if err := s.Repo.Save(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Service) LatestByCase(ctx context.Context, owner, caseID string) (*domain.Estimate, error) {
	if _, err := s.Cases.Get(ctx, owner, cases.CaseID(caseID)); err != nil {
		return nil, err
	}
	return s.Repo.LatestByCase(ctx, owner, caseID)
}

func (s *Service) History(ctx context.Context, owner, caseID string, limit int) ([]*domain.Estimate, error) {
	if _, err := s.Cases.Get(ctx, owner, cases.CaseID(caseID)); err != nil {
		return nil, err
	}
	return s.Repo.History(ctx, owner, caseID, limit)
}
