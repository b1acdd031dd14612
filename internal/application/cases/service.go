package cases

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/entomolab/casetrace/internal/application"
	"github.com/entomolab/casetrace/internal/domain/analysis"
	domain "github.com/entomolab/casetrace/internal/domain/cases"
	"github.com/entomolab/casetrace/internal/domain/detections"
	"github.com/entomolab/casetrace/internal/domain/uploads"
)

// Service implements case use-cases, always scoped to the owning user.
type Service struct {
	Repo       domain.Repository
	Uploads    uploads.Repository
	Detections detections.Repository
	Analyses   analysis.Repository
	Images     uploads.ImageStore
	Clock      application.Clock
	Log        zerolog.Logger
}

type CreateCaseCommand struct {
	OwnerID       string
	Title         string
	SceneLocation string
	SceneTempC    float64
	DiscoveredAt  time.Time
	Notes         string
}

func (s *Service) Create(ctx context.Context, cmd CreateCaseCommand) (*domain.Case, error) {
	title := strings.TrimSpace(cmd.Title)
	if title == "" {
		return nil, fmt.Errorf("title is required")
	}
	now := s.Clock.Now()
	discovered := cmd.DiscoveredAt
	if discovered.IsZero() {
		discovered = now
	}
	c := &domain.Case{
		ID:            domain.CaseID(uuid.New().String()),
		OwnerID:       cmd.OwnerID,
		Title:         title,
		SceneLocation: strings.TrimSpace(cmd.SceneLocation),
		SceneTempC:    cmd.SceneTempC,
		DiscoveredAt:  discovered,
		Status:        domain.StatusOpen,
		Notes:         cmd.Notes,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.Repo.Save(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

type UpdateCaseCommand struct {
	Title         *string
	SceneLocation *string
	SceneTempC    *float64
	Status        *string
	Notes         *string
}

func (s *Service) Update(ctx context.Context, owner string, id domain.CaseID, cmd UpdateCaseCommand) (*domain.Case, error) {
	c, err := s.Repo.Get(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	if cmd.Title != nil {
		t := strings.TrimSpace(*cmd.Title)
		if t == "" {
			return nil, fmt.Errorf("title cannot be empty")
		}
		c.Title = t
	}
	if cmd.SceneLocation != nil {
		c.SceneLocation = strings.TrimSpace(*cmd.SceneLocation)
	}
	if cmd.SceneTempC != nil {
		c.SceneTempC = *cmd.SceneTempC
	}
	if cmd.Status != nil {
		st := domain.Status(*cmd.Status)
		if !domain.ValidStatus(st) {
			return nil, fmt.Errorf("invalid status: %s", *cmd.Status)
		}
		c.Status = st
	}
	if cmd.Notes != nil {
		c.Notes = *cmd.Notes
	}
	c.UpdatedAt = s.Clock.Now()
	if err := s.Repo.Save(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) Get(ctx context.Context, owner string, id domain.CaseID) (*domain.Case, error) {
	return s.Repo.Get(ctx, owner, id)
}

func (s *Service) List(ctx context.Context, owner string, page, pageSize int, filters map[string]interface{}) (domain.PaginatedResult, error) {
	return s.Repo.Paginate(ctx, owner, page, pageSize, filters)
}

// ListCursor is keyset pagination over the owner's cases, newest first.
// The cursor is the created_at and id of the last case on the previous
// page.
func (s *Service) ListCursor(ctx context.Context, owner string, cursorTime time.Time, cursorID string, pageSize int) ([]*domain.Case, error) {
	return s.Repo.Cursor(ctx, owner, cursorTime, cursorID, pageSize)
}

// Delete removes the case with its uploads, detections and estimates.
// Stored objects are removed first; a failed object delete is logged and
// skipped so a half-gone bucket cannot wedge row deletion.
func (s *Service) Delete(ctx context.Context, owner string, id domain.CaseID) error {
	if _, err := s.Repo.Get(ctx, owner, id); err != nil {
		return err
	}

	ups, err := s.Uploads.ListByCase(ctx, owner, string(id))
	if err != nil {
		return err
	}
	for _, u := range ups {
		if err := s.Images.Remove(ctx, u.ObjectKey); err != nil {
			s.Log.Warn().Err(err).Str("object_key", u.ObjectKey).Msg("removing stored image")
		}
	}

	if err := s.Detections.DeleteByCase(ctx, owner, string(id)); err != nil {
		return err
	}
	if err := s.Analyses.DeleteByCase(ctx, owner, string(id)); err != nil {
		return err
	}
	if err := s.Uploads.DeleteByCase(ctx, owner, string(id)); err != nil {
		return err
	}
	return s.Repo.Delete(ctx, owner, id)
}
