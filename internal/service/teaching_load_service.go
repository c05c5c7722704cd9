package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-engine/internal/dto"
	"github.com/noah-isme/sma-timetable-engine/internal/models"
	appErrors "github.com/noah-isme/sma-timetable-engine/pkg/errors"
)

type loadStatusStore interface {
	List(ctx context.Context, filter models.TeachingLoadFilter) ([]models.TeachingLoad, error)
	UpdateStatus(ctx context.Context, exec sqlx.ExtContext, institutionID string, ids []string, status models.LoadStatus) error
	ResetStatus(ctx context.Context, exec sqlx.ExtContext, institutionID string, ids []string) error
}

// TeachingLoadService handles the status write-back of workload declarations.
type TeachingLoadService struct {
	loads     loadStatusStore
	validator *validator.Validate
	logger    *zap.Logger
}

// NewTeachingLoadService constructs the service.
func NewTeachingLoadService(loads loadStatusStore, validate *validator.Validate, logger *zap.Logger) *TeachingLoadService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TeachingLoadService{loads: loads, validator: validate, logger: logger}
}

// List returns an institution's loads, optionally narrowed by academic year and status.
func (s *TeachingLoadService) List(ctx context.Context, filter models.TeachingLoadFilter) ([]models.TeachingLoad, error) {
	if filter.InstitutionID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "institutionId is required")
	}
	loads, err := s.loads.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list teaching loads")
	}
	return loads, nil
}

// Statistics summarises an institution's loads.
func (s *TeachingLoadService) Statistics(ctx context.Context, filter models.TeachingLoadFilter) (models.WorkloadStatistics, error) {
	loads, err := s.List(ctx, filter)
	if err != nil {
		return models.WorkloadStatistics{}, err
	}
	return SummarizeLoads(loads), nil
}

// MarkReady hands pending loads over to the scheduler.
func (s *TeachingLoadService) MarkReady(ctx context.Context, req dto.TeachingLoadStatusRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid teaching load payload")
	}
	ids := uniqueIDs(req.TeachingLoadIDs)
	if err := s.loads.UpdateStatus(ctx, nil, req.InstitutionID, ids, models.LoadStatusReady); err != nil {
		return s.statusError(err)
	}
	s.logger.Info("teaching loads marked ready", zap.Int("count", len(ids)))
	return nil
}

// ResetStatus returns loads to pending and clears their last schedule.
func (s *TeachingLoadService) ResetStatus(ctx context.Context, req dto.TeachingLoadStatusRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid teaching load payload")
	}
	ids := uniqueIDs(req.TeachingLoadIDs)
	if err := s.loads.ResetStatus(ctx, nil, req.InstitutionID, ids); err != nil {
		return s.statusError(err)
	}
	s.logger.Info("teaching load status reset", zap.Int("count", len(ids)))
	return nil
}

func (s *TeachingLoadService) statusError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, "teaching loads not found")
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update teaching loads")
}
