package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-engine/internal/models"
	appErrors "github.com/noah-isme/sma-timetable-engine/pkg/errors"
)

type generationSettingStore interface {
	FindByInstitution(ctx context.Context, institutionID string) (*models.ScheduleGenerationSetting, error)
	Upsert(ctx context.Context, setting *models.ScheduleGenerationSetting) error
}

// GenerationSettingView is a setting plus whether it came from the configured default.
type GenerationSettingView struct {
	Setting   models.ScheduleGenerationSetting `json:"setting"`
	IsDefault bool                             `json:"isDefault"`
	Grid      models.TimeGrid                  `json:"grid"`
}

// GenerationSettingService manages per-institution grid settings.
type GenerationSettingService struct {
	store    generationSettingStore
	cache    *CacheService
	logger   *zap.Logger
	defaults models.ScheduleGenerationSetting
}

// NewGenerationSettingService constructs the service.
func NewGenerationSettingService(store generationSettingStore, cache *CacheService, logger *zap.Logger, defaults models.ScheduleGenerationSetting) *GenerationSettingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GenerationSettingService{store: store, cache: cache, logger: logger, defaults: defaults}
}

// Get returns the stored setting, or the default when the institution has none.
func (s *GenerationSettingService) Get(ctx context.Context, institutionID string) (*GenerationSettingView, error) {
	if strings.TrimSpace(institutionID) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "institutionId is required")
	}
	view := &GenerationSettingView{}
	stored, err := s.store.FindByInstitution(ctx, institutionID)
	switch {
	case err == nil:
		view.Setting = *stored
	case errors.Is(err, sql.ErrNoRows):
		view.Setting = s.defaults
		view.Setting.InstitutionID = institutionID
		view.IsDefault = true
	default:
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load generation settings")
	}
	grid, err := BuildTimeGrid(view.Setting)
	if err != nil {
		return nil, err
	}
	view.Grid = grid
	return view, nil
}

// Update validates and stores the setting. Violations are returned together as CONFIGURATION_INVALID details.
func (s *GenerationSettingService) Update(ctx context.Context, institutionID string, setting models.ScheduleGenerationSetting) (*GenerationSettingView, error) {
	if strings.TrimSpace(institutionID) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "institutionId is required")
	}
	setting.InstitutionID = institutionID
	grid, err := BuildTimeGrid(setting)
	if err != nil {
		return nil, err
	}
	if err := s.store.Upsert(ctx, &setting); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save generation settings")
	}
	s.cache.Invalidate(ctx, templateCachePrefix+institutionID+":*")
	s.logger.Info("generation settings updated",
		zap.String("institution_id", institutionID),
		zap.Int("daily_periods", setting.DailyPeriods),
		zap.Ints("working_days", setting.WorkingDays),
	)
	return &GenerationSettingView{Setting: setting, Grid: grid}, nil
}
