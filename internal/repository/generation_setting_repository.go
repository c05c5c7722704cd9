package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-timetable-engine/internal/models"
)

// GenerationSettingRepository persists per-institution grid settings.
type GenerationSettingRepository struct {
	db *sqlx.DB
}

// NewGenerationSettingRepository constructs the repository.
func NewGenerationSettingRepository(db *sqlx.DB) *GenerationSettingRepository {
	return &GenerationSettingRepository{db: db}
}

// FindByInstitution returns the stored settings, or sql.ErrNoRows when none exist.
func (r *GenerationSettingRepository) FindByInstitution(ctx context.Context, institutionID string) (*models.ScheduleGenerationSetting, error) {
	const query = `SELECT id, institution_id, working_days, daily_periods, period_duration_minutes, break_periods,
lunch_break_period, first_period_start, break_duration_minutes, lunch_duration_minutes, generation_preferences,
created_at, updated_at FROM schedule_generation_settings WHERE institution_id = $1`
	var setting models.ScheduleGenerationSetting
	if err := r.db.GetContext(ctx, &setting, query, institutionID); err != nil {
		return nil, err
	}
	return &setting, nil
}

// Upsert creates or replaces the settings of an institution.
func (r *GenerationSettingRepository) Upsert(ctx context.Context, setting *models.ScheduleGenerationSetting) error {
	if setting.ID == "" {
		setting.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if setting.CreatedAt.IsZero() {
		setting.CreatedAt = now
	}
	setting.UpdatedAt = now

	const query = `INSERT INTO schedule_generation_settings (id, institution_id, working_days, daily_periods,
period_duration_minutes, break_periods, lunch_break_period, first_period_start, break_duration_minutes,
lunch_duration_minutes, generation_preferences, created_at, updated_at)
VALUES (:id, :institution_id, :working_days, :daily_periods, :period_duration_minutes, :break_periods,
:lunch_break_period, :first_period_start, :break_duration_minutes, :lunch_duration_minutes,
:generation_preferences, :created_at, :updated_at)
ON CONFLICT (institution_id) DO UPDATE
SET working_days = EXCLUDED.working_days,
    daily_periods = EXCLUDED.daily_periods,
    period_duration_minutes = EXCLUDED.period_duration_minutes,
    break_periods = EXCLUDED.break_periods,
    lunch_break_period = EXCLUDED.lunch_break_period,
    first_period_start = EXCLUDED.first_period_start,
    break_duration_minutes = EXCLUDED.break_duration_minutes,
    lunch_duration_minutes = EXCLUDED.lunch_duration_minutes,
    generation_preferences = EXCLUDED.generation_preferences,
    updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, setting); err != nil {
		return fmt.Errorf("upsert generation setting: %w", err)
	}
	return nil
}
