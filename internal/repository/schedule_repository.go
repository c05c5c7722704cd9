package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-timetable-engine/internal/models"
)

const scheduleColumns = `id, institution_id, academic_year_id, version, status, template_id, statistics, created_by, created_at, updated_at`

// ScheduleRepository persists versioned timetables.
type ScheduleRepository struct {
	db *sqlx.DB
}

// NewScheduleRepository constructs the repository.
func NewScheduleRepository(db *sqlx.DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

func (r *ScheduleRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// CreateVersioned inserts a schedule assigning the next version for the institution and academic year.
func (r *ScheduleRepository) CreateVersioned(ctx context.Context, exec sqlx.ExtContext, schedule *models.Schedule) error {
	if schedule == nil {
		return fmt.Errorf("schedule payload is nil")
	}
	if schedule.InstitutionID == "" || schedule.AcademicYearID == "" {
		return fmt.Errorf("institution_id and academic_year_id are required")
	}
	if schedule.ID == "" {
		schedule.ID = uuid.NewString()
	}
	if schedule.Status == "" {
		schedule.Status = models.ScheduleStatusDraft
	}
	now := time.Now().UTC()
	if schedule.CreatedAt.IsZero() {
		schedule.CreatedAt = now
	}
	schedule.UpdatedAt = now

	target := r.exec(exec)

	const nextVersionQuery = `SELECT COALESCE(MAX(version), 0) + 1 FROM schedules WHERE institution_id = $1 AND academic_year_id = $2`
	if err := sqlx.GetContext(ctx, target, &schedule.Version, nextVersionQuery, schedule.InstitutionID, schedule.AcademicYearID); err != nil {
		return fmt.Errorf("compute next schedule version: %w", err)
	}

	const insertQuery = `
INSERT INTO schedules (id, institution_id, academic_year_id, version, status, template_id, statistics, created_by, created_at, updated_at)
VALUES (:id, :institution_id, :academic_year_id, :version, :status, :template_id, :statistics, :created_by, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, target, insertQuery, schedule); err != nil {
		return fmt.Errorf("insert schedule: %w", err)
	}
	return nil
}

// FindByID loads a schedule by its identifier.
func (r *ScheduleRepository) FindByID(ctx context.Context, id string) (*models.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules WHERE id = $1`
	var schedule models.Schedule
	if err := r.db.GetContext(ctx, &schedule, query, id); err != nil {
		return nil, err
	}
	return &schedule, nil
}

// InstitutionOf returns the institution that owns the schedule.
func (r *ScheduleRepository) InstitutionOf(ctx context.Context, id string) (string, error) {
	var institutionID string
	if err := r.db.GetContext(ctx, &institutionID, `SELECT institution_id FROM schedules WHERE id = $1`, id); err != nil {
		return "", err
	}
	return institutionID, nil
}

// LockForUpdate reads the schedule row holding a row lock until the surrounding transaction ends.
func (r *ScheduleRepository) LockForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules WHERE id = $1 FOR UPDATE`
	var schedule models.Schedule
	if err := sqlx.GetContext(ctx, r.exec(exec), &schedule, query, id); err != nil {
		return nil, err
	}
	return &schedule, nil
}

// ListByInstitutionYear returns all versions, newest first.
func (r *ScheduleRepository) ListByInstitutionYear(ctx context.Context, institutionID, academicYearID string) ([]models.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules WHERE institution_id = $1 AND academic_year_id = $2 ORDER BY version DESC`
	var schedules []models.Schedule
	if err := r.db.SelectContext(ctx, &schedules, query, institutionID, academicYearID); err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	return schedules, nil
}

// UpdateStatistics stores the generation statistics of a schedule.
func (r *ScheduleRepository) UpdateStatistics(ctx context.Context, exec sqlx.ExtContext, id string, stats models.GenerationStatistics) error {
	const query = `UPDATE schedules SET statistics = $1, updated_at = $2 WHERE id = $3`
	result, err := r.exec(exec).ExecContext(ctx, query, stats, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update schedule statistics: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("schedule rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
