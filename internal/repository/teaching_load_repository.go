package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sma-timetable-engine/internal/models"
)

const teachingLoadColumns = `id, institution_id, academic_year_id, teacher_id, subject_id, subject_name, class_id, weekly_hours,
preferred_consecutive_hours, preferred_time_slots, unavailable_periods, priority_level, distribution_pattern,
expected_student_count, requires_projector, requires_computer, requires_lab_equipment, scheduling_status,
is_scheduled, last_schedule_id, last_scheduled_at, created_at, updated_at`

// TeachingLoadRepository reads workload declarations and writes back their scheduling status.
type TeachingLoadRepository struct {
	db *sqlx.DB
}

// NewTeachingLoadRepository constructs the repository.
func NewTeachingLoadRepository(db *sqlx.DB) *TeachingLoadRepository {
	return &TeachingLoadRepository{db: db}
}

func (r *TeachingLoadRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// ListByIDs returns the requested loads of an institution and academic year ordered by id.
func (r *TeachingLoadRepository) ListByIDs(ctx context.Context, exec sqlx.ExtContext, institutionID, academicYearID string, ids []string) ([]models.TeachingLoad, error) {
	query := `SELECT ` + teachingLoadColumns + ` FROM teaching_loads
WHERE institution_id = $1 AND academic_year_id = $2 AND id = ANY($3) ORDER BY id`
	var loads []models.TeachingLoad
	if err := sqlx.SelectContext(ctx, r.exec(exec), &loads, query, institutionID, academicYearID, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("list teaching loads: %w", err)
	}
	return loads, nil
}

// List returns loads matching the filter.
func (r *TeachingLoadRepository) List(ctx context.Context, filter models.TeachingLoadFilter) ([]models.TeachingLoad, error) {
	query := `SELECT ` + teachingLoadColumns + ` FROM teaching_loads WHERE institution_id = $1`
	args := []interface{}{filter.InstitutionID}
	if filter.AcademicYearID != "" {
		args = append(args, filter.AcademicYearID)
		query += fmt.Sprintf(" AND academic_year_id = $%d", len(args))
	}
	if len(filter.IDs) > 0 {
		args = append(args, pq.Array(filter.IDs))
		query += fmt.Sprintf(" AND id = ANY($%d)", len(args))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		args = append(args, pq.Array(statuses))
		query += fmt.Sprintf(" AND scheduling_status = ANY($%d)", len(args))
	}
	query += " ORDER BY priority_level ASC, id ASC"

	var loads []models.TeachingLoad
	if err := r.db.SelectContext(ctx, &loads, query, args...); err != nil {
		return nil, fmt.Errorf("list teaching loads: %w", err)
	}
	return loads, nil
}

// MarkScheduled flags the loads as placed into the given schedule.
func (r *TeachingLoadRepository) MarkScheduled(ctx context.Context, exec sqlx.ExtContext, ids []string, scheduleID string, at time.Time) error {
	const query = `UPDATE teaching_loads
SET scheduling_status = $1, is_scheduled = TRUE, last_schedule_id = $2, last_scheduled_at = $3, updated_at = $3
WHERE id = ANY($4)`
	return r.updateMany(ctx, exec, len(ids), "mark teaching loads scheduled", query, models.LoadStatusScheduled, scheduleID, at, pq.Array(ids))
}

// UpdateStatus sets the scheduling status of an institution's loads. Ids owned by another institution are not touched.
func (r *TeachingLoadRepository) UpdateStatus(ctx context.Context, exec sqlx.ExtContext, institutionID string, ids []string, status models.LoadStatus) error {
	const query = `UPDATE teaching_loads SET scheduling_status = $1, updated_at = $2 WHERE institution_id = $3 AND id = ANY($4)`
	return r.updateMany(ctx, exec, len(ids), "update teaching load status", query, status, time.Now().UTC(), institutionID, pq.Array(ids))
}

// ResetStatus returns an institution's loads to pending and detaches them from their last schedule.
func (r *TeachingLoadRepository) ResetStatus(ctx context.Context, exec sqlx.ExtContext, institutionID string, ids []string) error {
	const query = `UPDATE teaching_loads
SET scheduling_status = $1, is_scheduled = FALSE, last_schedule_id = NULL, last_scheduled_at = NULL, updated_at = $2
WHERE institution_id = $3 AND id = ANY($4)`
	return r.updateMany(ctx, exec, len(ids), "reset teaching load status", query, models.LoadStatusPending, time.Now().UTC(), institutionID, pq.Array(ids))
}

func (r *TeachingLoadRepository) updateMany(ctx context.Context, exec sqlx.ExtContext, expected int, op, query string, args ...interface{}) error {
	if expected == 0 {
		return nil
	}
	result, err := r.exec(exec).ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// RoomRepository reads the room inventory.
type RoomRepository struct {
	db *sqlx.DB
}

// NewRoomRepository constructs the repository.
func NewRoomRepository(db *sqlx.DB) *RoomRepository {
	return &RoomRepository{db: db}
}

// ListByInstitution returns rooms ordered by id.
func (r *RoomRepository) ListByInstitution(ctx context.Context, institutionID string) ([]models.Room, error) {
	const query = `SELECT id, institution_id, name, capacity, has_projector, has_computer, has_lab_equipment
FROM rooms WHERE institution_id = $1 AND is_active = TRUE ORDER BY id`
	var rooms []models.Room
	if err := r.db.SelectContext(ctx, &rooms, query, institutionID); err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	return rooms, nil
}
