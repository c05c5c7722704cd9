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

const sessionColumns = `id, schedule_id, teaching_load_id, subject_id, teacher_id, class_id, room_id, time_slot_id,
day_of_week, period_number, start_time, end_time, session_type, status, requires_projector, requires_computer,
requires_lab_equipment, expected_student_count, has_conflicts, conflict_severity, substitute_teacher_id,
original_teacher_id, notes, started_at, completed_at, updated_by, created_at, updated_at`

// ScheduleSessionRepository persists placed sessions.
type ScheduleSessionRepository struct {
	db *sqlx.DB
}

// NewScheduleSessionRepository constructs the repository.
func NewScheduleSessionRepository(db *sqlx.DB) *ScheduleSessionRepository {
	return &ScheduleSessionRepository{db: db}
}

func (r *ScheduleSessionRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// InsertBatch writes all sessions of a generation run.
func (r *ScheduleSessionRepository) InsertBatch(ctx context.Context, exec sqlx.ExtContext, sessions []models.ScheduleSession) error {
	if len(sessions) == 0 {
		return nil
	}
	target := r.exec(exec)
	now := time.Now().UTC()

	const query = `
INSERT INTO schedule_sessions (id, schedule_id, teaching_load_id, subject_id, teacher_id, class_id, room_id, time_slot_id,
day_of_week, period_number, start_time, end_time, session_type, status, requires_projector, requires_computer,
requires_lab_equipment, expected_student_count, has_conflicts, conflict_severity, created_at, updated_at)
VALUES (:id, :schedule_id, :teaching_load_id, :subject_id, :teacher_id, :class_id, :room_id, :time_slot_id,
:day_of_week, :period_number, :start_time, :end_time, :session_type, :status, :requires_projector, :requires_computer,
:requires_lab_equipment, :expected_student_count, :has_conflicts, :conflict_severity, :created_at, :updated_at)`

	for i := range sessions {
		session := &sessions[i]
		if session.ID == "" {
			session.ID = uuid.NewString()
		}
		if session.CreatedAt.IsZero() {
			session.CreatedAt = now
		}
		if session.UpdatedAt.IsZero() {
			session.UpdatedAt = session.CreatedAt
		}
		if session.ConflictSeverity == "" {
			session.ConflictSeverity = models.ConflictSeverityNone
		}
		if _, err := sqlx.NamedExecContext(ctx, target, query, session); err != nil {
			return fmt.Errorf("insert schedule session: %w", err)
		}
	}
	return nil
}

// ListBySchedule returns sessions ordered by day and period.
func (r *ScheduleSessionRepository) ListBySchedule(ctx context.Context, exec sqlx.ExtContext, scheduleID string) ([]models.ScheduleSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM schedule_sessions WHERE schedule_id = $1 ORDER BY day_of_week ASC, period_number ASC, id ASC`
	var sessions []models.ScheduleSession
	if err := sqlx.SelectContext(ctx, r.exec(exec), &sessions, query, scheduleID); err != nil {
		return nil, fmt.Errorf("list schedule sessions: %w", err)
	}
	return sessions, nil
}

// FindByID loads a session.
func (r *ScheduleSessionRepository) FindByID(ctx context.Context, id string) (*models.ScheduleSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM schedule_sessions WHERE id = $1`
	var session models.ScheduleSession
	if err := r.db.GetContext(ctx, &session, query, id); err != nil {
		return nil, err
	}
	return &session, nil
}

// InstitutionOf resolves the session's institution through its schedule.
func (r *ScheduleSessionRepository) InstitutionOf(ctx context.Context, id string) (string, error) {
	const query = `SELECT s.institution_id FROM schedule_sessions ss
JOIN schedules s ON s.id = ss.schedule_id WHERE ss.id = $1`
	var institutionID string
	if err := r.db.GetContext(ctx, &institutionID, query, id); err != nil {
		return "", err
	}
	return institutionID, nil
}

// UpdateConflictFlags writes the detector's conflict markers.
func (r *ScheduleSessionRepository) UpdateConflictFlags(ctx context.Context, exec sqlx.ExtContext, sessionID string, hasConflicts bool, severity string, at time.Time) error {
	const query = `UPDATE schedule_sessions SET has_conflicts = $1, conflict_severity = $2, updated_at = $3 WHERE id = $4`
	if _, err := r.exec(exec).ExecContext(ctx, query, hasConflicts, severity, at, sessionID); err != nil {
		return fmt.Errorf("update session conflict flags: %w", err)
	}
	return nil
}

// UpdateLifecycle stores a lifecycle change only if the stored status still equals expected.
func (r *ScheduleSessionRepository) UpdateLifecycle(ctx context.Context, session *models.ScheduleSession, expected models.SessionStatus) error {
	const query = `UPDATE schedule_sessions
SET status = :status, room_id = :room_id, time_slot_id = :time_slot_id, day_of_week = :day_of_week,
    period_number = :period_number, start_time = :start_time, end_time = :end_time,
    substitute_teacher_id = :substitute_teacher_id, original_teacher_id = :original_teacher_id, notes = :notes,
    started_at = :started_at, completed_at = :completed_at, updated_by = :updated_by, updated_at = :updated_at
WHERE id = :id AND status = :expected_status`

	args := struct {
		*models.ScheduleSession
		ExpectedStatus models.SessionStatus `db:"expected_status"`
	}{session, expected}

	result, err := r.db.NamedExecContext(ctx, query, args)
	if err != nil {
		return fmt.Errorf("update session lifecycle: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("session rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
