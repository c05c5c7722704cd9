package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sma-timetable-engine/internal/models"
)

// ErrVersionMismatch is returned when a compare-and-swap update finds a different stored version.
var ErrVersionMismatch = errors.New("stored version does not match")

const conflictColumns = `id, schedule_id, session_id, conflict_type, severity, source_kind, source_id, target_kind, target_id,
day_of_week, time_slot_id, detection_method, status, blocks_approval, is_recurring, impact_score, title, description,
fingerprint, escalation_level, detection_count, suggested_solutions, history, metadata, resolved_by, resolved_at,
resolution_notes, resolution_actions, last_notified_at, version, created_at, updated_at`

// ScheduleConflictRepository persists conflicts and their workflow state.
type ScheduleConflictRepository struct {
	db *sqlx.DB
}

// NewScheduleConflictRepository constructs the repository.
func NewScheduleConflictRepository(db *sqlx.DB) *ScheduleConflictRepository {
	return &ScheduleConflictRepository{db: db}
}

func (r *ScheduleConflictRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// ListBySchedule returns every conflict of a schedule, oldest first.
func (r *ScheduleConflictRepository) ListBySchedule(ctx context.Context, exec sqlx.ExtContext, scheduleID string) ([]models.ScheduleConflict, error) {
	query := `SELECT ` + conflictColumns + ` FROM schedule_conflicts WHERE schedule_id = $1 ORDER BY created_at ASC, id ASC`
	var conflicts []models.ScheduleConflict
	if err := sqlx.SelectContext(ctx, r.exec(exec), &conflicts, query, scheduleID); err != nil {
		return nil, fmt.Errorf("list schedule conflicts: %w", err)
	}
	return conflicts, nil
}

// List returns a filtered page of conflicts with the total count.
func (r *ScheduleConflictRepository) List(ctx context.Context, filter models.ConflictFilter) ([]models.ScheduleConflict, int, error) {
	conditions := []string{"schedule_id = $1"}
	args := []interface{}{filter.ScheduleID}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		args = append(args, pq.Array(statuses))
		conditions = append(conditions, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if filter.Severity != "" {
		args = append(args, filter.Severity)
		conditions = append(conditions, fmt.Sprintf("severity = $%d", len(args)))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		conditions = append(conditions, fmt.Sprintf("conflict_type = $%d", len(args)))
	}
	where := " WHERE " + strings.Join(conditions, " AND ")

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM schedule_conflicts`+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count schedule conflicts: %w", err)
	}

	page, size := filter.Page, filter.PageSize
	if page <= 0 {
		page = 1
	}
	if size <= 0 || size > 200 {
		size = 50
	}
	args = append(args, size, (page-1)*size)
	query := `SELECT ` + conflictColumns + ` FROM schedule_conflicts` + where +
		fmt.Sprintf(" ORDER BY impact_score DESC, created_at ASC, id ASC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	var conflicts []models.ScheduleConflict
	if err := r.db.SelectContext(ctx, &conflicts, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list schedule conflicts: %w", err)
	}
	return conflicts, total, nil
}

// FindByID loads a conflict.
func (r *ScheduleConflictRepository) FindByID(ctx context.Context, id string) (*models.ScheduleConflict, error) {
	query := `SELECT ` + conflictColumns + ` FROM schedule_conflicts WHERE id = $1`
	var conflict models.ScheduleConflict
	if err := r.db.GetContext(ctx, &conflict, query, id); err != nil {
		return nil, err
	}
	return &conflict, nil
}

// InstitutionOf resolves the conflict's institution through its schedule.
func (r *ScheduleConflictRepository) InstitutionOf(ctx context.Context, id string) (string, error) {
	const query = `SELECT s.institution_id FROM schedule_conflicts c
JOIN schedules s ON s.id = c.schedule_id WHERE c.id = $1`
	var institutionID string
	if err := r.db.GetContext(ctx, &institutionID, query, id); err != nil {
		return "", err
	}
	return institutionID, nil
}

// Insert stores a new conflict.
func (r *ScheduleConflictRepository) Insert(ctx context.Context, exec sqlx.ExtContext, conflict *models.ScheduleConflict) error {
	if conflict.ID == "" {
		conflict.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if conflict.CreatedAt.IsZero() {
		conflict.CreatedAt = now
	}
	if conflict.UpdatedAt.IsZero() {
		conflict.UpdatedAt = conflict.CreatedAt
	}
	if conflict.Version == 0 {
		conflict.Version = 1
	}

	const query = `INSERT INTO schedule_conflicts (id, schedule_id, session_id, conflict_type, severity, source_kind, source_id,
target_kind, target_id, day_of_week, time_slot_id, detection_method, status, blocks_approval, is_recurring, impact_score,
title, description, fingerprint, escalation_level, detection_count, suggested_solutions, history, metadata,
resolution_actions, version, created_at, updated_at)
VALUES (:id, :schedule_id, :session_id, :conflict_type, :severity, :source_kind, :source_id, :target_kind, :target_id,
:day_of_week, :time_slot_id, :detection_method, :status, :blocks_approval, :is_recurring, :impact_score, :title,
:description, :fingerprint, :escalation_level, :detection_count, :suggested_solutions, :history, :metadata,
:resolution_actions, :version, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, conflict); err != nil {
		return fmt.Errorf("insert schedule conflict: %w", err)
	}
	return nil
}

// UpdateDetection refreshes detector-owned fields of an open conflict and bumps its version.
func (r *ScheduleConflictRepository) UpdateDetection(ctx context.Context, exec sqlx.ExtContext, conflict *models.ScheduleConflict) error {
	const query = `UPDATE schedule_conflicts
SET severity = $1, blocks_approval = $2, is_recurring = $3, impact_score = $4, title = $5, description = $6,
    metadata = $7, detection_count = $8, updated_at = $9, version = version + 1
WHERE id = $10 AND status = ANY($11)`
	open := make([]string, len(models.OpenConflictStatuses))
	for i, s := range models.OpenConflictStatuses {
		open[i] = string(s)
	}
	result, err := r.exec(exec).ExecContext(ctx, query,
		conflict.Severity, conflict.BlocksApproval, conflict.IsRecurring, conflict.ImpactScore, conflict.Title,
		conflict.Description, conflict.Metadata, conflict.DetectionCount, conflict.UpdatedAt, conflict.ID, pq.Array(open))
	if err != nil {
		return fmt.Errorf("update detected conflict: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("conflict rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	conflict.Version++
	return nil
}

// CompareAndSwap writes workflow fields only if status and version still match the values read by the caller.
func (r *ScheduleConflictRepository) CompareAndSwap(ctx context.Context, conflict *models.ScheduleConflict, expectedStatus models.ConflictStatus, expectedVersion int) error {
	const query = `UPDATE schedule_conflicts
SET status = $1, escalation_level = $2, history = $3, resolved_by = $4, resolved_at = $5, resolution_notes = $6,
    resolution_actions = $7, updated_at = $8, version = version + 1
WHERE id = $9 AND status = $10 AND version = $11`
	result, err := r.db.ExecContext(ctx, query,
		conflict.Status, conflict.EscalationLevel, conflict.History, conflict.ResolvedBy, conflict.ResolvedAt,
		conflict.ResolutionNotes, conflict.ResolutionActions, conflict.UpdatedAt, conflict.ID, expectedStatus, expectedVersion)
	if err != nil {
		return fmt.Errorf("transition schedule conflict: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("conflict rows affected: %w", err)
	}
	if affected == 0 {
		return ErrVersionMismatch
	}
	conflict.Version = expectedVersion + 1
	return nil
}

// CountGating counts blocking conflicts that still hold back finalization.
func (r *ScheduleConflictRepository) CountGating(ctx context.Context, scheduleID string) (int, error) {
	gating := make([]string, len(models.GatingConflictStatuses))
	for i, s := range models.GatingConflictStatuses {
		gating[i] = string(s)
	}
	const query = `SELECT COUNT(*) FROM schedule_conflicts WHERE schedule_id = $1 AND blocks_approval = TRUE AND status = ANY($2)`
	var count int
	if err := r.db.GetContext(ctx, &count, query, scheduleID, pq.Array(gating)); err != nil {
		return 0, fmt.Errorf("count blocking conflicts: %w", err)
	}
	return count, nil
}

// ListUnnotifiedBlocking returns gating conflicts not notified since the cutoff.
func (r *ScheduleConflictRepository) ListUnnotifiedBlocking(ctx context.Context, cutoff time.Time, limit int) ([]models.ScheduleConflict, error) {
	gating := make([]string, len(models.GatingConflictStatuses))
	for i, s := range models.GatingConflictStatuses {
		gating[i] = string(s)
	}
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + conflictColumns + ` FROM schedule_conflicts
WHERE blocks_approval = TRUE AND status = ANY($1) AND (last_notified_at IS NULL OR last_notified_at < $2)
ORDER BY impact_score DESC, created_at ASC LIMIT $3`
	var conflicts []models.ScheduleConflict
	if err := r.db.SelectContext(ctx, &conflicts, query, pq.Array(gating), cutoff, limit); err != nil {
		return nil, fmt.Errorf("list unnotified blocking conflicts: %w", err)
	}
	return conflicts, nil
}

// MarkNotified records a delivered notification.
func (r *ScheduleConflictRepository) MarkNotified(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE schedule_conflicts SET last_notified_at = $1 WHERE id = $2`
	if _, err := r.db.ExecContext(ctx, query, at, id); err != nil {
		return fmt.Errorf("mark conflict notified: %w", err)
	}
	return nil
}
