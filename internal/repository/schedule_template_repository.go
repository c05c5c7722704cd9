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

const templateColumns = `id, institution_id, name, description, is_public, is_active, template_type, source_schedule_id,
template_data, constraints, success_rate, usage_count, last_used_at, created_by, created_at, updated_at`

// ScheduleTemplateRepository persists reusable generation templates.
type ScheduleTemplateRepository struct {
	db *sqlx.DB
}

// NewScheduleTemplateRepository constructs the repository.
func NewScheduleTemplateRepository(db *sqlx.DB) *ScheduleTemplateRepository {
	return &ScheduleTemplateRepository{db: db}
}

// ListCandidates returns active templates visible to the institution.
func (r *ScheduleTemplateRepository) ListCandidates(ctx context.Context, institutionID string) ([]models.ScheduleTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM schedule_templates
WHERE is_active = TRUE AND (is_public = TRUE OR institution_id = $1)
ORDER BY success_rate DESC, id ASC`
	var templates []models.ScheduleTemplate
	if err := r.db.SelectContext(ctx, &templates, query, institutionID); err != nil {
		return nil, fmt.Errorf("list schedule templates: %w", err)
	}
	return templates, nil
}

// FindByID loads a template.
func (r *ScheduleTemplateRepository) FindByID(ctx context.Context, id string) (*models.ScheduleTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM schedule_templates WHERE id = $1`
	var template models.ScheduleTemplate
	if err := r.db.GetContext(ctx, &template, query, id); err != nil {
		return nil, err
	}
	return &template, nil
}

// InstitutionOf returns the owning institution, or an empty string for system templates.
func (r *ScheduleTemplateRepository) InstitutionOf(ctx context.Context, id string) (string, error) {
	var institutionID string
	if err := r.db.GetContext(ctx, &institutionID, `SELECT COALESCE(institution_id, '') FROM schedule_templates WHERE id = $1`, id); err != nil {
		return "", err
	}
	return institutionID, nil
}

// Create stores a new template.
func (r *ScheduleTemplateRepository) Create(ctx context.Context, template *models.ScheduleTemplate) error {
	if template.ID == "" {
		template.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if template.CreatedAt.IsZero() {
		template.CreatedAt = now
	}
	template.UpdatedAt = now

	const query = `INSERT INTO schedule_templates (id, institution_id, name, description, is_public, is_active, template_type,
source_schedule_id, template_data, constraints, success_rate, usage_count, last_used_at, created_by, created_at, updated_at)
VALUES (:id, :institution_id, :name, :description, :is_public, :is_active, :template_type, :source_schedule_id,
:template_data, :constraints, :success_rate, :usage_count, :last_used_at, :created_by, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, template); err != nil {
		return fmt.Errorf("insert schedule template: %w", err)
	}
	return nil
}

// UpsertSystem installs or refreshes a built-in template without touching its usage statistics.
func (r *ScheduleTemplateRepository) UpsertSystem(ctx context.Context, template *models.ScheduleTemplate) error {
	now := time.Now().UTC()
	if template.CreatedAt.IsZero() {
		template.CreatedAt = now
	}
	template.UpdatedAt = now

	const query = `INSERT INTO schedule_templates (id, institution_id, name, description, is_public, is_active, template_type,
source_schedule_id, template_data, constraints, success_rate, usage_count, last_used_at, created_by, created_at, updated_at)
VALUES (:id, NULL, :name, :description, TRUE, TRUE, :template_type, NULL, :template_data, :constraints, :success_rate,
0, NULL, NULL, :created_at, :updated_at)
ON CONFLICT (id) DO UPDATE
SET name = EXCLUDED.name,
    description = EXCLUDED.description,
    template_data = EXCLUDED.template_data,
    constraints = EXCLUDED.constraints,
    updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, template); err != nil {
		return fmt.Errorf("upsert system template: %w", err)
	}
	return nil
}

// RecordUsage stores a new success rate only if the usage count is still the one the caller read.
func (r *ScheduleTemplateRepository) RecordUsage(ctx context.Context, id string, expectedUsage, newUsage int, successRate float64, at time.Time) error {
	const query = `UPDATE schedule_templates
SET usage_count = $1, success_rate = $2, last_used_at = $3, updated_at = $3
WHERE id = $4 AND usage_count = $5`
	result, err := r.db.ExecContext(ctx, query, newUsage, successRate, at, id, expectedUsage)
	if err != nil {
		return fmt.Errorf("record template usage: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("template rows affected: %w", err)
	}
	if affected == 0 {
		return ErrVersionMismatch
	}
	return nil
}

// Deactivate hides a template from recommendations.
func (r *ScheduleTemplateRepository) Deactivate(ctx context.Context, id string) error {
	const query = `UPDATE schedule_templates SET is_active = FALSE, updated_at = $1 WHERE id = $2`
	result, err := r.db.ExecContext(ctx, query, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("deactivate template: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("template rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
