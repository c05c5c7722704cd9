package models

import "time"

// ScheduleStatus represents lifecycle phases for generated schedules.
type ScheduleStatus string

const (
	ScheduleStatusDraft    ScheduleStatus = "draft"
	ScheduleStatusApproved ScheduleStatus = "approved"
	ScheduleStatusArchived ScheduleStatus = "archived"
)

// GenerationStatistics summarises one generation run.
type GenerationStatistics struct {
	TotalLoads       int     `json:"total_loads"`
	TotalSessions    int     `json:"total_sessions"`
	DegradedSessions int     `json:"degraded_sessions"`
	ConflictCount    int     `json:"conflict_count"`
	BlockingCount    int     `json:"blocking_count"`
	SuccessRate      float64 `json:"success_rate"`
	EfficiencyScore  float64 `json:"efficiency_score"`
	DurationMillis   int64   `json:"duration_ms"`
}

// Schedule is a versioned timetable for an institution and academic year.
type Schedule struct {
	ID             string               `db:"id" json:"id"`
	InstitutionID  string               `db:"institution_id" json:"institution_id"`
	AcademicYearID string               `db:"academic_year_id" json:"academic_year_id"`
	Version        int                  `db:"version" json:"version"`
	Status         ScheduleStatus       `db:"status" json:"status"`
	TemplateID     *string              `db:"template_id" json:"template_id,omitempty"`
	Statistics     GenerationStatistics `db:"statistics" json:"statistics"`
	CreatedBy      string               `db:"created_by" json:"created_by"`
	CreatedAt      time.Time            `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time            `db:"updated_at" json:"updated_at"`
}

// GenerationResult is returned by a successful generation run.
type GenerationResult struct {
	Schedule   Schedule             `json:"schedule"`
	Sessions   []ScheduleSession    `json:"sessions"`
	Conflicts  []ScheduleConflict   `json:"conflicts"`
	Statistics GenerationStatistics `json:"statistics"`
}

// ApprovalGate reports whether a schedule may be finalized.
type ApprovalGate struct {
	ScheduleID    string `json:"schedule_id"`
	BlockingCount int    `json:"blocking_count"`
	CanFinalize   bool   `json:"can_finalize"`
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
