package dto

import "github.com/noah-isme/sma-timetable-engine/internal/models"

// GenerateScheduleRequest asks the engine to place the given teaching loads.
type GenerateScheduleRequest struct {
	InstitutionID   string   `json:"institutionId" validate:"required"`
	AcademicYearID  string   `json:"academicYearId" validate:"required"`
	TeachingLoadIDs []string `json:"teachingLoadIds" validate:"required,min=1,dive,required"`
	TemplateID      string   `json:"templateId"`
	ActorID         string   `json:"-" validate:"required"`
}

// GenerateScheduleResponse returns the persisted schedule with its sessions and conflicts.
type GenerateScheduleResponse struct {
	ScheduleID string                      `json:"scheduleId"`
	Version    int                         `json:"version"`
	Sessions   []models.ScheduleSession    `json:"sessions"`
	Conflicts  []models.ScheduleConflict   `json:"conflicts"`
	Degraded   []DegradedPlacementResponse `json:"degraded,omitempty"`
	Statistics models.GenerationStatistics `json:"statistics"`
}

// DegradedPlacementResponse lists constraint violations of a session placed by best partial match.
type DegradedPlacementResponse struct {
	SessionID  string   `json:"sessionId"`
	LoadID     string   `json:"teachingLoadId"`
	Violations []string `json:"violations"`
}

// DetectConflictsRequest triggers a re-scan of a schedule.
type DetectConflictsRequest struct {
	Retrigger bool `json:"retrigger"`
}

// DetectConflictsResponse summarises a scan.
type DetectConflictsResponse struct {
	ScheduleID string                    `json:"scheduleId"`
	Created    int                       `json:"created"`
	Updated    int                       `json:"updated"`
	Suppressed int                       `json:"suppressed"`
	Conflicts  []models.ScheduleConflict `json:"conflicts"`
}

// TransitionConflictRequest moves a conflict through its workflow.
type TransitionConflictRequest struct {
	Action  models.ConflictAction `json:"action" validate:"required,oneof=acknowledge start_resolution resolve ignore escalate"`
	Notes   string                `json:"notes"`
	Actions []string              `json:"actions"`
}

// ReportConflictRequest records a conflict raised by a person.
type ReportConflictRequest struct {
	ConflictType models.ConflictType `json:"conflictType" validate:"required,oneof=teacher room resource time capacity prerequisite preference policy custom"`
	Severity     models.Severity     `json:"severity" validate:"required,oneof=critical high medium low info"`
	SessionID    string              `json:"sessionId"`
	SourceKind   models.EntityKind   `json:"sourceKind" validate:"required"`
	SourceID     string              `json:"sourceId" validate:"required"`
	TargetKind   models.EntityKind   `json:"targetKind"`
	TargetID     string              `json:"targetId"`
	Title        string              `json:"title" validate:"required,max=200"`
	Description  string              `json:"description"`
}

// ConflictListQuery filters conflicts of a schedule.
type ConflictListQuery struct {
	Status   string `form:"status"`
	Severity string `form:"severity"`
	Type     string `form:"type"`
	Page     int    `form:"page"`
	PageSize int    `form:"pageSize"`
}

// SessionActionRequest carries the optional arguments of session lifecycle actions.
type SessionActionRequest struct {
	Reason              string `json:"reason"`
	DayOfWeek           int    `json:"dayOfWeek" validate:"omitempty,min=1,max=7"`
	PeriodNumber        int    `json:"periodNumber" validate:"omitempty,min=1,max=12"`
	RoomID              string `json:"roomId"`
	SubstituteTeacherID string `json:"substituteTeacherId"`
}

// RecommendTemplatesRequest either passes a summary directly or lets the server summarise loads.
type RecommendTemplatesRequest struct {
	InstitutionID   string                  `json:"institutionId" validate:"required"`
	AcademicYearID  string                  `json:"academicYearId"`
	TeachingLoadIDs []string                `json:"teachingLoadIds"`
	Summary         *models.WorkloadSummary `json:"summary"`
}

// CreateTemplateRequest names a template extracted from a schedule.
type CreateTemplateRequest struct {
	Name        string `json:"name" validate:"required,max=150"`
	Description string `json:"description"`
	IsPublic    bool   `json:"isPublic"`
}

// ApplyTemplateRequest previews a template against teaching loads.
type ApplyTemplateRequest struct {
	InstitutionID   string   `json:"institutionId" validate:"required"`
	TeachingLoadIDs []string `json:"teachingLoadIds" validate:"required,min=1"`
}

// ApplyTemplateResponse returns merged settings and biased loads.
type ApplyTemplateResponse struct {
	Setting models.ScheduleGenerationSetting `json:"setting"`
	Loads   []models.TeachingLoad            `json:"teachingLoads"`
}

// TeachingLoadStatusRequest updates the scheduling status of several loads.
type TeachingLoadStatusRequest struct {
	InstitutionID   string   `json:"institutionId" validate:"required"`
	TeachingLoadIDs []string `json:"teachingLoadIds" validate:"required,min=1,dive,required"`
}
