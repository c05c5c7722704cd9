package models

import "time"

// SubjectCategory groups subjects for template statistics.
type SubjectCategory string

const (
	CategoryCore      SubjectCategory = "core"
	CategorySocial    SubjectCategory = "social"
	CategoryPractical SubjectCategory = "practical"
	CategoryOther     SubjectCategory = "other"
)

// TemplateType classifies where a template came from.
type TemplateType string

const (
	TemplateTypeSystem    TemplateType = "system"
	TemplateTypeGenerated TemplateType = "generated"
	TemplateTypeCustom    TemplateType = "custom"
)

// GridSettings is the portable part of a generation setting stored inside templates.
type GridSettings struct {
	WorkingDays           []int  `json:"working_days,omitempty" yaml:"working_days"`
	DailyPeriods          int    `json:"daily_periods,omitempty" yaml:"daily_periods"`
	PeriodDurationMinutes int    `json:"period_duration_minutes,omitempty" yaml:"period_duration_minutes"`
	BreakPeriods          []int  `json:"break_periods,omitempty" yaml:"break_periods"`
	LunchBreakPeriod      *int   `json:"lunch_break_period,omitempty" yaml:"lunch_break_period"`
	FirstPeriodStart      string `json:"first_period_start,omitempty" yaml:"first_period_start"`
	BreakDurationMinutes  int    `json:"break_duration_minutes,omitempty" yaml:"break_duration_minutes"`
	LunchDurationMinutes  int    `json:"lunch_duration_minutes,omitempty" yaml:"lunch_duration_minutes"`
	MaxConsecutiveHours   int    `json:"max_consecutive_hours,omitempty" yaml:"max_consecutive_hours"`
}

// CategoryPattern captures where sessions of one subject category were placed.
type CategoryPattern struct {
	DayDistribution  map[int]int `json:"day_distribution" yaml:"day_distribution"`
	TimeDistribution map[int]int `json:"time_distribution" yaml:"time_distribution"`
	PreferredPeriods []int       `json:"preferred_periods" yaml:"preferred_periods"`
}

// TimePatterns describes the overall shape of a schedule's week.
type TimePatterns struct {
	SessionsPerDay    map[int]int `json:"sessions_per_day" yaml:"sessions_per_day"`
	SessionsPerPeriod map[int]int `json:"sessions_per_period" yaml:"sessions_per_period"`
	AverageDailyLoad  float64     `json:"average_daily_load" yaml:"average_daily_load"`
}

// TemplateData is the reusable payload of a template.
type TemplateData struct {
	GenerationSettings   GridSettings                        `json:"generation_settings" yaml:"generation_settings"`
	TeacherCount         int                                 `json:"teacher_count" yaml:"teacher_count"`
	SubjectDistribution  map[SubjectCategory]int             `json:"subject_distribution" yaml:"subject_distribution"`
	DistributionPatterns map[SubjectCategory]CategoryPattern `json:"distribution_patterns" yaml:"distribution_patterns"`
	ComplexityScore      float64                             `json:"complexity_score" yaml:"complexity_score"`
	TimePatterns         TimePatterns                        `json:"time_patterns" yaml:"time_patterns"`
}

// TemplateConstraints restrict which workloads a template may be applied to.
type TemplateConstraints struct {
	WorkingDays  []int `json:"working_days,omitempty" yaml:"working_days"`
	DailyPeriods int   `json:"daily_periods,omitempty" yaml:"daily_periods"`
	MaxTeachers  int   `json:"max_teachers,omitempty" yaml:"max_teachers"`
}

// ScheduleTemplate bundles generation parameters learned from a prior schedule.
type ScheduleTemplate struct {
	ID               string              `db:"id" json:"id"`
	InstitutionID    *string             `db:"institution_id" json:"institution_id,omitempty"`
	Name             string              `db:"name" json:"name"`
	Description      string              `db:"description" json:"description"`
	IsPublic         bool                `db:"is_public" json:"is_public"`
	IsActive         bool                `db:"is_active" json:"is_active"`
	TemplateType     TemplateType        `db:"template_type" json:"template_type"`
	SourceScheduleID *string             `db:"source_schedule_id" json:"source_schedule_id,omitempty"`
	TemplateData     TemplateData        `db:"template_data" json:"template_data"`
	Constraints      TemplateConstraints `db:"constraints" json:"constraints"`
	SuccessRate      float64             `db:"success_rate" json:"success_rate"`
	UsageCount       int                 `db:"usage_count" json:"usage_count"`
	LastUsedAt       *time.Time          `db:"last_used_at" json:"last_used_at,omitempty"`
	CreatedBy        *string             `db:"created_by" json:"created_by,omitempty"`
	CreatedAt        time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time           `db:"updated_at" json:"updated_at"`
}

// WorkloadSummary is the shape of a workload compared against templates.
type WorkloadSummary struct {
	InstitutionID       string                  `json:"institution_id"`
	TeacherCount        int                     `json:"teacher_count"`
	SubjectDistribution map[SubjectCategory]int `json:"subject_distribution"`
	ComplexityScore     float64                 `json:"complexity_score"`
	WorkingDays         []int                   `json:"working_days,omitempty"`
	DailyPeriods        int                     `json:"daily_periods,omitempty"`
}

// TemplateRecommendation is a ranked template match.
type TemplateRecommendation struct {
	Template      ScheduleTemplate `json:"template"`
	Similarity    float64          `json:"similarity"`
	Effectiveness string           `json:"effectiveness"`
}
