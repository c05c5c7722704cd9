package models

import (
	"fmt"
	"time"
)

// LoadStatus tracks the scheduling state of a teaching load.
type LoadStatus string

const (
	LoadStatusPending   LoadStatus = "pending"
	LoadStatusReady     LoadStatus = "ready"
	LoadStatusScheduled LoadStatus = "scheduled"
	LoadStatusConflict  LoadStatus = "conflict"
)

// PeriodRef points at a lesson period. DayOfWeek 0 matches every working day.
type PeriodRef struct {
	DayOfWeek    int `json:"day_of_week"`
	PeriodNumber int `json:"period_number"`
}

// Matches reports whether the reference covers the given day and period.
func (p PeriodRef) Matches(day, period int) bool {
	return p.PeriodNumber == period && (p.DayOfWeek == 0 || p.DayOfWeek == day)
}

// Key renders the reference as "day_period".
func (p PeriodRef) Key() string {
	return fmt.Sprintf("%d_%d", p.DayOfWeek, p.PeriodNumber)
}

// DistributionPattern biases placement, usually attached from a template.
type DistributionPattern struct {
	PreferredPeriods []int       `json:"preferred_periods,omitempty"`
	PreferredDays    []int       `json:"preferred_days,omitempty"`
	MaxConsecutive   int         `json:"max_consecutive,omitempty"`
	DayDistribution  map[int]int `json:"day_distribution,omitempty"`
}

// TeachingLoad is a weekly teacher/subject/class commitment awaiting placement.
type TeachingLoad struct {
	ID                        string               `db:"id" json:"id"`
	InstitutionID             string               `db:"institution_id" json:"institution_id"`
	AcademicYearID            string               `db:"academic_year_id" json:"academic_year_id"`
	TeacherID                 string               `db:"teacher_id" json:"teacher_id"`
	SubjectID                 string               `db:"subject_id" json:"subject_id"`
	SubjectName               string               `db:"subject_name" json:"subject_name"`
	ClassID                   string               `db:"class_id" json:"class_id"`
	WeeklyHours               int                  `db:"weekly_hours" json:"weekly_hours"`
	PreferredConsecutiveHours int                  `db:"preferred_consecutive_hours" json:"preferred_consecutive_hours"`
	PreferredTimeSlots        PeriodRefList        `db:"preferred_time_slots" json:"preferred_time_slots"`
	UnavailablePeriods        PeriodRefList        `db:"unavailable_periods" json:"unavailable_periods"`
	PriorityLevel             int                  `db:"priority_level" json:"priority_level"`
	DistributionPattern       *DistributionPattern `db:"distribution_pattern" json:"distribution_pattern,omitempty"`
	ExpectedStudentCount      int                  `db:"expected_student_count" json:"expected_student_count"`
	RequiresProjector         bool                 `db:"requires_projector" json:"requires_projector"`
	RequiresComputer          bool                 `db:"requires_computer" json:"requires_computer"`
	RequiresLabEquipment      bool                 `db:"requires_lab_equipment" json:"requires_lab_equipment"`
	SchedulingStatus          LoadStatus           `db:"scheduling_status" json:"scheduling_status"`
	IsScheduled               bool                 `db:"is_scheduled" json:"is_scheduled"`
	LastScheduleID            *string              `db:"last_schedule_id" json:"last_schedule_id,omitempty"`
	LastScheduledAt           *time.Time           `db:"last_scheduled_at" json:"last_scheduled_at,omitempty"`
	CreatedAt                 time.Time            `db:"created_at" json:"created_at"`
	UpdatedAt                 time.Time            `db:"updated_at" json:"updated_at"`
}

// IsUnavailable reports whether the load excludes the given day/period.
func (l TeachingLoad) IsUnavailable(day, period int) bool {
	for _, ref := range l.UnavailablePeriods {
		if ref.Matches(day, period) {
			return true
		}
	}
	return false
}

// IsPreferred reports whether the given day/period is one of the load's preferred slots.
func (l TeachingLoad) IsPreferred(day, period int) bool {
	for _, ref := range l.PreferredTimeSlots {
		if ref.Matches(day, period) {
			return true
		}
	}
	return false
}

// ConstraintCount counts explicit placement constraints declared on the load.
func (l TeachingLoad) ConstraintCount() int {
	count := len(l.PreferredTimeSlots) + len(l.UnavailablePeriods)
	if l.PreferredConsecutiveHours > 1 {
		count++
	}
	if l.RequiresProjector {
		count++
	}
	if l.RequiresComputer {
		count++
	}
	if l.RequiresLabEquipment {
		count++
	}
	return count
}

// TeachingLoadFilter narrows teaching load lookups.
type TeachingLoadFilter struct {
	InstitutionID  string
	AcademicYearID string
	IDs            []string
	Statuses       []LoadStatus
}

// WorkloadStatistics summarises a set of teaching loads.
type WorkloadStatistics struct {
	TotalLoads       int            `json:"total_loads"`
	TotalWeeklyHours int            `json:"total_weekly_hours"`
	UniqueTeachers   int            `json:"unique_teachers"`
	UniqueSubjects   int            `json:"unique_subjects"`
	UniqueClasses    int            `json:"unique_classes"`
	ConstraintCount  int            `json:"constraint_count"`
	TeacherHours     map[string]int `json:"teacher_hours"`
}

// Room is a teaching space from the room inventory.
type Room struct {
	ID              string `db:"id" json:"id"`
	InstitutionID   string `db:"institution_id" json:"institution_id"`
	Name            string `db:"name" json:"name"`
	Capacity        int    `db:"capacity" json:"capacity"`
	HasProjector    bool   `db:"has_projector" json:"has_projector"`
	HasComputer     bool   `db:"has_computer" json:"has_computer"`
	HasLabEquipment bool   `db:"has_lab_equipment" json:"has_lab_equipment"`
}

// Supports reports whether the room offers every facility the requirement asks for.
func (r Room) Supports(projector, computer, lab bool) bool {
	return (!projector || r.HasProjector) && (!computer || r.HasComputer) && (!lab || r.HasLabEquipment)
}
