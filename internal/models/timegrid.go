package models

import (
	"fmt"
	"time"
)

// Grid bounds accepted by the builder.
const (
	MinDailyPeriods  = 1
	MaxDailyPeriods  = 12
	MinPeriodMinutes = 30
	MaxPeriodMinutes = 120
)

// SlotType classifies a time slot.
type SlotType string

const (
	SlotTypeLesson SlotType = "lesson"
	SlotTypeBreak  SlotType = "break"
	SlotTypeLunch  SlotType = "lunch"
)

// TimeSlot is a single bounded interval of a school day. Break and lunch slots carry the period they follow.
type TimeSlot struct {
	ID              string   `json:"id"`
	DayOfWeek       int      `json:"day_of_week"`
	PeriodNumber    int      `json:"period_number"`
	StartTime       string   `json:"start_time"`
	EndTime         string   `json:"end_time"`
	DurationMinutes int      `json:"duration_minutes"`
	SlotType        SlotType `json:"slot_type"`
}

// IsLesson reports whether sessions can be placed in the slot.
func (s TimeSlot) IsLesson() bool {
	return s.SlotType == SlotTypeLesson
}

// LessonSlotID returns the identifier shared by the lesson slot of the given period on every day.
func LessonSlotID(period int) string {
	return fmt.Sprintf("P%02d", period)
}

// DayGrid holds the ordered slots of one working day.
type DayGrid struct {
	DayOfWeek int        `json:"day_of_week"`
	Slots     []TimeSlot `json:"slots"`
}

// TimeGrid is the weekly grid derived from generation settings.
type TimeGrid struct {
	Days []DayGrid `json:"days"`
}

// LessonSlots returns lesson slots in day then period order.
func (g TimeGrid) LessonSlots() []TimeSlot {
	var out []TimeSlot
	for _, day := range g.Days {
		for _, slot := range day.Slots {
			if slot.IsLesson() {
				out = append(out, slot)
			}
		}
	}
	return out
}

// LessonSlotsForDay returns lesson slots of a single day.
func (g TimeGrid) LessonSlotsForDay(day int) []TimeSlot {
	for _, d := range g.Days {
		if d.DayOfWeek != day {
			continue
		}
		out := make([]TimeSlot, 0, len(d.Slots))
		for _, slot := range d.Slots {
			if slot.IsLesson() {
				out = append(out, slot)
			}
		}
		return out
	}
	return nil
}

// WorkingDays lists the days present in the grid.
func (g TimeGrid) WorkingDays() []int {
	days := make([]int, 0, len(g.Days))
	for _, d := range g.Days {
		days = append(days, d.DayOfWeek)
	}
	return days
}

// GenerationPreferences tune placement and detection policy.
type GenerationPreferences struct {
	MaxConsecutiveHours    int  `json:"max_consecutive_hours,omitempty"`
	TeacherWeeklyHourLimit int  `json:"teacher_weekly_hour_limit,omitempty"`
	PreferMorningCore      bool `json:"prefer_morning_core_subjects,omitempty"`
}

// ScheduleGenerationSetting is the per-institution grid configuration.
type ScheduleGenerationSetting struct {
	ID                    string                `db:"id" json:"id"`
	InstitutionID         string                `db:"institution_id" json:"institution_id"`
	WorkingDays           IntList               `db:"working_days" json:"working_days"`
	DailyPeriods          int                   `db:"daily_periods" json:"daily_periods"`
	PeriodDurationMinutes int                   `db:"period_duration_minutes" json:"period_duration_minutes"`
	BreakPeriods          IntList               `db:"break_periods" json:"break_periods"`
	LunchBreakPeriod      *int                  `db:"lunch_break_period" json:"lunch_break_period,omitempty"`
	FirstPeriodStart      string                `db:"first_period_start" json:"first_period_start"`
	BreakDurationMinutes  int                   `db:"break_duration_minutes" json:"break_duration_minutes"`
	LunchDurationMinutes  int                   `db:"lunch_duration_minutes" json:"lunch_duration_minutes"`
	GenerationPreferences GenerationPreferences `db:"generation_preferences" json:"generation_preferences"`
	CreatedAt             time.Time             `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time             `db:"updated_at" json:"updated_at"`
}
