package service

import (
	"fmt"
	"sort"
	"time"

	"github.com/noah-isme/sma-timetable-engine/internal/models"
	appErrors "github.com/noah-isme/sma-timetable-engine/pkg/errors"
)

const clockLayout = "15:04"

// Clock supplies the current time to state-mutating operations.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock returns a UTC wall clock.
func SystemClock() Clock { return systemClock{} }

// ValidateGenerationSetting returns every violation found in the settings.
func ValidateGenerationSetting(setting models.ScheduleGenerationSetting) []string {
	var violations []string
	if setting.DailyPeriods < models.MinDailyPeriods || setting.DailyPeriods > models.MaxDailyPeriods {
		violations = append(violations, fmt.Sprintf("daily_periods must be between %d and %d, got %d", models.MinDailyPeriods, models.MaxDailyPeriods, setting.DailyPeriods))
	}
	if setting.PeriodDurationMinutes < models.MinPeriodMinutes || setting.PeriodDurationMinutes > models.MaxPeriodMinutes {
		violations = append(violations, fmt.Sprintf("period_duration_minutes must be between %d and %d, got %d", models.MinPeriodMinutes, models.MaxPeriodMinutes, setting.PeriodDurationMinutes))
	}
	for _, period := range setting.BreakPeriods {
		if period < 1 || period > setting.DailyPeriods {
			violations = append(violations, fmt.Sprintf("break_periods entry %d must be between 1 and daily_periods (%d)", period, setting.DailyPeriods))
		}
	}
	if setting.LunchBreakPeriod != nil && (*setting.LunchBreakPeriod < 1 || *setting.LunchBreakPeriod > setting.DailyPeriods) {
		violations = append(violations, fmt.Sprintf("lunch_break_period %d must be between 1 and daily_periods (%d)", *setting.LunchBreakPeriod, setting.DailyPeriods))
	}
	if len(setting.WorkingDays) == 0 {
		violations = append(violations, "working_days must contain at least one day")
	}
	seen := make(map[int]struct{}, len(setting.WorkingDays))
	for _, day := range setting.WorkingDays {
		if day < 1 || day > 7 {
			violations = append(violations, fmt.Sprintf("working_days entry %d must be between 1 (Monday) and 7 (Sunday)", day))
			continue
		}
		if _, dup := seen[day]; dup {
			violations = append(violations, fmt.Sprintf("working_days entry %d is duplicated", day))
		}
		seen[day] = struct{}{}
	}
	if _, err := time.Parse(clockLayout, setting.FirstPeriodStart); err != nil {
		violations = append(violations, fmt.Sprintf("first_period_start %q must use HH:MM", setting.FirstPeriodStart))
	}
	if len(setting.BreakPeriods) > 0 && setting.BreakDurationMinutes <= 0 {
		violations = append(violations, "break_duration_minutes must be positive when break_periods are set")
	}
	if setting.LunchBreakPeriod != nil && setting.LunchDurationMinutes <= 0 {
		violations = append(violations, "lunch_duration_minutes must be positive when lunch_break_period is set")
	}
	if len(violations) == 0 && dayLengthMinutes(setting) > 24*60 {
		violations = append(violations, "school day extends past midnight")
	}
	return violations
}

func dayLengthMinutes(setting models.ScheduleGenerationSetting) int {
	start, _ := time.Parse(clockLayout, setting.FirstPeriodStart)
	total := start.Hour()*60 + start.Minute() + setting.DailyPeriods*setting.PeriodDurationMinutes
	for period := 1; period <= setting.DailyPeriods; period++ {
		total += pauseAfter(setting, period).minutes
	}
	return total
}

type pause struct {
	slotType models.SlotType
	minutes  int
}

// pauseAfter resolves the pause following a period; lunch wins over a generic break.
func pauseAfter(setting models.ScheduleGenerationSetting, period int) pause {
	if setting.LunchBreakPeriod != nil && *setting.LunchBreakPeriod == period {
		return pause{slotType: models.SlotTypeLunch, minutes: setting.LunchDurationMinutes}
	}
	for _, p := range setting.BreakPeriods {
		if p == period {
			return pause{slotType: models.SlotTypeBreak, minutes: setting.BreakDurationMinutes}
		}
	}
	return pause{}
}

// BuildTimeGrid derives the weekly slot grid. Output is deterministic for identical settings.
func BuildTimeGrid(setting models.ScheduleGenerationSetting) (models.TimeGrid, error) {
	if violations := ValidateGenerationSetting(setting); len(violations) > 0 {
		return models.TimeGrid{}, appErrors.WithDetails(appErrors.ErrConfigurationInvalid, "", violations)
	}

	days := append([]int(nil), setting.WorkingDays...)
	sort.Ints(days)

	start, _ := time.Parse(clockLayout, setting.FirstPeriodStart)
	grid := models.TimeGrid{Days: make([]models.DayGrid, 0, len(days))}
	for _, day := range days {
		grid.Days = append(grid.Days, models.DayGrid{DayOfWeek: day, Slots: buildDaySlots(setting, day, start)})
	}
	return grid, nil
}

func buildDaySlots(setting models.ScheduleGenerationSetting, day int, start time.Time) []models.TimeSlot {
	slots := make([]models.TimeSlot, 0, setting.DailyPeriods*2)
	cursor := start
	for period := 1; period <= setting.DailyPeriods; period++ {
		end := cursor.Add(time.Duration(setting.PeriodDurationMinutes) * time.Minute)
		slots = append(slots, models.TimeSlot{
			ID:              models.LessonSlotID(period),
			DayOfWeek:       day,
			PeriodNumber:    period,
			StartTime:       cursor.Format(clockLayout),
			EndTime:         end.Format(clockLayout),
			DurationMinutes: setting.PeriodDurationMinutes,
			SlotType:        models.SlotTypeLesson,
		})
		cursor = end

		p := pauseAfter(setting, period)
		if p.minutes <= 0 {
			continue
		}
		end = cursor.Add(time.Duration(p.minutes) * time.Minute)
		prefix := "B"
		if p.slotType == models.SlotTypeLunch {
			prefix = "L"
		}
		slots = append(slots, models.TimeSlot{
			ID:              fmt.Sprintf("%s%02d", prefix, period),
			DayOfWeek:       day,
			PeriodNumber:    period,
			StartTime:       cursor.Format(clockLayout),
			EndTime:         end.Format(clockLayout),
			DurationMinutes: p.minutes,
			SlotType:        p.slotType,
		})
		cursor = end
	}
	return slots
}
