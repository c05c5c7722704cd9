package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-timetable-engine/internal/models"
	appErrors "github.com/noah-isme/sma-timetable-engine/pkg/errors"
)

func exampleSetting() models.ScheduleGenerationSetting {
	return models.ScheduleGenerationSetting{
		InstitutionID:         "inst-1",
		WorkingDays:           models.IntList{1, 2, 3, 4, 5},
		DailyPeriods:          6,
		PeriodDurationMinutes: 45,
		FirstPeriodStart:      "08:00",
		BreakPeriods:          models.IntList{3},
		BreakDurationMinutes:  10,
	}
}

func TestBuildTimeGridInsertsBreakAfterThirdPeriod(t *testing.T) {
	grid, err := BuildTimeGrid(exampleSetting())
	require.NoError(t, err)
	require.Len(t, grid.Days, 5)

	monday := grid.Days[0].Slots
	require.Len(t, monday, 7)
	assert.Equal(t, "P03", monday[2].ID)
	assert.Equal(t, "10:15", monday[2].EndTime)
	assert.Equal(t, models.SlotTypeBreak, monday[3].SlotType)
	assert.Equal(t, "10:15", monday[3].StartTime)
	assert.Equal(t, "10:25", monday[3].EndTime)
	assert.Equal(t, 4, monday[4].PeriodNumber)
	assert.Equal(t, "10:25", monday[4].StartTime)
}

func TestBuildTimeGridLunchWinsOverBreak(t *testing.T) {
	setting := exampleSetting()
	lunch := 3
	setting.LunchBreakPeriod = &lunch
	setting.LunchDurationMinutes = 30

	grid, err := BuildTimeGrid(setting)
	require.NoError(t, err)

	slots := grid.Days[0].Slots
	assert.Equal(t, models.SlotTypeLunch, slots[3].SlotType)
	assert.Equal(t, "L03", slots[3].ID)
	assert.Equal(t, "10:45", slots[3].EndTime)
	assert.Len(t, slots, 7)
}

func TestBuildTimeGridIsDeterministicAndContiguous(t *testing.T) {
	setting := exampleSetting()
	setting.WorkingDays = models.IntList{5, 1, 3}

	first, err := BuildTimeGrid(setting)
	require.NoError(t, err)
	second, err := BuildTimeGrid(setting)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, []int{1, 3, 5}, first.WorkingDays())

	for _, day := range first.Days {
		for i := 1; i < len(day.Slots); i++ {
			assert.Equal(t, day.Slots[i-1].EndTime, day.Slots[i].StartTime, "day %d slot %d", day.DayOfWeek, i)
		}
	}
}

func TestBuildTimeGridReportsEveryViolation(t *testing.T) {
	setting := exampleSetting()
	setting.DailyPeriods = 13
	setting.PeriodDurationMinutes = 20
	setting.BreakPeriods = models.IntList{14}
	setting.FirstPeriodStart = "8am"

	_, err := BuildTimeGrid(setting)
	require.Error(t, err)

	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrConfigurationInvalid.Code, appErr.Code)
	violations, ok := appErr.Details.([]string)
	require.True(t, ok)
	assert.Len(t, violations, 4)
}

func TestValidateGenerationSettingAcceptsExample(t *testing.T) {
	assert.Empty(t, ValidateGenerationSetting(exampleSetting()))
}
