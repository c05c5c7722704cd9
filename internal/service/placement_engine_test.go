package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-engine/internal/models"
	appErrors "github.com/noah-isme/sma-timetable-engine/pkg/errors"
)

var fixedNow = time.Date(2026, 7, 13, 7, 0, 0, 0, time.UTC)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func sequentialIDs(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

func newTestEngine() *PlacementEngine {
	engine := NewPlacementEngine(zap.NewNop())
	engine.newID = sequentialIDs("s")
	return engine
}

func gridFor(t *testing.T, days []int, periods int) models.TimeGrid {
	t.Helper()
	grid, err := BuildTimeGrid(models.ScheduleGenerationSetting{
		WorkingDays:           days,
		DailyPeriods:          periods,
		PeriodDurationMinutes: 45,
		FirstPeriodStart:      "08:00",
	})
	require.NoError(t, err)
	return grid
}

func place(t *testing.T, engine *PlacementEngine, grid models.TimeGrid, loads []models.TeachingLoad, rooms []models.Room) *PlacementResult {
	t.Helper()
	plans, err := PlanAll(context.Background(), loads, grid.WorkingDays(), 0)
	require.NoError(t, err)
	result, err := engine.Place(context.Background(), PlacementInput{
		ScheduleID: "sched-1",
		Grid:       grid,
		Loads:      loads,
		Plans:      plans,
		Rooms:      rooms,
		Now:        fixedNow,
	})
	require.NoError(t, err)
	return result
}

func TestPlaceFailsWithoutLessonSlots(t *testing.T) {
	_, err := newTestEngine().Place(context.Background(), PlacementInput{ScheduleID: "sched-1"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrGenerationInfeasible.Code, appErrors.FromError(err).Code)
}

func TestPlaceSpreadsLoadAndAvoidsTeacherClash(t *testing.T) {
	grid := gridFor(t, weekdays, 6)
	loads := []models.TeachingLoad{
		{ID: "math", TeacherID: "t1", ClassID: "c1", WeeklyHours: 5, PriorityLevel: 1},
		{ID: "physics", TeacherID: "t1", ClassID: "c2", WeeklyHours: 5, PriorityLevel: 2},
	}
	result := place(t, newTestEngine(), grid, loads, nil)

	require.Len(t, result.Sessions, 10)
	assert.Empty(t, result.Degraded)

	seen := make(map[string]string)
	for _, s := range result.Sessions {
		key := fmt.Sprintf("%d|%s", s.DayOfWeek, s.TimeSlotID)
		if other, ok := seen[key]; ok {
			t.Fatalf("teacher double-booked at %s by %s and %s", key, other, s.TeachingLoadID)
		}
		seen[key] = s.TeachingLoadID
		assert.Equal(t, models.SessionStatusScheduled, s.Status)
		assert.Equal(t, "sched-1", s.ScheduleID)
	}
}

func TestPlaceSkipsUnavailablePeriods(t *testing.T) {
	grid := gridFor(t, []int{1}, 3)
	loads := []models.TeachingLoad{{
		ID:                 "l1",
		TeacherID:          "t1",
		ClassID:            "c1",
		WeeklyHours:        1,
		UnavailablePeriods: models.PeriodRefList{{DayOfWeek: 1, PeriodNumber: 1}},
	}}
	result := place(t, newTestEngine(), grid, loads, nil)
	require.Len(t, result.Sessions, 1)
	assert.Equal(t, 2, result.Sessions[0].PeriodNumber)
}

func TestPlacePrefersPreferredSlots(t *testing.T) {
	grid := gridFor(t, []int{1}, 6)
	loads := []models.TeachingLoad{{
		ID:                 "l1",
		TeacherID:          "t1",
		WeeklyHours:        1,
		PreferredTimeSlots: models.PeriodRefList{{DayOfWeek: 1, PeriodNumber: 5}},
	}}
	result := place(t, newTestEngine(), grid, loads, nil)
	require.Len(t, result.Sessions, 1)
	assert.Equal(t, "P05", result.Sessions[0].TimeSlotID)
}

func TestPlaceChoosesSmallestFittingRoom(t *testing.T) {
	grid := gridFor(t, []int{1}, 2)
	rooms := []models.Room{
		{ID: "r-a", Capacity: 40},
		{ID: "r-b", Capacity: 30},
		{ID: "r-c", Capacity: 20},
		{ID: "r-lab", Capacity: 35, HasLabEquipment: true},
	}
	loads := []models.TeachingLoad{
		{ID: "l1", TeacherID: "t1", ClassID: "c1", WeeklyHours: 1, ExpectedStudentCount: 25},
		{ID: "l2", TeacherID: "t2", ClassID: "c2", WeeklyHours: 1, ExpectedStudentCount: 25, RequiresLabEquipment: true},
	}
	result := place(t, newTestEngine(), grid, loads, rooms)
	require.Len(t, result.Sessions, 2)

	byLoad := make(map[string]models.ScheduleSession)
	for _, s := range result.Sessions {
		byLoad[s.TeachingLoadID] = s
	}
	require.NotNil(t, byLoad["l1"].RoomID)
	assert.Equal(t, "r-b", *byLoad["l1"].RoomID)
	require.NotNil(t, byLoad["l2"].RoomID)
	assert.Equal(t, "r-lab", *byLoad["l2"].RoomID)
}

func TestPlaceUsesConsecutiveRunForDoubleLessons(t *testing.T) {
	grid := gridFor(t, []int{1}, 4)
	loads := []models.TeachingLoad{{ID: "l1", TeacherID: "t1", WeeklyHours: 2, PreferredConsecutiveHours: 2}}
	result := place(t, newTestEngine(), grid, loads, nil)

	require.Len(t, result.Sessions, 2)
	assert.Equal(t, models.SessionTypeDouble, result.Sessions[0].SessionType)
	assert.Equal(t, result.Sessions[0].PeriodNumber+1, result.Sessions[1].PeriodNumber)
}

func TestPlaceDegradesInsteadOfFailing(t *testing.T) {
	grid := gridFor(t, []int{1}, 1)
	rooms := []models.Room{{ID: "r1", Capacity: 30}}
	preferred := models.PeriodRefList{{DayOfWeek: 1, PeriodNumber: 1}}
	loads := []models.TeachingLoad{
		{ID: "l1", TeacherID: "t1", ClassID: "c1", WeeklyHours: 1, PreferredTimeSlots: preferred},
		{ID: "l2", TeacherID: "t1", ClassID: "c2", WeeklyHours: 1, PreferredTimeSlots: preferred},
	}
	result := place(t, newTestEngine(), grid, loads, rooms)

	require.Len(t, result.Sessions, 2)
	require.Len(t, result.Degraded, 1)
	assert.Equal(t, "l2", result.Degraded[0].LoadID)
	assert.ElementsMatch(t, []string{"teacher_double_booked", "room_double_booked"}, result.Degraded[0].Violations)
	for _, s := range result.Sessions {
		assert.Equal(t, "P01", s.TimeSlotID)
		require.NotNil(t, s.RoomID)
		assert.Equal(t, "r1", *s.RoomID)
	}
}

func TestPlaceProcessesHigherPriorityFirst(t *testing.T) {
	grid := gridFor(t, []int{1}, 1)
	loads := []models.TeachingLoad{
		{ID: "low", TeacherID: "t1", WeeklyHours: 1, PriorityLevel: 3},
		{ID: "high", TeacherID: "t1", WeeklyHours: 1, PriorityLevel: 1},
	}
	result := place(t, newTestEngine(), grid, loads, nil)
	require.Len(t, result.Degraded, 1)
	assert.Equal(t, "low", result.Degraded[0].LoadID)
	assert.Equal(t, "high", result.Sessions[0].TeachingLoadID)
}

func TestPlaceHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestEngine().Place(ctx, PlacementInput{
		Grid:  gridFor(t, []int{1}, 2),
		Loads: []models.TeachingLoad{{ID: "l1", TeacherID: "t1", WeeklyHours: 1}},
	})
	assert.ErrorIs(t, err, context.Canceled)
}
