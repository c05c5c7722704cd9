package service

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-engine/internal/models"
	appErrors "github.com/noah-isme/sma-timetable-engine/pkg/errors"
)

// Penalties used to rank non-compliant placements. Hard violations dominate soft ones.
const (
	penaltyTeacherBooked  = 1000
	penaltyClassBooked    = 1000
	penaltyUnavailable    = 100
	penaltyRoomBooked     = 50
	penaltyRoomCapacity   = 20
	penaltyRoomFacilities = 20
	penaltyNotPreferred   = 1

	morningPeriodCutoff = 4
)

// PlacementInput is everything a single serial placement pass needs.
type PlacementInput struct {
	ScheduleID  string
	Grid        models.TimeGrid
	Loads       []models.TeachingLoad
	Plans       map[string][]PlanEntry
	Rooms       []models.Room
	Preferences models.GenerationPreferences
	Now         time.Time
}

// DegradedPlacement records a session placed with constraint violations.
type DegradedPlacement struct {
	SessionID  string   `json:"session_id"`
	LoadID     string   `json:"teaching_load_id"`
	Violations []string `json:"violations"`
}

// PlacementResult holds the placed sessions of one run.
type PlacementResult struct {
	Sessions []models.ScheduleSession
	Degraded []DegradedPlacement
}

// PlacementEngine assigns day, slot and room to every session of a schedule.
// It keeps no state between runs, so different schedules may be placed concurrently.
type PlacementEngine struct {
	logger *zap.Logger
	newID  func() string
}

// NewPlacementEngine constructs the engine.
func NewPlacementEngine(logger *zap.Logger) *PlacementEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PlacementEngine{logger: logger, newID: uuid.NewString}
}

// Place runs the greedy placement pass. It fails only when the grid offers no lesson slot at all.
func (e *PlacementEngine) Place(ctx context.Context, in PlacementInput) (*PlacementResult, error) {
	if len(in.Grid.LessonSlots()) == 0 {
		return nil, appErrors.Clone(appErrors.ErrGenerationInfeasible, "time grid has no lesson slots")
	}

	state := newPlacementState(in.Grid, in.Rooms)
	result := &PlacementResult{}
	for _, load := range orderLoads(in.Loads) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		plan, ok := in.Plans[load.ID]
		if !ok {
			plan = PlanDistribution(load, in.Grid.WorkingDays(), in.Preferences.MaxConsecutiveHours)
		}
		e.placeLoad(state, in, load, plan, result)
	}
	return result, nil
}

func (e *PlacementEngine) placeLoad(state *placementState, in PlacementInput, load models.TeachingLoad, plan []PlanEntry, result *PlacementResult) {
	order := newCandidateOrder(load, in.Preferences)
	perDay := make(map[int]int)
	deferred := 0

	for _, entry := range plan {
		remaining := entry.LessonCount
		if entry.Consecutive {
			if run := state.findConsecutiveRun(load, entry.DayOfWeek, remaining, order); run != nil {
				for _, c := range run {
					e.commit(state, in, load, c, models.SessionTypeDouble, nil, result)
				}
				perDay[entry.DayOfWeek] += len(run)
				remaining = 0
			}
		}
		for remaining > 0 {
			c, ok := state.firstCompliant(load, state.lessonsByDay[entry.DayOfWeek], order)
			if !ok {
				break
			}
			e.commit(state, in, load, c, models.SessionTypeRegular, nil, result)
			perDay[entry.DayOfWeek]++
			remaining--
		}
		deferred += remaining
	}

	for ; deferred > 0; deferred-- {
		if c, ok := state.firstCompliantAnyDay(load, perDay, order); ok {
			e.commit(state, in, load, c, models.SessionTypeRegular, nil, result)
			perDay[c.slot.DayOfWeek]++
			continue
		}
		c := state.bestPartial(load, order)
		e.commit(state, in, load, c, models.SessionTypeRegular, c.violations, result)
		perDay[c.slot.DayOfWeek]++
	}
}

func (e *PlacementEngine) commit(state *placementState, in PlacementInput, load models.TeachingLoad, c candidate, sessionType models.SessionType, violations []string, result *PlacementResult) {
	session := models.ScheduleSession{
		ID:                   e.newID(),
		ScheduleID:           in.ScheduleID,
		TeachingLoadID:       load.ID,
		SubjectID:            load.SubjectID,
		TeacherID:            load.TeacherID,
		ClassID:              load.ClassID,
		TimeSlotID:           c.slot.ID,
		DayOfWeek:            c.slot.DayOfWeek,
		PeriodNumber:         c.slot.PeriodNumber,
		StartTime:            c.slot.StartTime,
		EndTime:              c.slot.EndTime,
		SessionType:          sessionType,
		Status:               models.SessionStatusScheduled,
		RequiresProjector:    load.RequiresProjector,
		RequiresComputer:     load.RequiresComputer,
		RequiresLabEquipment: load.RequiresLabEquipment,
		ExpectedStudentCount: load.ExpectedStudentCount,
		ConflictSeverity:     models.ConflictSeverityNone,
		CreatedAt:            in.Now,
		UpdatedAt:            in.Now,
	}
	if c.room != nil {
		roomID := c.room.ID
		session.RoomID = &roomID
	}
	state.reserve(load, c)
	result.Sessions = append(result.Sessions, session)

	if len(violations) > 0 {
		result.Degraded = append(result.Degraded, DegradedPlacement{SessionID: session.ID, LoadID: load.ID, Violations: violations})
		e.logger.Debug("session placed with violations",
			zap.String("schedule_id", in.ScheduleID),
			zap.String("teaching_load_id", load.ID),
			zap.Int("day_of_week", c.slot.DayOfWeek),
			zap.String("time_slot_id", c.slot.ID),
			zap.Strings("violations", violations),
		)
	}
}

// orderLoads processes the most important loads first: ascending priority level, then larger loads.
func orderLoads(loads []models.TeachingLoad) []models.TeachingLoad {
	ordered := append([]models.TeachingLoad(nil), loads...)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.PriorityLevel != b.PriorityLevel {
			return a.PriorityLevel < b.PriorityLevel
		}
		if a.WeeklyHours != b.WeeklyHours {
			return a.WeeklyHours > b.WeeklyHours
		}
		return a.ID < b.ID
	})
	return ordered
}

// --- placement state ---

type slotKey struct {
	Day    int
	Period int
}

// occupancy tracks bookings of one teacher, class or room across the week.
type occupancy struct {
	booked map[slotKey]int
}

func newOccupancy() *occupancy {
	return &occupancy{booked: make(map[slotKey]int)}
}

func (o *occupancy) IsFree(day, period int) bool {
	return o == nil || o.booked[slotKey{Day: day, Period: period}] == 0
}

func (o *occupancy) Reserve(day, period int) {
	o.booked[slotKey{Day: day, Period: period}]++
}

type placementState struct {
	days         []int
	lessonsByDay map[int][]models.TimeSlot
	rooms        []models.Room
	teachers     map[string]*occupancy
	classes      map[string]*occupancy
	roomUse      map[string]*occupancy
}

func newPlacementState(grid models.TimeGrid, rooms []models.Room) *placementState {
	sortedRooms := append([]models.Room(nil), rooms...)
	sort.Slice(sortedRooms, func(i, j int) bool { return sortedRooms[i].ID < sortedRooms[j].ID })

	state := &placementState{
		lessonsByDay: make(map[int][]models.TimeSlot),
		rooms:        sortedRooms,
		teachers:     make(map[string]*occupancy),
		classes:      make(map[string]*occupancy),
		roomUse:      make(map[string]*occupancy),
	}
	for _, day := range grid.Days {
		state.days = append(state.days, day.DayOfWeek)
		state.lessonsByDay[day.DayOfWeek] = grid.LessonSlotsForDay(day.DayOfWeek)
	}
	return state
}

func (s *placementState) occupancyFor(table map[string]*occupancy, key string) *occupancy {
	occ, ok := table[key]
	if !ok {
		occ = newOccupancy()
		table[key] = occ
	}
	return occ
}

func (s *placementState) reserve(load models.TeachingLoad, c candidate) {
	day, period := c.slot.DayOfWeek, c.slot.PeriodNumber
	s.occupancyFor(s.teachers, load.TeacherID).Reserve(day, period)
	if load.ClassID != "" {
		s.occupancyFor(s.classes, load.ClassID).Reserve(day, period)
	}
	if c.room != nil {
		s.occupancyFor(s.roomUse, c.room.ID).Reserve(day, period)
	}
}

type candidate struct {
	slot       models.TimeSlot
	room       *models.Room
	violations []string
}

// hardFree checks the teacher, class and unavailability constraints of a slot.
func (s *placementState) hardFree(load models.TeachingLoad, slot models.TimeSlot) bool {
	day, period := slot.DayOfWeek, slot.PeriodNumber
	if !s.teachers[load.TeacherID].IsFree(day, period) {
		return false
	}
	if load.ClassID != "" && !s.classes[load.ClassID].IsFree(day, period) {
		return false
	}
	return !load.IsUnavailable(day, period)
}

// compliantRoom returns the smallest free room that fits, or ok=false if none does.
// With an empty room inventory no room is assigned and the slot counts as compliant.
func (s *placementState) compliantRoom(load models.TeachingLoad, slot models.TimeSlot) (*models.Room, bool) {
	if len(s.rooms) == 0 {
		return nil, true
	}
	var best *models.Room
	for i := range s.rooms {
		room := &s.rooms[i]
		if !roomFits(load, *room) || !s.roomUse[room.ID].IsFree(slot.DayOfWeek, slot.PeriodNumber) {
			continue
		}
		if best == nil || room.Capacity < best.Capacity {
			best = room
		}
	}
	return best, best != nil
}

func roomFits(load models.TeachingLoad, room models.Room) bool {
	return room.Capacity >= load.ExpectedStudentCount &&
		room.Supports(load.RequiresProjector, load.RequiresComputer, load.RequiresLabEquipment)
}

func (s *placementState) firstCompliant(load models.TeachingLoad, slots []models.TimeSlot, order candidateOrder) (candidate, bool) {
	for _, slot := range order.sort(slots) {
		if !s.hardFree(load, slot) {
			continue
		}
		if room, ok := s.compliantRoom(load, slot); ok {
			return candidate{slot: slot, room: room}, true
		}
	}
	return candidate{}, false
}

// firstCompliantAnyDay prefers the days on which the load has the fewest sessions so far.
func (s *placementState) firstCompliantAnyDay(load models.TeachingLoad, perDay map[int]int, order candidateOrder) (candidate, bool) {
	days := append([]int(nil), s.days...)
	sort.SliceStable(days, func(i, j int) bool { return perDay[days[i]] < perDay[days[j]] })
	for _, day := range days {
		if c, ok := s.firstCompliant(load, s.lessonsByDay[day], order); ok {
			return c, true
		}
	}
	return candidate{}, false
}

// findConsecutiveRun looks for count adjacent compliant periods on the day, preferring runs touching preferred slots.
func (s *placementState) findConsecutiveRun(load models.TeachingLoad, day, count int, order candidateOrder) []candidate {
	slots := s.lessonsByDay[day]
	var fallback []candidate
	for start := 0; start+count <= len(slots); start++ {
		run := make([]candidate, 0, count)
		preferred := false
		for i := start; i < start+count; i++ {
			slot := slots[i]
			if i > start && slot.PeriodNumber != slots[i-1].PeriodNumber+1 {
				break
			}
			if !s.hardFree(load, slot) {
				break
			}
			room, ok := s.compliantRoom(load, slot)
			if !ok {
				break
			}
			if order.preferred(slot) {
				preferred = true
			}
			run = append(run, candidate{slot: slot, room: room})
		}
		if len(run) != count {
			continue
		}
		if preferred {
			return run
		}
		if fallback == nil {
			fallback = run
		}
	}
	return fallback
}

// bestPartial scores every slot and room option; ties resolve to the earliest slot then the lowest room id.
func (s *placementState) bestPartial(load models.TeachingLoad, order candidateOrder) candidate {
	var (
		best      candidate
		bestScore = -1
	)
	for _, day := range s.days {
		for _, slot := range s.lessonsByDay[day] {
			base, violations := s.slotPenalty(load, slot, order)
			options := s.roomOptions(load, slot)
			for _, opt := range options {
				score := base + opt.penalty
				if bestScore >= 0 && score >= bestScore {
					continue
				}
				bestScore = score
				best = candidate{slot: slot, room: opt.room, violations: append(append([]string(nil), violations...), opt.violations...)}
			}
		}
	}
	return best
}

func (s *placementState) slotPenalty(load models.TeachingLoad, slot models.TimeSlot, order candidateOrder) (int, []string) {
	day, period := slot.DayOfWeek, slot.PeriodNumber
	score := 0
	var violations []string
	if !s.teachers[load.TeacherID].IsFree(day, period) {
		score += penaltyTeacherBooked
		violations = append(violations, "teacher_double_booked")
	}
	if load.ClassID != "" && !s.classes[load.ClassID].IsFree(day, period) {
		score += penaltyClassBooked
		violations = append(violations, "class_double_booked")
	}
	if load.IsUnavailable(day, period) {
		score += penaltyUnavailable
		violations = append(violations, "unavailable_period")
	}
	if order.hasPreferences() && !order.preferred(slot) {
		score += penaltyNotPreferred
	}
	return score, violations
}

type roomOption struct {
	room       *models.Room
	penalty    int
	violations []string
}

func (s *placementState) roomOptions(load models.TeachingLoad, slot models.TimeSlot) []roomOption {
	if len(s.rooms) == 0 {
		return []roomOption{{}}
	}
	options := make([]roomOption, 0, len(s.rooms))
	for i := range s.rooms {
		room := &s.rooms[i]
		opt := roomOption{room: room}
		if !s.roomUse[room.ID].IsFree(slot.DayOfWeek, slot.PeriodNumber) {
			opt.penalty += penaltyRoomBooked
			opt.violations = append(opt.violations, "room_double_booked")
		}
		if room.Capacity < load.ExpectedStudentCount {
			opt.penalty += penaltyRoomCapacity
			opt.violations = append(opt.violations, "room_capacity_exceeded")
		}
		if !room.Supports(load.RequiresProjector, load.RequiresComputer, load.RequiresLabEquipment) {
			opt.penalty += penaltyRoomFacilities
			opt.violations = append(opt.violations, "room_facilities_missing")
		}
		options = append(options, opt)
	}
	return options
}

// --- candidate ordering ---

// candidateOrder ranks slots of a day: preferred slots first, then by period.
type candidateOrder struct {
	load             models.TeachingLoad
	patternPeriods   map[int]bool
	deferMorning     bool
	preferencesGiven bool
}

func newCandidateOrder(load models.TeachingLoad, prefs models.GenerationPreferences) candidateOrder {
	order := candidateOrder{load: load, patternPeriods: make(map[int]bool)}
	if load.DistributionPattern != nil {
		for _, p := range load.DistributionPattern.PreferredPeriods {
			order.patternPeriods[p] = true
		}
	}
	order.preferencesGiven = len(load.PreferredTimeSlots) > 0 || len(order.patternPeriods) > 0
	order.deferMorning = prefs.PreferMorningCore && CategorizeSubject(load.SubjectName) != models.CategoryCore
	return order
}

func (o candidateOrder) hasPreferences() bool {
	return o.preferencesGiven
}

func (o candidateOrder) preferred(slot models.TimeSlot) bool {
	if o.load.IsPreferred(slot.DayOfWeek, slot.PeriodNumber) {
		return true
	}
	return o.patternPeriods[slot.PeriodNumber]
}

func (o candidateOrder) rank(slot models.TimeSlot) int {
	rank := 0
	if !o.preferred(slot) {
		rank += 2
	}
	if o.deferMorning && slot.PeriodNumber <= morningPeriodCutoff {
		rank++
	}
	return rank
}

func (o candidateOrder) sort(slots []models.TimeSlot) []models.TimeSlot {
	ordered := append([]models.TimeSlot(nil), slots...)
	sort.SliceStable(ordered, func(i, j int) bool {
		ri, rj := o.rank(ordered[i]), o.rank(ordered[j])
		if ri != rj {
			return ri < rj
		}
		return ordered[i].PeriodNumber < ordered[j].PeriodNumber
	})
	return ordered
}
