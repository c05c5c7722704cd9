package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-engine/internal/dto"
	"github.com/noah-isme/sma-timetable-engine/internal/models"
	appErrors "github.com/noah-isme/sma-timetable-engine/pkg/errors"
)

func TestScheduleGeneratorServiceGenerateDegradedExample(t *testing.T) {
	tx, mock := newTxProviderMock(t)
	fx := newGeneratorFixture(t, generatorFixtureConfig{tx: tx})

	mock.ExpectBegin()
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectCommit()

	resp, err := fx.service.Generate(context.Background(), fx.request("l1", "l2"))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, 1, resp.Version)
	require.Len(t, resp.Sessions, 2)
	require.Len(t, resp.Degraded, 1)
	assert.ElementsMatch(t, []string{"teacher_double_booked", "room_double_booked"}, resp.Degraded[0].Violations)

	types := make([]models.ConflictType, 0, len(resp.Conflicts))
	for _, c := range resp.Conflicts {
		types = append(types, c.ConflictType)
	}
	assert.ElementsMatch(t, []models.ConflictType{models.ConflictTypeTeacher, models.ConflictTypeRoom}, types)
	for _, s := range resp.Sessions {
		assert.True(t, s.HasConflicts)
		assert.Equal(t, string(models.SeverityCritical), s.ConflictSeverity)
	}

	stats := resp.Statistics
	assert.Equal(t, 2, stats.TotalSessions)
	assert.Equal(t, 1, stats.DegradedSessions)
	assert.Equal(t, 2, stats.BlockingCount)
	assert.Equal(t, 0.5, stats.SuccessRate)
	assert.Equal(t, 40.0, stats.EfficiencyScore)

	stored, err := fx.schedules.FindByID(context.Background(), resp.ScheduleID)
	require.NoError(t, err)
	assert.Equal(t, stats, stored.Statistics)
	assert.ElementsMatch(t, []string{"l1", "l2"}, fx.loads.scheduled)
	assert.Equal(t, models.LoadStatusConflict, fx.loads.statuses["l1"])
	assert.Equal(t, models.LoadStatusConflict, fx.loads.statuses["l2"])
}

func TestScheduleGeneratorServiceVersionsIncrease(t *testing.T) {
	tx, mock := newTxProviderMock(t)
	fx := newGeneratorFixture(t, generatorFixtureConfig{tx: tx, noDetection: true})

	for want := 1; want <= 2; want++ {
		mock.ExpectBegin()
		mock.ExpectCommit()
		resp, err := fx.service.Generate(context.Background(), fx.request("l1"))
		require.NoError(t, err)
		assert.Equal(t, want, resp.Version)
		assert.Empty(t, resp.Degraded)
		assert.Equal(t, 1.0, resp.Statistics.SuccessRate)
	}
	assert.NoError(t, mock.ExpectationsWereMet())

	schedules, err := fx.service.ListSchedules(context.Background(), "inst-1", "2026")
	require.NoError(t, err)
	require.Len(t, schedules, 2)
	assert.Equal(t, 2, schedules[0].Version)
}

func TestScheduleGeneratorServiceMissingLoads(t *testing.T) {
	fx := newGeneratorFixture(t, generatorFixtureConfig{})

	_, err := fx.service.Generate(context.Background(), fx.request("l1", "ghost"))
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
	assert.Equal(t, []string{"ghost"}, appErr.Details)
}

func TestScheduleGeneratorServiceInvalidSettings(t *testing.T) {
	bad := singlePeriodSetting()
	bad.DailyPeriods = 0
	fx := newGeneratorFixture(t, generatorFixtureConfig{setting: &bad})

	_, err := fx.service.Generate(context.Background(), fx.request("l1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConfigurationInvalid.Code, appErrors.FromError(err).Code)
	assert.Empty(t, fx.schedules.items)
}

func TestScheduleGeneratorServiceRollsBackOnPersistFailure(t *testing.T) {
	tx, mock := newTxProviderMock(t)
	fx := newGeneratorFixture(t, generatorFixtureConfig{tx: tx})
	fx.sessions.insertErr = errors.New("constraint violation")

	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err := fx.service.Generate(context.Background(), fx.request("l1", "l2"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInternal.Code, appErrors.FromError(err).Code)
	assert.Empty(t, fx.loads.scheduled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleGeneratorServiceCancelled(t *testing.T) {
	fx := newGeneratorFixture(t, generatorFixtureConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fx.service.Generate(ctx, fx.request("l1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
	assert.Empty(t, fx.schedules.items)
}

func TestScheduleGeneratorServiceRejectsUnusableTemplate(t *testing.T) {
	other := "inst-2"
	fx := newGeneratorFixture(t, generatorFixtureConfig{templates: map[string]models.ScheduleTemplate{
		"inactive": {ID: "inactive", IsPublic: true},
		"private":  {ID: "private", IsActive: true, InstitutionID: &other},
	}})

	req := fx.request("l1")
	req.TemplateID = "inactive"
	_, err := fx.service.Generate(context.Background(), req)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)

	req.TemplateID = "private"
	_, err = fx.service.Generate(context.Background(), req)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	req.TemplateID = "missing"
	_, err = fx.service.Generate(context.Background(), req)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestScheduleGeneratorServiceValidatesRequest(t *testing.T) {
	fx := newGeneratorFixture(t, generatorFixtureConfig{})
	_, err := fx.service.Generate(context.Background(), dto.GenerateScheduleRequest{InstitutionID: "inst-1"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = fx.service.ListSchedules(context.Background(), "inst-1", "")
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestScheduleGeneratorServiceTimeGridFallsBackToDefault(t *testing.T) {
	fx := newGeneratorFixture(t, generatorFixtureConfig{})
	grid, err := fx.service.TimeGrid(context.Background(), "inst-1")
	require.NoError(t, err)
	assert.Equal(t, []int{1}, grid.WorkingDays())
	assert.Len(t, grid.LessonSlots(), 1)
}

func TestGenerationStatisticsHelpers(t *testing.T) {
	assert.Equal(t, 0.0, successRate(0, 0))
	assert.Equal(t, 0.6667, successRate(3, 1))
	assert.Equal(t, 0.0, efficiencyScore(0.1, 10))
	assert.Equal(t, []string{"a", "b"}, uniqueIDs([]string{" a", "b", "a", ""}))
}

// --- Fixtures ---

type generatorFixtureConfig struct {
	tx          txProvider
	setting     *models.ScheduleGenerationSetting
	templates   map[string]models.ScheduleTemplate
	noDetection bool
}

type generatorFixture struct {
	service   *ScheduleGeneratorService
	schedules *scheduleRepoStub
	sessions  *sessionRepoStub
	loads     *loadRepoStub
}

func (generatorFixture) request(ids ...string) dto.GenerateScheduleRequest {
	return dto.GenerateScheduleRequest{
		InstitutionID:   "inst-1",
		AcademicYearID:  "2026",
		TeachingLoadIDs: ids,
		ActorID:         "u1",
	}
}

func singlePeriodSetting() models.ScheduleGenerationSetting {
	return models.ScheduleGenerationSetting{
		WorkingDays:           models.IntList{1},
		DailyPeriods:          1,
		PeriodDurationMinutes: 45,
		FirstPeriodStart:      "08:00",
	}
}

func newGeneratorFixture(t *testing.T, cfg generatorFixtureConfig) generatorFixture {
	t.Helper()
	preferred := models.PeriodRefList{{DayOfWeek: 1, PeriodNumber: 1}}
	loads := &loadRepoStub{items: []models.TeachingLoad{
		{ID: "l1", InstitutionID: "inst-1", AcademicYearID: "2026", TeacherID: "t1", ClassID: "c1", SubjectName: "Mathematics", WeeklyHours: 1, PreferredTimeSlots: preferred},
		{ID: "l2", InstitutionID: "inst-1", AcademicYearID: "2026", TeacherID: "t1", ClassID: "c2", SubjectName: "Physics", WeeklyHours: 1, PreferredTimeSlots: preferred},
	}}
	rooms := roomRepoStub{rooms: []models.Room{{ID: "r1", InstitutionID: "inst-1", Name: "Room 1", Capacity: 30}}}
	schedules := newScheduleRepoStub()
	sessions := newSessionRepoStub()
	tx := cfg.tx
	if tx == nil {
		tx = noopTxProvider{}
	}

	var scanner conflictScanner
	if !cfg.noDetection {
		scanner = NewConflictService(schedules, sessions, newConflictRepoStub(), loads, rooms, tx, nil, nil, nil, zap.NewNop(), fixedClock{now: fixedNow}, DetectionPolicy{})
	}

	service := NewScheduleGeneratorService(
		loads,
		settingRepoStub{setting: cfg.setting},
		rooms,
		schedules,
		sessions,
		newTemplateRepoStub(cfg.templates),
		nil,
		scanner,
		tx,
		nil,
		nil,
		zap.NewNop(),
		fixedClock{now: fixedNow},
		GeneratorConfig{DefaultSetting: singlePeriodSetting()},
	)
	return generatorFixture{service: service, schedules: schedules, sessions: sessions, loads: loads}
}

type settingRepoStub struct {
	setting *models.ScheduleGenerationSetting
}

func (s settingRepoStub) FindByInstitution(ctx context.Context, institutionID string) (*models.ScheduleGenerationSetting, error) {
	if s.setting == nil {
		return nil, sql.ErrNoRows
	}
	setting := *s.setting
	return &setting, nil
}
