package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-engine/internal/dto"
	"github.com/noah-isme/sma-timetable-engine/internal/models"
	"github.com/noah-isme/sma-timetable-engine/internal/repository"
	appErrors "github.com/noah-isme/sma-timetable-engine/pkg/errors"
)

func TestConflictServiceDetectPersistsAndNotifies(t *testing.T) {
	tx, mock := newTxProviderMock(t)
	fx := newConflictFixture(t, tx)
	fx.sessions.put(
		testSession("s-1", "l1", "t1", "c1", 1, "P01", 1),
		testSession("s-2", "l2", "t1", "c2", 1, "P01", 1),
	)

	mock.ExpectBegin()
	mock.ExpectCommit()

	resp, err := fx.service.DetectConflicts(context.Background(), "sched-1", false)
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Created)
	require.Len(t, resp.Conflicts, 1)
	assert.Equal(t, models.ConflictTypeTeacher, resp.Conflicts[0].ConflictType)
	assert.Len(t, fx.conflicts.items, 1)
	assert.True(t, fx.sessions.items["s-1"].HasConflicts)
	assert.Equal(t, "critical", fx.sessions.items["s-2"].ConflictSeverity)
	require.Len(t, fx.notifier.received, 1)
	assert.NoError(t, mock.ExpectationsWereMet())

	mock.ExpectBegin()
	mock.ExpectCommit()

	again, err := fx.service.DetectConflicts(context.Background(), "sched-1", false)
	require.NoError(t, err)
	assert.Zero(t, again.Created)
	assert.Len(t, fx.conflicts.items, 1)
	assert.Len(t, fx.notifier.received, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConflictServiceDetectRollsBackOnFailure(t *testing.T) {
	tx, mock := newTxProviderMock(t)
	fx := newConflictFixture(t, tx)
	fx.sessions.put(
		testSession("s-1", "l1", "t1", "c1", 1, "P01", 1),
		testSession("s-2", "l2", "t1", "c2", 1, "P01", 1),
	)
	fx.conflicts.insertErr = errors.New("disk full")

	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err := fx.service.DetectConflicts(context.Background(), "sched-1", false)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInternal.Code, appErrors.FromError(err).Code)
	assert.Empty(t, fx.notifier.received)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConflictServiceDetectUnknownSchedule(t *testing.T) {
	tx, mock := newTxProviderMock(t)
	fx := newConflictFixture(t, tx)

	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err := fx.service.DetectConflicts(context.Background(), "missing", false)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConflictServiceTransition(t *testing.T) {
	fx := newConflictFixture(t, noopTxProvider{})
	fx.conflicts.items["c-1"] = pendingConflict(models.SeverityHigh)

	updated, err := fx.service.TransitionConflict(context.Background(), "c-1", "u1", dto.TransitionConflictRequest{Action: models.ConflictActionAcknowledge})
	require.NoError(t, err)
	assert.Equal(t, models.ConflictStatusAcknowledged, updated.Status)
	assert.Equal(t, 2, fx.conflicts.items["c-1"].Version)
	assert.Len(t, fx.conflicts.items["c-1"].History, 2)
}

func TestConflictServiceTransitionStale(t *testing.T) {
	fx := newConflictFixture(t, noopTxProvider{})
	fx.conflicts.items["c-1"] = pendingConflict(models.SeverityHigh)
	fx.conflicts.casErr = repository.ErrVersionMismatch

	_, err := fx.service.TransitionConflict(context.Background(), "c-1", "u1", dto.TransitionConflictRequest{Action: models.ConflictActionAcknowledge})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrStaleConflictState.Code, appErrors.FromError(err).Code)
}

func TestConflictServiceTransitionRejected(t *testing.T) {
	fx := newConflictFixture(t, noopTxProvider{})
	fx.conflicts.items["c-1"] = pendingConflict(models.SeverityCritical)

	_, err := fx.service.TransitionConflict(context.Background(), "c-1", "u1", dto.TransitionConflictRequest{Action: models.ConflictActionIgnore, Notes: "skip"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErrors.FromError(err).Code)
	assert.Equal(t, models.ConflictStatusPending, fx.conflicts.items["c-1"].Status)

	_, err = fx.service.TransitionConflict(context.Background(), "missing", "u1", dto.TransitionConflictRequest{Action: models.ConflictActionAcknowledge})
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestConflictServiceReportAndGate(t *testing.T) {
	fx := newConflictFixture(t, noopTxProvider{})

	gate, err := fx.service.ApprovalGate(context.Background(), "sched-1")
	require.NoError(t, err)
	assert.True(t, gate.CanFinalize)

	reported, err := fx.service.ReportConflict(context.Background(), "sched-1", "u1", dto.ReportConflictRequest{
		ConflictType: models.ConflictTypeRoom,
		Severity:     models.SeverityHigh,
		SourceKind:   models.EntityRoom,
		SourceID:     "r1",
		Title:        "Projector broken",
	})
	require.NoError(t, err)
	assert.Equal(t, models.DetectionManual, reported.DetectionMethod)
	assert.Equal(t, "reported", reported.History[0].Action)
	assert.True(t, reported.BlocksApproval)

	gate, err = fx.service.ApprovalGate(context.Background(), "sched-1")
	require.NoError(t, err)
	assert.False(t, gate.CanFinalize)
	assert.Equal(t, 1, gate.BlockingCount)
}

func TestConflictServiceListExpandsOpenStatus(t *testing.T) {
	fx := newConflictFixture(t, noopTxProvider{})

	_, page, err := fx.service.ListConflicts(context.Background(), "sched-1", dto.ConflictListQuery{Status: "open", PageSize: 1000})
	require.NoError(t, err)
	assert.Equal(t, models.OpenConflictStatuses, fx.conflicts.lastFilter.Statuses)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 50, page.PageSize)

	_, _, err = fx.service.ListConflicts(context.Background(), "sched-1", dto.ConflictListQuery{Status: "resolved, ignored"})
	require.NoError(t, err)
	assert.Equal(t, []models.ConflictStatus{models.ConflictStatusResolved, models.ConflictStatusIgnored}, fx.conflicts.lastFilter.Statuses)
}

func TestConflictServiceInstitutionLimitOverridesPolicy(t *testing.T) {
	tx, mock := newTxProviderMock(t)
	fx := newConflictFixture(t, tx)
	fx.service.policy = DetectionPolicy{TeacherWeeklyHourLimit: 30}
	for day := 1; day <= 4; day++ {
		for period := 1; period <= 3; period++ {
			id := fmt.Sprintf("s-%d-%d", day, period)
			fx.sessions.put(testSession(id, "l1", "t1", "c1", day, fmt.Sprintf("P%02d", period), period))
		}
	}

	mock.ExpectBegin()
	mock.ExpectCommit()
	resp, err := fx.service.DetectConflicts(context.Background(), "sched-1", false)
	require.NoError(t, err)
	assert.Zero(t, resp.Created)

	fx.service.WithSettings(settingRepoStub{setting: &models.ScheduleGenerationSetting{
		InstitutionID:         "inst-1",
		GenerationPreferences: models.GenerationPreferences{TeacherWeeklyHourLimit: 10},
	}})
	mock.ExpectBegin()
	mock.ExpectCommit()
	resp, err = fx.service.DetectConflicts(context.Background(), "sched-1", false)
	require.NoError(t, err)
	require.Equal(t, 1, resp.Created)
	assert.Equal(t, models.ConflictTypePolicy, resp.Conflicts[0].ConflictType)
	assert.Equal(t, "10", resp.Conflicts[0].Metadata["limit"])
	assert.Equal(t, "12", resp.Conflicts[0].Metadata["hours"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConflictServiceFallsBackToDefaultPolicy(t *testing.T) {
	fx := newConflictFixture(t, noopTxProvider{})
	fx.service.policy = DetectionPolicy{TeacherWeeklyHourLimit: 30}

	policy, err := fx.service.policyFor(context.Background(), "inst-1")
	require.NoError(t, err)
	assert.Equal(t, 30, policy.TeacherWeeklyHourLimit)

	fx.service.WithSettings(settingRepoStub{})
	policy, err = fx.service.policyFor(context.Background(), "inst-1")
	require.NoError(t, err)
	assert.Equal(t, 30, policy.TeacherWeeklyHourLimit)

	fx.service.WithSettings(settingRepoStub{setting: &models.ScheduleGenerationSetting{}})
	policy, err = fx.service.policyFor(context.Background(), "inst-1")
	require.NoError(t, err)
	assert.Equal(t, 30, policy.TeacherWeeklyHourLimit)
}

// --- Fixtures ---

type conflictFixture struct {
	service   *ConflictService
	schedules *scheduleRepoStub
	sessions  *sessionRepoStub
	conflicts *conflictRepoStub
	notifier  *notifierStub
}

func newConflictFixture(t *testing.T, tx txProvider) conflictFixture {
	t.Helper()
	schedules := newScheduleRepoStub(models.Schedule{ID: "sched-1", InstitutionID: "inst-1", AcademicYearID: "2026", Version: 1})
	sessions := newSessionRepoStub()
	conflicts := newConflictRepoStub()
	notifier := &notifierStub{}
	service := NewConflictService(schedules, sessions, conflicts, &loadRepoStub{}, roomRepoStub{}, tx, notifier, nil, nil, zap.NewNop(), fixedClock{now: fixedNow}, DetectionPolicy{})
	service.detector.newID = sequentialIDs("c")
	return conflictFixture{service: service, schedules: schedules, sessions: sessions, conflicts: conflicts, notifier: notifier}
}

type noopTxProvider struct{}

func (noopTxProvider) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return nil, errors.New("transactions not supported in this test")
}

type txProviderMock struct {
	db   *sqlx.DB
	mock sqlmock.Sqlmock
}

func newTxProviderMock(t *testing.T) (txProvider, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	t.Cleanup(func() { db.Close() })
	return &txProviderMock{db: sqlxdb, mock: mock}, mock
}

func (t *txProviderMock) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return t.db.BeginTxx(ctx, opts)
}

type scheduleRepoStub struct {
	mu    sync.Mutex
	items map[string]models.Schedule
	next  int
}

func newScheduleRepoStub(seed ...models.Schedule) *scheduleRepoStub {
	s := &scheduleRepoStub{items: make(map[string]models.Schedule)}
	for _, schedule := range seed {
		s.items[schedule.ID] = schedule
	}
	return s
}

func (s *scheduleRepoStub) FindByID(ctx context.Context, id string) (*models.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	schedule, ok := s.items[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &schedule, nil
}

func (s *scheduleRepoStub) LockForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Schedule, error) {
	return s.FindByID(ctx, id)
}

func (s *scheduleRepoStub) CreateVersioned(ctx context.Context, exec sqlx.ExtContext, schedule *models.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	version := 0
	for _, existing := range s.items {
		if existing.InstitutionID == schedule.InstitutionID && existing.AcademicYearID == schedule.AcademicYearID && existing.Version > version {
			version = existing.Version
		}
	}
	schedule.Version = version + 1
	s.items[schedule.ID] = *schedule
	return nil
}

func (s *scheduleRepoStub) ListByInstitutionYear(ctx context.Context, institutionID, academicYearID string) ([]models.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Schedule
	for _, schedule := range s.items {
		if schedule.InstitutionID == institutionID && schedule.AcademicYearID == academicYearID {
			out = append(out, schedule)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return out, nil
}

func (s *scheduleRepoStub) UpdateStatistics(ctx context.Context, exec sqlx.ExtContext, id string, stats models.GenerationStatistics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	schedule, ok := s.items[id]
	if !ok {
		return sql.ErrNoRows
	}
	schedule.Statistics = stats
	s.items[id] = schedule
	return nil
}

type sessionRepoStub struct {
	mu        sync.Mutex
	items     map[string]models.ScheduleSession
	insertErr error
}

func newSessionRepoStub() *sessionRepoStub {
	return &sessionRepoStub{items: make(map[string]models.ScheduleSession)}
}

func (s *sessionRepoStub) put(sessions ...models.ScheduleSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, session := range sessions {
		s.items[session.ID] = session
	}
}

func (s *sessionRepoStub) ListBySchedule(ctx context.Context, exec sqlx.ExtContext, scheduleID string) ([]models.ScheduleSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ScheduleSession
	for _, session := range s.items {
		if session.ScheduleID == scheduleID {
			out = append(out, session)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DayOfWeek != out[j].DayOfWeek {
			return out[i].DayOfWeek < out[j].DayOfWeek
		}
		if out[i].PeriodNumber != out[j].PeriodNumber {
			return out[i].PeriodNumber < out[j].PeriodNumber
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *sessionRepoStub) UpdateConflictFlags(ctx context.Context, exec sqlx.ExtContext, sessionID string, hasConflicts bool, severity string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.items[sessionID]
	if !ok {
		return sql.ErrNoRows
	}
	session.HasConflicts = hasConflicts
	session.ConflictSeverity = severity
	session.UpdatedAt = at
	s.items[sessionID] = session
	return nil
}

func (s *sessionRepoStub) InsertBatch(ctx context.Context, exec sqlx.ExtContext, sessions []models.ScheduleSession) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	s.put(sessions...)
	return nil
}

func (s *sessionRepoStub) FindByID(ctx context.Context, id string) (*models.ScheduleSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.items[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &session, nil
}

func (s *sessionRepoStub) UpdateLifecycle(ctx context.Context, session *models.ScheduleSession, expected models.SessionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.items[session.ID]
	if !ok || current.Status != expected {
		return sql.ErrNoRows
	}
	s.items[session.ID] = *session
	return nil
}

type conflictRepoStub struct {
	mu         sync.Mutex
	items      map[string]models.ScheduleConflict
	insertErr  error
	casErr     error
	lastFilter models.ConflictFilter
}

func newConflictRepoStub() *conflictRepoStub {
	return &conflictRepoStub{items: make(map[string]models.ScheduleConflict)}
}

func (s *conflictRepoStub) ListBySchedule(ctx context.Context, exec sqlx.ExtContext, scheduleID string) ([]models.ScheduleConflict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ScheduleConflict
	for _, c := range s.items {
		if c.ScheduleID == scheduleID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *conflictRepoStub) List(ctx context.Context, filter models.ConflictFilter) ([]models.ScheduleConflict, int, error) {
	s.mu.Lock()
	s.lastFilter = filter
	s.mu.Unlock()
	items, _ := s.ListBySchedule(ctx, nil, filter.ScheduleID)
	return items, len(items), nil
}

func (s *conflictRepoStub) FindByID(ctx context.Context, id string) (*models.ScheduleConflict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.items[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &c, nil
}

func (s *conflictRepoStub) Insert(ctx context.Context, exec sqlx.ExtContext, conflict *models.ScheduleConflict) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[conflict.ID] = *conflict
	return nil
}

func (s *conflictRepoStub) UpdateDetection(ctx context.Context, exec sqlx.ExtContext, conflict *models.ScheduleConflict) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.items[conflict.ID]
	if !ok || !current.Status.IsOpen() {
		return sql.ErrNoRows
	}
	s.items[conflict.ID] = *conflict
	return nil
}

func (s *conflictRepoStub) CompareAndSwap(ctx context.Context, conflict *models.ScheduleConflict, expectedStatus models.ConflictStatus, expectedVersion int) error {
	if s.casErr != nil {
		return s.casErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.items[conflict.ID]
	if !ok || current.Status != expectedStatus || current.Version != expectedVersion {
		return repository.ErrVersionMismatch
	}
	conflict.Version = expectedVersion + 1
	s.items[conflict.ID] = *conflict
	return nil
}

func (s *conflictRepoStub) CountGating(ctx context.Context, scheduleID string) (int, error) {
	items, _ := s.ListBySchedule(ctx, nil, scheduleID)
	count := 0
	for _, c := range items {
		if c.IsGating() {
			count++
		}
	}
	return count, nil
}

type loadRepoStub struct {
	mu        sync.Mutex
	items     []models.TeachingLoad
	scheduled []string
	statuses  map[string]models.LoadStatus
}

func (s *loadRepoStub) ListByIDs(ctx context.Context, exec sqlx.ExtContext, institutionID, academicYearID string, ids []string) ([]models.TeachingLoad, error) {
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	var out []models.TeachingLoad
	for _, load := range s.items {
		if wanted[load.ID] && load.InstitutionID == institutionID && load.AcademicYearID == academicYearID {
			out = append(out, load)
		}
	}
	return out, nil
}

func (s *loadRepoStub) List(ctx context.Context, filter models.TeachingLoadFilter) ([]models.TeachingLoad, error) {
	wanted := make(map[string]bool, len(filter.IDs))
	for _, id := range filter.IDs {
		wanted[id] = true
	}
	var out []models.TeachingLoad
	for _, load := range s.items {
		if load.InstitutionID != filter.InstitutionID {
			continue
		}
		if len(wanted) > 0 && !wanted[load.ID] {
			continue
		}
		out = append(out, load)
	}
	return out, nil
}

func (s *loadRepoStub) MarkScheduled(ctx context.Context, exec sqlx.ExtContext, ids []string, scheduleID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduled = append(s.scheduled, ids...)
	return nil
}

func (s *loadRepoStub) UpdateStatus(ctx context.Context, exec sqlx.ExtContext, institutionID string, ids []string, status models.LoadStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statuses == nil {
		s.statuses = make(map[string]models.LoadStatus)
	}
	owned := make(map[string]bool, len(s.items))
	for _, load := range s.items {
		owned[load.ID] = load.InstitutionID == institutionID
	}
	updated := 0
	for _, id := range ids {
		if !owned[id] {
			continue
		}
		s.statuses[id] = status
		updated++
	}
	if len(ids) > 0 && updated == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *loadRepoStub) ResetStatus(ctx context.Context, exec sqlx.ExtContext, institutionID string, ids []string) error {
	return s.UpdateStatus(ctx, exec, institutionID, ids, models.LoadStatusPending)
}

type roomRepoStub struct {
	rooms []models.Room
}

func (s roomRepoStub) ListByInstitution(ctx context.Context, institutionID string) ([]models.Room, error) {
	return s.rooms, nil
}

type notifierStub struct {
	mu       sync.Mutex
	received []models.ScheduleConflict
}

func (n *notifierStub) NotifyBlocking(conflicts []models.ScheduleConflict) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.received = append(n.received, conflicts...)
}
