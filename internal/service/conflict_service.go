package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-engine/internal/dto"
	"github.com/noah-isme/sma-timetable-engine/internal/models"
	"github.com/noah-isme/sma-timetable-engine/internal/repository"
	appErrors "github.com/noah-isme/sma-timetable-engine/pkg/errors"
)

type txProvider interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

type scheduleLocker interface {
	FindByID(ctx context.Context, id string) (*models.Schedule, error)
	LockForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Schedule, error)
}

type sessionSnapshotReader interface {
	ListBySchedule(ctx context.Context, exec sqlx.ExtContext, scheduleID string) ([]models.ScheduleSession, error)
	UpdateConflictFlags(ctx context.Context, exec sqlx.ExtContext, sessionID string, hasConflicts bool, severity string, at time.Time) error
}

type conflictStore interface {
	ListBySchedule(ctx context.Context, exec sqlx.ExtContext, scheduleID string) ([]models.ScheduleConflict, error)
	List(ctx context.Context, filter models.ConflictFilter) ([]models.ScheduleConflict, int, error)
	FindByID(ctx context.Context, id string) (*models.ScheduleConflict, error)
	Insert(ctx context.Context, exec sqlx.ExtContext, conflict *models.ScheduleConflict) error
	UpdateDetection(ctx context.Context, exec sqlx.ExtContext, conflict *models.ScheduleConflict) error
	CompareAndSwap(ctx context.Context, conflict *models.ScheduleConflict, expectedStatus models.ConflictStatus, expectedVersion int) error
	CountGating(ctx context.Context, scheduleID string) (int, error)
}

type loadSnapshotReader interface {
	ListByIDs(ctx context.Context, exec sqlx.ExtContext, institutionID, academicYearID string, ids []string) ([]models.TeachingLoad, error)
}

type roomReader interface {
	ListByInstitution(ctx context.Context, institutionID string) ([]models.Room, error)
}

type blockingNotifier interface {
	NotifyBlocking(conflicts []models.ScheduleConflict)
}

// ConflictService runs detection against a locked snapshot and drives the resolution workflow.
type ConflictService struct {
	schedules scheduleLocker
	sessions  sessionSnapshotReader
	conflicts conflictStore
	loads     loadSnapshotReader
	rooms     roomReader
	tx        txProvider
	detector  *ConflictDetector
	notifier  blockingNotifier
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	clock     Clock
	policy    DetectionPolicy
	settings  generationSettingReader
}

// NewConflictService wires the conflict workflow.
func NewConflictService(
	schedules scheduleLocker,
	sessions sessionSnapshotReader,
	conflicts conflictStore,
	loads loadSnapshotReader,
	rooms roomReader,
	tx txProvider,
	notifier blockingNotifier,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
	clock Clock,
	policy DetectionPolicy,
) *ConflictService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = SystemClock()
	}
	return &ConflictService{
		schedules: schedules,
		sessions:  sessions,
		conflicts: conflicts,
		loads:     loads,
		rooms:     rooms,
		tx:        tx,
		detector:  NewConflictDetector(logger),
		notifier:  notifier,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		clock:     clock,
		policy:    policy,
	}
}

// WithSettings lets an institution's generation preferences override the default detection policy.
func (s *ConflictService) WithSettings(settings generationSettingReader) *ConflictService {
	s.settings = settings
	return s
}

// policyFor returns the default policy with the institution's non-zero preferences applied.
func (s *ConflictService) policyFor(ctx context.Context, institutionID string) (DetectionPolicy, error) {
	policy := s.policy
	if s.settings == nil {
		return policy, nil
	}
	setting, err := s.settings.FindByInstitution(ctx, institutionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return policy, nil
		}
		return policy, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load generation settings")
	}
	if limit := setting.GenerationPreferences.TeacherWeeklyHourLimit; limit > 0 {
		policy.TeacherWeeklyHourLimit = limit
	}
	return policy, nil
}

// DetectConflicts re-scans a schedule. The schedule row is locked for the duration so the scan sees a
// consistent session set and two scans of one schedule never interleave.
func (s *ConflictService) DetectConflicts(ctx context.Context, scheduleID string, retrigger bool) (resp *dto.DetectConflictsResponse, err error) {
	if strings.TrimSpace(scheduleID) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "schedule id is required")
	}
	if s.tx == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "transaction provider missing")
	}

	tx, err := s.tx.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	schedule, err := s.schedules.LockForUpdate(ctx, tx, scheduleID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "schedule not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock schedule")
	}

	input, err := s.snapshot(ctx, tx, schedule)
	if err != nil {
		return nil, err
	}
	input.Retrigger = retrigger

	result := s.detector.Detect(input)

	for i := range result.Created {
		if err = s.conflicts.Insert(ctx, tx, &result.Created[i]); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store conflict")
		}
	}
	updated := 0
	for i := range result.Updated {
		updateErr := s.conflicts.UpdateDetection(ctx, tx, &result.Updated[i])
		if errors.Is(updateErr, sql.ErrNoRows) {
			s.logger.Info("conflict closed during detection", zap.String("conflict_id", result.Updated[i].ID))
			continue
		}
		if updateErr != nil {
			err = appErrors.Wrap(updateErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update conflict")
			return nil, err
		}
		updated++
	}
	for _, flag := range result.Flags {
		if err = s.sessions.UpdateConflictFlags(ctx, tx, flag.SessionID, flag.HasConflicts, flag.ConflictSeverity, input.Now); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to flag sessions")
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit detection")
	}

	for _, c := range result.Created {
		s.metrics.RecordConflictDetected(string(c.ConflictType), string(c.Severity))
	}
	if s.notifier != nil {
		s.notifier.NotifyBlocking(result.Created)
	}
	s.logger.Info("conflict detection finished",
		zap.String("schedule_id", scheduleID),
		zap.Int("sessions", len(input.Sessions)),
		zap.Int("created", len(result.Created)),
		zap.Int("updated", updated),
		zap.Int("suppressed", result.Suppressed),
		zap.Int("open", len(result.Open)),
	)

	return &dto.DetectConflictsResponse{
		ScheduleID: scheduleID,
		Created:    len(result.Created),
		Updated:    updated,
		Suppressed: result.Suppressed,
		Conflicts:  result.Open,
	}, nil
}

func (s *ConflictService) snapshot(ctx context.Context, tx sqlx.ExtContext, schedule *models.Schedule) (DetectionInput, error) {
	sessions, err := s.sessions.ListBySchedule(ctx, tx, schedule.ID)
	if err != nil {
		return DetectionInput{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load sessions")
	}

	loadIDs := make([]string, 0)
	seen := make(map[string]bool)
	for _, session := range sessions {
		if !seen[session.TeachingLoadID] {
			seen[session.TeachingLoadID] = true
			loadIDs = append(loadIDs, session.TeachingLoadID)
		}
	}
	loads := make(map[string]models.TeachingLoad, len(loadIDs))
	if len(loadIDs) > 0 && s.loads != nil {
		list, err := s.loads.ListByIDs(ctx, tx, schedule.InstitutionID, schedule.AcademicYearID, loadIDs)
		if err != nil {
			return DetectionInput{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teaching loads")
		}
		for _, load := range list {
			loads[load.ID] = load
		}
	}

	rooms := make(map[string]models.Room)
	if s.rooms != nil {
		list, err := s.rooms.ListByInstitution(ctx, schedule.InstitutionID)
		if err != nil {
			return DetectionInput{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load rooms")
		}
		for _, room := range list {
			rooms[room.ID] = room
		}
	}

	existing, err := s.conflicts.ListBySchedule(ctx, tx, schedule.ID)
	if err != nil {
		return DetectionInput{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load conflicts")
	}

	policy, err := s.policyFor(ctx, schedule.InstitutionID)
	if err != nil {
		return DetectionInput{}, err
	}

	return DetectionInput{
		ScheduleID: schedule.ID,
		Sessions:   sessions,
		Rooms:      rooms,
		Loads:      loads,
		Existing:   existing,
		Now:        s.clock.Now(),
		Policy:     policy,
	}, nil
}

// TransitionConflict applies one workflow action with compare-and-swap on the status and version read.
func (s *ConflictService) TransitionConflict(ctx context.Context, conflictID, actorID string, req dto.TransitionConflictRequest) (*models.ScheduleConflict, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid conflict transition payload")
	}
	current, err := s.conflicts.FindByID(ctx, conflictID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "conflict not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load conflict")
	}

	next, err := ApplyTransition(*current, models.TransitionRequest{
		Action:  req.Action,
		ActorID: actorID,
		Notes:   req.Notes,
		Actions: req.Actions,
	}, s.clock.Now())
	if err != nil {
		s.metrics.RecordTransition(string(req.Action), "rejected")
		return nil, err
	}

	if err := s.conflicts.CompareAndSwap(ctx, &next, current.Status, current.Version); err != nil {
		if errors.Is(err, repository.ErrVersionMismatch) {
			s.metrics.RecordTransition(string(req.Action), "stale")
			return nil, appErrors.Clone(appErrors.ErrStaleConflictState, "conflict was modified concurrently, reload and retry")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update conflict")
	}

	s.metrics.RecordTransition(string(req.Action), "applied")
	s.logger.Info("conflict transitioned",
		zap.String("conflict_id", conflictID),
		zap.String("action", string(req.Action)),
		zap.String("from", string(current.Status)),
		zap.String("to", string(next.Status)),
		zap.String("actor_id", actorID),
	)
	return &next, nil
}

// ReportConflict records a manually raised conflict.
func (s *ConflictService) ReportConflict(ctx context.Context, scheduleID, actorID string, req dto.ReportConflictRequest) (*models.ScheduleConflict, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid conflict report")
	}
	if strings.TrimSpace(actorID) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "actor id is required")
	}
	if _, err := s.schedules.FindByID(ctx, scheduleID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "schedule not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load schedule")
	}

	now := s.clock.Now()
	blocks := BlocksApproval(req.Severity)
	id := uuid.NewString()
	conflict := models.ScheduleConflict{
		ID:                 id,
		ScheduleID:         scheduleID,
		ConflictType:       req.ConflictType,
		Severity:           req.Severity,
		SourceKind:         req.SourceKind,
		SourceID:           req.SourceID,
		TargetKind:         req.TargetKind,
		TargetID:           req.TargetID,
		DetectionMethod:    models.DetectionManual,
		Status:             models.ConflictStatusPending,
		BlocksApproval:     blocks,
		ImpactScore:        ImpactScore(req.Severity, req.ConflictType, blocks, false),
		Title:              req.Title,
		Description:        req.Description,
		Fingerprint:        fmt.Sprintf("manual|%s", id),
		DetectionCount:     1,
		SuggestedSolutions: SuggestSolutions(req.ConflictType),
		History: models.ConflictHistory{{
			Action:    "reported",
			ActorID:   actorID,
			Timestamp: now,
			ToStatus:  models.ConflictStatusPending,
		}},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if req.SessionID != "" {
		sessionID := req.SessionID
		conflict.SessionID = &sessionID
	}

	if err := s.conflicts.Insert(ctx, nil, &conflict); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store conflict")
	}
	s.metrics.RecordConflictDetected(string(conflict.ConflictType), string(conflict.Severity))
	if s.notifier != nil {
		s.notifier.NotifyBlocking([]models.ScheduleConflict{conflict})
	}
	return &conflict, nil
}

// ListConflicts returns a filtered page of a schedule's conflicts.
func (s *ConflictService) ListConflicts(ctx context.Context, scheduleID string, query dto.ConflictListQuery) ([]models.ScheduleConflict, *models.Pagination, error) {
	filter := models.ConflictFilter{
		ScheduleID: scheduleID,
		Severity:   models.Severity(query.Severity),
		Type:       models.ConflictType(query.Type),
		Page:       query.Page,
		PageSize:   query.PageSize,
	}
	switch query.Status {
	case "":
	case "open":
		filter.Statuses = models.OpenConflictStatuses
	default:
		for _, status := range strings.Split(query.Status, ",") {
			if status = strings.TrimSpace(status); status != "" {
				filter.Statuses = append(filter.Statuses, models.ConflictStatus(status))
			}
		}
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 || filter.PageSize > 200 {
		filter.PageSize = 50
	}

	conflicts, total, err := s.conflicts.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list conflicts")
	}
	return conflicts, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// GetConflict loads one conflict.
func (s *ConflictService) GetConflict(ctx context.Context, id string) (*models.ScheduleConflict, error) {
	conflict, err := s.conflicts.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "conflict not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load conflict")
	}
	return conflict, nil
}

// ApprovalGate reports whether a schedule may be finalized.
func (s *ConflictService) ApprovalGate(ctx context.Context, scheduleID string) (*models.ApprovalGate, error) {
	if _, err := s.schedules.FindByID(ctx, scheduleID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "schedule not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load schedule")
	}
	count, err := s.conflicts.CountGating(ctx, scheduleID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count blocking conflicts")
	}
	return &models.ApprovalGate{ScheduleID: scheduleID, BlockingCount: count, CanFinalize: count == 0}, nil
}
