package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-engine/internal/dto"
	"github.com/noah-isme/sma-timetable-engine/internal/models"
	appErrors "github.com/noah-isme/sma-timetable-engine/pkg/errors"
)

var sessionActionSources = map[models.SessionAction][]models.SessionStatus{
	models.SessionActionConfirm:    {models.SessionStatusScheduled},
	models.SessionActionStart:      {models.SessionStatusScheduled, models.SessionStatusConfirmed},
	models.SessionActionComplete:   {models.SessionStatusInProgress},
	models.SessionActionCancel:     {models.SessionStatusScheduled, models.SessionStatusConfirmed},
	models.SessionActionMove:       {models.SessionStatusScheduled, models.SessionStatusConfirmed},
	models.SessionActionSubstitute: {models.SessionStatusScheduled, models.SessionStatusConfirmed},
}

// SessionChange is the input of a lifecycle action. Slot is the resolved target of a move.
type SessionChange struct {
	Action              models.SessionAction
	ActorID             string
	Reason              string
	Slot                *models.TimeSlot
	RoomID              string
	SubstituteTeacherID string
}

// ApplySessionAction returns the session after the action. The input is not modified.
func ApplySessionAction(session models.ScheduleSession, change SessionChange, now time.Time) (models.ScheduleSession, error) {
	sources, ok := sessionActionSources[change.Action]
	if !ok {
		return session, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown session action %q", change.Action))
	}
	allowed := false
	for _, status := range sources {
		if session.Status == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return session, appErrors.Clone(appErrors.ErrInvalidSessionTransition,
			fmt.Sprintf("cannot %s a session that is %s", change.Action, session.Status))
	}

	next := session
	switch change.Action {
	case models.SessionActionConfirm:
		next.Status = models.SessionStatusConfirmed
	case models.SessionActionStart:
		next.Status = models.SessionStatusInProgress
		next.StartedAt = &now
	case models.SessionActionComplete:
		next.Status = models.SessionStatusCompleted
		next.CompletedAt = &now
	case models.SessionActionCancel:
		if strings.TrimSpace(change.Reason) == "" {
			return session, appErrors.Clone(appErrors.ErrValidation, "a reason is required to cancel a session")
		}
		next.Status = models.SessionStatusCancelled
		next.Notes = stringPtr(change.Reason)
	case models.SessionActionMove:
		if change.Slot == nil || !change.Slot.IsLesson() {
			return session, appErrors.Clone(appErrors.ErrValidation, "move requires a lesson slot")
		}
		next.Status = models.SessionStatusMoved
		next.DayOfWeek = change.Slot.DayOfWeek
		next.PeriodNumber = change.Slot.PeriodNumber
		next.TimeSlotID = change.Slot.ID
		next.StartTime = change.Slot.StartTime
		next.EndTime = change.Slot.EndTime
		if change.RoomID != "" {
			next.RoomID = stringPtr(change.RoomID)
		}
		if change.Reason != "" {
			next.Notes = stringPtr(change.Reason)
		}
	case models.SessionActionSubstitute:
		if session.SubstituteTeacherID != nil {
			return session, appErrors.Clone(appErrors.ErrInvalidSessionTransition, "session already has a substitute teacher")
		}
		if strings.TrimSpace(change.SubstituteTeacherID) == "" {
			return session, appErrors.Clone(appErrors.ErrValidation, "substituteTeacherId is required")
		}
		if change.SubstituteTeacherID == session.TeacherID {
			return session, appErrors.Clone(appErrors.ErrValidation, "substitute must differ from the assigned teacher")
		}
		next.Status = models.SessionStatusSubstituted
		next.SubstituteTeacherID = stringPtr(change.SubstituteTeacherID)
		next.OriginalTeacherID = stringPtr(session.TeacherID)
		if change.Reason != "" {
			next.Notes = stringPtr(change.Reason)
		}
	}
	next.UpdatedBy = stringPtr(change.ActorID)
	next.UpdatedAt = now
	return next, nil
}

func stringPtr(v string) *string {
	return &v
}

type sessionLifecycleStore interface {
	FindByID(ctx context.Context, id string) (*models.ScheduleSession, error)
	UpdateLifecycle(ctx context.Context, session *models.ScheduleSession, expected models.SessionStatus) error
}

type sessionScheduleReader interface {
	FindByID(ctx context.Context, id string) (*models.Schedule, error)
}

// SessionService applies lifecycle actions to placed sessions.
type SessionService struct {
	sessions  sessionLifecycleStore
	schedules sessionScheduleReader
	settings  generationSettingReader
	conflicts conflictScanner
	validator *validator.Validate
	logger    *zap.Logger
	clock     Clock
	defaults  models.ScheduleGenerationSetting
}

// NewSessionService constructs the service.
func NewSessionService(
	sessions sessionLifecycleStore,
	schedules sessionScheduleReader,
	settings generationSettingReader,
	conflicts conflictScanner,
	validate *validator.Validate,
	logger *zap.Logger,
	clock Clock,
	defaults models.ScheduleGenerationSetting,
) *SessionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = SystemClock()
	}
	return &SessionService{
		sessions:  sessions,
		schedules: schedules,
		settings:  settings,
		conflicts: conflicts,
		validator: validate,
		logger:    logger,
		clock:     clock,
		defaults:  defaults,
	}
}

// Perform runs action on the session, guarded by compare-and-swap on the status read.
// Moves and substitutions change occupancy, so the schedule is re-scanned afterwards.
func (s *SessionService) Perform(ctx context.Context, sessionID string, action models.SessionAction, actorID string, req dto.SessionActionRequest) (*models.ScheduleSession, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid session action payload")
	}
	if strings.TrimSpace(actorID) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "actor id is required")
	}
	current, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}

	change := SessionChange{
		Action:              action,
		ActorID:             actorID,
		Reason:              req.Reason,
		RoomID:              req.RoomID,
		SubstituteTeacherID: req.SubstituteTeacherID,
	}
	if action == models.SessionActionMove {
		slot, err := s.resolveSlot(ctx, current.ScheduleID, req.DayOfWeek, req.PeriodNumber)
		if err != nil {
			return nil, err
		}
		change.Slot = slot
	}

	next, err := ApplySessionAction(*current, change, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if err := s.sessions.UpdateLifecycle(ctx, &next, current.Status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidSessionTransition, "session was modified concurrently, reload and retry")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update session")
	}

	s.logger.Info("session lifecycle action applied",
		zap.String("session_id", sessionID),
		zap.String("action", string(action)),
		zap.String("from", string(current.Status)),
		zap.String("to", string(next.Status)),
		zap.String("actor_id", actorID),
	)

	if s.conflicts != nil && (action == models.SessionActionMove || action == models.SessionActionSubstitute || action == models.SessionActionCancel) {
		if _, err := s.conflicts.DetectConflicts(ctx, current.ScheduleID, false); err != nil {
			s.logger.Warn("conflict rescan after session change failed", zap.String("schedule_id", current.ScheduleID), zap.Error(err))
		}
	}
	return &next, nil
}

func (s *SessionService) resolveSlot(ctx context.Context, scheduleID string, day, period int) (*models.TimeSlot, error) {
	if day == 0 || period == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "dayOfWeek and periodNumber are required to move a session")
	}
	schedule, err := s.schedules.FindByID(ctx, scheduleID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "schedule not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load schedule")
	}
	setting := s.defaults
	if s.settings != nil {
		stored, err := s.settings.FindByInstitution(ctx, schedule.InstitutionID)
		switch {
		case err == nil:
			setting = *stored
		case !errors.Is(err, sql.ErrNoRows):
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load generation settings")
		}
	}
	grid, err := BuildTimeGrid(setting)
	if err != nil {
		return nil, err
	}
	for _, slot := range grid.LessonSlotsForDay(day) {
		if slot.PeriodNumber == period {
			slot := slot
			return &slot, nil
		}
	}
	return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("no lesson period %d on day %d", period, day))
}
