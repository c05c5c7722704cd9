package service

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-engine/internal/dto"
	"github.com/noah-isme/sma-timetable-engine/internal/models"
	appErrors "github.com/noah-isme/sma-timetable-engine/pkg/errors"
)

type generationLoadStore interface {
	ListByIDs(ctx context.Context, exec sqlx.ExtContext, institutionID, academicYearID string, ids []string) ([]models.TeachingLoad, error)
	MarkScheduled(ctx context.Context, exec sqlx.ExtContext, ids []string, scheduleID string, at time.Time) error
	UpdateStatus(ctx context.Context, exec sqlx.ExtContext, institutionID string, ids []string, status models.LoadStatus) error
}

type generationSettingReader interface {
	FindByInstitution(ctx context.Context, institutionID string) (*models.ScheduleGenerationSetting, error)
}

type scheduleStore interface {
	CreateVersioned(ctx context.Context, exec sqlx.ExtContext, schedule *models.Schedule) error
	FindByID(ctx context.Context, id string) (*models.Schedule, error)
	ListByInstitutionYear(ctx context.Context, institutionID, academicYearID string) ([]models.Schedule, error)
	UpdateStatistics(ctx context.Context, exec sqlx.ExtContext, id string, stats models.GenerationStatistics) error
}

type sessionWriter interface {
	InsertBatch(ctx context.Context, exec sqlx.ExtContext, sessions []models.ScheduleSession) error
	ListBySchedule(ctx context.Context, exec sqlx.ExtContext, scheduleID string) ([]models.ScheduleSession, error)
}

type templateReader interface {
	FindByID(ctx context.Context, id string) (*models.ScheduleTemplate, error)
}

type conflictScanner interface {
	DetectConflicts(ctx context.Context, scheduleID string, retrigger bool) (*dto.DetectConflictsResponse, error)
}

type templateUsageRecorder interface {
	RecordUsage(ctx context.Context, templateID string, observed float64) error
}

// GeneratorConfig governs generator behaviour.
type GeneratorConfig struct {
	TeacherWeeklyHourLimit int
	Timeout                time.Duration
	DefaultSetting         models.ScheduleGenerationSetting
}

// ScheduleGeneratorService runs the generate, persist, then detect pipeline.
type ScheduleGeneratorService struct {
	loads     generationLoadStore
	settings  generationSettingReader
	rooms     roomReader
	schedules scheduleStore
	sessions  sessionWriter
	templates templateReader
	usage     templateUsageRecorder
	conflicts conflictScanner
	tx        txProvider
	engine    *PlacementEngine
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	clock     Clock
	cfg       GeneratorConfig
}

// NewScheduleGeneratorService wires generator dependencies.
func NewScheduleGeneratorService(
	loads generationLoadStore,
	settings generationSettingReader,
	rooms roomReader,
	schedules scheduleStore,
	sessions sessionWriter,
	templates templateReader,
	usage templateUsageRecorder,
	conflicts conflictScanner,
	tx txProvider,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
	clock Clock,
	cfg GeneratorConfig,
) *ScheduleGeneratorService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = SystemClock()
	}
	return &ScheduleGeneratorService{
		loads:     loads,
		settings:  settings,
		rooms:     rooms,
		schedules: schedules,
		sessions:  sessions,
		templates: templates,
		usage:     usage,
		conflicts: conflicts,
		tx:        tx,
		engine:    NewPlacementEngine(logger),
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		clock:     clock,
		cfg:       cfg,
	}
}

// Generate places the requested teaching loads into a new schedule version. Placement is all-or-nothing:
// either every session is committed with the load status write-back or nothing is persisted.
// Conflict detection starts only after that commit.
func (s *ScheduleGeneratorService) Generate(ctx context.Context, req dto.GenerateScheduleRequest) (*dto.GenerateScheduleResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid schedule generation payload")
	}
	if s.tx == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "transaction provider missing")
	}
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	started := s.clock.Now()
	s.logger.Info("schedule generation started",
		zap.String("institution_id", req.InstitutionID),
		zap.String("academic_year_id", req.AcademicYearID),
		zap.Int("teaching_loads", len(req.TeachingLoadIDs)),
	)

	resp, err := s.generate(ctx, req, started)
	if err != nil {
		s.metrics.ObserveGeneration(generationOutcome(err), s.clock.Now().Sub(started), 0, 0)
		s.logger.Warn("schedule generation failed",
			zap.String("institution_id", req.InstitutionID),
			zap.String("academic_year_id", req.AcademicYearID),
			zap.Error(err),
		)
		return nil, err
	}
	return resp, nil
}

func (s *ScheduleGeneratorService) generate(ctx context.Context, req dto.GenerateScheduleRequest, started time.Time) (*dto.GenerateScheduleResponse, error) {
	ids := uniqueIDs(req.TeachingLoadIDs)
	loads, err := s.loads.ListByIDs(ctx, nil, req.InstitutionID, req.AcademicYearID, ids)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teaching loads")
	}
	if missing := missingLoads(ids, loads); len(missing) > 0 {
		return nil, appErrors.WithDetails(appErrors.ErrNotFound, "teaching loads not found for institution and academic year", missing)
	}

	setting, err := s.settingFor(ctx, req.InstitutionID)
	if err != nil {
		return nil, err
	}

	var template *models.ScheduleTemplate
	if req.TemplateID != "" {
		template, err = s.loadTemplate(ctx, req.TemplateID, req.InstitutionID)
		if err != nil {
			return nil, err
		}
		setting, loads = ApplyTemplate(*template, setting, loads)
	}

	grid, err := BuildTimeGrid(setting)
	if err != nil {
		return nil, err
	}

	var rooms []models.Room
	if s.rooms != nil {
		rooms, err = s.rooms.ListByInstitution(ctx, req.InstitutionID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load rooms")
		}
	}

	plans, err := PlanAll(ctx, loads, grid.WorkingDays(), setting.GenerationPreferences.MaxConsecutiveHours)
	if err != nil {
		return nil, cancelledError(err)
	}

	schedule := &models.Schedule{
		ID:             uuid.NewString(),
		InstitutionID:  req.InstitutionID,
		AcademicYearID: req.AcademicYearID,
		Status:         models.ScheduleStatusDraft,
		CreatedBy:      req.ActorID,
	}
	if template != nil {
		id := template.ID
		schedule.TemplateID = &id
	}

	placement, err := s.engine.Place(ctx, PlacementInput{
		ScheduleID:  schedule.ID,
		Grid:        grid,
		Loads:       loads,
		Plans:       plans,
		Rooms:       rooms,
		Preferences: setting.GenerationPreferences,
		Now:         started,
	})
	if err != nil {
		return nil, cancelledError(err)
	}

	if err := s.persist(ctx, schedule, placement.Sessions, ids); err != nil {
		return nil, err
	}

	stats := models.GenerationStatistics{
		TotalLoads:       len(loads),
		TotalSessions:    len(placement.Sessions),
		DegradedSessions: len(placement.Degraded),
	}

	conflicts, sessions := s.detectAfterCommit(ctx, schedule.ID, placement.Sessions)
	blocking := 0
	for _, c := range conflicts {
		if c.IsGating() {
			blocking++
		}
	}
	stats.ConflictCount = len(conflicts)
	stats.BlockingCount = blocking
	stats.SuccessRate = successRate(len(placement.Sessions), len(placement.Degraded))
	stats.EfficiencyScore = efficiencyScore(stats.SuccessRate, blocking)
	stats.DurationMillis = s.clock.Now().Sub(started).Milliseconds()

	if err := s.schedules.UpdateStatistics(ctx, nil, schedule.ID, stats); err != nil {
		s.logger.Warn("failed to store generation statistics", zap.String("schedule_id", schedule.ID), zap.Error(err))
	}
	schedule.Statistics = stats

	s.markConflictLoads(ctx, schedule.InstitutionID, schedule.ID, sessions, conflicts)

	if template != nil && s.usage != nil {
		if err := s.usage.RecordUsage(ctx, template.ID, stats.EfficiencyScore/100); err != nil {
			s.logger.Warn("failed to record template usage", zap.String("template_id", template.ID), zap.Error(err))
		}
	}

	outcome := "success"
	if len(placement.Degraded) > 0 {
		outcome = "degraded"
	}
	s.metrics.ObserveGeneration(outcome, s.clock.Now().Sub(started), len(placement.Sessions)-len(placement.Degraded), len(placement.Degraded))

	s.logger.Info("schedule generation finished",
		zap.String("institution_id", req.InstitutionID),
		zap.String("academic_year_id", req.AcademicYearID),
		zap.String("schedule_id", schedule.ID),
		zap.Int("version", schedule.Version),
		zap.Int("sessions", len(sessions)),
		zap.Int("degraded", len(placement.Degraded)),
		zap.Int("conflicts", len(conflicts)),
		zap.Int("blocking", blocking),
		zap.Int64("duration_ms", stats.DurationMillis),
	)

	degraded := make([]dto.DegradedPlacementResponse, 0, len(placement.Degraded))
	for _, d := range placement.Degraded {
		degraded = append(degraded, dto.DegradedPlacementResponse{SessionID: d.SessionID, LoadID: d.LoadID, Violations: d.Violations})
	}

	return &dto.GenerateScheduleResponse{
		ScheduleID: schedule.ID,
		Version:    schedule.Version,
		Sessions:   sessions,
		Conflicts:  conflicts,
		Degraded:   degraded,
		Statistics: stats,
	}, nil
}

func (s *ScheduleGeneratorService) persist(ctx context.Context, schedule *models.Schedule, sessions []models.ScheduleSession, loadIDs []string) (err error) {
	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = s.schedules.CreateVersioned(ctx, tx, schedule); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create schedule")
	}
	for i := range sessions {
		sessions[i].ScheduleID = schedule.ID
	}
	if err = s.sessions.InsertBatch(ctx, tx, sessions); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist sessions")
	}
	if err = s.loads.MarkScheduled(ctx, tx, loadIDs, schedule.ID, s.clock.Now()); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark teaching loads scheduled")
	}
	if err = ctx.Err(); err != nil {
		return cancelledError(err)
	}
	if err = tx.Commit(); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit schedule")
	}
	return nil
}

// detectAfterCommit scans the committed schedule. A failed scan leaves the schedule in place; the caller can
// re-run detection on demand.
func (s *ScheduleGeneratorService) detectAfterCommit(ctx context.Context, scheduleID string, placed []models.ScheduleSession) ([]models.ScheduleConflict, []models.ScheduleSession) {
	if s.conflicts == nil {
		return nil, placed
	}
	detected, err := s.conflicts.DetectConflicts(ctx, scheduleID, false)
	if err != nil {
		s.logger.Error("post-generation conflict detection failed", zap.String("schedule_id", scheduleID), zap.Error(err))
		return nil, placed
	}
	sessions, err := s.sessions.ListBySchedule(ctx, nil, scheduleID)
	if err != nil {
		s.logger.Warn("failed to reload flagged sessions", zap.String("schedule_id", scheduleID), zap.Error(err))
		return detected.Conflicts, placed
	}
	return detected.Conflicts, sessions
}

func (s *ScheduleGeneratorService) markConflictLoads(ctx context.Context, institutionID, scheduleID string, sessions []models.ScheduleSession, conflicts []models.ScheduleConflict) {
	loadBySession := make(map[string]string, len(sessions))
	for _, session := range sessions {
		loadBySession[session.ID] = session.TeachingLoadID
	}
	seen := make(map[string]bool)
	var ids []string
	for _, c := range conflicts {
		if !c.IsGating() {
			continue
		}
		for _, ref := range []models.EntityRef{c.Source(), c.Target()} {
			if ref.Kind != models.EntitySession {
				continue
			}
			if loadID, ok := loadBySession[ref.ID]; ok && !seen[loadID] {
				seen[loadID] = true
				ids = append(ids, loadID)
			}
		}
	}
	if len(ids) == 0 {
		return
	}
	sort.Strings(ids)
	if err := s.loads.UpdateStatus(ctx, nil, institutionID, ids, models.LoadStatusConflict); err != nil {
		s.logger.Warn("failed to flag conflicting teaching loads", zap.String("schedule_id", scheduleID), zap.Error(err))
	}
}

func (s *ScheduleGeneratorService) settingFor(ctx context.Context, institutionID string) (models.ScheduleGenerationSetting, error) {
	if s.settings == nil {
		return s.defaultSetting(institutionID), nil
	}
	setting, err := s.settings.FindByInstitution(ctx, institutionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return s.defaultSetting(institutionID), nil
		}
		return models.ScheduleGenerationSetting{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load generation settings")
	}
	return *setting, nil
}

func (s *ScheduleGeneratorService) defaultSetting(institutionID string) models.ScheduleGenerationSetting {
	setting := s.cfg.DefaultSetting
	setting.InstitutionID = institutionID
	setting.WorkingDays = append(models.IntList(nil), s.cfg.DefaultSetting.WorkingDays...)
	setting.BreakPeriods = append(models.IntList(nil), s.cfg.DefaultSetting.BreakPeriods...)
	if setting.GenerationPreferences.TeacherWeeklyHourLimit == 0 {
		setting.GenerationPreferences.TeacherWeeklyHourLimit = s.cfg.TeacherWeeklyHourLimit
	}
	return setting
}

func (s *ScheduleGeneratorService) loadTemplate(ctx context.Context, templateID, institutionID string) (*models.ScheduleTemplate, error) {
	if s.templates == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "template repository missing")
	}
	template, err := s.templates.FindByID(ctx, templateID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "template not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load template")
	}
	if !template.IsActive {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "template is inactive")
	}
	if !template.IsPublic && (template.InstitutionID == nil || *template.InstitutionID != institutionID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "template belongs to another institution")
	}
	return template, nil
}

// GetSchedule loads one schedule.
func (s *ScheduleGeneratorService) GetSchedule(ctx context.Context, id string) (*models.Schedule, error) {
	schedule, err := s.schedules.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "schedule not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load schedule")
	}
	return schedule, nil
}

// ListSchedules returns every version generated for an institution and academic year.
func (s *ScheduleGeneratorService) ListSchedules(ctx context.Context, institutionID, academicYearID string) ([]models.Schedule, error) {
	if strings.TrimSpace(institutionID) == "" || strings.TrimSpace(academicYearID) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "institutionId and academicYearId are required")
	}
	schedules, err := s.schedules.ListByInstitutionYear(ctx, institutionID, academicYearID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list schedules")
	}
	return schedules, nil
}

// ListSessions returns the sessions of a schedule in day and period order.
func (s *ScheduleGeneratorService) ListSessions(ctx context.Context, scheduleID string) ([]models.ScheduleSession, error) {
	if _, err := s.GetSchedule(ctx, scheduleID); err != nil {
		return nil, err
	}
	sessions, err := s.sessions.ListBySchedule(ctx, nil, scheduleID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sessions")
	}
	return sessions, nil
}

// TimeGrid previews the grid an institution's settings produce.
func (s *ScheduleGeneratorService) TimeGrid(ctx context.Context, institutionID string) (models.TimeGrid, error) {
	setting, err := s.settingFor(ctx, institutionID)
	if err != nil {
		return models.TimeGrid{}, err
	}
	return BuildTimeGrid(setting)
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func missingLoads(ids []string, loads []models.TeachingLoad) []string {
	found := make(map[string]bool, len(loads))
	for _, l := range loads {
		found[l.ID] = true
	}
	var missing []string
	for _, id := range ids {
		if !found[id] {
			missing = append(missing, id)
		}
	}
	return missing
}

func successRate(total, degraded int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(total-degraded)/float64(total)*10000) / 10000
}

func efficiencyScore(rate float64, blocking int) float64 {
	return math.Max(0, rate*100-5*float64(blocking))
}

func cancelledError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return appErrors.Wrap(err, appErrors.ErrPreconditionFailed.Code, appErrors.ErrPreconditionFailed.Status, "schedule generation cancelled")
	}
	return err
}

func generationOutcome(err error) string {
	switch {
	case errors.Is(err, appErrors.ErrConfigurationInvalid):
		return "invalid_configuration"
	case errors.Is(err, appErrors.ErrGenerationInfeasible):
		return "infeasible"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}
