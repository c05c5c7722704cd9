package service

import (
	"context"
	"crypto/sha1"
	"database/sql"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/noah-isme/sma-timetable-engine/internal/dto"
	"github.com/noah-isme/sma-timetable-engine/internal/models"
	"github.com/noah-isme/sma-timetable-engine/internal/repository"
	appErrors "github.com/noah-isme/sma-timetable-engine/pkg/errors"
)

const (
	templateCachePrefix   = "templates:"
	maxUsageRecordRetries = 5
)

//go:embed seed/system_templates.yaml
var systemTemplateCatalogue []byte

var systemTemplateNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("timetable-engine/system-templates"))

type templateStore interface {
	ListCandidates(ctx context.Context, institutionID string) ([]models.ScheduleTemplate, error)
	FindByID(ctx context.Context, id string) (*models.ScheduleTemplate, error)
	Create(ctx context.Context, template *models.ScheduleTemplate) error
	UpsertSystem(ctx context.Context, template *models.ScheduleTemplate) error
	RecordUsage(ctx context.Context, id string, expectedUsage, newUsage int, successRate float64, at time.Time) error
	Deactivate(ctx context.Context, id string) error
}

type templateLoadReader interface {
	ListByIDs(ctx context.Context, exec sqlx.ExtContext, institutionID, academicYearID string, ids []string) ([]models.TeachingLoad, error)
	List(ctx context.Context, filter models.TeachingLoadFilter) ([]models.TeachingLoad, error)
}

type templateScheduleReader interface {
	FindByID(ctx context.Context, id string) (*models.Schedule, error)
}

type templateSessionReader interface {
	ListBySchedule(ctx context.Context, exec sqlx.ExtContext, scheduleID string) ([]models.ScheduleSession, error)
}

// TemplateService recommends, extracts and applies schedule templates.
type TemplateService struct {
	templates templateStore
	loads     templateLoadReader
	settings  generationSettingReader
	schedules templateScheduleReader
	sessions  templateSessionReader
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
	clock     Clock
	policy    RecommendationPolicy
	defaults  models.ScheduleGenerationSetting
}

// NewTemplateService constructs the service. defaults is used when an institution has no stored settings.
func NewTemplateService(
	templates templateStore,
	loads templateLoadReader,
	settings generationSettingReader,
	schedules templateScheduleReader,
	sessions templateSessionReader,
	cache *CacheService,
	validate *validator.Validate,
	logger *zap.Logger,
	clock Clock,
	policy RecommendationPolicy,
	defaults models.ScheduleGenerationSetting,
) *TemplateService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = SystemClock()
	}
	if policy.Limit <= 0 {
		policy.Limit = 5
	}
	return &TemplateService{
		templates: templates,
		loads:     loads,
		settings:  settings,
		schedules: schedules,
		sessions:  sessions,
		cache:     cache,
		validator: validate,
		logger:    logger,
		clock:     clock,
		policy:    policy,
		defaults:  defaults,
	}
}

// RecommendTemplates ranks visible templates against a workload summary. When no summary is passed the
// server summarises the given teaching loads.
func (s *TemplateService) RecommendTemplates(ctx context.Context, req dto.RecommendTemplatesRequest) ([]models.TemplateRecommendation, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid template recommendation payload")
	}

	summary, err := s.summaryFor(ctx, req)
	if err != nil {
		return nil, err
	}

	key, err := recommendationCacheKey(summary)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to build cache key")
	}
	var cached []models.TemplateRecommendation
	if s.cache.Get(ctx, key, &cached) {
		return cached, nil
	}

	candidates, err := s.templates.ListCandidates(ctx, summary.InstitutionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list templates")
	}
	ranked := RankTemplates(candidates, summary, s.policy)
	s.cache.Set(ctx, key, ranked, 0)
	return ranked, nil
}

func (s *TemplateService) summaryFor(ctx context.Context, req dto.RecommendTemplatesRequest) (models.WorkloadSummary, error) {
	if req.Summary != nil {
		summary := *req.Summary
		summary.InstitutionID = req.InstitutionID
		return summary, nil
	}
	if req.AcademicYearID == "" || len(req.TeachingLoadIDs) == 0 {
		return models.WorkloadSummary{}, appErrors.Clone(appErrors.ErrValidation, "either summary or academicYearId with teachingLoadIds is required")
	}
	loads, err := s.loads.ListByIDs(ctx, nil, req.InstitutionID, req.AcademicYearID, uniqueIDs(req.TeachingLoadIDs))
	if err != nil {
		return models.WorkloadSummary{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teaching loads")
	}
	if len(loads) == 0 {
		return models.WorkloadSummary{}, appErrors.Clone(appErrors.ErrNotFound, "no teaching loads found")
	}
	setting, err := s.settingFor(ctx, req.InstitutionID)
	if err != nil {
		return models.WorkloadSummary{}, err
	}
	return SummarizeWorkload(req.InstitutionID, loads, &setting), nil
}

func recommendationCacheKey(summary models.WorkloadSummary) (string, error) {
	payload, err := json.Marshal(summary)
	if err != nil {
		return "", err
	}
	sum := sha1.Sum(payload)
	return fmt.Sprintf("%s%s:%s", templateCachePrefix, summary.InstitutionID, hex.EncodeToString(sum[:])), nil
}

// CreateFromSchedule extracts a reusable template from a generated schedule.
func (s *TemplateService) CreateFromSchedule(ctx context.Context, scheduleID, actorID string, req dto.CreateTemplateRequest) (*models.ScheduleTemplate, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid template payload")
	}
	schedule, err := s.schedules.FindByID(ctx, scheduleID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "schedule not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load schedule")
	}
	sessions, err := s.sessions.ListBySchedule(ctx, nil, scheduleID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load sessions")
	}
	if len(sessions) == 0 {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "schedule has no sessions to learn from")
	}

	loadIDs := make([]string, 0, len(sessions))
	for _, session := range sessions {
		loadIDs = append(loadIDs, session.TeachingLoadID)
	}
	loads, err := s.loads.ListByIDs(ctx, nil, schedule.InstitutionID, schedule.AcademicYearID, uniqueIDs(loadIDs))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teaching loads")
	}
	setting, err := s.settingFor(ctx, schedule.InstitutionID)
	if err != nil {
		return nil, err
	}

	data := ExtractTemplateData(setting, sessions, loads)
	institutionID := schedule.InstitutionID
	sourceID := schedule.ID
	creator := actorID
	now := s.clock.Now()
	template := &models.ScheduleTemplate{
		ID:               uuid.NewString(),
		InstitutionID:    &institutionID,
		Name:             strings.TrimSpace(req.Name),
		Description:      req.Description,
		IsPublic:         req.IsPublic,
		IsActive:         true,
		TemplateType:     models.TemplateTypeGenerated,
		SourceScheduleID: &sourceID,
		TemplateData:     data,
		Constraints: models.TemplateConstraints{
			WorkingDays:  append([]int(nil), setting.WorkingDays...),
			DailyPeriods: setting.DailyPeriods,
		},
		SuccessRate: schedule.Statistics.EfficiencyScore / 100,
		UsageCount:  1,
		LastUsedAt:  &now,
		CreatedBy:   &creator,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.templates.Create(ctx, template); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store template")
	}
	s.invalidate(ctx, template)
	s.logger.Info("template extracted from schedule",
		zap.String("template_id", template.ID),
		zap.String("schedule_id", scheduleID),
		zap.Float64("complexity_score", data.ComplexityScore),
	)
	return template, nil
}

// Apply previews the settings and biased loads a template would produce for the given loads.
func (s *TemplateService) Apply(ctx context.Context, templateID string, req dto.ApplyTemplateRequest) (*dto.ApplyTemplateResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid apply template payload")
	}
	template, err := s.visibleTemplate(ctx, templateID, req.InstitutionID)
	if err != nil {
		return nil, err
	}
	loads, err := s.loads.List(ctx, models.TeachingLoadFilter{InstitutionID: req.InstitutionID, IDs: uniqueIDs(req.TeachingLoadIDs)})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teaching loads")
	}
	setting, err := s.settingFor(ctx, req.InstitutionID)
	if err != nil {
		return nil, err
	}
	summary := SummarizeWorkload(req.InstitutionID, loads, &setting)
	if !IsCompatibleWith(*template, summary) {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "template constraints do not fit this workload")
	}
	merged, biased := ApplyTemplate(*template, setting, loads)
	if violations := ValidateGenerationSetting(merged); len(violations) > 0 {
		return nil, appErrors.WithDetails(appErrors.ErrConfigurationInvalid, "template produces invalid settings", violations)
	}
	return &dto.ApplyTemplateResponse{Setting: merged, Loads: biased}, nil
}

// RecordUsage folds an observed performance into the template's running success rate. The usage count acts as
// the version; a lost race reloads and retries.
func (s *TemplateService) RecordUsage(ctx context.Context, templateID string, observed float64) error {
	for attempt := 0; attempt < maxUsageRecordRetries; attempt++ {
		template, err := s.templates.FindByID(ctx, templateID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "template not found")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load template")
		}
		rate, usage := NextSuccessRate(*template, observed)
		err = s.templates.RecordUsage(ctx, templateID, template.UsageCount, usage, rate, s.clock.Now())
		if errors.Is(err, repository.ErrVersionMismatch) {
			s.logger.Debug("template usage race, retrying", zap.String("template_id", templateID), zap.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record template usage")
		}
		s.invalidate(ctx, template)
		return nil
	}
	return appErrors.Clone(appErrors.ErrConflict, "template usage is being updated concurrently")
}

// Deactivate hides a template from recommendations.
func (s *TemplateService) Deactivate(ctx context.Context, templateID string) error {
	template, err := s.templates.FindByID(ctx, templateID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "template not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load template")
	}
	if template.TemplateType == models.TemplateTypeSystem {
		return appErrors.Clone(appErrors.ErrForbidden, "system templates cannot be deactivated")
	}
	if err := s.templates.Deactivate(ctx, templateID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to deactivate template")
	}
	s.invalidate(ctx, template)
	return nil
}

type systemTemplateEntry struct {
	Key         string                     `yaml:"key"`
	Name        string                     `yaml:"name"`
	Description string                     `yaml:"description"`
	SuccessRate float64                    `yaml:"success_rate"`
	Data        models.TemplateData        `yaml:"data"`
	Constraints models.TemplateConstraints `yaml:"constraints"`
}

type systemTemplateFile struct {
	Templates []systemTemplateEntry `yaml:"templates"`
}

// SystemTemplates decodes the built-in catalogue.
func SystemTemplates() ([]models.ScheduleTemplate, error) {
	var file systemTemplateFile
	if err := yaml.Unmarshal(systemTemplateCatalogue, &file); err != nil {
		return nil, fmt.Errorf("decode system templates: %w", err)
	}
	templates := make([]models.ScheduleTemplate, 0, len(file.Templates))
	for _, entry := range file.Templates {
		if entry.Key == "" {
			return nil, fmt.Errorf("system template %q has no key", entry.Name)
		}
		templates = append(templates, models.ScheduleTemplate{
			ID:           uuid.NewSHA1(systemTemplateNamespace, []byte(entry.Key)).String(),
			Name:         entry.Name,
			Description:  entry.Description,
			IsPublic:     true,
			IsActive:     true,
			TemplateType: models.TemplateTypeSystem,
			TemplateData: entry.Data,
			Constraints:  entry.Constraints,
			SuccessRate:  entry.SuccessRate,
		})
	}
	return templates, nil
}

// SeedSystemTemplates installs the built-in catalogue.
func (s *TemplateService) SeedSystemTemplates(ctx context.Context) error {
	templates, err := SystemTemplates()
	if err != nil {
		return err
	}
	for i := range templates {
		if err := s.templates.UpsertSystem(ctx, &templates[i]); err != nil {
			return fmt.Errorf("seed template %s: %w", templates[i].Name, err)
		}
	}
	s.cache.Invalidate(ctx, templateCachePrefix+"*")
	s.logger.Info("system templates seeded", zap.Int("count", len(templates)))
	return nil
}

func (s *TemplateService) visibleTemplate(ctx context.Context, templateID, institutionID string) (*models.ScheduleTemplate, error) {
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

func (s *TemplateService) settingFor(ctx context.Context, institutionID string) (models.ScheduleGenerationSetting, error) {
	if s.settings != nil {
		setting, err := s.settings.FindByInstitution(ctx, institutionID)
		if err == nil {
			return *setting, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return models.ScheduleGenerationSetting{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load generation settings")
		}
	}
	setting := s.defaults
	setting.InstitutionID = institutionID
	return setting, nil
}

// Public templates show up in every institution's recommendations.
func (s *TemplateService) invalidate(ctx context.Context, template *models.ScheduleTemplate) {
	if template.IsPublic || template.InstitutionID == nil {
		s.cache.Invalidate(ctx, templateCachePrefix+"*")
		return
	}
	s.cache.Invalidate(ctx, templateCachePrefix+*template.InstitutionID+":*")
}
