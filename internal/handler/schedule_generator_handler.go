package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-timetable-engine/internal/dto"
	"github.com/noah-isme/sma-timetable-engine/internal/models"
	"github.com/noah-isme/sma-timetable-engine/internal/service"
	appErrors "github.com/noah-isme/sma-timetable-engine/pkg/errors"
	"github.com/noah-isme/sma-timetable-engine/pkg/response"
)

const maxTeachingLoadsPerRun = 2000

type scheduleGenerator interface {
	Generate(ctx context.Context, req dto.GenerateScheduleRequest) (*dto.GenerateScheduleResponse, error)
	GetSchedule(ctx context.Context, id string) (*models.Schedule, error)
	ListSchedules(ctx context.Context, institutionID, academicYearID string) ([]models.Schedule, error)
	ListSessions(ctx context.Context, scheduleID string) ([]models.ScheduleSession, error)
	TimeGrid(ctx context.Context, institutionID string) (models.TimeGrid, error)
}

// ScheduleGeneratorHandler exposes generation and schedule read endpoints.
type ScheduleGeneratorHandler struct {
	service scheduleGenerator
	scope   institutionScope
}

// NewScheduleGeneratorHandler constructs the handler.
func NewScheduleGeneratorHandler(svc *service.ScheduleGeneratorService, scope *service.InstitutionScopeService) *ScheduleGeneratorHandler {
	return &ScheduleGeneratorHandler{service: svc, scope: scope}
}

// Generate godoc
// @Summary Generate a new schedule version
// @Description Places the given teaching loads on the institution's time grid, persists the result as a new version and runs conflict detection.
// @Tags Scheduler
// @Accept json
// @Produce json
// @Param payload body dto.GenerateScheduleRequest true "Generate schedule payload"
// @Success 201 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /schedules/generate [post]
func (h *ScheduleGeneratorHandler) Generate(c *gin.Context) {
	var req dto.GenerateScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid generate payload"))
		return
	}
	if len(req.TeachingLoadIDs) > maxTeachingLoadsPerRun {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "teachingLoadIds exceeds supported limit"))
		return
	}
	if err := checkInstitution(c, req.InstitutionID); err != nil {
		response.Error(c, err)
		return
	}
	actor, err := actorID(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	req.ActorID = actor

	result, err := h.service.Generate(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, result, nil, map[string]interface{}{
		"degraded": len(result.Degraded) > 0,
	})
}

// Get godoc
// @Summary Get a schedule version
// @Tags Scheduler
// @Produce json
// @Param id path string true "Schedule ID"
// @Success 200 {object} response.Envelope
// @Router /schedules/{id} [get]
func (h *ScheduleGeneratorHandler) Get(c *gin.Context) {
	schedule, err := h.service.GetSchedule(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := checkInstitution(c, schedule.InstitutionID); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, schedule)
}

// List godoc
// @Summary List schedule versions of an academic year
// @Tags Scheduler
// @Produce json
// @Param institutionId query string true "Institution ID"
// @Param academicYearId query string true "Academic year ID"
// @Success 200 {object} response.Envelope
// @Router /schedules [get]
func (h *ScheduleGeneratorHandler) List(c *gin.Context) {
	institutionID := c.Query("institutionId")
	if err := checkInstitution(c, institutionID); err != nil {
		response.Error(c, err)
		return
	}
	schedules, err := h.service.ListSchedules(c.Request.Context(), institutionID, c.Query("academicYearId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, schedules)
}

// Sessions godoc
// @Summary List the sessions of a schedule
// @Tags Scheduler
// @Produce json
// @Param id path string true "Schedule ID"
// @Success 200 {object} response.Envelope
// @Router /schedules/{id}/sessions [get]
func (h *ScheduleGeneratorHandler) Sessions(c *gin.Context) {
	if err := authorizeOwner(c, h.scope.ScheduleInstitution, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	sessions, err := h.service.ListSessions(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, sessions)
}

// TimeGrid godoc
// @Summary Preview an institution's time grid
// @Tags Scheduler
// @Produce json
// @Param institutionId path string true "Institution ID"
// @Success 200 {object} response.Envelope
// @Router /timegrid/{institutionId} [get]
func (h *ScheduleGeneratorHandler) TimeGrid(c *gin.Context) {
	grid, err := h.service.TimeGrid(c.Request.Context(), c.Param("institutionId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, grid)
}
