package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-timetable-engine/internal/dto"
	"github.com/noah-isme/sma-timetable-engine/internal/models"
	"github.com/noah-isme/sma-timetable-engine/internal/service"
	"github.com/noah-isme/sma-timetable-engine/pkg/response"
)

type conflictManager interface {
	DetectConflicts(ctx context.Context, scheduleID string, retrigger bool) (*dto.DetectConflictsResponse, error)
	ListConflicts(ctx context.Context, scheduleID string, query dto.ConflictListQuery) ([]models.ScheduleConflict, *models.Pagination, error)
	GetConflict(ctx context.Context, id string) (*models.ScheduleConflict, error)
	ReportConflict(ctx context.Context, scheduleID, actorID string, req dto.ReportConflictRequest) (*models.ScheduleConflict, error)
	TransitionConflict(ctx context.Context, conflictID, actorID string, req dto.TransitionConflictRequest) (*models.ScheduleConflict, error)
	ApprovalGate(ctx context.Context, scheduleID string) (*models.ApprovalGate, error)
}

// ConflictHandler exposes detection and the resolution workflow.
type ConflictHandler struct {
	service conflictManager
	scope   institutionScope
}

// NewConflictHandler constructs the handler.
func NewConflictHandler(svc *service.ConflictService, scope *service.InstitutionScopeService) *ConflictHandler {
	return &ConflictHandler{service: svc, scope: scope}
}

// Detect godoc
// @Summary Re-scan a schedule for conflicts
// @Description Idempotent. Set retrigger to resurface ignored conflicts.
// @Tags Conflicts
// @Accept json
// @Produce json
// @Param id path string true "Schedule ID"
// @Param payload body dto.DetectConflictsRequest false "Detection options"
// @Success 200 {object} response.Envelope
// @Router /schedules/{id}/detect [post]
func (h *ConflictHandler) Detect(c *gin.Context) {
	if err := authorizeOwner(c, h.scope.ScheduleInstitution, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	var req dto.DetectConflictsRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		response.Error(c, bindError(err, "invalid detect payload"))
		return
	}
	result, err := h.service.DetectConflicts(c.Request.Context(), c.Param("id"), req.Retrigger)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, result)
}

// List godoc
// @Summary List conflicts of a schedule
// @Tags Conflicts
// @Produce json
// @Param id path string true "Schedule ID"
// @Param status query string false "Comma separated statuses, or open"
// @Param severity query string false "Severity"
// @Param type query string false "Conflict type"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /schedules/{id}/conflicts [get]
func (h *ConflictHandler) List(c *gin.Context) {
	if err := authorizeOwner(c, h.scope.ScheduleInstitution, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	var query dto.ConflictListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, bindError(err, "invalid query parameters"))
		return
	}
	conflicts, pagination, err := h.service.ListConflicts(c.Request.Context(), c.Param("id"), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, conflicts, pagination)
}

// Report godoc
// @Summary Report a conflict manually
// @Tags Conflicts
// @Accept json
// @Produce json
// @Param id path string true "Schedule ID"
// @Param payload body dto.ReportConflictRequest true "Conflict report"
// @Success 201 {object} response.Envelope
// @Router /schedules/{id}/conflicts [post]
func (h *ConflictHandler) Report(c *gin.Context) {
	if err := authorizeOwner(c, h.scope.ScheduleInstitution, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	var req dto.ReportConflictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid conflict report"))
		return
	}
	actor, err := actorID(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	conflict, err := h.service.ReportConflict(c.Request.Context(), c.Param("id"), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, conflict)
}

// Get godoc
// @Summary Get a conflict with its history and suggested solutions
// @Tags Conflicts
// @Produce json
// @Param id path string true "Conflict ID"
// @Success 200 {object} response.Envelope
// @Router /conflicts/{id} [get]
func (h *ConflictHandler) Get(c *gin.Context) {
	if err := authorizeOwner(c, h.scope.ConflictInstitution, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	conflict, err := h.service.GetConflict(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, conflict)
}

// Transition godoc
// @Summary Apply a workflow action to a conflict
// @Description acknowledge, start_resolution, resolve, ignore or escalate. Returns 409 when the conflict changed concurrently.
// @Tags Conflicts
// @Accept json
// @Produce json
// @Param id path string true "Conflict ID"
// @Param payload body dto.TransitionConflictRequest true "Transition"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /conflicts/{id}/transition [post]
func (h *ConflictHandler) Transition(c *gin.Context) {
	if err := authorizeOwner(c, h.scope.ConflictInstitution, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	var req dto.TransitionConflictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid transition payload"))
		return
	}
	actor, err := actorID(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	conflict, err := h.service.TransitionConflict(c.Request.Context(), c.Param("id"), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, conflict)
}

// ApprovalGate godoc
// @Summary Check whether a schedule may be finalized
// @Tags Conflicts
// @Produce json
// @Param id path string true "Schedule ID"
// @Success 200 {object} response.Envelope
// @Router /schedules/{id}/approval-gate [get]
func (h *ConflictHandler) ApprovalGate(c *gin.Context) {
	if err := authorizeOwner(c, h.scope.ScheduleInstitution, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	gate, err := h.service.ApprovalGate(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gate)
}
