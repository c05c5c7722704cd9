package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-timetable-engine/internal/dto"
	"github.com/noah-isme/sma-timetable-engine/internal/models"
	"github.com/noah-isme/sma-timetable-engine/internal/service"
	"github.com/noah-isme/sma-timetable-engine/pkg/response"
)

type templateManager interface {
	RecommendTemplates(ctx context.Context, req dto.RecommendTemplatesRequest) ([]models.TemplateRecommendation, error)
	CreateFromSchedule(ctx context.Context, scheduleID, actorID string, req dto.CreateTemplateRequest) (*models.ScheduleTemplate, error)
	Apply(ctx context.Context, templateID string, req dto.ApplyTemplateRequest) (*dto.ApplyTemplateResponse, error)
	Deactivate(ctx context.Context, templateID string) error
}

// TemplateHandler exposes the template catalogue.
type TemplateHandler struct {
	service templateManager
	scope   institutionScope
}

// NewTemplateHandler constructs the handler.
func NewTemplateHandler(svc *service.TemplateService, scope *service.InstitutionScopeService) *TemplateHandler {
	return &TemplateHandler{service: svc, scope: scope}
}

// Recommend godoc
// @Summary Recommend templates for a workload
// @Tags Templates
// @Accept json
// @Produce json
// @Param payload body dto.RecommendTemplatesRequest true "Workload"
// @Success 200 {object} response.Envelope
// @Router /templates/recommend [post]
func (h *TemplateHandler) Recommend(c *gin.Context) {
	var req dto.RecommendTemplatesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid recommendation payload"))
		return
	}
	if err := checkInstitution(c, req.InstitutionID); err != nil {
		response.Error(c, err)
		return
	}
	recommendations, err := h.service.RecommendTemplates(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, recommendations)
}

// CreateFromSchedule godoc
// @Summary Save a schedule's shape as a reusable template
// @Tags Templates
// @Accept json
// @Produce json
// @Param id path string true "Schedule ID"
// @Param payload body dto.CreateTemplateRequest true "Template metadata"
// @Success 201 {object} response.Envelope
// @Router /templates/from-schedule/{id} [post]
func (h *TemplateHandler) CreateFromSchedule(c *gin.Context) {
	if err := authorizeOwner(c, h.scope.ScheduleInstitution, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	var req dto.CreateTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid template payload"))
		return
	}
	actor, err := actorID(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	template, err := h.service.CreateFromSchedule(c.Request.Context(), c.Param("id"), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, template)
}

// Apply godoc
// @Summary Preview a template applied to teaching loads
// @Tags Templates
// @Accept json
// @Produce json
// @Param id path string true "Template ID"
// @Param payload body dto.ApplyTemplateRequest true "Loads"
// @Success 200 {object} response.Envelope
// @Router /templates/{id}/apply [post]
func (h *TemplateHandler) Apply(c *gin.Context) {
	var req dto.ApplyTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid apply payload"))
		return
	}
	if err := checkInstitution(c, req.InstitutionID); err != nil {
		response.Error(c, err)
		return
	}
	result, err := h.service.Apply(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, result)
}

// Deactivate godoc
// @Summary Deactivate a custom template
// @Tags Templates
// @Param id path string true "Template ID"
// @Success 204
// @Router /templates/{id} [delete]
func (h *TemplateHandler) Deactivate(c *gin.Context) {
	if err := authorizeOwner(c, h.scope.TemplateInstitution, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	if err := h.service.Deactivate(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
