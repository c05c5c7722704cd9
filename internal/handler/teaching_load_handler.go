package handler

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-timetable-engine/internal/dto"
	"github.com/noah-isme/sma-timetable-engine/internal/models"
	"github.com/noah-isme/sma-timetable-engine/internal/service"
	"github.com/noah-isme/sma-timetable-engine/pkg/response"
)

type teachingLoadManager interface {
	List(ctx context.Context, filter models.TeachingLoadFilter) ([]models.TeachingLoad, error)
	Statistics(ctx context.Context, filter models.TeachingLoadFilter) (models.WorkloadStatistics, error)
	MarkReady(ctx context.Context, req dto.TeachingLoadStatusRequest) error
	ResetStatus(ctx context.Context, req dto.TeachingLoadStatusRequest) error
}

// TeachingLoadHandler exposes the workload declarations consumed by the generator.
type TeachingLoadHandler struct {
	service teachingLoadManager
}

// NewTeachingLoadHandler constructs the handler.
func NewTeachingLoadHandler(svc *service.TeachingLoadService) *TeachingLoadHandler {
	return &TeachingLoadHandler{service: svc}
}

func loadFilterFromQuery(c *gin.Context) models.TeachingLoadFilter {
	filter := models.TeachingLoadFilter{
		InstitutionID:  c.Query("institutionId"),
		AcademicYearID: c.Query("academicYearId"),
	}
	if raw := c.Query("status"); raw != "" {
		for _, status := range strings.Split(raw, ",") {
			if status = strings.TrimSpace(status); status != "" {
				filter.Statuses = append(filter.Statuses, models.LoadStatus(status))
			}
		}
	}
	return filter
}

// List godoc
// @Summary List teaching loads
// @Tags Teaching Loads
// @Produce json
// @Param institutionId query string true "Institution ID"
// @Param academicYearId query string false "Academic year ID"
// @Param status query string false "Comma separated statuses"
// @Success 200 {object} response.Envelope
// @Router /teaching-loads [get]
func (h *TeachingLoadHandler) List(c *gin.Context) {
	filter := loadFilterFromQuery(c)
	if err := checkInstitution(c, filter.InstitutionID); err != nil {
		response.Error(c, err)
		return
	}
	loads, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, loads)
}

// Statistics godoc
// @Summary Summarise teaching loads
// @Tags Teaching Loads
// @Produce json
// @Param institutionId query string true "Institution ID"
// @Param academicYearId query string false "Academic year ID"
// @Success 200 {object} response.Envelope
// @Router /teaching-loads/statistics [get]
func (h *TeachingLoadHandler) Statistics(c *gin.Context) {
	filter := loadFilterFromQuery(c)
	if err := checkInstitution(c, filter.InstitutionID); err != nil {
		response.Error(c, err)
		return
	}
	stats, err := h.service.Statistics(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, stats)
}

// MarkReady godoc
// @Summary Mark teaching loads ready for scheduling
// @Tags Teaching Loads
// @Accept json
// @Param payload body dto.TeachingLoadStatusRequest true "Institution and load ids"
// @Success 204
// @Router /teaching-loads/ready [post]
func (h *TeachingLoadHandler) MarkReady(c *gin.Context) {
	var req dto.TeachingLoadStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid teaching load payload"))
		return
	}
	if err := checkInstitution(c, req.InstitutionID); err != nil {
		response.Error(c, err)
		return
	}
	if err := h.service.MarkReady(c.Request.Context(), req); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Reset godoc
// @Summary Return teaching loads to pending
// @Tags Teaching Loads
// @Accept json
// @Param payload body dto.TeachingLoadStatusRequest true "Institution and load ids"
// @Success 204
// @Router /teaching-loads/reset [post]
func (h *TeachingLoadHandler) Reset(c *gin.Context) {
	var req dto.TeachingLoadStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid teaching load payload"))
		return
	}
	if err := checkInstitution(c, req.InstitutionID); err != nil {
		response.Error(c, err)
		return
	}
	if err := h.service.ResetStatus(c.Request.Context(), req); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
