package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-timetable-engine/internal/service"
	appErrors "github.com/noah-isme/sma-timetable-engine/pkg/errors"
	"github.com/noah-isme/sma-timetable-engine/pkg/response"
)

type timetableExporter interface {
	ExportSchedule(ctx context.Context, scheduleID, format string) (*service.ExportResult, error)
	Publish(ctx context.Context, scheduleID, format string) (*service.PublishedExport, error)
	Download(ctx context.Context, token string) (*service.ExportResult, error)
}

// ExportHandler renders timetables as files.
type ExportHandler struct {
	service timetableExporter
	scope   institutionScope
}

// NewExportHandler constructs the handler.
func NewExportHandler(svc *service.ExportService, scope *service.InstitutionScopeService) *ExportHandler {
	return &ExportHandler{service: svc, scope: scope}
}

// Export godoc
// @Summary Download a schedule as csv, pdf or xlsx
// @Tags Exports
// @Produce octet-stream
// @Param id path string true "Schedule ID"
// @Param format query string false "csv (default), pdf or xlsx"
// @Success 200 {file} file
// @Router /schedules/{id}/export [get]
func (h *ExportHandler) Export(c *gin.Context) {
	if err := authorizeOwner(c, h.scope.ScheduleInstitution, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	result, err := h.service.ExportSchedule(c.Request.Context(), c.Param("id"), c.Query("format"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.File(c, result.Filename, result.ContentType, result.Payload)
}

// Publish godoc
// @Summary Store a rendered schedule and return a signed download link
// @Tags Exports
// @Produce json
// @Param id path string true "Schedule ID"
// @Param format query string false "csv (default), pdf or xlsx"
// @Success 201 {object} response.Envelope
// @Router /schedules/{id}/export/publish [post]
func (h *ExportHandler) Publish(c *gin.Context) {
	if err := authorizeOwner(c, h.scope.ScheduleInstitution, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	published, err := h.service.Publish(c.Request.Context(), c.Param("id"), c.Query("format"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, published)
}

// Download godoc
// @Summary Fetch a published export by signed token
// @Tags Exports
// @Produce octet-stream
// @Param token query string true "Signed token"
// @Success 200 {file} file
// @Router /exports/download [get]
func (h *ExportHandler) Download(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	result, err := h.service.Download(c.Request.Context(), token)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.File(c, result.Filename, result.ContentType, result.Payload)
}
