package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-timetable-engine/internal/models"
	"github.com/noah-isme/sma-timetable-engine/internal/service"
	"github.com/noah-isme/sma-timetable-engine/pkg/response"
)

type generationSettingManager interface {
	Get(ctx context.Context, institutionID string) (*service.GenerationSettingView, error)
	Update(ctx context.Context, institutionID string, setting models.ScheduleGenerationSetting) (*service.GenerationSettingView, error)
}

// GenerationSettingHandler exposes per-institution grid settings.
type GenerationSettingHandler struct {
	service generationSettingManager
}

// NewGenerationSettingHandler constructs the handler.
func NewGenerationSettingHandler(svc *service.GenerationSettingService) *GenerationSettingHandler {
	return &GenerationSettingHandler{service: svc}
}

// Get godoc
// @Summary Get an institution's generation settings
// @Tags Settings
// @Produce json
// @Param institutionId path string true "Institution ID"
// @Success 200 {object} response.Envelope
// @Router /settings/{institutionId} [get]
func (h *GenerationSettingHandler) Get(c *gin.Context) {
	institutionID := c.Param("institutionId")
	if err := checkInstitution(c, institutionID); err != nil {
		response.Error(c, err)
		return
	}
	view, err := h.service.Get(c.Request.Context(), institutionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, view)
}

// Update godoc
// @Summary Replace an institution's generation settings
// @Description Every violated grid bound is reported in error.details.
// @Tags Settings
// @Accept json
// @Produce json
// @Param institutionId path string true "Institution ID"
// @Param payload body models.ScheduleGenerationSetting true "Settings"
// @Success 200 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /settings/{institutionId} [put]
func (h *GenerationSettingHandler) Update(c *gin.Context) {
	institutionID := c.Param("institutionId")
	if err := checkInstitution(c, institutionID); err != nil {
		response.Error(c, err)
		return
	}
	var setting models.ScheduleGenerationSetting
	if err := c.ShouldBindJSON(&setting); err != nil {
		response.Error(c, bindError(err, "invalid settings payload"))
		return
	}
	view, err := h.service.Update(c.Request.Context(), institutionID, setting)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, view)
}
