package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-timetable-engine/internal/dto"
	"github.com/noah-isme/sma-timetable-engine/internal/models"
	"github.com/noah-isme/sma-timetable-engine/internal/service"
	"github.com/noah-isme/sma-timetable-engine/pkg/response"
)

type sessionLifecycle interface {
	Perform(ctx context.Context, sessionID string, action models.SessionAction, actorID string, req dto.SessionActionRequest) (*models.ScheduleSession, error)
}

// SessionHandler exposes session lifecycle actions.
type SessionHandler struct {
	service sessionLifecycle
	scope   institutionScope
}

// NewSessionHandler constructs the handler.
func NewSessionHandler(svc *service.SessionService, scope *service.InstitutionScopeService) *SessionHandler {
	return &SessionHandler{service: svc, scope: scope}
}

// Perform godoc
// @Summary Apply a lifecycle action to a session
// @Description confirm, start, complete, cancel (reason), move (dayOfWeek, periodNumber, roomId) or substitute (substituteTeacherId).
// @Tags Sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param action path string true "Action"
// @Param payload body dto.SessionActionRequest false "Action arguments"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /sessions/{id}/{action} [post]
func (h *SessionHandler) Perform(c *gin.Context) {
	if err := authorizeOwner(c, h.scope.SessionInstitution, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	var req dto.SessionActionRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		response.Error(c, bindError(err, "invalid session action payload"))
		return
	}
	actor, err := actorID(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	session, err := h.service.Perform(c.Request.Context(), c.Param("id"), models.SessionAction(c.Param("action")), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, session)
}
