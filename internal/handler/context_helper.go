package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-timetable-engine/internal/middleware"
	"github.com/noah-isme/sma-timetable-engine/internal/models"
	appErrors "github.com/noah-isme/sma-timetable-engine/pkg/errors"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

// actorID returns the acting user. Every mutation is attributed, so a missing identity is unauthorized.
func actorID(c *gin.Context) (string, error) {
	claims := claimsFromContext(c)
	if claims == nil || claims.UserID == "" {
		return "", appErrors.ErrUnauthorized
	}
	return claims.UserID, nil
}

// checkInstitution rejects access to another institution when the token is institution-scoped.
func checkInstitution(c *gin.Context, institutionID string) error {
	claims := claimsFromContext(c)
	if claims == nil {
		return appErrors.ErrUnauthorized
	}
	if claims.Role == models.RoleSuperAdmin || claims.InstitutionID == "" || institutionID == "" {
		return nil
	}
	if claims.InstitutionID != institutionID {
		return appErrors.Clone(appErrors.ErrForbidden, "institution mismatch")
	}
	return nil
}

type institutionScope interface {
	ScheduleInstitution(ctx context.Context, scheduleID string) (string, error)
	ConflictInstitution(ctx context.Context, conflictID string) (string, error)
	SessionInstitution(ctx context.Context, sessionID string) (string, error)
	TemplateInstitution(ctx context.Context, templateID string) (string, error)
}

type ownerLookup func(ctx context.Context, id string) (string, error)

// authorizeOwner resolves the institution behind an id and applies checkInstitution to it.
// Unscoped tokens skip the lookup.
func authorizeOwner(c *gin.Context, lookup ownerLookup, id string) error {
	claims := claimsFromContext(c)
	if claims == nil {
		return appErrors.ErrUnauthorized
	}
	if claims.Role == models.RoleSuperAdmin || claims.InstitutionID == "" {
		return nil
	}
	institutionID, err := lookup(c.Request.Context(), id)
	if err != nil {
		return err
	}
	return checkInstitution(c, institutionID)
}

func bindError(err error, message string) error {
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, message)
}

// bindOptionalJSON binds the body when there is one. An empty body leaves dest untouched.
func bindOptionalJSON(c *gin.Context, dest interface{}) error {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return nil
	}
	if err := c.ShouldBindJSON(dest); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
