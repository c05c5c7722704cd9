package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-timetable-engine/internal/dto"
	internalmiddleware "github.com/noah-isme/sma-timetable-engine/internal/middleware"
	"github.com/noah-isme/sma-timetable-engine/internal/models"
	appErrors "github.com/noah-isme/sma-timetable-engine/pkg/errors"
)

type scheduleGeneratorMock struct {
	captured dto.GenerateScheduleRequest
	err      error
	schedule *models.Schedule
}

func (m *scheduleGeneratorMock) Generate(ctx context.Context, req dto.GenerateScheduleRequest) (*dto.GenerateScheduleResponse, error) {
	m.captured = req
	if m.err != nil {
		return nil, m.err
	}
	return &dto.GenerateScheduleResponse{
		ScheduleID: "sched-1",
		Version:    2,
		Degraded:   []dto.DegradedPlacementResponse{{SessionID: "s-1", LoadID: "l1", Violations: []string{"room_double_booked"}}},
	}, nil
}

func (m *scheduleGeneratorMock) GetSchedule(ctx context.Context, id string) (*models.Schedule, error) {
	if m.schedule == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "schedule not found")
	}
	return m.schedule, nil
}

func (m *scheduleGeneratorMock) ListSchedules(ctx context.Context, institutionID, academicYearID string) ([]models.Schedule, error) {
	return nil, nil
}

func (m *scheduleGeneratorMock) ListSessions(ctx context.Context, scheduleID string) ([]models.ScheduleSession, error) {
	return nil, nil
}

func (m *scheduleGeneratorMock) TimeGrid(ctx context.Context, institutionID string) (models.TimeGrid, error) {
	return models.TimeGrid{}, nil
}

func withClaims(c *gin.Context, claims *models.JWTClaims) {
	c.Set(internalmiddleware.ContextUserKey, claims)
}

func adminClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin, InstitutionID: "inst-1"}
}

func validGeneratePayload() []byte {
	return []byte(`{"institutionId":"inst-1","academicYearId":"2026","teachingLoadIds":["l1","l2"]}`)
}

func TestScheduleGeneratorGenerateUsesTokenActor(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &scheduleGeneratorMock{}
	handler := &ScheduleGeneratorHandler{service: mockSvc, scope: ownedBy("inst-1")}
	req, _ := http.NewRequest(http.MethodPost, "/schedules/generate", bytes.NewReader(validGeneratePayload()))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req
	withClaims(c, adminClaims())

	handler.Generate(c)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "admin-1", mockSvc.captured.ActorID)
	assert.Equal(t, []string{"l1", "l2"}, mockSvc.captured.TeachingLoadIDs)

	var body struct {
		Data dto.GenerateScheduleResponse `json:"data"`
		Meta map[string]interface{}       `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Data.Version)
	assert.Equal(t, true, body.Meta["degraded"])
}

func TestScheduleGeneratorGenerateValidation(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := &ScheduleGeneratorHandler{service: &scheduleGeneratorMock{}, scope: ownedBy("inst-1")}
	req, _ := http.NewRequest(http.MethodPost, "/schedules/generate", bytes.NewReader([]byte(`{"institutionId":`)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req
	withClaims(c, adminClaims())

	handler.Generate(c)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestScheduleGeneratorGenerateMapsEngineErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &scheduleGeneratorMock{err: appErrors.WithDetails(appErrors.ErrConfigurationInvalid, "", []string{"daily_periods must be between 1 and 12, got 0"})}
	handler := &ScheduleGeneratorHandler{service: mockSvc, scope: ownedBy("inst-1")}
	req, _ := http.NewRequest(http.MethodPost, "/schedules/generate", bytes.NewReader(validGeneratePayload()))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req
	withClaims(c, adminClaims())

	handler.Generate(c)

	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "daily_periods")
}

func TestScheduleGeneratorGenerateRejectsOtherInstitution(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &scheduleGeneratorMock{}
	handler := &ScheduleGeneratorHandler{service: mockSvc, scope: ownedBy("inst-1")}
	req, _ := http.NewRequest(http.MethodPost, "/schedules/generate", bytes.NewReader(validGeneratePayload()))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req
	withClaims(c, &models.JWTClaims{UserID: "admin-2", Role: models.RoleAdmin, InstitutionID: "inst-2"})

	handler.Generate(c)

	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, mockSvc.captured.InstitutionID)
}

func TestScheduleGeneratorGenerateRequiresRole(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := &ScheduleGeneratorHandler{service: &scheduleGeneratorMock{}, scope: ownedBy("inst-1")}
	router := gin.New()
	router.Use(func(c *gin.Context) {
		withClaims(c, &models.JWTClaims{UserID: "teacher-1", Role: models.RoleTeacher})
		c.Next()
	})
	router.POST("/schedules/generate", internalmiddleware.RequireRoles(models.RoleAdmin, models.RoleScheduler), handler.Generate)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/schedules/generate", bytes.NewReader(validGeneratePayload()))
	req.Header.Set("Content-Type", "application/json")

	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestScheduleGeneratorGetChecksInstitution(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := &ScheduleGeneratorHandler{service: &scheduleGeneratorMock{schedule: &models.Schedule{ID: "sched-1", InstitutionID: "inst-2"}}, scope: ownedBy("inst-1")}
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest(http.MethodGet, "/schedules/sched-1", nil)
	c.Params = gin.Params{{Key: "id", Value: "sched-1"}}
	withClaims(c, adminClaims())

	handler.Get(c)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest(http.MethodGet, "/schedules/sched-1", nil)
	withClaims(c, &models.JWTClaims{UserID: "root", Role: models.RoleSuperAdmin, InstitutionID: "inst-1"})

	handler.Get(c)
	require.Equal(t, http.StatusOK, w.Code)
}
