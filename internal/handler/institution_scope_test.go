package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-timetable-engine/internal/models"
	appErrors "github.com/noah-isme/sma-timetable-engine/pkg/errors"
)

type scopeStub struct {
	owner  string
	err    error
	lookup []string
}

func ownedBy(institutionID string) *scopeStub {
	return &scopeStub{owner: institutionID}
}

func (s *scopeStub) resolve(kind, id string) (string, error) {
	s.lookup = append(s.lookup, kind+":"+id)
	if s.err != nil {
		return "", s.err
	}
	return s.owner, nil
}

func (s *scopeStub) ScheduleInstitution(ctx context.Context, scheduleID string) (string, error) {
	return s.resolve("schedule", scheduleID)
}

func (s *scopeStub) ConflictInstitution(ctx context.Context, conflictID string) (string, error) {
	return s.resolve("conflict", conflictID)
}

func (s *scopeStub) SessionInstitution(ctx context.Context, sessionID string) (string, error) {
	return s.resolve("session", sessionID)
}

func (s *scopeStub) TemplateInstitution(ctx context.Context, templateID string) (string, error) {
	return s.resolve("template", templateID)
}

func schedulerClaims(institutionID string) *models.JWTClaims {
	return &models.JWTClaims{UserID: "planner-1", Role: models.RoleScheduler, InstitutionID: institutionID}
}

type scopedRoute struct {
	name   string
	method string
	target string
	body   string
	lookup string
	call   func(scope institutionScope, c *gin.Context)
}

func scopedRoutes() []scopedRoute {
	conflicts := func(scope institutionScope) *ConflictHandler {
		return &ConflictHandler{service: &conflictManagerMock{}, scope: scope}
	}
	return []scopedRoute{
		{"detect", http.MethodPost, "/schedules/x-1/detect", "", "schedule:x-1",
			func(s institutionScope, c *gin.Context) { conflicts(s).Detect(c) }},
		{"list conflicts", http.MethodGet, "/schedules/x-1/conflicts", "", "schedule:x-1",
			func(s institutionScope, c *gin.Context) { conflicts(s).List(c) }},
		{"report conflict", http.MethodPost, "/schedules/x-1/conflicts",
			`{"conflictType":"room","severity":"high","sourceKind":"room","sourceId":"r1","title":"Leak"}`, "schedule:x-1",
			func(s institutionScope, c *gin.Context) { conflicts(s).Report(c) }},
		{"get conflict", http.MethodGet, "/conflicts/x-1", "", "conflict:x-1",
			func(s institutionScope, c *gin.Context) { conflicts(s).Get(c) }},
		{"transition conflict", http.MethodPost, "/conflicts/x-1/transition", `{"action":"acknowledge"}`, "conflict:x-1",
			func(s institutionScope, c *gin.Context) { conflicts(s).Transition(c) }},
		{"approval gate", http.MethodGet, "/schedules/x-1/approval-gate", "", "schedule:x-1",
			func(s institutionScope, c *gin.Context) { conflicts(s).ApprovalGate(c) }},
		{"sessions", http.MethodGet, "/schedules/x-1/sessions", "", "schedule:x-1",
			func(s institutionScope, c *gin.Context) {
				(&ScheduleGeneratorHandler{service: &scheduleGeneratorMock{}, scope: s}).Sessions(c)
			}},
		{"session action", http.MethodPost, "/sessions/x-1/confirm", "", "session:x-1",
			func(s institutionScope, c *gin.Context) {
				c.Params = append(c.Params, gin.Param{Key: "action", Value: "confirm"})
				(&SessionHandler{service: &sessionLifecycleMock{}, scope: s}).Perform(c)
			}},
		{"export", http.MethodGet, "/schedules/x-1/export?format=csv", "", "schedule:x-1",
			func(s institutionScope, c *gin.Context) { (&ExportHandler{service: &exporterMock{}, scope: s}).Export(c) }},
		{"publish export", http.MethodPost, "/schedules/x-1/export/publish", "", "schedule:x-1",
			func(s institutionScope, c *gin.Context) { (&ExportHandler{service: &exporterMock{}, scope: s}).Publish(c) }},
		{"template from schedule", http.MethodPost, "/templates/from-schedule/x-1", `{"name":"Copy"}`, "schedule:x-1",
			func(s institutionScope, c *gin.Context) {
				(&TemplateHandler{service: &templateManagerMock{}, scope: s}).CreateFromSchedule(c)
			}},
		{"deactivate template", http.MethodDelete, "/templates/x-1", "", "template:x-1",
			func(s institutionScope, c *gin.Context) {
				(&TemplateHandler{service: &templateManagerMock{}, scope: s}).Deactivate(c)
			}},
	}
}

func TestScopedRoutesRejectAnotherInstitution(t *testing.T) {
	for _, route := range scopedRoutes() {
		t.Run(route.name, func(t *testing.T) {
			scope := ownedBy("inst-2")
			var body []byte
			if route.body != "" {
				body = []byte(route.body)
			}
			c, w := newConflictContext(route.method, route.target, body)
			withClaims(c, schedulerClaims("inst-1"))

			route.call(scope, c)

			require.Equal(t, http.StatusForbidden, w.Code)
			assert.Contains(t, w.Body.String(), "institution mismatch")
			assert.Equal(t, []string{route.lookup}, scope.lookup)
		})
	}
}

func TestScopedRoutesAllowOwnInstitutionAndSuperadmin(t *testing.T) {
	for _, route := range scopedRoutes() {
		t.Run(route.name, func(t *testing.T) {
			var body []byte
			if route.body != "" {
				body = []byte(route.body)
			}
			c, w := newConflictContext(route.method, route.target, body)
			withClaims(c, schedulerClaims("inst-2"))
			route.call(ownedBy("inst-2"), c)
			assert.Less(t, w.Code, http.StatusBadRequest, w.Body.String())

			scope := ownedBy("inst-2")
			c, w = newConflictContext(route.method, route.target, body)
			withClaims(c, &models.JWTClaims{UserID: "root", Role: models.RoleSuperAdmin, InstitutionID: "inst-1"})
			route.call(scope, c)
			assert.Less(t, w.Code, http.StatusBadRequest, w.Body.String())
			assert.Empty(t, scope.lookup)
		})
	}
}

func TestScopedRouteMissingEntity(t *testing.T) {
	scope := &scopeStub{err: appErrors.Clone(appErrors.ErrNotFound, "schedule not found")}
	handler := &ScheduleGeneratorHandler{service: &scheduleGeneratorMock{}, scope: scope}

	c, w := newConflictContext(http.MethodGet, "/schedules/x-1/sessions", nil)
	withClaims(c, schedulerClaims("inst-1"))
	handler.Sessions(c)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestTeachingLoadStatusRejectsAnotherInstitution(t *testing.T) {
	mockSvc := &teachingLoadManagerMock{}
	handler := &TeachingLoadHandler{service: mockSvc}

	for _, call := range []func(*gin.Context){handler.MarkReady, handler.Reset} {
		c, w := newConflictContext(http.MethodPost, "/teaching-loads/reset", []byte(`{"institutionId":"inst-2","teachingLoadIds":["l9"]}`))
		withClaims(c, schedulerClaims("inst-1"))
		call(c)
		require.Equal(t, http.StatusForbidden, w.Code)
	}
	assert.Nil(t, mockSvc.reset)
}
