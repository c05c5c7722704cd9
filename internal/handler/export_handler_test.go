package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-timetable-engine/internal/service"
	appErrors "github.com/noah-isme/sma-timetable-engine/pkg/errors"
)

type exporterMock struct {
	format string
}

func (m *exporterMock) ExportSchedule(ctx context.Context, scheduleID, format string) (*service.ExportResult, error) {
	m.format = format
	if format == "docx" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported export format")
	}
	return &service.ExportResult{Filename: "timetable-inst-1-v1.csv", ContentType: "text/csv", Payload: []byte("Day,Period\n")}, nil
}

func (m *exporterMock) Publish(ctx context.Context, scheduleID, format string) (*service.PublishedExport, error) {
	return &service.PublishedExport{Token: "tok", Filename: "timetable-inst-1-v1.csv"}, nil
}

func (m *exporterMock) Download(ctx context.Context, token string) (*service.ExportResult, error) {
	if token != "tok" {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid download link")
	}
	return m.ExportSchedule(ctx, "sched-1", "csv")
}

func TestExportHandlerStreamsAttachment(t *testing.T) {
	mockSvc := &exporterMock{}
	handler := &ExportHandler{service: mockSvc, scope: ownedBy("inst-1")}

	c, w := newConflictContext(http.MethodGet, "/schedules/x-1/export?format=csv", nil)
	handler.Export(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "csv", mockSvc.format)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="timetable-inst-1-v1.csv"`, w.Header().Get("Content-Disposition"))
	assert.Equal(t, "Day,Period\n", w.Body.String())

	c, w = newConflictContext(http.MethodGet, "/schedules/x-1/export?format=docx", nil)
	handler.Export(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExportHandlerDownloadByToken(t *testing.T) {
	handler := &ExportHandler{service: &exporterMock{}, scope: ownedBy("inst-1")}

	c, w := newConflictContext(http.MethodGet, "/exports/download", nil)
	handler.Download(c)
	require.Equal(t, http.StatusBadRequest, w.Code)

	c, w = newConflictContext(http.MethodGet, "/exports/download?token=forged", nil)
	handler.Download(c)
	require.Equal(t, http.StatusForbidden, w.Code)

	c, w = newConflictContext(http.MethodGet, "/exports/download?token=tok", nil)
	handler.Download(c)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestMetricsHandlerReady(t *testing.T) {
	gin.SetMode(gin.TestMode)
	healthy := NewMetricsHandler(nil, map[string]Pinger{
		"postgres": PingFunc(func(ctx context.Context) error { return nil }),
	})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest(http.MethodGet, "/ready", nil)
	healthy.Ready(c)
	require.Equal(t, http.StatusOK, w.Code)

	failing := NewMetricsHandler(nil, map[string]Pinger{
		"postgres": PingFunc(func(ctx context.Context) error { return nil }),
		"redis":    PingFunc(func(ctx context.Context) error { return errors.New("connection refused") }),
	})
	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest(http.MethodGet, "/ready", nil)
	failing.Ready(c)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}
