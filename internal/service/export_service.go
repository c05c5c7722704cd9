package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-engine/internal/models"
	appErrors "github.com/noah-isme/sma-timetable-engine/pkg/errors"
	"github.com/noah-isme/sma-timetable-engine/pkg/export"
	"github.com/noah-isme/sma-timetable-engine/pkg/storage"
)

// Export formats accepted by ExportSchedule.
const (
	ExportFormatCSV  = "csv"
	ExportFormatPDF  = "pdf"
	ExportFormatXLSX = "xlsx"
)

var timetableHeaders = []string{"Day", "Period", "Time", "Subject", "Class", "Teacher", "Room", "Status", "Conflicts"}

// ExportResult is a rendered timetable file.
type ExportResult struct {
	Filename    string
	ContentType string
	Payload     []byte
}

// PublishedExport is a stored timetable reachable through a signed link.
type PublishedExport struct {
	Token     string    `json:"token"`
	Filename  string    `json:"filename"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type exportFileStore interface {
	Put(name string, data []byte) (string, error)
	Read(name string) ([]byte, error)
	Sweep(cutoff time.Time) ([]string, error)
}

type exportLinkSigner interface {
	Sign(scheduleID, path string, now time.Time) (string, time.Time, error)
	Verify(token string, now time.Time) (storage.Link, error)
}

// ExportService renders a schedule's sessions as a downloadable timetable.
type ExportService struct {
	schedules scheduleStore
	sessions  sessionWriter
	loads     loadSnapshotReader
	rooms     roomReader
	renderers map[string]export.Renderer
	logger    *zap.Logger

	files  exportFileStore
	signer exportLinkSigner
	clock  Clock
}

// NewExportService constructs an ExportService. Missing renderers fall back to the defaults.
func NewExportService(schedules scheduleStore, sessions sessionWriter, loads loadSnapshotReader, rooms roomReader, logger *zap.Logger, renderers map[string]export.Renderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	all := map[string]export.Renderer{
		ExportFormatCSV:  export.NewCSVExporter(),
		ExportFormatPDF:  export.NewPDFExporter(),
		ExportFormatXLSX: export.NewXLSXExporter(),
	}
	for format, r := range renderers {
		all[format] = r
	}
	return &ExportService{schedules: schedules, sessions: sessions, loads: loads, rooms: rooms, renderers: all, logger: logger, clock: SystemClock()}
}

// WithPublishing enables Publish and Download backed by files and signer.
func (s *ExportService) WithPublishing(files exportFileStore, signer exportLinkSigner, clock Clock) *ExportService {
	s.files = files
	s.signer = signer
	if clock != nil {
		s.clock = clock
	}
	return s
}

// Publish renders the schedule, stores the file and returns a signed download link.
func (s *ExportService) Publish(ctx context.Context, scheduleID, format string) (*PublishedExport, error) {
	if s.files == nil || s.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "export publishing is not configured")
	}
	result, err := s.ExportSchedule(ctx, scheduleID, format)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	name := path.Join(sanitizeFilename(scheduleID), fmt.Sprintf("%d-%s", now.Unix(), result.Filename))
	stored, err := s.files.Put(name, result.Payload)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store export")
	}
	token, expiresAt, err := s.signer.Sign(scheduleID, stored, now)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign export link")
	}
	s.logger.Info("timetable export published", zap.String("schedule_id", scheduleID), zap.String("path", stored), zap.Time("expires_at", expiresAt))
	return &PublishedExport{Token: token, Filename: result.Filename, ExpiresAt: expiresAt}, nil
}

// Download resolves a signed link to the stored file.
func (s *ExportService) Download(ctx context.Context, token string) (*ExportResult, error) {
	if s.files == nil || s.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "export publishing is not configured")
	}
	link, err := s.signer.Verify(token, s.clock.Now())
	switch {
	case errors.Is(err, storage.ErrLinkExpired):
		return nil, appErrors.Clone(appErrors.ErrNotFound, "download link expired")
	case err != nil:
		return nil, appErrors.Wrap(err, appErrors.ErrForbidden.Code, appErrors.ErrForbidden.Status, "invalid download link")
	}
	payload, err := s.files.Read(link.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "export file no longer available")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read export")
	}
	filename := path.Base(link.Path)
	if i := strings.Index(filename, "-"); i >= 0 {
		filename = filename[i+1:]
	}
	contentType := "application/octet-stream"
	for _, r := range s.renderers {
		if strings.HasSuffix(filename, "."+r.Extension()) {
			contentType = r.ContentType()
			break
		}
	}
	return &ExportResult{Filename: filename, ContentType: contentType, Payload: payload}, nil
}

// SweepPublished deletes stored exports older than retention.
func (s *ExportService) SweepPublished(retention time.Duration) (int, error) {
	if s.files == nil {
		return 0, nil
	}
	deleted, err := s.files.Sweep(s.clock.Now().Add(-retention))
	if err != nil {
		return 0, err
	}
	if len(deleted) > 0 {
		s.logger.Info("expired exports removed", zap.Int("count", len(deleted)))
	}
	return len(deleted), nil
}

// ExportSchedule renders the schedule in the requested format.
func (s *ExportService) ExportSchedule(ctx context.Context, scheduleID, format string) (*ExportResult, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = ExportFormatCSV
	}
	renderer, ok := s.renderers[format]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}

	schedule, err := s.schedules.FindByID(ctx, scheduleID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "schedule not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load schedule")
	}
	dataset, err := s.buildDataset(ctx, schedule)
	if err != nil {
		return nil, err
	}

	payload, err := renderer.Render(dataset)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render timetable")
	}
	s.logger.Info("timetable exported",
		zap.String("schedule_id", scheduleID),
		zap.String("format", format),
		zap.Int("rows", len(dataset.Rows)),
		zap.Int("bytes", len(payload)),
	)
	return &ExportResult{
		Filename:    fmt.Sprintf("timetable-%s-v%d.%s", sanitizeFilename(schedule.InstitutionID), schedule.Version, renderer.Extension()),
		ContentType: renderer.ContentType(),
		Payload:     payload,
	}, nil
}

func (s *ExportService) buildDataset(ctx context.Context, schedule *models.Schedule) (export.Dataset, error) {
	sessions, err := s.sessions.ListBySchedule(ctx, nil, schedule.ID)
	if err != nil {
		return export.Dataset{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load sessions")
	}

	subjects := make(map[string]string)
	if s.loads != nil && len(sessions) > 0 {
		ids := make([]string, 0, len(sessions))
		for _, session := range sessions {
			ids = append(ids, session.TeachingLoadID)
		}
		loads, err := s.loads.ListByIDs(ctx, nil, schedule.InstitutionID, schedule.AcademicYearID, uniqueIDs(ids))
		if err != nil {
			return export.Dataset{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teaching loads")
		}
		for _, load := range loads {
			subjects[load.ID] = load.SubjectName
		}
	}
	roomNames := make(map[string]string)
	if s.rooms != nil {
		rooms, err := s.rooms.ListByInstitution(ctx, schedule.InstitutionID)
		if err != nil {
			return export.Dataset{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load rooms")
		}
		for _, room := range rooms {
			roomNames[room.ID] = room.Name
		}
	}

	rows := make([][]string, 0, len(sessions))
	for _, session := range sessions {
		subject := subjects[session.TeachingLoadID]
		if subject == "" {
			subject = session.SubjectID
		}
		teacher := session.TeacherID
		if session.SubstituteTeacherID != nil {
			teacher = fmt.Sprintf("%s (sub for %s)", *session.SubstituteTeacherID, session.TeacherID)
		}
		room := "-"
		if session.RoomID != nil {
			room = *session.RoomID
			if name, ok := roomNames[room]; ok && name != "" {
				room = name
			}
		}
		conflicts := "None"
		if session.HasConflicts {
			conflicts = models.Severity(session.ConflictSeverity).Label()
		}
		rows = append(rows, []string{
			models.DayLabel(session.DayOfWeek),
			fmt.Sprintf("%d", session.PeriodNumber),
			session.StartTime + "-" + session.EndTime,
			subject,
			session.ClassID,
			teacher,
			room,
			session.Status.Label(),
			conflicts,
		})
	}

	return export.Dataset{
		Title:   fmt.Sprintf("Timetable %s v%d", schedule.AcademicYearID, schedule.Version),
		Headers: timetableHeaders,
		Rows:    rows,
	}, nil
}

func sanitizeFilename(raw string) string {
	raw = strings.ToLower(strings.TrimSpace(raw))
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	if b.Len() == 0 {
		return "schedule"
	}
	return b.String()
}
