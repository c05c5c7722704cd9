package service

import (
	"context"
	"database/sql"
	"errors"

	appErrors "github.com/noah-isme/sma-timetable-engine/pkg/errors"
)

type institutionOwnerStore interface {
	InstitutionOf(ctx context.Context, id string) (string, error)
}

// InstitutionScopeService resolves which institution owns an entity addressed by id.
type InstitutionScopeService struct {
	schedules institutionOwnerStore
	conflicts institutionOwnerStore
	sessions  institutionOwnerStore
	templates institutionOwnerStore
}

// NewInstitutionScopeService constructs the service.
func NewInstitutionScopeService(schedules, conflicts, sessions, templates institutionOwnerStore) *InstitutionScopeService {
	return &InstitutionScopeService{schedules: schedules, conflicts: conflicts, sessions: sessions, templates: templates}
}

// ScheduleInstitution returns the institution of a schedule.
func (s *InstitutionScopeService) ScheduleInstitution(ctx context.Context, scheduleID string) (string, error) {
	return resolveOwner(ctx, s.schedules, scheduleID, "schedule")
}

// ConflictInstitution returns the institution of a conflict's schedule.
func (s *InstitutionScopeService) ConflictInstitution(ctx context.Context, conflictID string) (string, error) {
	return resolveOwner(ctx, s.conflicts, conflictID, "conflict")
}

// SessionInstitution returns the institution of a session's schedule.
func (s *InstitutionScopeService) SessionInstitution(ctx context.Context, sessionID string) (string, error) {
	return resolveOwner(ctx, s.sessions, sessionID, "session")
}

// TemplateInstitution returns the owner of a custom template, empty for the system catalogue.
func (s *InstitutionScopeService) TemplateInstitution(ctx context.Context, templateID string) (string, error) {
	return resolveOwner(ctx, s.templates, templateID, "template")
}

func resolveOwner(ctx context.Context, store institutionOwnerStore, id, kind string) (string, error) {
	if store == nil {
		return "", appErrors.Clone(appErrors.ErrInternal, kind+" lookup unavailable")
	}
	institutionID, err := store.InstitutionOf(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", appErrors.Clone(appErrors.ErrNotFound, kind+" not found")
		}
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve "+kind+" owner")
	}
	return institutionID, nil
}
