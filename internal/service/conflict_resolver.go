package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/noah-isme/sma-timetable-engine/internal/models"
	appErrors "github.com/noah-isme/sma-timetable-engine/pkg/errors"
)

// transitionRule lists the statuses an action may start from and where it leads.
type transitionRule struct {
	from         []models.ConflictStatus
	to           models.ConflictStatus
	requireNotes bool
}

var transitionRules = map[models.ConflictAction]transitionRule{
	models.ConflictActionAcknowledge: {
		from: []models.ConflictStatus{models.ConflictStatusPending},
		to:   models.ConflictStatusAcknowledged,
	},
	models.ConflictActionStartResolution: {
		from: []models.ConflictStatus{models.ConflictStatusPending, models.ConflictStatusAcknowledged},
		to:   models.ConflictStatusInProgress,
	},
	models.ConflictActionResolve: {
		from:         []models.ConflictStatus{models.ConflictStatusPending, models.ConflictStatusAcknowledged, models.ConflictStatusInProgress},
		to:           models.ConflictStatusResolved,
		requireNotes: true,
	},
	models.ConflictActionIgnore: {
		from:         []models.ConflictStatus{models.ConflictStatusPending, models.ConflictStatusAcknowledged},
		to:           models.ConflictStatusIgnored,
		requireNotes: true,
	},
	models.ConflictActionEscalate: {
		from:         models.OpenConflictStatuses,
		to:           models.ConflictStatusEscalated,
		requireNotes: true,
	},
}

// ApplyTransition moves a conflict through the resolution workflow and returns the new version.
// The input is never modified; on error the caller keeps the original state.
func ApplyTransition(conflict models.ScheduleConflict, req models.TransitionRequest, now time.Time) (models.ScheduleConflict, error) {
	if strings.TrimSpace(req.ActorID) == "" {
		return conflict, appErrors.Clone(appErrors.ErrValidation, "actor id is required")
	}
	rule, ok := transitionRules[req.Action]
	if !ok {
		return conflict, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown conflict action %q", req.Action))
	}
	if conflict.Status.IsTerminal() {
		return conflict, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("conflict is %s and accepts no further transitions", conflict.Status))
	}
	if !statusIn(conflict.Status, rule.from) {
		return conflict, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("cannot %s a conflict in status %s", req.Action, conflict.Status))
	}
	if req.Action == models.ConflictActionIgnore && conflict.Severity == models.SeverityCritical {
		return conflict, appErrors.Clone(appErrors.ErrInvalidTransition, "critical conflicts must be resolved or escalated")
	}
	notes := strings.TrimSpace(req.Notes)
	if rule.requireNotes && notes == "" {
		return conflict, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s requires notes", req.Action))
	}

	next := cloneConflict(conflict)
	next.Status = rule.to
	next.UpdatedAt = now

	switch req.Action {
	case models.ConflictActionResolve:
		actor := req.ActorID
		resolvedAt := now
		next.ResolvedBy = &actor
		next.ResolvedAt = &resolvedAt
		next.ResolutionNotes = &notes
		next.ResolutionActions = append(models.StringList(nil), req.Actions...)
	case models.ConflictActionIgnore:
		next.ResolutionNotes = &notes
	case models.ConflictActionEscalate:
		next.EscalationLevel++
	}

	next.History = append(next.History, models.ConflictHistoryEntry{
		Action:     string(req.Action),
		ActorID:    req.ActorID,
		Timestamp:  now,
		Notes:      notes,
		FromStatus: conflict.Status,
		ToStatus:   rule.to,
	})
	return next, nil
}

func statusIn(status models.ConflictStatus, set []models.ConflictStatus) bool {
	for _, s := range set {
		if s == status {
			return true
		}
	}
	return false
}

func cloneConflict(c models.ScheduleConflict) models.ScheduleConflict {
	out := c
	out.History = append(models.ConflictHistory(nil), c.History...)
	out.SuggestedSolutions = append(models.SuggestedSolutions(nil), c.SuggestedSolutions...)
	out.ResolutionActions = append(models.StringList(nil), c.ResolutionActions...)
	if c.Metadata != nil {
		out.Metadata = make(models.ConflictMetadata, len(c.Metadata))
		for k, v := range c.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// SuggestSolutions returns advisory remedies keyed by conflict type. Nothing is applied automatically.
func SuggestSolutions(conflictType models.ConflictType) models.SuggestedSolutions {
	switch conflictType {
	case models.ConflictTypeTeacher:
		return models.SuggestedSolutions{
			{Type: "reschedule", Title: "Reschedule one session", Description: "Move one of the sessions to a free time slot for this teacher", Difficulty: "medium", Impact: "low"},
			{Type: "substitute", Title: "Assign a substitute teacher", Description: "Find an available qualified teacher for one of the sessions", Difficulty: "high", Impact: "medium"},
			{Type: "combine", Title: "Combine sessions", Description: "Merge both classes into a single session when the subject allows it", Difficulty: "low", Impact: "high"},
		}
	case models.ConflictTypeRoom:
		return models.SuggestedSolutions{
			{Type: "alternative_room", Title: "Use an alternative room", Description: "Move one session to a free room with the required capacity and facilities", Difficulty: "low", Impact: "low"},
			{Type: "reschedule", Title: "Reschedule one session", Description: "Move one of the sessions to a slot where the room is free", Difficulty: "medium", Impact: "medium"},
			{Type: "virtual_session", Title: "Hold one session online", Description: "Run one of the sessions as a virtual class", Difficulty: "medium", Impact: "medium"},
		}
	case models.ConflictTypeResource:
		return models.SuggestedSolutions{
			{Type: "alternative_resource", Title: "Provide the missing equipment", Description: "Bring portable equipment into the assigned room", Difficulty: "low", Impact: "low"},
			{Type: "reschedule", Title: "Move to an equipped room", Description: "Reschedule into a room that offers the required facilities", Difficulty: "medium", Impact: "medium"},
			{Type: "modify_requirements", Title: "Adjust requirements", Description: "Revise the lesson plan so the facility is not needed", Difficulty: "medium", Impact: "low"},
		}
	case models.ConflictTypeTime:
		return models.SuggestedSolutions{
			{Type: "adjust_time", Title: "Adjust the time slot", Description: "Shift one session to an adjacent free period", Difficulty: "low", Impact: "low"},
			{Type: "different_day", Title: "Move to a different day", Description: "Move one session to another working day", Difficulty: "medium", Impact: "medium"},
		}
	case models.ConflictTypeCapacity:
		return models.SuggestedSolutions{
			{Type: "larger_room", Title: "Use a larger room", Description: "Move the session to a room whose capacity fits the class", Difficulty: "low", Impact: "low"},
			{Type: "split_session", Title: "Split the class", Description: "Divide the students into two smaller sessions", Difficulty: "high", Impact: "high"},
		}
	case models.ConflictTypePolicy:
		return models.SuggestedSolutions{
			{Type: "redistribute_load", Title: "Redistribute teaching load", Description: "Assign some of the teacher's loads to colleagues", Difficulty: "high", Impact: "medium"},
			{Type: "manual_review", Title: "Manual review", Description: "Review the policy exception with the academic office", Difficulty: "medium", Impact: "low"},
		}
	case models.ConflictTypePreference:
		return models.SuggestedSolutions{
			{Type: "reschedule", Title: "Move to an available period", Description: "Reschedule the session outside the teacher's unavailable periods", Difficulty: "medium", Impact: "low"},
			{Type: "manual_review", Title: "Confirm with the teacher", Description: "Check whether the teacher can make an exception", Difficulty: "low", Impact: "low"},
		}
	default:
		return models.SuggestedSolutions{
			{Type: "manual_review", Title: "Manual review required", Description: "This conflict needs to be reviewed by a scheduler", Difficulty: "medium", Impact: "medium"},
		}
	}
}
