package models

import "time"

// ConflictType categorises a conflict.
type ConflictType string

const (
	ConflictTypeTeacher      ConflictType = "teacher"
	ConflictTypeRoom         ConflictType = "room"
	ConflictTypeResource     ConflictType = "resource"
	ConflictTypeTime         ConflictType = "time"
	ConflictTypeCapacity     ConflictType = "capacity"
	ConflictTypePrerequisite ConflictType = "prerequisite"
	ConflictTypePreference   ConflictType = "preference"
	ConflictTypePolicy       ConflictType = "policy"
	ConflictTypeCustom       ConflictType = "custom"
)

// Severity grades how serious a conflict is.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Rank orders severities, higher is worse.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 5
	case SeverityHigh:
		return 4
	case SeverityMedium:
		return 3
	case SeverityLow:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

// DetectionMethod records how a conflict was raised.
type DetectionMethod string

const (
	DetectionAutomatic  DetectionMethod = "automatic"
	DetectionManual     DetectionMethod = "manual"
	DetectionValidation DetectionMethod = "validation"
	DetectionImport     DetectionMethod = "import"
)

// ConflictStatus is the resolution workflow state.
type ConflictStatus string

const (
	ConflictStatusPending      ConflictStatus = "pending"
	ConflictStatusAcknowledged ConflictStatus = "acknowledged"
	ConflictStatusInProgress   ConflictStatus = "in_progress"
	ConflictStatusResolved     ConflictStatus = "resolved"
	ConflictStatusIgnored      ConflictStatus = "ignored"
	ConflictStatusEscalated    ConflictStatus = "escalated"
)

// IsTerminal reports whether no further transitions are accepted.
func (s ConflictStatus) IsTerminal() bool {
	return s == ConflictStatusResolved || s == ConflictStatusIgnored
}

// IsOpen reports whether re-detection should update the conflict in place.
func (s ConflictStatus) IsOpen() bool {
	return !s.IsTerminal()
}

// OpenConflictStatuses lists every non-terminal status.
var OpenConflictStatuses = []ConflictStatus{
	ConflictStatusPending,
	ConflictStatusAcknowledged,
	ConflictStatusInProgress,
	ConflictStatusEscalated,
}

// GatingConflictStatuses are the statuses in which a blocking conflict holds back finalization.
var GatingConflictStatuses = []ConflictStatus{
	ConflictStatusPending,
	ConflictStatusAcknowledged,
	ConflictStatusInProgress,
}

// ConflictAction names a state machine transition.
type ConflictAction string

const (
	ConflictActionAcknowledge     ConflictAction = "acknowledge"
	ConflictActionStartResolution ConflictAction = "start_resolution"
	ConflictActionResolve         ConflictAction = "resolve"
	ConflictActionIgnore          ConflictAction = "ignore"
	ConflictActionEscalate        ConflictAction = "escalate"
)

// EntityKind tags the referenced entity of a conflict.
type EntityKind string

const (
	EntityTeacher  EntityKind = "teacher"
	EntityRoom     EntityKind = "room"
	EntitySession  EntityKind = "session"
	EntitySchedule EntityKind = "schedule"
	EntitySubject  EntityKind = "subject"
	EntityTimeSlot EntityKind = "time_slot"
	EntityClass    EntityKind = "class"
)

// EntityRef identifies the source or target of a conflict.
type EntityRef struct {
	Kind EntityKind `json:"kind"`
	ID   string     `json:"id"`
}

// IsZero reports whether the reference is unset.
func (r EntityRef) IsZero() bool {
	return r.Kind == "" && r.ID == ""
}

// ConflictHistoryEntry is one audit record of the conflict workflow.
type ConflictHistoryEntry struct {
	Action     string         `json:"action"`
	ActorID    string         `json:"actor_id"`
	Timestamp  time.Time      `json:"timestamp"`
	Notes      string         `json:"notes,omitempty"`
	FromStatus ConflictStatus `json:"from_status,omitempty"`
	ToStatus   ConflictStatus `json:"to_status,omitempty"`
}

// ConflictHistory is the append-only workflow log.
type ConflictHistory []ConflictHistoryEntry

// SuggestedSolution is an advisory remedy.
type SuggestedSolution struct {
	Type        string `json:"type"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Difficulty  string `json:"difficulty"`
	Impact      string `json:"impact"`
}

// SuggestedSolutions is the JSON column holding remedies.
type SuggestedSolutions []SuggestedSolution

// ConflictMetadata carries detector specific context such as the teacher or class involved.
type ConflictMetadata map[string]string

// ScheduleConflict is a detected rule violation with its resolution workflow.
type ScheduleConflict struct {
	ID                 string             `db:"id" json:"id"`
	ScheduleID         string             `db:"schedule_id" json:"schedule_id"`
	SessionID          *string            `db:"session_id" json:"session_id,omitempty"`
	ConflictType       ConflictType       `db:"conflict_type" json:"conflict_type"`
	Severity           Severity           `db:"severity" json:"severity"`
	SourceKind         EntityKind         `db:"source_kind" json:"source_kind"`
	SourceID           string             `db:"source_id" json:"source_id"`
	TargetKind         EntityKind         `db:"target_kind" json:"target_kind,omitempty"`
	TargetID           string             `db:"target_id" json:"target_id,omitempty"`
	DayOfWeek          *int               `db:"day_of_week" json:"day_of_week,omitempty"`
	TimeSlotID         *string            `db:"time_slot_id" json:"time_slot_id,omitempty"`
	DetectionMethod    DetectionMethod    `db:"detection_method" json:"detection_method"`
	Status             ConflictStatus     `db:"status" json:"status"`
	BlocksApproval     bool               `db:"blocks_approval" json:"blocks_approval"`
	IsRecurring        bool               `db:"is_recurring" json:"is_recurring"`
	ImpactScore        int                `db:"impact_score" json:"impact_score"`
	Title              string             `db:"title" json:"title"`
	Description        string             `db:"description" json:"description"`
	Fingerprint        string             `db:"fingerprint" json:"fingerprint"`
	EscalationLevel    int                `db:"escalation_level" json:"escalation_level"`
	DetectionCount     int                `db:"detection_count" json:"detection_count"`
	SuggestedSolutions SuggestedSolutions `db:"suggested_solutions" json:"suggested_solutions"`
	History            ConflictHistory    `db:"history" json:"history"`
	Metadata           ConflictMetadata   `db:"metadata" json:"metadata,omitempty"`
	ResolvedBy         *string            `db:"resolved_by" json:"resolved_by,omitempty"`
	ResolvedAt         *time.Time         `db:"resolved_at" json:"resolved_at,omitempty"`
	ResolutionNotes    *string            `db:"resolution_notes" json:"resolution_notes,omitempty"`
	ResolutionActions  StringList         `db:"resolution_actions" json:"resolution_actions,omitempty"`
	LastNotifiedAt     *time.Time         `db:"last_notified_at" json:"last_notified_at,omitempty"`
	Version            int                `db:"version" json:"version"`
	CreatedAt          time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time          `db:"updated_at" json:"updated_at"`
}

// Source returns the source entity reference.
func (c ScheduleConflict) Source() EntityRef {
	return EntityRef{Kind: c.SourceKind, ID: c.SourceID}
}

// Target returns the target entity reference.
func (c ScheduleConflict) Target() EntityRef {
	return EntityRef{Kind: c.TargetKind, ID: c.TargetID}
}

// References reports whether the conflict points at the given entity.
func (c ScheduleConflict) References(kind EntityKind, id string) bool {
	if c.SourceKind == kind && c.SourceID == id {
		return true
	}
	if c.TargetKind == kind && c.TargetID == id {
		return true
	}
	if kind == EntitySession && c.SessionID != nil && *c.SessionID == id {
		return true
	}
	return false
}

// CanBeIgnored reports whether the ignore action would be accepted.
func (c ScheduleConflict) CanBeIgnored() bool {
	return (c.Status == ConflictStatusPending || c.Status == ConflictStatusAcknowledged) && c.Severity != SeverityCritical
}

// IsGating reports whether the conflict currently holds back schedule finalization.
func (c ScheduleConflict) IsGating() bool {
	if !c.BlocksApproval {
		return false
	}
	for _, status := range GatingConflictStatuses {
		if c.Status == status {
			return true
		}
	}
	return false
}

// ConflictFilter narrows conflict listings.
type ConflictFilter struct {
	ScheduleID string
	Statuses   []ConflictStatus
	Severity   Severity
	Type       ConflictType
	Page       int
	PageSize   int
}

// TransitionRequest carries an explicit actor and optional notes for a state machine move.
type TransitionRequest struct {
	Action  ConflictAction
	ActorID string
	Notes   string
	Actions []string
}
