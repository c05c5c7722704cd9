package models

import "time"

// SessionStatus is the lifecycle state of a placed session.
type SessionStatus string

const (
	SessionStatusScheduled   SessionStatus = "scheduled"
	SessionStatusConfirmed   SessionStatus = "confirmed"
	SessionStatusInProgress  SessionStatus = "in_progress"
	SessionStatusCompleted   SessionStatus = "completed"
	SessionStatusCancelled   SessionStatus = "cancelled"
	SessionStatusMoved       SessionStatus = "moved"
	SessionStatusSubstituted SessionStatus = "substituted"
)

// ActiveSessionStatuses are scanned by conflict detection.
var ActiveSessionStatuses = []SessionStatus{SessionStatusScheduled, SessionStatusConfirmed, SessionStatusInProgress}

// IsActive reports whether the session takes part in conflict detection.
func (s SessionStatus) IsActive() bool {
	for _, status := range ActiveSessionStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// SessionType classifies a session.
type SessionType string

const (
	SessionTypeRegular SessionType = "regular"
	SessionTypeDouble  SessionType = "double"
)

// ConflictSeverityNone marks a session without open conflicts.
const ConflictSeverityNone = "none"

// ScheduleSession is one placed occurrence of a teaching load.
type ScheduleSession struct {
	ID                   string        `db:"id" json:"id"`
	ScheduleID           string        `db:"schedule_id" json:"schedule_id"`
	TeachingLoadID       string        `db:"teaching_load_id" json:"teaching_load_id"`
	SubjectID            string        `db:"subject_id" json:"subject_id"`
	TeacherID            string        `db:"teacher_id" json:"teacher_id"`
	ClassID              string        `db:"class_id" json:"class_id"`
	RoomID               *string       `db:"room_id" json:"room_id,omitempty"`
	TimeSlotID           string        `db:"time_slot_id" json:"time_slot_id"`
	DayOfWeek            int           `db:"day_of_week" json:"day_of_week"`
	PeriodNumber         int           `db:"period_number" json:"period_number"`
	StartTime            string        `db:"start_time" json:"start_time"`
	EndTime              string        `db:"end_time" json:"end_time"`
	SessionType          SessionType   `db:"session_type" json:"session_type"`
	Status               SessionStatus `db:"status" json:"status"`
	RequiresProjector    bool          `db:"requires_projector" json:"requires_projector"`
	RequiresComputer     bool          `db:"requires_computer" json:"requires_computer"`
	RequiresLabEquipment bool          `db:"requires_lab_equipment" json:"requires_lab_equipment"`
	ExpectedStudentCount int           `db:"expected_student_count" json:"expected_student_count"`
	HasConflicts         bool          `db:"has_conflicts" json:"has_conflicts"`
	ConflictSeverity     string        `db:"conflict_severity" json:"conflict_severity"`
	SubstituteTeacherID  *string       `db:"substitute_teacher_id" json:"substitute_teacher_id,omitempty"`
	OriginalTeacherID    *string       `db:"original_teacher_id" json:"original_teacher_id,omitempty"`
	Notes                *string       `db:"notes" json:"notes,omitempty"`
	StartedAt            *time.Time    `db:"started_at" json:"started_at,omitempty"`
	CompletedAt          *time.Time    `db:"completed_at" json:"completed_at,omitempty"`
	UpdatedBy            *string       `db:"updated_by" json:"updated_by,omitempty"`
	CreatedAt            time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time     `db:"updated_at" json:"updated_at"`
}

// SessionAction names a session lifecycle operation.
type SessionAction string

const (
	SessionActionConfirm    SessionAction = "confirm"
	SessionActionStart      SessionAction = "start"
	SessionActionComplete   SessionAction = "complete"
	SessionActionCancel     SessionAction = "cancel"
	SessionActionMove       SessionAction = "move"
	SessionActionSubstitute SessionAction = "substitute"
)
