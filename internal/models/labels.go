package models

// Display labels for API consumers. The engine never branches on these.

var dayLabels = map[int]string{
	1: "Monday",
	2: "Tuesday",
	3: "Wednesday",
	4: "Thursday",
	5: "Friday",
	6: "Saturday",
	7: "Sunday",
}

var conflictTypeLabels = map[ConflictType]string{
	ConflictTypeTeacher:      "Teacher Conflict",
	ConflictTypeRoom:         "Room Conflict",
	ConflictTypeResource:     "Resource Conflict",
	ConflictTypeTime:         "Time Slot Conflict",
	ConflictTypeCapacity:     "Capacity Conflict",
	ConflictTypePrerequisite: "Prerequisite Conflict",
	ConflictTypePreference:   "Preference Conflict",
	ConflictTypePolicy:       "Policy Violation",
	ConflictTypeCustom:       "Custom Conflict",
}

var severityLabels = map[Severity]string{
	SeverityCritical: "Critical",
	SeverityHigh:     "High",
	SeverityMedium:   "Medium",
	SeverityLow:      "Low",
	SeverityInfo:     "Information",
}

var conflictStatusLabels = map[ConflictStatus]string{
	ConflictStatusPending:      "Pending",
	ConflictStatusAcknowledged: "Acknowledged",
	ConflictStatusInProgress:   "In Progress",
	ConflictStatusResolved:     "Resolved",
	ConflictStatusIgnored:      "Ignored",
	ConflictStatusEscalated:    "Escalated",
}

var sessionStatusLabels = map[SessionStatus]string{
	SessionStatusScheduled:   "Scheduled",
	SessionStatusConfirmed:   "Confirmed",
	SessionStatusInProgress:  "In Progress",
	SessionStatusCompleted:   "Completed",
	SessionStatusCancelled:   "Cancelled",
	SessionStatusMoved:       "Moved",
	SessionStatusSubstituted: "Substituted",
}

func label[K comparable](table map[K]string, key K, fallback string) string {
	if v, ok := table[key]; ok {
		return v
	}
	return fallback
}

// DayLabel returns the English name of a day index (1 = Monday).
func DayLabel(day int) string { return label(dayLabels, day, "Unknown") }

// Label returns the display name of the conflict type.
func (t ConflictType) Label() string { return label(conflictTypeLabels, t, string(t)) }

// Label returns the display name of the severity.
func (s Severity) Label() string { return label(severityLabels, s, string(s)) }

// Label returns the display name of the conflict status.
func (s ConflictStatus) Label() string { return label(conflictStatusLabels, s, string(s)) }

// Label returns the display name of the session status.
func (s SessionStatus) Label() string { return label(sessionStatusLabels, s, string(s)) }
