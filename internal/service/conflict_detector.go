package service

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-engine/internal/models"
)

// SystemActorID is recorded in history entries written by automatic detection.
const SystemActorID = "system"

// capacityHighOverage is the overage ratio above which a capacity conflict is graded high.
const capacityHighOverage = 0.5

var severityWeights = map[models.Severity]int{
	models.SeverityCritical: 40,
	models.SeverityHigh:     30,
	models.SeverityMedium:   20,
	models.SeverityLow:      10,
	models.SeverityInfo:     5,
}

var typeWeights = map[models.ConflictType]int{
	models.ConflictTypeTeacher:  30,
	models.ConflictTypeRoom:     20,
	models.ConflictTypeTime:     25,
	models.ConflictTypeCapacity: 20,
	models.ConflictTypeResource: 15,
}

const otherTypeWeight = 10

// ImpactScore combines severity, type, blocking and recurrence into a 0..100 score.
func ImpactScore(severity models.Severity, conflictType models.ConflictType, blocksApproval, recurring bool) int {
	score := severityWeights[severity]
	if w, ok := typeWeights[conflictType]; ok {
		score += w
	} else {
		score += otherTypeWeight
	}
	if blocksApproval {
		score += 20
	}
	if recurring {
		score += 10
	}
	if score > 100 {
		score = 100
	}
	return score
}

// BlocksApproval reports whether a conflict of this severity holds back finalization.
func BlocksApproval(severity models.Severity) bool {
	return severity == models.SeverityCritical || severity == models.SeverityHigh
}

// DetectionPolicy holds tunable detection thresholds.
type DetectionPolicy struct {
	TeacherWeeklyHourLimit int
}

// DetectionInput is a consistent snapshot of one schedule.
type DetectionInput struct {
	ScheduleID string
	Sessions   []models.ScheduleSession
	Rooms      map[string]models.Room
	Loads      map[string]models.TeachingLoad
	Existing   []models.ScheduleConflict
	Retrigger  bool
	Now        time.Time
	Policy     DetectionPolicy
}

// SessionFlag is the conflict marker a session should carry after a scan.
type SessionFlag struct {
	SessionID        string
	HasConflicts     bool
	ConflictSeverity string
}

// DetectionResult separates new records from in-place updates.
type DetectionResult struct {
	Created    []models.ScheduleConflict
	Updated    []models.ScheduleConflict
	Open       []models.ScheduleConflict
	Suppressed int
	Flags      []SessionFlag
}

// ConflictDetector scans placed sessions for rule violations.
type ConflictDetector struct {
	logger *zap.Logger
	newID  func() string
}

// NewConflictDetector constructs a detector.
func NewConflictDetector(logger *zap.Logger) *ConflictDetector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConflictDetector{logger: logger, newID: uuid.NewString}
}

type finding struct {
	conflictType models.ConflictType
	severity     models.Severity
	source       models.EntityRef
	target       models.EntityRef
	sessionID    string
	day          int
	slotID       string
	title        string
	description  string
	metadata     models.ConflictMetadata
	pairKey      string
	recurring    bool
}

func (f finding) fingerprint() string {
	return strings.Join([]string{
		string(f.conflictType),
		fmt.Sprintf("%d", f.day),
		f.slotID,
		string(f.source.Kind) + ":" + f.source.ID,
		string(f.target.Kind) + ":" + f.target.ID,
	}, "|")
}

// Detect compares the snapshot against existing conflicts. Re-running it on an unchanged snapshot
// yields no new records and the same ids.
func (d *ConflictDetector) Detect(in DetectionInput) DetectionResult {
	active := make([]models.ScheduleSession, 0, len(in.Sessions))
	for _, s := range in.Sessions {
		if s.Status.IsActive() {
			active = append(active, s)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].ID < active[j].ID })

	findings := d.pairFindings(active)
	findings = append(findings, d.roomFindings(active, in.Rooms)...)
	findings = append(findings, d.availabilityFindings(active, in.Loads)...)
	findings = append(findings, d.policyFindings(in.ScheduleID, active, in.Policy)...)
	markRecurring(findings)

	openByFingerprint := make(map[string]models.ScheduleConflict)
	ignored := make(map[string]bool)
	for _, c := range in.Existing {
		if c.Fingerprint == "" {
			continue
		}
		switch {
		case c.Status.IsOpen():
			if _, seen := openByFingerprint[c.Fingerprint]; !seen {
				openByFingerprint[c.Fingerprint] = c
			}
		case c.Status == models.ConflictStatusIgnored:
			ignored[c.Fingerprint] = true
		}
	}

	var result DetectionResult
	matched := make(map[string]bool)
	for _, f := range findings {
		fp := f.fingerprint()
		if matched[fp] {
			continue
		}
		matched[fp] = true

		if existing, ok := openByFingerprint[fp]; ok {
			if updated, changed := refresh(existing, f, in.Now); changed {
				result.Updated = append(result.Updated, updated)
			} else {
				d.logger.Debug("duplicate conflict suppressed",
					zap.String("schedule_id", in.ScheduleID),
					zap.String("conflict_id", existing.ID),
					zap.String("fingerprint", fp),
				)
			}
			continue
		}
		if ignored[fp] && !in.Retrigger {
			result.Suppressed++
			continue
		}
		result.Created = append(result.Created, d.newConflict(in.ScheduleID, f, fp, in.Now))
	}

	result.Open = collectOpen(in.Existing, result)
	result.Flags = sessionFlags(in.Sessions, result.Open)
	return result
}

func (d *ConflictDetector) newConflict(scheduleID string, f finding, fp string, now time.Time) models.ScheduleConflict {
	blocks := BlocksApproval(f.severity)
	c := models.ScheduleConflict{
		ID:                 d.newID(),
		ScheduleID:         scheduleID,
		ConflictType:       f.conflictType,
		Severity:           f.severity,
		SourceKind:         f.source.Kind,
		SourceID:           f.source.ID,
		TargetKind:         f.target.Kind,
		TargetID:           f.target.ID,
		DetectionMethod:    models.DetectionAutomatic,
		Status:             models.ConflictStatusPending,
		BlocksApproval:     blocks,
		IsRecurring:        f.recurring,
		ImpactScore:        ImpactScore(f.severity, f.conflictType, blocks, f.recurring),
		Title:              f.title,
		Description:        f.description,
		Fingerprint:        fp,
		DetectionCount:     1,
		SuggestedSolutions: SuggestSolutions(f.conflictType),
		Metadata:           f.metadata,
		History: models.ConflictHistory{{
			Action:    "detected",
			ActorID:   SystemActorID,
			Timestamp: now,
			ToStatus:  models.ConflictStatusPending,
		}},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if f.sessionID != "" {
		id := f.sessionID
		c.SessionID = &id
	}
	if f.slotID != "" {
		day, slot := f.day, f.slotID
		c.DayOfWeek = &day
		c.TimeSlotID = &slot
	}
	return c
}

// refresh updates the derived fields of an open conflict; status and history are left alone.
func refresh(existing models.ScheduleConflict, f finding, now time.Time) (models.ScheduleConflict, bool) {
	blocks := BlocksApproval(f.severity)
	impact := ImpactScore(f.severity, f.conflictType, blocks, f.recurring)
	if existing.Severity == f.severity && existing.BlocksApproval == blocks &&
		existing.IsRecurring == f.recurring && existing.ImpactScore == impact &&
		existing.Description == f.description {
		return existing, false
	}
	updated := cloneConflict(existing)
	updated.Severity = f.severity
	updated.BlocksApproval = blocks
	updated.IsRecurring = f.recurring
	updated.ImpactScore = impact
	updated.Title = f.title
	updated.Description = f.description
	updated.Metadata = f.metadata
	updated.DetectionCount++
	updated.UpdatedAt = now
	return updated, true
}

func collectOpen(existing []models.ScheduleConflict, result DetectionResult) []models.ScheduleConflict {
	updated := make(map[string]models.ScheduleConflict, len(result.Updated))
	for _, c := range result.Updated {
		updated[c.ID] = c
	}
	open := make([]models.ScheduleConflict, 0, len(existing)+len(result.Created))
	for _, c := range existing {
		if !c.Status.IsOpen() {
			continue
		}
		if u, ok := updated[c.ID]; ok {
			c = u
		}
		open = append(open, c)
	}
	open = append(open, result.Created...)
	sort.SliceStable(open, func(i, j int) bool {
		if open[i].ImpactScore != open[j].ImpactScore {
			return open[i].ImpactScore > open[j].ImpactScore
		}
		return open[i].Fingerprint < open[j].Fingerprint
	})
	return open
}

func sessionFlags(sessions []models.ScheduleSession, open []models.ScheduleConflict) []SessionFlag {
	worst := make(map[string]models.Severity)
	for _, c := range open {
		for _, ref := range []models.EntityRef{c.Source(), c.Target()} {
			if ref.Kind != models.EntitySession {
				continue
			}
			if c.Severity.Rank() > worst[ref.ID].Rank() {
				worst[ref.ID] = c.Severity
			}
		}
	}
	var flags []SessionFlag
	for _, s := range sessions {
		severity, has := worst[s.ID]
		want := SessionFlag{SessionID: s.ID, HasConflicts: has, ConflictSeverity: models.ConflictSeverityNone}
		if has {
			want.ConflictSeverity = string(severity)
		}
		if s.HasConflicts != want.HasConflicts || s.ConflictSeverity != want.ConflictSeverity {
			flags = append(flags, want)
		}
	}
	return flags
}

// markRecurring flags findings whose entity pair collides at more than one slot in the scan.
func markRecurring(findings []finding) {
	slots := make(map[string]map[string]bool)
	for _, f := range findings {
		if f.pairKey == "" || f.slotID == "" {
			continue
		}
		if slots[f.pairKey] == nil {
			slots[f.pairKey] = make(map[string]bool)
		}
		slots[f.pairKey][fmt.Sprintf("%d|%s", f.day, f.slotID)] = true
	}
	for i := range findings {
		if findings[i].pairKey != "" && len(slots[findings[i].pairKey]) > 1 {
			findings[i].recurring = true
		}
	}
}

func pairKey(kind models.ConflictType, a, b string) string {
	if b < a {
		a, b = b, a
	}
	return string(kind) + "|" + a + "|" + b
}

// pairFindings checks every unordered pair of sessions sharing a day and slot.
func (d *ConflictDetector) pairFindings(active []models.ScheduleSession) []finding {
	bySlot := make(map[string][]models.ScheduleSession)
	var keys []string
	for _, s := range active {
		key := fmt.Sprintf("%d|%s", s.DayOfWeek, s.TimeSlotID)
		if _, ok := bySlot[key]; !ok {
			keys = append(keys, key)
		}
		bySlot[key] = append(bySlot[key], s)
	}
	sort.Strings(keys)

	var findings []finding
	for _, key := range keys {
		group := bySlot[key]
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				a, b := group[i], group[j]
				source := models.EntityRef{Kind: models.EntitySession, ID: a.ID}
				target := models.EntityRef{Kind: models.EntitySession, ID: b.ID}
				where := fmt.Sprintf("%s %s", models.DayLabel(a.DayOfWeek), a.TimeSlotID)

				if a.TeacherID != "" && a.TeacherID == b.TeacherID {
					findings = append(findings, finding{
						conflictType: models.ConflictTypeTeacher,
						severity:     models.SeverityCritical,
						source:       source, target: target, sessionID: a.ID,
						day: a.DayOfWeek, slotID: a.TimeSlotID,
						title:       "Teacher double-booked",
						description: fmt.Sprintf("Teacher %s is assigned to two sessions on %s", a.TeacherID, where),
						metadata:    models.ConflictMetadata{"teacher_id": a.TeacherID},
						pairKey:     pairKey(models.ConflictTypeTeacher, a.TeachingLoadID, b.TeachingLoadID),
					})
				}
				if a.RoomID != nil && b.RoomID != nil && *a.RoomID == *b.RoomID {
					findings = append(findings, finding{
						conflictType: models.ConflictTypeRoom,
						severity:     models.SeverityHigh,
						source:       source, target: target, sessionID: a.ID,
						day: a.DayOfWeek, slotID: a.TimeSlotID,
						title:       "Room double-booked",
						description: fmt.Sprintf("Room %s hosts two sessions on %s", *a.RoomID, where),
						metadata:    models.ConflictMetadata{"room_id": *a.RoomID},
						pairKey:     pairKey(models.ConflictTypeRoom, a.TeachingLoadID, b.TeachingLoadID),
					})
				}
				if a.ClassID != "" && a.ClassID == b.ClassID {
					findings = append(findings, finding{
						conflictType: models.ConflictTypeTime,
						severity:     models.SeverityCritical,
						source:       source, target: target, sessionID: a.ID,
						day: a.DayOfWeek, slotID: a.TimeSlotID,
						title:       "Class double-booked",
						description: fmt.Sprintf("Class %s has two sessions on %s", a.ClassID, where),
						metadata:    models.ConflictMetadata{"class_id": a.ClassID},
						pairKey:     pairKey(models.ConflictTypeTime, a.TeachingLoadID, b.TeachingLoadID),
					})
				}
			}
		}
	}
	return findings
}

// roomFindings checks capacity and facility fit of each session's room.
func (d *ConflictDetector) roomFindings(active []models.ScheduleSession, rooms map[string]models.Room) []finding {
	var findings []finding
	for _, s := range active {
		if s.RoomID == nil {
			continue
		}
		room, ok := rooms[*s.RoomID]
		if !ok {
			continue
		}
		source := models.EntityRef{Kind: models.EntitySession, ID: s.ID}
		target := models.EntityRef{Kind: models.EntityRoom, ID: room.ID}

		if s.ExpectedStudentCount > room.Capacity {
			severity := models.SeverityMedium
			if room.Capacity <= 0 || float64(s.ExpectedStudentCount-room.Capacity)/float64(room.Capacity) > capacityHighOverage {
				severity = models.SeverityHigh
			}
			findings = append(findings, finding{
				conflictType: models.ConflictTypeCapacity,
				severity:     severity,
				source:       source, target: target, sessionID: s.ID,
				day: s.DayOfWeek, slotID: s.TimeSlotID,
				title:       "Room capacity exceeded",
				description: fmt.Sprintf("%d students expected in room %s with capacity %d", s.ExpectedStudentCount, room.Name, room.Capacity),
				metadata: models.ConflictMetadata{
					"room_id":          room.ID,
					"expected":         fmt.Sprintf("%d", s.ExpectedStudentCount),
					"capacity":         fmt.Sprintf("%d", room.Capacity),
					"teaching_load_id": s.TeachingLoadID,
				},
				pairKey: pairKey(models.ConflictTypeCapacity, s.TeachingLoadID, room.ID),
			})
		}

		if missing := missingFacilities(s, room); len(missing) > 0 {
			findings = append(findings, finding{
				conflictType: models.ConflictTypeResource,
				severity:     models.SeverityMedium,
				source:       source, target: target, sessionID: s.ID,
				day: s.DayOfWeek, slotID: s.TimeSlotID,
				title:       "Required facility missing",
				description: fmt.Sprintf("Room %s lacks %s", room.Name, strings.Join(missing, ", ")),
				metadata:    models.ConflictMetadata{"room_id": room.ID, "missing": strings.Join(missing, ",")},
				pairKey:     pairKey(models.ConflictTypeResource, s.TeachingLoadID, room.ID),
			})
		}
	}
	return findings
}

func missingFacilities(s models.ScheduleSession, room models.Room) []string {
	var missing []string
	if s.RequiresProjector && !room.HasProjector {
		missing = append(missing, "projector")
	}
	if s.RequiresComputer && !room.HasComputer {
		missing = append(missing, "computer")
	}
	if s.RequiresLabEquipment && !room.HasLabEquipment {
		missing = append(missing, "lab_equipment")
	}
	return missing
}

// availabilityFindings flags sessions placed inside their load's unavailable periods.
func (d *ConflictDetector) availabilityFindings(active []models.ScheduleSession, loads map[string]models.TeachingLoad) []finding {
	var findings []finding
	for _, s := range active {
		load, ok := loads[s.TeachingLoadID]
		if !ok || !load.IsUnavailable(s.DayOfWeek, s.PeriodNumber) {
			continue
		}
		findings = append(findings, finding{
			conflictType: models.ConflictTypePreference,
			severity:     models.SeverityMedium,
			source:       models.EntityRef{Kind: models.EntitySession, ID: s.ID},
			target:       models.EntityRef{Kind: models.EntityTeacher, ID: s.TeacherID},
			sessionID:    s.ID,
			day:          s.DayOfWeek,
			slotID:       s.TimeSlotID,
			title:        "Session in unavailable period",
			description:  fmt.Sprintf("Session is placed on %s %s which is marked unavailable", models.DayLabel(s.DayOfWeek), s.TimeSlotID),
			metadata:     models.ConflictMetadata{"teaching_load_id": s.TeachingLoadID},
			pairKey:      pairKey(models.ConflictTypePreference, s.TeachingLoadID, s.TeacherID),
		})
	}
	return findings
}

// policyFindings flags teachers whose weekly sessions exceed the configured limit.
func (d *ConflictDetector) policyFindings(scheduleID string, active []models.ScheduleSession, policy DetectionPolicy) []finding {
	if policy.TeacherWeeklyHourLimit <= 0 {
		return nil
	}
	hours := make(map[string]int)
	for _, s := range active {
		hours[s.TeacherID]++
	}
	teachers := make([]string, 0, len(hours))
	for teacherID, total := range hours {
		if total > policy.TeacherWeeklyHourLimit {
			teachers = append(teachers, teacherID)
		}
	}
	sort.Strings(teachers)

	findings := make([]finding, 0, len(teachers))
	for _, teacherID := range teachers {
		findings = append(findings, finding{
			conflictType: models.ConflictTypePolicy,
			severity:     models.SeverityHigh,
			source:       models.EntityRef{Kind: models.EntityTeacher, ID: teacherID},
			target:       models.EntityRef{Kind: models.EntitySchedule, ID: scheduleID},
			title:        "Teacher weekly load exceeded",
			description:  fmt.Sprintf("Teacher %s has %d weekly sessions, limit is %d", teacherID, hours[teacherID], policy.TeacherWeeklyHourLimit),
			metadata: models.ConflictMetadata{
				"teacher_id": teacherID,
				"hours":      fmt.Sprintf("%d", hours[teacherID]),
				"limit":      fmt.Sprintf("%d", policy.TeacherWeeklyHourLimit),
			},
		})
	}
	return findings
}
