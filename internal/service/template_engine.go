package service

import (
	"math"
	"sort"
	"strings"

	"github.com/noah-isme/sma-timetable-engine/internal/models"
)

const (
	similarityTeacherWeight    = 0.3
	similaritySubjectWeight    = 0.4
	similarityComplexityWeight = 0.3

	maxComplexityScore = 10.0
)

var subjectCategories = map[models.SubjectCategory][]string{
	models.CategoryCore: {
		"mathematics", "math", "algebra", "geometry", "physics", "chemistry", "biology",
		"english", "language", "literature", "native language", "azerbaijani language", "riyaziyyat", "fizika", "kimya",
	},
	models.CategorySocial: {
		"history", "geography", "social studies", "civics", "economics", "tarix", "cografiya",
	},
	models.CategoryPractical: {
		"physical education", "pe", "art", "music", "technology", "computer science", "informatics", "drawing",
	},
}

// CategorizeSubject maps a subject name to a category with a fixed lookup.
func CategorizeSubject(name string) models.SubjectCategory {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return models.CategoryOther
	}
	for _, category := range []models.SubjectCategory{models.CategoryCore, models.CategorySocial, models.CategoryPractical} {
		for _, known := range subjectCategories[category] {
			if normalized == known {
				return category
			}
		}
	}
	return models.CategoryOther
}

// SummarizeLoads computes workload statistics over a set of teaching loads.
func SummarizeLoads(loads []models.TeachingLoad) models.WorkloadStatistics {
	stats := models.WorkloadStatistics{TeacherHours: make(map[string]int)}
	subjects := make(map[string]struct{})
	classes := make(map[string]struct{})
	for _, load := range loads {
		stats.TotalLoads++
		stats.TotalWeeklyHours += load.WeeklyHours
		stats.TeacherHours[load.TeacherID] += load.WeeklyHours
		subjects[load.SubjectID] = struct{}{}
		classes[load.ClassID] = struct{}{}
		stats.ConstraintCount += load.ConstraintCount()
	}
	stats.UniqueTeachers = len(stats.TeacherHours)
	stats.UniqueSubjects = len(subjects)
	stats.UniqueClasses = len(classes)
	return stats
}

// ComplexityScore weighs the size of a workload, capped at 10.
func ComplexityScore(stats models.WorkloadStatistics) float64 {
	score := 0.1*float64(stats.UniqueTeachers) +
		0.15*float64(stats.UniqueSubjects) +
		0.1*float64(stats.UniqueClasses) +
		0.02*float64(stats.TotalWeeklyHours) +
		0.05*float64(stats.ConstraintCount)
	return math.Min(score, maxComplexityScore)
}

// SummarizeWorkload builds the comparison shape used for template recommendation.
func SummarizeWorkload(institutionID string, loads []models.TeachingLoad, setting *models.ScheduleGenerationSetting) models.WorkloadSummary {
	stats := SummarizeLoads(loads)
	summary := models.WorkloadSummary{
		InstitutionID:       institutionID,
		TeacherCount:        stats.UniqueTeachers,
		SubjectDistribution: make(map[models.SubjectCategory]int),
		ComplexityScore:     ComplexityScore(stats),
	}
	for _, load := range loads {
		summary.SubjectDistribution[CategorizeSubject(load.SubjectName)] += load.WeeklyHours
	}
	if setting != nil {
		summary.WorkingDays = append([]int(nil), setting.WorkingDays...)
		summary.DailyPeriods = setting.DailyPeriods
	}
	return summary
}

// ExtractTemplateData summarises a schedule's sessions into reusable template parameters.
func ExtractTemplateData(setting models.ScheduleGenerationSetting, sessions []models.ScheduleSession, loads []models.TeachingLoad) models.TemplateData {
	loadByID := make(map[string]models.TeachingLoad, len(loads))
	for _, load := range loads {
		loadByID[load.ID] = load
	}

	data := models.TemplateData{
		GenerationSettings:   gridSettingsFrom(setting),
		SubjectDistribution:  make(map[models.SubjectCategory]int),
		DistributionPatterns: make(map[models.SubjectCategory]models.CategoryPattern),
		TimePatterns: models.TimePatterns{
			SessionsPerDay:    make(map[int]int),
			SessionsPerPeriod: make(map[int]int),
		},
	}

	teachers := make(map[string]struct{})
	for _, s := range sessions {
		teachers[s.TeacherID] = struct{}{}
		category := CategorizeSubject(loadByID[s.TeachingLoadID].SubjectName)
		data.SubjectDistribution[category]++

		pattern, ok := data.DistributionPatterns[category]
		if !ok {
			pattern = models.CategoryPattern{DayDistribution: make(map[int]int), TimeDistribution: make(map[int]int)}
		}
		pattern.DayDistribution[s.DayOfWeek]++
		pattern.TimeDistribution[s.PeriodNumber]++
		data.DistributionPatterns[category] = pattern

		data.TimePatterns.SessionsPerDay[s.DayOfWeek]++
		data.TimePatterns.SessionsPerPeriod[s.PeriodNumber]++
	}
	for category, pattern := range data.DistributionPatterns {
		pattern.PreferredPeriods = topPeriods(pattern.TimeDistribution, 3)
		data.DistributionPatterns[category] = pattern
	}
	if days := len(data.TimePatterns.SessionsPerDay); days > 0 {
		data.TimePatterns.AverageDailyLoad = math.Round(float64(len(sessions))/float64(days)*100) / 100
	}

	data.TeacherCount = len(teachers)
	data.ComplexityScore = ComplexityScore(SummarizeLoads(loads))
	return data
}

// topPeriods returns the n most used periods; ties favour the earlier period.
func topPeriods(histogram map[int]int, n int) []int {
	periods := make([]int, 0, len(histogram))
	for p := range histogram {
		periods = append(periods, p)
	}
	sort.Slice(periods, func(i, j int) bool {
		if histogram[periods[i]] != histogram[periods[j]] {
			return histogram[periods[i]] > histogram[periods[j]]
		}
		return periods[i] < periods[j]
	})
	if len(periods) > n {
		periods = periods[:n]
	}
	return periods
}

func gridSettingsFrom(setting models.ScheduleGenerationSetting) models.GridSettings {
	return models.GridSettings{
		WorkingDays:           append([]int(nil), setting.WorkingDays...),
		DailyPeriods:          setting.DailyPeriods,
		PeriodDurationMinutes: setting.PeriodDurationMinutes,
		BreakPeriods:          append([]int(nil), setting.BreakPeriods...),
		LunchBreakPeriod:      setting.LunchBreakPeriod,
		FirstPeriodStart:      setting.FirstPeriodStart,
		BreakDurationMinutes:  setting.BreakDurationMinutes,
		LunchDurationMinutes:  setting.LunchDurationMinutes,
		MaxConsecutiveHours:   setting.GenerationPreferences.MaxConsecutiveHours,
	}
}

// closeness is 1 - |a-b| / max(a,b,1).
func closeness(a, b float64) float64 {
	denominator := math.Max(math.Max(a, b), 1)
	return 1 - math.Abs(a-b)/denominator
}

func distributionCloseness(a, b map[models.SubjectCategory]int) float64 {
	totalA, totalB := 0, 0
	for _, v := range a {
		totalA += v
	}
	for _, v := range b {
		totalB += v
	}
	if totalA == 0 || totalB == 0 {
		return 0
	}
	union := make(map[models.SubjectCategory]struct{})
	for k := range a {
		union[k] = struct{}{}
	}
	for k := range b {
		union[k] = struct{}{}
	}
	sum := 0.0
	for k := range union {
		ratioA := float64(a[k]) / float64(totalA)
		ratioB := float64(b[k]) / float64(totalB)
		sum += 1 - math.Abs(ratioA-ratioB)
	}
	return sum / float64(len(union))
}

// TemplateSimilarity is the weighted average of teacher, subject and complexity closeness.
// Factors missing from the template are left out of the average.
func TemplateSimilarity(template models.ScheduleTemplate, summary models.WorkloadSummary) float64 {
	data := template.TemplateData
	score, weight := 0.0, 0.0
	if data.TeacherCount > 0 {
		score += similarityTeacherWeight * closeness(float64(data.TeacherCount), float64(summary.TeacherCount))
		weight += similarityTeacherWeight
	}
	if len(data.SubjectDistribution) > 0 {
		score += similaritySubjectWeight * distributionCloseness(data.SubjectDistribution, summary.SubjectDistribution)
		weight += similaritySubjectWeight
	}
	if data.ComplexityScore > 0 {
		score += similarityComplexityWeight * closeness(data.ComplexityScore, summary.ComplexityScore)
		weight += similarityComplexityWeight
	}
	if weight == 0 {
		return 0
	}
	return math.Round(score/weight*1000) / 1000
}

// IsCompatibleWith reports whether the template's constraints admit the workload.
func IsCompatibleWith(template models.ScheduleTemplate, summary models.WorkloadSummary) bool {
	c := template.Constraints
	if len(c.WorkingDays) > 0 && len(summary.WorkingDays) > 0 && len(c.WorkingDays) != len(summary.WorkingDays) {
		return false
	}
	if c.DailyPeriods > 0 && summary.DailyPeriods > 0 && c.DailyPeriods != summary.DailyPeriods {
		return false
	}
	if c.MaxTeachers > 0 && summary.TeacherCount > c.MaxTeachers {
		return false
	}
	return true
}

// RecommendationPolicy bounds template ranking.
type RecommendationPolicy struct {
	MinSuccessRate float64
	MinSimilarity  float64
	Limit          int
}

// RankTemplates filters by success rate and similarity and returns the best matches first.
func RankTemplates(templates []models.ScheduleTemplate, summary models.WorkloadSummary, policy RecommendationPolicy) []models.TemplateRecommendation {
	ranked := make([]models.TemplateRecommendation, 0, len(templates))
	for _, t := range templates {
		if !t.IsActive || t.SuccessRate <= policy.MinSuccessRate {
			continue
		}
		if !t.IsPublic && (t.InstitutionID == nil || *t.InstitutionID != summary.InstitutionID) {
			continue
		}
		if !IsCompatibleWith(t, summary) {
			continue
		}
		similarity := TemplateSimilarity(t, summary)
		if similarity <= policy.MinSimilarity {
			continue
		}
		ranked = append(ranked, models.TemplateRecommendation{
			Template:      t,
			Similarity:    similarity,
			Effectiveness: EffectivenessRating(t.SuccessRate),
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Similarity != ranked[j].Similarity {
			return ranked[i].Similarity > ranked[j].Similarity
		}
		if ranked[i].Template.SuccessRate != ranked[j].Template.SuccessRate {
			return ranked[i].Template.SuccessRate > ranked[j].Template.SuccessRate
		}
		return ranked[i].Template.ID < ranked[j].Template.ID
	})
	if policy.Limit > 0 && len(ranked) > policy.Limit {
		ranked = ranked[:policy.Limit]
	}
	return ranked
}

// NextSuccessRate folds one observed performance into the running average.
func NextSuccessRate(template models.ScheduleTemplate, observed float64) (float64, int) {
	observed = math.Max(0, math.Min(1, observed))
	rate := (template.SuccessRate*float64(template.UsageCount) + observed) / float64(template.UsageCount+1)
	return math.Round(rate*10000) / 10000, template.UsageCount + 1
}

// EffectivenessRating labels a success rate for display.
func EffectivenessRating(rate float64) string {
	switch {
	case rate >= 0.9:
		return "excellent"
	case rate >= 0.8:
		return "very_good"
	case rate >= 0.7:
		return "good"
	case rate >= 0.6:
		return "fair"
	default:
		return "poor"
	}
}

// ApplyTemplate merges a template into the settings and attaches category patterns to the loads.
// Inputs are not modified.
func ApplyTemplate(template models.ScheduleTemplate, setting models.ScheduleGenerationSetting, loads []models.TeachingLoad) (models.ScheduleGenerationSetting, []models.TeachingLoad) {
	gs := template.TemplateData.GenerationSettings
	merged := setting
	if len(gs.WorkingDays) > 0 {
		merged.WorkingDays = append(models.IntList(nil), gs.WorkingDays...)
	}
	if gs.DailyPeriods > 0 {
		merged.DailyPeriods = gs.DailyPeriods
	}
	if gs.PeriodDurationMinutes > 0 {
		merged.PeriodDurationMinutes = gs.PeriodDurationMinutes
	}
	if gs.BreakPeriods != nil {
		merged.BreakPeriods = append(models.IntList(nil), gs.BreakPeriods...)
	}
	if gs.LunchBreakPeriod != nil {
		lunch := *gs.LunchBreakPeriod
		merged.LunchBreakPeriod = &lunch
	}
	if gs.FirstPeriodStart != "" {
		merged.FirstPeriodStart = gs.FirstPeriodStart
	}
	if gs.BreakDurationMinutes > 0 {
		merged.BreakDurationMinutes = gs.BreakDurationMinutes
	}
	if gs.LunchDurationMinutes > 0 {
		merged.LunchDurationMinutes = gs.LunchDurationMinutes
	}
	if gs.MaxConsecutiveHours > 0 {
		merged.GenerationPreferences.MaxConsecutiveHours = gs.MaxConsecutiveHours
	}

	out := make([]models.TeachingLoad, len(loads))
	for i, load := range loads {
		out[i] = load
		pattern, ok := template.TemplateData.DistributionPatterns[CategorizeSubject(load.SubjectName)]
		if !ok || load.DistributionPattern != nil {
			continue
		}
		out[i].DistributionPattern = &models.DistributionPattern{
			PreferredPeriods: append([]int(nil), pattern.PreferredPeriods...),
			PreferredDays:    topPeriods(pattern.DayDistribution, len(pattern.DayDistribution)),
			MaxConsecutive:   merged.GenerationPreferences.MaxConsecutiveHours,
			DayDistribution:  pattern.DayDistribution,
		}
	}
	return merged, out
}
