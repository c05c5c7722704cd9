package service

import (
	"context"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/sma-timetable-engine/internal/models"
)

// PlanEntry is the preferred number of lessons of a load on one day.
type PlanEntry struct {
	DayOfWeek   int  `json:"day_of_week"`
	LessonCount int  `json:"lesson_count"`
	Consecutive bool `json:"consecutive"`
}

// PlanDistribution spreads a load's weekly hours over the working days.
// Days listed in the load's distribution pattern are used first. institutionMax is the
// institution's consecutive-hours cap, zero when it sets none.
func PlanDistribution(load models.TeachingLoad, workingDays []int, institutionMax int) []PlanEntry {
	days := orderPlanDays(load, workingDays)
	if load.WeeklyHours <= 0 || len(days) == 0 {
		return nil
	}

	maxConsecutive := consecutiveLimit(load, institutionMax)

	if load.WeeklyHours <= len(days) {
		plan := make([]PlanEntry, 0, load.WeeklyHours)
		for _, day := range days[:load.WeeklyHours] {
			plan = append(plan, PlanEntry{DayOfWeek: day, LessonCount: 1})
		}
		return plan
	}

	base := load.WeeklyHours / len(days)
	remainder := load.WeeklyHours % len(days)
	plan := make([]PlanEntry, 0, len(days))
	for i, day := range days {
		count := base
		if i < remainder {
			count++
		}
		plan = append(plan, PlanEntry{
			DayOfWeek:   day,
			LessonCount: count,
			Consecutive: count > 1 && count <= maxConsecutive,
		})
	}
	return plan
}

// consecutiveLimit picks the load's own preference, then its distribution pattern, then the
// institution setting. The institution setting also caps the other two.
func consecutiveLimit(load models.TeachingLoad, institutionMax int) int {
	limit := load.PreferredConsecutiveHours
	if limit <= 0 && load.DistributionPattern != nil {
		limit = load.DistributionPattern.MaxConsecutive
	}
	if institutionMax > 0 && (limit <= 0 || limit > institutionMax) {
		limit = institutionMax
	}
	return limit
}

func orderPlanDays(load models.TeachingLoad, workingDays []int) []int {
	days := append([]int(nil), workingDays...)
	sort.Ints(days)
	if load.DistributionPattern == nil || len(load.DistributionPattern.PreferredDays) == 0 {
		return days
	}
	rank := make(map[int]int, len(load.DistributionPattern.PreferredDays))
	for i, day := range load.DistributionPattern.PreferredDays {
		if _, ok := rank[day]; !ok {
			rank[day] = i
		}
	}
	sort.SliceStable(days, func(i, j int) bool {
		ri, iok := rank[days[i]]
		rj, jok := rank[days[j]]
		switch {
		case iok && jok:
			return ri < rj
		case iok:
			return true
		default:
			return false
		}
	})
	return days
}

// PlanAll computes plans for every load concurrently. Planning touches no shared occupancy.
func PlanAll(ctx context.Context, loads []models.TeachingLoad, workingDays []int, institutionMax int) (map[string][]PlanEntry, error) {
	plans := make(map[string][]PlanEntry, len(loads))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, load := range loads {
		load := load
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			plan := PlanDistribution(load, workingDays, institutionMax)
			mu.Lock()
			plans[load.ID] = plan
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return plans, nil
}
