/* Copyright (c) 2025 FlowCost Authors
 * SPDX-License-Identifier: BSD-3-Clause */
package analytics

import (
	"fmt"
	"sort"
	"time"

	"github.com/ompatildesigns-ctrl/flowcost/internal/domain"
)

// Workload categories by active issue count, both bounds strict.
const (
	WorkloadOverloadedFloor = 15 // more than this is overloaded
	WorkloadNormalFloor     = 5  // more than this is normal, otherwise underutilized

	workloadPreviewSize = 5
)

type WorkloadIssue struct {
	Key      string `json:"key"`
	Summary  string `json:"summary"`
	Status   string `json:"status"`
	Priority string `json:"priority"`
}

type MemberWorkload struct {
	Assignee     string          `json:"assignee"`
	ActiveIssues int             `json:"active_issues"`
	Issues       []WorkloadIssue `json:"issues"`
	LoadCategory string          `json:"load_category"`
}

type WorkloadSummary struct {
	TotalTeamMembers    int     `json:"total_team_members"`
	TotalAssignedIssues int     `json:"total_assigned_issues"`
	UnassignedIssues    int     `json:"unassigned_issues"`
	AvgWorkload         float64 `json:"avg_workload"`
	OverloadedCount     int     `json:"overloaded_count"`
	UnderutilizedCount  int     `json:"underutilized_count"`
}

type WorkloadReport struct {
	Distribution []MemberWorkload `json:"workload_distribution"`
	Summary      WorkloadSummary  `json:"summary"`
}

// WorkloadDistribution groups unresolved issues by assignee and buckets each
// person into overloaded / normal / underutilized.
func WorkloadDistribution(issues []domain.Issue) WorkloadReport {
	byAssignee := map[string][]domain.Issue{}
	unassigned := 0
	for _, i := range issues {
		if i.Resolved != nil { continue }
		if i.Assignee == "" {
			unassigned++
			continue
		}
		byAssignee[i.Assignee] = append(byAssignee[i.Assignee], i)
	}

	dist := make([]MemberWorkload, 0, len(byAssignee))
	totalAssigned := 0
	for _, load := range byAssignee {
		preview := make([]WorkloadIssue, 0, workloadPreviewSize)
		for _, i := range load {
			if len(preview) == workloadPreviewSize { break }
			preview = append(preview, WorkloadIssue{
				Key:      i.Key,
				Summary:  truncate(i.Summary, 50),
				Status:   i.Status,
				Priority: priorityLabel(i.Priority),
			})
		}
		category := "underutilized"
		switch {
		case len(load) > WorkloadOverloadedFloor:
			category = "overloaded"
		case len(load) > WorkloadNormalFloor:
			category = "normal"
		}
		dist = append(dist, MemberWorkload{
			Assignee:     personLabel(load),
			ActiveIssues: len(load),
			Issues:       preview,
			LoadCategory: category,
		})
		totalAssigned += len(load)
	}
	sort.Slice(dist, func(a, b int) bool {
		if dist[a].ActiveIssues != dist[b].ActiveIssues { return dist[a].ActiveIssues > dist[b].ActiveIssues }
		return dist[a].Assignee < dist[b].Assignee
	})

	summary := WorkloadSummary{
		TotalTeamMembers:    len(dist),
		TotalAssignedIssues: totalAssigned,
		UnassignedIssues:    unassigned,
	}
	if len(dist) > 0 { summary.AvgWorkload = round1(float64(totalAssigned) / float64(len(dist))) }
	for _, w := range dist {
		if w.LoadCategory == "overloaded" { summary.OverloadedCount++ }
		if w.LoadCategory == "underutilized" { summary.UnderutilizedCount++ }
	}
	return WorkloadReport{Distribution: dist, Summary: summary}
}

const (
	maxCycleProjects  = 10
	maxCycleAssignees = 15
)

type CycleOverall struct {
	AvgCycleTimeDays      float64 `json:"avg_cycle_time_days"`
	MedianCycleTimeDays   float64 `json:"median_cycle_time_days"`
	TotalResolved         int     `json:"total_resolved"`
	FastestResolutionDays float64 `json:"fastest_resolution_days"`
	SlowestResolutionDays float64 `json:"slowest_resolution_days"`
}

type CycleGroup struct {
	Name             string  `json:"name"`
	AvgCycleTimeDays float64 `json:"avg_cycle_time_days"`
	IssuesResolved   int     `json:"issues_resolved"`
}

type CycleTimeReport struct {
	Overall    CycleOverall `json:"overall"`
	ByProject  []CycleGroup `json:"by_project"`
	ByType     []CycleGroup `json:"by_type"`
	ByAssignee []CycleGroup `json:"by_assignee"`
}

// CycleTimeAnalysis measures created-to-resolved time over issues resolved in
// the window and breaks it down by project, issue type and assignee.
func CycleTimeAnalysis(issues []domain.Issue, days int, now time.Time) CycleTimeReport {
	cutoff := now.AddDate(0, 0, -days)

	var all []float64
	byProject := map[string][]float64{}
	byType := map[string][]float64{}
	byAssignee := map[string][]float64{}
	for _, i := range issues {
		if i.Resolved == nil || i.Resolved.Before(cutoff) { continue }
		ct, ok := cycleDays(i)
		if !ok { continue }
		all = append(all, ct)

		project := i.Project
		if project == "" { project = "Unknown" }
		issueType := i.Type
		if issueType == "" { issueType = "Unknown" }
		byProject[project] = append(byProject[project], ct)
		byType[issueType] = append(byType[issueType], ct)
		byAssignee[assigneeLabel(i)] = append(byAssignee[assigneeLabel(i)], ct)
	}

	report := CycleTimeReport{
		ByProject:  cycleGroups(byProject, maxCycleProjects),
		ByType:     cycleGroups(byType, 0),
		ByAssignee: cycleGroups(byAssignee, maxCycleAssignees),
	}
	if len(all) == 0 { return report }

	sort.Float64s(all)
	sum := 0.0
	for _, v := range all { sum += v }
	report.Overall = CycleOverall{
		AvgCycleTimeDays:      round1(sum / float64(len(all))),
		MedianCycleTimeDays:   round1(all[len(all)/2]),
		TotalResolved:         len(all),
		FastestResolutionDays: round1(all[0]),
		SlowestResolutionDays: round1(all[len(all)-1]),
	}
	return report
}

func cycleGroups(groups map[string][]float64, limit int) []CycleGroup {
	out := make([]CycleGroup, 0, len(groups))
	for name, times := range groups {
		sum := 0.0
		for _, v := range times { sum += v }
		out = append(out, CycleGroup{Name: name, AvgCycleTimeDays: round1(sum / float64(len(times))), IssuesResolved: len(times)})
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].AvgCycleTimeDays != out[b].AvgCycleTimeDays { return out[a].AvgCycleTimeDays > out[b].AvgCycleTimeDays }
		return out[a].Name < out[b].Name
	})
	if limit > 0 && len(out) > limit { out = out[:limit] }
	return out
}

// Velocity trend bands: recent four weeks against the older average.
const (
	VelocityTrendUpFactor   = 1.1
	VelocityTrendDownFactor = 0.9

	DefaultVelocityWeeks = 12
	MaxVelocityWeeks     = 52
	velocityRecentWeeks  = 4
)

type WeekVelocity struct {
	Week            string `json:"week"`
	IssuesCompleted int    `json:"issues_completed"`
}

type VelocitySummary struct {
	AvgWeeklyVelocity  float64       `json:"avg_weekly_velocity"`
	Recent4WeekAvg     float64       `json:"recent_4_week_avg"`
	Trend              string        `json:"trend"`
	TotalWeeksAnalyzed int           `json:"total_weeks_analyzed"`
	HighestWeek        *WeekVelocity `json:"highest_velocity_week"`
	LowestWeek         *WeekVelocity `json:"lowest_velocity_week"`
}

type VelocityReport struct {
	ByWeek  []WeekVelocity  `json:"velocity_by_week"`
	Summary VelocitySummary `json:"summary"`
}

// VelocityTrends counts resolved issues per ISO week and classifies the trend
// by comparing the recent four weeks to the rest of the window.
func VelocityTrends(issues []domain.Issue, weeks int, now time.Time) VelocityReport {
	cutoff := now.AddDate(0, 0, -7*weeks)

	counts := map[string]int{}
	for _, i := range issues {
		if i.Resolved == nil || i.Resolved.Before(cutoff) { continue }
		year, week := i.Resolved.ISOWeek()
		counts[fmt.Sprintf("%d-W%02d", year, week)]++
	}

	byWeek := make([]WeekVelocity, 0, len(counts))
	for week, n := range counts { byWeek = append(byWeek, WeekVelocity{Week: week, IssuesCompleted: n}) }
	sort.Slice(byWeek, func(a, b int) bool { return byWeek[a].Week < byWeek[b].Week })

	summary := VelocitySummary{Trend: "insufficient_data", TotalWeeksAnalyzed: len(byWeek)}
	total := 0
	for idx, w := range byWeek {
		total += w.IssuesCompleted
		if summary.HighestWeek == nil || w.IssuesCompleted > summary.HighestWeek.IssuesCompleted { summary.HighestWeek = &byWeek[idx] }
		if summary.LowestWeek == nil || w.IssuesCompleted < summary.LowestWeek.IssuesCompleted { summary.LowestWeek = &byWeek[idx] }
	}
	if len(byWeek) > 0 { summary.AvgWeeklyVelocity = round1(float64(total) / float64(len(byWeek))) }
	summary.Recent4WeekAvg = summary.AvgWeeklyVelocity

	if len(byWeek) >= 2 {
		split := len(byWeek) - velocityRecentWeeks
		if split < 0 { split = 0 }
		recent, older := byWeek[split:], byWeek[:split]
		recentSum := 0
		for _, w := range recent { recentSum += w.IssuesCompleted }
		recentAvg := float64(recentSum) / float64(len(recent))
		olderSum := 0
		for _, w := range older { olderSum += w.IssuesCompleted }
		olderAvg := float64(olderSum) / float64(max(1, len(older)))

		summary.Recent4WeekAvg = round1(recentAvg)
		switch {
		case recentAvg > olderAvg*VelocityTrendUpFactor:
			summary.Trend = "increasing"
		case recentAvg < olderAvg*VelocityTrendDownFactor:
			summary.Trend = "decreasing"
		default:
			summary.Trend = "stable"
		}
	}
	return VelocityReport{ByWeek: byWeek, Summary: summary}
}

// Team comparison significance thresholds.
const (
	CompletionRateGapPoints = 10.0
	CycleTimeGapFactor      = 1.5
)

type TeamStats struct {
	TeamLabel        string  `json:"team_label"`
	IssuesAssigned   int     `json:"issues_assigned"`
	IssuesCompleted  int     `json:"issues_completed"`
	CompletionRate   float64 `json:"completion_rate"`
	AvgCycleTimeDays float64 `json:"avg_cycle_time_days"`
}

type TeamComparisonReport struct {
	PeriodDays        int                  `json:"period_days"`
	Comparison        map[string]TeamStats `json:"comparison"`
	UnassignedCreated int                  `json:"unassigned_created"`
	Insights          []string             `json:"insights"`
}

// CompareTeams contrasts contractor and internal delivery over issues created
// in the window: completion rate, cycle time, and attention-worthy gaps.
func CompareTeams(issues []domain.Issue, roster domain.Roster, days int, now time.Time) TeamComparisonReport {
	cutoff := now.AddDate(0, 0, -days)

	type teamAccum struct {
		assigned, completed int
		cycleSum            float64
		cycleN              int
	}
	stats := map[domain.Role]*teamAccum{
		domain.RoleContractor: {},
		domain.RoleInternal:   {},
		domain.RoleUnknown:    {},
	}
	unassigned := 0
	for _, i := range issues {
		if i.Created == nil || i.Created.Before(cutoff) { continue }
		if i.Assignee == "" {
			unassigned++
			continue
		}
		acc := stats[roster.RoleOf(i.Assignee)]
		acc.assigned++
		if i.Resolved == nil { continue }
		acc.completed++
		if ct, ok := cycleDays(i); ok {
			acc.cycleSum += ct
			acc.cycleN++
		}
	}

	comparison := map[string]TeamStats{}
	for role, acc := range stats {
		ts := TeamStats{TeamLabel: domain.RoleLabel(role), IssuesAssigned: acc.assigned, IssuesCompleted: acc.completed}
		if acc.assigned > 0 { ts.CompletionRate = round1(float64(acc.completed) / float64(acc.assigned) * 100) }
		if acc.cycleN > 0 { ts.AvgCycleTimeDays = round1(acc.cycleSum / float64(acc.cycleN)) }
		comparison[string(role)] = ts
	}

	contractor := comparison[string(domain.RoleContractor)]
	internal := comparison[string(domain.RoleInternal)]
	var insights []string
	if contractor.CompletionRate > internal.CompletionRate+CompletionRateGapPoints {
		insights = append(insights, fmt.Sprintf("%s completing %.1f%% more of assigned issues than %s",
			contractor.TeamLabel, contractor.CompletionRate-internal.CompletionRate, internal.TeamLabel))
	} else if internal.CompletionRate > contractor.CompletionRate+CompletionRateGapPoints {
		insights = append(insights, fmt.Sprintf("%s completing %.1f%% more of assigned issues than %s",
			internal.TeamLabel, internal.CompletionRate-contractor.CompletionRate, contractor.TeamLabel))
	}
	if internal.AvgCycleTimeDays > 0 && contractor.AvgCycleTimeDays > internal.AvgCycleTimeDays*CycleTimeGapFactor {
		insights = append(insights, fmt.Sprintf("%s cycle time (%.1fd) is %.0f%% slower than %s",
			contractor.TeamLabel, contractor.AvgCycleTimeDays, (contractor.AvgCycleTimeDays/internal.AvgCycleTimeDays-1)*100, internal.TeamLabel))
	} else if contractor.AvgCycleTimeDays > 0 && internal.AvgCycleTimeDays > contractor.AvgCycleTimeDays*CycleTimeGapFactor {
		insights = append(insights, fmt.Sprintf("%s cycle time (%.1fd) is %.0f%% slower than %s",
			internal.TeamLabel, internal.AvgCycleTimeDays, (internal.AvgCycleTimeDays/contractor.AvgCycleTimeDays-1)*100, contractor.TeamLabel))
	}

	return TeamComparisonReport{PeriodDays: days, Comparison: comparison, UnassignedCreated: unassigned, Insights: insights}
}
