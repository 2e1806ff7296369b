/* Copyright (c) 2025 FlowCost Authors
 * SPDX-License-Identifier: BSD-3-Clause */
package analytics

import (
	"fmt"
	"sort"
	"time"

	"github.com/ompatildesigns-ctrl/flowcost/internal/domain"
)

const (
	// OptimalWorkload is the active-issue count one person can sustain.
	OptimalWorkload = 5

	// A person is a bottleneck at double the optimal workload, and at
	// critical risk at triple.
	BottleneckWorkload = 2 * OptimalWorkload
	CriticalWorkload   = 3 * OptimalWorkload

	maxPeopleBottlenecks = 10
	maxUnderloaded       = 5
	maxBlockedProjects   = 5
	maxProjectIssueKeys  = 5
)

type BlockedProject struct {
	Project     string   `json:"project"`
	StaleCount  int      `json:"stale_count"`
	OldestIssue string   `json:"oldest_issue"`
	OldestDays  float64  `json:"oldest_days"`
	IssueKeys   []string `json:"issue_keys"`
}

type PersonBottleneck struct {
	Person          string           `json:"person"`
	AccountID       string           `json:"account_id"`
	Team            string           `json:"team"`
	Workload        int              `json:"workload"`
	OptimalWorkload int              `json:"optimal_workload"`
	BurdenPct       float64          `json:"burden_percentage"`
	BurdenLevel     string           `json:"burden_level"`
	StaleCount      int              `json:"stale_count"`
	AvgStaleDays    float64          `json:"avg_stale_days"`
	BlockedValue    float64          `json:"blocked_value"`
	DailyCost       float64          `json:"daily_cost"`
	Reasons         []string         `json:"reasons"`
	TopStaleIssue   string           `json:"top_stale_issue,omitempty"`
	BlockedProjects []BlockedProject `json:"blocked_projects"`
	Delegation      string           `json:"delegation_recommendation"`
}

type UnderloadedPerson struct {
	Person   string `json:"person"`
	Workload int    `json:"workload"`
	Capacity int    `json:"capacity"`
}

type PeopleReport struct {
	TotalPeopleBottlenecks  int                 `json:"total_people_bottlenecks"`
	TotalBlockedValue       float64             `json:"total_blocked_value"`
	PeopleBottlenecks       []PersonBottleneck  `json:"people_bottlenecks"`
	UnderloadedPeople       []UnderloadedPerson `json:"underloaded_people"`
	DelegationOpportunities int                 `json:"delegation_opportunities"`
	AverageBurden           float64             `json:"average_burden"`
}

// BurdenLevel classifies a burden percentage. The percentage is deliberately
// uncapped so the upper bands are reachable: 16 active issues against an
// optimal of 5 is a 320% burden.
func BurdenLevel(burdenPct float64) string {
	switch {
	case burdenPct >= 300:
		return "Critical Burnout Risk"
	case burdenPct >= 200:
		return "Severely Overloaded"
	case burdenPct >= 150:
		return "Overloaded"
	case burdenPct >= 100:
		return "At Capacity"
	case burdenPct >= 80:
		return "Near Capacity"
	}
	return "Available"
}

// AnalyzePeopleBottlenecks groups active issues by assignee and reports who
// is overloaded, why, and how much value their stale work blocks. Unassigned
// issues are excluded; the cost-of-delay model prices those separately.
func AnalyzePeopleBottlenecks(issues []domain.Issue, roster domain.Roster, now time.Time) PeopleReport {
	byAssignee := map[string][]domain.Issue{}
	for _, i := range issues {
		if !i.Active() || i.Assignee == "" { continue }
		byAssignee[i.Assignee] = append(byAssignee[i.Assignee], i)
	}

	var bottlenecks []PersonBottleneck
	var underloaded []UnderloadedPerson
	var totalBlocked float64

	for accountID, load := range byAssignee {
		workload := len(load)
		if workload < OptimalWorkload {
			underloaded = append(underloaded, UnderloadedPerson{
				Person:   personLabel(load),
				Workload: workload,
				Capacity: OptimalWorkload - workload,
			})
			continue
		}
		if workload < BottleneckWorkload { continue }

		role := roster.RoleOf(accountID)
		dailyCost := RoleDailyCost(role)

		var stale []domain.Issue
		var totalStaleDays float64
		for _, i := range load {
			if age, ok := daysSince(i.Updated, now); ok && age >= StaleDays {
				stale = append(stale, i)
				totalStaleDays += age
			}
		}
		var avgStaleDays float64
		if len(stale) > 0 { avgStaleDays = totalStaleDays / float64(len(stale)) }
		blockedValue := float64(len(stale)) * avgStaleDays * dailyCost
		totalBlocked += blockedValue

		burdenPct := float64(workload) / OptimalWorkload * 100

		var reasons []string
		if workload >= CriticalWorkload {
			reasons = append(reasons, fmt.Sprintf("Critically overloaded (%d issues, 3x optimal)", workload))
		} else {
			reasons = append(reasons, fmt.Sprintf("Overloaded (%d issues, 2x optimal)", workload))
		}
		if len(stale) > 5 {
			reasons = append(reasons, fmt.Sprintf("%d issues stale (avg %.0f days)", len(stale), avgStaleDays))
		}
		if nonStale := workload - len(stale); nonStale > 8 {
			reasons = append(reasons, fmt.Sprintf("Too much active work (%d non-stale)", nonStale))
		}

		topStale := ""
		if len(stale) > 0 { topStale = stale[0].Key }

		bottlenecks = append(bottlenecks, PersonBottleneck{
			Person:          personLabel(load),
			AccountID:       accountID,
			Team:            domain.RoleLabel(role),
			Workload:        workload,
			OptimalWorkload: OptimalWorkload,
			BurdenPct:       round1(burdenPct),
			BurdenLevel:     BurdenLevel(burdenPct),
			StaleCount:      len(stale),
			AvgStaleDays:    round1(avgStaleDays),
			BlockedValue:    round0(blockedValue),
			DailyCost:       dailyCost,
			Reasons:         reasons,
			TopStaleIssue:   topStale,
			BlockedProjects: blockedProjects(stale, now),
			Delegation:      delegationRecommendation(workload),
		})
	}

	// Map iteration order is random; fix the ordering so identical input
	// yields an identical report.
	sort.SliceStable(bottlenecks, func(a, b int) bool {
		if bottlenecks[a].BlockedValue != bottlenecks[b].BlockedValue {
			return bottlenecks[a].BlockedValue > bottlenecks[b].BlockedValue
		}
		return bottlenecks[a].Person < bottlenecks[b].Person
	})
	sort.SliceStable(underloaded, func(a, b int) bool {
		if underloaded[a].Capacity != underloaded[b].Capacity {
			return underloaded[a].Capacity > underloaded[b].Capacity
		}
		return underloaded[a].Person < underloaded[b].Person
	})

	report := PeopleReport{
		TotalPeopleBottlenecks:  len(bottlenecks),
		TotalBlockedValue:       round0(totalBlocked),
		DelegationOpportunities: len(bottlenecks) * len(underloaded),
	}
	if len(bottlenecks) > 0 {
		var sum float64
		for _, p := range bottlenecks { sum += p.BurdenPct }
		report.AverageBurden = round1(sum / float64(len(bottlenecks)))
	}
	if len(bottlenecks) > maxPeopleBottlenecks { bottlenecks = bottlenecks[:maxPeopleBottlenecks] }
	if len(underloaded) > maxUnderloaded { underloaded = underloaded[:maxUnderloaded] }
	report.PeopleBottlenecks = bottlenecks
	report.UnderloadedPeople = underloaded
	return report
}

func personLabel(load []domain.Issue) string {
	for _, i := range load {
		if i.AssigneeName != "" { return i.AssigneeName }
	}
	return load[0].Assignee
}

func blockedProjects(stale []domain.Issue, now time.Time) []BlockedProject {
	byProject := map[string]*BlockedProject{}
	for _, i := range stale {
		project := i.Project
		if project == "" { project = "Unknown" }
		bp := byProject[project]
		if bp == nil {
			bp = &BlockedProject{Project: project}
			byProject[project] = bp
		}
		bp.StaleCount++
		if len(bp.IssueKeys) < maxProjectIssueKeys { bp.IssueKeys = append(bp.IssueKeys, i.Key) }
		if age, ok := daysSince(i.Updated, now); ok && age > bp.OldestDays {
			bp.OldestDays = age
			bp.OldestIssue = i.Key
		}
	}
	out := make([]BlockedProject, 0, len(byProject))
	for _, bp := range byProject {
		bp.OldestDays = round0(bp.OldestDays)
		out = append(out, *bp)
	}
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].StaleCount != out[b].StaleCount { return out[a].StaleCount > out[b].StaleCount }
		return out[a].Project < out[b].Project
	})
	if len(out) > maxBlockedProjects { out = out[:maxBlockedProjects] }
	return out
}

func delegationRecommendation(workload int) string {
	excess := workload - OptimalWorkload
	switch {
	case excess >= 10:
		return fmt.Sprintf("URGENT: Delegate %d issues immediately to prevent burnout. Prioritize oldest stale work for reassignment.", excess)
	case excess >= 5:
		return fmt.Sprintf("Delegate %d issues to available team members. Focus on work that can be easily transferred.", excess)
	case excess >= 3:
		return fmt.Sprintf("Consider delegating %d lower-priority issues to balance workload.", excess)
	}
	return "Monitor workload - approaching capacity threshold."
}
