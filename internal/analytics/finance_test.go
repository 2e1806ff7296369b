/* Copyright (c) 2025 FlowCost Authors
 * SPDX-License-Identifier: BSD-3-Clause */
package analytics

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ompatildesigns-ctrl/flowcost/internal/domain"
)

var testRoster = domain.Roster{
	"acc-contractor": domain.RoleContractor,
	"acc-internal":   domain.RoleInternal,
}

func TestPriorityMultiplier(t *testing.T) {
	require.Equal(t, 10.0, PriorityMultiplier("Highest"))
	require.Equal(t, 5.0, PriorityMultiplier("High"))
	require.Equal(t, 2.0, PriorityMultiplier("Medium"))
	require.Equal(t, 1.0, PriorityMultiplier("Low"))
	require.Equal(t, 1.0, PriorityMultiplier("Lowest"))
	// Unknown priorities inherit Medium's weight.
	require.Equal(t, 2.0, PriorityMultiplier(""))
	require.Equal(t, 2.0, PriorityMultiplier("Blocker"))
}

func TestRoleDailyCost(t *testing.T) {
	require.Equal(t, 160.0, RoleDailyCost(domain.RoleContractor))
	require.Equal(t, 280.0, RoleDailyCost(domain.RoleInternal))
	require.Equal(t, 220.0, RoleDailyCost(domain.RoleUnknown))
}

func TestCostOfDelayStaleBucket(t *testing.T) {
	i := activeIssue("X-1", "In Progress", 20)
	i.Assignee = "acc-internal"
	i.Priority = "High"

	report := CostOfDelay([]domain.Issue{i}, testRoster, 90, testNow)
	require.Equal(t, 1, report.TotalIssuesAnalyzed)
	require.Equal(t, 1, report.Stale.Count)
	require.Zero(t, report.Unassigned.Count)
	require.Zero(t, report.Waiting.Count)

	// internal rate x 20 days stale x High multiplier
	want := 280.0 * 20 * 5
	require.InDelta(t, want, report.Stale.TotalCost, 1)
	require.InDelta(t, want, report.TotalCostOfDelay, 1)
	require.InDelta(t, want/90, report.DailyBurnRate, 1)
}

func TestCostOfDelayBucketsAreAdditive(t *testing.T) {
	// One issue that is simultaneously stale and waiting contributes twice.
	i := activeIssue("X-1", "Blocked", 20)
	i.Assignee = "acc-contractor"
	i.Priority = "Low"

	report := CostOfDelay([]domain.Issue{i}, testRoster, 90, testNow)
	require.Equal(t, 1, report.Stale.Count)
	require.Equal(t, 1, report.Waiting.Count)
	perBucket := 160.0 * 20 * 1
	require.InDelta(t, 2*perBucket, report.TotalCostOfDelay, 1)
}

func TestCostOfDelayUnassignedUsesBlendedRate(t *testing.T) {
	i := domain.Issue{Key: "X-1", Status: "To Do", Priority: "Medium", Created: daysAgo(10), Updated: daysAgo(1)}
	report := CostOfDelay([]domain.Issue{i}, testRoster, 90, testNow)
	require.Equal(t, 1, report.Unassigned.Count)
	require.InDelta(t, BlendedDailyCost*10*2, report.Unassigned.TotalCost, 1)
	require.Equal(t, "Unassigned", report.Unassigned.TopIssues[0].Assignee)
}

func TestCostOfDelayWindowFilter(t *testing.T) {
	old := activeIssue("X-OLD", "In Progress", 120)
	old.Created = daysAgo(200)
	recent := activeIssue("X-NEW", "In Progress", 20)
	recent.Assignee = "acc-internal"

	report := CostOfDelay([]domain.Issue{old, recent}, testRoster, 90, testNow)
	require.Equal(t, 1, report.TotalIssuesAnalyzed)
	require.Equal(t, "X-NEW", report.Stale.TopIssues[0].Key)
}

func TestCostOfDelaySkipsResolvedIssues(t *testing.T) {
	report := CostOfDelay([]domain.Issue{resolvedIssue("X-1", 30, 20)}, testRoster, 90, testNow)
	require.Zero(t, report.TotalIssuesAnalyzed)
	require.Zero(t, report.TotalCostOfDelay)
}

func TestTeamROI(t *testing.T) {
	c := resolvedIssue("C-1", 10, 0) // 10 day cycle
	c.Assignee = "acc-contractor"
	i := resolvedIssue("I-1", 10, 0)
	i.Assignee = "acc-internal"

	report := TeamROI([]domain.Issue{c, i}, testRoster, 90, testNow)

	contractor := report.Teams[string(domain.RoleContractor)]
	require.Equal(t, 1, contractor.IssuesCompleted)
	require.InDelta(t, 1600, contractor.TotalCost, 1)
	require.InDelta(t, 6560, contractor.ValueDelivered, 1)
	// (6560 - 1600) / 1600 x 100 = 310%
	require.InDelta(t, 310, contractor.ROIPct, 0.1)

	internal := report.Teams[string(domain.RoleInternal)]
	// (6560 - 2800) / 2800 x 100 ~ 134.3%
	require.InDelta(t, 134.3, internal.ROIPct, 0.1)
}

func TestTeamROIZeroCompletedYieldsZero(t *testing.T) {
	report := TeamROI(nil, testRoster, 90, testNow)
	require.Zero(t, report.Teams[string(domain.RoleContractor)].ROIPct)
	require.Zero(t, report.Teams[string(domain.RoleInternal)].ROIPct)
	require.Empty(t, report.Insights)
}

func TestOpportunityCost(t *testing.T) {
	report := OpportunityCost(10, 100, 90)
	require.InDelta(t, 10*RevenuePerContributorDaily*90, report.PotentialRevenue, 1)
	require.InDelta(t, 100*RevenuePerContributorDaily*3, report.ActualRevenue, 1)
	require.InDelta(t, report.PotentialRevenue-report.ActualRevenue, report.OpportunityCost, 1)
	require.InDelta(t, 33.3, report.UtilizationRate, 0.1)
	require.NotEmpty(t, report.Insights)
}

func TestOpportunityCostNoContributors(t *testing.T) {
	report := OpportunityCost(0, 0, 90)
	require.Zero(t, report.UtilizationRate)
	require.Zero(t, report.PotentialRevenue)
}

func TestBottleneckImpactRanksCategories(t *testing.T) {
	cod := CostOfDelayReport{
		PeriodDays:       30,
		TotalCostOfDelay: 6000,
		Stale:            CostBucket{Count: 2, TotalCost: 1000},
		Unassigned:       CostBucket{Count: 1, TotalCost: 3000},
		Waiting:          CostBucket{Count: 4, TotalCost: 2000},
	}
	impact := BottleneckImpact(cod)
	require.Len(t, impact.RankedBottlenecks, 3)
	require.Equal(t, "Unassigned Issues", impact.RankedBottlenecks[0].Category)
	require.Equal(t, "Waiting Blocked Issues", impact.RankedBottlenecks[1].Category)
	require.Equal(t, "Stale Issues", impact.RankedBottlenecks[2].Category)
	require.InDelta(t, 500, impact.RankedBottlenecks[2].AvgCostPerIssue, 1e-9)
	require.Len(t, impact.QuickWins, 3)
}

func TestBuildFinancialSummary(t *testing.T) {
	stale := activeIssue("X-1", "In Progress", 20)
	stale.Assignee = "acc-internal"
	done := resolvedIssue("X-2", 10, 5)
	done.Assignee = "acc-contractor"

	s := BuildFinancialSummary([]domain.Issue{stale, done}, testRoster, 5, testNow)
	require.NotZero(t, s.CostOfDelay30d.Total)
	require.NotZero(t, s.CostOfDelay90d.Total)
	require.Contains(t, s.TeamROI, string(domain.RoleContractor))
	require.Len(t, s.QuickWins, 3)
	require.Equal(t, s.CostOfDelay30d.Total, s.TotalRecoverableValue)
}
