/* Copyright (c) 2025 FlowCost Authors
 * SPDX-License-Identifier: BSD-3-Clause */
package analytics

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ompatildesigns-ctrl/flowcost/internal/domain"
)

// completedAt returns n issues resolved at the given age with 5-day cycles.
func completedAt(prefix string, n int, resolvedDaysAgo float64, assignee string) []domain.Issue {
	out := make([]domain.Issue, n)
	for k := range out {
		i := resolvedIssue(fmt.Sprintf("%s-%d", prefix, k), resolvedDaysAgo+5, resolvedDaysAgo)
		i.Assignee = assignee
		out[k] = i
	}
	return out
}

func TestComputePeriodMetricsWindows(t *testing.T) {
	issues := append(completedAt("CUR", 3, 10, "acc-contractor"), completedAt("PREV", 2, 40, "acc-internal")...)
	issues = append(issues, activeIssue("A-1", "In Progress", 20))

	current := ComputePeriodMetrics(issues, testRoster, testNow, 30, 0)
	require.Equal(t, 3, current.Velocity)
	require.Equal(t, 3, current.ContractorVelocity)
	require.Equal(t, 1, current.StaleCount)
	require.InDelta(t, 5.0, current.AvgCycleTime, 1e-9)

	previous := ComputePeriodMetrics(issues, testRoster, testNow, 60, 30)
	require.Equal(t, 2, previous.Velocity)
	require.Equal(t, 2, previous.InternalVelocity)
}

func TestVelocityDeclineInsight(t *testing.T) {
	issues := append(completedAt("CUR", 5, 10, "acc-x"), completedAt("PREV", 10, 40, "acc-x")...)

	insights := GenerateInsights(issues, testRoster, 30, testNow)
	require.NotEmpty(t, insights)
	v := insights[0]
	require.Equal(t, "velocity_trend", v.Type)
	require.Equal(t, "critical", v.Severity)
	require.Equal(t, "Velocity decreased 50%", v.Title)
	require.InDelta(t, 50, v.ImpactScore, 1e-9)
}

func TestVelocityImprovementIsPositive(t *testing.T) {
	issues := append(completedAt("CUR", 15, 10, "acc-x"), completedAt("PREV", 10, 40, "acc-x")...)

	insights := GenerateInsights(issues, testRoster, 30, testNow)
	require.NotEmpty(t, insights)
	require.Equal(t, "positive", insights[0].Severity)
}

func TestSmallVelocityChangeIsNoise(t *testing.T) {
	// 10 -> 11 is a 10% change: at the threshold, not over it.
	issues := append(completedAt("CUR", 11, 10, "acc-x"), completedAt("PREV", 10, 40, "acc-x")...)
	for _, in := range GenerateInsights(issues, testRoster, 30, testNow) {
		require.NotEqual(t, "velocity_trend", in.Type)
	}
}

func TestCycleTimeRegressionInsight(t *testing.T) {
	// Same velocity both periods, but current cycles are twice as long.
	var issues []domain.Issue
	for k := 0; k < 5; k++ {
		cur := resolvedIssue(fmt.Sprintf("CUR-%d", k), 20, 10) // 10 day cycle
		prev := resolvedIssue(fmt.Sprintf("PREV-%d", k), 45, 40) // 5 day cycle
		issues = append(issues, cur, prev)
	}
	insights := GenerateInsights(issues, testRoster, 30, testNow)
	var found *Insight
	for k := range insights {
		if insights[k].Type == "cycle_time_trend" { found = &insights[k] }
	}
	require.NotNil(t, found)
	require.Equal(t, "critical", found.Severity)
	require.InDelta(t, 100, found.ImpactScore, 1e-9)
}

func TestStaleGrowthInsight(t *testing.T) {
	var issues []domain.Issue
	for k := 0; k < 25; k++ {
		issues = append(issues, activeIssue(fmt.Sprintf("S-%d", k), "In Progress", 15))
	}
	// Anchor both windows with completed work so the comparison runs.
	issues = append(issues, completedAt("CUR", 5, 10, "acc-x")...)
	issues = append(issues, completedAt("PREV", 5, 40, "acc-x")...)

	insights := GenerateInsights(issues, testRoster, 30, testNow)
	var found *Insight
	for k := range insights {
		if insights[k].Type == "stale_growth" { found = &insights[k] }
	}
	require.NotNil(t, found)
	require.Equal(t, "critical", found.Severity)
	require.InDelta(t, 25, found.ImpactScore, 1e-9)
}

func TestRoleEfficiencyDivergence(t *testing.T) {
	m := PeriodMetrics{
		ContractorVelocity: 10, ContractorAssigned: 2, // 5.0 per person
		InternalVelocity: 4, InternalAssigned: 4, // 1.0 per person
	}
	in := roleEfficiencyDivergence(m)
	require.NotNil(t, in)
	require.Equal(t, "team_efficiency", in.Type)
	require.Equal(t, "insight", in.Severity)
	require.InDelta(t, 30, in.ImpactScore, 1e-9)

	// Requires completions on both sides.
	m.InternalVelocity = 0
	require.Nil(t, roleEfficiencyDivergence(m))
}

func TestInsightsRankedAndCapped(t *testing.T) {
	issues := append(completedAt("CUR", 2, 10, "acc-x"), completedAt("PREV", 10, 40, "acc-x")...)
	insights := GenerateInsights(issues, testRoster, 30, testNow)
	require.LessOrEqual(t, len(insights), MaxInsights)
	for k := 1; k < len(insights); k++ {
		require.GreaterOrEqual(t, insights[k-1].ImpactScore, insights[k].ImpactScore)
	}
}
