/* Copyright (c) 2025 FlowCost Authors
 * SPDX-License-Identifier: BSD-3-Clause */
package analytics

import (
	"fmt"
	"sort"
	"time"

	"github.com/ompatildesigns-ctrl/flowcost/internal/domain"
)

type Severity string

const (
	SeverityCritical Severity = "Critical"
	SeverityHigh     Severity = "High"
	SeverityMedium   Severity = "Medium"
)

const (
	// DelayCostPerDay is the flat per-issue daily cost used by the rule
	// engine's impact formulas.
	DelayCostPerDay = 500

	// Assumed days of delay attributed per issue by each rule.
	HandoffImpactDays  = 10
	CapacityImpactDays = 7
	StaleImpactDays    = 20

	// Stale-work rule trigger counts (strict on stale, strict on unassigned).
	StaleRuleStaleCount      = 50
	StaleRuleUnassignedCount = 20

	maxTopBottlenecks = 3
)

type Finding struct {
	Type            string   `json:"type"`
	Severity        Severity `json:"severity"`
	Narrative       string   `json:"narrative"`
	FinancialImpact float64  `json:"financial_impact"`
	AffectedIssues  int      `json:"affected_issues"`
	Action          string   `json:"action"`
	ActionEndpoint  string   `json:"action_endpoint"`
}

// MetricsSnapshot is always returned alongside findings so callers can see
// the inputs even when no rule fired.
type MetricsSnapshot struct {
	FlowEfficiencyPct float64 `json:"flow_efficiency_pct"`
	WIP               int     `json:"wip"`
	AvgCycleTimeDays  float64 `json:"avg_cycle_time_days"`
	WaitingRatioPct   float64 `json:"waiting_ratio_pct"`
}

type BottleneckReport struct {
	Timestamp        time.Time       `json:"timestamp"`
	PeriodDays       int             `json:"period_days"`
	BottlenecksFound int             `json:"bottlenecks_found"`
	TopBottlenecks   []Finding       `json:"top_bottlenecks"`
	Metrics          MetricsSnapshot `json:"metrics"`
}

// ruleInputs carries the calculator outputs the rules act on. All calculators
// observe the same snapshot, so the inputs are mutually consistent.
type ruleInputs struct {
	FlowEfficiency float64
	WIP            WIPAnalysis
	Spike          CycleSpike
	Waiting        WaitingAnalysis
	Stale          StaleAnalysis
}

func evaluateRules(in ruleInputs) []Finding {
	var findings []Finding

	if in.Waiting.Ratio > WaitingRatioThreshold && in.FlowEfficiency < HandoffFlowEfficiencyCeiling {
		impact := float64(in.Waiting.WaitingCount) * DelayCostPerDay * HandoffImpactDays
		findings = append(findings, Finding{
			Type:     "Handoff Bottleneck",
			Severity: SeverityCritical,
			Narrative: fmt.Sprintf("%d of %d active issues (%.0f%%) are parked in waiting states while flow efficiency sits at %.0f%%. Work is queuing between people faster than it moves.",
				in.Waiting.WaitingCount, in.Waiting.TotalCount, in.Waiting.Ratio*100, in.FlowEfficiency*100),
			FinancialImpact: impact,
			AffectedIssues:  in.Waiting.WaitingCount,
			Action:          "Review handoff queue",
			ActionEndpoint:  "/api/analytics/bottlenecks",
		})
	}

	if in.WIP.Overload && in.Spike.Spiking {
		impact := float64(in.WIP.Count) * DelayCostPerDay * CapacityImpactDays
		findings = append(findings, Finding{
			Type:     "Capacity Bottleneck",
			Severity: SeverityHigh,
			Narrative: fmt.Sprintf("%d issues are in flight (capacity threshold %d) and cycle time is up %.0f%% versus the prior quarter (%.1fd vs %.1fd). The team is absorbing more than it can finish.",
				in.WIP.Count, WIPOverloadThreshold, in.Spike.IncreasePct, in.Spike.RecentAvg, in.Spike.HistoricalAvg),
			FinancialImpact: impact,
			AffectedIssues:  in.WIP.Count,
			Action:          "Freeze intake until WIP recovers",
			ActionEndpoint:  "/api/people/bottlenecks",
		})
	}

	if in.Stale.StaleCount > StaleRuleStaleCount || in.Stale.UnassignedCount > StaleRuleUnassignedCount {
		impact := float64(in.Stale.StaleCount) * DelayCostPerDay * StaleImpactDays
		findings = append(findings, Finding{
			Type:     "Stale-Work Bottleneck",
			Severity: SeverityHigh,
			Narrative: fmt.Sprintf("%d issues have gone more than %d days without an update and %d have no assignee. Forgotten work accrues cost silently.",
				in.Stale.StaleCount, StaleDays, in.Stale.UnassignedCount),
			FinancialImpact: impact,
			AffectedIssues:  in.Stale.StaleCount + in.Stale.UnassignedCount,
			Action:          "Triage stale and unassigned issues",
			ActionEndpoint:  "/api/financial/cost-of-delay",
		})
	}

	sort.SliceStable(findings, func(a, b int) bool { return findings[a].FinancialImpact > findings[b].FinancialImpact })
	return findings
}

// FindBottlenecks evaluates the threshold rules over one issue snapshot.
// Findings are ranked by financial impact descending and capped at three;
// the metric snapshot is returned regardless of whether any rule fired.
func FindBottlenecks(issues []domain.Issue, days int, now time.Time) BottleneckReport {
	active, resolved := splitActive(issues)

	in := ruleInputs{
		FlowEfficiency: FlowEfficiency(resolved),
		WIP:            CalcWIP(active),
		Spike:          DetectCycleTimeSpike(issues, now),
		Waiting:        CalcWaiting(active),
		Stale:          AnalyzeStaleWork(active, now),
	}
	findings := evaluateRules(in)

	top := findings
	if len(top) > maxTopBottlenecks { top = top[:maxTopBottlenecks] }

	return BottleneckReport{
		Timestamp:        now,
		PeriodDays:       days,
		BottlenecksFound: len(findings),
		TopBottlenecks:   top,
		Metrics: MetricsSnapshot{
			FlowEfficiencyPct: in.FlowEfficiency * 100,
			WIP:               in.WIP.Count,
			AvgCycleTimeDays:  AvgCycleTimeDays(resolved),
			WaitingRatioPct:   in.Waiting.Ratio * 100,
		},
	}
}
