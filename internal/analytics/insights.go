/* Copyright (c) 2025 FlowCost Authors
 * SPDX-License-Identifier: BSD-3-Clause */
package analytics

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/ompatildesigns-ctrl/flowcost/internal/domain"
)

const (
	// Significance thresholds for trend findings.
	VelocityChangeThresholdPct  = 10
	CycleTimeChangeThresholdPct = 15
	StaleGrowthThreshold        = 20

	// RoleEfficiencyGapFactor: one role completing this many times more
	// issues per assigned person than the other is reported as divergence.
	RoleEfficiencyGapFactor = 1.5

	MaxInsights = 10
)

type Insight struct {
	Type           string  `json:"type"`
	Severity       string  `json:"severity"` // positive | critical | insight
	Title          string  `json:"title"`
	Description    string  `json:"description"`
	Insight        string  `json:"insight"`
	Recommendation string  `json:"recommendation"`
	ImpactScore    float64 `json:"impact_score"`
}

// PeriodMetrics is the per-window summary used for period-over-period
// comparison. Never persisted; recomputed per request.
type PeriodMetrics struct {
	Velocity           int
	AvgCycleTime       float64
	StaleCount         int
	ContractorVelocity int
	InternalVelocity   int
	ContractorAssigned int
	InternalAssigned   int
}

// ComputePeriodMetrics summarizes the window [now-(days+offset), now-offset).
func ComputePeriodMetrics(issues []domain.Issue, roster domain.Roster, now time.Time, days, offsetDays int) PeriodMetrics {
	start := now.AddDate(0, 0, -(days + offsetDays))
	end := now.AddDate(0, 0, -offsetDays)

	var m PeriodMetrics
	var completed []domain.Issue
	for _, i := range issues {
		if i.Resolved != nil && !i.Resolved.Before(start) && i.Resolved.Before(end) {
			completed = append(completed, i)
			switch roster.RoleOf(i.Assignee) {
			case domain.RoleContractor:
				m.ContractorVelocity++
			case domain.RoleInternal:
				m.InternalVelocity++
			}
			continue
		}
		if i.Active() && i.Updated != nil && !i.Updated.Before(start) && i.Updated.Before(end) {
			if age, ok := daysSince(i.Updated, now); ok && age >= StaleDays { m.StaleCount++ }
			switch roster.RoleOf(i.Assignee) {
			case domain.RoleContractor:
				m.ContractorAssigned++
			case domain.RoleInternal:
				m.InternalAssigned++
			}
		}
	}
	m.Velocity = len(completed)
	m.AvgCycleTime = AvgCycleTimeDays(completed)
	return m
}

// GenerateInsights compares the current window against the immediately
// preceding one and emits trend findings, ranked by absolute impact and
// capped at MaxInsights.
func GenerateInsights(issues []domain.Issue, roster domain.Roster, days int, now time.Time) []Insight {
	current := ComputePeriodMetrics(issues, roster, now, days, 0)
	previous := ComputePeriodMetrics(issues, roster, now, days*2, days)

	var out []Insight

	if previous.Velocity > 0 {
		change := float64(current.Velocity-previous.Velocity) / float64(previous.Velocity) * 100
		if math.Abs(change) > VelocityChangeThresholdPct {
			direction, severity := "increased", "positive"
			if change < 0 { direction, severity = "decreased", "critical" }
			out = append(out, Insight{
				Type:     "velocity_trend",
				Severity: severity,
				Title:    fmt.Sprintf("Velocity %s %.0f%%", direction, math.Abs(change)),
				Description: fmt.Sprintf("Your team completed %d issues this period vs %d last period.",
					current.Velocity, previous.Velocity),
				Insight:        explainVelocityChange(change, current, previous),
				Recommendation: recommendVelocityAction(change),
				ImpactScore:    math.Abs(change),
			})
		}
	}

	if previous.AvgCycleTime > 0 {
		change := (current.AvgCycleTime - previous.AvgCycleTime) / previous.AvgCycleTime * 100
		if math.Abs(change) > CycleTimeChangeThresholdPct {
			direction, severity := "increased", "critical"
			if change < 0 { direction, severity = "decreased", "positive" }
			out = append(out, Insight{
				Type:     "cycle_time_trend",
				Severity: severity,
				Title:    fmt.Sprintf("Cycle time %s %.0f%%", direction, math.Abs(change)),
				Description: fmt.Sprintf("Average time to complete work is now %.1f days (was %.1f).",
					current.AvgCycleTime, previous.AvgCycleTime),
				Insight:        explainCycleTimeChange(change),
				Recommendation: recommendCycleTimeAction(change),
				ImpactScore:    math.Abs(change),
			})
		}
	}

	if growth := current.StaleCount - previous.StaleCount; growth > StaleGrowthThreshold {
		out = append(out, Insight{
			Type:     "stale_growth",
			Severity: "critical",
			Title:    fmt.Sprintf("Stale work growing (%d new in last period)", growth),
			Description: fmt.Sprintf("You now have %d stale issues (%d+ days no update), up from %d.",
				current.StaleCount, StaleDays, previous.StaleCount),
			Insight: "Pattern suggests: the team is starting more work than it can finish, or priorities are shifting and work is being abandoned.",
			Recommendation: fmt.Sprintf("Immediately archive the %d oldest stale issues to free team capacity, then address the root cause (likely overcommitment or unclear priorities).",
				int(float64(growth)*0.3)),
			ImpactScore: float64(growth),
		})
	}

	if div := roleEfficiencyDivergence(current); div != nil { out = append(out, *div) }

	sort.SliceStable(out, func(a, b int) bool { return out[a].ImpactScore > out[b].ImpactScore })
	if len(out) > MaxInsights { out = out[:MaxInsights] }
	return out
}

func roleEfficiencyDivergence(m PeriodMetrics) *Insight {
	if m.ContractorVelocity == 0 || m.InternalVelocity == 0 { return nil }
	cEff := float64(m.ContractorVelocity) / float64(max(m.ContractorAssigned, 1))
	iEff := float64(m.InternalVelocity) / float64(max(m.InternalAssigned, 1))

	switch {
	case cEff > iEff*RoleEfficiencyGapFactor:
		return &Insight{
			Type:     "team_efficiency",
			Severity: "insight",
			Title:    "Contractors 50%+ more efficient than internal team",
			Description: fmt.Sprintf("Contractors complete %.1f issues per active person vs %.1f for the internal team.",
				cEff, iEff),
			Insight: "Pattern suggests: contractors may have fewer distractions, clearer focus, or different skill alignment with assigned work.",
			Recommendation: fmt.Sprintf("Consider shifting %d issues from the internal team to contractors to optimize overall throughput.",
				int(float64(m.InternalAssigned)*0.2)),
			ImpactScore: 30,
		}
	case iEff > cEff*RoleEfficiencyGapFactor:
		return &Insight{
			Type:     "team_efficiency",
			Severity: "insight",
			Title:    "Internal team 50%+ more efficient than contractors",
			Description: fmt.Sprintf("The internal team completes %.1f issues per active person vs %.1f for contractors.",
				iEff, cEff),
			Insight:        "Pattern suggests: contractor work may be blocked on context, access, or review turnaround.",
			Recommendation: "Audit contractor-assigned issues for missing context and review latency before adding more work.",
			ImpactScore:    30,
		}
	}
	return nil
}

func explainVelocityChange(changePct float64, current, previous PeriodMetrics) string {
	switch {
	case changePct < -20:
		return fmt.Sprintf("Sharp decline from %d to %d issues suggests reduced capacity, shifted priorities, or new external blockers. Check for team changes, process changes, or dependency bottlenecks.",
			previous.Velocity, current.Velocity)
	case changePct > 20:
		return fmt.Sprintf("Strong improvement from %d to %d issues suggests efficiency gains, removed blockers, or increased focus. Sustain by documenting what changed.",
			previous.Velocity, current.Velocity)
	}
	return fmt.Sprintf("Stable velocity around %d issues per period indicates consistent team performance.", current.Velocity)
}

func recommendVelocityAction(changePct float64) string {
	switch {
	case changePct < -20:
		return fmt.Sprintf("URGENT: Investigate root cause of %.0f%% velocity decline. Interview the team to identify blockers. Consider reducing WIP or adding temporary capacity.", math.Abs(changePct))
	case changePct > 20:
		return "Capitalize on momentum: document what's working and share it. Consider taking on higher-value work now that capacity exists."
	}
	return "Maintain current practices. Monitor for early signs of degradation."
}

func explainCycleTimeChange(changePct float64) string {
	if changePct > CycleTimeChangeThresholdPct {
		return fmt.Sprintf("Cycle time increased %.0f%%, indicating work takes longer to complete. Likely causes: increased complexity, more handoffs, skill gaps, or external dependencies. Check review backlog, QA bottlenecks, or blocked issues.", changePct)
	}
	return fmt.Sprintf("Cycle time improved %.0f%%, indicating work is flowing faster. Sustain by maintaining current focus and process discipline.", math.Abs(changePct))
}

func recommendCycleTimeAction(changePct float64) string {
	if changePct > CycleTimeChangeThresholdPct {
		return "Focus on reducing handoffs between teams, limiting WIP to force completion, and pairing on complex work. Target: return cycle time to the previous baseline within 30 days."
	}
	return "Keep doing what's working. Document the process improvements that led to faster cycle time."
}
