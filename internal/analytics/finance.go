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

// Cost model assumptions. Rates are fully-loaded daily figures.
const (
	ContractorDailyCost float64 = 160 // $20/h x 8h
	InternalDailyCost   float64 = 280 // $35/h x 8h
	BlendedDailyCost    float64 = (ContractorDailyCost + InternalDailyCost) / 2

	// RevenuePerContributorDaily = $164K annual revenue per contributor over
	// 250 working days.
	RevenuePerContributorDaily float64 = 164000.0 / 250

	// AvgIssueDays is the assumed average delivery time per completed issue,
	// used to estimate value actually realized.
	AvgIssueDays = 3

	maxBucketDetail = 15
)

// priorityMultipliers follow WSJF-style weighting. Unknown priorities get
// Medium's weight.
var priorityMultipliers = map[string]float64{
	"Highest": 10,
	"High":    5,
	"Medium":  2,
	"Low":     1,
	"Lowest":  1,
}

func PriorityMultiplier(priority string) float64 {
	if m, ok := priorityMultipliers[priority]; ok { return m }
	return priorityMultipliers["Medium"]
}

// RoleDailyCost maps a roster role to its daily rate; unknown roles get the
// blended rate.
func RoleDailyCost(role domain.Role) float64 {
	switch role {
	case domain.RoleContractor:
		return ContractorDailyCost
	case domain.RoleInternal:
		return InternalDailyCost
	}
	return BlendedDailyCost
}

type CostDetail struct {
	Key      string  `json:"key"`
	Summary  string  `json:"summary"`
	Status   string  `json:"status,omitempty"`
	Assignee string  `json:"assignee"`
	Priority string  `json:"priority"`
	Team     string  `json:"team"`
	Days     float64 `json:"days"`
	Cost     float64 `json:"cost_of_delay"`
}

type CostBucket struct {
	Count     int          `json:"count"`
	TotalCost float64      `json:"total_cost"`
	TopIssues []CostDetail `json:"top_issues"`
}

type CostAssumptions struct {
	ContractorDaily float64 `json:"contractor_daily"`
	InternalDaily   float64 `json:"internal_daily"`
	BlendedDaily    float64 `json:"blended_daily"`
}

type CostOfDelayReport struct {
	PeriodDays          int             `json:"period_days"`
	TotalCostOfDelay    float64         `json:"total_cost_of_delay"`
	TotalIssuesAnalyzed int             `json:"total_issues_analyzed"`
	Stale               CostBucket      `json:"stale_issues"`
	Unassigned          CostBucket      `json:"unassigned_issues"`
	Waiting             CostBucket      `json:"waiting_blocked_issues"`
	DailyBurnRate       float64         `json:"daily_burn_rate"`
	Insights            []string        `json:"insights"`
	Assumptions         CostAssumptions `json:"cost_assumptions"`
}

func truncate(s string, n int) string {
	if len(s) > n { return s[:n] }
	return s
}

func assigneeLabel(i domain.Issue) string {
	if i.Assignee == "" { return "Unassigned" }
	if i.AssigneeName != "" { return i.AssigneeName }
	return i.Assignee
}

func priorityLabel(p string) string {
	if p == "" { return "Medium" }
	return p
}

// CostOfDelay prices the active issues touched inside the window. Buckets are
// intentionally additive: an issue that is both stale and waiting contributes
// to both, since each bucket answers its own "what if we fixed this" question.
// Accumulation is full precision; only the reported figures are rounded.
func CostOfDelay(issues []domain.Issue, roster domain.Roster, days int, now time.Time) CostOfDelayReport {
	cutoff := now.AddDate(0, 0, -days)

	var staleCost, unassignedCost, waitingCost float64
	var staleDetail, unassignedDetail, waitingDetail []CostDetail
	analyzed := 0

	for _, i := range issues {
		if !i.Active() { continue }
		inWindow := (i.Created != nil && !i.Created.Before(cutoff)) || (i.Updated != nil && !i.Updated.Before(cutoff))
		if !inWindow { continue }
		analyzed++

		role := roster.RoleOf(i.Assignee)
		dailyCost := RoleDailyCost(role)
		if i.Assignee == "" { dailyCost = BlendedDailyCost }
		mult := PriorityMultiplier(i.Priority)
		teamLabel := domain.RoleLabel(role)
		if i.Assignee == "" { teamLabel = "Unassigned" }

		if age, ok := daysSince(i.Updated, now); ok && age >= StaleDays {
			cost := dailyCost * age * mult
			staleCost += cost
			staleDetail = append(staleDetail, CostDetail{
				Key: i.Key, Summary: truncate(i.Summary, 60), Assignee: assigneeLabel(i),
				Priority: priorityLabel(i.Priority), Team: teamLabel,
				Days: round1(age), Cost: round0(cost),
			})
		}

		if i.Assignee == "" {
			if age, ok := daysSince(i.Created, now); ok {
				cost := BlendedDailyCost * age * mult
				unassignedCost += cost
				unassignedDetail = append(unassignedDetail, CostDetail{
					Key: i.Key, Summary: truncate(i.Summary, 60), Assignee: "Unassigned",
					Priority: priorityLabel(i.Priority), Team: "Unassigned",
					Days: round1(age), Cost: round0(cost),
				})
			}
		}

		if IsWaitingStatus(i.Status) {
			if age, ok := daysSince(i.Updated, now); ok {
				cost := dailyCost * age * mult
				waitingCost += cost
				waitingDetail = append(waitingDetail, CostDetail{
					Key: i.Key, Summary: truncate(i.Summary, 60), Status: i.Status,
					Assignee: assigneeLabel(i), Priority: priorityLabel(i.Priority), Team: teamLabel,
					Days: round1(age), Cost: round0(cost),
				})
			}
		}
	}

	total := staleCost + unassignedCost + waitingCost

	var insights []string
	if total > 1_000_000 {
		insights = append(insights, fmt.Sprintf("CRITICAL: $%.1fM in preventable costs identified", total/1_000_000))
	} else if total > 500_000 {
		insights = append(insights, fmt.Sprintf("HIGH IMPACT: $%.0fK in preventable costs", total/1000))
	}
	switch {
	case staleCost > unassignedCost && staleCost > waitingCost:
		insights = append(insights, fmt.Sprintf("Biggest opportunity: $%.0fK from %d stale issues", staleCost/1000, len(staleDetail)))
	case unassignedCost > waitingCost:
		insights = append(insights, fmt.Sprintf("Biggest opportunity: $%.0fK from %d unassigned issues", unassignedCost/1000, len(unassignedDetail)))
	default:
		insights = append(insights, fmt.Sprintf("Biggest opportunity: $%.0fK from %d waiting/blocked issues", waitingCost/1000, len(waitingDetail)))
	}

	return CostOfDelayReport{
		PeriodDays:          days,
		TotalCostOfDelay:    round0(total),
		TotalIssuesAnalyzed: analyzed,
		Stale:               bucket(staleDetail, staleCost),
		Unassigned:          bucket(unassignedDetail, unassignedCost),
		Waiting:             bucket(waitingDetail, waitingCost),
		DailyBurnRate:       round0(total / float64(max(days, 1))),
		Insights:            insights,
		Assumptions: CostAssumptions{
			ContractorDaily: ContractorDailyCost,
			InternalDaily:   InternalDailyCost,
			BlendedDaily:    BlendedDailyCost,
		},
	}
}

func bucket(detail []CostDetail, total float64) CostBucket {
	sort.SliceStable(detail, func(a, b int) bool { return detail[a].Cost > detail[b].Cost })
	top := detail
	if len(top) > maxBucketDetail { top = top[:maxBucketDetail] }
	return CostBucket{Count: len(detail), TotalCost: round0(total), TopIssues: top}
}

type RoleROI struct {
	TeamLabel       string  `json:"team_label"`
	IssuesCompleted int     `json:"issues_completed"`
	TotalCost       float64 `json:"total_cost"`
	ValueDelivered  float64 `json:"value_delivered"`
	ROIPct          float64 `json:"roi_percentage"`
	CostPerIssue    float64 `json:"cost_per_issue"`
	ValuePerIssue   float64 `json:"value_per_issue"`
}

type TeamROIReport struct {
	PeriodDays int                `json:"period_days"`
	Teams      map[string]RoleROI `json:"team_roi"`
	Insights   []string           `json:"insights"`
}

// TeamROI computes per-role return on the window's completed issues.
// ROI = (value - cost) / cost x 100; a role with no completed cost yields 0.
func TeamROI(issues []domain.Issue, roster domain.Roster, days int, now time.Time) TeamROIReport {
	cutoff := now.AddDate(0, 0, -days)

	type acc struct {
		completed   int
		cost, value float64
	}
	stats := map[domain.Role]*acc{
		domain.RoleContractor: {},
		domain.RoleInternal:   {},
	}

	for _, i := range issues {
		if i.Resolved == nil || i.Resolved.Before(cutoff) { continue }
		if i.Assignee == "" { continue }
		role := roster.RoleOf(i.Assignee)
		a, ok := stats[role]
		if !ok { continue }
		cycle, ok := cycleDays(i)
		if !ok { continue }
		a.completed++
		a.cost += RoleDailyCost(role) * cycle
		a.value += RevenuePerContributorDaily * cycle
	}

	teams := make(map[string]RoleROI, len(stats))
	for role, a := range stats {
		var roi float64
		if a.cost > 0 { roi = (a.value - a.cost) / a.cost * 100 }
		r := RoleROI{
			TeamLabel:       domain.RoleLabel(role),
			IssuesCompleted: a.completed,
			TotalCost:       round0(a.cost),
			ValueDelivered:  round0(a.value),
			ROIPct:          round1(roi),
		}
		if a.completed > 0 {
			r.CostPerIssue = round0(a.cost / float64(a.completed))
			r.ValuePerIssue = round0(a.value / float64(a.completed))
		}
		teams[string(role)] = r
	}

	var insights []string
	cROI := teams[string(domain.RoleContractor)].ROIPct
	iROI := teams[string(domain.RoleInternal)].ROIPct
	switch {
	case iROI > 0 && cROI > iROI*1.5:
		insights = append(insights,
			fmt.Sprintf("Contractors deliver %.1fx better ROI than the internal team", cROI/iROI),
			"Consider shifting more work to contractors for improved cost efficiency")
	case cROI > 0 && iROI > cROI*1.5:
		insights = append(insights, fmt.Sprintf("Internal team delivers %.1fx better ROI than contractors", iROI/cROI))
	}

	return TeamROIReport{PeriodDays: days, Teams: teams, Insights: insights}
}

type OpportunityReport struct {
	PeriodDays        int      `json:"period_days"`
	TotalContributors int      `json:"total_contributors"`
	PotentialRevenue  float64  `json:"potential_revenue"`
	ActualRevenue     float64  `json:"actual_revenue"`
	OpportunityCost   float64  `json:"opportunity_cost"`
	UtilizationRate   float64  `json:"utilization_rate"`
	Insights          []string `json:"insights"`
}

// OpportunityCost compares the revenue the roster could generate over the
// window against the value implied by completed issue count.
func OpportunityCost(contributors, completedIssues, days int) OpportunityReport {
	potential := float64(contributors) * RevenuePerContributorDaily * float64(days)
	actual := float64(completedIssues) * RevenuePerContributorDaily * AvgIssueDays
	opp := potential - actual

	var util float64
	if potential > 0 { util = actual / potential * 100 }

	var insights []string
	switch {
	case util < 50:
		insights = append(insights, fmt.Sprintf("CRITICAL: Only %.0f%% team utilization - $%.1fM opportunity loss", util, opp/1_000_000))
	case util < 70:
		insights = append(insights, fmt.Sprintf("Warning: %.0f%% team utilization - significant improvement potential", util))
	default:
		insights = append(insights, fmt.Sprintf("Good: %.0f%% team utilization", util))
	}

	return OpportunityReport{
		PeriodDays:        days,
		TotalContributors: contributors,
		PotentialRevenue:  round0(potential),
		ActualRevenue:     round0(actual),
		OpportunityCost:   round0(opp),
		UtilizationRate:   round1(util),
		Insights:          insights,
	}
}

type RankedBottleneck struct {
	Category          string  `json:"category"`
	Count             int     `json:"count"`
	TotalCost         float64 `json:"total_cost"`
	AvgCostPerIssue   float64 `json:"avg_cost_per_issue"`
	RecoveryPotential float64 `json:"recovery_potential"`
}

type QuickWin struct {
	Action            string  `json:"action"`
	RecoveryPotential float64 `json:"recovery_potential"`
	Effort            string  `json:"effort"`
	ROI               string  `json:"roi"`
}

type ImpactReport struct {
	PeriodDays          int                `json:"period_days"`
	TotalBottleneckCost float64            `json:"total_bottleneck_cost"`
	RankedBottlenecks   []RankedBottleneck `json:"ranked_bottlenecks"`
	QuickWins           []QuickWin         `json:"quick_wins"`
}

// BottleneckImpact re-ranks a cost-of-delay breakdown by total cost and
// attaches the standard quick-win playbook.
func BottleneckImpact(cod CostOfDelayReport) ImpactReport {
	var ranked []RankedBottleneck
	addCat := func(name string, b CostBucket) {
		if b.Count == 0 { return }
		ranked = append(ranked, RankedBottleneck{
			Category:          name,
			Count:             b.Count,
			TotalCost:         b.TotalCost,
			AvgCostPerIssue:   round0(b.TotalCost / float64(b.Count)),
			RecoveryPotential: b.TotalCost,
		})
	}
	addCat("Stale Issues", cod.Stale)
	addCat("Unassigned Issues", cod.Unassigned)
	addCat("Waiting Blocked Issues", cod.Waiting)
	sort.SliceStable(ranked, func(a, b int) bool { return ranked[a].TotalCost > ranked[b].TotalCost })

	return ImpactReport{
		PeriodDays:          cod.PeriodDays,
		TotalBottleneckCost: cod.TotalCostOfDelay,
		RankedBottlenecks:   ranked,
		QuickWins: []QuickWin{
			{
				Action:            fmt.Sprintf("Auto-assign %d unassigned issues", cod.Unassigned.Count),
				RecoveryPotential: cod.Unassigned.TotalCost,
				Effort:            "1 day",
				ROI:               "Very High",
			},
			{
				Action:            fmt.Sprintf("Clear %d waiting/blocked issues", cod.Waiting.Count),
				RecoveryPotential: cod.Waiting.TotalCost,
				Effort:            "1 week",
				ROI:               "High",
			},
			{
				Action:            fmt.Sprintf("Address %d stale issues", cod.Stale.Count),
				RecoveryPotential: cod.Stale.TotalCost,
				Effort:            "2 weeks",
				ROI:               "High",
			},
		},
	}
}

type WindowCost struct {
	Total       float64  `json:"total"`
	DailyBurn   float64  `json:"daily_burn"`
	TopInsights []string `json:"top_insights,omitempty"`
}

type OpportunitySlice struct {
	Total           float64 `json:"total"`
	UtilizationRate float64 `json:"utilization_rate"`
}

type FinancialSummary struct {
	CostOfDelay30d        WindowCost         `json:"cost_of_delay_30d"`
	CostOfDelay90d        WindowCost         `json:"cost_of_delay_90d"`
	TeamROI               map[string]RoleROI `json:"team_roi"`
	OpportunityCost       OpportunitySlice   `json:"opportunity_cost"`
	TopBottlenecks        []RankedBottleneck `json:"top_bottlenecks"`
	QuickWins             []QuickWin         `json:"quick_wins"`
	TotalRecoverableValue float64            `json:"total_recoverable_value"`
}

// BuildFinancialSummary composes the complete financial overview from one
// issue snapshot: 30d and 90d cost of delay, 90d ROI and opportunity cost,
// and the 30d bottleneck impact ranking.
func BuildFinancialSummary(issues []domain.Issue, roster domain.Roster, contributors int, now time.Time) FinancialSummary {
	cod30 := CostOfDelay(issues, roster, 30, now)
	cod90 := CostOfDelay(issues, roster, 90, now)
	roi := TeamROI(issues, roster, 90, now)

	cutoff90 := now.AddDate(0, 0, -90)
	completed90 := 0
	for _, i := range issues {
		if i.Resolved != nil && !i.Resolved.Before(cutoff90) { completed90++ }
	}
	opp := OpportunityCost(contributors, completed90, 90)
	impact := BottleneckImpact(cod30)

	top := impact.RankedBottlenecks
	if len(top) > 3 { top = top[:3] }

	return FinancialSummary{
		CostOfDelay30d:        WindowCost{Total: cod30.TotalCostOfDelay, DailyBurn: cod30.DailyBurnRate, TopInsights: cod30.Insights},
		CostOfDelay90d:        WindowCost{Total: cod90.TotalCostOfDelay, DailyBurn: cod90.DailyBurnRate},
		TeamROI:               roi.Teams,
		OpportunityCost:       OpportunitySlice{Total: opp.OpportunityCost, UtilizationRate: opp.UtilizationRate},
		TopBottlenecks:        top,
		QuickWins:             impact.QuickWins,
		TotalRecoverableValue: impact.TotalBottleneckCost,
	}
}

func round0(v float64) float64 { return math.Round(v) }
func round1(v float64) float64 { return math.Round(v*10) / 10 }
