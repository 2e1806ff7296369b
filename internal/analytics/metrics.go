/* Copyright (c) 2025 FlowCost Authors
 * SPDX-License-Identifier: BSD-3-Clause */

// Package analytics holds the pure calculation engines: flow metrics,
// bottleneck rules, financial models, trend insights and people analysis.
// Everything here operates on an in-memory issue snapshot and never touches
// the network or the database.
package analytics

import (
	"strings"
	"time"

	"github.com/ompatildesigns-ctrl/flowcost/internal/domain"
)

const (
	// ActiveTimeFraction is the assumed share of an issue's cycle time spent
	// in active work, used when no per-status transition history is available.
	ActiveTimeFraction = 0.25

	// DefaultFlowEfficiency is reported when no resolved issues carry usable
	// timestamps.
	DefaultFlowEfficiency = 0.20

	// WIPOverloadThreshold is the active-issue count above which (strictly)
	// the capacity rule fires.
	WIPOverloadThreshold = 100

	// CycleTimeSpikeFactor: recent average cycle time strictly above
	// historical average times this factor counts as a spike.
	CycleTimeSpikeFactor = 1.25

	// StaleDays is the no-update age after which active work counts as stale.
	StaleDays = 14

	// WaitingRatioThreshold is the share of active work in waiting-type
	// statuses above which (strictly) the handoff rule fires.
	WaitingRatioThreshold = 0.50

	// HandoffFlowEfficiencyCeiling: the handoff rule also requires flow
	// efficiency strictly below this value.
	HandoffFlowEfficiencyCeiling = 0.15

	spikeRecentDays     = 30
	spikeHistoricalDays = 90
)

// waitingVocabulary marks statuses that represent queued or blocked work.
// Matching is case-insensitive substring.
var waitingVocabulary = []string{"waiting", "blocked", "on hold", "pending", "review"}

// IsWaitingStatus reports whether a status name denotes waiting-type work.
func IsWaitingStatus(status string) bool {
	s := strings.ToLower(status)
	for _, w := range waitingVocabulary {
		if strings.Contains(s, w) { return true }
	}
	return false
}

// cycleDays returns the created→resolved span in days. ok is false when
// either timestamp is missing or the span is negative; such records are
// skipped, never errors.
func cycleDays(i domain.Issue) (float64, bool) {
	if i.Created == nil || i.Resolved == nil { return 0, false }
	d := i.Resolved.Sub(*i.Created).Hours() / 24
	if d < 0 { return 0, false }
	return d, true
}

func daysSince(t *time.Time, now time.Time) (float64, bool) {
	if t == nil { return 0, false }
	d := now.Sub(*t).Hours() / 24
	if d < 0 { d = 0 }
	return d, true
}

func splitActive(issues []domain.Issue) (active, resolved []domain.Issue) {
	for _, i := range issues {
		if i.Active() { active = append(active, i) } else { resolved = append(resolved, i) }
	}
	return active, resolved
}

// FlowEfficiency estimates active time over total cycle time across resolved
// issues. With no usable records it returns DefaultFlowEfficiency.
func FlowEfficiency(resolved []domain.Issue) float64 {
	var totalCycle, totalActive float64
	for _, i := range resolved {
		c, ok := cycleDays(i)
		if !ok { continue }
		totalCycle += c
		totalActive += c * ActiveTimeFraction
	}
	if totalCycle == 0 { return DefaultFlowEfficiency }
	return totalActive / totalCycle
}

// AvgCycleTimeDays averages created→resolved spans, skipping records with
// missing or inverted timestamps.
func AvgCycleTimeDays(resolved []domain.Issue) float64 {
	var sum float64
	var n int
	for _, i := range resolved {
		c, ok := cycleDays(i)
		if !ok { continue }
		sum += c
		n++
	}
	if n == 0 { return 0 }
	return sum / float64(n)
}

type WIPAnalysis struct {
	Count    int
	Overload bool
}

func CalcWIP(active []domain.Issue) WIPAnalysis {
	return WIPAnalysis{Count: len(active), Overload: len(active) > WIPOverloadThreshold}
}

type CycleSpike struct {
	Spiking       bool
	RecentAvg     float64
	HistoricalAvg float64
	IncreasePct   float64
}

// DetectCycleTimeSpike compares the average cycle time of issues resolved in
// the last 30 days against the 90 days before that.
func DetectCycleTimeSpike(issues []domain.Issue, now time.Time) CycleSpike {
	recentCut := now.AddDate(0, 0, -spikeRecentDays)
	histCut := now.AddDate(0, 0, -(spikeRecentDays + spikeHistoricalDays))
	var recent, hist []domain.Issue
	for _, i := range issues {
		if i.Resolved == nil { continue }
		switch {
		case i.Resolved.After(recentCut):
			recent = append(recent, i)
		case i.Resolved.After(histCut):
			hist = append(hist, i)
		}
	}
	out := CycleSpike{RecentAvg: AvgCycleTimeDays(recent), HistoricalAvg: AvgCycleTimeDays(hist)}
	if out.HistoricalAvg > 0 && out.RecentAvg > out.HistoricalAvg*CycleTimeSpikeFactor {
		out.Spiking = true
		out.IncreasePct = (out.RecentAvg - out.HistoricalAvg) / out.HistoricalAvg * 100
	}
	return out
}

type WaitingAnalysis struct {
	WaitingCount int
	TotalCount   int
	Ratio        float64
}

func CalcWaiting(active []domain.Issue) WaitingAnalysis {
	out := WaitingAnalysis{TotalCount: len(active)}
	for _, i := range active {
		if IsWaitingStatus(i.Status) { out.WaitingCount++ }
	}
	if out.TotalCount > 0 { out.Ratio = float64(out.WaitingCount) / float64(out.TotalCount) }
	return out
}

type StaleAnalysis struct {
	StaleCount      int
	UnassignedCount int
}

// AnalyzeStaleWork counts active issues untouched for more than StaleDays and
// active issues with no assignee.
func AnalyzeStaleWork(active []domain.Issue, now time.Time) StaleAnalysis {
	var out StaleAnalysis
	for _, i := range active {
		if age, ok := daysSince(i.Updated, now); ok && age > StaleDays { out.StaleCount++ }
		if i.Assignee == "" { out.UnassignedCount++ }
	}
	return out
}
