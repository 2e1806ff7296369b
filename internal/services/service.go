/* Copyright (c) 2025 FlowCost Authors
 * SPDX-License-Identifier: BSD-3-Clause */

// Package services orchestrates the analytics engines over persisted issue
// snapshots and drives data sync against the tracker API.
package services

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/ompatildesigns-ctrl/flowcost/internal/adapters/jira"
	"github.com/ompatildesigns-ctrl/flowcost/internal/analytics"
	"github.com/ompatildesigns-ctrl/flowcost/internal/config"
	"github.com/ompatildesigns-ctrl/flowcost/internal/domain"
	"github.com/ompatildesigns-ctrl/flowcost/internal/repo"
)

// Analysis windows are clamped to this range.
const (
	MinAnalysisDays = 7
	MaxAnalysisDays = 365
)

// Store is the persistence surface the service consumes.
type Store interface {
	FindIssues(ctx context.Context, connectionID string, f repo.IssueFilter) ([]domain.Issue, error)
	CountIssues(ctx context.Context, connectionID string, f repo.IssueFilter) (int, error)
	FindUsers(ctx context.Context, connectionID string, activeOnly bool) ([]domain.Person, error)
	BulkUpsertIssues(ctx context.Context, issues []domain.Issue) error
	BulkUpsertUsers(ctx context.Context, connectionID string, users []domain.Person) error
	CreateConnection(ctx context.Context, c domain.Connection) error
	GetConnection(ctx context.Context, id string) (*domain.Connection, error)
	ListConnections(ctx context.Context) ([]domain.Connection, error)
	MarkDeltaSync(ctx context.Context, id string, at time.Time) error
	MarkFullSync(ctx context.Context, id string, at time.Time) error
}

// TrackerClient is the slice of the Jira adapter the service consumes.
type TrackerClient interface {
	AuthorizeURL(state string) string
	ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error)
	AccessibleResources(ctx context.Context, accessToken string) ([]jira.Resource, error)
	EnsureValidToken(ctx context.Context, connectionID string) (string, error)
	Request(ctx context.Context, connectionID, method, endpoint string, params url.Values, body any) (map[string]any, error)
	RequestList(ctx context.Context, connectionID, method, endpoint string, params url.Values, body any) ([]any, error)
}

type Encryptor interface {
	Encrypt(plaintext string) (string, error)
}

type Service struct {
	cfg   config.Config
	log   zerolog.Logger
	store Store
	jira  TrackerClient
	enc   Encryptor
	now   func() time.Time
}

func NewService(cfg config.Config, log zerolog.Logger, store Store, jc TrackerClient, enc Encryptor) *Service {
	return &Service{cfg: cfg, log: log, store: store, jira: jc, enc: enc, now: func() time.Time { return time.Now().UTC() }}
}

func clampDays(days int) int {
	if days < MinAnalysisDays { return MinAnalysisDays }
	if days > MaxAnalysisDays { return MaxAnalysisDays }
	return days
}

// snapshot loads all issues for one connection in a single query. Every
// calculator in an analysis call works off the same snapshot, so metrics
// cannot skew against each other.
func (s *Service) snapshot(ctx context.Context, connectionID string) ([]domain.Issue, error) {
	issues, err := s.store.FindIssues(ctx, connectionID, repo.IssueFilter{})
	if err != nil { return nil, fmt.Errorf("load issue snapshot: %w", err) }
	return issues, nil
}

func (s *Service) FindBottlenecks(ctx context.Context, connectionID string, days int) (analytics.BottleneckReport, error) {
	days = clampDays(days)
	issues, err := s.snapshot(ctx, connectionID)
	if err != nil { return analytics.BottleneckReport{}, err }
	return analytics.FindBottlenecks(issues, days, s.now()), nil
}

func (s *Service) CostOfDelay(ctx context.Context, connectionID string, days int) (analytics.CostOfDelayReport, error) {
	days = clampDays(days)
	issues, err := s.snapshot(ctx, connectionID)
	if err != nil { return analytics.CostOfDelayReport{}, err }
	return analytics.CostOfDelay(issues, s.cfg.Roster, days, s.now()), nil
}

func (s *Service) TeamROI(ctx context.Context, connectionID string, days int) (analytics.TeamROIReport, error) {
	days = clampDays(days)
	issues, err := s.snapshot(ctx, connectionID)
	if err != nil { return analytics.TeamROIReport{}, err }
	return analytics.TeamROI(issues, s.cfg.Roster, days, s.now()), nil
}

func (s *Service) OpportunityCost(ctx context.Context, connectionID string, days int) (analytics.OpportunityReport, error) {
	days = clampDays(days)
	users, err := s.store.FindUsers(ctx, connectionID, true)
	if err != nil { return analytics.OpportunityReport{}, fmt.Errorf("load users: %w", err) }
	since := s.now().AddDate(0, 0, -days)
	completed, err := s.store.CountIssues(ctx, connectionID, repo.IssueFilter{ResolvedSince: &since})
	if err != nil { return analytics.OpportunityReport{}, fmt.Errorf("count completed issues: %w", err) }
	return analytics.OpportunityCost(len(users), completed, days), nil
}

func (s *Service) BottleneckImpact(ctx context.Context, connectionID string, days int) (analytics.ImpactReport, error) {
	cod, err := s.CostOfDelay(ctx, connectionID, days)
	if err != nil { return analytics.ImpactReport{}, err }
	return analytics.BottleneckImpact(cod), nil
}

func (s *Service) FinancialSummary(ctx context.Context, connectionID string) (analytics.FinancialSummary, error) {
	issues, err := s.snapshot(ctx, connectionID)
	if err != nil { return analytics.FinancialSummary{}, err }
	users, err := s.store.FindUsers(ctx, connectionID, true)
	if err != nil { return analytics.FinancialSummary{}, fmt.Errorf("load users: %w", err) }
	return analytics.BuildFinancialSummary(issues, s.cfg.Roster, len(users), s.now()), nil
}

func (s *Service) Insights(ctx context.Context, connectionID string, days int) ([]analytics.Insight, error) {
	days = clampDays(days)
	issues, err := s.snapshot(ctx, connectionID)
	if err != nil { return nil, err }
	return analytics.GenerateInsights(issues, s.cfg.Roster, days, s.now()), nil
}

// PeopleBottlenecks accepts days for API consistency with the other reports
// but always examines all active work; burden is a property of the current
// workload, not of a window.
func (s *Service) PeopleBottlenecks(ctx context.Context, connectionID string, days int) (analytics.PeopleReport, error) {
	_ = clampDays(days)
	issues, err := s.snapshot(ctx, connectionID)
	if err != nil { return analytics.PeopleReport{}, err }
	return analytics.AnalyzePeopleBottlenecks(issues, s.cfg.Roster, s.now()), nil
}

// WorkloadDistribution reports active issue counts per assignee. Like the
// people analyzer it looks at all open work, not a window.
func (s *Service) WorkloadDistribution(ctx context.Context, connectionID string) (analytics.WorkloadReport, error) {
	issues, err := s.snapshot(ctx, connectionID)
	if err != nil { return analytics.WorkloadReport{}, err }
	return analytics.WorkloadDistribution(issues), nil
}

func (s *Service) CycleTimeAnalysis(ctx context.Context, connectionID string, days int) (analytics.CycleTimeReport, error) {
	days = clampDays(days)
	issues, err := s.snapshot(ctx, connectionID)
	if err != nil { return analytics.CycleTimeReport{}, err }
	return analytics.CycleTimeAnalysis(issues, days, s.now()), nil
}

func (s *Service) VelocityTrends(ctx context.Context, connectionID string, weeks int) (analytics.VelocityReport, error) {
	if weeks < 2 { weeks = analytics.DefaultVelocityWeeks }
	if weeks > analytics.MaxVelocityWeeks { weeks = analytics.MaxVelocityWeeks }
	issues, err := s.snapshot(ctx, connectionID)
	if err != nil { return analytics.VelocityReport{}, err }
	return analytics.VelocityTrends(issues, weeks, s.now()), nil
}

func (s *Service) TeamComparison(ctx context.Context, connectionID string, days int) (analytics.TeamComparisonReport, error) {
	days = clampDays(days)
	issues, err := s.snapshot(ctx, connectionID)
	if err != nil { return analytics.TeamComparisonReport{}, err }
	return analytics.CompareTeams(issues, s.cfg.Roster, days, s.now()), nil
}

// SyncStats summarizes what has been ingested for a connection.
type SyncStats struct {
	ConnectionID    string     `json:"connection_id"`
	TotalIssues     int        `json:"total_issues"`
	ActiveIssues    int        `json:"active_issues"`
	TotalUsers      int        `json:"total_users"`
	LastFullSyncAt  *time.Time `json:"last_full_sync_at"`
	LastDeltaSyncAt *time.Time `json:"last_delta_sync_at"`
}

func (s *Service) SyncStats(ctx context.Context, connectionID string) (SyncStats, error) {
	conn, err := s.store.GetConnection(ctx, connectionID)
	if err != nil { return SyncStats{}, err }
	if conn == nil { return SyncStats{}, fmt.Errorf("unknown connection %s", connectionID) }

	total, err := s.store.CountIssues(ctx, connectionID, repo.IssueFilter{})
	if err != nil { return SyncStats{}, err }
	active, err := s.store.CountIssues(ctx, connectionID, repo.IssueFilter{StatusNotIn: domain.TerminalStatuses})
	if err != nil { return SyncStats{}, err }
	users, err := s.store.FindUsers(ctx, connectionID, false)
	if err != nil { return SyncStats{}, err }

	return SyncStats{
		ConnectionID:    connectionID,
		TotalIssues:     total,
		ActiveIssues:    active,
		TotalUsers:      len(users),
		LastFullSyncAt:  conn.LastFullSyncAt,
		LastDeltaSyncAt: conn.LastDeltaSyncAt,
	}, nil
}
