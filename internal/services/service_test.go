/* Copyright (c) 2025 FlowCost Authors
 * SPDX-License-Identifier: BSD-3-Clause */
package services

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/ompatildesigns-ctrl/flowcost/internal/adapters/jira"
	"github.com/ompatildesigns-ctrl/flowcost/internal/config"
	"github.com/ompatildesigns-ctrl/flowcost/internal/domain"
	"github.com/ompatildesigns-ctrl/flowcost/internal/repo"
)

type fakeStore struct {
	issues      []domain.Issue
	users       []domain.Person
	conns       map[string]*domain.Connection
	findCalls   int
	upserted    []domain.Issue
	findErr     error
	deltaMarked bool
	fullMarked  bool
}

func (f *fakeStore) FindIssues(ctx context.Context, id string, flt repo.IssueFilter) ([]domain.Issue, error) {
	f.findCalls++
	return f.issues, f.findErr
}

func (f *fakeStore) CountIssues(ctx context.Context, id string, flt repo.IssueFilter) (int, error) {
	return len(f.issues), nil
}

func (f *fakeStore) FindUsers(ctx context.Context, id string, activeOnly bool) ([]domain.Person, error) {
	return f.users, nil
}

func (f *fakeStore) BulkUpsertIssues(ctx context.Context, issues []domain.Issue) error {
	f.upserted = append(f.upserted, issues...)
	return nil
}

func (f *fakeStore) BulkUpsertUsers(ctx context.Context, id string, users []domain.Person) error {
	return nil
}

func (f *fakeStore) CreateConnection(ctx context.Context, c domain.Connection) error {
	if f.conns == nil { f.conns = map[string]*domain.Connection{} }
	f.conns[c.ID] = &c
	return nil
}

func (f *fakeStore) GetConnection(ctx context.Context, id string) (*domain.Connection, error) {
	if f.conns == nil { return nil, nil }
	return f.conns[id], nil
}

func (f *fakeStore) ListConnections(ctx context.Context) ([]domain.Connection, error) { return nil, nil }

func (f *fakeStore) MarkDeltaSync(ctx context.Context, id string, at time.Time) error {
	f.deltaMarked = true
	return nil
}

func (f *fakeStore) MarkFullSync(ctx context.Context, id string, at time.Time) error {
	f.fullMarked = true
	return nil
}

type fakeTracker struct {
	responses []map[string]any
	listResps [][]any
	calls     []url.Values
	reqErr    error
}

func (f *fakeTracker) AuthorizeURL(state string) string { return "https://auth.example/" + state }

func (f *fakeTracker) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	return &oauth2.Token{AccessToken: "at-" + code, RefreshToken: "rt-" + code, Expiry: time.Now().Add(time.Hour)}, nil
}

func (f *fakeTracker) AccessibleResources(ctx context.Context, token string) ([]jira.Resource, error) {
	return []jira.Resource{{ID: "cloud-1", URL: "https://acme.atlassian.net", Name: "acme", Scopes: []string{"read:jira-work"}}}, nil
}

func (f *fakeTracker) EnsureValidToken(ctx context.Context, id string) (string, error) { return "tok", nil }

func (f *fakeTracker) Request(ctx context.Context, id, method, endpoint string, params url.Values, body any) (map[string]any, error) {
	if f.reqErr != nil { return nil, f.reqErr }
	f.calls = append(f.calls, params)
	if len(f.responses) == 0 { return map[string]any{}, nil }
	r := f.responses[0]
	f.responses = f.responses[1:]
	return r, nil
}

func (f *fakeTracker) RequestList(ctx context.Context, id, method, endpoint string, params url.Values, body any) ([]any, error) {
	if len(f.listResps) == 0 { return nil, nil }
	r := f.listResps[0]
	f.listResps = f.listResps[1:]
	return r, nil
}

type fakeEncryptor struct{}

func (fakeEncryptor) Encrypt(s string) (string, error) { return "enc(" + s + ")", nil }

func newTestService(store *fakeStore, tracker *fakeTracker) *Service {
	cfg := config.Config{Roster: domain.Roster{"acc-1": domain.RoleInternal}, SyncSinceDays: 7}
	svc := NewService(cfg, zerolog.Nop(), store, tracker, fakeEncryptor{})
	svc.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return svc
}

func TestClampDays(t *testing.T) {
	require.Equal(t, MinAnalysisDays, clampDays(0))
	require.Equal(t, MinAnalysisDays, clampDays(6))
	require.Equal(t, 7, clampDays(7))
	require.Equal(t, 90, clampDays(90))
	require.Equal(t, 365, clampDays(365))
	require.Equal(t, MaxAnalysisDays, clampDays(400))
}

func TestFindBottlenecksUsesOneSnapshot(t *testing.T) {
	store := &fakeStore{}
	svc := newTestService(store, &fakeTracker{})

	report, err := svc.FindBottlenecks(context.Background(), "conn-1", 30)
	require.NoError(t, err)
	require.Equal(t, 30, report.PeriodDays)
	// one snapshot query feeds every calculator
	require.Equal(t, 1, store.findCalls)
}

func TestAnalysisDistinguishesFailureFromEmpty(t *testing.T) {
	store := &fakeStore{findErr: errors.New("db down")}
	svc := newTestService(store, &fakeTracker{})

	_, err := svc.FindBottlenecks(context.Background(), "conn-1", 30)
	require.Error(t, err)

	store.findErr = nil
	report, err := svc.FindBottlenecks(context.Background(), "conn-1", 30)
	require.NoError(t, err)
	require.Zero(t, report.BottlenecksFound)
}

func TestConnectJiraPersistsEncryptedTokens(t *testing.T) {
	store := &fakeStore{}
	svc := newTestService(store, &fakeTracker{})

	conn, err := svc.ConnectJira(context.Background(), "code-7")
	require.NoError(t, err)
	require.Equal(t, "cloud-1", conn.CloudID)
	require.Equal(t, "https://acme.atlassian.net", conn.SiteURL)
	require.Equal(t, "enc(at-code-7)", conn.EncAccessToken)
	require.Equal(t, "enc(rt-code-7)", conn.EncRefreshToken)
	require.NotEmpty(t, conn.ID)

	stored, err := store.GetConnection(context.Background(), conn.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
}

func searchPage(total int, keys ...string) map[string]any {
	issues := make([]any, 0, len(keys))
	for _, k := range keys {
		issues = append(issues, map[string]any{
			"key": k,
			"fields": map[string]any{
				"summary":  "work on " + k,
				"status":   map[string]any{"name": "In Progress"},
				"priority": map[string]any{"name": "High"},
				"project":  map[string]any{"key": "CORE"},
				"assignee": map[string]any{"accountId": "acc-1", "displayName": "Jo"},
				"created":  "2025-05-01T10:00:00.000+0000",
				"updated":  "2025-05-20T10:00:00.000+0000",
			},
		})
	}
	return map[string]any{"total": float64(total), "issues": issues}
}

func TestSyncIssuesPagesUntilTotal(t *testing.T) {
	store := &fakeStore{}
	tracker := &fakeTracker{responses: []map[string]any{
		searchPage(3, "CORE-1", "CORE-2"),
		searchPage(3, "CORE-3"),
	}}
	svc := newTestService(store, tracker)

	n, err := svc.SyncIssues(context.Background(), "conn-1", 7)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Len(t, store.upserted, 3)
	require.True(t, store.deltaMarked)
	require.Equal(t, "CORE-1", store.upserted[0].Key)
	require.Equal(t, "In Progress", store.upserted[0].Status)
	require.Equal(t, "acc-1", store.upserted[0].Assignee)
	require.NotNil(t, store.upserted[0].Created)

	// second call carries the advanced startAt
	require.Equal(t, "2", tracker.calls[1].Get("startAt"))
}

func TestSyncIssuesSkipsMalformedRecords(t *testing.T) {
	page := searchPage(2, "CORE-1")
	page["issues"] = append(page["issues"].([]any),
		map[string]any{"fields": map[string]any{}}, // no key
	)
	store := &fakeStore{}
	tracker := &fakeTracker{responses: []map[string]any{page}}
	svc := newTestService(store, tracker)

	n, err := svc.SyncIssues(context.Background(), "conn-1", 7)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestSyncIssuesPropagatesClientFailure(t *testing.T) {
	tracker := &fakeTracker{reqErr: &jira.RateLimitError{RetryAfter: time.Minute}}
	svc := newTestService(&fakeStore{}, tracker)

	_, err := svc.SyncIssues(context.Background(), "conn-1", 7)
	var rle *jira.RateLimitError
	require.ErrorAs(t, err, &rle)
	require.Equal(t, time.Minute, rle.RetryAfter)
}

func TestFullSyncMarksTimestamp(t *testing.T) {
	store := &fakeStore{}
	tracker := &fakeTracker{
		responses: []map[string]any{searchPage(2, "CORE-1", "CORE-2")},
		listResps: [][]any{{map[string]any{"accountId": "acc-1", "displayName": "Jo", "active": true}}},
	}
	svc := newTestService(store, tracker)

	n, err := svc.FullSync(context.Background(), "conn-1")
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.True(t, store.fullMarked)
	require.True(t, store.deltaMarked)

	// full sync uses the long lookback window, not the delta window
	require.Contains(t, tracker.calls[0].Get("jql"), "-90d")
}

func TestFullSyncFailureSkipsTimestamp(t *testing.T) {
	store := &fakeStore{}
	tracker := &fakeTracker{reqErr: &jira.APIError{Status: 500, Body: "boom"}}
	svc := newTestService(store, tracker)

	_, err := svc.FullSync(context.Background(), "conn-1")
	require.Error(t, err)
	require.False(t, store.fullMarked)
}

func TestSyncUsersFiltersNonHumans(t *testing.T) {
	tracker := &fakeTracker{listResps: [][]any{{
		map[string]any{"accountId": "acc-1", "displayName": "Jo", "accountType": "atlassian", "active": true},
		map[string]any{"accountId": "bot-1", "displayName": "CI Bot", "accountType": "app", "active": true},
	}}}
	svc := newTestService(&fakeStore{}, tracker)

	n, err := svc.SyncUsers(context.Background(), "conn-1")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestJiraTimeParsing(t *testing.T) {
	require.NotNil(t, jiraTime("2025-05-01T10:00:00.000+0000"))
	require.NotNil(t, jiraTime("2025-05-01T10:00:00Z"))
	require.Nil(t, jiraTime(""))
	require.Nil(t, jiraTime("not a date"))
}

func TestSyncStatsUnknownConnection(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeTracker{})
	_, err := svc.SyncStats(context.Background(), "nope")
	require.Error(t, err)
}
