/* Copyright (c) 2025 FlowCost Authors
 * SPDX-License-Identifier: BSD-3-Clause */
package services

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ompatildesigns-ctrl/flowcost/internal/domain"
)

const (
	searchPageSize = 100

	// FullSyncDays is the lookback window for a full resync.
	FullSyncDays = 90

	issueFields = "summary,status,assignee,priority,created,updated,resolutiondate,project,issuetype"
)

// AuthorizeURL builds the OAuth consent URL for the given state.
func (s *Service) AuthorizeURL(state string) string { return s.jira.AuthorizeURL(state) }

// ConnectJira finishes the OAuth flow: exchanges the code, discovers the
// first accessible site and persists a connection with encrypted tokens.
func (s *Service) ConnectJira(ctx context.Context, code string) (*domain.Connection, error) {
	tok, err := s.jira.ExchangeCode(ctx, code)
	if err != nil { return nil, fmt.Errorf("exchange code: %w", err) }

	resources, err := s.jira.AccessibleResources(ctx, tok.AccessToken)
	if err != nil { return nil, fmt.Errorf("list accessible resources: %w", err) }
	if len(resources) == 0 { return nil, fmt.Errorf("no accessible jira sites for this account") }
	site := resources[0]

	encAccess, err := s.enc.Encrypt(tok.AccessToken)
	if err != nil { return nil, fmt.Errorf("encrypt access token: %w", err) }
	encRefresh, err := s.enc.Encrypt(tok.RefreshToken)
	if err != nil { return nil, fmt.Errorf("encrypt refresh token: %w", err) }

	conn := domain.Connection{
		ID:              uuid.NewString(),
		CloudID:         site.ID,
		SiteURL:         site.URL,
		Scopes:          site.Scopes,
		EncAccessToken:  encAccess,
		EncRefreshToken: encRefresh,
		ExpiresAt:       tok.Expiry,
		CreatedAt:       s.now(),
	}
	if err := s.store.CreateConnection(ctx, conn); err != nil {
		return nil, fmt.Errorf("persist connection: %w", err)
	}
	s.log.Info().Str("connection_id", conn.ID).Str("site", conn.SiteURL).Msg("jira connection created")
	return &conn, nil
}

// RefreshConnection forces the token guard to run for a connection.
func (s *Service) RefreshConnection(ctx context.Context, connectionID string) error {
	_, err := s.jira.EnsureValidToken(ctx, connectionID)
	return err
}

// SyncIssues pulls issues updated in the last sinceDays and upserts them
// page by page. Returns the number of issues ingested.
func (s *Service) SyncIssues(ctx context.Context, connectionID string, sinceDays int) (int, error) {
	if sinceDays <= 0 { sinceDays = s.cfg.SyncSinceDays }
	jql := fmt.Sprintf("updated >= -%dd ORDER BY updated ASC", sinceDays)

	total := 0
	for startAt := 0; ; {
		params := url.Values{}
		params.Set("jql", jql)
		params.Set("startAt", strconv.Itoa(startAt))
		params.Set("maxResults", strconv.Itoa(searchPageSize))
		params.Set("fields", issueFields)

		resp, err := s.jira.Request(ctx, connectionID, "GET", "/rest/api/3/search", params, nil)
		if err != nil { return total, fmt.Errorf("search issues at %d: %w", startAt, err) }

		rawIssues, _ := resp["issues"].([]any)
		if len(rawIssues) == 0 { break }

		page := make([]domain.Issue, 0, len(rawIssues))
		for _, ri := range rawIssues {
			m, ok := ri.(map[string]any)
			if !ok { continue }
			if issue, ok := parseIssue(connectionID, m); ok { page = append(page, issue) }
		}
		if err := s.store.BulkUpsertIssues(ctx, page); err != nil {
			return total, fmt.Errorf("upsert page at %d: %w", startAt, err)
		}
		total += len(page)
		startAt += len(rawIssues)

		if reported, ok := numField(resp, "total"); ok {
			if startAt >= int(reported) { break }
		} else if len(rawIssues) < searchPageSize {
			break
		}
	}

	if err := s.store.MarkDeltaSync(ctx, connectionID, s.now()); err != nil {
		s.log.Warn().Err(err).Str("connection_id", connectionID).Msg("mark delta sync failed")
	}
	s.log.Info().Str("connection_id", connectionID).Int("issues", total).Int("since_days", sinceDays).Msg("issue sync complete")
	return total, nil
}

// FullSync rebuilds a connection's dataset: issues over the full lookback
// window plus the user directory, then records the full-sync timestamp.
// Returns the number of issues ingested.
func (s *Service) FullSync(ctx context.Context, connectionID string) (int, error) {
	issues, err := s.SyncIssues(ctx, connectionID, FullSyncDays)
	if err != nil { return issues, err }
	users, err := s.SyncUsers(ctx, connectionID)
	if err != nil { return issues, err }
	if err := s.store.MarkFullSync(ctx, connectionID, s.now()); err != nil {
		s.log.Warn().Err(err).Str("connection_id", connectionID).Msg("mark full sync failed")
	}
	s.log.Info().Str("connection_id", connectionID).Int("issues", issues).Int("users", users).Msg("full sync complete")
	return issues, nil
}

// SyncUsers pulls the site's user directory.
func (s *Service) SyncUsers(ctx context.Context, connectionID string) (int, error) {
	total := 0
	for startAt := 0; ; {
		params := url.Values{}
		params.Set("startAt", strconv.Itoa(startAt))
		params.Set("maxResults", strconv.Itoa(searchPageSize))

		raw, err := s.jira.RequestList(ctx, connectionID, "GET", "/rest/api/3/users/search", params, nil)
		if err != nil { return total, fmt.Errorf("search users at %d: %w", startAt, err) }
		if len(raw) == 0 { break }

		page := make([]domain.Person, 0, len(raw))
		for _, ru := range raw {
			m, ok := ru.(map[string]any)
			if !ok { continue }
			// only humans; skip app and service accounts
			if at, _ := m["accountType"].(string); at != "" && at != "atlassian" { continue }
			accountID, _ := m["accountId"].(string)
			if accountID == "" { continue }
			name, _ := m["displayName"].(string)
			email, _ := m["emailAddress"].(string)
			active, _ := m["active"].(bool)
			page = append(page, domain.Person{AccountID: accountID, DisplayName: name, Email: email, Active: active})
		}
		if err := s.store.BulkUpsertUsers(ctx, connectionID, page); err != nil {
			return total, fmt.Errorf("upsert users at %d: %w", startAt, err)
		}
		total += len(page)
		startAt += len(raw)
		if len(raw) < searchPageSize { break }
	}
	s.log.Info().Str("connection_id", connectionID).Int("users", total).Msg("user sync complete")
	return total, nil
}

func numField(m map[string]any, key string) (float64, bool) {
	v, ok := m[key].(float64)
	return v, ok
}

func nestedStr(m map[string]any, path ...string) string {
	cur := m
	for i, p := range path {
		if i == len(path)-1 {
			s, _ := cur[p].(string)
			return s
		}
		next, ok := cur[p].(map[string]any)
		if !ok { return "" }
		cur = next
	}
	return ""
}

// jiraTime is the tracker's timestamp format. A timestamp that does not parse
// is treated as absent; sync never fails on one bad record.
func jiraTime(s string) *time.Time {
	if s == "" { return nil }
	for _, layout := range []string{"2006-01-02T15:04:05.000-0700", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			u := t.UTC()
			return &u
		}
	}
	return nil
}

func parseIssue(connectionID string, raw map[string]any) (domain.Issue, bool) {
	key, _ := raw["key"].(string)
	if key == "" { return domain.Issue{}, false }
	fields, ok := raw["fields"].(map[string]any)
	if !ok { return domain.Issue{}, false }

	return domain.Issue{
		ConnectionID: connectionID,
		Key:          key,
		Project:      nestedStr(fields, "project", "key"),
		Summary:      nestedStr(fields, "summary"),
		Type:         nestedStr(fields, "issuetype", "name"),
		Priority:     nestedStr(fields, "priority", "name"),
		Status:       nestedStr(fields, "status", "name"),
		Assignee:     nestedStr(fields, "assignee", "accountId"),
		AssigneeName: nestedStr(fields, "assignee", "displayName"),
		Created:      jiraTime(nestedStr(fields, "created")),
		Updated:      jiraTime(nestedStr(fields, "updated")),
		Resolved:     jiraTime(nestedStr(fields, "resolutiondate")),
	}, true
}
