/* Copyright (c) 2025 FlowCost Authors
 * SPDX-License-Identifier: BSD-3-Clause */
package jira

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ompatildesigns-ctrl/flowcost/internal/config"
	"github.com/ompatildesigns-ctrl/flowcost/internal/domain"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

const (
	defaultTimeout   = 30 * time.Second
	tokenExpiryGuard = 5 * time.Minute
)

var oauthScopes = []string{"read:jira-work", "read:jira-user", "offline_access"}

// Store persists connections and their encrypted tokens.
type Store interface {
	GetConnection(ctx context.Context, id string) (*domain.Connection, error)
	UpdateConnectionTokens(ctx context.Context, id, encAccess, encRefresh string, expiresAt time.Time) error
	ExpireConnectionToken(ctx context.Context, id string) error
}

// Encryptor guards tokens at rest.
type Encryptor interface {
	Encrypt(token string) (string, error)
	Decrypt(encToken string) (string, error)
}

// Resource is one site the OAuth grant can reach.
type Resource struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	URL    string   `json:"url"`
	Scopes []string `json:"scopes"`
}

// Client talks to the Jira Cloud API for a stored connection. It refreshes
// expiring tokens lazily on request and retries per classifyAttempt.
type Client struct {
	oauth   *oauth2.Config
	apiBase string
	store   Store
	enc     Encryptor
	http    *http.Client
	log     zerolog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewClient(cfg config.Config, store Store, enc Encryptor, log zerolog.Logger) *Client {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 { timeout = defaultTimeout }
	redirect := cfg.JiraRedirectURI
	if redirect == "" { redirect = strings.TrimRight(cfg.PublicBaseURL, "/") + "/api/auth/jira/callback" }
	return &Client{
		oauth: &oauth2.Config{
			ClientID:     cfg.JiraClientID,
			ClientSecret: cfg.JiraClientSecret,
			RedirectURL:  redirect,
			Scopes:       oauthScopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.JiraAuthBaseURL + "/authorize",
				TokenURL:  cfg.JiraAuthBaseURL + "/oauth/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		apiBase: strings.TrimRight(cfg.JiraAPIBaseURL, "/"),
		store:   store,
		enc:     enc,
		http:    &http.Client{Timeout: timeout},
		log:     log,
		sleep:   sleepCtx,
	}
}

// AuthorizeURL builds the consent URL for the OAuth dance.
func (c *Client) AuthorizeURL(state string) string {
	return c.oauth.AuthCodeURL(state,
		oauth2.SetAuthURLParam("audience", "api.atlassian.com"),
		oauth2.SetAuthURLParam("prompt", "consent"))
}

// ExchangeCode trades an authorization code for tokens.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := c.oauth.Exchange(c.oauthCtx(ctx), code)
	if err != nil { return nil, &AuthError{Msg: fmt.Sprintf("code exchange failed: %v", err)} }
	return tok, nil
}

// AccessibleResources lists the Jira sites the access token can reach.
func (c *Client) AccessibleResources(ctx context.Context, accessToken string) ([]Resource, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+"/oauth/token/accessible-resources", nil)
	if err != nil { return nil, err }
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil { return nil, &APIError{Err: err} }
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return nil, &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	var out []Resource
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil { return nil, err }
	return out, nil
}

// EnsureValidToken returns a usable access token for the connection,
// refreshing and persisting first when the stored one is inside the expiry
// guard band. Concurrent refreshes are acceptable: the latest write wins and
// stale callers recover through the 401 path.
func (c *Client) EnsureValidToken(ctx context.Context, connectionID string) (string, error) {
	token, _, err := c.ensureValidToken(ctx, connectionID)
	return token, err
}

func (c *Client) ensureValidToken(ctx context.Context, connectionID string) (string, *domain.Connection, error) {
	conn, err := c.store.GetConnection(ctx, connectionID)
	if err != nil { return "", nil, &APIError{Err: fmt.Errorf("load connection %s: %w", connectionID, err)} }
	if conn == nil { return "", nil, &AuthError{ConnectionID: connectionID, Msg: "connection not found"} }

	if time.Until(conn.ExpiresAt) > tokenExpiryGuard {
		access, err := c.enc.Decrypt(conn.EncAccessToken)
		if err != nil { return "", nil, &AuthError{ConnectionID: connectionID, Msg: fmt.Sprintf("stored access token unreadable: %v", err)} }
		return access, conn, nil
	}

	c.log.Info().Str("connection_id", connectionID).Msg("token expiring, refreshing")
	refresh, err := c.enc.Decrypt(conn.EncRefreshToken)
	if err != nil { return "", nil, &AuthError{ConnectionID: connectionID, Msg: fmt.Sprintf("stored refresh token unreadable: %v", err)} }

	tok, err := c.oauth.TokenSource(c.oauthCtx(ctx), &oauth2.Token{RefreshToken: refresh}).Token()
	if err != nil { return "", nil, &AuthError{ConnectionID: connectionID, Msg: fmt.Sprintf("refresh failed: %v", err)} }

	encAccess, err := c.enc.Encrypt(tok.AccessToken)
	if err != nil { return "", nil, err }
	encRefresh := ""
	if tok.RefreshToken != "" && tok.RefreshToken != refresh {
		if encRefresh, err = c.enc.Encrypt(tok.RefreshToken); err != nil { return "", nil, err }
	}
	// persist before handing the token out so other callers see the new expiry
	if err := c.store.UpdateConnectionTokens(ctx, connectionID, encAccess, encRefresh, tok.Expiry); err != nil {
		return "", nil, &APIError{Err: fmt.Errorf("persist refreshed token: %w", err)}
	}
	conn.ExpiresAt = tok.Expiry
	return tok.AccessToken, conn, nil
}

// Request executes one authenticated API call against the connection's site.
// Retry behavior: 401 force-expires the stored token and refreshes once, 429
// sleeps the server's Retry-After hint, 5xx and transport errors back off
// exponentially, anything else fails fast. At most maxAttempts round trips.
// Request performs an authenticated call against an endpoint returning a
// JSON object. See doRaw for the retry semantics.
func (c *Client) Request(ctx context.Context, connectionID, method, endpoint string, params url.Values, body any) (map[string]any, error) {
	raw, err := c.doRaw(ctx, connectionID, method, endpoint, params, body)
	if err != nil { return nil, err }
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil { return nil, err }
	return out, nil
}

// RequestList is Request for endpoints that return a bare JSON array.
func (c *Client) RequestList(ctx context.Context, connectionID, method, endpoint string, params url.Values, body any) ([]any, error) {
	raw, err := c.doRaw(ctx, connectionID, method, endpoint, params, body)
	if err != nil { return nil, err }
	var out []any
	if err := json.Unmarshal(raw, &out); err != nil { return nil, err }
	return out, nil
}

func (c *Client) doRaw(ctx context.Context, connectionID, method, endpoint string, params url.Values, body any) ([]byte, error) {
	token, conn, err := c.ensureValidToken(ctx, connectionID)
	if err != nil { return nil, err }

	u := c.apiBase + "/ex/jira/" + conn.CloudID + endpoint
	if len(params) > 0 { u += "?" + params.Encode() }

	var payload []byte
	if body != nil {
		if payload, err = json.Marshal(body); err != nil { return nil, err }
	}

	refreshed := false
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		var r io.Reader
		if payload != nil { r = bytes.NewReader(payload) }
		req, err := http.NewRequestWithContext(ctx, method, u, r)
		if err != nil { return nil, err }
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		if payload != nil { req.Header.Set("Content-Type", "application/json") }

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = &APIError{Err: err}
			dec := classifyAttempt(attempt, nil, err)
			if !dec.Retry { return nil, lastErr }
			c.log.Warn().Err(err).Int("attempt", attempt+1).Dur("delay", dec.Delay).Msg("jira request failed, retrying")
			if err := c.sleep(ctx, dec.Delay); err != nil { return nil, err }
			continue
		}

		if resp.StatusCode == http.StatusUnauthorized {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if refreshed {
				return nil, &AuthError{ConnectionID: connectionID, Msg: "authentication failed after token refresh"}
			}
			refreshed = true
			c.log.Warn().Str("connection_id", connectionID).Msg("got 401, force-expiring token and refreshing")
			// write a past expiry so concurrent callers also see the token as stale
			if err := c.store.ExpireConnectionToken(ctx, connectionID); err != nil {
				return nil, &APIError{Err: fmt.Errorf("expire token: %w", err)}
			}
			if token, conn, err = c.ensureValidToken(ctx, connectionID); err != nil { return nil, err }
			continue
		}

		if resp.StatusCode >= 300 {
			b, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			dec := classifyAttempt(attempt, resp, nil)
			if !dec.Retry {
				if resp.StatusCode == http.StatusTooManyRequests {
					return nil, &RateLimitError{RetryAfter: retryAfterHint(resp)}
				}
				return nil, &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
			}
			lastErr = &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
			c.log.Warn().Int("status", resp.StatusCode).Int("attempt", attempt+1).Dur("delay", dec.Delay).Msg("jira request retrying")
			if err := c.sleep(ctx, dec.Delay); err != nil { return nil, err }
			continue
		}

		raw, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil { return nil, err }
		return raw, nil
	}
	if lastErr == nil { lastErr = &APIError{Err: fmt.Errorf("request failed after %d attempts", maxAttempts)} }
	return nil, lastErr
}

// oauthCtx routes the oauth2 package through the client's HTTP client.
func (c *Client) oauthCtx(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.http)
}
