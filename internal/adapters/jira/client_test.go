/* Copyright (c) 2025 FlowCost Authors
 * SPDX-License-Identifier: BSD-3-Clause */
package jira

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ompatildesigns-ctrl/flowcost/internal/config"
	"github.com/ompatildesigns-ctrl/flowcost/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeEncryptor struct{}

func (fakeEncryptor) Encrypt(s string) (string, error) { return "enc(" + s + ")", nil }
func (fakeEncryptor) Decrypt(s string) (string, error) {
	if !strings.HasPrefix(s, "enc(") || !strings.HasSuffix(s, ")") {
		return "", errors.New("bad ciphertext")
	}
	return strings.TrimSuffix(strings.TrimPrefix(s, "enc("), ")"), nil
}

type fakeStore struct {
	conn    *domain.Connection
	expired bool
	updates int
}

func (s *fakeStore) GetConnection(ctx context.Context, id string) (*domain.Connection, error) {
	if s.conn == nil || s.conn.ID != id { return nil, nil }
	c := *s.conn
	return &c, nil
}

func (s *fakeStore) UpdateConnectionTokens(ctx context.Context, id, encAccess, encRefresh string, expiresAt time.Time) error {
	s.updates++
	s.conn.EncAccessToken = encAccess
	if encRefresh != "" { s.conn.EncRefreshToken = encRefresh }
	s.conn.ExpiresAt = expiresAt
	return nil
}

func (s *fakeStore) ExpireConnectionToken(ctx context.Context, id string) error {
	s.expired = true
	s.conn.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	return nil
}

func newTestClient(t *testing.T, apiURL, authURL string, store Store) (*Client, *[]time.Duration) {
	t.Helper()
	cfg := config.Config{
		JiraClientID:     "client-id",
		JiraClientSecret: "client-secret",
		JiraRedirectURI:  "http://localhost/callback",
		JiraAuthBaseURL:  authURL,
		JiraAPIBaseURL:   apiURL,
		HTTPTimeout:      5 * time.Second,
	}
	c := NewClient(cfg, store, fakeEncryptor{}, zerolog.Nop())
	slept := &[]time.Duration{}
	c.sleep = func(ctx context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return nil
	}
	return c, slept
}

func validConn() *domain.Connection {
	return &domain.Connection{
		ID:              "conn-1",
		CloudID:         "cloud-1",
		EncAccessToken:  "enc(tok-1)",
		EncRefreshToken: "enc(refresh-1)",
		ExpiresAt:       time.Now().UTC().Add(time.Hour),
	}
}

func tokenServer(t *testing.T, accessToken string, hits *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/oauth/token") {
			http.NotFound(w, r)
			return
		}
		atomic.AddInt32(hits, 1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":%q,"refresh_token":"refresh-2","expires_in":3600,"token_type":"Bearer"}`, accessToken)
	}))
}

func TestRequest_RateLimitHonorsRetryAfter(t *testing.T) {
	var calls int32
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "5")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"total": 42}`)
	}))
	defer api.Close()

	store := &fakeStore{conn: validConn()}
	c, slept := newTestClient(t, api.URL, "http://auth.invalid", store)

	out, err := c.Request(context.Background(), "conn-1", http.MethodGet, "/rest/api/3/search", nil, nil)
	require.NoError(t, err)
	require.Equal(t, float64(42), out["total"])
	require.Equal(t, int32(2), calls)
	require.Equal(t, []time.Duration{5 * time.Second}, *slept)
}

func TestRequest_RateLimitExhaustsBudget(t *testing.T) {
	var calls int32
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer api.Close()

	store := &fakeStore{conn: validConn()}
	c, slept := newTestClient(t, api.URL, "http://auth.invalid", store)

	_, err := c.Request(context.Background(), "conn-1", http.MethodGet, "/rest/api/3/search", nil, nil)
	var rateErr *RateLimitError
	require.ErrorAs(t, err, &rateErr)
	require.Equal(t, 7*time.Second, rateErr.RetryAfter)
	require.Equal(t, int32(maxAttempts), calls)
	require.Equal(t, []time.Duration{7 * time.Second, 7 * time.Second}, *slept)
}

func TestRequest_ServerErrorExponentialBackoff(t *testing.T) {
	var calls int32
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"ok": true}`)
	}))
	defer api.Close()

	store := &fakeStore{conn: validConn()}
	c, slept := newTestClient(t, api.URL, "http://auth.invalid", store)

	out, err := c.Request(context.Background(), "conn-1", http.MethodGet, "/rest/api/3/myself", nil, nil)
	require.NoError(t, err)
	require.Equal(t, true, out["ok"])
	require.Equal(t, []time.Duration{1 * time.Second, 2 * time.Second}, *slept)
}

func TestRequest_UnauthorizedRefreshesOnce(t *testing.T) {
	var tokenHits int32
	auth := tokenServer(t, "tok-2", &tokenHits)
	defer auth.Close()

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		require.Equal(t, "Bearer tok-2", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"ok": true}`)
	}))
	defer api.Close()

	store := &fakeStore{conn: validConn()}
	c, _ := newTestClient(t, api.URL, auth.URL, store)

	out, err := c.Request(context.Background(), "conn-1", http.MethodGet, "/rest/api/3/search", nil, nil)
	require.NoError(t, err)
	require.Equal(t, true, out["ok"])
	require.True(t, store.expired, "401 must force-expire the stored token")
	require.Equal(t, int32(1), tokenHits)
	require.Equal(t, "enc(tok-2)", store.conn.EncAccessToken, "refreshed token must be persisted encrypted")
}

func TestRequest_SecondUnauthorizedIsFatal(t *testing.T) {
	var tokenHits int32
	auth := tokenServer(t, "tok-2", &tokenHits)
	defer auth.Close()

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer api.Close()

	store := &fakeStore{conn: validConn()}
	c, _ := newTestClient(t, api.URL, auth.URL, store)

	_, err := c.Request(context.Background(), "conn-1", http.MethodGet, "/rest/api/3/search", nil, nil)
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
}

func TestRequest_ClientErrorFailsFast(t *testing.T) {
	var calls int32
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer api.Close()

	store := &fakeStore{conn: validConn()}
	c, slept := newTestClient(t, api.URL, "http://auth.invalid", store)

	_, err := c.Request(context.Background(), "conn-1", http.MethodGet, "/rest/api/3/nope", nil, nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusNotFound, apiErr.Status)
	require.Equal(t, int32(1), calls)
	require.Empty(t, *slept)
}

func TestRequest_UnknownConnection(t *testing.T) {
	store := &fakeStore{}
	c, _ := newTestClient(t, "http://api.invalid", "http://auth.invalid", store)
	_, err := c.Request(context.Background(), "missing", http.MethodGet, "/rest/api/3/search", nil, nil)
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
}

func TestEnsureValidToken_RefreshInsideGuardBand(t *testing.T) {
	var tokenHits int32
	auth := tokenServer(t, "tok-fresh", &tokenHits)
	defer auth.Close()

	conn := validConn()
	conn.ExpiresAt = time.Now().UTC().Add(2 * time.Minute) // inside the 5m guard
	store := &fakeStore{conn: conn}
	c, _ := newTestClient(t, "http://api.invalid", auth.URL, store)

	tok, err := c.EnsureValidToken(context.Background(), "conn-1")
	require.NoError(t, err)
	require.Equal(t, "tok-fresh", tok)
	require.Equal(t, int32(1), tokenHits)
	require.Equal(t, 1, store.updates, "refresh must persist before returning")
	require.True(t, store.conn.ExpiresAt.After(time.Now().Add(30*time.Minute)))
}

func TestEnsureValidToken_FreshTokenNotRefreshed(t *testing.T) {
	var tokenHits int32
	auth := tokenServer(t, "unused", &tokenHits)
	defer auth.Close()

	store := &fakeStore{conn: validConn()}
	c, _ := newTestClient(t, "http://api.invalid", auth.URL, store)

	tok, err := c.EnsureValidToken(context.Background(), "conn-1")
	require.NoError(t, err)
	require.Equal(t, "tok-1", tok)
	require.Equal(t, int32(0), tokenHits)
}

func TestAuthorizeURL(t *testing.T) {
	store := &fakeStore{}
	c, _ := newTestClient(t, "http://api.invalid", "https://auth.example.com", store)
	raw := c.AuthorizeURL("state-123")
	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()
	require.Equal(t, "client-id", q.Get("client_id"))
	require.Equal(t, "state-123", q.Get("state"))
	require.Equal(t, "api.atlassian.com", q.Get("audience"))
	require.Equal(t, "consent", q.Get("prompt"))
	require.Contains(t, q.Get("scope"), "read:jira-work")
}
