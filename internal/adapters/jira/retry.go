/* Copyright (c) 2025 FlowCost Authors
 * SPDX-License-Identifier: BSD-3-Clause */
package jira

import (
	"context"
	"net/http"
	"strconv"
	"time"
)

const (
	maxAttempts       = 3
	defaultRetryAfter = 60 * time.Second
)

// retryDecision tells the request loop what to do with a failed attempt.
type retryDecision struct {
	Retry bool
	Delay time.Duration
}

// classifyAttempt maps a response (or transport error) to a retry decision.
// attempt is zero-based. 401 is not handled here: it needs a token refresh
// between attempts and is resolved by the request loop itself.
func classifyAttempt(attempt int, resp *http.Response, err error) retryDecision {
	last := attempt >= maxAttempts-1
	if err != nil {
		// network or timeout
		return retryDecision{Retry: !last, Delay: backoffDelay(attempt)}
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return retryDecision{Retry: !last, Delay: retryAfterHint(resp)}
	case resp.StatusCode >= 500:
		return retryDecision{Retry: !last, Delay: backoffDelay(attempt)}
	default:
		// all other non-2xx fail immediately
		return retryDecision{Retry: false}
	}
}

// backoffDelay is the exponential backoff for attempts 0,1,2: 1s, 2s, 4s.
func backoffDelay(attempt int) time.Duration {
	return time.Duration(1<<attempt) * time.Second
}

// retryAfterHint reads the Retry-After header (seconds).
func retryAfterHint(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultRetryAfter
}

// sleepCtx waits for d or until the context is cancelled. The client keeps it
// as a field so tests can run without real sleeps.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 { return ctx.Err() }
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
