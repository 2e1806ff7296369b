/* Copyright (c) 2025 FlowCost Authors
 * SPDX-License-Identifier: BSD-3-Clause */
package jira

import (
	"fmt"
	"time"
)

// AuthError means the token is invalid or expired beyond recovery. Callers
// must re-authorize the connection; retrying the request will not help.
type AuthError struct {
	ConnectionID string
	Msg          string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("jira auth: %s (connection %s)", e.Msg, e.ConnectionID)
}

// RateLimitError carries the server's wait hint so callers can defer the
// whole analysis and try again later.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("jira rate limit exceeded, retry after %s", e.RetryAfter)
}

// APIError is a non-recoverable upstream failure after the retry budget was
// exhausted, or a non-retryable status code.
type APIError struct {
	Status int
	Body   string
	Err    error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("jira api: %v", e.Err)
	}
	return fmt.Sprintf("jira api status=%d body=%s", e.Status, e.Body)
}

func (e *APIError) Unwrap() error { return e.Err }
