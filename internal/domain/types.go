/* Copyright (c) 2025 FlowCost Authors
 * SPDX-License-Identifier: BSD-3-Clause */
package domain

import "time"

// TerminalStatuses are statuses that end an issue's lifecycle. Issues in any
// other status count as active work.
var TerminalStatuses = []string{"Done", "Resolved", "Closed", "Cancelled"}

type Issue struct {
	ID           int64
	ConnectionID string
	Key          string
	Project      string
	Summary      string
	Type         string
	Priority     string
	Status       string
	Assignee     string // account id, empty when unassigned
	AssigneeName string
	Created      *time.Time
	Updated      *time.Time
	Resolved     *time.Time
}

// Active reports whether the issue is not in a terminal status.
func (i Issue) Active() bool {
	for _, s := range TerminalStatuses {
		if i.Status == s {
			return false
		}
	}
	return true
}

type Person struct {
	ID           int64
	ConnectionID string
	AccountID    string
	DisplayName  string
	Email        string
	Active       bool
}

// Connection is one tenant's link to a Jira Cloud site. Tokens are stored
// encrypted; ExpiresAt drives the client's refresh guard band.
type Connection struct {
	ID              string
	UserID          string
	SiteURL         string
	CloudID         string
	Scopes          []string
	EncAccessToken  string
	EncRefreshToken string
	ExpiresAt       time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
	LastFullSyncAt  *time.Time
	LastDeltaSyncAt *time.Time
}

// Role is an assignee's cost classification. It is injected configuration
// (a roster keyed by account id), never inferred from the person's name.
type Role string

const (
	RoleContractor Role = "contractor"
	RoleInternal   Role = "internal"
	RoleUnknown    Role = "unknown"
)

// Roster maps person identifiers to roles.
type Roster map[string]Role

func (r Roster) RoleOf(accountID string) Role {
	if accountID == "" {
		return RoleUnknown
	}
	if role, ok := r[accountID]; ok {
		return role
	}
	return RoleUnknown
}

// RoleLabel is the human-readable name used in reports.
func RoleLabel(role Role) string {
	switch role {
	case RoleContractor:
		return "Contractors"
	case RoleInternal:
		return "Internal Team"
	}
	return "Unknown Team"
}
