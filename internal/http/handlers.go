/* Copyright (c) 2025 FlowCost Authors
 * SPDX-License-Identifier: BSD-3-Clause */
package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/ompatildesigns-ctrl/flowcost/internal/adapters/jira"
	"github.com/ompatildesigns-ctrl/flowcost/internal/analytics"
	"github.com/ompatildesigns-ctrl/flowcost/internal/config"
	"github.com/ompatildesigns-ctrl/flowcost/internal/domain"
	"github.com/ompatildesigns-ctrl/flowcost/internal/services"
)

type service interface {
	AuthorizeURL(state string) string
	ConnectJira(ctx context.Context, code string) (*domain.Connection, error)
	RefreshConnection(ctx context.Context, connectionID string) error
	SyncIssues(ctx context.Context, connectionID string, sinceDays int) (int, error)
	SyncUsers(ctx context.Context, connectionID string) (int, error)
	FullSync(ctx context.Context, connectionID string) (int, error)
	SyncStats(ctx context.Context, connectionID string) (services.SyncStats, error)
	FindBottlenecks(ctx context.Context, connectionID string, days int) (analytics.BottleneckReport, error)
	CostOfDelay(ctx context.Context, connectionID string, days int) (analytics.CostOfDelayReport, error)
	TeamROI(ctx context.Context, connectionID string, days int) (analytics.TeamROIReport, error)
	OpportunityCost(ctx context.Context, connectionID string, days int) (analytics.OpportunityReport, error)
	BottleneckImpact(ctx context.Context, connectionID string, days int) (analytics.ImpactReport, error)
	FinancialSummary(ctx context.Context, connectionID string) (analytics.FinancialSummary, error)
	Insights(ctx context.Context, connectionID string, days int) ([]analytics.Insight, error)
	PeopleBottlenecks(ctx context.Context, connectionID string, days int) (analytics.PeopleReport, error)
	WorkloadDistribution(ctx context.Context, connectionID string) (analytics.WorkloadReport, error)
	CycleTimeAnalysis(ctx context.Context, connectionID string, days int) (analytics.CycleTimeReport, error)
	VelocityTrends(ctx context.Context, connectionID string, weeks int) (analytics.VelocityReport, error)
	TeamComparison(ctx context.Context, connectionID string, days int) (analytics.TeamComparisonReport, error)
}

type Handlers struct {
	cfg config.Config
	log zerolog.Logger
	svc service
}

func NewHandlers(cfg config.Config, log zerolog.Logger, svc any) *Handlers {
	return &Handlers{cfg: cfg, log: log, svc: svc.(service)}
}

func (h *Handlers) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// writeError maps the client error taxonomy onto HTTP statuses. An upstream
// failure is never disguised as an empty successful response.
func (h *Handlers) writeError(c *gin.Context, err error) {
	var authErr *jira.AuthError
	var rlErr *jira.RateLimitError
	var apiErr *jira.APIError
	switch {
	case errors.As(err, &authErr):
		c.JSON(http.StatusUnauthorized, gin.H{"error": authErr.Error()})
	case errors.As(err, &rlErr):
		c.Header("Retry-After", strconv.Itoa(int(rlErr.RetryAfter.Seconds())))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": rlErr.Error(), "retry_after_seconds": int(rlErr.RetryAfter.Seconds())})
	case errors.As(err, &apiErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": apiErr.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (h *Handlers) connectionID(c *gin.Context) (string, bool) {
	id := c.Query("connection_id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "connection_id is required"})
		return "", false
	}
	return id, true
}

func (h *Handlers) days(c *gin.Context, def int) int {
	v := c.Query("days")
	if v == "" { return def }
	n, err := strconv.Atoi(v)
	if err != nil { return def }
	return n
}

func (h *Handlers) Authorize(c *gin.Context) {
	state := c.Query("state")
	c.JSON(http.StatusOK, gin.H{"authorize_url": h.svc.AuthorizeURL(state)})
}

func (h *Handlers) Callback(c *gin.Context) {
	code := c.Query("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code is required"})
		return
	}
	conn, err := h.svc.ConnectJira(c.Request.Context(), code)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"connection_id": conn.ID,
		"site_url":      conn.SiteURL,
		"cloud_id":      conn.CloudID,
	})
}

func (h *Handlers) Refresh(c *gin.Context) {
	id, ok := h.connectionID(c)
	if !ok { return }
	if err := h.svc.RefreshConnection(c.Request.Context(), id); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "refreshed"})
}

func (h *Handlers) SyncStart(c *gin.Context) {
	id, ok := h.connectionID(c)
	if !ok { return }
	sinceDays := h.days(c, h.cfg.SyncSinceDays)
	// Detach from the request context so client disconnects don't kill a
	// long-running sync.
	go func() {
		ctx := context.Background()
		if _, err := h.svc.SyncIssues(ctx, id, sinceDays); err != nil {
			h.log.Error().Err(err).Str("connection_id", id).Msg("issue sync failed")
			return
		}
		if _, err := h.svc.SyncUsers(ctx, id); err != nil {
			h.log.Error().Err(err).Str("connection_id", id).Msg("user sync failed")
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "connection_id": id})
}

func (h *Handlers) SyncFull(c *gin.Context) {
	id, ok := h.connectionID(c)
	if !ok { return }
	go func() {
		if _, err := h.svc.FullSync(context.Background(), id); err != nil {
			h.log.Error().Err(err).Str("connection_id", id).Msg("full sync failed")
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "connection_id": id, "mode": "full"})
}

func (h *Handlers) SyncStats(c *gin.Context) {
	id, ok := h.connectionID(c)
	if !ok { return }
	stats, err := h.svc.SyncStats(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handlers) Bottlenecks(c *gin.Context) {
	id, ok := h.connectionID(c)
	if !ok { return }
	report, err := h.svc.FindBottlenecks(c.Request.Context(), id, h.days(c, 90))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handlers) CostOfDelay(c *gin.Context) {
	id, ok := h.connectionID(c)
	if !ok { return }
	report, err := h.svc.CostOfDelay(c.Request.Context(), id, h.days(c, 90))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handlers) TeamROI(c *gin.Context) {
	id, ok := h.connectionID(c)
	if !ok { return }
	report, err := h.svc.TeamROI(c.Request.Context(), id, h.days(c, 90))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handlers) OpportunityCost(c *gin.Context) {
	id, ok := h.connectionID(c)
	if !ok { return }
	report, err := h.svc.OpportunityCost(c.Request.Context(), id, h.days(c, 90))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handlers) BottleneckImpact(c *gin.Context) {
	id, ok := h.connectionID(c)
	if !ok { return }
	report, err := h.svc.BottleneckImpact(c.Request.Context(), id, h.days(c, 30))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handlers) FinancialSummary(c *gin.Context) {
	id, ok := h.connectionID(c)
	if !ok { return }
	report, err := h.svc.FinancialSummary(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handlers) Insights(c *gin.Context) {
	id, ok := h.connectionID(c)
	if !ok { return }
	insights, err := h.svc.Insights(c.Request.Context(), id, h.days(c, 90))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"insights": insights, "count": len(insights)})
}

func (h *Handlers) PeopleBottlenecks(c *gin.Context) {
	id, ok := h.connectionID(c)
	if !ok { return }
	report, err := h.svc.PeopleBottlenecks(c.Request.Context(), id, h.days(c, 90))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handlers) Workload(c *gin.Context) {
	id, ok := h.connectionID(c)
	if !ok { return }
	report, err := h.svc.WorkloadDistribution(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handlers) CycleTime(c *gin.Context) {
	id, ok := h.connectionID(c)
	if !ok { return }
	report, err := h.svc.CycleTimeAnalysis(c.Request.Context(), id, h.days(c, 90))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handlers) Velocity(c *gin.Context) {
	id, ok := h.connectionID(c)
	if !ok { return }
	weeks := analytics.DefaultVelocityWeeks
	if v := c.Query("weeks"); v != "" {
		if n, err := strconv.Atoi(v); err == nil { weeks = n }
	}
	report, err := h.svc.VelocityTrends(c.Request.Context(), id, weeks)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handlers) TeamComparison(c *gin.Context) {
	id, ok := h.connectionID(c)
	if !ok { return }
	report, err := h.svc.TeamComparison(c.Request.Context(), id, h.days(c, 90))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
