/* Copyright (c) 2025 FlowCost Authors
 * SPDX-License-Identifier: BSD-3-Clause */
package http

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/ompatildesigns-ctrl/flowcost/internal/config"
)

func NewRouter(cfg config.Config, log zerolog.Logger, svc any) *gin.Engine {
	if cfg.AppEnv != "dev" { gin.SetMode(gin.ReleaseMode) }
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(func(c *gin.Context) {
		c.Next()
		log.Info().Str("m", c.Request.Method).Str("p", c.FullPath()).Int("s", c.Writer.Status()).Msg("http")
	})

	h := NewHandlers(cfg, log, svc)

	r.GET("/healthz", h.Healthz)

	api := r.Group("/api")
	{
		api.GET("/health", h.Healthz)

		api.GET("/auth/jira/authorize", h.Authorize)
		api.GET("/auth/jira/callback", h.Callback)
		api.POST("/auth/jira/refresh", h.Refresh)

		api.POST("/sync/start", h.SyncStart)
		api.POST("/sync/full", h.SyncFull)
		api.GET("/sync/stats", h.SyncStats)

		api.GET("/analytics/bottlenecks", h.Bottlenecks)
		api.GET("/analytics/workload", h.Workload)
		api.GET("/analytics/cycle-time", h.CycleTime)
		api.GET("/analytics/velocity", h.Velocity)
		api.GET("/investigation/team-comparison", h.TeamComparison)
		api.GET("/insights", h.Insights)
		api.GET("/people/bottlenecks", h.PeopleBottlenecks)

		api.GET("/financial/cost-of-delay", h.CostOfDelay)
		api.GET("/financial/team-roi", h.TeamROI)
		api.GET("/financial/opportunity-cost", h.OpportunityCost)
		api.GET("/financial/bottleneck-impact", h.BottleneckImpact)
		api.GET("/financial/summary", h.FinancialSummary)
	}

	return r
}
