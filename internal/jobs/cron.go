/* Copyright (c) 2025 FlowCost Authors
 * SPDX-License-Identifier: BSD-3-Clause */
package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/ompatildesigns-ctrl/flowcost/internal/adapters/jira"
	"github.com/ompatildesigns-ctrl/flowcost/internal/config"
	"github.com/ompatildesigns-ctrl/flowcost/internal/domain"
	"github.com/ompatildesigns-ctrl/flowcost/internal/repo"
)

type service interface {
	SyncIssues(ctx context.Context, connectionID string, sinceDays int) (int, error)
	SyncUsers(ctx context.Context, connectionID string) (int, error)
	FullSync(ctx context.Context, connectionID string) (int, error)
}

type connLister interface {
	ListConnections(ctx context.Context) ([]domain.Connection, error)
	TryAdvisoryLock(ctx context.Context, key int64) (bool, error)
	AdvisoryUnlock(ctx context.Context, key int64) error
}

type Cron struct {
	cfg  config.Config
	log  zerolog.Logger
	svc  service
	repo connLister
	c    *cron.Cron
}

func NewCron(cfg config.Config, log zerolog.Logger, svc service, r *repo.Repository) *Cron {
	loc, _ := time.LoadLocation(cfg.TZ)
	c := cron.New(cron.WithLocation(loc), cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow)))
	cr := &Cron{cfg: cfg, log: log, svc: svc, repo: r, c: c}
	_, _ = c.AddFunc(cfg.SyncCron, cr.deltaSync)
	_, _ = c.AddFunc(cfg.FullSyncCron, cr.fullSync)
	return cr
}

func (cr *Cron) Start() { cr.c.Start() }
func (cr *Cron) Stop()  { cr.c.Stop() }

// deltaSync refreshes every connection's issue and user data. The advisory
// lock keeps multiple instances from syncing concurrently; a rate-limited
// connection is skipped and picked up again on the next tick.
func (cr *Cron) deltaSync() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()
	const lockKey int64 = 731031
	ok, err := cr.repo.TryAdvisoryLock(ctx, lockKey)
	if err != nil { cr.log.Error().Err(err).Msg("cron: lock error"); return }
	if !ok { cr.log.Info().Msg("cron: already running elsewhere"); return }
	defer func() { _ = cr.repo.AdvisoryUnlock(context.Background(), lockKey) }()

	conns, err := cr.repo.ListConnections(ctx)
	if err != nil { cr.log.Error().Err(err).Msg("cron: list connections failed"); return }

	for _, conn := range conns {
		n, err := cr.svc.SyncIssues(ctx, conn.ID, cr.cfg.SyncSinceDays)
		if err != nil {
			var rl *jira.RateLimitError
			if errors.As(err, &rl) {
				cr.log.Warn().Str("connection_id", conn.ID).Dur("retry_after", rl.RetryAfter).Msg("cron: rate limited, deferring to next tick")
				continue
			}
			cr.log.Error().Err(err).Str("connection_id", conn.ID).Msg("cron: issue sync failed")
			continue
		}
		if _, err := cr.svc.SyncUsers(ctx, conn.ID); err != nil {
			cr.log.Error().Err(err).Str("connection_id", conn.ID).Msg("cron: user sync failed")
		}
		cr.log.Info().Str("connection_id", conn.ID).Int("issues", n).Msg("cron: delta sync done")
	}
}

// fullSync rebuilds every connection's dataset on the nightly schedule.
func (cr *Cron) fullSync() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Hour)
	defer cancel()
	const lockKey int64 = 731032
	ok, err := cr.repo.TryAdvisoryLock(ctx, lockKey)
	if err != nil { cr.log.Error().Err(err).Msg("cron: lock error"); return }
	if !ok { cr.log.Info().Msg("cron: full sync already running elsewhere"); return }
	defer func() { _ = cr.repo.AdvisoryUnlock(context.Background(), lockKey) }()

	conns, err := cr.repo.ListConnections(ctx)
	if err != nil { cr.log.Error().Err(err).Msg("cron: list connections failed"); return }
	cr.fullSyncAll(ctx, conns)
}

// fullSyncAll fans connections out over a bounded worker pool.
func (cr *Cron) fullSyncAll(ctx context.Context, conns []domain.Connection) {
	workers := cr.cfg.WorkersSync
	if workers < 1 { workers = 1 }

	jobs := make(chan domain.Connection)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for conn := range jobs {
				n, err := cr.svc.FullSync(ctx, conn.ID)
				if err != nil {
					cr.log.Error().Err(err).Str("connection_id", conn.ID).Msg("cron: full sync failed")
					continue
				}
				cr.log.Info().Str("connection_id", conn.ID).Int("issues", n).Msg("cron: full sync done")
			}
		}()
	}
	for _, conn := range conns { jobs <- conn }
	close(jobs)
	wg.Wait()
}
