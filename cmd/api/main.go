/* Copyright (c) 2025 FlowCost Authors
 * SPDX-License-Identifier: BSD-3-Clause */
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ompatildesigns-ctrl/flowcost/internal/adapters/jira"
	"github.com/ompatildesigns-ctrl/flowcost/internal/config"
	"github.com/ompatildesigns-ctrl/flowcost/internal/crypto"
	httpx "github.com/ompatildesigns-ctrl/flowcost/internal/http"
	"github.com/ompatildesigns-ctrl/flowcost/internal/jobs"
	"github.com/ompatildesigns-ctrl/flowcost/internal/logger"
	"github.com/ompatildesigns-ctrl/flowcost/internal/repo"
	"github.com/ompatildesigns-ctrl/flowcost/internal/services"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db := repo.MustOpen(ctx, cfg, log)
	defer db.Close()
	repository := repo.NewRepository(db, log)

	// Token encryption
	enc, err := crypto.NewEncryptor(cfg.JiraEncKey)
	if err != nil { log.Fatal().Err(err).Msg("invalid JIRA_ENC_KEY") }

	// Adapters
	jc := jira.NewClient(cfg, repository, enc, log)

	// Services
	svc := services.NewService(cfg, log, repository, jc, enc)

	// HTTP server (Gin)
	router := httpx.NewRouter(cfg, log, svc)

	// Cron
	cr := jobs.NewCron(cfg, log, svc, repository)
	cr.Start()
	defer cr.Stop()

	// graceful shutdown
	errCh := make(chan error, 1)
	go func() { errCh <- router.Run(cfg.HTTPAddr) }()
	log.Info().Str("addr", cfg.HTTPAddr).Msg("listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info().Msg("shutting down...")
	case err := <-errCh:
		if err != nil { log.Error().Err(err).Msg("http server error") }
	}

	time.Sleep(500 * time.Millisecond)
}
