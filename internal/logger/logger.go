/* Copyright (c) 2025 FlowCost Authors
 * SPDX-License-Identifier: BSD-3-Clause */

// Package logger builds the process-wide zerolog logger. Dev gets a human
// console writer; everything else emits JSON lines for log shipping.
package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ompatildesigns-ctrl/flowcost/internal/config"
)

func New(cfg config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel { level = zerolog.InfoLevel }

	var out zerolog.Logger
	if cfg.AppEnv == "dev" {
		out = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		zerolog.TimeFieldFormat = time.RFC3339
		out = zerolog.New(os.Stdout)
	}

	logger := out.Level(level).With().Timestamp().Str("service", "flowcost").Logger()
	log.Logger = logger
	return logger
}
