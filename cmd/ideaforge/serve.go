// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/SSJ-07/IB-Research-System-v2-sub000/pkg/logging"
	"github.com/SSJ-07/IB-Research-System-v2-sub000/services/explorer/config"
	"github.com/SSJ-07/IB-Research-System-v2-sub000/services/explorer/observability"
	"github.com/SSJ-07/IB-Research-System-v2-sub000/services/explorer/server"
	"github.com/SSJ-07/IB-Research-System-v2-sub000/services/explorer/telemetry"
)

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logs := logging.New(cfg.Logging)
	defer logs.Close()
	logger := logs.Slog()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	telemetryCfg := telemetryConfig(cfg, os.Stderr)
	telemetryCfg.Registerer = reg
	shutdownTelemetry, err := telemetry.Init(ctx, telemetryCfg)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logger.Warn("Telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	o, err := newOracles(cfg, logger)
	if err != nil {
		return err
	}

	metrics := observability.NewMetrics(reg)
	manager := server.NewManager(
		engineFactory(cfg, o, tracesEnabled(cfg), logger),
		metrics, logger, cfg.Server.MaxSessions)

	srv := server.New(manager, metrics, server.Options{
		ServiceName: cfg.Telemetry.ServiceName,
		Gatherer:    reg,
		EventBuffer: cfg.Explorer.EventBuffer,
		Logger:      logger,
	})

	if configPath != "" {
		go watchLogLevel(ctx, logs, logger)
	}

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.Router(),
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting ideaforge server", slog.String("address", cfg.Server.Addr))
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			manager.Close(context.Background())
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("Shutting down ideaforge server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", slog.String("error", err.Error()))
	}
	manager.Close(shutdownCtx)
	return nil
}

// watchLogLevel applies log level changes from the config file until ctx
// is done. Other settings need a restart.
func watchLogLevel(ctx context.Context, logs *logging.Logger, logger *slog.Logger) {
	err := config.Watch(ctx, configPath, logger, func(next config.Config) {
		if err := logs.SetLevel(next.Logging.Level); err != nil {
			logger.Warn("Ignoring log level from reloaded config", slog.String("error", err.Error()))
			return
		}
		logger.Info("Log level reloaded", slog.String("level", next.Logging.Level))
	})
	if err != nil {
		logger.Warn("Config watch stopped", slog.String("error", err.Error()))
	}
}

// telemetryConfig maps the telemetry section onto exporter settings. Debug
// dumps go to w.
func telemetryConfig(cfg config.Config, w io.Writer) telemetry.Config {
	tc := telemetry.Config{
		ServiceName:  cfg.Telemetry.ServiceName,
		OTLPEndpoint: cfg.Telemetry.OTelEndpoint,
	}
	if cfg.Telemetry.TraceStdout && tc.OTLPEndpoint == "" {
		tc.TraceWriter = w
	}
	if cfg.Telemetry.MetricsStdout {
		tc.MetricWriter = w
	}
	return tc
}

func tracesEnabled(cfg config.Config) bool {
	return cfg.Telemetry.OTelEndpoint != "" || cfg.Telemetry.TraceStdout
}
