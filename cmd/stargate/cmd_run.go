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
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/Stargate/pkg/logging"
	"github.com/AleutianAI/Stargate/services/supervisor"
	"github.com/AleutianAI/Stargate/services/supervisor/config"
	"github.com/AleutianAI/Stargate/services/supervisor/control"
	"github.com/AleutianAI/Stargate/services/supervisor/host"
	"github.com/AleutianAI/Stargate/services/supervisor/telemetry"
)

func runRun(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if runChaos {
		cfg.Mode = config.ModeChaosLab
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tcfg := telemetry.DefaultConfig()
	tcfg.ServiceName = cfg.Telemetry.ServiceName
	tcfg.TraceExporter = cfg.Telemetry.Traces
	tcfg.MetricExporter = cfg.Telemetry.Metrics
	if cfg.Telemetry.OTLPEndpoint != "" {
		tcfg.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	}
	shutdown, err := telemetry.Init(ctx, tcfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			fmt.Fprintln(os.Stderr, "telemetry shutdown:", err)
		}
	}()

	metrics, err := telemetry.NewMetrics(otel.Meter("stargate"))
	if err != nil {
		return err
	}

	rt := host.NewRuntime(host.NewOSFiles(cfg.StateDir), cfg.FPS)
	sup, err := supervisor.New(supervisor.Options{
		Config:     cfg,
		Host:       rt,
		Machine:    os.Stdout,
		Human:      os.Stderr,
		NotifyRoot: cfg.StateDir,
		Logging: &logging.Config{
			Level:   logging.ParseLevel(cfg.MachineLevel()),
			LogDir:  cfg.Logging.Dir,
			Service: cfg.Telemetry.ServiceName,
			JSON:    cfg.Logging.JSON,
		},
		Metrics: metrics,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := sup.Close(); err != nil {
			fmt.Fprintln(os.Stderr, "supervisor close:", err)
		}
	}()
	logger := sup.Logger()

	events := control.NewBroadcaster(logger)
	sup.Subscribe(events)
	rt.OnBeforeTick(sup.Hook(newDemo(rt, logger, cfg.Mode == config.ModeChaosLab)))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		defer cancel()
		err := rt.Run(gctx, runFrames)
		if errors.Is(err, host.ErrQuit) || errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if cfg.Control.Enabled {
		srv := control.NewServer(control.Config{
			Controller:  sup,
			Events:      events,
			ServiceName: cfg.Telemetry.ServiceName,
			Logger:      logger,
		})
		g.Go(func() error { return srv.Serve(gctx, cfg.Control.Addr) })
	}

	logger.Info("stargate running",
		slog.String("mode", cfg.Mode),
		slog.Int("fps", cfg.FPS),
		slog.Int64("frames", runFrames))
	if err := g.Wait(); err != nil {
		return err
	}

	st := sup.Status()
	logger.Info("stargate stopped",
		slog.Int64("host_frame", st.HostFrame),
		slog.Int64("clock_frame", st.Clock.Frame),
		slog.String("state", st.Clock.State))
	return nil
}
