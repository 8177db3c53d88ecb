// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keystone Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/keystone-commerce/keystone/internal/auth"
	"github.com/keystone-commerce/keystone/internal/config"
	"github.com/keystone-commerce/keystone/internal/httpapi"
	"github.com/keystone-commerce/keystone/internal/observability"
	"github.com/keystone-commerce/keystone/pkg/errutil"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the credential API",
		Long: `Start the public HTTP API, the metrics and health listener, the email
dispatcher, and the periodic sweep of expired reset tokens.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, false)
			if err != nil {
				return err
			}
			logger, err := newLogger(cmd, cfg)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, logger)
		},
	}
}

// runServe blocks until ctx is cancelled or a listener fails, then shuts
// everything down within cfg.HTTP.ShutdownTimeout.
func runServe(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	obs := observability.NewServer(cfg.Metrics.Addr, logger)

	a, err := buildApp(ctx, cfg, logger, obs.AuthMetrics())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var obsErrs <-chan error
	if cfg.Metrics.Addr != "" {
		for name, check := range a.readiness {
			obs.AddReadinessCheck(name, check)
		}
		if obsErrs, err = obs.Start(); err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
			return err
		}
	}

	listener, err := net.Listen("tcp", cfg.HTTP.Addr)
	if err != nil {
		_ = a.Close(context.WithoutCancel(ctx))
		return oops.Code("HTTP_LISTEN_FAILED").With("addr", cfg.HTTP.Addr).Wrap(err)
	}
	srv := &http.Server{
		Handler:           httpapi.New(a.coordinator, logger).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpErrs := make(chan error, 1)
	go func() {
		defer close(httpErrs)
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErrs <- err
		}
	}()
	logger.Info("keystone ready", "addr", listener.Addr().String(), "metrics_addr", obs.Addr())

	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		sweepExpiredResets(ctx, a.coordinator, cfg.Reset.PurgeInterval, logger)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-httpErrs:
		runErr = oops.Code("HTTP_SERVE_FAILED").Wrap(err)
	case err := <-obsErrs:
		runErr = oops.Code("OBSERVABILITY_SERVE_FAILED").Wrap(err)
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", "error", err)
	}
	<-sweepDone
	if err := obs.Stop(shutdownCtx); err != nil {
		logger.Warn("observability shutdown incomplete", "error", err)
	}
	if err := a.Close(shutdownCtx); err != nil {
		errutil.LogError(shutdownCtx, logger, "resource cleanup failed", err)
	}
	logger.Info("shutdown complete")
	return runErr
}

// sweepExpiredResets deletes expired reset tokens every interval until ctx
// ends. A non-positive interval disables the sweep.
func sweepExpiredResets(ctx context.Context, coord *auth.Coordinator, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := coord.PurgeExpiredResets(ctx); err != nil {
				errutil.LogError(ctx, logger, "expired reset sweep failed", err)
			}
		}
	}
}
