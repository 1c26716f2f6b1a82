// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"fmt"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/holomush/lockbox/internal/observability"
	"github.com/holomush/lockbox/pkg/errutil"
	"github.com/holomush/lockbox/pkg/lockbox"
)

const shutdownTimeout = 5 * time.Second

type serveConfig struct {
	metricsAddr string
}

func newServeCmd(root *rootOptions) *cobra.Command {
	cfg := &serveConfig{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Hold the store open and expose metrics and health probes",
		Long: `serve opens the configured store and serves Prometheus metrics on
/metrics with liveness and readiness probes under /healthz until interrupted.
Readiness turns green once the store is initialized and the hash engine is ready.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, root, cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.metricsAddr, "metrics-addr", "127.0.0.1:9100", "metrics and health listen address")
	return cmd
}

func runServe(cmd *cobra.Command, root *rootOptions, cfg *serveConfig) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	lbCfg, logger, err := root.load(cmd)
	if err != nil {
		return err
	}

	var (
		vault       *lockbox.Vault
		initialized atomic.Bool
	)
	srv := observability.NewServer(cfg.metricsAddr, func() bool {
		return initialized.Load() && vault.Ready()
	}, logger)

	vault, err = lockbox.Open(ctx, lbCfg, lockbox.WithLogger(logger), lockbox.WithRegisterer(srv.Registry()))
	if err != nil {
		errutil.LogError(logger, "open credential store", err)
		return err
	}
	defer vault.Close() //nolint:errcheck // Close never fails

	errCh, err := srv.Start()
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if stopErr := srv.Stop(shutdownCtx); stopErr != nil {
			errutil.LogError(logger, "stop observability server", stopErr)
		}
	}()
	fmt.Fprintf(cmd.OutOrStdout(), "Serving metrics on http://%s%s\n", srv.Addr(), observability.MetricsPath)

	if err := vault.Initialize(ctx); err != nil {
		return err
	}
	initialized.Store(true)

	select {
	case <-ctx.Done():
		logger.Info("shutting down", "reason", context.Cause(ctx))
		return nil
	case err := <-errCh:
		if err != nil {
			return err
		}
		return nil
	}
}
