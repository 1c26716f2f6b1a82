// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/holomush/lockbox/internal/logging"
	"github.com/holomush/lockbox/internal/xdg"
	"github.com/holomush/lockbox/pkg/errutil"
	"github.com/holomush/lockbox/pkg/lockbox"
)

// rootOptions holds the global flags shared by every subcommand.
type rootOptions struct {
	configFile string
}

// NewRootCmd creates the root command for the lockbox CLI.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "lockbox",
		Short: "lockbox - local credential store with brute-force protection",
		Long: `lockbox stores salted argon2id password hashes and locks accounts
after repeated failed logins. These commands inspect and repair the store.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file path (default $XDG_CONFIG_HOME/lockbox/config.yaml when present)")
	lockbox.BindFlags(cmd.PersistentFlags())

	cmd.AddCommand(newMigrateCmd(opts))
	cmd.AddCommand(newStatusCmd(opts))
	cmd.AddCommand(newUnlockCmd(opts))
	cmd.AddCommand(newLockedCmd(opts))
	cmd.AddCommand(newServeCmd(opts))

	return cmd
}

// load resolves the configuration for cmd and builds its logger.
func (o *rootOptions) load(cmd *cobra.Command) (lockbox.Config, *slog.Logger, error) {
	path := o.configFile
	if path == "" {
		found, err := xdg.FindConfigFile()
		if err != nil {
			return lockbox.Config{}, nil, err
		}
		path = found
	}
	cfg, err := lockbox.LoadConfig(path, cmd.Flags())
	if err != nil {
		return lockbox.Config{}, nil, err
	}
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return lockbox.Config{}, nil, err
	}
	logger := logging.New(logging.Options{
		Service: "lockbox",
		Version: version,
		Format:  cfg.Log.Format,
		Level:   level,
	}, cmd.ErrOrStderr())
	return cfg, logger, nil
}

// openVault opens and initializes the configured store. The caller closes it.
func (o *rootOptions) openVault(ctx context.Context, cmd *cobra.Command) (*lockbox.Vault, error) {
	cfg, logger, err := o.load(cmd)
	if err != nil {
		return nil, err
	}
	vault, err := lockbox.Open(ctx, cfg, lockbox.WithLogger(logger))
	if err != nil {
		errutil.LogError(logger, "open credential store", err)
		return nil, err
	}
	if err := vault.Initialize(ctx); err != nil {
		_ = vault.Close() //nolint:errcheck // initialization error takes precedence
		return nil, err
	}
	return vault, nil
}
