// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"fmt"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/lockbox/internal/store"
	"github.com/holomush/lockbox/pkg/lockbox"
)

func newMigrateCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending credential schema migrations",
		Long: `Apply all pending migrations to the PostgreSQL database named by
--database-url, store.database_url or $DATABASE_URL.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := root.openMigrator(cmd)
			if err != nil {
				return err
			}
			defer m.Close() //nolint:errcheck // migration result takes precedence

			if err := m.Up(); err != nil {
				return err
			}
			version, _, err := m.Version()
			if err != nil {
				return err
			}
			name, err := store.MigrationName(version)
			if err != nil {
				return err
			}
			cmd.Printf("Credential schema at version %d (%s)\n", version, name)
			return nil
		},
	}

	cmd.AddCommand(newMigrateStatusCmd(root))
	cmd.AddCommand(newMigrateForceCmd(root))
	return cmd
}

func newMigrateStatusCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := root.openMigrator(cmd)
			if err != nil {
				return err
			}
			defer m.Close() //nolint:errcheck // read-only command

			st, err := m.Status()
			if err != nil {
				return err
			}
			cmd.Print(formatMigrationStatus(st))
			return nil
		},
	}
}

func newMigrateForceCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "force <version>",
		Short: "Mark a version as applied after repairing a dirty schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := parseForceVersion(args[0])
			if err != nil {
				return err
			}
			m, err := root.openMigrator(cmd)
			if err != nil {
				return err
			}
			defer m.Close() //nolint:errcheck // force result takes precedence

			if err := m.Force(version); err != nil {
				return err
			}
			cmd.Printf("Credential schema forced to version %d\n", version)
			return nil
		},
	}
}

func (o *rootOptions) openMigrator(cmd *cobra.Command) (*store.Migrator, error) {
	cfg, logger, err := o.load(cmd)
	if err != nil {
		return nil, err
	}
	if cfg.Store.DatabaseURL == "" {
		return nil, oops.Code("CONFIG_INVALID").
			With("field", "store.database_url").
			Errorf("a database URL is required: set --database-url, store.database_url or %s", lockbox.DatabaseURLEnv)
	}
	return store.NewMigrator(cfg.Store.DatabaseURL, logger)
}

// parseForceVersion reads a version number; input after the leading digits
// is ignored.
func parseForceVersion(s string) (int, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return 0, oops.Code("INVALID_VERSION").Errorf("version is required")
	}
	var version int
	if _, err := fmt.Sscanf(trimmed, "%d", &version); err != nil {
		return 0, oops.Code("INVALID_VERSION").With("input", s).Wrap(err)
	}
	if version < 0 {
		return 0, oops.Code("INVALID_VERSION").Errorf("version must be non-negative, got %d", version)
	}
	return version, nil
}

func formatMigrationStatus(st store.Status) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current version: %d", st.Current)
	if st.Dirty {
		b.WriteString(" (dirty)")
	}
	b.WriteString("\n")
	if len(st.Pending) == 0 {
		b.WriteString("No pending migrations\n")
		return b.String()
	}
	b.WriteString("Pending:\n")
	for _, v := range st.Pending {
		name, err := store.MigrationName(v)
		if err != nil || name == "" {
			name = fmt.Sprintf("%06d", v)
		}
		fmt.Fprintf(&b, "  %s\n", name)
	}
	return b.String()
}
