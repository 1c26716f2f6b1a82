// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"github.com/spf13/cobra"
)

type lockedConfig struct {
	jsonOutput bool
}

func newLockedCmd(root *rootOptions) *cobra.Command {
	cfg := &lockedConfig{}

	cmd := &cobra.Command{
		Use:   "locked",
		Short: "List accounts that are locked now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			vault, err := root.openVault(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer vault.Close() //nolint:errcheck // Close never fails

			accounts, err := vault.LockedAccounts(cmd.Context())
			if err != nil {
				return err
			}
			if len(accounts) == 0 && !cfg.jsonOutput {
				cmd.Println("No locked accounts")
				return nil
			}
			reports := make([]AccountReport, 0, len(accounts))
			for _, st := range accounts {
				reports = append(reports, reportOf(st))
			}
			if cfg.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), reports)
			}
			return printTable(cmd.OutOrStdout(), reports)
		},
	}

	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output as JSON")
	return cmd
}
