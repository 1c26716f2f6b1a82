// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"github.com/spf13/cobra"
)

func newUnlockCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "unlock <username>",
		Short: "Clear the failed attempts of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vault, err := root.openVault(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer vault.Close() //nolint:errcheck // Close never fails

			if err := vault.Unlock(cmd.Context(), args[0]); err != nil {
				return err
			}
			cmd.Printf("Unlocked %s\n", args[0])
			return nil
		},
	}
}
