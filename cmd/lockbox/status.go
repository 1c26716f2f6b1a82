// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/holomush/lockbox/pkg/lockbox"
)

// AccountReport is the printable form of an account's lockout state.
type AccountReport struct {
	Username          string     `json:"username"`
	Exists            bool       `json:"exists"`
	Locked            bool       `json:"locked"`
	FailedAttempts    uint32     `json:"failed_attempts"`
	LastAttemptAt     *time.Time `json:"last_attempt_at,omitempty"`
	RetryAfterSeconds int64      `json:"retry_after_seconds,omitempty"`
}

func reportOf(st lockbox.AccountStatus) AccountReport {
	return AccountReport{
		Username:          st.Username,
		Exists:            st.Exists,
		Locked:            st.Locked,
		FailedAttempts:    st.FailedAttempts,
		LastAttemptAt:     st.LastAttemptAt,
		RetryAfterSeconds: int64(st.RetryAfter.Round(time.Second) / time.Second),
	}
}

type statusConfig struct {
	jsonOutput bool
}

func newStatusCmd(root *rootOptions) *cobra.Command {
	cfg := &statusConfig{}

	cmd := &cobra.Command{
		Use:   "status <username>",
		Short: "Show the lockout state of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vault, err := root.openVault(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer vault.Close() //nolint:errcheck // Close never fails

			st, err := vault.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			report := reportOf(st)
			if cfg.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), report)
			}
			return printTable(cmd.OutOrStdout(), []AccountReport{report})
		},
	}

	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output status as JSON")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v) //nolint:wrapcheck // write errors surface as-is
}

func printTable(w io.Writer, reports []AccountReport) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "USERNAME\tEXISTS\tLOCKED\tFAILED\tLAST ATTEMPT\tRETRY AFTER")
	for _, r := range reports {
		last := "-"
		if r.LastAttemptAt != nil {
			last = r.LastAttemptAt.UTC().Format(time.RFC3339)
		}
		retry := "-"
		if r.Locked {
			retry = (time.Duration(r.RetryAfterSeconds) * time.Second).String()
		}
		fmt.Fprintf(tw, "%s\t%t\t%t\t%d\t%s\t%s\n",
			r.Username, r.Exists, r.Locked, r.FailedAttempts, last, retry)
	}
	return tw.Flush() //nolint:wrapcheck // write errors surface as-is
}
