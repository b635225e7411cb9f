// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/motivorastudios-blip/Motivora-studio/internal/config"
	"github.com/motivorastudios-blip/Motivora-studio/internal/history"
	"github.com/motivorastudios-blip/Motivora-studio/internal/persistence/sqlite"
)

var errHistoryDisabled = errors.New("history is disabled (history.driver: none)")

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect and repair the job history",
	}
	cmd.AddCommand(
		newHistoryListCmd(opts),
		newHistoryVerifyCmd(opts),
		newHistoryInterruptCmd(opts),
	)
	return cmd
}

func openHistory(ctx context.Context, cfg config.AppConfig) (history.Store, error) {
	s, err := history.Open(ctx, cfg.History.Driver, cfg.History.DSN)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, errHistoryDisabled
	}
	return s, nil
}

func newHistoryListCmd(opts *rootOptions) *cobra.Command {
	var (
		owner  string
		limit  int
		format string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the newest jobs of an owner",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			s, err := openHistory(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			entries, err := s.ListByOwner(cmd.Context(), owner, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch strings.ToLower(format) {
			case "json":
				if entries == nil {
					entries = []history.Entry{}
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			case "table":
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "JOB\tSTATE\tINPUT\tFORMAT\tCREATED\tMESSAGE")
				for _, e := range entries {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
						e.JobID, e.State, e.InputName, e.Format, e.CreatedAt.UTC().Format(time.RFC3339), e.Message)
				}
				return tw.Flush()
			default:
				return fmt.Errorf("unsupported format: %s (use table or json)", format)
			}
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner key, e.g. user:alice or session:abc")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of jobs")
	cmd.Flags().StringVar(&format, "format", "table", "output format: table or json")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func newHistoryVerifyCmd(opts *rootOptions) *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check the SQLite history database for corruption",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if cfg.History.Driver != history.DriverSQLite {
				return fmt.Errorf("verify needs the sqlite driver, configured: %s", cfg.History.Driver)
			}
			if mode != "quick" && mode != "full" {
				return fmt.Errorf("unsupported mode: %s (use quick or full)", mode)
			}
			problems, err := sqlite.VerifyIntegrity(cmd.Context(), cfg.History.DSN, mode)
			if err != nil {
				return err
			}
			if len(problems) > 0 {
				for _, p := range problems {
					fmt.Fprintln(cmd.ErrOrStderr(), p)
				}
				return fmt.Errorf("%s: %d integrity problems", cfg.History.DSN, len(problems))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ %s passed %s check\n", cfg.History.DSN, mode)
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "quick", "check mode: quick or full")
	return cmd
}

func newHistoryInterruptCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "interrupt",
		Short: "Mark jobs left live by a crashed daemon as failed",
		Long:  "Mark every pending or running row as error. Only run this while the daemon is stopped; serve does it on start.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			s, err := openHistory(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			n, err := s.MarkInterrupted(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "marked %d jobs as interrupted\n", n)
			return nil
		},
	}
}
