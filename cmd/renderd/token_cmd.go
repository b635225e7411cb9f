// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/motivorastudios-blip/Motivora-studio/internal/auth"
)

func newTokenCmd(opts *rootOptions) *cobra.Command {
	var (
		userID    string
		sessionID string
		ttl       time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API token signed with the configured secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if userID == "" && sessionID == "" {
				return errors.New("one of --user or --session is required")
			}
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			v, err := auth.NewVerifier(cfg.API.JWTSecret)
			if err != nil {
				return err
			}
			token, err := v.Issue(userID, sessionID, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "authenticated user id")
	cmd.Flags().StringVar(&sessionID, "session", "", "anonymous session id")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
