// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/motivorastudios-blip/Motivora-studio/internal/daemon"
	"github.com/motivorastudios-blip/Motivora-studio/internal/version"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the render daemon",
		Long:  "Run the HTTP API and supervise render jobs until SIGINT or SIGTERM. SIGHUP reloads the config file.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			d, err := daemon.Bootstrap(ctx, daemon.Options{
				ConfigPath: strings.TrimSpace(opts.configPath),
				Version:    version.Version,
			})
			if err != nil {
				return err
			}
			return d.Run(ctx)
		},
	}
}
