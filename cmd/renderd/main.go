// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// renderd runs the turntable render orchestrator and its maintenance tools.
//
// Usage:
//
//	renderd serve [--config renderd.yaml]
//	renderd config validate|show
//	renderd history list|verify|interrupt
//	renderd healthcheck [--mode live|ready]
//	renderd token --user alice
//	renderd version
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/motivorastudios-blip/Motivora-studio/internal/config"
	"github.com/motivorastudios-blip/Motivora-studio/internal/version"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:          "renderd",
		Short:        "Turntable render orchestrator",
		Version:      version.String(),
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c",
		config.ParseString(config.EnvPrefix+"CONFIG", ""), "path to config file (YAML); environment only when empty")

	root.AddCommand(
		newServeCmd(opts),
		newConfigCmd(opts),
		newHistoryCmd(opts),
		newHealthcheckCmd(opts),
		newTokenCmd(opts),
		newVersionCmd(),
	)
	return root
}

// load returns the effective configuration: defaults, then file, then env.
func (o *rootOptions) load() (config.AppConfig, error) {
	path := strings.TrimSpace(o.configPath)
	cfg, err := config.NewLoader(path, version.Version).Load()
	if err != nil {
		if path == "" {
			return cfg, err
		}
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "renderd %s\n", version.String())
		},
	}
}
