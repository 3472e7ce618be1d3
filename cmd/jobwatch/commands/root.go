// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

// Package commands implements the jobwatch CLI.
package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/vulntor/jobwatch/pkg/appctx"
	"github.com/vulntor/jobwatch/pkg/config"
	"github.com/vulntor/jobwatch/pkg/logging"
	"github.com/vulntor/jobwatch/pkg/paths"
	"github.com/vulntor/jobwatch/pkg/ui"
)

const cliExecutable = "jobwatch"

// NewCommand constructs the top-level jobwatch command: it loads layered
// configuration, installs the global logger and registers the subcommands.
func NewCommand() *cobra.Command {
	var (
		configFile string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   cliExecutable,
		Short: "Run and watch long-running security console jobs",
		Long: `jobwatch starts tool jobs on a security console and follows them to the end:
progress is polled or pushed over HTTP streams and WebSockets, artifacts are
downloaded when the job succeeds, and Ctrl+C stops the job on the console.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			mgr := config.NewManager()
			if err := mgr.Load(config.DefaultSources(configFile, cmd.Flags(), debug)...); err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			cfg := mgr.Get()
			if err := ui.ValidateMode(cfg.Output.Format); err != nil {
				return err
			}

			if err := logging.ConfigureGlobalLogging(logging.Options{
				Level:   cfg.Log.Level,
				Format:  cfg.Log.Format,
				File:    cfg.Log.File,
				NoColor: cfg.Output.NoColor,
			}); err != nil {
				return err
			}
			log.Debug().Str("config", configFile).Str("console", cfg.Console.BaseURL).Msg("Configuration loaded")

			cmd.SetContext(appctx.WithConfig(cmd.Context(), mgr))
			return nil
		},
	}

	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	cmd.PersistentFlags().StringVarP(&configFile, "config", "c", paths.ConfigFile(), "Configuration file path")
	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	cmd.PersistentFlags().StringP("output", "o", "text", "Output format: text, json, yaml or table")
	cmd.PersistentFlags().Bool("no-color", false, "Disable colored output")
	cmd.PersistentFlags().BoolP("quiet", "q", false, "Only print the final result")

	config.BindFlags(cmd.PersistentFlags())

	cmd.AddGroup(&cobra.Group{ID: "jobs", Title: "Job Commands"})
	cmd.AddGroup(&cobra.Group{ID: "core", Title: "Core Commands"})

	cmd.AddCommand(newRunCommand())
	cmd.AddCommand(newStopCommand())
	cmd.AddCommand(newStatusCommand())
	cmd.AddCommand(newFilesCommand())
	cmd.AddCommand(newDownloadCommand())
	cmd.AddCommand(newToolsCommand())
	cmd.AddCommand(newConfigCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}
