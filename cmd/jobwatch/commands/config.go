// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vulntor/jobwatch/pkg/appctx"
	"github.com/vulntor/jobwatch/pkg/paths"
	"github.com/vulntor/jobwatch/pkg/ui"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "config",
		Short:   "Inspect configuration",
		GroupID: "core",
	}
	cmd.AddCommand(newConfigShowCommand())
	cmd.AddCommand(newConfigPathCommand())
	return cmd
}

func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration after defaults, file, env and flags",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, ok := appctx.Config(cmd.Context())
			if !ok {
				return fmt.Errorf("configuration not loaded")
			}
			cfg := mgr.Get()
			f := formatterFor(cmd, cfg)

			settings := mgr.Koanf().Raw()
			settings["profiles"] = cfg.Profiles
			if f.Mode() == ui.ModeJSON {
				return f.PrintJSON(settings)
			}
			return f.PrintYAML(settings)
		},
	}
}

func newConfigPathCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the default configuration file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), paths.ConfigFile())
			return err
		},
	}
}
