// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vulntor/jobwatch/pkg/console"
	"github.com/vulntor/jobwatch/pkg/ui"
)

func newToolsCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "tools",
		Short:   "List the configured console tools",
		GroupID: "core",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			f := formatterFor(cmd, cfg)
			names := console.SortedNames(cfg.Profiles)

			if f.Mode() == ui.ModeJSON || f.Mode() == ui.ModeYAML {
				profiles := make([]console.Profile, 0, len(names))
				for _, name := range names {
					profiles = append(profiles, cfg.Profiles[name])
				}
				return f.PrintData(map[string]any{"tools": profiles, "count": len(profiles)})
			}

			rows := make([][]string, 0, len(names))
			for _, name := range names {
				p := cfg.Profiles[name]
				rows = append(rows, []string{name, string(p.Transport), p.Description})
			}
			if err := f.PrintTable([]string{"tool", "transport", "description"}, rows); err != nil {
				return err
			}
			return f.PrintSummary(fmt.Sprintf("%d tool(s) configured", len(names)))
		},
	}
}
