// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vulntor/jobwatch/pkg/console"
	"github.com/vulntor/jobwatch/pkg/jobs"
)

func newStopCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "stop <tool>",
		Short:   "Ask the console to stop the running job of a tool",
		GroupID: "jobs",
		Long: `Send the tool's stop request to the console. Use it for jobs started by
another process or left running after a crash; a job followed by "jobwatch
run" is stopped with Ctrl+C instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			backend, err := backendFor(cfg, args[0])
			if err != nil {
				return err
			}
			if backend.Profile().Stop == "" {
				return fmt.Errorf("%s: %w: stop", args[0], console.ErrNoEndpoint)
			}

			f := formatterFor(cmd, cfg)
			if err := backend.StopJob(cmd.Context(), jobs.Ref{}); err != nil {
				_ = f.PrintError(err)
				return reported(err)
			}
			return f.PrintSummary(fmt.Sprintf("Stop requested for %s", args[0]))
		},
	}
}
