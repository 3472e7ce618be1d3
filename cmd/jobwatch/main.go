// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package main

import (
	"fmt"
	"os"

	"github.com/vulntor/jobwatch/cmd/jobwatch/commands"
	"github.com/vulntor/jobwatch/pkg/jobs"
)

// Exit codes:
//   - 0: job succeeded
//   - 1: general error, start/transport/remote failure
//   - 3: a job is already active (conflict)
//   - 4: job deadline exceeded
//   - 130: job cancelled
func main() {
	command := commands.NewCommand()

	if err := command.Execute(); err != nil {
		if !commands.Reported(err) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(jobs.ExitCode(err))
	}
}
