// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vulntor/jobwatch/pkg/appctx"
	"github.com/vulntor/jobwatch/pkg/config"
	"github.com/vulntor/jobwatch/pkg/console"
	"github.com/vulntor/jobwatch/pkg/logging"
	"github.com/vulntor/jobwatch/pkg/ui"
)

// reportedError marks an error the command already printed.
type reportedError struct{ error }

func (e reportedError) Unwrap() error { return e.error }

// Reported reports whether err was already shown to the user.
func Reported(err error) bool {
	var r reportedError
	return errors.As(err, &r)
}

func reported(err error) error {
	if err == nil {
		return nil
	}
	return reportedError{err}
}

// configFrom returns the configuration loaded by the root command.
func configFrom(cmd *cobra.Command) (config.Config, error) {
	mgr, ok := appctx.Config(cmd.Context())
	if !ok {
		return config.Config{}, fmt.Errorf("configuration not loaded")
	}
	return mgr.Get(), nil
}

// formatterFor builds a Formatter from the loaded output settings.
func formatterFor(cmd *cobra.Command, cfg config.Config) ui.Formatter {
	useColor := !cfg.Output.NoColor && os.Getenv("NO_COLOR") == ""
	return ui.NewFormatter(cmd.OutOrStdout(), cmd.ErrOrStderr(), ui.ParseMode(cfg.Output.Format), cfg.Output.Quiet, useColor)
}

func newConsoleClient(cfg config.Config) (*console.Client, error) {
	opts := []console.ClientOption{
		console.WithTimeout(cfg.Console.Timeout),
		console.WithRateLimit(cfg.Console.RateLimit),
		console.WithLogger(logging.Component("console")),
	}
	if cfg.Console.Cookie != "" {
		opts = append(opts, console.WithHeader("Cookie", cfg.Console.Cookie))
	}
	client, err := console.NewClient(cfg.Console.BaseURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("console client: %w", err)
	}
	return client, nil
}

// backendFor builds the console backend of one tool without taking its lock.
func backendFor(cfg config.Config, tool string) (*console.Backend, error) {
	profile, err := cfg.Profile(tool)
	if err != nil {
		return nil, err
	}
	client, err := newConsoleClient(cfg)
	if err != nil {
		return nil, err
	}
	return console.NewBackend(client, profile), nil
}
