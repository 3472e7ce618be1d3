// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vulntor/jobwatch/pkg/config"
	"github.com/vulntor/jobwatch/pkg/console"
	"github.com/vulntor/jobwatch/pkg/dashboard"
	"github.com/vulntor/jobwatch/pkg/jobs"
	"github.com/vulntor/jobwatch/pkg/logging"
	"github.com/vulntor/jobwatch/pkg/ui"
)

type runOptions struct {
	form   []string
	json   []string
	files  []string
	params []string
	plain  bool
}

func newRunCommand() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:     "run <tool>",
		Short:   "Start a tool job and follow it to the end",
		GroupID: "jobs",
		Long: `Start a job on the console and render its progress until it succeeds,
fails or is cancelled. Artifacts reported by a succeeded job are downloaded
into --output.dir unless --output.download=false.

Ctrl+C cancels the job locally and asks the console to stop it.`,
		Example: `  # Android extraction with repeated form fields
  jobwatch run mobile --form case_name=acme --form case_number=042 --form time_range=30 \
    --form data_types=sms --form data_types=calls

  # Memory analysis of an uploaded dump, streamed line by line
  jobwatch run ram-analyze --param filename=dump.raw

  # Port scan with a JSON body, result as JSON
  jobwatch run nmap --json target=10.0.0.5 --json scan_type=quick -o json

  # Offline pcap analysis
  jobwatch run wireshark-analyze --file pcap=./capture.pcap`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return executeRun(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringArrayVar(&opts.form, "form", nil, "Form field key=value (repeatable)")
	cmd.Flags().StringArrayVar(&opts.json, "json", nil, "JSON body field key=value; values are parsed as JSON when valid (repeatable)")
	cmd.Flags().StringArrayVar(&opts.files, "file", nil, "Multipart file field=path (repeatable)")
	cmd.Flags().StringArrayVar(&opts.params, "param", nil, "Observation channel query key=value (repeatable)")
	cmd.Flags().BoolVar(&opts.plain, "plain", false, "Print plain progress lines instead of the interactive view")

	return cmd
}

func executeRun(cmd *cobra.Command, tool string, opts runOptions) error {
	cfg, err := configFrom(cmd)
	if err != nil {
		return err
	}
	if _, err := cfg.Profile(tool); err != nil {
		return err
	}
	req, err := buildRequest(opts)
	if err != nil {
		return err
	}
	formatter := formatterFor(cmd, cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	// The view captures the global logger, so it must exist before the
	// client and controller derive their loggers.
	var (
		callbacks jobs.Callbacks
		view      *ui.ProgressView
	)
	if useProgressView(cfg, opts) {
		if v, viewErr := ui.NewProgressView(tool, cancelRun); viewErr == nil {
			view = v
		}
	}
	if view != nil {
		callbacks = view.Callbacks()
	} else {
		useColor := !cfg.Output.NoColor && ui.IsInteractive(os.Stdout)
		callbacks = ui.NewLineRenderer(progressWriter(cmd, formatter), tool, useColor, cfg.Output.Quiet).Callbacks()
	}

	report, err := runJob(runCtx, cfg, tool, req, callbacks)
	if view != nil {
		view.Close(cmd.ErrOrStderr())
	}
	return printReport(formatter, report, err)
}

// runJob drives one job through a dashboard controller.
func runJob(ctx context.Context, cfg config.Config, tool string, req console.Request, callbacks jobs.Callbacks) (dashboard.Report, error) {
	client, err := newConsoleClient(cfg)
	if err != nil {
		return dashboard.Report{}, err
	}

	ctl := dashboard.New(cfg, client, func(string) jobs.Callbacks { return callbacks },
		dashboard.WithLogger(logging.Component("dashboard")))
	if err := ctl.Init(ctx, tool); err != nil {
		return dashboard.Report{}, err
	}
	defer func() { _ = ctl.Teardown() }()

	return ctl.Run(ctx, tool, req)
}

func useProgressView(cfg config.Config, opts runOptions) bool {
	return !opts.plain && !cfg.Output.Quiet && ui.ParseMode(cfg.Output.Format) == ui.ModeText && ui.IsInteractive(os.Stdout)
}

// progressWriter keeps stdout clean for structured results.
func progressWriter(cmd *cobra.Command, f ui.Formatter) io.Writer {
	switch f.Mode() {
	case ui.ModeJSON, ui.ModeYAML:
		return cmd.ErrOrStderr()
	}
	return cmd.OutOrStdout()
}

func printReport(f ui.Formatter, report dashboard.Report, runErr error) error {
	switch f.Mode() {
	case ui.ModeJSON, ui.ModeYAML:
		if report.Handle.State.IsTerminal() {
			if err := f.PrintData(report); err != nil {
				return err
			}
			return reported(runErr)
		}
		if runErr != nil {
			_ = f.PrintError(runErr)
		}
		return reported(runErr)
	}

	if runErr != nil {
		if report.Handle.State.IsTerminal() {
			// the renderer already announced the failure
			_ = f.PrintHints(runErr)
		} else {
			_ = f.PrintError(runErr)
		}
		return reported(runErr)
	}

	if res := report.Handle.Result; res != nil && len(res.Payload) > 0 {
		if err := f.PrintData(res.Payload); err != nil {
			return err
		}
	}

	if kinds := sortedKeys(report.Downloads); len(kinds) > 0 {
		rows := make([][]string, 0, len(kinds))
		for _, kind := range kinds {
			rows = append(rows, []string{kind, report.Downloads[kind]})
		}
		if err := f.PrintTable([]string{"artifact", "path"}, rows); err != nil {
			return err
		}
	}
	for _, kind := range sortedKeys(report.DownloadErrors) {
		_ = f.PrintSummary(fmt.Sprintf("⚠ %s not downloaded: %s", kind, report.DownloadErrors[kind]))
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// buildRequest turns key=value flags into a console request.
func buildRequest(opts runOptions) (console.Request, error) {
	var req console.Request

	if len(opts.form) > 0 {
		req.Form = url.Values{}
		for _, kv := range opts.form {
			k, v, err := splitPair("form", kv)
			if err != nil {
				return req, err
			}
			req.Form.Add(k, v)
		}
	}
	if len(opts.json) > 0 {
		req.JSON = make(map[string]any)
		for _, kv := range opts.json {
			k, v, err := splitPair("json", kv)
			if err != nil {
				return req, err
			}
			req.JSON[k] = jsonValue(v)
		}
	}
	if len(opts.files) > 0 {
		req.Files = make(map[string]string)
		for _, kv := range opts.files {
			k, v, err := splitPair("file", kv)
			if err != nil {
				return req, err
			}
			req.Files[k] = v
		}
	}
	if len(opts.params) > 0 {
		req.Params = url.Values{}
		for _, kv := range opts.params {
			k, v, err := splitPair("param", kv)
			if err != nil {
				return req, err
			}
			req.Params.Add(k, v)
		}
	}
	return req, nil
}

var errBadPair = errors.New("expected key=value")

func splitPair(flag, kv string) (string, string, error) {
	k, v, ok := strings.Cut(kv, "=")
	if !ok || strings.TrimSpace(k) == "" {
		return "", "", fmt.Errorf("--%s %q: %w", flag, kv, errBadPair)
	}
	return strings.TrimSpace(k), v, nil
}

// jsonValue keeps numbers, booleans, arrays and objects typed; anything that
// does not parse stays a string.
func jsonValue(v string) any {
	var parsed any
	if err := json.Unmarshal([]byte(v), &parsed); err == nil {
		return parsed
	}
	return v
}
