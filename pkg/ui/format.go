// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package ui

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/vulntor/jobwatch/pkg/console"
	"github.com/vulntor/jobwatch/pkg/jobs"
)

// OutputMode defines the output format for CLI commands.
type OutputMode string

const (
	ModeText  OutputMode = "text"
	ModeJSON  OutputMode = "json"
	ModeYAML  OutputMode = "yaml"
	ModeTable OutputMode = "table"
)

// Formatter provides consistent output formatting across CLI commands.
type Formatter interface {
	Mode() OutputMode

	// PrintData writes data as JSON or YAML in those modes. In text and
	// table modes it falls back to indented JSON.
	PrintData(data any) error

	PrintJSON(data any) error
	PrintYAML(data any) error

	// PrintTable writes rows as aligned columns (structured in json/yaml modes).
	PrintTable(headers []string, rows [][]string) error

	// PrintSummary writes a human summary line unless quiet. Structured modes
	// send it to stderr.
	PrintSummary(message string) error

	// PrintError writes err with suggestions derived from its job kind.
	PrintError(err error) error

	// PrintHints writes only the suggestions for err, for failures a
	// renderer already announced. Structured modes print nothing.
	PrintHints(err error) error
}

type formatter struct {
	stdout io.Writer
	stderr io.Writer
	mode   OutputMode
	quiet  bool
	color  bool
}

// NewFormatter creates a Formatter.
func NewFormatter(stdout, stderr io.Writer, mode OutputMode, quiet, color bool) Formatter {
	return &formatter{
		stdout: stdout,
		stderr: stderr,
		mode:   mode,
		quiet:  quiet,
		color:  color,
	}
}

func (f *formatter) Mode() OutputMode { return f.mode }

func (f *formatter) structured() bool {
	return f.mode == ModeJSON || f.mode == ModeYAML
}

func (f *formatter) PrintData(data any) error {
	if f.mode == ModeYAML {
		return f.PrintYAML(data)
	}
	return f.PrintJSON(data)
}

func (f *formatter) PrintJSON(data any) error {
	enc := json.NewEncoder(f.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

// PrintYAML round-trips through JSON so json tags and raw payloads render
// the same way in both modes.
func (f *formatter) PrintYAML(data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return err
	}

	enc := yaml.NewEncoder(f.stdout)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return err
	}
	return enc.Close()
}

func (f *formatter) PrintTable(headers []string, rows [][]string) error {
	if f.structured() {
		items := make([]map[string]string, 0, len(rows))
		for _, row := range rows {
			item := make(map[string]string)
			for i, header := range headers {
				if i < len(row) {
					item[header] = row[i]
				}
			}
			items = append(items, item)
		}
		return f.PrintData(items)
	}

	w := tabwriter.NewWriter(f.stdout, 0, 0, 2, ' ', 0)
	headerLine := make([]string, len(headers))
	for i, h := range headers {
		headerLine[i] = strings.ToUpper(h)
		if f.color {
			headerLine[i] = color.New(color.Bold).Sprint(headerLine[i])
		}
	}
	if _, err := fmt.Fprintln(w, strings.Join(headerLine, "\t")); err != nil {
		return err
	}
	for _, row := range rows {
		if _, err := fmt.Fprintln(w, strings.Join(row, "\t")); err != nil {
			return err
		}
	}
	return w.Flush()
}

func (f *formatter) PrintSummary(message string) error {
	if f.quiet {
		return nil
	}
	if f.structured() {
		_, err := fmt.Fprintln(f.stderr, message)
		return err
	}
	if f.color {
		_, err := color.New(color.FgGreen).Fprintln(f.stdout, message)
		return err
	}
	_, err := fmt.Fprintln(f.stdout, message)
	return err
}

func (f *formatter) PrintError(err error) error {
	if err == nil {
		return nil
	}

	if f.structured() {
		out := map[string]any{
			"success": false,
			"error":   err.Error(),
		}
		if kind, ok := kindOf(err); ok {
			out["error_kind"] = kind
		}
		return f.PrintData(out)
	}

	var sb strings.Builder
	msg := fmt.Sprintf("✗ %v", err)
	if f.color {
		sb.WriteString(color.RedString("%s\n", msg))
	} else {
		sb.WriteString(msg + "\n")
	}
	f.writeSuggestions(&sb, err)

	_, writeErr := io.WriteString(f.stderr, sb.String())
	return writeErr
}

func (f *formatter) PrintHints(err error) error {
	if err == nil || f.structured() {
		return nil
	}
	var sb strings.Builder
	f.writeSuggestions(&sb, err)
	_, writeErr := io.WriteString(f.stderr, sb.String())
	return writeErr
}

func (f *formatter) writeSuggestions(sb *strings.Builder, err error) {
	suggestions := Suggestions(err)
	if len(suggestions) == 0 || f.quiet {
		return
	}
	sb.WriteString("\n💡 Suggestions:\n")
	for _, s := range suggestions {
		sb.WriteString(fmt.Sprintf("  → %s\n", s))
	}
}

// Suggestions returns actionable hints for a failed job.
func Suggestions(err error) []string {
	if console.IsBusy(err) {
		return []string{
			"The console is already running this tool; wait for it or stop it:  jobwatch stop <tool>",
		}
	}

	kind, ok := kindOf(err)
	if !ok {
		return nil
	}
	switch kind {
	case jobs.KindConflict:
		return []string{"Cancel the active job first:  jobwatch stop <tool>"}
	case jobs.KindTimeout:
		return []string{"Raise the deadline:  --jobs.deadline 30m (0 disables it)"}
	case jobs.KindTransport:
		return []string{
			"Check the console address:  --console.base_url http://host:5000",
			"Retry transient poll failures:  set retry.max_attempts in the config file",
		}
	case jobs.KindStartFailure:
		return []string{"Check the tool readiness:  jobwatch status <tool>"}
	}
	return nil
}

// kindOf reports the job kind of err, if it carries one.
func kindOf(err error) (jobs.Kind, bool) {
	var k interface{ Kind() jobs.Kind }
	if errors.As(err, &k) {
		return k.Kind(), true
	}
	return "", false
}

// ParseMode converts a string to OutputMode, defaulting to text.
func ParseMode(mode string) OutputMode {
	switch OutputMode(strings.ToLower(mode)) {
	case ModeJSON:
		return ModeJSON
	case ModeYAML:
		return ModeYAML
	case ModeTable:
		return ModeTable
	default:
		return ModeText
	}
}

// ValidateMode checks if the output mode is valid.
func ValidateMode(mode string) error {
	switch OutputMode(mode) {
	case ModeText, ModeJSON, ModeYAML, ModeTable:
		return nil
	default:
		return fmt.Errorf("invalid output mode: %s (must be text, json, yaml or table)", mode)
	}
}
