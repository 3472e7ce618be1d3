// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

// Package ui renders job progress and results in the terminal.
package ui

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/vulntor/jobwatch/pkg/jobs"
)

// LineRenderer prints one line per observation, for pipes and plain terminals.
type LineRenderer struct {
	mu      sync.Mutex
	out     io.Writer
	tool    string
	quiet   bool
	started time.Time

	percent *color.Color
	ok      *color.Color
	fail    *color.Color
	warn    *color.Color
}

// NewLineRenderer writes to out. Quiet suppresses progress lines but keeps
// the final line.
func NewLineRenderer(out io.Writer, tool string, useColor, quiet bool) *LineRenderer {
	r := &LineRenderer{
		out:     out,
		tool:    tool,
		quiet:   quiet,
		started: time.Now(),
		percent: color.New(color.FgCyan),
		ok:      color.New(color.FgGreen, color.Bold),
		fail:    color.New(color.FgRed, color.Bold),
		warn:    color.New(color.FgYellow),
	}
	for _, c := range []*color.Color{r.percent, r.ok, r.fail, r.warn} {
		if useColor {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return r
}

// Callbacks returns observer hooks bound to this renderer.
func (r *LineRenderer) Callbacks() jobs.Callbacks {
	return jobs.Callbacks{
		OnProgress: r.progress,
		OnSuccess:  r.success,
		OnError:    r.failure,
		OnCancel:   r.cancelled,
	}
}

// FormatProgress renders a progress observation: "[ 55%] message" when a
// percent is known, the bare message otherwise.
func FormatProgress(percent *float64, message string) string {
	if percent == nil {
		return message
	}
	return fmt.Sprintf("[%3.0f%%] %s", *percent, message)
}

func (r *LineRenderer) progress(percent *float64, message string) {
	if r.quiet {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if percent == nil {
		fmt.Fprintln(r.out, message)
		return
	}
	r.percent.Fprintf(r.out, "[%3.0f%%]", *percent)
	fmt.Fprintf(r.out, " %s\n", message)
}

func (r *LineRenderer) success(res jobs.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()

	line := fmt.Sprintf("✓ %s completed in %s", r.tool, r.elapsed())
	if n := len(res.Artifacts); n > 0 {
		line += fmt.Sprintf(" (%d artifact%s)", n, plural(n))
	}
	r.ok.Fprintln(r.out, line)
}

func (r *LineRenderer) failure(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail.Fprintf(r.out, "✗ %s failed after %s: %v\n", r.tool, r.elapsed(), err)
}

func (r *LineRenderer) cancelled() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warn.Fprintf(r.out, "⚠ %s cancelled after %s\n", r.tool, r.elapsed())
}

func (r *LineRenderer) elapsed() time.Duration {
	return time.Since(r.started).Round(time.Second)
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
