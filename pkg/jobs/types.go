// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package jobs

import (
	"context"
	"encoding/json"
	"io"
	"net/url"
	"time"
)

// Progress is one observation emitted while a job runs.
// Percent is nil for transports that only deliver log lines.
type Progress struct {
	Percent *float64 `json:"percent,omitempty"`
	Message string   `json:"message"`
}

// Percent returns a pointer to p, for building Progress values.
func Percent(p float64) *float64 { return &p }

// Result is the reconciled payload of a succeeded job.
type Result struct {
	// Payload is the opaque result object, forwarded as received.
	Payload json.RawMessage `json:"result,omitempty"`

	// Artifacts maps artifact kind (e.g. "excel", "pdf") to the file name the
	// console reported in an `<artifact>_file` field.
	Artifacts map[string]string `json:"artifacts,omitempty"`

	// Lines holds every log line received by push transports.
	Lines []string `json:"lines,omitempty"`
}

// Handle is a snapshot of one job. Values returned by the observer are copies;
// only the observer mutates the underlying job.
type Handle struct {
	ID         string     `json:"id"`
	Tool       string     `json:"tool,omitempty"`
	State      State      `json:"state"`
	Progress   Progress   `json:"progress"`
	Result     *Result    `json:"result,omitempty"`
	Err        *ErrorInfo `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at,omitempty"`
	FinishedAt time.Time  `json:"finished_at,omitempty"`
}

// Ref identifies a started job to its transport.
type Ref struct {
	// ID is the backend job identifier, empty when the console tracks a single
	// implicit job.
	ID string

	// Body is the raw start response.
	Body json.RawMessage

	// Params carries request values the transport needs to open its channel
	// (e.g. the dump filename of a memory analysis stream).
	Params url.Values

	// Channel is an observation channel opened before the start request, for
	// transports that would otherwise miss early events. The transport owns it
	// once Observe is called; the observer closes it if the job is never observed.
	Channel io.Closer
}

// Backend starts and stops jobs on one console tool.
type Backend interface {
	// StartJob forwards input verbatim to the tool's start endpoint.
	StartJob(ctx context.Context, input any) (Ref, error)

	// StopJob asks the tool to stop. Best effort; the observer ignores failures.
	StopJob(ctx context.Context, ref Ref) error
}

// Transport observes a started job until it reaches a terminal outcome.
//
// Observe must call emit in arrival order and return once the job finished,
// failed, or ctx was cancelled. Cancellation of ctx is the teardown signal:
// the transport releases its connection or timer and returns promptly.
type Transport interface {
	Observe(ctx context.Context, ref Ref, emit func(Progress)) (*Result, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, ref Ref, emit func(Progress)) (*Result, error)

// Observe calls f.
func (f TransportFunc) Observe(ctx context.Context, ref Ref, emit func(Progress)) (*Result, error) {
	return f(ctx, ref, emit)
}

// Callbacks are the caller's rendering hooks. Nil hooks are skipped.
// For every job, OnProgress fires zero or more times, followed by exactly one
// of OnSuccess, OnError or OnCancel.
type Callbacks struct {
	OnProgress func(percent *float64, message string)
	OnSuccess  func(result Result)
	OnError    func(err error)
	OnCancel   func()
}
