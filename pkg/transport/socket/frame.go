// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package socket

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cast"

	"github.com/vulntor/jobwatch/pkg/jobs"
)

// Frame statuses sent by the console.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusError     = "error"
)

// Frame is one status message of a socket job.
type Frame struct {
	Status  string          `json:"status"`
	Message string          `json:"message,omitempty"`
	Results json.RawMessage `json:"results,omitempty"`
	Error   any             `json:"error,omitempty"`
	Percent any             `json:"percent,omitempty"`
}

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// DecodeFrame parses a socket message. Messages may be bare frames or wrapped
// as {"event": ..., "data": frame}; wrapped messages for other events are
// skipped (ok is false).
func DecodeFrame(data []byte, event string) (frame Frame, ok bool, err error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Frame{}, false, fmt.Errorf("decode socket message: %w", err)
	}
	if env.Event != "" {
		if event != "" && env.Event != event {
			return Frame{}, false, nil
		}
		data = env.Data
	}

	if err := json.Unmarshal(data, &frame); err != nil {
		return Frame{}, false, fmt.Errorf("decode %s frame: %w", event, err)
	}
	return frame, true, nil
}

// Progress converts a running frame. A missing or malformed percent yields a
// message-only observation.
func (f Frame) Progress() jobs.Progress {
	p := jobs.Progress{Message: f.Message}
	if f.Percent != nil {
		if pct, err := cast.ToFloat64E(f.Percent); err == nil {
			p.Percent = jobs.Percent(pct)
		}
	}
	return p
}

// ErrorMessage returns the console's failure text for an error frame.
func (f Frame) ErrorMessage() string {
	if f.Message != "" {
		return f.Message
	}
	if f.Error != nil {
		return cast.ToString(f.Error)
	}
	return ""
}
