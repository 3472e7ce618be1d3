// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

// Package inline handles tools that answer the start request with the
// finished result. There is nothing to observe; the start body is the outcome.
package inline

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/spf13/cast"

	"github.com/vulntor/jobwatch/pkg/jobs"
)

// Transport turns a start response into a result. It implements jobs.Transport.
type Transport struct{}

var _ jobs.Transport = Transport{}

// New returns the inline transport.
func New() Transport { return Transport{} }

// Observe reads ref.Body. An `error` field is a remote failure; any other
// body is the payload. `<artifact>_file` fields and a saved capture's
// `filename` are reported as artifacts.
func (Transport) Observe(ctx context.Context, ref jobs.Ref, _ func(jobs.Progress)) (*jobs.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, context.Cause(ctx)
	}
	if len(ref.Body) == 0 {
		return &jobs.Result{}, nil
	}

	var fields map[string]any
	if err := json.Unmarshal(ref.Body, &fields); err != nil {
		// Arrays and scalars carry no error field.
		return &jobs.Result{Payload: ref.Body}, nil
	}

	if v, ok := fields["error"]; ok && v != nil {
		if msg := cast.ToString(v); msg != "" {
			return nil, jobs.RemoteError(msg)
		}
	}

	res := &jobs.Result{Payload: ref.Body}
	for key, value := range fields {
		name := cast.ToString(value)
		if name == "" {
			continue
		}
		kind, ok := strings.CutSuffix(key, "_file")
		switch {
		case ok && kind != "":
		case key == "filename":
			kind = "capture"
		default:
			continue
		}
		if res.Artifacts == nil {
			res.Artifacts = map[string]string{}
		}
		res.Artifacts[kind] = name
	}
	return res, nil
}
