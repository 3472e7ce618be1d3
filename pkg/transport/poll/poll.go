// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

// Package poll observes a job by fetching its progress endpoint on an interval
// and its result endpoint once the job stops running.
package poll

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cast"

	"github.com/vulntor/jobwatch/pkg/console"
	"github.com/vulntor/jobwatch/pkg/jobs"
	"github.com/vulntor/jobwatch/pkg/retry"
)

// DefaultInterval is used when neither the profile nor an option sets one.
const DefaultInterval = 5 * time.Second

const artifactSuffix = "_file"

// Transport polls one tool profile. It implements jobs.Transport.
type Transport struct {
	client   *console.Client
	profile  console.Profile
	interval time.Duration
	// immediate fetches progress once before the first tick.
	immediate bool
	retry     retry.Config
	logger    zerolog.Logger
}

var _ jobs.Transport = (*Transport)(nil)

// Option configures the Transport.
type Option func(*Transport)

// WithInterval overrides the profile's poll interval.
func WithInterval(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.interval = d
		}
	}
}

// WithRetry retries transient fetch failures. Without it a single failed
// fetch ends the job.
func WithRetry(cfg retry.Config) Option {
	return func(t *Transport) { t.retry = cfg }
}

// WithLogger sets the transport logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(t *Transport) { t.logger = logger }
}

// New creates a poll transport for profile.
func New(client *console.Client, profile console.Profile, opts ...Option) *Transport {
	t := &Transport{
		client:    client,
		profile:   profile,
		interval:  profile.Interval,
		immediate: profile.PollImmediately,
		retry:     retry.None(),
		logger:    log.Logger.With().Str("component", "poll").Str("tool", profile.Name).Logger(),
	}
	if t.interval <= 0 {
		t.interval = DefaultInterval
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Status is one decoded progress response.
type Status struct {
	Running   bool
	Percent   *float64
	Message   string
	Error     string
	Artifacts map[string]string
}

// Observe polls until the progress endpoint reports the job no longer running.
// The first fetch waits one interval unless the profile polls immediately.
func (t *Transport) Observe(ctx context.Context, ref jobs.Ref, emit func(jobs.Progress)) (*jobs.Result, error) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	artifacts := map[string]string{}
	wait := !t.immediate
	for {
		if wait {
			select {
			case <-ctx.Done():
				return nil, context.Cause(ctx)
			case <-ticker.C:
			}
		} else if ctx.Err() != nil {
			return nil, context.Cause(ctx)
		}
		wait = true

		st, err := t.fetchStatus(ctx, ref)
		if err != nil {
			if ctx.Err() != nil {
				return nil, context.Cause(ctx)
			}
			return nil, jobs.TransportFailure(err)
		}

		emit(jobs.Progress{Percent: st.Percent, Message: st.Message})
		for kind, name := range st.Artifacts {
			artifacts[kind] = name
		}

		if st.Error != "" {
			return nil, jobs.RemoteError(st.Error)
		}
		if st.Running {
			continue
		}

		res, err := t.fetchResult(ctx, ref)
		if err != nil {
			if ctx.Err() != nil {
				return nil, context.Cause(ctx)
			}
			return nil, err
		}
		for kind, name := range artifacts {
			if _, ok := res.Artifacts[kind]; !ok {
				res.Artifacts[kind] = name
			}
		}
		if len(res.Artifacts) == 0 {
			res.Artifacts = nil
		}
		return res, nil
	}
}

func (t *Transport) fetchStatus(ctx context.Context, ref jobs.Ref) (Status, error) {
	var raw map[string]any
	err := retry.Do(ctx, t.retry, func(ctx context.Context) error {
		raw = nil
		return t.client.GetJSON(ctx, t.profile.Progress, ref.Params, &raw)
	})
	if err != nil {
		t.logger.Debug().Err(err).Msg("Progress fetch failed")
		return Status{}, err
	}
	return DecodeStatus(raw)
}

func (t *Transport) fetchResult(ctx context.Context, ref jobs.Ref) (*jobs.Result, error) {
	var raw map[string]json.RawMessage
	err := retry.Do(ctx, t.retry, func(ctx context.Context) error {
		raw = nil
		return t.client.GetJSON(ctx, t.profile.Result, ref.Params, &raw)
	})
	if err != nil {
		return nil, jobs.TransportFailure(err)
	}

	if msg := rawString(raw["error"]); msg != "" {
		return nil, jobs.RemoteError(msg)
	}

	res := &jobs.Result{Artifacts: map[string]string{}}
	if payload, ok := raw["result"]; ok && string(payload) != "null" {
		res.Payload = payload
	}
	for key, value := range raw {
		if kind, ok := strings.CutSuffix(key, artifactSuffix); ok && kind != "" {
			if name := rawString(value); name != "" {
				res.Artifacts[kind] = name
			}
		}
	}
	return res, nil
}

// DecodeStatus reads a progress response loosely: percent may be a number or
// a numeric string, and any non-empty `<artifact>_file` field is collected.
func DecodeStatus(raw map[string]any) (Status, error) {
	if raw == nil {
		return Status{}, fmt.Errorf("empty progress response")
	}

	st := Status{Artifacts: map[string]string{}}

	if v, ok := raw["running"]; ok && v != nil {
		running, err := cast.ToBoolE(v)
		if err != nil {
			return Status{}, fmt.Errorf("decode running: %w", err)
		}
		st.Running = running
	}

	if v, ok := raw["percent"]; ok && v != nil && v != "" {
		pct, err := cast.ToFloat64E(v)
		if err != nil {
			return Status{}, fmt.Errorf("decode percent: %w", err)
		}
		st.Percent = jobs.Percent(pct)
	}

	if v, ok := raw["message"]; ok && v != nil {
		st.Message = cast.ToString(v)
	}
	if v, ok := raw["error"]; ok && v != nil {
		st.Error = cast.ToString(v)
	}

	for key, value := range raw {
		kind, ok := strings.CutSuffix(key, artifactSuffix)
		if !ok || kind == "" || value == nil {
			continue
		}
		if name := cast.ToString(value); name != "" {
			st.Artifacts[kind] = name
		}
	}
	return st, nil
}

func rawString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil || v == nil {
		return ""
	}
	return cast.ToString(v)
}
