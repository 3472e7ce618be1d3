// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

// Package stream observes a job through a server-sent event stream of log
// lines terminated by a [DONE] sentinel.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/vulntor/jobwatch/pkg/console"
	"github.com/vulntor/jobwatch/pkg/jobs"
)

// DoneSentinel marks the successful end of a stream.
const DoneSentinel = "[DONE]"

// Transport reads one tool's event stream. It implements jobs.Transport.
type Transport struct {
	client  *console.Client
	profile console.Profile
	logger  zerolog.Logger
}

var _ jobs.Transport = (*Transport)(nil)

// Option configures the Transport.
type Option func(*Transport)

// WithLogger sets the transport logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(t *Transport) { t.logger = logger }
}

// New creates a stream transport for profile.
func New(client *console.Client, profile console.Profile, opts ...Option) *Transport {
	t := &Transport{
		client:  client,
		profile: profile,
		logger:  log.Logger.With().Str("component", "stream").Str("tool", profile.Name).Logger(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Observe opens the stream and emits every data message as a progress line
// until [DONE]. The stream ending any other way is a transport failure.
func (t *Transport) Observe(ctx context.Context, ref jobs.Ref, emit func(jobs.Progress)) (*jobs.Result, error) {
	body, err := t.client.OpenStream(ctx, t.profile.Stream, ref.Params)
	if err != nil {
		if ctx.Err() != nil {
			return nil, context.Cause(ctx)
		}
		return nil, jobs.TransportFailure(err)
	}
	defer body.Close()

	t.logger.Debug().Str("path", t.profile.Stream).Msg("Stream opened")

	var lines []string
	events := NewEventReader(body)
	for {
		ev, err := events.Next()
		if err != nil {
			if ctx.Err() != nil {
				return nil, context.Cause(ctx)
			}
			if errors.Is(err, io.EOF) {
				return nil, jobs.TransportFailure(jobs.ErrStreamClosed)
			}
			return nil, jobs.TransportFailure(fmt.Errorf("%w: %w", jobs.ErrStreamClosed, err))
		}

		if ev.Type != "" && ev.Type != "message" {
			continue
		}
		if ev.Data == DoneSentinel {
			t.logger.Debug().Int("lines", len(lines)).Msg("Stream complete")
			return &jobs.Result{Lines: lines}, nil
		}

		lines = append(lines, ev.Data)
		emit(jobs.Progress{Message: ev.Data})
	}
}
