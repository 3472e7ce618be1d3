// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package dashboard

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/vulntor/jobwatch/pkg/config"
	"github.com/vulntor/jobwatch/pkg/console"
	"github.com/vulntor/jobwatch/pkg/jobs"
	"github.com/vulntor/jobwatch/pkg/transport/inline"
	"github.com/vulntor/jobwatch/pkg/transport/poll"
	"github.com/vulntor/jobwatch/pkg/transport/socket"
	"github.com/vulntor/jobwatch/pkg/transport/stream"
)

// Wire picks the backend and transport for a profile.
func Wire(client *console.Client, profile console.Profile, cfg config.Config, logger zerolog.Logger) (jobs.Backend, jobs.Transport, error) {
	backend := console.NewBackend(client, profile)
	tlog := logger.With().Str("tool", profile.Name).Logger()

	switch profile.Transport {
	case console.TransportPoll:
		return backend, poll.New(client, profile,
			poll.WithInterval(cfg.Jobs.PollInterval),
			poll.WithRetry(cfg.Retry),
			poll.WithLogger(tlog.With().Str("component", "poll").Logger()),
		), nil
	case console.TransportStream:
		return backend, stream.New(client, profile,
			stream.WithLogger(tlog.With().Str("component", "stream").Logger()),
		), nil
	case console.TransportSocket:
		t := socket.New(client, profile,
			socket.WithLogger(tlog.With().Str("component", "socket").Logger()),
		)
		return socket.NewBackend(backend, t), t, nil
	case console.TransportInline:
		return backend, inline.New(), nil
	default:
		return nil, nil, fmt.Errorf("tool %s: unknown transport %q", profile.Name, profile.Transport)
	}
}
