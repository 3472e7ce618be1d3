// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package config

import (
	"time"

	"github.com/vulntor/jobwatch/pkg/console"
	"github.com/vulntor/jobwatch/pkg/retry"
)

// Config is the root configuration of jobwatch.
type Config struct {
	Log     LogConfig     `description:"Logging configuration" koanf:"log"`
	Console ConsoleConfig `description:"Console connection" koanf:"console"`
	Jobs    JobsConfig    `description:"Job lifecycle settings" koanf:"jobs"`
	Retry   retry.Config  `description:"Retry policy for poll transports" koanf:"retry"`
	Output  OutputConfig  `description:"Artifact and result output" koanf:"output"`

	// Profiles overrides or extends the built-in tool profiles, keyed by tool name.
	Profiles map[string]console.Profile `description:"Tool endpoint profiles" koanf:"profiles"`
}

// LogConfig holds logging related configuration.
type LogConfig struct {
	Level  string `description:"Log level: debug | info | warn | error" koanf:"level" validate:"oneof=trace debug info warn error disabled"`
	Format string `description:"Log format: json | text" koanf:"format" validate:"oneof=json text"`
	File   string `description:"Log file path" koanf:"file"`
}

// ConsoleConfig locates the security console.
type ConsoleConfig struct {
	BaseURL   string        `description:"Console base URL" koanf:"base_url" validate:"required,url"`
	Timeout   time.Duration `description:"Timeout of plain console requests" koanf:"timeout" validate:"gte=0"`
	RateLimit int           `description:"Requests per second (0 disables pacing)" koanf:"rate_limit" validate:"gte=0"`
	Cookie    string        `description:"Session cookie sent with every request" koanf:"cookie"`
}

// JobsConfig tunes the job observer.
type JobsConfig struct {
	Deadline     time.Duration `description:"Overall job deadline (0 disables)" koanf:"deadline" validate:"gte=0"`
	StopTimeout  time.Duration `description:"Timeout of the stop signal" koanf:"stop_timeout" validate:"gte=0"`
	PollInterval time.Duration `description:"Poll interval override (0 keeps the profile's)" koanf:"poll_interval" validate:"gte=0"`
}

// OutputConfig controls where results and artifacts go.
type OutputConfig struct {
	Format   string `description:"Result format: text | json | yaml | table" koanf:"format" validate:"oneof=text json yaml table"`
	Dir      string `description:"Artifact download directory" koanf:"dir" validate:"required"`
	StateDir string `description:"Directory for per-tool lock files" koanf:"state_dir" validate:"required"`
	Download bool   `description:"Download reported artifacts after success" koanf:"download"`
	NoColor  bool   `description:"Disable colored output" koanf:"no_color"`
	Quiet    bool   `description:"Only print the final result" koanf:"quiet"`
}
