// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

// Package config loads jobwatch configuration from layered sources.
package config

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/v2"

	"github.com/vulntor/jobwatch/pkg/console"
	"github.com/vulntor/jobwatch/pkg/paths"
	"github.com/vulntor/jobwatch/pkg/retry"
)

// EnvPrefix prefixes every environment variable read by jobwatch.
const EnvPrefix = "JOBWATCH_"

var validate = validator.New()

// Manager handles loading and accessing application configuration.
type Manager struct {
	koanfInstance *koanf.Koanf
	currentConfig Config
	mu            sync.RWMutex
}

// NewManager creates a Manager with an empty koanf instance.
func NewManager() *Manager {
	return &Manager{koanfInstance: koanf.New(".")}
}

// DefaultConfig returns the baseline configuration used when no other
// source overrides a value.
func DefaultConfig() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Console: ConsoleConfig{
			BaseURL:   "http://127.0.0.1:5000",
			Timeout:   console.DefaultTimeout,
			RateLimit: console.DefaultRateLimit,
		},
		Jobs: JobsConfig{
			StopTimeout: 5 * time.Second,
		},
		Retry: retry.None(),
		Output: OutputConfig{
			Format:   "text",
			Dir:      "jobwatch-artifacts",
			StateDir: paths.CacheDir(),
			Download: true,
		},
		Profiles: console.DefaultProfiles(),
	}
}

// DefaultConfigAsMap flattens DefaultConfig for koanf's confmap provider.
// Profiles are not listed; built-in profiles are merged after unmarshal.
func DefaultConfigAsMap() map[string]any {
	def := DefaultConfig()
	return map[string]any{
		"log.level":  def.Log.Level,
		"log.format": def.Log.Format,
		"log.file":   def.Log.File,

		"console.base_url":   def.Console.BaseURL,
		"console.timeout":    def.Console.Timeout,
		"console.rate_limit": def.Console.RateLimit,
		"console.cookie":     def.Console.Cookie,

		"jobs.deadline":      def.Jobs.Deadline,
		"jobs.stop_timeout":  def.Jobs.StopTimeout,
		"jobs.poll_interval": def.Jobs.PollInterval,

		"retry.max_attempts": def.Retry.MaxAttempts,
		"retry.initial_wait": def.Retry.InitialWait,
		"retry.max_wait":     def.Retry.MaxWait,
		"retry.multiplier":   def.Retry.Multiplier,
		"retry.jitter":       def.Retry.Jitter,

		"output.format":    def.Output.Format,
		"output.dir":       def.Output.Dir,
		"output.state_dir": def.Output.StateDir,
		"output.download":  def.Output.Download,
		"output.no_color":  def.Output.NoColor,
		"output.quiet":     def.Output.Quiet,
	}
}

// Load merges sources in priority order, unmarshals the result and
// validates it. On error the previous configuration is kept.
func (m *Manager) Load(sources ...ConfigSource) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ordered := make([]ConfigSource, len(sources))
	copy(ordered, sources)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority() < ordered[j].Priority()
	})

	k := koanf.New(".")
	for _, src := range ordered {
		if err := src.Load(k); err != nil {
			return fmt.Errorf("config source %s: %w", src.Name(), err)
		}
	}

	var newCfg Config
	if err := k.UnmarshalWithConf("", &newCfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return fmt.Errorf("error unmarshaling final config: %w", err)
	}
	newCfg.Profiles = mergeProfiles(console.DefaultProfiles(), newCfg.Profiles)

	if err := newCfg.Validate(); err != nil {
		return err
	}

	m.koanfInstance = k
	m.currentConfig = newCfg
	return nil
}

// Get returns a copy of the current configuration.
func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cfg := m.currentConfig
	cfg.Profiles = make(map[string]console.Profile, len(m.currentConfig.Profiles))
	for name, p := range m.currentConfig.Profiles {
		cfg.Profiles[name] = p
	}
	return cfg
}

// Koanf exposes the merged key space, e.g. for `config show`.
func (m *Manager) Koanf() *koanf.Koanf {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.koanfInstance
}

// Validate checks the whole configuration, including every profile.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := c.Retry.Validate(); err != nil {
		return fmt.Errorf("invalid retry configuration: %w", err)
	}
	for _, name := range console.SortedNames(c.Profiles) {
		if err := c.Profiles[name].Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
	}
	return nil
}

// Profile returns the named tool profile.
func (c Config) Profile(name string) (console.Profile, error) {
	p, ok := c.Profiles[name]
	if !ok {
		return console.Profile{}, fmt.Errorf("unknown tool %q (known: %v)", name, console.SortedNames(c.Profiles))
	}
	return p, nil
}

// mergeProfiles overlays configured profiles on the built-in ones. Non-empty
// fields of an override replace the built-in value; new names are added.
func mergeProfiles(base, overrides map[string]console.Profile) map[string]console.Profile {
	out := make(map[string]console.Profile, len(base)+len(overrides))
	for name, p := range base {
		out[name] = p
	}
	for name, o := range overrides {
		p := out[name]
		p.Name = name
		overlay(&p.Description, o.Description)
		if o.Transport != "" {
			p.Transport = o.Transport
		}
		overlay(&p.Start, o.Start)
		overlay(&p.StartEncoding, o.StartEncoding)
		overlay(&p.Progress, o.Progress)
		overlay(&p.Result, o.Result)
		overlay(&p.Stop, o.Stop)
		overlay(&p.Stream, o.Stream)
		overlay(&p.Socket, o.Socket)
		overlay(&p.SocketEvent, o.SocketEvent)
		overlay(&p.Download, o.Download)
		overlay(&p.Status, o.Status)
		overlay(&p.Files, o.Files)
		if o.Interval > 0 {
			p.Interval = o.Interval
		}
		if o.PollImmediately {
			p.PollImmediately = true
		}
		out[name] = p
	}
	return out
}

func overlay(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
