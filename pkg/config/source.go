// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// ConfigSource is one configuration layer. Sources are loaded in priority
// order (lowest first); later sources override earlier values.
//
// Built-in sources and their priorities:
//   - DefaultSource (10): hardcoded defaults
//   - FileSource (20): YAML config file
//   - EnvSource (30): JOBWATCH_* environment variables
//   - FlagSource (40): command-line flags
type ConfigSource interface {
	Name() string
	Priority() int
	Load(k *koanf.Koanf) error
}

// DefaultSource provides hardcoded default configuration values.
type DefaultSource struct{}

func (s *DefaultSource) Name() string  { return "defaults" }
func (s *DefaultSource) Priority() int { return 10 }

func (s *DefaultSource) Load(k *koanf.Koanf) error {
	if err := k.Load(confmap.Provider(DefaultConfigAsMap(), "."), nil); err != nil {
		return fmt.Errorf("error loading defaults: %w", err)
	}
	return nil
}

// FileSource loads a YAML file. An empty or missing path is skipped.
type FileSource struct {
	Path string
}

func (s *FileSource) Name() string  { return "file:" + s.Path }
func (s *FileSource) Priority() int { return 20 }

func (s *FileSource) Load(k *koanf.Koanf) error {
	if s.Path == "" {
		return nil
	}

	if _, err := os.Stat(s.Path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("error checking config file %s: %w", s.Path, err)
	}

	if err := k.Load(file.Provider(s.Path), yaml.Parser()); err != nil {
		return fmt.Errorf("error loading config file %s: %w", s.Path, err)
	}
	return nil
}

// EnvSource loads environment variables with Prefix. Known keys keep their
// underscores; any other underscore maps to a dot:
//
//	JOBWATCH_CONSOLE_BASE_URL -> console.base_url
//	JOBWATCH_JOBS_DEADLINE    -> jobs.deadline
//	JOBWATCH_PROFILES_NMAP_SOCKET -> profiles.nmap.socket
type EnvSource struct {
	Prefix string
}

func (s *EnvSource) Name() string  { return "env" }
func (s *EnvSource) Priority() int { return 30 }

func (s *EnvSource) Load(k *koanf.Koanf) error {
	prefix := s.Prefix
	if prefix == "" {
		prefix = EnvPrefix
	}

	known := make(map[string]string)
	for key := range DefaultConfigAsMap() {
		known[strings.ReplaceAll(key, ".", "_")] = key
	}

	if err := k.Load(env.Provider(prefix, ".", func(name string) string {
		name = strings.ToLower(strings.TrimPrefix(name, prefix))
		if key, ok := known[name]; ok {
			return key
		}
		return strings.ReplaceAll(name, "_", ".")
	}), nil); err != nil {
		return fmt.Errorf("error loading environment variables: %w", err)
	}
	return nil
}

// FlagSource loads command-line flags. Flags are named after their koanf
// keys (e.g. --console.base_url); unchanged flags never override lower layers.
type FlagSource struct {
	Flags *pflag.FlagSet
	Debug bool
}

func (s *FlagSource) Name() string  { return "flags" }
func (s *FlagSource) Priority() int { return 40 }

// flagAliases maps short root flags to their koanf keys. An empty key means
// the flag is not configuration.
var flagAliases = map[string]string{
	"config":   "",
	"debug":    "",
	"output":   "output.format",
	"no-color": "output.no_color",
	"quiet":    "output.quiet",
}

func (s *FlagSource) Load(k *koanf.Koanf) error {
	if s.Flags != nil {
		provider := posflag.ProviderWithFlag(s.Flags, ".", k, func(f *pflag.Flag) (string, any) {
			key := f.Name
			if alias, ok := flagAliases[f.Name]; ok {
				key = alias
			}
			return key, posflag.FlagVal(s.Flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return fmt.Errorf("error loading command-line flags: %w", err)
		}
	}

	if s.Debug {
		_ = k.Set("log.level", "debug")
	}
	return nil
}

// DefaultSources returns the standard layering: defaults, file, env, flags.
func DefaultSources(configPath string, flags *pflag.FlagSet, debug bool) []ConfigSource {
	return []ConfigSource{
		&DefaultSource{},
		&FileSource{Path: configPath},
		&EnvSource{Prefix: EnvPrefix},
		&FlagSource{Flags: flags, Debug: debug},
	}
}

// BindFlags defines flags for the settings most often overridden per run.
func BindFlags(flags *pflag.FlagSet) {
	def := DefaultConfig()

	flags.String("console.base_url", def.Console.BaseURL, "Console base URL")
	flags.Duration("jobs.deadline", def.Jobs.Deadline, "Overall job deadline (0 disables)")
	flags.Duration("jobs.poll_interval", def.Jobs.PollInterval, "Poll interval override for polled tools")
	flags.String("output.dir", def.Output.Dir, "Artifact download directory")
	flags.Bool("output.download", def.Output.Download, "Download reported artifacts after success")
}
