// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

// Package logging configures zerolog for jobwatch.
//
// Logs go to stderr so stdout stays clean for results. Components derive
// their logger from the global one and add a "component" field.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	mu        sync.Mutex
	logWriter io.Writer = os.Stderr
	logFile   *os.File
)

func init() {
	zerolog.SetGlobalLevel(zerolog.ErrorLevel)
}

// Options selects level, format and destination of the global logger.
type Options struct {
	Level   string
	Format  string // json | text
	File    string // empty: stderr
	NoColor bool
}

// ConfigureGlobalLogging installs the global logger. A previously opened
// log file is closed.
func ConfigureGlobalLogging(opts Options) error {
	mu.Lock()
	defer mu.Unlock()

	level := parseLogLevel(opts.Level)
	zerolog.SetGlobalLevel(level)

	var out io.Writer = os.Stderr
	var file *os.File
	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		out, file = f, f
	}

	if !strings.EqualFold(opts.Format, "json") {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
			NoColor:    opts.NoColor || file != nil || !isTerminal(os.Stderr),
		}
	}

	if logFile != nil {
		_ = logFile.Close()
	}
	logFile = file
	logWriter = out

	logContext := zerolog.New(out).With().Timestamp()
	if level <= zerolog.DebugLevel {
		logContext = logContext.Caller()
	}
	log.Logger = logContext.Logger().Level(level)
	zerolog.DefaultContextLogger = &log.Logger
	return nil
}

// ConfigureGlobal sets only the global level, keeping the current writer.
func ConfigureGlobal(level zerolog.Level) {
	mu.Lock()
	defer mu.Unlock()

	zerolog.SetGlobalLevel(level)
	log.Logger = log.Logger.Level(level)
}

// NewLogger returns a component logger writing to the global log writer.
func NewLogger(component string, level zerolog.Level) zerolog.Logger {
	mu.Lock()
	w := logWriter
	mu.Unlock()
	return NewLoggerWithWriter(component, level, w)
}

// NewLoggerWithWriter returns a JSON component logger writing to w.
func NewLoggerWithWriter(component string, level zerolog.Level, w io.Writer) zerolog.Logger {
	return zerolog.New(w).Level(level).With().Timestamp().Str("component", component).Logger()
}

// Component derives a logger for component from the global logger.
func Component(component string) zerolog.Logger {
	return log.Logger.With().Str("component", component).Logger()
}

func parseLogLevel(levelString string) zerolog.Level {
	if levelString == "" {
		levelString = "error"
	}

	level, err := zerolog.ParseLevel(strings.ToLower(levelString))
	if err != nil {
		log.Error().Err(err).
			Str("logLevel", levelString).
			Msg("Invalid log level provided. Defaulting to error level.")
		return zerolog.ErrorLevel
	}
	return level
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
