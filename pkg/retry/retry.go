// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

// Package retry runs a network operation with bounded exponential backoff.
//
// The poll transport is fail-fast by default (Config{} / None()). Callers that
// want to ride out transient console hiccups pass a Config with MaxAttempts > 1:
//
//	cfg := retry.Config{MaxAttempts: 3, InitialWait: 500 * time.Millisecond, MaxWait: 5 * time.Second, Multiplier: 2}
//	err := retry.Do(ctx, cfg, func(ctx context.Context) error {
//	    return client.GetJSON(ctx, profile.Progress, nil, &out)
//	})
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net"
	"strings"
	"time"
)

// Config defines retry behaviour for one operation.
type Config struct {
	// MaxAttempts is the total number of attempts. 0 and 1 both mean a single try.
	MaxAttempts int `koanf:"max_attempts" validate:"gte=0"`

	// InitialWait is the wait before the second attempt.
	InitialWait time.Duration `koanf:"initial_wait" validate:"gte=0"`

	// MaxWait caps the wait between attempts. 0 means uncapped.
	MaxWait time.Duration `koanf:"max_wait" validate:"gte=0"`

	// Multiplier grows the wait after each attempt (must be >= 1.0 when retrying).
	Multiplier float64 `koanf:"multiplier"`

	// Jitter adds ±25% randomness to every wait.
	Jitter bool `koanf:"jitter"`
}

// Default returns a modest backoff suitable for polling a local console.
func Default() Config {
	return Config{
		MaxAttempts: 3,
		InitialWait: 500 * time.Millisecond,
		MaxWait:     5 * time.Second,
		Multiplier:  2.0,
		Jitter:      true,
	}
}

// None returns a config that tries exactly once.
func None() Config {
	return Config{MaxAttempts: 0}
}

// Enabled reports whether more than one attempt will be made.
func (c Config) Enabled() bool {
	return c.MaxAttempts > 1
}

// Validate checks the config for impossible values.
func (c Config) Validate() error {
	if c.MaxAttempts < 0 {
		return fmt.Errorf("max attempts must be >= 0, got %d", c.MaxAttempts)
	}
	if !c.Enabled() {
		return nil
	}
	if c.InitialWait < 0 {
		return fmt.Errorf("initial wait must be >= 0, got %v", c.InitialWait)
	}
	if c.MaxWait < 0 {
		return fmt.Errorf("max wait must be >= 0, got %v", c.MaxWait)
	}
	if c.Multiplier < 1.0 {
		return fmt.Errorf("multiplier must be >= 1.0, got %f", c.Multiplier)
	}
	if c.MaxWait > 0 && c.InitialWait > c.MaxWait {
		return fmt.Errorf("initial wait (%v) must be <= max wait (%v)", c.InitialWait, c.MaxWait)
	}
	return nil
}

// Wait computes the pause before the given retry (1 = first retry).
func (c Config) Wait(retry int) time.Duration {
	if retry <= 0 {
		return 0
	}

	wait := float64(c.InitialWait) * math.Pow(c.Multiplier, float64(retry-1))
	if c.MaxWait > 0 && wait > float64(c.MaxWait) {
		wait = float64(c.MaxWait)
	}

	if c.Jitter {
		spread := wait * 0.25
		wait += (rand.Float64() * 2 * spread) - spread
	}
	if wait < 0 {
		wait = 0
	}
	return time.Duration(wait)
}

// Func is an operation that may be retried.
type Func func(ctx context.Context) error

// Retryable is implemented by errors that know whether a retry can help,
// e.g. console API errors for 502/503/504.
type Retryable interface {
	Retryable() bool
}

var transientMarkers = []string{
	"connection refused",
	"connection reset",
	"no such host",
	"network is unreachable",
	"temporary failure",
	"i/o timeout",
	"unexpected eof",
}

// IsRetryable classifies err as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var r Retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Do runs fn until it succeeds, returns a non-retryable error, the attempts
// run out, or ctx is done.
func Do(ctx context.Context, cfg Config, fn Func) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid retry config: %w", err)
	}

	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return err
		}
		if attempt == attempts-1 {
			break
		}

		timer := time.NewTimer(cfg.Wait(attempt + 1))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}

	if attempts == 1 {
		return lastErr
	}
	return fmt.Errorf("max attempts (%d) exceeded: %w", attempts, lastErr)
}
