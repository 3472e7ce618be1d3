// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

// Package dashboard drives console tools end to end: it owns one job observer
// per tool, guards each tool with a process lock, and fetches the artifacts a
// finished job reports.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/vulntor/jobwatch/pkg/config"
	"github.com/vulntor/jobwatch/pkg/console"
	"github.com/vulntor/jobwatch/pkg/jobs"
)

// ErrToolLocked is returned when another process observes the same tool.
var ErrToolLocked = errors.New("tool is being observed by another process")

// ErrNotInitialized is returned for tools Init was not called for.
var ErrNotInitialized = errors.New("tool not initialized")

// CallbacksFactory builds the rendering callbacks for one tool.
type CallbacksFactory func(tool string) jobs.Callbacks

// Report is the outcome of one Run.
type Report struct {
	Handle jobs.Handle `json:"job" yaml:"job"`

	// Downloads maps artifact kind to the local file it was saved to.
	Downloads map[string]string `json:"downloads,omitempty" yaml:"downloads,omitempty"`

	// DownloadErrors maps artifact kind to the reason it could not be saved.
	DownloadErrors map[string]string `json:"download_errors,omitempty" yaml:"download_errors,omitempty"`
}

type tool struct {
	profile  console.Profile
	backend  *console.Backend
	observer *jobs.Observer
	lock     *flock.Flock
}

// Controller owns the observers of a dashboard session.
type Controller struct {
	cfg       config.Config
	client    *console.Client
	callbacks CallbacksFactory
	logger    zerolog.Logger

	mu    sync.Mutex
	tools map[string]*tool
}

// Option configures the Controller.
type Option func(*Controller)

// WithLogger sets the controller logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// New creates a controller. callbacks may be nil for silent runs.
func New(cfg config.Config, client *console.Client, callbacks CallbacksFactory, opts ...Option) *Controller {
	c := &Controller{
		cfg:       cfg,
		client:    client,
		callbacks: callbacks,
		logger:    log.Logger,
		tools:     make(map[string]*tool),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Init prepares the named tools (every configured tool when none are named):
// it takes each tool's lock under the state directory and builds its
// observer. On failure nothing stays locked.
func (c *Controller) Init(ctx context.Context, names ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(names) == 0 {
		names = console.SortedNames(c.cfg.Profiles)
	}
	if err := os.MkdirAll(c.cfg.Output.StateDir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var acquired []*tool
	for _, name := range names {
		if _, ok := c.tools[name]; ok {
			continue
		}
		t, err := c.initTool(name)
		if err != nil {
			for _, a := range acquired {
				_ = a.lock.Unlock()
				delete(c.tools, a.profile.Name)
			}
			return err
		}
		c.tools[name] = t
		acquired = append(acquired, t)
	}
	return nil
}

func (c *Controller) initTool(name string) (*tool, error) {
	profile, err := c.cfg.Profile(name)
	if err != nil {
		return nil, err
	}

	lock := flock.New(filepath.Join(c.cfg.Output.StateDir, name+".lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", name, err)
	}
	if !locked {
		return nil, fmt.Errorf("%s: %w", name, ErrToolLocked)
	}

	backend, transport, err := Wire(c.client, profile, c.cfg, c.logger)
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}

	var cb jobs.Callbacks
	if c.callbacks != nil {
		cb = c.callbacks(name)
	}
	observer := jobs.NewObserver(backend, transport, cb,
		jobs.WithTool(name),
		jobs.WithDeadline(c.cfg.Jobs.Deadline),
		jobs.WithStopTimeout(c.cfg.Jobs.StopTimeout),
		jobs.WithLogger(c.logger.With().Str("component", "jobs").Logger()),
	)

	c.logger.Debug().Str("tool", name).Str("transport", string(profile.Transport)).Msg("Tool initialized")
	return &tool{
		profile:  profile,
		backend:  console.NewBackend(c.client, profile),
		observer: observer,
		lock:     lock,
	}, nil
}

func (c *Controller) lookup(name string) (*tool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tools[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrNotInitialized)
	}
	return t, nil
}

// Run starts a job on tool and blocks until it ends. When ctx is cancelled
// the job is cancelled and Run returns once OnCancel has been delivered.
// Artifacts of a succeeded job are downloaded when output.download is set.
func (c *Controller) Run(ctx context.Context, name string, req console.Request) (Report, error) {
	t, err := c.lookup(name)
	if err != nil {
		return Report{}, err
	}

	h, err := t.observer.Start(ctx, req)
	if err != nil {
		if errors.Is(err, jobs.ErrConflict) {
			return Report{Handle: h}, err
		}
		<-t.observer.Done()
		return Report{Handle: t.observer.Handle()}, err
	}

	select {
	case <-t.observer.Done():
	case <-ctx.Done():
		t.observer.Cancel()
		<-t.observer.Done()
	}

	h, err = t.observer.Wait(context.Background())
	report := Report{Handle: h}
	if err != nil || h.Result == nil {
		return report, err
	}

	if c.cfg.Output.Download && len(h.Result.Artifacts) > 0 {
		report.Downloads, report.DownloadErrors = c.download(ctx, t, h.Result.Artifacts)
	}
	return report, nil
}

func (c *Controller) download(ctx context.Context, t *tool, artifacts map[string]string) (map[string]string, map[string]string) {
	saved := make(map[string]string)
	failed := make(map[string]string)

	kinds := make([]string, 0, len(artifacts))
	for kind := range artifacts {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	for _, kind := range kinds {
		path, err := t.backend.Download(ctx, artifacts[kind], c.cfg.Output.Dir)
		if err != nil {
			c.logger.Warn().Str("tool", t.profile.Name).Str("artifact", artifacts[kind]).Err(err).Msg("Artifact download failed")
			failed[kind] = err.Error()
			continue
		}
		saved[kind] = path
	}

	if len(failed) == 0 {
		failed = nil
	}
	return saved, failed
}

// Cancel cancels the active job of tool, if any.
func (c *Controller) Cancel(name string) error {
	t, err := c.lookup(name)
	if err != nil {
		return err
	}
	t.observer.Cancel()
	return nil
}

// Handle returns the current job snapshot of tool.
func (c *Controller) Handle(name string) (jobs.Handle, error) {
	t, err := c.lookup(name)
	if err != nil {
		return jobs.Handle{}, err
	}
	return t.observer.Handle(), nil
}

// Backend returns the console backend of an initialized tool.
func (c *Controller) Backend(name string) (*console.Backend, error) {
	t, err := c.lookup(name)
	if err != nil {
		return nil, err
	}
	return t.backend, nil
}

// Teardown cancels every active job, waits for its callbacks and releases
// the tool locks. The controller can be initialized again afterwards.
func (c *Controller) Teardown() error {
	c.mu.Lock()
	tools := c.tools
	c.tools = make(map[string]*tool)
	c.mu.Unlock()

	var errs []error
	for name, t := range tools {
		t.observer.Close()
		if err := t.lock.Unlock(); err != nil {
			errs = append(errs, fmt.Errorf("unlock %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
