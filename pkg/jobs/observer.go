// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

// Package jobs observes long-running console jobs.
//
// An Observer owns at most one job at a time. It starts the job through a
// Backend, follows it with a Transport (poll, event stream, socket or inline)
// and reports to the caller's Callbacks: OnProgress zero or more times, then
// exactly one of OnSuccess, OnError or OnCancel.
//
// All callbacks of a job are delivered from one goroutine in arrival order, and
// a job's callbacks only begin after the previous job's terminal callback has
// returned. Callbacks may call Cancel or Start; they must not call Wait or Close.
package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const defaultStopTimeout = 5 * time.Second

// Option configures an Observer.
type Option func(*Observer)

// WithDeadline bounds every job's total lifetime. When it elapses the job ends
// Failed with ErrTimeout and the backend is asked to stop. Zero disables it.
func WithDeadline(d time.Duration) Option {
	return func(o *Observer) { o.deadline = d }
}

// WithTool names the tool recorded on handles and log lines.
func WithTool(name string) Option {
	return func(o *Observer) { o.tool = name }
}

// WithLogger replaces the observer logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *Observer) { o.logger = logger }
}

// WithStopTimeout bounds the fire-and-forget stop request.
func WithStopTimeout(d time.Duration) Option {
	return func(o *Observer) {
		if d > 0 {
			o.stopTimeout = d
		}
	}
}

// Observer runs the job lifecycle state machine for one tool.
type Observer struct {
	backend     Backend
	transport   Transport
	callbacks   Callbacks
	tool        string
	deadline    time.Duration
	stopTimeout time.Duration
	logger      zerolog.Logger

	mu      sync.Mutex
	current *job
}

// job is the mutable state behind a Handle. Guarded by Observer.mu.
type job struct {
	handle  Handle
	ref     Ref
	err     error
	settled bool

	ctx     context.Context
	cancel  context.CancelCauseFunc
	release context.CancelFunc
	done    chan struct{}
	prev    *job
}

type observation struct {
	result *Result
	err    error
}

// NewObserver builds an observer for one backend/transport pair.
func NewObserver(backend Backend, transport Transport, callbacks Callbacks, opts ...Option) *Observer {
	o := &Observer{
		backend:     backend,
		transport:   transport,
		callbacks:   callbacks,
		stopTimeout: defaultStopTimeout,
		logger:      log.Logger.With().Str("component", "jobs").Logger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.tool != "" {
		o.logger = o.logger.With().Str("tool", o.tool).Logger()
	}
	return o
}

// Start issues the start request and, on success, begins observing the job.
//
// It fails with ErrConflict while another job is Starting or Running and leaves
// that job untouched. A rejected start ends the job Failed (OnError fires) and
// returns the start failure; the job never enters Running.
func (o *Observer) Start(ctx context.Context, input any) (Handle, error) {
	o.mu.Lock()
	prev := o.current
	if prev != nil && prev.handle.State.IsActive() {
		h := prev.handle
		o.mu.Unlock()
		return h, ErrConflict
	}

	base, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	runCtx, release := context.Context(base), context.CancelFunc(func() {})
	if o.deadline > 0 {
		runCtx, release = context.WithTimeoutCause(base, o.deadline, ErrTimeout)
	}

	j := &job{
		handle: Handle{
			ID:        uuid.NewString(),
			Tool:      o.tool,
			State:     StateStarting,
			StartedAt: time.Now(),
		},
		ctx:     runCtx,
		cancel:  cancel,
		release: release,
		done:    make(chan struct{}),
		prev:    prev,
	}
	o.current = j
	o.mu.Unlock()

	o.logger.Debug().Str("job_id", j.handle.ID).Msg("Starting job")

	startCtx, stopStart := context.WithCancel(ctx)
	unhook := context.AfterFunc(runCtx, stopStart)
	ref, err := o.backend.StartJob(startCtx, input)
	unhook()
	stopStart()

	o.mu.Lock()
	switch {
	case j.settled:
		// Cancelled while the start request was in flight.
		h, cause := j.handle, j.err
		o.mu.Unlock()
		if err == nil {
			if ref.Channel != nil {
				_ = ref.Channel.Close()
			}
			go o.signalStop(ref, h.ID)
		}
		go o.run(j, Ref{}, false)
		return h, cause

	case err != nil:
		if errors.Is(context.Cause(runCtx), ErrTimeout) {
			err = ErrTimeout
		} else {
			err = StartFailure(err)
		}
		j.settle(StateFailed, nil, err)
		h := j.handle
		o.mu.Unlock()
		o.logger.Warn().Str("job_id", h.ID).Err(err).Msg("Job start rejected")
		go o.run(j, Ref{}, false)
		return h, err

	default:
		j.ref = ref
		if ref.ID != "" {
			j.handle.ID = ref.ID
		}
		j.handle.State = StateRunning
		h := j.handle
		o.mu.Unlock()
		o.logger.Info().Str("job_id", h.ID).Msg("Job running")
		go o.run(j, ref, true)
		return h, nil
	}
}

// Replace cancels the active job, if any, and starts a new one.
func (o *Observer) Replace(ctx context.Context, input any) (Handle, error) {
	o.Cancel()
	return o.Start(ctx, input)
}

// Cancel tears down the active job. Without an active job it does nothing.
//
// The job is Cancelled as soon as Cancel returns and OnCancel fires once.
// Progress is not delivered once the job is settled, but an OnProgress call
// that passed that check before Cancel ran may still be running, or about to
// enter the callback, when Cancel returns. Cancel does not wait for it, so it
// is safe to call from a callback. Done (or Close) is the barrier: once it is
// closed no callback of the job runs again. The backend stop request is sent
// in the background and its failure only logged.
func (o *Observer) Cancel() {
	o.mu.Lock()
	j := o.current
	if j == nil || !j.settle(StateCancelled, nil, nil) {
		o.mu.Unlock()
		return
	}
	ref, id := j.ref, j.handle.ID
	o.mu.Unlock()

	j.cancel(ErrCancelled)
	o.logger.Info().Str("job_id", id).Msg("Job cancelled")
	go o.signalStop(ref, id)
}

// Handle returns a snapshot of the current (or last) job.
func (o *Observer) Handle() Handle {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == nil {
		return Handle{State: StateIdle}
	}
	return o.current.handle
}

// Done is closed once the current job's terminal callback has returned.
func (o *Observer) Done() <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return o.current.done
}

// Wait blocks until the current job has delivered its terminal callback and
// returns its final handle and error (nil on success).
func (o *Observer) Wait(ctx context.Context) (Handle, error) {
	o.mu.Lock()
	j := o.current
	o.mu.Unlock()
	if j == nil {
		return Handle{State: StateIdle}, nil
	}

	select {
	case <-j.done:
	case <-ctx.Done():
		return o.Handle(), ctx.Err()
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	return j.handle, j.err
}

// Close cancels the active job and waits for its callbacks to drain.
func (o *Observer) Close() {
	o.Cancel()
	<-o.Done()
}

// run delivers every callback of j. When observe is false the job already
// settled during Start and only its terminal callback is delivered.
func (o *Observer) run(j *job, ref Ref, observe bool) {
	defer close(j.done)
	defer j.release()
	defer j.cancel(nil)

	if j.prev != nil {
		<-j.prev.done
	}
	if !observe {
		o.deliverTerminal(j)
		return
	}

	progress := make(chan Progress)
	outcome := make(chan observation, 1)
	go func() {
		res, err := o.transport.Observe(j.ctx, ref, func(p Progress) {
			select {
			case progress <- p:
			case <-j.ctx.Done():
			}
		})
		outcome <- observation{result: res, err: err}
	}()

	for {
		select {
		case p := <-progress:
			o.deliverProgress(j, p)
		case out := <-outcome:
			o.finish(j, out)
			o.deliverTerminal(j)
			return
		case <-j.ctx.Done():
			o.expire(j)
			o.deliverTerminal(j)
			<-outcome
			return
		}
	}
}

// deliverProgress runs on j's delivery goroutine, which also delivers the
// terminal callback, so an OnProgress racing Cancel still returns before
// OnCancel and before j.done closes.
func (o *Observer) deliverProgress(j *job, p Progress) {
	o.mu.Lock()
	if j.settled {
		o.mu.Unlock()
		return
	}
	p = mergeProgress(j.handle.Progress, p)
	j.handle.Progress = p
	o.mu.Unlock()

	if o.callbacks.OnProgress != nil {
		o.callbacks.OnProgress(p.Percent, p.Message)
	}
}

// finish settles j from the transport outcome unless Cancel got there first.
func (o *Observer) finish(j *job, out observation) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if j.settled {
		return
	}

	if out.err == nil {
		j.settle(StateSucceeded, out.result, nil)
		return
	}

	err := out.err
	if errors.Is(context.Cause(j.ctx), ErrTimeout) {
		err = ErrTimeout
		go o.signalStop(j.ref, j.handle.ID)
	}
	j.settle(StateFailed, nil, err)
}

// expire settles j after its context ended before the transport returned.
func (o *Observer) expire(j *job) {
	o.mu.Lock()
	if j.settled {
		o.mu.Unlock()
		return
	}
	if !errors.Is(context.Cause(j.ctx), ErrTimeout) {
		j.settle(StateCancelled, nil, nil)
		o.mu.Unlock()
		return
	}
	j.settle(StateFailed, nil, ErrTimeout)
	ref, id := j.ref, j.handle.ID
	o.mu.Unlock()

	o.logger.Warn().Str("job_id", id).Dur("deadline", o.deadline).Msg("Job deadline exceeded")
	go o.signalStop(ref, id)
}

func (o *Observer) deliverTerminal(j *job) {
	o.mu.Lock()
	h, err := j.handle, j.err
	o.mu.Unlock()

	event := o.logger.Info().Str("job_id", h.ID).Str("state", string(h.State))
	if h.Err != nil {
		event = event.Str("error_kind", string(h.Err.Kind)).Str("error", h.Err.Message)
	}
	event.Dur("elapsed", h.FinishedAt.Sub(h.StartedAt)).Msg("Job finished")

	switch h.State {
	case StateSucceeded:
		if o.callbacks.OnSuccess != nil {
			o.callbacks.OnSuccess(*h.Result)
		}
	case StateFailed:
		if o.callbacks.OnError != nil {
			o.callbacks.OnError(err)
		}
	case StateCancelled:
		if o.callbacks.OnCancel != nil {
			o.callbacks.OnCancel()
		}
	}
}

func (o *Observer) signalStop(ref Ref, id string) {
	ctx, cancel := context.WithTimeout(context.Background(), o.stopTimeout)
	defer cancel()

	if err := o.backend.StopJob(ctx, ref); err != nil {
		o.logger.Warn().Str("job_id", id).Err(err).Msg("Stop request failed")
	}
}

// settle moves j into a terminal state once. Caller holds Observer.mu.
func (j *job) settle(state State, res *Result, err error) bool {
	if j.settled || !CanTransition(j.handle.State, state) {
		return false
	}
	j.settled = true
	j.handle.State = state
	j.handle.FinishedAt = time.Now()

	switch state {
	case StateSucceeded:
		if res == nil {
			res = &Result{}
		}
		j.handle.Result = res
	case StateFailed:
		j.err = err
		j.handle.Err = newErrorInfo(err)
	case StateCancelled:
		j.err = ErrCancelled
	}
	return true
}

// mergeProgress clamps percent to [0,100] and keeps it non-decreasing within a job.
func mergeProgress(last, next Progress) Progress {
	if next.Percent == nil {
		return next
	}
	v := *next.Percent
	switch {
	case v < 0:
		v = 0
	case v > 100:
		v = 100
	}
	if last.Percent != nil && v < *last.Percent {
		v = *last.Percent
	}
	next.Percent = &v
	return next
}
