// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu       sync.Mutex
	ref      Ref
	startErr error
	block    bool
	starts   int
	stops    []Ref
	stopErr  error
}

func (b *fakeBackend) StartJob(ctx context.Context, input any) (Ref, error) {
	b.mu.Lock()
	b.starts++
	block, ref, err := b.block, b.ref, b.startErr
	b.mu.Unlock()

	if block {
		<-ctx.Done()
		return Ref{}, ctx.Err()
	}
	return ref, err
}

func (b *fakeBackend) StopJob(ctx context.Context, ref Ref) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stops = append(b.stops, ref)
	return b.stopErr
}

func (b *fakeBackend) stopCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.stops)
}

type recorder struct {
	mu       sync.Mutex
	events   []string
	percents []float64
	messages []string
	result   *Result
	err      error
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnProgress: func(percent *float64, message string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, "progress")
			if percent != nil {
				r.percents = append(r.percents, *percent)
			}
			r.messages = append(r.messages, message)
		},
		OnSuccess: func(result Result) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, "success")
			r.result = &result
		},
		OnError: func(err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, "error")
			r.err = err
		},
		OnCancel: func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, "cancel")
		},
	}
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func terminalCount(events []string) int {
	n := 0
	for _, e := range events {
		if e != "progress" {
			n++
		}
	}
	return n
}

func waitDone(t *testing.T, obs *Observer) {
	t.Helper()
	select {
	case <-obs.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("job did not finish")
	}
}

// blockingTransport emits nothing and returns when torn down.
var blockingTransport = TransportFunc(func(ctx context.Context, ref Ref, emit func(Progress)) (*Result, error) {
	<-ctx.Done()
	return nil, ctx.Err()
})

func newTestObserver(b Backend, tr Transport, rec *recorder, opts ...Option) *Observer {
	opts = append([]Option{WithLogger(zerolog.Nop()), WithTool("test")}, opts...)
	return NewObserver(b, tr, rec.callbacks(), opts...)
}

func TestObserver_ProgressThenSuccessInOrder(t *testing.T) {
	rec := &recorder{}
	tr := TransportFunc(func(ctx context.Context, ref Ref, emit func(Progress)) (*Result, error) {
		for _, p := range []float64{10, 55, 100} {
			emit(Progress{Percent: Percent(p), Message: "working"})
		}
		return &Result{Payload: json.RawMessage(`{"a":1}`)}, nil
	})
	obs := newTestObserver(&fakeBackend{}, tr, rec)

	h, err := obs.Start(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, StateRunning, h.State)
	waitDone(t, obs)

	require.Equal(t, []string{"progress", "progress", "progress", "success"}, rec.snapshot())
	require.Equal(t, []float64{10, 55, 100}, rec.percents)
	require.JSONEq(t, `{"a":1}`, string(rec.result.Payload))
	require.Nil(t, rec.err)

	final := obs.Handle()
	require.Equal(t, StateSucceeded, final.State)
	require.NotNil(t, final.Result)
	require.Nil(t, final.Err)
	require.False(t, final.FinishedAt.IsZero())
}

func TestObserver_RemoteErrorIsVerbatim(t *testing.T) {
	rec := &recorder{}
	tr := TransportFunc(func(ctx context.Context, ref Ref, emit func(Progress)) (*Result, error) {
		emit(Progress{Percent: Percent(20), Message: "step"})
		return nil, RemoteError("boom")
	})
	obs := newTestObserver(&fakeBackend{}, tr, rec)

	_, err := obs.Start(context.Background(), nil)
	require.NoError(t, err)

	h, waitErr := obs.Wait(context.Background())
	require.Error(t, waitErr)
	require.Equal(t, []string{"progress", "error"}, rec.snapshot())
	require.Equal(t, "boom", rec.err.Error())
	require.Equal(t, KindRemote, KindOf(rec.err))
	require.Equal(t, StateFailed, h.State)
	require.Nil(t, h.Result)
	require.Equal(t, &ErrorInfo{Kind: KindRemote, Message: "boom"}, h.Err)
}

func TestObserver_StartFailureNeverRuns(t *testing.T) {
	rec := &recorder{}
	called := false
	tr := TransportFunc(func(ctx context.Context, ref Ref, emit func(Progress)) (*Result, error) {
		called = true
		return nil, nil
	})
	backend := &fakeBackend{startErr: errors.New("Extraction already running")}
	obs := newTestObserver(backend, tr, rec)

	h, err := obs.Start(context.Background(), nil)
	require.Error(t, err)
	require.Equal(t, KindStartFailure, KindOf(err))
	require.Equal(t, "Extraction already running", err.Error())
	require.Equal(t, StateFailed, h.State)

	waitDone(t, obs)
	require.False(t, called)
	require.Equal(t, []string{"error"}, rec.snapshot())
	require.Equal(t, KindStartFailure, obs.Handle().Err.Kind)
}

func TestObserver_ConflictLeavesActiveJobAlone(t *testing.T) {
	rec := &recorder{}
	backend := &fakeBackend{ref: Ref{ID: "job-1"}}
	obs := newTestObserver(backend, blockingTransport, rec)

	first, err := obs.Start(context.Background(), "first")
	require.NoError(t, err)

	second, err := obs.Start(context.Background(), "second")
	require.ErrorIs(t, err, ErrConflict)
	require.Equal(t, KindConflict, KindOf(err))
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, StateRunning, obs.Handle().State)
	require.Equal(t, 1, backend.starts)
	require.Empty(t, rec.snapshot())

	obs.Close()
	require.Equal(t, []string{"cancel"}, rec.snapshot())
}

func TestObserver_CancelDiscardsInFlightResponse(t *testing.T) {
	rec := &recorder{}
	release := make(chan struct{})
	tr := TransportFunc(func(ctx context.Context, ref Ref, emit func(Progress)) (*Result, error) {
		// Simulates a response that was already on the wire when Cancel ran.
		<-release
		emit(Progress{Percent: Percent(90), Message: "late"})
		return &Result{Payload: json.RawMessage(`{"late":true}`)}, nil
	})
	backend := &fakeBackend{ref: Ref{ID: "job-7"}}
	obs := newTestObserver(backend, tr, rec)

	_, err := obs.Start(context.Background(), nil)
	require.NoError(t, err)

	obs.Cancel()
	require.Equal(t, StateCancelled, obs.Handle().State)
	close(release)
	waitDone(t, obs)

	require.Equal(t, []string{"cancel"}, rec.snapshot())
	require.Nil(t, obs.Handle().Result)
	require.Eventually(t, func() bool { return backend.stopCount() == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, "job-7", backend.stops[0].ID)
}

func TestObserver_CancelWithoutJobIsNoop(t *testing.T) {
	rec := &recorder{}
	backend := &fakeBackend{}
	obs := newTestObserver(backend, blockingTransport, rec)

	obs.Cancel()
	require.Equal(t, StateIdle, obs.Handle().State)
	require.Empty(t, rec.snapshot())
	require.Equal(t, 0, backend.stopCount())
}

func TestObserver_CancelIsLocalEvenWhenStopFails(t *testing.T) {
	rec := &recorder{}
	backend := &fakeBackend{stopErr: errors.New("console unreachable")}
	obs := newTestObserver(backend, blockingTransport, rec)

	_, err := obs.Start(context.Background(), nil)
	require.NoError(t, err)

	require.NotPanics(t, obs.Cancel)
	waitDone(t, obs)
	require.Equal(t, []string{"cancel"}, rec.snapshot())

	// Second cancel after the terminal state changes nothing.
	obs.Cancel()
	require.Equal(t, []string{"cancel"}, rec.snapshot())
}

func TestObserver_CancelDuringStart(t *testing.T) {
	rec := &recorder{}
	backend := &fakeBackend{block: true}
	obs := newTestObserver(backend, blockingTransport, rec)

	type started struct {
		h   Handle
		err error
	}
	out := make(chan started, 1)
	go func() {
		h, err := obs.Start(context.Background(), nil)
		out <- started{h, err}
	}()

	require.Eventually(t, func() bool { return obs.Handle().State == StateStarting }, time.Second, time.Millisecond)
	obs.Cancel()

	res := <-out
	require.ErrorIs(t, res.err, ErrCancelled)
	require.Equal(t, StateCancelled, res.h.State)
	waitDone(t, obs)
	require.Equal(t, []string{"cancel"}, rec.snapshot())
}

func TestObserver_CallbackMayCancel(t *testing.T) {
	rec := &recorder{}
	var obs *Observer
	cb := rec.callbacks()
	inner := cb.OnProgress
	cb.OnProgress = func(percent *float64, message string) {
		inner(percent, message)
		obs.Cancel()
	}
	tr := TransportFunc(func(ctx context.Context, ref Ref, emit func(Progress)) (*Result, error) {
		emit(Progress{Message: "line1"})
		emit(Progress{Message: "line2"})
		<-ctx.Done()
		return nil, ctx.Err()
	})
	obs = NewObserver(&fakeBackend{}, tr, cb, WithLogger(zerolog.Nop()))

	_, err := obs.Start(context.Background(), nil)
	require.NoError(t, err)
	waitDone(t, obs)

	require.Equal(t, []string{"progress", "cancel"}, rec.snapshot())
}

func TestObserver_ProgressRacingCancelEndsBeforeDone(t *testing.T) {
	rec := &recorder{}
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	cb := rec.callbacks()
	inner := cb.OnProgress
	cb.OnProgress = func(percent *float64, message string) {
		once.Do(func() {
			close(entered)
			<-release
		})
		inner(percent, message)
	}
	tr := TransportFunc(func(ctx context.Context, ref Ref, emit func(Progress)) (*Result, error) {
		for i := 0; ctx.Err() == nil; i++ {
			emit(Progress{Percent: Percent(float64(i % 100)), Message: "scanning"})
		}
		return nil, ctx.Err()
	})
	obs := NewObserver(&fakeBackend{}, tr, cb, WithLogger(zerolog.Nop()))

	_, err := obs.Start(context.Background(), nil)
	require.NoError(t, err)
	<-entered

	cancelled := make(chan struct{})
	go func() {
		obs.Cancel()
		close(cancelled)
	}()
	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("Cancel waited for the in-flight progress callback")
	}
	require.Equal(t, StateCancelled, obs.Handle().State)

	select {
	case <-obs.Done():
		t.Fatal("job finished while a progress callback was still running")
	default:
	}

	close(release)
	waitDone(t, obs)
	require.Equal(t, []string{"progress", "cancel"}, rec.snapshot())
}

func TestObserver_DeadlineEndsWithTimeout(t *testing.T) {
	rec := &recorder{}
	backend := &fakeBackend{}
	obs := newTestObserver(backend, blockingTransport, rec, WithDeadline(30*time.Millisecond))

	_, err := obs.Start(context.Background(), nil)
	require.NoError(t, err)

	h, err := obs.Wait(context.Background())
	require.ErrorIs(t, err, ErrTimeout)
	require.Equal(t, StateFailed, h.State)
	require.Equal(t, KindTimeout, h.Err.Kind)
	require.Equal(t, []string{"error"}, rec.snapshot())
	require.Equal(t, KindTimeout, KindOf(rec.err))
	require.Eventually(t, func() bool { return backend.stopCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestObserver_TransportFailureIsTerminal(t *testing.T) {
	rec := &recorder{}
	tr := TransportFunc(func(ctx context.Context, ref Ref, emit func(Progress)) (*Result, error) {
		return nil, TransportFailure(ErrStreamClosed)
	})
	obs := newTestObserver(&fakeBackend{}, tr, rec)

	_, err := obs.Start(context.Background(), nil)
	require.NoError(t, err)
	waitDone(t, obs)

	require.Equal(t, []string{"error"}, rec.snapshot())
	require.ErrorIs(t, rec.err, ErrStreamClosed)
	require.Equal(t, KindTransport, KindOf(rec.err))
}

func TestObserver_FreshLifecycleAfterTerminal(t *testing.T) {
	rec := &recorder{}
	round := 0
	tr := TransportFunc(func(ctx context.Context, ref Ref, emit func(Progress)) (*Result, error) {
		round++
		if round == 1 {
			emit(Progress{Percent: Percent(100), Message: "done"})
			return nil, RemoteError("first failed")
		}
		emit(Progress{Percent: Percent(5), Message: "again"})
		return &Result{}, nil
	})
	obs := newTestObserver(&fakeBackend{}, tr, rec)

	first, err := obs.Start(context.Background(), nil)
	require.NoError(t, err)
	waitDone(t, obs)

	second, err := obs.Start(context.Background(), nil)
	require.NoError(t, err)
	waitDone(t, obs)

	require.NotEqual(t, first.ID, second.ID)
	require.Equal(t, []string{"progress", "error", "progress", "success"}, rec.snapshot())
	require.Equal(t, []float64{100, 5}, rec.percents, "percent floor resets per job")

	final := obs.Handle()
	require.Equal(t, StateSucceeded, final.State)
	require.Nil(t, final.Err)
}

func TestObserver_ReplaceDoesNotInterleave(t *testing.T) {
	rec := &recorder{}
	unblock := make(chan struct{})
	cb := rec.callbacks()
	onCancel := cb.OnCancel
	cb.OnCancel = func() {
		<-unblock
		onCancel()
	}

	calls := 0
	tr := TransportFunc(func(ctx context.Context, ref Ref, emit func(Progress)) (*Result, error) {
		calls++
		if calls == 1 {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		emit(Progress{Message: "second job"})
		return &Result{}, nil
	})
	obs := NewObserver(&fakeBackend{}, tr, cb, WithLogger(zerolog.Nop()))

	_, err := obs.Start(context.Background(), nil)
	require.NoError(t, err)
	_, err = obs.Replace(context.Background(), nil)
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	require.Empty(t, rec.snapshot(), "second job must wait for the first job's terminal callback")

	close(unblock)
	waitDone(t, obs)
	require.Equal(t, []string{"cancel", "progress", "success"}, rec.snapshot())
}

func TestObserver_ExactlyOneTerminalCallback(t *testing.T) {
	outcomes := map[string]Transport{
		"success": TransportFunc(func(ctx context.Context, ref Ref, emit func(Progress)) (*Result, error) {
			return &Result{}, nil
		}),
		"remote": TransportFunc(func(ctx context.Context, ref Ref, emit func(Progress)) (*Result, error) {
			return nil, RemoteError("bad")
		}),
		"cancel": blockingTransport,
	}

	for name, tr := range outcomes {
		t.Run(name, func(t *testing.T) {
			rec := &recorder{}
			obs := newTestObserver(&fakeBackend{}, tr, rec)
			_, err := obs.Start(context.Background(), nil)
			require.NoError(t, err)
			if name == "cancel" {
				obs.Cancel()
			}
			waitDone(t, obs)
			obs.Cancel()
			require.Equal(t, 1, terminalCount(rec.snapshot()))
		})
	}
}

func TestObserver_WaitWithoutJob(t *testing.T) {
	obs := newTestObserver(&fakeBackend{}, blockingTransport, &recorder{})

	h, err := obs.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateIdle, h.State)
}

func TestObserver_BackendIDReplacesLocalID(t *testing.T) {
	obs := newTestObserver(&fakeBackend{ref: Ref{ID: "scan-42"}}, blockingTransport, &recorder{})

	h, err := obs.Start(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, "scan-42", h.ID)
	require.Equal(t, "test", h.Tool)
	obs.Close()
}

func TestMergeProgress(t *testing.T) {
	tests := []struct {
		name string
		last Progress
		next Progress
		want *float64
	}{
		{name: "log line keeps nil", last: Progress{Percent: Percent(40)}, next: Progress{Message: "x"}, want: nil},
		{name: "increase", last: Progress{Percent: Percent(10)}, next: Progress{Percent: Percent(55)}, want: Percent(55)},
		{name: "decrease held", last: Progress{Percent: Percent(55)}, next: Progress{Percent: Percent(30)}, want: Percent(55)},
		{name: "clamp high", next: Progress{Percent: Percent(140)}, want: Percent(100)},
		{name: "clamp low", next: Progress{Percent: Percent(-3)}, want: Percent(0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mergeProgress(tt.last, tt.next)
			require.Equal(t, tt.want, got.Percent)
			require.Equal(t, tt.next.Message, got.Message)
		})
	}
}
