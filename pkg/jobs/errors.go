// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package jobs

import (
	"errors"
	"fmt"
)

// Kind classifies why a job ended without a result.
type Kind string

const (
	// KindStartFailure: the start request was rejected or the console was unreachable.
	KindStartFailure Kind = "start_failure"
	// KindTransport: the progress channel broke mid-job (network, decode, unexpected close).
	KindTransport Kind = "transport_failure"
	// KindRemote: the console answered normally but reported an error field.
	KindRemote Kind = "remote_error"
	// KindConflict: a second job was started while one was active.
	KindConflict Kind = "conflict"
	// KindTimeout: the job outlived the observer deadline.
	KindTimeout Kind = "timeout"
	// KindCancelled: the job was cancelled locally.
	KindCancelled Kind = "cancelled"
)

// Sentinel errors.
var (
	// ErrConflict is returned by Start while another job is starting or running.
	ErrConflict = WithKind(errors.New("a job is already active on this observer"), KindConflict)

	// ErrTimeout is the cause recorded when the observer deadline elapses.
	ErrTimeout = WithKind(errors.New("job deadline exceeded"), KindTimeout)

	// ErrCancelled is the cause recorded when Cancel tears a job down.
	ErrCancelled = WithKind(errors.New("job cancelled"), KindCancelled)

	// ErrStreamClosed is returned by push transports when the connection ends
	// before the terminal marker arrived.
	ErrStreamClosed = errors.New("stream closed before completion")
)

// kindError attaches a Kind to an error without changing its message.
type kindError struct {
	error
	kind Kind
}

func (e *kindError) Unwrap() error { return e.error }

func (e *kindError) Kind() Kind { return e.kind }

// WithKind wraps err with kind. The message is left verbatim so callers can
// show backend text unchanged.
func WithKind(err error, kind Kind) error {
	if err == nil {
		return nil
	}
	return &kindError{error: err, kind: kind}
}

// StartFailure marks err as a rejected or unreachable start request.
func StartFailure(err error) error { return WithKind(err, KindStartFailure) }

// TransportFailure marks err as a mid-job channel failure.
func TransportFailure(err error) error { return WithKind(err, KindTransport) }

// RemoteError builds the error for a backend-reported `error` field.
func RemoteError(message string) error {
	if message == "" {
		message = "backend reported an error"
	}
	return WithKind(errors.New(message), KindRemote)
}

// KindOf resolves the kind of err. Unclassified errors count as transport failures.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var k interface{ Kind() Kind }
	if errors.As(err, &k) {
		return k.Kind()
	}
	return KindTransport
}

// ExitCode maps job errors to CLI exit codes.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch KindOf(err) {
	case KindConflict:
		return 3
	case KindTimeout:
		return 4
	case KindCancelled:
		return 130
	default:
		return 1
	}
}

// ErrorInfo is the terminal error recorded on a Handle.
type ErrorInfo struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

func newErrorInfo(err error) *ErrorInfo {
	return &ErrorInfo{Kind: KindOf(err), Message: err.Error()}
}

func (e ErrorInfo) String() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}
