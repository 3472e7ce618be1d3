// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package jobs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	base := errors.New("dial tcp: connection refused")

	require.Equal(t, Kind(""), KindOf(nil))
	require.Equal(t, KindTransport, KindOf(base), "unclassified errors are transport failures")
	require.Equal(t, KindStartFailure, KindOf(StartFailure(base)))
	require.Equal(t, KindRemote, KindOf(RemoteError("boom")))
	require.Equal(t, KindConflict, KindOf(ErrConflict))
	require.Equal(t, KindTimeout, KindOf(fmt.Errorf("poll: %w", ErrTimeout)))
	require.Equal(t, KindCancelled, KindOf(ErrCancelled))
}

func TestWithKindKeepsMessageAndChain(t *testing.T) {
	base := errors.New("Extraction already running")
	err := StartFailure(base)

	require.Equal(t, "Extraction already running", err.Error())
	require.ErrorIs(t, err, base)
	require.Nil(t, WithKind(nil, KindRemote))
}

func TestRemoteErrorDefaultMessage(t *testing.T) {
	require.Equal(t, "backend reported an error", RemoteError("").Error())
}

func TestExitCode(t *testing.T) {
	require.Equal(t, 0, ExitCode(nil))
	require.Equal(t, 1, ExitCode(RemoteError("x")))
	require.Equal(t, 1, ExitCode(StartFailure(errors.New("x"))))
	require.Equal(t, 3, ExitCode(ErrConflict))
	require.Equal(t, 4, ExitCode(ErrTimeout))
	require.Equal(t, 130, ExitCode(ErrCancelled))
}
