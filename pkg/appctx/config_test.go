// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package appctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vulntor/jobwatch/pkg/config"
)

func TestWithConfig(t *testing.T) {
	t.Run("stores config manager in context", func(t *testing.T) {
		manager := config.NewManager()
		ctx := WithConfig(context.Background(), manager)

		retrieved, ok := Config(ctx)
		require.True(t, ok)
		require.Same(t, manager, retrieved)
	})

	t.Run("handles nil context", func(t *testing.T) {
		manager := config.NewManager()
		//nolint:staticcheck
		ctx := WithConfig(nil, manager)

		retrieved, ok := Config(ctx)
		require.True(t, ok)
		require.Same(t, manager, retrieved)
	})
}

func TestConfig(t *testing.T) {
	t.Run("missing manager", func(t *testing.T) {
		_, ok := Config(context.Background())
		require.False(t, ok)
	})

	t.Run("nil context", func(t *testing.T) {
		//nolint:staticcheck
		_, ok := Config(nil)
		require.False(t, ok)
	})

	t.Run("typed nil manager", func(t *testing.T) {
		var manager *config.Manager
		ctx := context.WithValue(context.Background(), configKey, manager)
		_, ok := Config(ctx)
		require.False(t, ok)
	})
}
