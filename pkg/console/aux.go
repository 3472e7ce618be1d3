// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package console

import (
	"context"
	"fmt"
)

// FileEntry is one artifact listed by a tool's files endpoint.
type FileEntry struct {
	Name string `json:"name" yaml:"name"`
	Size int64  `json:"size" yaml:"size"`
	Type string `json:"type" yaml:"type"`
}

// Status fetches the tool's readiness report (device connected, helper
// binaries present). The shape is tool specific and returned as decoded JSON.
func (b *Backend) Status(ctx context.Context) (map[string]any, error) {
	if b.profile.Status == "" {
		return nil, fmt.Errorf("%w: status (%s)", ErrNoEndpoint, b.profile.Name)
	}
	out := map[string]any{}
	if err := b.client.GetJSON(ctx, b.profile.Status, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Files lists artifacts the tool keeps on the console host.
func (b *Backend) Files(ctx context.Context) ([]FileEntry, error) {
	if b.profile.Files == "" {
		return nil, fmt.Errorf("%w: files (%s)", ErrNoEndpoint, b.profile.Name)
	}
	var out []FileEntry
	if err := b.client.GetJSON(ctx, b.profile.Files, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Download fetches artifact name into dir and returns the local path.
func (b *Backend) Download(ctx context.Context, name, dir string) (string, error) {
	path, err := b.profile.DownloadPath(name)
	if err != nil {
		return "", err
	}
	return b.client.Download(ctx, path, name, dir)
}
