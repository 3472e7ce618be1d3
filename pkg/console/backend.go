// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package console

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cast"

	"github.com/vulntor/jobwatch/pkg/jobs"
)

// Backend starts and stops jobs of one tool profile. It implements jobs.Backend.
type Backend struct {
	client  *Client
	profile Profile
}

var _ jobs.Backend = (*Backend)(nil)

// NewBackend binds a client to a tool profile.
func NewBackend(client *Client, profile Profile) *Backend {
	return &Backend{client: client, profile: profile}
}

// Profile returns the bound profile.
func (b *Backend) Profile() Profile { return b.profile }

// Client returns the underlying console client.
func (b *Backend) Client() *Client { return b.client }

// StartJob posts the request to the profile's start endpoint using its body
// encoding. Stream profiles have no start call; the stream itself starts the
// work, so only the request params are passed on.
func (b *Backend) StartJob(ctx context.Context, input any) (jobs.Ref, error) {
	req, err := requestFrom(input)
	if err != nil {
		return jobs.Ref{}, err
	}

	ref := jobs.Ref{Params: req.Params}
	if b.profile.Start == "" {
		return ref, nil
	}

	var body []byte
	switch b.profile.Encoding() {
	case EncodingJSON:
		body, err = b.client.PostJSON(ctx, b.profile.Start, req.JSON)
	case EncodingMultipart:
		body, err = b.client.PostMultipart(ctx, b.profile.Start, req.Form, req.Files)
	default:
		body, err = b.client.PostForm(ctx, b.profile.Start, req.Form)
	}
	if err != nil {
		return jobs.Ref{}, err
	}

	if json.Valid(body) {
		ref.Body = json.RawMessage(body)
	}
	ref.ID = jobIDFrom(body)
	return ref, nil
}

// StopJob posts to the profile's stop endpoint. Profiles without one have
// nothing to signal.
func (b *Backend) StopJob(ctx context.Context, ref jobs.Ref) error {
	if b.profile.Stop == "" {
		return nil
	}
	if err := b.client.Post(ctx, b.profile.Stop); err != nil {
		return fmt.Errorf("stop %s: %w", b.profile.Name, err)
	}
	return nil
}

// jobIDFrom picks a job identifier from a start response, if the tool
// reports one.
func jobIDFrom(body []byte) string {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	for _, key := range []string{"job_id", "scan_id", "id"} {
		if v, ok := payload[key]; ok && v != nil {
			if id := cast.ToString(v); id != "" {
				return id
			}
		}
	}
	return ""
}
