// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package console

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulntor/jobwatch/pkg/jobs"
)

func TestBackend_StartJobForm(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tools/mobile/start", r.URL.Path)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		_, _ = io.WriteString(w, `{"status":"started","message":"Job started"}`)
	}))
	b := NewBackend(c, DefaultProfiles()["mobile"])

	ref, err := b.StartJob(context.Background(), Request{Form: url.Values{"case_name": {"c"}}})
	require.NoError(t, err)
	assert.Empty(t, ref.ID)
	assert.JSONEq(t, `{"status":"started","message":"Job started"}`, string(ref.Body))
}

func TestBackend_StartJobJSONWithID(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "192.168.1.1", payload["target"])
		_, _ = io.WriteString(w, `{"status":"started","scan_id":17}`)
	}))
	b := NewBackend(c, DefaultProfiles()["nmap"])

	ref, err := b.StartJob(context.Background(), &Request{JSON: map[string]any{"target": "192.168.1.1"}})
	require.NoError(t, err)
	assert.Equal(t, "17", ref.ID)
}

func TestBackend_StartJobBusy(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = io.WriteString(w, `{"status":"busy","message":"Extraction already running"}`)
	}))
	b := NewBackend(c, DefaultProfiles()["mobile"])

	_, err := b.StartJob(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, IsBusy(err))
	assert.Equal(t, "Extraction already running", err.Error())
}

func TestBackend_StartJobWithoutStartEndpoint(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	b := NewBackend(c, DefaultProfiles()["ram-analyze"])

	ref, err := b.StartJob(context.Background(), Request{Params: url.Values{"filename": {"mem.raw"}}})
	require.NoError(t, err)
	assert.Equal(t, "mem.raw", ref.Params.Get("filename"))
	assert.Zero(t, hits.Load())
}

func TestBackend_StartJobUnsupportedInput(t *testing.T) {
	b := NewBackend(newTestClient(t, http.NotFoundHandler()), DefaultProfiles()["mobile"])
	_, err := b.StartJob(context.Background(), map[string]string{"case_name": "x"})
	require.ErrorIs(t, err, ErrUnsupportedInput)
}

func TestBackend_StopJob(t *testing.T) {
	var stopped atomic.Bool
	var requests atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.Method == http.MethodPost && r.URL.Path == "/tools/ram/api/stop" {
			stopped.Store(true)
			_, _ = io.WriteString(w, `{"status":"terminated"}`)
			return
		}
		http.NotFound(w, r)
	}))

	require.NoError(t, NewBackend(c, DefaultProfiles()["ram-capture-windows"]).StopJob(context.Background(), jobs.Ref{}))
	assert.True(t, stopped.Load())

	// mobile has no stop endpoint
	require.NoError(t, NewBackend(c, DefaultProfiles()["mobile"]).StopJob(context.Background(), jobs.Ref{}))

	// nmap has none either; the sentry stop route must not be touched
	before := requests.Load()
	require.NoError(t, NewBackend(c, DefaultProfiles()["nmap"]).StopJob(context.Background(), jobs.Ref{}))
	assert.Equal(t, before, requests.Load())

	p := Profile{Name: "custom", Stop: "/tools/custom/stop"}
	err := NewBackend(c, p).StopJob(context.Background(), jobs.Ref{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stop custom")
}

func TestBackend_StatusFilesDownload(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/tools/ram/api/status":
			_, _ = io.WriteString(w, `{"winpmem":true,"volatility":false,"adb":false,"admin":true}`)
		case "/tools/ram/api/files":
			_, _ = io.WriteString(w, `[{"name":"mem.raw","size":1024,"type":"dump"},{"name":"pslist.txt","size":12,"type":"report"}]`)
		case "/tools/ram/api/download/pslist.txt":
			_, _ = io.WriteString(w, "PID PPID")
		default:
			http.NotFound(w, r)
		}
	}))
	b := NewBackend(c, DefaultProfiles()["ram-analyze"])
	ctx := context.Background()

	status, err := b.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, true, status["winpmem"])

	files, err := b.Files(ctx)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, FileEntry{Name: "mem.raw", Size: 1024, Type: "dump"}, files[0])

	path, err := b.Download(ctx, "pslist.txt", t.TempDir())
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "PID PPID", string(data))
	assert.Equal(t, "pslist.txt", filepath.Base(path))

	_, err = NewBackend(c, DefaultProfiles()["nmap"]).Files(ctx)
	require.ErrorIs(t, err, ErrNoEndpoint)
}
