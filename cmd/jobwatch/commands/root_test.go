// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package commands

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vulntor/jobwatch/pkg/jobs"
)

// fakeConsole serves the mobile tool endpoints.
type fakeConsole struct {
	polls     atomic.Int32
	busy      bool
	remoteErr bool
	lastForm  atomic.Value
}

func (f *fakeConsole) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/tools/mobile/start":
		_ = r.ParseForm()
		f.lastForm.Store(r.PostForm)
		if f.busy {
			w.WriteHeader(http.StatusConflict)
			_, _ = io.WriteString(w, `{"status":"busy","message":"Extraction already running"}`)
			return
		}
		_, _ = io.WriteString(w, `{"status":"started"}`)
	case "/tools/mobile/progress":
		if f.remoteErr {
			_, _ = io.WriteString(w, `{"running":false,"error":"device disconnected"}`)
			return
		}
		if f.polls.Add(1) < 2 {
			_, _ = io.WriteString(w, `{"running":true,"percent":50,"message":"Extracting SMS"}`)
			return
		}
		_, _ = io.WriteString(w, `{"running":false,"percent":100,"message":"Done","excel_file":"case.xlsx"}`)
	case "/tools/mobile/result":
		_, _ = io.WriteString(w, `{"result":{"sms":3}}`)
	case "/tools/mobile/download/case.xlsx":
		_, _ = io.WriteString(w, "xlsx")
	case "/tools/mobile/device-status":
		_, _ = io.WriteString(w, `{"connected":true,"device":"R58M","adb":{"version":"1.0.41"}}`)
	default:
		http.NotFound(w, r)
	}
}

type harness struct {
	console *fakeConsole
	config  string
	outDir  string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	fake := &fakeConsole{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	content := "console:\n  base_url: " + srv.URL + "\n  rate_limit: 0\njobs:\n  poll_interval: 5ms\n  stop_timeout: 1s\nlog:\n  level: error\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o600))

	t.Setenv("JOBWATCH_OUTPUT_STATE_DIR", filepath.Join(dir, "state"))
	return &harness{console: fake, config: cfgPath, outDir: filepath.Join(dir, "artifacts")}
}

func (h *harness) execute(args ...string) (string, string, error) {
	cmd := NewCommand()
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(append([]string{"--config", h.config, "--output.dir", h.outDir}, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestRootCommandRunsVersion(t *testing.T) {
	h := newHarness(t)

	stdout, _, err := h.execute("version", "--short")
	require.NoError(t, err)
	require.Equal(t, "jobwatch version: dev\n", stdout)
}

func TestRunCommand_PollJobJSON(t *testing.T) {
	h := newHarness(t)

	stdout, stderr, err := h.execute("run", "mobile",
		"--form", "case_name=acme", "--form", "case_number=042", "--form", "time_range=30",
		"--form", "data_types=sms", "--form", "data_types=calls", "-o", "json")
	require.NoError(t, err)

	var report struct {
		Job struct {
			State  string `json:"state"`
			Result struct {
				Payload   map[string]any    `json:"result"`
				Artifacts map[string]string `json:"artifacts"`
			} `json:"result"`
		} `json:"job"`
		Downloads map[string]string `json:"downloads"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &report), stdout)
	require.Equal(t, "succeeded", report.Job.State)
	require.Equal(t, map[string]any{"sms": float64(3)}, report.Job.Result.Payload)
	require.Equal(t, filepath.Join(h.outDir, "case.xlsx"), report.Downloads["excel"])

	data, err := os.ReadFile(report.Downloads["excel"])
	require.NoError(t, err)
	require.Equal(t, "xlsx", string(data))

	require.Contains(t, stderr, "[ 50%] Extracting SMS")
	require.Contains(t, stderr, "✓ mobile completed")

	form := h.console.lastForm.Load().(url.Values)
	require.Equal(t, "acme", form.Get("case_name"))
	require.Equal(t, "042", form.Get("case_number"))
	require.Equal(t, "30", form.Get("time_range"))
	require.Equal(t, []string{"sms", "calls"}, form["data_types"])
}

// consoleFields lists the request fields each console tool reads, by flag.
var consoleFields = map[string]map[string][]string{
	"mobile":            {"--form": {"case_name", "case_number", "time_range", "data_types"}},
	"ram-analyze":       {"--param": {"filename"}},
	"nmap":              {"--json": {"target", "scan_type", "extra"}},
	"wireshark-analyze": {"--file": {"pcap"}},
}

func TestRunCommand_ExamplesUseConsoleFields(t *testing.T) {
	run, _, err := NewCommand().Find([]string{"run"})
	require.NoError(t, err)

	example := strings.ReplaceAll(run.Example, "\\\n", " ")
	seen := 0
	for _, line := range strings.Split(example, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 || fields[0] != "jobwatch" || fields[1] != "run" {
			continue
		}
		tool := fields[2]
		accepted, ok := consoleFields[tool]
		require.True(t, ok, "example for unknown tool %s", tool)
		for i := 3; i < len(fields)-1; i++ {
			keys, ok := accepted[fields[i]]
			if !ok {
				continue
			}
			key, _, _ := strings.Cut(fields[i+1], "=")
			require.Contains(t, keys, key, "%s %s %s", tool, fields[i], fields[i+1])
			seen++
		}
	}
	require.Positive(t, seen)
}

func TestRunCommand_RemoteError(t *testing.T) {
	h := newHarness(t)
	h.console.remoteErr = true

	stdout, _, err := h.execute("run", "mobile", "--output.download=false")
	require.Error(t, err)
	require.True(t, Reported(err))
	require.Equal(t, jobs.KindRemote, jobs.KindOf(err))
	require.Equal(t, 1, jobs.ExitCode(err))
	require.Contains(t, stdout, "✗ mobile failed")
	require.Contains(t, stdout, "device disconnected")
}

func TestRunCommand_BusyConsole(t *testing.T) {
	h := newHarness(t)
	h.console.busy = true

	_, stderr, err := h.execute("run", "mobile")
	require.Error(t, err)
	require.Equal(t, jobs.KindStartFailure, jobs.KindOf(err))
	require.Contains(t, stderr, "already running")
}

func TestRunCommand_UnknownTool(t *testing.T) {
	h := newHarness(t)

	_, _, err := h.execute("run", "nope")
	require.Error(t, err)
	require.False(t, Reported(err))
	require.Contains(t, err.Error(), `unknown tool "nope"`)
}

func TestToolsCommand(t *testing.T) {
	h := newHarness(t)

	stdout, _, err := h.execute("tools", "--no-color")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.True(t, strings.HasPrefix(lines[0], "TOOL"), lines[0])
	require.Contains(t, stdout, "mobile")
	require.Contains(t, stdout, "socket")
	require.Contains(t, stdout, "tool(s) configured")
}

func TestStatusCommandJSON(t *testing.T) {
	h := newHarness(t)

	stdout, _, err := h.execute("status", "mobile", "-o", "json")
	require.NoError(t, err)

	var status map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &status))
	require.Equal(t, true, status["connected"])
}

func TestStatusCommandTable(t *testing.T) {
	h := newHarness(t)

	stdout, _, err := h.execute("status", "mobile", "--no-color")
	require.NoError(t, err)
	require.Contains(t, stdout, `adb        {"version":"1.0.41"}`)
	require.Contains(t, stdout, "connected  true")
}

func TestStopCommandWithoutEndpoint(t *testing.T) {
	h := newHarness(t)

	_, _, err := h.execute("stop", "mobile")
	require.Error(t, err)
	require.Contains(t, err.Error(), "stop")
}

func TestConfigShowLayersEnv(t *testing.T) {
	h := newHarness(t)
	t.Setenv("JOBWATCH_JOBS_DEADLINE", "2m")

	stdout, _, err := h.execute("config", "show", "-o", "json")
	require.NoError(t, err)

	var settings map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &settings))
	jobsCfg := settings["jobs"].(map[string]any)
	require.Equal(t, "2m", jobsCfg["deadline"])
	require.Contains(t, settings["profiles"], "nmap")
}

func TestBuildRequest(t *testing.T) {
	req, err := buildRequest(runOptions{
		form:   []string{"data_types=sms", "data_types=calls"},
		json:   []string{"target=10.0.0.5", "ports=[22,80]", "fast=true"},
		files:  []string{"pcap=./a.pcap"},
		params: []string{"filename=dump.raw"},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"sms", "calls"}, req.Form["data_types"])
	require.Equal(t, "10.0.0.5", req.JSON["target"])
	require.Equal(t, []any{float64(22), float64(80)}, req.JSON["ports"])
	require.Equal(t, true, req.JSON["fast"])
	require.Equal(t, "./a.pcap", req.Files["pcap"])
	require.Equal(t, "dump.raw", req.Params.Get("filename"))

	_, err = buildRequest(runOptions{form: []string{"novalue"}})
	require.ErrorIs(t, err, errBadPair)
}
