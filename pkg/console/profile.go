// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package console

import (
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// TransportKind selects how a tool's progress is observed.
type TransportKind string

const (
	TransportPoll   TransportKind = "poll"
	TransportStream TransportKind = "stream"
	TransportSocket TransportKind = "socket"
	TransportInline TransportKind = "inline"
)

// Start body encodings.
const (
	EncodingForm      = "form"
	EncodingJSON      = "json"
	EncodingMultipart = "multipart"
)

// Profile describes the endpoints of one console tool. Paths are relative to
// the console base URL; Download may contain a {name} placeholder.
type Profile struct {
	Name          string        `koanf:"name" json:"name" validate:"required"`
	Description   string        `koanf:"description" json:"description,omitempty"`
	Transport     TransportKind `koanf:"transport" json:"transport" validate:"oneof=poll stream socket inline"`
	Start         string        `koanf:"start" json:"start,omitempty" validate:"required_if=Transport poll,required_if=Transport socket,required_if=Transport inline"`
	StartEncoding string        `koanf:"start_encoding" json:"start_encoding,omitempty" validate:"omitempty,oneof=form json multipart"`
	Progress      string        `koanf:"progress" json:"progress,omitempty" validate:"required_if=Transport poll"`
	Result        string        `koanf:"result" json:"result,omitempty" validate:"required_if=Transport poll"`
	Stop          string        `koanf:"stop" json:"stop,omitempty"`
	Stream        string        `koanf:"stream" json:"stream,omitempty" validate:"required_if=Transport stream"`
	Socket        string        `koanf:"socket" json:"socket,omitempty" validate:"required_if=Transport socket"`
	SocketEvent   string        `koanf:"socket_event" json:"socket_event,omitempty"`
	Download      string        `koanf:"download" json:"download,omitempty"`
	Status        string        `koanf:"status" json:"status,omitempty"`
	Files         string        `koanf:"files" json:"files,omitempty"`
	Interval      time.Duration `koanf:"interval" json:"interval,omitempty" validate:"gte=0"`
	// PollImmediately fetches progress once right after start instead of
	// waiting for the first interval.
	PollImmediately bool `koanf:"poll_immediately" json:"poll_immediately,omitempty"`
}

var validate = validator.New()

// Validate checks that the profile names the endpoints its transport needs.
func (p Profile) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("profile %q: %w", p.Name, err)
	}
	return nil
}

// DownloadPath renders the artifact download path for name. The base name is
// path-escaped, so the result is a raw (encoded) URL path.
func (p Profile) DownloadPath(name string) (string, error) {
	if p.Download == "" {
		return "", fmt.Errorf("%w: download (%s)", ErrNoEndpoint, p.Name)
	}
	base := path.Base(path.Clean("/" + name))
	if base == "/" {
		return "", fmt.Errorf("invalid artifact name %q", name)
	}
	base = url.PathEscape(base)
	if strings.Contains(p.Download, "{name}") {
		return strings.ReplaceAll(p.Download, "{name}", base), nil
	}
	return strings.TrimSuffix(p.Download, "/") + "/" + base, nil
}

// Encoding returns the start body encoding, defaulting to form.
func (p Profile) Encoding() string {
	if p.StartEncoding == "" {
		return EncodingForm
	}
	return p.StartEncoding
}

// DefaultProfiles returns the built-in tool profiles of the console.
func DefaultProfiles() map[string]Profile {
	profiles := []Profile{
		{
			Name:        "mobile",
			Description: "Android device extraction (ADB)",
			Transport:   TransportPoll,
			Start:       "/tools/mobile/start",
			Progress:    "/tools/mobile/progress",
			Result:      "/tools/mobile/result",
			Download:    "/tools/mobile/download/{name}",
			Status:      "/tools/mobile/device-status",
			Interval:    600 * time.Millisecond,
			// The extraction page asks for progress right away, then every tick.
			PollImmediately: true,
		},
		{
			Name:        "ram-capture-windows",
			Description: "Windows memory acquisition (winpmem)",
			Transport:   TransportStream,
			Stream:      "/tools/ram/stream/capture/windows",
			Stop:        "/tools/ram/api/stop",
			Download:    "/tools/ram/api/download/{name}",
			Status:      "/tools/ram/api/status",
			Files:       "/tools/ram/api/files",
		},
		{
			Name:        "ram-capture-android",
			Description: "Android memory acquisition",
			Transport:   TransportStream,
			Stream:      "/tools/ram/stream/capture/android",
			Stop:        "/tools/ram/api/stop",
			Download:    "/tools/ram/api/download/{name}",
			Status:      "/tools/ram/api/status",
			Files:       "/tools/ram/api/files",
		},
		{
			Name:        "ram-analyze",
			Description: "Volatility analysis of a memory dump",
			Transport:   TransportStream,
			Stream:      "/tools/ram/stream/analyze",
			Stop:        "/tools/ram/api/stop",
			Download:    "/tools/ram/api/download/{name}",
			Status:      "/tools/ram/api/status",
			Files:       "/tools/ram/api/files",
		},
		{
			Name:          "nmap",
			Description:   "Port and vulnerability scan",
			Transport:     TransportSocket,
			Start:         "/tools/nmap/scan",
			StartEncoding: EncodingJSON,
			Socket:        "/socket.io/?EIO=4&transport=websocket",
			SocketEvent:   "scan_status",
			// The console has no scan stop route; cancel is local.
		},
		{
			Name:          "wireshark-analyze",
			Description:   "Offline pcap analysis",
			Transport:     TransportInline,
			Start:         "/tools/wireshark/api/analyze",
			StartEncoding: EncodingMultipart,
			Download:      "/tools/wireshark/api/download/{name}",
			Status:        "/tools/wireshark/api/interfaces",
		},
		{
			Name:          "wireshark-capture",
			Description:   "Live packet capture",
			Transport:     TransportInline,
			Start:         "/tools/wireshark/api/live-capture",
			StartEncoding: EncodingJSON,
			Download:      "/tools/wireshark/api/download/{name}",
			Status:        "/tools/wireshark/api/interfaces",
		},
	}

	out := make(map[string]Profile, len(profiles))
	for _, p := range profiles {
		out[p.Name] = p
	}
	return out
}

// SortedNames returns the profile names in lexical order.
func SortedNames(profiles map[string]Profile) []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
