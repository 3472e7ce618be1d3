// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package console

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultProfiles_Valid(t *testing.T) {
	profiles := DefaultProfiles()
	require.Len(t, profiles, 7)
	for name, p := range profiles {
		assert.Equal(t, name, p.Name)
		assert.NoError(t, p.Validate(), name)
	}
}

func TestProfile_ValidateMissingEndpoints(t *testing.T) {
	tests := []struct {
		name    string
		profile Profile
	}{
		{"poll without progress", Profile{Name: "x", Transport: TransportPoll, Start: "/s", Result: "/r"}},
		{"stream without stream", Profile{Name: "x", Transport: TransportStream}},
		{"socket without start", Profile{Name: "x", Transport: TransportSocket, Socket: "/ws"}},
		{"unknown transport", Profile{Name: "x", Transport: "carrier-pigeon"}},
		{"bad encoding", Profile{Name: "x", Transport: TransportInline, Start: "/s", StartEncoding: "xml"}},
		{"no name", Profile{Transport: TransportStream, Stream: "/s"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.profile.Validate())
		})
	}
}

func TestProfile_DownloadPath(t *testing.T) {
	p := Profile{Name: "mobile", Download: "/tools/mobile/download/{name}"}

	got, err := p.DownloadPath("case_1.xlsx")
	require.NoError(t, err)
	assert.Equal(t, "/tools/mobile/download/case_1.xlsx", got)

	got, err = p.DownloadPath("../../etc/passwd")
	require.NoError(t, err)
	assert.Equal(t, "/tools/mobile/download/passwd", got)

	got, err = p.DownloadPath("what?now #2.pdf")
	require.NoError(t, err)
	assert.Equal(t, "/tools/mobile/download/what%3Fnow%20%232.pdf", got)

	_, err = p.DownloadPath("")
	require.Error(t, err)

	p.Download = "/files/"
	got, err = p.DownloadPath("dump.raw")
	require.NoError(t, err)
	assert.Equal(t, "/files/dump.raw", got)

	_, err = Profile{Name: "nmap"}.DownloadPath("x")
	require.ErrorIs(t, err, ErrNoEndpoint)
}

func TestDefaultProfiles_NmapCancelIsLocal(t *testing.T) {
	nmap := DefaultProfiles()["nmap"]
	assert.Empty(t, nmap.Stop)
	assert.Equal(t, "/socket.io/?EIO=4&transport=websocket", nmap.Socket)
	assert.Equal(t, "scan_status", nmap.SocketEvent)
}

func TestDefaultProfiles_MobilePollsImmediately(t *testing.T) {
	profiles := DefaultProfiles()
	assert.True(t, profiles["mobile"].PollImmediately)
	for _, name := range []string{"ram-analyze", "nmap", "wireshark-analyze"} {
		assert.False(t, profiles[name].PollImmediately, name)
	}
}

func TestProfile_Encoding(t *testing.T) {
	assert.Equal(t, EncodingForm, Profile{}.Encoding())
	assert.Equal(t, EncodingJSON, DefaultProfiles()["nmap"].Encoding())
	assert.Equal(t, EncodingMultipart, DefaultProfiles()["wireshark-analyze"].Encoding())
}

func TestSortedNames(t *testing.T) {
	names := SortedNames(DefaultProfiles())
	assert.Equal(t, []string{
		"mobile", "nmap", "ram-analyze", "ram-capture-android",
		"ram-capture-windows", "wireshark-analyze", "wireshark-capture",
	}, names)
}
