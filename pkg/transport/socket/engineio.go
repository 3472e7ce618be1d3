// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package socket

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Engine.IO v4 packet types, the first byte of a text message.
const (
	eioOpen    byte = '0'
	eioClose   byte = '1'
	eioPing    byte = '2'
	eioPong    byte = '3'
	eioMessage byte = '4'
)

// Socket.IO v5 packet types, the byte after eioMessage.
const (
	sioConnect      byte = '0'
	sioDisconnect   byte = '1'
	sioEvent        byte = '2'
	sioConnectError byte = '4'
)

// ErrConnectRefused is returned when the console rejects the Socket.IO
// connect request.
var ErrConnectRefused = errors.New("socket.io connect refused")

// packet is one Engine.IO text message. For message packets sio holds the
// Socket.IO type and data the payload after namespace and ack id.
type packet struct {
	eio       byte
	sio       byte
	namespace string
	data      []byte
}

func parsePacket(msg []byte) (packet, error) {
	if len(msg) == 0 {
		return packet{}, errors.New("empty engine.io packet")
	}
	p := packet{eio: msg[0], data: msg[1:], namespace: "/"}
	if p.eio != eioMessage {
		return p, nil
	}
	if len(p.data) == 0 {
		return packet{}, errors.New("empty socket.io packet")
	}
	p.sio, p.data = p.data[0], p.data[1:]

	if len(p.data) > 0 && p.data[0] == '/' {
		ns, rest, found := bytes.Cut(p.data, []byte{','})
		p.namespace = string(ns)
		if !found {
			rest = nil
		}
		p.data = rest
	}

	// ack id
	i := 0
	for i < len(p.data) && p.data[i] >= '0' && p.data[i] <= '9' {
		i++
	}
	p.data = p.data[i:]
	return p, nil
}

// openPayload is the body of the Engine.IO open packet. Intervals are in
// milliseconds.
type openPayload struct {
	SID          string `json:"sid"`
	PingInterval int    `json:"pingInterval"`
	PingTimeout  int    `json:"pingTimeout"`
}

// liveness is how long the client waits for any packet before the server
// counts as gone. Zero when the server did not announce its ping schedule.
func (o openPayload) liveness() time.Duration {
	if o.PingInterval <= 0 {
		return 0
	}
	return time.Duration(o.PingInterval+o.PingTimeout) * time.Millisecond
}

// connectError decodes the {"message": ...} body of a connect error packet.
func connectError(data []byte) error {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Message != "" {
		return fmt.Errorf("%w: %s", ErrConnectRefused, body.Message)
	}
	return ErrConnectRefused
}

// DecodeEvent parses a Socket.IO event payload ["name", data, ...] into a
// frame. Events other than event are skipped (ok is false).
func DecodeEvent(payload []byte, event string) (frame Frame, ok bool, err error) {
	var args []json.RawMessage
	if err := json.Unmarshal(payload, &args); err != nil {
		return Frame{}, false, fmt.Errorf("decode socket.io event: %w", err)
	}
	if len(args) == 0 {
		return Frame{}, false, errors.New("socket.io event without a name")
	}
	var name string
	if err := json.Unmarshal(args[0], &name); err != nil {
		return Frame{}, false, fmt.Errorf("decode socket.io event name: %w", err)
	}
	if event != "" && name != event {
		return Frame{}, false, nil
	}
	if len(args) < 2 {
		return Frame{}, true, nil
	}
	if err := json.Unmarshal(args[1], &frame); err != nil {
		return Frame{}, false, fmt.Errorf("decode %s frame: %w", name, err)
	}
	return frame, true, nil
}

// isEngineIO reports whether the socket path addresses an Engine.IO endpoint.
func isEngineIO(path string) bool {
	_, rawQuery, found := strings.Cut(path, "?")
	if !found {
		return false
	}
	q, err := url.ParseQuery(rawQuery)
	return err == nil && q.Get("EIO") != ""
}
