// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package stream

import (
	"bufio"
	"io"
	"strings"
)

const maxLineSize = 1 << 20

// Event is one dispatched server-sent event.
type Event struct {
	Type string
	ID   string
	Data string
}

// EventReader splits a text/event-stream body into events.
type EventReader struct {
	scanner *bufio.Scanner
}

// NewEventReader wraps r.
func NewEventReader(r io.Reader) *EventReader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &EventReader{scanner: s}
}

// Next returns the next complete event. A trailing event without its blank
// line terminator is discarded and io.EOF returned.
func (r *EventReader) Next() (Event, error) {
	var (
		ev      Event
		data    []string
		hasData bool
	)

	for r.scanner.Scan() {
		line := strings.TrimSuffix(r.scanner.Text(), "\r")

		if line == "" {
			if !hasData {
				ev = Event{}
				continue
			}
			ev.Data = strings.Join(data, "\n")
			return ev, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "data":
			data = append(data, value)
			hasData = true
		case "event":
			ev.Type = value
		case "id":
			ev.ID = value
		}
	}

	if err := r.scanner.Err(); err != nil {
		return Event{}, err
	}
	return Event{}, io.EOF
}
