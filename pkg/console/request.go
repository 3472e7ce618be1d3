// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package console

import (
	"fmt"
	"net/url"
)

// Request is the start payload for one console tool. Which fields are sent
// depends on the profile's start encoding; the rest are ignored.
type Request struct {
	// Form holds form fields. Repeated keys (e.g. data_types) are kept.
	Form url.Values

	// JSON is marshalled as the body for json-encoded tools.
	JSON map[string]any

	// Files maps multipart field names to local file paths.
	Files map[string]string

	// Params are query values for the observation channel, e.g. the dump
	// filename of a memory analysis stream.
	Params url.Values
}

func requestFrom(input any) (Request, error) {
	switch v := input.(type) {
	case nil:
		return Request{}, nil
	case Request:
		return v, nil
	case *Request:
		if v == nil {
			return Request{}, nil
		}
		return *v, nil
	default:
		return Request{}, fmt.Errorf("%w: %T", ErrUnsupportedInput, input)
	}
}
