// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package console

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrUnsupportedInput is returned when a start input is not a Request.
var ErrUnsupportedInput = errors.New("unsupported job input")

// ErrNoEndpoint is returned when a profile lacks the endpoint an operation needs.
var ErrNoEndpoint = errors.New("profile has no endpoint for this operation")

// APIError is a non-2xx answer from the console.
//
// Error returns the console's own message unchanged so it can be shown to the
// operator verbatim; StatusCode and Endpoint are kept for logs.
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

// Retryable reports whether the status is a temporary gateway failure.
func (e *APIError) Retryable() bool {
	switch e.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// IsBusy reports whether err is the console refusing a second concurrent job.
func IsBusy(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict
}

// messageFromBody extracts `message` or `error` from a JSON error body, falling
// back to the trimmed text.
func messageFromBody(body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
		return ""
	}
	text := strings.TrimSpace(string(body))
	if len(text) > 512 {
		text = text[:512]
	}
	return text
}

func newAPIError(status int, endpoint string, body []byte) *APIError {
	return &APIError{
		StatusCode: status,
		Message:    messageFromBody(body),
		Endpoint:   endpoint,
	}
}
