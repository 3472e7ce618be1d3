// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

// Package console is the HTTP client for the security console's tool endpoints.
package console

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout bounds plain request/response calls. Streams and
	// downloads are bounded by their context instead.
	DefaultTimeout = 30 * time.Second

	// DefaultRateLimit is the default request pace (requests per second).
	DefaultRateLimit = 20
)

// Client talks to one console instance.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	streamHTTP *http.Client
	dialer     *websocket.Dialer
	limiter    *rate.Limiter
	header     http.Header
	timeout    time.Duration
	logger     zerolog.Logger
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the HTTP client used for every request.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
		c.streamHTTP = httpClient
	}
}

// WithTimeout sets the per-request timeout of plain calls.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

// WithRateLimit paces requests. Zero or less disables pacing.
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		if requestsPerSecond <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

// WithHeader adds a header to every request (e.g. a session cookie).
func WithHeader(key, value string) ClientOption {
	return func(c *Client) { c.header.Add(key, value) }
}

// WithLogger sets the client logger.
func WithLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a client for the console at baseURL.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse console url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("console url must be http or https, got %q", baseURL)
	}

	c := &Client{
		baseURL:    u,
		httpClient: &http.Client{},
		streamHTTP: &http.Client{},
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second, Proxy: http.ProxyFromEnvironment},
		limiter:    rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		header:     make(http.Header),
		timeout:    DefaultTimeout,
		logger:     log.Logger.With().Str("component", "console").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the console base URL.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// endpoint resolves path against the base URL. path is an escaped URL path
// and may carry a query after '?'.
func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	p, q, _ := strings.Cut(path, "?")
	raw := c.baseURL.EscapedPath() + "/" + strings.TrimPrefix(p, "/")
	if unescaped, err := url.PathUnescape(raw); err == nil {
		u.Path, u.RawPath = unescaped, raw
	} else {
		u.Path, u.RawPath = raw, ""
	}
	u.RawQuery = q
	if len(query) > 0 {
		merged, _ := url.ParseQuery(u.RawQuery)
		for k, vs := range query {
			for _, v := range vs {
				merged.Add(k, v)
			}
		}
		u.RawQuery = merged.Encode()
	}
	return u.String()
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, vs := range c.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return req, nil
}

// do executes a bounded request and returns the whole body.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string) (int, []byte, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return 0, nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	c.logger.Debug().Str("method", method).Str("path", path).Msg("Console request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read %s response: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, data, newAPIError(resp.StatusCode, path, data)
	}
	return resp.StatusCode, data, nil
}

// GetJSON fetches path and decodes the JSON body into out.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, out any) error {
	_, data, err := c.do(ctx, http.MethodGet, path, query, nil, "")
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// PostForm posts url-encoded form fields and returns the raw body.
func (c *Client) PostForm(ctx context.Context, path string, form url.Values) ([]byte, error) {
	_, data, err := c.do(ctx, http.MethodPost, path, nil, strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
	return data, err
}

// PostJSON posts payload as JSON and returns the raw body.
func (c *Client) PostJSON(ctx context.Context, path string, payload any) ([]byte, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	_, data, err := c.do(ctx, http.MethodPost, path, nil, bytes.NewReader(buf), "application/json")
	return data, err
}

// PostMultipart uploads files (field -> local path) together with form fields.
func (c *Client) PostMultipart(ctx context.Context, path string, form url.Values, files map[string]string) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	for field, values := range form {
		for _, v := range values {
			if err := mw.WriteField(field, v); err != nil {
				return nil, fmt.Errorf("write field %s: %w", field, err)
			}
		}
	}
	for field, local := range files {
		if err := attachFile(mw, field, local); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart body: %w", err)
	}

	_, data, err := c.do(ctx, http.MethodPost, path, nil, &body, mw.FormDataContentType())
	return data, err
}

func attachFile(mw *multipart.Writer, field, local string) error {
	f, err := os.Open(local)
	if err != nil {
		return fmt.Errorf("open %s: %w", local, err)
	}
	defer f.Close()

	part, err := mw.CreateFormFile(field, filepath.Base(local))
	if err != nil {
		return fmt.Errorf("create form file %s: %w", field, err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("copy %s: %w", local, err)
	}
	return nil
}

// Post sends an empty POST, used for stop signals.
func (c *Client) Post(ctx context.Context, path string) error {
	_, _, err := c.do(ctx, http.MethodPost, path, nil, nil, "")
	return err
}

// OpenStream opens a server-sent event stream. The caller closes the body;
// cancelling ctx also tears the connection down.
func (c *Client) OpenStream(ctx context.Context, path string, query url.Values) (io.ReadCloser, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.streamHTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open stream %s: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, newAPIError(resp.StatusCode, path, data)
	}
	return resp.Body, nil
}

// DialSocket opens the WebSocket at path on the console host.
func (c *Client) DialSocket(ctx context.Context, path string) (*websocket.Conn, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	target, err := url.Parse(c.endpoint(path, nil))
	if err != nil {
		return nil, fmt.Errorf("socket url: %w", err)
	}
	switch target.Scheme {
	case "https":
		target.Scheme = "wss"
	default:
		target.Scheme = "ws"
	}

	conn, resp, err := c.dialer.DialContext(ctx, target.String(), c.header.Clone())
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return nil, newAPIError(resp.StatusCode, path, data)
		}
		return nil, fmt.Errorf("dial socket %s: %w", path, err)
	}
	return conn, nil
}

// Download streams the artifact at path into dir/<base name of name> and
// returns the written path. A partial file is removed on failure.
func (c *Client) Download(ctx context.Context, path, name, dir string) (string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.streamHTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", newAPIError(resp.StatusCode, path, data)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create download dir: %w", err)
	}
	dest := filepath.Join(dir, filepath.Base(filepath.Clean("/"+name)))

	f, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", dest, err)
	}
	n, copyErr := io.Copy(f, resp.Body)
	closeErr := f.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(dest)
		if copyErr == nil {
			copyErr = closeErr
		}
		return "", fmt.Errorf("write %s: %w", dest, copyErr)
	}

	c.logger.Info().Str("artifact", name).Str("path", dest).Int64("bytes", n).Msg("Artifact downloaded")
	return dest, nil
}
