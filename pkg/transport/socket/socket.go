// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

// Package socket observes a job over the console's WebSocket status channel.
//
// The console pushes status through Socket.IO, so the transport speaks the
// Engine.IO v4 / Socket.IO v5 text framing on top of gorilla/websocket. Plain
// JSON sockets are supported as well.
//
// The console broadcasts status frames as soon as a job starts, so the socket
// must be open before the start request. Wrap the tool backend with
// NewBackend to dial first and hand the session to the transport through
// jobs.Ref.Channel.
package socket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/vulntor/jobwatch/pkg/console"
	"github.com/vulntor/jobwatch/pkg/jobs"
)

// ErrSocketClosed is returned when the socket ends before a terminal frame.
var ErrSocketClosed = errors.New("socket closed before completion")

// Transport reads status frames for one tool. It implements jobs.Transport.
type Transport struct {
	client  *console.Client
	profile console.Profile
	logger  zerolog.Logger
}

var _ jobs.Transport = (*Transport)(nil)

// Option configures the Transport.
type Option func(*Transport)

// WithLogger sets the transport logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(t *Transport) { t.logger = logger }
}

// New creates a socket transport for profile.
func New(client *console.Client, profile console.Profile, opts ...Option) *Transport {
	t := &Transport{
		client:  client,
		profile: profile,
		logger:  log.Logger.With().Str("component", "socket").Str("tool", profile.Name).Logger(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// handshakeTimeout bounds the Engine.IO open and Socket.IO connect exchange.
const handshakeTimeout = 10 * time.Second

// Session is an open status socket, ready to read frames.
type Session struct {
	conn     *websocket.Conn
	engineIO bool
	liveness time.Duration
}

// Close closes the socket.
func (s *Session) Close() error {
	return s.conn.Close()
}

// Dial opens the status socket. Paths that carry an EIO query parameter are
// Socket.IO endpoints and get the connect handshake on the default namespace;
// other paths carry plain JSON frames.
func (t *Transport) Dial(ctx context.Context) (*Session, error) {
	conn, err := t.client.DialSocket(ctx, t.profile.Socket)
	if err != nil {
		return nil, err
	}
	s := &Session{conn: conn}
	if isEngineIO(t.profile.Socket) {
		open, err := handshake(ctx, conn)
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		s.engineIO, s.liveness = true, open.liveness()
		t.logger.Debug().Str("sid", open.SID).Msg("Socket.IO connected")
	}
	t.logger.Debug().Str("path", t.profile.Socket).Msg("Socket connected")
	return s, nil
}

func handshake(ctx context.Context, conn *websocket.Conn) (openPayload, error) {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()

	var open openPayload
	fail := func(err error) (openPayload, error) {
		if ctx.Err() != nil {
			return open, context.Cause(ctx)
		}
		return open, err
	}

	pkt, err := readPacket(conn)
	if err != nil {
		return fail(fmt.Errorf("read engine.io open: %w", err))
	}
	if pkt.eio != eioOpen {
		return fail(fmt.Errorf("expected engine.io open packet, got %q", pkt.eio))
	}
	if err := json.Unmarshal(pkt.data, &open); err != nil {
		return fail(fmt.Errorf("decode engine.io open: %w", err))
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte{eioMessage, sioConnect}); err != nil {
		return fail(fmt.Errorf("send socket.io connect: %w", err))
	}

	for {
		pkt, err := readPacket(conn)
		if err != nil {
			return fail(fmt.Errorf("wait for socket.io connect: %w", err))
		}
		switch pkt.eio {
		case eioPing:
			if err := conn.WriteMessage(websocket.TextMessage, []byte{eioPong}); err != nil {
				return fail(fmt.Errorf("send engine.io pong: %w", err))
			}
		case eioClose:
			return fail(ErrSocketClosed)
		case eioMessage:
			if pkt.namespace != "/" {
				continue
			}
			switch pkt.sio {
			case sioConnect:
				return open, nil
			case sioConnectError:
				return fail(connectError(pkt.data))
			}
		}
	}
}

func readPacket(conn *websocket.Conn) (packet, error) {
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return packet{}, err
	}
	return parsePacket(msg)
}

// next returns the next frame of event, answering pings on the way.
func (s *Session) next(event string) (Frame, error) {
	for {
		if s.liveness > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(s.liveness))
		}
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			return Frame{}, fmt.Errorf("%w: %w", ErrSocketClosed, err)
		}

		if !s.engineIO {
			frame, ok, err := DecodeFrame(msg, event)
			if err != nil || ok {
				return frame, err
			}
			continue
		}

		pkt, err := parsePacket(msg)
		if err != nil {
			return Frame{}, err
		}
		switch pkt.eio {
		case eioPing:
			if err := s.conn.WriteMessage(websocket.TextMessage, []byte{eioPong}); err != nil {
				return Frame{}, fmt.Errorf("%w: %w", ErrSocketClosed, err)
			}
		case eioClose:
			return Frame{}, ErrSocketClosed
		case eioMessage:
			if pkt.namespace != "/" {
				continue
			}
			switch pkt.sio {
			case sioDisconnect:
				return Frame{}, ErrSocketClosed
			case sioEvent:
				frame, ok, err := DecodeEvent(pkt.data, event)
				if err != nil || ok {
					return frame, err
				}
			}
		}
	}
}

// Observe reads frames until a completed or error status. It uses the
// session parked in ref.Channel when there is one and dials otherwise.
func (t *Transport) Observe(ctx context.Context, ref jobs.Ref, emit func(jobs.Progress)) (*jobs.Result, error) {
	sess, _ := ref.Channel.(*Session)
	if sess == nil {
		if ref.Channel != nil {
			_ = ref.Channel.Close()
		}
		var err error
		if sess, err = t.Dial(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, context.Cause(ctx)
			}
			return nil, jobs.TransportFailure(err)
		}
	}
	defer sess.Close()

	stop := context.AfterFunc(ctx, func() { _ = sess.Close() })
	defer stop()

	for {
		frame, err := sess.next(t.profile.SocketEvent)
		if err != nil {
			if ctx.Err() != nil {
				return nil, context.Cause(ctx)
			}
			return nil, jobs.TransportFailure(err)
		}

		switch frame.Status {
		case StatusRunning:
			emit(frame.Progress())
		case StatusCompleted:
			if len(frame.Results) == 0 || string(frame.Results) == "null" {
				return &jobs.Result{}, nil
			}
			return &jobs.Result{Payload: frame.Results}, nil
		case StatusError:
			return nil, jobs.RemoteError(frame.ErrorMessage())
		default:
			t.logger.Debug().Str("status", frame.Status).Msg("Ignoring socket frame")
		}
	}
}

// Backend dials the status socket before delegating the start request, so
// frames emitted right after the job starts are not lost.
type Backend struct {
	jobs.Backend
	transport *Transport
}

// NewBackend wraps inner for use with t.
func NewBackend(inner jobs.Backend, t *Transport) *Backend {
	return &Backend{Backend: inner, transport: t}
}

// StartJob opens the socket, then starts the job. The session travels to the
// transport in the returned Ref.
func (b *Backend) StartJob(ctx context.Context, input any) (jobs.Ref, error) {
	sess, err := b.transport.Dial(ctx)
	if err != nil {
		return jobs.Ref{}, fmt.Errorf("open status socket: %w", err)
	}

	ref, err := b.Backend.StartJob(ctx, input)
	if err != nil {
		_ = sess.Close()
		return jobs.Ref{}, err
	}
	ref.Channel = sess
	return ref, nil
}
