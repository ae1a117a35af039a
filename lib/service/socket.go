// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/conflux-foundation/conflux/lib/codec"
)

// ActionFunc processes one request. The args parameter is the raw
// CBOR of the request's args field (nil when absent); the handler
// decodes it into its action's args struct.
//
// Return a value to include in the success response, or an error for
// a failure response. A nil value yields a bare {ok: true}.
type ActionFunc func(ctx context.Context, args codec.RawMessage) (any, error)

// SendFunc writes one frame on a streaming connection. Send fails once
// the client has disconnected; the handler should return then.
type SendFunc func(v any) error

// StreamFunc serves a streaming action. The {ok: true} header has
// already been written when the handler runs, so a returned error
// cannot reach the client; it is logged and the connection closes.
// ctx is cancelled when the client disconnects or the server shuts
// down.
type StreamFunc func(ctx context.Context, args codec.RawMessage, send SendFunc) error

// readTimeout is how long the server waits for the client's request.
// A well-behaved client sends it immediately after connecting.
const readTimeout = 30 * time.Second

// writeTimeout is how long the server waits for a response or frame
// write to complete.
const writeTimeout = 10 * time.Second

// maxMessageSize bounds one CBOR request or response. Large enough
// for a full-size fragment payload with room for the envelope around
// it.
const maxMessageSize = 8 << 20

// SocketServer serves the control protocol on a Unix socket. Each
// connection carries one request; one-shot actions answer and close,
// streaming actions keep the connection open and write frames.
//
// Register actions with Handle and HandleStream before calling Serve.
type SocketServer struct {
	socketPath string
	handlers   map[string]ActionFunc
	streams    map[string]StreamFunc
	logger     *slog.Logger

	// activeConnections tracks in-flight handlers so Serve can drain
	// before returning.
	activeConnections sync.WaitGroup
}

// NewSocketServer creates a server that will listen on socketPath.
func NewSocketServer(socketPath string, logger *slog.Logger) *SocketServer {
	return &SocketServer{
		socketPath: socketPath,
		handlers:   make(map[string]ActionFunc),
		streams:    make(map[string]StreamFunc),
		logger:     logger,
	}
}

// Handle registers a one-shot action. Panics on a duplicate name:
// registration happens once at boot, and a collision is a programming
// error.
func (s *SocketServer) Handle(action string, handler ActionFunc) {
	if s.registered(action) {
		panic(fmt.Sprintf("service.SocketServer: duplicate handler for action %q", action))
	}
	s.handlers[action] = handler
}

// HandleStream registers a streaming action. Panics on a duplicate
// name.
func (s *SocketServer) HandleStream(action string, handler StreamFunc) {
	if s.registered(action) {
		panic(fmt.Sprintf("service.SocketServer: duplicate handler for action %q", action))
	}
	s.streams[action] = handler
}

func (s *SocketServer) registered(action string) bool {
	_, oneShot := s.handlers[action]
	_, streaming := s.streams[action]
	return oneShot || streaming
}

// Serve listens on the Unix socket and dispatches requests until ctx
// is cancelled, then stops accepting and waits for active handlers.
//
// A stale socket file at the path is removed before listening; the
// live one is chmodded to 0600 (the socket grants full hub access)
// and removed on return.
func (s *SocketServer) Serve(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", s.socketPath, err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.socketPath, err)
	}
	defer func() {
		listener.Close()
		os.Remove(s.socketPath)
	}()

	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		return fmt.Errorf("restricting socket %s: %w", s.socketPath, err)
	}

	// Unblock Accept when the context is cancelled.
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("control socket listening", "path", s.socketPath)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.activeConnections.Add(1)
		go func() {
			defer s.activeConnections.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.activeConnections.Wait()
	return nil
}

// handleConnection reads one request and dispatches it.
func (s *SocketServer) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(readTimeout))

	var request Request
	if err := codec.NewDecoder(io.LimitReader(conn, maxMessageSize)).Decode(&request); err != nil {
		if errors.Is(err, io.EOF) {
			// Client connected but sent nothing.
			return
		}
		s.writeError(conn, fmt.Sprintf("invalid request: %v", err))
		return
	}
	if request.Action == "" {
		s.writeError(conn, "missing required field: action")
		return
	}

	if handler, ok := s.streams[request.Action]; ok {
		conn.SetReadDeadline(time.Time{})
		s.serveStream(ctx, conn, request, handler)
		return
	}

	handler, ok := s.handlers[request.Action]
	if !ok {
		s.writeError(conn, fmt.Sprintf("unknown action %q", request.Action))
		return
	}

	result, err := handler(ctx, request.Args)
	if err != nil {
		s.logger.Debug("action failed", "action", request.Action, "error", err)
		s.writeError(conn, err.Error())
		return
	}
	s.writeSuccess(conn, result)
}

// serveStream runs a streaming handler. The handler's context is
// cancelled as soon as the client goes away, detected by its side of
// the connection reaching EOF.
func (s *SocketServer) serveStream(ctx context.Context, conn net.Conn, request Request, handler StreamFunc) {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The client writes nothing after its request, so any read result
	// means it disconnected.
	go func() {
		io.Copy(io.Discard, conn)
		cancel()
	}()

	// The {ok: true} header goes out before the handler runs so the
	// client's open call returns immediately even if the first frame
	// is minutes away. Handler failures after this point cannot be
	// reported in-band; the stream just ends.
	encoder := codec.NewEncoder(conn)
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := encoder.Encode(Response{OK: true}); err != nil {
		s.logger.Debug("failed to open stream", "action", request.Action, "error", err)
		return
	}
	conn.SetWriteDeadline(time.Time{})

	send := func(v any) error {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		defer conn.SetWriteDeadline(time.Time{})
		return encoder.Encode(v)
	}

	if err := handler(streamCtx, request.Args, send); err != nil && streamCtx.Err() == nil {
		s.logger.Debug("stream ended", "action", request.Action, "error", err)
	}
}

// writeError sends {ok: false, error: "..."}. Write failures are
// logged at debug level; the connection is closing regardless.
func (s *SocketServer) writeError(conn net.Conn, message string) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := codec.NewEncoder(conn).Encode(Response{OK: false, Error: message}); err != nil {
		s.logger.Debug("failed to write error response", "error", err)
	}
}

// writeSuccess sends {ok: true} with the marshaled result in data
// when result is non-nil.
func (s *SocketServer) writeSuccess(conn net.Conn, result any) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))

	response := Response{OK: true}
	if result != nil {
		data, err := codec.Marshal(result)
		if err != nil {
			s.writeError(conn, fmt.Sprintf("internal: marshaling response: %v", err))
			return
		}
		response.Data = data
	}

	if err := codec.NewEncoder(conn).Encode(response); err != nil {
		s.logger.Debug("failed to write success response", "error", err)
	}
}
