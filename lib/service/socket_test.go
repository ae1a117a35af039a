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
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/conflux-foundation/conflux/lib/codec"
	"github.com/conflux-foundation/conflux/lib/event"
	"github.com/conflux-foundation/conflux/lib/fragment"
	"github.com/conflux-foundation/conflux/lib/testutil"
)

func testSocketPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "conflux.sock")
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func waitForSocket(t *testing.T, path string) {
	t.Helper()
	for {
		if _, err := os.Stat(path); err == nil {
			return
		}
		if t.Context().Err() != nil {
			t.Fatalf("socket %s did not appear before test context expired", path)
		}
		runtime.Gosched()
	}
}

// serve starts the server in the background and registers cleanup
// that stops it and waits for Serve to return.
func serve(t *testing.T, server *SocketServer, socketPath string) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	var serveErr error
	go func() {
		defer wg.Done()
		serveErr = server.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
		if serveErr != nil {
			t.Errorf("Serve returned error: %v", serveErr)
		}
	})

	waitForSocket(t, socketPath)
}

// sendRequest connects to the socket, sends one raw CBOR value, and
// returns the decoded response envelope.
func sendRequest(t *testing.T, socketPath string, request any) Response {
	t.Helper()

	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		t.Fatalf("connecting to socket: %v", err)
	}
	defer conn.Close()

	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		t.Fatalf("writing request: %v", err)
	}
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}

	var response Response
	if err := codec.NewDecoder(conn).Decode(&response); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return response
}

func TestSocketServer_DispatchesAction(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testLogger())

	type echoArgs struct {
		Text string `cbor:"text"`
	}
	type echoResult struct {
		Text string `cbor:"text"`
	}
	server.Handle("echo", func(ctx context.Context, args codec.RawMessage) (any, error) {
		var a echoArgs
		if err := codec.Unmarshal(args, &a); err != nil {
			return nil, err
		}
		return echoResult{Text: a.Text}, nil
	})

	serve(t, server, socketPath)

	client := NewClient(socketPath)
	var result echoResult
	if err := client.Call(context.Background(), "echo", echoArgs{Text: "hello"}, &result); err != nil {
		t.Fatalf("Call() error: %v", err)
	}
	if result.Text != "hello" {
		t.Errorf("result = %q, want %q", result.Text, "hello")
	}
}

func TestSocketServer_UnknownAction(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testLogger())
	serve(t, server, socketPath)

	err := NewClient(socketPath).Call(context.Background(), "nonexistent", nil, nil)

	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) {
		t.Fatalf("Call() error = %v, want *ServiceError", err)
	}
	if !strings.Contains(serviceErr.Message, "unknown action") {
		t.Errorf("message = %q, want unknown action", serviceErr.Message)
	}
}

func TestSocketServer_MissingAction(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testLogger())
	serve(t, server, socketPath)

	response := sendRequest(t, socketPath, map[string]string{"foo": "bar"})
	if response.OK {
		t.Error("expected ok=false for a request without an action")
	}
}

func TestSocketServer_InvalidCBOR(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testLogger())
	serve(t, server, socketPath)

	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		t.Fatalf("connecting: %v", err)
	}
	defer conn.Close()

	conn.Write([]byte{0xff, 0xfe, 0xfd, 0xfc, 0xfb})
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}

	var response Response
	if err := codec.NewDecoder(conn).Decode(&response); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if response.OK {
		t.Error("expected ok=false for garbage input")
	}
}

func TestSentinelErrorsCrossTheSocket(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testLogger())
	server.Handle("lookup", func(ctx context.Context, args codec.RawMessage) (any, error) {
		return nil, fmt.Errorf("identity %q: %w", "ghost", fragment.ErrNotFound)
	})
	serve(t, server, socketPath)

	err := NewClient(socketPath).Call(context.Background(), "lookup", nil, nil)
	if !errors.Is(err, fragment.ErrNotFound) {
		t.Fatalf("Call() error = %v, want to satisfy fragment.ErrNotFound", err)
	}

	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) {
		t.Fatalf("error = %v, want *ServiceError", err)
	}
	if !strings.Contains(serviceErr.Message, "ghost") {
		t.Errorf("message %q lost the server context", serviceErr.Message)
	}
}

func TestWatch_StreamsEvents(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testLogger())

	server.HandleStream(ActionWatch, func(ctx context.Context, args codec.RawMessage, send SendFunc) error {
		for version := uint64(1); version <= 3; version++ {
			if err := send(event.Event{Kind: event.KindFragmentMutated, Version: version}); err != nil {
				return err
			}
		}
		return nil
	})
	serve(t, server, socketPath)

	stream, err := NewClient(socketPath).Watch(context.Background())
	if err != nil {
		t.Fatalf("Watch() error: %v", err)
	}
	defer stream.Close()

	for want := uint64(1); want <= 3; want++ {
		ev, err := stream.Next()
		if err != nil {
			t.Fatalf("Next() error: %v", err)
		}
		if ev.Kind != event.KindFragmentMutated || ev.Version != want {
			t.Errorf("event = %+v, want version %d", ev, want)
		}
	}

	// Server's handler returned: the stream ends cleanly.
	if _, err := stream.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("Next() after stream end = %v, want io.EOF", err)
	}
}

func TestWatch_OpensBeforeFirstFrame(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testLogger())

	// The handler produces nothing until released, so a successful
	// Watch here proves the header does not wait for a frame.
	release := make(chan struct{})
	server.HandleStream(ActionWatch, func(ctx context.Context, args codec.RawMessage, send SendFunc) error {
		select {
		case <-release:
		case <-ctx.Done():
			return ctx.Err()
		}
		return send(event.Event{Kind: event.KindPeerUp})
	})
	serve(t, server, socketPath)

	stream, err := NewClient(socketPath).Watch(context.Background())
	if err != nil {
		t.Fatalf("Watch() error: %v", err)
	}
	defer stream.Close()

	close(release)
	ev, err := stream.Next()
	if err != nil {
		t.Fatalf("Next() error: %v", err)
	}
	if ev.Kind != event.KindPeerUp {
		t.Errorf("event kind = %q, want %q", ev.Kind, event.KindPeerUp)
	}
}

func TestWatch_HandlerErrorEndsStream(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testLogger())
	server.HandleStream(ActionWatch, func(ctx context.Context, args codec.RawMessage, send SendFunc) error {
		return errors.New("subscription refused")
	})
	serve(t, server, socketPath)

	stream, err := NewClient(socketPath).Watch(context.Background())
	if err != nil {
		t.Fatalf("Watch() error: %v", err)
	}
	defer stream.Close()

	if _, err := stream.Next(); err == nil {
		t.Error("Next() after handler failure = nil, want error")
	}
}

func TestWatch_DisconnectCancelsHandler(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testLogger())

	cancelled := make(chan struct{})
	server.HandleStream(ActionWatch, func(ctx context.Context, args codec.RawMessage, send SendFunc) error {
		if err := send(event.Event{Kind: event.KindPeerUp}); err != nil {
			return err
		}
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	})
	serve(t, server, socketPath)

	stream, err := NewClient(socketPath).Watch(context.Background())
	if err != nil {
		t.Fatalf("Watch() error: %v", err)
	}
	if _, err := stream.Next(); err != nil {
		t.Fatalf("Next() error: %v", err)
	}

	stream.Close()
	testutil.RequireClosed(t, cancelled, 5*time.Second, "handler cancellation")
}

func TestSocketServer_DuplicateActionPanics(t *testing.T) {
	server := NewSocketServer("unused.sock", testLogger())
	server.Handle("ping", func(context.Context, codec.RawMessage) (any, error) { return nil, nil })

	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate action registration")
		}
	}()
	server.HandleStream("ping", func(context.Context, codec.RawMessage, SendFunc) error { return nil })
}

func TestSocketServer_RestrictsSocketMode(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testLogger())
	serve(t, server, socketPath)

	info, err := os.Stat(socketPath)
	if err != nil {
		t.Fatalf("stat socket: %v", err)
	}
	if mode := info.Mode().Perm(); mode != 0o600 {
		t.Errorf("socket mode = %o, want 600", mode)
	}
}

func TestSocketServer_RemovesSocketOnShutdown(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx) }()
	waitForSocket(t, socketPath)

	cancel()
	if err := testutil.RequireReceive(t, done, 5*time.Second, "Serve return"); err != nil {
		t.Fatalf("Serve() error: %v", err)
	}
	if _, err := os.Stat(socketPath); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("socket file still present after shutdown: %v", err)
	}
}

func TestClient_ConnectError(t *testing.T) {
	client := NewClient(filepath.Join(t.TempDir(), "absent.sock"))

	err := client.Call(context.Background(), ActionPing, nil, nil)
	if err == nil {
		t.Fatal("expected connect error, got nil")
	}
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		t.Errorf("connect failure should be a plain error, got *ServiceError: %v", err)
	}
}
