// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/conflux-foundation/conflux/lib/distribution"
)

// Compile-time interface check.
var _ distribution.PeerLink = (*TCPLink)(nil)

// TCPLink delivers envelopes to one peer over a raw TCP connection.
// The connection is dialed on first use and reused across deliveries;
// when a reused connection turns out to be stale, the link redials
// once within the same Deliver call before reporting failure.
type TCPLink struct {
	name string
	addr string

	// DialTimeout bounds connection establishment. The delivery
	// context can shorten it further.
	DialTimeout time.Duration

	logger *slog.Logger

	// mu orders Deliver against Close. The pipeline serializes
	// Deliver calls per link, so the lock is uncontended in steady
	// state.
	mu     sync.Mutex
	conn   net.Conn
	closed bool
}

// NewTCPLink creates a link to the peer listening at addr
// (host:port). The name identifies the peer in events and stats.
func NewTCPLink(name, addr string, logger *slog.Logger) *TCPLink {
	return &TCPLink{
		name:        name,
		addr:        addr,
		DialTimeout: 10 * time.Second,
		logger:      logger,
	}
}

// Name returns the peer name.
func (l *TCPLink) Name() string { return l.name }

// Deliver sends one envelope and waits for the acknowledgement byte.
func (l *TCPLink) Deliver(ctx context.Context, env distribution.Envelope) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return fmt.Errorf("tcp link %s: %w", l.name, net.ErrClosed)
	}

	reused := l.conn != nil
	err := l.deliver(ctx, env)
	if err == nil {
		return nil
	}
	l.drop()
	if !reused {
		return fmt.Errorf("tcp link %s: %w", l.name, err)
	}

	// The reused connection may have died between deliveries. Redial
	// once before charging the failure to the pipeline's retry
	// budget.
	l.logger.Debug("redialing stale connection", "peer", l.name, "error", err)
	if err := l.deliver(ctx, env); err != nil {
		l.drop()
		return fmt.Errorf("tcp link %s: %w", l.name, err)
	}
	return nil
}

func (l *TCPLink) deliver(ctx context.Context, env distribution.Envelope) error {
	if l.conn == nil {
		dialer := &net.Dialer{Timeout: l.DialTimeout}
		conn, err := dialer.DialContext(ctx, "tcp", l.addr)
		if err != nil {
			return fmt.Errorf("dialing %s: %w", l.addr, err)
		}
		l.conn = conn
	}

	deadline := deliveryDeadline(ctx)
	l.conn.SetDeadline(deadline)
	defer l.conn.SetDeadline(time.Time{})

	if err := WriteEnvelope(l.conn, env); err != nil {
		return err
	}
	var ack [1]byte
	if _, err := io.ReadFull(l.conn, ack[:]); err != nil {
		return fmt.Errorf("reading acknowledgement: %w", err)
	}
	if ack[0] != ackByte {
		return fmt.Errorf("unexpected acknowledgement byte 0x%02x", ack[0])
	}
	return nil
}

// drop discards the current connection, forcing a fresh dial on the
// next delivery.
func (l *TCPLink) drop() {
	if l.conn != nil {
		l.conn.Close()
		l.conn = nil
	}
}

// Close closes the link's connection. Subsequent deliveries fail.
func (l *TCPLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.drop()
	return nil
}

// TCPListener accepts envelope streams from peers. Each accepted
// connection runs its own ingest loop until the peer disconnects or
// an envelope is refused.
type TCPListener struct {
	listener net.Listener
	ingest   Ingest
	logger   *slog.Logger

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool

	done     chan struct{}
	doneOnce sync.Once
	wg       sync.WaitGroup
}

// NewTCPListener binds address immediately, so ":0" resolves to a
// concrete port before Serve runs.
func NewTCPListener(address string, ingest Ingest, logger *slog.Logger) (*TCPListener, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", address, err)
	}
	return &TCPListener{
		listener: listener,
		ingest:   ingest,
		logger:   logger,
		conns:    make(map[net.Conn]struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Addr returns the bound address in host:port form.
func (l *TCPListener) Addr() string {
	return l.listener.Addr().String()
}

// Serve accepts connections until ctx is cancelled or Close is
// called. Returns nil on clean shutdown.
func (l *TCPListener) Serve(ctx context.Context) error {
	go func() {
		select {
		case <-ctx.Done():
			l.Close()
		case <-l.done:
		}
	}()

	for {
		conn, err := l.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accepting connection: %w", err)
		}

		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			conn.Close()
			return nil
		}
		l.conns[conn] = struct{}{}
		l.mu.Unlock()

		l.wg.Add(1)
		go l.handle(ctx, conn)
	}
}

func (l *TCPListener) handle(ctx context.Context, conn net.Conn) {
	defer l.wg.Done()
	defer func() {
		l.mu.Lock()
		delete(l.conns, conn)
		l.mu.Unlock()
		conn.Close()
	}()

	peer := conn.RemoteAddr().String()
	l.logger.Debug("peer connected", "peer", peer)
	ingestLoop(ctx, conn, peer, l.ingest, l.logger)
}

// Close stops accepting, closes all active connections, and waits
// for their ingest loops to finish.
func (l *TCPListener) Close() error {
	l.doneOnce.Do(func() { close(l.done) })

	l.mu.Lock()
	l.closed = true
	err := l.listener.Close()
	for conn := range l.conns {
		conn.Close()
	}
	l.mu.Unlock()

	l.wg.Wait()
	return err
}
