// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/conflux-foundation/conflux/lib/codec"
	"github.com/conflux-foundation/conflux/lib/distribution"
)

// Compile-time interface check.
var _ distribution.PeerLink = (*WebSocketLink)(nil)

// WebSocketLink delivers envelopes to a peer's WebSocket ingest
// endpoint. Each envelope travels as one binary message; the peer
// acknowledges with a one-byte binary message. WebSocket frames carry
// their own length, so the stream framing's uvarint prefix is not
// used here.
type WebSocketLink struct {
	name string
	url  string

	// HandshakeTimeout bounds the WebSocket upgrade on dial.
	HandshakeTimeout time.Duration

	logger *slog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// NewWebSocketLink creates a link to the ingest endpoint at url
// (ws:// or wss://). The name identifies the peer in events and
// stats.
func NewWebSocketLink(name, url string, logger *slog.Logger) *WebSocketLink {
	return &WebSocketLink{
		name:             name,
		url:              url,
		HandshakeTimeout: 10 * time.Second,
		logger:           logger,
	}
}

// Name returns the peer name.
func (l *WebSocketLink) Name() string { return l.name }

// Deliver sends one envelope and waits for the acknowledgement
// message. A stale reused connection triggers one redial within the
// same call.
func (l *WebSocketLink) Deliver(ctx context.Context, env distribution.Envelope) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return fmt.Errorf("websocket link %s: %w", l.name, net.ErrClosed)
	}

	reused := l.conn != nil
	err := l.deliver(ctx, env)
	if err == nil {
		return nil
	}
	l.drop()
	if !reused {
		return fmt.Errorf("websocket link %s: %w", l.name, err)
	}

	l.logger.Debug("redialing stale connection", "peer", l.name, "error", err)
	if err := l.deliver(ctx, env); err != nil {
		l.drop()
		return fmt.Errorf("websocket link %s: %w", l.name, err)
	}
	return nil
}

func (l *WebSocketLink) deliver(ctx context.Context, env distribution.Envelope) error {
	if l.conn == nil {
		dialer := &websocket.Dialer{HandshakeTimeout: l.HandshakeTimeout}
		conn, _, err := dialer.DialContext(ctx, l.url, nil)
		if err != nil {
			return fmt.Errorf("dialing %s: %w", l.url, err)
		}
		// The peer only ever sends one-byte acknowledgements.
		conn.SetReadLimit(1024)
		l.conn = conn
	}

	body, err := codec.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}
	if len(body) > MaxEnvelopeSize {
		return fmt.Errorf("%w: %d bytes", ErrEnvelopeTooLarge, len(body))
	}

	deadline := deliveryDeadline(ctx)
	l.conn.SetWriteDeadline(deadline)
	if err := l.conn.WriteMessage(websocket.BinaryMessage, body); err != nil {
		return fmt.Errorf("writing envelope: %w", err)
	}

	l.conn.SetReadDeadline(deadline)
	_, ack, err := l.conn.ReadMessage()
	l.conn.SetReadDeadline(time.Time{})
	if err != nil {
		return fmt.Errorf("reading acknowledgement: %w", err)
	}
	if len(ack) != 1 || ack[0] != ackByte {
		return fmt.Errorf("unexpected acknowledgement %x", ack)
	}
	return nil
}

func (l *WebSocketLink) drop() {
	if l.conn != nil {
		l.conn.Close()
		l.conn = nil
	}
}

// Close closes the link's connection. Subsequent deliveries fail.
func (l *WebSocketLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.drop()
	return nil
}

// WebSocketHandler returns the ingest side: an http.Handler that
// upgrades each request to a WebSocket and services envelope
// messages until the peer disconnects or an envelope is refused.
// Mount it wherever the hub's HTTP listener lives.
func WebSocketHandler(ingest Ingest, logger *slog.Logger) http.Handler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  32 << 10,
		WriteBufferSize: 4 << 10,
		// Peers are daemons, not browsers; origin checks do not
		// apply.
		CheckOrigin: func(*http.Request) bool { return true },
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
			return
		}
		defer conn.Close()
		conn.SetReadLimit(MaxEnvelopeSize)

		peer := r.RemoteAddr
		logger.Debug("peer connected", "peer", peer)

		for {
			messageType, body, err := conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Debug("inbound connection ended", "peer", peer, "error", err)
				}
				return
			}
			if messageType != websocket.BinaryMessage {
				continue
			}

			var env distribution.Envelope
			if err := codec.Unmarshal(body, &env); err != nil {
				logger.Warn("undecodable envelope", "peer", peer, "error", err)
				return
			}
			if err := ingest(r.Context(), env); err != nil {
				logger.Warn("envelope rejected",
					"peer", peer,
					"id", env.ID.Short(),
					"version", env.Version,
					"error", err,
				)
				return
			}

			conn.SetWriteDeadline(time.Now().Add(ackTimeout))
			err = conn.WriteMessage(websocket.BinaryMessage, []byte{ackByte})
			conn.SetWriteDeadline(time.Time{})
			if err != nil {
				logger.Debug("acknowledgement failed", "peer", peer, "error", err)
				return
			}
		}
	})
}
