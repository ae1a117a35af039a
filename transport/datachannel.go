// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"io"
	"net"
	"sync"
	"time"
)

// Compile-time interface check.
var _ net.Conn = (*DataChannelConn)(nil)

// DataChannelConn adapts a detached pion data channel to net.Conn.
// The detached channel is stream-oriented (SCTP reassembles message
// boundaries away), so the envelope framing and ingest loop treat it
// exactly like a TCP connection.
//
// The detached channel has no native deadline support, so deadlines
// are timer-based: when one fires, the underlying stream is closed to
// unblock pending I/O. A fired deadline therefore breaks the
// connection for good; the owning link reacts by tearing down and
// re-establishing, the same as any other connection error.
type DataChannelConn struct {
	stream io.ReadWriteCloser
	local  string
	remote string

	mu         sync.Mutex
	readTimer  *time.Timer
	writeTimer *time.Timer
	broken     bool
}

// NewDataChannelConn wraps a detached data channel. The local and
// remote labels show up as the connection's addresses.
func NewDataChannelConn(stream io.ReadWriteCloser, local, remote string) *DataChannelConn {
	return &DataChannelConn{stream: stream, local: local, remote: remote}
}

func (c *DataChannelConn) Read(p []byte) (int, error)  { return c.stream.Read(p) }
func (c *DataChannelConn) Write(p []byte) (int, error) { return c.stream.Write(p) }

func (c *DataChannelConn) Close() error {
	c.mu.Lock()
	c.arm(&c.readTimer, time.Time{})
	c.arm(&c.writeTimer, time.Time{})
	c.mu.Unlock()
	return c.stream.Close()
}

// LocalAddr returns a synthetic address naming the local endpoint.
func (c *DataChannelConn) LocalAddr() net.Addr { return dataChannelAddr(c.local) }

// RemoteAddr returns a synthetic address naming the remote endpoint.
func (c *DataChannelConn) RemoteAddr() net.Addr { return dataChannelAddr(c.remote) }

// SetDeadline sets both deadlines. The zero time clears them.
func (c *DataChannelConn) SetDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.arm(&c.readTimer, t)
	c.arm(&c.writeTimer, t)
	return nil
}

// SetReadDeadline sets the read deadline. The zero time clears it.
func (c *DataChannelConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.arm(&c.readTimer, t)
	return nil
}

// SetWriteDeadline sets the write deadline. The zero time clears it.
func (c *DataChannelConn) SetWriteDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.arm(&c.writeTimer, t)
	return nil
}

// arm replaces one deadline timer. Caller holds c.mu. An already
// expired deadline breaks the connection immediately.
func (c *DataChannelConn) arm(timer **time.Timer, deadline time.Time) {
	if *timer != nil {
		(*timer).Stop()
		*timer = nil
	}
	if deadline.IsZero() || c.broken {
		return
	}
	wait := time.Until(deadline)
	if wait <= 0 {
		c.breakStream()
		return
	}
	*timer = time.AfterFunc(wait, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.breakStream()
	})
}

// breakStream closes the underlying stream so blocked reads and
// writes return. Caller holds c.mu.
func (c *DataChannelConn) breakStream() {
	if c.broken {
		return
	}
	c.broken = true
	c.stream.Close()
}

// dataChannelAddr is a synthetic net.Addr for data channel endpoints.
type dataChannelAddr string

func (dataChannelAddr) Network() string  { return "webrtc" }
func (a dataChannelAddr) String() string { return string(a) }
