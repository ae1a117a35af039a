// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/conflux-foundation/conflux/lib/distribution"
)

// Compile-time interface check.
var _ distribution.PeerLink = (*MemoryLink)(nil)

// MemoryLink delivers envelopes to an Ingest function in the same
// process. Every delivery round-trips through the wire codec, so a
// two-hub test wired with memory links exercises the same framing as
// TCP, including the size guard.
type MemoryLink struct {
	name   string
	ingest Ingest

	mu     sync.Mutex
	closed bool
}

// NewMemoryLink creates a link that feeds ingest directly. The name
// identifies the receiving peer in pipeline events and stats.
func NewMemoryLink(name string, ingest Ingest) *MemoryLink {
	return &MemoryLink{name: name, ingest: ingest}
}

// Name returns the peer name.
func (l *MemoryLink) Name() string { return l.name }

// Deliver encodes env, decodes it back, and hands the result to the
// ingest function.
func (l *MemoryLink) Deliver(ctx context.Context, env distribution.Envelope) error {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return fmt.Errorf("memory link %s: %w", l.name, net.ErrClosed)
	}

	var buf bytes.Buffer
	if err := WriteEnvelope(&buf, env); err != nil {
		return err
	}
	decoded, err := ReadEnvelope(bufio.NewReader(&buf))
	if err != nil {
		return err
	}
	return l.ingest(ctx, decoded)
}

// Close marks the link closed. Subsequent deliveries fail.
func (l *MemoryLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}
