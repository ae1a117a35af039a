// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

package distribution

import (
	"context"
	"fmt"

	"github.com/conflux-foundation/conflux/lib/cid"
	"github.com/conflux-foundation/conflux/lib/codec"
	"github.com/conflux-foundation/conflux/lib/fragment"
)

// Envelope is the wire form of one committed fragment snapshot. The
// ID travels in its canonical text form; the payload may be
// compressed, with Compression and RawSize saying how to recover the
// original bytes.
type Envelope struct {
	ID        cid.ID `cbor:"id" json:"id"`
	Version   uint64 `cbor:"version" json:"version"`
	Timestamp int64  `cbor:"timestamp" json:"timestamp"`
	Payload   []byte `cbor:"payload" json:"payload"`
	Stream    bool   `cbor:"stream,omitempty" json:"stream,omitempty"`

	// Origin names the hub that committed this snapshot.
	Origin string `cbor:"origin,omitempty" json:"origin,omitempty"`

	// Compression tags the payload encoding; RawSize is the original
	// payload length when compressed.
	Compression codec.CompressionTag `cbor:"compression,omitempty" json:"compression,omitempty"`
	RawSize     int                  `cbor:"raw_size,omitempty" json:"raw_size,omitempty"`
}

// Fragment reconstructs the fragment snapshot, decompressing the
// payload if needed.
func (e Envelope) Fragment() (fragment.Fragment, error) {
	if !e.ID.Defined() {
		return fragment.Fragment{}, fmt.Errorf("envelope: undefined content ID")
	}
	payload, err := e.payload()
	if err != nil {
		return fragment.Fragment{}, err
	}
	return fragment.Fragment{
		ID:        e.ID,
		Version:   e.Version,
		Timestamp: e.Timestamp,
		Payload:   payload,
		Stream:    e.Stream,
	}, nil
}

func (e Envelope) payload() ([]byte, error) {
	if e.Compression == codec.CompressionNone {
		return e.Payload, nil
	}
	raw, err := codec.Decompress(e.Payload, e.Compression, e.RawSize)
	if err != nil {
		return nil, fmt.Errorf("envelope %s v%d: %w", e.ID.Short(), e.Version, err)
	}
	return raw, nil
}

// PeerLink delivers envelopes to one peer. Implementations live in
// the transport package; the pipeline only needs delivery with an
// error verdict and a name for events and logs.
//
// Deliver is called from a single goroutine per link, so
// implementations need not be safe across concurrent Deliver calls,
// only between Deliver and Close.
type PeerLink interface {
	Name() string
	Deliver(ctx context.Context, env Envelope) error
	Close() error
}
