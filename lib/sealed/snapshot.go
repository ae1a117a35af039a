// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"bufio"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/conflux-foundation/conflux/lib/cid"
	"github.com/conflux-foundation/conflux/lib/codec"
	"github.com/conflux-foundation/conflux/lib/fragment"
	"github.com/conflux-foundation/conflux/lib/secret"
)

// SnapshotVersion is the container layout version stamped into every
// written snapshot. Readers reject snapshots from a newer layout.
const SnapshotVersion = 1

// armorBegin is the first line of an armored age file. ReadSnapshot
// peeks for it to decide whether an identity is needed.
const armorBegin = "-----BEGIN AGE ENCRYPTED FILE-----"

// Snapshot is an exported hub image: the full fragment set and the
// identity index, plus enough provenance to say where it came from.
type Snapshot struct {
	// Version is the container layout version, SnapshotVersion at
	// write time.
	Version int `cbor:"version"`

	// Hub is the exporting hub's configured name.
	Hub string `cbor:"hub,omitempty"`

	// CreatedAt is the export time in Unix milliseconds.
	CreatedAt int64 `cbor:"created_at"`

	// Identities maps identity strings to the CID of their latest
	// version at export time.
	Identities map[string]cid.ID `cbor:"identities,omitempty"`

	// Fragments holds every fragment, payloads included.
	Fragments []fragment.Fragment `cbor:"fragments"`
}

// WriteSnapshot writes snap to dst and returns the number of bytes
// written. With a non-empty recipient list the stream is sealed;
// otherwise it is plain zstd CBOR. The snapshot's Version field is
// stamped, whatever the caller set.
func WriteSnapshot(dst io.Writer, recipientKeys []string, snap *Snapshot) (int64, error) {
	counter := &countingWriter{w: dst}

	var body io.Writer = counter
	var sealCloser io.WriteCloser
	if len(recipientKeys) > 0 {
		var err error
		sealCloser, err = Seal(counter, recipientKeys)
		if err != nil {
			return 0, err
		}
		body = sealCloser
	}

	compressor, err := zstd.NewWriter(body, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return 0, fmt.Errorf("creating zstd writer: %w", err)
	}

	stamped := *snap
	stamped.Version = SnapshotVersion
	if err := codec.NewEncoder(compressor).Encode(&stamped); err != nil {
		compressor.Close()
		return 0, fmt.Errorf("encoding snapshot: %w", err)
	}
	if err := compressor.Close(); err != nil {
		return 0, fmt.Errorf("flushing zstd: %w", err)
	}
	if sealCloser != nil {
		if err := sealCloser.Close(); err != nil {
			return 0, err
		}
	}
	return counter.n, nil
}

// ReadSnapshot reads a snapshot written by WriteSnapshot, detecting
// whether it is sealed. identity may be nil for plain snapshots; a
// sealed snapshot without an identity is an error, not a decode
// failure, so callers can tell the user to supply a key.
func ReadSnapshot(src io.Reader, identity *secret.Buffer) (*Snapshot, error) {
	buffered := bufio.NewReader(src)

	var body io.Reader = buffered
	peeked, err := buffered.Peek(len(armorBegin))
	if err == nil && string(peeked) == armorBegin {
		if identity == nil {
			return nil, fmt.Errorf("snapshot is sealed: an identity is required")
		}
		body, err = Unseal(buffered, identity)
		if err != nil {
			return nil, err
		}
	}

	decompressor, err := zstd.NewReader(body)
	if err != nil {
		return nil, fmt.Errorf("creating zstd reader: %w", err)
	}
	defer decompressor.Close()

	var snap Snapshot
	if err := codec.NewDecoder(decompressor).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	if snap.Version > SnapshotVersion {
		return nil, fmt.Errorf("snapshot layout version %d is newer than this build supports (%d)", snap.Version, SnapshotVersion)
	}
	return &snap, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
