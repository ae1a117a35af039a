// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

package journal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/conflux-foundation/conflux/lib/cid"
	"github.com/conflux-foundation/conflux/lib/codec"
	"github.com/conflux-foundation/conflux/lib/fragment"
)

// Op says which hub operation committed a record. Replay treats every
// op the same way (adopt the snapshot, bind the identity); the op is
// kept for inspection tooling.
type Op uint8

const (
	OpCreate Op = iota + 1
	OpMutate
	OpStream
	OpAdopt
)

var opNames = map[Op]string{
	OpCreate: "create",
	OpMutate: "mutate",
	OpStream: "stream",
	OpAdopt:  "adopt",
}

func (o Op) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return fmt.Sprintf("op(%d)", uint8(o))
}

// Record is one committed snapshot with its identity binding. On disk
// the payload may be compressed (Compression, RawSize); Replay hands
// the caller records with the payload already restored.
type Record struct {
	Op        Op     `cbor:"op" json:"op"`
	Identity  string `cbor:"identity,omitempty" json:"identity,omitempty"`
	ID        cid.ID `cbor:"id" json:"id"`
	Version   uint64 `cbor:"version" json:"version"`
	Timestamp int64  `cbor:"timestamp" json:"timestamp"`
	Payload   []byte `cbor:"payload" json:"payload"`
	Stream    bool   `cbor:"stream,omitempty" json:"stream,omitempty"`

	Compression codec.CompressionTag `cbor:"compression,omitempty" json:"compression,omitempty"`
	RawSize     int                  `cbor:"raw_size,omitempty" json:"raw_size,omitempty"`
}

// FromFragment builds a record for a committed snapshot.
func FromFragment(op Op, identity string, frag fragment.Fragment) Record {
	return Record{
		Op:        op,
		Identity:  identity,
		ID:        frag.ID,
		Version:   frag.Version,
		Timestamp: frag.Timestamp,
		Payload:   frag.Payload,
		Stream:    frag.Stream,
	}
}

// Fragment returns the snapshot the record describes. The payload must
// already be in plain form (records coming out of Replay are).
func (r Record) Fragment() fragment.Fragment {
	return fragment.Fragment{
		ID:        r.ID,
		Version:   r.Version,
		Timestamp: r.Timestamp,
		Payload:   r.Payload,
		Stream:    r.Stream,
	}
}

// crc32cTable is the CRC32C (Castagnoli) table for record checksums.
var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// encodeFrame wraps a record blob (CBOR, possibly sealed) in the wire
// frame: uvarint length, blob, CRC32C of the blob.
func encodeFrame(blob []byte) []byte {
	frame := make([]byte, 0, binary.MaxVarintLen64+len(blob)+4)
	frame = binary.AppendUvarint(frame, uint64(len(blob)))
	frame = append(frame, blob...)
	frame = binary.LittleEndian.AppendUint32(frame, crc32.Checksum(blob, crc32cTable))
	return frame
}
