// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

package fragment

import (
	"errors"
	"time"

	"github.com/conflux-foundation/conflux/lib/cid"
)

// InitialVersion is the version of a fragment immediately after
// creation. Every accepted mutation afterwards increments the version
// by exactly one, so version numbers count accepted writes.
const InitialVersion uint64 = 1

var (
	// ErrNotFound reports an ID with no fragment behind it.
	ErrNotFound = errors.New("fragment: not found")
	// ErrExists reports a strict create against an ID that already
	// has a fragment.
	ErrExists = errors.New("fragment: already exists")
	// ErrEmptyID reports an operation on an undefined content ID.
	ErrEmptyID = errors.New("fragment: undefined content ID")
)

// Fragment is one versioned unit of hub state. The ID is derived from
// the first payload at creation and never changes; the payload is
// opaque and fully replaced on each mutation.
//
// Fragments are value snapshots: the store hands out copies whose
// Payload must be treated as read-only.
type Fragment struct {
	// ID is the content identifier, fixed at creation.
	ID cid.ID `cbor:"id" json:"id"`

	// Version starts at InitialVersion and rises by one per accepted
	// mutation. Gaps never occur; regressions never occur.
	Version uint64 `cbor:"version" json:"version"`

	// Timestamp is nanoseconds since the Unix epoch at the last
	// accepted mutation. Non-decreasing for the fragment's lifetime,
	// even when the wall clock steps backwards.
	Timestamp int64 `cbor:"timestamp" json:"timestamp"`

	// Payload is the opaque fragment content.
	Payload []byte `cbor:"payload" json:"payload"`

	// Stream is set when a live stream is associated with this
	// fragment. Once set it is never cleared, whatever happens to the
	// stream itself.
	Stream bool `cbor:"stream" json:"stream"`
}

// Time returns the Timestamp as a time.Time.
func (f Fragment) Time() time.Time { return time.Unix(0, f.Timestamp) }
