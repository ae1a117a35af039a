// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

package fragment

import (
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/conflux-foundation/conflux/lib/cid"
	"github.com/conflux-foundation/conflux/lib/clock"
)

// Store is the authoritative in-memory fragment state. Operations are
// strict: Create fails on a present ID, Apply fails on an absent one.
// The hub layers its idempotent-create and identity policies on top.
//
// Mutations on one ID are serialized by a per-entry mutex; mutations
// on distinct IDs run in parallel. Reads never block behind writers:
// each entry publishes its current snapshot through an atomic pointer,
// so a reader sees either the state before a concurrent mutation or
// the state after it, never a torn mixture.
type Store struct {
	clock clock.Clock

	mu      sync.RWMutex
	entries map[cid.ID]*entry
}

// entry holds one fragment. writeMu serializes mutations; snap is the
// published immutable snapshot.
type entry struct {
	writeMu sync.Mutex
	snap    atomic.Pointer[Fragment]
}

// NewStore returns an empty store stamping mutations with clk. A nil
// clk uses the real clock.
func NewStore(clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.Real()
	}
	return &Store{
		clock:   clk,
		entries: make(map[cid.ID]*entry),
	}
}

// Create inserts a new fragment at InitialVersion with the given
// payload and stream flag. The payload bytes are copied. Fails with
// ErrExists if the ID is already present.
func (s *Store) Create(id cid.ID, payload []byte, stream bool) (Fragment, error) {
	if !id.Defined() {
		return Fragment{}, ErrEmptyID
	}

	s.mu.Lock()
	if _, exists := s.entries[id]; exists {
		s.mu.Unlock()
		return Fragment{}, ErrExists
	}
	e := &entry{}
	frag := Fragment{
		ID:        id,
		Version:   InitialVersion,
		Timestamp: s.clock.Now().UnixNano(),
		Payload:   slices.Clone(payload),
		Stream:    stream,
	}
	e.snap.Store(&frag)
	s.entries[id] = e
	s.mu.Unlock()

	return frag, nil
}

// Apply replaces the payload of an existing fragment, bumping the
// version by one and refreshing the timestamp. The payload bytes are
// copied. Fails with ErrNotFound if the ID is absent.
func (s *Store) Apply(id cid.ID, payload []byte) (Fragment, error) {
	e, err := s.lookup(id)
	if err != nil {
		return Fragment{}, err
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	prev := e.snap.Load()
	next := Fragment{
		ID:        id,
		Version:   prev.Version + 1,
		Timestamp: s.stamp(prev.Timestamp),
		Payload:   slices.Clone(payload),
		Stream:    prev.Stream,
	}
	e.snap.Store(&next)
	return next, nil
}

// MarkStream sets the stream flag on an existing fragment. Setting the
// flag counts as a mutation; if the flag is already set the fragment
// is returned unchanged with no version bump.
func (s *Store) MarkStream(id cid.ID) (Fragment, error) {
	e, err := s.lookup(id)
	if err != nil {
		return Fragment{}, err
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	prev := e.snap.Load()
	if prev.Stream {
		return *prev, nil
	}
	next := Fragment{
		ID:        id,
		Version:   prev.Version + 1,
		Timestamp: s.stamp(prev.Timestamp),
		Payload:   prev.Payload,
		Stream:    true,
	}
	e.snap.Store(&next)
	return next, nil
}

// Adopt installs a fragment received from a peer. An unknown ID is
// inserted as given; a known ID is replaced only when the incoming
// version is strictly newer. The local timestamp never decreases and
// a set stream flag is never cleared by adoption. Returns the
// resulting local snapshot and whether the incoming fragment was
// taken.
func (s *Store) Adopt(incoming Fragment) (Fragment, bool, error) {
	if !incoming.ID.Defined() {
		return Fragment{}, false, ErrEmptyID
	}

	s.mu.Lock()
	e, exists := s.entries[incoming.ID]
	if !exists {
		e = &entry{}
		frag := incoming
		frag.Payload = slices.Clone(incoming.Payload)
		e.snap.Store(&frag)
		s.entries[incoming.ID] = e
		s.mu.Unlock()
		return frag, true, nil
	}
	s.mu.Unlock()

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	prev := e.snap.Load()
	if incoming.Version <= prev.Version {
		return *prev, false, nil
	}
	next := Fragment{
		ID:        incoming.ID,
		Version:   incoming.Version,
		Timestamp: max(incoming.Timestamp, prev.Timestamp+1),
		Payload:   slices.Clone(incoming.Payload),
		Stream:    prev.Stream || incoming.Stream,
	}
	e.snap.Store(&next)
	return next, true, nil
}

// Get returns the current snapshot for id, or ErrNotFound.
func (s *Store) Get(id cid.ID) (Fragment, error) {
	e, err := s.lookup(id)
	if err != nil {
		return Fragment{}, err
	}
	return *e.snap.Load(), nil
}

// Snapshot returns a point-in-time copy of every fragment, sorted by
// canonical ID text. Each element is an independent consistent
// snapshot; the set as a whole is not a cross-fragment transaction.
func (s *Store) Snapshot() []Fragment {
	s.mu.RLock()
	frags := make([]Fragment, 0, len(s.entries))
	for _, e := range s.entries {
		frags = append(frags, *e.snap.Load())
	}
	s.mu.RUnlock()

	slices.SortFunc(frags, func(a, b Fragment) int {
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	return frags
}

// Len returns the number of fragments.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *Store) lookup(id cid.ID) (*entry, error) {
	if !id.Defined() {
		return nil, ErrEmptyID
	}
	s.mu.RLock()
	e, exists := s.entries[id]
	s.mu.RUnlock()
	if !exists {
		return nil, ErrNotFound
	}
	return e, nil
}

// stamp produces the next mutation timestamp: the current clock
// reading, pushed forward to previous+1 if the clock has stalled or
// stepped backwards. Callers hold the entry's write mutex.
func (s *Store) stamp(previous int64) int64 {
	now := s.clock.Now().UnixNano()
	if now <= previous {
		return previous + 1
	}
	return now
}
