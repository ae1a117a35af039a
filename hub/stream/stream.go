// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

// Package stream tracks live stream handles for fragments.
//
// A fragment's Stream flag records that a stream existed at some point
// in its life; the registry records whether one is live right now, and
// holds the only association between a fragment ID and its handle.
// Registration is first-wins and permanent: once an ID has an entry, a
// second Register fails even after the stream was killed. Liveness is
// a separate toggle (Kill and Wake) that never touches fragment state.
package stream

import (
	"errors"
	"slices"
	"strings"
	"sync"

	"github.com/conflux-foundation/conflux/lib/cid"
	"github.com/conflux-foundation/conflux/lib/clock"
	"github.com/conflux-foundation/conflux/lib/event"
)

// ErrAlreadyStreaming is returned by Register when the fragment
// already has a registered stream, live or dead.
var ErrAlreadyStreaming = errors.New("stream: fragment already has a registered stream")

// Handle is the opaque per-stream value owned by the transport or
// application layer. The registry stores and returns it without
// interpreting it.
type Handle any

// Status describes one registry entry.
type Status struct {
	ID cid.ID `cbor:"id" json:"id"`
	// Alive reports current liveness, not the fragment's Stream flag.
	Alive bool `cbor:"alive" json:"alive"`
	// Registered is the unix-nano time the handle was first bound.
	Registered int64 `cbor:"registered" json:"registered"`
}

type entry struct {
	handle     Handle
	alive      bool
	registered int64
}

// Registry maps fragment IDs to stream handles and their liveness.
type Registry struct {
	events *event.Bus
	clock  clock.Clock

	mu      sync.Mutex
	entries map[cid.ID]*entry
}

// NewRegistry returns an empty registry. Registrations and liveness
// transitions are published on events; a nil bus disables that. A nil
// clk uses the real clock.
func NewRegistry(events *event.Bus, clk clock.Clock) *Registry {
	if clk == nil {
		clk = clock.Real()
	}
	return &Registry{
		events:  events,
		clock:   clk,
		entries: make(map[cid.ID]*entry),
	}
}

// Register binds h to id and marks it live. The first registration for
// an ID wins; every later one fails with ErrAlreadyStreaming, even
// when the earlier stream has been killed.
func (r *Registry) Register(id cid.ID, h Handle) error {
	if !id.Defined() {
		return errors.New("stream: undefined fragment ID")
	}

	r.mu.Lock()
	if _, exists := r.entries[id]; exists {
		r.mu.Unlock()
		return ErrAlreadyStreaming
	}
	r.entries[id] = &entry{
		handle:     h,
		alive:      true,
		registered: r.clock.Now().UnixNano(),
	}
	r.mu.Unlock()

	r.emit(event.Event{Kind: event.KindStreamRegistered, ID: id})
	return nil
}

// Lookup returns the handle for id if a live stream is registered.
// Dead entries report false just like absent ones.
func (r *Registry) Lookup(id cid.ID) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, exists := r.entries[id]
	if !exists || !e.alive {
		return nil, false
	}
	return e.handle, true
}

// Registered reports whether id has an entry at all, live or dead.
func (r *Registry) Registered(id cid.ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.entries[id]
	return exists
}

// Alive reports whether id has a live stream.
func (r *Registry) Alive(id cid.ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, exists := r.entries[id]
	return exists && e.alive
}

// Kill marks id's stream dead and reports whether this call made the
// transition. Killing an absent or already-dead entry is a no-op and
// emits nothing. The fragment's Stream flag is not touched.
func (r *Registry) Kill(id cid.ID) bool {
	if !r.transition(id, false) {
		return false
	}
	r.emit(event.Event{Kind: event.KindStreamClosed, ID: id})
	return true
}

// Wake revives id's dead stream and reports whether this call made the
// transition. The handle from registration is retained across
// kill/wake cycles.
func (r *Registry) Wake(id cid.ID) bool {
	if !r.transition(id, true) {
		return false
	}
	r.emit(event.Event{Kind: event.KindStreamWoken, ID: id})
	return true
}

func (r *Registry) transition(id cid.ID, alive bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, exists := r.entries[id]
	if !exists || e.alive == alive {
		return false
	}
	e.alive = alive
	return true
}

// Len returns the number of registered streams, live or dead.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// List returns the status of every entry, sorted by canonical ID text.
func (r *Registry) List() []Status {
	r.mu.Lock()
	statuses := make([]Status, 0, len(r.entries))
	for id, e := range r.entries {
		statuses = append(statuses, Status{
			ID:         id,
			Alive:      e.alive,
			Registered: e.registered,
		})
	}
	r.mu.Unlock()

	slices.SortFunc(statuses, func(a, b Status) int {
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	return statuses
}

func (r *Registry) emit(ev event.Event) {
	if r.events == nil {
		return
	}
	ev.Time = r.clock.Now().UnixNano()
	r.events.Publish(ev)
}
