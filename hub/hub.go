// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/conflux-foundation/conflux/hub/stream"
	"github.com/conflux-foundation/conflux/lib/cache"
	"github.com/conflux-foundation/conflux/lib/cid"
	"github.com/conflux-foundation/conflux/lib/clock"
	"github.com/conflux-foundation/conflux/lib/distribution"
	"github.com/conflux-foundation/conflux/lib/event"
	"github.com/conflux-foundation/conflux/lib/fragment"
	"github.com/conflux-foundation/conflux/lib/journal"
)

var (
	// ErrInvalidPayload reports a write with a nil payload. Empty
	// non-nil payloads are valid content; absent ones are not.
	ErrInvalidPayload = errors.New("hub: nil payload")
	// ErrEmptyIdentity reports a write keyed on an empty identity.
	ErrEmptyIdentity = errors.New("hub: empty identity")
	// ErrNoStream reports a stream lookup on a fragment that exists
	// but has no live stream behind it.
	ErrNoStream = errors.New("hub: fragment has no live stream")
)

// Options configures a Hub. Every field is optional.
type Options struct {
	// Scheme derives content IDs from first payloads. Defaults to
	// cid.SHA256.
	Scheme cid.Scheme

	// Clock stamps mutations and events. Defaults to the real clock.
	Clock clock.Clock

	// Logger receives operational logs. Defaults to slog.Default().
	Logger *slog.Logger

	// Events carries commit, stream, and delivery events. A bus is
	// created when nil, so Events() never returns nil.
	Events *event.Bus

	// Cache fronts the store for reads. A capacity-default cache is
	// created when nil.
	Cache *cache.Cache

	// Pipeline distributes committed snapshots to peers. Nil means a
	// local-only hub: commits succeed, nothing is shipped.
	Pipeline *distribution.Pipeline

	// Journal persists commits and is replayed during New. The hub
	// takes ownership and closes it in Close. Nil means no
	// persistence.
	Journal *journal.Journal
}

// Hub ties the fragment store, cache, distribution pipeline, stream
// registry, and journal together behind one mutation surface. All
// collaborators are explicit fields wired at construction; there are
// no package-level singletons.
//
// Hub is safe for concurrent use.
type Hub struct {
	scheme   cid.Scheme
	clock    clock.Clock
	logger   *slog.Logger
	events   *event.Bus
	store    *fragment.Store
	cache    *cache.Cache
	pipeline *distribution.Pipeline
	registry *stream.Registry
	journal  *journal.Journal

	// mu guards identities. First-writes create the fragment and bind
	// the identity inside the critical section, so a binding is never
	// visible before its fragment is readable.
	mu         sync.Mutex
	identities map[string]cid.ID
}

// New wires a hub from opts and, when a journal is configured, replays
// it to rebuild fragments and identity bindings.
func New(opts Options) (*Hub, error) {
	h := &Hub{
		scheme:     opts.Scheme,
		clock:      opts.Clock,
		logger:     opts.Logger,
		events:     opts.Events,
		cache:      opts.Cache,
		pipeline:   opts.Pipeline,
		journal:    opts.Journal,
		identities: make(map[string]cid.ID),
	}
	if h.scheme == nil {
		h.scheme = cid.SHA256
	}
	if h.clock == nil {
		h.clock = clock.Real()
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.events == nil {
		h.events = event.NewBus()
	}
	if h.cache == nil {
		c, err := cache.New(0)
		if err != nil {
			return nil, err
		}
		h.cache = c
	}
	h.store = fragment.NewStore(h.clock)
	h.registry = stream.NewRegistry(h.events, h.clock)

	if h.journal != nil {
		err := h.journal.Replay(func(rec journal.Record) error {
			if _, _, err := h.store.Adopt(rec.Fragment()); err != nil {
				return err
			}
			if rec.Identity != "" {
				h.identities[rec.Identity] = rec.ID
			}
			return nil
		})
		if err != nil {
			h.journal.Close()
			return nil, fmt.Errorf("hub: replaying journal: %w", err)
		}
		h.logger.Info("journal replayed",
			"records", h.journal.Len(),
			"fragments", h.store.Len(),
			"identities", len(h.identities))
	}
	return h, nil
}

// SetData commits payload under identity. An unbound identity derives
// a content ID from this first payload and creates the fragment at
// version 1; a bound identity mutates its fragment, bumping the
// version by one. When the derived ID already exists (the same first
// payload arrived under another identity, or from a peer), the
// identity is bound to the existing fragment and its snapshot is
// returned without a version bump.
//
// The returned snapshot is the committed state. Cache refresh,
// journal append, event, and distribution happen after the commit;
// ctx cancellation past that point does not undo them.
func (h *Hub) SetData(ctx context.Context, identity string, payload []byte) (fragment.Fragment, error) {
	if err := ctx.Err(); err != nil {
		return fragment.Fragment{}, err
	}
	if payload == nil {
		return fragment.Fragment{}, ErrInvalidPayload
	}
	if identity == "" {
		return fragment.Fragment{}, ErrEmptyIdentity
	}

	if id, ok := h.Resolve(identity); ok {
		return h.mutate(id, payload)
	}

	id := h.scheme.Derive(payload)

	h.mu.Lock()
	if bound, ok := h.identities[identity]; ok {
		// Lost a first-write race while deriving; the binding's
		// fragment is already readable, so this write lands as a
		// plain mutation.
		h.mu.Unlock()
		return h.mutate(bound, payload)
	}
	snap, err := h.store.Create(id, payload, false)
	switch {
	case err == nil:
		h.identities[identity] = id
		h.mu.Unlock()
		h.commit(journal.OpCreate, event.KindFragmentCreated, identity, snap)
		return snap, nil
	case errors.Is(err, fragment.ErrExists):
		snap, err = h.store.Get(id)
		if err != nil {
			h.mu.Unlock()
			return fragment.Fragment{}, err
		}
		h.identities[identity] = id
		h.mu.Unlock()
		// No fragment state changed: persist the new binding, emit
		// and distribute nothing.
		h.cache.Refresh(snap)
		h.journalAppend(journal.OpCreate, identity, snap)
		return snap, nil
	default:
		h.mu.Unlock()
		return fragment.Fragment{}, err
	}
}

func (h *Hub) mutate(id cid.ID, payload []byte) (fragment.Fragment, error) {
	snap, err := h.store.Apply(id, payload)
	if err != nil {
		return fragment.Fragment{}, err
	}
	h.commit(journal.OpMutate, event.KindFragmentMutated, "", snap)
	return snap, nil
}

// Get returns the fragment for id, serving from the cache when
// possible and filling it on a store hit.
func (h *Hub) Get(ctx context.Context, id cid.ID) (fragment.Fragment, error) {
	if err := ctx.Err(); err != nil {
		return fragment.Fragment{}, err
	}
	return h.getLocal(id)
}

func (h *Hub) getLocal(id cid.ID) (fragment.Fragment, error) {
	if snap, ok := h.cache.Get(id); ok {
		return snap, nil
	}
	snap, err := h.store.Get(id)
	if err != nil {
		return fragment.Fragment{}, err
	}
	h.cache.Refresh(snap)
	return snap, nil
}

// GetByIdentity resolves identity and returns its fragment.
func (h *Hub) GetByIdentity(ctx context.Context, identity string) (fragment.Fragment, error) {
	id, ok := h.Resolve(identity)
	if !ok {
		return fragment.Fragment{}, fmt.Errorf("hub: identity %q: %w", identity, fragment.ErrNotFound)
	}
	return h.Get(ctx, id)
}

// Resolve returns the content ID bound to identity. Any binding it
// reports has a readable fragment behind it.
func (h *Hub) Resolve(identity string) (cid.ID, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id, ok := h.identities[identity]
	return id, ok
}

// OnFirstBlob handles the first blob of an arriving stream: the blob
// derives (or resolves) the fragment, the fragment's stream flag is
// set, and handle is registered as the live stream. A fragment can
// only ever have one registered stream; a second arrival fails with
// stream.ErrAlreadyStreaming and leaves fragment state unchanged.
//
// When the arrival creates the fragment, the create is committed even
// if the registration then loses a race; the committed snapshot is
// returned alongside the registration error.
func (h *Hub) OnFirstBlob(ctx context.Context, identity string, blob []byte, handle stream.Handle) (fragment.Fragment, error) {
	if err := ctx.Err(); err != nil {
		return fragment.Fragment{}, err
	}
	if blob == nil {
		return fragment.Fragment{}, ErrInvalidPayload
	}
	if identity == "" {
		return fragment.Fragment{}, ErrEmptyIdentity
	}

	if id, ok := h.Resolve(identity); ok {
		return h.attachStream(id, handle)
	}

	id := h.scheme.Derive(blob)

	h.mu.Lock()
	if bound, ok := h.identities[identity]; ok {
		h.mu.Unlock()
		return h.attachStream(bound, handle)
	}
	snap, err := h.store.Create(id, blob, true)
	switch {
	case err == nil:
		h.identities[identity] = id
		h.mu.Unlock()
		h.commit(journal.OpCreate, event.KindFragmentCreated, identity, snap)
		return snap, h.registry.Register(id, handle)
	case errors.Is(err, fragment.ErrExists):
		h.mu.Unlock()
		// Existing content under a new identity: attach first, bind
		// the identity only when the stream wins, and only if no
		// concurrent first-write bound it in the meantime.
		snap, err = h.attachStream(id, handle)
		if err != nil {
			return fragment.Fragment{}, err
		}
		h.mu.Lock()
		_, bound := h.identities[identity]
		if !bound {
			h.identities[identity] = id
		}
		h.mu.Unlock()
		if !bound {
			h.journalAppend(journal.OpStream, identity, snap)
		}
		return snap, nil
	default:
		h.mu.Unlock()
		return fragment.Fragment{}, err
	}
}

// attachStream registers handle as the live stream for an existing
// fragment and then marks the fragment. Registration goes first so a
// losing arrival leaves the fragment untouched.
func (h *Hub) attachStream(id cid.ID, handle stream.Handle) (fragment.Fragment, error) {
	prev, err := h.store.Get(id)
	if err != nil {
		return fragment.Fragment{}, err
	}
	if err := h.registry.Register(id, handle); err != nil {
		return fragment.Fragment{}, err
	}
	snap, err := h.store.MarkStream(id)
	if err != nil {
		return fragment.Fragment{}, err
	}
	if snap.Version != prev.Version {
		h.commit(journal.OpStream, event.KindFragmentMutated, "", snap)
	}
	return snap, nil
}

// IngestRemote installs a snapshot received from a peer. The envelope
// payload is decompressed, the snapshot adopted if strictly newer than
// local state, and the adoption cached, journaled, and published as an
// event. Adopted snapshots are not re-distributed; fan-out topology is
// the operator's roster, not gossip.
//
// Returns the resulting local snapshot and whether the incoming one
// was taken.
func (h *Hub) IngestRemote(ctx context.Context, env distribution.Envelope) (fragment.Fragment, bool, error) {
	if err := ctx.Err(); err != nil {
		return fragment.Fragment{}, false, err
	}
	incoming, err := env.Fragment()
	if err != nil {
		return fragment.Fragment{}, false, fmt.Errorf("hub: ingesting from %q: %w", env.Origin, err)
	}

	_, err = h.store.Get(incoming.ID)
	existed := err == nil

	snap, adopted, err := h.store.Adopt(incoming)
	if err != nil {
		return fragment.Fragment{}, false, err
	}
	if !adopted {
		return snap, false, nil
	}

	kind := event.KindFragmentCreated
	if existed {
		kind = event.KindFragmentMutated
	}
	h.cache.Refresh(snap)
	h.journalAppend(journal.OpAdopt, "", snap)
	h.emit(event.Event{Kind: kind, ID: snap.ID, Version: snap.Version, Peer: env.Origin})
	return snap, true, nil
}

// commit runs the post-mutation side effects in their fixed order:
// cache, journal, event, distribution.
func (h *Hub) commit(op journal.Op, kind event.Kind, identity string, snap fragment.Fragment) {
	h.cache.Refresh(snap)
	h.journalAppend(op, identity, snap)
	h.emit(event.Event{Kind: kind, ID: snap.ID, Version: snap.Version})
	if h.pipeline != nil {
		h.pipeline.Publish(snap)
	}
}

// journalAppend persists one commit. Journal trouble degrades the hub
// to in-memory operation rather than failing writes.
func (h *Hub) journalAppend(op journal.Op, identity string, snap fragment.Fragment) {
	if h.journal == nil {
		return
	}
	if err := h.journal.Append(journal.FromFragment(op, identity, snap)); err != nil {
		h.logger.Error("journal append failed",
			"id", snap.ID.Short(),
			"version", snap.Version,
			"op", op.String(),
			"error", err)
	}
}

func (h *Hub) emit(ev event.Event) {
	ev.Time = h.clock.Now().UnixNano()
	h.events.Publish(ev)
}

// List returns a snapshot of every fragment, sorted by canonical ID.
func (h *Hub) List() []fragment.Fragment {
	return h.store.Snapshot()
}

// Identities returns a copy of the identity index.
func (h *Hub) Identities() map[string]cid.ID {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]cid.ID, len(h.identities))
	for identity, id := range h.identities {
		out[identity] = id
	}
	return out
}

// Stats is a point-in-time summary of hub state.
type Stats struct {
	Fragments  int         `cbor:"fragments" json:"fragments"`
	Identities int         `cbor:"identities" json:"identities"`
	Streams    int         `cbor:"streams" json:"streams"`
	Cache      cache.Stats `cbor:"cache" json:"cache"`

	// Peers maps peer name to queue depth; nil on a local-only hub.
	Peers map[string]int `cbor:"peers,omitempty" json:"peers,omitempty"`

	// JournalRecords counts records in the journal file, stale ones
	// included; zero without a journal.
	JournalRecords int `cbor:"journal_records,omitempty" json:"journal_records,omitempty"`

	// EventsDropped counts events shed across all slow subscribers.
	EventsDropped uint64 `cbor:"events_dropped,omitempty" json:"events_dropped,omitempty"`
}

// Stats returns current counters.
func (h *Hub) Stats() Stats {
	s := Stats{
		Fragments:     h.store.Len(),
		Streams:       h.registry.Len(),
		Cache:         h.cache.Stats(),
		EventsDropped: h.events.Dropped(),
	}
	h.mu.Lock()
	s.Identities = len(h.identities)
	h.mu.Unlock()
	if h.pipeline != nil {
		s.Peers = h.pipeline.Peers()
	}
	if h.journal != nil {
		s.JournalRecords = h.journal.Len()
	}
	return s
}

// Events returns the hub's event bus. Never nil.
func (h *Hub) Events() *event.Bus { return h.events }

// Registry returns the stream registry.
func (h *Hub) Registry() *stream.Registry { return h.registry }

// Pipeline returns the distribution pipeline, or nil on a local-only
// hub.
func (h *Hub) Pipeline() *distribution.Pipeline { return h.pipeline }

// Scheme returns the content ID scheme.
func (h *Hub) Scheme() cid.Scheme { return h.scheme }

// JournalNeedsCompaction reports whether the journal has accumulated
// enough stale records to be worth compacting. Always false without a
// journal.
func (h *Hub) JournalNeedsCompaction() bool {
	if h.journal == nil {
		return false
	}
	return h.journal.NeedsCompaction(h.store.Len())
}

// CompactJournal rewrites the journal down to the live state: one
// record per fragment plus one per extra identity binding. A no-op
// without a journal.
func (h *Hub) CompactJournal() error {
	if h.journal == nil {
		return nil
	}

	h.mu.Lock()
	bindings := make(map[cid.ID][]string, len(h.identities))
	for identity, id := range h.identities {
		bindings[id] = append(bindings[id], identity)
	}
	h.mu.Unlock()

	var records []journal.Record
	for _, snap := range h.store.Snapshot() {
		identities := bindings[snap.ID]
		if len(identities) == 0 {
			records = append(records, journal.FromFragment(journal.OpAdopt, "", snap))
			continue
		}
		for _, identity := range identities {
			records = append(records, journal.FromFragment(journal.OpAdopt, identity, snap))
		}
	}
	if err := h.journal.Compact(records); err != nil {
		return fmt.Errorf("hub: compacting journal: %w", err)
	}
	h.logger.Info("journal compacted", "records", len(records))
	return nil
}

// Close shuts the hub down: the pipeline drains what it can within
// ctx, then the journal is synced and closed. Safe to call twice.
func (h *Hub) Close(ctx context.Context) error {
	var firstErr error
	if h.pipeline != nil {
		if err := h.pipeline.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if h.journal != nil {
		if err := h.journal.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
