// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

package event

import "sync"

// DefaultHistorySize is the default retained event count: enough for a
// viewer to bootstrap with recent context without holding hub memory
// hostage.
const DefaultHistorySize = 2048

// History is a fixed-capacity ring of recent events with monotonically
// increasing offsets, so a reconnecting observer can ask for
// "everything since offset N" and detect gaps. New events overwrite
// the oldest once the ring is full.
//
// Safe for concurrent use.
type History struct {
	mu    sync.Mutex
	ring  []Event
	next  int
	total uint64
}

// NewHistory returns a ring retaining the last capacity events. A
// non-positive capacity selects DefaultHistorySize.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &History{ring: make([]Event, capacity)}
}

// Append records ev, advancing the offset.
func (h *History) Append(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ring[h.next] = ev
	h.next = (h.next + 1) % len(h.ring)
	h.total++
}

// Since returns events recorded at or after offset, oldest first, and
// the offset to pass next time. If offset has already been overwritten
// the start of the result reflects the oldest retained event; the
// caller can detect the gap by comparing the returned next offset
// minus len(result) against its request.
func (h *History) Since(offset uint64) ([]Event, uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sinceLocked(offset), h.total
}

// Latest returns up to n most recent events, oldest first.
func (h *History) Latest(n int) []Event {
	if n <= 0 {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	offset := uint64(0)
	if uint64(n) < h.total {
		offset = h.total - uint64(n)
	}
	return h.sinceLocked(offset)
}

func (h *History) sinceLocked(offset uint64) []Event {
	retained := h.total
	if retained > uint64(len(h.ring)) {
		retained = uint64(len(h.ring))
	}
	oldest := h.total - retained
	if offset < oldest {
		offset = oldest
	}
	if offset >= h.total {
		return nil
	}

	count := int(h.total - offset)
	out := make([]Event, count)
	start := (h.next - int(retained) + int(offset-oldest)) % len(h.ring)
	if start < 0 {
		start += len(h.ring)
	}
	for i := range count {
		out[i] = h.ring[(start+i)%len(h.ring)]
	}
	return out
}

// CurrentOffset returns the total number of events ever appended, the
// position a new observer should watch from.
func (h *History) CurrentOffset() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.total
}
