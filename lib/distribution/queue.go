// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

package distribution

import "sync"

// queue is the bounded per-peer envelope FIFO. When a push would
// exceed the entry limit the oldest envelope is shed and returned to
// the caller for a drop event: under sustained peer trouble the hub
// loses old versions, never memory. Shedding from the head preserves
// the version order of what remains.
//
// The notify channel (capacity 1) wakes the peer's worker goroutine;
// the worker selects on it alongside its context.
type queue struct {
	mu      sync.Mutex
	entries []Envelope
	limit   int
	notify  chan struct{}
}

func newQueue(limit int) *queue {
	return &queue{
		limit:  limit,
		notify: make(chan struct{}, 1),
	}
}

// push appends env, shedding from the head if the queue is full, and
// signals the worker. Returns the shed envelopes (at most one, but a
// slice keeps the caller's event loop simple).
func (q *queue) push(env Envelope) []Envelope {
	q.mu.Lock()
	var shed []Envelope
	for len(q.entries) >= q.limit && len(q.entries) > 0 {
		shed = append(shed, q.entries[0])
		q.entries[0] = Envelope{} // release payload for GC
		q.entries = q.entries[1:]
	}
	q.entries = append(q.entries, env)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return shed
}

// peek returns the oldest envelope without removing it.
func (q *queue) peek() (Envelope, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return Envelope{}, false
	}
	return q.entries[0], true
}

// popMatch removes the head only if it is still env. Overflow
// shedding can remove the head while the worker is delivering it; an
// unconditional pop would then discard the next envelope undelivered
// and uncounted.
func (q *queue) popMatch(env Envelope) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return
	}
	head := q.entries[0]
	if head.ID != env.ID || head.Version != env.Version {
		return
	}
	q.entries[0] = Envelope{}
	q.entries = q.entries[1:]
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
