// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"sync"
	"sync/atomic"
)

// Bus fans events out to subscribers. Publish never blocks: a
// subscriber that stops draining loses its own oldest events, counted
// but otherwise silent, and no subscriber can slow another or the
// publisher.
type Bus struct {
	mu      sync.Mutex
	subs    map[uint64]*subscriber
	nextSub uint64
	dropped atomic.Uint64
}

type subscriber struct {
	ch chan Event
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]*subscriber)}
}

// Subscribe registers a subscriber with the given channel buffer and
// returns its channel plus a cancel function. Cancel closes the
// channel; it is safe to call more than once.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	sub := &subscriber{ch: make(chan Event, buffer)}
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(sub.ch)
			b.mu.Unlock()
		})
	}
	return sub.ch, cancel
}

// Publish delivers ev to every subscriber without blocking. A full
// subscriber buffer sheds its oldest event to make room, keeping the
// feed fresh for consumers that fall behind.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		select {
		case sub.ch <- ev:
			continue
		default:
		}
		// Buffer full: shed the oldest and retry once. The receive
		// may race a consumer draining the channel, in which case the
		// retry simply succeeds without shedding.
		select {
		case <-sub.ch:
			b.dropped.Add(1)
		default:
		}
		select {
		case sub.ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns the total events shed across all subscribers.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// Subscribers returns the current subscriber count.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
