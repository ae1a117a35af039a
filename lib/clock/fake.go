// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sync"
	"time"
)

// Fake returns a FakeClock frozen at initial. Time moves only when
// Advance is called; every After, NewTicker, and Sleep registers a
// pending waiter that fires once the clock passes its deadline.
//
// FakeClock is safe for concurrent use.
func Fake(initial time.Time) *FakeClock {
	c := &FakeClock{now: initial}
	c.changed = sync.NewCond(&c.mu)
	return c
}

// FakeClock is a deterministic Clock for tests. Advance fires expired
// waiters in deadline order, so a test that arranges two backoffs of
// different lengths observes them complete in a fixed order regardless
// of goroutine scheduling.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	pending []*pendingWait
	changed *sync.Cond
}

// pendingWait is one registered After, Sleep, or Ticker deadline.
type pendingWait struct {
	deadline time.Time
	ch       chan time.Time

	// period is non-zero for tickers; after firing the wait is
	// rescheduled at deadline + period.
	period time.Duration

	stopped bool
	fired   bool
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After returns a channel receiving once the clock advances past d
// from now. Non-positive d delivers immediately without registering a
// waiter.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.pending = append(c.pending, &pendingWait{deadline: c.now.Add(d), ch: ch})
	c.changed.Broadcast()
	return ch
}

// NewTicker returns a Ticker firing every d of advanced time. Panics
// if d <= 0.
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive ticker interval")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	w := &pendingWait{
		deadline: c.now.Add(d),
		ch:       make(chan time.Time, 1),
		period:   d,
	}
	c.pending = append(c.pending, w)
	c.changed.Broadcast()

	return &Ticker{
		C: w.ch,
		stop: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			w.stopped = true
		},
		reset: func(d time.Duration) {
			c.mu.Lock()
			defer c.mu.Unlock()
			w.period = d
			w.deadline = c.now.Add(d)
			w.stopped = false
		},
	}
}

// Sleep blocks until the clock advances past d. Non-positive d returns
// immediately.
func (c *FakeClock) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	<-c.After(d)
}

// Advance moves the clock forward by d and fires every waiter whose
// deadline now lies in the past, in deadline order. Channel sends are
// non-blocking: a ticker whose consumer is behind drops the tick, like
// time.Ticker.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	target := c.now
	c.mu.Unlock()

	for {
		expired := c.takeExpired(target)
		if len(expired) == 0 {
			return
		}
		for _, w := range expired {
			select {
			case w.ch <- target:
			default:
			}
		}
	}
}

// takeExpired removes waiters due at or before target from the pending
// list, reschedules tickers, and returns the expired set sorted by
// deadline.
func (c *FakeClock) takeExpired(target time.Time) []*pendingWait {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expired, keep []*pendingWait
	for _, w := range c.pending {
		switch {
		case w.stopped:
		case !w.deadline.After(target):
			expired = append(expired, w)
		default:
			keep = append(keep, w)
		}
	}
	for i := 1; i < len(expired); i++ {
		for j := i; j > 0 && expired[j].deadline.Before(expired[j-1].deadline); j-- {
			expired[j], expired[j-1] = expired[j-1], expired[j]
		}
	}
	for _, w := range expired {
		if w.period > 0 {
			w.deadline = w.deadline.Add(w.period)
			keep = append(keep, w)
		} else {
			w.fired = true
		}
	}
	c.pending = keep
	return expired
}

// WaitForTimers blocks until at least n waiters are registered and not
// yet fired. It closes the race between a goroutine reaching its
// backoff wait and the test advancing the clock:
//
//	go worker.run(ctx)
//	fake.WaitForTimers(1)       // worker is now parked in After
//	fake.Advance(time.Second)   // fire the backoff deterministically
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.activeLocked() < n {
		c.changed.Wait()
	}
}

// PendingCount reports the number of live waiters, for test
// assertions.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeLocked()
}

func (c *FakeClock) activeLocked() int {
	n := 0
	for _, w := range c.pending {
		if !w.stopped {
			n++
		}
	}
	return n
}
