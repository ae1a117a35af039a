// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

// Package distribution fans committed fragment snapshots out to peers.
//
// The pipeline is strictly best-effort and fully decoupled from the
// mutation path: Publish enqueues synchronously onto per-peer bounded
// queues and returns, one worker goroutine per peer drains its queue
// in order, and all delivery trouble — retries, abandonment, overflow
// shedding — surfaces as events, never as errors to the caller.
//
// Ordering: a single worker draining a FIFO cannot reorder, and
// overflow sheds from the head, so each peer observes versions of any
// one fragment in non-decreasing order. Retries use exponential
// backoff on the injected clock; after MaxAttempts tries an envelope
// is abandoned and the queue advances, so one poisoned envelope
// cannot wedge a peer forever.
package distribution
