// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

// Package fragment defines the versioned fragment value type and the
// authoritative in-memory store.
//
// A fragment is the unit of hub state: an immutable content ID chosen
// from the first payload, a version counting accepted mutations, a
// monotonic timestamp, the opaque payload itself, and a stream flag.
// The store enforces the version and timestamp invariants under
// concurrency; everything above it (identity resolution, idempotent
// creation, caching, distribution) is hub policy built on the strict
// Create/Apply/Get primitives here.
package fragment
