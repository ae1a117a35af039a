// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

// Package hub is the top of the conflux data plane: one mutation
// surface tying together the fragment store, the read cache, the
// distribution pipeline, the stream registry, and the journal.
//
// Identities are caller-chosen string keys; content IDs are derived
// from first payloads and never change. SetData commits a payload
// under an identity, Get and GetByIdentity read snapshots back,
// OnFirstBlob turns an arriving stream into a fragment plus a
// registered handle, and IngestRemote folds in snapshots shipped by
// peers. Oracle exposes the read-only slice of all that to query
// callers.
//
// Every commit runs the same side-effect sequence: refresh the cache,
// append to the journal, publish an event, hand the snapshot to the
// pipeline. Distribution is best-effort and never fails a commit.
package hub
