// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared helpers for Conflux tests.
//
// [RequireReceive], [RequireSend], [RequireClosed], and
// [RequireNoReceive] wrap the select-with-deadline pattern so tests do
// not sprinkle time.After calls; these helpers are the only sanctioned
// use of the real clock in the test suite. Everything time-dependent
// under test runs on a lib/clock Fake.
//
// [UniqueID] hands out process-wide unique identifiers for tests that
// register identities or payloads in shared fixtures.
//
// [SocketDir] allocates a short /tmp directory for Unix socket tests,
// sidestepping the 108-byte sun_path limit.
//
// All helpers call t.Fatalf on failure; setup failures are not
// recoverable.
//
// This package has no Conflux-internal dependencies.
package testutil
