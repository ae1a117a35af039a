// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

// Package event carries hub observability.
//
// Every state change and every per-peer delivery outcome becomes a
// typed Event. Distribution failures in particular surface only here:
// a peer that is down affects events and nothing else. The Bus fans
// events out to live subscribers (the watch action, tests); History
// retains a bounded ring with monotonic offsets so observers can
// bootstrap and detect gaps after reconnecting.
package event
