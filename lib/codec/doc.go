// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec centralizes CBOR configuration.
//
// Every CBOR encode in Conflux — wire envelopes, journal records, the
// control-socket protocol — goes through this package so the encoding
// options live in exactly one place. Encoding is Core Deterministic
// Encoding (RFC 8949 §4.2); decoding ignores unknown fields for
// forward compatibility.
package codec
