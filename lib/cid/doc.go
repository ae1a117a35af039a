// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

// Package cid implements content identifiers for fragments.
//
// An ID is a CIDv1: a multiformat version, the raw codec, and a
// multihash of the payload bytes. The identity of a fragment is the
// hash of its FIRST payload; the ID is derived once at creation and
// never changes, however the payload evolves afterwards.
//
// Two derivation schemes are provided, sha2-256 (default) and blake3.
// Text forms are multibase: base32-lower (prefix 'b', canonical) and
// base58btc (prefix 'z'). ID is a comparable value type safe for map
// keys and implements TextMarshaler/TextUnmarshaler, so it serializes
// as a string everywhere.
package cid
