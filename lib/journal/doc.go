// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

// Package journal persists committed fragment snapshots so a
// restarted hub retains its store, identity bindings, and stream
// flags.
//
// The file is an append-only sequence of CBOR records behind a small
// checksummed header. Each record is framed as
//
//	uvarint(length) || blob || crc32c(blob)
//
// where the blob is the CBOR record, optionally compressed (payload
// only) and optionally sealed with XChaCha20-Poly1305. A crash while
// appending leaves a torn final frame, which [Journal.Replay] detects
// and truncates; a complete frame that fails its checksum is
// corruption and aborts the replay with the file offset.
//
// Sealing derives the AEAD key from a master key (held in a
// secret.Buffer) via HKDF-SHA256. Every record gets a fresh random
// nonce, and the record's index rides along as additional
// authenticated data so records cannot be reordered undetected.
//
// [Journal.Compact] rewrites the file to a caller-provided live set
// (one record per fragment) through a temp file, fsync, and atomic
// rename, the usual crash-safe sequence.
package journal
