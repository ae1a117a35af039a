// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed reads and writes hub export snapshots: zstd-compressed
// CBOR containers holding every fragment a hub knows plus its identity
// index, optionally sealed to age x25519 recipients for transfer over
// untrusted channels.
//
// A snapshot file has one of two layouts:
//
//   - plain: zstd(cbor(Snapshot))
//   - sealed: armor(age(zstd(cbor(Snapshot))))
//
// Compression sits inside the encryption layer; ciphertext does not
// compress. [ReadSnapshot] detects the layout by peeking for the armor
// header, so import does not need to be told which kind it was given.
//
// Private key material lives in [secret.Buffer] values backed by mmap
// memory outside the Go heap (locked against swap, excluded from core
// dumps, zeroed on Close). [LoadIdentity] reads the standard age
// identity file format, including the files age-keygen writes.
package sealed
