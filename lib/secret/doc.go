// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret provides a memory-safe buffer for sensitive material
// such as journal sealing keys and export identities.
//
// [Buffer] allocates memory outside the Go heap via
// mmap(MAP_ANONYMOUS), locks it into physical RAM via mlock
// (preventing swap), and marks it excluded from core dumps via
// madvise(MADV_DONTDUMP). On Close, the memory is zeroed, unlocked,
// and unmapped. Because the memory lives outside the Go heap, the
// garbage collector cannot copy or relocate it, so the material does
// not linger after release.
//
// [New] allocates a zero-filled buffer, [NewFromBytes] copies into
// protected memory and zeros the source, [ReadFromPath] loads a key
// file (or stdin). Access via [Buffer.Bytes] (slice into the mmap
// region) or [Buffer.String] (heap copy for API boundaries). [Zero]
// erases transient heap copies.
//
// Depends on golang.org/x/sys/unix. Imported by lib/journal for
// sealing keys and by lib/sealed for export identities.
package secret
