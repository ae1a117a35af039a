// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

// Package fuse implements a read-only FUSE filesystem over a fragment
// source, so fragments can be inspected with ordinary file tools.
//
// The mount is a single flat directory. Each fragment appears twice:
//
//   - <cid> — a regular file whose content is the fragment payload.
//     The size is the payload length and the modification time is the
//     fragment's last-mutation timestamp.
//
//   - <cid>.meta — a JSON document with the fragment's metadata
//     (identifier, version, timestamp, size, stream state).
//
// Fragments mutate in place under a stable identifier, so file
// handles use direct IO rather than the kernel page cache: every open
// fetches the current payload, and reads within one handle see a
// consistent snapshot of it.
//
// The filesystem is backed by a [Source], which may be a local hub or
// a control-socket client talking to a remote one. All mutation
// operations return EROFS; writes go through the hub API.
package fuse
