// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

package cid

import (
	"fmt"

	sha256 "github.com/minio/sha256-simd"
	"github.com/multiformats/go-varint"
	"github.com/zeebo/blake3"
)

// Scheme derives content IDs from payload bytes. A hub is constructed
// with exactly one Scheme; fragments created under different schemes
// are distinct even for identical payloads, so a mesh should agree on
// one.
type Scheme interface {
	// Name is the multihash function name, accepted in config files.
	Name() string

	// Derive computes the ID for a payload. Deterministic: equal
	// payloads yield equal IDs. The empty payload is valid.
	Derive(payload []byte) ID
}

// SHA256 derives CIDv1 raw IDs with sha2-256, the default scheme.
var SHA256 Scheme = sha256Scheme{}

// BLAKE3 derives CIDv1 raw IDs with blake3. Faster on large payloads;
// pick it mesh-wide or not at all.
var BLAKE3 Scheme = blake3Scheme{}

// SchemeByName resolves a config-file scheme name.
func SchemeByName(name string) (Scheme, error) {
	switch name {
	case "", SHA256.Name():
		return SHA256, nil
	case BLAKE3.Name():
		return BLAKE3, nil
	default:
		return nil, fmt.Errorf("cid: unknown scheme %q", name)
	}
}

// header precomputes varint(version) || varint(codec) ||
// varint(hashCode) || varint(digestSize) for a hash function.
func header(hashCode uint64) []byte {
	h := varint.ToUvarint(cidVersion)
	h = append(h, varint.ToUvarint(codecRaw)...)
	h = append(h, varint.ToUvarint(hashCode)...)
	h = append(h, varint.ToUvarint(digestSize)...)
	return h
}

var (
	sha256Header = header(hashSHA256)
	blake3Header = header(hashBLAKE3)
)

type sha256Scheme struct{}

func (sha256Scheme) Name() string { return "sha2-256" }

func (sha256Scheme) Derive(payload []byte) ID {
	digest := sha256.Sum256(payload)
	raw := make([]byte, 0, len(sha256Header)+digestSize)
	raw = append(raw, sha256Header...)
	raw = append(raw, digest[:]...)
	return ID{str: string(raw)}
}

type blake3Scheme struct{}

func (blake3Scheme) Name() string { return "blake3" }

func (blake3Scheme) Derive(payload []byte) ID {
	digest := blake3.Sum256(payload)
	raw := make([]byte, 0, len(blake3Header)+digestSize)
	raw = append(raw, blake3Header...)
	raw = append(raw, digest[:]...)
	return ID{str: string(raw)}
}
