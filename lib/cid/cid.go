// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

package cid

import (
	"encoding/base32"
	"fmt"

	"github.com/mr-tron/base58"
	"github.com/multiformats/go-varint"
)

// Multiformat constants. A content ID is
//
//	varint(version) || varint(codec) || multihash
//
// where the multihash is varint(hash code) || varint(digest length) ||
// digest. Conflux emits CIDv1 with the raw codec; payloads are opaque
// bytes, not IPLD structures.
const (
	cidVersion = 1
	codecRaw   = 0x55

	hashSHA256 = 0x12
	hashBLAKE3 = 0x1e

	digestSize = 32
)

// Base selects a multibase text encoding for ID.Format.
type Base int

const (
	// Base32 is base32-lower without padding, multibase prefix 'b'.
	// This is the canonical display form.
	Base32 Base = iota
	// Base58 is base58btc, multibase prefix 'z'. Denser, mixed case.
	Base58
)

var base32Lower = base32.NewEncoding("abcdefghijklmnopqrstuvwxyz234567").WithPadding(base32.NoPadding)

// ID is a content identifier: the multiformat bytes held in an
// unexported string so IDs are comparable, usable as map keys, and
// immutable. The zero value is undefined; every valid ID comes from a
// Scheme derivation, Parse, or Decode.
type ID struct {
	str string
}

// Defined reports whether the ID holds a value.
func (id ID) Defined() bool { return id.str != "" }

// Bytes returns a copy of the raw multiformat bytes.
func (id ID) Bytes() []byte { return []byte(id.str) }

// String renders the canonical base32-lower multibase form, or the
// empty string for an undefined ID.
func (id ID) String() string {
	if !id.Defined() {
		return ""
	}
	return "b" + base32Lower.EncodeToString([]byte(id.str))
}

// Short returns a truncated display form for logs and tables. The
// multibase prefix and leading digest bytes are enough to tell
// fragments apart by eye; use String for anything machine-read.
func (id ID) Short() string {
	s := id.String()
	if len(s) <= 16 {
		return s
	}
	return s[:16]
}

// Format renders the ID in the requested multibase.
func (id ID) Format(base Base) (string, error) {
	if !id.Defined() {
		return "", fmt.Errorf("cid: format of undefined ID")
	}
	switch base {
	case Base32:
		return id.String(), nil
	case Base58:
		return "z" + base58.Encode([]byte(id.str)), nil
	default:
		return "", fmt.Errorf("cid: unknown base %d", base)
	}
}

// MarshalText implements encoding.TextMarshaler using the canonical
// base32 form, so IDs serialize as strings in CBOR, JSON, and YAML.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*id = ID{}
		return nil
	}
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Parse decodes a multibase text form produced by String or Format.
func Parse(s string) (ID, error) {
	if s == "" {
		return ID{}, fmt.Errorf("cid: empty string")
	}
	var raw []byte
	var err error
	switch s[0] {
	case 'b':
		raw, err = base32Lower.DecodeString(s[1:])
	case 'z':
		raw, err = base58.Decode(s[1:])
	default:
		return ID{}, fmt.Errorf("cid: unknown multibase prefix %q", s[0])
	}
	if err != nil {
		return ID{}, fmt.Errorf("cid: decoding %q: %w", s, err)
	}
	return Decode(raw)
}

// MustParse is Parse for static strings in tests and tools; it panics
// on error.
func MustParse(s string) ID {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

// Decode validates raw multiformat bytes and returns the ID. It
// rejects unknown versions, codecs, and hash functions, digest length
// mismatches, and trailing bytes.
func Decode(raw []byte) (ID, error) {
	rest := raw

	version, n, err := varint.FromUvarint(rest)
	if err != nil {
		return ID{}, fmt.Errorf("cid: reading version: %w", err)
	}
	rest = rest[n:]
	if version != cidVersion {
		return ID{}, fmt.Errorf("cid: unsupported version %d", version)
	}

	codec, n, err := varint.FromUvarint(rest)
	if err != nil {
		return ID{}, fmt.Errorf("cid: reading codec: %w", err)
	}
	rest = rest[n:]
	if codec != codecRaw {
		return ID{}, fmt.Errorf("cid: unsupported codec 0x%x", codec)
	}

	hashCode, n, err := varint.FromUvarint(rest)
	if err != nil {
		return ID{}, fmt.Errorf("cid: reading hash code: %w", err)
	}
	rest = rest[n:]
	if hashCode != hashSHA256 && hashCode != hashBLAKE3 {
		return ID{}, fmt.Errorf("cid: unsupported hash function 0x%x", hashCode)
	}

	length, n, err := varint.FromUvarint(rest)
	if err != nil {
		return ID{}, fmt.Errorf("cid: reading digest length: %w", err)
	}
	rest = rest[n:]
	if length != digestSize {
		return ID{}, fmt.Errorf("cid: digest length %d, want %d", length, digestSize)
	}
	if len(rest) != digestSize {
		return ID{}, fmt.Errorf("cid: %d digest bytes, want %d", len(rest), digestSize)
	}

	return ID{str: string(raw)}, nil
}
