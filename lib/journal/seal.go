// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

package journal

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/conflux-foundation/conflux/lib/secret"
)

// keySize is the size of the derived AEAD key.
const keySize = 32

// hkdfInfoSeal is the HKDF-SHA256 info parameter for journal sealing,
// separating this derivation path from any other use of the master
// key. Changing it invalidates every sealed journal.
var hkdfInfoSeal = []byte("conflux.journal.seal.v1")

// sealedOverhead is the per-record cost of sealing: a 24-byte
// XChaCha20-Poly1305 nonce plus the 16-byte Poly1305 tag.
const sealedOverhead = chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

// sealer encrypts and decrypts record blobs. Each record gets a fresh
// random nonce; the record's index in the file is bound in as AAD so
// sealed records cannot be reordered or transplanted undetected.
type sealer struct {
	aead cipher.AEAD
}

// newSealer derives the journal AEAD key from the master key via
// HKDF-SHA256 and builds the cipher. The master key is borrowed, not
// closed; the derived key buffer is zeroed before returning.
func newSealer(master *secret.Buffer) (*sealer, error) {
	reader := hkdf.New(sha256.New, master.Bytes(), nil, hkdfInfoSeal)
	derived := make([]byte, keySize)
	if _, err := io.ReadFull(reader, derived); err != nil {
		secret.Zero(derived)
		return nil, fmt.Errorf("journal: deriving sealing key: %w", err)
	}

	aead, err := chacha20poly1305.NewX(derived)
	secret.Zero(derived)
	if err != nil {
		return nil, fmt.Errorf("journal: building XChaCha20-Poly1305 cipher: %w", err)
	}
	return &sealer{aead: aead}, nil
}

// seal encrypts a record blob: [nonce (24)] [ciphertext+tag].
func (s *sealer) seal(plaintext []byte, index uint64) ([]byte, error) {
	var nonce [chacha20poly1305.NonceSizeX]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("journal: generating nonce: %w", err)
	}

	output := make([]byte, chacha20poly1305.NonceSizeX, chacha20poly1305.NonceSizeX+len(plaintext)+chacha20poly1305.Overhead)
	copy(output, nonce[:])
	return s.aead.Seal(output, nonce[:], plaintext, sealAAD(index)), nil
}

// open decrypts a sealed record blob produced by seal at the same
// index.
func (s *sealer) open(blob []byte, index uint64) ([]byte, error) {
	if len(blob) < sealedOverhead {
		return nil, fmt.Errorf("journal: sealed record is %d bytes, minimum is %d", len(blob), sealedOverhead)
	}
	nonce := blob[:chacha20poly1305.NonceSizeX]
	ciphertext := blob[chacha20poly1305.NonceSizeX:]

	plaintext, err := s.aead.Open(nil, nonce, ciphertext, sealAAD(index))
	if err != nil {
		return nil, fmt.Errorf("journal: unsealing record %d (wrong key or tampered data): %w", index, err)
	}
	return plaintext, nil
}

func sealAAD(index uint64) []byte {
	aad := make([]byte, len(fileMagic)+8)
	copy(aad, fileMagic)
	binary.LittleEndian.PutUint64(aad[len(fileMagic):], index)
	return aad
}
