// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"filippo.io/age"
	"filippo.io/age/armor"

	"github.com/conflux-foundation/conflux/lib/secret"
)

// Keypair holds an age x25519 keypair. The private key is stored in a
// secret.Buffer; the public key is a plain string, safe to publish to
// whoever should be able to read exports sealed to it.
//
// The caller must Close the keypair when it is no longer needed.
type Keypair struct {
	// PrivateKey is the secret key in AGE-SECRET-KEY-1... format,
	// stored in mmap memory outside the Go heap. Must never be logged
	// or passed on a command line.
	PrivateKey *secret.Buffer

	// PublicKey is the corresponding recipient in age1... format.
	PublicKey string
}

// Close releases the private key memory (zeros, unlocks, unmaps).
// Idempotent.
func (k *Keypair) Close() error {
	if k.PrivateKey != nil {
		return k.PrivateKey.Close()
	}
	return nil
}

// GenerateKeypair generates a new age x25519 keypair with the private
// key in a secret.Buffer. The caller must Close the returned Keypair.
func GenerateKeypair() (*Keypair, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating age keypair: %w", err)
	}

	// Move the private key into mmap-backed memory immediately.
	// NewFromBytes zeros the byte slice; the string returned by
	// identity.String() stays on the heap until GC, which is
	// unavoidable with the age API. The mmap buffer is the durable
	// copy.
	privateKey, err := secret.NewFromBytes([]byte(identity.String()))
	if err != nil {
		return nil, fmt.Errorf("protecting private key: %w", err)
	}

	return &Keypair{
		PrivateKey: privateKey,
		PublicKey:  identity.Recipient().String(),
	}, nil
}

// ParseRecipient validates an age public key string. Export calls it
// before streaming anything, so a typoed recipient fails fast instead
// of producing a file nobody can open.
func ParseRecipient(publicKey string) error {
	if _, err := age.ParseX25519Recipient(publicKey); err != nil {
		return fmt.Errorf("invalid age recipient: %w", err)
	}
	return nil
}

// LoadIdentity reads an age identity file and returns the secret key
// in a protected buffer. The file format is the one age-keygen writes:
// blank lines and #-comment lines are skipped, the first
// AGE-SECRET-KEY-1 line wins. The caller must Close the buffer.
func LoadIdentity(path string) (*secret.Buffer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading identity file: %w", err)
	}
	defer secret.Zero(data)

	for _, line := range bytes.Split(data, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		if !bytes.HasPrefix(line, []byte("AGE-SECRET-KEY-1")) {
			continue
		}
		buffer, err := secret.NewFromBytes(line)
		if err != nil {
			return nil, fmt.Errorf("protecting identity: %w", err)
		}
		return buffer, nil
	}
	return nil, fmt.Errorf("no AGE-SECRET-KEY line in %s", path)
}

// Seal wraps dst in an armored age encryption stream addressed to the
// given recipients. At least one recipient is required. The caller
// must Close the returned writer to flush the final ciphertext chunk
// and the armor footer; closing does not close dst.
func Seal(dst io.Writer, recipientKeys []string) (io.WriteCloser, error) {
	if len(recipientKeys) == 0 {
		return nil, fmt.Errorf("at least one recipient is required")
	}

	recipients := make([]age.Recipient, 0, len(recipientKeys))
	for _, key := range recipientKeys {
		recipient, err := age.ParseX25519Recipient(key)
		if err != nil {
			return nil, fmt.Errorf("parsing recipient key %q: %w", key, err)
		}
		recipients = append(recipients, recipient)
	}

	armorWriter := armor.NewWriter(dst)
	encryptWriter, err := age.Encrypt(armorWriter, recipients...)
	if err != nil {
		return nil, fmt.Errorf("creating age encryptor: %w", err)
	}
	return &sealWriter{payload: encryptWriter, armor: armorWriter}, nil
}

// sealWriter closes the age payload stream before the armor stream,
// in that order, exactly once each.
type sealWriter struct {
	payload io.WriteCloser
	armor   io.WriteCloser
}

func (w *sealWriter) Write(p []byte) (int, error) {
	return w.payload.Write(p)
}

func (w *sealWriter) Close() error {
	if err := w.payload.Close(); err != nil {
		return fmt.Errorf("finalizing age encryption: %w", err)
	}
	if err := w.armor.Close(); err != nil {
		return fmt.Errorf("finalizing armor: %w", err)
	}
	return nil
}

// Unseal decrypts an armored age stream with the given identity. The
// identity is borrowed, not closed. Decryption failure with a valid
// key usually means the file was sealed to someone else.
func Unseal(src io.Reader, identity *secret.Buffer) (io.Reader, error) {
	parsed, err := age.ParseX25519Identity(strings.TrimSpace(identity.String()))
	if err != nil {
		return nil, fmt.Errorf("parsing identity: %w", err)
	}

	reader, err := age.Decrypt(armor.NewReader(src), parsed)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}
	return reader, nil
}
