// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

// Package peerset parses the distribution peer roster. Rosters are
// authored as JSONC (JSON extended with // line comments, /* block
// comments */, and trailing commas) and decoded strictly: unknown
// fields and duplicate peer names are errors, so a typoed roster
// fails at load instead of silently dropping a peer.
package peerset

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/tidwall/jsonc"
)

// Kind names the transport behind a peer link.
type Kind string

const (
	KindTCP       Kind = "tcp"
	KindWebSocket Kind = "ws"
	KindWebRTC    Kind = "webrtc"
	KindMemory    Kind = "memory"
)

var kinds = map[Kind]bool{
	KindTCP:       true,
	KindWebSocket: true,
	KindWebRTC:    true,
	KindMemory:    true,
}

// Peer is one roster entry.
type Peer struct {
	// Name identifies the peer in events, logs, and stats. Unique
	// within the roster and restricted to the ValidateName charset.
	Name string `json:"name"`

	// Kind selects the transport.
	Kind Kind `json:"kind"`

	// Addr is the dial target: host:port for tcp, a ws:// or wss://
	// URL for ws, a signaling directory for webrtc. Memory links take
	// no address.
	Addr string `json:"addr,omitempty"`

	// Disabled keeps the entry in the roster without building a link
	// for it.
	Disabled bool `json:"disabled,omitempty"`
}

// Set is a parsed roster.
type Set struct {
	Peers []Peer `json:"peers"`
}

// Parse strips JSONC syntax from data and decodes the roster. The
// decode is strict: unknown fields fail, and the result is validated.
func Parse(data []byte) (*Set, error) {
	stripped := jsonc.ToJSON(data)

	decoder := json.NewDecoder(bytes.NewReader(stripped))
	decoder.DisallowUnknownFields()

	var set Set
	if err := decoder.Decode(&set); err != nil {
		return nil, fmt.Errorf("parsing roster: %w", err)
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	return &set, nil
}

// ReadFile reads and parses a roster file.
func ReadFile(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	set, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return set, nil
}

// allowedNameChars is the set of characters permitted in peer names.
// Names appear in log fields, envelope origins, signaling keys, and
// signaling filenames, so the set excludes the key separator, path
// separators, and anything else a filesystem could misread.
var allowedNameChars [256]bool

func init() {
	for c := 'a'; c <= 'z'; c++ {
		allowedNameChars[c] = true
	}
	for c := 'A'; c <= 'Z'; c++ {
		allowedNameChars[c] = true
	}
	for c := '0'; c <= '9'; c++ {
		allowedNameChars[c] = true
	}
	allowedNameChars['.'] = true
	allowedNameChars['_'] = true
	allowedNameChars['-'] = true
}

// MaxNameLength bounds peer and hub names. Names become signaling
// filenames, so they stay short.
const MaxNameLength = 64

// ValidateName checks that a peer or hub name is safe to use in
// signaling keys and filenames.
func ValidateName(name string) error {
	if name == "" {
		return errors.New("name is required")
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("name is %d characters, maximum is %d", len(name), MaxNameLength)
	}
	for i := 0; i < len(name); i++ {
		if !allowedNameChars[name[i]] {
			return fmt.Errorf("invalid character %q in name at position %d (allowed: a-z, A-Z, 0-9, ., _, -)", name[i], i)
		}
	}
	if name[0] == '.' {
		return errors.New("name must not start with '.'")
	}
	return nil
}

// Validate checks every entry and names the offender in each error.
func (s *Set) Validate() error {
	var errs []error
	seen := make(map[string]bool, len(s.Peers))

	for i, peer := range s.Peers {
		if err := ValidateName(peer.Name); err != nil {
			errs = append(errs, fmt.Errorf("peer %d: %w", i, err))
			continue
		}
		if seen[peer.Name] {
			errs = append(errs, fmt.Errorf("peer %q: duplicate name", peer.Name))
		}
		seen[peer.Name] = true

		if !kinds[peer.Kind] {
			errs = append(errs, fmt.Errorf("peer %q: unknown kind %q (tcp, ws, webrtc, memory)", peer.Name, peer.Kind))
			continue
		}
		if peer.Kind != KindMemory && peer.Addr == "" {
			errs = append(errs, fmt.Errorf("peer %q: addr is required for kind %q", peer.Name, peer.Kind))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Enabled returns the entries the daemon should build links for.
func (s *Set) Enabled() []Peer {
	enabled := make([]Peer, 0, len(s.Peers))
	for _, peer := range s.Peers {
		if !peer.Disabled {
			enabled = append(enabled, peer)
		}
	}
	return enabled
}
