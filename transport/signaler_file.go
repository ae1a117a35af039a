// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Compile-time interface check.
var _ Signaler = (*FileSignaler)(nil)

// FileSignaler exchanges session descriptions through a shared
// directory. Hubs that can reach a common filesystem (same machine,
// NFS, a synced folder) rendezvous there without any signaling
// server.
//
// Layout: offers/<offerer>|<target>.json and
// answers/<offerer>|<answerer>.json, each holding the SDP and its
// creation timestamp. Signals are written to a temporary file and
// renamed into place, so pollers never observe a partial write.
type FileSignaler struct {
	dir string

	mu   sync.Mutex
	seen map[string]time.Time
}

// fileSignal is the on-disk form of one signal.
type fileSignal struct {
	SDP       string `json:"sdp"`
	Timestamp string `json:"timestamp"`
}

// NewFileSignaler creates the offers/ and answers/ subdirectories
// under dir if needed.
func NewFileSignaler(dir string) (*FileSignaler, error) {
	for _, sub := range []string{"offers", "answers"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o700); err != nil {
			return nil, fmt.Errorf("creating signal directory: %w", err)
		}
	}
	return &FileSignaler{
		dir:  dir,
		seen: make(map[string]time.Time),
	}, nil
}

func (s *FileSignaler) PublishOffer(_ context.Context, offerer, target, sdp string) error {
	return s.publish("offers", offerer+signalKeySeparator+target, sdp)
}

func (s *FileSignaler) PublishAnswer(_ context.Context, offerer, answerer, sdp string) error {
	return s.publish("answers", offerer+signalKeySeparator+answerer, sdp)
}

func (s *FileSignaler) publish(store, key, sdp string) error {
	data, err := json.Marshal(fileSignal{
		SDP:       sdp,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("encoding signal: %w", err)
	}

	path := filepath.Join(s.dir, store, key+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing signal: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("publishing signal: %w", err)
	}
	return nil
}

func (s *FileSignaler) PollOffers(_ context.Context, name string) ([]SignalMessage, error) {
	// An offer key is "offerer|target"; we want offers targeting us,
	// and the peer is the offerer.
	return s.poll("offers", name, func(offerer, target string) (string, bool) {
		return offerer, target == name
	})
}

func (s *FileSignaler) PollAnswers(_ context.Context, name string) ([]SignalMessage, error) {
	// An answer key is "offerer|answerer"; we want answers to our own
	// offers, and the peer is the answerer.
	return s.poll("answers", name, func(offerer, answerer string) (string, bool) {
		return answerer, offerer == name
	})
}

// poll scans one store directory. Files that are not well-formed
// signals are skipped: polling runs on a ticker, so a transiently
// unreadable file is retried on the next pass anyway.
func (s *FileSignaler) poll(store, name string, match func(offerer, target string) (peer string, ok bool)) ([]SignalMessage, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, store))
	if err != nil {
		return nil, fmt.Errorf("reading signal directory: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []SignalMessage
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		key, found := strings.CutSuffix(entry.Name(), ".json")
		if !found {
			continue
		}
		offerer, target, found := strings.Cut(key, signalKeySeparator)
		if !found {
			continue
		}
		peer, ok := match(offerer, target)
		if !ok {
			continue
		}

		data, err := os.ReadFile(filepath.Join(s.dir, store, entry.Name()))
		if err != nil {
			continue
		}
		var signal fileSignal
		if err := json.Unmarshal(data, &signal); err != nil {
			continue
		}
		ts, err := time.Parse(time.RFC3339Nano, signal.Timestamp)
		if err != nil || signal.SDP == "" {
			continue
		}

		seenKey := store + ":" + name + ":" + key
		if last, ok := s.seen[seenKey]; ok && !ts.After(last) {
			continue
		}
		s.seen[seenKey] = ts

		out = append(out, SignalMessage{
			Peer:      peer,
			SDP:       signal.SDP,
			Timestamp: signal.Timestamp,
		})
	}
	return out, nil
}
