// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Compile-time interface check.
var _ Signaler = (*MemorySignaler)(nil)

// MemorySignaler exchanges session descriptions through process
// memory. Two transports sharing one MemorySignaler can establish a
// connection with no signaling infrastructure, which is how the
// WebRTC tests run.
type MemorySignaler struct {
	mu      sync.Mutex
	offers  map[string]SignalMessage // key: "offerer|target"
	answers map[string]SignalMessage // key: "offerer|target"
	seen    map[string]time.Time     // per-consumer poll state
}

// NewMemorySignaler creates an empty in-process signaler.
func NewMemorySignaler() *MemorySignaler {
	return &MemorySignaler{
		offers:  make(map[string]SignalMessage),
		answers: make(map[string]SignalMessage),
		seen:    make(map[string]time.Time),
	}
}

func (s *MemorySignaler) PublishOffer(_ context.Context, offerer, target, sdp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offers[offerer+signalKeySeparator+target] = SignalMessage{
		Peer:      offerer,
		SDP:       sdp,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	return nil
}

func (s *MemorySignaler) PublishAnswer(_ context.Context, offerer, answerer, sdp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers[offerer+signalKeySeparator+answerer] = SignalMessage{
		Peer:      answerer,
		SDP:       sdp,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	return nil
}

func (s *MemorySignaler) PollOffers(_ context.Context, name string) ([]SignalMessage, error) {
	return s.collect("offers", s.offers, name, func(key string) bool {
		return strings.HasSuffix(key, signalKeySeparator+name)
	}), nil
}

func (s *MemorySignaler) PollAnswers(_ context.Context, name string) ([]SignalMessage, error) {
	return s.collect("answers", s.answers, name, func(key string) bool {
		return strings.HasPrefix(key, name+signalKeySeparator)
	}), nil
}

// collect returns matching signals not yet seen by this consumer. The
// seen map is keyed by store, consumer, and signal key, so distinct
// consumers polling the same store do not shadow each other.
func (s *MemorySignaler) collect(store string, signals map[string]SignalMessage, name string, match func(string) bool) []SignalMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []SignalMessage
	for key, msg := range signals {
		if !match(key) {
			continue
		}
		ts, err := time.Parse(time.RFC3339Nano, msg.Timestamp)
		if err != nil {
			continue
		}
		seenKey := store + ":" + name + ":" + key
		if last, ok := s.seen[seenKey]; ok && !ts.After(last) {
			continue
		}
		s.seen[seenKey] = ts
		out = append(out, msg)
	}
	return out
}
