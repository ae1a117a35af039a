// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"strings"
	"testing"
	"time"

	"github.com/conflux-foundation/conflux/lib/cid"
	"github.com/conflux-foundation/conflux/lib/event"
)

func TestEventDetail(t *testing.T) {
	tests := []struct {
		name     string
		event    event.Event
		expected string
	}{
		{name: "empty", event: event.Event{}, expected: "-"},
		{
			name:     "detail only",
			event:    event.Event{Detail: "app/config"},
			expected: "app/config",
		},
		{
			name:     "attempts only",
			event:    event.Event{Attempts: 3},
			expected: "3 attempts",
		},
		{
			name:     "error only",
			event:    event.Event{Error: "dial timeout"},
			expected: "dial timeout",
		},
		{
			name:     "everything",
			event:    event.Event{Detail: "app/config", Attempts: 3, Error: "dial timeout"},
			expected: "app/config; 3 attempts; dial timeout",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := eventDetail(test.event); got != test.expected {
				t.Errorf("eventDetail = %q, want %q", got, test.expected)
			}
		})
	}
}

func TestEventLine(t *testing.T) {
	stamp := time.Date(2026, 5, 1, 14, 30, 9, 0, time.Local)
	id := cid.SHA256.Derive([]byte("line payload"))

	ev := event.Event{
		Kind:    event.KindFragmentMutated,
		Time:    stamp.UnixNano(),
		ID:      id,
		Version: 4,
		Peer:    "edge-1",
		Detail:  "app/config",
	}

	line := eventLine(ev)
	for _, want := range []string{
		"14:30:09",
		"fragment-mutated",
		id.Short(),
		"v4",
		"peer=edge-1",
		"app/config",
	} {
		if !strings.Contains(line, want) {
			t.Errorf("eventLine = %q, missing %q", line, want)
		}
	}
}

func TestEventLineMinimal(t *testing.T) {
	ev := event.Event{
		Kind: event.KindPeerUp,
		Time: time.Date(2026, 5, 1, 8, 0, 0, 0, time.Local).UnixNano(),
		Peer: "edge-2",
	}

	line := eventLine(ev)
	if !strings.Contains(line, "peer-up") || !strings.Contains(line, "peer=edge-2") {
		t.Errorf("eventLine = %q, want peer-up with peer=edge-2", line)
	}
	if strings.Contains(line, " v0") {
		t.Errorf("eventLine = %q, renders a zero version", line)
	}
}
