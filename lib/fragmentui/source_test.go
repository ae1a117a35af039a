// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

package fragmentui

import (
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/conflux-foundation/conflux/lib/event"
)

func TestHubSourceDispatch(t *testing.T) {
	source := &HubSource{logger: slog.New(slog.DiscardHandler)}
	channel := source.Subscribe()

	source.dispatch(event.Event{Kind: event.KindFragmentCreated})

	select {
	case ev := <-channel:
		if ev.Kind != event.KindFragmentCreated {
			t.Errorf("expected fragment-created, got %v", ev.Kind)
		}
	default:
		t.Fatal("subscriber should have received the event")
	}
}

func TestHubSourceDispatchDropsWhenFull(t *testing.T) {
	source := &HubSource{logger: slog.New(slog.DiscardHandler)}
	channel := source.Subscribe()

	// Overfill the buffer; dispatch must not block.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for index := 0; index < 100; index++ {
			source.dispatch(event.Event{Kind: event.KindDeliverySucceeded})
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("dispatch blocked on a full subscriber channel")
	}

	if len(channel) != cap(channel) {
		t.Errorf("channel should be full at %d events, got %d", cap(channel), len(channel))
	}
}

func TestHubSourceFanout(t *testing.T) {
	source := &HubSource{logger: slog.New(slog.DiscardHandler)}
	first := source.Subscribe()
	second := source.Subscribe()

	source.dispatch(event.Event{Kind: event.KindPeerUp, Peer: "edge-1"})

	for name, channel := range map[string]<-chan event.Event{"first": first, "second": second} {
		select {
		case ev := <-channel:
			if ev.Peer != "edge-1" {
				t.Errorf("%s subscriber got wrong event: %+v", name, ev)
			}
		default:
			t.Errorf("%s subscriber should have received the event", name)
		}
	}
}

func TestHubSourceCloseBeforeConnect(t *testing.T) {
	// Point at a socket that does not exist; the stream loop should
	// spin in backoff until Close cancels it.
	socketPath := filepath.Join(t.TempDir(), "absent.sock")
	source := NewHubSource(socketPath, slog.New(slog.DiscardHandler))

	if source.Connected() {
		t.Error("source should not report connected without a hub")
	}
	if fragments := source.Fragments(); len(fragments) != 0 {
		t.Errorf("expected no fragments, got %d", len(fragments))
	}

	source.Close()
	source.Close()
}
