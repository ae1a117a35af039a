// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/conflux-foundation/conflux/lib/distribution"
	"github.com/conflux-foundation/conflux/lib/testutil"
)

// TestWebRTCLink_DeliversEnvelope establishes a real WebRTC session
// over loopback ICE, signaled through an in-process MemorySignaler,
// and round-trips envelopes through the data channel.
func TestWebRTCLink_DeliversEnvelope(t *testing.T) {
	signaler := NewMemorySignaler()
	received := make(chan distribution.Envelope, 4)

	// Empty ICE config means host candidates only (loopback).
	listener := NewWebRTCListener("hub-b", signaler, ICEConfig{}, captureIngest(received), testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go listener.Serve(ctx)
	defer listener.Close()

	link := NewWebRTCLink("hub-a", "hub-b", signaler, ICEConfig{}, testLogger())
	defer link.Close()

	deliverCtx, deliverCancel := context.WithTimeout(context.Background(), time.Minute)
	defer deliverCancel()

	env := testEnvelope("over webrtc")
	if err := link.Deliver(deliverCtx, env); err != nil {
		t.Fatalf("Deliver() error: %v", err)
	}
	got := testutil.RequireReceive(t, received, 30*time.Second, "first envelope")
	if got.ID != env.ID || string(got.Payload) != "over webrtc" {
		t.Errorf("received %+v, want %+v", got, env)
	}

	// The second delivery reuses the established session.
	second := testEnvelope("still over webrtc")
	if err := link.Deliver(deliverCtx, second); err != nil {
		t.Fatalf("second Deliver() error: %v", err)
	}
	got = testutil.RequireReceive(t, received, 30*time.Second, "second envelope")
	if got.ID != second.ID {
		t.Errorf("second envelope ID = %s, want %s", got.ID, second.ID)
	}
}

func TestWebRTCLink_DeliverAfterClose(t *testing.T) {
	link := NewWebRTCLink("hub-a", "hub-b", NewMemorySignaler(), ICEConfig{}, testLogger())
	link.Close()

	err := link.Deliver(context.Background(), testEnvelope("late"))
	if !errors.Is(err, net.ErrClosed) {
		t.Fatalf("Deliver() after Close error = %v, want net.ErrClosed", err)
	}
}

func TestWebRTCListener_ServeStopsOnContextCancel(t *testing.T) {
	listener := NewWebRTCListener("hub-b", NewMemorySignaler(), ICEConfig{}, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- listener.Serve(ctx)
	}()

	cancel()
	if err := testutil.RequireReceive(t, done, 5*time.Second, "Serve return"); err != nil {
		t.Fatalf("Serve() error: %v", err)
	}
}
