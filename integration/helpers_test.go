// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

// Package integration_test exercises whole-system paths that the
// per-package tests cannot see: hubs linked to each other through the
// distribution pipeline and real transport framing, journals carried
// across hub restarts, and convergence with writers on both ends.
//
// Everything runs in-process. Peer links either go through
// transport.NewMemoryLink, which round-trips every envelope through
// the wire codec, or through real TCP and WebSocket listeners on
// loopback.
package integration_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/conflux-foundation/conflux/hub"
	"github.com/conflux-foundation/conflux/lib/cid"
	"github.com/conflux-foundation/conflux/lib/codec"
	"github.com/conflux-foundation/conflux/lib/distribution"
	"github.com/conflux-foundation/conflux/lib/event"
	"github.com/conflux-foundation/conflux/lib/fragment"
	"github.com/conflux-foundation/conflux/lib/journal"
	"github.com/conflux-foundation/conflux/lib/testutil"
	"github.com/conflux-foundation/conflux/transport"
)

const convergeTimeout = 5 * time.Second

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testNode is one hub with its own pipeline, journal, and event bus,
// standing in for a daemon process.
type testNode struct {
	name        string
	hub         *hub.Hub
	events      <-chan event.Event
	journalPath string
	logger      *slog.Logger
	closed      bool
}

// nodeOptions tunes the pieces a scenario cares about. The zero value
// is a plain hub with an uncompressed pipeline and a fresh journal.
type nodeOptions struct {
	// compression turns on payload compression for envelopes the
	// node ships, at the given threshold.
	compression       codec.CompressionTag
	compressThreshold int
}

// startNode builds a hub with a running pipeline and a journal in a
// fresh temp directory, and closes it when the test ends.
func startNode(t *testing.T, name string) *testNode {
	t.Helper()
	return startNodeAt(t, name, filepath.Join(t.TempDir(), name+".journal"), nodeOptions{})
}

// startNodeAt is startNode with an explicit journal path and options.
// Restart scenarios call it with the path of a closed node to replay
// that node's journal.
func startNodeAt(t *testing.T, name, journalPath string, opts nodeOptions) *testNode {
	t.Helper()

	logger := discardLogger()
	jnl, err := journal.Open(journal.Options{Path: journalPath, Logger: logger})
	if err != nil {
		t.Fatalf("opening journal for %s: %v", name, err)
	}

	bus := event.NewBus()
	events, cancel := bus.Subscribe(256)
	t.Cleanup(cancel)

	pipeline := distribution.New(distribution.Options{
		Origin:            name,
		Compression:       opts.compression,
		CompressThreshold: opts.compressThreshold,
		Logger:            logger,
		Events:            bus,
	})

	h, err := hub.New(hub.Options{
		Logger:   logger,
		Events:   bus,
		Pipeline: pipeline,
		Journal:  jnl,
	})
	if err != nil {
		t.Fatalf("starting hub %s: %v", name, err)
	}

	node := &testNode{
		name:        name,
		hub:         h,
		events:      events,
		journalPath: journalPath,
		logger:      logger,
	}
	t.Cleanup(func() { node.close(t) })
	return node
}

// restartNode closes the node's hub and starts a fresh one on the
// same journal file. Peer links do not survive the restart; a daemon
// would rebuild them from its roster.
func restartNode(t *testing.T, node *testNode) *testNode {
	t.Helper()
	node.close(t)
	return startNodeAt(t, node.name, node.journalPath, nodeOptions{})
}

func (n *testNode) close(t *testing.T) {
	t.Helper()
	if n.closed {
		return
	}
	n.closed = true
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := n.hub.Close(ctx); err != nil {
		t.Errorf("closing hub %s: %v", n.name, err)
	}
}

// ingest feeds a received envelope into the node's hub, the same
// adapter the daemon hangs off its listeners.
func (n *testNode) ingest(ctx context.Context, env distribution.Envelope) error {
	_, _, err := n.hub.IngestRemote(ctx, env)
	return err
}

// connect adds a one-way link carrying from's commits into to's hub.
// Memory links still run every envelope through the wire codec, so
// the full distribution path is exercised minus the socket.
func connect(t *testing.T, from, to *testNode) {
	t.Helper()
	link := transport.NewMemoryLink(to.name, to.ingest)
	if err := from.hub.Pipeline().AddPeer(link); err != nil {
		t.Fatalf("linking %s -> %s: %v", from.name, to.name, err)
	}
}

// mustSet commits a payload and fails the test on error.
func mustSet(t *testing.T, node *testNode, identity string, payload []byte) fragment.Fragment {
	t.Helper()
	frag, err := node.hub.SetData(context.Background(), identity, payload)
	if err != nil {
		t.Fatalf("SetData(%q) on %s: %v", identity, node.name, err)
	}
	return frag
}

// waitForFragment polls until the node holds id at or above version.
func waitForFragment(t *testing.T, node *testNode, id cid.ID, version uint64) fragment.Fragment {
	t.Helper()
	deadline := time.Now().Add(convergeTimeout)
	for {
		frag, err := node.hub.Get(context.Background(), id)
		if err == nil && frag.Version >= version {
			return frag
		}
		if time.Now().After(deadline) {
			if err != nil {
				t.Fatalf("%s never received fragment %s: %v", node.name, id.Short(), err)
			}
			t.Fatalf("%s stuck at version %d of %s, want %d", node.name, frag.Version, id.Short(), version)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// waitForFragmentCount polls until the node holds exactly count
// fragments.
func waitForFragmentCount(t *testing.T, node *testNode, count int) {
	t.Helper()
	deadline := time.Now().Add(convergeTimeout)
	for {
		got := node.hub.Stats().Fragments
		if got == count {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("%s holds %d fragments, want %d", node.name, got, count)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// nextAdoption reads the node's event stream until a fragment event
// attributed to a peer arrives, skipping local commits and delivery
// traffic.
func nextAdoption(t *testing.T, node *testNode) event.Event {
	t.Helper()
	for {
		ev := testutil.RequireReceive(t, node.events, convergeTimeout,
			"waiting for an adoption event on %s", node.name)
		if ev.Peer == "" {
			continue
		}
		if ev.Kind == event.KindFragmentCreated || ev.Kind == event.KindFragmentMutated {
			return ev
		}
	}
}

// fragmentIDs returns the node's fragment IDs in canonical text form,
// sorted, for cross-node comparison.
func fragmentIDs(node *testNode) []string {
	fragments := node.hub.List()
	ids := make([]string, 0, len(fragments))
	for _, frag := range fragments {
		ids = append(ids, frag.ID.String())
	}
	slices.Sort(ids)
	return ids
}

// uniquePayload returns a small JSON payload distinct per (prefix, i).
func uniquePayload(prefix string, i int) []byte {
	return fmt.Appendf(nil, `{"source":%q,"slot":%d}`, prefix, i)
}
