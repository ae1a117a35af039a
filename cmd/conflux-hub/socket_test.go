// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/conflux-foundation/conflux/hub"
	"github.com/conflux-foundation/conflux/lib/cid"
	"github.com/conflux-foundation/conflux/lib/clock"
	"github.com/conflux-foundation/conflux/lib/config"
	"github.com/conflux-foundation/conflux/lib/event"
	"github.com/conflux-foundation/conflux/lib/fragment"
	"github.com/conflux-foundation/conflux/lib/sealed"
	"github.com/conflux-foundation/conflux/lib/service"
	"github.com/conflux-foundation/conflux/lib/version"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// startTestHub boots a local-only hub behind a control socket in a
// temp directory and returns the hub plus a client for it. Everything
// is torn down through t.Cleanup in reverse order: socket first, then
// the history feed, then the hub.
func startTestHub(t *testing.T) (*hub.Hub, *service.Client) {
	t.Helper()

	h, err := hub.New(hub.Options{Logger: testLogger()})
	if err != nil {
		t.Fatalf("hub.New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.Close(ctx); err != nil {
			t.Errorf("closing hub: %v", err)
		}
	})

	history := event.NewHistory(event.DefaultHistorySize)
	historyEvents, cancelHistory := h.Events().Subscribe(historyBuffer)
	go func() {
		for ev := range historyEvents {
			history.Append(ev)
		}
	}()
	t.Cleanup(cancelHistory)

	svc := &HubService{
		hub:       h,
		history:   history,
		cfg:       &config.Config{Name: "hub-test"},
		clock:     clock.Real(),
		startedAt: time.Now(),
		logger:    testLogger(),
	}

	socketPath := filepath.Join(t.TempDir(), "hub.sock")
	server := service.NewSocketServer(socketPath, testLogger())
	svc.registerActions(server)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	var serveErr error
	go func() {
		defer wg.Done()
		serveErr = server.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
		if serveErr != nil {
			t.Errorf("Serve returned error: %v", serveErr)
		}
	})

	for {
		if _, err := os.Stat(socketPath); err == nil {
			break
		}
		if t.Context().Err() != nil {
			t.Fatalf("socket %s did not appear before test context expired", socketPath)
		}
		runtime.Gosched()
	}

	return h, service.NewClient(socketPath)
}

func mustSet(t *testing.T, client *service.Client, identity string, payload []byte) fragment.Fragment {
	t.Helper()
	var frag fragment.Fragment
	err := client.Call(context.Background(), service.ActionSet,
		service.SetArgs{Identity: identity, Payload: payload}, &frag)
	if err != nil {
		t.Fatalf("set %q: %v", identity, err)
	}
	return frag
}

func TestSocket_SetGetResolve(t *testing.T) {
	_, client := startTestHub(t)
	ctx := context.Background()

	created := mustSet(t, client, "app/config", []byte(`{"mode":"dark"}`))
	if created.Version != 1 {
		t.Errorf("created version = %d, want 1", created.Version)
	}
	if !created.ID.Defined() {
		t.Error("created fragment has no ID")
	}

	var byCID fragment.Fragment
	err := client.Call(ctx, service.ActionGet, service.GetArgs{CID: created.ID.String()}, &byCID)
	if err != nil {
		t.Fatalf("get by cid: %v", err)
	}
	if string(byCID.Payload) != `{"mode":"dark"}` {
		t.Errorf("payload = %q", byCID.Payload)
	}

	var byIdentity fragment.Fragment
	err = client.Call(ctx, service.ActionGet, service.GetArgs{Identity: "app/config"}, &byIdentity)
	if err != nil {
		t.Fatalf("get by identity: %v", err)
	}
	if byIdentity.ID != created.ID {
		t.Errorf("get by identity ID = %s, want %s", byIdentity.ID, created.ID)
	}

	var resolved service.ResolveResult
	err = client.Call(ctx, service.ActionResolve, service.ResolveArgs{Identity: "app/config"}, &resolved)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.CID != created.ID {
		t.Errorf("resolved CID = %s, want %s", resolved.CID, created.ID)
	}

	mutated := mustSet(t, client, "app/config", []byte(`{"mode":"light"}`))
	if mutated.ID != created.ID {
		t.Errorf("mutation changed ID: %s != %s", mutated.ID, created.ID)
	}
	if mutated.Version != 2 {
		t.Errorf("mutated version = %d, want 2", mutated.Version)
	}
}

func TestSocket_GetValidation(t *testing.T) {
	_, client := startTestHub(t)
	ctx := context.Background()

	err := client.Call(ctx, service.ActionGet,
		service.GetArgs{CID: "sha256:00", Identity: "both"}, nil)
	var serviceErr *service.ServiceError
	if !errors.As(err, &serviceErr) {
		t.Fatalf("get with both selectors: %v, want *ServiceError", err)
	}
	if !strings.Contains(serviceErr.Message, "mutually exclusive") {
		t.Errorf("message = %q", serviceErr.Message)
	}

	err = client.Call(ctx, service.ActionGet, service.GetArgs{}, nil)
	if !errors.As(err, &serviceErr) {
		t.Fatalf("get with no selector: %v, want *ServiceError", err)
	}
	if !strings.Contains(serviceErr.Message, "required") {
		t.Errorf("message = %q", serviceErr.Message)
	}
}

func TestSocket_NotFoundCrossesSocket(t *testing.T) {
	_, client := startTestHub(t)
	ctx := context.Background()

	err := client.Call(ctx, service.ActionResolve, service.ResolveArgs{Identity: "ghost"}, nil)
	if !errors.Is(err, fragment.ErrNotFound) {
		t.Errorf("resolve unknown identity: %v, want fragment.ErrNotFound", err)
	}

	missing := cid.SHA256.Derive([]byte("never committed"))
	err = client.Call(ctx, service.ActionGet, service.GetArgs{CID: missing.String()}, nil)
	if !errors.Is(err, fragment.ErrNotFound) {
		t.Errorf("get unknown cid: %v, want fragment.ErrNotFound", err)
	}
}

func TestSocket_List(t *testing.T) {
	h, client := startTestHub(t)
	ctx := context.Background()

	small := mustSet(t, client, "doc/small", []byte("ab"))
	large := mustSet(t, client, "doc/large", []byte("abcdefgh"))

	streamed, err := h.OnFirstBlob(ctx, "doc/live", []byte("stream blob"), "conn-1")
	if err != nil {
		t.Fatalf("OnFirstBlob: %v", err)
	}

	var list service.ListResult
	if err := client.Call(ctx, service.ActionList, nil, &list); err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list.Fragments) != 3 {
		t.Fatalf("list returned %d fragments, want 3", len(list.Fragments))
	}

	byID := make(map[cid.ID]service.FragmentSummary, len(list.Fragments))
	for i, summary := range list.Fragments {
		byID[summary.ID] = summary
		if i > 0 && summary.Timestamp < list.Fragments[i-1].Timestamp {
			t.Errorf("list not sorted by timestamp at index %d", i)
		}
	}
	if got := byID[small.ID].Size; got != 2 {
		t.Errorf("small size = %d, want 2", got)
	}
	if got := byID[large.ID].Size; got != 8 {
		t.Errorf("large size = %d, want 8", got)
	}
	if !byID[streamed.ID].Stream {
		t.Error("streamed fragment not flagged as stream")
	}
	if !byID[streamed.ID].Live {
		t.Error("streamed fragment not reported live")
	}
	if byID[small.ID].Live {
		t.Error("plain fragment reported live")
	}
}

func TestSocket_StreamLifecycle(t *testing.T) {
	h, client := startTestHub(t)
	ctx := context.Background()

	frag, err := h.OnFirstBlob(ctx, "sensor/telemetry", []byte("first blob"), "conn-1")
	if err != nil {
		t.Fatalf("OnFirstBlob: %v", err)
	}

	var streams service.StreamsResult
	if err := client.Call(ctx, service.ActionStreams, nil, &streams); err != nil {
		t.Fatalf("streams: %v", err)
	}
	if len(streams.Streams) != 1 {
		t.Fatalf("streams returned %d entries, want 1", len(streams.Streams))
	}
	if streams.Streams[0].ID != frag.ID || !streams.Streams[0].Alive {
		t.Errorf("stream entry = %+v, want live %s", streams.Streams[0], frag.ID)
	}

	target := service.StreamArgs{CID: frag.ID.String()}

	var closed service.StreamResult
	if err := client.Call(ctx, service.ActionStreamClose, target, &closed); err != nil {
		t.Fatalf("stream-close: %v", err)
	}
	if !closed.Changed {
		t.Error("closing a live stream reported no change")
	}
	if err := client.Call(ctx, service.ActionStreamClose, target, &closed); err != nil {
		t.Fatalf("second stream-close: %v", err)
	}
	if closed.Changed {
		t.Error("closing a dead stream reported a change")
	}

	if err := client.Call(ctx, service.ActionStreams, nil, &streams); err != nil {
		t.Fatalf("streams after close: %v", err)
	}
	if streams.Streams[0].Alive {
		t.Error("stream still live after close")
	}

	var woken service.StreamResult
	if err := client.Call(ctx, service.ActionStreamWake, target, &woken); err != nil {
		t.Fatalf("stream-wake: %v", err)
	}
	if !woken.Changed {
		t.Error("waking a dead stream reported no change")
	}
}

func TestSocket_StreamTargetValidation(t *testing.T) {
	_, client := startTestHub(t)

	err := client.Call(context.Background(), service.ActionStreamClose, service.StreamArgs{}, nil)
	var serviceErr *service.ServiceError
	if !errors.As(err, &serviceErr) {
		t.Fatalf("stream-close without cid: %v, want *ServiceError", err)
	}
	if !strings.Contains(serviceErr.Message, "cid is required") {
		t.Errorf("message = %q", serviceErr.Message)
	}
}

// fetchEvents polls the events action until at least n events are
// retained. The history ring is fed from a bus subscription, so
// commits become visible to the events action a moment after the set
// call returns.
func fetchEvents(t *testing.T, client *service.Client, n int) service.EventsResult {
	t.Helper()
	for {
		var result service.EventsResult
		if err := client.Call(context.Background(), service.ActionEvents, service.EventsArgs{}, &result); err != nil {
			t.Fatalf("events: %v", err)
		}
		if len(result.Events) >= n {
			return result
		}
		if t.Context().Err() != nil {
			t.Fatalf("history holds %d events, want %d", len(result.Events), n)
		}
		runtime.Gosched()
	}
}

func TestSocket_EventsHistory(t *testing.T) {
	_, client := startTestHub(t)
	ctx := context.Background()

	first := mustSet(t, client, "log/a", []byte("a1"))
	mustSet(t, client, "log/b", []byte("b1"))
	mustSet(t, client, "log/a", []byte("a2"))

	all := fetchEvents(t, client, 3)
	if all.Next != 3 {
		t.Errorf("next offset = %d, want 3", all.Next)
	}
	if all.Events[0].Kind != event.KindFragmentCreated || all.Events[0].ID != first.ID {
		t.Errorf("first event = %+v, want creation of %s", all.Events[0], first.ID)
	}
	if all.Events[2].Kind != event.KindFragmentMutated || all.Events[2].Version != 2 {
		t.Errorf("third event = %+v, want mutation to version 2", all.Events[2])
	}

	// A bounded read pulls back Next so the remainder can be fetched
	// with From.
	var limited service.EventsResult
	if err := client.Call(ctx, service.ActionEvents, service.EventsArgs{Limit: 2}, &limited); err != nil {
		t.Fatalf("events with limit: %v", err)
	}
	if len(limited.Events) != 2 || limited.Next != 2 {
		t.Fatalf("limited read returned %d events, next %d; want 2, 2", len(limited.Events), limited.Next)
	}

	var rest service.EventsResult
	if err := client.Call(ctx, service.ActionEvents, service.EventsArgs{From: limited.Next}, &rest); err != nil {
		t.Fatalf("events from offset: %v", err)
	}
	if len(rest.Events) != 1 || rest.Events[0].Kind != event.KindFragmentMutated {
		t.Fatalf("resumed read = %+v, want the one mutation", rest.Events)
	}

	var empty service.EventsResult
	if err := client.Call(ctx, service.ActionEvents, service.EventsArgs{From: all.Next}, &empty); err != nil {
		t.Fatalf("events at head: %v", err)
	}
	if len(empty.Events) != 0 {
		t.Errorf("read at head returned %d events, want 0", len(empty.Events))
	}
}

func TestSocket_WatchDeliversCommits(t *testing.T) {
	_, client := startTestHub(t)
	ctx := context.Background()

	stream, err := client.Watch(ctx)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer stream.Close()

	received := make(chan event.Event, watchBuffer)
	go func() {
		defer close(received)
		for {
			ev, err := stream.Next()
			if err != nil {
				return
			}
			received <- ev
		}
	}()

	// Watch returning only means the header arrived; the handler's
	// subscription may still be a beat behind. Commit under fresh
	// identities until one lands on the stream.
	var first event.Event
	deadline := time.Now().Add(10 * time.Second)
	for i := 0; ; i++ {
		if time.Now().After(deadline) {
			t.Fatal("no event arrived on the watch stream")
		}
		mustSet(t, client, fmt.Sprintf("watch/%d", i), []byte("payload"))
		arrived := false
		select {
		case ev, ok := <-received:
			if !ok {
				t.Fatal("watch stream closed unexpectedly")
			}
			first = ev
			arrived = true
		case <-time.After(50 * time.Millisecond):
		}
		if arrived {
			break
		}
	}

	if first.Kind != event.KindFragmentCreated {
		t.Errorf("first watched event kind = %q, want %q", first.Kind, event.KindFragmentCreated)
	}
	if first.Version != 1 {
		t.Errorf("first watched event version = %d, want 1", first.Version)
	}
	if !first.ID.Defined() {
		t.Error("watched event has no fragment ID")
	}
}

func TestSocket_ExportPlain(t *testing.T) {
	_, client := startTestHub(t)
	ctx := context.Background()

	mustSet(t, client, "export/a", []byte("alpha"))
	mustSet(t, client, "export/b", []byte("beta"))

	path := filepath.Join(t.TempDir(), "hub.snapshot")
	var result service.ExportResult
	err := client.Call(ctx, service.ActionExport, service.ExportArgs{Path: path}, &result)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if result.Fragments != 2 || result.Identities != 2 {
		t.Errorf("export result = %+v, want 2 fragments, 2 identities", result)
	}
	if result.Bytes <= 0 {
		t.Errorf("export wrote %d bytes", result.Bytes)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening snapshot: %v", err)
	}
	defer file.Close()
	snap, err := sealed.ReadSnapshot(file, nil)
	if err != nil {
		t.Fatalf("reading snapshot: %v", err)
	}
	if snap.Hub != "hub-test" {
		t.Errorf("snapshot hub = %q, want hub-test", snap.Hub)
	}
	if len(snap.Fragments) != 2 {
		t.Errorf("snapshot holds %d fragments, want 2", len(snap.Fragments))
	}
	if _, ok := snap.Identities["export/a"]; !ok {
		t.Error("snapshot missing identity export/a")
	}
}

func TestSocket_ExportSealed(t *testing.T) {
	_, client := startTestHub(t)
	ctx := context.Background()

	mustSet(t, client, "sealed/doc", []byte("secret payload"))

	keys, err := sealed.GenerateKeypair()
	if err != nil {
		t.Fatalf("generating keypair: %v", err)
	}
	defer keys.Close()

	path := filepath.Join(t.TempDir(), "hub.snapshot.age")
	var result service.ExportResult
	err = client.Call(ctx, service.ActionExport,
		service.ExportArgs{Path: path, Recipient: keys.PublicKey}, &result)
	if err != nil {
		t.Fatalf("sealed export: %v", err)
	}
	if result.Fragments != 1 {
		t.Errorf("export result = %+v, want 1 fragment", result)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening snapshot: %v", err)
	}
	defer file.Close()
	snap, err := sealed.ReadSnapshot(file, keys.PrivateKey)
	if err != nil {
		t.Fatalf("unsealing snapshot: %v", err)
	}
	if len(snap.Fragments) != 1 || string(snap.Fragments[0].Payload) != "secret payload" {
		t.Errorf("unsealed snapshot = %+v", snap.Fragments)
	}
}

func TestSocket_ExportValidation(t *testing.T) {
	_, client := startTestHub(t)
	ctx := context.Background()

	err := client.Call(ctx, service.ActionExport, service.ExportArgs{}, nil)
	var serviceErr *service.ServiceError
	if !errors.As(err, &serviceErr) {
		t.Fatalf("export without path: %v, want *ServiceError", err)
	}
	if !strings.Contains(serviceErr.Message, "path is required") {
		t.Errorf("message = %q", serviceErr.Message)
	}

	err = client.Call(ctx, service.ActionExport,
		service.ExportArgs{Path: filepath.Join(t.TempDir(), "x"), Recipient: "not-a-key"}, nil)
	if err == nil {
		t.Error("export with a bad recipient succeeded")
	}
}

func TestSocket_PingVersionStats(t *testing.T) {
	_, client := startTestHub(t)
	ctx := context.Background()

	var ping service.PingResult
	if err := client.Call(ctx, service.ActionPing, nil, &ping); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if ping.Name != "hub-test" {
		t.Errorf("ping name = %q, want hub-test", ping.Name)
	}
	if ping.UptimeSeconds < 0 {
		t.Errorf("uptime = %f", ping.UptimeSeconds)
	}

	var ver service.VersionResult
	if err := client.Call(ctx, service.ActionVersion, nil, &ver); err != nil {
		t.Fatalf("version: %v", err)
	}
	if ver.Version != version.Version {
		t.Errorf("version = %q, want %q", ver.Version, version.Version)
	}

	mustSet(t, client, "stats/doc", []byte("x"))

	var stats hub.Stats
	if err := client.Call(ctx, service.ActionStats, nil, &stats); err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Fragments != 1 || stats.Identities != 1 {
		t.Errorf("stats = %+v, want 1 fragment, 1 identity", stats)
	}
}

func TestSocket_PeersWithoutRoster(t *testing.T) {
	_, client := startTestHub(t)

	var peers service.PeersResult
	if err := client.Call(context.Background(), service.ActionPeers, nil, &peers); err != nil {
		t.Fatalf("peers: %v", err)
	}
	if len(peers.Peers) != 0 {
		t.Errorf("peers on a local-only hub = %+v, want none", peers.Peers)
	}
}
