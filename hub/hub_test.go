// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

package hub

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/conflux-foundation/conflux/hub/stream"
	"github.com/conflux-foundation/conflux/lib/cache"
	"github.com/conflux-foundation/conflux/lib/cid"
	"github.com/conflux-foundation/conflux/lib/clock"
	"github.com/conflux-foundation/conflux/lib/codec"
	"github.com/conflux-foundation/conflux/lib/distribution"
	"github.com/conflux-foundation/conflux/lib/event"
	"github.com/conflux-foundation/conflux/lib/fragment"
	"github.com/conflux-foundation/conflux/lib/journal"
	"github.com/conflux-foundation/conflux/lib/testutil"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type hubFixture struct {
	hub    *Hub
	clock  *clock.FakeClock
	cache  *cache.Cache
	events <-chan event.Event
}

// newTestHub fills opts with test defaults (fake clock, discard
// logger, small cache, fresh bus) and subscribes to events before the
// hub can publish anything.
func newTestHub(t *testing.T, opts Options) *hubFixture {
	t.Helper()
	fix := &hubFixture{}
	if opts.Clock == nil {
		fix.clock = clock.Fake(time.Unix(1000, 0))
		opts.Clock = fix.clock
	}
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}
	if opts.Cache == nil {
		c, err := cache.New(32)
		if err != nil {
			t.Fatalf("cache.New: %v", err)
		}
		opts.Cache = c
	}
	fix.cache = opts.Cache
	if opts.Events == nil {
		opts.Events = event.NewBus()
	}
	events, cancel := opts.Events.Subscribe(64)
	t.Cleanup(cancel)
	fix.events = events

	h, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	fix.hub = h
	t.Cleanup(func() { h.Close(context.Background()) })
	return fix
}

func (f *hubFixture) nextEvent(t *testing.T) event.Event {
	t.Helper()
	return testutil.RequireReceive(t, f.events, 5*time.Second, "waiting for hub event")
}

func TestSetDataCreatesAtVersionOne(t *testing.T) {
	fix := newTestHub(t, Options{})
	ctx := context.Background()

	payload := []byte("first payload")
	snap, err := fix.hub.SetData(ctx, "sensor/alpha", payload)
	if err != nil {
		t.Fatalf("SetData: %v", err)
	}
	if snap.Version != 1 {
		t.Fatalf("Version = %d, want 1", snap.Version)
	}
	if snap.ID != cid.SHA256.Derive(payload) {
		t.Fatalf("ID not derived from the first payload: %s", snap.ID)
	}
	if snap.Stream {
		t.Fatal("plain create marked as streaming")
	}

	id, ok := fix.hub.Resolve("sensor/alpha")
	if !ok || id != snap.ID {
		t.Fatalf("Resolve = %s, %t", id, ok)
	}

	ev := fix.nextEvent(t)
	if ev.Kind != event.KindFragmentCreated || ev.ID != snap.ID || ev.Version != 1 {
		t.Fatalf("event = %+v", ev)
	}
}

func TestSetDataMutatesBoundIdentity(t *testing.T) {
	fix := newTestHub(t, Options{})
	ctx := context.Background()

	first, err := fix.hub.SetData(ctx, "doc", []byte("v1"))
	if err != nil {
		t.Fatalf("SetData: %v", err)
	}
	second, err := fix.hub.SetData(ctx, "doc", []byte("v2"))
	if err != nil {
		t.Fatalf("SetData mutation: %v", err)
	}

	if second.ID != first.ID {
		t.Fatal("mutation changed the content ID")
	}
	if second.Version != 2 || string(second.Payload) != "v2" {
		t.Fatalf("mutation snapshot = %+v", second)
	}

	fix.nextEvent(t) // created
	ev := fix.nextEvent(t)
	if ev.Kind != event.KindFragmentMutated || ev.Version != 2 {
		t.Fatalf("event = %+v", ev)
	}
}

func TestSetDataRejectsBadInput(t *testing.T) {
	fix := newTestHub(t, Options{})
	ctx := context.Background()

	if _, err := fix.hub.SetData(ctx, "x", nil); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("nil payload: %v", err)
	}
	if _, err := fix.hub.SetData(ctx, "", []byte("p")); !errors.Is(err, ErrEmptyIdentity) {
		t.Fatalf("empty identity: %v", err)
	}
	// Empty non-nil payloads are real content.
	snap, err := fix.hub.SetData(ctx, "empty", []byte{})
	if err != nil {
		t.Fatalf("empty payload: %v", err)
	}
	if snap.Version != 1 {
		t.Fatalf("Version = %d", snap.Version)
	}
}

func TestSetDataWithCanceledContext(t *testing.T) {
	fix := newTestHub(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := fix.hub.SetData(ctx, "doc", []byte("p")); !errors.Is(err, context.Canceled) {
		t.Fatalf("SetData = %v, want context.Canceled", err)
	}
	if fix.hub.Stats().Fragments != 0 {
		t.Fatal("canceled SetData committed state")
	}
}

func TestSamePayloadUnderTwoIdentitiesConverges(t *testing.T) {
	fix := newTestHub(t, Options{})
	ctx := context.Background()

	payload := []byte("shared content")
	first, err := fix.hub.SetData(ctx, "name/a", payload)
	if err != nil {
		t.Fatalf("SetData: %v", err)
	}
	fix.nextEvent(t)

	second, err := fix.hub.SetData(ctx, "name/b", payload)
	if err != nil {
		t.Fatalf("idempotent SetData: %v", err)
	}
	if second.ID != first.ID || second.Version != 1 {
		t.Fatalf("idempotent create = %+v, want version 1 of %s", second, first.ID)
	}

	stats := fix.hub.Stats()
	if stats.Fragments != 1 || stats.Identities != 2 {
		t.Fatalf("stats = %+v, want 1 fragment with 2 identities", stats)
	}
	// The second bind is not a commit: no event.
	testutil.RequireNoReceive(t, fix.events, 50*time.Millisecond)
}

func TestConcurrentWritesOneIdentity(t *testing.T) {
	fix := newTestHub(t, Options{})
	ctx := context.Background()

	const writers = 8
	var wg sync.WaitGroup
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			payload := fmt.Appendf(nil, "write-%d", i)
			if _, err := fix.hub.SetData(ctx, "contended", payload); err != nil {
				t.Errorf("SetData: %v", err)
			}
		}()
	}
	wg.Wait()

	snap, err := fix.hub.GetByIdentity(ctx, "contended")
	if err != nil {
		t.Fatalf("GetByIdentity: %v", err)
	}
	if snap.Version != writers {
		t.Fatalf("final version = %d, want %d (one bump per accepted write)", snap.Version, writers)
	}
	if fix.hub.Stats().Fragments != 1 {
		t.Fatalf("fragments = %d, want 1", fix.hub.Stats().Fragments)
	}
}

func TestConcurrentFirstWritesSamePayload(t *testing.T) {
	fix := newTestHub(t, Options{})
	ctx := context.Background()

	payload := []byte("identical first write")
	const writers = 8
	var wg sync.WaitGroup
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			identity := fmt.Sprintf("replica/%d", i)
			if _, err := fix.hub.SetData(ctx, identity, payload); err != nil {
				t.Errorf("SetData(%s): %v", identity, err)
			}
		}()
	}
	wg.Wait()

	stats := fix.hub.Stats()
	if stats.Fragments != 1 || stats.Identities != writers {
		t.Fatalf("stats = %+v, want 1 fragment with %d identities", stats, writers)
	}
	snap, err := fix.hub.GetByIdentity(ctx, "replica/0")
	if err != nil {
		t.Fatalf("GetByIdentity: %v", err)
	}
	if snap.Version != 1 {
		t.Fatalf("version = %d, want 1 (identical first writes converge without bumps)", snap.Version)
	}
}

func TestTimestampsNeverRegress(t *testing.T) {
	fix := newTestHub(t, Options{})
	ctx := context.Background()

	first, err := fix.hub.SetData(ctx, "ts", []byte("a"))
	if err != nil {
		t.Fatalf("SetData: %v", err)
	}
	// The frozen clock would hand every mutation the same reading;
	// commits must still move the timestamp forward.
	second, _ := fix.hub.SetData(ctx, "ts", []byte("b"))
	third, _ := fix.hub.SetData(ctx, "ts", []byte("c"))

	if !(first.Timestamp < second.Timestamp && second.Timestamp < third.Timestamp) {
		t.Fatalf("timestamps not strictly increasing: %d, %d, %d",
			first.Timestamp, second.Timestamp, third.Timestamp)
	}
}

func TestCacheSeesEveryCommit(t *testing.T) {
	fix := newTestHub(t, Options{})
	ctx := context.Background()

	snap, err := fix.hub.SetData(ctx, "cached", []byte("v1"))
	if err != nil {
		t.Fatalf("SetData: %v", err)
	}
	cached, ok := fix.cache.Get(snap.ID)
	if !ok || cached.Version != 1 {
		t.Fatalf("cache after create = %+v, %t", cached, ok)
	}

	snap, err = fix.hub.SetData(ctx, "cached", []byte("v2"))
	if err != nil {
		t.Fatalf("SetData: %v", err)
	}
	cached, ok = fix.cache.Get(snap.ID)
	if !ok || cached.Version != 2 || string(cached.Payload) != "v2" {
		t.Fatalf("cache after mutation = %+v, %t", cached, ok)
	}
}

func TestGetFillsCacheOnMiss(t *testing.T) {
	fix := newTestHub(t, Options{})
	ctx := context.Background()

	snap, err := fix.hub.SetData(ctx, "refill", []byte("payload"))
	if err != nil {
		t.Fatalf("SetData: %v", err)
	}
	fix.cache.Remove(snap.ID)

	got, err := fix.hub.Get(ctx, snap.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Version != snap.Version {
		t.Fatalf("Get = %+v", got)
	}
	if _, ok := fix.cache.Get(snap.ID); !ok {
		t.Fatal("store hit did not fill the cache")
	}
}

func TestGetUnknownID(t *testing.T) {
	fix := newTestHub(t, Options{})
	ctx := context.Background()

	if _, err := fix.hub.Get(ctx, cid.SHA256.Derive([]byte("nothing"))); !errors.Is(err, fragment.ErrNotFound) {
		t.Fatalf("Get = %v, want ErrNotFound", err)
	}
	if _, err := fix.hub.GetByIdentity(ctx, "unbound"); !errors.Is(err, fragment.ErrNotFound) {
		t.Fatalf("GetByIdentity = %v, want ErrNotFound", err)
	}
}

func TestOnFirstBlobCreatesStreamingFragment(t *testing.T) {
	fix := newTestHub(t, Options{})
	ctx := context.Background()

	blob := []byte("stream head")
	handle := &struct{ conn string }{conn: "ws-1"}
	snap, err := fix.hub.OnFirstBlob(ctx, "feed/live", blob, handle)
	if err != nil {
		t.Fatalf("OnFirstBlob: %v", err)
	}
	if snap.Version != 1 || !snap.Stream {
		t.Fatalf("snapshot = %+v, want streaming v1", snap)
	}
	if snap.ID != cid.SHA256.Derive(blob) {
		t.Fatal("ID not derived from the first blob")
	}

	got, err := fix.hub.Oracle().Stream(snap.ID)
	if err != nil {
		t.Fatalf("Oracle.Stream: %v", err)
	}
	if got != stream.Handle(handle) {
		t.Fatalf("Oracle.Stream = %v, want the registered handle", got)
	}

	ev := fix.nextEvent(t)
	if ev.Kind != event.KindFragmentCreated {
		t.Fatalf("first event = %+v, want fragment-created", ev)
	}
	ev = fix.nextEvent(t)
	if ev.Kind != event.KindStreamRegistered || ev.ID != snap.ID {
		t.Fatalf("second event = %+v, want stream-registered", ev)
	}
}

func TestOnFirstBlobMarksExistingFragment(t *testing.T) {
	fix := newTestHub(t, Options{})
	ctx := context.Background()

	created, err := fix.hub.SetData(ctx, "doc", []byte("stored payload"))
	if err != nil {
		t.Fatalf("SetData: %v", err)
	}
	fix.nextEvent(t)

	snap, err := fix.hub.OnFirstBlob(ctx, "doc", []byte("ignored blob"), "handle")
	if err != nil {
		t.Fatalf("OnFirstBlob: %v", err)
	}
	if snap.ID != created.ID {
		t.Fatal("OnFirstBlob rebound the identity")
	}
	if snap.Version != 2 || !snap.Stream {
		t.Fatalf("snapshot = %+v, want streaming v2", snap)
	}
	// Marking is a flag flip, not a payload write.
	if !bytes.Equal(snap.Payload, created.Payload) {
		t.Fatalf("payload changed: %q", snap.Payload)
	}

	ev := fix.nextEvent(t)
	if ev.Kind != event.KindStreamRegistered {
		t.Fatalf("first event = %+v, want stream-registered", ev)
	}
	ev = fix.nextEvent(t)
	if ev.Kind != event.KindFragmentMutated || ev.Version != 2 {
		t.Fatalf("second event = %+v, want fragment-mutated v2", ev)
	}
}

func TestSecondStreamLoses(t *testing.T) {
	fix := newTestHub(t, Options{})
	ctx := context.Background()

	blob := []byte("contested stream")
	winner, err := fix.hub.OnFirstBlob(ctx, "feed", blob, "winner")
	if err != nil {
		t.Fatalf("OnFirstBlob: %v", err)
	}

	_, err = fix.hub.OnFirstBlob(ctx, "feed", []byte("other blob"), "loser")
	if !errors.Is(err, stream.ErrAlreadyStreaming) {
		t.Fatalf("second OnFirstBlob = %v, want ErrAlreadyStreaming", err)
	}

	snap, err := fix.hub.Get(ctx, winner.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if snap.Version != winner.Version {
		t.Fatalf("losing registration changed fragment state: %+v", snap)
	}
	got, err := fix.hub.Oracle().Stream(winner.ID)
	if err != nil || got != stream.Handle("winner") {
		t.Fatalf("Oracle.Stream = %v, %v, want the winner's handle", got, err)
	}
}

func TestOracleStreamErrors(t *testing.T) {
	fix := newTestHub(t, Options{})
	ctx := context.Background()
	oracle := fix.hub.Oracle()

	if _, err := oracle.Stream(cid.SHA256.Derive([]byte("absent"))); !errors.Is(err, fragment.ErrNotFound) {
		t.Fatalf("unknown ID: %v, want ErrNotFound", err)
	}

	plain, err := fix.hub.SetData(ctx, "plain", []byte("no stream here"))
	if err != nil {
		t.Fatalf("SetData: %v", err)
	}
	if _, err := oracle.Stream(plain.ID); !errors.Is(err, ErrNoStream) {
		t.Fatalf("streamless fragment: %v, want ErrNoStream", err)
	}

	live, err := fix.hub.OnFirstBlob(ctx, "feed", []byte("blob"), "h")
	if err != nil {
		t.Fatalf("OnFirstBlob: %v", err)
	}
	if _, err := oracle.Stream(live.ID); err != nil {
		t.Fatalf("live stream: %v", err)
	}

	// Killing the stream flips liveness but never the fragment flag.
	if !fix.hub.Registry().Kill(live.ID) {
		t.Fatal("Kill did not transition")
	}
	if _, err := oracle.Stream(live.ID); !errors.Is(err, ErrNoStream) {
		t.Fatalf("killed stream: %v, want ErrNoStream", err)
	}
	snap, err := oracle.Fragment(live.ID)
	if err != nil || !snap.Stream {
		t.Fatalf("fragment after Kill = %+v, %v; want Stream still set", snap, err)
	}

	fix.hub.Registry().Wake(live.ID)
	if _, err := oracle.Stream(live.ID); err != nil {
		t.Fatalf("woken stream: %v", err)
	}
}

func TestIngestRemoteAdoptsStrictlyNewer(t *testing.T) {
	fix := newTestHub(t, Options{})
	ctx := context.Background()

	id := cid.SHA256.Derive([]byte("remote content"))
	env := distribution.Envelope{
		ID:        id,
		Version:   3,
		Timestamp: time.Unix(900, 0).UnixNano(),
		Payload:   []byte("remote v3"),
		Origin:    "peer-east",
	}

	snap, adopted, err := fix.hub.IngestRemote(ctx, env)
	if err != nil || !adopted {
		t.Fatalf("IngestRemote = %+v, %t, %v", snap, adopted, err)
	}
	if snap.Version != 3 {
		t.Fatalf("adopted version = %d", snap.Version)
	}
	ev := fix.nextEvent(t)
	if ev.Kind != event.KindFragmentCreated || ev.Peer != "peer-east" {
		t.Fatalf("event = %+v, want fragment-created from peer-east", ev)
	}

	// Same version again: ignored, no event.
	if _, adopted, err = fix.hub.IngestRemote(ctx, env); err != nil || adopted {
		t.Fatalf("re-ingest = %t, %v, want ignored", adopted, err)
	}
	// Older version: ignored.
	env.Version = 2
	if _, adopted, _ = fix.hub.IngestRemote(ctx, env); adopted {
		t.Fatal("older version adopted")
	}
	testutil.RequireNoReceive(t, fix.events, 50*time.Millisecond)

	// Strictly newer: adopted as a mutation.
	env.Version = 4
	env.Payload = []byte("remote v4")
	snap, adopted, err = fix.hub.IngestRemote(ctx, env)
	if err != nil || !adopted || snap.Version != 4 {
		t.Fatalf("newer ingest = %+v, %t, %v", snap, adopted, err)
	}
	ev = fix.nextEvent(t)
	if ev.Kind != event.KindFragmentMutated {
		t.Fatalf("event = %+v, want fragment-mutated", ev)
	}
}

func TestIngestRemoteDecompressesPayload(t *testing.T) {
	fix := newTestHub(t, Options{})
	ctx := context.Background()

	raw := bytes.Repeat([]byte("compressible remote payload "), 64)
	compressed, err := codec.Compress(raw, codec.CompressionZstd)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	env := distribution.Envelope{
		ID:          cid.SHA256.Derive(raw),
		Version:     1,
		Payload:     compressed,
		Origin:      "peer-west",
		Compression: codec.CompressionZstd,
		RawSize:     len(raw),
	}

	snap, adopted, err := fix.hub.IngestRemote(ctx, env)
	if err != nil || !adopted {
		t.Fatalf("IngestRemote: %t, %v", adopted, err)
	}
	if !bytes.Equal(snap.Payload, raw) {
		t.Fatal("payload not decompressed on ingest")
	}
}

func TestIngestRemoteRejectsCorruptEnvelope(t *testing.T) {
	fix := newTestHub(t, Options{})
	ctx := context.Background()

	env := distribution.Envelope{
		ID:          cid.SHA256.Derive([]byte("x")),
		Version:     1,
		Payload:     []byte("not actually zstd"),
		Compression: codec.CompressionZstd,
		RawSize:     4,
	}
	if _, _, err := fix.hub.IngestRemote(ctx, env); err == nil {
		t.Fatal("corrupt envelope ingested")
	}
	if fix.hub.Stats().Fragments != 0 {
		t.Fatal("corrupt envelope left state behind")
	}
}

type captureLink struct {
	name string
	got  chan distribution.Envelope
}

func (l *captureLink) Name() string { return l.name }

func (l *captureLink) Deliver(_ context.Context, env distribution.Envelope) error {
	l.got <- env
	return nil
}

func (l *captureLink) Close() error { return nil }

func newCapturePipeline(t *testing.T) (*distribution.Pipeline, *captureLink) {
	t.Helper()
	link := &captureLink{name: "peer-a", got: make(chan distribution.Envelope, 16)}
	pipe := distribution.New(distribution.Options{
		Origin: "test-hub",
		Logger: discardLogger(),
	})
	if err := pipe.AddPeer(link); err != nil {
		t.Fatalf("AddPeer: %v", err)
	}
	return pipe, link
}

func TestCommitsReachPeers(t *testing.T) {
	pipe, link := newCapturePipeline(t)
	fix := newTestHub(t, Options{Pipeline: pipe})

	ctx, cancel := context.WithCancel(context.Background())
	snap, err := fix.hub.SetData(ctx, "shipped", []byte("outbound"))
	if err != nil {
		t.Fatalf("SetData: %v", err)
	}
	// Cancellation after the commit must not claw back distribution.
	cancel()

	env := testutil.RequireReceive(t, link.got, 5*time.Second, "waiting for delivery")
	if env.ID != snap.ID || env.Version != 1 || env.Origin != "test-hub" {
		t.Fatalf("delivered envelope = %+v", env)
	}
}

func TestIngestRemoteDoesNotRepublish(t *testing.T) {
	pipe, link := newCapturePipeline(t)
	fix := newTestHub(t, Options{Pipeline: pipe})
	ctx := context.Background()

	env := distribution.Envelope{
		ID:      cid.SHA256.Derive([]byte("gossip bait")),
		Version: 2,
		Payload: []byte("gossip bait"),
		Origin:  "peer-b",
	}
	if _, adopted, err := fix.hub.IngestRemote(ctx, env); err != nil || !adopted {
		t.Fatalf("IngestRemote: %t, %v", adopted, err)
	}
	testutil.RequireNoReceive(t, link.got, 100*time.Millisecond, "adopted snapshot must not be re-distributed")
}

func openTestJournal(t *testing.T, path string) *journal.Journal {
	t.Helper()
	j, err := journal.Open(journal.Options{Path: path, Logger: discardLogger()})
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}
	return j
}

func TestJournalRestoresStateAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hub.journal")
	ctx := context.Background()

	first := newTestHub(t, Options{Journal: openTestJournal(t, path)})
	if _, err := first.hub.SetData(ctx, "doc/a", []byte("alpha v1")); err != nil {
		t.Fatalf("SetData: %v", err)
	}
	if _, err := first.hub.SetData(ctx, "doc/a", []byte("alpha v2")); err != nil {
		t.Fatalf("SetData: %v", err)
	}
	if _, err := first.hub.SetData(ctx, "doc/b", []byte("alpha v1")); err != nil {
		t.Fatalf("SetData binding: %v", err)
	}
	if _, err := first.hub.OnFirstBlob(ctx, "feed/c", []byte("stream blob"), "h"); err != nil {
		t.Fatalf("OnFirstBlob: %v", err)
	}
	before := first.hub.List()
	identities := first.hub.Identities()
	if err := first.hub.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second := newTestHub(t, Options{Journal: openTestJournal(t, path)})
	after := second.hub.List()
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("state diverged across restart:\nbefore %+v\nafter  %+v", before, after)
	}
	for identity, id := range identities {
		got, ok := second.hub.Resolve(identity)
		if !ok || got != id {
			t.Fatalf("Resolve(%s) = %s, %t after restart", identity, got, ok)
		}
	}
	// Streams are live handles, not persisted state; only the flag
	// survives.
	frag, err := second.hub.GetByIdentity(ctx, "feed/c")
	if err != nil || !frag.Stream {
		t.Fatalf("stream flag lost: %+v, %v", frag, err)
	}
	if _, err := second.hub.Oracle().Stream(frag.ID); !errors.Is(err, ErrNoStream) {
		t.Fatalf("Oracle.Stream after restart = %v, want ErrNoStream", err)
	}
}

func TestCompactJournalPreservesState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hub.journal")
	ctx := context.Background()

	first := newTestHub(t, Options{Journal: openTestJournal(t, path)})
	for i := range 6 {
		if _, err := first.hub.SetData(ctx, "churned", fmt.Appendf(nil, "rev-%d", i)); err != nil {
			t.Fatalf("SetData: %v", err)
		}
	}
	if !first.hub.JournalNeedsCompaction() {
		t.Fatal("6 records for 1 fragment should want compaction")
	}
	if err := first.hub.CompactJournal(); err != nil {
		t.Fatalf("CompactJournal: %v", err)
	}
	if got := first.hub.Stats().JournalRecords; got != 1 {
		t.Fatalf("records after compaction = %d, want 1", got)
	}
	// The journal stays appendable after compaction.
	snap, err := first.hub.SetData(ctx, "churned", []byte("rev-6"))
	if err != nil {
		t.Fatalf("SetData after compaction: %v", err)
	}
	if err := first.hub.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second := newTestHub(t, Options{Journal: openTestJournal(t, path)})
	got, err := second.hub.GetByIdentity(ctx, "churned")
	if err != nil {
		t.Fatalf("GetByIdentity after restart: %v", err)
	}
	if got.Version != snap.Version || string(got.Payload) != "rev-6" {
		t.Fatalf("restart state = %+v, want v%d rev-6", got, snap.Version)
	}
}

func TestStatsCounts(t *testing.T) {
	fix := newTestHub(t, Options{})
	ctx := context.Background()

	if _, err := fix.hub.SetData(ctx, "a", []byte("one")); err != nil {
		t.Fatalf("SetData: %v", err)
	}
	if _, err := fix.hub.OnFirstBlob(ctx, "b", []byte("two"), "h"); err != nil {
		t.Fatalf("OnFirstBlob: %v", err)
	}

	stats := fix.hub.Stats()
	if stats.Fragments != 2 || stats.Identities != 2 || stats.Streams != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.Peers != nil {
		t.Fatal("local-only hub reported peers")
	}
	if len(fix.hub.List()) != 2 {
		t.Fatalf("List = %d entries", len(fix.hub.List()))
	}
}
