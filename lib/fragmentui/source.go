// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

package fragmentui

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/conflux-foundation/conflux/lib/cid"
	"github.com/conflux-foundation/conflux/lib/event"
	"github.com/conflux-foundation/conflux/lib/fragment"
	"github.com/conflux-foundation/conflux/lib/service"
)

// Source abstracts hub data access for the TUI. [HubSource] implements
// it over the control socket; tests supply in-memory fakes. The TUI
// code is identical regardless of backend.
type Source interface {
	// Fragments returns the most recent fragment table snapshot,
	// sorted by canonical content ID.
	Fragments() []service.FragmentSummary

	// Connected reports whether the watch stream is currently live.
	Connected() bool

	// Refresh re-fetches the fragment table from the hub. The TUI
	// calls this from a command, never from Update.
	Refresh(ctx context.Context) error

	// Payload fetches the current state of one fragment, payload
	// included.
	Payload(ctx context.Context, id cid.ID) (fragment.Fragment, error)

	// Subscribe returns a channel that receives hub events as they
	// arrive on the watch stream. Slow consumers lose events rather
	// than stalling the stream.
	Subscribe() <-chan event.Event
}

// Backoff parameters for reconnection after watch stream disconnects.
const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second
)

// HubSource implements [Source] by connecting to a hub's control
// socket. It keeps a local copy of the fragment table, refreshed on
// connect and on demand, and fans watch events out to subscribers.
//
// The background goroutine handles connection lifecycle: initial
// connect, watch handshake, event pumping, and exponential backoff
// reconnection. The fragment table survives disconnects; the next
// successful connection replaces it wholesale, and fragments are
// never removed hub-side, so stale rows are at worst out of date.
type HubSource struct {
	client *service.Client
	logger *slog.Logger

	mutex       sync.Mutex
	fragments   []service.FragmentSummary
	subscribers []chan event.Event

	connected atomic.Bool
	cancel    context.CancelFunc
}

// NewHubSource creates a HubSource for the hub at socketPath. The
// background goroutine starts immediately; call [HubSource.Close] to
// shut it down.
func NewHubSource(socketPath string, logger *slog.Logger) *HubSource {
	source := &HubSource{
		client: service.NewClient(socketPath),
		logger: logger,
	}
	ctx, cancel := context.WithCancel(context.Background())
	source.cancel = cancel
	go source.streamLoop(ctx)
	return source
}

// Close shuts down the background stream goroutine. Safe to call
// multiple times.
func (source *HubSource) Close() {
	source.cancel()
}

// Fragments returns the most recent fragment table snapshot.
func (source *HubSource) Fragments() []service.FragmentSummary {
	source.mutex.Lock()
	defer source.mutex.Unlock()
	return source.fragments
}

// Connected reports whether the watch stream is currently live.
func (source *HubSource) Connected() bool {
	return source.connected.Load()
}

// Refresh re-fetches the fragment table over the control socket and
// replaces the local snapshot.
func (source *HubSource) Refresh(ctx context.Context) error {
	var result service.ListResult
	if err := source.client.Call(ctx, service.ActionList, nil, &result); err != nil {
		return fmt.Errorf("listing fragments: %w", err)
	}
	source.mutex.Lock()
	source.fragments = result.Fragments
	source.mutex.Unlock()
	return nil
}

// Payload fetches one fragment by content ID, payload included.
func (source *HubSource) Payload(ctx context.Context, id cid.ID) (fragment.Fragment, error) {
	var frag fragment.Fragment
	err := source.client.Call(ctx, service.ActionGet, service.GetArgs{CID: id.String()}, &frag)
	return frag, err
}

// Subscribe returns a channel that receives watch events. The channel
// is buffered; events are dropped rather than blocking the stream when
// the consumer falls behind.
func (source *HubSource) Subscribe() <-chan event.Event {
	channel := make(chan event.Event, 64)
	source.mutex.Lock()
	source.subscribers = append(source.subscribers, channel)
	source.mutex.Unlock()
	return channel
}

// dispatch fans an event out to all subscribers without blocking.
func (source *HubSource) dispatch(ev event.Event) {
	source.mutex.Lock()
	defer source.mutex.Unlock()
	for _, channel := range source.subscribers {
		select {
		case channel <- ev:
		default:
		}
	}
}

// streamLoop manages the watch connection lifecycle with exponential
// backoff reconnection. Runs in a background goroutine until the
// context is cancelled.
func (source *HubSource) streamLoop(ctx context.Context) {
	backoff := initialBackoff
	for {
		err := source.runStream(ctx)
		source.connected.Store(false)
		if ctx.Err() != nil {
			return
		}
		source.logger.Warn("watch stream disconnected",
			"error", err,
			"backoff", backoff,
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

// runStream establishes a single watch connection, loads the fragment
// table, and pumps events until the connection ends or the context is
// cancelled. Returns the error that ended the stream.
func (source *HubSource) runStream(ctx context.Context) error {
	stream, err := source.client.Watch(ctx)
	if err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	defer stream.Close()

	// Close the stream when the context is cancelled. This unblocks
	// the decoder's Read call in Next.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			stream.Close()
		case <-watchDone:
		}
	}()

	// Load the table after the watch is open, not before: any change
	// the list misses is already in flight on the stream.
	refreshCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err = source.Refresh(refreshCtx)
	cancel()
	if err != nil {
		return err
	}

	source.connected.Store(true)
	source.logger.Info("watch stream connected")

	for {
		ev, err := stream.Next()
		if err != nil {
			return fmt.Errorf("reading event: %w", err)
		}
		source.dispatch(ev)
	}
}
