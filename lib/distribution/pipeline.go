// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

package distribution

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/conflux-foundation/conflux/lib/clock"
	"github.com/conflux-foundation/conflux/lib/codec"
	"github.com/conflux-foundation/conflux/lib/event"
	"github.com/conflux-foundation/conflux/lib/fragment"
)

// Defaults for Options fields left zero.
const (
	DefaultQueueSize      = 256
	DefaultMaxAttempts    = 5
	DefaultInitialBackoff = 500 * time.Millisecond
	DefaultMaxBackoff     = 30 * time.Second

	// DefaultCompressThreshold is the payload size above which the
	// pipeline tries to compress envelopes.
	DefaultCompressThreshold = 4096

	// drainTimeout bounds the final best-effort pass a worker makes
	// over its queue after shutdown.
	drainTimeout = 5 * time.Second
)

// Options configures a Pipeline. Zero values select the defaults
// above; a nil Events bus disables event emission.
type Options struct {
	// Origin names this hub on outgoing envelopes.
	Origin string

	// QueueSize bounds each peer's envelope queue.
	QueueSize int

	// MaxAttempts is the total delivery tries per envelope before it
	// is abandoned with a delivery-failed event.
	MaxAttempts int

	// InitialBackoff and MaxBackoff shape the exponential retry wait:
	// initial, doubled per consecutive failure, capped at max, reset
	// on success.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// Compression is applied to payloads at or above
	// CompressThreshold bytes. CompressThreshold < 0 disables
	// compression outright.
	Compression       codec.CompressionTag
	CompressThreshold int

	Clock  clock.Clock
	Logger *slog.Logger
	Events *event.Bus
}

// Pipeline fans committed snapshots out to peers, best-effort. Each
// peer gets its own bounded queue and worker goroutine, so one dead
// peer never slows another and never blocks Publish. Delivery trouble
// becomes events; it is invisible to the mutation path.
type Pipeline struct {
	origin      string
	queueSize   int
	maxAttempts int
	initial     time.Duration
	maxBackoff  time.Duration
	compression codec.CompressionTag
	threshold   int
	clock       clock.Clock
	logger      *slog.Logger
	events      *event.Bus

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	workers map[string]*peerWorker
	closed  bool
	wg      sync.WaitGroup
}

type peerWorker struct {
	link   PeerLink
	queue  *queue
	cancel context.CancelFunc
}

// New returns a running pipeline with no peers.
func New(opts Options) *Pipeline {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = DefaultInitialBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = DefaultMaxBackoff
	}
	if opts.CompressThreshold == 0 {
		opts.CompressThreshold = DefaultCompressThreshold
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		origin:      opts.Origin,
		queueSize:   opts.QueueSize,
		maxAttempts: opts.MaxAttempts,
		initial:     opts.InitialBackoff,
		maxBackoff:  opts.MaxBackoff,
		compression: opts.Compression,
		threshold:   opts.CompressThreshold,
		clock:       opts.Clock,
		logger:      opts.Logger,
		events:      opts.Events,
		ctx:         ctx,
		cancel:      cancel,
		workers:     make(map[string]*peerWorker),
	}
}

// AddPeer starts a delivery worker for link. Fails on a duplicate
// peer name or a closed pipeline.
func (p *Pipeline) AddPeer(link PeerLink) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("distribution: pipeline is closed")
	}
	name := link.Name()
	if _, exists := p.workers[name]; exists {
		return fmt.Errorf("distribution: peer %q already registered", name)
	}

	ctx, cancel := context.WithCancel(p.ctx)
	worker := &peerWorker{
		link:   link,
		queue:  newQueue(p.queueSize),
		cancel: cancel,
	}
	p.workers[name] = worker
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(ctx, worker)
	}()

	p.emit(event.Event{Kind: event.KindPeerUp, Peer: name})
	p.logger.Info("peer added", "peer", name)
	return nil
}

// RemovePeer stops the worker for name, closes its link, and reports
// whether the peer was present. Queued envelopes get one final drain
// attempt.
func (p *Pipeline) RemovePeer(name string) bool {
	p.mu.Lock()
	worker, exists := p.workers[name]
	if exists {
		delete(p.workers, name)
	}
	p.mu.Unlock()
	if !exists {
		return false
	}

	worker.cancel()
	p.emit(event.Event{Kind: event.KindPeerDown, Peer: name})
	p.logger.Info("peer removed", "peer", name)
	return true
}

// Peers returns the current queue depth per peer.
func (p *Pipeline) Peers() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	depths := make(map[string]int, len(p.workers))
	for name, worker := range p.workers {
		depths[name] = worker.queue.len()
	}
	return depths
}

// Publish enqueues the snapshot for every peer and returns. Delivery
// is asynchronous; the caller is done with the commit the moment this
// returns, and abandoning its context afterwards cannot lose the
// fan-out. Publish has no error to return — per-peer outcomes surface
// as events.
func (p *Pipeline) Publish(frag fragment.Fragment) {
	env := p.envelope(frag)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	workers := make(map[string]*peerWorker, len(p.workers))
	for name, worker := range p.workers {
		workers[name] = worker
	}
	p.mu.Unlock()

	for name, worker := range workers {
		for _, shed := range worker.queue.push(env) {
			p.emit(event.Event{
				Kind:    event.KindDeliveryDropped,
				ID:      shed.ID,
				Version: shed.Version,
				Peer:    name,
			})
			p.logger.Warn("delivery queue overflow, shed oldest",
				"peer", name,
				"cid", shed.ID.Short(),
				"version", shed.Version,
			)
		}
	}
}

// envelope builds the wire form of a snapshot, compressing the
// payload when configured and worthwhile.
func (p *Pipeline) envelope(frag fragment.Fragment) Envelope {
	env := Envelope{
		ID:        frag.ID,
		Version:   frag.Version,
		Timestamp: frag.Timestamp,
		Payload:   frag.Payload,
		Stream:    frag.Stream,
		Origin:    p.origin,
	}
	if p.compression == codec.CompressionNone || p.threshold < 0 || len(frag.Payload) < p.threshold {
		return env
	}
	compressed, err := codec.Compress(frag.Payload, p.compression)
	if err != nil {
		// Incompressible payloads ship verbatim.
		if !codec.IsIncompressible(err) {
			p.logger.Warn("payload compression failed", "cid", frag.ID.Short(), "error", err)
		}
		return env
	}
	env.Payload = compressed
	env.Compression = p.compression
	env.RawSize = len(frag.Payload)
	return env
}

// run is one peer's delivery loop: wait for work, then peek, deliver,
// pop. Consecutive failures back off exponentially; after maxAttempts
// tries the envelope is abandoned with a delivery-failed event and the
// queue advances. On shutdown the loop makes one best-effort drain
// pass.
func (p *Pipeline) run(ctx context.Context, w *peerWorker) {
	defer p.closeLink(w)

	backoff := p.initial
	attempts := 0
	var current Envelope

	for {
		select {
		case <-w.queue.notify:
		case <-ctx.Done():
			p.drain(w)
			return
		}

		for {
			env, ok := w.queue.peek()
			if !ok {
				break
			}
			// Overflow shedding can replace the head mid-retry; the
			// attempt count belongs to the envelope, not the slot.
			if env.ID != current.ID || env.Version != current.Version {
				current = env
				attempts = 0
			}

			err := w.link.Deliver(ctx, env)
			if err == nil {
				w.queue.popMatch(env)
				p.emit(event.Event{
					Kind:     event.KindDeliverySucceeded,
					ID:       env.ID,
					Version:  env.Version,
					Peer:     w.link.Name(),
					Attempts: attempts + 1,
				})
				attempts = 0
				backoff = p.initial
				continue
			}
			if ctx.Err() != nil {
				p.drain(w)
				return
			}

			attempts++
			if attempts >= p.maxAttempts {
				w.queue.popMatch(env)
				p.emit(event.Event{
					Kind:     event.KindDeliveryFailed,
					ID:       env.ID,
					Version:  env.Version,
					Peer:     w.link.Name(),
					Attempts: attempts,
					Error:    err.Error(),
				})
				p.logger.Warn("delivery abandoned",
					"peer", w.link.Name(),
					"cid", env.ID.Short(),
					"version", env.Version,
					"attempts", attempts,
					"error", err,
				)
				attempts = 0
				backoff = p.initial
				continue
			}

			p.logger.Warn("delivery failed, will retry",
				"peer", w.link.Name(),
				"cid", env.ID.Short(),
				"version", env.Version,
				"attempt", attempts,
				"backoff", backoff,
				"error", err,
			)
			select {
			case <-p.clock.After(backoff):
			case <-ctx.Done():
				p.drain(w)
				return
			}
			backoff = min(backoff*2, p.maxBackoff)
		}
	}
}

// drain makes one final pass over the queue with a short deadline and
// no retries, so envelopes accepted just before shutdown still get a
// chance to ship.
func (p *Pipeline) drain(w *peerWorker) {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	for {
		env, ok := w.queue.peek()
		if !ok {
			return
		}
		if err := w.link.Deliver(ctx, env); err != nil {
			p.logger.Warn("drain: delivery failed, abandoning remaining",
				"peer", w.link.Name(),
				"remaining", w.queue.len(),
				"error", err,
			)
			return
		}
		w.queue.popMatch(env)
	}
}

func (p *Pipeline) closeLink(w *peerWorker) {
	if err := w.link.Close(); err != nil {
		p.logger.Warn("closing peer link", "peer", w.link.Name(), "error", err)
	}
}

func (p *Pipeline) emit(ev event.Event) {
	if p.events == nil {
		return
	}
	ev.Time = p.clock.Now().UnixNano()
	p.events.Publish(ev)
}

// Close stops accepting publishes, cancels every worker, and waits for
// their drain passes to finish or ctx to expire.
func (p *Pipeline) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("distribution: close: %w", ctx.Err())
	}
}
