// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/conflux-foundation/conflux/lib/distribution"
)

// Compile-time interface check.
var _ distribution.PeerLink = (*WebRTCLink)(nil)

// envelopeChannelLabel names the data channel that carries envelope
// frames. The listener ignores channels with any other label.
const envelopeChannelLabel = "envelopes"

// signalPollInterval is how often the listener polls for inbound
// offers.
const signalPollInterval = 2 * time.Second

// iceGatherTimeout bounds ICE candidate gathering before the SDP is
// published.
const iceGatherTimeout = 15 * time.Second

// answerPollInterval is how often the link polls for an answer after
// publishing its offer.
const answerPollInterval = 500 * time.Millisecond

// answerTimeout is how long the link waits for an answer before
// giving up on the attempt.
const answerTimeout = 30 * time.Second

// channelOpenTimeout bounds the wait for the data channel to open
// after the answer is applied.
const channelOpenTimeout = 10 * time.Second

// WebRTCLink delivers envelopes over a WebRTC data channel. The
// session is established on first use: the link publishes an SDP
// offer through its signaler, waits for the peer's answer, and opens
// one ordered reliable data channel carrying the stream framing.
// Establishment uses vanilla ICE, so a session costs one signaling
// round-trip.
//
// The session is reused across deliveries. Any delivery error tears
// it down; if the session had already carried traffic, the link
// re-establishes once within the same Deliver call.
type WebRTCLink struct {
	local string
	peer  string

	signaler Signaler
	ice      ICEConfig
	logger   *slog.Logger

	mu     sync.Mutex
	pc     *webrtc.PeerConnection
	conn   net.Conn
	closed bool
}

// NewWebRTCLink creates a link from the hub named local to the hub
// named peer. Both hubs must poll the same signaler.
func NewWebRTCLink(local, peer string, signaler Signaler, ice ICEConfig, logger *slog.Logger) *WebRTCLink {
	return &WebRTCLink{
		local:    local,
		peer:     peer,
		signaler: signaler,
		ice:      ice,
		logger:   logger,
	}
}

// Name returns the peer name.
func (l *WebRTCLink) Name() string { return l.peer }

// Deliver sends one envelope over the data channel and waits for the
// acknowledgement byte, establishing the session first if needed.
func (l *WebRTCLink) Deliver(ctx context.Context, env distribution.Envelope) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return fmt.Errorf("webrtc link %s: %w", l.peer, net.ErrClosed)
	}

	reused := l.conn != nil
	err := l.deliver(ctx, env)
	if err == nil {
		return nil
	}
	l.teardown()
	if !reused {
		return fmt.Errorf("webrtc link %s: %w", l.peer, err)
	}

	l.logger.Debug("re-establishing stale session", "peer", l.peer, "error", err)
	if err := l.deliver(ctx, env); err != nil {
		l.teardown()
		return fmt.Errorf("webrtc link %s: %w", l.peer, err)
	}
	return nil
}

func (l *WebRTCLink) deliver(ctx context.Context, env distribution.Envelope) error {
	if l.conn == nil {
		if err := l.establish(ctx); err != nil {
			return err
		}
	}

	deadline := deliveryDeadline(ctx)
	l.conn.SetDeadline(deadline)
	defer l.conn.SetDeadline(time.Time{})

	if err := WriteEnvelope(l.conn, env); err != nil {
		return err
	}
	var ack [1]byte
	if _, err := io.ReadFull(l.conn, ack[:]); err != nil {
		return fmt.Errorf("reading acknowledgement: %w", err)
	}
	if ack[0] != ackByte {
		return fmt.Errorf("unexpected acknowledgement byte 0x%02x", ack[0])
	}
	return nil
}

// establish runs offer/answer signaling and waits for the envelope
// channel to open.
func (l *WebRTCLink) establish(ctx context.Context) error {
	pc, err := newPeerConnection(l.ice)
	if err != nil {
		return fmt.Errorf("creating peer connection: %w", err)
	}
	conn, err := l.negotiate(ctx, pc)
	if err != nil {
		pc.Close()
		return err
	}
	l.pc = pc
	l.conn = conn
	l.logger.Info("webrtc session established", "peer", l.peer)
	return nil
}

func (l *WebRTCLink) negotiate(ctx context.Context, pc *webrtc.PeerConnection) (net.Conn, error) {
	ordered := true
	channel, err := pc.CreateDataChannel(envelopeChannelLabel, &webrtc.DataChannelInit{
		Ordered: &ordered,
	})
	if err != nil {
		return nil, fmt.Errorf("creating data channel: %w", err)
	}

	opened := make(chan struct{})
	channel.OnOpen(func() { close(opened) })

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		l.logger.Debug("ice state change", "peer", l.peer, "state", state.String())
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("creating offer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("setting local description: %w", err)
	}
	select {
	case <-gatherComplete:
	case <-time.After(iceGatherTimeout):
		return nil, fmt.Errorf("ice gathering timed out after %s", iceGatherTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if err := l.signaler.PublishOffer(ctx, l.local, l.peer, pc.LocalDescription().SDP); err != nil {
		return nil, fmt.Errorf("publishing offer: %w", err)
	}
	l.logger.Debug("offer published", "peer", l.peer)

	answerSDP, err := l.waitForAnswer(ctx)
	if err != nil {
		return nil, fmt.Errorf("waiting for answer from %s: %w", l.peer, err)
	}
	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answerSDP}
	if err := pc.SetRemoteDescription(answer); err != nil {
		return nil, fmt.Errorf("setting remote description: %w", err)
	}

	select {
	case <-opened:
	case <-time.After(channelOpenTimeout):
		return nil, fmt.Errorf("data channel did not open within %s", channelOpenTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	stream, err := channel.Detach()
	if err != nil {
		return nil, fmt.Errorf("detaching data channel: %w", err)
	}
	return NewDataChannelConn(
		stream,
		l.local+"/"+envelopeChannelLabel,
		l.peer+"/"+envelopeChannelLabel,
	), nil
}

// waitForAnswer polls the signaler until the peer answers our offer.
func (l *WebRTCLink) waitForAnswer(ctx context.Context) (string, error) {
	deadline := time.After(answerTimeout)
	ticker := time.NewTicker(answerPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			return "", fmt.Errorf("no answer within %s", answerTimeout)
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
			answers, err := l.signaler.PollAnswers(ctx, l.local)
			if err != nil {
				l.logger.Warn("polling for answer failed", "peer", l.peer, "error", err)
				continue
			}
			for _, answer := range answers {
				if answer.Peer == l.peer {
					return answer.SDP, nil
				}
			}
		}
	}
}

// teardown discards the current session. Caller holds l.mu.
func (l *WebRTCLink) teardown() {
	if l.conn != nil {
		l.conn.Close()
		l.conn = nil
	}
	if l.pc != nil {
		l.pc.Close()
		l.pc = nil
	}
}

// Close tears down the session. Subsequent deliveries fail.
func (l *WebRTCLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.teardown()
	return nil
}

// WebRTCListener answers inbound WebRTC offers and ingests envelope
// frames from the resulting data channels. One listener serves any
// number of dialing peers; each peer gets its own peer connection.
type WebRTCListener struct {
	local    string
	signaler Signaler
	ice      ICEConfig
	ingest   Ingest
	logger   *slog.Logger

	mu     sync.Mutex
	peers  map[string]*webrtc.PeerConnection
	closed bool

	done     chan struct{}
	doneOnce sync.Once
	wg       sync.WaitGroup
}

// NewWebRTCListener creates a listener answering offers addressed to
// the hub named local.
func NewWebRTCListener(local string, signaler Signaler, ice ICEConfig, ingest Ingest, logger *slog.Logger) *WebRTCListener {
	return &WebRTCListener{
		local:    local,
		signaler: signaler,
		ice:      ice,
		ingest:   ingest,
		logger:   logger,
		peers:    make(map[string]*webrtc.PeerConnection),
		done:     make(chan struct{}),
	}
}

// Serve polls for offers until ctx is cancelled or Close is called.
// Returns nil on clean shutdown.
func (l *WebRTCListener) Serve(ctx context.Context) error {
	ticker := time.NewTicker(signalPollInterval)
	defer ticker.Stop()

	l.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.done:
			return nil
		case <-ticker.C:
			l.poll(ctx)
		}
	}
}

func (l *WebRTCListener) poll(ctx context.Context) {
	offers, err := l.signaler.PollOffers(ctx, l.local)
	if err != nil {
		l.logger.Warn("polling for offers failed", "error", err)
		return
	}
	for _, offer := range offers {
		if err := l.answer(ctx, offer); err != nil {
			l.logger.Error("answering offer failed", "peer", offer.Peer, "error", err)
		}
	}
}

// answer builds a peer connection for one inbound offer and publishes
// the answer. A fresh offer from a known peer supersedes the previous
// session: the dialer only re-offers after its old session died.
func (l *WebRTCListener) answer(ctx context.Context, offer SignalMessage) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	if existing, ok := l.peers[offer.Peer]; ok {
		existing.Close()
		delete(l.peers, offer.Peer)
	}
	l.mu.Unlock()

	pc, err := newPeerConnection(l.ice)
	if err != nil {
		return fmt.Errorf("creating peer connection: %w", err)
	}

	pc.OnDataChannel(func(channel *webrtc.DataChannel) {
		l.handleChannel(ctx, offer.Peer, channel)
	})
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		l.logger.Debug("ice state change", "peer", offer.Peer, "state", state.String())
		switch state {
		case webrtc.ICEConnectionStateFailed:
			// Keep the entry: the peer's next offer supersedes and
			// closes it outside pion's callback path.
			l.logger.Warn("webrtc session failed", "peer", offer.Peer)
		case webrtc.ICEConnectionStateClosed:
			l.mu.Lock()
			if current, ok := l.peers[offer.Peer]; ok && current == pc {
				delete(l.peers, offer.Peer)
			}
			l.mu.Unlock()
		}
	})

	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}
	if err := pc.SetRemoteDescription(remote); err != nil {
		pc.Close()
		return fmt.Errorf("setting remote description: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return fmt.Errorf("creating answer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return fmt.Errorf("setting local description: %w", err)
	}
	select {
	case <-gatherComplete:
	case <-time.After(iceGatherTimeout):
		pc.Close()
		return fmt.Errorf("ice gathering timed out after %s", iceGatherTimeout)
	case <-ctx.Done():
		pc.Close()
		return ctx.Err()
	}

	if err := l.signaler.PublishAnswer(ctx, offer.Peer, l.local, pc.LocalDescription().SDP); err != nil {
		pc.Close()
		return fmt.Errorf("publishing answer: %w", err)
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		pc.Close()
		return nil
	}
	l.peers[offer.Peer] = pc
	l.mu.Unlock()

	l.logger.Info("webrtc session answered", "peer", offer.Peer)
	return nil
}

// handleChannel wires an inbound envelope channel into the ingest
// loop once it opens.
func (l *WebRTCListener) handleChannel(ctx context.Context, peer string, channel *webrtc.DataChannel) {
	if channel.Label() != envelopeChannelLabel {
		l.logger.Debug("ignoring data channel", "peer", peer, "label", channel.Label())
		return
	}
	channel.OnOpen(func() {
		stream, err := channel.Detach()
		if err != nil {
			l.logger.Error("detaching data channel failed", "peer", peer, "error", err)
			return
		}
		conn := NewDataChannelConn(
			stream,
			l.local+"/"+channel.Label(),
			peer+"/"+channel.Label(),
		)

		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			conn.Close()
			return
		}
		l.wg.Add(1)
		l.mu.Unlock()

		go func() {
			defer l.wg.Done()
			defer conn.Close()
			ingestLoop(ctx, conn, peer, l.ingest, l.logger)
		}()
	})
}

// Close shuts down all peer connections and waits for their ingest
// loops to finish.
func (l *WebRTCListener) Close() error {
	l.doneOnce.Do(func() { close(l.done) })

	l.mu.Lock()
	l.closed = true
	for peer, pc := range l.peers {
		pc.Close()
		delete(l.peers, peer)
	}
	l.mu.Unlock()

	l.wg.Wait()
	return nil
}

// newPeerConnection builds a pion peer connection with detached data
// channels (stream access for the framing) and loopback candidates
// (same-machine meshes and tests, where loopback may be the only
// interface).
func newPeerConnection(ice ICEConfig) (*webrtc.PeerConnection, error) {
	engine := webrtc.SettingEngine{}
	engine.DetachDataChannels()
	engine.SetIncludeLoopbackCandidate(true)
	api := webrtc.NewAPI(webrtc.WithSettingEngine(engine))
	return api.NewPeerConnection(webrtc.Configuration{ICEServers: ice.Servers})
}
