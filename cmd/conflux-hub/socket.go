// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/conflux-foundation/conflux/hub"
	"github.com/conflux-foundation/conflux/lib/cid"
	"github.com/conflux-foundation/conflux/lib/clock"
	"github.com/conflux-foundation/conflux/lib/codec"
	"github.com/conflux-foundation/conflux/lib/config"
	"github.com/conflux-foundation/conflux/lib/distribution"
	"github.com/conflux-foundation/conflux/lib/event"
	"github.com/conflux-foundation/conflux/lib/fragment"
	"github.com/conflux-foundation/conflux/lib/peerset"
	"github.com/conflux-foundation/conflux/lib/sealed"
	"github.com/conflux-foundation/conflux/lib/service"
	"github.com/conflux-foundation/conflux/lib/version"
)

// watchBuffer is the bus subscription buffer per watch client. A
// client that stops reading sheds its own oldest events; the events
// action with offsets exists for consumers that cannot afford gaps.
const watchBuffer = 256

// HubService owns the control socket actions. It adapts socket
// requests to hub calls; everything stateful lives in the hub, the
// history ring, and the pipeline.
type HubService struct {
	hub       *hub.Hub
	history   *event.History
	pipeline  *distribution.Pipeline // nil on a local-only hub
	cfg       *config.Config
	clock     clock.Clock
	startedAt time.Time
	logger    *slog.Logger

	// mu guards roster, which SIGHUP reloads swap out.
	mu     sync.Mutex
	roster *peerset.Set // nil without a peers file
}

// registerActions registers every socket action on the server.
func (s *HubService) registerActions(server *service.SocketServer) {
	server.Handle(service.ActionPing, s.handlePing)
	server.Handle(service.ActionVersion, s.handleVersion)
	server.Handle(service.ActionSet, s.handleSet)
	server.Handle(service.ActionGet, s.handleGet)
	server.Handle(service.ActionResolve, s.handleResolve)
	server.Handle(service.ActionList, s.handleList)
	server.Handle(service.ActionStreams, s.handleStreams)
	server.Handle(service.ActionStreamClose, s.handleStreamClose)
	server.Handle(service.ActionStreamWake, s.handleStreamWake)
	server.Handle(service.ActionPeers, s.handlePeers)
	server.Handle(service.ActionStats, s.handleStats)
	server.Handle(service.ActionEvents, s.handleEvents)
	server.Handle(service.ActionExport, s.handleExport)
	server.HandleStream(service.ActionWatch, s.handleWatch)
}

func (s *HubService) handlePing(ctx context.Context, raw codec.RawMessage) (any, error) {
	return service.PingResult{
		Name:          s.cfg.Name,
		UptimeSeconds: s.clock.Now().Sub(s.startedAt).Seconds(),
	}, nil
}

func (s *HubService) handleVersion(ctx context.Context, raw codec.RawMessage) (any, error) {
	return service.VersionResult{
		Version: version.Version,
		Commit:  version.GitCommit,
		Date:    version.BuildTime,
	}, nil
}

func (s *HubService) handleSet(ctx context.Context, raw codec.RawMessage) (any, error) {
	var args service.SetArgs
	if err := codec.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("decoding request: %w", err)
	}
	return s.hub.SetData(ctx, args.Identity, args.Payload)
}

func (s *HubService) handleGet(ctx context.Context, raw codec.RawMessage) (any, error) {
	var args service.GetArgs
	if err := codec.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("decoding request: %w", err)
	}

	switch {
	case args.CID != "" && args.Identity != "":
		return nil, errors.New("cid and identity are mutually exclusive")
	case args.CID != "":
		id, err := cid.Parse(args.CID)
		if err != nil {
			return nil, err
		}
		return s.hub.Get(ctx, id)
	case args.Identity != "":
		return s.hub.GetByIdentity(ctx, args.Identity)
	}
	return nil, errors.New("cid or identity is required")
}

func (s *HubService) handleResolve(ctx context.Context, raw codec.RawMessage) (any, error) {
	var args service.ResolveArgs
	if err := codec.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("decoding request: %w", err)
	}

	id, ok := s.hub.Resolve(args.Identity)
	if !ok {
		return nil, fmt.Errorf("identity %q: %w", args.Identity, fragment.ErrNotFound)
	}
	return service.ResolveResult{CID: id}, nil
}

func (s *HubService) handleList(ctx context.Context, raw codec.RawMessage) (any, error) {
	registry := s.hub.Registry()
	fragments := s.hub.List()

	summaries := make([]service.FragmentSummary, 0, len(fragments))
	for _, frag := range fragments {
		summaries = append(summaries, service.FragmentSummary{
			ID:        frag.ID,
			Version:   frag.Version,
			Timestamp: frag.Timestamp,
			Size:      len(frag.Payload),
			Stream:    frag.Stream,
			Live:      registry.Alive(frag.ID),
		})
	}
	slices.SortFunc(summaries, func(a, b service.FragmentSummary) int {
		if c := cmp.Compare(a.Timestamp, b.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})
	return service.ListResult{Fragments: summaries}, nil
}

func (s *HubService) handleStreams(ctx context.Context, raw codec.RawMessage) (any, error) {
	return service.StreamsResult{Streams: s.hub.Registry().List()}, nil
}

func (s *HubService) handleStreamClose(ctx context.Context, raw codec.RawMessage) (any, error) {
	id, err := streamTarget(raw)
	if err != nil {
		return nil, err
	}
	return service.StreamResult{Changed: s.hub.Registry().Kill(id)}, nil
}

func (s *HubService) handleStreamWake(ctx context.Context, raw codec.RawMessage) (any, error) {
	id, err := streamTarget(raw)
	if err != nil {
		return nil, err
	}
	return service.StreamResult{Changed: s.hub.Registry().Wake(id)}, nil
}

func streamTarget(raw codec.RawMessage) (cid.ID, error) {
	var args service.StreamArgs
	if err := codec.Unmarshal(raw, &args); err != nil {
		return cid.ID{}, fmt.Errorf("decoding request: %w", err)
	}
	if args.CID == "" {
		return cid.ID{}, errors.New("cid is required")
	}
	return cid.Parse(args.CID)
}

func (s *HubService) handlePeers(ctx context.Context, raw codec.RawMessage) (any, error) {
	s.mu.Lock()
	roster := s.roster
	s.mu.Unlock()
	if roster == nil {
		return service.PeersResult{}, nil
	}

	depths := map[string]int{}
	if s.pipeline != nil {
		depths = s.pipeline.Peers()
	}

	statuses := make([]service.PeerStatus, 0, len(roster.Peers))
	for _, peer := range roster.Peers {
		statuses = append(statuses, service.PeerStatus{
			Name:     peer.Name,
			Kind:     string(peer.Kind),
			Addr:     peer.Addr,
			Queue:    depths[peer.Name],
			Disabled: peer.Disabled,
		})
	}
	slices.SortFunc(statuses, func(a, b service.PeerStatus) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return service.PeersResult{Peers: statuses}, nil
}

func (s *HubService) handleStats(ctx context.Context, raw codec.RawMessage) (any, error) {
	return s.hub.Stats(), nil
}

func (s *HubService) handleEvents(ctx context.Context, raw codec.RawMessage) (any, error) {
	var args service.EventsArgs
	if err := codec.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("decoding request: %w", err)
	}

	events, next := s.history.Since(args.From)
	if args.Limit > 0 && len(events) > args.Limit {
		next -= uint64(len(events) - args.Limit)
		events = events[:args.Limit]
	}
	return service.EventsResult{Events: events, Next: next}, nil
}

// handleWatch streams live bus events to the client until it
// disconnects. There is no replay here; the events action serves
// catch-up reads by offset.
func (s *HubService) handleWatch(ctx context.Context, raw codec.RawMessage, send service.SendFunc) error {
	events, cancel := s.hub.Events().Subscribe(watchBuffer)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := send(ev); err != nil {
				return err
			}
		}
	}
}

func (s *HubService) handleExport(ctx context.Context, raw codec.RawMessage) (any, error) {
	var args service.ExportArgs
	if err := codec.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("decoding request: %w", err)
	}
	if args.Path == "" {
		return nil, errors.New("path is required")
	}
	var recipients []string
	if args.Recipient != "" {
		if err := sealed.ParseRecipient(args.Recipient); err != nil {
			return nil, err
		}
		recipients = []string{args.Recipient}
	}

	snap := &sealed.Snapshot{
		Hub:        s.cfg.Name,
		CreatedAt:  s.clock.Now().UnixMilli(),
		Identities: s.hub.Identities(),
		Fragments:  s.hub.List(),
	}

	// Temp file in the target directory, then rename: a failed export
	// never leaves a truncated snapshot at the requested path.
	tmp, err := os.CreateTemp(filepath.Dir(args.Path), ".conflux-export-*")
	if err != nil {
		return nil, fmt.Errorf("creating export file: %w", err)
	}
	written, err := sealed.WriteSnapshot(tmp, recipients, snap)
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("writing snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("closing export file: %w", err)
	}
	if err := os.Rename(tmp.Name(), args.Path); err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("moving export into place: %w", err)
	}

	s.logger.Info("snapshot exported",
		"path", args.Path,
		"fragments", len(snap.Fragments),
		"bytes", written,
		"sealed", len(recipients) > 0,
	)
	return service.ExportResult{
		Fragments:  len(snap.Fragments),
		Identities: len(snap.Identities),
		Bytes:      written,
	}, nil
}

// reloadRoster re-reads the peers file and reconciles pipeline
// workers: peers that left the roster or were disabled lose their
// worker, new ones get links, and a changed kind or address redials.
// Unchanged peers keep their workers and queues.
func (s *HubService) reloadRoster() error {
	set, err := peerset.ReadFile(s.cfg.PeersFile)
	if err != nil {
		return err
	}

	want := make(map[string]peerset.Peer, len(set.Peers))
	for _, peer := range set.Enabled() {
		want[peer.Name] = peer
	}

	s.mu.Lock()
	previous := s.roster
	s.roster = set
	s.mu.Unlock()

	previousByName := make(map[string]peerset.Peer)
	if previous != nil {
		for _, peer := range previous.Enabled() {
			previousByName[peer.Name] = peer
		}
	}

	running := s.pipeline.Peers()
	for name := range running {
		if _, keep := want[name]; !keep {
			s.pipeline.RemovePeer(name)
		}
	}

	for name, peer := range want {
		_, isRunning := running[name]
		old, wasEnabled := previousByName[name]
		if isRunning && wasEnabled && old.Kind == peer.Kind && old.Addr == peer.Addr {
			continue
		}
		if isRunning {
			s.pipeline.RemovePeer(name)
		}
		link, err := buildLink(s.cfg, peer, s.logger)
		if err != nil {
			s.logger.Error("building peer link", "peer", name, "error", err)
			continue
		}
		if link == nil {
			continue
		}
		if err := s.pipeline.AddPeer(link); err != nil {
			s.logger.Error("adding peer", "peer", name, "error", err)
		}
	}

	s.logger.Info("roster reloaded",
		"peers", len(set.Peers),
		"enabled", len(want),
	)
	return nil
}
