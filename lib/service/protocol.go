// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"strings"

	"github.com/conflux-foundation/conflux/hub"
	"github.com/conflux-foundation/conflux/hub/stream"
	"github.com/conflux-foundation/conflux/lib/cid"
	"github.com/conflux-foundation/conflux/lib/codec"
	"github.com/conflux-foundation/conflux/lib/event"
	"github.com/conflux-foundation/conflux/lib/fragment"
)

// Request is the wire form of one control-socket call.
type Request struct {
	// Action routes the request to a handler.
	Action string `cbor:"action"`

	// Args carries the action's parameters, encoded per that
	// action's args struct. Omitted for actions that take none.
	Args codec.RawMessage `cbor:"args,omitempty"`
}

// Response is the wire form of every reply. Streaming actions send it
// once as a header before their frames.
type Response struct {
	OK    bool             `cbor:"ok"`
	Error string           `cbor:"error,omitempty"`
	Data  codec.RawMessage `cbor:"data,omitempty"`
}

// Action names. The server rejects anything else.
const (
	ActionPing        = "ping"
	ActionVersion     = "version"
	ActionSet         = "set"
	ActionGet         = "get"
	ActionResolve     = "resolve"
	ActionList        = "list"
	ActionStreams     = "streams"
	ActionStreamClose = "stream-close"
	ActionStreamWake  = "stream-wake"
	ActionPeers       = "peers"
	ActionStats       = "stats"
	ActionEvents      = "events"
	ActionWatch       = "watch"
	ActionExport      = "export"
)

// SetArgs commits a payload under an identity. The response data is
// the committed fragment.Fragment.
type SetArgs struct {
	Identity string `cbor:"identity"`
	Payload  []byte `cbor:"payload"`
}

// GetArgs fetches one fragment by content ID text form or by
// identity; exactly one selector is set. The response data is the
// fragment.Fragment.
type GetArgs struct {
	CID      string `cbor:"cid,omitempty"`
	Identity string `cbor:"identity,omitempty"`
}

// ResolveArgs resolves an identity to its content ID.
type ResolveArgs struct {
	Identity string `cbor:"identity"`
}

// ResolveResult is the data of a resolve response.
type ResolveResult struct {
	CID cid.ID `cbor:"cid" json:"cid"`
}

// StreamArgs addresses a live stream by its fragment's content ID,
// for stream-close and stream-wake.
type StreamArgs struct {
	CID string `cbor:"cid"`
}

// StreamResult reports whether the call changed liveness. Closing a
// dead stream or waking a live one is a no-op, not an error.
type StreamResult struct {
	Changed bool `cbor:"changed" json:"changed"`
}

// FragmentSummary is one list entry: everything about a fragment
// except its payload. Size stands in for the bytes.
type FragmentSummary struct {
	ID        cid.ID `cbor:"id" json:"id"`
	Version   uint64 `cbor:"version" json:"version"`
	Timestamp int64  `cbor:"timestamp" json:"timestamp"`
	Size      int    `cbor:"size" json:"size"`
	Stream    bool   `cbor:"stream,omitempty" json:"stream,omitempty"`
	Live      bool   `cbor:"live,omitempty" json:"live,omitempty"`
}

// ListResult is the data of a list response, oldest commit first,
// canonical ID breaking ties.
type ListResult struct {
	Fragments []FragmentSummary `cbor:"fragments,omitempty" json:"fragments,omitempty"`
}

// StreamsResult is the data of a streams response.
type StreamsResult struct {
	Streams []stream.Status `cbor:"streams,omitempty" json:"streams,omitempty"`
}

// PeerStatus is one roster entry joined with its pipeline queue
// depth.
type PeerStatus struct {
	Name     string `cbor:"name" json:"name"`
	Kind     string `cbor:"kind" json:"kind"`
	Addr     string `cbor:"addr,omitempty" json:"addr,omitempty"`
	Queue    int    `cbor:"queue" json:"queue"`
	Disabled bool   `cbor:"disabled,omitempty" json:"disabled,omitempty"`
}

// PeersResult is the data of a peers response.
type PeersResult struct {
	Peers []PeerStatus `cbor:"peers,omitempty" json:"peers,omitempty"`
}

// EventsArgs reads a batch from the event history.
type EventsArgs struct {
	// From is the history offset to resume from; zero starts at the
	// oldest retained event.
	From uint64 `cbor:"from,omitempty"`

	// Limit caps the batch; zero means the server default.
	Limit int `cbor:"limit,omitempty"`
}

// EventsResult is the data of an events response.
type EventsResult struct {
	Events []event.Event `cbor:"events,omitempty" json:"events,omitempty"`

	// Next is the offset to pass as From to continue reading.
	Next uint64 `cbor:"next" json:"next"`
}

// ExportArgs asks the daemon to write a snapshot of every fragment
// and identity binding to a file on its host.
type ExportArgs struct {
	Path string `cbor:"path"`

	// Recipient is an age recipient; when set, the snapshot is
	// sealed to it. Empty writes a plain snapshot.
	Recipient string `cbor:"recipient,omitempty"`
}

// ExportResult is the data of an export response.
type ExportResult struct {
	Fragments  int   `cbor:"fragments" json:"fragments"`
	Identities int   `cbor:"identities" json:"identities"`
	Bytes      int64 `cbor:"bytes" json:"bytes"`
}

// PingResult is the data of a ping response.
type PingResult struct {
	Name          string  `cbor:"name" json:"name"`
	UptimeSeconds float64 `cbor:"uptime_seconds" json:"uptime_seconds"`
}

// VersionResult is the data of a version response.
type VersionResult struct {
	Version string `cbor:"version" json:"version"`
	Commit  string `cbor:"commit,omitempty" json:"commit,omitempty"`
	Date    string `cbor:"date,omitempty" json:"date,omitempty"`
}

// wireSentinels are the errors whose identity survives the socket.
// The server sends only message text; the client matches against
// this table and attaches the sentinel, so errors.Is sees through a
// *ServiceError the same way it would against a local hub.
var wireSentinels = []error{
	fragment.ErrNotFound,
	fragment.ErrExists,
	stream.ErrAlreadyStreaming,
	hub.ErrNoStream,
	hub.ErrInvalidPayload,
	hub.ErrEmptyIdentity,
}

// sentinelFor returns the sentinel whose text appears in message, or
// nil. Wrapped server errors keep the sentinel text intact, which is
// what makes the match work.
func sentinelFor(message string) error {
	for _, sentinel := range wireSentinels {
		if strings.Contains(message, sentinel.Error()) {
			return sentinel
		}
	}
	return nil
}
