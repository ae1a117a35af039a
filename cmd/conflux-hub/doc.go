// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

// Conflux-hub is the fragment hub daemon. It owns the fragment store,
// read cache, stream registry, commit journal, and distribution
// pipeline for one hub, and serves the control socket the CLI and
// viewer talk to.
//
// # Startup
//
// Configuration comes from a YAML file (--config or $CONFLUX_CONFIG)
// with a small set of CONFLUX_ environment overrides; --socket,
// --log-level, and --log-format override the file from the command
// line. On boot the daemon opens the journal (reading the sealing key
// first when at-rest encryption is on), builds transport links from
// the peer roster, constructs the hub (which replays the journal),
// starts the configured ingest listeners, and begins serving the
// control socket.
//
// # Listeners
//
// Three optional ingest listeners accept envelopes from peer hubs:
// raw TCP, WebSocket, and WebRTC data channels answered through a
// shared signaling directory. Any subset may be enabled; a hub with
// none is publish-only toward its roster.
//
// # Signals
//
// SIGINT and SIGTERM shut down cleanly: the control socket drains,
// listeners stop, the journal is compacted when it has accumulated
// enough stale records, and the pipeline gets a bounded drain.
// SIGHUP re-reads the peer roster and reconciles pipeline workers
// without a restart.
//
// # Socket API
//
// Clients connect to the Unix control socket and send one CBOR
// request per connection. The "action" field selects the operation:
// set, get, resolve, list, streams, stream-close, stream-wake, peers,
// stats, events, export, ping, version, and the streaming watch.
package main
