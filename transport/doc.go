// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport carries committed fragment envelopes between hubs.
//
// The distribution pipeline hands each commit to a set of peer links;
// this package provides the link implementations and their inbound
// counterparts. A link implements [distribution.PeerLink]: it owns one
// outbound connection, delivers one envelope per call, and reports a
// verdict so the pipeline can retry. The inbound side decodes
// envelopes and feeds them to an [Ingest] function, normally a thin
// wrapper around the hub's remote-ingest operation.
//
// Stream transports (TCP, WebRTC data channels) frame envelopes as a
// uvarint length prefix followed by the CBOR body, and acknowledge
// each envelope with a single byte. Message transports (WebSocket)
// carry the bare CBOR body per binary message and acknowledge with a
// one-byte binary message. Readers refuse frames larger than
// [MaxEnvelopeSize] before allocating for them.
//
// Links dial lazily on first Deliver and reuse the connection across
// calls. A delivery failure on a reused connection triggers one
// immediate redial within the same Deliver call, so a peer restart
// costs the pipeline nothing; only a peer that stays unreachable
// surfaces as a delivery error.
//
// WebRTC connection establishment uses vanilla ICE: all candidates
// are gathered before the SDP is published, so signaling needs
// exactly one offer/answer round-trip. Signaling is abstracted behind
// [Signaler]; [MemorySignaler] serves tests and [FileSignaler] lets
// hubs rendezvous through a shared directory. [DataChannelConn] wraps
// a detached pion data channel as a net.Conn so the stream framing
// and ingest loop are shared with TCP.
//
// [MemoryLink] connects two hubs in the same process. It still round-
// trips every envelope through the wire codec, so in-process tests
// exercise the same encode/decode path as the network transports.
package transport
