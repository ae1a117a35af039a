// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

// Package service implements the hub's control socket: a CBOR
// request-response protocol over a Unix socket, used by the CLI and
// the viewer.
//
// Each connection carries one request. The client writes a Request,
// the server routes it to the registered handler by action name and
// writes a Response, and the connection closes. CBOR is
// self-delimiting, so there is no framing beyond the values
// themselves.
//
// Streaming actions keep the connection open instead: after a
// successful Response header the server writes a CBOR sequence of
// frames (the watch action streams event.Event values) until the
// client disconnects or the server shuts down.
//
// The Client mirrors the server: Call for one-shot actions, Watch for
// the event stream. Sentinel errors from the hub cross the socket as
// their message text and are rebuilt on the client side, so
// errors.Is works the same against a remote hub as against a local
// one.
package service
