// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

// Package fragmentui implements a terminal user interface for watching
// a conflux hub. Built on bubbletea (Elm architecture), it shows the
// hub's fragment table, a live event feed, and a payload preview for
// the selected fragment, connected to the hub via the [Source]
// interface.
//
// The Source abstraction decouples the TUI from the data backend:
// [HubSource] maintains a local snapshot over the control socket's
// watch stream with reconnect, while tests supply in-memory fakes.
// The TUI code is identical in both cases.
//
// Data flow:
//
//	[hub control socket]
//	        | (Source interface)
//	    [Model] <- bubbletea event loop
//	        |
//	  [terminal output]
package fragmentui
