// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"log/slog"
	"os"

	"golang.org/x/term"
)

// NewLogger builds the stderr logger for CLI commands: a text handler
// when stderr is a terminal, JSON when piped or redirected so scripts
// and CI get the same format the daemon logs in.
func NewLogger() *slog.Logger {
	options := &slog.HandlerOptions{Level: slog.LevelWarn}
	var handler slog.Handler
	if term.IsTerminal(int(os.Stderr.Fd())) {
		handler = slog.NewTextHandler(os.Stderr, options)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, options)
	}
	return slog.New(handler)
}
