// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

// conflux-viewer is a standalone TUI for watching a conflux hub: the
// fragment table on the left, a payload preview on the right, and a
// live event feed along the bottom, all updating from the hub's watch
// stream over the control socket.
package main

import (
	"fmt"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"

	"github.com/conflux-foundation/conflux/cmd/conflux/cli"
	"github.com/conflux-foundation/conflux/lib/fragmentui"
	"github.com/conflux-foundation/conflux/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var connection cli.HubConnection
	var logOutput string

	flagSet := pflag.NewFlagSet("conflux-viewer", pflag.ContinueOnError)
	connection.AddFlags(flagSet)
	flagSet.StringVar(&logOutput, "log-output", "", "write JSON log records to this file")
	flagSet.BoolP("help", "h", false, "show help")

	// Handle --version before flag parsing to match the other conflux
	// binaries.
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		fmt.Printf("conflux-viewer %s\n", version.Info())
		return nil
	}

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}

	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}

	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	// Background goroutines must not write to stderr while the TUI
	// owns the alt screen. Logs go to a file when requested, otherwise
	// nowhere.
	logger := slog.New(slog.DiscardHandler)
	if logOutput != "" {
		file, err := os.Create(logOutput)
		if err != nil {
			return fmt.Errorf("cannot open log file %s: %w", logOutput, err)
		}
		defer file.Close()
		logger = slog.New(slog.NewJSONHandler(file, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	source := fragmentui.NewHubSource(connection.SocketPath, logger)
	defer source.Close()

	model := fragmentui.NewModel(source)
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithMouseAllMotion())
	_, err := program.Run()
	return err
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `Conflux fragment viewer — interactive terminal UI for watching a hub.

Connects to the hub's control socket, subscribes to the watch stream,
and shows the fragment table, a payload preview for the selected
fragment, and a live event feed. The table refreshes on every fragment
or stream event; previews of JSON payloads are syntax-highlighted.

Keys: j/k move, Tab switches pane, / filters, r refreshes, q quits.

Usage:
  conflux-viewer [flags]

Examples:
  # Watch the default hub
  conflux-viewer

  # Watch a hub on a non-default socket
  conflux-viewer --socket /tmp/conflux-dev/control.sock

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}
