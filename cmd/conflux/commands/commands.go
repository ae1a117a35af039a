// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the conflux CLI command tree. Each verb
// talks to a running conflux-hub daemon over its control socket,
// except keygen and import, which do their file work locally.
package commands

import (
	"fmt"

	"github.com/conflux-foundation/conflux/cmd/conflux/cli"
	"github.com/conflux-foundation/conflux/lib/version"
)

// Root builds the complete command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name: "conflux",
		Description: `Conflux: a versioned, content-addressed fragment hub.

Commit and read fragments, follow hub events, and manage snapshots
through a running conflux-hub daemon.`,
		Subcommands: []*cli.Command{
			setCommand(),
			getCommand(),
			resolveCommand(),
			listCommand(),
			streamsCommand(),
			peersCommand(),
			statsCommand(),
			pingCommand(),
			eventsCommand(),
			exportCommand(),
			importCommand(),
			keygenCommand(),
			mountCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(args []string) error {
					fmt.Printf("conflux %s\n", version.Full())
					return nil
				},
			},
		},
		Examples: []cli.Example{
			{
				Description: "Commit a payload under an identity",
				Command:     `conflux set app/config '{"mode":"dark"}'`,
			},
			{
				Description: "Read it back",
				Command:     "conflux get app/config",
			},
			{
				Description: "Watch hub activity live",
				Command:     "conflux events --follow",
			},
			{
				Description: "Snapshot the hub, sealed to an age recipient",
				Command:     "conflux export /var/backups/hub.age --seal age1...",
			},
			{
				Description: "Mount the fragment namespace read-only",
				Command:     "conflux mount /mnt/conflux",
			},
		},
	}
}
