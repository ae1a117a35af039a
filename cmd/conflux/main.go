// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

// Command conflux is the operator CLI for a conflux hub: commit and
// fetch fragments, inspect streams and peers, follow events, and move
// snapshots in and out.
package main

import (
	"fmt"
	"os"

	"github.com/conflux-foundation/conflux/cmd/conflux/commands"
)

func main() {
	if err := commands.Root().Execute(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
