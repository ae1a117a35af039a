// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the command framework for the conflux binary: a
// small pflag-based command tree with struct-tag flag binding, help
// output, typo suggestions, and the shared hub connection flags.
//
// Commands declare their parameters as a tagged struct and bind them
// with [FlagsFromParams]; structs that embed [JSONOutput] get a --json
// flag and EmitJSON for machine-readable output. [HubConnection]
// carries the --socket flag and builds the control socket client.
package cli
