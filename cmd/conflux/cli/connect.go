// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/conflux-foundation/conflux/lib/config"
	"github.com/conflux-foundation/conflux/lib/service"
)

// HubConnection carries the --socket flag shared by every command
// that talks to a hub. Embed it in a params struct; it implements
// [FlagBinder], so BindFlags registers the flag automatically.
//
// The default comes from CONFLUX_SOCKET when set, otherwise the
// configuration default, so the CLI finds the same socket the daemon
// bound without any flags.
type HubConnection struct {
	SocketPath string
}

// AddFlags registers the --socket flag.
func (c *HubConnection) AddFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&c.SocketPath, "socket", defaultSocketPath(), "hub control socket path")
}

// Client returns a control socket client for the configured path.
// Construction never dials; connection errors surface on the first
// call.
func (c *HubConnection) Client() *service.Client {
	return service.NewClient(c.SocketPath)
}

func defaultSocketPath() string {
	if env := os.Getenv("CONFLUX_SOCKET"); env != "" {
		return env
	}
	return config.Default().SocketPath
}

// CommandContext returns a context cancelled by SIGINT or SIGTERM,
// for commands that block: events --follow, mount, watch-driven
// output. Callers must invoke the cancel function.
func CommandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
