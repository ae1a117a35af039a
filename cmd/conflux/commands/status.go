// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/conflux-foundation/conflux/cmd/conflux/cli"
	"github.com/conflux-foundation/conflux/hub"
	"github.com/conflux-foundation/conflux/lib/service"
)

func pingCommand() *cli.Command {
	var params struct {
		Hub cli.HubConnection
	}

	return &cli.Command{
		Name:    "ping",
		Summary: "Check that the hub is up",
		Usage:   "conflux ping [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("ping", &params)
		},
		Run: func(args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("ping takes no arguments")
			}

			var result service.PingResult
			err := params.Hub.Client().Call(context.Background(), service.ActionPing, nil, &result)
			if err != nil {
				return err
			}

			uptime := time.Duration(result.UptimeSeconds * float64(time.Second))
			fmt.Printf("%s up %s\n", result.Name, formatAge(uptime))
			return nil
		},
	}
}

type statsParams struct {
	cli.JSONOutput
	Hub cli.HubConnection
}

func statsCommand() *cli.Command {
	var params statsParams

	return &cli.Command{
		Name:    "stats",
		Summary: "Show hub counters",
		Usage:   "conflux stats [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("stats", &params)
		},
		Run: func(args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("stats takes no arguments")
			}

			var stats hub.Stats
			err := params.Hub.Client().Call(context.Background(), service.ActionStats, nil, &stats)
			if err != nil {
				return err
			}

			if done, err := params.EmitJSON(stats); done {
				return err
			}

			writer := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintf(writer, "fragments\t%d\n", stats.Fragments)
			fmt.Fprintf(writer, "identities\t%d\n", stats.Identities)
			fmt.Fprintf(writer, "streams\t%d\n", stats.Streams)
			fmt.Fprintf(writer, "cache\t%d entries, %d hits, %d misses, %d evictions\n",
				stats.Cache.Entries, stats.Cache.Hits, stats.Cache.Misses, stats.Cache.Evictions)
			if stats.JournalRecords > 0 {
				fmt.Fprintf(writer, "journal records\t%d\n", stats.JournalRecords)
			}
			if stats.EventsDropped > 0 {
				fmt.Fprintf(writer, "events dropped\t%d\n", stats.EventsDropped)
			}
			for _, name := range sortedPeerNames(stats.Peers) {
				fmt.Fprintf(writer, "peer %s\t%d queued\n", name, stats.Peers[name])
			}
			return writer.Flush()
		},
	}
}

func sortedPeerNames(peers map[string]int) []string {
	names := make([]string, 0, len(peers))
	for name := range peers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type peersParams struct {
	cli.JSONOutput
	Hub cli.HubConnection
}

func peersCommand() *cli.Command {
	var params peersParams

	return &cli.Command{
		Name:    "peers",
		Summary: "List distribution peers and their queue depth",
		Usage:   "conflux peers [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("peers", &params)
		},
		Run: func(args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("peers takes no arguments")
			}

			var result service.PeersResult
			err := params.Hub.Client().Call(context.Background(), service.ActionPeers, nil, &result)
			if err != nil {
				return err
			}

			if done, err := params.EmitJSON(result.Peers); done {
				return err
			}
			if len(result.Peers) == 0 {
				fmt.Fprintln(os.Stderr, "no peers")
				return nil
			}

			writer := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintf(writer, "NAME\tKIND\tADDR\tQUEUE\tSTATE\n")
			for _, peer := range result.Peers {
				state := "enabled"
				if peer.Disabled {
					state = "disabled"
				}
				addr := peer.Addr
				if addr == "" {
					addr = "-"
				}
				fmt.Fprintf(writer, "%s\t%s\t%s\t%d\t%s\n",
					peer.Name, peer.Kind, addr, peer.Queue, state)
			}
			return writer.Flush()
		},
	}
}
