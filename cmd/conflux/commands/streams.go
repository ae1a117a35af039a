// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/conflux-foundation/conflux/cmd/conflux/cli"
	"github.com/conflux-foundation/conflux/lib/service"
)

type streamsParams struct {
	cli.JSONOutput
	Hub cli.HubConnection
}

func streamsCommand() *cli.Command {
	var params streamsParams

	return &cli.Command{
		Name:    "streams",
		Summary: "List registered streams and drive their liveness",
		Description: `List every registered stream with its liveness. The close and wake
subcommands flip a stream's liveness by content ID; both are no-ops
when the stream is already in the requested state.`,
		Usage: "conflux streams [flags]",
		Subcommands: []*cli.Command{
			streamToggleCommand("close", "Mark a stream dead", service.ActionStreamClose, "closed"),
			streamToggleCommand("wake", "Mark a stream live again", service.ActionStreamWake, "woken"),
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("streams", &params)
		},
		Run: func(args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("streams takes no arguments")
			}

			var result service.StreamsResult
			err := params.Hub.Client().Call(context.Background(), service.ActionStreams, nil, &result)
			if err != nil {
				return err
			}

			if done, err := params.EmitJSON(result.Streams); done {
				return err
			}
			if len(result.Streams) == 0 {
				fmt.Fprintln(os.Stderr, "no streams")
				return nil
			}

			now := time.Now()
			writer := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintf(writer, "CID\tSTATE\tREGISTERED\n")
			for _, status := range result.Streams {
				state := "closed"
				if status.Alive {
					state = "live"
				}
				fmt.Fprintf(writer, "%s\t%s\t%s ago\n",
					status.ID.Short(), state,
					formatAge(now.Sub(time.Unix(0, status.Registered))))
			}
			return writer.Flush()
		},
	}
}

// streamToggleCommand builds the close and wake subcommands, which
// differ only in the action they send.
func streamToggleCommand(name, summary, action, done string) *cli.Command {
	var params struct {
		Hub cli.HubConnection
	}

	return &cli.Command{
		Name:    name,
		Summary: summary,
		Usage:   fmt.Sprintf("conflux streams %s [flags] <cid>", name),
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams(name, &params)
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one <cid> argument")
			}

			var result service.StreamResult
			err := params.Hub.Client().Call(context.Background(), action,
				service.StreamArgs{CID: args[0]}, &result)
			if err != nil {
				return err
			}
			if result.Changed {
				fmt.Printf("%s %s\n", args[0], done)
			} else {
				fmt.Printf("%s unchanged\n", args[0])
			}
			return nil
		},
	}
}
