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

type listParams struct {
	cli.JSONOutput
	Hub cli.HubConnection
}

func listCommand() *cli.Command {
	var params listParams

	return &cli.Command{
		Name:    "list",
		Summary: "List every fragment on the hub",
		Usage:   "conflux list [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("list", &params)
		},
		Run: func(args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("list takes no arguments")
			}

			var result service.ListResult
			err := params.Hub.Client().Call(context.Background(), service.ActionList, nil, &result)
			if err != nil {
				return err
			}

			if done, err := params.EmitJSON(result.Fragments); done {
				return err
			}
			if len(result.Fragments) == 0 {
				fmt.Fprintln(os.Stderr, "no fragments")
				return nil
			}

			now := time.Now()
			writer := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintf(writer, "CID\tVERSION\tAGE\tSIZE\tSTREAM\n")
			for _, frag := range result.Fragments {
				fmt.Fprintf(writer, "%s\t%d\t%s\t%d\t%s\n",
					frag.ID.Short(),
					frag.Version,
					formatAge(now.Sub(time.Unix(0, frag.Timestamp))),
					frag.Size,
					streamState(frag),
				)
			}
			return writer.Flush()
		},
	}
}

// streamState renders the stream column: "-" for plain fragments,
// "live" or "closed" for stream-flagged ones.
func streamState(frag service.FragmentSummary) string {
	switch {
	case !frag.Stream:
		return "-"
	case frag.Live:
		return "live"
	default:
		return "closed"
	}
}

// formatAge produces a short relative time like "45s", "2h 15m", or
// "3d 4h". Two significant units at most.
func formatAge(d time.Duration) string {
	if d < time.Second {
		return "0s"
	}

	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	switch {
	case days > 0:
		if hours > 0 {
			return fmt.Sprintf("%dd %dh", days, hours)
		}
		return fmt.Sprintf("%dd", days)
	case hours > 0:
		if minutes > 0 {
			return fmt.Sprintf("%dh %dm", hours, minutes)
		}
		return fmt.Sprintf("%dh", hours)
	case minutes > 0:
		if seconds > 0 {
			return fmt.Sprintf("%dm %ds", minutes, seconds)
		}
		return fmt.Sprintf("%dm", minutes)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}
