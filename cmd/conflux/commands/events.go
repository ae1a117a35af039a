// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/conflux-foundation/conflux/cmd/conflux/cli"
	"github.com/conflux-foundation/conflux/lib/event"
	"github.com/conflux-foundation/conflux/lib/service"
)

type eventsParams struct {
	cli.JSONOutput
	Hub    cli.HubConnection
	From   uint64 `flag:"from" desc:"history offset to resume from"`
	Limit  int    `flag:"limit,n" desc:"maximum events to fetch" default:"50"`
	Follow bool   `flag:"follow,f" desc:"stream new events until interrupted"`
}

func eventsCommand() *cli.Command {
	var params eventsParams

	return &cli.Command{
		Name:    "events",
		Summary: "Show hub event history",
		Description: "Fetches a batch from the hub's event history. With --follow,\n" +
			"subscribes to new events instead and prints them as they\n" +
			"happen, until interrupted. The JSON form of a history batch\n" +
			"includes the offset to pass as --from to continue reading.",
		Usage: "conflux events [flags]",
		Examples: []cli.Example{
			{Command: "conflux events --limit 20"},
			{Command: "conflux events --from 1042"},
			{Command: "conflux events --follow --json"},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("events", &params)
		},
		Run: func(args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("events takes no arguments")
			}
			if params.Follow {
				return followEvents(&params)
			}

			var result service.EventsResult
			err := params.Hub.Client().Call(context.Background(), service.ActionEvents,
				service.EventsArgs{From: params.From, Limit: params.Limit}, &result)
			if err != nil {
				return err
			}

			if done, err := params.EmitJSON(result); done {
				return err
			}
			if len(result.Events) == 0 {
				fmt.Fprintln(os.Stderr, "no events")
				return nil
			}

			now := time.Now()
			writer := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintf(writer, "AGE\tKIND\tCID\tVER\tPEER\tDETAIL\n")
			for _, ev := range result.Events {
				cidColumn := "-"
				if ev.ID.Defined() {
					cidColumn = ev.ID.Short()
				}
				versionColumn := "-"
				if ev.Version > 0 {
					versionColumn = fmt.Sprintf("%d", ev.Version)
				}
				peerColumn := ev.Peer
				if peerColumn == "" {
					peerColumn = "-"
				}
				fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\n",
					formatAge(now.Sub(time.Unix(0, ev.Time))),
					ev.Kind, cidColumn, versionColumn, peerColumn,
					eventDetail(ev))
			}
			return writer.Flush()
		},
	}
}

// followEvents subscribes to the live stream and prints until the
// context is cancelled. History is not replayed; the first line is
// the first event after the subscription opens.
func followEvents(params *eventsParams) error {
	ctx, cancel := cli.CommandContext()
	defer cancel()

	stream, err := params.Hub.Client().Watch(ctx)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		stream.Close()
	}()

	jsonEncoder := json.NewEncoder(os.Stdout)
	for {
		ev, err := stream.Next()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("event stream ended: %w", err)
		}
		if params.OutputJSON {
			if err := jsonEncoder.Encode(ev); err != nil {
				return err
			}
			continue
		}
		fmt.Println(eventLine(ev))
	}
}

// eventLine renders one live event for --follow output.
func eventLine(ev event.Event) string {
	line := fmt.Sprintf("%s  %s", time.Unix(0, ev.Time).Format("15:04:05"), ev.Kind)
	if ev.ID.Defined() {
		line += "  " + ev.ID.Short()
	}
	if ev.Version > 0 {
		line += fmt.Sprintf(" v%d", ev.Version)
	}
	if ev.Peer != "" {
		line += "  peer=" + ev.Peer
	}
	if detail := eventDetail(ev); detail != "-" {
		line += "  " + detail
	}
	return line
}

// eventDetail squeezes the free-form event fields into one column.
func eventDetail(ev event.Event) string {
	var parts []string
	if ev.Detail != "" {
		parts = append(parts, ev.Detail)
	}
	if ev.Attempts > 0 {
		parts = append(parts, fmt.Sprintf("%d attempts", ev.Attempts))
	}
	if ev.Error != "" {
		parts = append(parts, ev.Error)
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, "; ")
}
