// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/conflux-foundation/conflux/cmd/conflux/cli"
	"github.com/conflux-foundation/conflux/lib/cid"
	"github.com/conflux-foundation/conflux/lib/fragment"
	fragfuse "github.com/conflux-foundation/conflux/lib/fragment/fuse"
	"github.com/conflux-foundation/conflux/lib/service"
)

type mountParams struct {
	Hub        cli.HubConnection
	AllowOther bool `flag:"allow-other" desc:"permit other users to access the mount"`
}

func mountCommand() *cli.Command {
	var params mountParams

	return &cli.Command{
		Name:    "mount",
		Summary: "Mount the hub's fragments as a read-only filesystem",
		Description: "Mounts a FUSE filesystem where every fragment is a regular\n" +
			"file named by its content ID, with a .meta sidecar carrying\n" +
			"the fragment's metadata as JSON. Runs in the foreground until\n" +
			"interrupted, then unmounts.",
		Usage: "conflux mount [flags] <dir>",
		Examples: []cli.Example{
			{Command: "conflux mount ~/conflux"},
			{
				Description: "Then read payloads with ordinary tools",
				Command:     "jq . ~/conflux/bafkreihdwdce...",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("mount", &params)
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one <dir> argument")
			}

			ctx, cancel := cli.CommandContext()
			defer cancel()

			server, err := fragfuse.Mount(fragfuse.Options{
				Mountpoint: args[0],
				Source:     &socketSource{client: params.Hub.Client()},
				AllowOther: params.AllowOther,
				Logger:     cli.NewLogger(),
			})
			if err != nil {
				return err
			}
			fmt.Printf("mounted at %s\n", args[0])

			done := make(chan struct{})
			go func() {
				server.Wait()
				close(done)
			}()

			select {
			case <-ctx.Done():
				if err := server.Unmount(); err != nil {
					return fmt.Errorf("unmounting: %w", err)
				}
				<-done
			case <-done:
				// Unmounted externally, e.g. fusermount -u.
			}
			return nil
		},
	}
}

// socketSource adapts the control socket client to the mount's
// fragment source interface.
type socketSource struct {
	client *service.Client
}

func (s *socketSource) List(ctx context.Context) ([]fragfuse.Entry, error) {
	var result service.ListResult
	if err := s.client.Call(ctx, service.ActionList, nil, &result); err != nil {
		return nil, err
	}
	entries := make([]fragfuse.Entry, 0, len(result.Fragments))
	for _, summary := range result.Fragments {
		entries = append(entries, fragfuse.Entry{
			ID:        summary.ID,
			Version:   summary.Version,
			Timestamp: summary.Timestamp,
			Size:      summary.Size,
			Stream:    summary.Stream,
			Live:      summary.Live,
		})
	}
	return entries, nil
}

func (s *socketSource) Get(ctx context.Context, id cid.ID) (fragment.Fragment, error) {
	var frag fragment.Fragment
	err := s.client.Call(ctx, service.ActionGet, service.GetArgs{CID: id.String()}, &frag)
	return frag, err
}
