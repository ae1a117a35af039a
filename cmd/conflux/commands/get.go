// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/conflux-foundation/conflux/cmd/conflux/cli"
	"github.com/conflux-foundation/conflux/lib/cid"
	"github.com/conflux-foundation/conflux/lib/fragment"
	"github.com/conflux-foundation/conflux/lib/service"
)

type getParams struct {
	Hub    cli.HubConnection
	Output string `flag:"output,o" desc:"output form: raw (payload bytes) or json (full fragment)" default:"raw"`
}

func getCommand() *cli.Command {
	var params getParams

	return &cli.Command{
		Name:    "get",
		Summary: "Read a fragment by content ID or identity",
		Description: `Read one fragment. The argument is treated as a content ID when it
parses as one (multibase prefix b or z), otherwise as an identity.

The default output is the raw payload on stdout, suitable for piping;
--output json prints the full fragment with its version and
timestamp.`,
		Usage: "conflux get [flags] <cid-or-identity>",
		Examples: []cli.Example{
			{Command: "conflux get app/config"},
			{Command: "conflux get bafk... --output json"},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("get", &params)
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one <cid-or-identity> argument")
			}

			request := service.GetArgs{Identity: args[0]}
			if _, err := cid.Parse(args[0]); err == nil {
				request = service.GetArgs{CID: args[0]}
			}

			var frag fragment.Fragment
			err := params.Hub.Client().Call(context.Background(), service.ActionGet, request, &frag)
			if err != nil {
				return err
			}

			switch params.Output {
			case "raw":
				_, err := os.Stdout.Write(frag.Payload)
				return err
			case "json":
				return cli.WriteJSON(frag)
			default:
				return fmt.Errorf("unknown output form %q (raw or json)", params.Output)
			}
		},
	}
}

type resolveParams struct {
	Hub    cli.HubConnection
	Base58 bool `flag:"base58" desc:"print the content ID in base58btc instead of base32"`
}

func resolveCommand() *cli.Command {
	var params resolveParams

	return &cli.Command{
		Name:    "resolve",
		Summary: "Resolve an identity to its content ID",
		Usage:   "conflux resolve [flags] <identity>",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("resolve", &params)
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one <identity> argument")
			}

			var result service.ResolveResult
			err := params.Hub.Client().Call(context.Background(), service.ActionResolve,
				service.ResolveArgs{Identity: args[0]}, &result)
			if err != nil {
				return err
			}

			text := result.CID.String()
			if params.Base58 {
				if text, err = result.CID.Format(cid.Base58); err != nil {
					return err
				}
			}
			fmt.Println(text)
			return nil
		},
	}
}
