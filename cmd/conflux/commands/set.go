// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/conflux-foundation/conflux/cmd/conflux/cli"
	"github.com/conflux-foundation/conflux/lib/fragment"
	"github.com/conflux-foundation/conflux/lib/service"
)

type setParams struct {
	cli.JSONOutput
	Hub  cli.HubConnection
	File string `flag:"file" desc:"read the payload from this file instead of the argument"`
}

func setCommand() *cli.Command {
	var params setParams

	return &cli.Command{
		Name:    "set",
		Summary: "Commit a payload under an identity",
		Description: `Commit a payload under an identity. A new identity creates a
fragment at version 1 with a content ID derived from this first
payload; a known identity mutates its fragment and bumps the version.

The payload comes from the second argument, from --file, or from
stdin when neither is given.`,
		Usage: "conflux set [flags] <identity> [payload]",
		Examples: []cli.Example{
			{Command: `conflux set app/config '{"mode":"dark"}'`},
			{Command: "conflux set app/config --file config.json"},
			{Command: "cat config.json | conflux set app/config"},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("set", &params)
		},
		Run: func(args []string) error {
			if len(args) < 1 || len(args) > 2 {
				return fmt.Errorf("expected <identity> [payload], got %d arguments", len(args))
			}
			identity := args[0]

			payload, err := setPayload(args, params.File)
			if err != nil {
				return err
			}

			var committed fragment.Fragment
			err = params.Hub.Client().Call(context.Background(), service.ActionSet,
				service.SetArgs{Identity: identity, Payload: payload}, &committed)
			if err != nil {
				return err
			}

			if done, err := params.EmitJSON(committed); done {
				return err
			}
			fmt.Printf("%s version %d (%d bytes)\n",
				committed.ID, committed.Version, len(committed.Payload))
			return nil
		},
	}
}

// setPayload resolves the payload source: explicit argument, --file,
// or stdin. An argument and --file together is ambiguous and refused.
func setPayload(args []string, file string) ([]byte, error) {
	if len(args) == 2 && file != "" {
		return nil, fmt.Errorf("payload argument and --file are mutually exclusive")
	}
	if len(args) == 2 {
		return []byte(args[1]), nil
	}
	if file != "" {
		payload, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("reading payload: %w", err)
		}
		return payload, nil
	}
	payload, err := io.ReadAll(os.Stdin)
	if err != nil {
		return nil, fmt.Errorf("reading payload from stdin: %w", err)
	}
	return payload, nil
}
