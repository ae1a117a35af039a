// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/pflag"

	"github.com/conflux-foundation/conflux/cmd/conflux/cli"
	"github.com/conflux-foundation/conflux/lib/sealed"
	"github.com/conflux-foundation/conflux/lib/secret"
	"github.com/conflux-foundation/conflux/lib/service"
)

type exportParams struct {
	Hub  cli.HubConnection
	Seal string `flag:"seal" desc:"age recipient to seal the snapshot to"`
}

func exportCommand() *cli.Command {
	var params exportParams

	return &cli.Command{
		Name:    "export",
		Summary: "Write a snapshot of the hub to a file",
		Description: "Asks the hub to write every fragment and identity binding to\n" +
			"a snapshot file. With --seal the snapshot is encrypted to the\n" +
			"given age recipient and only the matching identity can read\n" +
			"it back.",
		Usage: "conflux export [flags] <path>",
		Examples: []cli.Example{
			{Command: "conflux export backup.conflux"},
			{
				Description: "Sealed to an age recipient",
				Command:     "conflux export --seal age1... backup.conflux",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("export", &params)
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one <path> argument")
			}

			// The daemon writes the file, so a relative path would
			// resolve against its working directory, not ours.
			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}

			var result service.ExportResult
			err = params.Hub.Client().Call(context.Background(), service.ActionExport,
				service.ExportArgs{Path: path, Recipient: params.Seal}, &result)
			if err != nil {
				return err
			}

			fmt.Printf("exported %d fragments, %d identities (%d bytes) to %s\n",
				result.Fragments, result.Identities, result.Bytes, path)
			return nil
		},
	}
}

type importParams struct {
	Hub          cli.HubConnection
	IdentityFile string `flag:"identity-file,i" desc:"age identity file for sealed snapshots"`
}

func importCommand() *cli.Command {
	var params importParams

	return &cli.Command{
		Name:    "import",
		Summary: "Replay a snapshot's identity bindings into the hub",
		Description: "Reads a snapshot written by export and commits each identity\n" +
			"binding's payload through an ordinary set call. Fragments that\n" +
			"had mutated since creation come back under fresh content IDs;\n" +
			"fragments with no identity binding are skipped, since there is\n" +
			"nothing to address them by.",
		Usage: "conflux import [flags] <path>",
		Examples: []cli.Example{
			{Command: "conflux import backup.conflux"},
			{
				Description: "A sealed snapshot needs the matching identity",
				Command:     "conflux import -i key.txt backup.conflux",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("import", &params)
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one <path> argument")
			}

			file, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer file.Close()

			var identity *secret.Buffer
			if params.IdentityFile != "" {
				identity, err = sealed.LoadIdentity(params.IdentityFile)
				if err != nil {
					return err
				}
				defer identity.Close()
			}

			snap, err := sealed.ReadSnapshot(file, identity)
			if err != nil {
				return fmt.Errorf("reading snapshot: %w", err)
			}

			payloads := make(map[string][]byte, len(snap.Fragments))
			for _, frag := range snap.Fragments {
				payloads[frag.ID.String()] = frag.Payload
			}

			identities := make([]string, 0, len(snap.Identities))
			for name := range snap.Identities {
				identities = append(identities, name)
			}
			sort.Strings(identities)

			client := params.Hub.Client()
			ctx := context.Background()
			imported := 0
			for _, name := range identities {
				payload, ok := payloads[snap.Identities[name].String()]
				if !ok {
					fmt.Fprintf(os.Stderr, "skipping %s: fragment missing from snapshot\n", name)
					continue
				}
				err := client.Call(ctx, service.ActionSet,
					service.SetArgs{Identity: name, Payload: payload}, nil)
				if err != nil {
					return fmt.Errorf("importing %s: %w", name, err)
				}
				imported++
			}

			unbound := len(snap.Fragments) - len(snap.Identities)
			if unbound > 0 {
				fmt.Fprintf(os.Stderr, "skipped %d fragments with no identity binding\n", unbound)
			}
			fmt.Printf("imported %d identities from %s\n", imported, args[0])
			return nil
		},
	}
}

func keygenCommand() *cli.Command {
	return &cli.Command{
		Name:    "keygen",
		Summary: "Generate an age keypair for sealed exports",
		Description: "Generates an age x25519 keypair and writes the identity file\n" +
			"to <path> with owner-only permissions. The public key goes to\n" +
			"stdout; pass it to export --seal. The file format matches\n" +
			"age-keygen, so existing age identities work with import too.",
		Usage: "conflux keygen <path>",
		Examples: []cli.Example{
			{Command: "conflux keygen key.txt"},
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one <path> argument")
			}

			keypair, err := sealed.GenerateKeypair()
			if err != nil {
				return err
			}
			defer keypair.Close()

			file, err := os.OpenFile(args[0], os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
			if err != nil {
				return err
			}

			_, err = fmt.Fprintf(file, "# created: %s\n# public key: %s\n%s\n",
				time.Now().Format(time.RFC3339), keypair.PublicKey,
				keypair.PrivateKey.String())
			if err != nil {
				file.Close()
				return err
			}
			if err := file.Close(); err != nil {
				return err
			}

			fmt.Println(keypair.PublicKey)
			return nil
		},
	}
}
