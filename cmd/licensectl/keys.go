package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"licensegate/internal/license"
	"licensegate/internal/security"
)

// keygenCommand writes the Ed25519 pair used to sign cache snapshots. The
// private half goes to the server, the public half ships with devices.
func keygenCommand() *cli.Command {
	return &cli.Command{
		Name:  "keygen",
		Usage: "generate the cache snapshot signing key pair",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "private", Value: "snapshot-private.pem", Usage: "Path for the private key (server)"},
			&cli.StringFlag{Name: "public", Value: "snapshot-public.pem", Usage: "Path for the public key (devices)"},
		},
		Action: func(cCtx *cli.Context) error {
			pub, priv, err := security.GenerateSnapshotKey()
			if err != nil {
				return err
			}
			defer security.ClearKey(priv)

			if err := security.WriteKeyPair(cCtx.String("private"), cCtx.String("public"), pub, priv); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cCtx.App.Writer, "wrote %s and %s (kid %s)\n",
				cCtx.String("private"), cCtx.String("public"), license.KeyID(pub))
			return err
		},
	}
}
