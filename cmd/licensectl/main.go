package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"

	"licensegate/internal/client"
	"licensegate/internal/config"
	"licensegate/internal/infrastructure"
	"licensegate/pkg/contracts"
)

var flagServer = &cli.StringFlag{
	Name:    "server",
	Value:   "http://localhost:8080",
	Usage:   "License server base URL",
	EnvVars: []string{"LICENSEGATE_SERVER_URL"},
}

var flagToken = &cli.StringFlag{
	Name:    "token",
	Usage:   "Operator bearer token (see the token command)",
	EnvVars: []string{"LICENSEGATE_ADMIN_TOKEN"},
}

var flagPins = &cli.StringSliceFlag{
	Name:    "pin",
	Usage:   "Hex SHA-256 SPKI pin of the server certificate; repeatable",
	EnvVars: []string{"LICENSEGATE_PINNED_SPKI"},
}

var flagVerbose = &cli.BoolFlag{
	Name:    "verbose",
	Aliases: []string{"v"},
	Usage:   "Log at debug level to stderr",
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "licensectl:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "licensectl",
		Usage:   "administer licenses and drive the device guard",
		Version: contracts.GetVersionString(),
		Flags: []cli.Flag{
			flagServer,
			flagToken,
			flagPins,
			flagVerbose,
		},
		Commands: []*cli.Command{
			createCommand(),
			statusCommand(),
			revokeCommand(),
			inspectCommand(),
			listCommand(),
			exportCommand(),
			tokenCommand(),
			keygenCommand(),
			fingerprintCommand(),
			activateCommand(),
			validateCommand(),
			checkCommand(),
			watchCommand(),
		},
	}
}

// setupLogger logs to stderr so stdout stays machine readable
func setupLogger(cCtx *cli.Context) *slog.Logger {
	level := "warn"
	if cCtx.Bool(flagVerbose.Name) {
		level = "debug"
	}
	return infrastructure.NewLogger(config.LoggingConfig{Level: level, Format: "text"}, cCtx.App.ErrWriter)
}

// adminClient talks to the server with the operator token
func adminClient(cCtx *cli.Context) (*client.HTTPClient, error) {
	opts := []client.HTTPOption{client.WithUserAgent(contracts.UserAgent("licensectl"))}
	if token := cCtx.String(flagToken.Name); token != "" {
		opts = append(opts, client.WithBearerToken(token))
	}
	return client.NewHTTPClient(cCtx.String(flagServer.Name), cCtx.StringSlice(flagPins.Name), opts...)
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
