package main

import (
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"

	"licensegate/internal/app"
	"licensegate/internal/infrastructure"
	"licensegate/pkg/contracts"
)

func main() {
	cliApp := &cli.App{
		Name:    "license-server",
		Usage:   "serve license activation, validation and administration",
		Version: contracts.GetFullVersionString(),
		Description: "Configuration is read from config.yaml (or LICENSEGATE_CONFIG_FILE) " +
			"and LICENSEGATE_* environment variables.",
		Action: func(cCtx *cli.Context) error {
			application, err := app.NewApplication()
			if err != nil {
				return err
			}
			return application.Run()
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		infrastructure.GetLogger().Error("Application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
