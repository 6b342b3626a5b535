package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"licensegate/internal/auth"
	"licensegate/internal/config"
	"licensegate/internal/exporter"
	api "licensegate/pkg/contracts/api/v1"
)

func createCommand() *cli.Command {
	return &cli.Command{
		Name:  "create",
		Usage: "issue a new license",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "business-type", Required: true, Usage: "Business type the license is issued for"},
			&cli.IntFlag{Name: "max-devices", Value: 1, Usage: "Device quota"},
			&cli.IntFlag{Name: "expiry-days", Usage: "Validity in days; 0 uses the server default"},
			&cli.StringFlag{Name: "customer", Usage: "Customer identifier"},
			&cli.StringSliceFlag{Name: "module", Usage: "Enabled module; repeatable"},
			&cli.StringFlag{Name: "type", Usage: "Commercial license type, e.g. standard"},
		},
		Action: func(cCtx *cli.Context) error {
			c, err := adminClient(cCtx)
			if err != nil {
				return err
			}
			resp, err := c.CreateLicense(cCtx.Context, api.CreateLicenseRequest{
				BusinessType:   cCtx.String("business-type"),
				MaxDevices:     cCtx.Int("max-devices"),
				ExpiryDays:     cCtx.Int("expiry-days"),
				CustomerID:     cCtx.String("customer"),
				EnabledModules: cCtx.StringSlice("module"),
				Type:           cCtx.String("type"),
			})
			if err != nil {
				return err
			}
			return printJSON(cCtx.App.Writer, resp)
		},
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "set a license to active, blocked or suspended",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "license-id", Required: true},
			&cli.StringFlag{Name: "status", Required: true, Usage: "active, blocked or suspended"},
		},
		Action: func(cCtx *cli.Context) error {
			c, err := adminClient(cCtx)
			if err != nil {
				return err
			}
			resp, err := c.UpdateStatus(cCtx.Context, api.UpdateLicenseStatusRequest{
				LicenseID: cCtx.String("license-id"),
				Status:    strings.ToLower(cCtx.String("status")),
			})
			if err != nil {
				return err
			}
			return printJSON(cCtx.App.Writer, resp)
		},
	}
}

func revokeCommand() *cli.Command {
	return &cli.Command{
		Name:  "revoke",
		Usage: "revoke a device binding and free its slot",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "license-id", Required: true},
			&cli.StringFlag{Name: "fingerprint", Required: true},
		},
		Action: func(cCtx *cli.Context) error {
			c, err := adminClient(cCtx)
			if err != nil {
				return err
			}
			resp, err := c.RevokeDevice(cCtx.Context, api.RevokeDeviceRequest{
				LicenseID:   cCtx.String("license-id"),
				Fingerprint: cCtx.String("fingerprint"),
			})
			if err != nil {
				return err
			}
			return printJSON(cCtx.App.Writer, resp)
		},
	}
}

func inspectCommand() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "show a license and its devices",
		ArgsUsage: "LICENSE_KEY",
		Action: func(cCtx *cli.Context) error {
			key := cCtx.Args().First()
			if key == "" {
				return errors.New("license key argument is required")
			}
			c, err := adminClient(cCtx)
			if err != nil {
				return err
			}
			resp, err := c.Inspect(cCtx.Context, key)
			if err != nil {
				return err
			}
			return printJSON(cCtx.App.Writer, resp)
		},
	}
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "list licenses",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "customer"},
			&cli.StringFlag{Name: "status"},
			&cli.IntFlag{Name: "limit", Value: 50},
		},
		Action: func(cCtx *cli.Context) error {
			c, err := adminClient(cCtx)
			if err != nil {
				return err
			}
			licenses, err := c.List(cCtx.Context, cCtx.String("customer"), cCtx.String("status"), cCtx.Int("limit"))
			if err != nil {
				return err
			}
			return printJSON(cCtx.App.Writer, api.ListLicensesResponse{Licenses: licenses, Count: len(licenses)})
		},
	}
}

// tokenCommand mints an operator token offline from the server's JWT secret
func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "mint an operator bearer token",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "secret", Required: true, EnvVars: []string{config.EnvPrefix + "_AUTH_JWT_SECRET"}, Usage: "Server JWT secret"},
			&cli.StringFlag{Name: "issuer", Value: "licensegate", EnvVars: []string{config.EnvPrefix + "_AUTH_ISSUER"}},
			&cli.StringFlag{Name: "subject", Required: true, Usage: "Operator name recorded in the audit trail"},
			&cli.StringFlag{Name: "role", Value: "admin"},
			&cli.StringFlag{Name: "tenant", Value: auth.AllTenants, Usage: "Customer the operator may manage, * for all"},
			&cli.DurationFlag{Name: "ttl", Value: 8 * time.Hour},
		},
		Action: func(cCtx *cli.Context) error {
			tokens, err := auth.NewTokenService([]byte(cCtx.String("secret")), cCtx.String("issuer"), 0)
			if err != nil {
				return err
			}
			token, err := tokens.Issue(cCtx.String("subject"), cCtx.String("role"), cCtx.String("tenant"), cCtx.Duration("ttl"))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cCtx.App.Writer, token)
			return err
		},
	}
}

// exportCommand writes the license listing to a CSV or XLSX report
func exportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "export licenses to a CSV or XLSX report",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Required: true, Usage: "Report path; the extension picks the format unless --format is set"},
			&cli.StringFlag{Name: "format", Usage: "csv or xlsx"},
			&cli.StringFlag{Name: "customer"},
			&cli.StringFlag{Name: "status"},
			&cli.IntFlag{Name: "limit", Value: 500},
		},
		Action: func(cCtx *cli.Context) error {
			out := cCtx.String("out")
			format := exporter.FormatFromPath(out)
			if cCtx.IsSet("format") {
				f, err := exporter.ParseFormat(cCtx.String("format"))
				if err != nil {
					return err
				}
				format = f
			}

			c, err := adminClient(cCtx)
			if err != nil {
				return err
			}
			licenses, err := c.List(cCtx.Context, cCtx.String("customer"), cCtx.String("status"), cCtx.Int("limit"))
			if err != nil {
				return err
			}

			headers, records := exporter.LicenseReport(licenses)
			if err := exporter.Write(out, format, headers, records); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cCtx.App.Writer, "wrote %d licenses to %s\n", len(licenses), out)
			return err
		},
	}
}
