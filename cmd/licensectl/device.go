package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"licensegate/internal/client"
	"licensegate/internal/config"
	"licensegate/internal/license"
	"licensegate/internal/security"
	"licensegate/pkg/contracts"
	api "licensegate/pkg/contracts/api/v1"
)

var flagFingerprint = &cli.StringFlag{
	Name:  "fingerprint",
	Usage: "Override the machine fingerprint, e.g. when provisioning a device image",
}

// decisionOutput is the printable form of a guard decision
type decisionOutput struct {
	Allowed         bool       `json:"allowed"`
	Capability      string     `json:"capability,omitempty"`
	LicenseKey      string     `json:"licenseKey,omitempty"`
	ExpiryDate      *time.Time `json:"expiryDate,omitempty"`
	LastValidatedAt *time.Time `json:"lastValidatedAt,omitempty"`
	Error           string     `json:"error,omitempty"`
}

func toOutput(capability string, d client.Decision) decisionOutput {
	out := decisionOutput{Allowed: d.Allowed, Capability: capability}
	if d.LicenseKey != "" {
		out.LicenseKey = license.MaskLicenseKey(d.LicenseKey)
	}
	if !d.ExpiryDate.IsZero() {
		out.ExpiryDate = &d.ExpiryDate
	}
	if !d.LastValidatedAt.IsZero() {
		out.LastValidatedAt = &d.LastValidatedAt
	}
	if d.Err != nil {
		out.Error = d.Err.Error()
	}
	return out
}

// loadClientConfig reads LICENSEGATE_CLIENT_* and applies the global flags
// the operator set explicitly
func loadClientConfig(cCtx *cli.Context) (*config.ClientConfig, error) {
	return config.LoadClient(func(cfg *config.ClientConfig) {
		if cCtx.IsSet(flagServer.Name) {
			cfg.ServerURL = cCtx.String(flagServer.Name)
		}
		if cCtx.IsSet(flagPins.Name) {
			cfg.PinnedSPKI = cCtx.StringSlice(flagPins.Name)
		}
	})
}

func snapshotVerifier(cfg *config.ClientConfig) (license.SnapshotVerifier, error) {
	switch cfg.SnapshotAlgorithm {
	case "EdDSA":
		pub, err := security.LoadPublicKey(cfg.SnapshotPublicKeyFile)
		if err != nil {
			return nil, err
		}
		return license.NewEdDSASnapshotVerifier(pub)
	case "HS256":
		key, err := security.DeriveKey([]byte(cfg.SnapshotSecret), security.LabelCacheSnapshot)
		if err != nil {
			return nil, err
		}
		return license.NewHMACSnapshotVerifier(key)
	}
	return nil, fmt.Errorf("unsupported snapshot algorithm: %q", cfg.SnapshotAlgorithm)
}

func newGuard(cCtx *cli.Context, logger *slog.Logger) (*client.Guard, *config.ClientConfig, error) {
	cfg, err := loadClientConfig(cCtx)
	if err != nil {
		return nil, nil, err
	}
	if err := config.EnsureDir(cfg.DataDir); err != nil {
		return nil, nil, err
	}

	fm := security.NewFingerprintManager(cfg.AppID, cfg.DataDir, logger)
	fingerprint := cCtx.String(flagFingerprint.Name)
	if fingerprint == "" {
		if fingerprint, err = fm.Fingerprint(); err != nil {
			return nil, nil, err
		}
	}

	verifier, err := snapshotVerifier(cfg)
	if err != nil {
		return nil, nil, err
	}
	remote, err := client.NewHTTPClient(cfg.ServerURL, cfg.PinnedSPKI,
		client.WithUserAgent(contracts.UserAgent("licensectl")))
	if err != nil {
		return nil, nil, err
	}

	guard, err := client.NewGuard(client.Options{
		Cache:          client.NewFileCache(cfg.CachePath()),
		Remote:         remote,
		Verifier:       verifier,
		Fingerprint:    fingerprint,
		BusinessType:   cfg.BusinessType,
		Platform:       cfg.Platform,
		DeviceName:     fm.GetHostname(),
		GracePeriod:    cfg.GracePeriod,
		RequestTimeout: cfg.RequestTimeout,
		Logger:         logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return guard, cfg, nil
}

func fingerprintCommand() *cli.Command {
	return &cli.Command{
		Name:  "fingerprint",
		Usage: "print this machine's device fingerprint",
		Action: func(cCtx *cli.Context) error {
			cfg, err := config.DefaultClient()
			if err != nil {
				return err
			}
			if err := cfg.LoadEnv(); err != nil {
				return err
			}
			if err := config.EnsureDir(cfg.DataDir); err != nil {
				return err
			}
			fp, err := security.NewFingerprintManager(cfg.AppID, cfg.DataDir, setupLogger(cCtx)).GenerateFingerprint()
			if err != nil {
				return err
			}
			return printJSON(cCtx.App.Writer, fp)
		},
	}
}

func activateCommand() *cli.Command {
	return &cli.Command{
		Name:      "activate",
		Usage:     "bind this device to a license and cache the verdict",
		ArgsUsage: "LICENSE_KEY",
		Flags:     []cli.Flag{flagFingerprint},
		Action: func(cCtx *cli.Context) error {
			key := cCtx.Args().First()
			if key == "" {
				return errors.New("license key argument is required")
			}
			guard, _, err := newGuard(cCtx, setupLogger(cCtx))
			if err != nil {
				return err
			}
			resp, err := guard.Activate(cCtx.Context, api.ActivateLicenseRequest{LicenseKey: key})
			if err != nil {
				return err
			}
			resp.ValidationToken = ""
			resp.CacheSignature = ""
			return printJSON(cCtx.App.Writer, resp)
		},
	}
}

func validateCommand() *cli.Command {
	return &cli.Command{
		Name:  "validate",
		Usage: "revalidate the cached license with the server",
		Flags: []cli.Flag{flagFingerprint},
		Action: func(cCtx *cli.Context) error {
			guard, _, err := newGuard(cCtx, setupLogger(cCtx))
			if err != nil {
				return err
			}
			if err := guard.Refresh(cCtx.Context); err != nil {
				return err
			}
			return printJSON(cCtx.App.Writer, toOutput("", guard.Check("")))
		},
	}
}

// checkCommand answers offline from the cache and exits 2 when denied
func checkCommand() *cli.Command {
	return &cli.Command{
		Name:      "check",
		Usage:     "check the cached license, optionally for one module",
		ArgsUsage: "[MODULE]",
		Flags:     []cli.Flag{flagFingerprint},
		Action: func(cCtx *cli.Context) error {
			guard, _, err := newGuard(cCtx, setupLogger(cCtx))
			if err != nil {
				return err
			}
			capability := cCtx.Args().First()
			decision := guard.Check(capability)
			if err := printJSON(cCtx.App.Writer, toOutput(capability, decision)); err != nil {
				return err
			}
			if !decision.Allowed {
				return cli.Exit("", 2)
			}
			return nil
		},
	}
}

// watchCommand keeps the cache fresh until interrupted
func watchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "revalidate periodically until interrupted",
		Flags: []cli.Flag{
			flagFingerprint,
			&cli.DurationFlag{Name: "interval", Usage: "Revalidation interval; defaults to the client config"},
		},
		Action: func(cCtx *cli.Context) error {
			logger := setupLogger(cCtx)
			guard, cfg, err := newGuard(cCtx, logger)
			if err != nil {
				return err
			}
			interval := cCtx.Duration("interval")
			if interval <= 0 {
				interval = cfg.RefreshEvery
			}

			ctx, stop := signal.NotifyContext(cCtx.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if err := guard.Run(ctx, interval); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}
