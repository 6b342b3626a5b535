package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"licensegate/internal/audit"
	"licensegate/internal/auth"
	"licensegate/internal/config"
	apperrors "licensegate/internal/errors"
	"licensegate/internal/infrastructure"
	"licensegate/internal/license"
	"licensegate/internal/middleware"
	"licensegate/internal/ratelimit"
	"licensegate/internal/security"
	"licensegate/internal/store/sqlite"
	handlers "licensegate/internal/transport/http"
	"licensegate/pkg/contracts"
)

const AppName = "License Gate"

// Application represents the license server container
type Application struct {
	Config        *config.Config
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders
	DB            *sqlite.DB
	Redis         *redis.Client
	Service       *license.Service
	Router        http.Handler
	Server        *http.Server

	keys [][]byte
}

// NewApplication loads configuration and logging, then wires the server
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return New(cfg, logger)
}

// New wires every component from an already loaded configuration.
// On error, anything opened so far is closed again.
func New(cfg *config.Config, logger *slog.Logger) (app *Application, err error) {
	logger.Info("Application starting",
		slog.String("name", AppName),
		slog.String("version", contracts.Version),
		slog.String("environment", cfg.Environment))

	app = &Application{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			app.close(context.Background())
			app = nil
		}
	}()

	app.OTelProviders, err = infrastructure.InitializeOTel(cfg.Telemetry, contracts.Version, logger)
	if err != nil {
		return app, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	app.DB, err = sqlite.Open(cfg.Store.Path, logger)
	if err != nil {
		return app, fmt.Errorf("failed to open license store: %w", err)
	}

	if cfg.Redis.Enabled {
		if err := app.connectRedis(); err != nil {
			return app, err
		}
	}

	if err := app.initializeService(); err != nil {
		return app, fmt.Errorf("failed to initialize services: %w", err)
	}
	if err := app.setupRouter(); err != nil {
		return app, fmt.Errorf("failed to setup router: %w", err)
	}
	app.createServer()
	return app, nil
}

// connectRedis opens the shared client. An unreachable server at boot is
// logged and tolerated: the limiter fails open and the audit fan-out keeps
// the database record.
func (a *Application) connectRedis() error {
	client, err := audit.Connect(a.Config.Redis.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	a.Redis = client

	ctx, cancel := context.WithTimeout(context.Background(), a.Config.Redis.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		a.Logger.Warn("Redis not reachable at startup",
			slog.String("url", redactURL(a.Config.Redis.URL)),
			slog.String("error", err.Error()))
	}
	return nil
}

func (a *Application) initializeService() error {
	secret, err := a.secret("signing secret", a.Config.Signing.Secret)
	if err != nil {
		return err
	}
	tokenKey, err := security.DeriveKey(secret, security.LabelValidationToken)
	if err != nil {
		return err
	}
	a.keys = append(a.keys, secret, tokenKey)

	snapshots, err := a.snapshotSigner(secret)
	if err != nil {
		return err
	}

	metrics, err := license.InitializeLicenseMetrics(a.OTelProviders.Meter)
	if err != nil {
		return fmt.Errorf("failed to initialize license metrics: %w", err)
	}

	sinks := []audit.Sink{audit.NewStoreSink(a.DB), audit.NewLogSink(a.Logger)}
	if a.Redis != nil && a.Config.Redis.AuditStream != "" {
		sinks = append(sinks, audit.NewRedisStreamSink(a.Redis, a.Config.Redis.AuditStream, 0))
	}

	a.Service, err = license.NewService(license.Deps{
		Store:      a.DB,
		Audit:      audit.NewMultiSink(sinks...),
		Authorizer: auth.NewRoleAuthorizer(a.Config.Auth.AdminRole),
		Tokens:     license.NewTokenSigner(tokenKey, license.SystemClock{}),
		Snapshots:  snapshots,
		Clock:      license.SystemClock{},
		Policy: license.Policy{
			LastSeenThrottle:  a.Config.Policy.LastSeenThrottle,
			DefaultExpiryDays: a.Config.Policy.DefaultExpiryDays,
			KeyPrefix:         a.Config.Policy.KeyPrefix,
			PlatformTag:       a.Config.Policy.PlatformTag,
			MaxKeyAttempts:    a.Config.Policy.MaxKeyAttempts,
		},
		Logger:  a.Logger,
		Metrics: metrics,
		Tracer:  a.OTelProviders.Tracer,
	})
	return err
}

// snapshotSigner builds the cache snapshot signer named by the config.
// "none" returns a nil signer and devices receive no cache signature.
func (a *Application) snapshotSigner(secret []byte) (license.SnapshotSigner, error) {
	cfg := a.Config.Signing
	switch cfg.SnapshotAlgorithm {
	case "HS256":
		key, err := security.DeriveKey(secret, security.LabelCacheSnapshot)
		if err != nil {
			return nil, err
		}
		a.keys = append(a.keys, key)
		signer, err := license.NewHMACSnapshotSigner(key)
		if err != nil {
			return nil, err
		}
		return signer.WithKeyID(cfg.SnapshotKeyID), nil

	case "EdDSA":
		var priv []byte
		if cfg.SnapshotKeyFile != "" {
			key, err := security.LoadPrivateKey(cfg.SnapshotKeyFile)
			if err != nil {
				return nil, fmt.Errorf("failed to load snapshot key: %w", err)
			}
			priv = key
		} else {
			_, key, err := security.GenerateSnapshotKey()
			if err != nil {
				return nil, err
			}
			a.Logger.Warn("No snapshot key file configured, using an ephemeral key; device caches will not verify after restart")
			priv = key
		}
		a.keys = append(a.keys, priv)
		signer, err := license.NewEdDSASnapshotSigner(priv)
		if err != nil {
			return nil, err
		}
		a.Logger.Info("Cache snapshots signed with EdDSA", slog.String("kid", signer.KeyID()))
		return signer, nil
	}

	a.Logger.Warn("Cache snapshot signing disabled")
	return nil, nil
}

// secret returns a provisioned secret, or an ephemeral one in development
func (a *Application) secret(name, value string) ([]byte, error) {
	if value != "" {
		return []byte(value), nil
	}
	if !a.Config.IsDevelopment() {
		return nil, fmt.Errorf("%s is required", name)
	}
	a.Logger.Warn("Secret not provisioned, using an ephemeral value", slog.String("secret", name))
	buf := make([]byte, security.DerivedKeySize)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("failed to generate %s: %w", name, err)
	}
	return buf, nil
}

func (a *Application) setupRouter() error {
	jwtSecret, err := a.secret("jwt secret", a.Config.Auth.JWTSecret)
	if err != nil {
		return err
	}
	a.keys = append(a.keys, jwtSecret)
	tokens, err := auth.NewTokenService(jwtSecret, a.Config.Auth.Issuer, a.Config.Auth.Leeway)
	if err != nil {
		return err
	}

	health := handlers.NewHealthHandler(contracts.Version, a.Logger)
	health.AddCheck("database", a.DB)
	if a.Redis != nil {
		health.AddCheck("redis", handlers.PingFunc(func(ctx context.Context) error {
			return a.Redis.Ping(ctx).Err()
		}))
	}

	var cors *middleware.CORSConfig
	if a.Config.Security.EnableCORS {
		c := a.corsConfig()
		cors = &c
	}

	a.Router, err = handlers.NewRouter(handlers.RouterConfig{
		Service:        a.Service,
		Health:         health,
		Metrics:        handlers.NewMetricsHandler(a.OTelProviders.PrometheusHTTP),
		ErrHandler:     apperrors.NewErrorHandler(a.Logger, a.Config.IsDevelopment()),
		Tokens:         tokens,
		Providers:      a.OTelProviders,
		Logger:         a.Logger,
		Limiter:        a.limiter(),
		CORS:           cors,
		RequestTimeout: a.Config.Server.RequestTimeout,
	})
	return err
}

// limiter picks the shared Redis window when Redis is configured so every
// replica counts against one budget
func (a *Application) limiter() ratelimit.Limiter {
	rl := a.Config.Security.RateLimit
	if !rl.Enabled {
		return nil
	}
	if a.Redis != nil {
		return ratelimit.NewRedisLimiter(a.Redis, a.Config.Redis.KeyPrefix+"ratelimit:", rl.Limit, rl.Window)
	}
	return ratelimit.NewLocalLimiter(rl.RPS, rl.Burst)
}

func (a *Application) corsConfig() middleware.CORSConfig {
	cfg := middleware.CORSConfig{
		AllowedOrigins: a.Config.Security.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept",
			"Authorization",
			"Content-Type",
			"X-Request-ID",
		},
		ExposedHeaders: []string{"X-Request-ID", "Retry-After"},
		MaxAge:         300,
	}
	a.Logger.Info("CORS configured", slog.Any("allowed_origins", cfg.AllowedOrigins))
	return cfg
}

// createServer creates the HTTP server
func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:           a.Config.Server.Addr(),
		Handler:        a.Router,
		ReadTimeout:    a.Config.Server.ReadTimeout,
		WriteTimeout:   a.Config.Server.WriteTimeout,
		IdleTimeout:    a.Config.Server.IdleTimeout,
		MaxHeaderBytes: a.Config.Server.MaxHeaderBytes,
		ErrorLog:       slog.NewLogLogger(a.Logger.Handler(), slog.LevelWarn),
	}
}

// Start binds the listener and serves in the background. A serve failure
// after startup cancels ctx through cancel.
func (a *Application) Start(ctx context.Context, cancel context.CancelFunc) error {
	a.Logger.InfoContext(ctx, "Starting application",
		slog.String("name", AppName),
		slog.String("version", contracts.Version),
		slog.String("address", a.Server.Addr),
		slog.String("level", a.Config.Logging.Level))

	if err := a.performStartupHealthCheck(ctx); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", a.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.Server.Addr, err)
	}
	// port 0 binds an ephemeral port; report the real one
	a.Server.Addr = ln.Addr().String()

	go func() {
		if err := a.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.ErrorContext(ctx, "Server error", slog.String("error", err.Error()))
			cancel()
		}
	}()

	a.Logger.InfoContext(ctx, "Application started successfully",
		slog.String("address", a.Server.Addr))
	return nil
}

// Stop drains in-flight requests, then releases the store, Redis and telemetry
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "Shutting down application")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if a.Server != nil {
		if err := a.Server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
		}
	}
	if err := a.close(shutdownCtx); err != nil {
		errs = append(errs, err)
	}

	a.Logger.InfoContext(ctx, "Application shutdown complete")
	return errors.Join(errs...)
}

func (a *Application) close(ctx context.Context) error {
	var errs []error
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store close: %w", err))
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(ctx); err != nil {
			a.Logger.ErrorContext(ctx, "Error shutting down OpenTelemetry", slog.String("error", err.Error()))
		}
	}
	for _, key := range a.keys {
		security.ClearKey(key)
	}
	a.keys = nil
	return errors.Join(errs...)
}

// Run runs the application until interrupted
func (a *Application) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	if err := a.Start(ctx, cancel); err != nil {
		a.close(ctx)
		return err
	}

	select {
	case sig := <-sigChan:
		a.Logger.InfoContext(ctx, "Received interrupt signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		a.Logger.WarnContext(ctx, "Server stopped unexpectedly")
	}

	return a.Stop(context.Background())
}

// performStartupHealthCheck refuses to start on an unreachable store
func (a *Application) performStartupHealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := a.DB.Ping(ctx); err != nil {
		return fmt.Errorf("startup health check failed: %w", err)
	}
	a.Logger.InfoContext(ctx, "Startup health check passed")
	return nil
}

func redactURL(raw string) string {
	if opt, err := redis.ParseURL(raw); err == nil {
		return opt.Addr
	}
	return raw
}
