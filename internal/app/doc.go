// Package app is the composition root of the license server. It wires
// configuration, logging, telemetry, the SQLite store, the optional Redis
// client, the license service and the HTTP router into one Application and
// owns its lifecycle.
//
// # Initialization Flow
//
//	1. Load configuration (defaults, YAML file, LICENSEGATE_* environment)
//	2. Initialize the slog logger and OpenTelemetry providers
//	3. Open the license store and, when enabled, connect to Redis
//	4. Derive the validation token key and build the cache snapshot signer
//	5. Build the license service with its audit fan-out
//	6. Mount the router and create the HTTP server
//
// In development, missing secrets are replaced by ephemeral random values and
// a warning is logged. Any other environment refuses to start without them.
//
// # Graceful Shutdown
//
// Run handles SIGINT and SIGTERM. Stop drains in-flight requests within the
// configured shutdown timeout, closes the store and Redis, flushes telemetry
// and zeroes derived key material.
package app
