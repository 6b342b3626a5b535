// Package shared provides common test helpers used across the license gate packages.
//
// The testutil subpackage offers a buffered slog handler for asserting on log output,
// a manually advanced FakeClock for expiry, grace period and token-day rules, and
// license fixtures. It depends only on pkg/contracts so every internal package can
// import it from its tests without cycles.
package shared
