// Package client is the device side of the license gate.
//
// A Guard answers "may this capability run now" from a signed local cache
// without touching the network. The cache is authoritative only while its
// signature verifies, the license has not expired and the last server
// verdict is younger than the offline grace period. Every other case denies.
// Refresh and Run talk to the server through Remote and replace the cache
// atomically.
package client
