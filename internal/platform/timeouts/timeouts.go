// Package timeouts defines shared timeout constants used across the service.
// Centralizing these values prevents drift between component boundaries and
// makes the durations discoverable.
package timeouts

import "time"

// ProviderFetch caps a single round trip to an external entropy provider.
// A hung provider degrades to the next tier within this window instead of
// stalling the whole fallback chain.
const ProviderFetch = 8 * time.Second

// ReadHeader limits how long the HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long the HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second

// BackgroundRefill caps a fire-and-forget pool refill so an unresponsive
// provider chain cannot leak goroutines indefinitely.
const BackgroundRefill = 30 * time.Second
