// Package endpoint tracks the health and concurrency budget of configured
// upstream data sources.
//
// Endpoints come in two kinds: request/response (RPC) and streaming
// (WebSocket). A single semaphore sized by the configured connection cap is
// shared across both kinds, so total leased connections never exceed the
// cap. Each endpoint carries a circuit breaker: repeated failures inside a
// sliding window take it out of rotation, and a jittered exponential backoff
// schedules a single probe before it is trusted again.
package endpoint
