// Package subscribe owns the live streaming connections to upstream
// endpoints.
//
// One goroutine runs per streaming endpoint, driving an explicit connection
// state machine (Disconnected -> Connecting -> Subscribed -> Degraded ->
// Reconnecting) with jittered exponential backoff between attempts. Inbound
// events are normalized into Notices and emitted on a single channel;
// deduplication across endpoints is deliberately left to the batcher. A
// permanently refused subscription marks the endpoint unhealthy in the pool
// immediately.
package subscribe
