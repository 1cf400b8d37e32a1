package endpoint

import (
	"math/rand"
	"sync"
	"time"
)

// Kind classifies an endpoint's transport.
type Kind int

const (
	// KindRequestResponse is an RPC endpoint used for detail fetches.
	KindRequestResponse Kind = iota
	// KindStreaming is a WebSocket endpoint used for live subscriptions.
	KindStreaming
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindRequestResponse:
		return "rpc"
	case KindStreaming:
		return "streaming"
	default:
		return "unknown"
	}
}

// Health is the breaker state of an endpoint.
type Health int

const (
	// Healthy endpoints are in normal rotation.
	Healthy Health = iota
	// Degraded endpoints are past their backoff and awaiting a single probe.
	Degraded
	// Unhealthy endpoints are excluded from selection until their backoff
	// elapses.
	Unhealthy
)

// String returns the health state name.
func (h Health) String() string {
	switch h {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	case Unhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Endpoint is one configured upstream source. It is created at startup and
// never destroyed; the breaker re-enables it after backoff.
type Endpoint struct {
	url  string
	kind Kind

	mu        sync.Mutex
	health    Health
	failures  []time.Time // failure timestamps inside the sliding window
	trips     int         // consecutive breaker trips, drives backoff growth
	nextRetry time.Time
	lastUsed  time.Time
	probing   bool
}

// URL returns the endpoint address.
func (e *Endpoint) URL() string { return e.url }

// Kind returns the endpoint transport kind.
func (e *Endpoint) Kind() Kind { return e.kind }

// Health returns the current breaker state.
func (e *Endpoint) Health() Health {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.health
}

// FailureCount returns the failures recorded in the current window.
func (e *Endpoint) FailureCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.failures)
}

// selectable reports whether the endpoint may serve a request at now, and
// flips Unhealthy to Degraded (probe pending) once backoff has elapsed.
// Caller holds no lock.
func (e *Endpoint) selectable(now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.health {
	case Healthy:
		return true
	case Degraded:
		// One probe at a time.
		return !e.probing
	case Unhealthy:
		if now.Before(e.nextRetry) {
			return false
		}
		e.health = Degraded
		return !e.probing
	}
	return false
}

// markSelected records a selection at now. Degraded endpoints enter probing.
func (e *Endpoint) markSelected(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastUsed = now
	if e.health == Degraded {
		e.probing = true
	}
}

// reportSuccess closes the breaker.
func (e *Endpoint) reportSuccess() (changed bool, health Health) {
	e.mu.Lock()
	defer e.mu.Unlock()
	changed = e.health != Healthy
	e.health = Healthy
	e.failures = e.failures[:0]
	e.trips = 0
	e.probing = false
	return changed, e.health
}

// reportFailure records a failure at now. A probing endpoint trips straight
// back to Unhealthy; a Healthy one trips once the window fills.
func (e *Endpoint) reportFailure(now time.Time, threshold int, window time.Duration, backoff func(trips int) time.Duration) (changed bool, health Health) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.probing || e.health == Degraded {
		e.trip(now, backoff)
		return true, e.health
	}

	e.failures = append(e.failures, now)
	cutoff := now.Add(-window)
	kept := e.failures[:0]
	for _, ts := range e.failures {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	e.failures = kept

	if len(e.failures) >= threshold {
		e.trip(now, backoff)
		return true, e.health
	}
	return false, e.health
}

// forceUnhealthy opens the breaker immediately, bypassing the threshold.
// Used for permanent rejections such as authentication failures.
func (e *Endpoint) forceUnhealthy(now time.Time, backoff func(trips int) time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.trip(now, backoff)
}

// trip opens the breaker. Caller holds e.mu.
func (e *Endpoint) trip(now time.Time, backoff func(trips int) time.Duration) {
	e.trips++
	e.health = Unhealthy
	e.failures = e.failures[:0]
	e.probing = false
	e.nextRetry = now.Add(backoff(e.trips))
}

// jitteredBackoff returns base*2^(trips-1) capped at max, with +/-50% jitter.
func jitteredBackoff(base, max time.Duration, trips int) time.Duration {
	d := base
	for i := 1; i < trips; i++ {
		d *= 2
		if d >= max {
			d = max
			break
		}
	}
	if d > max {
		d = max
	}
	jittered := time.Duration(float64(d) * (0.5 + rand.Float64()))
	if jittered < base/2 {
		jittered = base / 2
	}
	return jittered
}
