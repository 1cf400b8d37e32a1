package endpoint

import (
	"context"
	"errors"
	"time"

	logpkg "github.com/davidrhodus/solana-node/pkg/log"
)

var (
	// ErrBusy means the connection cap is exhausted right now.
	ErrBusy = errors.New("endpoint pool busy")
	// ErrNoHealthyEndpoint means no endpoint of the requested kind can
	// serve. Callers back off and retry; it is never fatal on its own.
	ErrNoHealthyEndpoint = errors.New("no healthy endpoint")
)

// MetricsHook observes endpoint health transitions.
type MetricsHook interface {
	ObserveHealthChange(url string, kind Kind, health Health)
}

type noopMetrics struct{}

func (noopMetrics) ObserveHealthChange(string, Kind, Health) {}

// Options configures the pool and the per-endpoint circuit breaker.
type Options struct {
	// MaxConnections caps concurrent leases across all endpoints of both
	// kinds. Required.
	MaxConnections int
	// FailureThreshold trips the breaker when this many failures land
	// inside FailureWindow. Default 3.
	FailureThreshold int
	// FailureWindow is the sliding window for counting failures. Default 30s.
	FailureWindow time.Duration
	// BackoffBase and BackoffCap bound the jittered exponential backoff
	// applied to tripped endpoints. Defaults 500ms and 30s.
	BackoffBase time.Duration
	BackoffCap  time.Duration

	Logger  logpkg.Logger
	Metrics MetricsHook
}

// Pool tracks endpoint health and enforces the global connection budget.
type Pool struct {
	sem       chan struct{}
	endpoints []*Endpoint
	opts      Options
	logger    logpkg.Logger
	metrics   MetricsHook
	now       func() time.Time
}

// New builds a pool from the configured endpoint URLs.
func New(opts Options, rpcURLs, streamingURLs []string) (*Pool, error) {
	if opts.MaxConnections <= 0 {
		return nil, errors.New("endpoint: MaxConnections must be positive")
	}
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = 3
	}
	if opts.FailureWindow <= 0 {
		opts.FailureWindow = 30 * time.Second
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 500 * time.Millisecond
	}
	if opts.BackoffCap <= 0 {
		opts.BackoffCap = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewLogger().With(logpkg.Component("endpoints"))
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}

	p := &Pool{
		sem:     make(chan struct{}, opts.MaxConnections),
		opts:    opts,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
	for _, u := range rpcURLs {
		p.endpoints = append(p.endpoints, &Endpoint{url: u, kind: KindRequestResponse})
	}
	for _, u := range streamingURLs {
		p.endpoints = append(p.endpoints, &Endpoint{url: u, kind: KindStreaming})
	}
	return p, nil
}

// Lease is one held connection slot bound to a selected endpoint. Release
// returns the slot; Report feeds the breaker.
type Lease struct {
	ep       *Endpoint
	pool     *Pool
	released bool
}

// Endpoint returns the leased endpoint.
func (l *Lease) Endpoint() *Endpoint { return l.ep }

// URL is a convenience accessor for the leased endpoint address.
func (l *Lease) URL() string { return l.ep.url }

// Release returns the connection slot to the pool. Safe to call once.
func (l *Lease) Release() {
	if l.released {
		return
	}
	l.released = true
	<-l.pool.sem
}

// Acquire leases a connection slot and selects an endpoint of the given
// kind, blocking while the pool is at capacity. Returns
// ErrNoHealthyEndpoint when every endpoint of the kind is excluded.
func (p *Pool) Acquire(ctx context.Context, kind Kind) (*Lease, error) {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	ep := p.selectEndpoint(kind)
	if ep == nil {
		<-p.sem
		return nil, ErrNoHealthyEndpoint
	}
	return &Lease{ep: ep, pool: p}, nil
}

// TryAcquire is the non-blocking variant of Acquire; it returns ErrBusy
// when the pool is at capacity.
func (p *Pool) TryAcquire(kind Kind) (*Lease, error) {
	select {
	case p.sem <- struct{}{}:
	default:
		return nil, ErrBusy
	}
	ep := p.selectEndpoint(kind)
	if ep == nil {
		<-p.sem
		return nil, ErrNoHealthyEndpoint
	}
	return &Lease{ep: ep, pool: p}, nil
}

// AcquireEndpoint leases a connection slot pinned to a specific endpoint,
// used by subscription loops that own one endpoint each. Returns
// ErrNoHealthyEndpoint while the endpoint's backoff has not elapsed.
func (p *Pool) AcquireEndpoint(ctx context.Context, ep *Endpoint) (*Lease, error) {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if !ep.selectable(p.now()) {
		<-p.sem
		return nil, ErrNoHealthyEndpoint
	}
	ep.markSelected(p.now())
	return &Lease{ep: ep, pool: p}, nil
}

// Report feeds one request outcome into the endpoint's breaker.
func (p *Pool) Report(ep *Endpoint, success bool) {
	if success {
		if changed, health := ep.reportSuccess(); changed {
			p.logger.Info("endpoint recovered",
				logpkg.Str("endpoint", ep.url), logpkg.Str("health", health.String()))
			p.metrics.ObserveHealthChange(ep.url, ep.kind, health)
		}
		return
	}
	changed, health := ep.reportFailure(p.now(), p.opts.FailureThreshold, p.opts.FailureWindow, p.backoff)
	if changed {
		p.logger.Warn("endpoint circuit opened",
			logpkg.Str("endpoint", ep.url), logpkg.Str("health", health.String()))
		p.metrics.ObserveHealthChange(ep.url, ep.kind, health)
	}
}

// MarkUnhealthy opens the endpoint's breaker immediately, bypassing the
// failure threshold. Used for permanent rejections (auth, protocol).
func (p *Pool) MarkUnhealthy(ep *Endpoint) {
	ep.forceUnhealthy(p.now(), p.backoff)
	p.logger.Warn("endpoint marked unhealthy",
		logpkg.Str("endpoint", ep.url), logpkg.Str("kind", ep.kind.String()))
	p.metrics.ObserveHealthChange(ep.url, ep.kind, Unhealthy)
}

// Endpoints returns all endpoints of the given kind.
func (p *Pool) Endpoints(kind Kind) []*Endpoint {
	var out []*Endpoint
	for _, ep := range p.endpoints {
		if ep.kind == kind {
			out = append(out, ep)
		}
	}
	return out
}

// selectEndpoint picks the best candidate of the kind: Healthy before
// Degraded (probes), ties broken by least recent use. Unhealthy endpoints
// past their backoff become probe candidates inside selectable.
func (p *Pool) selectEndpoint(kind Kind) *Endpoint {
	now := p.now()
	var best *Endpoint
	var bestHealth Health
	var bestUsed time.Time
	for _, ep := range p.endpoints {
		if ep.kind != kind || !ep.selectable(now) {
			continue
		}
		ep.mu.Lock()
		health, used := ep.health, ep.lastUsed
		ep.mu.Unlock()
		if best == nil || health < bestHealth || (health == bestHealth && used.Before(bestUsed)) {
			best, bestHealth, bestUsed = ep, health, used
		}
	}
	if best != nil {
		best.markSelected(now)
	}
	return best
}

func (p *Pool) backoff(trips int) time.Duration {
	return jitteredBackoff(p.opts.BackoffBase, p.opts.BackoffCap, trips)
}
