package subscribe

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/davidrhodus/solana-node/internal/endpoint"
	logpkg "github.com/davidrhodus/solana-node/pkg/log"
)

// Notice is the canonical normalized form of a streaming event: a
// transaction signature observed on some endpoint.
type Notice struct {
	Signature  string
	Slot       uint64
	ObservedAt time.Time
	Source     string
}

// Event is a raw streaming event before normalization.
type Event struct {
	Signature string
	Slot      uint64
}

// Stream is one live subscription to a streaming endpoint.
type Stream interface {
	// Recv blocks for the next event. It returns promptly with ctx.Err()
	// when ctx is cancelled.
	Recv(ctx context.Context) (Event, error)
	Close() error
}

// Dialer connects and subscribes to a streaming endpoint.
type Dialer interface {
	Dial(ctx context.Context, url string) (Stream, error)
}

// ErrSubscriptionRejected marks a permanent refusal (authentication or
// protocol). The endpoint is taken out of rotation immediately instead of
// burning through the failure threshold.
var ErrSubscriptionRejected = errors.New("subscription rejected")

// MetricsHook observes subscription activity.
type MetricsHook interface {
	ObserveNotice(source string)
	ObserveReconnect(source string)
}

type noopMetrics struct{}

func (noopMetrics) ObserveNotice(string)    {}
func (noopMetrics) ObserveReconnect(string) {}

// Options configures the Manager.
type Options struct {
	Pool   *endpoint.Pool
	Dialer Dialer
	Logger logpkg.Logger
	// ReconnectBase and ReconnectCap bound the jittered exponential backoff
	// between connect attempts. Defaults 1s and 1m.
	ReconnectBase time.Duration
	ReconnectCap  time.Duration
	// MaxReadErrors is how many consecutive read errors are tolerated in
	// the Degraded state before the stream is torn down. Default 3.
	MaxReadErrors int
	// ConnectTimeout bounds one dial attempt. Default 15s.
	ConnectTimeout time.Duration
	// Buffer is the notice channel capacity. Default 1024.
	Buffer  int
	Metrics MetricsHook
}

// Manager runs one subscription loop per streaming endpoint and emits
// normalized notices on a single channel.
type Manager struct {
	opts    Options
	pool    *endpoint.Pool
	dialer  Dialer
	logger  logpkg.Logger
	metrics MetricsHook

	out    chan Notice
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	states map[string]State
}

// New builds a Manager. Start must be called before notices flow.
func New(opts Options) *Manager {
	if opts.ReconnectBase <= 0 {
		opts.ReconnectBase = time.Second
	}
	if opts.ReconnectCap <= 0 {
		opts.ReconnectCap = time.Minute
	}
	if opts.MaxReadErrors <= 0 {
		opts.MaxReadErrors = 3
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 15 * time.Second
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 1024
	}
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewLogger().With(logpkg.Component("subscribe"))
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Manager{
		opts:    opts,
		pool:    opts.Pool,
		dialer:  opts.Dialer,
		logger:  logger,
		metrics: metrics,
		out:     make(chan Notice, opts.Buffer),
		states:  make(map[string]State),
	}
}

// Notices is the stream of normalized events. It is closed after Stop once
// all endpoint loops have exited.
func (m *Manager) Notices() <-chan Notice { return m.out }

// States snapshots the connection state per endpoint URL.
func (m *Manager) States() map[string]State {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]State, len(m.states))
	for k, v := range m.states {
		out[k] = v
	}
	return out
}

// Start launches one subscription loop per streaming endpoint.
func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	for _, ep := range m.pool.Endpoints(endpoint.KindStreaming) {
		m.setState(ep.URL(), StateDisconnected)
		m.wg.Add(1)
		go m.runEndpoint(ctx, ep)
	}
	go func() {
		m.wg.Wait()
		close(m.out)
	}()
}

// Stop cancels all streaming connections and waits for the loops to exit.
// In-flight reads are cancelled, not awaited.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

func (m *Manager) setState(url string, s State) {
	m.mu.Lock()
	m.states[url] = s
	m.mu.Unlock()
}

// runEndpoint drives the per-endpoint connection state machine until ctx is
// cancelled.
func (m *Manager) runEndpoint(ctx context.Context, ep *endpoint.Endpoint) {
	defer m.wg.Done()
	url := ep.URL()
	attempts := 0

	for ctx.Err() == nil {
		lease, err := m.pool.AcquireEndpoint(ctx, ep)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// Pool excluded the endpoint (breaker open); idle and retry.
			m.setState(url, StateReconnecting)
			if !sleepCtx(ctx, m.backoff(attempts)) {
				return
			}
			continue
		}

		m.setState(url, StateConnecting)
		session := uuid.NewString()
		slog := m.logger.With(logpkg.Str("endpoint", url), logpkg.Str("session", session))

		dialCtx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
		stream, err := m.dialer.Dial(dialCtx, url)
		cancel()
		if err != nil {
			if errors.Is(err, ErrSubscriptionRejected) {
				slog.Error("subscription rejected", logpkg.Err(err))
				m.pool.MarkUnhealthy(ep)
			} else {
				slog.Warn("connect failed", logpkg.Err(err))
				m.pool.Report(ep, false)
			}
			lease.Release()
			m.setState(url, StateReconnecting)
			m.metrics.ObserveReconnect(url)
			attempts++
			if !sleepCtx(ctx, m.backoff(attempts)) {
				return
			}
			continue
		}

		m.pool.Report(ep, true)
		m.setState(url, StateSubscribed)
		slog.Info("subscribed")
		attempts = 0

		m.readLoop(ctx, ep, stream, slog)
		_ = stream.Close()
		lease.Release()
		if ctx.Err() != nil {
			m.setState(url, StateDisconnected)
			return
		}
		m.setState(url, StateReconnecting)
		m.metrics.ObserveReconnect(url)
		attempts++
		if !sleepCtx(ctx, m.backoff(attempts)) {
			return
		}
	}
}

// readLoop pumps events from one stream until it fails permanently or ctx
// is cancelled. Transient read errors put the connection in Degraded and
// are tolerated up to MaxReadErrors before teardown.
func (m *Manager) readLoop(ctx context.Context, ep *endpoint.Endpoint, stream Stream, slog logpkg.Logger) {
	url := ep.URL()
	readErrs := 0
	for {
		ev, err := stream.Recv(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			if errors.Is(err, ErrSubscriptionRejected) {
				slog.Error("stream rejected mid-subscription", logpkg.Err(err))
				m.pool.MarkUnhealthy(ep)
				return
			}
			readErrs++
			m.setState(url, StateDegraded)
			slog.Warn("stream read error", logpkg.Err(err), logpkg.Int("consecutive", readErrs))
			if readErrs >= m.opts.MaxReadErrors {
				m.pool.Report(ep, false)
				return
			}
			continue
		}
		if readErrs > 0 {
			readErrs = 0
			m.setState(url, StateSubscribed)
		}
		notice := Notice{
			Signature:  ev.Signature,
			Slot:       ev.Slot,
			ObservedAt: time.Now(),
			Source:     url,
		}
		select {
		case m.out <- notice:
			m.metrics.ObserveNotice(url)
		case <-ctx.Done():
			return
		}
	}
}

// backoff computes the jittered exponential reconnect delay for the given
// attempt count.
func (m *Manager) backoff(attempts int) time.Duration {
	d := m.opts.ReconnectBase
	for i := 0; i < attempts; i++ {
		d *= 2
		if d >= m.opts.ReconnectCap {
			d = m.opts.ReconnectCap
			break
		}
	}
	return time.Duration(float64(d) * (0.5 + rand.Float64()))
}

// sleepCtx sleeps for d, returning false if ctx was cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
