package fetch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/davidrhodus/solana-node/internal/batch"
	"github.com/davidrhodus/solana-node/internal/endpoint"
	"github.com/davidrhodus/solana-node/internal/subscribe"
	"github.com/davidrhodus/solana-node/internal/txstore"
	logpkg "github.com/davidrhodus/solana-node/pkg/log"
)

// ErrNotFound means the endpoint definitively does not know the signature.
// It is terminal for the signature and does not count against the endpoint.
var ErrNotFound = errors.New("transaction not found")

// Detail is the fetched payload for one signature.
type Detail struct {
	// Payload is the encoded transaction exactly as returned upstream.
	Payload []byte
	// Slot is the slot the transaction landed in, when the endpoint
	// reports one. Zero means unknown; the notice slot is used instead.
	Slot uint64
	// BlockTime is the block timestamp, zero when the endpoint omits it.
	BlockTime time.Time
}

// Client fetches transaction details from one endpoint.
type Client interface {
	GetTransaction(ctx context.Context, url, signature string) (Detail, error)
}

// MetricsHook observes fetch outcomes.
type MetricsHook interface {
	ObserveFetch(outcome string)
}

type noopMetrics struct{}

func (noopMetrics) ObserveFetch(string) {}

// Options configures the Fetcher.
type Options struct {
	Pool   *endpoint.Pool
	Client Client
	// MaxAttempts bounds retries per signature across endpoints. Default 3.
	MaxAttempts int
	// RequestTimeout bounds one fetch attempt. Default 10s.
	RequestTimeout time.Duration
	// Parallelism is the worker count per batch. Default 8. The endpoint
	// pool's connection cap still applies on top of it.
	Parallelism int
	// IdleRetry is how long to wait when no healthy endpoint exists before
	// trying again. Default 1s.
	IdleRetry time.Duration

	Logger  logpkg.Logger
	Metrics MetricsHook
}

// Result summarizes one resolved batch.
type Result struct {
	Records  []txstore.Record
	NotFound int
	Failed   int
}

// Fetcher resolves batches of notices into storable records.
type Fetcher struct {
	opts    Options
	pool    *endpoint.Pool
	client  Client
	logger  logpkg.Logger
	metrics MetricsHook
}

// New builds a Fetcher.
func New(opts Options) *Fetcher {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = 8
	}
	if opts.IdleRetry <= 0 {
		opts.IdleRetry = time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewLogger().With(logpkg.Component("fetcher"))
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Fetcher{
		opts:    opts,
		pool:    opts.Pool,
		client:  opts.Client,
		logger:  logger,
		metrics: metrics,
	}
}

// Resolve fetches details for every notice in the batch. Not-found and
// exhausted signatures are counted, logged, and excluded from Records; the
// only error returned is context cancellation.
func (f *Fetcher) Resolve(ctx context.Context, b batch.Batch) (Result, error) {
	jobs := make(chan subscribe.Notice)
	var mu sync.Mutex
	var res Result

	var wg sync.WaitGroup
	workers := f.opts.Parallelism
	if workers > len(b.Notices) {
		workers = len(b.Notices)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := range jobs {
				rec, err := f.fetchOne(ctx, n)
				mu.Lock()
				switch {
				case err == nil:
					res.Records = append(res.Records, rec)
					f.metrics.ObserveFetch("ok")
				case errors.Is(err, ErrNotFound):
					res.NotFound++
					f.metrics.ObserveFetch("not_found")
					f.logger.Debug("transaction not found upstream",
						logpkg.Str("signature", n.Signature), logpkg.Uint64("slot", n.Slot))
				case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
					res.Failed++
				default:
					res.Failed++
					f.metrics.ObserveFetch("failed")
					f.logger.Warn("giving up on signature",
						logpkg.Str("signature", n.Signature), logpkg.Err(err))
				}
				mu.Unlock()
			}
		}()
	}

	for _, n := range b.Notices {
		select {
		case jobs <- n:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(jobs)
	wg.Wait()
	return res, ctx.Err()
}

// fetchOne retries a single signature across endpoints until it succeeds,
// is definitively not found, or attempts run out. A pool with no healthy
// endpoint is waited out rather than counted as an attempt.
func (f *Fetcher) fetchOne(ctx context.Context, n subscribe.Notice) (txstore.Record, error) {
	var lastErr error
	for attempt := 0; attempt < f.opts.MaxAttempts; {
		lease, err := f.pool.Acquire(ctx, endpoint.KindRequestResponse)
		if err != nil {
			if errors.Is(err, endpoint.ErrNoHealthyEndpoint) {
				if !sleepCtx(ctx, f.opts.IdleRetry) {
					return txstore.Record{}, ctx.Err()
				}
				continue
			}
			return txstore.Record{}, err
		}

		reqCtx, cancel := context.WithTimeout(ctx, f.opts.RequestTimeout)
		detail, err := f.client.GetTransaction(reqCtx, lease.URL(), n.Signature)
		cancel()

		if err == nil {
			f.pool.Report(lease.Endpoint(), true)
			lease.Release()
			slot := detail.Slot
			if slot == 0 {
				slot = n.Slot
			}
			// time.Time{}.Unix() is not 0; guard so unknown stays 0.
			var blockTime int64
			if !detail.BlockTime.IsZero() {
				blockTime = detail.BlockTime.Unix()
			}
			return txstore.Record{
				Signature: n.Signature,
				Slot:      slot,
				BlockTime: blockTime,
				Payload:   detail.Payload,
				FetchedAt: time.Now(),
			}, nil
		}
		if errors.Is(err, ErrNotFound) {
			f.pool.Report(lease.Endpoint(), true)
			lease.Release()
			return txstore.Record{}, err
		}
		f.pool.Report(lease.Endpoint(), false)
		lease.Release()
		if ctx.Err() != nil {
			return txstore.Record{}, ctx.Err()
		}
		lastErr = err
		attempt++
	}
	return txstore.Record{}, lastErr
}

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
