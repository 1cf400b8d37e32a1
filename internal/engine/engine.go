package engine

import (
	"context"
	"errors"
	"time"

	"github.com/davidrhodus/solana-node/internal/batch"
	"github.com/davidrhodus/solana-node/internal/endpoint"
	"github.com/davidrhodus/solana-node/internal/fetch"
	"github.com/davidrhodus/solana-node/internal/metrics"
	"github.com/davidrhodus/solana-node/internal/subscribe"
	"github.com/davidrhodus/solana-node/internal/txfilter"
	"github.com/davidrhodus/solana-node/internal/txstore"
	logpkg "github.com/davidrhodus/solana-node/pkg/log"
)

// Options wires the pipeline stages into an Engine. Pool, Manager, Batcher,
// Fetcher and Store are required.
type Options struct {
	Pool    *endpoint.Pool
	Manager *subscribe.Manager
	Batcher *batch.Batcher
	Fetcher *fetch.Fetcher
	Store   *txstore.Store
	Filter  txfilter.Filter

	// GossipEntrypoints is inert configuration surfaced in stats for
	// external collaborators; the engine never contacts them.
	GossipEntrypoints []string

	// SweepInterval is how often the retention sweep runs. Default 1h.
	// Ignored when the store's retention is unbounded.
	SweepInterval time.Duration
	// StatsInterval is how often pipeline stats are logged. Default 30s.
	StatsInterval time.Duration
	// DrainTimeout bounds how long shutdown spends resolving batches that
	// were already observed. Default 10s.
	DrainTimeout time.Duration

	Logger  logpkg.Logger
	Metrics *metrics.Set
}

// Stats is a point-in-time snapshot of the pipeline.
type Stats struct {
	TransactionCount  uint64
	ApproxSizeBytes   uint64
	DedupTracked      int
	Streams           map[string]string
	GossipEntrypoints []string
	StartedAt         time.Time
}

// Engine runs the ingestion pipeline: streamed notices are batched,
// resolved to full records, filtered, and stored. It owns the lifecycle of
// every stage and enforces the shutdown order.
type Engine struct {
	opts      Options
	logger    logpkg.Logger
	startedAt time.Time
}

// New builds an Engine from wired stages.
func New(opts Options) (*Engine, error) {
	if opts.Pool == nil || opts.Manager == nil || opts.Batcher == nil ||
		opts.Fetcher == nil || opts.Store == nil {
		return nil, errors.New("engine: missing required stage")
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Hour
	}
	if opts.StatsInterval <= 0 {
		opts.StatsInterval = 30 * time.Second
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = 10 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewLogger().With(logpkg.Component("engine"))
	}
	return &Engine{opts: opts, logger: logger}, nil
}

// Run drives the pipeline until ctx is cancelled or durable state is found
// corrupted. On cancellation the intake is stopped first, then batches
// already observed are drained under DrainTimeout so accepted signatures
// are not dropped.
func (e *Engine) Run(ctx context.Context) error {
	e.startedAt = time.Now()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.opts.Manager.Start(runCtx)
	batcherDone := make(chan struct{})
	go func() {
		e.opts.Batcher.Run(runCtx)
		close(batcherDone)
	}()

	sweepTick := time.NewTicker(e.opts.SweepInterval)
	defer sweepTick.Stop()
	statsTick := time.NewTicker(e.opts.StatsInterval)
	defer statsTick.Stop()

	e.logger.Info("engine started",
		logpkg.Dur("sweep_interval", e.opts.SweepInterval),
		logpkg.Dur("stats_interval", e.opts.StatsInterval))

	var fatal error
loop:
	for {
		select {
		case b, ok := <-e.opts.Batcher.Batches():
			if !ok {
				break loop
			}
			if err := e.processBatch(runCtx, b); err != nil {
				fatal = err
				break loop
			}
		case <-sweepTick.C:
			e.sweep(runCtx)
		case <-statsTick.C:
			e.logStats()
		case <-ctx.Done():
			break loop
		}
	}

	// Shutdown order: stop intake, then resolve what was already accepted.
	// The drain must run before waiting for the batcher to exit: its final
	// flush blocks on the output channel when the buffer is full, so
	// waiting first would deadlock.
	cancel()
	e.opts.Manager.Stop()

	if fatal == nil {
		drainCtx, drainCancel := context.WithTimeout(context.Background(), e.opts.DrainTimeout)
		defer drainCancel()
		for b := range e.opts.Batcher.Batches() {
			if err := e.processBatch(drainCtx, b); err != nil {
				e.logger.Warn("drain incomplete", logpkg.Err(err))
				break
			}
		}
	}
	// Discard whatever remains (fatal store, or a drain cut short) so the
	// batcher's final send completes and the channel closes.
	for range e.opts.Batcher.Batches() {
	}
	<-batcherDone

	e.logStats()
	e.logger.Info("engine stopped")
	if fatal != nil {
		return fatal
	}
	return nil
}

// processBatch resolves one batch and stores the surviving records. Only a
// corrupted store is fatal; fetch failures were already counted and logged.
func (e *Engine) processBatch(ctx context.Context, b batch.Batch) error {
	res, err := e.opts.Fetcher.Resolve(ctx, b)
	if err != nil && len(res.Records) == 0 {
		return nil
	}
	stored, filtered := 0, 0
	for _, rec := range res.Records {
		if !e.opts.Filter.Match(rec) {
			filtered++
			continue
		}
		if err := e.upsertWithRetry(ctx, rec); err != nil {
			if errors.Is(err, txstore.ErrCorrupted) {
				e.logger.Error("storage corrupted, stopping ingestion", logpkg.Err(err))
				return err
			}
			e.logger.Warn("store failed",
				logpkg.Str("signature", rec.Signature), logpkg.Err(err))
			continue
		}
		stored++
	}
	if m := e.opts.Metrics; m != nil {
		m.StoredTotal.Add(float64(stored))
		m.FilteredTotal.Add(float64(filtered))
	}
	e.logger.Debug("batch processed",
		logpkg.Int("stored", stored),
		logpkg.Int("filtered", filtered),
		logpkg.Int("not_found", res.NotFound),
		logpkg.Int("failed", res.Failed))
	return nil
}

// upsertWithRetry retries transient write failures a few times with a short
// backoff. Corruption is returned immediately; a started write is never
// cancelled mid-flight.
func (e *Engine) upsertWithRetry(ctx context.Context, rec txstore.Record) error {
	const attempts = 3
	var err error
	for i := 0; i < attempts; i++ {
		if err = e.opts.Store.Upsert(ctx, rec); err == nil {
			return nil
		}
		if errors.Is(err, txstore.ErrCorrupted) {
			return err
		}
		if i < attempts-1 {
			select {
			case <-time.After(time.Duration(i+1) * 50 * time.Millisecond):
			case <-ctx.Done():
				return err
			}
		}
	}
	return err
}

const (
	sweepBatchLimit = 512
	sweepThrottle   = 10 * time.Millisecond
)

func (e *Engine) sweep(ctx context.Context) {
	removed, err := e.opts.Store.SweepExpired(ctx, time.Now(), sweepBatchLimit, sweepThrottle)
	if err != nil {
		e.logger.Warn("retention sweep failed", logpkg.Err(err))
		return
	}
	if m := e.opts.Metrics; m != nil {
		m.SweptTotal.Add(float64(removed))
	}
	if removed > 0 {
		e.logger.Info("retention sweep", logpkg.Int("removed", removed))
	}
}

func (e *Engine) logStats() {
	st, err := e.Stats()
	if err != nil {
		e.logger.Warn("stats unavailable", logpkg.Err(err))
		return
	}
	if m := e.opts.Metrics; m != nil {
		m.TransactionCount.Set(float64(st.TransactionCount))
		m.StorageBytes.Set(float64(st.ApproxSizeBytes))
	}
	e.logger.Info("pipeline stats",
		logpkg.Uint64("transactions", st.TransactionCount),
		logpkg.Uint64("storage_bytes", st.ApproxSizeBytes),
		logpkg.Int("dedup_tracked", st.DedupTracked))
}

// Stats snapshots the store and stream state for logging and the status API.
func (e *Engine) Stats() (Stats, error) {
	ss, err := e.opts.Store.Stats()
	if err != nil {
		return Stats{}, err
	}
	streams := make(map[string]string)
	for url, state := range e.opts.Manager.States() {
		streams[url] = state.String()
	}
	return Stats{
		TransactionCount:  ss.TransactionCount,
		ApproxSizeBytes:   ss.ApproxSizeBytes,
		DedupTracked:      e.opts.Batcher.DedupSize(),
		Streams:           streams,
		GossipEntrypoints: e.opts.GossipEntrypoints,
		StartedAt:         e.startedAt,
	}, nil
}

// GetTransaction reads one stored record by signature.
func (e *Engine) GetTransaction(signature string) (txstore.Record, error) {
	return e.opts.Store.Get(signature)
}

// ScanSlotRange lists stored records in [startSlot, endSlot].
func (e *Engine) ScanSlotRange(startSlot, endSlot uint64, limit int) ([]txstore.Record, error) {
	return e.opts.Store.ScanSlotRange(startSlot, endSlot, limit)
}

// CheckHealth verifies the store answers reads.
func (e *Engine) CheckHealth(ctx context.Context) error {
	return e.opts.Store.CheckHealth(ctx)
}
