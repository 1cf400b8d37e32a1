package batch

import (
	"context"
	"time"

	"github.com/davidrhodus/solana-node/internal/subscribe"
	logpkg "github.com/davidrhodus/solana-node/pkg/log"
)

// Batch is one flushed group of unique signature notices.
type Batch struct {
	Notices []subscribe.Notice
	// OpenedAt is when the first notice of the batch arrived.
	OpenedAt time.Time
}

// MetricsHook observes batcher activity.
type MetricsHook interface {
	ObserveFlush(size int, reason string)
	ObserveDuplicate()
}

type noopMetrics struct{}

func (noopMetrics) ObserveFlush(int, string) {}
func (noopMetrics) ObserveDuplicate()        {}

// Options configures the Batcher.
type Options struct {
	// MaxSize flushes a batch once it holds this many notices. Required.
	MaxSize int
	// FlushInterval flushes a non-empty batch this long after its first
	// notice. Default 2s.
	FlushInterval time.Duration
	// DedupTTL is how long a seen signature suppresses repeats. It is
	// raised to FlushInterval when set lower. Default 2*FlushInterval.
	DedupTTL time.Duration

	Logger  logpkg.Logger
	Metrics MetricsHook
}

// Batcher consumes notices and emits deduplicated, size- and time-bounded
// batches.
type Batcher struct {
	opts    Options
	in      <-chan subscribe.Notice
	out     chan Batch
	dedup   *dedupSet
	logger  logpkg.Logger
	metrics MetricsHook
}

// New builds a Batcher reading from in. Run must be called to start it.
func New(opts Options, in <-chan subscribe.Notice) *Batcher {
	if opts.MaxSize <= 0 {
		opts.MaxSize = 1000
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 2 * time.Second
	}
	if opts.DedupTTL <= 0 {
		opts.DedupTTL = 2 * opts.FlushInterval
	}
	if opts.DedupTTL < opts.FlushInterval {
		opts.DedupTTL = opts.FlushInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewLogger().With(logpkg.Component("batcher"))
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Batcher{
		opts:    opts,
		in:      in,
		out:     make(chan Batch, 8),
		dedup:   newDedupSet(opts.DedupTTL),
		logger:  logger,
		metrics: metrics,
	}
}

// Batches is the output stream. It is closed after the input channel closes
// or ctx is cancelled, once the final partial batch has been flushed.
func (b *Batcher) Batches() <-chan Batch { return b.out }

// DedupSize reports how many signatures the dedup window currently tracks.
func (b *Batcher) DedupSize() int { return b.dedup.Len() }

// Run pumps notices into batches until the input closes or ctx is
// cancelled. Any partial batch is flushed before the output channel closes,
// so already-observed signatures are not dropped at shutdown.
func (b *Batcher) Run(ctx context.Context) {
	defer close(b.out)

	var pending []subscribe.Notice
	var openedAt time.Time
	timer := time.NewTimer(b.opts.FlushInterval)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	flush := func(reason string) {
		if len(pending) == 0 {
			return
		}
		batch := Batch{Notices: pending, OpenedAt: openedAt}
		pending = nil
		b.metrics.ObserveFlush(len(batch.Notices), reason)
		b.logger.Debug("flushing batch",
			logpkg.Int("size", len(batch.Notices)), logpkg.Str("reason", reason))
		select {
		case b.out <- batch:
		case <-ctx.Done():
			// Shutdown drain: the engine keeps reading batches until the
			// channel closes, so a blocking send here would deadlock.
			b.out <- batch
		}
	}

	for {
		select {
		case n, ok := <-b.in:
			if !ok {
				flush("shutdown")
				return
			}
			if !b.dedup.Observe(n.Signature) {
				b.metrics.ObserveDuplicate()
				continue
			}
			if len(pending) == 0 {
				openedAt = n.ObservedAt
				if openedAt.IsZero() {
					openedAt = time.Now()
				}
				timer.Reset(b.opts.FlushInterval)
			}
			pending = append(pending, n)
			if len(pending) >= b.opts.MaxSize {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				flush("size")
			}
		case <-timer.C:
			flush("interval")
		case <-ctx.Done():
			flush("shutdown")
			return
		}
	}
}
