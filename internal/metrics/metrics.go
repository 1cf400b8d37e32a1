// Package metrics exposes Prometheus collectors for every pipeline stage
// and adapters implementing the per-package metrics hooks.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/davidrhodus/solana-node/internal/endpoint"
)

// Set holds all collectors for one engine instance.
type Set struct {
	EndpointHealth   *prometheus.GaugeVec
	NoticesTotal     *prometheus.CounterVec
	ReconnectsTotal  *prometheus.CounterVec
	BatchesTotal     *prometheus.CounterVec
	BatchSize        prometheus.Histogram
	DuplicatesTotal  prometheus.Counter
	FetchesTotal     *prometheus.CounterVec
	StoredTotal      prometheus.Counter
	FilteredTotal    prometheus.Counter
	SweptTotal       prometheus.Counter
	StorageWrites    prometheus.Histogram
	StorageReads     prometheus.Histogram
	StorageCommits   prometheus.Histogram
	TransactionCount prometheus.Gauge
	StorageBytes     prometheus.Gauge
}

// New builds and registers the collector set. Pass
// prometheus.DefaultRegisterer in production; tests use a fresh registry.
func New(reg prometheus.Registerer) *Set {
	s := &Set{
		EndpointHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "solnode_endpoint_health",
			Help: "Endpoint health (0 healthy, 1 degraded, 2 unhealthy).",
		}, []string{"endpoint", "kind"}),
		NoticesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "solnode_notices_total",
			Help: "Signature notices received per streaming endpoint.",
		}, []string{"endpoint"}),
		ReconnectsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "solnode_stream_reconnects_total",
			Help: "Streaming reconnect attempts per endpoint.",
		}, []string{"endpoint"}),
		BatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "solnode_batches_total",
			Help: "Batches flushed, by flush reason.",
		}, []string{"reason"}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "solnode_batch_size",
			Help:    "Flushed batch sizes.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		DuplicatesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "solnode_duplicate_notices_total",
			Help: "Notices dropped as duplicates within the dedup window.",
		}),
		FetchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "solnode_fetches_total",
			Help: "Detail fetches by outcome.",
		}, []string{"outcome"}),
		StoredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "solnode_transactions_stored_total",
			Help: "Transaction records written to storage.",
		}),
		FilteredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "solnode_transactions_filtered_total",
			Help: "Fetched transactions rejected by the store filter.",
		}),
		SweptTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "solnode_transactions_swept_total",
			Help: "Expired transaction records removed by retention sweeps.",
		}),
		StorageWrites: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "solnode_storage_write_seconds",
			Help:    "Single-key storage write latency.",
			Buckets: prometheus.DefBuckets,
		}),
		StorageReads: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "solnode_storage_read_seconds",
			Help:    "Storage read latency.",
			Buckets: prometheus.DefBuckets,
		}),
		StorageCommits: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "solnode_storage_commit_seconds",
			Help:    "Batch commit latency.",
			Buckets: prometheus.DefBuckets,
		}),
		TransactionCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "solnode_transactions",
			Help: "Approximate stored transaction count.",
		}),
		StorageBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "solnode_storage_bytes",
			Help: "Approximate on-disk size of the transaction store.",
		}),
	}
	reg.MustRegister(
		s.EndpointHealth, s.NoticesTotal, s.ReconnectsTotal,
		s.BatchesTotal, s.BatchSize, s.DuplicatesTotal,
		s.FetchesTotal, s.StoredTotal, s.FilteredTotal, s.SweptTotal,
		s.StorageWrites, s.StorageReads, s.StorageCommits,
		s.TransactionCount, s.StorageBytes,
	)
	return s
}

// EndpointHook adapts the set to the endpoint pool's hook interface.
func (s *Set) EndpointHook() endpoint.MetricsHook { return endpointHook{s} }

type endpointHook struct{ s *Set }

func (h endpointHook) ObserveHealthChange(url string, kind endpoint.Kind, health endpoint.Health) {
	h.s.EndpointHealth.WithLabelValues(url, kind.String()).Set(float64(health))
}

// SubscribeHook adapts the set to the subscription manager's hook interface.
func (s *Set) SubscribeHook() subscribeHook { return subscribeHook{s} }

type subscribeHook struct{ s *Set }

func (h subscribeHook) ObserveNotice(source string) {
	h.s.NoticesTotal.WithLabelValues(source).Inc()
}

func (h subscribeHook) ObserveReconnect(source string) {
	h.s.ReconnectsTotal.WithLabelValues(source).Inc()
}

// BatchHook adapts the set to the batcher's hook interface.
func (s *Set) BatchHook() batchHook { return batchHook{s} }

type batchHook struct{ s *Set }

func (h batchHook) ObserveFlush(size int, reason string) {
	h.s.BatchesTotal.WithLabelValues(reason).Inc()
	h.s.BatchSize.Observe(float64(size))
}

func (h batchHook) ObserveDuplicate() {
	h.s.DuplicatesTotal.Inc()
}

// FetchHook adapts the set to the fetcher's hook interface.
func (s *Set) FetchHook() fetchHook { return fetchHook{s} }

type fetchHook struct{ s *Set }

func (h fetchHook) ObserveFetch(outcome string) {
	h.s.FetchesTotal.WithLabelValues(outcome).Inc()
}

// StorageHook adapts the set to the storage wrapper's hook interface.
func (s *Set) StorageHook() storageHook { return storageHook{s} }

type storageHook struct{ s *Set }

func (h storageHook) ObserveWrite(elapsed time.Duration, bytes int) {
	h.s.StorageWrites.Observe(elapsed.Seconds())
}

func (h storageHook) ObserveRead(elapsed time.Duration, bytes int) {
	h.s.StorageReads.Observe(elapsed.Seconds())
}

func (h storageHook) ObserveBatchCommit(elapsed time.Duration, numOps, bytes int) {
	h.s.StorageCommits.Observe(elapsed.Seconds())
}
