package serverrun

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/davidrhodus/solana-node/internal/batch"
	cfgpkg "github.com/davidrhodus/solana-node/internal/config"
	"github.com/davidrhodus/solana-node/internal/endpoint"
	"github.com/davidrhodus/solana-node/internal/engine"
	"github.com/davidrhodus/solana-node/internal/fetch"
	"github.com/davidrhodus/solana-node/internal/metrics"
	httpserver "github.com/davidrhodus/solana-node/internal/server/http"
	pebblestore "github.com/davidrhodus/solana-node/internal/storage/pebble"
	"github.com/davidrhodus/solana-node/internal/subscribe"
	"github.com/davidrhodus/solana-node/internal/txfilter"
	"github.com/davidrhodus/solana-node/internal/txstore"
	logpkg "github.com/davidrhodus/solana-node/pkg/log"
)

func getenvDefault(key, def string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return def
}

// small wrapper to allow testing; replaced by os.Getenv at build time
var getenv = func(key string) string { return os.Getenv(key) }

type Options struct {
	Config cfgpkg.Config
	// HTTPAddr overrides the config-derived status API address when set.
	HTTPAddr string
	// Fsync tuning for the storage layer.
	Fsync         pebblestore.FsyncMode
	FsyncInterval time.Duration
	// SweepInterval overrides the retention sweep cadence. Zero keeps the
	// engine default.
	SweepInterval time.Duration
	// Registry defaults to the process-wide Prometheus registry.
	Registry *prometheus.Registry

	// Dialer and Client override the Solana transports, used by tests.
	Dialer subscribe.Dialer
	Client fetch.Client
}

// Run wires the full pipeline from configuration and blocks until ctx is
// cancelled or the engine fails.
func Run(ctx context.Context, opts Options) error {
	// Layer a local signal context over the provided one so callers without
	// signal-aware contexts still shut down cleanly.
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := opts.Config
	if cfg.StoragePath == "" {
		cfg.StoragePath = cfgpkg.DefaultDataDir()
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logCfg := &logpkg.Config{
		Level:  getenvDefault("SOLNODE_LOG_LEVEL", "info"),
		Format: getenvDefault("SOLNODE_LOG_FORMAT", "text"),
	}
	procLogger, err := logpkg.ApplyConfig(logCfg)
	if err != nil {
		lvl := logpkg.InfoLevel
		if l, e := logpkg.ParseLevel(logCfg.Level); e == nil {
			lvl = l
		}
		procLogger = logpkg.NewLogger(logpkg.WithLevel(lvl), logpkg.WithFormatter(&logpkg.TextFormatter{}))
	}
	// Redirect stdlib logs (e.g. Pebble) to our logger
	logpkg.RedirectStdLog(procLogger)
	// Registered before the DB's deferred Close so outputs flush last.
	defer procLogger.Close()

	filter, err := txfilter.Compile(cfg.Node.StoreFilter)
	if err != nil {
		return fmt.Errorf("%w: node.store_filter: %v", cfgpkg.ErrInvalid, err)
	}

	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	mset := metrics.New(reg)

	db, err := pebblestore.Open(pebblestore.Options{
		DataDir:       filepath.Join(cfg.StoragePath, "store"),
		Fsync:         opts.Fsync,
		FsyncInterval: opts.FsyncInterval,
		Metrics:       mset.StorageHook(),
	})
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer db.Close()

	store, err := txstore.Open(db, txstore.Options{
		Retention: time.Duration(cfg.Node.StorageRetentionDays) * 24 * time.Hour,
		Logger:    procLogger.With(logpkg.Component("txstore")),
	})
	if err != nil {
		return fmt.Errorf("open transaction store: %w", err)
	}

	pool, err := endpoint.New(endpoint.Options{
		MaxConnections: cfg.Network.MaxConnections,
		Logger:         procLogger.With(logpkg.Component("endpoints")),
		Metrics:        mset.EndpointHook(),
	}, cfg.Network.RPCEndpoints, cfg.Network.WebsocketEndpoints)
	if err != nil {
		return err
	}

	dialer := opts.Dialer
	if dialer == nil {
		dialer = &subscribe.SolanaDialer{}
	}
	client := opts.Client
	if client == nil {
		client = fetch.NewSolanaClient()
	}

	mgr := subscribe.New(subscribe.Options{
		Pool:    pool,
		Dialer:  dialer,
		Logger:  procLogger.With(logpkg.Component("subscribe")),
		Metrics: mset.SubscribeHook(),
	})
	batcher := batch.New(batch.Options{
		MaxSize: cfg.Node.MaxTransactionBatchSize,
		Logger:  procLogger.With(logpkg.Component("batcher")),
		Metrics: mset.BatchHook(),
	}, mgr.Notices())
	fetcher := fetch.New(fetch.Options{
		Pool:    pool,
		Client:  client,
		Logger:  procLogger.With(logpkg.Component("fetcher")),
		Metrics: mset.FetchHook(),
	})

	eng, err := engine.New(engine.Options{
		Pool:              pool,
		Manager:           mgr,
		Batcher:           batcher,
		Fetcher:           fetcher,
		Store:             store,
		Filter:            filter,
		GossipEntrypoints: cfg.Network.GossipEntrypoints,
		SweepInterval:     opts.SweepInterval,
		Logger:            procLogger.With(logpkg.Component("engine")),
		Metrics:           mset,
	})
	if err != nil {
		return err
	}

	httpAddr := opts.HTTPAddr
	if httpAddr == "" {
		httpAddr = fmt.Sprintf(":%d", cfg.Node.ListenPort)
	}

	procLogger.Info("starting node",
		logpkg.Str("http", httpAddr),
		logpkg.Str("storage", cfg.StoragePath),
		logpkg.Int("rpc_endpoints", len(cfg.Network.RPCEndpoints)),
		logpkg.Int("websocket_endpoints", len(cfg.Network.WebsocketEndpoints)),
		logpkg.Int("max_connections", cfg.Network.MaxConnections),
		logpkg.Int("retention_days", cfg.Node.StorageRetentionDays),
		logpkg.Bool("store_filter", filter.Enabled()),
		logpkg.Str("level", logCfg.Level),
		logpkg.Str("format", logCfg.Format),
	)

	// The API lives on a child context so an engine failure also stops it.
	hctx, hcancel := context.WithCancel(sctx)
	defer hcancel()

	hsrv := httpserver.New(eng, reg)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := hsrv.ListenAndServe(hctx, httpAddr); err != nil && hctx.Err() == nil {
			procLogger.Error("http server failed", logpkg.Err(err))
		}
	}()

	runErr := eng.Run(sctx)

	// Engine drained; shut the API down before closing the DB to avoid
	// serving reads from a closing store.
	hcancel()
	wg.Wait()
	return runErr
}
