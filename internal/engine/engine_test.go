package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/davidrhodus/solana-node/internal/batch"
	"github.com/davidrhodus/solana-node/internal/endpoint"
	"github.com/davidrhodus/solana-node/internal/fetch"
	pebblestore "github.com/davidrhodus/solana-node/internal/storage/pebble"
	"github.com/davidrhodus/solana-node/internal/subscribe"
	"github.com/davidrhodus/solana-node/internal/txfilter"
	"github.com/davidrhodus/solana-node/internal/txstore"
)

// scriptedDialer serves a fixed event list once, then blocks.
type scriptedDialer struct {
	mu     sync.Mutex
	events []subscribe.Event
}

func (d *scriptedDialer) Dial(ctx context.Context, url string) (subscribe.Stream, error) {
	return &scriptedStream{d: d}, nil
}

type scriptedStream struct{ d *scriptedDialer }

func (s *scriptedStream) Recv(ctx context.Context) (subscribe.Event, error) {
	s.d.mu.Lock()
	if len(s.d.events) == 0 {
		s.d.mu.Unlock()
		<-ctx.Done()
		return subscribe.Event{}, ctx.Err()
	}
	ev := s.d.events[0]
	s.d.events = s.d.events[1:]
	s.d.mu.Unlock()
	return ev, nil
}

func (s *scriptedStream) Close() error { return nil }

// echoClient serves every signature with a fixed payload.
type echoClient struct{}

func (echoClient) GetTransaction(ctx context.Context, url, sig string) (fetch.Detail, error) {
	return fetch.Detail{Payload: []byte("payload-" + sig), Slot: 0}, nil
}

type harness struct {
	engine *Engine
	store  *txstore.Store
}

func newHarness(t *testing.T, events []subscribe.Event, client fetch.Client, filterExpr string) *harness {
	t.Helper()
	pool, err := endpoint.New(endpoint.Options{
		MaxConnections: 4,
		BackoffBase:    5 * time.Millisecond,
		BackoffCap:     20 * time.Millisecond,
	}, []string{"https://rpc-a"}, []string{"wss://ws-a"})
	if err != nil {
		t.Fatalf("pool: %v", err)
	}

	db, err := pebblestore.Open(pebblestore.Options{
		DataDir: t.TempDir(),
		Fsync:   pebblestore.FsyncModeNever,
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	store, err := txstore.Open(db, txstore.Options{Retention: time.Hour})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	mgr := subscribe.New(subscribe.Options{
		Pool:          pool,
		Dialer:        &scriptedDialer{events: events},
		ReconnectBase: 5 * time.Millisecond,
		ReconnectCap:  20 * time.Millisecond,
	})
	batcher := batch.New(batch.Options{
		MaxSize:       100,
		FlushInterval: 20 * time.Millisecond,
	}, mgr.Notices())
	fetcher := fetch.New(fetch.Options{Pool: pool, Client: client})

	filter, err := txfilter.Compile(filterExpr)
	if err != nil {
		t.Fatalf("compile filter: %v", err)
	}

	eng, err := New(Options{
		Pool:          pool,
		Manager:       mgr,
		Batcher:       batcher,
		Fetcher:       fetcher,
		Store:         store,
		Filter:        filter,
		StatsInterval: time.Hour,
		SweepInterval: time.Hour,
		DrainTimeout:  2 * time.Second,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return &harness{engine: eng, store: store}
}

func waitStored(t *testing.T, store *txstore.Store, sig string) txstore.Record {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		rec, err := store.Get(sig)
		if err == nil {
			return rec
		}
		if !errors.Is(err, txstore.ErrNotFound) {
			t.Fatalf("get %s: %v", sig, err)
		}
		if time.Now().After(deadline) {
			t.Fatalf("%s never stored", sig)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestPipelineStoresStreamedSignatures(t *testing.T) {
	h := newHarness(t, []subscribe.Event{
		{Signature: "sig-1", Slot: 100},
		{Signature: "sig-2", Slot: 101},
		{Signature: "sig-1", Slot: 100}, // duplicate collapses
	}, echoClient{}, "")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.engine.Run(ctx) }()

	rec := waitStored(t, h.store, "sig-1")
	if rec.Slot != 100 || string(rec.Payload) != "payload-sig-1" {
		t.Fatalf("unexpected record %+v", rec)
	}
	waitStored(t, h.store, "sig-2")

	st, err := h.engine.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.TransactionCount != 2 {
		t.Fatalf("expected 2 stored transactions, got %d", st.TransactionCount)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestStoreFilterDropsRecords(t *testing.T) {
	h := newHarness(t, []subscribe.Event{
		{Signature: "keep-1", Slot: 200},
		{Signature: "drop-1", Slot: 50},
	}, echoClient{}, "slot >= 100")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.engine.Run(ctx) }()

	waitStored(t, h.store, "keep-1")
	if _, err := h.store.Get("drop-1"); !errors.Is(err, txstore.ErrNotFound) {
		t.Fatalf("filtered record was stored: %v", err)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
}

// stallClient blocks every fetch until its context is cancelled.
type stallClient struct{}

func (stallClient) GetTransaction(ctx context.Context, url, sig string) (fetch.Detail, error) {
	<-ctx.Done()
	return fetch.Detail{}, ctx.Err()
}

func TestShutdownReturnsWithBackloggedBatches(t *testing.T) {
	// Single-notice batches and a stalled fetcher jam the batch channel;
	// cancellation must still unwind the batcher's final flush.
	pool, err := endpoint.New(endpoint.Options{MaxConnections: 4},
		[]string{"https://rpc-a"}, []string{"wss://ws-a"})
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeNever})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	store, err := txstore.Open(db, txstore.Options{})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	events := make([]subscribe.Event, 15)
	for i := range events {
		events[i] = subscribe.Event{Signature: fmt.Sprintf("jam-%d", i), Slot: uint64(i)}
	}
	mgr := subscribe.New(subscribe.Options{
		Pool:          pool,
		Dialer:        &scriptedDialer{events: events},
		ReconnectBase: 5 * time.Millisecond,
	})
	batcher := batch.New(batch.Options{MaxSize: 1, FlushInterval: 5 * time.Millisecond}, mgr.Notices())
	eng, err := New(Options{
		Pool:    pool,
		Manager: mgr,
		Batcher: batcher,
		Fetcher: fetch.New(fetch.Options{
			Pool:        pool,
			Client:      stallClient{},
			MaxAttempts: 1,
			Parallelism: 1,
		}),
		Store:        store,
		Filter:       txfilter.Filter{},
		DrainTimeout: 100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()

	// Let the batcher back up behind the stalled fetch.
	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not return after cancellation")
	}
}

func TestShutdownDrainsObservedSignatures(t *testing.T) {
	// A long flush interval keeps the batch pending; cancellation must
	// still flush and resolve it during the drain window.
	pool, err := endpoint.New(endpoint.Options{MaxConnections: 4},
		[]string{"https://rpc-a"}, []string{"wss://ws-a"})
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeNever})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	store, err := txstore.Open(db, txstore.Options{})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	mgr := subscribe.New(subscribe.Options{
		Pool:          pool,
		Dialer:        &scriptedDialer{events: []subscribe.Event{{Signature: "late-sig", Slot: 7}}},
		ReconnectBase: 5 * time.Millisecond,
	})
	batcher := batch.New(batch.Options{MaxSize: 100, FlushInterval: time.Hour}, mgr.Notices())
	eng, err := New(Options{
		Pool:    pool,
		Manager: mgr,
		Batcher: batcher,
		Fetcher: fetch.New(fetch.Options{Pool: pool, Client: echoClient{}}),
		Store:   store,
		Filter:  txfilter.Filter{},
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()

	// Wait until the notice reached the batcher's dedup window.
	deadline := time.Now().Add(2 * time.Second)
	for batcher.DedupSize() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("notice never reached the batcher")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, err := store.Get("late-sig"); err != nil {
		t.Fatalf("observed signature dropped at shutdown: %v", err)
	}
}
