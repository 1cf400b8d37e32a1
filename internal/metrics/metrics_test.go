package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/davidrhodus/solana-node/internal/endpoint"
)

func TestHooksFeedCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := New(reg)

	s.EndpointHook().ObserveHealthChange("https://rpc-a", endpoint.KindRequestResponse, endpoint.Unhealthy)
	if got := testutil.ToFloat64(s.EndpointHealth.WithLabelValues("https://rpc-a", "rpc")); got != 2 {
		t.Fatalf("endpoint health gauge = %v, want 2", got)
	}

	s.SubscribeHook().ObserveNotice("wss://ws-a")
	s.SubscribeHook().ObserveNotice("wss://ws-a")
	if got := testutil.ToFloat64(s.NoticesTotal.WithLabelValues("wss://ws-a")); got != 2 {
		t.Fatalf("notices counter = %v, want 2", got)
	}

	s.BatchHook().ObserveFlush(10, "size")
	s.BatchHook().ObserveDuplicate()
	if got := testutil.ToFloat64(s.BatchesTotal.WithLabelValues("size")); got != 1 {
		t.Fatalf("batches counter = %v, want 1", got)
	}
	if got := testutil.ToFloat64(s.DuplicatesTotal); got != 1 {
		t.Fatalf("duplicates counter = %v, want 1", got)
	}

	s.FetchHook().ObserveFetch("ok")
	s.FetchHook().ObserveFetch("not_found")
	if got := testutil.ToFloat64(s.FetchesTotal.WithLabelValues("not_found")); got != 1 {
		t.Fatalf("fetches counter = %v, want 1", got)
	}

	s.StorageHook().ObserveWrite(time.Millisecond, 128)
	s.StorageHook().ObserveBatchCommit(time.Millisecond, 4, 512)
}

func TestDoubleRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	defer func() {
		if recover() == nil {
			t.Fatal("expected MustRegister panic on duplicate registration")
		}
	}()
	New(reg)
}
