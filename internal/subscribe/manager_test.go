package subscribe

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/davidrhodus/solana-node/internal/endpoint"
)

// fakeStream replays scripted results; the zero error means emit the event.
type scriptItem struct {
	ev  Event
	err error
}

type fakeStream struct {
	mu     sync.Mutex
	script []scriptItem
	closed bool
}

func (s *fakeStream) Recv(ctx context.Context) (Event, error) {
	s.mu.Lock()
	if len(s.script) == 0 {
		s.mu.Unlock()
		<-ctx.Done()
		return Event{}, ctx.Err()
	}
	item := s.script[0]
	s.script = s.script[1:]
	s.mu.Unlock()
	return item.ev, item.err
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

type fakeDialer struct {
	mu      sync.Mutex
	dials   int
	results []func() (Stream, error)
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.results) == 0 {
		return &fakeStream{}, nil
	}
	next := d.results[0]
	d.results = d.results[1:]
	return next()
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func testManager(t *testing.T, d Dialer, urls ...string) (*Manager, *endpoint.Pool) {
	t.Helper()
	pool, err := endpoint.New(endpoint.Options{
		MaxConnections: 4,
		BackoffBase:    5 * time.Millisecond,
		BackoffCap:     20 * time.Millisecond,
	}, nil, urls)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	return New(Options{
		Pool:          pool,
		Dialer:        d,
		ReconnectBase: 5 * time.Millisecond,
		ReconnectCap:  20 * time.Millisecond,
	}), pool
}

func recvNotice(t *testing.T, ch <-chan Notice) Notice {
	t.Helper()
	select {
	case n, ok := <-ch:
		if !ok {
			t.Fatal("notice channel closed")
		}
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notice")
	}
	return Notice{}
}

func TestManagerEmitsNormalizedNotices(t *testing.T) {
	stream := &fakeStream{script: []scriptItem{
		{ev: Event{Signature: "sig-1", Slot: 42}},
		{ev: Event{Signature: "sig-2", Slot: 43}},
	}}
	d := &fakeDialer{results: []func() (Stream, error){
		func() (Stream, error) { return stream, nil },
	}}
	m, _ := testManager(t, d, "wss://ws-a")
	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	defer func() { cancel(); m.Stop() }()

	n := recvNotice(t, m.Notices())
	if n.Signature != "sig-1" || n.Slot != 42 || n.Source != "wss://ws-a" {
		t.Fatalf("unexpected notice %+v", n)
	}
	if n.ObservedAt.IsZero() {
		t.Fatal("ObservedAt not stamped")
	}
	n = recvNotice(t, m.Notices())
	if n.Signature != "sig-2" {
		t.Fatalf("unexpected second notice %+v", n)
	}
}

func TestManagerToleratesTransientReadErrors(t *testing.T) {
	// Two read errors, then a good event: the stream must survive.
	stream := &fakeStream{script: []scriptItem{
		{err: errors.New("blip")},
		{err: errors.New("blip")},
		{ev: Event{Signature: "sig-after-blip", Slot: 7}},
	}}
	d := &fakeDialer{results: []func() (Stream, error){
		func() (Stream, error) { return stream, nil },
	}}
	m, _ := testManager(t, d, "wss://ws-a")
	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	defer func() { cancel(); m.Stop() }()

	n := recvNotice(t, m.Notices())
	if n.Signature != "sig-after-blip" {
		t.Fatalf("unexpected notice %+v", n)
	}
	if d.dialCount() != 1 {
		t.Fatalf("expected no reconnect, dials=%d", d.dialCount())
	}
}

func TestManagerReconnectsAfterMaxReadErrors(t *testing.T) {
	bad := &fakeStream{script: []scriptItem{
		{err: errors.New("down")},
		{err: errors.New("down")},
		{err: errors.New("down")},
	}}
	good := &fakeStream{script: []scriptItem{
		{ev: Event{Signature: "sig-recovered", Slot: 9}},
	}}
	d := &fakeDialer{results: []func() (Stream, error){
		func() (Stream, error) { return bad, nil },
		func() (Stream, error) { return good, nil },
	}}
	m, _ := testManager(t, d, "wss://ws-a")
	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	defer func() { cancel(); m.Stop() }()

	n := recvNotice(t, m.Notices())
	if n.Signature != "sig-recovered" {
		t.Fatalf("unexpected notice %+v", n)
	}
	if d.dialCount() != 2 {
		t.Fatalf("expected exactly one reconnect, dials=%d", d.dialCount())
	}
	bad.mu.Lock()
	closed := bad.closed
	bad.mu.Unlock()
	if !closed {
		t.Fatal("torn-down stream was not closed")
	}
}

type rejectingDialer struct{}

func (rejectingDialer) Dial(ctx context.Context, url string) (Stream, error) {
	return nil, ErrSubscriptionRejected
}

func TestManagerRejectionMarksEndpointUnhealthy(t *testing.T) {
	m, pool := testManager(t, rejectingDialer{}, "wss://ws-a")
	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	defer func() { cancel(); m.Stop() }()

	ep := pool.Endpoints(endpoint.KindStreaming)[0]
	deadline := time.Now().Add(2 * time.Second)
	for ep.Health() != endpoint.Unhealthy {
		if time.Now().After(deadline) {
			t.Fatalf("endpoint not marked unhealthy, health=%v", ep.Health())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestManagerConnectFailureBacksOffAndRetries(t *testing.T) {
	d := &fakeDialer{results: []func() (Stream, error){
		func() (Stream, error) { return nil, errors.New("refused") },
		func() (Stream, error) {
			return &fakeStream{script: []scriptItem{
				{ev: Event{Signature: "sig-second-try", Slot: 1}},
			}}, nil
		},
	}}
	m, _ := testManager(t, d, "wss://ws-a")
	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	defer func() { cancel(); m.Stop() }()

	n := recvNotice(t, m.Notices())
	if n.Signature != "sig-second-try" {
		t.Fatalf("unexpected notice %+v", n)
	}
	if d.dialCount() < 2 {
		t.Fatalf("expected a retry, dials=%d", d.dialCount())
	}
}

func TestManagerStopClosesNotices(t *testing.T) {
	d := &fakeDialer{}
	m, _ := testManager(t, d, "wss://ws-a", "wss://ws-b")
	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)

	// Let both loops come up before tearing down.
	deadline := time.Now().Add(2 * time.Second)
	for {
		states := m.States()
		if states["wss://ws-a"] == StateSubscribed && states["wss://ws-b"] == StateSubscribed {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("loops never subscribed: %v", states)
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	m.Stop()
	select {
	case _, ok := <-m.Notices():
		if ok {
			t.Fatal("expected closed channel after Stop")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("notice channel not closed after Stop")
	}
}
