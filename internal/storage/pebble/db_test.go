package pebblestore

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSetGetDelete(t *testing.T) {
	db, err := Open(Options{DataDir: t.TempDir(), Fsync: FsyncModeAlways})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := db.Set([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := db.Get([]byte("k"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "v" {
		t.Fatalf("got %q", got)
	}
	if err := db.Delete([]byte("k")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := db.Get([]byte("k")); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestBatchCommitAtomicity(t *testing.T) {
	db, err := Open(Options{DataDir: t.TempDir(), Fsync: FsyncModeNever})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	b := db.NewBatch()
	defer b.Close()
	if err := b.Set([]byte("a"), []byte("1"), nil); err != nil {
		t.Fatal(err)
	}
	if err := b.Set([]byte("b"), []byte("2"), nil); err != nil {
		t.Fatal(err)
	}
	if err := db.CommitBatch(context.Background(), b); err != nil {
		t.Fatalf("commit: %v", err)
	}
	for _, k := range []string{"a", "b"} {
		if _, err := db.Get([]byte(k)); err != nil {
			t.Fatalf("get %s: %v", k, err)
		}
	}
}

type countingMetrics struct {
	writes, reads, commits int
}

func (m *countingMetrics) ObserveWrite(time.Duration, int)            { m.writes++ }
func (m *countingMetrics) ObserveRead(time.Duration, int)             { m.reads++ }
func (m *countingMetrics) ObserveBatchCommit(time.Duration, int, int) { m.commits++ }

func TestMetricsHookInvoked(t *testing.T) {
	m := &countingMetrics{}
	db, err := Open(Options{DataDir: t.TempDir(), Fsync: FsyncModeAlways, Metrics: m})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	_ = db.Set([]byte("k"), []byte("v"))
	_, _ = db.Get([]byte("k"))
	if m.writes == 0 || m.reads == 0 || m.commits == 0 {
		t.Fatalf("hooks not invoked: %+v", m)
	}
}

func TestReopenPersists(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(Options{DataDir: dir, Fsync: FsyncModeAlways})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := db.Set([]byte("persist"), []byte("yes")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db2, err := Open(Options{DataDir: dir, Fsync: FsyncModeAlways})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = db2.Close() })
	got, err := db2.Get([]byte("persist"))
	if err != nil || string(got) != "yes" {
		t.Fatalf("persisted value lost: %q %v", got, err)
	}
}
