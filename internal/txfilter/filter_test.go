package txfilter

import (
	"testing"
	"time"

	"github.com/davidrhodus/solana-node/internal/txstore"
)

func rec(sig string, slot uint64, size int) txstore.Record {
	return txstore.Record{
		Signature: sig,
		Slot:      slot,
		BlockTime: time.Now().Unix(),
		Payload:   make([]byte, size),
		FetchedAt: time.Now(),
	}
}

func TestEmptyExpressionStoresEverything(t *testing.T) {
	f, err := Compile("  ")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if f.Enabled() {
		t.Fatal("blank expression should disable the filter")
	}
	if !f.Match(rec("sig", 1, 10)) {
		t.Fatal("disabled filter must match everything")
	}
}

func TestSlotAndSizeFilter(t *testing.T) {
	f, err := Compile("slot >= 100 && size < 1024")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !f.Match(rec("sig", 150, 512)) {
		t.Fatal("expected match")
	}
	if f.Match(rec("sig", 50, 512)) {
		t.Fatal("slot below bound should not match")
	}
	if f.Match(rec("sig", 150, 4096)) {
		t.Fatal("oversized payload should not match")
	}
}

func TestSignaturePrefixFilter(t *testing.T) {
	f, err := Compile(`signature.startsWith("5x")`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !f.Match(rec("5xAbc", 1, 10)) {
		t.Fatal("expected prefix match")
	}
	if f.Match(rec("3yDef", 1, 10)) {
		t.Fatal("unexpected match")
	}
}

func TestBlockTimeFilter(t *testing.T) {
	f, err := Compile("block_time_ms > 0 && block_time_ms <= now_ms")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !f.Match(rec("sig", 1, 10)) {
		t.Fatal("expected match for a past block time")
	}
	unknown := rec("sig", 1, 10)
	unknown.BlockTime = 0
	if f.Match(unknown) {
		t.Fatal("unknown block time should evaluate as 0 ms")
	}
}

func TestCompileRejectsBadExpression(t *testing.T) {
	if _, err := Compile("slot >>> 3"); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := Compile("unknown_var == 1"); err == nil {
		t.Fatal("expected check error for unknown variable")
	}
}

func TestNonBooleanExpressionRejects(t *testing.T) {
	f, err := Compile("slot + 1")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if f.Match(rec("sig", 1, 10)) {
		t.Fatal("non-boolean result must reject")
	}
}
