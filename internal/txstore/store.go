package txstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	pebblestore "github.com/davidrhodus/solana-node/internal/storage/pebble"
	logpkg "github.com/davidrhodus/solana-node/pkg/log"
)

// SchemaVersion is the current on-disk layout version.
const SchemaVersion = 1

var (
	// ErrNotFound is returned when no record exists for a signature.
	ErrNotFound = errors.New("transaction not found")
	// ErrCorrupted marks unreadable durable state. It is fatal: the engine
	// stops ingesting rather than deepen the loss.
	ErrCorrupted = errors.New("storage corrupted")
)

// Store is the durable transaction store. It is the only component that
// writes durable state; writes are serialized, reads are concurrent.
type Store struct {
	db        *pebblestore.DB
	retention time.Duration
	logger    logpkg.Logger

	mu sync.Mutex // serializes upserts and sweeps
}

// Options configures a Store.
type Options struct {
	// Retention is the record lifetime. Zero means unbounded: records never
	// expire and the sweep is disabled.
	Retention time.Duration
	Logger    logpkg.Logger
}

// Open initializes a Store on db and verifies the schema marker, writing it
// on first use.
func Open(db *pebblestore.DB, opts Options) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewLogger().With(logpkg.Component("txstore"))
	}
	s := &Store{db: db, retention: opts.Retention, logger: logger}

	raw, err := db.Get(keySchema)
	switch {
	case errors.Is(err, pebblestore.ErrKeyNotFound):
		var buf [binary.MaxVarintLen64]byte
		n := binary.PutUvarint(buf[:], SchemaVersion)
		if err := db.Set(keySchema, buf[:n]); err != nil {
			return nil, fmt.Errorf("write schema marker: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("read schema marker: %w", err)
	default:
		v, n := binary.Uvarint(raw)
		if n <= 0 {
			return nil, fmt.Errorf("%w: unreadable schema marker", ErrCorrupted)
		}
		if v != SchemaVersion {
			return nil, fmt.Errorf("%w: schema version %d, want %d", ErrCorrupted, v, SchemaVersion)
		}
	}
	return s, nil
}

// Retention returns the configured retention window.
func (s *Store) Retention() time.Duration { return s.retention }

// Upsert stores rec under its signature, replacing any prior record.
// Resolution is last-write-wins on FetchedAt: a record fetched earlier than
// the stored one is ignored. The record's expiry is derived from FetchedAt
// and the retention window; all index keys are maintained in one atomic
// batch.
func (s *Store) Upsert(ctx context.Context, rec Record) error {
	if rec.Signature == "" {
		return errors.New("txstore: record signature is empty")
	}
	if s.retention > 0 {
		rec.ExpiresAt = rec.FetchedAt.Add(s.retention)
	} else {
		rec.ExpiresAt = time.Time{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var prior *Record
	existing, err := s.db.Get(KeyTx(rec.Signature))
	switch {
	case errors.Is(err, pebblestore.ErrKeyNotFound):
	case err != nil:
		return fmt.Errorf("read prior record: %w", err)
	default:
		dec, ok := DecodeRecord(existing)
		if !ok {
			return fmt.Errorf("%w: record %s fails checksum", ErrCorrupted, rec.Signature)
		}
		prior = &dec
	}

	if prior != nil && prior.FetchedAt.After(rec.FetchedAt) {
		// A newer fetch already landed; re-delivery is a no-op.
		return nil
	}

	val, err := EncodeRecord(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(KeyTx(rec.Signature), val, nil); err != nil {
		return err
	}
	if err := b.Set(KeySlot(rec.Slot, rec.Signature), []byte(rec.Signature), nil); err != nil {
		return err
	}
	if !rec.ExpiresAt.IsZero() {
		if err := b.Set(KeyExpiry(rec.ExpiresAt.UnixMilli(), rec.Signature), nil, nil); err != nil {
			return err
		}
	}
	if prior != nil {
		if !prior.ExpiresAt.IsZero() && !prior.ExpiresAt.Equal(rec.ExpiresAt) {
			if err := b.Delete(KeyExpiry(prior.ExpiresAt.UnixMilli(), rec.Signature), nil); err != nil {
				return err
			}
		}
		if prior.Slot != rec.Slot {
			if err := b.Delete(KeySlot(prior.Slot, rec.Signature), nil); err != nil {
				return err
			}
		}
	}
	return s.db.CommitBatch(ctx, b)
}

// Get returns the record stored for signature, or ErrNotFound.
func (s *Store) Get(signature string) (Record, error) {
	raw, err := s.db.Get(KeyTx(signature))
	if err != nil {
		if errors.Is(err, pebblestore.ErrKeyNotFound) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	rec, ok := DecodeRecord(raw)
	if !ok {
		return Record{}, fmt.Errorf("%w: record %s fails checksum", ErrCorrupted, signature)
	}
	return rec, nil
}

// ScanSlotRange returns up to limit records with slot in [startSlot, endSlot].
func (s *Store) ScanSlotRange(startSlot, endSlot uint64, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	low := make([]byte, 0, len(prefixSlot)+8)
	low = append(low, prefixSlot...)
	low = appendBE8(low, startSlot)
	hi := make([]byte, 0, len(prefixSlot)+9)
	hi = append(hi, prefixSlot...)
	hi = appendBE8(hi, endSlot)
	hi = append(hi, 0xff)

	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: hi})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []Record
	for ok := iter.First(); ok && len(out) < limit; ok = iter.Next() {
		sig := string(iter.Value())
		rec, err := s.Get(sig)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue // index ahead of a sweep; skip
			}
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Stats summarizes the store contents.
type Stats struct {
	TransactionCount uint64 `json:"transaction_count"`
	ApproxSizeBytes  uint64 `json:"approx_size_bytes"`
}

// Stats counts stored records and estimates on-disk size.
func (s *Store) Stats() (Stats, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefixTx, UpperBound: upperBound(prefixTx)})
	if err != nil {
		return Stats{}, err
	}
	defer iter.Close()

	var st Stats
	for ok := iter.First(); ok; ok = iter.Next() {
		st.TransactionCount++
	}
	if sz, err := s.db.EstimateDiskUsage(prefixTx, upperBound(prefixTx)); err == nil {
		st.ApproxSizeBytes = sz
	}
	return st, nil
}

// CheckHealth verifies the store is readable.
func (s *Store) CheckHealth(ctx context.Context) error {
	iter, err := s.db.NewIter(nil)
	if err != nil {
		return err
	}
	return iter.Close()
}
