package txstore

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/cockroachdb/pebble"

	logpkg "github.com/davidrhodus/solana-node/pkg/log"
)

// SweepExpired removes records whose retention expiry is at or before now.
// Deletes are committed in batches of up to batchLimit records with an
// optional throttle between commits, so a large backlog cannot monopolize
// the write path. Returns the number of records removed.
//
// When retention is unbounded the sweep is a no-op.
func (s *Store) SweepExpired(ctx context.Context, now time.Time, batchLimit int, throttle time.Duration) (int, error) {
	if s.retention <= 0 {
		return 0, nil
	}
	if batchLimit <= 0 {
		batchLimit = 1024
	}

	// exp/{expiry_be8}/{sig} keys sort by expiry; everything at or below the
	// cutoff is in one contiguous range.
	cutoff := make([]byte, 0, len(prefixExpiry)+9)
	cutoff = append(cutoff, prefixExpiry...)
	cutoff = appendBE8(cutoff, uint64(now.UnixMilli()))
	cutoff = append(cutoff, 0xff)

	removed := 0
	for {
		select {
		case <-ctx.Done():
			return removed, ctx.Err()
		default:
		}

		s.mu.Lock()
		n, scanned, err := s.sweepChunk(ctx, cutoff, batchLimit)
		s.mu.Unlock()
		if err != nil {
			return removed, err
		}
		removed += n
		if scanned < batchLimit {
			break
		}
		if throttle > 0 {
			time.Sleep(throttle)
		}
	}
	if removed > 0 {
		s.logger.Info("retention sweep removed records", logpkg.Int("removed", removed))
	}
	return removed, nil
}

// sweepChunk deletes up to batchLimit expired index entries (and their
// records) in one atomic batch. Returns records removed and entries scanned.
func (s *Store) sweepChunk(ctx context.Context, cutoff []byte, batchLimit int) (int, int, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefixExpiry, UpperBound: cutoff})
	if err != nil {
		return 0, 0, err
	}
	defer iter.Close()

	b := s.db.NewBatch()
	defer b.Close()

	removed, scanned := 0, 0
	for ok := iter.First(); ok && scanned < batchLimit; ok = iter.Next() {
		key := iter.Key()
		// exp/{be8}/{sig}
		if len(key) < len(prefixExpiry)+9 {
			continue
		}
		scanned++
		sig := string(key[len(prefixExpiry)+9:])

		if err := b.Delete(append([]byte(nil), key...), nil); err != nil {
			return 0, 0, err
		}

		// The record may have been replaced with a later expiry since this
		// index entry was written; only drop it when it really is expired.
		raw, gerr := s.db.Get(KeyTx(sig))
		if gerr == nil {
			rec, okDec := DecodeRecord(raw)
			if okDec && !rec.ExpiresAt.IsZero() && rec.ExpiresAt.UnixMilli() <= expiryFromKey(key) {
				if err := b.Delete(KeyTx(sig), nil); err != nil {
					return 0, 0, err
				}
				if err := b.Delete(KeySlot(rec.Slot, sig), nil); err != nil {
					return 0, 0, err
				}
				removed++
			}
		}
	}
	if b.Count() == 0 {
		return 0, scanned, nil
	}
	if err := s.db.CommitBatch(ctx, b); err != nil {
		return 0, scanned, err
	}
	return removed, scanned, nil
}

func expiryFromKey(key []byte) int64 {
	return int64(binary.BigEndian.Uint64(key[len(prefixExpiry) : len(prefixExpiry)+8]))
}
