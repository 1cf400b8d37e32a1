// Package batch groups incoming signature notices into bounded batches and
// drops duplicates observed across endpoints.
//
// A batch is flushed when it reaches the configured size or when the flush
// interval elapses since its first notice, whichever comes first. Empty
// batches are never emitted. Deduplication uses a TTL set keyed by
// signature; the TTL is held at or above the flush interval so the same
// signature arriving from two endpoints inside one window collapses to a
// single occurrence.
package batch
