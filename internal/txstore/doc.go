// Package txstore is the durable transaction store.
//
// One record is kept per transaction signature, framed with a CRC32C
// checksum and indexed two ways: by slot for range reads and by retention
// expiry for the background sweep. Upserts are idempotent with
// last-write-wins resolution on the fetch timestamp; all keys touched by an
// upsert are committed in a single atomic Pebble batch. A schema-version
// marker is checked on open so an incompatible on-disk layout fails fast
// instead of being misread.
package txstore
