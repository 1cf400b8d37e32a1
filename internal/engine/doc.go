// Package engine orchestrates the ingestion pipeline.
//
// The engine owns the lifecycle of the subscription manager, batcher,
// fetcher and store, and enforces the shutdown order: intake stops first,
// the batcher flushes its partial batch, and already-observed signatures
// are resolved under a bounded drain window before the process exits. A
// corrupted store halts ingestion; every other failure is logged and the
// pipeline keeps going.
package engine
