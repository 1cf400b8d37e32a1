// Package serverrun wires configuration into a running node: storage,
// endpoint pool, subscription manager, batcher, fetcher, engine and the
// status API, with signal-driven graceful shutdown.
package serverrun
