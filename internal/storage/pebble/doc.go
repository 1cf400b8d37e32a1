// Package pebblestore wraps cockroachdb/pebble with the node's durability
// policy (fsync modes with optional group-commit), a metrics hook, and small
// helpers for batched atomic updates. All durable state lives behind this
// wrapper.
package pebblestore
