// Package httpserver exposes the read-only status API: health, pipeline
// stats, stored transaction lookup, and Prometheus metrics.
package httpserver
