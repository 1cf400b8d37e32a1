// Package fetch resolves signature notices into full transaction records.
//
// Each batch is fanned out over a bounded worker set; every request runs
// under a lease from the endpoint pool, so the global connection cap holds
// across fetching and streaming. A signature is retried across distinct
// healthy endpoints a fixed number of times before it is counted as failed.
// A definitive not-found from a healthy endpoint is terminal and is not an
// endpoint failure.
package fetch
