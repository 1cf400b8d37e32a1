package batch

import (
	"sync"
	"time"
)

// dedupSet is a TTL set of recently seen signatures. Expired entries are
// pruned lazily on insert so the set stays bounded by the arrival rate
// times the TTL.
type dedupSet struct {
	mu        sync.Mutex
	ttl       time.Duration
	seen      map[string]time.Time
	now       func() time.Time
	lastPrune time.Time
}

func newDedupSet(ttl time.Duration) *dedupSet {
	return &dedupSet{
		ttl:  ttl,
		seen: make(map[string]time.Time),
		now:  time.Now,
	}
}

// Observe records the signature and reports whether it is new within the
// TTL window. A repeat observation refreshes the expiry.
func (d *dedupSet) Observe(sig string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	exp, ok := d.seen[sig]
	d.seen[sig] = now.Add(d.ttl)
	if ok && now.Before(exp) {
		return false
	}
	// Full map sweeps are throttled to one per quarter-TTL so the hot
	// insert path stays cheap.
	if now.Sub(d.lastPrune) >= d.ttl/4 {
		d.lastPrune = now
		for s, e := range d.seen {
			if now.After(e) {
				delete(d.seen, s)
			}
		}
	}
	return true
}

// Len reports the current number of tracked signatures.
func (d *dedupSet) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
