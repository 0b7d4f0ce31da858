package acquisition

import (
	"strings"
	"sync"
	"time"
)

// Skip reasons reported for pairs that are not dispatched
const (
	SkipInFlight      = "in_flight"
	SkipRecent        = "recent"
	SkipUnknownStore  = "unknown_store"
	SkipOverCap       = "over_cap"
	SkipClaimedRemote = "claimed_remote"
)

// PairKey returns the dedup key for a (product, store) pair
func PairKey(product, store string) string {
	return strings.ToLower(strings.TrimSpace(product)) + "_" + strings.ToLower(store)
}

// Tracker holds the in-flight set and the recency cache of one gate
type Tracker struct {
	mu       sync.Mutex
	inFlight map[string]struct{}
	recent   map[string]time.Time
}

// NewTracker creates an empty tracker
func NewTracker() *Tracker {
	return &Tracker{
		inFlight: make(map[string]struct{}),
		recent:   make(map[string]time.Time),
	}
}

// Reserve marks key in flight unless it already is, or it completed
// successfully after now-window. It returns the skip reason or "".
func (t *Tracker) Reserve(key string, now time.Time, window time.Duration) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.inFlight[key]; ok {
		return SkipInFlight
	}
	if at, ok := t.recent[key]; ok && now.Sub(at) < window {
		return SkipRecent
	}
	t.inFlight[key] = struct{}{}
	return ""
}

// Release clears the in-flight mark and stamps the recency cache on success
func (t *Tracker) Release(key string, success bool, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.inFlight, key)
	if success {
		t.recent[key] = at
	}
}

// Cleanup evicts recency entries stamped before cutoff and returns how many were removed
func (t *Tracker) Cleanup(cutoff time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for key, at := range t.recent {
		if at.Before(cutoff) {
			delete(t.recent, key)
			removed++
		}
	}
	return removed
}

// InFlight reports whether key is currently being fetched
func (t *Tracker) InFlight(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.inFlight[key]
	return ok
}

// Len returns the number of recency cache entries
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.recent)
}
