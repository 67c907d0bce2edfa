// Package seenring implements the at-most-once completion guard ha.Context
// needs across reconnects (spec §4.2 step 1): a bounded history of
// RequestIds the caller has already seen a terminal outcome for, so a
// replayed request that raced a reply home doesn't get delivered twice.
package seenring

import (
	"sync"

	cuckoo "github.com/seiflotfy/cuckoofilter"

	"github.com/ovs-cluster/voldriver-router/transport"
)

// Ring is a fixed-capacity record of recently-completed RequestIds. A
// cuckoofilter.Filter sits in front of the authoritative ring as a fast,
// approximate pre-check: Filter.Lookup is O(1) and cache-friendly, so a cold
// miss (the overwhelming common case — the request was never seen) never
// has to touch the ring at all. Seen() only falls through to the ring's
// exact membership check when the filter reports a possible hit.
type Ring struct {
	mu       sync.Mutex
	ids      []transport.RequestId
	next     int
	full     bool
	filter   *cuckoo.Filter
	capacity uint
}

// New builds a Ring that remembers up to capacity RequestIds. capacity must
// exceed the largest replay batch ha.Context will ever need to re-check in
// one reconnect (spec §9 Design Notes).
func New(capacity uint) *Ring {
	if capacity == 0 {
		capacity = 1
	}
	return &Ring{
		ids:      make([]transport.RequestId, capacity),
		filter:   cuckoo.NewFilter(capacity),
		capacity: capacity,
	}
}

// Seen reports whether id has already been recorded.
func (r *Ring) Seen(id transport.RequestId) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.filter.Lookup(idBytes(id)) {
		return false
	}
	n := r.next
	if r.full {
		n = len(r.ids)
	}
	for i := 0; i < n; i++ {
		if r.ids[i] == id {
			return true
		}
	}
	return false
}

// Record marks id as seen. If the ring has wrapped, the id in the slot
// being overwritten is removed from both the ring and the filter; the
// filter is never rebuilt.
func (r *Ring) Record(id transport.RequestId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.filter.Lookup(idBytes(id)) {
		// a filter hit may be a false positive; only the ring is exact
		n := r.next
		if r.full {
			n = len(r.ids)
		}
		for i := 0; i < n; i++ {
			if r.ids[i] == id {
				return // already present
			}
		}
	}
	evicted := r.full
	var evictedID transport.RequestId
	if evicted {
		evictedID = r.ids[r.next]
	}
	r.ids[r.next] = id
	// Insert, not InsertUnique: an id whose fingerprint collides with another
	// ring entry's needs its own copy for the matching Delete on evict.
	r.filter.Insert(idBytes(id))
	r.next++
	if r.next == len(r.ids) {
		r.next = 0
		r.full = true
	}
	if evicted {
		r.filter.Delete(idBytes(evictedID))
	}
}

// Len reports how many ids the ring currently holds.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return len(r.ids)
	}
	return r.next
}

func idBytes(id transport.RequestId) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(id >> (8 * i))
	}
	return b
}
