// Package ticket implements C1: short-lived opaque tickets that each name
// one historical MaskSnapshot.
package ticket

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring"
)

// Ticket is 16 opaque, non-UTF-8 bytes. It must never be treated as text.
type Ticket [16]byte

type entry struct {
	snapshot *roaring.Bitmap
	issuedAt time.Time
}

// Registry is the C1 component: one mutex over a map plus a FIFO of
// issuance order, so capacity eviction is "drop the front of the queue"
// with no heap needed (issuance order is monotonic issued_at order).
type Registry struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	entries  map[Ticket]entry
	order    []Ticket
}

func NewRegistry(capacity int, ttl time.Duration) *Registry {
	return &Registry{
		capacity: capacity,
		ttl:      ttl,
		entries:  make(map[Ticket]entry, capacity),
	}
}

// Issue mints a fresh random ticket bound to snapshot, evicting the
// oldest entry first if the registry is at capacity.
func (r *Registry) Issue(snapshot *roaring.Bitmap) (Ticket, error) {
	var t Ticket
	if _, err := rand.Read(t[:]); err != nil {
		return Ticket{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	r.sweepLocked(now)

	for len(r.order) >= r.capacity && len(r.order) > 0 {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.entries, oldest)
	}

	r.entries[t] = entry{snapshot: snapshot, issuedAt: now}
	r.order = append(r.order, t)
	return t, nil
}

// Resolve returns the snapshot bound to t if it is present and unexpired.
func (r *Registry) Resolve(t Ticket) (*roaring.Bitmap, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[t]
	if !ok {
		return nil, false
	}
	if time.Since(e.issuedAt) > r.ttl {
		delete(r.entries, t)
		return nil, false
	}
	return e.snapshot, true
}

// Sweep removes all expired entries. It may be called on a timer or
// lazily; Issue also sweeps opportunistically.
func (r *Registry) Sweep(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked(now)
}

func (r *Registry) sweepLocked(now time.Time) {
	live := r.order[:0]
	for _, t := range r.order {
		e := r.entries[t]
		if now.Sub(e.issuedAt) > r.ttl {
			delete(r.entries, t)
			continue
		}
		live = append(live, t)
	}
	r.order = live
}

// Len reports the number of live (not necessarily unexpired) entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}
