// Package reveal owns the global reveal mask: the compressed bitmap of
// every PointId observed by any agent in the current run.
package reveal

import (
	"bytes"
	"sync"

	"github.com/RoaringBitmap/roaring"
)

// MergeOutcome reports the effect of a single Merge call.
type MergeOutcome struct {
	Added          uint64
	NewCardinality uint64
	Changed        bool
}

// Aggregator is the C2 component: a single live bitmap behind a
// reader/writer lock. Writers (Merge, Reset) are short and exclusive;
// readers (Snapshot) are rare and only clone.
type Aggregator struct {
	mu   sync.RWMutex
	live *roaring.Bitmap
}

func NewAggregator() *Aggregator {
	return &Aggregator{live: roaring.New()}
}

// Merge deserializes b as a portable-format Roaring bitmap and unions it
// in-place into the live mask. A malformed b leaves the live mask
// untouched and returns a non-nil error; callers should surface
// INVALID_ARGUMENT. An empty/nil b is a valid zero-delta merge.
func (a *Aggregator) Merge(b []byte) (MergeOutcome, error) {
	incoming := roaring.New()
	if len(b) > 0 {
		if _, err := incoming.ReadFrom(bytes.NewReader(b)); err != nil {
			return MergeOutcome{}, &DeserializeError{cause: err}
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	before := a.live.GetCardinality()
	a.live.Or(incoming)
	after := a.live.GetCardinality()

	return MergeOutcome{
		Added:          after - before,
		NewCardinality: after,
		Changed:        after > before,
	}, nil
}

// Snapshot returns an immutable clone of the live mask, safe to retain
// and serialize independently of further Merge/Reset calls.
func (a *Aggregator) Snapshot() *roaring.Bitmap {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.live.Clone()
}

// Cardinality returns the live mask's current set size.
func (a *Aggregator) Cardinality() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.live.GetCardinality()
}

// Reset replaces the live mask with an empty one and returns the new
// (empty) snapshot for publication.
func (a *Aggregator) Reset() *roaring.Bitmap {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.live = roaring.New()
	return a.live.Clone()
}

// DeserializeError wraps a failure to parse a portable-format bitmap.
type DeserializeError struct{ cause error }

func (e *DeserializeError) Error() string { return "reveal: malformed bitmap: " + e.cause.Error() }
func (e *DeserializeError) Unwrap() error { return e.cause }

// CoverageRatio computes |mask| / n, the WorldState's map_coverage_ratio.
// n == 0 is treated as a degenerate but well-defined 0.0 rather than a
// division error.
func CoverageRatio(cardinality, n uint64) float64 {
	if n == 0 {
		return 0
	}
	return float64(cardinality) / float64(n)
}

// Serialize writes mask in the canonical portable Roaring format.
func Serialize(mask *roaring.Bitmap) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := mask.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
