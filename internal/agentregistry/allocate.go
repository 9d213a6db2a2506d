package agentregistry

import (
	"math"

	"github.com/RoaringBitmap/roaring"

	"sim-orchestrator.dev/core/internal/protocol"
)

// AllocatorView is the read-only view of state the task allocator is a
// pure function of: it may read the current mask and agent poses but
// must never mutate them. The only side effect a caller is permitted
// to apply is writing the returned tasks into each agent's
// pending-task slot.
type AllocatorView struct {
	Revealed    *roaring.Bitmap
	TotalPoints uint32
	Awaiting    []*Record
}

// Allocate is the reference greedy frontier task allocator: for each
// AwaitingTask agent in turn it starts at the PointId whose lattice
// latitude matches the agent's position, takes the first PointId in
// index order that is neither revealed nor already assigned in this
// call, and maps it to a deterministic pseudo-ECEF coordinate, so no two
// agents in the same call receive the same waypoint. It does not search
// by Euclidean distance: the chosen point shares the agent's latitude
// band but not necessarily its longitude.
//
// PointId -> coordinate is not specified anywhere upstream (the point
// cloud's real geometry is an external asset); FrontierPosition below
// is the reference mapping used only so this allocator has some
// distance metric to search over.
func Allocate(view AllocatorView) map[uint64]protocol.Task {
	out := make(map[uint64]protocol.Task, len(view.Awaiting))
	if view.TotalPoints == 0 || len(view.Awaiting) == 0 {
		return out
	}

	used := make(map[uint32]struct{}, len(view.Awaiting))
	for _, rec := range view.Awaiting {
		pose := rec.Snapshot()
		candidate, ok := nearestUnrevealedPoint(pose.Position, view.Revealed, view.TotalPoints, used)
		if !ok {
			break
		}
		used[candidate] = struct{}{}
		out[rec.ID] = protocol.Task{Target: FrontierPosition(candidate, view.TotalPoints)}
	}
	return out
}

// nearestUnrevealedPoint scans a bounded probe window starting from a
// position-derived index and returns the first PointId that is neither
// already revealed nor already claimed by this allocator call.
func nearestUnrevealedPoint(from [3]float64, revealed *roaring.Bitmap, total uint32, used map[uint32]struct{}) (uint32, bool) {
	start := indexNear(from, total)
	const maxProbe = 4096
	probe := uint32(maxProbe)
	if probe > total {
		probe = total
	}
	for i := uint32(0); i < probe; i++ {
		candidate := (start + i) % total
		if revealed.Contains(candidate) {
			continue
		}
		if _, claimed := used[candidate]; claimed {
			continue
		}
		return candidate, true
	}
	return 0, false
}

// indexNear picks a deterministic starting PointId from a position by
// inverting FrontierPosition's latitude mapping, y = 1 - 2i/(n-1).
func indexNear(pos [3]float64, total uint32) uint32 {
	r := math.Sqrt(pos[0]*pos[0] + pos[1]*pos[1] + pos[2]*pos[2])
	if r == 0 {
		return 0
	}
	y := clamp(pos[1]/r, -1, 1)
	idx := uint32(math.Round((1 - y) / 2 * float64(total-1)))
	return idx % total
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// earthRadiusMeters is the reference allocator's stand-in point cloud
// radius: the average Earth radius, since the ECEF frame used here is
// EPSG:4978 and no other scale is given for an external point cloud.
const earthRadiusMeters = 6371000.0

// FrontierPosition maps a PointId onto an ECEF coordinate on a sphere of
// radius earthRadiusMeters via a Fibonacci lattice, giving the reference
// allocator a deterministic, evenly-distributed candidate set to search.
// A real deployment replaces this with coordinates loaded from the
// actual point cloud asset referenced by POINT_CLOUD_PATH.
func FrontierPosition(id, total uint32) [3]float64 {
	if total == 0 {
		return [3]float64{}
	}
	const goldenAngle = math.Pi * (3 - 2.2360679774997896 /* sqrt(5) */)
	i := float64(id)
	n := float64(total)
	y := 1 - (i/(n-1))*2
	if total == 1 {
		y = 0
	}
	radiusAtY := math.Sqrt(math.Max(0, 1-y*y))
	theta := goldenAngle * i

	x := math.Cos(theta) * radiusAtY
	z := math.Sin(theta) * radiusAtY

	return [3]float64{
		x * earthRadiusMeters,
		y * earthRadiusMeters,
		z * earthRadiusMeters,
	}
}
