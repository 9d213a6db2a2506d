// Package agentregistry implements the state half of C3: agent ID
// allocation, per-agent liveness and pose tracking, and the liveness
// sweeper.
//
// Distinct agents never contend: the registry's own mutex only guards
// the map structure (insert/delete); each Record has its own mutex
// guarding its mutable fields, so two agents reporting concurrently
// never block each other.
package agentregistry

import (
	"sync"
	"sync/atomic"
	"time"

	"sim-orchestrator.dev/core/internal/protocol"
)

// Record is a single agent's registration. Exported fields are
// immutable after construction; everything mutable lives behind mu.
type Record struct {
	ID        uint64
	SessionID [16]byte

	mu             sync.Mutex
	state          protocol.AgentState
	lastSeen       time.Time
	mode           protocol.AgentMode
	pendingTask    *protocol.Task
	streamOut      chan *protocol.ReportStateResponse
	disconnectedAt time.Time
}

// Snapshot returns a copy of this record's current pose.
func (rec *Record) Snapshot() protocol.AgentState {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.state
}

func (rec *Record) Mode() protocol.AgentMode {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.mode
}

func (rec *Record) LastSeen() time.Time {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.lastSeen
}

// UpdatePose records a fresh report's pose/mode and bumps last-seen.
func (rec *Record) UpdatePose(now time.Time, state protocol.AgentState) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.state = state
	rec.mode = state.Mode
	rec.lastSeen = now
}

// Touch bumps last-seen without changing pose (used on Register).
func (rec *Record) Touch(now time.Time) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.lastSeen = now
}

// AttachStream binds the live ReportState outbound channel, clearing any
// pending disconnect grace period (a fresh stream means the agent is
// live again).
func (rec *Record) AttachStream(out chan *protocol.ReportStateResponse) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.streamOut = out
	rec.disconnectedAt = time.Time{}
}

// DetachStream clears the stream handle and marks the record
// Disconnected as of now; the caller schedules the grace-period
// deletion itself.
func (rec *Record) DetachStream(now time.Time) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.streamOut = nil
	rec.mode = protocol.ModeDisconnected
	rec.disconnectedAt = now
}

// StreamOut returns the live outbound channel, or nil if the agent has
// no active ReportState stream.
func (rec *Record) StreamOut() chan *protocol.ReportStateResponse {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.streamOut
}

// SetPendingTask stores a task for delivery on the agent's next
// ReportStateResponse.
func (rec *Record) SetPendingTask(t protocol.Task) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.pendingTask = &t
}

// TakePendingTask pops and clears the pending task, if any.
func (rec *Record) TakePendingTask() *protocol.Task {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	t := rec.pendingTask
	rec.pendingTask = nil
	return t
}

// disconnectedSince reports whether the record is currently
// disconnected and since when.
func (rec *Record) disconnectedSince() (time.Time, bool) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.mode != protocol.ModeDisconnected {
		return time.Time{}, false
	}
	return rec.disconnectedAt, true
}

// Registry is the C3 state store: a concurrent keyed map of AgentID to
// Record, plus a SessionID index used only to resume a record that is
// still within its disconnect grace period.
type Registry struct {
	mu        sync.RWMutex
	byID      map[uint64]*Record
	bySession map[[16]byte]uint64
	nextID    atomic.Uint64
}

func NewRegistry() *Registry {
	return &Registry{
		byID:      make(map[uint64]*Record),
		bySession: make(map[[16]byte]uint64),
	}
}

// Register allocates a fresh AgentID, unless sessionID matches a record
// that is still within its disconnect grace period, in which case that
// record is reactivated and its existing AgentID is reused (an agent's
// identity is never duplicated by a reconnect). Returns the record.
func (r *Registry) Register(sessionID [16]byte, now time.Time) (rec *Record, reused bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.bySession[sessionID]; ok {
		if rec, ok := r.byID[id]; ok {
			if _, disconnected := rec.disconnectedSince(); disconnected {
				rec.mu.Lock()
				rec.mode = protocol.ModeAwaitingTask
				rec.lastSeen = now
				rec.disconnectedAt = time.Time{}
				rec.mu.Unlock()
				return rec, true
			}
		}
	}

	id := r.nextID.Add(1)
	rec = &Record{
		ID:        id,
		SessionID: sessionID,
		state:     protocol.AgentState{AgentID: id, SchemaVersion: protocol.SchemaVersion},
		mode:      protocol.ModeAwaitingTask,
		lastSeen:  now,
	}
	r.byID[id] = rec
	r.bySession[sessionID] = id
	return rec, false
}

func (r *Registry) Get(id uint64) (*Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.byID[id]
	return rec, ok
}

// GetBySession looks up a record by the session id it was registered
// with, used by agentmanager to correlate a supervised child process
// with its registry record.
func (r *Registry) GetBySession(sessionID [16]byte) (*Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.bySession[sessionID]
	if !ok {
		return nil, false
	}
	rec, ok := r.byID[id]
	return rec, ok
}

// Deregister removes a record entirely: the AgentId is never reused.
func (r *Registry) Deregister(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.byID[id]; ok {
		delete(r.bySession, rec.SessionID)
		delete(r.byID, id)
	}
}

// DeregisterIfStillDisconnected deletes the record only if it is still
// disconnected (i.e. no reconnect happened during the grace window).
func (r *Registry) DeregisterIfStillDisconnected(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byID[id]
	if !ok {
		return
	}
	if _, disconnected := rec.disconnectedSince(); disconnected {
		delete(r.bySession, rec.SessionID)
		delete(r.byID, id)
	}
}

// Snapshot returns every live record's current pose, for WorldState
// broadcast construction.
func (r *Registry) Snapshot() []protocol.AgentState {
	r.mu.RLock()
	ids := make([]*Record, 0, len(r.byID))
	for _, rec := range r.byID {
		ids = append(ids, rec)
	}
	r.mu.RUnlock()

	out := make([]protocol.AgentState, 0, len(ids))
	for _, rec := range ids {
		out = append(out, rec.Snapshot())
	}
	return out
}

// All returns every live record, for the sweeper and the allocator.
func (r *Registry) All() []*Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Record, 0, len(r.byID))
	for _, rec := range r.byID {
		out = append(out, rec)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
