package rpc

import (
	"sim-orchestrator.dev/core/internal/protocol"
	"sim-orchestrator.dev/core/internal/reveal"
)

// publishWorldState snapshots the current reveal mask and agent poses,
// mints a ticket for the mask, and hands the resulting
// WorldState to the broadcaster. Called after every merged report;
// ResetSimulation uses publishWorldStateNow instead.
func (s *Server) publishWorldState() {
	s.publish(false)
}

// publishWorldStateNow bypasses broadcaster coalescing, for
// ResetSimulation.
func (s *Server) publishWorldStateNow() {
	s.publish(true)
}

// PublishInitialWorldState mints and publishes the startup WorldState
// (an empty reveal mask, no agents yet) so that a viewer subscribing
// before any agent has reported still receives an immediate snapshot
// instead of blocking on the first report.
func (s *Server) PublishInitialWorldState() {
	s.publish(true)
}

func (s *Server) publish(immediate bool) {
	snapshot := s.Aggregator.Snapshot()
	t, err := s.Tickets.Issue(snapshot)
	if err != nil {
		return
	}

	cardinality := snapshot.GetCardinality()
	ratio := reveal.CoverageRatio(cardinality, uint64(s.Cfg.TotalPoints))
	s.Metrics.SetCoverageRatio(ratio)

	ws := &protocol.WorldState{
		Type:             protocol.TypeWorldState,
		TimestampMs:      nowMs(),
		Agents:           s.Registry.Snapshot(),
		RevealMaskTicket: t[:],
		MapCoverageRatio: ratio,
		SchemaVersion:    protocol.SchemaVersion,
	}

	if immediate {
		s.Broadcaster.PublishNow(ws)
	} else {
		s.Broadcaster.Publish(ws)
	}
}
