package agentregistry

import (
	"sync"
	"time"

	"sim-orchestrator.dev/core/internal/protocol"
)

// Sweeper runs the C3 liveness sweep: every interval, any record whose
// last-seen exceeds staleAfter has its stream closed via onStale, which
// in turn drives the normal stream-end path. Shape grounded
// on a ticker-loop-plus-WaitGroup health monitor pattern.
type Sweeper struct {
	registry   *Registry
	interval   time.Duration
	staleAfter time.Duration
	onStale    func(agentID uint64)

	stop chan struct{}
	wg   sync.WaitGroup
}

func NewSweeper(registry *Registry, interval, staleAfter time.Duration, onStale func(agentID uint64)) *Sweeper {
	return &Sweeper{
		registry:   registry,
		interval:   interval,
		staleAfter: staleAfter,
		onStale:    onStale,
		stop:       make(chan struct{}),
	}
}

func (s *Sweeper) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				s.sweepOnce(time.Now())
			}
		}
	}()
}

func (s *Sweeper) Stop() {
	close(s.stop)
	s.wg.Wait()
}

func (s *Sweeper) sweepOnce(now time.Time) {
	for _, rec := range s.registry.All() {
		// A record already in Disconnected mode has had its stream closed;
		// leave it to the grace-period deletion path instead of re-closing.
		if rec.Mode() == protocol.ModeDisconnected {
			continue
		}
		if now.Sub(rec.LastSeen()) > s.staleAfter {
			s.onStale(rec.ID)
		}
	}
}
