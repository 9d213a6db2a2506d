// Package broadcast implements C4: a single-producer, multi-consumer
// latest-value distribution of WorldState records. It is deliberately
// not a queue: slow subscribers observe only the most recent value,
// and the producer never blocks on them.
package broadcast

import (
	"context"
	"sync"
	"time"

	"sim-orchestrator.dev/core/internal/protocol"
)

// Broadcaster is the single-slot overwrite-with-notify primitive: a
// mutex-guarded current value plus a sync.Cond used to wake every
// blocked subscriber at once on each publish.
type Broadcaster struct {
	mu        sync.Mutex
	cond      *sync.Cond
	current   *protocol.WorldState
	version   uint64
	closed    bool

	coalesce  time.Duration
	pending   *protocol.WorldState
	lastFlush time.Time
	timerSet  bool
}

// New builds a Broadcaster that coalesces publishes to at most one per
// coalesce interval. coalesce == 0 disables coalescing: every Publish
// flushes immediately. The first window starts at construction.
func New(coalesce time.Duration) *Broadcaster {
	b := &Broadcaster{coalesce: coalesce, lastFlush: time.Now()}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Publish submits a new value. It is O(1) and never blocks on
// subscribers; at most one flush happens per coalesce window, and only
// the most recently published value within a window is ever delivered.
func (b *Broadcaster) Publish(v *protocol.WorldState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	b.pending = v
	if b.coalesce <= 0 {
		b.flushLocked()
		return
	}
	if b.timerSet {
		return
	}
	since := time.Since(b.lastFlush)
	if since >= b.coalesce {
		b.flushLocked()
		return
	}
	b.timerSet = true
	remaining := b.coalesce - since
	time.AfterFunc(remaining, b.flushDeferred)
}

// PublishNow bypasses coalescing entirely and flushes v immediately
// (used for ResetSimulation, which must be reflected promptly).
func (b *Broadcaster) PublishNow(v *protocol.WorldState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.pending = v
	b.flushLocked()
}

func (b *Broadcaster) flushDeferred() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.timerSet = false
	if b.closed || b.pending == nil {
		return
	}
	b.flushLocked()
}

// flushLocked must be called with mu held.
func (b *Broadcaster) flushLocked() {
	b.current = b.pending
	b.pending = nil
	b.version++
	b.lastFlush = time.Now()
	b.cond.Broadcast()
}

// Current returns the most recently flushed value, or nil if nothing
// has ever been published.
func (b *Broadcaster) Current() *protocol.WorldState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Close unblocks every waiting subscriber permanently.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.cond.Broadcast()
}

// Subscription tracks one subscriber's last-observed version.
type Subscription struct {
	b       *Broadcaster
	lastVer uint64
}

// Subscribe returns a handle whose first Next call yields the current
// value immediately if one has been published (otherwise it blocks until
// the first one is), and subsequent calls block until a newer value is
// published.
func (b *Broadcaster) Subscribe() *Subscription {
	return &Subscription{b: b}
}

// Next blocks until a value newer than the last one this subscription
// observed is available, or ctx is done, or the broadcaster is closed.
// A subscriber that misses several publishes simply observes the
// latest one on its next call; it never queues.
func (s *Subscription) Next(ctx context.Context) (*protocol.WorldState, error) {
	b := s.b
	b.mu.Lock()
	for b.version == s.lastVer && !b.closed {
		if ctx.Err() != nil {
			b.mu.Unlock()
			return nil, ctx.Err()
		}
		done := waitWithContext(ctx, &b.mu, b.cond)
		if done {
			b.mu.Unlock()
			return nil, ctx.Err()
		}
	}
	defer b.mu.Unlock()
	if b.closed && b.current == nil {
		return nil, context.Canceled
	}
	s.lastVer = b.version
	return b.current, nil
}

// waitWithContext blocks on cond.Wait but also returns if ctx is
// cancelled, by racing a goroutine that calls cond.Broadcast on
// cancellation. mu must be held on entry and is held again on return.
func waitWithContext(ctx context.Context, mu *sync.Mutex, cond *sync.Cond) bool {
	if ctx.Done() == nil {
		cond.Wait()
		return false
	}

	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			mu.Lock()
			cond.Broadcast()
			mu.Unlock()
		case <-stop:
		}
	}()
	cond.Wait()
	close(stop)
	return ctx.Err() != nil
}
