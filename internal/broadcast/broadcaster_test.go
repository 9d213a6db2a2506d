package broadcast_test

import (
	"context"
	"testing"
	"time"

	"sim-orchestrator.dev/core/internal/broadcast"
	"sim-orchestrator.dev/core/internal/protocol"
)

func TestSubscribeYieldsCurrentValueFirst(t *testing.T) {
	b := broadcast.New(0)
	want := &protocol.WorldState{TimestampMs: 1}
	b.Publish(want)

	sub := b.Subscribe()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := sub.Next(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Fatal("expected first Next to return the already-current value")
	}
}

func TestSlowSubscriberSkipsIntermediatesButSeesLatest(t *testing.T) {
	b := broadcast.New(0)
	sub := b.Subscribe()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	// Prime: first Next with nothing published yet should block until we publish.
	done := make(chan *protocol.WorldState, 1)
	go func() {
		v, err := sub.Next(ctx)
		if err != nil {
			return
		}
		done <- v
	}()

	time.Sleep(10 * time.Millisecond)
	for i := 1; i <= 50; i++ {
		b.Publish(&protocol.WorldState{TimestampMs: int64(i)})
	}

	select {
	case v := <-done:
		if v.TimestampMs != 50 {
			t.Fatalf("expected subscriber to observe the latest value (50), got %d", v.TimestampMs)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for subscriber")
	}
}

func TestCoalescingDropsIntermediatePublishesWithinWindow(t *testing.T) {
	b := broadcast.New(50 * time.Millisecond)
	b.Publish(&protocol.WorldState{TimestampMs: 1})
	b.Publish(&protocol.WorldState{TimestampMs: 2})
	b.Publish(&protocol.WorldState{TimestampMs: 3})

	time.Sleep(100 * time.Millisecond)
	cur := b.Current()
	if cur == nil || cur.TimestampMs != 3 {
		t.Fatalf("expected coalesced flush to deliver only the last value (3), got %+v", cur)
	}
}

func TestPublishNowBypassesCoalescing(t *testing.T) {
	b := broadcast.New(time.Hour)
	b.Publish(&protocol.WorldState{TimestampMs: 1})
	if b.Current() != nil {
		t.Fatal("expected first publish within a long coalesce window to not flush yet")
	}
	b.PublishNow(&protocol.WorldState{TimestampMs: 2})
	cur := b.Current()
	if cur == nil || cur.TimestampMs != 2 {
		t.Fatalf("expected PublishNow to flush immediately, got %+v", cur)
	}
}

func TestCloseUnblocksSubscribers(t *testing.T) {
	b := broadcast.New(0)
	sub := b.Subscribe()

	errCh := make(chan error, 1)
	go func() {
		_, err := sub.Next(context.Background())
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	b.Close()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected an error after close with no prior value")
		}
	case <-time.After(time.Second):
		t.Fatal("expected Close to unblock the subscriber")
	}
}
