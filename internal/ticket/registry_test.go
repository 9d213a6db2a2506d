package ticket_test

import (
	"testing"
	"time"

	"github.com/RoaringBitmap/roaring"

	"sim-orchestrator.dev/core/internal/ticket"
)

func TestIssueResolveRoundTrip(t *testing.T) {
	r := ticket.NewRegistry(256, 10*time.Second)
	mask := roaring.New()
	mask.Add(1)

	tok, err := r.Issue(mask)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := r.Resolve(tok)
	if !ok {
		t.Fatal("expected ticket to resolve")
	}
	if !got.Equals(mask) {
		t.Fatal("resolved mask does not match issued mask")
	}
}

func TestResolveUnknownTicketIsNotFound(t *testing.T) {
	r := ticket.NewRegistry(256, 10*time.Second)
	var bogus ticket.Ticket
	if _, ok := r.Resolve(bogus); ok {
		t.Fatal("expected unknown ticket to not resolve")
	}
}

func TestTicketExpiry(t *testing.T) {
	r := ticket.NewRegistry(256, 10*time.Millisecond)
	tok, err := r.Issue(roaring.New())
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, ok := r.Resolve(tok); ok {
		t.Fatal("expected expired ticket to fail to resolve")
	}
}

func TestCapacityEvictsOldestOnly(t *testing.T) {
	r := ticket.NewRegistry(2, time.Minute)

	first, err := r.Issue(roaring.New())
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.Issue(roaring.New())
	if err != nil {
		t.Fatal(err)
	}
	third, err := r.Issue(roaring.New())
	if err != nil {
		t.Fatal(err)
	}

	if _, ok := r.Resolve(first); ok {
		t.Fatal("expected oldest ticket to be evicted")
	}
	if _, ok := r.Resolve(second); !ok {
		t.Fatal("expected second ticket to survive")
	}
	if _, ok := r.Resolve(third); !ok {
		t.Fatal("expected third ticket to survive")
	}
	if r.Len() != 2 {
		t.Fatalf("expected 2 live entries, got %d", r.Len())
	}
}

func TestIssueProducesDistinctRandomTickets(t *testing.T) {
	r := ticket.NewRegistry(256, time.Minute)
	seen := make(map[ticket.Ticket]struct{})
	for i := 0; i < 100; i++ {
		tok, err := r.Issue(roaring.New())
		if err != nil {
			t.Fatal(err)
		}
		if _, dup := seen[tok]; dup {
			t.Fatal("expected distinct ticket bytes")
		}
		seen[tok] = struct{}{}
	}
}
