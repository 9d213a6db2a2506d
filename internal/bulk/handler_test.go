package bulk_test

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/RoaringBitmap/roaring"

	"sim-orchestrator.dev/core/internal/bulk"
	"sim-orchestrator.dev/core/internal/protocol"
	"sim-orchestrator.dev/core/internal/reveal"
	"sim-orchestrator.dev/core/internal/ticket"
)

func encodeTicket(t ticket.Ticket) string {
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(t[:])
}

func TestHandlerServesResolvedTicket(t *testing.T) {
	tickets := ticket.NewRegistry(16, time.Minute)
	mask := roaring.New()
	mask.Add(1)
	mask.Add(2)
	mask.Add(5000)
	tk, err := tickets.Issue(mask)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	h := bulk.NewHandler(tickets, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/mask?ticket="+encodeTicket(tk), nil)
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/x-roaring" {
		t.Fatalf("unexpected content type %q", ct)
	}

	body, _ := io.ReadAll(rec.Body)
	got, err := reveal.Serialize(mask)
	if err != nil {
		t.Fatalf("serialize expected: %v", err)
	}
	if string(body) != string(got) {
		t.Fatal("served bytes do not match the issued snapshot")
	}
}

func TestHandlerRejectsUnknownTicket(t *testing.T) {
	tickets := ticket.NewRegistry(16, time.Minute)
	h := bulk.NewHandler(tickets, nil)

	var bogus ticket.Ticket
	bogus[0] = 0xFF

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/mask?ticket="+encodeTicket(bogus), nil)
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var body protocol.ErrorMsg
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body.Kind != protocol.ErrInvalidArgument {
		t.Fatalf("expected INVALID_ARGUMENT, got %s", body.Kind)
	}
}

func TestHandlerRejectsMissingTicket(t *testing.T) {
	tickets := ticket.NewRegistry(16, time.Minute)
	h := bulk.NewHandler(tickets, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/mask", nil)
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
