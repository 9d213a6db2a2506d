// Package bulk serves C5, the Bulk Payload Server: resolving a reveal
// mask ticket to its Roaring-encoded bitmap over plain HTTP rather than
// an Arrow/Flight stack.
package bulk

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"

	"sim-orchestrator.dev/core/internal/logging"
	"sim-orchestrator.dev/core/internal/protocol"
	"sim-orchestrator.dev/core/internal/reveal"
	"sim-orchestrator.dev/core/internal/ticket"
)

// Handler serves GET /v1/mask?ticket=<base64url>, writing the bound
// snapshot as a portable-format Roaring bitmap.
type Handler struct {
	Tickets *ticket.Registry
	Logger  *logging.Logger
}

func NewHandler(tickets *ticket.Registry, logger *logging.Logger) *Handler {
	return &Handler{Tickets: tickets, Logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	raw := r.URL.Query().Get("ticket")
	if raw == "" {
		h.writeError(w, http.StatusBadRequest, protocol.ErrInvalidArgument, "missing ticket query parameter")
		return
	}
	decoded, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(raw)
	if err != nil || len(decoded) != 16 {
		h.writeError(w, http.StatusBadRequest, protocol.ErrInvalidArgument, "malformed ticket")
		return
	}

	var t ticket.Ticket
	copy(t[:], decoded)

	snapshot, ok := h.Tickets.Resolve(t)
	if !ok {
		h.writeError(w, http.StatusBadRequest, protocol.ErrInvalidArgument, "unknown or expired ticket")
		return
	}

	b, err := reveal.Serialize(snapshot)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, protocol.ErrInternal, "failed to serialize mask")
		return
	}

	w.Header().Set("Content-Type", "application/x-roaring")
	w.Header().Set("X-Schema-Version", strconv.Itoa(protocol.SchemaVersion))
	w.Header().Set("Content-Length", strconv.Itoa(len(b)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)

	if h.Logger != nil {
		h.Logger.Log(logging.Event{Component: "bulk", Msg: "mask served"})
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, kind protocol.ErrorKind, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(protocol.NewErrorMsg(kind, msg))
}
