package rpc

import (
	"encoding/json"
	"net/http"
	"time"

	"sim-orchestrator.dev/core/internal/logging"
	"sim-orchestrator.dev/core/internal/protocol"
)

// RegisterAgentHandler implements the unary RegisterAgent RPC (spec
// §4.3): allocate the next AgentId, insert an AwaitingTask record, and
// return the report cadence/limits the agent must honor.
func (s *Server) RegisterAgentHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		if s.isShuttingDown() {
			writeRPCError(w, http.StatusServiceUnavailable, protocol.ErrUnavailable, "orchestrator is shutting down")
			return
		}

		var req protocol.RegisterAgentRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
			writeRPCError(w, http.StatusBadRequest, protocol.ErrInvalidArgument, "malformed RegisterAgentRequest")
			return
		}
		if len(req.SessionID) != 16 {
			writeRPCError(w, http.StatusBadRequest, protocol.ErrInvalidArgument, "session_id must be 16 bytes")
			return
		}

		var sessionID [16]byte
		copy(sessionID[:], req.SessionID)

		rec, reused := s.Registry.Register(sessionID, time.Now())
		if !reused {
			s.Metrics.AgentRegistered()
		}
		s.Metrics.RPCRequest("RegisterAgent", "OK")
		s.Logger.Log(logging.Event{
			Component: "orchestrator",
			AgentID:   logging.WithAgentID(rec.ID),
			RPCMethod: "RegisterAgent",
			Msg:       "register",
		})

		resp := protocol.RegisterAgentResponse{
			Type:             protocol.TypeRegistered,
			AgentID:          rec.ID,
			ServerTimeMs:     nowMs(),
			ReportIntervalMs: s.Cfg.ReportIntervalMs,
			MaxReportBytes:   s.Cfg.MaxReportBytes,
			SchemaVersion:    protocol.SchemaVersion,
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}
