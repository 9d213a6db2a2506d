package rpc

import (
	"encoding/json"
	"net/http"

	"sim-orchestrator.dev/core/internal/agentregistry"
	"sim-orchestrator.dev/core/internal/logging"
	"sim-orchestrator.dev/core/internal/protocol"
)

// IssueCommandHandler implements the unary IssueCommand RPC:
// StartSurvey proactively allocates tasks to every idle agent,
// ResetSimulation clears the reveal mask and flushes a fresh WorldState
// immediately. A decodable request always gets a 200 response: an
// unrecognized command name is answered with acknowledged=false and an
// explanatory message, not an error status. Only an undecodable body
// is rejected with 400.
func (s *Server) IssueCommandHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		var req protocol.IssueCommandRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
			writeRPCError(w, http.StatusBadRequest, protocol.ErrInvalidArgument, "malformed IssueCommandRequest")
			return
		}

		var ack bool
		var message string
		switch req.Command {
		case protocol.CommandStartSurvey:
			s.startSurvey()
			ack, message = true, "survey started"
		case protocol.CommandResetSimulation:
			s.resetSimulation()
			ack, message = true, "simulation reset"
		default:
			ack, message = false, "unknown command: "+req.Command
		}

		s.Metrics.RPCRequest("IssueCommand", "OK")
		s.Logger.Log(logging.Event{
			Component: "orchestrator",
			RPCMethod: "IssueCommand",
			Msg:       req.Command,
		})

		resp := protocol.IssueCommandResponse{
			Type:          protocol.TypeCommandAck,
			Acknowledged:  ack,
			Message:       message,
			SchemaVersion: protocol.SchemaVersion,
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// startSurvey allocates a task to every currently-idle agent and, for
// agents with a live stream, pushes it immediately rather than waiting
// for their next report.
func (s *Server) startSurvey() {
	all := s.Registry.All()
	var idle []*agentregistry.Record
	for _, rec := range all {
		if rec.Mode() == protocol.ModeAwaitingTask {
			idle = append(idle, rec)
		}
	}
	if len(idle) == 0 {
		return
	}

	tasks := agentregistry.Allocate(agentregistry.AllocatorView{
		Revealed:    s.Aggregator.Snapshot(),
		TotalPoints: s.Cfg.TotalPoints,
		Awaiting:    idle,
	})

	for _, rec := range idle {
		t, ok := tasks[rec.ID]
		if !ok {
			continue
		}
		rec.SetPendingTask(t)
		if out := rec.StreamOut(); out != nil {
			select {
			case out <- &protocol.ReportStateResponse{
				Type:          protocol.TypeReportAck,
				AssignedTask:  &t,
				SchemaVersion: protocol.SchemaVersion,
			}:
				rec.TakePendingTask()
			default:
				// writer goroutine is backed up; the pending task is
				// still delivered on the agent's next report.
			}
		}
	}
}

// resetSimulation clears the reveal mask and publishes the empty
// WorldState immediately, bypassing broadcaster coalescing.
func (s *Server) resetSimulation() {
	s.Aggregator.Reset()
	s.publishWorldStateNow()
}
