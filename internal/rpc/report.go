package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"sim-orchestrator.dev/core/internal/agentregistry"
	"sim-orchestrator.dev/core/internal/logging"
	"sim-orchestrator.dev/core/internal/protocol"
)

// ReportStateHandler implements the bidirectional-streaming ReportState
// RPC: a reader loop and a writer goroutine share the same connection
// and never block each other.
func (s *Server) ReportStateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var writeMu sync.Mutex
		writeJSON := func(v any) error {
			b, err := json.Marshal(v)
			if err != nil {
				return err
			}
			writeMu.Lock()
			defer writeMu.Unlock()
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			return conn.WriteMessage(websocket.TextMessage, b)
		}

		out := make(chan *protocol.ReportStateResponse, 8)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case resp, ok := <-out:
					if !ok {
						return
					}
					if err := writeJSON(resp); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		var rec *agentregistry.Record
		defer func() {
			close(out)
			if rec != nil {
				s.untrackConn(rec.ID)
				rec.DetachStream(time.Now())
				s.Logger.Log(logging.Event{
					Component: "orchestrator",
					AgentID:   logging.WithAgentID(rec.ID),
					RPCMethod: "ReportState",
					Msg:       "disconnect",
				})
				id := rec.ID
				time.AfterFunc(s.Cfg.GraceAfter, func() {
					s.Registry.DeregisterIfStillDisconnected(id)
					s.Metrics.AgentDeregistered()
				})
			}
		}()

		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}

			if len(msg) > s.Cfg.MaxReportBytes {
				s.closeWith(conn, writeJSON, protocol.ErrResourceExhausted, "report exceeds max_report_bytes")
				return
			}

			var report protocol.AgentReport
			if err := json.Unmarshal(msg, &report); err != nil {
				s.closeWith(conn, writeJSON, protocol.ErrInvalidArgument, "malformed AgentReport")
				return
			}

			found, ok := s.Registry.Get(report.AgentID)
			if !ok {
				s.closeWith(conn, writeJSON, protocol.ErrNotFound, "unknown agent_id")
				return
			}
			if rec == nil {
				rec = found
				rec.AttachStream(out)
				s.trackConn(rec.ID, conn)
			}

			now := time.Now()
			rec.UpdatePose(now, report.State)

			outcome, err := s.Aggregator.Merge(report.DiscoveredPointIDsPortable)
			if err != nil {
				s.closeWith(conn, writeJSON, protocol.ErrInvalidArgument, "malformed discovered_point_ids_portable")
				return
			}
			s.Metrics.PointsRevealed(outcome.Added)

			s.publishWorldState()
			s.Metrics.RPCRequest("ReportState", "OK")

			if task := s.maybeAssignTask(rec); task != nil {
				out <- &protocol.ReportStateResponse{
					Type:          protocol.TypeReportAck,
					AssignedTask:  task,
					SchemaVersion: protocol.SchemaVersion,
				}
			} else if pending := rec.TakePendingTask(); pending != nil {
				out <- &protocol.ReportStateResponse{
					Type:          protocol.TypeReportAck,
					AssignedTask:  pending,
					SchemaVersion: protocol.SchemaVersion,
				}
			}
		}
	}
}

// maybeAssignTask consults the task allocator for a single agent that
// is awaiting a task. It does not look at the agent's pending-task slot.
func (s *Server) maybeAssignTask(rec *agentregistry.Record) *protocol.Task {
	if rec.Mode() != protocol.ModeAwaitingTask {
		return nil
	}
	tasks := agentregistry.Allocate(agentregistry.AllocatorView{
		Revealed:    s.Aggregator.Snapshot(),
		TotalPoints: s.Cfg.TotalPoints,
		Awaiting:    []*agentregistry.Record{rec},
	})
	t, ok := tasks[rec.ID]
	if !ok {
		return nil
	}
	return &t
}

func (s *Server) closeWith(conn *websocket.Conn, writeJSON func(any) error, kind protocol.ErrorKind, msg string) {
	_ = writeJSON(protocol.NewErrorMsg(kind, msg))
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, string(kind)), time.Now().Add(time.Second))
}
