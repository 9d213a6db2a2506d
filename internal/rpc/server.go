// Package rpc serves the four control-plane methods over
// gorilla/websocket-framed connections for the two streaming methods and
// plain JSON POST for the two unary methods, binding C1 (ticket),
// C2 (reveal), C3 (agentregistry) and C4 (broadcast) to the wire: a
// handshake, then a reader loop and an independent writer goroutine
// sharing one connection.
package rpc

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"sim-orchestrator.dev/core/internal/agentregistry"
	"sim-orchestrator.dev/core/internal/broadcast"
	"sim-orchestrator.dev/core/internal/logging"
	"sim-orchestrator.dev/core/internal/reveal"
	"sim-orchestrator.dev/core/internal/telemetry"
	"sim-orchestrator.dev/core/internal/ticket"
)

// Config carries the RPC layer's tuning knobs.
type Config struct {
	ReportIntervalMs int
	MaxReportBytes   int
	TotalPoints      uint32
	GraceAfter       time.Duration
}

// Server wires the four control-plane methods to C1-C4.
type Server struct {
	Registry    *agentregistry.Registry
	Aggregator  *reveal.Aggregator
	Tickets     *ticket.Registry
	Broadcaster *broadcast.Broadcaster
	Metrics     *telemetry.OrchestratorMetrics
	Logger      *logging.Logger
	Cfg         Config

	upgrader websocket.Upgrader

	shuttingDown chan struct{}

	connsMu sync.Mutex
	conns   map[uint64]*websocket.Conn
}

func NewServer(
	registry *agentregistry.Registry,
	aggregator *reveal.Aggregator,
	tickets *ticket.Registry,
	broadcaster *broadcast.Broadcaster,
	metrics *telemetry.OrchestratorMetrics,
	logger *logging.Logger,
	cfg Config,
) *Server {
	return &Server{
		Registry:    registry,
		Aggregator:  aggregator,
		Tickets:     tickets,
		Broadcaster: broadcaster,
		Metrics:     metrics,
		Logger:      logger,
		Cfg:         cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		shuttingDown: make(chan struct{}),
		conns:        make(map[uint64]*websocket.Conn),
	}
}

// CloseAgentStream force-closes an agent's live ReportState connection,
// if any. Used as the liveness sweeper's onStale callback: closing the
// handle drives the normal stream-end path in ReportStateHandler's
// reader loop.
func (s *Server) CloseAgentStream(agentID uint64) {
	s.connsMu.Lock()
	conn := s.conns[agentID]
	s.connsMu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (s *Server) trackConn(agentID uint64, conn *websocket.Conn) {
	s.connsMu.Lock()
	s.conns[agentID] = conn
	s.connsMu.Unlock()
}

func (s *Server) untrackConn(agentID uint64) {
	s.connsMu.Lock()
	delete(s.conns, agentID)
	s.connsMu.Unlock()
}

// BeginShutdown makes every subsequent RegisterAgent call return
// UNAVAILABLE.
func (s *Server) BeginShutdown() { close(s.shuttingDown) }

func (s *Server) isShuttingDown() bool {
	select {
	case <-s.shuttingDown:
		return true
	default:
		return false
	}
}

// Mux returns the four control-plane HTTP routes wired to one mux,
// suitable for mounting on ORCHESTRATOR_GRPC_LISTEN_ADDR.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/register", s.RegisterAgentHandler())
	mux.HandleFunc("/v1/report", s.ReportStateHandler())
	mux.HandleFunc("/v1/subscribe", s.SubscribeWorldStateHandler())
	mux.HandleFunc("/v1/command", s.IssueCommandHandler())
	return mux
}

func nowMs() int64 { return time.Now().UnixMilli() }
