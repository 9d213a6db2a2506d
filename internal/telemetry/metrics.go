// Package telemetry hand-rolls the Prometheus text exposition format
// with atomic counters/gauges. No client library appears anywhere in
// the example corpus, so this is the corpus's own idiom, not a stdlib
// shortfall.
package telemetry

import (
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
)

// labeledCounter is a counter keyed by a small label tuple, e.g.
// {rpc_method, status} or {direction}.
type labeledCounter struct {
	mu     sync.Mutex
	values map[string]*atomic.Int64
}

func newLabeledCounter() *labeledCounter {
	return &labeledCounter{values: make(map[string]*atomic.Int64)}
}

func (c *labeledCounter) Inc(labelKey string) {
	c.mu.Lock()
	v, ok := c.values[labelKey]
	if !ok {
		v = &atomic.Int64{}
		c.values[labelKey] = v
	}
	c.mu.Unlock()
	v.Add(1)
}

func (c *labeledCounter) snapshot() map[string]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int64, len(c.values))
	for k, v := range c.values {
		out[k] = v.Load()
	}
	return out
}

// OrchestratorMetrics covers the orchestrator's series.
type OrchestratorMetrics struct {
	agentsRegisteredTotal atomic.Int64
	agentsActive          atomic.Int64
	pointsRevealedTotal   atomic.Int64
	mapCoverageRatioBits  atomic.Uint64 // float64 bits, for lock-free gauge reads
	grpcRequestsTotal     *labeledCounter
}

func NewOrchestratorMetrics() *OrchestratorMetrics {
	return &OrchestratorMetrics{grpcRequestsTotal: newLabeledCounter()}
}

func (m *OrchestratorMetrics) AgentRegistered() { m.agentsRegisteredTotal.Add(1); m.agentsActive.Add(1) }
func (m *OrchestratorMetrics) AgentDeregistered() { m.agentsActive.Add(-1) }
func (m *OrchestratorMetrics) PointsRevealed(delta uint64) { m.pointsRevealedTotal.Add(int64(delta)) }
func (m *OrchestratorMetrics) SetCoverageRatio(r float64) { m.mapCoverageRatioBits.Store(f64bits(r)) }
func (m *OrchestratorMetrics) RPCRequest(method, status string) {
	m.grpcRequestsTotal.Inc(method + "\x00" + status)
}

func (m *OrchestratorMetrics) writeTo(w http.ResponseWriter) {
	fmt.Fprintf(w, "# HELP sim_agents_registered_total Total agents ever registered.\n")
	fmt.Fprintf(w, "# TYPE sim_agents_registered_total counter\n")
	fmt.Fprintf(w, "sim_agents_registered_total %d\n", m.agentsRegisteredTotal.Load())

	fmt.Fprintf(w, "# HELP sim_agents_active Agents currently registered.\n")
	fmt.Fprintf(w, "# TYPE sim_agents_active gauge\n")
	fmt.Fprintf(w, "sim_agents_active %d\n", m.agentsActive.Load())

	fmt.Fprintf(w, "# HELP sim_points_revealed_total Total PointIds ever merged into the reveal mask.\n")
	fmt.Fprintf(w, "# TYPE sim_points_revealed_total counter\n")
	fmt.Fprintf(w, "sim_points_revealed_total %d\n", m.pointsRevealedTotal.Load())

	fmt.Fprintf(w, "# HELP sim_map_coverage_ratio Current |mask| / N.\n")
	fmt.Fprintf(w, "# TYPE sim_map_coverage_ratio gauge\n")
	fmt.Fprintf(w, "sim_map_coverage_ratio %v\n", f64frombits(m.mapCoverageRatioBits.Load()))

	fmt.Fprintf(w, "# HELP sim_grpc_requests_total Control-plane RPC request count.\n")
	fmt.Fprintf(w, "# TYPE sim_grpc_requests_total counter\n")
	for _, line := range sortedLabeledLines("sim_grpc_requests_total", m.grpcRequestsTotal.snapshot(), []string{"rpc_method", "status"}) {
		fmt.Fprint(w, line)
	}
}

// Handler returns the /metrics HTTP handler.
func (m *OrchestratorMetrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		m.writeTo(w)
	}
}

// EmulatorMetrics covers the link emulator's series.
type EmulatorMetrics struct {
	activeConnections     atomic.Int64
	bytesTransferredTotal *labeledCounter
	stallWindowsTotal     atomic.Int64
	resetsInjectedTotal   atomic.Int64
}

func NewEmulatorMetrics() *EmulatorMetrics {
	return &EmulatorMetrics{bytesTransferredTotal: newLabeledCounter()}
}

func (m *EmulatorMetrics) ConnectionOpened()      { m.activeConnections.Add(1) }
func (m *EmulatorMetrics) ConnectionClosed()      { m.activeConnections.Add(-1) }
func (m *EmulatorMetrics) StallWindow()           { m.stallWindowsTotal.Add(1) }
func (m *EmulatorMetrics) BytesTransferred(direction string, n int) {
	m.bytesTransferredTotal.mu.Lock()
	v, ok := m.bytesTransferredTotal.values[direction]
	if !ok {
		v = &atomic.Int64{}
		m.bytesTransferredTotal.values[direction] = v
	}
	m.bytesTransferredTotal.mu.Unlock()
	v.Add(int64(n))
}

func (m *EmulatorMetrics) writeTo(w http.ResponseWriter) {
	fmt.Fprintf(w, "# HELP proxy_active_connections Currently proxied TCP connections.\n")
	fmt.Fprintf(w, "# TYPE proxy_active_connections gauge\n")
	fmt.Fprintf(w, "proxy_active_connections %d\n", m.activeConnections.Load())

	fmt.Fprintf(w, "# HELP proxy_bytes_transferred_total Bytes forwarded, by direction.\n")
	fmt.Fprintf(w, "# TYPE proxy_bytes_transferred_total counter\n")
	for _, line := range sortedLabeledLines("proxy_bytes_transferred_total", m.bytesTransferredTotal.snapshot(), []string{"direction"}) {
		fmt.Fprint(w, line)
	}

	fmt.Fprintf(w, "# HELP proxy_stall_windows_total Stall windows entered.\n")
	fmt.Fprintf(w, "# TYPE proxy_stall_windows_total counter\n")
	fmt.Fprintf(w, "proxy_stall_windows_total %d\n", m.stallWindowsTotal.Load())

	fmt.Fprintf(w, "# HELP proxy_resets_injected_total Connection resets injected (always 0; not implemented by this emulator).\n")
	fmt.Fprintf(w, "# TYPE proxy_resets_injected_total counter\n")
	fmt.Fprintf(w, "proxy_resets_injected_total %d\n", m.resetsInjectedTotal.Load())
}

func (m *EmulatorMetrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		m.writeTo(w)
	}
}

// sortedLabeledLines renders a labeled counter's snapshot as Prometheus
// text lines, sorted for deterministic output. Multi-label keys are
// joined by NUL in Inc (BytesTransferred keys by direction alone) and
// split back out here in labelNames order.
func sortedLabeledLines(metric string, values map[string]int64, labelNames []string) []string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		parts := splitNUL(k, len(labelNames))
		var labels string
		for i, name := range labelNames {
			if i > 0 {
				labels += ","
			}
			val := ""
			if i < len(parts) {
				val = parts[i]
			}
			labels += fmt.Sprintf("%s=%q", name, val)
		}
		lines = append(lines, fmt.Sprintf("%s{%s} %d\n", metric, labels, values[k]))
	}
	return lines
}

func splitNUL(s string, n int) []string {
	out := make([]string, 0, n)
	start := 0
	for i := 0; i < len(s) && len(out) < n-1; i++ {
		if s[i] == 0 {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}
