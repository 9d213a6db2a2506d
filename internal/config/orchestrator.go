// Package config loads orchestrator and link-emulator configuration from
// environment variables: every variable has a typed parse step,
// required variables fail fast, optional variables fall back to a
// documented default.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Orchestrator holds every orchestrator env var plus the derived
// C1-C4 timing knobs.
type Orchestrator struct {
	GRPCListenAddr    string
	FlightListenAddr  string
	MetricsListenAddr string
	PublicGRPCAddr    string

	AgentBinaryPath      string // optional: enables the Agent Manager
	NumAgents            int
	AgentHealthTimeout   time.Duration
	PointCloudPath       string

	ReportIntervalMs int
	MaxReportBytes   int

	TicketTTL      time.Duration
	TicketCapacity int

	BroadcastCoalesce time.Duration

	SweepInterval time.Duration
	StaleAfter    time.Duration
	GraceAfter    time.Duration
}

// FromEnv builds an Orchestrator config, failing fast on missing
// required variables.
func FromEnv(getenv func(string) string) (Orchestrator, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	cfg := Orchestrator{
		ReportIntervalMs:  500,
		MaxReportBytes:    1 << 20,
		TicketTTL:         10 * time.Second,
		TicketCapacity:    256,
		BroadcastCoalesce: 50 * time.Millisecond,
		SweepInterval:     time.Second,
		NumAgents:         3,
	}
	cfg.StaleAfter = 3 * time.Duration(cfg.ReportIntervalMs) * time.Millisecond
	cfg.GraceAfter = 5 * time.Second

	var err error
	if cfg.GRPCListenAddr, err = required(getenv, "ORCHESTRATOR_GRPC_LISTEN_ADDR"); err != nil {
		return cfg, err
	}
	if cfg.FlightListenAddr, err = required(getenv, "ORCHESTRATOR_FLIGHT_LISTEN_ADDR"); err != nil {
		return cfg, err
	}
	if cfg.MetricsListenAddr, err = required(getenv, "ORCHESTRATOR_METRICS_LISTEN_ADDR"); err != nil {
		return cfg, err
	}
	cfg.PublicGRPCAddr = getenv("ORCHESTRATOR_PUBLIC_GRPC_ADDR")

	cfg.AgentBinaryPath = getenv("AGENT_BINARY_PATH")
	cfg.PointCloudPath = getenv("POINT_CLOUD_PATH")

	if v := getenv("NUM_AGENTS"); v != "" {
		n, perr := strconv.Atoi(v)
		if perr != nil {
			return cfg, fmt.Errorf("NUM_AGENTS: %w", perr)
		}
		cfg.NumAgents = n
	}

	healthMs := 3000
	if v := getenv("AGENT_HEALTH_TIMEOUT_MS"); v != "" {
		n, perr := strconv.Atoi(v)
		if perr != nil {
			return cfg, fmt.Errorf("AGENT_HEALTH_TIMEOUT_MS: %w", perr)
		}
		healthMs = n
	}
	cfg.AgentHealthTimeout = time.Duration(healthMs) * time.Millisecond

	if v := getenv("WORLD_STATE_BROADCAST_INTERVAL_MS"); v != "" {
		n, perr := strconv.Atoi(v)
		if perr != nil {
			return cfg, fmt.Errorf("WORLD_STATE_BROADCAST_INTERVAL_MS: %w", perr)
		}
		if n < 0 {
			return cfg, fmt.Errorf("WORLD_STATE_BROADCAST_INTERVAL_MS: must be >= 0, got %d", n)
		}
		cfg.BroadcastCoalesce = time.Duration(n) * time.Millisecond
	}

	return cfg, nil
}

func required(getenv func(string) string, name string) (string, error) {
	v := getenv(name)
	if v == "" {
		return "", fmt.Errorf("missing required environment variable %s", name)
	}
	return v, nil
}
