package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sim-orchestrator.dev/core/internal/agentmanager"
	"sim-orchestrator.dev/core/internal/agentregistry"
	"sim-orchestrator.dev/core/internal/broadcast"
	"sim-orchestrator.dev/core/internal/bulk"
	"sim-orchestrator.dev/core/internal/config"
	"sim-orchestrator.dev/core/internal/logging"
	"sim-orchestrator.dev/core/internal/reveal"
	"sim-orchestrator.dev/core/internal/rpc"
	"sim-orchestrator.dev/core/internal/telemetry"
	"sim-orchestrator.dev/core/internal/ticket"
)

func main() {
	logger := logging.New(os.Stdout)

	cfg, err := config.FromEnv(nil)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	registry := agentregistry.NewRegistry()
	aggregator := reveal.NewAggregator()
	tickets := ticket.NewRegistry(cfg.TicketCapacity, cfg.TicketTTL)
	broadcaster := broadcast.New(cfg.BroadcastCoalesce)
	metrics := telemetry.NewOrchestratorMetrics()

	var totalPoints uint32 = 100000
	if cfg.PointCloudPath != "" {
		pc, err := config.LoadPointCloud(cfg.PointCloudPath)
		if err != nil {
			log.Fatalf("load point cloud config: %v", err)
		}
		totalPoints = pc.TotalPoints
	}

	server := rpc.NewServer(registry, aggregator, tickets, broadcaster, metrics, logger, rpc.Config{
		ReportIntervalMs: cfg.ReportIntervalMs,
		MaxReportBytes:   cfg.MaxReportBytes,
		TotalPoints:      totalPoints,
		GraceAfter:       cfg.GraceAfter,
	})

	// Seed the broadcaster with an empty WorldState so a viewer that
	// subscribes before any agent has reported gets an immediate
	// snapshot instead of blocking on the first report.
	server.PublishInitialWorldState()

	sweeper := agentregistry.NewSweeper(registry, cfg.SweepInterval, cfg.StaleAfter, server.CloseAgentStream)
	sweeper.Start()
	defer sweeper.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var manager *agentmanager.Manager
	if cfg.AgentBinaryPath != "" {
		manager = agentmanager.New(agentmanager.Config{
			AgentBinaryPath:        cfg.AgentBinaryPath,
			NumAgents:              cfg.NumAgents,
			OrchestratorPublicAddr: cfg.PublicGRPCAddr,
			HealthCheckInterval:    time.Second,
			AgentHealthTimeout:     cfg.AgentHealthTimeout,
		}, registry, logger)
		manager.Start()
	}

	grpcSrv := &http.Server{Addr: cfg.GRPCListenAddr, Handler: server.Mux(), ReadHeaderTimeout: 5 * time.Second}
	bulkSrv := &http.Server{Addr: cfg.FlightListenAddr, Handler: bulk.NewHandler(tickets, logger), ReadHeaderTimeout: 5 * time.Second}
	metricsSrv := &http.Server{Addr: cfg.MetricsListenAddr, Handler: metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Log(logging.Event{Component: "orchestrator", Msg: "control-plane listening on " + cfg.GRPCListenAddr})
		if err := grpcSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("control-plane ListenAndServe: %v", err)
		}
	}()
	go func() {
		logger.Log(logging.Event{Component: "orchestrator", Msg: "bulk payload server listening on " + cfg.FlightListenAddr})
		if err := bulkSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("bulk ListenAndServe: %v", err)
		}
	}()
	go func() {
		logger.Log(logging.Event{Component: "orchestrator", Msg: "metrics listening on " + cfg.MetricsListenAddr})
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("metrics ListenAndServe: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Log(logging.Event{Component: "orchestrator", Msg: "shutdown signal received"})

	server.BeginShutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = grpcSrv.Shutdown(shutdownCtx)
	_ = bulkSrv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)

	if manager != nil {
		manager.Stop()
	}
}
