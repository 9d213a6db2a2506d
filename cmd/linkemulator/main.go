// Command linkemulator runs C6, the standalone Link Emulator TCP
// proxy, plus its Prometheus-text metrics endpoint.
package main

import (
	"log"
	"net"
	"net/http"

	"sim-orchestrator.dev/core/internal/config"
	"sim-orchestrator.dev/core/internal/linkproxy"
	"sim-orchestrator.dev/core/internal/telemetry"
)

func main() {
	cfg, err := config.EmulatorFromEnv(nil)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	metrics := telemetry.NewEmulatorMetrics()

	go func() {
		log.Printf("metrics listening on %s", cfg.MetricsListenAddr)
		if err := http.ListenAndServe(cfg.MetricsListenAddr, metrics.Handler()); err != nil {
			log.Fatalf("metrics ListenAndServe: %v", err)
		}
	}()

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		log.Fatalf("listen %s: %v", cfg.ListenAddr, err)
	}
	defer ln.Close()

	proxy := linkproxy.New(linkproxy.Config{
		LatencyMs:       cfg.LatencyMs,
		JitterMs:        cfg.JitterMs,
		RateBps:         cfg.RateBps,
		BucketBytes:     cfg.BucketBytes,
		StallPeriodMs:   cfg.StallPeriodMs,
		StallDurationMs: cfg.StallDurationMs,
	}, cfg.TargetAddr, metrics)

	log.Printf("link emulator listening on %s, forwarding to %s", cfg.ListenAddr, cfg.TargetAddr)
	if err := proxy.Serve(ln); err != nil {
		log.Fatalf("serve: %v", err)
	}
}
