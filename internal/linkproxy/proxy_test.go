package linkproxy_test

import (
	"bytes"
	"io"
	"net"
	"testing"
	"time"

	"sim-orchestrator.dev/core/internal/linkproxy"
	"sim-orchestrator.dev/core/internal/telemetry"
)

// startEchoServer runs a TCP server that echoes everything it reads
// back to the same connection, until the client half-closes.
func startEchoServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				_, _ = io.Copy(c, c)
			}(conn)
		}
	}()
	return ln.Addr().String()
}

func startProxy(t *testing.T, cfg linkproxy.Config, target string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	p := linkproxy.New(cfg, target, telemetry.NewEmulatorMetrics())
	go p.Serve(ln)
	return ln.Addr().String()
}

func TestProxyForwardsBytesUnmodified(t *testing.T) {
	target := startEchoServer(t)
	proxyAddr := startProxy(t, linkproxy.Config{BucketBytes: 1 << 20}, target)

	conn, err := net.Dial("tcp", proxyAddr)
	if err != nil {
		t.Fatalf("dial proxy: %v", err)
	}
	defer conn.Close()

	payload := []byte("hello through the impaired link")
	if _, err := conn.Write(payload); err != nil {
		t.Fatalf("write: %v", err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.CloseWrite()
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	got, err := io.ReadAll(conn)
	if err != nil && err != io.EOF {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("expected echo of %q, got %q", payload, got)
	}
}

func TestProxyAppliesLatency(t *testing.T) {
	target := startEchoServer(t)
	proxyAddr := startProxy(t, linkproxy.Config{BucketBytes: 1 << 20, LatencyMs: 50}, target)

	conn, err := net.Dial("tcp", proxyAddr)
	if err != nil {
		t.Fatalf("dial proxy: %v", err)
	}
	defer conn.Close()

	start := time.Now()
	if _, err := conn.Write([]byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}
	buf := make([]byte, 1)
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := conn.Read(buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Fatalf("expected at least ~50ms round trip latency, got %v", elapsed)
	}
}
