// Package linkproxy implements C6, the Link Emulator: a TCP proxy that
// impairs a connection with latency, jitter, a rate cap and scheduled
// stall windows, one goroutine per direction. Packet loss, reordering,
// duplication, corruption, and connection-reset injection are
// explicitly out of scope.
package linkproxy

import (
	"io"
	"math/rand"
	"net"
	"time"

	"sim-orchestrator.dev/core/internal/telemetry"
)

// Config is a single process's impairment profile, applied
// symmetrically to both directions.
type Config struct {
	LatencyMs       int
	JitterMs        int
	RateBps         int64
	BucketBytes     int64
	StallPeriodMs   int
	StallDurationMs int
}

const (
	refillInterval = 10 * time.Millisecond
	chunkBufSize   = 16 * 1024
)

// Proxy accepts inbound connections on ListenAddr and forwards each to
// a freshly dialed connection to TargetAddr, impairing both directions
// identically per Config.
type Proxy struct {
	Cfg     Config
	Target  string
	Metrics *telemetry.EmulatorMetrics
}

func New(cfg Config, target string, metrics *telemetry.EmulatorMetrics) *Proxy {
	return &Proxy{Cfg: cfg, Target: target, Metrics: metrics}
}

// Serve accepts connections on ln until it errors (e.g. on Close),
// spawning one goroutine pair per connection.
func (p *Proxy) Serve(ln net.Listener) error {
	for {
		inbound, err := ln.Accept()
		if err != nil {
			return err
		}
		go p.handleConnection(inbound)
	}
}

func (p *Proxy) handleConnection(inbound net.Conn) {
	defer inbound.Close()
	p.Metrics.ConnectionOpened()
	defer p.Metrics.ConnectionClosed()

	outbound, err := net.Dial("tcp", p.Target)
	if err != nil {
		return
	}
	defer outbound.Close()

	done := make(chan struct{}, 2)
	go func() {
		p.impairCopy(inbound, outbound, "client_to_server")
		done <- struct{}{}
	}()
	go func() {
		p.impairCopy(outbound, inbound, "server_to_client")
		done <- struct{}{}
	}()
	<-done
	<-done
}

// halfCloser is implemented by *net.TCPConn; it lets impairCopy
// propagate EOF as a half-close instead of severing the whole socket.
type halfCloser interface {
	CloseWrite() error
}

// impairCopy reads from r and writes to w, applying the configured
// latency/jitter delay, rate cap and stall windows to every chunk, in
// strict read order (spec: no reordering).
func (p *Proxy) impairCopy(r net.Conn, w net.Conn, direction string) {
	buf := make([]byte, chunkBufSize)
	bucket := p.Cfg.BucketBytes
	lastRefill := time.Now()

	bytesPerInterval := int64(1<<63 - 1)
	if p.Cfg.RateBps > 0 {
		bytesPerInterval = p.Cfg.RateBps / 100
		if bytesPerInterval < 1 {
			bytesPerInterval = 1
		}
	}
	capacity := p.Cfg.BucketBytes
	if bytesPerInterval > capacity {
		capacity = bytesPerInterval
	}

	var nextStall time.Time
	if p.Cfg.StallPeriodMs > 0 {
		nextStall = time.Now().Add(time.Duration(p.Cfg.StallPeriodMs) * time.Millisecond)
	}

	for {
		if since := time.Since(lastRefill); since >= refillInterval {
			bucket = min64(bucket+bytesPerInterval, capacity)
			lastRefill = time.Now()
		}

		if p.Cfg.StallPeriodMs > 0 && !nextStall.IsZero() && !time.Now().Before(nextStall) {
			if p.Cfg.StallDurationMs > 0 {
				p.Metrics.StallWindow()
				time.Sleep(time.Duration(p.Cfg.StallDurationMs) * time.Millisecond)
			}
			nextStall = nextStall.Add(time.Duration(p.Cfg.StallPeriodMs) * time.Millisecond)
		}

		n, err := r.Read(buf)
		if n == 0 {
			if err != nil {
				if hc, ok := w.(halfCloser); ok {
					_ = hc.CloseWrite()
				} else {
					_ = w.Close()
				}
				return
			}
			continue
		}

		if delay := p.totalDelay(); delay > 0 {
			time.Sleep(delay)
		}

		sent := 0
		for sent < n {
			if p.Cfg.RateBps > 0 && bucket == 0 {
				time.Sleep(refillInterval)
				bucket = min64(bucket+bytesPerInterval, capacity)
				lastRefill = time.Now()
				continue
			}

			chunk := int64(n - sent)
			if p.Cfg.RateBps > 0 && bucket < chunk {
				chunk = bucket
			}
			if chunk == 0 {
				continue
			}

			if _, werr := w.Write(buf[sent : sent+int(chunk)]); werr != nil {
				return
			}
			sent += int(chunk)
			if p.Cfg.RateBps > 0 {
				bucket -= chunk
			}
			p.Metrics.BytesTransferred(direction, int(chunk))
		}

		if err != nil && err != io.EOF {
			return
		}
	}
}

func (p *Proxy) totalDelay() time.Duration {
	jitter := 0
	if p.Cfg.JitterMs > 0 {
		jitter = rand.Intn(p.Cfg.JitterMs + 1)
	}
	return time.Duration(p.Cfg.LatencyMs+jitter) * time.Millisecond
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
