package agentmanager_test

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"sim-orchestrator.dev/core/internal/agentmanager"
	"sim-orchestrator.dev/core/internal/agentregistry"
	"sim-orchestrator.dev/core/internal/logging"
)

// longRunningBinary writes a tiny shell wrapper around `sleep 60`,
// standing in for the real sim_agent binary (bureau-launcher's test
// suite uses the same "sleep 60" stand-in for a supervised child).
// AgentBinaryPath carries no argument list, so a wrapper script is the
// simplest way to exercise a genuinely long-running child process.
func longRunningBinary(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-agent.sh")
	script := "#!/bin/sh\nexec sleep 60\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake agent script: %v", err)
	}
	return path
}

func TestStartSpawnsConfiguredAgentCount(t *testing.T) {
	registry := agentregistry.NewRegistry()
	logBuf := &syncBuffer{}
	logger := logging.New(logBuf)
	m := agentmanager.New(agentmanager.Config{
		AgentBinaryPath:     longRunningBinary(t),
		NumAgents:           2,
		HealthCheckInterval: 50 * time.Millisecond,
		AgentHealthTimeout:  time.Second,
	}, registry, logger)

	m.Start()
	time.Sleep(50 * time.Millisecond)
	spawned := strings.Count(logBuf.String(), "spawned agent process session=")
	m.Stop()
	if spawned != 2 {
		t.Fatalf("expected 2 spawned agent processes, got %d", spawned)
	}
}

func TestStopTerminatesChildren(t *testing.T) {
	registry := agentregistry.NewRegistry()
	logger := logging.New(io.Discard)
	m := agentmanager.New(agentmanager.Config{
		AgentBinaryPath:     longRunningBinary(t),
		NumAgents:           1,
		HealthCheckInterval: 50 * time.Millisecond,
		AgentHealthTimeout:  time.Second,
	}, registry, logger)

	m.Start()
	time.Sleep(20 * time.Millisecond)
	done := make(chan struct{})
	go func() {
		m.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("expected Stop to terminate children within the grace window")
	}
}

// syncBuffer is a bytes.Buffer safe for the concurrent write (from the
// logger) and read (from the polling test goroutine) this test does.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// TestReapExitedKillsStaleAgent exercises the path where a spawned
// process is still running but its registry record has gone silent
// past AgentHealthTimeout: reapExited must kill it, distinct from the
// crash-detection path (a child whose process already exited).
func TestReapExitedKillsStaleAgent(t *testing.T) {
	registry := agentregistry.NewRegistry()
	logBuf := &syncBuffer{}
	logger := logging.New(logBuf)

	m := agentmanager.New(agentmanager.Config{
		AgentBinaryPath:     longRunningBinary(t),
		NumAgents:           1,
		HealthCheckInterval: 20 * time.Millisecond,
		AgentHealthTimeout:  10 * time.Millisecond,
	}, registry, logger)

	m.Start()
	defer m.Stop()

	sessionID := waitForSpawnedSession(t, logBuf)

	// Register the session with a lastSeen far enough in the past that
	// it is immediately older than AgentHealthTimeout.
	registry.Register(sessionID, time.Now().Add(-time.Hour))

	waitForLogContaining(t, logBuf, "stopped reporting, killing")
}

func waitForSpawnedSession(t *testing.T, buf *syncBuffer) [16]byte {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, line := range strings.Split(buf.String(), "\n") {
			if line == "" {
				continue
			}
			var ev logging.Event
			if err := json.Unmarshal([]byte(line), &ev); err != nil {
				continue
			}
			if idx := strings.Index(ev.Msg, "spawned agent process session="); idx >= 0 {
				hexID := ev.Msg[idx+len("spawned agent process session="):]
				b, err := hex.DecodeString(hexID)
				if err != nil || len(b) != 16 {
					continue
				}
				var id [16]byte
				copy(id[:], b)
				return id
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for spawn log line")
	return [16]byte{}
}

func waitForLogContaining(t *testing.T, buf *syncBuffer, substr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(buf.String(), substr) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for log line containing %q, got:\n%s", substr, buf.String())
}
