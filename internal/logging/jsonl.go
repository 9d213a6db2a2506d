// Package logging provides the structured JSON-lines lifecycle logger:
// a mutex-guarded marshal-and-append JSONL writer straight to an
// io.Writer (stdout in production), with no rotation or compression,
// since persistence across restarts is out of scope here.
package logging

import (
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Event is one structured lifecycle log line (register, disconnect,
// reset, fatal, ...).
type Event struct {
	TimeUTC   string `json:"time"`
	Component string `json:"component"`
	AgentID   *uint64 `json:"agent_id,omitempty"`
	RPCMethod string `json:"rpc_method,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
	SpanID    string `json:"span_id,omitempty"`
	Msg       string `json:"msg"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Logger writes one JSON object per line to an underlying io.Writer.
type Logger struct {
	mu sync.Mutex
	w  io.Writer
}

func New(w io.Writer) *Logger {
	return &Logger{w: w}
}

// Log writes ev with its TimeUTC stamped to now, if not already set.
func (l *Logger) Log(ev Event) {
	if ev.TimeUTC == "" {
		ev.TimeUTC = time.Now().UTC().Format(time.RFC3339Nano)
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.w.Write(b)
	_, _ = l.w.Write([]byte("\n"))
}

func WithAgentID(id uint64) *uint64 { return &id }
