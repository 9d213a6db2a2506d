package protocol_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"sim-orchestrator.dev/core/internal/protocol"
)

func schemasDir(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("could not determine caller")
	}
	return filepath.Join(filepath.Dir(file), "..", "..", "schemas")
}

func compile(t *testing.T, name string) *jsonschema.Schema {
	t.Helper()
	c := jsonschema.NewCompiler()

	agentStatePath := filepath.Join(schemasDir(t), "agent_state.schema.json")
	f, err := os.Open(agentStatePath)
	if err != nil {
		t.Fatalf("open agent_state.schema.json: %v", err)
	}
	defer f.Close()
	if err := c.AddResource("https://sim-orchestrator.dev/core/schemas/agent_state.schema.json", f); err != nil {
		t.Fatalf("add agent_state.schema.json resource: %v", err)
	}

	sch, err := c.Compile(filepath.Join(schemasDir(t), name))
	if err != nil {
		t.Fatalf("compile %s: %v", name, err)
	}
	return sch
}

func validate(t *testing.T, sch *jsonschema.Schema, v any) error {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return sch.Validate(doc)
}

func TestAgentReportSchema(t *testing.T) {
	sch := compile(t, "agent_report.schema.json")
	report := protocol.AgentReport{
		Type:        protocol.TypeReport,
		AgentID:     7,
		TimestampMs: 1700000000000,
		State: protocol.AgentState{
			AgentID:       7,
			TimestampMs:   1700000000000,
			Position:      [3]float64{1, 2, 3},
			Velocity:      [3]float64{0, 0, 0},
			Orientation:   [4]float64{0, 0, 0, 1},
			Mode:          protocol.ModeNavigating,
			Sequence:      4,
			SchemaVersion: protocol.SchemaVersion,
		},
		DiscoveredPointIDsPortable: []byte{0x3a, 0x30, 0, 0},
	}
	if err := validate(t, sch, report); err != nil {
		t.Fatalf("valid report rejected: %v", err)
	}
}

func TestWorldStateSchema(t *testing.T) {
	sch := compile(t, "world_state.schema.json")
	ws := protocol.WorldState{
		Type:        protocol.TypeWorldState,
		TimestampMs: 1700000000000,
		Agents: []protocol.AgentState{{
			AgentID:       1,
			TimestampMs:   1700000000000,
			Position:      [3]float64{0, 0, 0},
			Velocity:      [3]float64{0, 0, 0},
			Orientation:   [4]float64{0, 0, 0, 1},
			Mode:          protocol.ModeAwaitingTask,
			Sequence:      0,
			SchemaVersion: protocol.SchemaVersion,
		}},
		RevealMaskTicket: make([]byte, 16),
		MapCoverageRatio: 0.5,
		SchemaVersion:    protocol.SchemaVersion,
	}
	if err := validate(t, sch, ws); err != nil {
		t.Fatalf("valid world state rejected: %v", err)
	}

	ws.MapCoverageRatio = 1.5
	if err := validate(t, sch, ws); err == nil {
		t.Fatal("expected out-of-range coverage ratio to fail validation")
	}
}

func TestErrorKindRegistry(t *testing.T) {
	for k := range map[protocol.ErrorKind]struct{}{
		protocol.ErrInvalidArgument:   {},
		protocol.ErrNotFound:          {},
		protocol.ErrResourceExhausted: {},
		protocol.ErrUnavailable:       {},
		protocol.ErrInternal:          {},
		protocol.ErrDeadlineExceeded:  {},
	} {
		if !protocol.IsKnownKind(k) {
			t.Fatalf("expected %s to be a known kind", k)
		}
	}
	if protocol.IsKnownKind("NOT_A_REAL_KIND") {
		t.Fatal("expected unknown kind to be rejected")
	}
}
