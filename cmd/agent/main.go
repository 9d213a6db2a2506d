// Command agent is a reference sim_agent implementation: it registers
// with the orchestrator, then reports a simulated pose following its
// assigned waypoints and periodically "discovers" a handful of random
// PointIds, encoded as a Roaring bitmap delta. Waypoint following is
// straight-line with no real LiDAR perception; point-cloud geometry
// and sensing are left external.
package main

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"math"
	mrand "math/rand"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/RoaringBitmap/roaring"
	"github.com/gorilla/websocket"

	"sim-orchestrator.dev/core/internal/protocol"
)

const (
	tickRate          = 10 * time.Millisecond * 10 // 10Hz
	reportInterval    = 500 * time.Millisecond
	cruiseSpeedMPS    = 5.0
	discoverPerReport = 3
)

func main() {
	orchestratorAddr := requireEnv("ORCHESTRATOR_PUBLIC_GRPC_ADDR")
	sessionIDHex := os.Getenv("AGENT_SESSION_ID")

	sessionID, err := sessionIDFromEnv(sessionIDHex)
	if err != nil {
		log.Fatalf("agent session id: %v", err)
	}

	baseHTTP := "http://" + orchestratorAddr
	baseWS := "ws://" + orchestratorAddr

	reg, err := register(baseHTTP, sessionID)
	if err != nil {
		log.Fatalf("register: %v", err)
	}
	log.Printf("registered as agent %d", reg.AgentID)

	conn, _, err := websocket.DefaultDialer.Dial(baseWS+"/v1/report", nil)
	if err != nil {
		log.Fatalf("dial report stream: %v", err)
	}
	defer conn.Close()

	taskCh := make(chan *protocol.Task, 1)
	go readAssignedTasks(conn, taskCh)

	runLoop(conn, reg.AgentID, taskCh)
}

func requireEnv(name string) string {
	v := os.Getenv(name)
	if v == "" {
		log.Fatalf("%s is required", name)
	}
	return v
}

// sessionIDFromEnv decodes AGENT_SESSION_ID (hex, as written by
// agentmanager's randomHex) into the 16-byte session id used for
// registration, or generates a fresh random one if unset.
func sessionIDFromEnv(hexOrEmpty string) ([16]byte, error) {
	var id [16]byte
	if hexOrEmpty == "" {
		if _, err := rand.Read(id[:]); err != nil {
			return id, err
		}
		return id, nil
	}
	b, err := hex.DecodeString(strings.TrimSpace(hexOrEmpty))
	if err != nil {
		return id, err
	}
	if len(b) != len(id) {
		return id, fmt.Errorf("AGENT_SESSION_ID must decode to %d bytes, got %d", len(id), len(b))
	}
	copy(id[:], b)
	return id, nil
}

func register(baseHTTP string, sessionID [16]byte) (*protocol.RegisterAgentResponse, error) {
	body, err := json.Marshal(protocol.RegisterAgentRequest{
		Type:      protocol.TypeRegister,
		SessionID: sessionID[:],
	})
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(baseHTTP+"/v1/register", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out protocol.RegisterAgentResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

func readAssignedTasks(conn *websocket.Conn, taskCh chan *protocol.Task) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			close(taskCh)
			return
		}
		var resp protocol.ReportStateResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			continue
		}
		if resp.AssignedTask != nil {
			select {
			case taskCh <- resp.AssignedTask:
			default:
				<-taskCh
				taskCh <- resp.AssignedTask
			}
		}
	}
}

// runLoop drives the agent's pose simulation and periodic reporting.
func runLoop(conn *websocket.Conn, agentID uint64, taskCh <-chan *protocol.Task) {
	ticker := time.NewTicker(tickRate)
	defer ticker.Stop()

	var (
		pose        protocol.AgentState
		currentTask *protocol.Task
		discovered  = roaring.New()
		lastReport  time.Time
		lastTick    = time.Now()
		seq         uint32
	)
	pose.AgentID = agentID
	pose.Mode = protocol.ModeAwaitingTask
	pose.SchemaVersion = protocol.SchemaVersion
	pose.Orientation = [4]float64{1, 0, 0, 0}

	for {
		select {
		case task, ok := <-taskCh:
			if !ok {
				return
			}
			currentTask = task
			pose.Mode = protocol.ModeNavigating
		case now := <-ticker.C:
			dt := now.Sub(lastTick).Seconds()
			lastTick = now

			if currentTask != nil {
				arrived := stepTowards(&pose.Position, currentTask.Target, cruiseSpeedMPS*dt)
				if arrived {
					pose.Mode = protocol.ModePerceiving
					currentTask = nil
				}
			} else if pose.Mode == protocol.ModePerceiving {
				for i := 0; i < discoverPerReport; i++ {
					discovered.Add(mrand.Uint32())
				}
				pose.Mode = protocol.ModeAwaitingTask
			}

			if now.Sub(lastReport) >= reportInterval {
				seq++
				pose.Sequence = seq
				pose.TimestampMs = now.UnixMilli()

				maskBytes, err := serializeAndClear(discovered)
				if err != nil {
					log.Printf("serialize discovery buffer: %v", err)
					continue
				}

				report := protocol.AgentReport{
					Type:                       protocol.TypeReport,
					AgentID:                    agentID,
					TimestampMs:                now.UnixMilli(),
					State:                      pose,
					DiscoveredPointIDsPortable: maskBytes,
				}
				b, err := json.Marshal(report)
				if err != nil {
					log.Printf("marshal report: %v", err)
					continue
				}
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					log.Printf("write report: %v", err)
					return
				}
				lastReport = now
			}
		}
	}
}

// stepTowards moves pos toward target by at most maxDist metres,
// reporting whether it arrived this step.
func stepTowards(pos *[3]float64, target [3]float64, maxDist float64) bool {
	dx := target[0] - pos[0]
	dy := target[1] - pos[1]
	dz := target[2] - pos[2]
	dist := math.Sqrt(dx*dx + dy*dy + dz*dz)
	if dist <= maxDist || dist == 0 {
		*pos = target
		return true
	}
	scale := maxDist / dist
	pos[0] += dx * scale
	pos[1] += dy * scale
	pos[2] += dz * scale
	return false
}

func serializeAndClear(buf *roaring.Bitmap) ([]byte, error) {
	if buf.IsEmpty() {
		return nil, nil
	}
	b, err := buf.ToBytes()
	if err != nil {
		return nil, err
	}
	buf.Clear()
	return b, nil
}
