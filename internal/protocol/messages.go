package protocol

// AgentMode is the lifecycle mode of an AgentRecord.
type AgentMode string

const (
	ModeAwaitingTask AgentMode = "AwaitingTask"
	ModePlanning     AgentMode = "Planning"
	ModeNavigating   AgentMode = "Navigating"
	ModePerceiving   AgentMode = "Perceiving"
	ModeDisconnected AgentMode = "Disconnected"
)

// AgentState is a single agent's pose and mode at a point in time:
// metres, ECEF EPSG:4978, Unix ms, quaternion w >= 0.
type AgentState struct {
	AgentID         uint64     `json:"agent_id"`
	TimestampMs     int64      `json:"timestamp_ms"`
	Position        [3]float64 `json:"position"`
	Velocity        [3]float64 `json:"velocity"`
	Orientation     [4]float64 `json:"orientation"`
	Mode            AgentMode  `json:"mode"`
	Sequence        uint32     `json:"sequence"`
	SchemaVersion   int        `json:"schema_version"`
}

// Task is a single ECEF waypoint assigned to an agent.
type Task struct {
	Target [3]float64 `json:"target"`
}

// REGISTER (client -> server, unary request body)
type RegisterAgentRequest struct {
	Type      string `json:"type"`
	SessionID []byte `json:"session_id"`
}

// REGISTERED (server -> client, unary response body)
type RegisterAgentResponse struct {
	Type             string `json:"type"`
	AgentID          uint64 `json:"agent_id"`
	ServerTimeMs     int64  `json:"server_time_ms"`
	ReportIntervalMs int    `json:"report_interval_ms"`
	MaxReportBytes   int    `json:"max_report_bytes"`
	SchemaVersion    int    `json:"schema_version"`
}

// REPORT (client -> server, one message per ReportState stream frame)
type AgentReport struct {
	Type                        string     `json:"type"`
	AgentID                     uint64     `json:"agent_id"`
	TimestampMs                 int64      `json:"timestamp_ms"`
	State                       AgentState `json:"state"`
	DiscoveredPointIDsPortable  []byte     `json:"discovered_point_ids_portable,omitempty"`
}

// REPORT_ACK (server -> client, zero or more per ReportState stream)
type ReportStateResponse struct {
	Type          string `json:"type"`
	AssignedTask  *Task  `json:"assigned_task,omitempty"`
	SchemaVersion int    `json:"schema_version"`
}

// SUBSCRIBE (client -> server, first message on the Subscribe stream)
type SubscribeWorldStateRequest struct {
	Type string `json:"type"`
}

// WORLD_STATE (server -> client, every Subscribe stream frame)
type WorldState struct {
	Type               string       `json:"type"`
	TimestampMs        int64        `json:"timestamp_ms"`
	Agents             []AgentState `json:"agents"`
	RevealMaskTicket   []byte       `json:"reveal_mask_ticket"`
	MapCoverageRatio   float64      `json:"map_coverage_ratio"`
	SchemaVersion      int          `json:"schema_version"`
}

// Command names for IssueCommandRequest's one-of.
const (
	CommandStartSurvey     = "StartSurvey"
	CommandResetSimulation = "ResetSimulation"
)

// COMMAND (client -> server, unary request body)
type IssueCommandRequest struct {
	Type    string `json:"type"`
	Command string `json:"command"`
}

// COMMAND_ACK (server -> client, unary response body)
type IssueCommandResponse struct {
	Type          string `json:"type"`
	Acknowledged  bool   `json:"acknowledged"`
	Message       string `json:"message"`
	SchemaVersion int    `json:"schema_version"`
}
