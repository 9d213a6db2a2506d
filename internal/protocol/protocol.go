// Package protocol defines the wire messages and canonical error kinds for
// the control-plane RPC surface: RegisterAgent, ReportState,
// SubscribeWorldState and IssueCommand.
package protocol

import "encoding/json"

// SchemaVersion is carried on every message and on the wire must be 1.
const SchemaVersion = 1

// Message type discriminators for the framed WS envelopes.
const (
	TypeRegister     = "REGISTER"
	TypeRegistered   = "REGISTERED"
	TypeReport       = "REPORT"
	TypeReportAck    = "REPORT_ACK"
	TypeSubscribe    = "SUBSCRIBE"
	TypeWorldState   = "WORLD_STATE"
	TypeCommand      = "COMMAND"
	TypeCommandAck   = "COMMAND_ACK"
	TypeError        = "ERROR"
)

// BaseMessage lets a reader route an unknown JSON message by its type
// field before committing to a concrete struct.
type BaseMessage struct {
	Type string `json:"type"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

// ErrorMsg is sent in place of the expected response/stream message when
// an RPC or stream must be closed with a canonical error kind.
type ErrorMsg struct {
	Type    string    `json:"type"`
	Kind    ErrorKind `json:"error_kind"`
	Message string    `json:"message"`
}

func NewErrorMsg(kind ErrorKind, msg string) ErrorMsg {
	return ErrorMsg{Type: TypeError, Kind: kind, Message: msg}
}
