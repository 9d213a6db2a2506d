package rpc

import (
	"encoding/json"
	"net/http"

	"sim-orchestrator.dev/core/internal/protocol"
)

func writeRPCError(w http.ResponseWriter, status int, kind protocol.ErrorKind, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(protocol.NewErrorMsg(kind, msg))
}
