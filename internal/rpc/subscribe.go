package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// SubscribeWorldStateHandler implements the server-streaming
// SubscribeWorldState RPC: on connect, the current WorldState (if any)
// is sent immediately, then every subsequent broadcast is forwarded
// until the viewer disconnects.
func (s *Server) SubscribeWorldStateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Reader goroutine: a viewer sends nothing meaningful after the
		// handshake, but we must drain reads to notice disconnects and
		// respond to control frames (ping/close).
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					cancel()
					return
				}
			}
		}()

		sub := s.Broadcaster.Subscribe()
		for {
			ws, err := sub.Next(ctx)
			if err != nil {
				return
			}
			b, err := json.Marshal(ws)
			if err != nil {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		}
	}
}
