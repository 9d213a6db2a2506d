// Command viewer is a minimal reference SubscribeWorldState client: it
// connects, prints every WorldState frame as it arrives, and fetches
// the revealed mask's cardinality from the Bulk Payload Server each
// time the ticket changes.
package main

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"

	"github.com/RoaringBitmap/roaring"
	"github.com/gorilla/websocket"

	"sim-orchestrator.dev/core/internal/protocol"
)

func main() {
	grpcAddr := os.Getenv("ORCHESTRATOR_PUBLIC_GRPC_ADDR")
	flightAddr := os.Getenv("ORCHESTRATOR_FLIGHT_ADDR")
	if grpcAddr == "" {
		log.Fatal("ORCHESTRATOR_PUBLIC_GRPC_ADDR is required")
	}

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+grpcAddr+"/v1/subscribe", nil)
	if err != nil {
		log.Fatalf("dial subscribe: %v", err)
	}
	defer conn.Close()

	var lastTicket string
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			log.Printf("subscribe stream ended: %v", err)
			return
		}
		var ws protocol.WorldState
		if err := json.Unmarshal(msg, &ws); err != nil {
			continue
		}

		ticket := base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(ws.RevealMaskTicket)
		log.Printf("t=%d agents=%d coverage=%.4f", ws.TimestampMs, len(ws.Agents), ws.MapCoverageRatio)

		if flightAddr != "" && ticket != lastTicket {
			lastTicket = ticket
			if card, err := fetchMaskCardinality(flightAddr, ticket); err != nil {
				log.Printf("fetch mask: %v", err)
			} else {
				log.Printf("reveal mask cardinality: %d", card)
			}
		}
	}
}

func fetchMaskCardinality(flightAddr, ticket string) (uint64, error) {
	resp, err := http.Get("http://" + flightAddr + "/v1/mask?ticket=" + ticket)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, nil
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, err
	}
	mask := roaring.New()
	if _, err := mask.FromBuffer(b); err != nil {
		return 0, err
	}
	return mask.GetCardinality(), nil
}
