// Manual client for a running engine: connects, authenticates, starts one
// flash trade, and prints every frame until the trade result arrives.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/gorilla/websocket"
)

func main() {
	addr := flag.String("addr", "ws://localhost:8081/ws", "engine websocket url")
	userID := flag.String("user", "", "user id to authenticate as")
	amount := flag.String("amount", "10", "trade stake")
	duration := flag.Int("duration", 30, "trade duration in seconds")
	flag.Parse()

	if *userID == "" {
		log.Fatal("-user is required")
	}

	conn, _, err := websocket.DefaultDialer.Dial(*addr, nil)
	if err != nil {
		log.Fatalf("dial %s: %v", *addr, err)
	}
	defer conn.Close()

	send(conn, map[string]any{"type": "authenticate", "userId": *userID})
	send(conn, map[string]any{
		"type":      "start_flash_trade",
		"amount":    *amount,
		"direction": "up",
		"duration":  *duration,
	})

	deadline := time.Now().Add(time.Duration(*duration+15) * time.Second)
	_ = conn.SetReadDeadline(deadline)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			log.Fatalf("read: %v", err)
		}
		fmt.Println(string(data))

		var env struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal(data, &env)
		if env.Type == "trade_result" || env.Type == "error" {
			return
		}
	}
}

func send(conn *websocket.Conn, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Fatalf("marshal: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Fatalf("write: %v", err)
	}
}
