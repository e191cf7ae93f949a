// Command feedwatch connects to the live referral feed of one user and prints
// every frame it receives. Useful when testing invites by hand.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func main() {
	server := flag.String("server", "ws://localhost:3000", "server base url")
	telegramID := flag.Int64("id", 0, "telegram id to watch")
	flag.Parse()

	if *telegramID <= 0 {
		fmt.Fprintln(os.Stderr, "usage: feedwatch -id <telegram id> [-server ws://host:port]")
		os.Exit(2)
	}

	url := fmt.Sprintf("%s/ws/%d", strings.TrimRight(*server, "/"), *telegramID)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer conn.Close()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, p, err := conn.ReadMessage()
			if err != nil {
				log.Println("read error:", err)
				return
			}

			var msg Message
			if err = json.Unmarshal(p, &msg); err != nil {
				log.Printf("Received (raw):\n%s\n", p)
				continue
			}

			pretty, err := json.MarshalIndent(msg, "", "  ")
			if err != nil {
				log.Println("json marshal error:", err)
				continue
			}
			log.Printf("Received:\n%s\n", pretty)
		}
	}()

	select {
	case <-done:
	case <-interrupt:
		err = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		if err != nil {
			log.Println("close error:", err)
		}
	}
}
