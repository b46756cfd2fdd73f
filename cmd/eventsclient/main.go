// Command eventsclient prints a project's live event feed.
package main

import (
	"flag"
	"log"
	"net/url"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

type Message struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

func main() {
	server := flag.String("server", "ws://localhost:8080", "API base url")
	project := flag.String("project", "", "project id")
	token := flag.String("token", "", "admin JWT")
	flag.Parse()

	if *project == "" || *token == "" {
		log.Fatal("-project and -token are required")
	}

	u, err := url.Parse(*server)
	if err != nil {
		log.Fatal("invalid server url:", err)
	}
	u.Path = "/api/v1/projects/" + *project + "/events"
	u.RawQuery = url.Values{"token": {*token}}.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer conn.Close()

	messageQueue := make(chan []byte)

	go func() {
		defer close(messageQueue)
		for {
			_, p, err := conn.ReadMessage()
			if err != nil {
				log.Println("read error:", err)
				return
			}

			messageQueue <- p
		}
	}()

	for raw := range messageQueue {
		var m Message
		if err := json.Unmarshal(raw, &m); err != nil {
			log.Printf("Received:\n%s\n", raw)
			continue
		}
		out, _ := json.MarshalIndent(m, "", "  ")
		log.Printf("Received %s:\n%s\n", m.Type, out)
	}
}
