// Command emotion-client streams image files to a running server and prints
// the labels it answers with.
//
//	emotion-client -server localhost:8000 -name ana face1.jpg face2.png
package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

type sessionResponse struct {
	Token     string    `json:"token"`
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

func main() {
	server := flag.String("server", "localhost:8000", "server host:port")
	name := flag.String("name", "friend", "client name")
	interval := flag.Duration("interval", 500*time.Millisecond, "delay between frames")
	rounds := flag.Int("rounds", 1, "how many times to send the file list")
	say := flag.String("say", "", "chat message to send after the frames")
	flag.Parse()

	files := flag.Args()
	if len(files) == 0 {
		log.Fatal("usage: emotion-client [flags] image...")
	}

	frames := make([]string, 0, len(files))
	for _, path := range files {
		frame, err := dataURI(path)
		if err != nil {
			log.Fatalf("Failed to read %s: %v", path, err)
		}
		frames = append(frames, frame)
	}

	session, err := openSession(*server, *name)
	if err != nil {
		log.Fatalf("Failed to open session: %v", err)
	}
	fmt.Printf("Session %s (expires %s)\n", session.SessionID, session.ExpiresAt.Format(time.RFC3339))

	u := url.URL{Scheme: "ws", Host: *server, Path: "/ws"}
	q := u.Query()
	q.Set("token", session.Token)
	q.Set("session_id", session.SessionID)
	q.Set("name", *name)
	u.RawQuery = q.Encode()

	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("WebSocket connection failed: %v", err)
	}
	defer c.Close()

	expected := len(frames) * *rounds
	if *say != "" {
		expected++
	}
	done := make(chan struct{})
	go readLoop(c, expected, done)

	for r := 0; r < *rounds; r++ {
		for i, frame := range frames {
			if err := c.WriteJSON(map[string]string{"type": "emotion", "image": frame}); err != nil {
				log.Fatalf("Failed to send frame: %v", err)
			}
			fmt.Printf("-> %s\n", filepath.Base(files[i]))
			time.Sleep(*interval)
		}
	}

	if *say != "" {
		msg := map[string]interface{}{
			"type": "chat",
			"name": *name,
			"messages": []map[string]string{
				{"role": "user", "content": *say},
			},
		}
		if err := c.WriteJSON(msg); err != nil {
			log.Fatalf("Failed to send chat message: %v", err)
		}
		fmt.Printf("-> %q\n", *say)
	}

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		fmt.Println("Timed out waiting for replies")
	}

	c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// readLoop prints server messages until it has seen want answers
func readLoop(c *websocket.Conn, want int, done chan<- struct{}) {
	defer close(done)
	seen := 0
	for seen < want {
		var msg map[string]interface{}
		if err := c.ReadJSON(&msg); err != nil {
			log.Printf("Connection closed: %v", err)
			return
		}
		switch msg["type"] {
		case "emotion":
			seen++
			fmt.Printf("<- emotion: %v\n", msg["emotion"])
		case "proactive":
			fmt.Printf("<- you have looked %v for a while\n", msg["emotion"])
		case "chat":
			seen++
			fmt.Printf("<- %v\n", msg["reply"])
			if rec, ok := msg["recommendation"].(map[string]interface{}); ok && rec["type"] != "none" {
				fmt.Printf("   recommended %v: %v\n", rec["type"], rec["query"])
			}
		default:
			fmt.Printf("<- %v\n", msg)
		}
	}
}

func openSession(server, name string) (*sessionResponse, error) {
	body, _ := json.Marshal(map[string]string{"name": name})
	resp, err := http.Post("http://"+server+"/api/v1/sessions", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	var session sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &session, nil
}

func dataURI(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	mime := "image/jpeg"
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		mime = "image/png"
	case ".gif":
		mime = "image/gif"
	case ".webp":
		mime = "image/webp"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}
