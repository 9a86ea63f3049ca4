// Command testclient is a terminal front end for the control API: typed
// lines go to the text path, slash commands drive voice mode, and the event
// stream is printed as it arrives.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"voice-support-client/internal/models"
	"voice-support-client/internal/observability/logging"
)

func main() {
	addr := flag.String("addr", "localhost:8080", "Control API address")
	flag.Parse()

	cfg := logging.DefaultConfig()
	cfg.Format = "console"
	cfg.Level = "warn"
	logging.Init(cfg)

	base := "http://" + *addr + "/v1"
	client := &http.Client{Timeout: 90 * time.Second}

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+*addr+"/v1/events", nil)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to event stream")
	}
	defer conn.Close()
	go printEvents(conn)

	fmt.Println("Type a question, or /voice, /stop, /enable, /status, /times, /quit")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		var err error
		switch line {
		case "":
			continue
		case "/quit":
			return
		case "/voice":
			err = call(client, http.MethodPost, base+"/voice/start", nil)
		case "/stop":
			err = call(client, http.MethodPost, base+"/voice/stop", nil)
		case "/enable":
			err = call(client, http.MethodPost, base+"/audio/enable", nil)
		case "/status":
			err = call(client, http.MethodGet, base+"/voice/status", nil)
		case "/times":
			err = call(client, http.MethodGet, base+"/schedule/available-times", nil)
		default:
			err = call(client, http.MethodPost, base+"/messages", map[string]string{"text": line})
		}
		if err != nil {
			log.Error().Err(err).Msg("request failed")
		}
	}
}

// call sends a request and prints non-message responses. Conversation
// messages arrive through the event stream.
func call(client *http.Client, method, url string, body any) error {
	var r io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, url, r)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if !strings.HasSuffix(url, "/messages") {
		fmt.Printf("  %s\n", strings.TrimSpace(string(data)))
	}
	return nil
}

func printEvents(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			log.Warn().Err(err).Msg("event stream closed")
			return
		}
		var head struct {
			EventType string `json:"eventType"`
		}
		if err := json.Unmarshal(data, &head); err != nil {
			continue
		}

		switch head.EventType {
		case models.EventMessageAppended:
			var ev models.MessageEvent
			if json.Unmarshal(data, &ev) == nil {
				fmt.Printf("[%s] %s\n", ev.Message.Role, ev.Message.Text)
				for _, src := range ev.Message.Sources {
					fmt.Printf("    source: %s\n", src)
				}
			}
		case models.EventSessionState:
			var ev models.SessionEvent
			if json.Unmarshal(data, &ev) == nil {
				fmt.Printf("  (voice %s -> %s: %s)\n", ev.From, ev.State, ev.Reason)
			}
		case models.EventAudioEnable:
			fmt.Println("  (audio is blocked, type /enable to allow playback)")
		case models.EventScheduleUpdated:
			var ev models.ScheduleEvent
			if json.Unmarshal(data, &ev) == nil {
				fmt.Printf("  (scheduling: %s)\n", ev.State.String())
			}
		}
	}
}
