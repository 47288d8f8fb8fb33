package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cadencebot/cadence/internal/bus"
	"github.com/cadencebot/cadence/internal/config"
)

func startServer(t *testing.T, msgBus *bus.MessageBus, status StatusFunc) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	s := NewServer(config.GatewayConfig{Enabled: true}, msgBus, status)
	addr, start := StartTestServer(s, ctx)
	go start()
	return addr
}

func TestHealthReportsChannelStatus(t *testing.T) {
	addr := startServer(t, bus.NewMessageBus(), func() map[string]bool {
		return map[string]bool{"telegram": true, "discord": false}
	})

	resp, err := http.Get("http://" + addr + "/health")
	if err != nil {
		t.Fatalf("health request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body struct {
		Status   string          `json:"status"`
		Channels map[string]bool `json:"channels"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode health body: %v", err)
	}
	if body.Status != "ok" {
		t.Fatalf("status = %q", body.Status)
	}
	if !body.Channels["telegram"] || body.Channels["discord"] {
		t.Fatalf("channels = %v", body.Channels)
	}
}

func TestWebsocketReceivesBroadcasts(t *testing.T) {
	msgBus := bus.NewMessageBus()
	addr := startServer(t, msgBus, nil)

	var conn *websocket.Conn
	var err error
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, _, err = websocket.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Subscription happens on upgrade; give the register a moment.
	time.Sleep(50 * time.Millisecond)
	msgBus.Broadcast(bus.Event{Name: "turn", Payload: map[string]string{"scene": "group:g1"}})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event bus.Event
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if event.Name != "turn" {
		t.Fatalf("event name = %q", event.Name)
	}
}
