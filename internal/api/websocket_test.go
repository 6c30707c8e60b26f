package api

import (
	"testing"
	"time"

	"github.com/koofree/trading-bot/internal/logging"
)

func waitForCount(t *testing.T, hub *Hub, want int, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.ClientCount() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("%s: client count = %d, want %d", msg, hub.ClientCount(), want)
}

func TestHubTracksClientCount(t *testing.T) {
	hub := NewHub(logging.New(&logging.Config{Level: "ERROR"}))
	go hub.Run()
	defer hub.Close()

	if hub.ClientCount() != 0 {
		t.Fatalf("client count = %d before any registration, want 0", hub.ClientCount())
	}

	first := &wsClient{send: make(chan []byte, 1), hub: hub}
	second := &wsClient{send: make(chan []byte, 1), hub: hub}
	hub.register <- first
	hub.register <- second
	waitForCount(t, hub, 2, "after two registrations")

	hub.unregister <- first
	waitForCount(t, hub, 1, "after one unregistration")
}

func TestHubDropsSlowClientFromCount(t *testing.T) {
	hub := NewHub(logging.New(&logging.Config{Level: "ERROR"}))
	go hub.Run()
	defer hub.Close()

	// Zero-capacity send channel with no reader: the first broadcast
	// cannot be delivered and evicts the client.
	slow := &wsClient{send: make(chan []byte), hub: hub}
	hub.register <- slow
	waitForCount(t, hub, 1, "after registration")

	hub.Broadcast(MsgTicker, map[string]float64{"price": 100})
	waitForCount(t, hub, 0, "after broadcast to slow client")
}

func TestHubCloseResetsCount(t *testing.T) {
	hub := NewHub(logging.New(&logging.Config{Level: "ERROR"}))
	go hub.Run()

	client := &wsClient{send: make(chan []byte, 1), hub: hub}
	hub.register <- client
	waitForCount(t, hub, 1, "after registration")

	hub.Close()
	waitForCount(t, hub, 0, "after close")
}
