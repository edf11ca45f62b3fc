package server

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mensis/room-scribe/internal/transcribe"
)

func TestWSBroadcastEventShape(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe()
	defer hub.Unsubscribe(ch)

	hub.BroadcastUtterance("room42", transcribe.NewRecord(time.Now(), 9, "test line"))

	select {
	case msg := <-ch:
		var payload map[string]any
		if err := json.Unmarshal(msg, &payload); err != nil {
			t.Fatalf("unmarshal failed: %v", err)
		}
		if payload["type"] != "utterance_logged" {
			t.Fatalf("expected event type utterance_logged, got %#v", payload["type"])
		}
		if payload["room"] != "room42" {
			t.Fatalf("expected room field, got %#v", payload["room"])
		}
		if payload["version"] == nil {
			t.Fatalf("expected version field in payload: %s", string(msg))
		}
	case <-time.After(1 * time.Second):
		t.Fatal("timeout waiting for websocket broadcast")
	}
}

func TestWSEndToEnd(t *testing.T) {
	hub := NewHub()
	h := newTestHandler(t, Deps{Transcripts: newTestFiles(t), Hub: hub})
	srv := httptest.NewServer(h)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer func() { _ = conn.Close() }()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, first, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read connection event failed: %v", err)
	}
	if !strings.Contains(string(first), `"connection"`) {
		t.Fatalf("expected connection event, got %s", first)
	}

	// Subscription happens after the connection event is written.
	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for subscriber")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.BroadcastDeliveryStatus("s1", "room42", "delivered", "")
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read broadcast failed: %v", err)
	}
	if !strings.Contains(string(msg), "delivery_status") {
		t.Fatalf("expected delivery_status event, got %s", msg)
	}
}
