package server

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/mensis/room-scribe/internal/transcribe"
)

// Hub fans live session events out to websocket subscribers. Slow
// subscribers drop messages rather than block the session.
type Hub struct {
	mu      sync.RWMutex
	clients map[chan []byte]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[chan []byte]struct{})}
}

func (h *Hub) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
	close(ch)
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.clients {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (h *Hub) BroadcastUtterance(room string, rec transcribe.Record) {
	h.broadcastEvent(UtteranceEvent{
		Event: newEvent("utterance_logged", rec.Timestamp),
		Room:  room,
		PID:   rec.PID,
		Text:  rec.Text,
		Line:  rec.Format(),
	})
}

func (h *Hub) BroadcastInterim(room, text string) {
	h.broadcastEvent(InterimEvent{
		Event: newEvent("utterance_interim", time.Now().UTC()),
		Room:  room,
		Text:  text,
	})
}

func (h *Hub) BroadcastSessionStarted(sessionID, room string) {
	h.broadcastEvent(SessionStartedEvent{
		Event:     newEvent("session_started", time.Now().UTC()),
		SessionID: sessionID,
		Room:      room,
	})
}

func (h *Hub) BroadcastSessionEnded(sessionID, room string, duration time.Duration, utterances int) {
	h.broadcastEvent(SessionEndedEvent{
		Event:      newEvent("session_ended", time.Now().UTC()),
		SessionID:  sessionID,
		Room:       room,
		Duration:   duration.Seconds(),
		Utterances: utterances,
	})
}

func (h *Hub) BroadcastDeliveryStatus(sessionID, room, status, detail string) {
	h.broadcastEvent(DeliveryStatusEvent{
		Event:     newEvent("delivery_status", time.Now().UTC()),
		SessionID: sessionID,
		Room:      room,
		Status:    status,
		Detail:    detail,
	})
}

func (h *Hub) broadcastEvent(event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("event marshal error", "err", err)
		return
	}
	h.Broadcast(payload)
}
