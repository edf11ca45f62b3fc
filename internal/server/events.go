package server

import "time"

const EventVersion = 1

type Event struct {
	Type      string `json:"type"`
	Version   int    `json:"version"`
	Timestamp string `json:"timestamp"`
}

type UtteranceEvent struct {
	Event
	Room string `json:"room"`
	PID  int    `json:"pid"`
	Text string `json:"text"`
	Line string `json:"line"`
}

type InterimEvent struct {
	Event
	Room string `json:"room"`
	Text string `json:"text"`
}

type SessionStartedEvent struct {
	Event
	SessionID string `json:"session_id"`
	Room      string `json:"room"`
}

type SessionEndedEvent struct {
	Event
	SessionID  string  `json:"session_id"`
	Room       string  `json:"room"`
	Duration   float64 `json:"duration"`
	Utterances int     `json:"utterances"`
}

type DeliveryStatusEvent struct {
	Event
	SessionID string `json:"session_id"`
	Room      string `json:"room"`
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
}

type ConnectionEvent struct {
	Event
	Connected bool `json:"connected"`
}

func newEvent(eventType string, now time.Time) Event {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return Event{
		Type:      eventType,
		Version:   EventVersion,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
}
