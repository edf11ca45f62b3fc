package session

import (
	"context"
	"time"

	"github.com/mensis/room-scribe/internal/transcribe"
)

type Files interface {
	AppendSpeech(room, line string) error
	AppendTranscript(room string, lines []string) error
	TranscriptPath(room string) string
}

type Deliverer interface {
	Deliver(ctx context.Context, room string, lines []string) error
}

type Ledger interface {
	CreateSession(id, room string, pid int, startedAt time.Time) error
	RecordDelivery(id, status, deliveryErr string) error
	EndSession(id string, endedAt time.Time, utterances int, transcriptPath string) error
}

type Archiver interface {
	Archive(ctx context.Context, room, path string) error
}

type EventBroadcaster interface {
	BroadcastUtterance(room string, rec transcribe.Record)
	BroadcastInterim(room, text string)
	BroadcastSessionStarted(sessionID, room string)
	BroadcastSessionEnded(sessionID, room string, duration time.Duration, utterances int)
	BroadcastDeliveryStatus(sessionID, room, status, detail string)
}

// Lifecycle is the two-phase contract the voice runtime drives: one call per
// transcription event, then one shutdown.
type Lifecycle interface {
	OnTranscript(ev transcribe.Event) error
	Shutdown(ctx context.Context) error
}
