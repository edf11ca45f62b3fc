package transcribe

import (
	"fmt"
	"time"
)

// TimestampLayout is the wall-clock layout used in formatted records.
const TimestampLayout = "2006-01-02 15:04:05"

// Event is a transcription result delivered by the speech-to-text runtime.
type Event struct {
	IsFinal bool   `json:"is_final"`
	Text    string `json:"transcript"`
}

// Record is one finalized utterance. Records are never modified after creation.
type Record struct {
	Timestamp time.Time `json:"timestamp"`
	PID       int       `json:"pid"`
	Text      string    `json:"text"`
}

// NewRecord keeps text exactly as the provider sent it.
func NewRecord(now time.Time, pid int, text string) Record {
	return Record{Timestamp: now, PID: pid, Text: text}
}

// Format renders the record as a single log line without a trailing newline.
func (r Record) Format() string {
	return fmt.Sprintf("[%s - %d]: %s", r.Timestamp.Format(TimestampLayout), r.PID, r.Text)
}
