package session

import (
	"sync"

	"github.com/mensis/room-scribe/internal/transcribe"
)

// Buffer is the ordered, append-only list of finalized utterances for one
// session. The STT callback and the shutdown path run on different
// goroutines, so access is guarded.
type Buffer struct {
	mu      sync.Mutex
	records []transcribe.Record
}

func NewBuffer() *Buffer {
	return &Buffer{}
}

func (b *Buffer) Append(rec transcribe.Record) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records = append(b.records, rec)
}

// Records returns a copy of the buffered records in arrival order.
func (b *Buffer) Records() []transcribe.Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.records) == 0 {
		return nil
	}
	out := make([]transcribe.Record, len(b.records))
	copy(out, b.records)
	return out
}

// Lines returns every record formatted as a log line. Never nil.
func (b *Buffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	lines := make([]string, 0, len(b.records))
	for _, rec := range b.records {
		lines = append(lines, rec.Format())
	}
	return lines
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}
