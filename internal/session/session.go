package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mensis/room-scribe/internal/metrics"
	"github.com/mensis/room-scribe/internal/storage"
	"github.com/mensis/room-scribe/internal/transcribe"
)

type Options struct {
	Room      string
	PID       int
	Files     Files
	Deliverer Deliverer
	Ledger    Ledger
	Archiver  Archiver
	Hub       EventBroadcaster
	Detector  *Detector
	Logger    *slog.Logger
	Now       func() time.Time
}

// Session captures one room's utterances and hands them off at shutdown.
type Session struct {
	room      string
	pid       int
	files     Files
	deliverer Deliverer
	ledger    Ledger
	archiver  Archiver
	hub       EventBroadcaster
	detector  *Detector
	log       *slog.Logger
	now       func() time.Time

	buffer *Buffer

	mu        sync.Mutex
	id        string
	startedAt time.Time
	started   bool
	ended     bool
}

var _ Lifecycle = (*Session)(nil)

func New(opts Options) (*Session, error) {
	if err := storage.ValidateRoom(opts.Room); err != nil {
		return nil, err
	}
	if opts.Files == nil {
		return nil, errors.New("session files are required")
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Session{
		room:      opts.Room,
		pid:       opts.PID,
		files:     opts.Files,
		deliverer: opts.Deliverer,
		ledger:    opts.Ledger,
		archiver:  opts.Archiver,
		hub:       opts.Hub,
		detector:  opts.Detector,
		log:       logger.With("room", opts.Room),
		now:       now,
		buffer:    NewBuffer(),
	}, nil
}

func (s *Session) Room() string { return s.room }

func (s *Session) Buffer() *Buffer { return s.buffer }

func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Start registers the session in the ledger and arms the idle detector.
// Ledger failures are logged; transcription continues without it.
func (s *Session) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	startedAt := s.now()
	s.id = fmt.Sprintf("%s-%s-%d", s.room, startedAt.UTC().Format("20060102150405"), s.pid)
	s.startedAt = startedAt
	s.started = true
	id := s.id
	s.mu.Unlock()

	metrics.SessionsActive.Inc()

	if s.ledger != nil {
		if err := s.ledger.CreateSession(id, s.room, s.pid, startedAt); err != nil {
			s.log.Warn("session ledger create failed", "session", id, "err", err)
		}
	}
	if s.hub != nil {
		s.hub.BroadcastSessionStarted(id, s.room)
	}
	s.detector.Touch()

	s.log.Info("session started", "session", id, "pid", s.pid)
}

// OnTranscript logs a finalized utterance with its text unchanged, even
// when empty. Interim events are ignored. A failed file append is returned
// after the record has already been buffered, so it still reaches the
// shutdown transcript.
func (s *Session) OnTranscript(ev transcribe.Event) error {
	if !ev.IsFinal {
		metrics.UtterancesIgnored.Inc()
		if s.hub != nil && strings.TrimSpace(ev.Text) != "" {
			s.hub.BroadcastInterim(s.room, ev.Text)
		}
		return nil
	}

	rec := transcribe.NewRecord(s.now(), s.pid, ev.Text)
	s.buffer.Append(rec)
	s.detector.Touch()

	if err := s.files.AppendSpeech(s.room, rec.Format()); err != nil {
		metrics.LogWriteErrors.Inc()
		return fmt.Errorf("append speech log: %w", err)
	}
	metrics.UtterancesLogged.Inc()

	if s.hub != nil {
		s.hub.BroadcastUtterance(s.room, rec)
	}
	return nil
}

// Shutdown delivers the buffered transcript to the backend, then appends it
// to the room transcript file. A delivery failure never prevents the file
// append. Calling Shutdown again appends the same lines again.
func (s *Session) Shutdown(ctx context.Context) error {
	s.detector.Stop()

	s.mu.Lock()
	id := s.id
	startedAt := s.startedAt
	first := s.started && !s.ended
	s.ended = true
	s.mu.Unlock()

	lines := s.buffer.Lines()

	s.deliver(ctx, id, lines)

	path := s.files.TranscriptPath(s.room)
	appendErr := s.files.AppendTranscript(s.room, lines)
	if appendErr != nil {
		metrics.LogWriteErrors.Inc()
		appendErr = fmt.Errorf("append transcript: %w", appendErr)
		s.log.Error("transcript save failed", "session", id, "path", path, "err", appendErr)
	} else {
		s.log.Info("transcript saved", "session", id, "path", path, "lines", len(lines))
	}

	endedAt := s.now()
	if s.ledger != nil && id != "" {
		if err := s.ledger.EndSession(id, endedAt, len(lines), path); err != nil {
			s.log.Warn("session ledger end failed", "session", id, "err", err)
		}
	}
	if first {
		metrics.SessionsActive.Dec()
	}
	if s.hub != nil {
		s.hub.BroadcastSessionEnded(id, s.room, endedAt.Sub(startedAt), len(lines))
	}

	if appendErr != nil {
		return appendErr
	}

	if s.archiver != nil {
		if err := s.archiver.Archive(ctx, s.room, path); err != nil {
			s.log.Warn("transcript archive failed", "session", id, "path", path, "err", err)
		}
	}

	return nil
}

func (s *Session) deliver(ctx context.Context, id string, lines []string) {
	if s.deliverer == nil {
		return
	}

	s.log.Info("sending transcript", "session", id, "lines", len(lines))
	start := time.Now()
	err := s.deliverer.Deliver(ctx, s.room, lines)
	metrics.DeliveryDuration.Observe(time.Since(start).Seconds())

	status, detail := storage.DeliveryDelivered, ""
	if err != nil {
		status, detail = storage.DeliveryFailed, err.Error()
		metrics.Deliveries.WithLabelValues("failed").Inc()
		s.log.Error("error sending transcript", "session", id, "err", err)
	} else {
		metrics.Deliveries.WithLabelValues("delivered").Inc()
	}

	if s.ledger != nil && id != "" {
		if lerr := s.ledger.RecordDelivery(id, status, detail); lerr != nil {
			s.log.Warn("session ledger delivery update failed", "session", id, "err", lerr)
		}
	}
	if s.hub != nil {
		s.hub.BroadcastDeliveryStatus(id, s.room, status, detail)
	}
}
