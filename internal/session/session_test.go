package session

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mensis/room-scribe/internal/delivery"
	"github.com/mensis/room-scribe/internal/storage"
	"github.com/mensis/room-scribe/internal/transcribe"
)

type deliverMock struct {
	mu    sync.Mutex
	calls [][]string
	rooms []string
	err   error
}

func (d *deliverMock) Deliver(_ context.Context, room string, lines []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rooms = append(d.rooms, room)
	d.calls = append(d.calls, append([]string(nil), lines...))
	return d.err
}

type ledgerMock struct {
	mu         sync.Mutex
	created    []string
	delivery   map[string]string
	utterances map[string]int
}

func newLedgerMock() *ledgerMock {
	return &ledgerMock{delivery: map[string]string{}, utterances: map[string]int{}}
}

func (l *ledgerMock) CreateSession(id, _ string, _ int, _ time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.created = append(l.created, id)
	return nil
}

func (l *ledgerMock) RecordDelivery(id, status, _ string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.delivery[id] = status
	return nil
}

func (l *ledgerMock) EndSession(id string, _ time.Time, utterances int, _ string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.utterances[id] = utterances
	return nil
}

type hubMock struct {
	mu         sync.Mutex
	utterances int
	interim    int
	started    int
	ended      int
	statuses   []string
}

func (h *hubMock) BroadcastUtterance(string, transcribe.Record) {
	h.mu.Lock()
	h.utterances++
	h.mu.Unlock()
}

func (h *hubMock) BroadcastInterim(string, string) {
	h.mu.Lock()
	h.interim++
	h.mu.Unlock()
}

func (h *hubMock) BroadcastSessionStarted(string, string) {
	h.mu.Lock()
	h.started++
	h.mu.Unlock()
}

func (h *hubMock) BroadcastSessionEnded(string, string, time.Duration, int) {
	h.mu.Lock()
	h.ended++
	h.mu.Unlock()
}

func (h *hubMock) BroadcastDeliveryStatus(_, _, status, _ string) {
	h.mu.Lock()
	h.statuses = append(h.statuses, status)
	h.mu.Unlock()
}

type archiverMock struct {
	paths []string
}

func (a *archiverMock) Archive(_ context.Context, _, path string) error {
	a.paths = append(a.paths, path)
	return errors.New("drive unavailable")
}

type failingFiles struct {
	*storage.FileStore
}

func (failingFiles) AppendSpeech(string, string) error {
	return errors.New("disk full")
}

type failingTranscriptFiles struct {
	*storage.FileStore
}

func (failingTranscriptFiles) AppendTranscript(string, []string) error {
	return errors.New("read-only file system")
}

var fixedNow = time.Date(2026, 2, 26, 10, 30, 0, 0, time.Local)

func newTestSession(t *testing.T, opts Options) (*Session, *storage.FileStore) {
	t.Helper()
	root := t.TempDir()
	files := storage.NewFileStore(filepath.Join(root, "transcriptions"), filepath.Join(root, "user_speech"))
	if opts.Room == "" {
		opts.Room = "room42"
	}
	if opts.PID == 0 {
		opts.PID = 4242
	}
	if opts.Files == nil {
		opts.Files = files
	}
	opts.Now = func() time.Time { return fixedNow }

	s, err := New(opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s, files
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile %s failed: %v", path, err)
	}
	return storage.SplitLines(string(data))
}

func TestOnTranscriptFinalAppendsBufferAndLog(t *testing.T) {
	hub := &hubMock{}
	s, files := newTestSession(t, Options{Hub: hub})

	if err := s.OnTranscript(transcribe.Event{IsFinal: true, Text: "hello world"}); err != nil {
		t.Fatalf("OnTranscript failed: %v", err)
	}

	if s.Buffer().Len() != 1 {
		t.Fatalf("expected buffer length 1, got %d", s.Buffer().Len())
	}
	lines := readLines(t, files.SpeechLogPath("room42"))
	if len(lines) != 1 || lines[0] != "[2026-02-26 10:30:00 - 4242]: hello world" {
		t.Fatalf("unexpected speech log lines %v", lines)
	}
	if hub.utterances != 1 {
		t.Fatalf("expected one utterance broadcast, got %d", hub.utterances)
	}
}

func TestOnTranscriptEachFinalAddsExactlyOne(t *testing.T) {
	s, files := newTestSession(t, Options{})

	for i, text := range []string{"one", "two", "three"} {
		if err := s.OnTranscript(transcribe.Event{IsFinal: true, Text: text}); err != nil {
			t.Fatalf("OnTranscript failed: %v", err)
		}
		if s.Buffer().Len() != i+1 {
			t.Fatalf("expected buffer length %d, got %d", i+1, s.Buffer().Len())
		}
		if got := len(readLines(t, files.SpeechLogPath("room42"))); got != i+1 {
			t.Fatalf("expected %d speech log lines, got %d", i+1, got)
		}
	}
}

func TestOnTranscriptEmptyFinalIsLogged(t *testing.T) {
	s, files := newTestSession(t, Options{})

	if err := s.OnTranscript(transcribe.Event{IsFinal: true, Text: ""}); err != nil {
		t.Fatalf("OnTranscript failed: %v", err)
	}

	if s.Buffer().Len() != 1 {
		t.Fatalf("expected buffer length 1, got %d", s.Buffer().Len())
	}
	data, err := os.ReadFile(files.SpeechLogPath("room42"))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if got := string(data); got != "[2026-02-26 10:30:00 - 4242]: \n" {
		t.Fatalf("unexpected speech log %q", got)
	}
}

func TestOnTranscriptKeepsProviderText(t *testing.T) {
	s, files := newTestSession(t, Options{})

	if err := s.OnTranscript(transcribe.Event{IsFinal: true, Text: "  hello world  "}); err != nil {
		t.Fatalf("OnTranscript failed: %v", err)
	}

	recs := s.Buffer().Records()
	if len(recs) != 1 || recs[0].Text != "  hello world  " {
		t.Fatalf("unexpected buffered records %+v", recs)
	}
	data, err := os.ReadFile(files.SpeechLogPath("room42"))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if got := string(data); got != "[2026-02-26 10:30:00 - 4242]:   hello world  \n" {
		t.Fatalf("unexpected speech log %q", got)
	}
}

func TestOnTranscriptInterimIsNoop(t *testing.T) {
	hub := &hubMock{}
	s, files := newTestSession(t, Options{Hub: hub})

	if err := s.OnTranscript(transcribe.Event{IsFinal: false, Text: "hel"}); err != nil {
		t.Fatalf("OnTranscript failed: %v", err)
	}

	if s.Buffer().Len() != 0 {
		t.Fatalf("expected empty buffer, got %d", s.Buffer().Len())
	}
	if _, err := os.Stat(files.SpeechLogPath("room42")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected no speech log file, stat err=%v", err)
	}
	if hub.interim != 1 {
		t.Fatalf("expected one interim broadcast, got %d", hub.interim)
	}
}

func TestOnTranscriptWriteFailureReturnsError(t *testing.T) {
	s, _ := newTestSession(t, Options{Files: failingFiles{storage.NewFileStore(t.TempDir(), t.TempDir())}})

	err := s.OnTranscript(transcribe.Event{IsFinal: true, Text: "kept"})
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected disk full error, got %v", err)
	}
	if s.Buffer().Len() != 1 {
		t.Fatalf("expected record to stay buffered, got %d", s.Buffer().Len())
	}
}

func TestShutdownDeliversThenAppends(t *testing.T) {
	deliverer := &deliverMock{}
	ledger := newLedgerMock()
	hub := &hubMock{}
	s, files := newTestSession(t, Options{Deliverer: deliverer, Ledger: ledger, Hub: hub})
	s.Start()

	_ = s.OnTranscript(transcribe.Event{IsFinal: true, Text: "first"})
	_ = s.OnTranscript(transcribe.Event{IsFinal: true, Text: "second"})

	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	if len(deliverer.calls) != 1 || deliverer.rooms[0] != "room42" {
		t.Fatalf("expected one delivery for room42, got %v", deliverer.rooms)
	}
	if len(deliverer.calls[0]) != 2 {
		t.Fatalf("expected 2 delivered lines, got %v", deliverer.calls[0])
	}

	lines := readLines(t, files.TranscriptPath("room42"))
	if len(lines) != 2 || !strings.HasSuffix(lines[0], "]: first") || !strings.HasSuffix(lines[1], "]: second") {
		t.Fatalf("unexpected transcript lines %v", lines)
	}

	id := s.ID()
	if ledger.delivery[id] != storage.DeliveryDelivered {
		t.Fatalf("expected delivered status in ledger, got %q", ledger.delivery[id])
	}
	if ledger.utterances[id] != 2 {
		t.Fatalf("expected 2 utterances in ledger, got %d", ledger.utterances[id])
	}
	if hub.started != 1 || hub.ended != 1 {
		t.Fatalf("expected started/ended broadcasts, got %d/%d", hub.started, hub.ended)
	}
}

func TestShutdownDeliveryFailureStillAppends(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	ledger := newLedgerMock()
	hub := &hubMock{}
	client := delivery.New(delivery.Options{URL: "http://" + addr + "/api/transcript", Timeout: time.Second})
	s, files := newTestSession(t, Options{Deliverer: client, Ledger: ledger, Hub: hub})
	s.Start()

	_ = s.OnTranscript(transcribe.Event{IsFinal: true, Text: "survives"})

	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	lines := readLines(t, files.TranscriptPath("room42"))
	if len(lines) != 1 || !strings.HasSuffix(lines[0], "]: survives") {
		t.Fatalf("expected transcript append despite delivery failure, got %v", lines)
	}
	if ledger.delivery[s.ID()] != storage.DeliveryFailed {
		t.Fatalf("expected failed delivery status, got %q", ledger.delivery[s.ID()])
	}
	if len(hub.statuses) != 1 || hub.statuses[0] != storage.DeliveryFailed {
		t.Fatalf("expected failed delivery broadcast, got %v", hub.statuses)
	}
}

func TestShutdownTranscriptFailureStillEndsSession(t *testing.T) {
	deliverer := &deliverMock{}
	ledger := newLedgerMock()
	hub := &hubMock{}
	archiver := &archiverMock{}
	files := failingTranscriptFiles{storage.NewFileStore(t.TempDir(), t.TempDir())}
	s, _ := newTestSession(t, Options{Files: files, Deliverer: deliverer, Ledger: ledger, Hub: hub, Archiver: archiver})
	s.Start()

	_ = s.OnTranscript(transcribe.Event{IsFinal: true, Text: "lost"})

	err := s.Shutdown(context.Background())
	if err == nil || !strings.Contains(err.Error(), "read-only file system") {
		t.Fatalf("expected transcript append error, got %v", err)
	}
	if len(deliverer.calls) != 1 {
		t.Fatalf("expected delivery before append, got %d calls", len(deliverer.calls))
	}
	if _, ok := ledger.utterances[s.ID()]; !ok {
		t.Fatal("expected ledger session to be ended")
	}
	if hub.ended != 1 {
		t.Fatalf("expected one session ended broadcast, got %d", hub.ended)
	}
	if len(archiver.paths) != 0 {
		t.Fatalf("expected no archive of an unsaved transcript, got %v", archiver.paths)
	}
}

func TestShutdownTwiceDuplicatesLines(t *testing.T) {
	deliverer := &deliverMock{}
	s, files := newTestSession(t, Options{Deliverer: deliverer})

	_ = s.OnTranscript(transcribe.Event{IsFinal: true, Text: "again"})
	for range 2 {
		if err := s.Shutdown(context.Background()); err != nil {
			t.Fatalf("Shutdown failed: %v", err)
		}
	}

	lines := readLines(t, files.TranscriptPath("room42"))
	if len(lines) != 2 || lines[0] != lines[1] {
		t.Fatalf("expected duplicated line, got %v", lines)
	}
	if len(deliverer.calls) != 2 {
		t.Fatalf("expected two delivery attempts, got %d", len(deliverer.calls))
	}
}

func TestShutdownArchiveFailureIsNotFatal(t *testing.T) {
	archiver := &archiverMock{}
	s, files := newTestSession(t, Options{Archiver: archiver})

	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if len(archiver.paths) != 1 || archiver.paths[0] != files.TranscriptPath("room42") {
		t.Fatalf("expected archive of transcript path, got %v", archiver.paths)
	}
}

func TestNewRejectsInvalidRoom(t *testing.T) {
	files := storage.NewFileStore(t.TempDir(), t.TempDir())
	if _, err := New(Options{Room: "../x", Files: files}); !errors.Is(err, storage.ErrInvalidRoom) {
		t.Fatalf("expected ErrInvalidRoom, got %v", err)
	}
	if _, err := New(Options{Room: "", Files: files}); !errors.Is(err, storage.ErrEmptyRoom) {
		t.Fatalf("expected ErrEmptyRoom, got %v", err)
	}
}

func TestIdleDetectorTriggersCallbackAfterUtterance(t *testing.T) {
	detector := NewDetector(20 * time.Millisecond)
	idle := make(chan struct{}, 1)
	detector.OnIdle(func() { idle <- struct{}{} })

	s, _ := newTestSession(t, Options{Detector: detector})
	s.Start()
	_ = s.OnTranscript(transcribe.Event{IsFinal: true, Text: "hello"})

	select {
	case <-idle:
	case <-time.After(time.Second):
		t.Fatal("expected idle callback")
	}
}
