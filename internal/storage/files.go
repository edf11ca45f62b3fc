package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

const (
	DefaultTranscriptsDir = "transcriptions"
	DefaultSpeechDir      = "user_speech"
)

var (
	ErrInvalidRoom = errors.New("invalid room name")
	ErrEmptyRoom   = errors.New("room name is required")
)

var roomPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// ValidateRoom rejects names that are empty or could escape the data directories.
func ValidateRoom(room string) error {
	if strings.TrimSpace(room) == "" {
		return ErrEmptyRoom
	}
	if room == "." || room == ".." || !roomPattern.MatchString(room) {
		return fmt.Errorf("%w: %q", ErrInvalidRoom, room)
	}
	return nil
}

// FileStore owns the per-room append-only transcript files. Every append
// opens, writes and closes the file; no handle is held between calls.
type FileStore struct {
	transcriptsDir string
	speechDir      string

	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

func NewFileStore(transcriptsDir, speechDir string) *FileStore {
	if transcriptsDir == "" {
		transcriptsDir = DefaultTranscriptsDir
	}
	if speechDir == "" {
		speechDir = DefaultSpeechDir
	}
	return &FileStore{
		transcriptsDir: transcriptsDir,
		speechDir:      speechDir,
		locks:          make(map[string]*sync.RWMutex),
	}
}

func (s *FileStore) TranscriptPath(room string) string {
	return filepath.Join(s.transcriptsDir, "transcript_"+room+".txt")
}

func (s *FileStore) SpeechLogPath(room string) string {
	return filepath.Join(s.speechDir, "user_speech_log_"+room+".txt")
}

// AppendSpeech appends one utterance line to the room's speech log.
func (s *FileStore) AppendSpeech(room, line string) error {
	if err := ValidateRoom(room); err != nil {
		return err
	}
	return s.appendLines(s.speechDir, s.SpeechLogPath(room), []string{line})
}

// AppendTranscript appends the full session transcript to the room's
// transcript file. Repeated calls duplicate lines.
func (s *FileStore) AppendTranscript(room string, lines []string) error {
	if err := ValidateRoom(room); err != nil {
		return err
	}
	return s.appendLines(s.transcriptsDir, s.TranscriptPath(room), lines)
}

// ReadTranscript returns the raw transcript file content. A missing file
// yields an error matching os.ErrNotExist; nothing is created.
func (s *FileStore) ReadTranscript(room string) ([]byte, error) {
	if err := ValidateRoom(room); err != nil {
		return nil, err
	}
	path := s.TranscriptPath(room)

	lock := s.lockFor(path)
	lock.RLock()
	defer lock.RUnlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// TranscriptLines returns the non-empty lines of the room transcript in file order.
func (s *FileStore) TranscriptLines(room string) ([]string, error) {
	data, err := s.ReadTranscript(room)
	if err != nil {
		return nil, err
	}
	return SplitLines(string(data)), nil
}

// SplitLines drops blank lines and strips line terminators.
func SplitLines(content string) []string {
	lines := make([]string, 0, strings.Count(content, "\n")+1)
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

func (s *FileStore) appendLines(dir, path string, lines []string) error {
	lock := s.lockFor(path)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}

	// One write per call keeps each append whole for readers in other processes.
	var b strings.Builder
	for _, line := range lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	if _, err := f.WriteString(b.String()); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

func (s *FileStore) lockFor(path string) *sync.RWMutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[path]
	if !ok {
		lock = &sync.RWMutex{}
		s.locks[path] = lock
	}
	return lock
}
