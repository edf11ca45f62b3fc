package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const (
	DeliveryPending   = "pending"
	DeliveryDelivered = "delivered"
	DeliveryFailed    = "failed"
)

type Session struct {
	ID             string     `json:"id"`
	Room           string     `json:"room"`
	PID            int        `json:"pid"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	Status         string     `json:"status"`
	Utterances     int        `json:"utterances"`
	DeliveryStatus string     `json:"delivery_status"`
	DeliveryError  string     `json:"delivery_error,omitempty"`
	TranscriptPath string     `json:"transcript_path"`
}

// SQLiteStore is the session ledger: one row per voice session with its
// delivery outcome. Transcript text itself lives in the FileStore.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		dbPath = filepath.Join("data", "room-scribe.db")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) init() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			room TEXT NOT NULL,
			pid INTEGER NOT NULL,
			started_at TEXT NOT NULL,
			ended_at TEXT,
			status TEXT NOT NULL,
			utterances INTEGER NOT NULL DEFAULT 0,
			delivery_status TEXT NOT NULL DEFAULT 'pending',
			delivery_error TEXT NOT NULL DEFAULT '',
			transcript_path TEXT NOT NULL DEFAULT ''
		);
	`); err != nil {
		return fmt.Errorf("create sessions table: %w", err)
	}

	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_sessions_room ON sessions(room, started_at)"); err != nil {
		return fmt.Errorf("create sessions index: %w", err)
	}

	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) CreateSession(id, room string, pid int, startedAt time.Time) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("session id is required")
	}

	_, err := s.db.Exec(
		`INSERT INTO sessions(id, room, pid, started_at, status, delivery_status) VALUES(?, ?, ?, ?, 'active', ?)`,
		id,
		room,
		pid,
		startedAt.UTC().Format(time.RFC3339Nano),
		DeliveryPending,
	)
	if err != nil {
		return fmt.Errorf("create session %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) RecordDelivery(id, status, deliveryErr string) error {
	res, err := s.db.Exec(
		`UPDATE sessions SET delivery_status = ?, delivery_error = ? WHERE id = ?`,
		status,
		deliveryErr,
		id,
	)
	if err != nil {
		return fmt.Errorf("record delivery for session %s: %w", id, err)
	}
	return requireRow(res, "record delivery")
}

func (s *SQLiteStore) EndSession(id string, endedAt time.Time, utterances int, transcriptPath string) error {
	res, err := s.db.Exec(
		`UPDATE sessions SET ended_at = ?, status = 'ended', utterances = ?, transcript_path = ? WHERE id = ?`,
		endedAt.UTC().Format(time.RFC3339Nano),
		utterances,
		transcriptPath,
		id,
	)
	if err != nil {
		return fmt.Errorf("end session %s: %w", id, err)
	}
	return requireRow(res, "end session")
}

func (s *SQLiteStore) GetSession(id string) (Session, error) {
	rows, err := s.db.Query(sessionColumns+` WHERE id = ?`, id)
	if err != nil {
		return Session{}, fmt.Errorf("query session %s: %w", id, err)
	}
	defer func() { _ = rows.Close() }()

	sessions, err := scanSessions(rows)
	if err != nil {
		return Session{}, err
	}
	if len(sessions) == 0 {
		return Session{}, fmt.Errorf("query session %s: %w", id, sql.ErrNoRows)
	}
	return sessions[0], nil
}

// ListSessions returns sessions newest first, filtered by room when room is non-empty.
func (s *SQLiteStore) ListSessions(room string) ([]Session, error) {
	query := sessionColumns
	var args []any
	if room != "" {
		query += ` WHERE room = ?`
		args = append(args, room)
	}
	query += ` ORDER BY started_at DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanSessions(rows)
}

const sessionColumns = `SELECT id, room, pid, started_at, ended_at, status, utterances, delivery_status, delivery_error, transcript_path FROM sessions`

func requireRow(res sql.Result, op string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func scanSessions(rows *sql.Rows) ([]Session, error) {
	sessions := make([]Session, 0, 16)
	for rows.Next() {
		var sess Session
		var startedAt string
		var endedAt sql.NullString
		if err := rows.Scan(
			&sess.ID, &sess.Room, &sess.PID, &startedAt, &endedAt, &sess.Status,
			&sess.Utterances, &sess.DeliveryStatus, &sess.DeliveryError, &sess.TranscriptPath,
		); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}

		parsedStart, err := time.Parse(time.RFC3339Nano, startedAt)
		if err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		sess.StartedAt = parsedStart

		if endedAt.Valid {
			parsedEnd, err := time.Parse(time.RFC3339Nano, endedAt.String)
			if err != nil {
				return nil, fmt.Errorf("parse ended_at: %w", err)
			}
			sess.EndedAt = &parsedEnd
		}

		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions rows: %w", err)
	}

	return sessions, nil
}
