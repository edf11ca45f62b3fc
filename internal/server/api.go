package server

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/mensis/room-scribe/internal/metrics"
	"github.com/mensis/room-scribe/internal/storage"
)

type TranscriptReader interface {
	ReadTranscript(room string) ([]byte, error)
}

type SessionStore interface {
	ListSessions(room string) ([]storage.Session, error)
	GetSession(id string) (storage.Session, error)
}

// TranscriptResponse is the structured transcript view.
type TranscriptResponse struct {
	RoomID         string   `json:"room_id"`
	Transcriptions []string `json:"transcriptions"`
}

func registerTranscriptRoutes(mux *http.ServeMux, transcripts TranscriptReader) {
	mux.HandleFunc("GET /transcript/{room}", func(w http.ResponseWriter, r *http.Request) {
		data, ok := readTranscript(w, transcripts, r.PathValue("room"))
		if !ok {
			return
		}
		recordStatus(http.StatusOK)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	})

	mux.HandleFunc("GET /api/transcript/{room}", func(w http.ResponseWriter, r *http.Request) {
		room := r.PathValue("room")
		data, ok := readTranscript(w, transcripts, room)
		if !ok {
			return
		}
		recordStatus(http.StatusOK)
		writeJSON(w, http.StatusOK, TranscriptResponse{
			RoomID:         room,
			Transcriptions: storage.SplitLines(string(data)),
		})
	})

	// The {room} wildcard never matches an empty segment.
	missingRoom := func(w http.ResponseWriter, r *http.Request) {
		recordStatus(http.StatusBadRequest)
		writeJSONError(w, http.StatusBadRequest, "room name is required")
	}
	mux.HandleFunc("GET /transcript/{$}", missingRoom)
	mux.HandleFunc("GET /api/transcript/{$}", missingRoom)

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("Server is running"))
	})
}

func readTranscript(w http.ResponseWriter, transcripts TranscriptReader, room string) ([]byte, bool) {
	if strings.TrimSpace(room) == "" {
		recordStatus(http.StatusBadRequest)
		writeJSONError(w, http.StatusBadRequest, "room name is required")
		return nil, false
	}

	data, err := transcripts.ReadTranscript(room)
	if err != nil {
		status := http.StatusInternalServerError
		msg := fmt.Sprintf("error reading transcript: %v", err)
		switch {
		case errors.Is(err, storage.ErrEmptyRoom), errors.Is(err, storage.ErrInvalidRoom):
			status = http.StatusBadRequest
			msg = err.Error()
		case errors.Is(err, os.ErrNotExist):
			status = http.StatusNotFound
			msg = "no transcriptions found for this room"
		}
		recordStatus(status)
		writeJSONError(w, status, msg)
		return nil, false
	}
	return data, true
}

func registerSessionRoutes(mux *http.ServeMux, store SessionStore) {
	mux.HandleFunc("GET /api/sessions", func(w http.ResponseWriter, r *http.Request) {
		room := r.URL.Query().Get("room")
		if room != "" {
			if err := storage.ValidateRoom(room); err != nil {
				writeJSONError(w, http.StatusBadRequest, err.Error())
				return
			}
		}

		sessions, err := store.ListSessions(room)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list sessions: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, sessions)
	})

	mux.HandleFunc("GET /api/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		sess, err := store.GetSession(r.PathValue("id"))
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, sql.ErrNoRows) {
				status = http.StatusNotFound
			}
			writeJSONError(w, status, fmt.Sprintf("get session: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, sess)
	})
}

func recordStatus(status int) {
	metrics.TranscriptRequests.WithLabelValues(strconv.Itoa(status)).Inc()
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
