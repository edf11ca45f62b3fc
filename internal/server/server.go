package server

import (
	"errors"
	"net/http"
)

type Deps struct {
	Transcripts TranscriptReader
	// Optional collaborators; their routes are only mounted when set.
	Sessions SessionStore
	Hub      *Hub
	Metrics  http.Handler
}

func Handler(deps Deps) (http.Handler, error) {
	if deps.Transcripts == nil {
		return nil, errors.New("transcript reader is required")
	}

	mux := http.NewServeMux()
	registerTranscriptRoutes(mux, deps.Transcripts)

	if deps.Sessions != nil {
		registerSessionRoutes(mux, deps.Sessions)
	}
	if deps.Hub != nil {
		registerWSRoute(mux, deps.Hub)
	}
	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics)
	}

	return mux, nil
}
