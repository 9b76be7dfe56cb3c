package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/opencode-ai/eventstream/internal/event"
	"github.com/opencode-ai/eventstream/internal/transport"
)

const maxEventBytes = 1 << 20

// PublishResponse is returned by POST /event.
type PublishResponse struct {
	Type string `json:"type"`
}

// DisconnectResponse is returned by POST /event/disconnect.
type DisconnectResponse struct {
	Streams int `json:"streams"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Streams int    `json:"streams"`
}

// publishEvent handles POST /event with an envelope body.
func (s *Server) publishEvent(w http.ResponseWriter, r *http.Request) {
	var env transport.Envelope
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBytes)).Decode(&env); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid event body: "+err.Error())
		return
	}
	if env.Type == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "type is required")
		return
	}

	if err := s.bus.Publish(env); err != nil {
		if errors.Is(err, event.ErrClosed) {
			writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, PublishResponse{Type: env.Type})
}

// recentEvents handles GET /event/recent?limit=N.
func (s *Server) recentEvents(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, s.bus.Recent(limit))
}

// disconnectStreams handles POST /event/disconnect.
func (s *Server) disconnectStreams(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, DisconnectResponse{Streams: s.DisconnectStreams()})
}

// health handles GET /health.
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Streams: s.ActiveStreams()})
}
