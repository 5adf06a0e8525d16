package web

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/sweeney/led-counter/internal/dispatch"
	"github.com/sweeney/led-counter/internal/status"
)

// ResetJSON is the response to a reset request.
type ResetJSON struct {
	Reset string `json:"reset"`
	Error string `json:"error,omitempty"`
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.resetter == nil {
		writeJSON(w, http.StatusServiceUnavailable, ResetJSON{Reset: "unavailable"})
		return
	}

	err := s.resetter.Reset()
	switch {
	case err == nil:
		log.Printf("web: reset requested by %s", r.RemoteAddr)
		writeJSON(w, http.StatusAccepted, ResetJSON{Reset: "queued"})
	case errors.Is(err, dispatch.ErrQueueFull):
		writeJSON(w, http.StatusServiceUnavailable, ResetJSON{Reset: "busy", Error: err.Error()})
	default:
		writeJSON(w, http.StatusServiceUnavailable, ResetJSON{Reset: "failed", Error: err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	data, _ := json.Marshal(v)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(data)
}
