package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
)

const liveStreamPath = "/api/live-location/stream"

func (s *Server) liveLocationHandler(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.register.Read()
	if !ok {
		s.errorResponse(w, http.StatusNotFound, "no live location")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"record": rec,
		"active": s.register.IsActive(),
	})
}

func (s *Server) trackingHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.register.Tracking())
}

// liveStreamHandler pushes the tracking view as server-sent events: once on
// connect and again after every register change.
func (s *Server) liveStreamHandler(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.errorResponse(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	updates, cancel := s.register.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	send := func() bool {
		b, err := json.Marshal(s.register.Tracking())
		if err != nil {
			s.logger.Error("encode tracking event", "error", err)
			return false
		}
		if _, err := fmt.Fprintf(w, "event: tracking\ndata: %s\n\n", b); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !send() {
		return
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.streams.Done():
			return
		case _, ok := <-updates:
			if !ok || !send() {
				return
			}
		}
	}
}
