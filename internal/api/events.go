package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/vloop/pkg/monitor"
)

// KeepAliveInterval is how often an idle event stream sends a comment.
var KeepAliveInterval = 15 * time.Second

// handleEvents streams loop events as server-sent events. Query parameters
// "run" and "project" filter the stream; with "run", the bus history of
// that run is replayed first.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "Event stream is not enabled")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	runID := r.URL.Query().Get("run")
	projectID := r.URL.Query().Get("project")
	match := func(e monitor.Event) bool {
		if runID != "" && e.RunID != runID {
			return false
		}
		if projectID != "" && e.Data["project"] != projectID {
			return false
		}
		return true
	}

	ch := s.bus.Subscribe()
	defer s.bus.Unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if runID != "" {
		for _, e := range s.bus.History(runID) {
			if match(e) {
				writeEvent(w, e)
			}
		}
	}
	flusher.Flush()

	ticker := time.NewTicker(KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case e, ok := <-ch:
			if !ok {
				return
			}
			if !match(e) {
				continue
			}
			writeEvent(w, e)
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, e monitor.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data)
}
