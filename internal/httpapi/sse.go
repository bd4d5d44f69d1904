package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hasferrr/mitsuko-client-sub003/internal/session"
)

// streamTranslation pushes a snapshot of the session whenever it changes
// and ends after the terminal snapshot.
func (s *Server) streamTranslation(w http.ResponseWriter, r *http.Request, id string) {
	snap, err := s.translations.Result(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	send := func(snap session.Snapshot) bool {
		payload, err := json.Marshal(snap)
		if err != nil {
			return false
		}
		event := "snapshot"
		if snap.State.Terminal() {
			event = "done"
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !send(snap) || snap.State.Terminal() {
		return
	}
	last := snap

	ticker := time.NewTicker(s.streamInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			next, err := s.translations.Result(r.Context(), id)
			if err != nil {
				return
			}
			if next.State == last.State && next.Chunks == last.Chunks {
				continue
			}
			if !send(next) || next.State.Terminal() {
				return
			}
			last = next
		}
	}
}
