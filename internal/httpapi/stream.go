package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"capitania.club/internal/backend"
)

const streamHeartbeat = 25 * time.Second

// Stream relays table changes as Server-Sent Events. ?table= selects the
// table and defaults to profiles.
func (a *API) Stream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if a.changes == nil {
		writeError(w, r, http.StatusServiceUnavailable, "streaming disabled")
		return
	}
	if _, ok := principal(w, r); !ok {
		return
	}
	table := strings.TrimSpace(r.URL.Query().Get("table"))
	if table == "" {
		table = backend.TableProfiles
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ch := a.changes.Subscribe(ctx)

	// Send an initial comment to establish the stream
	_, _ = w.Write([]byte(": stream started\n\n"))
	flusher.Flush()

	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case change, ok := <-ch:
			if !ok {
				return
			}
			if change.Table != table {
				continue
			}
			payload, err := json.Marshal(change)
			if err != nil {
				continue
			}
			_, _ = w.Write([]byte("event: change\ndata: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		}
	}
}
