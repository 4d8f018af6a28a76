package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/onnwee/streamchat/events"
)

// heartbeatInterval keeps idle SSE connections from being closed by proxies.
const heartbeatInterval = 30 * time.Second

// HandleEvents streams live bus events as Server-Sent Events. The optional
// kinds query parameter is a comma-separated list of event kinds to deliver;
// absent, every kind streams.
func (h *Handlers) HandleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	var kinds []events.Kind
	if raw := r.URL.Query().Get("kinds"); raw != "" {
		for _, k := range strings.Split(raw, ",") {
			if k = strings.TrimSpace(k); k != "" {
				kinds = append(kinds, events.Kind(k))
			}
		}
	}
	ch, cancel := h.deps.Bus.Subscribe(kinds...)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	ctx := r.Context()
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	enc := json.NewEncoder(w)
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write([]byte("event: " + string(ev.EventKind()) + "\ndata: ")); err != nil {
				slog.Warn("failed to write SSE event header", slog.Any("err", err))
				return
			}
			if err := enc.Encode(ev); err != nil {
				slog.Warn("failed to encode SSE event", slog.Any("err", err))
				return
			}
			if _, err := w.Write([]byte("\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
