// Package server exposes the HTTP API handlers.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/onnwee/streamchat/directory"
	"github.com/onnwee/streamchat/events"
	"github.com/onnwee/streamchat/thread"
)

// Sender is the outbound chat surface the /send endpoint drives.
type Sender interface {
	SendMessage(ctx context.Context, text string) error
}

// Deps wires the Handlers to the running chat core. Sender and Ready may be
// nil for a read-only deployment.
type Deps struct {
	Bus       *events.Bus
	Directory *directory.Directory
	Threads   *thread.Registry
	Sender    Sender

	// CorrelatorDepth reports outbound messages still waiting for their
	// server-assigned id.
	CorrelatorDepth func() int

	// Ready reports whether the chat connection is up.
	Ready func() error

	Channel string
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	deps    Deps
	started time.Time
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(deps Deps) *Handlers {
	return &Handlers{deps: deps, started: time.Now()}
}

// HandleHealthz responds to liveness probe requests.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz responds to readiness probe requests with per-check detail.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"chat", func() error {
			if h.deps.Ready == nil {
				return nil
			}
			return h.deps.Ready()
		}},
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

// HandleStatus reports the chat core's runtime counters.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	out := map[string]any{
		"channel":        h.deps.Channel,
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
		"connected":      h.deps.Ready == nil || h.deps.Ready() == nil,
	}
	if h.deps.Directory != nil {
		out["directory_size"] = h.deps.Directory.Size()
	}
	if h.deps.CorrelatorDepth != nil {
		out["correlator_depth"] = h.deps.CorrelatorDepth()
	}
	if h.deps.Bus != nil {
		out["events_dropped"] = h.deps.Bus.Dropped()
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

// HandleHistory returns the most recent chat messages, oldest first.
func (h *Handlers) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit := parseIntQuery(r, "limit", 50)
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	recent := h.deps.Threads.Recent(limit)
	if recent == nil {
		recent = []*events.ChatMessage{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(recent)
}

// HandleSend accepts an outbound message or slash command for the channel.
func (h *Handlers) HandleSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.deps.Sender == nil {
		http.Error(w, "chat sending not configured", http.StatusServiceUnavailable)
		return
	}
	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Text == "" {
		http.Error(w, "missing text", http.StatusBadRequest)
		return
	}
	if err := h.deps.Sender.SendMessage(r.Context(), body.Text); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// parseIntQuery extracts an int parameter from query string with a default value.
func parseIntQuery(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
