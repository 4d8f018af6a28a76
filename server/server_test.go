package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/streamchat/directory"
	"github.com/onnwee/streamchat/events"
	"github.com/onnwee/streamchat/thread"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (f *fakeSender) SendMessage(ctx context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, text)
	return nil
}

func newTestHandlers(sender Sender, ready func() error) (*Handlers, *events.Bus, *thread.Registry) {
	bus := events.NewBus()
	threads := thread.New(0, 0)
	dir := directory.New(nil, "100")
	dir.LookupDelay = time.Millisecond
	h := NewHandlers(Deps{
		Bus:             bus,
		Directory:       dir,
		Threads:         threads,
		Sender:          sender,
		CorrelatorDepth: func() int { return 2 },
		Ready:           ready,
		Channel:         "somechannel",
	})
	return h, bus, threads
}

func TestHealthz(t *testing.T) {
	h, _, _ := newTestHandlers(nil, nil)
	rec := httptest.NewRecorder()
	h.HandleHealthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz = %d %q", rec.Code, rec.Body.String())
	}
}

func TestReadyz(t *testing.T) {
	t.Run("ready", func(t *testing.T) {
		h, _, _ := newTestHandlers(nil, func() error { return nil })
		rec := httptest.NewRecorder()
		h.HandleReadyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
	})
	t.Run("chat down", func(t *testing.T) {
		h, _, _ := newTestHandlers(nil, func() error { return errors.New("disconnected") })
		rec := httptest.NewRecorder()
		h.HandleReadyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503", rec.Code)
		}
		var body map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("invalid body: %v", err)
		}
		if body["failed_check"] != "chat" {
			t.Fatalf("failed_check = %q", body["failed_check"])
		}
	})
}

func TestStatus(t *testing.T) {
	h, _, _ := newTestHandlers(nil, func() error { return nil })
	rec := httptest.NewRecorder()
	h.HandleStatus(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if body["channel"] != "somechannel" {
		t.Errorf("channel = %v", body["channel"])
	}
	if body["connected"] != true {
		t.Errorf("connected = %v", body["connected"])
	}
	if body["correlator_depth"] != float64(2) {
		t.Errorf("correlator_depth = %v", body["correlator_depth"])
	}
}

func TestHistory(t *testing.T) {
	h, _, threads := newTestHandlers(nil, nil)
	for _, id := range []string{"m1", "m2", "m3"} {
		threads.Attach(&events.ChatMessage{
			Base: events.Base{Platform: "twitch", ID: id, Time: time.Now()},
			Text: "text " + id,
		}, "")
	}

	rec := httptest.NewRecorder()
	h.HandleHistory(rec, httptest.NewRequest(http.MethodGet, "/history?limit=2", nil))
	var got []*events.ChatMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if len(got) != 2 || got[0].ID != "m2" || got[1].ID != "m3" {
		t.Fatalf("history = %+v, want tail [m2 m3]", got)
	}
}

func TestSend(t *testing.T) {
	sender := &fakeSender{}
	h, _, _ := newTestHandlers(sender, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/send", strings.NewReader(`{"text":"hello chat"}`))
	h.HandleSend(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if len(sender.sent) != 1 || sender.sent[0] != "hello chat" {
		t.Fatalf("sent = %v", sender.sent)
	}
}

func TestSendWithoutSender(t *testing.T) {
	h, _, _ := newTestHandlers(nil, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/send", strings.NewReader(`{"text":"hi"}`))
	h.HandleSend(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestSendBadBody(t *testing.T) {
	h, _, _ := newTestHandlers(&fakeSender{}, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/send", strings.NewReader(`{}`))
	h.HandleSend(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSendTokenAuth(t *testing.T) {
	t.Setenv("ADMIN_TOKEN", "sekrit")
	sender := &fakeSender{}
	h, _, _ := newTestHandlers(sender, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mux := NewMux(ctx, h)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/send", strings.NewReader(`{"text":"hi"}`))
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status without token = %d, want 401", rec.Code)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/send", strings.NewReader(`{"text":"hi"}`))
	req.Header.Set("X-Admin-Token", "sekrit")
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status with token = %d, want 202", rec.Code)
	}
}

func TestMuxCorrelationHeader(t *testing.T) {
	h, _, _ := newTestHandlers(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mux := NewMux(ctx, h)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Header().Get("X-Correlation-ID") == "" {
		t.Fatal("missing X-Correlation-ID header")
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Correlation-ID", "my-corr")
	mux.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Correlation-ID"); got != "my-corr" {
		t.Fatalf("correlation id = %q, want my-corr", got)
	}
}
