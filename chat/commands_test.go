package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/streamchat/directory"
	"github.com/onnwee/streamchat/events"
	"github.com/onnwee/streamchat/spans"
	"github.com/onnwee/streamchat/thread"
	"github.com/onnwee/streamchat/twitchapi"
)

type apiRecorder struct {
	mu       sync.Mutex
	requests []string
}

func (r *apiRecorder) record(req *http.Request) {
	r.mu.Lock()
	r.requests = append(r.requests, req.Method+" "+req.URL.Path)
	r.mu.Unlock()
}

func (r *apiRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

func newCommandClient(t *testing.T, handler func(http.ResponseWriter, *http.Request)) (*Client, *apiRecorder, *[]string) {
	t.Helper()
	rec := &apiRecorder{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	api, err := twitchapi.New(twitchapi.Options{
		ClientID:    "test-client-id",
		AccessToken: "test-token",
		APIBaseURL:  server.URL,
		RetryBudget: time.Second,
	})
	if err != nil {
		t.Fatalf("twitchapi.New() error = %v", err)
	}

	dir := directory.New(nil, "100")
	dir.LookupDelay = time.Millisecond
	n := NewNormalizer(dir, spans.NewParser(), thread.New(0, 0), NewCorrelator(0), "somechannel", "100", "streambot")
	client := NewClient(Config{
		Channel:   "somechannel",
		ChannelID: "100",
		SelfID:    "200",
	}, n, events.NewBus(), api, nil)

	var alerts []string
	client.Alert = func(text string) { alerts = append(alerts, text) }
	return client, rec, &alerts
}

func okUsers(w http.ResponseWriter, r *http.Request) {
	if strings.HasSuffix(r.URL.Path, "/users") {
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{{"id": "55", "login": r.URL.Query().Get("login")}},
		})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func TestAnnounceInvalidColorNoNetworkCall(t *testing.T) {
	client, rec, alerts := newCommandClient(t, okUsers)

	if err := client.SendMessage(context.Background(), "/announce chartreuse hello chat"); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if rec.count() != 0 {
		t.Fatalf("requests = %d, invalid color must not reach the API", rec.count())
	}
	if len(*alerts) != 1 || !strings.Contains((*alerts)[0], "chartreuse") {
		t.Fatalf("alerts = %v", *alerts)
	}
}

func TestAnnounceValidColor(t *testing.T) {
	client, rec, alerts := newCommandClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/announcements") {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusNoContent)
	})

	if err := client.SendMessage(context.Background(), "/announce green big news"); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if rec.count() != 1 {
		t.Fatalf("requests = %d, want 1", rec.count())
	}
	if len(*alerts) != 0 {
		t.Fatalf("alerts = %v", *alerts)
	}
}

func TestAnnounceSingleArgIsMessage(t *testing.T) {
	var got string
	client, rec, _ := newCommandClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		got = body["message"]
		if got == "" {
			got = r.URL.Query().Get("message")
		}
		w.WriteHeader(http.StatusNoContent)
	})

	if err := client.SendMessage(context.Background(), "/announce blue"); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if rec.count() != 1 {
		t.Fatalf("requests = %d, want 1", rec.count())
	}
	// One token is the whole message even when it names a color.
	if got != "blue" {
		t.Fatalf("message sent = %q, want blue", got)
	}
}

func TestTimeoutInvalidDuration(t *testing.T) {
	client, rec, alerts := newCommandClient(t, okUsers)

	if err := client.SendMessage(context.Background(), "/timeout troll abc"); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if rec.count() != 0 {
		t.Fatal("invalid duration must not reach the API")
	}
	if len(*alerts) != 1 {
		t.Fatalf("alerts = %v", *alerts)
	}
}

func TestUserNotFoundAlert(t *testing.T) {
	client, _, alerts := newCommandClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"data": []map[string]string{}})
	})

	if err := client.SendMessage(context.Background(), "/ban nobody"); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if len(*alerts) != 1 || !strings.Contains((*alerts)[0], "nobody") {
		t.Fatalf("alerts = %v", *alerts)
	}
}

func TestUnknownAndSilentCommands(t *testing.T) {
	client, rec, alerts := newCommandClient(t, okUsers)

	for _, cmd := range []string{"/frobnicate now", "/marker", "/mods", "/uniquechat"} {
		if err := client.SendMessage(context.Background(), cmd); err != nil {
			t.Fatalf("SendMessage(%q) error = %v", cmd, err)
		}
	}
	if rec.count() != 0 || len(*alerts) != 0 {
		t.Fatalf("requests = %d alerts = %v, want silence", rec.count(), *alerts)
	}
}

func TestCommandWithoutAPI(t *testing.T) {
	dir := directory.New(nil, "100")
	dir.LookupDelay = time.Millisecond
	n := NewNormalizer(dir, spans.NewParser(), thread.New(0, 0), NewCorrelator(0), "somechannel", "100", "streambot")
	client := NewClient(Config{Channel: "somechannel"}, n, events.NewBus(), nil, nil)

	var alerts []string
	client.Alert = func(text string) { alerts = append(alerts, text) }

	if err := client.SendMessage(context.Background(), "/clear"); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if len(alerts) != 1 || alerts[0] != "Not authenticated" {
		t.Fatalf("alerts = %v", alerts)
	}
}
