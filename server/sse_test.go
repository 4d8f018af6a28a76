package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/onnwee/streamchat/events"
)

func TestEventsSSE(t *testing.T) {
	h, bus, _ := newTestHandlers(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv := httptest.NewServer(NewMux(ctx, h))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/events?kinds=message")
	if err != nil {
		t.Fatalf("GET /events error = %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	// Publish until the subscription picks it up; the subscribe races the
	// request reaching the handler.
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-done:
				return
			case <-time.After(20 * time.Millisecond):
				bus.Publish(events.ChatMessage{
					Base: events.Base{Platform: "twitch", ID: "m1", Time: time.Now()},
					Text: "hello stream",
				})
				// A filtered-out kind must never reach the client first.
				bus.Publish(events.Join{Base: events.Base{Platform: "twitch"}, Channel: "somechannel"})
			}
		}
	}()

	scanner := bufio.NewScanner(resp.Body)
	var eventName, data string
	deadline := time.After(5 * time.Second)
	lines := make(chan string)
	go func() {
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()
	for data == "" {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for SSE event")
		case line, ok := <-lines:
			if !ok {
				t.Fatal("stream closed before event arrived")
			}
			switch {
			case strings.HasPrefix(line, "event: "):
				eventName = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			}
		}
	}

	if eventName != "message" {
		t.Fatalf("event = %q, want message", eventName)
	}
	var msg events.ChatMessage
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		t.Fatalf("invalid event payload: %v", err)
	}
	if msg.Text != "hello stream" {
		t.Fatalf("text = %q", msg.Text)
	}
}
