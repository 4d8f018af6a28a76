package chat

import (
	"strconv"
	"testing"
	"time"

	"github.com/onnwee/streamchat/events"
)

func TestCorrelatorFIFO(t *testing.T) {
	c := NewCorrelator(0)
	c.Enqueue(&events.ChatMessage{Text: "one"})
	c.Enqueue(&events.ChatMessage{Text: "two"})

	at := time.Now()
	m := c.Complete("id-1", at)
	if m == nil || m.Text != "one" || m.ID != "id-1" || !m.Time.Equal(at) {
		t.Fatalf("first completion = %+v", m)
	}
	if m := c.Complete("id-2", at); m == nil || m.Text != "two" {
		t.Fatalf("second completion = %+v", m)
	}
	if c.Complete("id-3", at) != nil {
		t.Fatal("empty queue must return nil")
	}
}

func TestCorrelatorCapDropsOldest(t *testing.T) {
	c := NewCorrelator(3)
	for i := 0; i < 5; i++ {
		c.Enqueue(&events.ChatMessage{Text: strconv.Itoa(i)})
	}
	if c.Depth() != 3 {
		t.Fatalf("depth = %d, want 3", c.Depth())
	}
	if m := c.Complete("id", time.Now()); m.Text != "2" {
		t.Fatalf("oldest after overflow = %q, want 2", m.Text)
	}
}
