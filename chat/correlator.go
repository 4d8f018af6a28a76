package chat

import (
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/streamchat/events"
	"github.com/onnwee/streamchat/telemetry"
)

// defaultCorrelatorLimit caps the id-less queue. The server echoes an id for
// every accepted message, so depth beyond a handful means something is wrong;
// the cap keeps a broken connection from growing the queue forever.
const defaultCorrelatorLimit = 64

// Correlator pairs the client's own outbound messages, which carry no id at
// send time, with the ids the server assigns them. Messages queue in send
// order; each id completion pops the oldest.
type Correlator struct {
	mu    sync.Mutex
	queue []*events.ChatMessage
	limit int
}

func NewCorrelator(limit int) *Correlator {
	if limit <= 0 {
		limit = defaultCorrelatorLimit
	}
	return &Correlator{limit: limit}
}

// Enqueue stores an id-less message until its id arrives. When the queue is
// full the oldest entry is discarded.
func (c *Correlator) Enqueue(m *events.ChatMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) >= c.limit {
		slog.Warn("correlator queue full, dropping oldest", slog.Int("limit", c.limit))
		c.queue = c.queue[1:]
	}
	c.queue = append(c.queue, m)
	telemetry.SetCorrelatorDepth(len(c.queue))
}

// Complete assigns id and timestamp to the oldest queued message and returns
// it, or nil when nothing is waiting.
func (c *Correlator) Complete(id string, at time.Time) *events.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return nil
	}
	m := c.queue[0]
	c.queue = c.queue[1:]
	telemetry.SetCorrelatorDepth(len(c.queue))
	m.ID = id
	m.Time = at
	return m
}

// Depth reports how many messages are waiting for an id.
func (c *Correlator) Depth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}
