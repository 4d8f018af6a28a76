// Package thread reconstructs reply threads from the flat message stream.
// Threads are flat, one level deep: every message in a conversation points at
// the same root, never at an intermediate reply.
package thread

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/streamchat/events"
)

const (
	defaultWindow       = 5 * time.Minute
	defaultHistoryLimit = 500
)

var mentionRE = regexp.MustCompile(`@(\w+)`)

// Registry holds the rolling message history and the thread structure built
// from it. Safe for concurrent use.
type Registry struct {
	window time.Duration
	limit  int

	mu      sync.Mutex
	history []*events.ChatMessage
	members map[string][]string // root id -> ordered member message ids
	roots   map[string]string   // message id -> root id
}

func New(window time.Duration, historyLimit int) *Registry {
	if window <= 0 {
		window = defaultWindow
	}
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	return &Registry{
		window:  window,
		limit:   historyLimit,
		members: map[string][]string{},
		roots:   map[string]string{},
	}
}

// Attach threads m and appends it to the history. An explicit parent id from
// the protocol wins; otherwise the first @mention matching the author of a
// message inside the trailing window links the two. m.RootID and m.RepliesTo
// are filled in place.
func (r *Registry) Attach(m *events.ChatMessage, explicitParentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// An explicit parent id takes precedence over the mention heuristic,
	// but is honored only when the parent is actually in the history; an
	// id we never saw leaves the message unthreaded.
	if explicitParentID != "" {
		if r.knownLocked(explicitParentID) {
			m.RepliesTo = explicitParentID
			r.linkLocked(m, explicitParentID)
		}
	} else if parent := r.matchMentionLocked(m); parent != nil {
		m.RepliesTo = parent.ID
		r.linkLocked(m, parent.ID)
	}

	r.history = append(r.history, m)
	if len(r.history) > r.limit {
		drop := r.history[0]
		r.history = r.history[1:]
		r.forgetLocked(drop.ID)
	}
}

// knownLocked reports whether id names a message we have seen: either one
// already threaded or one still sitting in the history.
func (r *Registry) knownLocked(id string) bool {
	if _, ok := r.roots[id]; ok {
		return true
	}
	for _, prev := range r.history {
		if prev.ID == id {
			return true
		}
	}
	return false
}

// linkLocked attaches m to the thread rooted at the parent's root. Replying
// to a reply collapses onto the original root.
func (r *Registry) linkLocked(m *events.ChatMessage, parentID string) {
	root := parentID
	if pr, ok := r.roots[parentID]; ok && pr != parentID {
		root = pr
	}
	m.RootID = root
	if len(r.members[root]) == 0 {
		r.members[root] = []string{root}
		r.roots[root] = root
	}
	r.members[root] = append(r.members[root], m.ID)
	r.roots[m.ID] = root
}

// matchMentionLocked applies the mention heuristic: for each distinct mention
// in order of appearance, scan the window oldest first for a message authored
// by the mentioned user. The first mention with a hit wins.
func (r *Registry) matchMentionLocked(m *events.ChatMessage) *events.ChatMessage {
	matches := mentionRE.FindAllStringSubmatch(m.Text, -1)
	if len(matches) == 0 {
		return nil
	}
	cutoff := m.Time.Add(-r.window)

	seen := map[string]bool{}
	for _, match := range matches {
		login := strings.ToLower(match[1])
		if seen[login] {
			continue
		}
		seen[login] = true
		for _, prev := range r.history {
			if prev.Time.Before(cutoff) {
				continue
			}
			if prev.User != nil && prev.User.Login == login {
				return prev
			}
		}
	}
	return nil
}

func (r *Registry) forgetLocked(id string) {
	root, ok := r.roots[id]
	if !ok {
		return
	}
	delete(r.roots, id)
	ids := r.members[root]
	for i, mid := range ids {
		if mid == id {
			r.members[root] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(r.members[root]) == 0 {
		delete(r.members, root)
	}
}

// Members returns the ordered message ids of the thread rooted at rootID,
// the root itself included. Nil when the id roots no thread.
func (r *Registry) Members(rootID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := r.members[rootID]
	if ids == nil {
		return nil
	}
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

// RootOf returns the root id of the thread the message belongs to, or empty
// when the message is unthreaded.
func (r *Registry) RootOf(messageID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.roots[messageID]
}

// Recent returns up to limit messages from the tail of the history, oldest
// first. limit <= 0 returns the whole history.
func (r *Registry) Recent(limit int) []*events.ChatMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.history)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]*events.ChatMessage, n)
	copy(out, r.history[len(r.history)-n:])
	return out
}

// Clear wipes the history and every thread, mirroring a chat clear.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = nil
	r.members = map[string][]string{}
	r.roots = map[string]string{}
}
