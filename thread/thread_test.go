package thread

import (
	"strconv"
	"testing"
	"time"

	"github.com/onnwee/streamchat/directory"
	"github.com/onnwee/streamchat/events"
)

func message(id, login, text string, at time.Time) *events.ChatMessage {
	return &events.ChatMessage{
		Base: events.Base{Platform: "twitch", ID: id, ChannelID: "1", Time: at},
		User: &directory.User{Platform: "twitch", ID: "u_" + login, Login: login, DisplayName: login},
		Text: text,
	}
}

func TestExplicitReply(t *testing.T) {
	r := New(0, 0)
	now := time.Now()

	root := message("m1", "alice", "hello", now)
	r.Attach(root, "")
	reply := message("m2", "bob", "hi back", now.Add(time.Second))
	r.Attach(reply, "m1")

	if reply.RootID != "m1" || reply.RepliesTo != "m1" {
		t.Fatalf("reply = root %q repliesTo %q", reply.RootID, reply.RepliesTo)
	}
	if got := r.Members("m1"); len(got) != 2 || got[0] != "m1" || got[1] != "m2" {
		t.Fatalf("members = %v", got)
	}
}

func TestReplyToReplyFlattens(t *testing.T) {
	r := New(0, 0)
	now := time.Now()

	r.Attach(message("m1", "alice", "hello", now), "")
	r.Attach(message("m2", "bob", "hi", now.Add(time.Second)), "m1")
	third := message("m3", "carol", "me too", now.Add(2*time.Second))
	r.Attach(third, "m2")

	if third.RootID != "m1" {
		t.Fatalf("root = %q, want the original root m1", third.RootID)
	}
	if got := r.Members("m1"); len(got) != 3 || got[2] != "m3" {
		t.Fatalf("members = %v", got)
	}
	if r.Members("m2") != nil {
		t.Fatal("intermediate reply must not root its own thread")
	}
}

func TestMentionHeuristicWithinWindow(t *testing.T) {
	r := New(5*time.Minute, 0)
	now := time.Now()

	r.Attach(message("m1", "alice", "what does everyone think", now), "")
	reply := message("m2", "bob", "@alice agreed", now.Add(time.Minute))
	r.Attach(reply, "")

	if reply.RootID != "m1" {
		t.Fatalf("root = %q, want m1 via mention", reply.RootID)
	}
}

func TestMentionOutsideWindowIgnored(t *testing.T) {
	r := New(5*time.Minute, 0)
	now := time.Now()

	r.Attach(message("m1", "alice", "old message", now.Add(-10*time.Minute)), "")
	reply := message("m2", "bob", "@alice are you there", now)
	r.Attach(reply, "")

	if reply.RootID != "" {
		t.Fatalf("root = %q, stale mention must not thread", reply.RootID)
	}
}

func TestFirstSatisfiedMentionWins(t *testing.T) {
	r := New(5*time.Minute, 0)
	now := time.Now()

	// "ghost" never spoke; "alice" and "bob" both did. The first mention
	// with a matching author wins even when a later one also matches.
	r.Attach(message("m1", "bob", "bob was here", now), "")
	r.Attach(message("m2", "alice", "alice was here", now.Add(time.Second)), "")
	reply := message("m3", "carol", "@ghost @alice @bob hello all", now.Add(2*time.Second))
	r.Attach(reply, "")

	if reply.RootID != "m2" {
		t.Fatalf("root = %q, want alice's message m2", reply.RootID)
	}
}

func TestExplicitParentBeatsMention(t *testing.T) {
	r := New(5*time.Minute, 0)
	now := time.Now()

	r.Attach(message("m1", "alice", "first", now), "")
	r.Attach(message("m2", "bob", "second", now.Add(time.Second)), "")
	reply := message("m3", "carol", "@alice actually", now.Add(2*time.Second))
	r.Attach(reply, "m2")

	if reply.RootID != "m2" {
		t.Fatalf("root = %q, explicit parent must win", reply.RootID)
	}
}

func TestExplicitParentUnknownStaysUnthreaded(t *testing.T) {
	r := New(0, 0)
	now := time.Now()

	r.Attach(message("m1", "alice", "hello", now), "")
	reply := message("m2", "bob", "late answer", now.Add(time.Second))
	r.Attach(reply, "gone")

	if reply.RootID != "" || reply.RepliesTo != "" {
		t.Fatalf("reply = root %q repliesTo %q, unknown parent must not thread", reply.RootID, reply.RepliesTo)
	}
	if r.Members("gone") != nil {
		t.Fatal("unknown parent must not root a thread")
	}
	if r.RootOf("m2") != "" {
		t.Fatal("message must stay unthreaded")
	}
}

func TestExplicitParentFromHistoryThreads(t *testing.T) {
	r := New(0, 0)
	now := time.Now()

	// The parent sits unthreaded in the history; replying to it must still
	// seed a thread rooted at it.
	r.Attach(message("m1", "alice", "hello", now), "")
	reply := message("m2", "bob", "hi", now.Add(time.Second))
	r.Attach(reply, "m1")

	if reply.RootID != "m1" {
		t.Fatalf("root = %q, want m1", reply.RootID)
	}
}

func TestHistoryTrim(t *testing.T) {
	r := New(time.Hour, 3)
	now := time.Now()

	for i := 0; i < 5; i++ {
		r.Attach(message("m"+strconv.Itoa(i), "alice", "msg", now.Add(time.Duration(i)*time.Second)), "")
	}
	r.mu.Lock()
	n := len(r.history)
	r.mu.Unlock()
	if n != 3 {
		t.Fatalf("history length = %d, want 3", n)
	}
}

func TestClear(t *testing.T) {
	r := New(0, 0)
	now := time.Now()
	r.Attach(message("m1", "alice", "hello", now), "")
	r.Attach(message("m2", "bob", "hi", now), "m1")

	r.Clear()
	if r.Members("m1") != nil || r.RootOf("m2") != "" {
		t.Fatal("clear left thread state behind")
	}
}

func TestRecent(t *testing.T) {
	r := New(0, 0)
	now := time.Now()
	for i := 0; i < 4; i++ {
		r.Attach(message("m"+strconv.Itoa(i), "alice", "msg", now.Add(time.Duration(i)*time.Second)), "")
	}

	got := r.Recent(2)
	if len(got) != 2 || got[0].ID != "m2" || got[1].ID != "m3" {
		t.Fatalf("Recent(2) = %v, want tail [m2 m3]", got)
	}
	if all := r.Recent(0); len(all) != 4 {
		t.Fatalf("Recent(0) length = %d, want 4", len(all))
	}
}
