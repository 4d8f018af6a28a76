package twitchapi

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

func pronounClient(t *testing.T, primary, fallback http.Handler) *Client {
	t.Helper()
	opts := Options{ClientID: "test-client-id", AccessToken: "test-token"}
	if primary != nil {
		s := httptest.NewServer(primary)
		t.Cleanup(s.Close)
		opts.PronounProviderURL = s.URL
	} else {
		opts.PronounProviderURL = "http://127.0.0.1:0"
	}
	if fallback != nil {
		s := httptest.NewServer(fallback)
		t.Cleanup(s.Close)
		opts.PronounFallbackURL = s.URL
	} else {
		opts.PronounFallbackURL = "http://127.0.0.1:0"
	}
	client, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return client
}

func TestPronounsPrimary(t *testing.T) {
	var fallbackCalled bool
	client := pronounClient(t,
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/users/somebody" {
				t.Errorf("path = %s", r.URL.Path)
			}
			fmt.Fprint(w, `[{"id":"1","login":"somebody","pronoun_id":"sheher"}]`)
		}),
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fallbackCalled = true
		}),
	)

	p, err := client.Pronouns(context.Background(), "somebody", "42")
	if err != nil {
		t.Fatalf("Pronouns() error = %v", err)
	}
	if p != "She/Her" {
		t.Errorf("pronouns = %q, want She/Her", p)
	}
	if fallbackCalled {
		t.Error("fallback consulted despite primary success")
	}
}

func TestPronounsFallback(t *testing.T) {
	client := pronounClient(t,
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `[]`) // user not registered with the primary
		}),
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("id") != "42" {
				t.Errorf("id = %s", r.URL.Query().Get("id"))
			}
			fmt.Fprint(w, `{"pronouns":"hehim"}`)
		}),
	)

	p, err := client.Pronouns(context.Background(), "somebody", "42")
	if err != nil {
		t.Fatalf("Pronouns() error = %v", err)
	}
	if p != "He/Him" {
		t.Errorf("pronouns = %q, want He/Him", p)
	}
}

func TestPronounsBothFail(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	count := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.WriteHeader(http.StatusInternalServerError)
	})
	client := pronounClient(t, count, count)

	if _, err := client.Pronouns(context.Background(), "somebody", "42"); err == nil {
		t.Fatal("expected error when both services fail")
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 2 {
		t.Fatalf("calls = %d, want both services tried", calls)
	}
}
