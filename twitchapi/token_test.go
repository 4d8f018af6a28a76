package twitchapi

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestUserTokenSourceGetCached(t *testing.T) {
	ts := NewUserTokenSource("id", "secret", "seeded", "refresh")
	tok, err := ts.Get(context.Background())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if tok != "seeded" {
		t.Fatalf("token = %q, want the seeded token", tok)
	}
}

func TestUserTokenSourceRefreshOnExpiry(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if r.Form.Get("grant_type") != "refresh_token" {
			t.Errorf("grant_type = %s", r.Form.Get("grant_type"))
		}
		if r.Form.Get("refresh_token") != "refresh-1" {
			t.Errorf("refresh_token = %s", r.Form.Get("refresh_token"))
		}
		mu.Lock()
		calls++
		mu.Unlock()
		fmt.Fprint(w, `{"access_token":"fresh","refresh_token":"refresh-2","expires_in":3600}`)
	}))
	defer server.Close()

	var notified string
	ts := NewUserTokenSource("id", "secret", "stale", "refresh-1")
	ts.TokenURL = server.URL
	ts.OnRefresh = func(tok string) { notified = tok }
	ts.mu.Lock()
	ts.expiresAt = time.Now().Add(-time.Minute)
	ts.mu.Unlock()

	tok, err := ts.Get(context.Background())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if tok != "fresh" {
		t.Fatalf("token = %q, want fresh", tok)
	}
	if notified != "fresh" {
		t.Fatalf("OnRefresh got %q", notified)
	}
	if ts.refreshToken != "refresh-2" {
		t.Fatalf("rotated refresh token not stored: %q", ts.refreshToken)
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("refresh calls = %d, want 1", calls)
	}
}

func TestUserTokenSourceInvalidate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"access_token":"reissued","expires_in":3600}`)
	}))
	defer server.Close()

	ts := NewUserTokenSource("id", "secret", "rejected", "refresh")
	ts.TokenURL = server.URL

	tok, err := ts.Invalidate(context.Background())
	if err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}
	if tok != "reissued" {
		t.Fatalf("token = %q, want reissued", tok)
	}
}

func TestRefreshTokenErrors(t *testing.T) {
	tests := []struct {
		name         string
		clientID     string
		refreshToken string
		status       int
		wantErr      bool
	}{
		{name: "missing params", clientID: "", refreshToken: "", wantErr: true},
		{name: "server rejects", clientID: "id", refreshToken: "r", status: http.StatusBadRequest, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			_, err := RefreshToken(context.Background(), nil, server.URL, tt.clientID, "secret", tt.refreshToken)
			if (err != nil) != tt.wantErr {
				t.Errorf("RefreshToken() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
