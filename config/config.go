// Package config loads environment variables and provides a typed Config used across the service.
// It applies sensible defaults so the binary can run locally with minimal setup.
// For required credentials (e.g., authenticated Twitch chat), use ValidateChatReady.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Twitch
	TwitchChannel      string
	TwitchChannelID    string
	TwitchBotUsername  string
	TwitchBotUserID    string
	TwitchOAuthToken   string
	TwitchRefreshToken string
	TwitchClientID     string
	TwitchClientSecret string

	// HTTP
	HTTPAddr string

	// Chat core tuning
	HistoryLimit    int
	ThreadWindow    time.Duration
	CorrelatorLimit int
	LookupDelay     time.Duration
	RetryBudget     time.Duration
}

// Load reads environment variables and applies defaults. It doesn't fail if Twitch creds
// are missing; use ValidateChatReady() when you require an authenticated connection.
// Without credentials the client connects anonymously, read-only.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.TwitchChannel = os.Getenv("TWITCH_CHANNEL")
	cfg.TwitchChannelID = os.Getenv("TWITCH_CHANNEL_ID")
	cfg.TwitchBotUsername = os.Getenv("TWITCH_BOT_USERNAME")
	cfg.TwitchBotUserID = os.Getenv("TWITCH_BOT_USER_ID")
	cfg.TwitchOAuthToken = os.Getenv("TWITCH_OAUTH_TOKEN")
	cfg.TwitchRefreshToken = os.Getenv("TWITCH_REFRESH_TOKEN")
	cfg.TwitchClientID = os.Getenv("TWITCH_CLIENT_ID")
	cfg.TwitchClientSecret = os.Getenv("TWITCH_CLIENT_SECRET")

	cfg.HTTPAddr = os.Getenv("HTTP_ADDR")
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}

	var err error
	if cfg.HistoryLimit, err = envInt("CHAT_HISTORY_LIMIT", 500); err != nil {
		return nil, err
	}
	if cfg.CorrelatorLimit, err = envInt("CHAT_CORRELATOR_LIMIT", 64); err != nil {
		return nil, err
	}
	if cfg.ThreadWindow, err = envDuration("CHAT_THREAD_WINDOW", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.LookupDelay, err = envDuration("CHAT_LOOKUP_DELAY", 500*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.RetryBudget, err = envDuration("TWITCH_RETRY_BUDGET", 2*time.Minute); err != nil {
		return nil, err
	}

	if cfg.TwitchChannel == "" {
		return nil, fmt.Errorf("missing TWITCH_CHANNEL")
	}
	return cfg, nil
}

// ValidateChatReady checks required fields for an authenticated chat connection.
func (c *Config) ValidateChatReady() error {
	if c.TwitchBotUsername == "" || c.TwitchOAuthToken == "" {
		return fmt.Errorf("missing twitch env: require TWITCH_BOT_USERNAME, TWITCH_OAUTH_TOKEN")
	}
	if c.TwitchClientID == "" {
		return fmt.Errorf("missing twitch env: require TWITCH_CLIENT_ID")
	}
	return nil
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s (use Go duration, e.g. 500ms): %w", key, err)
	}
	return d, nil
}
