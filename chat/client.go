package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"
	"golang.org/x/time/rate"

	"github.com/onnwee/streamchat/events"
	"github.com/onnwee/streamchat/telemetry"
	"github.com/onnwee/streamchat/twitchapi"
)

const (
	// defaultJoinDebounce batches channel joins issued in a burst into one
	// JOIN command.
	defaultJoinDebounce = 100 * time.Millisecond

	// Twitch allows 20 messages per 30s for regular users.
	sendRate  = rate.Limit(20.0 / 30.0)
	sendBurst = 5

	reconnectWait = 5 * time.Second
)

// Config wires a chat Client.
type Config struct {
	// Username and OAuthToken authenticate the IRC connection. Leave both
	// empty for an anonymous read-only connection.
	Username   string
	OAuthToken string

	// Channel is the channel to join; ChannelID its platform id. SelfID is
	// the authenticated user's id, needed for Helix moderation calls.
	Channel   string
	ChannelID string
	SelfID    string

	JoinDebounce time.Duration
}

// Client owns the IRC connection, feeds every protocol callback through the
// normalizer onto the bus, and executes outbound messages and slash commands.
type Client struct {
	irc        *twitch.Client
	normalizer *Normalizer
	bus        *events.Bus
	api        *twitchapi.Client
	tokens     *twitchapi.UserTokenSource
	limiter    *rate.Limiter

	channel      string
	channelID    string
	selfID       string
	joinDebounce time.Duration

	// Alert surfaces user-facing command errors. Defaults to a log line.
	Alert func(text string)

	ctx context.Context

	connected atomic.Bool

	mu           sync.Mutex
	pendingJoins []string
	joinTimer    *time.Timer
}

// NewClient builds the chat client. api and tokens may be nil for anonymous
// read-only use; slash commands then only produce alerts.
func NewClient(cfg Config, normalizer *Normalizer, bus *events.Bus, api *twitchapi.Client, tokens *twitchapi.UserTokenSource) *Client {
	var irc *twitch.Client
	if cfg.Username == "" || cfg.OAuthToken == "" {
		irc = twitch.NewAnonymousClient()
	} else {
		token := cfg.OAuthToken
		if !strings.HasPrefix(token, "oauth:") {
			token = "oauth:" + token
		}
		irc = twitch.NewClient(cfg.Username, token)
	}
	debounce := cfg.JoinDebounce
	if debounce <= 0 {
		debounce = defaultJoinDebounce
	}
	c := &Client{
		irc:          irc,
		normalizer:   normalizer,
		bus:          bus,
		api:          api,
		tokens:       tokens,
		limiter:      rate.NewLimiter(sendRate, sendBurst),
		channel:      strings.ToLower(strings.TrimPrefix(cfg.Channel, "#")),
		channelID:    cfg.ChannelID,
		selfID:       cfg.SelfID,
		joinDebounce: debounce,
		ctx:          context.Background(),
		Alert: func(text string) {
			slog.Info("chat alert", slog.String("text", text))
		},
	}
	c.register()
	return c
}

func (c *Client) register() {
	c.irc.OnPrivateMessage(func(m twitch.PrivateMessage) {
		c.publish(c.normalizer.NormalizeMessage(c.ctx, m))
	})
	c.irc.OnUserNoticeMessage(func(m twitch.UserNoticeMessage) {
		c.publish(c.normalizer.NormalizeUserNotice(c.ctx, m))
	})
	c.irc.OnClearChatMessage(func(m twitch.ClearChatMessage) {
		c.publish(c.normalizer.NormalizeClearChat(c.ctx, m))
	})
	c.irc.OnClearMessage(func(m twitch.ClearMessage) {
		c.publish(c.normalizer.NormalizeClearMessage(c.ctx, m))
	})
	c.irc.OnRoomStateMessage(func(m twitch.RoomStateMessage) {
		c.publish(c.normalizer.NormalizeRoomState(m))
	})
	c.irc.OnUserStateMessage(func(m twitch.UserStateMessage) {
		c.publish(c.normalizer.HandleUserState(m))
	})
	c.irc.OnNoticeMessage(func(m twitch.NoticeMessage) {
		if isAuthFailure(m.Message) {
			c.refreshCredentials()
		}
		c.publish(c.normalizer.NormalizeNotice(m))
	})
	c.irc.OnUnsetMessage(func(m twitch.RawMessage) {
		if isAuthFailure(m.Raw) {
			c.refreshCredentials()
		}
		c.publish(c.normalizer.NormalizeRawNotice(m.Raw))
	})
	c.irc.OnWhisperMessage(func(m twitch.WhisperMessage) {
		c.publish(c.normalizer.NormalizeWhisper(c.ctx, m))
	})
	c.irc.OnUserJoinMessage(func(m twitch.UserJoinMessage) {
		c.publish(c.normalizer.NormalizeJoin(c.ctx, m))
	})
	c.irc.OnUserPartMessage(func(m twitch.UserPartMessage) {
		c.publish(c.normalizer.NormalizeLeave(c.ctx, m))
	})
	c.irc.OnConnect(func() {
		c.connected.Store(true)
		slog.Info("chat connected", slog.String("channel", c.channel))
	})
}

// Connected reports whether the IRC connection is currently up.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

func (c *Client) publish(evs []events.Event) {
	for _, ev := range evs {
		c.bus.Publish(ev)
	}
}

// Join queues channels and flushes them as one JOIN after the debounce
// window, so bursts of joins become a single command.
func (c *Client) Join(channels ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingJoins = append(c.pendingJoins, channels...)
	if c.joinTimer != nil {
		c.joinTimer.Stop()
	}
	c.joinTimer = time.AfterFunc(c.joinDebounce, c.flushJoins)
}

func (c *Client) flushJoins() {
	c.mu.Lock()
	pending := c.pendingJoins
	c.pendingJoins = nil
	c.joinTimer = nil
	c.mu.Unlock()
	if len(pending) > 0 {
		c.irc.Join(pending...)
	}
}

// Run connects and blocks until ctx is cancelled, reconnecting on transient
// failures and refreshing credentials when the server rejects them.
func (c *Client) Run(ctx context.Context) error {
	c.ctx = ctx
	c.Join(c.channel)

	go func() {
		<-ctx.Done()
		if err := c.irc.Disconnect(); err != nil {
			slog.Debug("chat disconnect", slog.Any("err", err))
		}
	}()

	for {
		err := c.irc.Connect()
		c.connected.Store(false)
		if ctx.Err() != nil {
			return nil
		}
		c.bus.Publish(events.Disconnect{Base: events.Base{Platform: "twitch", ChannelID: c.channelID, Time: time.Now()}})
		telemetry.CountReconnect()

		if errors.Is(err, twitch.ErrLoginAuthenticationFailed) {
			if !c.refreshCredentials() {
				return fmt.Errorf("chat authentication failed and no refresh available: %w", err)
			}
			continue
		}
		slog.Warn("chat connection lost, reconnecting", slog.Any("err", err))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(reconnectWait):
		}
	}
}

// refreshCredentials obtains a fresh token after the server rejected the
// current one and installs it on the IRC connection.
func (c *Client) refreshCredentials() bool {
	if c.tokens == nil {
		slog.Error("chat credentials rejected and no token source configured")
		return false
	}
	tok, err := c.tokens.Invalidate(c.ctx)
	if err != nil {
		slog.Error("chat token refresh failed", slog.Any("err", err))
		return false
	}
	c.irc.SetIRCToken("oauth:" + tok)
	slog.Info("chat credentials refreshed")
	return true
}
