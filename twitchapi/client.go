// Package twitchapi wraps the Helix API surface the chat core needs: user
// resolution, follow state, cheermotes, moderation actions and outbound
// messaging helpers, with shared rate-limit and retry handling.
package twitchapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/nicklaw5/helix/v2"

	"github.com/onnwee/streamchat/directory"
	"github.com/onnwee/streamchat/spans"
	"github.com/onnwee/streamchat/telemetry"
)

// maxUserBatch is the Helix cap on ids/logins per users request.
const maxUserBatch = 100

// defaultRetryBudget bounds the total wall-clock time a single logical call
// may spend retrying, rate-limit sleeps included.
const defaultRetryBudget = 2 * time.Minute

// ErrRetryBudget is returned when a call could not complete inside the retry
// budget. Callers should treat it as fatal for the operation.
var ErrRetryBudget = errors.New("twitch api retry budget exhausted")

// APIError is a non-retryable Helix error response.
type APIError struct {
	Op      string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("twitch api %s: status %d: %s", e.Op, e.Status, e.Message)
}

// IsAuthError reports whether err is a Helix rejection of the current
// credentials, signalling that a token refresh is needed.
func IsAuthError(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Status == http.StatusUnauthorized
}

// Options configures a Client.
type Options struct {
	ClientID    string
	AccessToken string
	// APIBaseURL overrides the Helix endpoint, used by tests.
	APIBaseURL string
	HTTPClient *http.Client
	// RetryBudget caps total retry time per call; zero means the default.
	RetryBudget time.Duration

	// PronounProviderURL and PronounFallbackURL override the pronoun
	// service endpoints, used by tests.
	PronounProviderURL string
	PronounFallbackURL string
}

// Client is a Helix client with retry, rate-limit and cache handling shared
// by every call. Safe for concurrent use.
type Client struct {
	helix       *helix.Client
	httpClient  *http.Client
	retryBudget time.Duration

	pronounProviderURL string
	pronounFallbackURL string

	mu         sync.Mutex
	cheermotes map[string][]spans.CheermoteSet
}

func New(opts Options) (*Client, error) {
	if opts.ClientID == "" {
		return nil, errors.New("missing client id")
	}
	hopts := &helix.Options{
		ClientID:        opts.ClientID,
		UserAccessToken: opts.AccessToken,
		APIBaseURL:      opts.APIBaseURL,
	}
	// A nil *http.Client must not be assigned to the interface field, or
	// helix's own default-client check never fires.
	if opts.HTTPClient != nil {
		hopts.HTTPClient = opts.HTTPClient
	}
	hc, err := helix.NewClient(hopts)
	if err != nil {
		return nil, fmt.Errorf("create helix client: %w", err)
	}
	budget := opts.RetryBudget
	if budget <= 0 {
		budget = defaultRetryBudget
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		helix:              hc,
		httpClient:         httpClient,
		retryBudget:        budget,
		pronounProviderURL: opts.PronounProviderURL,
		pronounFallbackURL: opts.PronounFallbackURL,
		cheermotes:         map[string][]spans.CheermoteSet{},
	}, nil
}

// SetAccessToken swaps the user access token after a refresh.
func (c *Client) SetAccessToken(token string) {
	c.helix.SetUserAccessToken(token)
}

// doWithRetry runs call until it succeeds, the error is permanent, or the
// retry budget runs out. Network errors back off exponentially; 429s sleep
// until the reported rate-limit reset plus a one second margin.
func doWithRetry[T any](ctx context.Context, c *Client, op string, call func() (T, *helix.ResponseCommon, error)) (T, error) {
	result, err := backoff.Retry(ctx, func() (T, error) {
		var zero T
		resp, rc, err := call()
		if err != nil {
			slog.Debug("twitch api transient error", slog.String("op", op), slog.Any("err", err))
			return zero, err
		}
		switch {
		case rc.StatusCode == http.StatusTooManyRequests:
			wait := time.Until(time.Unix(int64(rc.GetRateLimitReset()), 0)) + time.Second
			if wait < time.Second {
				wait = time.Second
			}
			slog.Warn("twitch api rate limited", slog.String("op", op), slog.Duration("wait", wait))
			telemetry.CountRateLimitWait()
			return zero, &backoff.RetryAfterError{Duration: wait}
		case rc.StatusCode >= http.StatusBadRequest:
			return zero, backoff.Permanent(&APIError{Op: op, Status: rc.StatusCode, Message: rc.ErrorMessage})
		}
		return resp, nil
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(c.retryBudget),
	)
	if err != nil {
		var ae *APIError
		if errors.As(err, &ae) || ctx.Err() != nil {
			return result, err
		}
		// Retries gave up while the error was still transient.
		return result, fmt.Errorf("%w: %s: %v", ErrRetryBudget, op, err)
	}
	return result, nil
}

// UsersByID resolves up to any number of user ids, batching by the Helix cap.
func (c *Client) UsersByID(ctx context.Context, ids []string) ([]directory.RemoteUser, error) {
	return c.users(ctx, ids, func(batch []string) *helix.UsersParams {
		return &helix.UsersParams{IDs: batch}
	})
}

// UsersByLogin resolves user logins, batching by the Helix cap.
func (c *Client) UsersByLogin(ctx context.Context, logins []string) ([]directory.RemoteUser, error) {
	return c.users(ctx, logins, func(batch []string) *helix.UsersParams {
		return &helix.UsersParams{Logins: batch}
	})
}

func (c *Client) users(ctx context.Context, keys []string, params func([]string) *helix.UsersParams) ([]directory.RemoteUser, error) {
	var out []directory.RemoteUser
	for len(keys) > 0 {
		batch := keys
		if len(batch) > maxUserBatch {
			batch = batch[:maxUserBatch]
		}
		keys = keys[len(batch):]

		telemetry.CountRemoteLookup()
		var (
			resp *helix.UsersResponse
			err  error
		)
		telemetry.TimeFunc(telemetry.RemoteLookupDuration, func() {
			resp, err = doWithRetry(ctx, c, "get users", func() (*helix.UsersResponse, *helix.ResponseCommon, error) {
				r, err := c.helix.GetUsers(params(batch))
				if err != nil {
					return nil, nil, err
				}
				return r, &r.ResponseCommon, nil
			})
		})
		if err != nil {
			return nil, err
		}
		for _, u := range resp.Data.Users {
			out = append(out, directory.RemoteUser{
				ID:              u.ID,
				Login:           u.Login,
				DisplayName:     u.DisplayName,
				BroadcasterType: u.BroadcasterType,
			})
		}
	}
	return out, nil
}

// FollowState reports whether userID follows the broadcaster's channel.
func (c *Client) FollowState(ctx context.Context, channelID, userID string) (bool, error) {
	resp, err := doWithRetry(ctx, c, "get channel follows", func() (*helix.GetChannelFollowersResponse, *helix.ResponseCommon, error) {
		r, err := c.helix.GetChannelFollows(&helix.GetChannelFollowsParams{
			BroadcasterID: channelID,
			UserID:        userID,
		})
		if err != nil {
			return nil, nil, err
		}
		return r, &r.ResponseCommon, nil
	})
	if err != nil {
		return false, err
	}
	return len(resp.Data.Channels) > 0, nil
}

// BlockedUsers returns the ids of every user the broadcaster has blocked.
func (c *Client) BlockedUsers(ctx context.Context, broadcasterID string) ([]string, error) {
	var (
		ids   []string
		after string
	)
	for {
		resp, err := doWithRetry(ctx, c, "get blocked users", func() (*helix.UsersBlockedResponse, *helix.ResponseCommon, error) {
			r, err := c.helix.GetUsersBlocked(&helix.UsersBlockedParams{
				BroadcasterID: broadcasterID,
				First:         100,
				After:         after,
			})
			if err != nil {
				return nil, nil, err
			}
			return r, &r.ResponseCommon, nil
		})
		if err != nil {
			return nil, err
		}
		for _, u := range resp.Data.Users {
			ids = append(ids, u.UserID)
		}
		if resp.Data.Pagination.Cursor == "" {
			return ids, nil
		}
		after = resp.Data.Pagination.Cursor
	}
}

// Cheermotes returns the cheermote sets usable in the broadcaster's channel,
// cached per channel for the lifetime of the client.
func (c *Client) Cheermotes(ctx context.Context, broadcasterID string) ([]spans.CheermoteSet, error) {
	c.mu.Lock()
	if sets, ok := c.cheermotes[broadcasterID]; ok {
		c.mu.Unlock()
		return sets, nil
	}
	c.mu.Unlock()

	resp, err := doWithRetry(ctx, c, "get cheermotes", func() (*helix.CheermotesResponse, *helix.ResponseCommon, error) {
		r, err := c.helix.GetCheermotes(&helix.CheermotesParams{BroadcasterID: broadcasterID})
		if err != nil {
			return nil, nil, err
		}
		return r, &r.ResponseCommon, nil
	})
	if err != nil {
		return nil, err
	}

	sets := make([]spans.CheermoteSet, 0, len(resp.Data.Cheermotes))
	for _, cm := range resp.Data.Cheermotes {
		set := spans.CheermoteSet{Prefix: cm.Prefix}
		for _, tier := range cm.Tiers {
			img := tier.Images.Dark.Animated.Image2
			if img == "" {
				img = tier.Images.Dark.Static.Image2
			}
			set.Tiers = append(set.Tiers, spans.CheermoteTier{
				MinBits:  int64(tier.MinBits),
				ImageURL: img,
			})
		}
		sets = append(sets, set)
	}

	c.mu.Lock()
	c.cheermotes[broadcasterID] = sets
	c.mu.Unlock()
	return sets, nil
}

// SendAnnouncement posts a chat announcement in the given color.
func (c *Client) SendAnnouncement(ctx context.Context, broadcasterID, moderatorID, message, color string) error {
	_, err := doWithRetry(ctx, c, "send announcement", func() (struct{}, *helix.ResponseCommon, error) {
		r, err := c.helix.SendChatAnnouncement(&helix.SendChatAnnouncementParams{
			BroadcasterID: broadcasterID,
			ModeratorID:   moderatorID,
			Message:       message,
			Color:         color,
		})
		if err != nil {
			return struct{}{}, nil, err
		}
		return struct{}{}, &r.ResponseCommon, nil
	})
	return err
}

// Ban bans or, with a non-zero duration in seconds, times out a user.
func (c *Client) Ban(ctx context.Context, broadcasterID, moderatorID, userID string, duration int, reason string) error {
	_, err := doWithRetry(ctx, c, "ban user", func() (struct{}, *helix.ResponseCommon, error) {
		r, err := c.helix.BanUser(&helix.BanUserParams{
			BroadcasterID: broadcasterID,
			ModeratorId:   moderatorID,
			Body: helix.BanUserRequestBody{
				UserId:   userID,
				Duration: duration,
				Reason:   reason,
			},
		})
		if err != nil {
			return struct{}{}, nil, err
		}
		return struct{}{}, &r.ResponseCommon, nil
	})
	return err
}

// Unban lifts a ban or timeout.
func (c *Client) Unban(ctx context.Context, broadcasterID, moderatorID, userID string) error {
	_, err := doWithRetry(ctx, c, "unban user", func() (struct{}, *helix.ResponseCommon, error) {
		r, err := c.helix.UnbanUser(&helix.UnbanUserParams{
			BroadcasterID: broadcasterID,
			ModeratorID:   moderatorID,
			UserID:        userID,
		})
		if err != nil {
			return struct{}{}, nil, err
		}
		return struct{}{}, &r.ResponseCommon, nil
	})
	return err
}

// Block blocks a user for the authenticated account.
func (c *Client) Block(ctx context.Context, targetUserID, reason string) error {
	_, err := doWithRetry(ctx, c, "block user", func() (struct{}, *helix.ResponseCommon, error) {
		r, err := c.helix.BlockUser(&helix.BlockUserParams{
			TargetUserID: targetUserID,
			Reason:       reason,
		})
		if err != nil {
			return struct{}{}, nil, err
		}
		return struct{}{}, &r.ResponseCommon, nil
	})
	return err
}

// Unblock unblocks a user for the authenticated account.
func (c *Client) Unblock(ctx context.Context, targetUserID string) error {
	_, err := doWithRetry(ctx, c, "unblock user", func() (struct{}, *helix.ResponseCommon, error) {
		r, err := c.helix.UnblockUser(&helix.UnblockUserParams{TargetUserID: targetUserID})
		if err != nil {
			return struct{}{}, nil, err
		}
		return struct{}{}, &r.ResponseCommon, nil
	})
	return err
}

// DeleteMessage removes one chat message, or every deletable message when
// messageID is empty.
func (c *Client) DeleteMessage(ctx context.Context, broadcasterID, moderatorID, messageID string) error {
	_, err := doWithRetry(ctx, c, "delete chat message", func() (struct{}, *helix.ResponseCommon, error) {
		r, err := c.helix.DeleteChatMessage(&helix.DeleteChatMessageParams{
			BroadcasterID: broadcasterID,
			ModeratorID:   moderatorID,
			MessageID:     messageID,
		})
		if err != nil {
			return struct{}{}, nil, err
		}
		return struct{}{}, &r.ResponseCommon, nil
	})
	return err
}

// RoomSettings are the chat mode updates supported by slash commands. Nil
// fields are left unchanged.
type RoomSettings struct {
	EmoteOnly            *bool
	FollowerOnly         *bool
	FollowerOnlyDuration *int // minutes
	SlowMode             *bool
	SlowModeWait         *int // seconds
	SubOnly              *bool
	UniqueChat           *bool
}

// UpdateRoomSettings applies chat mode changes to the channel.
func (c *Client) UpdateRoomSettings(ctx context.Context, broadcasterID, moderatorID string, s RoomSettings) error {
	_, err := doWithRetry(ctx, c, "update chat settings", func() (struct{}, *helix.ResponseCommon, error) {
		r, err := c.helix.UpdateChatSettings(&helix.UpdateChatSettingsParams{
			BroadcasterID:        broadcasterID,
			ModeratorID:          moderatorID,
			EmoteMode:            s.EmoteOnly,
			FollowerMode:         s.FollowerOnly,
			FollowerModeDuration: s.FollowerOnlyDuration,
			SlowMode:             s.SlowMode,
			SlowModeWaitTime:     s.SlowModeWait,
			SubscriberMode:       s.SubOnly,
			UniqueChatMode:       s.UniqueChat,
		})
		if err != nil {
			return struct{}{}, nil, err
		}
		return struct{}{}, &r.ResponseCommon, nil
	})
	return err
}

// AddModerator grants moderator status.
func (c *Client) AddModerator(ctx context.Context, broadcasterID, userID string) error {
	_, err := doWithRetry(ctx, c, "add moderator", func() (struct{}, *helix.ResponseCommon, error) {
		r, err := c.helix.AddChannelModerator(&helix.AddChannelModeratorParams{
			BroadcasterID: broadcasterID,
			UserID:        userID,
		})
		if err != nil {
			return struct{}{}, nil, err
		}
		return struct{}{}, &r.ResponseCommon, nil
	})
	return err
}

// RemoveModerator revokes moderator status.
func (c *Client) RemoveModerator(ctx context.Context, broadcasterID, userID string) error {
	_, err := doWithRetry(ctx, c, "remove moderator", func() (struct{}, *helix.ResponseCommon, error) {
		r, err := c.helix.RemoveChannelModerator(&helix.RemoveChannelModeratorParams{
			BroadcasterID: broadcasterID,
			UserID:        userID,
		})
		if err != nil {
			return struct{}{}, nil, err
		}
		return struct{}{}, &r.ResponseCommon, nil
	})
	return err
}

// AddVIP grants VIP status.
func (c *Client) AddVIP(ctx context.Context, broadcasterID, userID string) error {
	_, err := doWithRetry(ctx, c, "add vip", func() (struct{}, *helix.ResponseCommon, error) {
		r, err := c.helix.AddChannelVip(&helix.AddChannelVipParams{
			BroadcasterID: broadcasterID,
			UserID:        userID,
		})
		if err != nil {
			return struct{}{}, nil, err
		}
		return struct{}{}, &r.ResponseCommon, nil
	})
	return err
}

// RemoveVIP revokes VIP status.
func (c *Client) RemoveVIP(ctx context.Context, broadcasterID, userID string) error {
	_, err := doWithRetry(ctx, c, "remove vip", func() (struct{}, *helix.ResponseCommon, error) {
		r, err := c.helix.RemoveChannelVip(&helix.RemoveChannelVipParams{
			BroadcasterID: broadcasterID,
			UserID:        userID,
		})
		if err != nil {
			return struct{}{}, nil, err
		}
		return struct{}{}, &r.ResponseCommon, nil
	})
	return err
}

// Raid starts a raid to another channel.
func (c *Client) Raid(ctx context.Context, fromBroadcasterID, toBroadcasterID string) error {
	_, err := doWithRetry(ctx, c, "start raid", func() (struct{}, *helix.ResponseCommon, error) {
		r, err := c.helix.StartRaid(&helix.StartRaidParams{
			FromBroadcasterID: fromBroadcasterID,
			ToBroadcasterID:   toBroadcasterID,
		})
		if err != nil {
			return struct{}{}, nil, err
		}
		return struct{}{}, &r.ResponseCommon, nil
	})
	return err
}

// CancelRaid cancels a pending raid.
func (c *Client) CancelRaid(ctx context.Context, broadcasterID string) error {
	_, err := doWithRetry(ctx, c, "cancel raid", func() (struct{}, *helix.ResponseCommon, error) {
		r, err := c.helix.CancelRaid(&helix.CancelRaidParams{BroadcasterID: broadcasterID})
		if err != nil {
			return struct{}{}, nil, err
		}
		return struct{}{}, &r.ResponseCommon, nil
	})
	return err
}

// Whisper sends a private message to another user.
func (c *Client) Whisper(ctx context.Context, fromUserID, toUserID, message string) error {
	_, err := doWithRetry(ctx, c, "send whisper", func() (struct{}, *helix.ResponseCommon, error) {
		r, err := c.helix.SendUserWhisper(&helix.SendUserWhisperParams{
			FromUserID: fromUserID,
			ToUserID:   toUserID,
			Message:    message,
		})
		if err != nil {
			return struct{}{}, nil, err
		}
		return struct{}{}, &r.ResponseCommon, nil
	})
	return err
}

// StartCommercial runs an ad break of the given length in seconds.
func (c *Client) StartCommercial(ctx context.Context, broadcasterID string, length int) error {
	_, err := doWithRetry(ctx, c, "start commercial", func() (struct{}, *helix.ResponseCommon, error) {
		r, err := c.helix.StartCommercial(&helix.StartCommercialParams{
			BroadcasterID: broadcasterID,
			Length:        helix.AdLengthEnum(length),
		})
		if err != nil {
			return struct{}{}, nil, err
		}
		return struct{}{}, &r.ResponseCommon, nil
	})
	return err
}

// SetColor updates the authenticated user's chat color.
func (c *Client) SetColor(ctx context.Context, userID, color string) error {
	_, err := doWithRetry(ctx, c, "update chat color", func() (struct{}, *helix.ResponseCommon, error) {
		r, err := c.helix.UpdateUserChatColor(&helix.UpdateUserChatColorParams{
			UserID: userID,
			Color:  strings.ToLower(color),
		})
		if err != nil {
			return struct{}{}, nil, err
		}
		return struct{}{}, &r.ResponseCommon, nil
	})
	return err
}
