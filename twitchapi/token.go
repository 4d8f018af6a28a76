package twitchapi

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/onnwee/streamchat/telemetry"
)

// UserTokenSource holds the bot's user OAuth token and refreshes it through
// the refresh_token grant when it nears expiry or is invalidated by the chat
// transport rejecting it.
type UserTokenSource struct {
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client
	// TokenURL overrides the OAuth endpoint, used by tests.
	TokenURL string

	mu           sync.Mutex
	accessToken  string
	refreshToken string
	expiresAt    time.Time

	// OnRefresh is called with every new access token, letting callers
	// propagate it to the Helix client and the IRC connection.
	OnRefresh func(accessToken string)
}

func NewUserTokenSource(clientID, clientSecret, accessToken, refreshToken string) *UserTokenSource {
	return &UserTokenSource{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		accessToken:  accessToken,
		refreshToken: refreshToken,
		// Expiry of the seeded token is unknown; assume the default.
		expiresAt: ComputeExpiry(0),
	}
}

// Get returns a valid access token, refreshing first when the cached one is
// within a minute of expiry.
func (ts *UserTokenSource) Get(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.accessToken != "" && time.Until(ts.expiresAt) > time.Minute {
		return ts.accessToken, nil
	}
	return ts.refreshLocked(ctx)
}

// Invalidate discards the cached access token and fetches a new one. Used
// when the platform reports an authentication failure despite the token not
// having expired locally.
func (ts *UserTokenSource) Invalidate(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.accessToken = ""
	return ts.refreshLocked(ctx)
}

func (ts *UserTokenSource) refreshLocked(ctx context.Context) (string, error) {
	if ts.refreshToken == "" {
		return "", errors.New("no refresh token configured")
	}
	res, err := RefreshToken(ctx, ts.HTTPClient, ts.TokenURL, ts.ClientID, ts.ClientSecret, ts.refreshToken)
	if err != nil {
		return "", err
	}
	ts.accessToken = res.AccessToken
	if res.RefreshToken != "" {
		ts.refreshToken = res.RefreshToken
	}
	ts.expiresAt = ComputeExpiry(res.ExpiresIn)
	telemetry.CountTokenRefresh()
	if ts.OnRefresh != nil {
		ts.OnRefresh(ts.accessToken)
	}
	return ts.accessToken, nil
}
