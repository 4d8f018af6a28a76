package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
)

const (
	defaultPronounProviderURL = "https://pronouns.alejo.io/api"
	defaultPronounFallbackURL = "https://pronoundb.org/api/v1"
)

// pronounLabels maps provider pronoun ids to display labels. Both services
// share the same id vocabulary.
var pronounLabels = map[string]string{
	"aeaer":    "Ae/Aer",
	"any":      "Any",
	"eem":      "E/Em",
	"faefaer":  "Fae/Faer",
	"hehim":    "He/Him",
	"heshe":    "He/She",
	"hethem":   "He/They",
	"itits":    "It/Its",
	"other":    "Other",
	"perper":   "Per/Per",
	"sheher":   "She/Her",
	"shethem":  "She/They",
	"theythem": "They/Them",
	"vever":    "Ve/Ver",
	"xexem":    "Xe/Xem",
	"ziehir":   "Zie/Hir",
}

// Pronouns looks up a user's announced pronouns, trying the primary provider
// by login first and falling back to the secondary by user id. Both services
// are community-run; any failure returns an error the caller is expected to
// swallow.
func (c *Client) Pronouns(ctx context.Context, login, userID string) (string, error) {
	if p, err := c.pronounsPrimary(ctx, login); err == nil {
		return p, nil
	} else {
		slog.Debug("primary pronoun lookup failed", slog.String("login", login), slog.Any("err", err))
	}
	return c.pronounsFallback(ctx, userID)
}

func (c *Client) pronounsPrimary(ctx context.Context, login string) (string, error) {
	if login == "" {
		return "", errors.New("login empty")
	}
	base := c.pronounProviderURL
	if base == "" {
		base = defaultPronounProviderURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/users/"+url.PathEscape(login), nil)
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("pronoun provider status %d", resp.StatusCode)
	}
	var body []struct {
		PronounID string `json:"pronoun_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	if len(body) == 0 {
		return "", errors.New("no pronouns set")
	}
	return pronounLabel(body[0].PronounID), nil
}

func (c *Client) pronounsFallback(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", errors.New("user id empty")
	}
	base := c.pronounFallbackURL
	if base == "" {
		base = defaultPronounFallbackURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/lookup?platform=twitch&id="+url.QueryEscape(userID), nil)
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("pronoun fallback status %d", resp.StatusCode)
	}
	var body struct {
		Pronouns string `json:"pronouns"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	if body.Pronouns == "" || body.Pronouns == "unspecified" {
		return "", errors.New("no pronouns set")
	}
	return pronounLabel(body.Pronouns), nil
}

func pronounLabel(id string) string {
	if label, ok := pronounLabels[id]; ok {
		return label
	}
	return id
}
