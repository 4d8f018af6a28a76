package chat

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/onnwee/streamchat/twitchapi"
)

var announceColors = map[string]bool{
	"blue":    true,
	"green":   true,
	"orange":  true,
	"purple":  true,
	"primary": true,
}

// SendMessage sends outbound text: plain messages go to the channel through
// the send throttle, "/"-prefixed text is interpreted as a slash command.
func (c *Client) SendMessage(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if strings.HasPrefix(text, "/") {
		return c.command(ctx, text)
	}
	return c.say(ctx, text)
}

func (c *Client) say(ctx context.Context, text string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	c.irc.Say(c.channel, text)
	// The local echo waits on the correlator for its server-assigned id.
	c.normalizer.BuildSelfMessage(ctx, text)
	return nil
}

func (c *Client) command(ctx context.Context, text string) error {
	fields := strings.Fields(text)
	cmd := strings.ToLower(fields[0])
	args := fields[1:]

	if c.api == nil {
		c.Alert("Not authenticated")
		return nil
	}

	switch cmd {
	case "/announce":
		return c.cmdAnnounce(ctx, args)
	case "/ban":
		if len(args) < 1 {
			c.Alert("Usage: /ban <login> [reason]")
			return nil
		}
		id, ok := c.lookupUserID(ctx, args[0])
		if !ok {
			return nil
		}
		return c.report("ban", c.api.Ban(ctx, c.channelID, c.selfID, id, 0, strings.Join(args[1:], " ")))
	case "/unban", "/untimeout":
		if len(args) < 1 {
			c.Alert("Usage: " + cmd + " <login>")
			return nil
		}
		id, ok := c.lookupUserID(ctx, args[0])
		if !ok {
			return nil
		}
		return c.report("unban", c.api.Unban(ctx, c.channelID, c.selfID, id))
	case "/timeout":
		if len(args) < 2 {
			c.Alert("Usage: /timeout <login> <seconds> [reason]")
			return nil
		}
		seconds, err := strconv.Atoi(args[1])
		if err != nil || seconds <= 0 {
			c.Alert("Invalid timeout duration")
			return nil
		}
		id, ok := c.lookupUserID(ctx, args[0])
		if !ok {
			return nil
		}
		return c.report("timeout", c.api.Ban(ctx, c.channelID, c.selfID, id, seconds, strings.Join(args[2:], " ")))
	case "/block":
		if len(args) < 1 {
			c.Alert("Usage: /block <login>")
			return nil
		}
		id, ok := c.lookupUserID(ctx, args[0])
		if !ok {
			return nil
		}
		if err := c.report("block", c.api.Block(ctx, id, "")); err != nil {
			return err
		}
		c.normalizer.dir.FlagBlocked("twitch", id, true)
		return nil
	case "/unblock":
		if len(args) < 1 {
			c.Alert("Usage: /unblock <login>")
			return nil
		}
		id, ok := c.lookupUserID(ctx, args[0])
		if !ok {
			return nil
		}
		if err := c.report("unblock", c.api.Unblock(ctx, id)); err != nil {
			return err
		}
		c.normalizer.dir.FlagBlocked("twitch", id, false)
		return nil
	case "/delete":
		if len(args) < 1 {
			c.Alert("Usage: /delete <message id>")
			return nil
		}
		return c.report("delete message", c.api.DeleteMessage(ctx, c.channelID, c.selfID, args[0]))
	case "/clear":
		return c.report("clear chat", c.api.DeleteMessage(ctx, c.channelID, c.selfID, ""))
	case "/color":
		if len(args) < 1 {
			c.Alert("Usage: /color <color>")
			return nil
		}
		return c.report("set color", c.api.SetColor(ctx, c.selfID, args[0]))
	case "/commercial":
		length := 30
		if len(args) > 0 {
			if n, err := strconv.Atoi(args[0]); err == nil {
				length = n
			}
		}
		return c.report("commercial", c.api.StartCommercial(ctx, c.channelID, length))
	case "/emoteonly":
		return c.updateRoom(ctx, twitchapi.RoomSettings{EmoteOnly: boolPtr(true)})
	case "/emoteonlyoff":
		return c.updateRoom(ctx, twitchapi.RoomSettings{EmoteOnly: boolPtr(false)})
	case "/followers":
		s := twitchapi.RoomSettings{FollowerOnly: boolPtr(true)}
		if len(args) > 0 {
			if minutes, err := strconv.Atoi(args[0]); err == nil {
				s.FollowerOnlyDuration = &minutes
			}
		}
		return c.updateRoom(ctx, s)
	case "/followersoff":
		return c.updateRoom(ctx, twitchapi.RoomSettings{FollowerOnly: boolPtr(false)})
	case "/slow":
		s := twitchapi.RoomSettings{SlowMode: boolPtr(true)}
		if len(args) > 0 {
			if seconds, err := strconv.Atoi(args[0]); err == nil {
				s.SlowModeWait = &seconds
			}
		}
		return c.updateRoom(ctx, s)
	case "/slowoff":
		return c.updateRoom(ctx, twitchapi.RoomSettings{SlowMode: boolPtr(false)})
	case "/subscribers":
		return c.updateRoom(ctx, twitchapi.RoomSettings{SubOnly: boolPtr(true)})
	case "/subscribersoff":
		return c.updateRoom(ctx, twitchapi.RoomSettings{SubOnly: boolPtr(false)})
	case "/mod":
		return c.userCommand(ctx, "mod", args, func(id string) error {
			if err := c.api.AddModerator(ctx, c.channelID, id); err != nil {
				return err
			}
			c.normalizer.dir.FlagModerator("twitch", id, true)
			return nil
		})
	case "/unmod":
		return c.userCommand(ctx, "unmod", args, func(id string) error {
			if err := c.api.RemoveModerator(ctx, c.channelID, id); err != nil {
				return err
			}
			c.normalizer.dir.FlagModerator("twitch", id, false)
			return nil
		})
	case "/vip":
		return c.userCommand(ctx, "vip", args, func(id string) error {
			if err := c.api.AddVIP(ctx, c.channelID, id); err != nil {
				return err
			}
			c.normalizer.dir.FlagVIP("twitch", id, true)
			return nil
		})
	case "/unvip":
		return c.userCommand(ctx, "unvip", args, func(id string) error {
			if err := c.api.RemoveVIP(ctx, c.channelID, id); err != nil {
				return err
			}
			c.normalizer.dir.FlagVIP("twitch", id, false)
			return nil
		})
	case "/raid":
		return c.userCommand(ctx, "raid", args, func(id string) error {
			return c.api.Raid(ctx, c.channelID, id)
		})
	case "/unraid":
		return c.report("cancel raid", c.api.CancelRaid(ctx, c.channelID))
	case "/w", "/whisper":
		if len(args) < 2 {
			c.Alert("Usage: /w <login> <message>")
			return nil
		}
		id, ok := c.lookupUserID(ctx, args[0])
		if !ok {
			return nil
		}
		return c.report("whisper", c.api.Whisper(ctx, c.selfID, id, strings.Join(args[1:], " ")))
	case "/marker", "/mods", "/vips", "/uniquechat", "/uniquechatoff":
		// Accepted for compatibility; nothing to surface.
		return nil
	}
	// Unknown commands are silently ignored rather than leaked to chat.
	return nil
}

// cmdAnnounce validates the color before touching the network: an invalid
// color aborts with an alert and no API call.
func (c *Client) cmdAnnounce(ctx context.Context, args []string) error {
	if len(args) == 0 {
		c.Alert("Announcement message missing")
		return nil
	}
	color := "primary"
	message := strings.Join(args, " ")
	if len(args) >= 2 {
		first := strings.ToLower(args[0])
		if !announceColors[first] {
			c.Alert("Invalid announcement color \"" + args[0] + "\"")
			return nil
		}
		color = first
		message = strings.Join(args[1:], " ")
	}
	return c.report("announce", c.api.SendAnnouncement(ctx, c.channelID, c.selfID, message, color))
}

func (c *Client) userCommand(ctx context.Context, name string, args []string, call func(id string) error) error {
	if len(args) < 1 {
		c.Alert("Usage: /" + name + " <login>")
		return nil
	}
	id, ok := c.lookupUserID(ctx, args[0])
	if !ok {
		return nil
	}
	return c.report(name, call(id))
}

func (c *Client) updateRoom(ctx context.Context, s twitchapi.RoomSettings) error {
	return c.report("update room settings", c.api.UpdateRoomSettings(ctx, c.channelID, c.selfID, s))
}

// lookupUserID resolves a login to a user id, alerting on failure.
func (c *Client) lookupUserID(ctx context.Context, login string) (string, bool) {
	login = strings.ToLower(strings.TrimPrefix(login, "@"))
	users, err := c.api.UsersByLogin(ctx, []string{login})
	if err != nil || len(users) == 0 {
		c.Alert("User \"" + login + "\" not found")
		return "", false
	}
	return users[0].ID, true
}

// report surfaces a command failure to the user and passes the error on.
func (c *Client) report(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *twitchapi.APIError
	if errors.As(err, &ae) && ae.Message != "" {
		c.Alert(ae.Message)
	} else {
		c.Alert(fmt.Sprintf("Command %s failed", op))
	}
	return err
}

func boolPtr(b bool) *bool { return &b }
