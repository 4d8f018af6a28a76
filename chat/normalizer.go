package chat

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"
	"github.com/google/uuid"

	"github.com/onnwee/streamchat/directory"
	"github.com/onnwee/streamchat/events"
	"github.com/onnwee/streamchat/spans"
	"github.com/onnwee/streamchat/thread"
)

// fallbackColors is the palette assigned to users whose platform color is
// unset, picked deterministically per login so the color is stable.
var fallbackColors = []string{
	"#ff0000", "#0000ff", "#008000", "#b22222", "#ff7f50",
	"#9acd32", "#ff4500", "#2e8b57", "#daa520", "#d2691e",
	"#5f9ea0", "#1e90ff", "#ff69b4", "#8a2be2", "#00ff7f",
}

// elevatedDurations maps a paid pin's canonical amount to the pin duration
// in seconds.
var elevatedDurations = map[int]int{
	5:   30,
	10:  60,
	25:  90,
	50:  120,
	100: 150,
}

// Normalizer converts protocol callbacks into domain events. One protocol
// event in, at most a handful of domain events out, never blocking.
type Normalizer struct {
	dir        *directory.Directory
	parser     *spans.Parser
	threads    *thread.Registry
	correlator *Correlator

	channelLogin string
	channelID    string
	selfLogin    string
	selfMention  *regexp.Regexp

	mu         sync.Mutex
	cheermotes []spans.CheermoteSet
}

func NewNormalizer(dir *directory.Directory, parser *spans.Parser, threads *thread.Registry, correlator *Correlator, channelLogin, channelID, selfLogin string) *Normalizer {
	n := &Normalizer{
		dir:          dir,
		parser:       parser,
		threads:      threads,
		correlator:   correlator,
		channelLogin: strings.ToLower(strings.TrimPrefix(channelLogin, "#")),
		channelID:    channelID,
		selfLogin:    strings.ToLower(selfLogin),
	}
	if n.selfLogin != "" {
		n.selfMention = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(n.selfLogin) + `\b`)
	}
	return n
}

// SetCheermotes installs the channel's cheermote sets for the overlay pass.
func (n *Normalizer) SetCheermotes(sets []spans.CheermoteSet) {
	n.mu.Lock()
	n.cheermotes = sets
	n.mu.Unlock()
}

func (n *Normalizer) cheermoteSets() []spans.CheermoteSet {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.cheermotes
}

func (n *Normalizer) base(id string, at time.Time) events.Base {
	if id == "" {
		id = uuid.NewString()
	}
	if at.IsZero() {
		at = time.Now()
	}
	return events.Base{Platform: "twitch", ID: id, ChannelID: n.channelID, Time: at}
}

func fallbackColor(login string) string {
	h := fnv.New32a()
	h.Write([]byte(strings.ToLower(login)))
	return fallbackColors[h.Sum32()%uint32(len(fallbackColors))]
}

// resolveAuthor resolves the message author and applies everything the tags
// already tell us, sparing the directory a remote role lookup.
func (n *Normalizer) resolveAuthor(ctx context.Context, id, login, displayName, color string, badges map[string]int) *directory.User {
	u := n.dir.Resolve(ctx, "twitch", id, login, displayName)
	if u.Color == "" {
		if color != "" {
			u.Color = color
		} else {
			u.Color = fallbackColor(u.Login)
		}
	}
	if badges != nil {
		u.IsBroadcaster = badges["broadcaster"] > 0
		u.IsModerator = u.IsBroadcaster || badges["moderator"] > 0
		u.IsVIP = badges["vip"] > 0
		u.IsSubscriber = badges["subscriber"] > 0 || badges["founder"] > 0
		if badges["partner"] > 0 {
			u.IsPartner = true
			u.IsAffiliate = true
		}
		names := make([]string, 0, len(badges))
		for name := range badges {
			names = append(names, name)
		}
		sort.Strings(names)
		u.Badges = u.Badges[:0]
		for _, name := range names {
			u.Badges = append(u.Badges, directory.Badge{ID: name, Version: strconv.Itoa(badges[name])})
		}
		u.RolesKnown = true
	}
	return u
}

// NormalizeMessage converts a PRIVMSG. A message carrying a bits tag becomes
// a cheer; a highlighted message additionally synthesizes the channel point
// redemption that paid for it.
func (n *Normalizer) NormalizeMessage(ctx context.Context, m twitch.PrivateMessage) []events.Event {
	u := n.resolveAuthor(ctx, m.User.ID, m.User.Name, m.User.DisplayName, m.User.Color, m.User.Badges)

	chunks := n.parser.Parse(m.Message, m.Tags["emotes"], false)

	if _, isCheer := m.Tags["bits"]; isCheer {
		bits, err := strconv.ParseInt(m.Tags["bits"], 10, 64)
		if err != nil {
			bits = -1
		}
		return []events.Event{events.Cheer{
			Base:   n.base(m.ID, m.Time),
			User:   u,
			Bits:   bits,
			Text:   m.Message,
			Chunks: spans.OverlayCheermotes(chunks, n.cheermoteSets()),
		}}
	}

	ev := &events.ChatMessage{
		Base:   n.base(m.ID, m.Time),
		User:   u,
		Text:   m.Message,
		Chunks: chunks,
		Action: m.Action,
	}
	n.classify(ev, m.Tags)
	n.threads.Attach(ev, m.Tags["reply-parent-msg-id"])

	if !u.Greeted {
		u.Greeted = true
	}

	out := []events.Event{*ev}
	if ev.Highlighted {
		out = append(out, events.Reward{
			Base:     n.base("", m.Time),
			User:     u,
			RewardID: "highlighted-message",
			Text:     m.Message,
		})
	}
	return out
}

func (n *Normalizer) classify(ev *events.ChatMessage, tags map[string]string) {
	ev.FirstToday = tags["first-msg"] == "1"
	ev.Returning = tags["returning-chatter"] == "1"
	ev.Highlighted = tags["msg-id"] == "highlighted-message"
	if amount := tags["pinned-chat-paid-amount"]; amount != "" {
		ev.Elevated = elevatedInfo(amount, tags["pinned-chat-paid-exponent"], tags["pinned-chat-paid-currency"])
	}
	if n.selfMention != nil && ev.User != nil && ev.User.Login != n.selfLogin && n.selfMention.MatchString(ev.Text) {
		ev.HasMention = true
		ev.HighlightWord = n.selfLogin
	}
}

func elevatedInfo(rawAmount, rawExponent, currency string) *events.ElevatedInfo {
	amount, err := strconv.ParseFloat(rawAmount, 64)
	if err != nil {
		return nil
	}
	exponent, _ := strconv.Atoi(rawExponent)
	value := amount / math.Pow(10, float64(exponent))

	duration, ok := elevatedDurations[int(value)]
	if !ok {
		duration = 30
	}
	label := strconv.FormatFloat(value, 'f', -1, 64)
	if currency != "" {
		label += " " + currency
	}
	return &events.ElevatedInfo{Amount: label, Duration: duration}
}

// BuildSelfMessage constructs the local echo of a message the client just
// sent. The protocol assigns no id at send time, so the event is queued on
// the correlator and published once the id arrives. Span synthesis runs
// because own messages never carry an emote tag.
func (n *Normalizer) BuildSelfMessage(ctx context.Context, text string) *events.ChatMessage {
	u := n.dir.Resolve(ctx, "twitch", "", n.selfLogin, "")
	if u.Color == "" {
		u.Color = fallbackColor(n.selfLogin)
	}
	ev := &events.ChatMessage{
		Base:   events.Base{Platform: "twitch", ChannelID: n.channelID},
		User:   u,
		Text:   text,
		Chunks: n.parser.Parse(text, "", true),
	}
	n.threads.Attach(ev, "")
	n.correlator.Enqueue(ev)
	return ev
}

// HandleUserState completes the oldest queued self message when the state
// update carries the assigned message id.
func (n *Normalizer) HandleUserState(m twitch.UserStateMessage) []events.Event {
	id := m.Tags["id"]
	if id == "" {
		return nil
	}
	ev := n.correlator.Complete(id, time.Now())
	if ev == nil {
		return nil
	}
	return []events.Event{*ev}
}

// NormalizeUserNotice converts USERNOTICE events: the subscription family,
// raids, and announcements, which re-enter as chat messages.
func (n *Normalizer) NormalizeUserNotice(ctx context.Context, m twitch.UserNoticeMessage) []events.Event {
	switch m.MsgID {
	case "announcement":
		color := m.Tags["msg-param-color"]
		if color == "" {
			color = "PRIMARY"
		}
		u := n.resolveAuthor(ctx, m.User.ID, m.User.Name, m.User.DisplayName, m.User.Color, m.User.Badges)
		ev := &events.ChatMessage{
			Base:         n.base(m.ID, m.Time),
			User:         u,
			Text:         m.Message,
			Chunks:       n.parser.Parse(m.Message, m.Tags["emotes"], false),
			Announcement: color,
		}
		n.classify(ev, m.Tags)
		n.threads.Attach(ev, "")
		return []events.Event{*ev}

	case "raid":
		raider := n.resolveAuthor(ctx, m.User.ID, m.Tags["msg-param-login"], m.Tags["msg-param-displayName"], m.User.Color, nil)
		viewers, _ := strconv.Atoi(m.Tags["msg-param-viewerCount"])
		return []events.Event{events.Raid{
			Base:    n.base(m.ID, m.Time),
			User:    raider,
			Viewers: viewers,
		}}

	case "sub", "resub", "subgift", "anonsubgift", "submysterygift",
		"giftpaidupgrade", "anongiftpaidupgrade", "primepaidupgrade":
		return []events.Event{n.subscription(ctx, m)}
	}
	return nil
}

// subscription is the shared constructor for every subscription variant.
func (n *Normalizer) subscription(ctx context.Context, m twitch.UserNoticeMessage) events.Subscription {
	u := n.resolveAuthor(ctx, m.User.ID, m.User.Name, m.User.DisplayName, m.User.Color, m.User.Badges)

	sub := events.Subscription{
		Base:      n.base(m.ID, m.Time),
		User:      u,
		SystemMsg: m.SystemMsg,
	}

	switch plan := m.Tags["msg-param-sub-plan"]; plan {
	case "Prime":
		sub.Prime = true
		sub.Tier = "prime"
	case "2000":
		sub.Tier = "2"
	case "3000":
		sub.Tier = "3"
	default:
		sub.Tier = "1"
	}

	sub.Months, _ = strconv.Atoi(m.Tags["msg-param-cumulative-months"])
	sub.Total = sub.Months
	if m.Tags["msg-param-should-share-streak"] == "1" {
		sub.Streak, _ = strconv.Atoi(m.Tags["msg-param-streak-months"])
	}

	switch m.MsgID {
	case "resub":
		sub.Resub = true
		// Resub announcements can carry user text with emotes.
		if m.Message != "" {
			sub.Text = m.Message
			sub.Chunks = n.parser.Parse(m.Message, m.Tags["emotes"], false)
		}
	case "subgift", "anonsubgift":
		sub.Gift = true
		sub.GiftCount = 1
		sub.Anonymous = m.MsgID == "anonsubgift"
		recipient := n.dir.Resolve(ctx, "twitch",
			m.Tags["msg-param-recipient-id"],
			m.Tags["msg-param-recipient-user-name"],
			m.Tags["msg-param-recipient-display-name"])
		sub.Recipients = []*directory.User{recipient}
	case "submysterygift":
		sub.Gift = true
		sub.GiftCount, _ = strconv.Atoi(m.Tags["msg-param-mass-gift-count"])
	case "giftpaidupgrade", "anongiftpaidupgrade":
		// A gifted sub being continued as a paid one.
		sub.GiftUpgrade = true
		sub.Anonymous = m.MsgID == "anongiftpaidupgrade"
	case "primepaidupgrade":
		sub.GiftUpgrade = true
		sub.Prime = true
	}
	return sub
}

// NormalizeClearChat converts CLEARCHAT into a timeout, a ban, or a full
// chat clear, keeping the directory's ban flags in sync.
func (n *Normalizer) NormalizeClearChat(ctx context.Context, m twitch.ClearChatMessage) []events.Event {
	if m.TargetUserID == "" {
		n.threads.Clear()
		return []events.Event{events.ClearChat{Base: n.base("", m.Time)}}
	}

	u := n.dir.Resolve(ctx, "twitch", m.TargetUserID, m.TargetUsername, "")
	if m.BanDuration > 0 {
		d := time.Duration(m.BanDuration) * time.Second
		n.dir.FlagBanned("twitch", m.TargetUserID, d)
		return []events.Event{events.Timeout{
			Base:     n.base("", m.Time),
			User:     u,
			Duration: d,
		}}
	}
	n.dir.FlagBanned("twitch", m.TargetUserID, 0)
	return []events.Event{events.Ban{Base: n.base("", m.Time), User: u}}
}

// NormalizeClearMessage converts a single message deletion.
func (n *Normalizer) NormalizeClearMessage(ctx context.Context, m twitch.ClearMessage) []events.Event {
	var u *directory.User
	if m.Login != "" {
		u = n.dir.Resolve(ctx, "twitch", "", m.Login, "")
	}
	return []events.Event{events.Deleted{
		Base:     n.base("", time.Now()),
		TargetID: m.TargetMsgID,
		User:     u,
		Text:     m.Message,
	}}
}

// NormalizeRoomState converts ROOMSTATE for the configured channel; state
// for any other channel is discarded.
func (n *Normalizer) NormalizeRoomState(m twitch.RoomStateMessage) []events.Event {
	if !strings.EqualFold(strings.TrimPrefix(m.Channel, "#"), n.channelLogin) {
		return nil
	}
	ev := events.RoomState{Base: n.base("", time.Now())}
	if v, ok := m.Tags["emote-only"]; ok {
		on := v == "1"
		ev.EmoteOnly = &on
	}
	if v, ok := m.Tags["followers-only"]; ok {
		on := v != "-1"
		ev.FollowerOnly = &on
	}
	if v, ok := m.Tags["slow"]; ok {
		on := v != "0"
		ev.SlowMode = &on
	}
	if v, ok := m.Tags["subs-only"]; ok {
		on := v == "1"
		ev.SubOnly = &on
	}
	return []events.Event{ev}
}

// NormalizeNotice converts a server NOTICE, substituting texts for the
// notices whose server wording is unhelpful.
func (n *Normalizer) NormalizeNotice(m twitch.NoticeMessage) []events.Event {
	return []events.Event{events.Notice{
		Base:      n.base("", time.Now()),
		MessageID: m.MsgID,
		Message:   noticeText(m.MsgID, m.Message),
		Channel:   m.Channel,
	}}
}

// NormalizeRawNotice converts a raw NOTICE line the IRC library leaves
// unparsed. Lines that are not notices, or that target another channel, are
// discarded.
func (n *Normalizer) NormalizeRawNotice(raw string) []events.Event {
	msgID, channel, message, ok := ParseRawNotice(raw)
	if !ok {
		return nil
	}
	if !strings.EqualFold(strings.TrimPrefix(channel, "#"), n.channelLogin) {
		return nil
	}
	return []events.Event{events.Notice{
		Base:      n.base("", time.Now()),
		MessageID: msgID,
		Message:   noticeText(msgID, message),
		Channel:   channel,
	}}
}

// NormalizeWhisper converts a received whisper. The receiver is always the
// authenticated user.
func (n *Normalizer) NormalizeWhisper(ctx context.Context, m twitch.WhisperMessage) []events.Event {
	sender := n.resolveAuthor(ctx, m.User.ID, m.User.Name, m.User.DisplayName, m.User.Color, nil)
	var receiver *directory.User
	if n.selfLogin != "" {
		receiver = n.dir.Resolve(ctx, "twitch", "", n.selfLogin, "")
	}
	return []events.Event{events.Whisper{
		Base:     n.base(m.MessageID, time.Now()),
		User:     sender,
		Receiver: receiver,
		Text:     m.Message,
		Chunks:   n.parser.Parse(m.Message, m.Tags["emotes"], false),
	}}
}

// NormalizeJoin converts a JOIN. The client's own join additionally raises a
// connected notice.
func (n *Normalizer) NormalizeJoin(ctx context.Context, m twitch.UserJoinMessage) []events.Event {
	u := n.dir.Resolve(ctx, "twitch", "", m.User, "")
	ev := events.Join{
		Base:    n.base("", time.Now()),
		User:    u,
		Channel: m.Channel,
		Self:    strings.EqualFold(m.User, n.selfLogin),
	}
	if !ev.Self {
		return []events.Event{ev}
	}
	return []events.Event{ev, events.Notice{
		Base:    n.base("", time.Now()),
		Message: "Connected to #" + strings.TrimPrefix(m.Channel, "#"),
		Channel: m.Channel,
	}}
}

// NormalizeLeave converts a PART.
func (n *Normalizer) NormalizeLeave(ctx context.Context, m twitch.UserPartMessage) []events.Event {
	u := n.dir.Resolve(ctx, "twitch", "", m.User, "")
	return []events.Event{events.Leave{
		Base:    n.base("", time.Now()),
		User:    u,
		Channel: m.Channel,
	}}
}
