// Package events defines the uniform domain event model produced by the
// normalizer and the in-process bus that fans events out to consumers.
package events

import (
	"time"

	"github.com/onnwee/streamchat/directory"
	"github.com/onnwee/streamchat/spans"
)

// Kind discriminates domain events on the bus.
type Kind string

const (
	KindMessage      Kind = "message"
	KindCheer        Kind = "cheer"
	KindSubscription Kind = "subscription"
	KindReward       Kind = "reward"
	KindBan          Kind = "ban"
	KindTimeout      Kind = "timeout"
	KindUnban        Kind = "unban"
	KindRaid         Kind = "raid"
	KindJoin         Kind = "join"
	KindLeave        Kind = "leave"
	KindClearChat    Kind = "clear_chat"
	KindDeleted      Kind = "message_deleted"
	KindRoomState    Kind = "room_state"
	KindWhisper      Kind = "whisper"
	KindNotice       Kind = "notice"
	KindDisconnect   Kind = "disconnect"
)

// Event is any normalized domain event.
type Event interface {
	EventKind() Kind
	EventBase() Base
}

// Base carries the fields shared by every event.
type Base struct {
	Platform  string    `json:"platform"`
	ID        string    `json:"id"`
	ChannelID string    `json:"channelId"`
	Time      time.Time `json:"time"`
}

func (b Base) EventBase() Base { return b }

// ElevatedInfo describes a paid pinned message.
type ElevatedInfo struct {
	Amount   string `json:"amount"`
	Duration int    `json:"duration"` // seconds the pin lasts
}

// ChatMessage is a normalized chat line. RootID points at the root of the
// reply thread the message belongs to; it is empty for thread roots and
// unthreaded messages.
type ChatMessage struct {
	Base
	User   *directory.User `json:"user"`
	Text   string          `json:"text"`
	Chunks []spans.Chunk   `json:"chunks"`

	RootID    string `json:"rootId,omitempty"`
	RepliesTo string `json:"repliesTo,omitempty"`

	Action        bool          `json:"action,omitempty"`
	FirstToday    bool          `json:"firstToday,omitempty"`
	Returning     bool          `json:"returning,omitempty"`
	Highlighted   bool          `json:"highlighted,omitempty"`
	HasMention    bool          `json:"hasMention,omitempty"`
	HighlightWord string        `json:"highlightWord,omitempty"`
	Elevated      *ElevatedInfo `json:"elevated,omitempty"`
	Announcement  string        `json:"announcement,omitempty"` // announcement color, empty otherwise
}

func (ChatMessage) EventKind() Kind { return KindMessage }

// Cheer is a bits donation with its message.
type Cheer struct {
	Base
	User   *directory.User `json:"user"`
	Bits   int64           `json:"bits"`
	Text   string          `json:"text"`
	Chunks []spans.Chunk   `json:"chunks"`
}

func (Cheer) EventKind() Kind { return KindCheer }

// Subscription covers every subscription variant: new subs, resubs, prime
// conversions, single gifts and mass gift bombs.
type Subscription struct {
	Base
	User        *directory.User   `json:"user"`
	Tier        string            `json:"tier"`
	Prime       bool              `json:"prime,omitempty"`
	Resub       bool              `json:"resub,omitempty"`
	Gift        bool              `json:"gift,omitempty"`
	GiftCount   int               `json:"giftCount,omitempty"`
	GiftUpgrade bool              `json:"giftUpgrade,omitempty"`
	Anonymous   bool              `json:"anonymous,omitempty"`
	Recipients  []*directory.User `json:"recipients,omitempty"`
	Months      int               `json:"months,omitempty"`
	Streak      int               `json:"streak,omitempty"`
	Total       int               `json:"total,omitempty"`
	Text        string            `json:"text,omitempty"`
	Chunks      []spans.Chunk     `json:"chunks,omitempty"`
	SystemMsg   string            `json:"systemMsg,omitempty"`
}

func (Subscription) EventKind() Kind { return KindSubscription }

// Reward is a channel point reward redemption, including the synthetic
// redemption backing a highlighted message.
type Reward struct {
	Base
	User     *directory.User `json:"user"`
	RewardID string          `json:"rewardId"`
	Text     string          `json:"text,omitempty"`
}

func (Reward) EventKind() Kind { return KindReward }

// Ban is a permanent channel ban.
type Ban struct {
	Base
	User      *directory.User `json:"user"`
	Moderator *directory.User `json:"moderator,omitempty"`
	Reason    string          `json:"reason,omitempty"`
}

func (Ban) EventKind() Kind { return KindBan }

// Timeout is a timed ban.
type Timeout struct {
	Base
	User     *directory.User `json:"user"`
	Duration time.Duration   `json:"duration"`
}

func (Timeout) EventKind() Kind { return KindTimeout }

// Unban lifts a ban or timeout.
type Unban struct {
	Base
	User *directory.User `json:"user"`
}

func (Unban) EventKind() Kind { return KindUnban }

// Raid is an incoming raid.
type Raid struct {
	Base
	User    *directory.User `json:"user"`
	Viewers int             `json:"viewers"`
}

func (Raid) EventKind() Kind { return KindRaid }

// Join is a user entering the channel's chat.
type Join struct {
	Base
	User    *directory.User `json:"user"`
	Channel string          `json:"channel"`
	Self    bool            `json:"self,omitempty"`
}

func (Join) EventKind() Kind { return KindJoin }

// Leave is a user leaving the channel's chat.
type Leave struct {
	Base
	User    *directory.User `json:"user"`
	Channel string          `json:"channel"`
}

func (Leave) EventKind() Kind { return KindLeave }

// ClearChat wipes the channel's message history.
type ClearChat struct {
	Base
}

func (ClearChat) EventKind() Kind { return KindClearChat }

// Deleted is a single message removal.
type Deleted struct {
	Base
	TargetID string          `json:"targetId"`
	User     *directory.User `json:"user,omitempty"`
	Text     string          `json:"text,omitempty"`
}

func (Deleted) EventKind() Kind { return KindDeleted }

// RoomState reflects the channel's chat mode flags. Pointer fields are nil
// when the protocol event did not mention the mode.
type RoomState struct {
	Base
	EmoteOnly    *bool `json:"emoteOnly,omitempty"`
	FollowerOnly *bool `json:"followerOnly,omitempty"`
	SlowMode     *bool `json:"slowMode,omitempty"`
	SubOnly      *bool `json:"subOnly,omitempty"`
}

func (RoomState) EventKind() Kind { return KindRoomState }

// Whisper is a private message to or from the authenticated user.
type Whisper struct {
	Base
	User     *directory.User `json:"user"`
	Receiver *directory.User `json:"receiver,omitempty"`
	Text     string          `json:"text"`
	Chunks   []spans.Chunk   `json:"chunks"`
}

func (Whisper) EventKind() Kind { return KindWhisper }

// Notice is a server-issued informational message surfaced to the user.
type Notice struct {
	Base
	MessageID string `json:"messageId,omitempty"`
	Message   string `json:"message"`
	Channel   string `json:"channel,omitempty"`
}

func (Notice) EventKind() Kind { return KindNotice }

// Disconnect signals the transport lost its connection.
type Disconnect struct {
	Base
}

func (Disconnect) EventKind() Kind { return KindDisconnect }
