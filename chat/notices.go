package chat

import (
	"regexp"
	"strings"
)

// rawNoticeRE splits a raw NOTICE line into msg-id, host, command, channel
// and message text.
var rawNoticeRE = regexp.MustCompile(`@msg-id=(.*) :(.*) (.*) (#.*) :(.*)`)

// noticeTexts replaces server notice strings that are unhelpful or empty
// as-is.
var noticeTexts = map[string]string{
	"bad_delete_message_error": "You cannot delete this message.",
	"msg_banned":               "You are permanently banned from talking in this channel.",
	"msg_timedout":             "You are timed out and cannot talk in this channel right now.",
	"msg_channel_suspended":    "This channel does not exist or has been suspended.",
	"msg_rejected_mandatory":   "Your message was rejected by this channel's moderation settings.",
	"unrecognized_cmd":         "Unrecognized command.",
}

// ParseRawNotice extracts msg-id, channel and message from a raw NOTICE line.
// ok is false when the line does not match the expected shape or is not a
// NOTICE at all.
func ParseRawNotice(raw string) (msgID, channel, message string, ok bool) {
	m := rawNoticeRE.FindStringSubmatch(raw)
	if m == nil || !strings.EqualFold(m[3], "NOTICE") {
		return "", "", "", false
	}
	return m[1], m[4], m[5], true
}

// noticeText returns the user-facing text for a server notice, substituting
// the known unhelpful ones.
func noticeText(msgID, message string) string {
	if t, ok := noticeTexts[msgID]; ok {
		return t
	}
	return message
}

// isAuthFailure reports whether a notice or connect error indicates the
// server rejected the current credentials.
func isAuthFailure(message string) bool {
	return strings.Contains(strings.ToLower(message), "authentication failed")
}
