// Package identity turns the identifiers the chat platform hands out into the
// stable phone-number keys the rest of the bot works with.
package identity

import "strings"

// Known JID servers.
const (
	ServerUser  = "s.whatsapp.net"
	ServerLID   = "lid"
	ServerGroup = "g.us"
)

// JID is a decoded platform identifier of the form user[_agent][:device]@server.
type JID struct {
	User   string
	Server string
	Device string
}

// ParseJID decodes raw. It reports false when raw has no server part.
func ParseJID(raw string) (JID, bool) {
	at := strings.IndexByte(raw, '@')
	if at < 0 {
		return JID{}, false
	}

	combined, server := raw[:at], raw[at+1:]
	userAgent, device, _ := strings.Cut(combined, ":")
	user, _, _ := strings.Cut(userAgent, "_")

	return JID{User: user, Server: server, Device: device}, true
}

// String renders the JID without device information.
func (j JID) String() string {
	return j.User + "@" + j.Server
}

// IsGroup reports whether jid names a group conversation.
func IsGroup(jid string) bool {
	return strings.HasSuffix(jid, "@"+ServerGroup)
}

// IsLID reports whether jid is an opaque, rotating identifier.
func IsLID(jid string) bool {
	return strings.Contains(jid, "@"+ServerLID)
}

// UserJID returns the direct-chat JID for a phone number.
func UserJID(phone string) string {
	return phone + "@" + ServerUser
}

// ConversationKey returns the key a conversation's session is stored under:
// the participant inside a group, otherwise the chat itself.
func ConversationKey(chat, participant string) string {
	if IsGroup(chat) && participant != "" {
		return participant
	}
	return chat
}

// Digits strips everything except ASCII digits.
func Digits(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}

// ValidPhone reports whether s holds a plausible phone number of 10 to 15 digits.
func ValidPhone(s string) bool {
	d := Digits(s)
	return len(d) >= 10 && len(d) <= 15
}

// stripServer is the fallback when a JID cannot be decoded.
func stripServer(raw string) string {
	if before, _, ok := strings.Cut(raw, "@"); ok {
		return before
	}
	return raw
}
