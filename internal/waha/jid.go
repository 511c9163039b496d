package waha

import "strings"

// ChatIDFor normalizes a sender identifier to a WAHA-compatible chatId.
// Individuals use @c.us, groups @g.us; the baileys-style
// @s.whatsapp.net suffix is rewritten.
func ChatIDFor(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return id
	}
	if strings.HasSuffix(id, "@s.whatsapp.net") {
		return strings.TrimSuffix(id, "@s.whatsapp.net") + "@c.us"
	}
	if !strings.Contains(id, "@") {
		return id + "@c.us"
	}
	return id
}

// PhoneFromJID strips the domain part of a chat id.
func PhoneFromJID(jid string) string {
	if i := strings.IndexByte(jid, '@'); i >= 0 {
		return jid[:i]
	}
	return jid
}

// IsGroup reports whether the chat id names a group chat.
func IsGroup(jid string) bool { return strings.HasSuffix(jid, "@g.us") }
