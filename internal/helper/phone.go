package helper

import (
	"fmt"
	"regexp"
	"strings"

	"go.mau.fi/whatsmeow/types"
)

// LegacyUserSuffix is the old contact-address suffix some callers still send.
// Whatsmeow only speaks the native server, so it must be rewritten.
const LegacyUserSuffix = "@c.us"

var nonDigit = regexp.MustCompile(`[^\d]`)

// FormatPhoneNumber converts a phone number to a WhatsApp JID.
// Accepts digits, +, -, (, ), spaces; everything else is rejected.
func FormatPhoneNumber(phone string) (types.JID, error) {
	validFormat := regexp.MustCompile(`^[\d\s\+\-\(\)]+$`)
	if !validFormat.MatchString(phone) {
		return types.JID{}, fmt.Errorf("invalid phone number format: contains invalid characters")
	}

	cleaned := nonDigit.ReplaceAllString(phone, "")

	if len(cleaned) < 7 || len(cleaned) > 15 {
		return types.JID{}, fmt.Errorf("invalid phone number length")
	}

	return types.JID{
		User:   cleaned,
		Server: types.DefaultUserServer,
	}, nil
}

// NormalizeChatJID rewrites a chat identifier into whatsmeow's canonical form.
// Legacy "@c.us" addresses become "@s.whatsapp.net"; bare numbers are formatted.
func NormalizeChatJID(raw string) (types.JID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return types.JID{}, fmt.Errorf("empty chat id")
	}

	if strings.HasSuffix(raw, LegacyUserSuffix) {
		raw = strings.TrimSuffix(raw, LegacyUserSuffix) + "@" + types.DefaultUserServer
	}

	if strings.Contains(raw, "@") {
		return types.ParseJID(raw)
	}

	return FormatPhoneNumber(raw)
}

// NormalizeNumber reduces a phone number or JID to its bare digits,
// used for allowlist comparison.
func NormalizeNumber(raw string) string {
	return nonDigit.ReplaceAllString(ExtractPhoneFromJID(raw), "")
}

func ExtractPhoneFromJID(jid string) string {
	// "6285148107612:43@s.whatsapp.net" -> "6285148107612"
	atSplit := strings.SplitN(jid, "@", 2)
	if len(atSplit) == 0 {
		return jid
	}
	beforeAt := atSplit[0]
	colonSplit := strings.SplitN(beforeAt, ":", 2)
	return colonSplit[0]
}
