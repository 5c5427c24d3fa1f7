package utils

import (
	"fmt"
	"strings"

	"go.mau.fi/whatsmeow/types"
)

// ParseJID turns a stored contact number into a whatsmeow JID. Group numbers
// keep their "@g.us" suffix; bare numbers get the direct-chat server. Direct
// recipients must be numeric, otherwise garbage would parse into a JID the
// provider cannot deliver to.
func ParseJID(number string) (types.JID, error) {
	if strings.Contains(number, "@") {
		jid, err := types.ParseJID(number)
		if err != nil {
			return types.JID{}, err
		}
		if jid.Server == types.DefaultUserServer && !isNumeric(jid.User) {
			return types.JID{}, fmt.Errorf("invalid recipient number %q", number)
		}
		return jid, nil
	}
	if !isNumeric(number) {
		return types.JID{}, fmt.Errorf("invalid recipient number %q", number)
	}
	return types.ParseJID(number + "@" + types.DefaultUserServer)
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// NormalizeJID strips the device part ("5511999999999:12@s.whatsapp.net")
// so the same sender always maps to the same contact number.
func NormalizeJID(jid string) string {
	if parts := strings.Split(jid, ":"); len(parts) > 1 {
		if at := strings.Split(parts[1], "@"); len(at) > 1 {
			return parts[0] + "@" + at[1]
		}
	}
	return jid
}

// BareNumber drops the server suffix from a JID string.
func BareNumber(jid string) string {
	if i := strings.Index(jid, "@"); i >= 0 {
		return jid[:i]
	}
	return jid
}

// IsGroupJID reports whether the JID addresses a group chat.
func IsGroupJID(jid string) bool {
	return strings.HasSuffix(jid, "@g.us")
}

// IsBroadcastJID reports whether the JID is a status/broadcast feed, which
// the pipeline never routes.
func IsBroadcastJID(jid string) bool {
	return jid == "status@broadcast" || strings.HasSuffix(jid, "@broadcast") ||
		strings.HasSuffix(jid, "@newsletter")
}

// SanitizeFileName keeps attachment names filesystem- and URL-safe.
func SanitizeFileName(name string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", " ", "_", "?", "_", "#", "_", "&", "_")
	return replacer.Replace(name)
}
