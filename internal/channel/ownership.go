package channel

import "neighborhood-chat/internal/models"

// Identity is the current session's view of the user, supplied by
// the session provider at construction time.
type Identity struct {
	UserID      string
	DisplayName string
	Email       string
}

// resolveOwnership decides whether a rendered message belongs to the
// current user. Precedence: an explicit server flag, then an exact
// sender-id match, then a display-name or email fallback. The
// fallback exists because sender identifiers are inconsistently
// populated across the push and pull paths.
func resolveOwnership(msg models.Message, explicit *bool, id Identity) bool {
	if explicit != nil {
		return *explicit
	}
	if msg.SenderID != "" && msg.SenderID == id.UserID {
		return true
	}
	if msg.SenderID != "" && id.UserID != "" && msg.SenderID != id.UserID {
		return false
	}
	if msg.SenderName != "" {
		return msg.SenderName == id.DisplayName || msg.SenderName == id.Email
	}
	return false
}
