package channel

import (
	"sort"
	"time"

	"neighborhood-chat/internal/models"
)

// dedupWindow is the timestamp tolerance for matching a message that
// arrived once over push and once over a subsequent poll before the
// cursor advanced.
const dedupWindow = time.Second

// isDuplicate applies the inbound gate: a message is a duplicate when
// an existing entry matches by id, by client idempotency key, or by
// the (body, sender, kind) tuple within the dedup window.
func isDuplicate(existing []models.Message, msg models.Message) bool {
	for _, m := range existing {
		if m.ID == msg.ID {
			return true
		}
		if m.Meta.ClientKey != "" && m.Meta.ClientKey == msg.Meta.ClientKey {
			return true
		}
		if m.Body == msg.Body && m.SenderID == msg.SenderID && m.Kind == msg.Kind {
			delta := m.CreatedAt.Sub(msg.CreatedAt)
			if delta < 0 {
				delta = -delta
			}
			if delta < dedupWindow {
				return true
			}
		}
	}
	return false
}

// insertOrdered places msg into msgs preserving ascending timestamp
// order.
func insertOrdered(msgs []models.Message, msg models.Message) []models.Message {
	i := sort.Search(len(msgs), func(i int) bool {
		return msgs[i].CreatedAt.After(msg.CreatedAt)
	})
	msgs = append(msgs, models.Message{})
	copy(msgs[i+1:], msgs[i:])
	msgs[i] = msg
	return msgs
}
