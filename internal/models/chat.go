package models

import (
	"time"

	"github.com/lib/pq"
)

// Chat is a neighborhood-scoped room. Participants is the single
// source of truth for membership authorization.
type Chat struct {
	ID           string         `db:"id" json:"id"`
	Neighborhood string         `db:"neighborhood" json:"neighborhood"`
	Participants pq.StringArray `db:"participants" json:"participants"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
}

// HasParticipant reports whether the user belongs to the chat.
func (c Chat) HasParticipant(userID string) bool {
	for _, id := range c.Participants {
		if id == userID {
			return true
		}
	}
	return false
}

// User is the slice of the user record the engine reads: the chat a
// user is assigned to plus the identity fields used for ownership
// resolution.
type User struct {
	ID          string    `db:"id" json:"id"`
	ChatID      string    `db:"chat_id" json:"chat_id"`
	DisplayName string    `db:"display_name" json:"display_name"`
	Email       string    `db:"email" json:"email"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}
