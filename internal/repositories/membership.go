package repositories

import (
	"context"
	"errors"
)

// ErrNotParticipant signals a failed membership authorization.
var ErrNotParticipant = errors.New("user is not a participant of the chat")

// VerifyMembership authorizes a user against a chat by checking both
// directions: the user record must point at the chat AND the chat's
// participant set must contain the user. The two collections can
// drift; trusting only one would open a privilege-escalation gap, so
// every join and send path funnels through this single check.
func VerifyMembership(ctx context.Context, repo ChatRepository, chatID, userID string) error {
	user, err := repo.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if user.ChatID != chatID {
		return ErrNotParticipant
	}

	chat, err := repo.GetChat(ctx, chatID)
	if err != nil {
		return err
	}
	if !chat.HasParticipant(userID) {
		return ErrNotParticipant
	}
	return nil
}
