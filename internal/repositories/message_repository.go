package repositories

import (
	"context"
	"crypto/rand"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/oklog/ulid/v2"

	"neighborhood-chat/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// MessageRepository defines interactions for chat messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, msg models.Message) (models.Message, error)
	ListAfter(ctx context.Context, chatID, afterID string, limit int) ([]models.Message, error)
	ListBefore(ctx context.Context, chatID, beforeID string, limit int) ([]models.Message, error)
	CountMessages(ctx context.Context, chatID string) (int, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// NewMessageID returns a fresh ULID. ULIDs sort lexically in creation
// order, which is what makes the id cursor queries below work.
func NewMessageID(at time.Time) string {
	return ulid.MustNew(ulid.Timestamp(at.UTC()), rand.Reader).String()
}

// CreateMessage persists a message, assigning the id and timestamp.
func (r *MessageRepo) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	now := time.Now().UTC()
	msg.ID = NewMessageID(now)
	msg.CreatedAt = now
	if msg.Kind == "" {
		msg.Kind = models.KindNormal
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO messages (id, chat_id, sender_id, sender_name, body, kind, meta, created_at)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		msg.ID, msg.ChatID, msg.SenderID, msg.SenderName, msg.Body, msg.Kind, msg.Meta, msg.CreatedAt)
	if err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// ListAfter returns up to limit messages strictly newer than afterID,
// oldest first. An empty afterID returns the most recent limit
// messages.
func (r *MessageRepo) ListAfter(ctx context.Context, chatID, afterID string, limit int) ([]models.Message, error) {
	var msgs []models.Message
	if afterID == "" {
		// Newest page first, then flip to ascending.
		query := `SELECT id, chat_id, sender_id, sender_name, body, kind, meta, created_at
            FROM messages WHERE chat_id=$1 ORDER BY id DESC LIMIT $2`
		if err := r.db.SelectContext(ctx, &msgs, query, chatID, limit); err != nil {
			return nil, err
		}
		reverse(msgs)
		return msgs, nil
	}

	query := `SELECT id, chat_id, sender_id, sender_name, body, kind, meta, created_at
        FROM messages WHERE chat_id=$1 AND id > $2 ORDER BY id ASC LIMIT $3`
	err := r.db.SelectContext(ctx, &msgs, query, chatID, afterID, limit)
	return msgs, err
}

// ListBefore returns up to limit messages strictly older than
// beforeID, oldest first. Used for backward pagination.
func (r *MessageRepo) ListBefore(ctx context.Context, chatID, beforeID string, limit int) ([]models.Message, error) {
	var msgs []models.Message
	query := `SELECT id, chat_id, sender_id, sender_name, body, kind, meta, created_at
        FROM messages WHERE chat_id=$1 AND id < $2 ORDER BY id DESC LIMIT $3`
	if err := r.db.SelectContext(ctx, &msgs, query, chatID, beforeID, limit); err != nil {
		return nil, err
	}
	reverse(msgs)
	return msgs, nil
}

// CountMessages returns the total number of messages in a chat.
func (r *MessageRepo) CountMessages(ctx context.Context, chatID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM messages WHERE chat_id=$1`, chatID)
	return count, err
}

func reverse(msgs []models.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
