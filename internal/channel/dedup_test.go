package channel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"neighborhood-chat/internal/models"
)

func TestIsDuplicateByID(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	existing := []models.Message{{ID: "a", Body: "hello", CreatedAt: now}}

	assert.True(t, isDuplicate(existing, models.Message{ID: "a", Body: "different", CreatedAt: now.Add(time.Hour)}))
	assert.False(t, isDuplicate(existing, models.Message{ID: "b", Body: "different", CreatedAt: now.Add(time.Hour)}))
}

func TestIsDuplicateByClientKey(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	existing := []models.Message{{
		ID:        "a",
		Body:      "hello",
		Meta:      models.MessageMeta{ClientKey: "key-1"},
		CreatedAt: now,
	}}

	// the ack and the poll can disagree on everything but the key
	dup := models.Message{ID: "b", Body: "hello (edited)", Meta: models.MessageMeta{ClientKey: "key-1"}, CreatedAt: now.Add(time.Minute)}
	assert.True(t, isDuplicate(existing, dup))

	other := models.Message{ID: "b", Body: "bye", Meta: models.MessageMeta{ClientKey: "key-2"}, CreatedAt: now.Add(time.Minute)}
	assert.False(t, isDuplicate(existing, other))
}

func TestIsDuplicateByContentWindow(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	existing := []models.Message{{
		ID:        "a",
		SenderID:  "user-1",
		Body:      "help",
		Kind:      models.KindPanic,
		CreatedAt: now,
	}}

	within := models.Message{ID: "b", SenderID: "user-1", Body: "help", Kind: models.KindPanic, CreatedAt: now.Add(400 * time.Millisecond)}
	assert.True(t, isDuplicate(existing, within))

	outside := models.Message{ID: "c", SenderID: "user-1", Body: "help", Kind: models.KindPanic, CreatedAt: now.Add(2 * time.Second)}
	assert.False(t, isDuplicate(existing, outside), "a genuine repeat past the window is a new message")

	otherSender := models.Message{ID: "d", SenderID: "user-2", Body: "help", Kind: models.KindPanic, CreatedAt: now.Add(400 * time.Millisecond)}
	assert.False(t, isDuplicate(existing, otherSender))

	otherKind := models.Message{ID: "e", SenderID: "user-1", Body: "help", Kind: models.KindNormal, CreatedAt: now.Add(400 * time.Millisecond)}
	assert.False(t, isDuplicate(existing, otherKind))
}

func TestInsertOrdered(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	var msgs []models.Message
	msgs = insertOrdered(msgs, models.Message{ID: "b", CreatedAt: now.Add(2 * time.Second)})
	msgs = insertOrdered(msgs, models.Message{ID: "c", CreatedAt: now.Add(4 * time.Second)})
	msgs = insertOrdered(msgs, models.Message{ID: "a", CreatedAt: now})
	msgs = insertOrdered(msgs, models.Message{ID: "mid", CreatedAt: now.Add(3 * time.Second)})

	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	assert.Equal(t, []string{"a", "b", "mid", "c"}, ids)
}

func TestResolveOwnership(t *testing.T) {
	id := Identity{UserID: "user-1", DisplayName: "Ana", Email: "ana@example.com"}
	yes, no := true, false

	tests := []struct {
		name     string
		msg      models.Message
		explicit *bool
		want     bool
	}{
		{"explicit flag wins over mismatch", models.Message{SenderID: "user-2"}, &yes, true},
		{"explicit false wins over match", models.Message{SenderID: "user-1"}, &no, false},
		{"sender id match", models.Message{SenderID: "user-1"}, nil, true},
		{"sender id mismatch beats name match", models.Message{SenderID: "user-2", SenderName: "Ana"}, nil, false},
		{"display name fallback", models.Message{SenderName: "Ana"}, nil, true},
		{"email fallback", models.Message{SenderName: "ana@example.com"}, nil, true},
		{"no signal", models.Message{}, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resolveOwnership(tt.msg, tt.explicit, id))
		})
	}
}
