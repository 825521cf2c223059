package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"neighborhood-chat/internal/models"
)

type ChatRepositoryMock struct {
	mock.Mock
}

func (m *ChatRepositoryMock) GetChat(ctx context.Context, chatID string) (models.Chat, error) {
	args := m.Called(ctx, chatID)
	var chat models.Chat
	if val := args.Get(0); val != nil {
		chat = val.(models.Chat)
	}
	return chat, args.Error(1)
}

func (m *ChatRepositoryMock) GetUser(ctx context.Context, userID string) (models.User, error) {
	args := m.Called(ctx, userID)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	args := m.Called(ctx, msg)
	var out models.Message
	if val := args.Get(0); val != nil {
		out = val.(models.Message)
	}
	return out, args.Error(1)
}

func (m *MessageRepositoryMock) ListAfter(ctx context.Context, chatID, afterID string, limit int) ([]models.Message, error) {
	args := m.Called(ctx, chatID, afterID, limit)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) ListBefore(ctx context.Context, chatID, beforeID string, limit int) ([]models.Message, error) {
	args := m.Called(ctx, chatID, beforeID, limit)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) CountMessages(ctx context.Context, chatID string) (int, error) {
	args := m.Called(ctx, chatID)
	return args.Int(0), args.Error(1)
}

type PresenceStoreMock struct {
	mock.Mock
}

func (m *PresenceStoreMock) SetTyping(ctx context.Context, ind models.TypingIndicator) error {
	args := m.Called(ctx, ind)
	return args.Error(0)
}

func (m *PresenceStoreMock) ClearTyping(ctx context.Context, chatID, userID string) error {
	args := m.Called(ctx, chatID, userID)
	return args.Error(0)
}

func (m *PresenceStoreMock) Typing(ctx context.Context, chatID string) ([]models.TypingIndicator, error) {
	args := m.Called(ctx, chatID)
	var inds []models.TypingIndicator
	if val := args.Get(0); val != nil {
		inds = val.([]models.TypingIndicator)
	}
	return inds, args.Error(1)
}

func (m *PresenceStoreMock) Heartbeat(ctx context.Context, p models.OnlinePresence) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *PresenceStoreMock) Online(ctx context.Context, chatID string) ([]models.OnlinePresence, error) {
	args := m.Called(ctx, chatID)
	var online []models.OnlinePresence
	if val := args.Get(0); val != nil {
		online = val.([]models.OnlinePresence)
	}
	return online, args.Error(1)
}
