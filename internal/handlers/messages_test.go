package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"neighborhood-chat/internal/gateway"
	"neighborhood-chat/internal/middleware"
	"neighborhood-chat/internal/mocks"
	"neighborhood-chat/internal/models"
)

func setupMessageRouter(handler *MessageHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("session", middleware.Session{UserID: "user-1", DisplayName: "Ana"})
		c.Next()
	})
	r.GET("/chat/messages", handler.GetMessages)
	r.POST("/chat/messages", handler.PostMessage)
	return r
}

func member(chatID string, userIDs ...string) (models.User, models.Chat) {
	return models.User{ID: "user-1", ChatID: chatID, DisplayName: "Ana"},
		models.Chat{ID: chatID, Neighborhood: "kiez", Participants: pq.StringArray(userIDs)}
}

func TestGetMessagesSuccess(t *testing.T) {
	chatRepo := new(mocks.ChatRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	handler := NewMessageHandler(chatRepo, msgRepo, gateway.NewHub())
	router := setupMessageRouter(handler)

	user, chat := member("chat-1", "user-1")
	chatRepo.On("GetUser", mock.Anything, "user-1").Return(user, nil)
	chatRepo.On("GetChat", mock.Anything, "chat-1").Return(chat, nil)
	msgRepo.On("ListAfter", mock.Anything, "chat-1", "msg-5", 50).
		Return([]models.Message{{ID: "msg-6", ChatID: "chat-1", Body: "hi"}}, nil).Once()
	msgRepo.On("CountMessages", mock.Anything, "chat-1").Return(7, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/chat/messages?chatId=chat-1&lastMessageId=msg-5", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Success bool               `json:"success"`
		Data    models.MessagePage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.Success)
	require.Len(t, resp.Data.Messages, 1)
	assert.Equal(t, "msg-6", resp.Data.Messages[0].ID)
	assert.Equal(t, 7, resp.Data.Total)
	assert.Equal(t, "kiez", resp.Data.Neighborhood)
	assert.False(t, resp.Data.HasMore)

	msgRepo.AssertExpectations(t)
}

func TestGetMessagesBackwardPagination(t *testing.T) {
	chatRepo := new(mocks.ChatRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	handler := NewMessageHandler(chatRepo, msgRepo, gateway.NewHub())
	router := setupMessageRouter(handler)

	user, chat := member("chat-1", "user-1")
	chatRepo.On("GetUser", mock.Anything, "user-1").Return(user, nil)
	chatRepo.On("GetChat", mock.Anything, "chat-1").Return(chat, nil)
	msgRepo.On("ListBefore", mock.Anything, "chat-1", "msg-5", 20).
		Return([]models.Message{{ID: "msg-3"}, {ID: "msg-4"}}, nil).Once()
	msgRepo.On("CountMessages", mock.Anything, "chat-1").Return(7, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/chat/messages?chatId=chat-1&before=msg-5&limit=20", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	msgRepo.AssertExpectations(t)
}

func TestGetMessagesMissingChatID(t *testing.T) {
	handler := NewMessageHandler(new(mocks.ChatRepositoryMock), new(mocks.MessageRepositoryMock), gateway.NewHub())
	router := setupMessageRouter(handler)

	req := httptest.NewRequest(http.MethodGet, "/chat/messages", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetMessagesForbiddenForNonMember(t *testing.T) {
	chatRepo := new(mocks.ChatRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	handler := NewMessageHandler(chatRepo, msgRepo, gateway.NewHub())
	router := setupMessageRouter(handler)

	// user record points at another chat
	chatRepo.On("GetUser", mock.Anything, "user-1").Return(models.User{ID: "user-1", ChatID: "chat-other"}, nil)

	req := httptest.NewRequest(http.MethodGet, "/chat/messages?chatId=chat-1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	msgRepo.AssertNotCalled(t, "ListAfter", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestGetMessagesForbiddenWhenNotInParticipantSet(t *testing.T) {
	chatRepo := new(mocks.ChatRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	handler := NewMessageHandler(chatRepo, msgRepo, gateway.NewHub())
	router := setupMessageRouter(handler)

	user, _ := member("chat-1", "user-1")
	chatRepo.On("GetUser", mock.Anything, "user-1").Return(user, nil)
	chatRepo.On("GetChat", mock.Anything, "chat-1").
		Return(models.Chat{ID: "chat-1", Participants: pq.StringArray{"user-2"}}, nil)

	req := httptest.NewRequest(http.MethodGet, "/chat/messages?chatId=chat-1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestPostMessageSuccess(t *testing.T) {
	chatRepo := new(mocks.ChatRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	handler := NewMessageHandler(chatRepo, msgRepo, gateway.NewHub())
	router := setupMessageRouter(handler)

	user, chat := member("chat-1", "user-1")
	chatRepo.On("GetUser", mock.Anything, "user-1").Return(user, nil)
	chatRepo.On("GetChat", mock.Anything, "chat-1").Return(chat, nil)
	msgRepo.On("CreateMessage", mock.Anything, mock.MatchedBy(func(m models.Message) bool {
		return m.ChatID == "chat-1" && m.SenderID == "user-1" && m.Body == "hello" && m.Meta.ClientKey == "key-1"
	})).Return(models.Message{ID: "msg-9", ChatID: "chat-1", Body: "hello"}, nil).Once()

	body, _ := json.Marshal(map[string]any{
		"chat_id": "chat-1",
		"body":    "hello",
		"meta":    map[string]string{"client_key": "key-1"},
	})
	req := httptest.NewRequest(http.MethodPost, "/chat/messages", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp struct {
		Success bool           `json:"success"`
		Data    models.Message `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "msg-9", resp.Data.ID)

	msgRepo.AssertExpectations(t)
}

func TestPostMessageInvalidBody(t *testing.T) {
	handler := NewMessageHandler(new(mocks.ChatRepositoryMock), new(mocks.MessageRepositoryMock), gateway.NewHub())
	router := setupMessageRouter(handler)

	req := httptest.NewRequest(http.MethodPost, "/chat/messages", bytes.NewReader([]byte(`{"body":""}`)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostMessageRejectsUnknownKind(t *testing.T) {
	chatRepo := new(mocks.ChatRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	handler := NewMessageHandler(chatRepo, msgRepo, gateway.NewHub())
	router := setupMessageRouter(handler)

	body, _ := json.Marshal(map[string]any{
		"chat_id": "chat-1",
		"body":    "hello",
		"kind":    "urgent",
	})
	req := httptest.NewRequest(http.MethodPost, "/chat/messages", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	msgRepo.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}

func TestPostPanicMessageSetsPriority(t *testing.T) {
	chatRepo := new(mocks.ChatRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	handler := NewMessageHandler(chatRepo, msgRepo, gateway.NewHub())
	router := setupMessageRouter(handler)

	user, chat := member("chat-1", "user-1")
	chatRepo.On("GetUser", mock.Anything, "user-1").Return(user, nil)
	chatRepo.On("GetChat", mock.Anything, "chat-1").Return(chat, nil)
	msgRepo.On("CreateMessage", mock.Anything, mock.MatchedBy(func(m models.Message) bool {
		return m.Kind == models.KindPanic && m.Meta.Priority == "high" &&
			m.Meta.Location != nil && m.Meta.Location.Lat == 52.5
	})).Return(models.Message{ID: "msg-10", Kind: models.KindPanic}, nil).Once()

	body, _ := json.Marshal(map[string]any{
		"chat_id":  "chat-1",
		"body":     "help",
		"kind":     "panic",
		"location": map[string]float64{"lat": 52.5, "lng": 13.4},
	})
	req := httptest.NewRequest(http.MethodPost, "/chat/messages", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	msgRepo.AssertExpectations(t)
}
