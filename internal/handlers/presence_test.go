package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"neighborhood-chat/internal/middleware"
	"neighborhood-chat/internal/mocks"
	"neighborhood-chat/internal/models"
)

func setupPresenceRouter(handler *PresenceHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("session", middleware.Session{UserID: "user-1", DisplayName: "Ana"})
		c.Next()
	})
	r.GET("/chat/typing", handler.GetTyping)
	r.POST("/chat/typing", handler.SetTyping)
	r.GET("/chat/online", handler.GetOnline)
	r.POST("/chat/heartbeat", handler.Heartbeat)
	return r
}

func TestGetTypingSuccess(t *testing.T) {
	chatRepo := new(mocks.ChatRepositoryMock)
	store := new(mocks.PresenceStoreMock)
	handler := NewPresenceHandler(chatRepo, store)
	router := setupPresenceRouter(handler)

	user, chat := member("chat-1", "user-1")
	chatRepo.On("GetUser", mock.Anything, "user-1").Return(user, nil)
	chatRepo.On("GetChat", mock.Anything, "chat-1").Return(chat, nil)
	store.On("Typing", mock.Anything, "chat-1").Return([]models.TypingIndicator{
		{ChatID: "chat-1", UserID: "user-2", DisplayName: "Ben", ExpiresAt: time.Now().Add(5 * time.Second)},
	}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/chat/typing?chatId=chat-1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			Typing []models.TypingIndicator `json:"typing"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Data.Typing, 1)
	assert.Equal(t, "Ben", resp.Data.Typing[0].DisplayName)

	store.AssertExpectations(t)
}

func TestSetTypingRecordsIndicator(t *testing.T) {
	chatRepo := new(mocks.ChatRepositoryMock)
	store := new(mocks.PresenceStoreMock)
	handler := NewPresenceHandler(chatRepo, store)
	router := setupPresenceRouter(handler)

	user, chat := member("chat-1", "user-1")
	chatRepo.On("GetUser", mock.Anything, "user-1").Return(user, nil)
	chatRepo.On("GetChat", mock.Anything, "chat-1").Return(chat, nil)
	store.On("SetTyping", mock.Anything, mock.MatchedBy(func(ind models.TypingIndicator) bool {
		return ind.ChatID == "chat-1" && ind.UserID == "user-1" && !ind.ExpiresAt.IsZero()
	})).Return(nil).Once()

	body, _ := json.Marshal(map[string]any{"chat_id": "chat-1", "typing": true})
	req := httptest.NewRequest(http.MethodPost, "/chat/typing", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	store.AssertExpectations(t)
}

func TestSetTypingFalseClears(t *testing.T) {
	chatRepo := new(mocks.ChatRepositoryMock)
	store := new(mocks.PresenceStoreMock)
	handler := NewPresenceHandler(chatRepo, store)
	router := setupPresenceRouter(handler)

	user, chat := member("chat-1", "user-1")
	chatRepo.On("GetUser", mock.Anything, "user-1").Return(user, nil)
	chatRepo.On("GetChat", mock.Anything, "chat-1").Return(chat, nil)
	store.On("ClearTyping", mock.Anything, "chat-1", "user-1").Return(nil).Once()

	body, _ := json.Marshal(map[string]any{"chat_id": "chat-1", "typing": false})
	req := httptest.NewRequest(http.MethodPost, "/chat/typing", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	store.AssertExpectations(t)
}

func TestHeartbeatSuccess(t *testing.T) {
	chatRepo := new(mocks.ChatRepositoryMock)
	store := new(mocks.PresenceStoreMock)
	handler := NewPresenceHandler(chatRepo, store)
	router := setupPresenceRouter(handler)

	user, chat := member("chat-1", "user-1")
	chatRepo.On("GetUser", mock.Anything, "user-1").Return(user, nil)
	chatRepo.On("GetChat", mock.Anything, "chat-1").Return(chat, nil)
	store.On("Heartbeat", mock.Anything, mock.MatchedBy(func(p models.OnlinePresence) bool {
		return p.ChatID == "chat-1" && p.UserID == "user-1"
	})).Return(nil).Once()

	body, _ := json.Marshal(map[string]any{"chat_id": "chat-1"})
	req := httptest.NewRequest(http.MethodPost, "/chat/heartbeat", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	store.AssertExpectations(t)
}

func TestPresenceForbiddenForNonMember(t *testing.T) {
	chatRepo := new(mocks.ChatRepositoryMock)
	store := new(mocks.PresenceStoreMock)
	handler := NewPresenceHandler(chatRepo, store)
	router := setupPresenceRouter(handler)

	chatRepo.On("GetUser", mock.Anything, "user-1").Return(models.User{ID: "user-1", ChatID: "chat-other"}, nil)

	req := httptest.NewRequest(http.MethodGet, "/chat/online?chatId=chat-1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	store.AssertNotCalled(t, "Online", mock.Anything, mock.Anything)
}
