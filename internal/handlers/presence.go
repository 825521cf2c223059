package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"neighborhood-chat/internal/middleware"
	"neighborhood-chat/internal/models"
	"neighborhood-chat/internal/presence"
	"neighborhood-chat/internal/repositories"
)

// PresenceHandler serves the typing and online-status snapshots used
// by polling clients.
type PresenceHandler struct {
	chatRepo repositories.ChatRepository
	store    presence.Store
}

// NewPresenceHandler builds a PresenceHandler.
func NewPresenceHandler(chatRepo repositories.ChatRepository, store presence.Store) *PresenceHandler {
	return &PresenceHandler{chatRepo: chatRepo, store: store}
}

// GetTyping returns the live typing indicators for a chat.
func (h *PresenceHandler) GetTyping(c *gin.Context) {
	session := middleware.SessionFromContext(c)
	chatID := c.Query("chatId")
	if !h.authorize(c, chatID, session.UserID) {
		return
	}

	indicators, err := h.store.Typing(c.Request.Context(), chatID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to load typing state"})
		return
	}
	if indicators == nil {
		indicators = []models.TypingIndicator{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"typing": indicators, "chat_id": chatID}})
}

// SetTyping records or clears the caller's typing state.
func (h *PresenceHandler) SetTyping(c *gin.Context) {
	session := middleware.SessionFromContext(c)

	var req struct {
		ChatID string `json:"chat_id" binding:"required"`
		Typing bool   `json:"typing"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	if !h.authorize(c, req.ChatID, session.UserID) {
		return
	}

	var err error
	if req.Typing {
		err = h.store.SetTyping(c.Request.Context(), models.TypingIndicator{
			ChatID:      req.ChatID,
			UserID:      session.UserID,
			DisplayName: session.DisplayName,
			ExpiresAt:   time.Now().UTC().Add(presence.TypingTTL),
		})
	} else {
		err = h.store.ClearTyping(c.Request.Context(), req.ChatID, session.UserID)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to store typing state"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// GetOnline returns the users currently online in a chat.
func (h *PresenceHandler) GetOnline(c *gin.Context) {
	session := middleware.SessionFromContext(c)
	chatID := c.Query("chatId")
	if !h.authorize(c, chatID, session.UserID) {
		return
	}

	online, err := h.store.Online(c.Request.Context(), chatID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to load online status"})
		return
	}
	if online == nil {
		online = []models.OnlinePresence{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"online": online, "chat_id": chatID}})
}

// Heartbeat refreshes the caller's online marker.
func (h *PresenceHandler) Heartbeat(c *gin.Context) {
	session := middleware.SessionFromContext(c)

	var req struct {
		ChatID string `json:"chat_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	if !h.authorize(c, req.ChatID, session.UserID) {
		return
	}

	if err := h.store.Heartbeat(c.Request.Context(), models.OnlinePresence{
		ChatID:   req.ChatID,
		UserID:   session.UserID,
		LastSeen: time.Now().UTC(),
	}); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to store heartbeat"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *PresenceHandler) authorize(c *gin.Context, chatID, userID string) bool {
	if chatID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "chatId is required"})
		return false
	}
	if err := repositories.VerifyMembership(c.Request.Context(), h.chatRepo, chatID, userID); err != nil {
		switch {
		case errors.Is(err, repositories.ErrNotParticipant),
			errors.Is(err, repositories.ErrUserNotFound):
			c.JSON(http.StatusForbidden, gin.H{"success": false, "error": "not a chat member"})
		case errors.Is(err, repositories.ErrChatNotFound):
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "chat not found"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to verify membership"})
		}
		return false
	}
	return true
}
