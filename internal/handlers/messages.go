package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"neighborhood-chat/internal/gateway"
	"neighborhood-chat/internal/middleware"
	"neighborhood-chat/internal/models"
	"neighborhood-chat/internal/observability"
	"neighborhood-chat/internal/repositories"
)

const defaultPageSize = 50
const maxPageSize = 200

// MessageHandler serves the HTTP pull side of the engine: cursor
// reads for the polling clients and the send fallback used when the
// push channel is down.
type MessageHandler struct {
	chatRepo    repositories.ChatRepository
	messageRepo repositories.MessageRepository
	hub         *gateway.Hub
}

// NewMessageHandler builds a MessageHandler.
func NewMessageHandler(chatRepo repositories.ChatRepository, messageRepo repositories.MessageRepository, hub *gateway.Hub) *MessageHandler {
	return &MessageHandler{chatRepo: chatRepo, messageRepo: messageRepo, hub: hub}
}

// GetMessages returns a page of messages for the caller's chat.
// lastMessageId requests messages strictly newer than the cursor;
// before requests older ones for backward pagination. Without either
// the newest page is returned.
func (h *MessageHandler) GetMessages(c *gin.Context) {
	session := middleware.SessionFromContext(c)
	chatID := c.Query("chatId")
	if chatID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "chatId is required"})
		return
	}

	chat, err := h.authorize(c, chatID, session.UserID)
	if err != nil {
		return
	}

	limit := defaultPageSize
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	var msgs []models.Message
	if before := c.Query("before"); before != "" {
		msgs, err = h.messageRepo.ListBefore(c.Request.Context(), chatID, before, limit)
	} else {
		msgs, err = h.messageRepo.ListAfter(c.Request.Context(), chatID, c.Query("lastMessageId"), limit)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to load messages"})
		return
	}

	total, err := h.messageRepo.CountMessages(c.Request.Context(), chatID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to count messages"})
		return
	}

	if msgs == nil {
		msgs = []models.Message{}
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": models.MessagePage{
			Messages:     msgs,
			HasMore:      len(msgs) == limit,
			Total:        total,
			ChatID:       chatID,
			Neighborhood: chat.Neighborhood,
		},
	})
}

// PostMessage persists a message sent over HTTP and fans it out to
// any connected websocket clients, so push and pull consumers see the
// same stream.
func (h *MessageHandler) PostMessage(c *gin.Context) {
	session := middleware.SessionFromContext(c)

	var req struct {
		ChatID   string             `json:"chat_id" binding:"required"`
		Body     string             `json:"body" binding:"required"`
		Kind     models.MessageKind `json:"kind"`
		Meta     models.MessageMeta `json:"meta"`
		Location *models.GeoPoint   `json:"location"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	switch req.Kind {
	case "", models.KindNormal, models.KindPanic:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "unknown message kind"})
		return
	}

	if _, err := h.authorize(c, req.ChatID, session.UserID); err != nil {
		return
	}

	msg := models.Message{
		ChatID:     req.ChatID,
		SenderID:   session.UserID,
		SenderName: session.DisplayName,
		Body:       req.Body,
		Kind:       req.Kind,
		Meta:       models.MessageMeta{ClientKey: req.Meta.ClientKey},
	}
	broadcastType := models.EventMessageNew
	if req.Kind == models.KindPanic {
		msg.Meta.Priority = "high"
		msg.Meta.Location = req.Location
		broadcastType = models.EventPanicAlert
	}

	persisted, err := h.messageRepo.CreateMessage(c.Request.Context(), msg)
	if err != nil {
		log.Error().Err(err).Str("chat_id", req.ChatID).Msg("persist message failed")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to store message"})
		return
	}

	observability.IncMessagePersisted(string(persisted.Kind), "http")
	if h.hub != nil {
		h.hub.Broadcast(persisted.ChatID, models.ChatEvent{
			Type:    broadcastType,
			ChatID:  persisted.ChatID,
			Message: &persisted,
		}, nil)
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "data": persisted})
}

// authorize runs the double membership check and writes the error
// response itself on failure.
func (h *MessageHandler) authorize(c *gin.Context, chatID, userID string) (models.Chat, error) {
	err := repositories.VerifyMembership(c.Request.Context(), h.chatRepo, chatID, userID)
	if err != nil {
		observability.IncMembershipRejection("http")
		switch {
		case errors.Is(err, repositories.ErrNotParticipant),
			errors.Is(err, repositories.ErrUserNotFound):
			c.JSON(http.StatusForbidden, gin.H{"success": false, "error": "not a chat member"})
		case errors.Is(err, repositories.ErrChatNotFound):
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "chat not found"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to verify membership"})
		}
		return models.Chat{}, err
	}

	chat, err := h.chatRepo.GetChat(c.Request.Context(), chatID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to load chat"})
		return models.Chat{}, err
	}
	return chat, nil
}
