package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"

	"neighborhood-chat/internal/middleware"
	"neighborhood-chat/internal/models"
	"neighborhood-chat/internal/observability"
	"neighborhood-chat/internal/presence"
	"neighborhood-chat/internal/rabbitmq"
	"neighborhood-chat/internal/repositories"
	"neighborhood-chat/internal/telemetry"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler owns the websocket side of the engine: it authorizes room
// membership, persists messages, and fans out events to room members.
type Handler struct {
	hub         *Hub
	chatRepo    repositories.ChatRepository
	messageRepo repositories.MessageRepository
	presence    presence.Store
	publisher   rabbitmq.Publisher
	audit       *telemetry.AuditEmitter
	jwtSecret   string
}

// NewHandler constructs the gateway handler.
func NewHandler(hub *Hub, chatRepo repositories.ChatRepository, messageRepo repositories.MessageRepository, pres presence.Store, publisher rabbitmq.Publisher, audit *telemetry.AuditEmitter, jwtSecret string) *Handler {
	return &Handler{
		hub:         hub,
		chatRepo:    chatRepo,
		messageRepo: messageRepo,
		presence:    pres,
		publisher:   publisher,
		audit:       audit,
		jwtSecret:   jwtSecret,
	}
}

// Handle upgrades the connection and runs the event loop until the
// peer disconnects.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("neighborhood-chat/gateway").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := c.GetHeader("Authorization")
	if token == "" {
		token = "Bearer " + c.Query("token")
	}
	session, err := h.validateToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	info := ConnInfo{
		ConnID:      uuid.NewString(),
		UserID:      session.UserID,
		UserName:    session.DisplayName,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		ConnectedAt: time.Now(),
	}

	observability.IncWSActive()
	observability.IncWSEvent("ws_connect")
	h.publishLifecycle(context.Background(), "ws_connect", info, "")

	go h.readLoop(conn, session, info)
}

func (h *Handler) readLoop(conn *websocket.Conn, session middleware.Session, info ConnInfo) {
	var joinedChat string
	defer func() {
		if joinedChat != "" {
			h.hub.RemoveClient(joinedChat, conn)
			h.hub.Broadcast(joinedChat, models.ChatEvent{
				Type:     models.EventUserLeft,
				ChatID:   joinedChat,
				UserID:   session.UserID,
				UserName: session.DisplayName,
			}, nil)
		}
		observability.DecWSActive()
		observability.IncWSEvent("ws_disconnect")
		h.publishLifecycle(context.Background(), "ws_disconnect", info, "")
		conn.Close()
	}()

	for {
		var event models.ChatEvent
		if err := conn.ReadJSON(&event); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent("ws_error")
				h.publishLifecycle(context.Background(), "ws_error", info, err.Error())
			}
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		switch event.Type {
		case models.EventJoin:
			if h.handleJoin(ctx, conn, session, info, event) {
				joinedChat = event.ChatID
			}
		case models.EventLeave:
			if joinedChat != "" && joinedChat == event.ChatID {
				h.hub.RemoveClient(joinedChat, conn)
				h.hub.Broadcast(joinedChat, models.ChatEvent{
					Type:     models.EventUserLeft,
					ChatID:   joinedChat,
					UserID:   session.UserID,
					UserName: session.DisplayName,
				}, nil)
				joinedChat = ""
			}
		case models.EventSend, models.EventPanicSend:
			h.handleSend(ctx, conn, session, event)
		case models.EventTyping:
			h.handleTyping(ctx, conn, session, event, true)
		case models.EventStopTyping:
			h.handleTyping(ctx, conn, session, event, false)
		default:
			h.hub.SendTo(conn, models.ChatEvent{
				Type:      models.EventError,
				RequestID: event.RequestID,
				Error:     "unknown event type",
			})
		}
		cancel()
	}
}

// handleJoin authorizes and registers the connection in the room.
// Reports whether the join succeeded.
func (h *Handler) handleJoin(ctx context.Context, conn *websocket.Conn, session middleware.Session, info ConnInfo, event models.ChatEvent) bool {
	if event.UserID != "" && event.UserID != session.UserID {
		h.reject(ctx, conn, event, "join", "user id does not match session")
		return false
	}

	if err := repositories.VerifyMembership(ctx, h.chatRepo, event.ChatID, session.UserID); err != nil {
		h.reject(ctx, conn, event, "join", rejectionReason(err))
		return false
	}

	h.hub.AddClient(event.ChatID, conn, info)
	observability.IncWSEvent("chat_join")
	h.hub.Broadcast(event.ChatID, models.ChatEvent{
		Type:     models.EventUserJoined,
		ChatID:   event.ChatID,
		UserID:   session.UserID,
		UserName: session.DisplayName,
	}, conn)
	return true
}

// handleSend authorizes, persists, and fans out a message. The fan-out
// includes the sender; the client reconciles the echo through its
// dedup gate. The ack frame carries the persisted record back as the
// authoritative copy.
func (h *Handler) handleSend(ctx context.Context, conn *websocket.Conn, session middleware.Session, event models.ChatEvent) {
	operation := "send"
	if event.Type == models.EventPanicSend {
		operation = "panic_send"
	}

	if event.Message == nil || event.Message.Body == "" {
		h.hub.SendTo(conn, models.ChatEvent{
			Type:      models.EventError,
			RequestID: event.RequestID,
			Error:     "empty message",
		})
		return
	}

	if err := repositories.VerifyMembership(ctx, h.chatRepo, event.ChatID, session.UserID); err != nil {
		h.reject(ctx, conn, event, operation, rejectionReason(err))
		return
	}

	msg := models.Message{
		ChatID:     event.ChatID,
		SenderID:   session.UserID,
		SenderName: session.DisplayName,
		Body:       event.Message.Body,
		Kind:       models.KindNormal,
		Meta:       models.MessageMeta{ClientKey: event.Message.Meta.ClientKey},
	}
	broadcastType := models.EventMessageNew
	if event.Type == models.EventPanicSend {
		msg.Kind = models.KindPanic
		msg.Meta.Priority = "high"
		msg.Meta.Location = event.Location
		broadcastType = models.EventPanicAlert
	}

	persisted, err := h.messageRepo.CreateMessage(ctx, msg)
	if err != nil {
		log.Error().Err(err).Str("chat_id", event.ChatID).Msg("persist message failed")
		h.hub.SendTo(conn, models.ChatEvent{
			Type:      models.EventError,
			RequestID: event.RequestID,
			Error:     "failed to store message",
		})
		return
	}

	observability.IncMessagePersisted(string(persisted.Kind), "ws")

	// Ack first so the sender gets the authoritative record even if
	// the broadcast write fails.
	h.hub.SendTo(conn, models.ChatEvent{
		Type:      models.EventAck,
		ChatID:    persisted.ChatID,
		RequestID: event.RequestID,
		Message:   &persisted,
	})
	h.hub.Broadcast(persisted.ChatID, models.ChatEvent{
		Type:    broadcastType,
		ChatID:  persisted.ChatID,
		Message: &persisted,
	}, nil)
}

func (h *Handler) handleTyping(ctx context.Context, conn *websocket.Conn, session middleware.Session, event models.ChatEvent, started bool) {
	if err := repositories.VerifyMembership(ctx, h.chatRepo, event.ChatID, session.UserID); err != nil {
		h.reject(ctx, conn, event, "typing", rejectionReason(err))
		return
	}

	eventType := models.EventStopTyping
	if started {
		eventType = models.EventTyping
		_ = h.presence.SetTyping(ctx, models.TypingIndicator{
			ChatID:      event.ChatID,
			UserID:      session.UserID,
			DisplayName: session.DisplayName,
			ExpiresAt:   time.Now().UTC().Add(presence.TypingTTL),
		})
	} else {
		_ = h.presence.ClearTyping(ctx, event.ChatID, session.UserID)
	}

	h.hub.Broadcast(event.ChatID, models.ChatEvent{
		Type:     eventType,
		ChatID:   event.ChatID,
		UserID:   session.UserID,
		UserName: session.DisplayName,
	}, conn)
}

// reject emits message:error to the requester only. No room state is
// mutated on a failed authorization, and the attempt is logged as a
// potential integrity issue.
func (h *Handler) reject(ctx context.Context, conn *websocket.Conn, event models.ChatEvent, operation, reason string) {
	observability.IncMembershipRejection(operation)
	log.Warn().
		Str("operation", operation).
		Str("chat_id", event.ChatID).
		Str("reason", reason).
		Msg("membership check rejected")
	h.audit.Emit(ctx, "warning", "rejected "+operation+": "+reason, event.UserID, event.ChatID)

	h.hub.SendTo(conn, models.ChatEvent{
		Type:      models.EventError,
		ChatID:    event.ChatID,
		RequestID: event.RequestID,
		Error:     reason,
	})
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, repositories.ErrNotParticipant):
		return "not a chat participant"
	case errors.Is(err, repositories.ErrChatNotFound):
		return "chat not found"
	case errors.Is(err, repositories.ErrUserNotFound):
		return "user not found"
	default:
		return "membership check failed"
	}
}

func (h *Handler) validateToken(header string) (middleware.Session, error) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) {
		return middleware.Session{}, errors.New("invalid token")
	}
	return middleware.ParseToken(header[len(prefix):], h.jwtSecret)
}

func (h *Handler) publishLifecycle(ctx context.Context, name string, info ConnInfo, reason string) {
	_ = h.publisher.Publish(ctx, "ws_events.chats", rabbitmq.EventEnvelope{
		EventType: "ws_events",
		EventName: name,
		Payload: map[string]any{
			"ws": map[string]any{
				"event":       name,
				"conn_id":     info.ConnID,
				"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
				"reason":      reason,
			},
			"identity": map[string]any{
				"user_id":   info.UserID,
				"device_id": info.DeviceID,
				"ip":        info.IP,
			},
		},
	})
}
