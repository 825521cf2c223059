package channel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"neighborhood-chat/internal/models"
)

// ConnState is the push channel connection state.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateReconnecting ConnState = "reconnecting"
)

const (
	reconnectBaseDelay   = time.Second
	reconnectFactor      = 2
	maxReconnectAttempts = 5
	defaultAckTimeout    = 10 * time.Second
)

var (
	// ErrSendTimeout is returned when the server never acks a send.
	ErrSendTimeout = errors.New("send acknowledgment timed out")
	// ErrNotConnected is returned for sends on a down push channel.
	ErrNotConnected = errors.New("push channel not connected")
)

// PushTransport is the push side of the dual transport. Implemented
// by PushClient; the channel only depends on this interface.
type PushTransport interface {
	Connect(ctx context.Context) error
	Close() error
	State() ConnState
	SendWithAck(ctx context.Context, event models.ChatEvent, timeout time.Duration) (models.Message, error)
	SendEvent(event models.ChatEvent) error
}

// PushClient is the websocket client of the realtime gateway, with
// automatic reconnect and ack-correlated sends.
type PushClient struct {
	baseURL  string
	token    string
	chatID   string
	userID   string
	userName string

	onEvent func(models.ChatEvent)
	onState func(ConnState)

	mu               sync.Mutex
	conn             *websocket.Conn
	state            ConnState
	intentionalClose bool
	pending          map[string]chan models.ChatEvent

	// writeMu serializes all writes on the connection; gorilla
	// supports at most one concurrent writer.
	writeMu sync.Mutex
}

func (p *PushClient) writeJSON(conn *websocket.Conn, v any) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return conn.WriteJSON(v)
}

// NewPushClient builds a PushClient for one chat. onEvent receives
// every inbound event not consumed by an ack wait; onState fires on
// every connection state transition.
func NewPushClient(baseURL, token, chatID, userID, userName string, onEvent func(models.ChatEvent), onState func(ConnState)) *PushClient {
	return &PushClient{
		baseURL:  baseURL,
		token:    token,
		chatID:   chatID,
		userID:   userID,
		userName: userName,
		onEvent:  onEvent,
		onState:  onState,
		state:    StateDisconnected,
		pending:  make(map[string]chan models.ChatEvent),
	}
}

// State returns the current connection state.
func (p *PushClient) State() ConnState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *PushClient) setState(state ConnState) {
	p.mu.Lock()
	changed := p.state != state
	p.state = state
	p.mu.Unlock()
	if changed && p.onState != nil {
		p.onState(state)
	}
}

func (p *PushClient) wsURL() string {
	url := strings.Replace(p.baseURL, "https://", "wss://", 1)
	url = strings.Replace(url, "http://", "ws://", 1)
	return url + "/ws/chat?token=" + p.token
}

// Connect dials the gateway and joins the chat room. On failure or a
// later drop it retries with exponential backoff, settling into
// Disconnected after the attempt budget is spent.
func (p *PushClient) Connect(ctx context.Context) error {
	p.mu.Lock()
	if p.state == StateConnected || p.state == StateConnecting {
		p.mu.Unlock()
		return nil
	}
	p.intentionalClose = false
	p.mu.Unlock()
	p.setState(StateConnecting)

	if err := p.dial(ctx); err != nil {
		go p.reconnect(ctx)
		return err
	}
	return nil
}

func (p *PushClient) dial(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, p.wsURL(), nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	join := models.ChatEvent{Type: models.EventJoin, ChatID: p.chatID, UserID: p.userID, UserName: p.userName}
	if err := p.writeJSON(conn, join); err != nil {
		conn.Close()
		return fmt.Errorf("join chat: %w", err)
	}

	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()
	p.setState(StateConnected)

	go p.readLoop(ctx, conn)
	return nil
}

func (p *PushClient) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var event models.ChatEvent
		if err := conn.ReadJSON(&event); err != nil {
			p.mu.Lock()
			intentional := p.intentionalClose
			p.mu.Unlock()
			conn.Close()
			if intentional {
				p.setState(StateDisconnected)
				return
			}
			log.Debug().Err(err).Msg("push channel dropped")
			p.reconnect(ctx)
			return
		}

		if event.RequestID != "" && p.routeAck(event) {
			continue
		}
		if p.onEvent != nil {
			p.onEvent(event)
		}
	}
}

// routeAck delivers ack/error frames to a waiting send. Reports
// whether the event was consumed.
func (p *PushClient) routeAck(event models.ChatEvent) bool {
	if event.Type != models.EventAck && event.Type != models.EventError {
		return false
	}
	p.mu.Lock()
	ch, ok := p.pending[event.RequestID]
	if ok {
		delete(p.pending, event.RequestID)
	}
	p.mu.Unlock()
	if ok {
		ch <- event
	}
	return ok
}

func (p *PushClient) reconnect(ctx context.Context) {
	p.setState(StateReconnecting)
	delay := reconnectBaseDelay
	for attempt := 1; attempt <= maxReconnectAttempts; attempt++ {
		select {
		case <-ctx.Done():
			p.setState(StateDisconnected)
			return
		case <-time.After(delay):
		}

		p.mu.Lock()
		if p.intentionalClose {
			p.mu.Unlock()
			p.setState(StateDisconnected)
			return
		}
		p.mu.Unlock()

		if err := p.dial(ctx); err == nil {
			return
		}
		log.Debug().Int("attempt", attempt).Msg("push channel reconnect failed")
		delay *= reconnectFactor
	}
	p.setState(StateDisconnected)
}

// SendWithAck sends an event and waits for the server's ack carrying
// the persisted message, bounded by timeout so callers cannot hang.
func (p *PushClient) SendWithAck(ctx context.Context, event models.ChatEvent, timeout time.Duration) (models.Message, error) {
	if timeout <= 0 {
		timeout = defaultAckTimeout
	}

	p.mu.Lock()
	if p.state != StateConnected || p.conn == nil {
		p.mu.Unlock()
		return models.Message{}, ErrNotConnected
	}
	event.RequestID = uuid.NewString()
	ackCh := make(chan models.ChatEvent, 1)
	p.pending[event.RequestID] = ackCh
	conn := p.conn
	p.mu.Unlock()

	if err := p.writeJSON(conn, event); err != nil {
		p.mu.Lock()
		delete(p.pending, event.RequestID)
		p.mu.Unlock()
		return models.Message{}, err
	}

	select {
	case <-ctx.Done():
		p.dropPending(event.RequestID)
		return models.Message{}, ctx.Err()
	case <-time.After(timeout):
		p.dropPending(event.RequestID)
		return models.Message{}, ErrSendTimeout
	case reply := <-ackCh:
		if reply.Type == models.EventError {
			return models.Message{}, errors.New(reply.Error)
		}
		if reply.Message == nil {
			return models.Message{}, errors.New("ack without message")
		}
		return *reply.Message, nil
	}
}

// SendEvent fires a non-acked event (typing, leave).
func (p *PushClient) SendEvent(event models.ChatEvent) error {
	p.mu.Lock()
	conn := p.conn
	connected := p.state == StateConnected
	p.mu.Unlock()
	if !connected || conn == nil {
		return ErrNotConnected
	}
	return p.writeJSON(conn, event)
}

func (p *PushClient) dropPending(requestID string) {
	p.mu.Lock()
	delete(p.pending, requestID)
	p.mu.Unlock()
}

// Close leaves the room and tears the connection down. Idempotent.
func (p *PushClient) Close() error {
	p.mu.Lock()
	if p.intentionalClose {
		p.mu.Unlock()
		return nil
	}
	p.intentionalClose = true
	conn := p.conn
	p.conn = nil
	p.mu.Unlock()

	if conn != nil {
		leave := models.ChatEvent{Type: models.EventLeave, ChatID: p.chatID, UserID: p.userID}
		p.writeMu.Lock()
		_ = conn.WriteJSON(leave)
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		p.writeMu.Unlock()
		conn.Close()
	}
	p.setState(StateDisconnected)
	return nil
}
