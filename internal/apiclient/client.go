// Package apiclient is the HTTP pull/send client for the chat REST
// API. It is the transport the sync scheduler falls back to when the
// push channel is down.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"neighborhood-chat/internal/models"
)

// Client talks to the chat gateway's REST surface.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New builds a Client. A nil httpClient gets a 15s-timeout default.
func New(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{baseURL: baseURL, token: token, http: httpClient}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

// FetchMessages returns messages strictly newer than lastMessageID.
// An empty cursor returns the newest page.
func (c *Client) FetchMessages(ctx context.Context, chatID, lastMessageID string, limit int) (models.MessagePage, error) {
	query := url.Values{"chatId": {chatID}, "limit": {strconv.Itoa(limit)}}
	if lastMessageID != "" {
		query.Set("lastMessageId", lastMessageID)
	}

	var page models.MessagePage
	err := c.get(ctx, "/chat/messages", query, &page)
	return page, err
}

// FetchBefore returns messages older than beforeID for backward
// pagination.
func (c *Client) FetchBefore(ctx context.Context, chatID, beforeID string, limit int) (models.MessagePage, error) {
	query := url.Values{
		"chatId": {chatID},
		"before": {beforeID},
		"limit":  {strconv.Itoa(limit)},
	}

	var page models.MessagePage
	err := c.get(ctx, "/chat/messages", query, &page)
	return page, err
}

// SendRequest is the body of a message send.
type SendRequest struct {
	ChatID   string             `json:"chat_id"`
	Body     string             `json:"body"`
	Kind     models.MessageKind `json:"kind"`
	Meta     models.MessageMeta `json:"meta"`
	Location *models.GeoPoint   `json:"location,omitempty"`
}

// SendMessage posts a message and returns the persisted echo.
func (c *Client) SendMessage(ctx context.Context, req SendRequest) (models.Message, error) {
	var msg models.Message
	err := c.post(ctx, "/chat/messages", req, &msg)
	return msg, err
}

type typingSnapshot struct {
	Typing []models.TypingIndicator `json:"typing"`
}

// FetchTyping returns the live typing indicators for a chat.
func (c *Client) FetchTyping(ctx context.Context, chatID string) ([]models.TypingIndicator, error) {
	var snap typingSnapshot
	err := c.get(ctx, "/chat/typing", url.Values{"chatId": {chatID}}, &snap)
	return snap.Typing, err
}

// SetTyping records or clears the caller's typing state.
func (c *Client) SetTyping(ctx context.Context, chatID string, typing bool) error {
	body := map[string]any{"chat_id": chatID, "typing": typing}
	return c.post(ctx, "/chat/typing", body, nil)
}

type onlineSnapshot struct {
	Online []models.OnlinePresence `json:"online"`
}

// FetchOnline returns the users currently online in a chat.
func (c *Client) FetchOnline(ctx context.Context, chatID string) ([]models.OnlinePresence, error) {
	var snap onlineSnapshot
	err := c.get(ctx, "/chat/online-status", url.Values{"chatId": {chatID}}, &snap)
	return snap.Online, err
}

// Heartbeat refreshes the caller's online marker.
func (c *Client) Heartbeat(ctx context.Context, chatID string) error {
	return c.post(ctx, "/chat/online-status", map[string]any{"chat_id": chatID}, nil)
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("decode response (%d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode >= 400 || !env.Success {
		if env.Error != "" {
			return fmt.Errorf("api error (%d): %s", resp.StatusCode, env.Error)
		}
		return fmt.Errorf("api error (%d)", resp.StatusCode)
	}
	if out != nil && len(env.Data) > 0 {
		return json.Unmarshal(env.Data, out)
	}
	return nil
}
