// Package client implements the transport collaborators consumed by
// a conversation session: history fetch and send over the REST
// surface, push subscription over the websocket channel.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"palaver/internal/models"
	"palaver/internal/session"

	"github.com/gorilla/websocket"
)

type Client struct {
	baseURL string
	wsURL   string
	token   string
	http    *http.Client
}

func New(baseURL, token string) *Client {
	baseURL = strings.TrimSuffix(baseURL, "/")
	wsURL := strings.Replace(strings.Replace(baseURL, "https://", "wss://", 1), "http://", "ws://", 1)
	return &Client{
		baseURL: baseURL,
		wsURL:   wsURL + "/ws",
		token:   token,
		http:    &http.Client{},
	}
}

// errorFromStatus maps REST status codes back onto the domain error
// taxonomy so the session sees the same errors the server raised.
func errorFromStatus(status int, body []byte) error {
	var payload struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(body, &payload)
	detail := payload.Error
	if detail == "" {
		detail = http.StatusText(status)
	}

	switch status {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", models.ErrNotFound, detail)
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", models.ErrForbidden, detail)
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", models.ErrValidation, detail)
	default:
		return fmt.Errorf("server error (%d): %s", status, detail)
	}
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("token", c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return errorFromStatus(resp.StatusCode, data)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

func conversationPath(conv models.Conversation) string {
	return fmt.Sprintf("/conversations/%s/messages?isGroup=%t", conv.ID, conv.IsGroup())
}

// FetchHistory implements session.Fetcher.
func (c *Client) FetchHistory(ctx context.Context, conv models.Conversation) ([]models.Message, error) {
	var messages []models.Message
	if err := c.doJSON(ctx, http.MethodGet, conversationPath(conv), nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// Send implements session.Sender.
func (c *Client) Send(ctx context.Context, conv models.Conversation, p models.MessagePayload) (models.Message, error) {
	req := struct {
		Text    string `json:"text,omitempty"`
		Image   string `json:"image,omitempty"`
		IsGroup bool   `json:"isGroup"`
	}{Text: p.Text, Image: p.Image, IsGroup: conv.IsGroup()}

	var msg models.Message
	if err := c.doJSON(ctx, http.MethodPost, conversationPath(conv), req, &msg); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// wsSubscription owns one websocket and its read loop.
type wsSubscription struct {
	conn *websocket.Conn
	once sync.Once
}

func (s *wsSubscription) Release() {
	s.once.Do(func() {
		_ = s.conn.Close()
	})
}

// Subscribe implements session.Subscriber: it opens the push channel
// and delivers every event's message to fn. Conversation filtering
// and deduplication stay with the session; the read loop ends when
// the subscription is released or the server closes the socket.
func (c *Client) Subscribe(conv models.Conversation, fn func(models.Message)) (session.Subscription, error) {
	header := http.Header{}
	header.Set("token", c.token)

	conn, resp, err := websocket.DefaultDialer.Dial(c.wsURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed (%d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}

	sub := &wsSubscription{conn: conn}
	go func() {
		for {
			var ev models.Event
			if err := conn.ReadJSON(&ev); err != nil {
				slog.Debug("push channel closed", "error", err)
				return
			}
			fn(ev.Message)
		}
	}()

	return sub, nil
}
