// Package ctl is the client side of the daemon's control API, used by
// chatctl and anything else that talks to a running daemon.
package ctl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client talks HTTP to the daemon's Unix domain socket.
type Client struct {
	http *http.Client
}

// New returns a client bound to the daemon at socketPath.
func New(socketPath string) *Client {
	return &Client{
		http: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
			Timeout: 30 * time.Second,
		},
	}
}

// Status is the daemon's session status report.
type Status struct {
	Session      string `json:"session"`
	ServerURL    string `json:"server_url"`
	Connected    bool   `json:"connected"`
	Reconnecting bool   `json:"reconnecting"`
	Error        string `json:"error,omitempty"`
	Pending      int    `json:"pending"`
	ChatCount    int    `json:"chat_count"`
	MessageCount int    `json:"message_count"`
	UptimeMS     int64  `json:"uptime_ms"`
}

// Status fetches the session status.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var st Status
	if err := c.do(ctx, http.MethodGet, "/v1/status", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Login authenticates against the chat server through the daemon.
func (c *Client) Login(ctx context.Context, email, password string) error {
	return c.do(ctx, http.MethodPost, "/v1/login",
		map[string]string{"email": email, "password": password}, nil)
}

// Logout clears the stored credentials.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/v1/logout", nil, nil)
}

// Connect asks the daemon to dial the chat server.
func (c *Client) Connect(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/v1/connect", nil, nil)
}

// Reconnect forces a fresh connection attempt, resetting the backoff.
func (c *Client) Reconnect(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/v1/reconnect", nil, nil)
}

// Chat is one entry of the daemon's chat list.
type Chat struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	PartnerName        string `json:"partner_name"`
	UnreadCount        int    `json:"unread_count"`
	LastMessageAt      int64  `json:"last_message_at"`
	LastMessagePreview string `json:"last_message_preview"`
}

// Chats lists the locally synced chats.
func (c *Client) Chats(ctx context.Context) ([]Chat, error) {
	var res struct {
		Chats []Chat `json:"chats"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/chats", nil, &res); err != nil {
		return nil, err
	}
	return res.Chats, nil
}

// Message is one locally stored message.
type Message struct {
	ID          string `json:"id"`
	ChatID      string `json:"chat_id"`
	SenderID    string `json:"sender_id"`
	SenderName  string `json:"sender_name"`
	Body        string `json:"body"`
	MessageType string `json:"message_type"`
	FromMe      bool   `json:"from_me"`
	Status      string `json:"status"`
	Timestamp   int64  `json:"timestamp"`
	Snippet     string `json:"snippet,omitempty"`
}

// Messages pages through a chat's history, newest first.
func (c *Client) Messages(ctx context.Context, chatID string, before int64, limit int) ([]Message, error) {
	q := url.Values{}
	if before > 0 {
		q.Set("before", strconv.FormatInt(before, 10))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/v1/chats/" + url.PathEscape(chatID) + "/messages"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var res struct {
		Messages []Message `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &res); err != nil {
		return nil, err
	}
	return res.Messages, nil
}

// Search runs a full-text search over stored messages.
func (c *Client) Search(ctx context.Context, query, chatID string) ([]Message, error) {
	q := url.Values{"q": []string{query}}
	if chatID != "" {
		q.Set("chat", chatID)
	}
	var res struct {
		Results []Message `json:"results"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/search?"+q.Encode(), nil, &res); err != nil {
		return nil, err
	}
	return res.Results, nil
}

// SendResult reports where a sent message ended up.
type SendResult struct {
	ID        string `json:"id"`
	Delivered bool   `json:"delivered"`
	Queued    bool   `json:"queued"`
	Error     string `json:"error,omitempty"`
}

// Send submits a message; it is queued if the daemon is offline.
func (c *Client) Send(ctx context.Context, chatID, text string) (*SendResult, error) {
	var res SendResult
	path := "/v1/chats/" + url.PathEscape(chatID) + "/messages"
	if err := c.do(ctx, http.MethodPost, path, map[string]string{"text": text}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Sync triggers a history backfill for a chat.
func (c *Client) Sync(ctx context.Context, chatID string, full bool) (int, error) {
	var res struct {
		Ingested int `json:"ingested"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/sync",
		map[string]any{"chat_id": chatID, "full": full}, &res)
	return res.Ingested, err
}

// SyncStatus reports the history checkpoint.
func (c *Client) SyncStatus(ctx context.Context) (int64, error) {
	var res struct {
		HistoryCheckpoint int64 `json:"history_checkpoint"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/sync/status", nil, &res)
	return res.HistoryCheckpoint, err
}

// ImportResult reports a CSV import outcome.
type ImportResult struct {
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors,omitempty"`
}

// Import uploads a CSV transcript through the daemon.
func (c *Client) Import(ctx context.Context, chatID, path string) (*ImportResult, error) {
	var res ImportResult
	err := c.do(ctx, http.MethodPost, "/v1/import",
		map[string]string{"chat_id": chatID, "path": path}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	// Host is ignored; the transport always dials the socket.
	req, err := http.NewRequestWithContext(ctx, method, "http://daemon"+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("daemon request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Error != "" {
			return fmt.Errorf("daemon: %s", e.Error)
		}
		return fmt.Errorf("daemon: %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
