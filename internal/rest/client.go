// Package rest talks to the chat server's HTTP API. The websocket carries
// live traffic; everything request-shaped (login, history backfill, CSV
// import, analytics) goes through here.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/suhas-24/couple-chat-app-sub002/internal/config"
)

// Client is an authenticated HTTP client for the chat server.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *zap.Logger
}

// New creates a client for the given server. token may be empty; Login does
// not require one.
func New(serverURL, token string, logger *zap.Logger) *Client {
	if serverURL == "" {
		serverURL = config.DefaultServerURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(serverURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

// SetToken replaces the bearer token used on subsequent requests.
func (c *Client) SetToken(token string) {
	c.token = token
}

// User identifies an account on the server.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// LoginResult is the response to a successful login.
type LoginResult struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// Login exchanges credentials for a bearer token and stores it on the client.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	var res LoginResult
	err := c.do(ctx, http.MethodPost, "/api/auth/login",
		map[string]string{"email": email, "password": password}, &res)
	if err != nil {
		return nil, err
	}
	c.token = res.Token
	return &res, nil
}

// ChatSummary is one entry in the server's chat list.
type ChatSummary struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	PartnerID     string `json:"partnerId,omitempty"`
	PartnerName   string `json:"partnerName,omitempty"`
	LastMessageAt string `json:"lastMessageAt,omitempty"`
}

// ListChats returns the chats the authenticated user belongs to.
func (c *Client) ListChats(ctx context.Context) ([]ChatSummary, error) {
	var res struct {
		Chats []ChatSummary `json:"chats"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/chats", nil, &res); err != nil {
		return nil, err
	}
	return res.Chats, nil
}

// HistoryMessage is one message in a history page.
type HistoryMessage struct {
	ID         string `json:"id"`
	ChatID     string `json:"chatId"`
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName,omitempty"`
	Text       string `json:"text"`
	Type       string `json:"type,omitempty"`
	Status     string `json:"status,omitempty"`
	SentAt     string `json:"sentAt"`
}

// ChatHistory fetches a page of messages older than before (unix millis;
// zero means newest).
func (c *Client) ChatHistory(ctx context.Context, chatID string, before int64, limit int) ([]HistoryMessage, error) {
	q := url.Values{}
	if before > 0 {
		q.Set("before", strconv.FormatInt(before, 10))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/chats/" + url.PathEscape(chatID) + "/messages"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var res struct {
		Messages []HistoryMessage `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &res); err != nil {
		return nil, err
	}
	return res.Messages, nil
}

// ImportResult reports the outcome of a CSV history upload.
type ImportResult struct {
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors,omitempty"`
}

// ImportCSV uploads an exported chat transcript for server-side ingestion.
func (c *Client) ImportCSV(ctx context.Context, chatID, csvPath string) (*ImportResult, error) {
	f, err := os.Open(csvPath)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer func() { _ = f.Close() }()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if err := w.WriteField("chatId", chatID); err != nil {
		return nil, err
	}
	part, err := w.CreateFormFile("file", filepath.Base(csvPath))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/csv/upload", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	c.authorize(req)

	var res ImportResult
	if err := c.send(req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Analytics summarizes a chat's activity as computed by the server.
type Analytics struct {
	TotalMessages int            `json:"totalMessages"`
	BySender      map[string]int `json:"bySender"`
	TopWords      []string       `json:"topWords,omitempty"`
	FirstMessage  string         `json:"firstMessage,omitempty"`
	LastMessage   string         `json:"lastMessage,omitempty"`
}

// ChatAnalytics fetches the server-computed analytics for a chat.
func (c *Client) ChatAnalytics(ctx context.Context, chatID string) (*Analytics, error) {
	var res Analytics
	path := "/api/analytics/" + url.PathEscape(chatID)
	if err := c.do(ctx, http.MethodGet, path, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)
	return c.send(req, out)
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return c.apiError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

func (c *Client) apiError(resp *http.Response) error {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	msg := resp.Status
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil {
		if body.Error != "" {
			msg = body.Error
		} else if body.Message != "" {
			msg = body.Message
		}
	}
	c.logger.Warn("api request failed",
		zap.String("path", resp.Request.URL.Path), zap.Int("status", resp.StatusCode))
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}
