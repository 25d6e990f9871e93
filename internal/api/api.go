// Package api exposes the daemon's control surface as HTTP services served
// over the session's unix socket. Each service registers its own routes;
// the daemon composes them onto one gin engine.
package api

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/suhas-24/couple-chat-app-sub002/internal/protocol"
	"github.com/suhas-24/couple-chat-app-sub002/internal/rest"
	"github.com/suhas-24/couple-chat-app-sub002/internal/status"
)

// Realtime is the slice of the websocket client the control API drives.
type Realtime interface {
	State() status.Snapshot
	PendingCount() int
	Connect() error
	ForceReconnect()
	SetToken(token, userID string)
	DiscardQueue()
	SendMessageWithRetry(ctx context.Context, chatID string, msg protocol.ChatMessage) (bool, error)
	StartTypingWithDebounce(chatID string)
	StopTyping(chatID string)
	JoinChat(chatID string)
	LeaveChat(chatID string)
	MarkRead(chatID, messageID string)
	AddReaction(r protocol.Reaction)
	RemoveReaction(r protocol.Reaction)
}

// Server is the HTTP API the daemon speaks to the chat server, as used by
// the control services.
type Server interface {
	Login(ctx context.Context, email, password string) (*rest.LoginResult, error)
	ChatHistory(ctx context.Context, chatID string, before int64, limit int) ([]rest.HistoryMessage, error)
	ImportCSV(ctx context.Context, chatID, csvPath string) (*rest.ImportResult, error)
	ChatAnalytics(ctx context.Context, chatID string) (*rest.Analytics, error)
}

// Service is anything that mounts routes on the control engine.
type Service interface {
	Register(r gin.IRouter)
}
