package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/suhas-24/couple-chat-app-sub002/internal/protocol"
	"github.com/suhas-24/couple-chat-app-sub002/internal/store"
)

// MessageService serves message history, search and the send path.
type MessageService struct {
	db     *store.DB
	rt     Realtime
	selfID string
	logger *zap.Logger
}

// NewMessageService creates a new message service backed by the store.
func NewMessageService(db *store.DB, rt Realtime, selfID string, logger *zap.Logger) *MessageService {
	return &MessageService{db: db, rt: rt, selfID: selfID, logger: logger}
}

// Register mounts the message routes.
func (s *MessageService) Register(r gin.IRouter) {
	r.GET("/v1/chats/:id/messages", s.listMessages)
	r.POST("/v1/chats/:id/messages", s.sendMessage)
	r.POST("/v1/chats/:id/typing", s.typing)
	r.POST("/v1/chats/:id/read", s.markRead)
	r.GET("/v1/search", s.search)
	r.POST("/v1/messages/:id/reactions", s.addReaction)
	r.DELETE("/v1/messages/:id/reactions", s.removeReaction)
}

func (s *MessageService) listMessages(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	before, _ := strconv.ParseInt(c.DefaultQuery("before", "0"), 10, 64)

	msgs, err := s.db.ListMessages(c.Param("id"), before, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	out := make([]gin.H, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageJSON(&m))
	}
	c.JSON(http.StatusOK, gin.H{"messages": out, "has_more": len(msgs) == limit})
}

type sendRequest struct {
	Text string `json:"text" binding:"required"`
	Type string `json:"type"`
}

func (s *MessageService) sendMessage(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	chatID := c.Param("id")
	if req.Type == "" {
		req.Type = "text"
	}

	now := time.Now()
	msg := protocol.ChatMessage{
		ID:       "temp-" + uuid.NewString(),
		ChatID:   chatID,
		SenderID: s.selfID,
		Text:     req.Text,
		Type:     req.Type,
		SentAt:   now.UTC().Format(time.RFC3339),
	}

	// Optimistic row under the temporary ID; the sync engine promotes it to
	// the server ID once the send is acknowledged.
	if err := s.db.UpsertMessage(&store.Message{
		ChatID:      chatID,
		MsgID:       msg.ID,
		SenderID:    s.selfID,
		Body:        req.Text,
		MessageType: req.Type,
		FromMe:      true,
		Status:      "sending",
		Timestamp:   now.UnixMilli(),
	}); err != nil {
		s.logger.Warn("optimistic insert failed", zap.Error(err))
	}

	delivered, err := s.rt.SendMessageWithRetry(c.Request.Context(), chatID, msg)
	if err != nil {
		// The message stays queued for the next reconnect; tell the caller.
		c.JSON(http.StatusAccepted, gin.H{"id": msg.ID, "delivered": false, "queued": true, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": msg.ID, "delivered": delivered, "queued": !delivered})
}

type typingRequest struct {
	Typing bool `json:"typing"`
}

func (s *MessageService) typing(c *gin.Context) {
	var req typingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Typing {
		s.rt.StartTypingWithDebounce(c.Param("id"))
	} else {
		s.rt.StopTyping(c.Param("id"))
	}
	c.JSON(http.StatusAccepted, gin.H{"ok": true})
}

type readRequest struct {
	MessageID string `json:"message_id" binding:"required"`
}

func (s *MessageService) markRead(c *gin.Context) {
	var req readRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.rt.MarkRead(c.Param("id"), req.MessageID)
	c.JSON(http.StatusAccepted, gin.H{"ok": true})
}

func (s *MessageService) search(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing query"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	results, err := s.db.SearchMessages(query, c.Query("chat"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	out := make([]gin.H, 0, len(results))
	for _, r := range results {
		m := messageJSON(&r.Message)
		m["snippet"] = r.Snippet
		out = append(out, m)
	}
	c.JSON(http.StatusOK, gin.H{"results": out})
}

type reactionRequest struct {
	ChatID string `json:"chat_id"`
	Emoji  string `json:"emoji" binding:"required"`
}

func (s *MessageService) addReaction(c *gin.Context) {
	var req reactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.rt.AddReaction(protocol.Reaction{MessageID: c.Param("id"), ChatID: req.ChatID, Emoji: req.Emoji})
	c.JSON(http.StatusAccepted, gin.H{"ok": true})
}

func (s *MessageService) removeReaction(c *gin.Context) {
	var req reactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.rt.RemoveReaction(protocol.Reaction{MessageID: c.Param("id"), ChatID: req.ChatID, Emoji: req.Emoji})
	c.JSON(http.StatusAccepted, gin.H{"ok": true})
}

func messageJSON(m *store.Message) gin.H {
	return gin.H{
		"id":           m.MsgID,
		"chat_id":      m.ChatID,
		"sender_id":    m.SenderID,
		"sender_name":  m.SenderName,
		"body":         m.Body,
		"message_type": m.MessageType,
		"from_me":      m.FromMe,
		"status":       m.Status,
		"timestamp":    m.Timestamp,
	}
}
