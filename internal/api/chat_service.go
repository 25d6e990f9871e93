package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/suhas-24/couple-chat-app-sub002/internal/store"
)

// ChatService serves the chat list and room membership.
type ChatService struct {
	db     *store.DB
	rt     Realtime
	server Server
}

// NewChatService creates a new chat service backed by the store.
func NewChatService(db *store.DB, rt Realtime, server Server) *ChatService {
	return &ChatService{db: db, rt: rt, server: server}
}

// Register mounts the chat routes.
func (s *ChatService) Register(r gin.IRouter) {
	r.GET("/v1/chats", s.listChats)
	r.GET("/v1/chats/:id", s.getChat)
	r.POST("/v1/chats/:id/join", s.joinChat)
	r.POST("/v1/chats/:id/leave", s.leaveChat)
	r.GET("/v1/chats/:id/analytics", s.analytics)
}

func (s *ChatService) listChats(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	chats, err := s.db.ListChats(limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	out := make([]gin.H, 0, len(chats))
	for _, ch := range chats {
		out = append(out, chatJSON(&ch))
	}
	c.JSON(http.StatusOK, gin.H{"chats": out, "has_more": len(chats) == limit})
}

func (s *ChatService) getChat(c *gin.Context) {
	ch, err := s.db.GetChat(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if ch == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"chat": chatJSON(ch)})
}

func (s *ChatService) joinChat(c *gin.Context) {
	s.rt.JoinChat(c.Param("id"))
	c.JSON(http.StatusAccepted, gin.H{"ok": true})
}

func (s *ChatService) leaveChat(c *gin.Context) {
	s.rt.LeaveChat(c.Param("id"))
	c.JSON(http.StatusAccepted, gin.H{"ok": true})
}

func (s *ChatService) analytics(c *gin.Context) {
	a, err := s.server.ChatAnalytics(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"analytics": a})
}

func chatJSON(ch *store.Chat) gin.H {
	return gin.H{
		"id":                   ch.ID,
		"name":                 ch.Name,
		"partner_id":           ch.PartnerID,
		"partner_name":         ch.PartnerName,
		"unread_count":         ch.UnreadCount,
		"last_message_at":      ch.LastMessageAt,
		"last_message_preview": ch.LastMessagePreview,
	}
}
