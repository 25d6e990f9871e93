package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/suhas-24/couple-chat-app-sub002/internal/auth"
	"github.com/suhas-24/couple-chat-app-sub002/internal/store"
)

// SessionService owns session status, authentication and connection control.
type SessionService struct {
	sessionName string
	serverURL   string
	credsPath   string
	startedAt   time.Time
	rt          Realtime
	server      Server
	db          *store.DB
	logger      *zap.Logger
}

// NewSessionService creates a new session service.
func NewSessionService(sessionName, serverURL, credsPath string, rt Realtime, server Server, db *store.DB, logger *zap.Logger) *SessionService {
	return &SessionService{
		sessionName: sessionName,
		serverURL:   serverURL,
		credsPath:   credsPath,
		startedAt:   time.Now(),
		rt:          rt,
		server:      server,
		db:          db,
		logger:      logger,
	}
}

// Register mounts the session routes.
func (s *SessionService) Register(r gin.IRouter) {
	r.GET("/v1/status", s.getStatus)
	r.POST("/v1/login", s.login)
	r.POST("/v1/logout", s.logout)
	r.POST("/v1/connect", s.connect)
	r.POST("/v1/reconnect", s.reconnect)
}

func (s *SessionService) getStatus(c *gin.Context) {
	snap := s.rt.State()
	resp := gin.H{
		"session":      s.sessionName,
		"server_url":   s.serverURL,
		"connected":    snap.Connected,
		"reconnecting": snap.Reconnecting,
		"pending":      s.rt.PendingCount(),
		"uptime_ms":    time.Since(s.startedAt).Milliseconds(),
	}
	if snap.Err != "" {
		resp["error"] = snap.Err
	}
	if s.db != nil {
		if n, err := s.db.ChatCount(); err == nil {
			resp["chat_count"] = n
		}
		if n, err := s.db.MessageCount(); err == nil {
			resp["message_count"] = n
		}
	}
	c.JSON(http.StatusOK, resp)
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (s *SessionService) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := s.server.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	creds := &auth.Credentials{Token: res.Token, UserID: res.User.ID, ServerURL: s.serverURL}
	if err := auth.Save(s.credsPath, creds); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save credentials: " + err.Error()})
		return
	}

	s.rt.SetToken(res.Token, res.User.ID)
	if err := s.rt.Connect(); err != nil {
		s.logger.Warn("connect after login failed", zap.Error(err))
	}
	s.logger.Info("logged in", zap.String("user_id", res.User.ID))

	c.JSON(http.StatusOK, gin.H{"user": res.User})
}

func (s *SessionService) logout(c *gin.Context) {
	if err := auth.Clear(s.credsPath); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	// Undelivered messages belong to the ended session; they must not flush
	// after the next login.
	s.rt.DiscardQueue()
	s.rt.SetToken("", "")
	s.logger.Info("logged out")
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *SessionService) connect(c *gin.Context) {
	if err := s.rt.Connect(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"ok": true})
}

func (s *SessionService) reconnect(c *gin.Context) {
	s.rt.ForceReconnect()
	c.JSON(http.StatusAccepted, gin.H{"ok": true})
}
