package api

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/suhas-24/couple-chat-app-sub002/internal/bus"
	"github.com/suhas-24/couple-chat-app-sub002/internal/rest"
	"github.com/suhas-24/couple-chat-app-sub002/internal/store"
)

// historyPageSize is the page size used when backfilling from the server.
const historyPageSize = 200

// maxHistoryPages bounds a single backfill run.
const maxHistoryPages = 50

// Ingestor is the slice of the sync engine the control API drives.
type Ingestor interface {
	IngestHistoryBatch(msgs []store.Message) error
	HistoryCheckpoint() int64
}

// SyncService owns history backfill, CSV import and the event stream.
type SyncService struct {
	engine      Ingestor
	server      Server
	bus         *bus.Bus
	selfID      string
	sessionName string
	logger      *zap.Logger
}

// NewSyncService creates a new sync service.
func NewSyncService(engine Ingestor, server Server, b *bus.Bus, selfID, sessionName string, logger *zap.Logger) *SyncService {
	return &SyncService{
		engine:      engine,
		server:      server,
		bus:         b,
		selfID:      selfID,
		sessionName: sessionName,
		logger:      logger,
	}
}

// Register mounts the sync routes.
func (s *SyncService) Register(r gin.IRouter) {
	r.POST("/v1/sync", s.startSync)
	r.GET("/v1/sync/status", s.syncStatus)
	r.POST("/v1/import", s.importCSV)
	r.GET("/v1/events", s.streamEvents)
}

type syncRequest struct {
	ChatID string `json:"chat_id" binding:"required"`
	Full   bool   `json:"full"`
}

func (s *SyncService) startSync(c *gin.Context) {
	var req syncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	checkpoint := s.engine.HistoryCheckpoint()
	if req.Full {
		checkpoint = 0
	}

	total := 0
	before := int64(0) // newest first
	for page := 0; page < maxHistoryPages; page++ {
		msgs, err := s.server.ChatHistory(c.Request.Context(), req.ChatID, before, historyPageSize)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "ingested": total})
			return
		}
		if len(msgs) == 0 {
			break
		}

		batch, oldest := s.toStoreMessages(req.ChatID, msgs)
		if err := s.engine.IngestHistoryBatch(batch); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "ingested": total})
			return
		}
		total += len(batch)

		// Pages walk backwards in time; stop at the previous checkpoint.
		if oldest <= checkpoint || len(msgs) < historyPageSize {
			break
		}
		before = oldest
	}

	s.logger.Info("history sync done", zap.String("chat_id", req.ChatID), zap.Int("messages", total))
	c.JSON(http.StatusOK, gin.H{"ingested": total})
}

func (s *SyncService) toStoreMessages(chatID string, msgs []rest.HistoryMessage) ([]store.Message, int64) {
	batch := make([]store.Message, 0, len(msgs))
	var oldest int64
	for _, m := range msgs {
		ts := parseHistoryTime(m.SentAt)
		if oldest == 0 || ts < oldest {
			oldest = ts
		}
		status := m.Status
		if status == "" {
			status = "received"
		}
		mtype := m.Type
		if mtype == "" {
			mtype = "text"
		}
		batch = append(batch, store.Message{
			ChatID:      chatID,
			MsgID:       m.ID,
			SenderID:    m.SenderID,
			SenderName:  m.SenderName,
			Body:        m.Text,
			MessageType: mtype,
			FromMe:      m.SenderID != "" && m.SenderID == s.selfID,
			Status:      status,
			Timestamp:   ts,
		})
	}
	return batch, oldest
}

func (s *SyncService) syncStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"history_checkpoint": s.engine.HistoryCheckpoint(),
	})
}

type importRequest struct {
	ChatID string `json:"chat_id" binding:"required"`
	Path   string `json:"path" binding:"required"`
}

func (s *SyncService) importCSV(c *gin.Context) {
	var req importRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := s.server.ImportCSV(c.Request.Context(), req.ChatID, req.Path)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"imported": res.Imported, "skipped": res.Skipped, "errors": res.Errors})
}

// streamEvents replays bus events to the caller as NDJSON until it hangs up.
// The namespace defaults to everything the UI cares about.
func (s *SyncService) streamEvents(c *gin.Context) {
	ns := c.DefaultQuery("ns", "")
	ch, unsub := s.bus.Subscribe(ns, 256)
	defer unsub()

	c.Header("Content-Type", "application/x-ndjson")
	c.Stream(func(w io.Writer) bool {
		select {
		case evt := <-ch:
			env := gin.H{
				"event_id":    uuid.NewString(),
				"session":     s.sessionName,
				"occurred_at": evt.Timestamp.UnixMilli(),
				"kind":        evt.Kind,
			}
			if payload, err := json.Marshal(evt.Payload); err == nil {
				env["payload"] = json.RawMessage(payload)
			}
			if err := json.NewEncoder(w).Encode(env); err != nil {
				return false
			}
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func parseHistoryTime(s string) int64 {
	if s == "" {
		return time.Now().UnixMilli()
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Now().UnixMilli()
	}
	return t.UnixMilli()
}
