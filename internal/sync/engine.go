// Package sync ingests realtime events into the local store so chat history
// stays queryable while the app is offline.
package sync

import (
	"context"
	"fmt"
	"strconv"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/suhas-24/couple-chat-app-sub002/internal/bus"
	"github.com/suhas-24/couple-chat-app-sub002/internal/protocol"
	"github.com/suhas-24/couple-chat-app-sub002/internal/realtime"
	"github.com/suhas-24/couple-chat-app-sub002/internal/store"
)

const previewLen = 100

// Engine handles idempotent ingestion of chat events into the store.
// It subscribes to "rt." and "message." events on the bus and processes them.
type Engine struct {
	db     *store.DB
	bus    *bus.Bus
	selfID string
	logger *zap.Logger
	cancel context.CancelFunc
}

// NewEngine creates a new sync engine. selfID is the authenticated user's ID,
// used to flag messages as own ones.
func NewEngine(db *store.DB, b *bus.Bus, selfID string, logger *zap.Logger) *Engine {
	return &Engine{
		db:     db,
		bus:    b,
		selfID: selfID,
		logger: logger,
	}
}

// Start subscribes to realtime events on the bus.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	rtCh, unsubRT := e.bus.Subscribe("rt.", 256)
	msgCh, unsubMsg := e.bus.Subscribe("message.", 256)

	go func() {
		defer unsubRT()
		defer unsubMsg()
		for {
			select {
			case evt := <-rtCh:
				e.handleEvent(evt)
			case evt := <-msgCh:
				e.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Engine) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case "rt.message":
		msg, ok := evt.Payload.(protocol.ChatMessage)
		if !ok {
			return
		}
		if err := e.IngestMessage(msg); err != nil {
			e.logger.Error("failed to ingest message", zap.Error(err), zap.String("msg_id", msg.ID))
		}
	case "rt.delivery_confirmed":
		conf, ok := evt.Payload.(protocol.DeliveryConfirmation)
		if !ok {
			return
		}
		if err := e.db.SetMessageStatus(conf.MessageID, "delivered"); err != nil {
			e.logger.Error("failed to mark delivered", zap.Error(err), zap.String("msg_id", conf.MessageID))
		}
	case "rt.message_read":
		rr, ok := evt.Payload.(protocol.ReadReceipt)
		if !ok {
			return
		}
		if err := e.db.SetMessageStatus(rr.MessageID, "read"); err != nil {
			e.logger.Error("failed to mark read", zap.Error(err), zap.String("msg_id", rr.MessageID))
		}
	case "rt.message_edited":
		me, ok := evt.Payload.(protocol.MessageEdit)
		if !ok {
			return
		}
		if err := e.db.SetMessageBody(me.MessageID, me.Text); err != nil {
			e.logger.Error("failed to apply edit", zap.Error(err), zap.String("msg_id", me.MessageID))
		}
	case "rt.message_deleted":
		md, ok := evt.Payload.(protocol.MessageDelete)
		if !ok {
			return
		}
		if err := e.db.DeleteMessage(md.MessageID); err != nil {
			e.logger.Error("failed to apply delete", zap.Error(err), zap.String("msg_id", md.MessageID))
		}
	case "message.sent":
		res, ok := evt.Payload.(realtime.SendResult)
		if !ok || res.ServerID == "" {
			return
		}
		if err := e.db.PromoteMessage(res.ChatID, res.ID, res.ServerID, "sent"); err != nil {
			e.logger.Error("failed to promote message", zap.Error(err), zap.String("msg_id", res.ID))
		}
	case "message.send_failed":
		res, ok := evt.Payload.(realtime.SendResult)
		if !ok {
			return
		}
		if err := e.db.SetMessageStatus(res.ID, "queued"); err != nil {
			e.logger.Error("failed to mark queued", zap.Error(err), zap.String("msg_id", res.ID))
		}
	}
}

// IngestMessage processes a single inbound message into the store (idempotent).
func (e *Engine) IngestMessage(msg protocol.ChatMessage) error {
	ts := parseEventTime(msg.SentAt)
	if err := e.db.TouchChat(msg.ChatID, truncate(msg.Text, previewLen), ts); err != nil {
		return fmt.Errorf("touch chat: %w", err)
	}

	fromMe := msg.SenderID != "" && msg.SenderID == e.selfID
	if err := e.db.UpsertMessage(&store.Message{
		ChatID:      msg.ChatID,
		MsgID:       msg.ID,
		SenderID:    msg.SenderID,
		SenderName:  msg.SenderName,
		Body:        msg.Text,
		MessageType: messageType(msg.Type),
		FromMe:      fromMe,
		Status:      "received",
		Timestamp:   ts,
	}); err != nil {
		return fmt.Errorf("upsert message: %w", err)
	}

	e.bus.Emit("sync.message_upserted", map[string]string{
		"chat_id": msg.ChatID,
		"msg_id":  msg.ID,
	})
	return nil
}

// IngestHistoryBatch processes a batch of history messages in a transaction,
// then records the newest timestamp as the history checkpoint.
func (e *Engine) IngestHistoryBatch(msgs []store.Message) error {
	tx, err := e.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	var newest int64
	for _, m := range msgs {
		if _, err := tx.Exec(`
			INSERT INTO chats (id, last_message_at, last_message_preview, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				last_message_at = MAX(chats.last_message_at, excluded.last_message_at),
				last_message_preview = CASE WHEN excluded.last_message_at > chats.last_message_at THEN excluded.last_message_preview ELSE chats.last_message_preview END,
				updated_at = excluded.updated_at`,
			m.ChatID, m.Timestamp, truncate(m.Body, previewLen), now); err != nil {
			return fmt.Errorf("upsert chat in batch: %w", err)
		}

		if _, err := tx.Exec(`
			INSERT INTO messages (chat_id, msg_id, sender_id, sender_name, body, message_type, from_me, status, timestamp, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(chat_id, msg_id) DO UPDATE SET
				sender_name = excluded.sender_name,
				body = excluded.body,
				status = excluded.status`,
			m.ChatID, m.MsgID, m.SenderID, m.SenderName, m.Body, m.MessageType, m.FromMe, m.Status, m.Timestamp, now); err != nil {
			return fmt.Errorf("upsert message in batch: %w", err)
		}
		if m.Timestamp > newest {
			newest = m.Timestamp
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}

	if newest > 0 {
		if err := e.db.SetSyncState("history_checkpoint", strconv.FormatInt(newest, 10)); err != nil {
			e.logger.Warn("failed to record history checkpoint", zap.Error(err))
		}
	}

	e.bus.Emit("sync.history_batch", map[string]int{"messages_count": len(msgs)})
	return nil
}

// HistoryCheckpoint returns the timestamp of the newest ingested history
// message, or 0 when no sync has happened yet.
func (e *Engine) HistoryCheckpoint() int64 {
	v, err := e.db.GetSyncState("history_checkpoint")
	if err != nil || v == "" {
		return 0
	}
	ts, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return ts
}

func parseEventTime(s string) int64 {
	if s == "" {
		return time.Now().UnixMilli()
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Now().UnixMilli()
	}
	return t.UnixMilli()
}

func messageType(t string) string {
	if t == "" {
		return "text"
	}
	return t
}

// truncate cuts s to at most maxLen bytes without splitting a rune, so
// emoji-heavy previews stay valid UTF-8.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
