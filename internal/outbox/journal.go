// Package outbox persists the realtime client's pending queue in the
// local database so queued messages survive a daemon restart.
package outbox

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/suhas-24/couple-chat-app-sub002/internal/protocol"
	"github.com/suhas-24/couple-chat-app-sub002/internal/realtime"
	"github.com/suhas-24/couple-chat-app-sub002/internal/store"
)

// Journal is a store-backed realtime.QueueJournal. Each pending message is
// one outbox row keyed by its client-side ID, with the full message JSON as
// payload so replay after a restart reproduces the original send.
type Journal struct {
	db     *store.DB
	logger *zap.Logger
}

// NewJournal creates a journal over the given database.
func NewJournal(db *store.DB, logger *zap.Logger) *Journal {
	return &Journal{db: db, logger: logger}
}

// Append records a pending message, replacing any prior entry with the same ID.
func (j *Journal) Append(p realtime.PendingMessage) error {
	payload, err := json.Marshal(p.Message)
	if err != nil {
		return fmt.Errorf("encode pending message: %w", err)
	}
	return j.db.QueueOutbox(p.ID, p.ChatID, string(payload))
}

// MarkSent retires an acknowledged entry. The row stays behind as a sent
// record carrying the server-assigned message ID.
func (j *Journal) MarkSent(id, serverID string) error {
	return j.db.MarkOutboxSent(id, serverID)
}

// Clear drops all still-queued entries.
func (j *Journal) Clear() error {
	return j.db.ClearOutbox()
}

// Load returns the queued entries oldest first. Entries whose payload no
// longer decodes are marked failed and skipped rather than blocking startup.
func (j *Journal) Load() ([]realtime.PendingMessage, error) {
	entries, err := j.db.PendingOutbox()
	if err != nil {
		return nil, err
	}

	var pending []realtime.PendingMessage
	for _, e := range entries {
		var msg protocol.ChatMessage
		if err := json.Unmarshal([]byte(e.Payload), &msg); err != nil {
			j.logger.Warn("dropping corrupt outbox entry",
				zap.String("client_msg_id", e.ClientMsgID), zap.Error(err))
			_ = j.db.MarkOutboxFailed(e.ClientMsgID, "corrupt payload: "+err.Error())
			continue
		}
		pending = append(pending, realtime.PendingMessage{
			ID:      e.ClientMsgID,
			ChatID:  e.ChatID,
			Message: msg,
		})
	}
	return pending, nil
}
