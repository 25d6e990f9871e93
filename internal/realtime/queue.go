package realtime

import "github.com/suhas-24/couple-chat-app-sub002/internal/protocol"

// PendingMessage is an outbound message waiting for a connection or for a
// server acknowledgement.
type PendingMessage struct {
	ID      string
	ChatID  string
	Message protocol.ChatMessage
}

// QueueJournal persists the pending queue so queued messages survive a
// daemon restart. All methods are called from the client's lock, never
// concurrently. A nil journal is legal (memory-only queue).
type QueueJournal interface {
	Append(p PendingMessage) error
	// MarkSent retires an acknowledged entry, recording the ID the server
	// assigned to it.
	MarkSent(id, serverID string) error
	Clear() error
	Load() ([]PendingMessage, error)
}

// pendingQueue is an insertion-ordered map keyed by message id. Re-putting
// an existing id replaces the entry but keeps its original position, so a
// message id appears at most once and flush order stays stable.
type pendingQueue struct {
	order []string
	byID  map[string]PendingMessage
}

func newPendingQueue() *pendingQueue {
	return &pendingQueue{byID: make(map[string]PendingMessage)}
}

func (q *pendingQueue) Put(p PendingMessage) {
	if _, ok := q.byID[p.ID]; !ok {
		q.order = append(q.order, p.ID)
	}
	q.byID[p.ID] = p
}

func (q *pendingQueue) Remove(id string) {
	if _, ok := q.byID[id]; !ok {
		return
	}
	delete(q.byID, id)
	for i, v := range q.order {
		if v == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
}

func (q *pendingQueue) Has(id string) bool {
	_, ok := q.byID[id]
	return ok
}

func (q *pendingQueue) Len() int {
	return len(q.order)
}

// Items returns the entries in insertion order.
func (q *pendingQueue) Items() []PendingMessage {
	items := make([]PendingMessage, 0, len(q.order))
	for _, id := range q.order {
		items = append(items, q.byID[id])
	}
	return items
}

func (q *pendingQueue) Clear() {
	q.order = nil
	q.byID = make(map[string]PendingMessage)
}
