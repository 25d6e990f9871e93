package store

// Chat represents a synced chat.
type Chat struct {
	ID                 string
	Name               string
	PartnerID          string
	PartnerName        string
	UnreadCount        int
	LastMessageAt      int64
	LastMessagePreview string
}

// Message represents a synced message.
type Message struct {
	ID          int64
	ChatID      string
	MsgID       string
	SenderID    string
	SenderName  string
	Body        string
	MessageType string
	FromMe      bool
	Status      string // sending, sent, delivered, received
	Timestamp   int64
}

// OutboxEntry represents a pending outgoing message. Payload carries the
// full JSON-encoded message so it can be replayed after a restart.
type OutboxEntry struct {
	ID           int64
	ClientMsgID  string
	ChatID       string
	Payload      string
	Status       string // queued, sent, failed
	ErrorMessage string
	ServerMsgID  string
}

// SearchResult holds a message with a search snippet.
type SearchResult struct {
	Message Message
	Snippet string
}
