// Package protocol defines the JSON event vocabulary spoken over the chat
// server's websocket. Every frame is an Envelope; the event name selects the
// payload shape.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Inbound event names (server -> client).
const (
	EventNewMessage        = "new_message"
	EventTypingStart       = "typing_start"
	EventTypingStop        = "typing_stop"
	EventUserJoined        = "user_joined"
	EventUserLeft          = "user_left"
	EventUserOffline       = "user_offline"
	EventStatusUpdate      = "status_update"
	EventDeliveryConfirmed = "message_delivery_confirmed"
	EventMessageEdited     = "message_edited"
	EventMessageDeleted    = "message_deleted"
	EventReactionAdded     = "reaction_added"
	EventReactionRemoved   = "reaction_removed"
	EventMessageRead       = "message_read"
	EventPong              = "pong"
	EventError             = "error"
	EventAck               = "ack"
)

// Outbound event names (client -> server). typing_start/typing_stop and
// status_update are symmetric and reuse the constants above.
const (
	EventJoinChat         = "join_chat"
	EventLeaveChat        = "leave_chat"
	EventSendMessage      = "send_message"
	EventMessageDelivered = "message_delivered"
	EventAddReaction      = "add_reaction"
	EventRemoveReaction   = "remove_reaction"
	EventMarkRead         = "mark_read"
	EventPing             = "ping"
)

// Envelope is the frame carried on every websocket text message.
// Ack, when non-zero, asks the server to reply with an "ack" envelope
// carrying the same number (outbound), or correlates such a reply (inbound).
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Ack   uint64          `json:"ack,omitempty"`
}

// Encode builds the wire form of an envelope.
func Encode(event string, data any, ack uint64) ([]byte, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", event, err)
		}
		raw = b
	}
	return json.Marshal(Envelope{Event: event, Data: raw, Ack: ack})
}

// Decode parses a wire frame into an envelope.
func Decode(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if env.Event == "" {
		return nil, fmt.Errorf("decode frame: missing event name")
	}
	return &env, nil
}

// Bind unmarshals the envelope payload into v.
func (e *Envelope) Bind(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s: empty payload", e.Event)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%s payload: %w", e.Event, err)
	}
	return nil
}

// ChatMessage is a message in a chat, inbound or outbound. Outbound messages
// may omit ID; the client assigns a temporary one for queue bookkeeping.
type ChatMessage struct {
	ID         string `json:"id,omitempty"`
	ChatID     string `json:"chatId"`
	SenderID   string `json:"senderId,omitempty"`
	SenderName string `json:"senderName,omitempty"`
	Text       string `json:"text"`
	Type       string `json:"type,omitempty"`
	SentAt     string `json:"sentAt,omitempty"`
}

// SendMessage is the outbound send_message payload.
type SendMessage struct {
	ChatID  string      `json:"chatId"`
	Message ChatMessage `json:"message"`
}

// AckResult is the payload of an "ack" envelope answering a send_message.
type AckResult struct {
	OK        bool   `json:"ok"`
	MessageID string `json:"messageId,omitempty"`
	Error     string `json:"error,omitempty"`
}

// DeliveryConfirmation reports that the peer's client received a message.
type DeliveryConfirmation struct {
	MessageID       string `json:"messageId"`
	ConfirmedBy     string `json:"confirmedBy"`
	ConfirmedByName string `json:"confirmedByName,omitempty"`
	Timestamp       string `json:"timestamp"`
}

// Delivered is the outbound message_delivered acknowledgement.
type Delivered struct {
	MessageID string `json:"messageId"`
	SenderID  string `json:"senderId"`
}

// Typing is the typing_start/typing_stop payload. Outbound frames carry only
// ChatID; inbound frames identify the typist.
type Typing struct {
	ChatID   string `json:"chatId"`
	UserID   string `json:"userId,omitempty"`
	UserName string `json:"userName,omitempty"`
}

// Presence is the payload of user_joined/user_left/user_offline/status_update.
type Presence struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName,omitempty"`
	Status   string `json:"status,omitempty"`
}

// Room is the join_chat/leave_chat payload.
type Room struct {
	ChatID string `json:"chatId"`
}

// Reaction is the add_reaction/remove_reaction/reaction_added/reaction_removed payload.
type Reaction struct {
	MessageID string `json:"messageId"`
	ChatID    string `json:"chatId,omitempty"`
	UserID    string `json:"userId,omitempty"`
	Emoji     string `json:"emoji"`
}

// ReadReceipt is the mark_read/message_read payload.
type ReadReceipt struct {
	MessageID string `json:"messageId"`
	ChatID    string `json:"chatId,omitempty"`
	ReaderID  string `json:"readerId,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// MessageEdit is the message_edited payload.
type MessageEdit struct {
	MessageID string `json:"messageId"`
	ChatID    string `json:"chatId"`
	Text      string `json:"text"`
	EditedAt  string `json:"editedAt,omitempty"`
}

// MessageDelete is the message_deleted payload.
type MessageDelete struct {
	MessageID string `json:"messageId"`
	ChatID    string `json:"chatId"`
}

// ServerError is the payload of an "error" envelope.
type ServerError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}
