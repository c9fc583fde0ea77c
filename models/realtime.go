package models

import (
	"encoding/json"
	"time"
)

// ChangeType is the kind of row change delivered by the realtime feed.
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// ChangeEvent carries a full row for inserts and updates and only the id
// for deletes.
type ChangeEvent struct {
	Type      ChangeType        `json:"type"`
	Scope     ConversationScope `json:"scope"`
	Message   *ChatMessage      `json:"message,omitempty"`
	MessageID string            `json:"message_id"`
	At        time.Time         `json:"at"`
}

const BroadcastTyping = "typing"

// BroadcastEvent is an ephemeral signal sent over the scope channel. It is
// never persisted.
type BroadcastEvent struct {
	Event       string `json:"event"`
	UserID      int    `json:"user_id"`
	DisplayName string `json:"display_name"`
	Typing      bool   `json:"typing"`
}

// Envelope types on the websocket.
const (
	EnvelopeChange    = "CHAT_CHANGE"
	EnvelopeBroadcast = "CHAT_BROADCAST"
)

// WSEnvelope is the frame exchanged over the realtime websocket.
type WSEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	RoomID  string          `json:"room_id,omitempty"`
}

// TypingSignal is a remote user's typing indicator as held by a client.
type TypingSignal struct {
	UserID      int       `json:"user_id"`
	DisplayName string    `json:"display_name"`
	ExpiresAt   time.Time `json:"expires_at"`
}
