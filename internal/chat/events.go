// Package chat implements the realtime chat core: connection and presence
// tracking, room membership, the message delivery lifecycle and event
// fan-out. Transport and persistence are injected collaborators.
package chat

import (
	"time"

	"github.com/sharathr123/restochat/internal/data"
)

// Wire names for server-originated events.
const (
	EventNewMessage          = "new-message"
	EventMessageSent         = "message-sent"
	EventMessageStatusUpdate = "message-status-update"
	EventUserTyping          = "user-typing"
	EventReadReceipt         = "read-receipt"
	EventPresenceChanged     = "presence-changed"
	EventChatCreated         = "chat-created"
	EventChatUpdated         = "chat-updated"
)

// Event is the closed set of server-originated events. Every variant lives in
// this package; the unexported method keeps the set closed so dispatch stays
// exhaustive.
type Event interface {
	EventType() string
	isEvent()
}

// ChatSummary is the per-recipient conversation snapshot attached to message
// events so clients can update their chat list without a refetch.
type ChatSummary struct {
	ID          string            `json:"id"`
	Name        string            `json:"name,omitempty"`
	Kind        string            `json:"kind"`
	LastMessage *data.LastMessage `json:"last_message,omitempty"`
	UnreadCount int               `json:"unread_count"`
}

// NewMessage is pushed to every reachable recipient of a fresh message.
type NewMessage struct {
	ChatID  string        `json:"chat_id"`
	Message *data.Message `json:"message"`
	Chat    ChatSummary   `json:"chat"`
}

// MessageSent acknowledges a send back to its author with the persisted
// message, regardless of recipient reachability.
type MessageSent struct {
	ChatID  string        `json:"chat_id"`
	Message *data.Message `json:"message"`
}

// MessageStatusUpdate tells a message's author that a recipient acknowledged
// delivery or marked the message seen.
type MessageStatusUpdate struct {
	ChatID    string    `json:"chat_id"`
	MessageID string    `json:"message_id"`
	Status    string    `json:"status"`
	UserID    string    `json:"user_id"`
	At        time.Time `json:"at"`
}

// UserTyping is the ephemeral typing signal relayed between participants.
type UserTyping struct {
	ChatID   string `json:"chat_id"`
	UserID   string `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}

// ReadReceipt tells other participants that a user read the conversation.
type ReadReceipt struct {
	ChatID string    `json:"chat_id"`
	ReadBy string    `json:"read_by"`
	ReadAt time.Time `json:"read_at"`
}

// PresenceChanged is broadcast to a user's contacts when they connect or
// disconnect. LastSeen is nil while the user is online.
type PresenceChanged struct {
	UserID   string     `json:"user_id"`
	IsOnline bool       `json:"is_online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

// ChatCreated notifies members of a newly created conversation.
type ChatCreated struct {
	Chat *data.Chat `json:"chat"`
}

// ChatUpdated carries per-user chat list bookkeeping, currently the unread
// counter after a reset.
type ChatUpdated struct {
	ChatID      string `json:"chat_id"`
	UnreadCount int    `json:"unread_count"`
}

func (*NewMessage) EventType() string          { return EventNewMessage }
func (*MessageSent) EventType() string         { return EventMessageSent }
func (*MessageStatusUpdate) EventType() string { return EventMessageStatusUpdate }
func (*UserTyping) EventType() string          { return EventUserTyping }
func (*ReadReceipt) EventType() string         { return EventReadReceipt }
func (*PresenceChanged) EventType() string     { return EventPresenceChanged }
func (*ChatCreated) EventType() string         { return EventChatCreated }
func (*ChatUpdated) EventType() string         { return EventChatUpdated }

func (*NewMessage) isEvent()          {}
func (*MessageSent) isEvent()         {}
func (*MessageStatusUpdate) isEvent() {}
func (*UserTyping) isEvent()          {}
func (*ReadReceipt) isEvent()         {}
func (*PresenceChanged) isEvent()     {}
func (*ChatCreated) isEvent()         {}
func (*ChatUpdated) isEvent()         {}
