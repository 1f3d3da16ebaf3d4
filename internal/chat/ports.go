package chat

import (
	"context"
	"errors"
	"time"

	"github.com/sharathr123/restochat/internal/data"
)

// Errors surfaced by the core. Store-level not-found errors are shared with
// the data package so errors.Is works across layers.
var (
	ErrNotParticipant  = errors.New("not a participant of this chat")
	ErrChatNotFound    = data.ErrChatNotFound
	ErrMessageNotFound = data.ErrMessageNotFound
	ErrUserNotFound    = data.ErrUserNotFound
	ErrEmptyMessage    = errors.New("message has no content")
	ErrInvalidChat     = errors.New("invalid chat parameters")
)

// Registry tracks live connections. At most one connection per user; a new
// registration replaces the previous one. Implementations hold no durable
// state: after a restart all users appear offline until they reconnect.
type Registry interface {
	// IsOnline reports whether the user currently has a live connection.
	IsOnline(userID string) bool

	// ConnectionFor returns the user's current connection id, if any.
	ConnectionFor(userID string) (string, bool)

	// Release unregisters the connection and returns its owning user.
	// current is false when the connection was already replaced by a newer
	// one, in which case the user must not be marked offline.
	Release(connectionID string) (userID string, current bool)
}

// ViewTracker is the active-viewing map: which conversation each user has
// open right now. Like the Registry it is reconstructable from nothing.
type ViewTracker interface {
	Enter(ctx context.Context, userID, chatID string) error

	// Leave clears the entry only if it still points at chatID.
	Leave(ctx context.Context, userID, chatID string) error

	// Clear drops the user's entry regardless of value, used on disconnect.
	Clear(ctx context.Context, userID string) error

	Viewing(ctx context.Context, userID, chatID string) (bool, error)
}

// Dispatcher pushes events to specific users or to every connected member of
// a conversation room. Pushes are emit-and-forget: an unreachable recipient
// is dropped, never retried.
type Dispatcher interface {
	SendToUser(userID string, ev Event) bool
	BroadcastRoom(chatID string, ev Event, excludeUserID string) int

	// JoinRoom subscribes the user's live connection, if any, to the room.
	JoinRoom(chatID, userID string)
}

// ChatStore is the conversation/message persistence consumed by the core.
type ChatStore interface {
	GetChatMeta(ctx context.Context, chatID string) (*data.Chat, error)
	ChatIDsForUser(ctx context.Context, userID string) ([]string, error)
	ContactIDs(ctx context.Context, userID string) ([]string, error)
	CreateChat(ctx context.Context, in data.CreateChatInput) (*data.Chat, bool, error)
	AppendMessage(ctx context.Context, chatID string, in data.MessageInput) (*data.Message, error)
	MarkChatSeen(ctx context.Context, chatID, userID string, at time.Time) ([]data.SeenUpdate, error)
	MarkDelivered(ctx context.Context, chatID, messageID, userID string, at time.Time) (senderID string, first bool, err error)
	MarkSeen(ctx context.Context, chatID, messageID, userID string, at time.Time) (senderID string, first bool, err error)
}

// UserStore is the user reachability persistence consumed by the core.
type UserStore interface {
	SetOnline(ctx context.Context, userID, connectionID string) error
	SetOffline(ctx context.Context, userID string, lastSeen time.Time) error
	AllUsersExist(ctx context.Context, userIDs []string) (bool, error)
}

var (
	_ ChatStore = (*data.ChatsStore)(nil)
	_ UserStore = (*data.UsersStore)(nil)
)
