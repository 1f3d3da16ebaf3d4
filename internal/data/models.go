package data

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Chat kinds.
const (
	ChatDirect  = "direct"
	ChatGroup   = "group"
	ChatSupport = "support"
)

// Participant roles.
const (
	RoleMember = "member"
	RoleAdmin  = "admin"
	RoleOwner  = "owner"
)

// Message types.
const (
	MessageText   = "text"
	MessageImage  = "image"
	MessageFile   = "file"
	MessageSystem = "system"
)

// Message statuses. Status is an aggregate summary: it advances to
// "delivered" once any recipient received the message and to "seen" once any
// recipient saw it. The per-recipient DeliveredTo/SeenBy lists are the
// authoritative record; the scalar exists for list UIs only.
const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusSeen      = "seen"
)

// User maps to the users collection.
type User struct {
	ID           bson.ObjectID `bson:"_id,omitempty" json:"id"`
	Name         string        `bson:"name" json:"name"`
	Email        string        `bson:"email" json:"email"`
	Password     string        `bson:"password" json:"-"`
	Avatar       string        `bson:"avatar,omitempty" json:"avatar,omitempty"`
	IsOnline     bool          `bson:"is_online" json:"is_online"`
	LastSeen     *time.Time    `bson:"last_seen,omitempty" json:"last_seen,omitempty"`
	ConnectionID string        `bson:"connection_id,omitempty" json:"-"`
	IsActive     bool          `bson:"is_active" json:"is_active"`
	CreatedAt    time.Time     `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time     `bson:"updated_at" json:"updated_at"`
}

// Participant is the conversation<->user join embedded in a chat document.
type Participant struct {
	UserID      bson.ObjectID `bson:"user_id" json:"user_id"`
	Role        string        `bson:"role" json:"role"`
	JoinedAt    time.Time     `bson:"joined_at" json:"joined_at"`
	LastSeenAt  time.Time     `bson:"last_seen_at" json:"last_seen_at"`
	IsPinned    bool          `bson:"is_pinned" json:"is_pinned"`
	UnreadCount int           `bson:"unread_count" json:"unread_count"`
	MutedUntil  *time.Time    `bson:"muted_until,omitempty" json:"muted_until,omitempty"`
}

// Muted reports whether the participant's mute is active at the given time.
func (p Participant) Muted(now time.Time) bool {
	return p.MutedUntil != nil && now.Before(*p.MutedUntil)
}

// Receipt is a per-recipient delivery or seen record on a message.
type Receipt struct {
	UserID bson.ObjectID `bson:"user_id" json:"user_id"`
	At     time.Time     `bson:"at" json:"at"`
}

// Message is embedded in the chat document's messages array.
type Message struct {
	ID          bson.ObjectID  `bson:"_id" json:"id"`
	SenderID    bson.ObjectID  `bson:"sender_id" json:"sender_id"`
	Content     string         `bson:"content" json:"content"`
	Type        string         `bson:"type" json:"type"`
	Status      string         `bson:"status" json:"status"`
	FileURL     string         `bson:"file_url,omitempty" json:"file_url,omitempty"`
	FileName    string         `bson:"file_name,omitempty" json:"file_name,omitempty"`
	FileSize    int64          `bson:"file_size,omitempty" json:"file_size,omitempty"`
	ReplyTo     *bson.ObjectID `bson:"reply_to,omitempty" json:"reply_to,omitempty"`
	DeliveredTo []Receipt      `bson:"delivered_to" json:"delivered_to"`
	SeenBy      []Receipt      `bson:"seen_by" json:"seen_by"`
	IsDeleted   bool           `bson:"is_deleted,omitempty" json:"is_deleted,omitempty"`
	DeletedAt   *time.Time     `bson:"deleted_at,omitempty" json:"deleted_at,omitempty"`
	CreatedAt   time.Time      `bson:"created_at" json:"created_at"`
}

// DeliveredToUser reports whether a delivery receipt exists for the user.
func (m *Message) DeliveredToUser(userID bson.ObjectID) bool {
	for _, r := range m.DeliveredTo {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

// SeenByUser reports whether a seen receipt exists for the user.
func (m *Message) SeenByUser(userID bson.ObjectID) bool {
	for _, r := range m.SeenBy {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

// LastMessage is the denormalized summary kept on the chat document.
type LastMessage struct {
	Content   string        `bson:"content" json:"content"`
	SenderID  bson.ObjectID `bson:"sender_id" json:"sender_id"`
	Type      string        `bson:"type" json:"type"`
	Timestamp time.Time     `bson:"timestamp" json:"timestamp"`
}

// Chat maps to the chats collection: one document per conversation with
// participants and the message log embedded.
type Chat struct {
	ID           bson.ObjectID `bson:"_id,omitempty" json:"id"`
	Name         string        `bson:"name,omitempty" json:"name,omitempty"`
	Kind         string        `bson:"kind" json:"kind"`
	Participants []Participant `bson:"participants" json:"participants"`
	Messages     []Message     `bson:"messages,omitempty" json:"messages,omitempty"`
	LastMessage  *LastMessage  `bson:"last_message,omitempty" json:"last_message,omitempty"`
	MessageCount int64         `bson:"message_count" json:"message_count"`
	IsActive     bool          `bson:"is_active" json:"is_active"`
	CreatedAt    time.Time     `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time     `bson:"updated_at" json:"updated_at"`
}

// Participant returns the embedded participant entry for the user, if any.
func (c *Chat) Participant(userID bson.ObjectID) (*Participant, bool) {
	for i := range c.Participants {
		if c.Participants[i].UserID == userID {
			return &c.Participants[i], true
		}
	}
	return nil, false
}

// HasParticipant reports whether the user belongs to the chat.
func (c *Chat) HasParticipant(userID bson.ObjectID) bool {
	_, ok := c.Participant(userID)
	return ok
}

// ParticipantByHex is Participant keyed by a hex user id, as used above the
// store layer.
func (c *Chat) ParticipantByHex(userHex string) (*Participant, bool) {
	id, err := bson.ObjectIDFromHex(userHex)
	if err != nil {
		return nil, false
	}
	return c.Participant(id)
}

// HasParticipantHex reports whether the hex user id belongs to the chat.
func (c *Chat) HasParticipantHex(userHex string) bool {
	_, ok := c.ParticipantByHex(userHex)
	return ok
}

// OtherParticipantHexIDs returns every participant id except the given user,
// as hex strings.
func (c *Chat) OtherParticipantHexIDs(userHex string) []string {
	others := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		if hex := p.UserID.Hex(); hex != userHex {
			others = append(others, hex)
		}
	}
	return others
}
