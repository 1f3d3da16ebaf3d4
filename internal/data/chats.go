package data

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

var (
	ErrChatNotFound    = errors.New("chat not found")
	ErrMessageNotFound = errors.New("message not found")
)

// ChatsStore provides conversation and message database operations. Messages
// live embedded in the chat document, so every message mutation is a single
// targeted update on the chats collection.
type ChatsStore struct {
	coll *mongo.Collection
}

// NewChatsStore returns a ChatsStore using the given collection.
func NewChatsStore(coll *mongo.Collection) *ChatsStore {
	return &ChatsStore{coll: coll}
}

// metaProjection excludes the message log; used wherever only membership,
// participant bookkeeping or the last-message summary is needed.
var metaProjection = bson.M{"messages": 0}

func chatID(hex string) (bson.ObjectID, error) {
	id, err := bson.ObjectIDFromHex(hex)
	if err != nil {
		return bson.ObjectID{}, ErrChatNotFound
	}
	return id, nil
}

// CreateChatInput carries the parameters for CreateChat.
type CreateChatInput struct {
	CreatorID      string
	ParticipantIDs []string
	Kind           string
	Name           string
}

// CreateChat creates a conversation. For direct chats between two users an
// existing conversation for the same pair is returned instead of creating a
// duplicate; the second return value reports whether that happened.
func (s *ChatsStore) CreateChat(ctx context.Context, in CreateChatInput) (*Chat, bool, error) {
	creator, err := bson.ObjectIDFromHex(in.CreatorID)
	if err != nil {
		return nil, false, ErrUserNotFound
	}

	ids := []bson.ObjectID{creator}
	for _, hex := range in.ParticipantIDs {
		id, err := bson.ObjectIDFromHex(hex)
		if err != nil {
			return nil, false, ErrUserNotFound
		}
		if id != creator {
			ids = append(ids, id)
		}
	}

	if in.Kind == ChatDirect && len(ids) == 2 {
		var existing Chat
		err := s.coll.FindOne(ctx, bson.M{
			"kind":                 ChatDirect,
			"participants":         bson.M{"$size": 2},
			"participants.user_id": bson.M{"$all": bson.A{ids[0], ids[1]}},
		}, options.FindOne().SetProjection(metaProjection)).Decode(&existing)
		if err == nil {
			return &existing, true, nil
		}
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return nil, false, err
		}
	}

	now := time.Now()
	chat := &Chat{
		Kind:      in.Kind,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if in.Kind == ChatGroup {
		chat.Name = in.Name
	}
	for _, id := range ids {
		role := RoleMember
		if id == creator {
			role = RoleOwner
		}
		chat.Participants = append(chat.Participants, Participant{
			UserID:     id,
			Role:       role,
			JoinedAt:   now,
			LastSeenAt: now,
		})
	}

	result, err := s.coll.InsertOne(ctx, chat)
	if err != nil {
		return nil, false, err
	}
	chat.ID = result.InsertedID.(bson.ObjectID)
	return chat, false, nil
}

// GetChat returns the full conversation including the message log.
func (s *ChatsStore) GetChat(ctx context.Context, chatHex string) (*Chat, error) {
	id, err := chatID(chatHex)
	if err != nil {
		return nil, err
	}

	var chat Chat
	if err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&chat); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrChatNotFound
		}
		return nil, err
	}
	return &chat, nil
}

// GetChatMeta returns the conversation without its message log.
func (s *ChatsStore) GetChatMeta(ctx context.Context, chatHex string) (*Chat, error) {
	id, err := chatID(chatHex)
	if err != nil {
		return nil, err
	}

	var chat Chat
	err = s.coll.FindOne(ctx, bson.M{"_id": id}, options.FindOne().SetProjection(metaProjection)).Decode(&chat)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrChatNotFound
		}
		return nil, err
	}
	return &chat, nil
}

// ListUserChats returns the user's active conversations (without message
// logs), most recent activity first.
func (s *ChatsStore) ListUserChats(ctx context.Context, userHex string) ([]*Chat, error) {
	id, err := bson.ObjectIDFromHex(userHex)
	if err != nil {
		return nil, ErrUserNotFound
	}

	opts := options.Find().
		SetProjection(metaProjection).
		SetSort(bson.M{"last_message.timestamp": -1})

	cursor, err := s.coll.Find(ctx, bson.M{"participants.user_id": id, "is_active": true}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var chats []*Chat
	if err = cursor.All(ctx, &chats); err != nil {
		return nil, err
	}
	return chats, nil
}

// ChatIDsForUser lists the ids of every conversation the user belongs to.
func (s *ChatsStore) ChatIDsForUser(ctx context.Context, userHex string) ([]string, error) {
	id, err := bson.ObjectIDFromHex(userHex)
	if err != nil {
		return nil, ErrUserNotFound
	}

	var ids []bson.ObjectID
	res := s.coll.Distinct(ctx, "_id", bson.M{"participants.user_id": id})
	if err := res.Decode(&ids); err != nil {
		return nil, err
	}

	out := make([]string, 0, len(ids))
	for _, oid := range ids {
		out = append(out, oid.Hex())
	}
	return out, nil
}

// ContactIDs returns the distinct set of users sharing at least one
// conversation with the given user.
func (s *ChatsStore) ContactIDs(ctx context.Context, userHex string) ([]string, error) {
	id, err := bson.ObjectIDFromHex(userHex)
	if err != nil {
		return nil, ErrUserNotFound
	}

	var ids []bson.ObjectID
	res := s.coll.Distinct(ctx, "participants.user_id", bson.M{"participants.user_id": id})
	if err := res.Decode(&ids); err != nil {
		return nil, err
	}

	out := make([]string, 0, len(ids))
	for _, oid := range ids {
		if oid != id {
			out = append(out, oid.Hex())
		}
	}
	return out, nil
}

// MessageInput carries a fully-partitioned message append: the receipts and
// unread increments are decided by the caller so that the append is a single
// atomic update.
type MessageInput struct {
	SenderID string
	Content  string
	Type     string
	ReplyTo  string
	FileURL  string
	FileName string
	FileSize int64
	At       time.Time

	// SeenBy holds recipients actively viewing the conversation, DeliveredTo
	// holds those plus recipients online elsewhere, UnreadFor holds every
	// other participant not actively viewing.
	SeenBy      []string
	DeliveredTo []string
	UnreadFor   []string
}

// AppendMessage appends a message to the conversation log, updates the
// denormalized last-message summary and message count, and increments unread
// counters, all in one update.
func (s *ChatsStore) AppendMessage(ctx context.Context, chatHex string, in MessageInput) (*Message, error) {
	id, err := chatID(chatHex)
	if err != nil {
		return nil, err
	}
	sender, err := bson.ObjectIDFromHex(in.SenderID)
	if err != nil {
		return nil, ErrUserNotFound
	}

	msg := &Message{
		ID:          bson.NewObjectID(),
		SenderID:    sender,
		Content:     in.Content,
		Type:        in.Type,
		Status:      StatusSent,
		FileURL:     in.FileURL,
		FileName:    in.FileName,
		FileSize:    in.FileSize,
		DeliveredTo: []Receipt{},
		SeenBy:      []Receipt{},
		CreatedAt:   in.At,
	}
	if in.ReplyTo != "" {
		replyTo, err := bson.ObjectIDFromHex(in.ReplyTo)
		if err != nil {
			return nil, ErrMessageNotFound
		}
		msg.ReplyTo = &replyTo
	}
	for _, hex := range in.DeliveredTo {
		uid, err := bson.ObjectIDFromHex(hex)
		if err != nil {
			return nil, ErrUserNotFound
		}
		msg.DeliveredTo = append(msg.DeliveredTo, Receipt{UserID: uid, At: in.At})
		msg.Status = StatusDelivered
	}
	for _, hex := range in.SeenBy {
		uid, err := bson.ObjectIDFromHex(hex)
		if err != nil {
			return nil, ErrUserNotFound
		}
		msg.SeenBy = append(msg.SeenBy, Receipt{UserID: uid, At: in.At})
		msg.Status = StatusSeen
	}

	unread := make([]bson.ObjectID, 0, len(in.UnreadFor))
	for _, hex := range in.UnreadFor {
		uid, err := bson.ObjectIDFromHex(hex)
		if err != nil {
			return nil, ErrUserNotFound
		}
		unread = append(unread, uid)
	}

	update := bson.M{
		"$push": bson.M{"messages": msg},
		"$set": bson.M{
			"last_message": LastMessage{
				Content:   msg.Content,
				SenderID:  msg.SenderID,
				Type:      msg.Type,
				Timestamp: msg.CreatedAt,
			},
			"updated_at": in.At,
		},
		"$inc": bson.M{
			"message_count":                  1,
			"participants.$[u].unread_count": 1,
		},
	}
	opts := options.UpdateOne().SetArrayFilters([]interface{}{
		bson.M{"u.user_id": bson.M{"$in": unread}},
	})

	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": id}, update, opts)
	if err != nil {
		return nil, err
	}
	if res.MatchedCount == 0 {
		return nil, ErrChatNotFound
	}
	return msg, nil
}

// SeenUpdate identifies a message that newly became seen during a
// MarkChatSeen call, so the engine can notify its author.
type SeenUpdate struct {
	MessageID string
	SenderID  string
}

// MarkChatSeen records that the user has read the conversation: the unread
// counter resets to zero and every message authored by someone else gains a
// seen receipt for the user. Both operations are idempotent; the returned
// list holds only the messages whose receipt was added by this call. Callers
// serialize per conversation, so the read-then-update pair is not racy.
func (s *ChatsStore) MarkChatSeen(ctx context.Context, chatHex, userHex string, at time.Time) ([]SeenUpdate, error) {
	id, err := chatID(chatHex)
	if err != nil {
		return nil, err
	}
	uid, err := bson.ObjectIDFromHex(userHex)
	if err != nil {
		return nil, ErrUserNotFound
	}

	// Collect the messages the update below will touch.
	var doc struct {
		Messages []Message `bson:"messages"`
	}
	err = s.coll.FindOne(ctx, bson.M{"_id": id}, options.FindOne().SetProjection(bson.M{
		"messages": bson.M{"$filter": bson.M{
			"input": "$messages",
			"as":    "m",
			"cond": bson.M{"$and": bson.A{
				bson.M{"$ne": bson.A{"$$m.sender_id", uid}},
				bson.M{"$not": bson.M{"$in": bson.A{uid, "$$m.seen_by.user_id"}}},
			}},
		}},
	})).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrChatNotFound
		}
		return nil, err
	}

	update := bson.M{
		"$set": bson.M{
			"participants.$[p].unread_count": 0,
			"participants.$[p].last_seen_at": at,
			"messages.$[m].status":           StatusSeen,
		},
		"$push": bson.M{
			"messages.$[m].seen_by": Receipt{UserID: uid, At: at},
		},
	}
	opts := options.UpdateOne().SetArrayFilters([]interface{}{
		bson.M{"p.user_id": uid},
		bson.M{"m.sender_id": bson.M{"$ne": uid}, "m.seen_by.user_id": bson.M{"$ne": uid}},
	})

	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": id}, update, opts)
	if err != nil {
		return nil, err
	}
	if res.MatchedCount == 0 {
		return nil, ErrChatNotFound
	}

	updates := make([]SeenUpdate, 0, len(doc.Messages))
	for _, m := range doc.Messages {
		updates = append(updates, SeenUpdate{MessageID: m.ID.Hex(), SenderID: m.SenderID.Hex()})
	}
	return updates, nil
}

// MessageSender returns the sender of a message in the conversation.
func (s *ChatsStore) MessageSender(ctx context.Context, chatHex, messageHex string) (string, error) {
	id, err := chatID(chatHex)
	if err != nil {
		return "", err
	}
	msgID, err := bson.ObjectIDFromHex(messageHex)
	if err != nil {
		return "", ErrMessageNotFound
	}

	var doc struct {
		Messages []Message `bson:"messages"`
	}
	err = s.coll.FindOne(ctx,
		bson.M{"_id": id, "messages._id": msgID},
		options.FindOne().SetProjection(bson.M{"messages.$": 1}),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", ErrMessageNotFound
		}
		return "", err
	}
	if len(doc.Messages) == 0 {
		return "", ErrMessageNotFound
	}
	return doc.Messages[0].SenderID.Hex(), nil
}

// MarkDelivered appends a delivery receipt for the user. The receipt is
// idempotent per (message, user): a repeat call changes nothing and reports
// first=false. The aggregate status only advances from "sent"; it never
// regresses an already-seen message.
func (s *ChatsStore) MarkDelivered(ctx context.Context, chatHex, messageHex, userHex string, at time.Time) (senderID string, first bool, err error) {
	senderID, err = s.MessageSender(ctx, chatHex, messageHex)
	if err != nil {
		return "", false, err
	}

	id, _ := chatID(chatHex)
	msgID, _ := bson.ObjectIDFromHex(messageHex)
	uid, err := bson.ObjectIDFromHex(userHex)
	if err != nil {
		return "", false, ErrUserNotFound
	}

	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": id, "messages": bson.M{"$elemMatch": bson.M{
			"_id":                  msgID,
			"delivered_to.user_id": bson.M{"$ne": uid},
		}}},
		bson.M{"$push": bson.M{"messages.$.delivered_to": Receipt{UserID: uid, At: at}}},
	)
	if err != nil {
		return "", false, err
	}
	if res.ModifiedCount == 0 {
		return senderID, false, nil
	}

	// Promote sent -> delivered; a separate guarded update so a message some
	// other recipient already saw keeps its "seen" summary.
	_, err = s.coll.UpdateOne(ctx,
		bson.M{"_id": id, "messages": bson.M{"$elemMatch": bson.M{"_id": msgID, "status": StatusSent}}},
		bson.M{"$set": bson.M{"messages.$.status": StatusDelivered}},
	)
	if err != nil {
		return "", false, err
	}
	return senderID, true, nil
}

// MarkSeen appends a seen receipt for the user, idempotent per
// (message, user), and advances the aggregate status to "seen".
func (s *ChatsStore) MarkSeen(ctx context.Context, chatHex, messageHex, userHex string, at time.Time) (senderID string, first bool, err error) {
	senderID, err = s.MessageSender(ctx, chatHex, messageHex)
	if err != nil {
		return "", false, err
	}

	id, _ := chatID(chatHex)
	msgID, _ := bson.ObjectIDFromHex(messageHex)
	uid, err := bson.ObjectIDFromHex(userHex)
	if err != nil {
		return "", false, ErrUserNotFound
	}

	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": id, "messages": bson.M{"$elemMatch": bson.M{
			"_id":             msgID,
			"seen_by.user_id": bson.M{"$ne": uid},
		}}},
		bson.M{
			"$push": bson.M{"messages.$.seen_by": Receipt{UserID: uid, At: at}},
			"$set":  bson.M{"messages.$.status": StatusSeen},
		},
	)
	if err != nil {
		return "", false, err
	}
	return senderID, res.ModifiedCount > 0, nil
}

// ListMessagesAfter returns messages in the conversation created after the
// given time, in append order. A zero time returns from the beginning.
func (s *ChatsStore) ListMessagesAfter(ctx context.Context, chatHex string, after time.Time, limit int64) ([]Message, error) {
	id, err := chatID(chatHex)
	if err != nil {
		return nil, err
	}

	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.M{"_id": id}}},
		bson.D{{Key: "$unwind", Value: "$messages"}},
		bson.D{{Key: "$match", Value: bson.M{"messages.created_at": bson.M{"$gt": after}}}},
		bson.D{{Key: "$sort", Value: bson.M{"messages.created_at": 1}}},
		bson.D{{Key: "$limit", Value: limit}},
		bson.D{{Key: "$replaceRoot", Value: bson.M{"newRoot": "$messages"}}},
	}

	cursor, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var messages []Message
	if err = cursor.All(ctx, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// SetPinned updates the pinned flag on the user's participant entry.
func (s *ChatsStore) SetPinned(ctx context.Context, chatHex, userHex string, pinned bool) error {
	return s.setParticipantField(ctx, chatHex, userHex, bson.M{"participants.$[p].is_pinned": pinned})
}

// SetMuted sets or clears the mute deadline on the user's participant entry.
// Mute is client-side notification suppression only; the server keeps
// counting unread and pushing events regardless.
func (s *ChatsStore) SetMuted(ctx context.Context, chatHex, userHex string, until *time.Time) error {
	if until == nil {
		id, err := chatID(chatHex)
		if err != nil {
			return err
		}
		uid, err := bson.ObjectIDFromHex(userHex)
		if err != nil {
			return ErrUserNotFound
		}
		res, err := s.coll.UpdateOne(ctx, bson.M{"_id": id},
			bson.M{"$unset": bson.M{"participants.$[p].muted_until": ""}},
			options.UpdateOne().SetArrayFilters([]interface{}{bson.M{"p.user_id": uid}}),
		)
		if err != nil {
			return err
		}
		if res.MatchedCount == 0 {
			return ErrChatNotFound
		}
		return nil
	}
	return s.setParticipantField(ctx, chatHex, userHex, bson.M{"participants.$[p].muted_until": *until})
}

func (s *ChatsStore) setParticipantField(ctx context.Context, chatHex, userHex string, fields bson.M) error {
	id, err := chatID(chatHex)
	if err != nil {
		return err
	}
	uid, err := bson.ObjectIDFromHex(userHex)
	if err != nil {
		return ErrUserNotFound
	}

	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": id},
		bson.M{"$set": fields},
		options.UpdateOne().SetArrayFilters([]interface{}{bson.M{"p.user_id": uid}}),
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrChatNotFound
	}
	return nil
}

// SoftDeleteMessage clears the content of the sender's own message and flags
// it deleted. Messages are never removed from the log.
func (s *ChatsStore) SoftDeleteMessage(ctx context.Context, chatHex, messageHex, senderHex string, at time.Time) error {
	id, err := chatID(chatHex)
	if err != nil {
		return err
	}
	msgID, err := bson.ObjectIDFromHex(messageHex)
	if err != nil {
		return ErrMessageNotFound
	}
	sender, err := bson.ObjectIDFromHex(senderHex)
	if err != nil {
		return ErrUserNotFound
	}

	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": id, "messages": bson.M{"$elemMatch": bson.M{"_id": msgID, "sender_id": sender}}},
		bson.M{"$set": bson.M{
			"messages.$.content":    "",
			"messages.$.is_deleted": true,
			"messages.$.deleted_at": at,
		}},
	)
	if err != nil {
		return err
	}
	if res.ModifiedCount == 0 {
		return ErrMessageNotFound
	}
	return nil
}
