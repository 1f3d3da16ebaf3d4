package chat

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/sharathr123/restochat/internal/data"
)

// Service is the chat engine: it owns the message lifecycle, room membership
// transitions, presence fan-out and typing relays. All collaborators are
// injected so every piece can be swapped (or faked in tests) without touching
// callers.
type Service struct {
	chats    ChatStore
	users    UserStore
	registry Registry
	views    ViewTracker
	dispatch Dispatcher
	locks    *lockTable
	now      func() time.Time
}

// NewService wires a Service from its collaborators.
func NewService(chats ChatStore, users UserStore, registry Registry, views ViewTracker, dispatch Dispatcher) *Service {
	return &Service{
		chats:    chats,
		users:    users,
		registry: registry,
		views:    views,
		dispatch: dispatch,
		locks:    newLockTable(),
		now:      time.Now,
	}
}

// HandleConnect is the connection lifecycle hook invoked after the transport
// registered a connection for the user: it persists reachability, joins the
// user's conversation rooms and tells online contacts. Failures here are
// logged, never fatal; the connection itself is already live.
func (s *Service) HandleConnect(ctx context.Context, userID, connectionID string) {
	if err := s.users.SetOnline(ctx, userID, connectionID); err != nil {
		log.Printf("chat: mark user %s online: %v", userID, err)
	}

	chatIDs, err := s.chats.ChatIDsForUser(ctx, userID)
	if err != nil {
		log.Printf("chat: list chats for %s: %v", userID, err)
	} else {
		for _, chatID := range chatIDs {
			s.dispatch.JoinRoom(chatID, userID)
		}
	}

	s.broadcastPresence(ctx, userID, true, nil)
}

// HandleDisconnect releases the connection. A stale disconnect racing a newer
// registration for the same user is ignored: the registry only reports
// current=true for the user's live connection.
func (s *Service) HandleDisconnect(ctx context.Context, connectionID string) {
	userID, current := s.registry.Release(connectionID)
	if userID == "" || !current {
		return
	}

	if err := s.views.Clear(ctx, userID); err != nil {
		log.Printf("chat: clear viewing state for %s: %v", userID, err)
	}

	lastSeen := s.now()
	if err := s.users.SetOffline(ctx, userID, lastSeen); err != nil {
		log.Printf("chat: mark user %s offline: %v", userID, err)
	}

	s.broadcastPresence(ctx, userID, false, &lastSeen)
}

// broadcastPresence pushes a presence-changed event to every online contact
// of the user: the union of other participants across all their chats.
// Best-effort; offline contacts read fresh registry state on their next
// fetch instead.
func (s *Service) broadcastPresence(ctx context.Context, userID string, online bool, lastSeen *time.Time) {
	contacts, err := s.chats.ContactIDs(ctx, userID)
	if err != nil {
		log.Printf("chat: contacts for %s: %v", userID, err)
		return
	}

	ev := &PresenceChanged{UserID: userID, IsOnline: online, LastSeen: lastSeen}
	for _, contact := range contacts {
		if s.registry.IsOnline(contact) {
			s.dispatch.SendToUser(contact, ev)
		}
	}
}

// EnterChat records that the user now has the conversation open: unseen
// messages become seen, the unread counter resets, and other participants
// get a read receipt.
func (s *Service) EnterChat(ctx context.Context, userID, chatID string) error {
	meta, err := s.chats.GetChatMeta(ctx, chatID)
	if err != nil {
		return err
	}
	if !meta.HasParticipantHex(userID) {
		return ErrNotParticipant
	}

	if err := s.views.Enter(ctx, userID, chatID); err != nil {
		return fmt.Errorf("track viewing state: %w", err)
	}

	if err := s.markRead(ctx, meta, userID); err != nil {
		return err
	}

	s.dispatch.SendToUser(userID, &ChatUpdated{ChatID: chatID, UnreadCount: 0})
	return nil
}

// LeaveChat clears the user's viewing state for the conversation. New
// messages go back to incrementing their unread counter.
func (s *Service) LeaveChat(ctx context.Context, userID, chatID string) error {
	if err := s.views.Leave(ctx, userID, chatID); err != nil {
		return fmt.Errorf("clear viewing state: %w", err)
	}
	return nil
}

// MarkRead performs the read bookkeeping of EnterChat without touching the
// viewing state; the REST conversation fetch uses it.
func (s *Service) MarkRead(ctx context.Context, userID, chatID string) error {
	meta, err := s.chats.GetChatMeta(ctx, chatID)
	if err != nil {
		return err
	}
	if !meta.HasParticipantHex(userID) {
		return ErrNotParticipant
	}
	return s.markRead(ctx, meta, userID)
}

func (s *Service) markRead(ctx context.Context, meta *data.Chat, userID string) error {
	chatID := meta.ID.Hex()

	unlock := s.locks.Lock(chatID)
	defer unlock()

	readAt := s.now()
	updates, err := s.chats.MarkChatSeen(ctx, chatID, userID, readAt)
	if err != nil {
		return fmt.Errorf("mark chat seen: %w", err)
	}

	receipt := &ReadReceipt{ChatID: chatID, ReadBy: userID, ReadAt: readAt}
	for _, other := range meta.OtherParticipantHexIDs(userID) {
		if s.registry.IsOnline(other) {
			s.dispatch.SendToUser(other, receipt)
		}
	}

	// Message authors additionally learn which of their messages just became
	// seen, mirroring the explicit seen acknowledgment path.
	for _, up := range updates {
		if up.SenderID == userID || !s.registry.IsOnline(up.SenderID) {
			continue
		}
		s.dispatch.SendToUser(up.SenderID, &MessageStatusUpdate{
			ChatID:    chatID,
			MessageID: up.MessageID,
			Status:    data.StatusSeen,
			UserID:    userID,
			At:        readAt,
		})
	}
	return nil
}

// SendMessageInput carries a client send request.
type SendMessageInput struct {
	ChatID   string
	SenderID string
	Content  string
	Type     string
	ReplyTo  string
	FileURL  string
	FileName string
	FileSize int64
}

// SendMessage runs the send protocol: verify membership, partition the other
// participants by reachability, persist the message atomically with its
// initial receipts and unread increments, then fan out. Persistence failures
// abort the send; unreachable recipients are not errors, they catch up by
// pulling.
func (s *Service) SendMessage(ctx context.Context, in SendMessageInput) (*data.Message, error) {
	if in.Content == "" && in.FileURL == "" {
		return nil, ErrEmptyMessage
	}
	msgType := in.Type
	if msgType == "" {
		msgType = data.MessageText
	}
	content := in.Content
	if content == "" {
		content = in.FileName
	}

	// The snapshot-partition-append-fanout sequence is atomic per
	// conversation so concurrent sends into the same chat keep unread and
	// message counts consistent: the metadata read must happen under the
	// lock or two sends could both partition against pre-append counters.
	// Independent chats never contend here.
	unlock := s.locks.Lock(in.ChatID)
	defer unlock()

	meta, err := s.chats.GetChatMeta(ctx, in.ChatID)
	if err != nil {
		return nil, err
	}
	if !meta.HasParticipantHex(in.SenderID) {
		return nil, ErrNotParticipant
	}

	sentAt := s.now()

	var seenBy, deliveredTo, unreadFor, reachable []string
	unreadAfter := make(map[string]int)
	for _, p := range meta.Participants {
		uid := p.UserID.Hex()
		if uid == in.SenderID {
			continue
		}

		viewing := false
		online := s.registry.IsOnline(uid)
		if online {
			v, err := s.views.Viewing(ctx, uid, in.ChatID)
			if err != nil {
				log.Printf("chat: viewing state for %s: %v", uid, err)
			}
			viewing = v
		}

		switch {
		case viewing:
			// Actively viewing: seen immediately, no unread increment.
			seenBy = append(seenBy, uid)
			deliveredTo = append(deliveredTo, uid)
			reachable = append(reachable, uid)
			unreadAfter[uid] = 0
		case online:
			deliveredTo = append(deliveredTo, uid)
			reachable = append(reachable, uid)
			unreadFor = append(unreadFor, uid)
			unreadAfter[uid] = p.UnreadCount + 1
		default:
			unreadFor = append(unreadFor, uid)
		}
	}

	msg, err := s.chats.AppendMessage(ctx, in.ChatID, data.MessageInput{
		SenderID:    in.SenderID,
		Content:     content,
		Type:        msgType,
		ReplyTo:     in.ReplyTo,
		FileURL:     in.FileURL,
		FileName:    in.FileName,
		FileSize:    in.FileSize,
		At:          sentAt,
		SeenBy:      seenBy,
		DeliveredTo: deliveredTo,
		UnreadFor:   unreadFor,
	})
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}

	summary := &data.LastMessage{
		Content:   msg.Content,
		SenderID:  msg.SenderID,
		Type:      msg.Type,
		Timestamp: msg.CreatedAt,
	}
	for _, uid := range reachable {
		s.dispatch.SendToUser(uid, &NewMessage{
			ChatID:  in.ChatID,
			Message: msg,
			Chat: ChatSummary{
				ID:          in.ChatID,
				Name:        meta.Name,
				Kind:        meta.Kind,
				LastMessage: summary,
				UnreadCount: unreadAfter[uid],
			},
		})
	}

	// The ack always reaches the sender, whatever the recipients' state.
	s.dispatch.SendToUser(in.SenderID, &MessageSent{ChatID: in.ChatID, Message: msg})
	return msg, nil
}

// AckDelivered records a delivery acknowledgment from a recipient. Repeat
// acknowledgments are no-ops: the sender is notified exactly once per
// (message, user). The per-chat lock keeps the ack from landing between
// markRead's collect and update, which would double-report the receipt.
func (s *Service) AckDelivered(ctx context.Context, chatID, messageID, userID string) error {
	unlock := s.locks.Lock(chatID)
	defer unlock()

	at := s.now()
	senderID, first, err := s.chats.MarkDelivered(ctx, chatID, messageID, userID, at)
	if err != nil {
		return err
	}
	if first && senderID != userID && s.registry.IsOnline(senderID) {
		s.dispatch.SendToUser(senderID, &MessageStatusUpdate{
			ChatID:    chatID,
			MessageID: messageID,
			Status:    data.StatusDelivered,
			UserID:    userID,
			At:        at,
		})
	}
	return nil
}

// AckSeen records a seen acknowledgment from a recipient, with the same
// idempotence contract as AckDelivered.
func (s *Service) AckSeen(ctx context.Context, chatID, messageID, userID string) error {
	unlock := s.locks.Lock(chatID)
	defer unlock()

	at := s.now()
	senderID, first, err := s.chats.MarkSeen(ctx, chatID, messageID, userID, at)
	if err != nil {
		return err
	}
	if first && senderID != userID && s.registry.IsOnline(senderID) {
		s.dispatch.SendToUser(senderID, &MessageStatusUpdate{
			ChatID:    chatID,
			MessageID: messageID,
			Status:    data.StatusSeen,
			UserID:    userID,
			At:        at,
		})
	}
	return nil
}

// SetTyping relays a typing indicator to the other connected participants.
// Nothing is retained or queued; offline participants simply miss it.
func (s *Service) SetTyping(ctx context.Context, userID, chatID string, isTyping bool) error {
	meta, err := s.chats.GetChatMeta(ctx, chatID)
	if err != nil {
		return err
	}
	if !meta.HasParticipantHex(userID) {
		return ErrNotParticipant
	}

	s.dispatch.BroadcastRoom(chatID, &UserTyping{ChatID: chatID, UserID: userID, IsTyping: isTyping}, userID)
	return nil
}

// CreateChatInput carries a conversation creation request.
type CreateChatInput struct {
	CreatorID      string
	ParticipantIDs []string
	Kind           string
	Name           string
}

// CreateChat creates a conversation and subscribes every connected member to
// its room, so later messages reach them without a reconnect. For an
// existing direct pair the previous conversation is returned instead; the
// second result reports that case.
func (s *Service) CreateChat(ctx context.Context, in CreateChatInput) (*data.Chat, bool, error) {
	kind := in.Kind
	if kind == "" {
		kind = data.ChatDirect
	}
	switch kind {
	case data.ChatDirect, data.ChatGroup, data.ChatSupport:
	default:
		return nil, false, ErrInvalidChat
	}

	seen := map[string]struct{}{in.CreatorID: {}}
	ids := []string{in.CreatorID}
	for _, id := range in.ParticipantIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if len(ids) < 2 || (kind == data.ChatDirect && len(ids) != 2) {
		return nil, false, ErrInvalidChat
	}

	ok, err := s.users.AllUsersExist(ctx, ids)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, ErrUserNotFound
	}

	chat, existing, err := s.chats.CreateChat(ctx, data.CreateChatInput{
		CreatorID:      in.CreatorID,
		ParticipantIDs: ids,
		Kind:           kind,
		Name:           in.Name,
	})
	if err != nil {
		return nil, false, err
	}

	if !existing {
		chatID := chat.ID.Hex()
		for _, uid := range ids {
			if !s.registry.IsOnline(uid) {
				continue
			}
			s.dispatch.JoinRoom(chatID, uid)
			if uid != in.CreatorID {
				s.dispatch.SendToUser(uid, &ChatCreated{Chat: chat})
			}
		}
	}
	return chat, existing, nil
}
