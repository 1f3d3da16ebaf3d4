package realtime

import (
	"log"
	"sync"

	"github.com/sharathr123/restochat/internal/chat"
)

// Close code sent to a connection displaced by a newer one for the same user.
const closeSessionReplaced = 4001

// Sender is the minimal transport surface the hub needs from a connection:
// the ability to push a payload and to be closed. Connection implements it;
// tests substitute fakes.
type Sender interface {
	Send(payload []byte) error
	Close(code int, reason string)
}

type session struct {
	id     string
	userID string
	sender Sender
}

// Hub tracks live connections and chat room subscriptions. It enforces one
// live connection per user (last writer wins) and implements the chat core's
// Registry and Dispatcher ports. All state is in-memory: a restart starts
// empty and heals as clients reconnect.
type Hub struct {
	mu        sync.RWMutex
	sessions  map[string]*session            // connection id -> session
	userConns map[string]string              // user id -> connection id
	rooms     map[string]map[string]struct{} // chat id -> connection ids
	connRooms map[string]map[string]struct{} // connection id -> chat ids
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		sessions:  make(map[string]*session),
		userConns: make(map[string]string),
		rooms:     make(map[string]map[string]struct{}),
		connRooms: make(map[string]map[string]struct{}),
	}
}

var (
	_ chat.Registry   = (*Hub)(nil)
	_ chat.Dispatcher = (*Hub)(nil)
)

// Attach registers a connection for the user. Any previous connection is
// removed first and closed after the swap.
func (h *Hub) Attach(connectionID, userID string, s Sender) {
	var previous *session

	h.mu.Lock()
	if existingID, ok := h.userConns[userID]; ok {
		previous = h.sessions[existingID]
		h.detachLocked(existingID)
	}
	h.sessions[connectionID] = &session{id: connectionID, userID: userID, sender: s}
	h.userConns[userID] = connectionID
	h.connRooms[connectionID] = make(map[string]struct{})
	h.mu.Unlock()

	if previous != nil {
		previous.sender.Close(closeSessionReplaced, "session replaced")
	}
}

// Release unregisters the connection. current is false when the connection
// was already displaced (or never attached), so a stale disconnect cannot
// mark a freshly reconnected user offline.
func (h *Hub) Release(connectionID string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sess, ok := h.sessions[connectionID]
	if !ok {
		return "", false
	}
	current := h.userConns[sess.userID] == connectionID
	h.detachLocked(connectionID)
	return sess.userID, current
}

// IsOnline reports whether the user has a live connection.
func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	_, ok := h.userConns[userID]
	h.mu.RUnlock()
	return ok
}

// ConnectionFor returns the user's current connection id.
func (h *Hub) ConnectionFor(userID string) (string, bool) {
	h.mu.RLock()
	id, ok := h.userConns[userID]
	h.mu.RUnlock()
	return id, ok
}

// JoinRoom subscribes the user's live connection, if any, to the chat room.
func (h *Hub) JoinRoom(chatID, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	connID, ok := h.userConns[userID]
	if !ok {
		return
	}

	room := h.rooms[chatID]
	if room == nil {
		room = make(map[string]struct{})
		h.rooms[chatID] = room
	}
	room[connID] = struct{}{}
	h.connRooms[connID][chatID] = struct{}{}
}

// SendToUser pushes the event to the user's live connection. Unreachable
// users are dropped; they catch up by pulling from the store.
func (h *Hub) SendToUser(userID string, ev chat.Event) bool {
	payload, err := Encode(ev)
	if err != nil {
		log.Printf("realtime: encode %s event: %v", ev.EventType(), err)
		return false
	}

	h.mu.RLock()
	var sess *session
	if connID, ok := h.userConns[userID]; ok {
		sess = h.sessions[connID]
	}
	h.mu.RUnlock()

	if sess == nil {
		return false
	}
	return sess.sender.Send(payload) == nil
}

// BroadcastRoom pushes the event to every connection subscribed to the chat
// room, except excludeUserID. Returns the number of deliveries.
func (h *Hub) BroadcastRoom(chatID string, ev chat.Event, excludeUserID string) int {
	payload, err := Encode(ev)
	if err != nil {
		log.Printf("realtime: encode %s event: %v", ev.EventType(), err)
		return 0
	}

	h.mu.RLock()
	members := make([]*session, 0, len(h.rooms[chatID]))
	for connID := range h.rooms[chatID] {
		if sess := h.sessions[connID]; sess != nil && sess.userID != excludeUserID {
			members = append(members, sess)
		}
	}
	h.mu.RUnlock()

	delivered := 0
	for _, sess := range members {
		if sess.sender.Send(payload) == nil {
			delivered++
		}
	}
	return delivered
}

// Shutdown closes every tracked connection and clears hub state.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	sessions := make([]*session, 0, len(h.sessions))
	for _, sess := range h.sessions {
		sessions = append(sessions, sess)
	}
	h.sessions = make(map[string]*session)
	h.userConns = make(map[string]string)
	h.rooms = make(map[string]map[string]struct{})
	h.connRooms = make(map[string]map[string]struct{})
	h.mu.Unlock()

	for _, sess := range sessions {
		sess.sender.Close(1001, "server shutdown")
	}
}

func (h *Hub) detachLocked(connectionID string) {
	sess, ok := h.sessions[connectionID]
	if !ok {
		return
	}
	delete(h.sessions, connectionID)

	if current, ok := h.userConns[sess.userID]; ok && current == connectionID {
		delete(h.userConns, sess.userID)
	}

	for chatID := range h.connRooms[connectionID] {
		if room := h.rooms[chatID]; room != nil {
			delete(room, connectionID)
			if len(room) == 0 {
				delete(h.rooms, chatID)
			}
		}
	}
	delete(h.connRooms, connectionID)
}
