package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/sharathr123/restochat/internal/auth"
	"github.com/sharathr123/restochat/internal/chat"
	"github.com/sharathr123/restochat/internal/data"
	"github.com/sharathr123/restochat/internal/realtime"
)

// fakeUserStore implements both the handlers' userStore and the chat core's
// UserStore so one fixture serves the whole stack.
type fakeUserStore struct {
	users map[string]*data.User // hex id -> user
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: map[string]*data.User{}}
}

func (f *fakeUserStore) add(name, email string) *data.User {
	u := &data.User{ID: bson.NewObjectID(), Name: name, Email: email, IsActive: true}
	f.users[u.ID.Hex()] = u
	return u
}

func (f *fakeUserStore) CreateUser(ctx context.Context, name, email, hashedPassword string) (*data.User, error) {
	for _, u := range f.users {
		if u.Email == email {
			return nil, data.ErrDuplicateUser
		}
	}
	u := f.add(name, email)
	u.Password = hashedPassword
	return u, nil
}

func (f *fakeUserStore) GetUserByEmail(ctx context.Context, email string) (*data.User, error) {
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, data.ErrUserNotFound
}

func (f *fakeUserStore) GetUserByID(ctx context.Context, userID string) (*data.User, error) {
	if u, ok := f.users[userID]; ok {
		return u, nil
	}
	return nil, data.ErrUserNotFound
}

func (f *fakeUserStore) UserExists(ctx context.Context, email string) (bool, error) {
	_, err := f.GetUserByEmail(ctx, email)
	return err == nil, nil
}

func (f *fakeUserStore) OnlineUsers(ctx context.Context, excludeUserID string) ([]*data.User, error) {
	var out []*data.User
	for id, u := range f.users {
		if u.IsOnline && id != excludeUserID {
			out = append(out, u)
		}
	}
	return out, nil
}

func (f *fakeUserStore) SearchUsers(ctx context.Context, query, excludeUserID string, limit int64) ([]*data.User, error) {
	var out []*data.User
	for id, u := range f.users {
		if id == excludeUserID {
			continue
		}
		if strings.Contains(strings.ToLower(u.Name), strings.ToLower(query)) {
			out = append(out, u)
		}
	}
	return out, nil
}

func (f *fakeUserStore) SetOnline(ctx context.Context, userID, connectionID string) error {
	if u, ok := f.users[userID]; ok {
		u.IsOnline = true
		u.ConnectionID = connectionID
	}
	return nil
}

func (f *fakeUserStore) SetOffline(ctx context.Context, userID string, lastSeen time.Time) error {
	if u, ok := f.users[userID]; ok {
		u.IsOnline = false
		u.LastSeen = &lastSeen
	}
	return nil
}

func (f *fakeUserStore) AllUsersExist(ctx context.Context, userIDs []string) (bool, error) {
	for _, id := range userIDs {
		if _, ok := f.users[id]; !ok {
			return false, nil
		}
	}
	return true, nil
}

// fakeChatStore likewise implements the handlers' chatStore and the chat
// core's ChatStore.
type fakeChatStore struct {
	chats map[string]*data.Chat

	pinned    map[string]bool
	muted     map[string]*time.Time
	deleted   []string
	appended  []data.MessageInput
	seenCalls int
}

func newFakeChatStore() *fakeChatStore {
	return &fakeChatStore{
		chats:  map[string]*data.Chat{},
		pinned: map[string]bool{},
		muted:  map[string]*time.Time{},
	}
}

func (f *fakeChatStore) add(kind string, members ...bson.ObjectID) *data.Chat {
	ch := &data.Chat{ID: bson.NewObjectID(), Kind: kind, IsActive: true}
	for _, m := range members {
		ch.Participants = append(ch.Participants, data.Participant{UserID: m, Role: data.RoleMember})
	}
	f.chats[ch.ID.Hex()] = ch
	return ch
}

func (f *fakeChatStore) GetChat(ctx context.Context, chatID string) (*data.Chat, error) {
	if ch, ok := f.chats[chatID]; ok {
		return ch, nil
	}
	return nil, data.ErrChatNotFound
}

func (f *fakeChatStore) GetChatMeta(ctx context.Context, chatID string) (*data.Chat, error) {
	return f.GetChat(ctx, chatID)
}

func (f *fakeChatStore) ListUserChats(ctx context.Context, userID string) ([]*data.Chat, error) {
	var out []*data.Chat
	for _, ch := range f.chats {
		if ch.HasParticipantHex(userID) {
			out = append(out, ch)
		}
	}
	return out, nil
}

func (f *fakeChatStore) ListMessagesAfter(ctx context.Context, chatID string, after time.Time, limit int64) ([]data.Message, error) {
	ch, err := f.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	var out []data.Message
	for _, m := range ch.Messages {
		if m.CreatedAt.After(after) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeChatStore) SetPinned(ctx context.Context, chatID, userID string, pinned bool) error {
	f.pinned[chatID+"/"+userID] = pinned
	return nil
}

func (f *fakeChatStore) SetMuted(ctx context.Context, chatID, userID string, until *time.Time) error {
	f.muted[chatID+"/"+userID] = until
	return nil
}

func (f *fakeChatStore) SoftDeleteMessage(ctx context.Context, chatID, messageID, senderID string, at time.Time) error {
	if _, ok := f.chats[chatID]; !ok {
		return data.ErrChatNotFound
	}
	f.deleted = append(f.deleted, messageID)
	return nil
}

func (f *fakeChatStore) ChatIDsForUser(ctx context.Context, userID string) ([]string, error) {
	var out []string
	for id, ch := range f.chats {
		if ch.HasParticipantHex(userID) {
			out = append(out, id)
		}
	}
	return out, nil
}

func (f *fakeChatStore) ContactIDs(ctx context.Context, userID string) ([]string, error) {
	return nil, nil
}

func (f *fakeChatStore) CreateChat(ctx context.Context, in data.CreateChatInput) (*data.Chat, bool, error) {
	ids := make([]bson.ObjectID, 0, len(in.ParticipantIDs))
	for _, hex := range in.ParticipantIDs {
		id, err := bson.ObjectIDFromHex(hex)
		if err != nil {
			return nil, false, err
		}
		ids = append(ids, id)
	}
	ch := f.add(in.Kind, ids...)
	ch.Name = in.Name
	return ch, false, nil
}

func (f *fakeChatStore) AppendMessage(ctx context.Context, chatID string, in data.MessageInput) (*data.Message, error) {
	f.appended = append(f.appended, in)
	sender, err := bson.ObjectIDFromHex(in.SenderID)
	if err != nil {
		return nil, err
	}
	return &data.Message{ID: bson.NewObjectID(), SenderID: sender, Content: in.Content, Type: in.Type, CreatedAt: in.At}, nil
}

func (f *fakeChatStore) MarkChatSeen(ctx context.Context, chatID, userID string, at time.Time) ([]data.SeenUpdate, error) {
	f.seenCalls++
	return nil, nil
}

func (f *fakeChatStore) MarkDelivered(ctx context.Context, chatID, messageID, userID string, at time.Time) (string, bool, error) {
	return "", false, nil
}

func (f *fakeChatStore) MarkSeen(ctx context.Context, chatID, messageID, userID string, at time.Time) (string, bool, error) {
	return "", false, nil
}

var (
	_ userStore      = (*fakeUserStore)(nil)
	_ chatStore      = (*fakeChatStore)(nil)
	_ chat.UserStore = (*fakeUserStore)(nil)
	_ chat.ChatStore = (*fakeChatStore)(nil)
)

type testEnv struct {
	router *gin.Engine
	srv    *Server
	users  *fakeUserStore
	chats  *fakeChatStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	users := newFakeUserStore()
	chats := newFakeChatStore()
	hub := realtime.NewHub()
	svc := chat.NewService(chats, users, hub, chat.NewActiveViews(), hub)
	jwtMgr := auth.NewJWTManager("test-secret", time.Hour)

	srv := newServer(users, chats, svc, hub, jwtMgr, nil)
	router := gin.New()
	srv.routes(router)

	return &testEnv{router: router, srv: srv, users: users, chats: chats}
}

func (e *testEnv) tokenFor(t *testing.T, u *data.User) string {
	t.Helper()
	token, _, err := e.srv.auth.GenerateToken(u.ID, u.Email)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	return token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestRegisterThenLogin(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodPost, "/api/auth/register", "", gin.H{
		"name":     "Sofia",
		"email":    "Sofia@Example.com",
		"password": "hunter22",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register: got %d, want 201 (%s)", w.Code, w.Body.String())
	}

	// the stored email is normalized, so the mixed-case login still works
	w = e.do(t, http.MethodPost, "/api/auth/login", "", gin.H{
		"email":    "sofia@example.com",
		"password": "hunter22",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("login: got %d, want 200 (%s)", w.Code, w.Body.String())
	}

	var resp struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	if resp.Data.Token == "" {
		t.Fatal("login response missing token")
	}

	// the issued token works against a protected endpoint
	w = e.do(t, http.MethodGet, "/api/me", resp.Data.Token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("me: got %d, want 200 (%s)", w.Code, w.Body.String())
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	e := newTestEnv(t)
	e.users.add("Sofia", "sofia@example.com")

	w := e.do(t, http.MethodPost, "/api/auth/register", "", gin.H{
		"name":     "Another Sofia",
		"email":    "sofia@example.com",
		"password": "hunter22",
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("got %d, want 409", w.Code)
	}
}

func TestRegister_ShortPassword(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodPost, "/api/auth/register", "", gin.H{
		"name":     "Sofia",
		"email":    "sofia@example.com",
		"password": "abc",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400", w.Code)
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	e := newTestEnv(t)

	hash, err := auth.HashPassword("right-password")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	u := e.users.add("Sofia", "sofia@example.com")
	u.Password = hash

	w := e.do(t, http.MethodPost, "/api/auth/login", "", gin.H{
		"email":    "sofia@example.com",
		"password": "wrong-password",
	})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("got %d, want 401", w.Code)
	}
}

func TestRequireAuth_RejectsMissingAndBogusTokens(t *testing.T) {
	e := newTestEnv(t)

	if w := e.do(t, http.MethodGet, "/api/chats", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("no token: got %d, want 401", w.Code)
	}
	if w := e.do(t, http.MethodGet, "/api/chats", "not-a-jwt", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("bogus token: got %d, want 401", w.Code)
	}
}

// nopSender satisfies the hub's sender contract for tests that only need a
// user to count as online.
type nopSender struct{}

func (nopSender) Send([]byte) error          { return nil }
func (nopSender) Close(code int, msg string) {}

func TestListChats_ReturnsCallerView(t *testing.T) {
	e := newTestEnv(t)
	alice := e.users.add("Alice", "alice@example.com")
	bob := e.users.add("Bob", "bob@example.com")
	carol := e.users.add("Carol", "carol@example.com")

	pinned := e.chats.add(data.ChatDirect, alice.ID, bob.ID)
	pinned.Participants[0].UnreadCount = 7
	pinned.Participants[0].IsPinned = true
	plain := e.chats.add(data.ChatDirect, alice.ID, carol.ID)

	e.srv.hub.Attach("conn-bob", bob.ID.Hex(), nopSender{})

	w := e.do(t, http.MethodGet, "/api/chats", e.tokenFor(t, alice), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("got %d, want 200 (%s)", w.Code, w.Body.String())
	}

	var resp struct {
		Data []struct {
			ID          string `json:"id"`
			UnreadCount int    `json:"unread_count"`
			IsPinned    bool   `json:"is_pinned"`
			PeerID      string `json:"peer_id"`
			PeerOnline  bool   `json:"peer_online"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Data) != 2 {
		t.Fatalf("got %d chats, want 2", len(resp.Data))
	}
	first := resp.Data[0]
	if first.ID != pinned.ID.Hex() || !first.IsPinned {
		t.Fatalf("pinned chat should come first: %+v", first)
	}
	if first.UnreadCount != 7 {
		t.Fatalf("caller view not applied: %+v", first)
	}
	if first.PeerID != bob.ID.Hex() || !first.PeerOnline {
		t.Fatalf("peer presence not reflected: %+v", first)
	}
	second := resp.Data[1]
	if second.ID != plain.ID.Hex() || second.PeerOnline {
		t.Fatalf("offline peer should not show online: %+v", second)
	}
}

func TestGetChat_MarksRead(t *testing.T) {
	e := newTestEnv(t)
	alice := e.users.add("Alice", "alice@example.com")
	bob := e.users.add("Bob", "bob@example.com")
	ch := e.chats.add(data.ChatDirect, alice.ID, bob.ID)

	w := e.do(t, http.MethodGet, "/api/chats/"+ch.ID.Hex(), e.tokenFor(t, alice), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("got %d, want 200 (%s)", w.Code, w.Body.String())
	}
	if e.chats.seenCalls != 1 {
		t.Fatalf("opening the chat should mark it seen once, got %d calls", e.chats.seenCalls)
	}
}

func TestGetChat_NotParticipant(t *testing.T) {
	e := newTestEnv(t)
	alice := e.users.add("Alice", "alice@example.com")
	stranger := e.users.add("Mallory", "mallory@example.com")
	ch := e.chats.add(data.ChatDirect, alice.ID, bson.NewObjectID())

	w := e.do(t, http.MethodGet, "/api/chats/"+ch.ID.Hex(), e.tokenFor(t, stranger), nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("got %d, want 403", w.Code)
	}
}

func TestSendMessage_Endpoint(t *testing.T) {
	e := newTestEnv(t)
	alice := e.users.add("Alice", "alice@example.com")
	bob := e.users.add("Bob", "bob@example.com")
	ch := e.chats.add(data.ChatDirect, alice.ID, bob.ID)

	w := e.do(t, http.MethodPost, "/api/chats/"+ch.ID.Hex()+"/messages", e.tokenFor(t, alice), gin.H{
		"content": "two margheritas please",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("got %d, want 201 (%s)", w.Code, w.Body.String())
	}
	if len(e.chats.appended) != 1 {
		t.Fatalf("message not persisted")
	}
	if e.chats.appended[0].SenderID != alice.ID.Hex() {
		t.Fatalf("sender mismatch: %s", e.chats.appended[0].SenderID)
	}

	// empty body is a 400, not a persisted blank message
	w = e.do(t, http.MethodPost, "/api/chats/"+ch.ID.Hex()+"/messages", e.tokenFor(t, alice), gin.H{})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("empty message: got %d, want 400", w.Code)
	}
}

func TestCreateChat_Endpoint(t *testing.T) {
	e := newTestEnv(t)
	alice := e.users.add("Alice", "alice@example.com")
	bob := e.users.add("Bob", "bob@example.com")

	w := e.do(t, http.MethodPost, "/api/chats", e.tokenFor(t, alice), gin.H{
		"participant_ids": []string{bob.ID.Hex()},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("got %d, want 201 (%s)", w.Code, w.Body.String())
	}

	// unknown participant
	w = e.do(t, http.MethodPost, "/api/chats", e.tokenFor(t, alice), gin.H{
		"participant_ids": []string{bson.NewObjectID().Hex()},
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown participant: got %d, want 404 (%s)", w.Code, w.Body.String())
	}
}

func TestPinAndMuteChat(t *testing.T) {
	e := newTestEnv(t)
	alice := e.users.add("Alice", "alice@example.com")
	bob := e.users.add("Bob", "bob@example.com")
	ch := e.chats.add(data.ChatDirect, alice.ID, bob.ID)
	token := e.tokenFor(t, alice)
	key := ch.ID.Hex() + "/" + alice.ID.Hex()

	w := e.do(t, http.MethodPut, "/api/chats/"+ch.ID.Hex()+"/pin", token, gin.H{"pinned": true})
	if w.Code != http.StatusOK {
		t.Fatalf("pin: got %d, want 200 (%s)", w.Code, w.Body.String())
	}
	if !e.chats.pinned[key] {
		t.Fatal("pin not recorded")
	}

	w = e.do(t, http.MethodPut, "/api/chats/"+ch.ID.Hex()+"/mute", token, gin.H{"hours": 8})
	if w.Code != http.StatusOK {
		t.Fatalf("mute: got %d, want 200 (%s)", w.Code, w.Body.String())
	}
	until := e.chats.muted[key]
	if until == nil || !until.After(time.Now().Add(7*time.Hour)) {
		t.Fatalf("mute deadline not recorded correctly: %v", until)
	}

	// hours <= 0 unmutes
	w = e.do(t, http.MethodPut, "/api/chats/"+ch.ID.Hex()+"/mute", token, gin.H{"hours": 0})
	if w.Code != http.StatusOK {
		t.Fatalf("unmute: got %d, want 200", w.Code)
	}
	if e.chats.muted[key] != nil {
		t.Fatal("unmute should clear the deadline")
	}
}

func TestDeleteMessage_Endpoint(t *testing.T) {
	e := newTestEnv(t)
	alice := e.users.add("Alice", "alice@example.com")
	ch := e.chats.add(data.ChatDirect, alice.ID, bson.NewObjectID())
	msgID := bson.NewObjectID().Hex()

	path := fmt.Sprintf("/api/chats/%s/messages/%s", ch.ID.Hex(), msgID)
	w := e.do(t, http.MethodDelete, path, e.tokenFor(t, alice), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("got %d, want 200 (%s)", w.Code, w.Body.String())
	}
	if len(e.chats.deleted) != 1 || e.chats.deleted[0] != msgID {
		t.Fatalf("delete not recorded: %v", e.chats.deleted)
	}
}

func TestSearchUsers_Endpoint(t *testing.T) {
	e := newTestEnv(t)
	alice := e.users.add("Alice", "alice@example.com")
	e.users.add("Bob the Waiter", "bob@example.com")
	token := e.tokenFor(t, alice)

	w := e.do(t, http.MethodGet, "/api/users/search?q=waiter", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("got %d, want 200 (%s)", w.Code, w.Body.String())
	}

	var resp struct {
		Data []struct {
			Name string `json:"name"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Data) != 1 || resp.Data[0].Name != "Bob the Waiter" {
		t.Fatalf("unexpected results: %+v", resp.Data)
	}

	// queries under two characters are rejected
	if w := e.do(t, http.MethodGet, "/api/users/search?q=w", token, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("short query: got %d, want 400", w.Code)
	}
}

func TestOnlineUsers_Endpoint(t *testing.T) {
	e := newTestEnv(t)
	alice := e.users.add("Alice", "alice@example.com")
	bob := e.users.add("Bob", "bob@example.com")
	bob.IsOnline = true
	alice.IsOnline = true // the caller is excluded from their own list

	w := e.do(t, http.MethodGet, "/api/users/online", e.tokenFor(t, alice), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("got %d, want 200 (%s)", w.Code, w.Body.String())
	}

	var resp struct {
		Data []struct {
			Email string `json:"email"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Data) != 1 || resp.Data[0].Email != "bob@example.com" {
		t.Fatalf("unexpected online list: %+v", resp.Data)
	}
}
