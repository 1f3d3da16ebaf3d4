package realtime

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/sharathr123/restochat/internal/chat"
)

type fakeSender struct {
	payloads  [][]byte
	fail      bool
	closeCode int
	closed    bool
}

func (f *fakeSender) Send(payload []byte) error {
	if f.fail {
		return errors.New("send fail")
	}
	f.payloads = append(f.payloads, payload)
	return nil
}

func (f *fakeSender) Close(code int, reason string) {
	f.closed = true
	f.closeCode = code
}

func decodeFrame(t *testing.T, payload []byte) (string, map[string]any) {
	t.Helper()
	var env struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		t.Fatalf("malformed frame: %v", err)
	}
	var data map[string]any
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			t.Fatalf("malformed frame data: %v", err)
		}
	}
	return env.Type, data
}

func TestHub_AttachAndSendToUser(t *testing.T) {
	hub := NewHub()

	sender := &fakeSender{}
	hub.Attach("conn-1", "alice", sender)

	if !hub.IsOnline("alice") {
		t.Fatal("alice should be online after attach")
	}

	ok := hub.SendToUser("alice", &chat.UserTyping{ChatID: "c1", UserID: "bob", IsTyping: true})
	if !ok {
		t.Fatal("expected send to succeed")
	}
	if len(sender.payloads) != 1 {
		t.Fatalf("sender received %d frames, want 1", len(sender.payloads))
	}

	typ, data := decodeFrame(t, sender.payloads[0])
	if typ != chat.EventUserTyping {
		t.Fatalf("frame type = %q, want %q", typ, chat.EventUserTyping)
	}
	if data["user_id"] != "bob" || data["is_typing"] != true {
		t.Fatalf("unexpected frame data: %v", data)
	}
}

func TestHub_SendToOfflineUser(t *testing.T) {
	hub := NewHub()
	if hub.SendToUser("nobody", &chat.ChatUpdated{ChatID: "c1"}) {
		t.Fatal("send to offline user must report failure")
	}
}

func TestHub_SecondConnectionReplacesFirst(t *testing.T) {
	hub := NewHub()

	first := &fakeSender{}
	second := &fakeSender{}
	hub.Attach("conn-1", "alice", first)
	hub.Attach("conn-2", "alice", second)

	if !first.closed || first.closeCode != closeSessionReplaced {
		t.Fatalf("first connection should be closed with code %d, got closed=%v code=%d",
			closeSessionReplaced, first.closed, first.closeCode)
	}

	hub.SendToUser("alice", &chat.ChatUpdated{ChatID: "c1"})
	if len(first.payloads) != 0 {
		t.Fatal("replaced connection must not receive frames")
	}
	if len(second.payloads) != 1 {
		t.Fatalf("live connection received %d frames, want 1", len(second.payloads))
	}

	// The stale connection's release must not flip the user offline.
	if userID, current := hub.Release("conn-1"); userID != "" || current {
		t.Fatalf("stale release = (%q, %v), want empty and not current", userID, current)
	}
	if !hub.IsOnline("alice") {
		t.Fatal("alice must stay online after the stale release")
	}

	if userID, current := hub.Release("conn-2"); userID != "alice" || !current {
		t.Fatalf("live release = (%q, %v), want (alice, true)", userID, current)
	}
	if hub.IsOnline("alice") {
		t.Fatal("alice should be offline after the live release")
	}
}

func TestHub_BroadcastRoomExcludesSender(t *testing.T) {
	hub := NewHub()

	alice := &fakeSender{}
	bob := &fakeSender{}
	carol := &fakeSender{}
	hub.Attach("conn-a", "alice", alice)
	hub.Attach("conn-b", "bob", bob)
	hub.Attach("conn-c", "carol", carol)

	hub.JoinRoom("room-1", "alice")
	hub.JoinRoom("room-1", "bob")
	// carol is connected but not in the room

	n := hub.BroadcastRoom("room-1", &chat.UserTyping{ChatID: "room-1", UserID: "alice", IsTyping: true}, "alice")
	if n != 1 {
		t.Fatalf("delivered to %d connections, want 1", n)
	}
	if len(alice.payloads) != 0 {
		t.Fatal("excluded sender must not receive the broadcast")
	}
	if len(bob.payloads) != 1 {
		t.Fatalf("bob received %d frames, want 1", len(bob.payloads))
	}
	if len(carol.payloads) != 0 {
		t.Fatal("non-member must not receive the broadcast")
	}
}

func TestHub_BroadcastCountsOnlyHealthySends(t *testing.T) {
	hub := NewHub()

	ok := &fakeSender{}
	bad := &fakeSender{fail: true}
	hub.Attach("conn-a", "alice", ok)
	hub.Attach("conn-b", "bob", bad)
	hub.JoinRoom("room-1", "alice")
	hub.JoinRoom("room-1", "bob")

	n := hub.BroadcastRoom("room-1", &chat.ChatUpdated{ChatID: "room-1"}, "")
	if n != 1 {
		t.Fatalf("delivered = %d, want 1 (broken connection excluded)", n)
	}
}

func TestHub_JoinRoomOfflineUserIsNoop(t *testing.T) {
	hub := NewHub()
	hub.JoinRoom("room-1", "ghost")

	sender := &fakeSender{}
	hub.Attach("conn-a", "alice", sender)
	hub.JoinRoom("room-1", "alice")

	if n := hub.BroadcastRoom("room-1", &chat.ChatUpdated{ChatID: "room-1"}, ""); n != 1 {
		t.Fatalf("delivered = %d, want 1", n)
	}
}

func TestHub_ReleaseCleansUpRooms(t *testing.T) {
	hub := NewHub()

	sender := &fakeSender{}
	hub.Attach("conn-a", "alice", sender)
	hub.JoinRoom("room-1", "alice")

	if _, current := hub.Release("conn-a"); !current {
		t.Fatal("release of live connection should report current")
	}
	if n := hub.BroadcastRoom("room-1", &chat.ChatUpdated{ChatID: "room-1"}, ""); n != 0 {
		t.Fatalf("delivered = %d after release, want 0", n)
	}
}

func TestHub_ShutdownClosesEverything(t *testing.T) {
	hub := NewHub()

	a := &fakeSender{}
	b := &fakeSender{}
	hub.Attach("conn-a", "alice", a)
	hub.Attach("conn-b", "bob", b)

	hub.Shutdown()

	if !a.closed || !b.closed {
		t.Fatal("shutdown must close every connection")
	}
	if hub.IsOnline("alice") || hub.IsOnline("bob") {
		t.Fatal("nobody should be online after shutdown")
	}
}
