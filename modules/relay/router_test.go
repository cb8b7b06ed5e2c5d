package relay

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	domain "github.com/example/chat-relay/domain/relay"
)

// recordingSink captures every delivery the router produces, in order.
type recordingSink struct {
	chats     []chatDelivery
	presences []presenceDelivery
	ids       []identityDelivery
	members   []membersDelivery
	typings   []typingDelivery
}

type chatDelivery struct {
	targets []string
	env     domain.Envelope
}

type presenceDelivery struct {
	targets []string
	users   []domain.Identity
}

type identityDelivery struct {
	connID string
	userID string
}

type membersDelivery struct {
	target  string
	room    string
	members []domain.Member
}

type typingDelivery struct {
	targets     []string
	room        string
	connID      string
	displayName string
	isTyping    bool
}

func (s *recordingSink) DeliverChat(targets []string, env domain.Envelope) {
	s.chats = append(s.chats, chatDelivery{targets: targets, env: env})
}

func (s *recordingSink) DeliverPresence(targets []string, users []domain.Identity) {
	s.presences = append(s.presences, presenceDelivery{targets: targets, users: users})
}

func (s *recordingSink) DeliverIdentity(connID, userID string) {
	s.ids = append(s.ids, identityDelivery{connID: connID, userID: userID})
}

func (s *recordingSink) DeliverRoomMembers(target, room string, members []domain.Member) {
	s.members = append(s.members, membersDelivery{target: target, room: room, members: members})
}

func (s *recordingSink) DeliverTyping(targets []string, room, connID, displayName string, isTyping bool) {
	s.typings = append(s.typings, typingDelivery{
		targets:     targets,
		room:        room,
		connID:      connID,
		displayName: displayName,
		isTyping:    isTyping,
	})
}

func (s *recordingSink) reset() {
	s.chats = nil
	s.presences = nil
	s.ids = nil
	s.members = nil
	s.typings = nil
}

func (s *recordingSink) lastChat(t *testing.T) chatDelivery {
	t.Helper()
	if len(s.chats) == 0 {
		t.Fatal("no chat deliveries recorded")
	}
	return s.chats[len(s.chats)-1]
}

var testTime = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func newTestCore() (*Core, *recordingSink) {
	sink := &recordingSink{}
	core := NewCore(sink)
	core.now = func() time.Time { return testTime }
	n := 0
	core.registry.newUserID = func() string {
		n++
		return fmt.Sprintf("uid-%d", n)
	}
	return core, sink
}

// registerAll connects and registers a set of clients, then clears the sink
// so a test only sees the deliveries it is interested in.
func registerAll(t *testing.T, core *Core, sink *recordingSink, conns ...string) {
	t.Helper()
	for _, conn := range conns {
		core.Connect(conn)
		name := strings.ToUpper(conn[:1]) + conn[1:]
		if _, err := core.Register(conn, name); err != nil {
			t.Fatalf("Register(%q) unexpected error: %v", conn, err)
		}
	}
	sink.reset()
}

func TestCore_Register(t *testing.T) {
	core, sink := newTestCore()
	core.Connect("alice")

	id, err := core.Register("alice", "Alice")
	if err != nil {
		t.Fatalf("Register() unexpected error: %v", err)
	}
	if id.DisplayName != "Alice" {
		t.Errorf("Register() DisplayName = %q, want %q", id.DisplayName, "Alice")
	}

	// Identity ack goes to the registering connection.
	if len(sink.ids) != 1 || sink.ids[0].connID != "alice" || sink.ids[0].userID != id.UserID {
		t.Errorf("DeliverIdentity = %+v, want connID=alice userID=%s", sink.ids, id.UserID)
	}

	// One global system announcement.
	if len(sink.chats) != 1 {
		t.Fatalf("chat deliveries = %d, want 1", len(sink.chats))
	}
	chat := sink.chats[0]
	if chat.targets != nil {
		t.Errorf("system announce targets = %v, want nil (everyone)", chat.targets)
	}
	if chat.env.Sender != "System" || chat.env.Scope != domain.ScopeSystem {
		t.Errorf("system announce = %+v, want System sender with system scope", chat.env)
	}
	if chat.env.Text != "Alice joined the chat." {
		t.Errorf("system announce text = %q, want %q", chat.env.Text, "Alice joined the chat.")
	}

	// One global presence list containing exactly the new user.
	if len(sink.presences) != 1 {
		t.Fatalf("presence deliveries = %d, want 1", len(sink.presences))
	}
	p := sink.presences[0]
	if p.targets != nil {
		t.Errorf("presence targets = %v, want nil (everyone)", p.targets)
	}
	if len(p.users) != 1 || p.users[0].DisplayName != "Alice" {
		t.Errorf("presence users = %+v, want exactly Alice", p.users)
	}
}

func TestCore_RegisterTwice(t *testing.T) {
	core, sink := newTestCore()
	registerAll(t, core, sink, "alice")

	_, err := core.Register("alice", "Alice2")
	if !errors.Is(err, ErrAlreadyRegistered) {
		t.Errorf("second Register() error = %v, want ErrAlreadyRegistered", err)
	}
	if len(sink.chats) != 0 || len(sink.presences) != 0 {
		t.Error("failed registration should produce no deliveries")
	}
}

func TestCore_PresenceOrderAndExactness(t *testing.T) {
	core, sink := newTestCore()
	registerAll(t, core, sink, "charlie", "alice", "bob")

	snap := core.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("Snapshot() len = %d, want 3", len(snap))
	}
	wantOrder := []string{"Charlie", "Alice", "Bob"}
	for i, want := range wantOrder {
		if snap[i].DisplayName != want {
			t.Errorf("Snapshot()[%d] = %q, want %q", i, snap[i].DisplayName, want)
		}
	}

	// Disconnecting the middle user removes exactly that user.
	core.Disconnect("alice")
	if len(sink.presences) != 1 {
		t.Fatalf("presence deliveries after disconnect = %d, want 1", len(sink.presences))
	}
	users := sink.presences[0].users
	if len(users) != 2 || users[0].DisplayName != "Charlie" || users[1].DisplayName != "Bob" {
		t.Errorf("presence after disconnect = %+v, want [Charlie, Bob]", users)
	}
}

func TestCore_SendBroadcast(t *testing.T) {
	core, sink := newTestCore()
	registerAll(t, core, sink, "alice", "bob")

	if err := core.SendBroadcast("alice", "  hello all  "); err != nil {
		t.Fatalf("SendBroadcast() unexpected error: %v", err)
	}

	chat := sink.lastChat(t)
	if chat.targets != nil {
		t.Errorf("broadcast targets = %v, want nil (everyone)", chat.targets)
	}
	if chat.env.Sender != "Alice" || chat.env.Text != "hello all" {
		t.Errorf("broadcast envelope = %+v, want Alice/hello all", chat.env)
	}
	if chat.env.Scope != domain.ScopeBroadcast {
		t.Errorf("broadcast scope = %q, want %q", chat.env.Scope, domain.ScopeBroadcast)
	}
	if !chat.env.Timestamp.Equal(testTime) {
		t.Errorf("broadcast timestamp = %v, want router-assigned %v", chat.env.Timestamp, testTime)
	}
}

func TestCore_SendBroadcastErrors(t *testing.T) {
	core, sink := newTestCore()
	core.Connect("ghost")
	registerAll(t, core, sink, "alice")

	tests := []struct {
		name    string
		connID  string
		text    string
		wantErr error
	}{
		{
			name:    "unregistered sender",
			connID:  "ghost",
			text:    "hi",
			wantErr: ErrNotRegistered,
		},
		{
			name:    "oversized message",
			connID:  "alice",
			text:    strings.Repeat("a", MaxMessageLength+1),
			wantErr: ErrMessageTooLong,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := core.SendBroadcast(tt.connID, tt.text)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("SendBroadcast() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if len(sink.chats) != 0 {
		t.Error("failed sends should produce no deliveries")
	}
}

func TestCore_EmptyTextDroppedSilently(t *testing.T) {
	core, sink := newTestCore()
	registerAll(t, core, sink, "alice", "bob")
	if err := core.JoinRoom("alice", "lobby"); err != nil {
		t.Fatalf("JoinRoom() unexpected error: %v", err)
	}
	sink.reset()

	for _, text := range []string{"", "   ", "\t\n"} {
		if err := core.SendBroadcast("alice", text); err != nil {
			t.Errorf("SendBroadcast(%q) error = %v, want nil", text, err)
		}
		if err := core.SendPrivate("alice", "bob", text); err != nil {
			t.Errorf("SendPrivate(%q) error = %v, want nil", text, err)
		}
		if err := core.SendRoom("alice", "lobby", text); err != nil {
			t.Errorf("SendRoom(%q) error = %v, want nil", text, err)
		}
	}

	if len(sink.chats) != 0 {
		t.Errorf("empty-text sends produced %d deliveries, want 0", len(sink.chats))
	}
}

func TestCore_SendPrivate(t *testing.T) {
	core, sink := newTestCore()
	registerAll(t, core, sink, "alice", "bob", "carol")

	if err := core.SendPrivate("alice", "bob", "psst"); err != nil {
		t.Fatalf("SendPrivate() unexpected error: %v", err)
	}

	if len(sink.chats) != 1 {
		t.Fatalf("chat deliveries = %d, want 1", len(sink.chats))
	}
	chat := sink.chats[0]

	// Exactly target and sender, never a third connection.
	got := make(map[string]struct{})
	for _, target := range chat.targets {
		got[target] = struct{}{}
	}
	if len(got) != 2 {
		t.Fatalf("private targets = %v, want exactly {bob, alice}", chat.targets)
	}
	for _, want := range []string{"bob", "alice"} {
		if _, ok := got[want]; !ok {
			t.Errorf("private targets = %v, missing %q", chat.targets, want)
		}
	}
	if _, ok := got["carol"]; ok {
		t.Error("private message must not reach a third connection")
	}
	if chat.env.Scope != domain.ScopePrivate {
		t.Errorf("private scope = %q, want %q", chat.env.Scope, domain.ScopePrivate)
	}
}

func TestCore_SendPrivateToSelf(t *testing.T) {
	core, sink := newTestCore()
	registerAll(t, core, sink, "alice")

	if err := core.SendPrivate("alice", "alice", "note to self"); err != nil {
		t.Fatalf("SendPrivate() unexpected error: %v", err)
	}
	chat := sink.lastChat(t)
	if len(chat.targets) != 1 || chat.targets[0] != "alice" {
		t.Errorf("self-private targets = %v, want exactly [alice]", chat.targets)
	}
}

func TestCore_SendPrivateUnknownTarget(t *testing.T) {
	core, sink := newTestCore()
	registerAll(t, core, sink, "alice")

	err := core.SendPrivate("alice", "nobody", "hello?")
	if !errors.Is(err, ErrUnknownTarget) {
		t.Errorf("SendPrivate() error = %v, want ErrUnknownTarget", err)
	}
	if len(sink.chats) != 0 {
		t.Error("failed private send should produce no deliveries")
	}
}

func TestCore_SendPrivateToUnregisteredConnection(t *testing.T) {
	core, sink := newTestCore()
	core.Connect("lurker")
	registerAll(t, core, sink, "alice")

	// A connected-but-unregistered client is still a valid target.
	if err := core.SendPrivate("alice", "lurker", "hi"); err != nil {
		t.Fatalf("SendPrivate() to connected client error = %v, want nil", err)
	}
}

func TestCore_JoinRoom(t *testing.T) {
	core, sink := newTestCore()
	registerAll(t, core, sink, "alice", "bob")

	if err := core.JoinRoom("alice", "lobby"); err != nil {
		t.Fatalf("JoinRoom() unexpected error: %v", err)
	}

	// Announce and room presence go to room members only.
	if len(sink.chats) != 1 {
		t.Fatalf("chat deliveries = %d, want 1", len(sink.chats))
	}
	chat := sink.chats[0]
	if len(chat.targets) != 1 || chat.targets[0] != "alice" {
		t.Errorf("join announce targets = %v, want [alice]", chat.targets)
	}
	if chat.env.Text != "Alice joined the room." || chat.env.Room != "lobby" {
		t.Errorf("join announce = %+v, want room-scoped join notice", chat.env)
	}
	if len(sink.presences) != 1 || len(sink.presences[0].users) != 1 {
		t.Errorf("room presence = %+v, want exactly Alice", sink.presences)
	}

	// Second member: both see the announce and the two-user presence list.
	sink.reset()
	if err := core.JoinRoom("bob", "lobby"); err != nil {
		t.Fatalf("JoinRoom() unexpected error: %v", err)
	}
	if len(sink.chats[0].targets) != 2 {
		t.Errorf("join announce targets = %v, want both members", sink.chats[0].targets)
	}
	if len(sink.presences[0].users) != 2 {
		t.Errorf("room presence users = %+v, want 2 members", sink.presences[0].users)
	}
}

func TestCore_JoinRoomIdempotent(t *testing.T) {
	core, sink := newTestCore()
	registerAll(t, core, sink, "alice")
	if err := core.JoinRoom("alice", "lobby"); err != nil {
		t.Fatalf("JoinRoom() unexpected error: %v", err)
	}
	sink.reset()

	if err := core.JoinRoom("alice", "lobby"); err != nil {
		t.Errorf("repeated JoinRoom() error = %v, want nil", err)
	}
	if len(sink.chats) != 0 || len(sink.presences) != 0 {
		t.Error("repeated JoinRoom() should produce no deliveries")
	}
}

func TestCore_JoinRoomErrors(t *testing.T) {
	core, sink := newTestCore()
	core.Connect("ghost")
	registerAll(t, core, sink, "alice")

	tests := []struct {
		name    string
		connID  string
		room    string
		wantErr error
	}{
		{"unregistered", "ghost", "lobby", ErrNotRegistered},
		{"empty room name", "alice", "", ErrRoomNameEmpty},
		{"room name too long", "alice", strings.Repeat("r", MaxRoomNameLength+1), ErrRoomNameTooLong},
		{"room name with space", "alice", "lob by", ErrRoomNameInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := core.JoinRoom(tt.connID, tt.room)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("JoinRoom() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCore_SendRoomExcludesFormerMembers(t *testing.T) {
	core, sink := newTestCore()
	registerAll(t, core, sink, "alice", "bob", "carol")
	for _, conn := range []string{"alice", "bob", "carol"} {
		if err := core.JoinRoom(conn, "lobby"); err != nil {
			t.Fatalf("JoinRoom(%q) unexpected error: %v", conn, err)
		}
	}
	if err := core.LeaveRoom("carol", "lobby"); err != nil {
		t.Fatalf("LeaveRoom() unexpected error: %v", err)
	}
	sink.reset()

	if err := core.SendRoom("alice", "lobby", "hi room"); err != nil {
		t.Fatalf("SendRoom() unexpected error: %v", err)
	}

	chat := sink.lastChat(t)
	for _, target := range chat.targets {
		if target == "carol" {
			t.Error("former member must not receive room messages")
		}
	}
	if len(chat.targets) != 2 {
		t.Errorf("room targets = %v, want current members [alice, bob]", chat.targets)
	}
	if chat.env.Scope != domain.ScopeRoom || chat.env.Room != "lobby" {
		t.Errorf("room envelope = %+v, want room scope in lobby", chat.env)
	}
}

func TestCore_SendRoomEmptyRoom(t *testing.T) {
	core, sink := newTestCore()
	registerAll(t, core, sink, "alice")

	// Sending to a room with no members is not an error and delivers nothing.
	if err := core.SendRoom("alice", "nowhere", "anyone?"); err != nil {
		t.Errorf("SendRoom() to empty room error = %v, want nil", err)
	}
	if len(sink.chats) != 0 {
		t.Error("send to empty room should produce no deliveries")
	}
}

func TestCore_LeaveRoom(t *testing.T) {
	core, sink := newTestCore()
	registerAll(t, core, sink, "alice", "bob")
	for _, conn := range []string{"alice", "bob"} {
		if err := core.JoinRoom(conn, "lobby"); err != nil {
			t.Fatalf("JoinRoom(%q) unexpected error: %v", conn, err)
		}
	}
	sink.reset()

	if err := core.LeaveRoom("alice", "lobby"); err != nil {
		t.Fatalf("LeaveRoom() unexpected error: %v", err)
	}

	// Remaining member gets the notice and the updated room presence.
	chat := sink.lastChat(t)
	if len(chat.targets) != 1 || chat.targets[0] != "bob" {
		t.Errorf("leave announce targets = %v, want [bob]", chat.targets)
	}
	if chat.env.Text != "Alice left the room." {
		t.Errorf("leave announce text = %q, want %q", chat.env.Text, "Alice left the room.")
	}
	if len(sink.presences) != 1 || len(sink.presences[0].users) != 1 {
		t.Errorf("room presence after leave = %+v, want exactly Bob", sink.presences)
	}

	// Leaving a room you are not in is silent.
	sink.reset()
	if err := core.LeaveRoom("alice", "lobby"); err != nil {
		t.Errorf("repeated LeaveRoom() error = %v, want nil", err)
	}
	if len(sink.chats) != 0 {
		t.Error("repeated LeaveRoom() should produce no deliveries")
	}
}

func TestCore_QueryRoomMembers(t *testing.T) {
	core, sink := newTestCore()
	registerAll(t, core, sink, "alice", "bob")
	for _, conn := range []string{"alice", "bob"} {
		if err := core.JoinRoom(conn, "lobby"); err != nil {
			t.Fatalf("JoinRoom(%q) unexpected error: %v", conn, err)
		}
	}
	sink.reset()

	// Any connection may query, member or not.
	core.Connect("visitor")
	if err := core.QueryRoomMembers("visitor", "lobby"); err != nil {
		t.Fatalf("QueryRoomMembers() unexpected error: %v", err)
	}

	if len(sink.members) != 1 {
		t.Fatalf("member deliveries = %d, want 1", len(sink.members))
	}
	md := sink.members[0]
	if md.target != "visitor" || md.room != "lobby" {
		t.Errorf("members delivery = %+v, want target=visitor room=lobby", md)
	}
	if len(md.members) != 2 {
		t.Errorf("members = %+v, want 2 entries", md.members)
	}

	// Unknown room yields an empty listing, not an error.
	sink.reset()
	if err := core.QueryRoomMembers("visitor", "nowhere"); err != nil {
		t.Fatalf("QueryRoomMembers() unexpected error: %v", err)
	}
	if len(sink.members) != 1 || len(sink.members[0].members) != 0 {
		t.Errorf("members for unknown room = %+v, want empty listing", sink.members)
	}
}

func TestCore_Typing(t *testing.T) {
	core, sink := newTestCore()
	registerAll(t, core, sink, "alice", "bob", "carol")
	for _, conn := range []string{"alice", "bob"} {
		if err := core.JoinRoom(conn, "lobby"); err != nil {
			t.Fatalf("JoinRoom(%q) unexpected error: %v", conn, err)
		}
	}
	sink.reset()

	core.Typing("alice", "lobby", true)

	if len(sink.typings) != 1 {
		t.Fatalf("typing deliveries = %d, want 1", len(sink.typings))
	}
	td := sink.typings[0]
	if len(td.targets) != 1 || td.targets[0] != "bob" {
		t.Errorf("typing targets = %v, want [bob] (never the typist)", td.targets)
	}
	if td.displayName != "Alice" || !td.isTyping || td.room != "lobby" {
		t.Errorf("typing delivery = %+v, want Alice typing in lobby", td)
	}

	// Non-members are ignored.
	sink.reset()
	core.Typing("carol", "lobby", true)
	if len(sink.typings) != 0 {
		t.Errorf("typing by non-member produced %d deliveries, want 0", len(sink.typings))
	}

	// A sole member has nobody to notify.
	if err := core.LeaveRoom("bob", "lobby"); err != nil {
		t.Fatalf("LeaveRoom() unexpected error: %v", err)
	}
	sink.reset()
	core.Typing("alice", "lobby", true)
	if len(sink.typings) != 0 {
		t.Errorf("typing with no other members produced %d deliveries, want 0", len(sink.typings))
	}
}

func TestCore_DisconnectPurges(t *testing.T) {
	core, sink := newTestCore()
	registerAll(t, core, sink, "alice", "bob")
	for _, conn := range []string{"alice", "bob"} {
		if err := core.JoinRoom(conn, "lobby"); err != nil {
			t.Fatalf("JoinRoom(%q) unexpected error: %v", conn, err)
		}
	}
	sink.reset()

	core.Disconnect("alice")

	// Identity, connection, and memberships are all gone.
	if _, ok := core.registry.Lookup("alice"); ok {
		t.Error("disconnected connection should have no identity")
	}
	if core.rooms.IsMember("alice", "lobby") {
		t.Error("disconnected connection should not remain in any room")
	}
	conns, registered, rooms := core.Counts()
	if conns != 1 || registered != 1 || rooms != 1 {
		t.Errorf("Counts() = (%d, %d, %d), want (1, 1, 1)", conns, registered, rooms)
	}

	// Global system notice plus updated presence.
	chat := sink.lastChat(t)
	if chat.targets != nil || chat.env.Text != "Alice left the chat." {
		t.Errorf("disconnect notice = %+v, want global 'Alice left the chat.'", chat)
	}
	if len(sink.presences) != 1 || len(sink.presences[0].users) != 1 {
		t.Errorf("presence after disconnect = %+v, want exactly Bob", sink.presences)
	}

	// Room messages no longer reach the departed connection.
	sink.reset()
	if err := core.SendRoom("bob", "lobby", "still here?"); err != nil {
		t.Fatalf("SendRoom() unexpected error: %v", err)
	}
	roomChat := sink.lastChat(t)
	if len(roomChat.targets) != 1 || roomChat.targets[0] != "bob" {
		t.Errorf("room targets after disconnect = %v, want [bob]", roomChat.targets)
	}
}

func TestCore_DisconnectUnregistered(t *testing.T) {
	core, sink := newTestCore()
	core.Connect("lurker")
	registerAll(t, core, sink, "alice")

	core.Disconnect("lurker")

	if len(sink.chats) != 0 || len(sink.presences) != 0 {
		t.Error("disconnect of an unregistered connection should be silent")
	}
}
