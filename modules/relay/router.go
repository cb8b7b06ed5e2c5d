package relay

import (
	"fmt"
	"time"

	domain "github.com/example/chat-relay/domain/relay"
)

// systemSender is the display name attached to server-generated messages.
const systemSender = "System"

// Sink receives the outbound deliveries produced by the router. An empty or
// nil target list means "every connected client". Delivery is
// fire-and-forget; queuing and slow consumers are the transport's problem.
type Sink interface {
	DeliverChat(targets []string, env domain.Envelope)
	DeliverPresence(targets []string, users []domain.Identity)
	DeliverIdentity(connID, userID string)
	DeliverRoomMembers(target, room string, members []domain.Member)
	DeliverTyping(targets []string, room, connID, displayName string, isTyping bool)
}

// Core is the presence and room-membership directory together with the
// message router. It owns the listing of who is connected, who they are, and
// which rooms they sit in, and it decides where every message class goes.
//
// Core is single-threaded: it must only be driven from the relay loop, which
// processes one inbound event to completion before the next. That ordering,
// not locking, is what keeps state changes atomic with respect to reads.
type Core struct {
	registry *Registry
	rooms    *Table
	conns    map[string]struct{}
	sink     Sink
	now      func() time.Time
}

// NewCore creates a directory core that hands its deliveries to sink.
func NewCore(sink Sink) *Core {
	return &Core{
		registry: NewRegistry(),
		rooms:    NewTable(),
		conns:    make(map[string]struct{}),
		sink:     sink,
		now:      time.Now,
	}
}

// Connect records a live connection. Called once at transport accept time,
// before any other event for that connection.
func (c *Core) Connect(connID string) {
	c.conns[connID] = struct{}{}
}

// Disconnect purges every trace of a connection: its room memberships and
// its identity. If the connection was registered, a global system notice and
// a fresh presence list go out. There is no grace period and no reconnection
// window.
func (c *Core) Disconnect(connID string) {
	c.rooms.DropConnection(connID)
	delete(c.conns, connID)

	id, registered := c.registry.Lookup(connID)
	c.registry.Remove(connID)
	if !registered {
		return
	}

	c.systemMessage(nil, "", fmt.Sprintf("%s left the chat.", id.DisplayName))
	c.publishPresence()
}

// Register binds an identity to a connection, announces the arrival, and
// rebroadcasts presence. The second registration attempt on a live
// connection fails with ErrAlreadyRegistered.
func (c *Core) Register(connID, requestedName string) (domain.Identity, error) {
	id, err := c.registry.Register(connID, requestedName)
	if err != nil {
		return domain.Identity{}, err
	}

	c.sink.DeliverIdentity(id.ConnectionID, id.UserID)
	c.systemMessage(nil, "", fmt.Sprintf("%s joined the chat.", id.DisplayName))
	c.publishPresence()
	return id, nil
}

// SendBroadcast routes a broadcast message to every connected client,
// including the sender.
func (c *Core) SendBroadcast(connID, text string) error {
	id, ok := c.registry.Lookup(connID)
	if !ok {
		return ErrNotRegistered
	}
	if err := ValidateMessage(text); err != nil {
		return err
	}
	text = trimText(text)
	if text == "" {
		return nil
	}

	c.sink.DeliverChat(nil, domain.Envelope{
		Sender:    id.DisplayName,
		Text:      text,
		Timestamp: c.now(),
		Scope:     domain.ScopeBroadcast,
	})
	return nil
}

// SendPrivate routes a message to exactly the target connection and echoes
// it back to the sender. No third connection ever sees it.
func (c *Core) SendPrivate(connID, target, text string) error {
	id, ok := c.registry.Lookup(connID)
	if !ok {
		return ErrNotRegistered
	}
	if err := ValidateMessage(text); err != nil {
		return err
	}
	text = trimText(text)
	if text == "" {
		return nil
	}
	if _, present := c.conns[target]; !present {
		return ErrUnknownTarget
	}

	targets := []string{target}
	if target != connID {
		targets = append(targets, connID)
	}
	c.sink.DeliverChat(targets, domain.Envelope{
		Sender:    id.DisplayName,
		Text:      text,
		Timestamp: c.now(),
		Scope:     domain.ScopePrivate,
	})
	return nil
}

// SendRoom routes a message to every current member of a room. The sender
// receives it by virtue of membership; former members receive nothing.
func (c *Core) SendRoom(connID, room, text string) error {
	id, ok := c.registry.Lookup(connID)
	if !ok {
		return ErrNotRegistered
	}
	if err := ValidateRoomName(room); err != nil {
		return err
	}
	if err := ValidateMessage(text); err != nil {
		return err
	}
	text = trimText(text)
	if text == "" {
		return nil
	}

	members := c.rooms.MembersOf(room)
	if len(members) == 0 {
		return nil
	}
	c.sink.DeliverChat(members, domain.Envelope{
		Sender:    id.DisplayName,
		Text:      text,
		Timestamp: c.now(),
		Scope:     domain.ScopeRoom,
		Room:      room,
	})
	return nil
}

// JoinRoom adds a registered connection to a room, announces the arrival to
// the room, and sends the room-scoped presence list to its members. Joining
// a room twice has no additional effect.
func (c *Core) JoinRoom(connID, room string) error {
	id, ok := c.registry.Lookup(connID)
	if !ok {
		return ErrNotRegistered
	}
	if err := ValidateRoomName(room); err != nil {
		return err
	}

	if !c.rooms.Join(connID, room) {
		return nil
	}

	members := c.rooms.MembersOf(room)
	c.systemMessage(members, room, fmt.Sprintf("%s joined the room.", id.DisplayName))
	c.sink.DeliverPresence(members, c.roomIdentities(members))
	return nil
}

// LeaveRoom removes a connection from a room and notifies the remaining
// members. Leaving a room you are not in is a no-op.
func (c *Core) LeaveRoom(connID, room string) error {
	id, ok := c.registry.Lookup(connID)
	if !ok {
		return ErrNotRegistered
	}
	if err := ValidateRoomName(room); err != nil {
		return err
	}

	if !c.rooms.Leave(connID, room) {
		return nil
	}

	members := c.rooms.MembersOf(room)
	if len(members) == 0 {
		return nil
	}
	c.systemMessage(members, room, fmt.Sprintf("%s left the room.", id.DisplayName))
	c.sink.DeliverPresence(members, c.roomIdentities(members))
	return nil
}

// QueryRoomMembers sends the member listing of a room to the querying
// connection only. A room with no members yields an empty listing.
func (c *Core) QueryRoomMembers(connID, room string) error {
	if err := ValidateRoomName(room); err != nil {
		return err
	}

	memberIDs := c.rooms.MembersOf(room)
	members := make([]domain.Member, 0, len(memberIDs))
	for _, m := range memberIDs {
		if id, ok := c.registry.Lookup(m); ok {
			members = append(members, domain.Member{
				ConnectionID: id.ConnectionID,
				DisplayName:  id.DisplayName,
			})
		}
	}
	c.sink.DeliverRoomMembers(connID, room, members)
	return nil
}

// Typing relays a typing indicator to the other members of a room. Silently
// ignored when the connection is not a registered member of the room.
func (c *Core) Typing(connID, room string, isTyping bool) {
	id, ok := c.registry.Lookup(connID)
	if !ok {
		return
	}
	if !c.rooms.IsMember(connID, room) {
		return
	}

	var targets []string
	for _, m := range c.rooms.MembersOf(room) {
		if m != connID {
			targets = append(targets, m)
		}
	}
	if len(targets) == 0 {
		return
	}
	c.sink.DeliverTyping(targets, room, connID, id.DisplayName, isTyping)
}

// Snapshot returns the current presence list in registration order.
func (c *Core) Snapshot() []domain.Identity {
	return c.registry.Snapshot()
}

// Rooms returns every active room with its member count.
func (c *Core) Rooms() []domain.Room {
	return c.rooms.Rooms()
}

// RoomMembers returns the registered members of a room.
func (c *Core) RoomMembers(room string) []domain.Member {
	memberIDs := c.rooms.MembersOf(room)
	members := make([]domain.Member, 0, len(memberIDs))
	for _, m := range memberIDs {
		if id, ok := c.registry.Lookup(m); ok {
			members = append(members, domain.Member{
				ConnectionID: id.ConnectionID,
				DisplayName:  id.DisplayName,
			})
		}
	}
	return members
}

// Counts returns the number of live connections, registered identities, and
// active rooms.
func (c *Core) Counts() (conns, registered, rooms int) {
	return len(c.conns), c.registry.Len(), len(c.rooms.members)
}

// systemMessage emits a server-generated notice to the given targets, or to
// everyone when targets is nil.
func (c *Core) systemMessage(targets []string, room, text string) {
	c.sink.DeliverChat(targets, domain.Envelope{
		Sender:    systemSender,
		Text:      text,
		Timestamp: c.now(),
		Scope:     domain.ScopeSystem,
		Room:      room,
	})
}

// publishPresence recomputes the full presence list and delivers it to every
// connected client. Runs after every registration and disconnect.
func (c *Core) publishPresence() {
	c.sink.DeliverPresence(nil, c.registry.Snapshot())
}

// roomIdentities resolves member connection ids to identities, keeping the
// registry's registration order.
func (c *Core) roomIdentities(memberIDs []string) []domain.Identity {
	inRoom := make(map[string]struct{}, len(memberIDs))
	for _, m := range memberIDs {
		inRoom[m] = struct{}{}
	}
	users := make([]domain.Identity, 0, len(memberIDs))
	for _, id := range c.registry.Snapshot() {
		if _, ok := inRoom[id.ConnectionID]; ok {
			users = append(users, id)
		}
	}
	return users
}
