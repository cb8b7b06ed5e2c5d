package relay

import (
	"sort"

	domain "github.com/example/chat-relay/domain/relay"
)

// Table tracks room membership in both directions: room -> member
// connections and connection -> joined rooms. Membership is symmetric by
// construction. A room with zero members is removed from the table, so a
// room "exists" exactly while it has members.
//
// Table is not safe for concurrent use; all access is serialized by the
// relay loop.
type Table struct {
	members map[string]map[string]struct{}
	joined  map[string]map[string]struct{}
}

// NewTable creates an empty membership table.
func NewTable() *Table {
	return &Table{
		members: make(map[string]map[string]struct{}),
		joined:  make(map[string]map[string]struct{}),
	}
}

// Join adds a connection to a room. It reports whether the membership is
// new; joining a room twice has no additional effect.
func (t *Table) Join(connID, room string) bool {
	if _, ok := t.members[room][connID]; ok {
		return false
	}
	if t.members[room] == nil {
		t.members[room] = make(map[string]struct{})
	}
	t.members[room][connID] = struct{}{}
	if t.joined[connID] == nil {
		t.joined[connID] = make(map[string]struct{})
	}
	t.joined[connID][room] = struct{}{}
	return true
}

// Leave removes a connection from a room. It reports whether the connection
// was a member; leaving a room you are not in is a no-op.
func (t *Table) Leave(connID, room string) bool {
	if _, ok := t.members[room][connID]; !ok {
		return false
	}
	t.removeMember(connID, room)
	return true
}

// MembersOf returns the member connection ids of a room, sorted for stable
// output. A room with no members yields an empty slice, not an error.
func (t *Table) MembersOf(room string) []string {
	set := t.members[room]
	members := make([]string, 0, len(set))
	for connID := range set {
		members = append(members, connID)
	}
	sort.Strings(members)
	return members
}

// IsMember reports whether a connection is currently in a room.
func (t *Table) IsMember(connID, room string) bool {
	_, ok := t.members[room][connID]
	return ok
}

// RoomsOf returns the rooms a connection has joined, sorted.
func (t *Table) RoomsOf(connID string) []string {
	set := t.joined[connID]
	rooms := make([]string, 0, len(set))
	for room := range set {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}

// Rooms returns every active room with its member count, sorted by name.
func (t *Table) Rooms() []domain.Room {
	rooms := make([]domain.Room, 0, len(t.members))
	for name, set := range t.members {
		rooms = append(rooms, domain.Room{Name: name, Members: len(set)})
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].Name < rooms[j].Name })
	return rooms
}

// DropConnection removes a connection from every room it belongs to and
// returns the rooms it left, sorted. Called exactly once, on disconnect.
func (t *Table) DropConnection(connID string) []string {
	rooms := t.RoomsOf(connID)
	for _, room := range rooms {
		t.removeMember(connID, room)
	}
	return rooms
}

func (t *Table) removeMember(connID, room string) {
	delete(t.members[room], connID)
	if len(t.members[room]) == 0 {
		delete(t.members, room)
	}
	delete(t.joined[connID], room)
	if len(t.joined[connID]) == 0 {
		delete(t.joined, connID)
	}
}
