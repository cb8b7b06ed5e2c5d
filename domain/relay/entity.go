package relay

import "time"

// Scope is the delivery target class of a message.
type Scope string

// Scope values carried in the chatMessage envelope.
const (
	ScopeBroadcast Scope = "broadcast"
	ScopePrivate   Scope = "private"
	ScopeRoom      Scope = "room"
	ScopeSystem    Scope = "system"
)

// Identity binds a display name and a generated user id to a live connection.
type Identity struct {
	ConnectionID string `json:"connectionId"`
	DisplayName  string `json:"displayName"`
	UserID       string `json:"userId"`
}

// Member is one entry of a roomMembers listing.
type Member struct {
	ConnectionID string `json:"connectionId"`
	DisplayName  string `json:"displayName"`
}

// Room is a summary of an active room. Rooms exist only while they have
// members, so a Room value always has Members >= 1.
type Room struct {
	Name    string `json:"name"`
	Members int    `json:"members"`
}

// Envelope is the canonical chatMessage payload. The timestamp is assigned
// by the router at delivery time, never by the client.
type Envelope struct {
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Scope     Scope     `json:"scope"`
	Room      string    `json:"room,omitempty"`
}
