package events

import (
	"github.com/go-monolith/mono/pkg/helper"

	domain "github.com/example/chat-relay/domain/relay"
)

// ChatDeliveredEvent is emitted for every routed chat message. Targets is the
// set of connection ids that must receive the envelope; an empty Targets
// means every connected client.
type ChatDeliveredEvent struct {
	Targets  []string        `json:"targets,omitempty"`
	Envelope domain.Envelope `json:"envelope"`
}

// PresenceUpdatedEvent carries a full, authoritative presence list. Clients
// replace any previously received list with this one.
type PresenceUpdatedEvent struct {
	Targets []string          `json:"targets,omitempty"`
	Users   []domain.Identity `json:"users"`
}

// IdentityAssignedEvent is emitted once per successful registration and is
// delivered to the registering connection only.
type IdentityAssignedEvent struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
}

// RoomMembersEvent answers a queryRoomMembers request; delivered to the
// querying connection only.
type RoomMembersEvent struct {
	Target  string          `json:"target"`
	Room    string          `json:"room"`
	Members []domain.Member `json:"members"`
}

// TypingStatusEvent relays a typing indicator to room members other than the
// typist.
type TypingStatusEvent struct {
	Targets      []string `json:"targets"`
	Room         string   `json:"room"`
	ConnectionID string   `json:"connectionId"`
	DisplayName  string   `json:"displayName"`
	IsTyping     bool     `json:"isTyping"`
}

// Event definitions for the relay domain.
var (
	ChatDeliveredV1 = helper.EventDefinition[ChatDeliveredEvent](
		"relay",
		"ChatDelivered",
		"v1",
	)

	PresenceUpdatedV1 = helper.EventDefinition[PresenceUpdatedEvent](
		"relay",
		"PresenceUpdated",
		"v1",
	)

	IdentityAssignedV1 = helper.EventDefinition[IdentityAssignedEvent](
		"relay",
		"IdentityAssigned",
		"v1",
	)

	RoomMembersV1 = helper.EventDefinition[RoomMembersEvent](
		"relay",
		"RoomMembers",
		"v1",
	)

	TypingStatusV1 = helper.EventDefinition[TypingStatusEvent](
		"relay",
		"TypingStatus",
		"v1",
	)
)
