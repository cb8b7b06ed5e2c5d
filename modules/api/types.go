package api

// Inbound WebSocket message types.
const (
	MsgRegister         = "register"
	MsgSendBroadcast    = "sendBroadcast"
	MsgSendPrivate      = "sendPrivate"
	MsgSendRoom         = "sendRoom"
	MsgJoinRoom         = "joinRoom"
	MsgLeaveRoom        = "leaveRoom"
	MsgQueryRoomMembers = "queryRoomMembers"
	MsgTyping           = "typing"
)

// ClientMessage is one inbound event from a WebSocket client.
type ClientMessage struct {
	Type     string `json:"type"`
	Name     string `json:"name,omitempty"`
	Target   string `json:"target,omitempty"`
	Room     string `json:"room,omitempty"`
	Text     string `json:"text,omitempty"`
	IsTyping bool   `json:"isTyping,omitempty"`
}

// PresenceEntry is one identity in the REST presence listing.
type PresenceEntry struct {
	ConnectionID string `json:"connectionId"`
	DisplayName  string `json:"displayName"`
	UserID       string `json:"userId"`
}

// PresenceResponse is the API response for the presence listing.
type PresenceResponse struct {
	Users []PresenceEntry `json:"users"`
	Total int             `json:"total"`
}

// RoomResponse is the API response for a room.
type RoomResponse struct {
	Name    string `json:"name"`
	Members int    `json:"members"`
}

// RoomListResponse is the API response for listing rooms.
type RoomListResponse struct {
	Rooms []RoomResponse `json:"rooms"`
	Total int            `json:"total"`
}

// RoomMemberEntry is one member in a room members listing.
type RoomMemberEntry struct {
	ConnectionID string `json:"connectionId"`
	DisplayName  string `json:"displayName"`
}

// RoomMembersResponse is the API response for a room members listing.
type RoomMembersResponse struct {
	Room    string            `json:"room"`
	Members []RoomMemberEntry `json:"members"`
}

// ErrorResponse is the API error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HealthResponse is the API health check response.
type HealthResponse struct {
	Status  string         `json:"status"`
	Details map[string]any `json:"details,omitempty"`
}
