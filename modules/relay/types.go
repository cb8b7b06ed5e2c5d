package relay

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"

	domain "github.com/example/chat-relay/domain/relay"
)

// Validation constants
const (
	MaxRoomNameLength = 100
	MaxMessageLength  = 5000
)

// Directory errors. None of these is fatal; every failure is local to the
// originating connection and leaves the directory untouched.
var (
	ErrNotRegistered     = errors.New("connection is not registered")
	ErrAlreadyRegistered = errors.New("connection is already registered")
	ErrUnknownTarget     = errors.New("target connection is not present")
	ErrRoomNameEmpty     = errors.New("room name cannot be empty")
	ErrRoomNameTooLong   = errors.New("room name exceeds maximum length")
	ErrRoomNameInvalid   = errors.New("room name contains invalid characters")
	ErrMessageTooLong    = errors.New("message exceeds maximum length")
	ErrStopped           = errors.New("relay loop stopped")
)

// ValidateRoomName validates a room name. Names are case-sensitive and may
// not contain whitespace or control characters.
func ValidateRoomName(name string) error {
	if name == "" {
		return ErrRoomNameEmpty
	}
	if len(name) > MaxRoomNameLength {
		return ErrRoomNameTooLong
	}
	if !utf8.ValidString(name) {
		return ErrRoomNameInvalid
	}
	for _, r := range name {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return ErrRoomNameInvalid
		}
	}
	return nil
}

// ValidateMessage validates message text. Empty text is not an error here;
// the router drops it silently after trimming.
func ValidateMessage(text string) error {
	if len(text) > MaxMessageLength {
		return ErrMessageTooLong
	}
	return nil
}

// trimText normalizes message text. The empty result means "silently drop".
func trimText(text string) string {
	return strings.TrimSpace(text)
}

// Service names registered in the ServiceContainer.
const (
	ServicePresenceSnapshot = "presence-snapshot"
	ServiceListRooms        = "list-rooms"
	ServiceRoomMembers      = "room-members"
)

// PresenceSnapshotRequest asks for the current presence list.
type PresenceSnapshotRequest struct{}

// PresenceSnapshotResponse carries the presence list in registration order.
type PresenceSnapshotResponse struct {
	Users []domain.Identity `json:"users"`
}

// ListRoomsRequest asks for all active rooms.
type ListRoomsRequest struct{}

// ListRoomsResponse carries active rooms with member counts.
type ListRoomsResponse struct {
	Rooms []domain.Room `json:"rooms"`
}

// RoomMembersRequest asks for the members of one room.
type RoomMembersRequest struct {
	Room string `json:"room"`
}

// RoomMembersResponse carries the members of the requested room. An empty
// Members slice means the room does not exist.
type RoomMembersResponse struct {
	Room    string          `json:"room"`
	Members []domain.Member `json:"members"`
}
