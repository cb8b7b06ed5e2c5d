package relay

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"

	domain "github.com/example/chat-relay/domain/relay"
)

// RelayPort is the read-only view of the directory offered to other modules.
type RelayPort interface {
	PresenceSnapshot(ctx context.Context) ([]domain.Identity, error)
	ListRooms(ctx context.Context) ([]domain.Room, error)
	RoomMembers(ctx context.Context, room string) ([]domain.Member, error)
}

// RelayAdapter implements RelayPort over the service container.
type RelayAdapter struct {
	container mono.ServiceContainer
}

// NewRelayAdapter creates a new RelayAdapter.
func NewRelayAdapter(container mono.ServiceContainer) RelayPort {
	if container == nil {
		panic("relay: ServiceContainer is nil")
	}
	return &RelayAdapter{container: container}
}

// PresenceSnapshot returns the current presence list.
func (a *RelayAdapter) PresenceSnapshot(ctx context.Context) ([]domain.Identity, error) {
	req := PresenceSnapshotRequest{}
	var resp PresenceSnapshotResponse
	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		ServicePresenceSnapshot,
		json.Marshal,
		json.Unmarshal,
		&req,
		&resp,
	); err != nil {
		return nil, fmt.Errorf("failed to get presence snapshot: %w", err)
	}
	return resp.Users, nil
}

// ListRooms returns every active room.
func (a *RelayAdapter) ListRooms(ctx context.Context) ([]domain.Room, error) {
	req := ListRoomsRequest{}
	var resp ListRoomsResponse
	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		ServiceListRooms,
		json.Marshal,
		json.Unmarshal,
		&req,
		&resp,
	); err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	return resp.Rooms, nil
}

// RoomMembers returns the members of one room.
func (a *RelayAdapter) RoomMembers(ctx context.Context, room string) ([]domain.Member, error) {
	req := RoomMembersRequest{Room: room}
	var resp RoomMembersResponse
	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		ServiceRoomMembers,
		json.Marshal,
		json.Unmarshal,
		&req,
		&resp,
	); err != nil {
		return nil, fmt.Errorf("failed to get room members: %w", err)
	}
	return resp.Members, nil
}
