package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"

	domain "github.com/example/chat-relay/domain/relay"
	"github.com/example/chat-relay/events"
)

// Module owns the directory core and its serializing loop, and bridges them
// to the rest of the application: deliveries go out as typed events on the
// EventBus, read-only queries are exposed as request/reply services.
type Module struct {
	core     *Core
	loop     *Loop
	stopLoop context.CancelFunc
	eventBus mono.EventBus
}

// Compile-time interface checks
var (
	_ mono.Module                = (*Module)(nil)
	_ mono.EventBusAwareModule   = (*Module)(nil)
	_ mono.EventEmitterModule    = (*Module)(nil)
	_ mono.ServiceProviderModule = (*Module)(nil)
	_ mono.HealthCheckableModule = (*Module)(nil)
)

// NewModule creates the relay module.
func NewModule() *Module {
	m := &Module{
		loop: NewLoop(),
	}
	m.core = NewCore(m)
	return m
}

// Name returns the module name.
func (m *Module) Name() string {
	return "relay"
}

// SetEventBus receives the EventBus from the framework.
func (m *Module) SetEventBus(bus mono.EventBus) {
	m.eventBus = bus
}

// EmitEvents declares the events this module can emit.
func (m *Module) EmitEvents() []mono.BaseEventDefinition {
	return []mono.BaseEventDefinition{
		events.ChatDeliveredV1.ToBase(),
		events.PresenceUpdatedV1.ToBase(),
		events.IdentityAssignedV1.ToBase(),
		events.RoomMembersV1.ToBase(),
		events.TypingStatusV1.ToBase(),
	}
}

// RegisterServices exposes the read side of the directory as request/reply
// services for the REST surface.
func (m *Module) RegisterServices(container mono.ServiceContainer) error {
	if err := helper.RegisterTypedRequestReplyService(
		container, ServicePresenceSnapshot, json.Unmarshal, json.Marshal, m.handlePresenceSnapshot,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServicePresenceSnapshot, err)
	}

	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceListRooms, json.Unmarshal, json.Marshal, m.handleListRooms,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceListRooms, err)
	}

	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceRoomMembers, json.Unmarshal, json.Marshal, m.handleRoomMembers,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceRoomMembers, err)
	}

	log.Printf("[relay] Registered services: %s, %s, %s",
		ServicePresenceSnapshot, ServiceListRooms, ServiceRoomMembers)
	return nil
}

// Start launches the serializing loop.
func (m *Module) Start(_ context.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	m.stopLoop = cancel
	go m.loop.Run(ctx)
	log.Println("[relay] Module started - directory loop running")
	return nil
}

// Stop shuts the loop down and waits for it to finish.
func (m *Module) Stop(_ context.Context) error {
	if m.stopLoop != nil {
		m.stopLoop()
		m.loop.Wait()
	}
	log.Println("[relay] Module stopped")
	return nil
}

// Health returns the health status.
func (m *Module) Health(ctx context.Context) mono.HealthStatus {
	var conns, registered, rooms int
	err := m.loop.Do(ctx, func() {
		conns, registered, rooms = m.core.Counts()
	})
	return mono.HealthStatus{
		Healthy: err == nil,
		Message: "operational",
		Details: map[string]any{
			"connections": conns,
			"registered":  registered,
			"rooms":       rooms,
		},
	}
}

// Directory operations. Each call is one serialized event: it runs to
// completion on the loop before the next one starts.

// Connect records a newly accepted connection.
func (m *Module) Connect(ctx context.Context, connID string) error {
	return m.loop.Do(ctx, func() { m.core.Connect(connID) })
}

// Disconnect purges all state owned by a connection.
func (m *Module) Disconnect(ctx context.Context, connID string) error {
	return m.loop.Do(ctx, func() { m.core.Disconnect(connID) })
}

// Register binds an identity to a connection.
func (m *Module) Register(ctx context.Context, connID, name string) (domain.Identity, error) {
	var (
		id    domain.Identity
		opErr error
	)
	if err := m.loop.Do(ctx, func() { id, opErr = m.core.Register(connID, name) }); err != nil {
		return domain.Identity{}, err
	}
	return id, opErr
}

// SendBroadcast routes a broadcast message.
func (m *Module) SendBroadcast(ctx context.Context, connID, text string) error {
	var opErr error
	if err := m.loop.Do(ctx, func() { opErr = m.core.SendBroadcast(connID, text) }); err != nil {
		return err
	}
	return opErr
}

// SendPrivate routes a private message.
func (m *Module) SendPrivate(ctx context.Context, connID, target, text string) error {
	var opErr error
	if err := m.loop.Do(ctx, func() { opErr = m.core.SendPrivate(connID, target, text) }); err != nil {
		return err
	}
	return opErr
}

// SendRoom routes a room-scoped message.
func (m *Module) SendRoom(ctx context.Context, connID, room, text string) error {
	var opErr error
	if err := m.loop.Do(ctx, func() { opErr = m.core.SendRoom(connID, room, text) }); err != nil {
		return err
	}
	return opErr
}

// JoinRoom adds a connection to a room.
func (m *Module) JoinRoom(ctx context.Context, connID, room string) error {
	var opErr error
	if err := m.loop.Do(ctx, func() { opErr = m.core.JoinRoom(connID, room) }); err != nil {
		return err
	}
	return opErr
}

// LeaveRoom removes a connection from a room.
func (m *Module) LeaveRoom(ctx context.Context, connID, room string) error {
	var opErr error
	if err := m.loop.Do(ctx, func() { opErr = m.core.LeaveRoom(connID, room) }); err != nil {
		return err
	}
	return opErr
}

// QueryRoomMembers sends a room's member listing to the querying connection.
func (m *Module) QueryRoomMembers(ctx context.Context, connID, room string) error {
	var opErr error
	if err := m.loop.Do(ctx, func() { opErr = m.core.QueryRoomMembers(connID, room) }); err != nil {
		return err
	}
	return opErr
}

// Typing relays a typing indicator to the other members of a room.
func (m *Module) Typing(ctx context.Context, connID, room string, isTyping bool) error {
	return m.loop.Do(ctx, func() { m.core.Typing(connID, room, isTyping) })
}

// Request/reply service handlers. These run on EventBus goroutines, so they
// go through the loop like everything else.

func (m *Module) handlePresenceSnapshot(ctx context.Context, _ *PresenceSnapshotRequest, _ *mono.Msg) (*PresenceSnapshotResponse, error) {
	var users []domain.Identity
	if err := m.loop.Do(ctx, func() { users = m.core.Snapshot() }); err != nil {
		return nil, err
	}
	return &PresenceSnapshotResponse{Users: users}, nil
}

func (m *Module) handleListRooms(ctx context.Context, _ *ListRoomsRequest, _ *mono.Msg) (*ListRoomsResponse, error) {
	var rooms []domain.Room
	if err := m.loop.Do(ctx, func() { rooms = m.core.Rooms() }); err != nil {
		return nil, err
	}
	return &ListRoomsResponse{Rooms: rooms}, nil
}

func (m *Module) handleRoomMembers(ctx context.Context, req *RoomMembersRequest, _ *mono.Msg) (*RoomMembersResponse, error) {
	if err := ValidateRoomName(req.Room); err != nil {
		return nil, err
	}
	var members []domain.Member
	if err := m.loop.Do(ctx, func() { members = m.core.RoomMembers(req.Room) }); err != nil {
		return nil, err
	}
	return &RoomMembersResponse{Room: req.Room, Members: members}, nil
}

// Sink implementation: deliveries leave the core as typed events on the
// EventBus and are written to sockets by the broadcast module.

// DeliverChat publishes a routed chatMessage envelope.
func (m *Module) DeliverChat(targets []string, env domain.Envelope) {
	m.publish(func() error {
		return events.ChatDeliveredV1.Publish(m.eventBus, events.ChatDeliveredEvent{
			Targets:  targets,
			Envelope: env,
		}, nil)
	}, "ChatDelivered")
}

// DeliverPresence publishes an authoritative presence list.
func (m *Module) DeliverPresence(targets []string, users []domain.Identity) {
	m.publish(func() error {
		return events.PresenceUpdatedV1.Publish(m.eventBus, events.PresenceUpdatedEvent{
			Targets: targets,
			Users:   users,
		}, nil)
	}, "PresenceUpdated")
}

// DeliverIdentity publishes the identityAssigned notice for one connection.
func (m *Module) DeliverIdentity(connID, userID string) {
	m.publish(func() error {
		return events.IdentityAssignedV1.Publish(m.eventBus, events.IdentityAssignedEvent{
			ConnectionID: connID,
			UserID:       userID,
		}, nil)
	}, "IdentityAssigned")
}

// DeliverRoomMembers publishes a room member listing for one connection.
func (m *Module) DeliverRoomMembers(target, room string, members []domain.Member) {
	m.publish(func() error {
		return events.RoomMembersV1.Publish(m.eventBus, events.RoomMembersEvent{
			Target:  target,
			Room:    room,
			Members: members,
		}, nil)
	}, "RoomMembers")
}

// DeliverTyping publishes a typing indicator for a room's other members.
func (m *Module) DeliverTyping(targets []string, room, connID, displayName string, isTyping bool) {
	m.publish(func() error {
		return events.TypingStatusV1.Publish(m.eventBus, events.TypingStatusEvent{
			Targets:      targets,
			Room:         room,
			ConnectionID: connID,
			DisplayName:  displayName,
			IsTyping:     isTyping,
		}, nil)
	}, "TypingStatus")
}

func (m *Module) publish(fn func() error, event string) {
	if m.eventBus == nil {
		slog.Warn("EventBus not set, dropping event", "event", event)
		return
	}
	if err := fn(); err != nil {
		slog.Warn("Failed to publish event", "event", event, "error", err)
	}
}
