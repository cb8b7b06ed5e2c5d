package broadcast

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"

	domain "github.com/example/chat-relay/domain/relay"
	"github.com/example/chat-relay/events"
)

// BroadcastModule consumes the relay's delivery events and writes them to
// the targeted WebSocket clients.
type BroadcastModule struct {
	hub       *Hub
	cancelHub context.CancelFunc
}

// Compile-time interface checks.
var _ mono.Module = (*BroadcastModule)(nil)
var _ mono.EventConsumerModule = (*BroadcastModule)(nil)
var _ mono.HealthCheckableModule = (*BroadcastModule)(nil)

// NewModule creates a new BroadcastModule.
func NewModule() *BroadcastModule {
	return &BroadcastModule{
		hub: NewHub(),
	}
}

// Name returns the module name.
func (m *BroadcastModule) Name() string {
	return "broadcast"
}

// Start initializes the module and starts the hub.
func (m *BroadcastModule) Start(_ context.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancelHub = cancel
	go m.hub.Run(ctx)
	log.Println("[broadcast] Module started - WebSocket hub running")
	return nil
}

// Stop shuts down the module.
func (m *BroadcastModule) Stop(_ context.Context) error {
	clientCount := m.hub.ClientCount()
	if m.cancelHub != nil {
		m.cancelHub()
		m.hub.Wait()
	}
	log.Printf("[broadcast] Module stopped - %d clients were connected", clientCount)
	return nil
}

// Health returns the health status.
func (m *BroadcastModule) Health(_ context.Context) mono.HealthStatus {
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{
			"connected_clients": m.hub.ClientCount(),
		},
	}
}

// RegisterEventConsumers registers event handlers.
func (m *BroadcastModule) RegisterEventConsumers(registry mono.EventRegistry) error {
	if err := helper.RegisterTypedEventConsumer(
		registry, events.ChatDeliveredV1, m.handleChatDelivered, m,
	); err != nil {
		return fmt.Errorf("failed to register ChatDelivered consumer: %w", err)
	}

	if err := helper.RegisterTypedEventConsumer(
		registry, events.PresenceUpdatedV1, m.handlePresenceUpdated, m,
	); err != nil {
		return fmt.Errorf("failed to register PresenceUpdated consumer: %w", err)
	}

	if err := helper.RegisterTypedEventConsumer(
		registry, events.IdentityAssignedV1, m.handleIdentityAssigned, m,
	); err != nil {
		return fmt.Errorf("failed to register IdentityAssigned consumer: %w", err)
	}

	if err := helper.RegisterTypedEventConsumer(
		registry, events.RoomMembersV1, m.handleRoomMembers, m,
	); err != nil {
		return fmt.Errorf("failed to register RoomMembers consumer: %w", err)
	}

	if err := helper.RegisterTypedEventConsumer(
		registry, events.TypingStatusV1, m.handleTypingStatus, m,
	); err != nil {
		return fmt.Errorf("failed to register TypingStatus consumer: %w", err)
	}

	log.Println("[broadcast] Registered event consumers: ChatDelivered, PresenceUpdated, IdentityAssigned, RoomMembers, TypingStatus")
	return nil
}

// Event handlers

func (m *BroadcastModule) handleChatDelivered(_ context.Context, event events.ChatDeliveredEvent, _ *mono.Msg) error {
	ts := event.Envelope.Timestamp
	m.hub.Deliver(event.Targets, Frame{
		Type:      FrameChatMessage,
		Sender:    event.Envelope.Sender,
		Text:      event.Envelope.Text,
		Timestamp: &ts,
		Scope:     string(event.Envelope.Scope),
		Room:      event.Envelope.Room,
	})
	return nil
}

func (m *BroadcastModule) handlePresenceUpdated(_ context.Context, event events.PresenceUpdatedEvent, _ *mono.Msg) error {
	m.hub.Deliver(event.Targets, Frame{
		Type:  FramePresenceList,
		Users: event.Users,
	})
	return nil
}

func (m *BroadcastModule) handleIdentityAssigned(_ context.Context, event events.IdentityAssignedEvent, _ *mono.Msg) error {
	log.Printf("[broadcast] Identity assigned to %s", event.ConnectionID)

	m.hub.Deliver([]string{event.ConnectionID}, Frame{
		Type:         FrameIdentityAssigned,
		ConnectionID: event.ConnectionID,
		UserID:       event.UserID,
	})
	return nil
}

func (m *BroadcastModule) handleRoomMembers(_ context.Context, event events.RoomMembersEvent, _ *mono.Msg) error {
	m.hub.Deliver([]string{event.Target}, Frame{
		Type:    FrameRoomMembers,
		Room:    event.Room,
		Members: event.Members,
	})
	return nil
}

func (m *BroadcastModule) handleTypingStatus(_ context.Context, event events.TypingStatusEvent, _ *mono.Msg) error {
	isTyping := event.IsTyping
	m.hub.Deliver(event.Targets, Frame{
		Type:         FrameTypingStatus,
		Room:         event.Room,
		ConnectionID: event.ConnectionID,
		DisplayName:  event.DisplayName,
		IsTyping:     &isTyping,
	})
	return nil
}

// GetHub returns the WebSocket hub for the API module to use.
func (m *BroadcastModule) GetHub() *Hub {
	return m.hub
}

// Outbound frame type discriminators.
const (
	FrameIdentityAssigned = "identityAssigned"
	FramePresenceList     = "presenceList"
	FrameChatMessage      = "chatMessage"
	FrameRoomMembers      = "roomMembers"
	FrameTypingStatus     = "typingStatus"
	FrameError            = "error"
)

// Frame is the structure sent to WebSocket clients.
type Frame struct {
	Type         string            `json:"type"`
	ConnectionID string            `json:"connectionId,omitempty"`
	UserID       string            `json:"userId,omitempty"`
	Sender       string            `json:"sender,omitempty"`
	Text         string            `json:"text,omitempty"`
	Timestamp    *time.Time        `json:"timestamp,omitempty"`
	Scope        string            `json:"scope,omitempty"`
	Room         string            `json:"room,omitempty"`
	DisplayName  string            `json:"displayName,omitempty"`
	IsTyping     *bool             `json:"isTyping,omitempty"`
	Users        []domain.Identity `json:"users,omitempty"`
	Members      []domain.Member   `json:"members,omitempty"`
	Code         string            `json:"code,omitempty"`
	Message      string            `json:"message,omitempty"`
}
