package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	domain "github.com/example/chat-relay/domain/relay"
	"github.com/example/chat-relay/modules/broadcast"
	"github.com/example/chat-relay/modules/relay"
)

// Rate limiting constants
const (
	messagesPerSecond = 10
	burstSize         = 20
)

// rateLimiter implements a simple token bucket rate limiter.
type rateLimiter struct {
	tokens     int
	maxTokens  int
	refillRate int // tokens per second
	lastRefill time.Time
	mu         sync.Mutex
}

func newRateLimiter(maxTokens, refillRate int) *rateLimiter {
	return &rateLimiter{
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

func (r *rateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(r.lastRefill)
	tokensToAdd := int(elapsed.Seconds()) * r.refillRate
	if tokensToAdd > 0 {
		r.tokens += tokensToAdd
		if r.tokens > r.maxTokens {
			r.tokens = r.maxTokens
		}
		r.lastRefill = now
	}

	if r.tokens > 0 {
		r.tokens--
		return true
	}
	return false
}

// setupRoutes configures all HTTP routes.
func (m *APIModule) setupRoutes() {
	// Health check
	m.app.Get("/health", m.healthHandler)

	// WebSocket endpoint
	m.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	m.app.Get("/ws", websocket.New(m.handleWebSocket))

	// REST API v1
	api := m.app.Group("/api/v1")
	api.Get("/presence", m.getPresence)
	api.Get("/rooms", m.listRooms)
	api.Get("/rooms/:name/members", m.getRoomMembers)
}

// healthHandler handles GET /health.
func (m *APIModule) healthHandler(c *fiber.Ctx) error {
	return c.JSON(HealthResponse{
		Status: "healthy",
		Details: map[string]any{
			"module":            "api",
			"connected_clients": m.hub.ClientCount(),
		},
	})
}

// getPresence handles GET /api/v1/presence.
func (m *APIModule) getPresence(c *fiber.Ctx) error {
	users, err := m.relayPort.PresenceSnapshot(c.UserContext())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Error:   "snapshot_failed",
			Message: "Failed to get presence snapshot",
		})
	}

	response := PresenceResponse{
		Users: make([]PresenceEntry, 0, len(users)),
		Total: len(users),
	}
	for _, u := range users {
		response.Users = append(response.Users, PresenceEntry{
			ConnectionID: u.ConnectionID,
			DisplayName:  u.DisplayName,
			UserID:       u.UserID,
		})
	}

	return c.JSON(response)
}

// listRooms handles GET /api/v1/rooms.
func (m *APIModule) listRooms(c *fiber.Ctx) error {
	rooms, err := m.relayPort.ListRooms(c.UserContext())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Error:   "list_failed",
			Message: "Failed to list rooms",
		})
	}

	response := RoomListResponse{
		Rooms: make([]RoomResponse, 0, len(rooms)),
		Total: len(rooms),
	}
	for _, room := range rooms {
		response.Rooms = append(response.Rooms, RoomResponse{
			Name:    room.Name,
			Members: room.Members,
		})
	}

	return c.JSON(response)
}

// getRoomMembers handles GET /api/v1/rooms/:name/members. Rooms exist only
// while they have members, so an empty listing is a 404.
func (m *APIModule) getRoomMembers(c *fiber.Ctx) error {
	roomName := c.Params("name")

	members, err := m.relayPort.RoomMembers(c.UserContext(), roomName)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error:   "invalid_room",
			Message: "Invalid room name",
		})
	}
	if len(members) == 0 {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
			Error:   "not_found",
			Message: "Room not found",
		})
	}

	response := RoomMembersResponse{
		Room:    roomName,
		Members: make([]RoomMemberEntry, 0, len(members)),
	}
	for _, member := range members {
		response.Members = append(response.Members, RoomMemberEntry{
			ConnectionID: member.ConnectionID,
			DisplayName:  member.DisplayName,
		})
	}

	return c.JSON(response)
}

// handleWebSocket handles WebSocket connections at /ws.
func (m *APIModule) handleWebSocket(c *websocket.Conn) {
	connID := m.newConnID()
	client := &broadcast.Client{ID: connID, Conn: c}

	m.hub.Register(client)
	if err := m.relay.Connect(context.Background(), connID); err != nil {
		slog.Error("Failed to record connection", "connID", connID, "error", err)
		m.hub.Unregister(client)
		return
	}

	limiter := newRateLimiter(burstSize, messagesPerSecond)

	defer func() {
		if err := m.relay.Disconnect(context.Background(), connID); err != nil {
			slog.Error("Failed to purge connection", "connID", connID, "error", err)
		}
		m.hub.Unregister(client)
		log.Printf("[api] WebSocket client disconnected: %s", connID)
	}()

	log.Printf("[api] WebSocket client connected: %s", connID)

	for {
		_, msgBytes, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Error("WebSocket read error", "connID", connID, "error", err)
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(msgBytes, &msg); err != nil {
			m.sendError(connID, "invalidPayload", "Invalid message format")
			continue
		}

		m.dispatch(connID, limiter, msg)
	}
}

// dispatch routes one inbound client event to the relay.
func (m *APIModule) dispatch(connID string, limiter *rateLimiter, msg ClientMessage) {
	ctx := context.Background()

	switch msg.Type {
	case MsgRegister:
		if _, err := m.relay.Register(ctx, connID, msg.Name); err != nil {
			m.sendRelayError(connID, err)
		}
	case MsgSendBroadcast:
		if !limiter.allow() {
			m.sendError(connID, "rateLimited", "Rate limit exceeded, please slow down")
			return
		}
		if err := m.relay.SendBroadcast(ctx, connID, msg.Text); err != nil {
			if errors.Is(err, relay.ErrNotRegistered) {
				// An explanatory notice to the sender only, never broadcast.
				now := time.Now()
				m.hub.Deliver([]string{connID}, broadcast.Frame{
					Type:      broadcast.FrameChatMessage,
					Sender:    "System",
					Text:      "Please register first.",
					Timestamp: &now,
					Scope:     string(domain.ScopeSystem),
				})
				return
			}
			m.sendRelayError(connID, err)
		}
	case MsgSendPrivate:
		if !limiter.allow() {
			m.sendError(connID, "rateLimited", "Rate limit exceeded, please slow down")
			return
		}
		if err := m.relay.SendPrivate(ctx, connID, msg.Target, msg.Text); err != nil {
			m.sendRelayError(connID, err)
		}
	case MsgSendRoom:
		if !limiter.allow() {
			m.sendError(connID, "rateLimited", "Rate limit exceeded, please slow down")
			return
		}
		if err := m.relay.SendRoom(ctx, connID, msg.Room, msg.Text); err != nil {
			m.sendRelayError(connID, err)
		}
	case MsgJoinRoom:
		if err := m.relay.JoinRoom(ctx, connID, msg.Room); err != nil {
			m.sendRelayError(connID, err)
		}
	case MsgLeaveRoom:
		if err := m.relay.LeaveRoom(ctx, connID, msg.Room); err != nil {
			m.sendRelayError(connID, err)
		}
	case MsgQueryRoomMembers:
		if err := m.relay.QueryRoomMembers(ctx, connID, msg.Room); err != nil {
			m.sendRelayError(connID, err)
		}
	case MsgTyping:
		if err := m.relay.Typing(ctx, connID, msg.Room, msg.IsTyping); err != nil {
			slog.Error("Failed to relay typing status", "connID", connID, "error", err)
		}
	default:
		m.sendError(connID, "invalidPayload", "Unknown message type: "+msg.Type)
	}
}

// sendRelayError surfaces a directory error to the sender only.
func (m *APIModule) sendRelayError(connID string, err error) {
	m.sendError(connID, errorCode(err), err.Error())
}

// sendError delivers an error frame to one connection.
func (m *APIModule) sendError(connID, code, message string) {
	m.hub.Deliver([]string{connID}, broadcast.Frame{
		Type:    broadcast.FrameError,
		Code:    code,
		Message: message,
	})
}

// errorCode maps directory errors to wire error codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, relay.ErrNotRegistered):
		return "notRegistered"
	case errors.Is(err, relay.ErrAlreadyRegistered):
		return "alreadyRegistered"
	case errors.Is(err, relay.ErrUnknownTarget):
		return "unknownTarget"
	case errors.Is(err, relay.ErrMessageTooLong):
		return "messageTooLong"
	case errors.Is(err, relay.ErrRoomNameEmpty),
		errors.Is(err, relay.ErrRoomNameTooLong),
		errors.Is(err, relay.ErrRoomNameInvalid):
		return "invalidRoom"
	default:
		return "internal"
	}
}
