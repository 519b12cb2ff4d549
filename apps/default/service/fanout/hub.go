// Package fanout distributes realtime events to subscribers grouped into
// per-connection rooms.
package fanout

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pitabwire/util"

	"github.com/quipp/service-whatsapp/internal/telemetry"
)

// Realtime event types pushed to subscribers.
const (
	EventQRCode           = "qrCode"
	EventConnectionUpdate = "connectionUpdate"
	EventMessage          = "message"
	EventMessageStatus    = "messageStatus"
	EventTyping           = "typing"
)

// Envelope is a single realtime event addressed to a connection room.
type Envelope struct {
	ConnectionID string          `json:"connectionId"`
	Type         string          `json:"type"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	SentAt       int64           `json:"sentAt"`
}

// NewEnvelope builds an envelope, marshaling the payload to JSON.
func NewEnvelope(connectionID, eventType string, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		ConnectionID: connectionID,
		Type:         eventType,
		Payload:      raw,
		SentAt:       time.Now().UnixMilli(),
	}, nil
}

// Subscriber receives events for a room. Send must not block indefinitely;
// a subscriber that errors is dropped from the room.
type Subscriber interface {
	ID() string
	Send(env *Envelope) error
}

// Hub keeps per-connection rooms of subscribers. Join and Leave are
// idempotent. A slow or failed subscriber is removed rather than allowed to
// block the room.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[string]Subscriber
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		rooms: make(map[string]map[string]Subscriber),
	}
}

// Join adds a subscriber to a connection room.
func (h *Hub) Join(connectionID string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[connectionID]
	if !ok {
		room = make(map[string]Subscriber)
		h.rooms[connectionID] = room
	}
	room[sub.ID()] = sub
}

// Leave removes a subscriber from a connection room. No-op if absent.
func (h *Hub) Leave(connectionID, subscriberID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[connectionID]
	if !ok {
		return
	}
	delete(room, subscriberID)
	if len(room) == 0 {
		delete(h.rooms, connectionID)
	}
}

// CloseRoom drops every subscriber of a connection, used when the
// connection itself is deleted.
func (h *Hub) CloseRoom(connectionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.rooms, connectionID)
}

// RoomSize returns the number of subscribers in a connection room.
func (h *Hub) RoomSize(connectionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[connectionID])
}

// Publish delivers the envelope to every subscriber of its room.
// Failed subscribers are dropped. Delivery order within one publisher is
// preserved per subscriber; the hub never blocks on a dead client.
func (h *Hub) Publish(ctx context.Context, env *Envelope) {
	h.mu.RLock()
	room := h.rooms[env.ConnectionID]
	subs := make([]Subscriber, 0, len(room))
	for _, sub := range room {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		if err := sub.Send(env); err != nil {
			util.Log(ctx).WithError(err).WithFields(map[string]any{
				"connection_id": env.ConnectionID,
				"subscriber_id": sub.ID(),
				"event_type":    env.Type,
			}).Warn("dropping failed subscriber")
			h.Leave(env.ConnectionID, sub.ID())
			continue
		}
		telemetry.EventsDeliveredCounter.Add(ctx, 1)
	}
}
