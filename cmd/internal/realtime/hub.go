package realtime

import (
	"log/slog"
	"sync"

	v1 "bandroom/contracts/realtime/v1"
)

// Hub owns room membership and broadcast fanout.
//
// One mutex guards both views of the same state: room -> members for
// broadcast, and connection -> rooms for fast teardown on disconnect. Keeping
// them under a single lock means a connection can never be observed in one
// view and missing from the other.
//
// Broadcast never blocks: a member whose send queue is full has the envelope
// dropped rather than stalling the whole room.
type Hub struct {
	log     *slog.Logger
	metrics *Metrics

	mu       sync.RWMutex
	rooms    map[RoomKey]map[string]*Client
	byConnID map[string]map[RoomKey]struct{}
}

// NewHub constructs a Hub. metrics may be nil.
func NewHub(log *slog.Logger, metrics *Metrics) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:      log,
		metrics:  metrics,
		rooms:    make(map[RoomKey]map[string]*Client),
		byConnID: make(map[string]map[RoomKey]struct{}),
	}
}

// Join adds a client to a room. Joining a room the client already belongs to
// is a no-op; membership stays single-entry per connection.
func (h *Hub) Join(key RoomKey, client *Client) {
	if h == nil || client == nil || client.ConnID == "" || !key.Valid() {
		return
	}

	h.mu.Lock()
	room, ok := h.rooms[key]
	if !ok {
		room = make(map[string]*Client)
		h.rooms[key] = room
	}
	_, already := room[client.ConnID]
	room[client.ConnID] = client

	keys, ok := h.byConnID[client.ConnID]
	if !ok {
		keys = make(map[RoomKey]struct{})
		h.byConnID[client.ConnID] = keys
	}
	keys[key] = struct{}{}
	h.mu.Unlock()

	if !already {
		h.log.Info("room.member.join", "room", key.String(), "conn_id", client.ConnID, "user_id", client.UserID)
	}
}

// IsMember reports whether the connection currently belongs to the room.
func (h *Hub) IsMember(key RoomKey, connID string) bool {
	if h == nil || connID == "" {
		return false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[key][connID]
	return ok
}

// Rooms returns the rooms the connection belongs to, in no particular order.
func (h *Hub) Rooms(connID string) []RoomKey {
	h.mu.RLock()
	defer h.mu.RUnlock()

	keys := h.byConnID[connID]
	out := make([]RoomKey, 0, len(keys))
	for k := range keys {
		out = append(out, k)
	}
	return out
}

// LeaveAll removes the connection from every room it joined. Empty rooms are
// deleted so an idle server holds no per-room state.
func (h *Hub) LeaveAll(connID string) {
	if h == nil || connID == "" {
		return
	}

	h.mu.Lock()
	keys := h.byConnID[connID]
	delete(h.byConnID, connID)
	for k := range keys {
		room := h.rooms[k]
		delete(room, connID)
		if len(room) == 0 {
			delete(h.rooms, k)
		}
	}
	h.mu.Unlock()

	if len(keys) > 0 {
		h.log.Info("room.member.leave_all", "conn_id", connID, "rooms", len(keys))
	}
}

// Broadcast fans out an envelope to every member of the room, skipping the
// connection named by excludeConnID when it is non-empty.
// Non-blocking: if a member queue is full or the client is shutting down, it is dropped.
func (h *Hub) Broadcast(key RoomKey, env v1.Envelope, excludeConnID string) {
	if h == nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for connID, m := range h.rooms[key] {
		if m == nil || connID == excludeConnID {
			continue
		}

		select {
		case <-m.Done():
			// Skip clients that are shutting down.
			continue
		default:
		}

		select {
		case m.Send <- env:
		default:
			// Drop rather than block the whole room.
			if h.metrics != nil {
				h.metrics.DroppedBroadcasts.Inc()
			}
			h.log.Warn("room.broadcast.drop", "room", key.String(), "conn_id", connID, "type", env.Type)
		}
	}
}
