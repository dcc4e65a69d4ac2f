package core

import (
	"sync"

	"github.com/rs/zerolog"
)

// Registry tracks live connections and their advisory room subscription
// sets. It is the only state shared across concurrent handlers; a single
// mutex is sufficient for chat-sized rooms.
//
// Subscription membership is advisory for fan-out only. The authoritative
// participant list lives in the room store; no membership authorization is
// enforced here.
type Registry struct {
	mu    sync.RWMutex
	conns map[*Conn]struct{}
	rooms map[int64]map[*Conn]struct{}
	log   *zerolog.Logger
}

// NewRegistry constructs an empty registry.
func NewRegistry(logger *zerolog.Logger) *Registry {
	return &Registry{
		conns: make(map[*Conn]struct{}),
		rooms: make(map[int64]map[*Conn]struct{}),
		log:   logger,
	}
}

// Register admits a new connection. Fails with ErrAuthRequired when the
// connection carries no authenticated identity.
func (r *Registry) Register(c *Conn) error {
	if c.UserID == 0 {
		return ErrAuthRequired
	}

	r.mu.Lock()
	r.conns[c] = struct{}{}
	r.mu.Unlock()

	r.log.Debug().Str("conn_id", c.ID).Int64("user_id", c.UserID).Msg("connection registered")
	return nil
}

// Join adds the room to the connection's subscription set. Idempotent:
// returns false when the connection was already subscribed.
func (r *Registry) Join(c *Conn, roomID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[c]; !ok {
		return false
	}
	if _, ok := c.rooms[roomID]; ok {
		return false
	}

	c.rooms[roomID] = struct{}{}
	subs := r.rooms[roomID]
	if subs == nil {
		subs = make(map[*Conn]struct{})
		r.rooms[roomID] = subs
	}
	subs[c] = struct{}{}
	return true
}

// Leave removes the subscription. Idempotent: returns false when the
// connection was not subscribed.
func (r *Registry) Leave(c *Conn, roomID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(c, roomID)
}

func (r *Registry) leaveLocked(c *Conn, roomID int64) bool {
	if _, ok := c.rooms[roomID]; !ok {
		return false
	}
	delete(c.rooms, roomID)

	if subs := r.rooms[roomID]; subs != nil {
		delete(subs, c)
		if len(subs) == 0 {
			delete(r.rooms, roomID)
		}
	}
	return true
}

// Unregister removes the connection and all its subscriptions. Safe to call
// while a broadcast to the same connection is in flight: the event channel
// is never closed, so a late snapshot delivery is simply dropped unread.
// Returns the rooms the connection was subscribed to.
func (r *Registry) Unregister(c *Conn) []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[c]; !ok {
		return nil
	}
	delete(r.conns, c)

	left := make([]int64, 0, len(c.rooms))
	for roomID := range c.rooms {
		left = append(left, roomID)
	}
	for _, roomID := range left {
		r.leaveLocked(c, roomID)
	}

	r.log.Debug().Str("conn_id", c.ID).Int64("user_id", c.UserID).Msg("connection unregistered")
	return left
}

// Subscribers returns a snapshot of the connections subscribed to the room.
// Snapshot order is unspecified; recipients get no relative ordering
// guarantee within one fan-out.
func (r *Registry) Subscribers(roomID int64) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs := r.rooms[roomID]
	out := make([]*Conn, 0, len(subs))
	for c := range subs {
		out = append(out, c)
	}
	return out
}

// Rooms returns a snapshot of the connection's subscribed room ids.
func (r *Registry) Rooms(c *Conn) []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]int64, 0, len(c.rooms))
	for roomID := range c.rooms {
		out = append(out, roomID)
	}
	return out
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Close unregisters every connection. Used on shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for c := range r.conns {
		for roomID := range c.rooms {
			r.leaveLocked(c, roomID)
		}
		delete(r.conns, c)
	}
}
