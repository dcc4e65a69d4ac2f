package core

import (
	"github.com/rs/zerolog"

	"github.com/ieum-labs/roomsync/internal/store"
)

// Dispatcher fans persisted messages and lighter room events out to every
// connection subscribed to the room. Delivery is best-effort and
// at-least-once per connection: a slow consumer's event is dropped rather
// than blocking the publish path, and it is the client's reconciliation
// buffer that repairs the gap on resync. One failed delivery never affects
// other recipients.
type Dispatcher struct {
	registry *Registry
	log      *zerolog.Logger
}

// NewDispatcher constructs a dispatcher over the given registry.
func NewDispatcher(registry *Registry, logger *zerolog.Logger) *Dispatcher {
	return &Dispatcher{registry: registry, log: logger}
}

// Publish delivers a durably stored message to all subscribers of its room.
// Callers must persist the message first: a client must never observe a
// push that is not already retrievable via the history fetch path.
func (d *Dispatcher) Publish(msg *store.Message) {
	ev := &Event{
		Kind:    EventNewMessage,
		RoomID:  msg.RoomID,
		Message: msg,
	}
	d.broadcast(msg.RoomID, ev, nil)
}

// PublishRead delivers a read-state delta to the room's subscribers except
// the originating connection. This is the light broadcast path: the
// mutation is on existing messages, so no prior message persistence gates it.
func (d *Dispatcher) PublishRead(delta *ReadDelta, origin *Conn) {
	ev := &Event{
		Kind:   EventMessagesRead,
		RoomID: delta.RoomID,
		UserID: delta.UserID,
		Read:   delta,
	}
	d.broadcast(delta.RoomID, ev, origin)
}

// PublishRoomUpdate delivers room-level state to the room's subscribers.
func (d *Dispatcher) PublishRoomUpdate(update *RoomUpdate) {
	ev := &Event{
		Kind:       EventRoomUpdated,
		RoomID:     update.RoomID,
		RoomUpdate: update,
	}
	d.broadcast(update.RoomID, ev, nil)
}

// PublishPresence notifies the room that a user joined or left.
func (d *Dispatcher) PublishPresence(kind EventKind, roomID, userID int64, userName string, origin *Conn) {
	ev := &Event{
		Kind:     kind,
		RoomID:   roomID,
		UserID:   userID,
		UserName: userName,
	}
	d.broadcast(roomID, ev, origin)
}

// PublishTyping relays an ephemeral typing indicator to everyone but the typist.
func (d *Dispatcher) PublishTyping(t *Typing, origin *Conn) {
	ev := &Event{
		Kind:   EventUserTyping,
		RoomID: t.RoomID,
		UserID: t.UserID,
		Typing: t,
	}
	d.broadcast(t.RoomID, ev, origin)
}

func (d *Dispatcher) broadcast(roomID int64, ev *Event, except *Conn) {
	for _, c := range d.registry.Subscribers(roomID) {
		if c == except {
			continue
		}
		select {
		case c.Events <- ev:
		default:
			// Slow consumer; the push is lost and the client resyncs
			// from history.
			d.log.Debug().
				Str("conn_id", c.ID).
				Int64("room_id", roomID).
				Msg("dropped event for slow consumer")
		}
	}
}
