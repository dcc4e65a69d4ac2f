package core

import (
	"time"

	"github.com/ieum-labs/roomsync/internal/store"
)

// EventKind is a notification the core emits to connections.
type EventKind int

const (
	// EventNewMessage notifies connections about a persisted message.
	EventNewMessage EventKind = iota
	// EventMessagesRead notifies connections about a read-state delta.
	EventMessagesRead
	// EventRoomUpdated notifies connections about room-level changes
	// (last message, unread counter).
	EventRoomUpdated
	// EventUserJoined notifies connections about a user subscribing to a room.
	EventUserJoined
	// EventUserLeft notifies connections about a user unsubscribing from a room.
	EventUserLeft
	// EventUserTyping relays an ephemeral typing indicator.
	EventUserTyping
	// EventError notifies a single connection about a domain error.
	EventError
)

// ReadDelta is a transient read acknowledgement: one reader, one message.
// It is folded into the message's read-by list and re-derived on demand,
// never persisted on its own.
type ReadDelta struct {
	RoomID    int64
	MessageID string
	UserID    int64
	ReadAt    time.Time
}

// RoomUpdate describes room-level state after a publish or read.
type RoomUpdate struct {
	RoomID        int64
	LastMessageID string
	LastMessageAt time.Time
	UnreadCount   int64
}

// Typing is an ephemeral typing indicator.
type Typing struct {
	RoomID   int64
	UserID   int64
	UserName string
	IsTyping bool
}

// Event is sent to connections to describe what happened in the system.
type Event struct {
	Kind       EventKind
	RoomID     int64
	UserID     int64
	UserName   string
	Message    *store.Message
	Read       *ReadDelta
	RoomUpdate *RoomUpdate
	Typing     *Typing
	Error      *CoreError
}
