package proto

import (
	"encoding/json"
	"time"

	"github.com/ieum-labs/roomsync/internal/store"
)

// Inbound is the envelope for messages coming from the client. Each type
// carries a fixed payload schema validated at the transport boundary before
// it reaches core logic.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	ProtocolVersion = 1

	InboundTypeJoinRoom    = "join-room"
	InboundTypeLeaveRoom   = "leave-room"
	InboundTypeSendMessage = "send-message"
	InboundTypeMarkRead    = "mark-read"
	InboundTypeTyping      = "typing"

	OutboundTypeEvent = "event"
	OutboundTypeError = "error"

	EventNewMessage   = "new-message"
	EventMessagesRead = "messages-read"
	EventRoomUpdated  = "room-updated"
	EventUserJoined   = "user-joined"
	EventUserLeft     = "user-left"
	EventUserTyping   = "user-typing"
)

// JoinRoomData requests to subscribe to a room. Also used for leave-room.
type JoinRoomData struct {
	RoomID int64 `json:"roomId"`
}

// SendMessageData submits a message to a room.
type SendMessageData struct {
	RoomID int64             `json:"roomId"`
	Text   string            `json:"text,omitempty"`
	Media  []store.MediaItem `json:"media,omitempty"`
}

// MarkReadData acknowledges reading up through a message.
type MarkReadData struct {
	RoomID    int64  `json:"roomId"`
	MessageID string `json:"messageId"`
}

// TypingData signals an ephemeral typing state.
type TypingData struct {
	RoomID   int64 `json:"roomId"`
	IsTyping bool  `json:"isTyping"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// ReadByEntry is one (user, timestamp) pair on a message's read-by list.
type ReadByEntry struct {
	UserID int64  `json:"userId"`
	ReadAt string `json:"readAt"`
}

// MessageData is the wire form of a message, used by new-message pushes and
// the history fetch response alike.
type MessageData struct {
	ID         string            `json:"id"`
	RoomID     int64             `json:"roomId"`
	SenderID   int64             `json:"senderId"`
	SenderName string            `json:"senderName"`
	Text       string            `json:"text,omitempty"`
	Media      []store.MediaItem `json:"media"`
	ReadBy     []ReadByEntry     `json:"readBy"`
	CreatedAt  string            `json:"createdAt"`
	IsDeleted  bool              `json:"isDeleted,omitempty"`
}

// MessagesReadData is a read-state delta: one reader, one message, and by
// implication every earlier message in the room.
type MessagesReadData struct {
	RoomID    int64  `json:"roomId"`
	MessageID string `json:"messageId"`
	UserID    int64  `json:"userId"`
	ReadAt    string `json:"readAt"`
}

// RoomUpdatedData carries room-level state after a publish.
type RoomUpdatedData struct {
	RoomID        int64  `json:"roomId"`
	LastMessageID string `json:"lastMessageId"`
	LastMessageAt string `json:"lastMessageAt"`
	UnreadCount   int64  `json:"unreadCount"`
}

// PresenceData notifies that a user joined or left a room.
type PresenceData struct {
	RoomID   int64  `json:"roomId"`
	UserID   int64  `json:"userId"`
	UserName string `json:"userName"`
}

// UserTypingData relays a typing indicator.
type UserTypingData struct {
	RoomID   int64  `json:"roomId"`
	UserID   int64  `json:"userId"`
	UserName string `json:"userName"`
	IsTyping bool   `json:"isTyping"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

// MessageFromStore converts a persisted message to its wire form.
func MessageFromStore(msg *store.Message) MessageData {
	readBy := make([]ReadByEntry, 0, len(msg.ReadBy))
	for _, r := range msg.ReadBy {
		readBy = append(readBy, ReadByEntry{
			UserID: r.UserID,
			ReadAt: r.ReadAt.UTC().Format(time.RFC3339Nano),
		})
	}
	media := msg.Media
	if media == nil {
		media = []store.MediaItem{}
	}
	return MessageData{
		ID:         msg.ID,
		RoomID:     msg.RoomID,
		SenderID:   msg.SenderID,
		SenderName: msg.SenderName,
		Text:       msg.Text,
		Media:      media,
		ReadBy:     readBy,
		CreatedAt:  msg.CreatedAt.UTC().Format(time.RFC3339Nano),
		IsDeleted:  msg.IsDeleted,
	}
}
