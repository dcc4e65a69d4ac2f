package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUserNotFound is returned when a user lookup misses.
	ErrUserNotFound = errors.New("user not found")
	// ErrRoomNotFound is returned when a room lookup misses.
	ErrRoomNotFound = errors.New("room not found")
	// ErrMessageNotFound is returned when a message id does not exist in the room.
	ErrMessageNotFound = errors.New("message not found")
)

// User represents a registered user.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// RoomType defines different types of rooms.
type RoomType string

const (
	RoomTypeDirect RoomType = "direct"
	RoomTypeGroup  RoomType = "group"
)

// Room represents a chat room. Participants are the authoritative member
// list; live socket subscriptions are advisory and held elsewhere.
type Room struct {
	ID            int64
	Name          string
	Type          RoomType
	LastMessageID *string
	LastMessageAt *time.Time
	CreatedAt     time.Time
}

// RoomSummary is a room together with viewer-relative derived fields.
type RoomSummary struct {
	Room
	ParticipantCount int
	UnreadCount      int64
}

// MediaItem is a reference to an uploaded media object attached to a message.
// Upload and storage of the object itself happen out of process.
type MediaItem struct {
	Type     string `json:"type"`
	URL      string `json:"url"`
	FileName string `json:"fileName,omitempty"`
	FileSize int64  `json:"fileSize,omitempty"`
	Duration int    `json:"duration,omitempty"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
}

// ReadReceipt records one user's acknowledgement of one message.
type ReadReceipt struct {
	UserID int64
	ReadAt time.Time
}

// Message is a persisted chat message. The id is opaque and globally unique;
// ordering within a room comes from insertion order, never from the id.
// ReadBy only ever grows, one entry per distinct reader.
type Message struct {
	ID         string
	RoomID     int64
	SenderID   int64
	SenderName string
	Text       string
	Media      []MediaItem
	ReadBy     []ReadReceipt
	CreatedAt  time.Time
	IsDeleted  bool
}

// HasBeenRead reports whether anyone besides the sender has read the message.
func (m *Message) HasBeenRead() bool {
	for _, r := range m.ReadBy {
		if r.UserID != m.SenderID {
			return true
		}
	}
	return false
}

// ReadByUser reports whether the given user already acknowledged the message.
func (m *Message) ReadByUser(userID int64) bool {
	for _, r := range m.ReadBy {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

// UserStore handles user persistence.
type UserStore interface {
	// CreateUser creates a new user with hashed password.
	CreateUser(ctx context.Context, username, passwordHash string) (*User, error)

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id int64) (*User, error)

	// GetUserByUsername retrieves a user by username.
	GetUserByUsername(ctx context.Context, username string) (*User, error)
}

// RoomStore handles room persistence and the authoritative participant list.
type RoomStore interface {
	// CreateRoom creates a room and adds the given participants.
	CreateRoom(ctx context.Context, name string, roomType RoomType, participantIDs []int64) (*Room, error)

	// GetRoomByID retrieves a room by ID.
	GetRoomByID(ctx context.Context, id int64) (*Room, error)

	// ListRoomsForUser lists rooms the user participates in, with
	// viewer-relative unread counts derived from read-by absence.
	ListRoomsForUser(ctx context.Context, userID int64) ([]*RoomSummary, error)

	// AddParticipant adds a user to a room. Idempotent.
	AddParticipant(ctx context.Context, roomID, userID int64) error

	// IsParticipant checks whether the user is in the room's participant list.
	IsParticipant(ctx context.Context, roomID, userID int64) (bool, error)

	// ListParticipants lists user IDs of all room participants.
	ListParticipants(ctx context.Context, roomID int64) ([]int64, error)

	// SetLastMessage records the room's most recent message reference.
	SetLastMessage(ctx context.Context, roomID int64, messageID string, at time.Time) error
}

// MessageStore handles message persistence and read-state.
type MessageStore interface {
	// CreateMessage durably persists a message. The caller assigns the id
	// and creation timestamp before the call.
	CreateMessage(ctx context.Context, msg *Message) error

	// GetMessage retrieves a single message with its read-by list.
	GetMessage(ctx context.Context, id string) (*Message, error)

	// ListMessages retrieves up to limit messages of a room, newest first,
	// skipping the given number of newer messages. Soft-deleted messages
	// are excluded.
	ListMessages(ctx context.Context, roomID int64, limit, skip int) ([]*Message, error)

	// AppendReadBy marks the referenced message and every earlier message
	// in the room as read by the user. Set-add semantics: messages the
	// user already acknowledged are untouched. Returns the number of
	// newly marked messages. Returns ErrMessageNotFound when the message
	// id does not exist in that room.
	AppendReadBy(ctx context.Context, roomID, userID int64, messageID string, at time.Time) (int, error)

	// LatestMessageID returns the id of the newest message in the room,
	// or empty string when the room has no messages.
	LatestMessageID(ctx context.Context, roomID int64) (string, error)

	// CountUnreadForUser counts messages in the room the user has neither
	// sent nor acknowledged.
	CountUnreadForUser(ctx context.Context, roomID, userID int64) (int64, error)

	// SoftDeleteMessage flags a message as deleted without removing it.
	SoftDeleteMessage(ctx context.Context, id string) error
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	RoomStore
	MessageStore

	// Close closes the underlying database connection.
	Close() error
}
