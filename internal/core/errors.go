package core

import "errors"

// Error codes for domain errors.
const (
	ErrCodeAuthRequired   = "auth_required"
	ErrCodeUnknownRoom    = "unknown_room"
	ErrCodeUnknownMessage = "unknown_message"
	ErrCodeNotParticipant = "not_participant"
	ErrCodeBadRequest     = "bad_request"
)

var (
	// ErrAuthRequired is returned when a connection presents no valid
	// identity at handshake time.
	ErrAuthRequired = errors.New("auth required")
	// ErrUnknownRoom is returned when a room id does not resolve.
	ErrUnknownRoom = errors.New("unknown room")
	// ErrUnknownMessage is returned when a read acknowledgement references
	// a message that does not exist in the room.
	ErrUnknownMessage = errors.New("unknown message")
	// ErrNotParticipant is returned when a sender is not on the room's
	// authoritative participant list.
	ErrNotParticipant = errors.New("not a participant")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}
