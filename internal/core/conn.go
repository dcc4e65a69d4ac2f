package core

// Conn is a live client connection as seen by the core layer. Events are
// delivered over a buffered channel drained by the transport's write loop,
// which is what preserves per-connection publish order.
type Conn struct {
	ID       string
	UserID   int64
	UserName string
	Events   chan *Event

	// rooms is the connection's advisory subscription set. Guarded by the
	// owning Registry's mutex; only the connection's own join/leave calls
	// mutate it.
	rooms map[int64]struct{}
}

// NewConn constructs a connection with an initialized event channel.
func NewConn(id string, userID int64, userName string) *Conn {
	return &Conn{
		ID:       id,
		UserID:   userID,
		UserName: userName,
		Events:   make(chan *Event, 32),
		rooms:    make(map[int64]struct{}),
	}
}
