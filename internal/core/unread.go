package core

import "sync"

// UnreadCounter maintains a running count of published-but-unread messages
// per room. The counter is room-scoped, matching the room-updated wire
// contract; per-viewer unread counts are derived separately from read-by
// absence in the store.
type UnreadCounter struct {
	mu     sync.Mutex
	counts map[int64]int64
}

// NewUnreadCounter constructs an empty counter.
func NewUnreadCounter() *UnreadCounter {
	return &UnreadCounter{counts: make(map[int64]int64)}
}

// Increment bumps the room's counter and returns the new value.
func (u *UnreadCounter) Increment(roomID int64) int64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.counts[roomID]++
	return u.counts[roomID]
}

// Reset clears the room's counter.
func (u *UnreadCounter) Reset(roomID int64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.counts, roomID)
}

// Get returns the room's current counter value.
func (u *UnreadCounter) Get(roomID int64) int64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.counts[roomID]
}
