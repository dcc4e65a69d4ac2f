package sync

import (
	"sync"

	"github.com/ieum-labs/roomsync/internal/proto"
)

// Buffer merges the two message sources a room view has: a one-shot
// history snapshot and the live push stream. It deduplicates by message id,
// keeps chronological order, and tracks a watermark (the newest message id
// it has incorporated) for gap detection after reconnects. Owned by a
// single room view; safe for the view's fetch and stream goroutines.
type Buffer struct {
	mu        sync.Mutex
	order     []string
	byID      map[string]*proto.MessageData
	watermark string
	resync    bool
}

// NewBuffer constructs an empty buffer. Until seeded, the buffer reports
// resync required.
func NewBuffer() *Buffer {
	return &Buffer{
		byID:   make(map[string]*proto.MessageData),
		resync: true,
	}
}

// Seed replaces the buffer contents with a history snapshot in
// chronological order and clears the resync flag.
func (b *Buffer) Seed(history []proto.MessageData) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seedLocked(history, nil)
}

// SeedSnapshot seeds a freshly joined buffer from a history snapshot.
// Unlike Seed it keeps messages the push stream delivered while the
// snapshot was in flight: those postdate the snapshot, so they are
// re-appended after it instead of discarded.
func (b *Buffer) SeedSnapshot(history []proto.MessageData) {
	b.mu.Lock()
	defer b.mu.Unlock()

	inSnapshot := make(map[string]bool, len(history))
	for i := range history {
		inSnapshot[history[i].ID] = true
	}
	var pushed []*proto.MessageData
	for _, id := range b.order {
		if !inSnapshot[id] {
			pushed = append(pushed, b.byID[id])
		}
	}
	b.seedLocked(history, pushed)
}

func (b *Buffer) seedLocked(history []proto.MessageData, tail []*proto.MessageData) {
	b.order = b.order[:0]
	clear(b.byID)
	for i := range history {
		msg := history[i]
		if _, ok := b.byID[msg.ID]; ok {
			continue
		}
		b.order = append(b.order, msg.ID)
		b.byID[msg.ID] = &msg
	}
	for _, msg := range tail {
		if _, ok := b.byID[msg.ID]; ok {
			continue
		}
		b.order = append(b.order, msg.ID)
		b.byID[msg.ID] = msg
	}
	b.watermark = ""
	if n := len(b.order); n > 0 {
		b.watermark = b.order[n-1]
	}
	b.resync = false
}

// ApplyPush incorporates a pushed message. Returns false when the id is
// already present: the at-least-once delivery safeguard.
func (b *Buffer) ApplyPush(msg proto.MessageData) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.byID[msg.ID]; ok {
		return false
	}
	b.order = append(b.order, msg.ID)
	b.byID[msg.ID] = &msg
	b.watermark = msg.ID
	return true
}

// ApplyReadDelta folds a read-state delta into the referenced message.
// Idempotent: a second delta for the same (message, user) pair is
// discarded. Returns false when discarded or when the message is unknown.
func (b *Buffer) ApplyReadDelta(delta proto.MessagesReadData) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	msg, ok := b.byID[delta.MessageID]
	if !ok {
		return false
	}
	for _, r := range msg.ReadBy {
		if r.UserID == delta.UserID {
			return false
		}
	}
	msg.ReadBy = append(msg.ReadBy, proto.ReadByEntry{
		UserID: delta.UserID,
		ReadAt: delta.ReadAt,
	})
	return true
}

// Reconcile repairs the buffer against a freshly fetched history snapshot
// (chronological order) after a reconnect. When the watermark is found in
// the snapshot, only the messages past it are appended; otherwise the gap
// is unbounded and the buffer is rebuilt from the snapshot. Returns true
// when a full rebuild happened.
func (b *Buffer) Reconcile(history []proto.MessageData) bool {
	b.mu.Lock()
	watermark := b.watermark
	b.mu.Unlock()

	if watermark == "" {
		b.Seed(history)
		return true
	}

	idx := -1
	for i := range history {
		if history[i].ID == watermark {
			idx = i
			break
		}
	}
	if idx < 0 {
		// Watermark fell off the fetched page: cannot prove nothing was
		// missed, so resynchronize from scratch.
		b.Seed(history)
		return true
	}

	for _, msg := range history[idx+1:] {
		b.ApplyPush(msg)
	}
	b.mu.Lock()
	b.resync = false
	b.mu.Unlock()
	return false
}

// Messages returns a chronological snapshot of the buffer contents.
func (b *Buffer) Messages() []proto.MessageData {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]proto.MessageData, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, *b.byID[id])
	}
	return out
}

// Watermark returns the newest incorporated message id, or empty string.
func (b *Buffer) Watermark() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.watermark
}

// Len returns the number of buffered messages.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.order)
}

// MarkResyncRequired flags that the buffer cannot establish whether it
// missed messages; the next Reconcile or Seed clears it.
func (b *Buffer) MarkResyncRequired() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resync = true
}

// ResyncRequired reports whether the buffer needs a history re-fetch.
func (b *Buffer) ResyncRequired() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.resync
}
