package core

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ieum-labs/roomsync/internal/store"
	"github.com/ieum-labs/roomsync/internal/store/sqlite"
)

func nopLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func mustEvent(t *testing.T, ch <-chan *Event, kind EventKind) *Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev == nil {
				continue
			}
			if ev.Kind == kind {
				return ev
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected event kind %v not received", kind)
	return nil
}

func mustNoEvent(t *testing.T, ch <-chan *Event, kind EventKind) {
	t.Helper()

	timer := time.NewTimer(100 * time.Millisecond)
	defer timer.Stop()
	for {
		select {
		case ev := <-ch:
			if ev != nil && ev.Kind == kind {
				t.Fatalf("unexpected event kind %v received", kind)
			}
		case <-timer.C:
			return
		}
	}
}

// newTestService builds a service over a fresh in-memory store with two
// users in one shared room.
func newTestService(t *testing.T) (*Service, *store.User, *store.User, *store.Room) {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	alice, err := st.CreateUser(ctx, "alice", "hash")
	if err != nil {
		t.Fatalf("create alice: %v", err)
	}
	bob, err := st.CreateUser(ctx, "bob", "hash")
	if err != nil {
		t.Fatalf("create bob: %v", err)
	}
	room, err := st.CreateRoom(ctx, "general", store.RoomTypeGroup, []int64{alice.ID, bob.ID})
	if err != nil {
		t.Fatalf("create room: %v", err)
	}

	registry := NewRegistry(nopLogger())
	dispatcher := NewDispatcher(registry, nopLogger())
	return NewService(st, registry, dispatcher, nopLogger()), alice, bob, room
}
