package core

import (
	"context"
	"errors"
	"testing"

	"github.com/ieum-labs/roomsync/internal/store"
)

func TestSendMessagePublishesAfterPersist(t *testing.T) {
	svc, alice, bob, room := newTestService(t)
	ctx := context.Background()

	connA := NewConn("a", alice.ID, alice.Username)
	connB := NewConn("b", bob.ID, bob.Username)
	for _, c := range []*Conn{connA, connB} {
		if err := svc.Registry().Register(c); err != nil {
			t.Fatalf("register: %v", err)
		}
		svc.JoinRoom(c, room.ID)
	}

	msg, err := svc.SendMessage(ctx, room.ID, alice.ID, "hello", nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.ID == "" {
		t.Fatalf("message id not assigned")
	}
	if msg.SenderName != alice.Username {
		t.Fatalf("sender name %q, want %q", msg.SenderName, alice.Username)
	}

	ev := mustEvent(t, connB.Events, EventNewMessage)
	if ev.Message.ID != msg.ID {
		t.Fatalf("pushed message %s, want %s", ev.Message.ID, msg.ID)
	}
	if len(ev.Message.ReadBy) != 0 {
		t.Fatalf("new message must start with empty read-by list")
	}

	// A pushed message is already retrievable from the store.
	stored, err := svc.store.GetMessage(ctx, ev.Message.ID)
	if err != nil {
		t.Fatalf("pushed message not persisted: %v", err)
	}
	if stored.Text != "hello" {
		t.Fatalf("stored text %q", stored.Text)
	}

	update := mustEvent(t, connB.Events, EventRoomUpdated)
	if update.RoomUpdate.LastMessageID != msg.ID {
		t.Fatalf("room update last message %s, want %s", update.RoomUpdate.LastMessageID, msg.ID)
	}
	if update.RoomUpdate.UnreadCount != 1 {
		t.Fatalf("unread count %d, want 1", update.RoomUpdate.UnreadCount)
	}
}

func TestSendMessageValidation(t *testing.T) {
	svc, alice, _, room := newTestService(t)
	ctx := context.Background()

	if _, err := svc.SendMessage(ctx, room.ID, alice.ID, "", nil); err == nil {
		t.Fatalf("empty message must be rejected")
	}

	if _, err := svc.SendMessage(ctx, 9999, alice.ID, "hi", nil); !errors.Is(err, ErrUnknownRoom) {
		t.Fatalf("expected ErrUnknownRoom, got %v", err)
	}

	outsider, err := svc.store.CreateUser(ctx, "mallory", "hash")
	if err != nil {
		t.Fatalf("create outsider: %v", err)
	}
	if _, err := svc.SendMessage(ctx, room.ID, outsider.ID, "hi", nil); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}
}

func TestSendMessageMediaOnly(t *testing.T) {
	svc, alice, _, room := newTestService(t)

	media := []store.MediaItem{{Type: "image", URL: "https://cdn.example/x.png"}}
	msg, err := svc.SendMessage(context.Background(), room.ID, alice.ID, "", media)
	if err != nil {
		t.Fatalf("media-only send: %v", err)
	}
	if len(msg.Media) != 1 || msg.Media[0].URL != media[0].URL {
		t.Fatalf("media not carried: %+v", msg.Media)
	}
}

func TestMarkReadEmitsDeltaOnce(t *testing.T) {
	svc, alice, bob, room := newTestService(t)
	ctx := context.Background()

	connA := NewConn("a", alice.ID, alice.Username)
	connB := NewConn("b", bob.ID, bob.Username)
	for _, c := range []*Conn{connA, connB} {
		if err := svc.Registry().Register(c); err != nil {
			t.Fatalf("register: %v", err)
		}
		svc.JoinRoom(c, room.ID)
	}

	msg, err := svc.SendMessage(ctx, room.ID, alice.ID, "read me", nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	delta, err := svc.MarkRead(ctx, room.ID, bob.ID, msg.ID, connB)
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if delta == nil {
		t.Fatalf("first acknowledgement must produce a delta")
	}
	if delta.MessageID != msg.ID || delta.UserID != bob.ID {
		t.Fatalf("unexpected delta %+v", delta)
	}

	ev := mustEvent(t, connA.Events, EventMessagesRead)
	if ev.Read.UserID != bob.ID {
		t.Fatalf("delta reader %d, want %d", ev.Read.UserID, bob.ID)
	}
	mustNoEvent(t, connB.Events, EventMessagesRead)

	// Repeat acknowledgement marks nothing and emits nothing.
	delta, err = svc.MarkRead(ctx, room.ID, bob.ID, msg.ID, connB)
	if err != nil {
		t.Fatalf("repeat mark read: %v", err)
	}
	if delta != nil {
		t.Fatalf("repeat acknowledgement must be silent, got %+v", delta)
	}
	mustNoEvent(t, connA.Events, EventMessagesRead)
}

func TestMarkReadUnknownMessage(t *testing.T) {
	svc, _, bob, room := newTestService(t)

	_, err := svc.MarkRead(context.Background(), room.ID, bob.ID, "no-such-id", nil)
	if !errors.Is(err, ErrUnknownMessage) {
		t.Fatalf("expected ErrUnknownMessage, got %v", err)
	}
}

func TestMarkReadLatestResetsUnread(t *testing.T) {
	svc, alice, bob, room := newTestService(t)
	ctx := context.Background()

	first, err := svc.SendMessage(ctx, room.ID, alice.ID, "one", nil)
	if err != nil {
		t.Fatalf("send one: %v", err)
	}
	second, err := svc.SendMessage(ctx, room.ID, alice.ID, "two", nil)
	if err != nil {
		t.Fatalf("send two: %v", err)
	}
	if svc.Unread().Get(room.ID) != 2 {
		t.Fatalf("unread %d, want 2", svc.Unread().Get(room.ID))
	}

	// Acknowledging a non-latest message leaves the counter alone.
	if _, err := svc.MarkRead(ctx, room.ID, bob.ID, first.ID, nil); err != nil {
		t.Fatalf("mark first: %v", err)
	}
	if svc.Unread().Get(room.ID) != 2 {
		t.Fatalf("unread reset on non-latest acknowledgement")
	}

	if _, err := svc.MarkRead(ctx, room.ID, bob.ID, second.ID, nil); err != nil {
		t.Fatalf("mark second: %v", err)
	}
	if svc.Unread().Get(room.ID) != 0 {
		t.Fatalf("unread %d after latest acknowledgement, want 0", svc.Unread().Get(room.ID))
	}
}

func TestMarkReadBackfillsEarlier(t *testing.T) {
	svc, alice, bob, room := newTestService(t)
	ctx := context.Background()

	var last *store.Message
	for _, text := range []string{"one", "two", "three"} {
		msg, err := svc.SendMessage(ctx, room.ID, alice.ID, text, nil)
		if err != nil {
			t.Fatalf("send %q: %v", text, err)
		}
		last = msg
	}

	if _, err := svc.MarkRead(ctx, room.ID, bob.ID, last.ID, nil); err != nil {
		t.Fatalf("mark read: %v", err)
	}

	// Every message at or before the acknowledged one carries bob now.
	msgs, err := svc.History(ctx, room.ID, 50, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	for _, msg := range msgs {
		if !msg.ReadByUser(bob.ID) {
			t.Fatalf("message %q not marked read by bob", msg.Text)
		}
	}
}

func TestHistoryNewestFirst(t *testing.T) {
	svc, alice, _, room := newTestService(t)
	ctx := context.Background()

	for _, text := range []string{"one", "two", "three"} {
		if _, err := svc.SendMessage(ctx, room.ID, alice.ID, text, nil); err != nil {
			t.Fatalf("send %q: %v", text, err)
		}
	}

	page, err := svc.History(ctx, room.ID, 2, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(page) != 2 || page[0].Text != "three" || page[1].Text != "two" {
		t.Fatalf("unexpected first page: %+v", page)
	}

	rest, err := svc.History(ctx, room.ID, 2, 2)
	if err != nil {
		t.Fatalf("history page 2: %v", err)
	}
	if len(rest) != 1 || rest[0].Text != "one" {
		t.Fatalf("unexpected second page: %+v", rest)
	}

	if _, err := svc.History(ctx, 9999, 50, 0); !errors.Is(err, ErrUnknownRoom) {
		t.Fatalf("expected ErrUnknownRoom, got %v", err)
	}
}

func TestDisconnectAnnouncesLeaves(t *testing.T) {
	svc, alice, bob, room := newTestService(t)

	connA := NewConn("a", alice.ID, alice.Username)
	connB := NewConn("b", bob.ID, bob.Username)
	for _, c := range []*Conn{connA, connB} {
		if err := svc.Registry().Register(c); err != nil {
			t.Fatalf("register: %v", err)
		}
		svc.JoinRoom(c, room.ID)
	}

	svc.Disconnect(connB)

	ev := mustEvent(t, connA.Events, EventUserLeft)
	if ev.UserID != bob.ID {
		t.Fatalf("leave announced for user %d, want %d", ev.UserID, bob.ID)
	}
	if svc.Registry().Len() != 1 {
		t.Fatalf("expected 1 remaining connection, got %d", svc.Registry().Len())
	}
}
