package sqlite

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ieum-labs/roomsync/internal/store"
)

// The schema must apply cleanly on a fresh database; every other store
// operation depends on construction succeeding.
func TestNewAppliesSchema(t *testing.T) {
	st, err := New(":memory:")
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}
}

type fixture struct {
	st    *SQLiteStore
	alice *store.User
	bob   *store.User
	room  *store.Room
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st, err := New(":memory:")
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

	return &fixture{st: st, alice: alice, bob: bob, room: room}
}

func (f *fixture) seedMessages(t *testing.T, senderID int64, texts ...string) []*store.Message {
	t.Helper()

	msgs := make([]*store.Message, 0, len(texts))
	for i, text := range texts {
		msg := &store.Message{
			ID:        fmt.Sprintf("msg-%s-%d", text, i),
			RoomID:    f.room.ID,
			SenderID:  senderID,
			Text:      text,
			CreatedAt: time.Now().UTC(),
		}
		if err := f.st.CreateMessage(context.Background(), msg); err != nil {
			t.Fatalf("create message %q: %v", text, err)
		}
		msgs = append(msgs, msg)
	}
	return msgs
}

func TestRoomParticipants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ok, err := f.st.IsParticipant(ctx, f.room.ID, f.alice.ID)
	if err != nil || !ok {
		t.Fatalf("alice should be a participant: ok=%v err=%v", ok, err)
	}

	carol, err := f.st.CreateUser(ctx, "carol", "hash")
	if err != nil {
		t.Fatalf("create carol: %v", err)
	}
	ok, err = f.st.IsParticipant(ctx, f.room.ID, carol.ID)
	if err != nil || ok {
		t.Fatalf("carol should not be a participant yet: ok=%v err=%v", ok, err)
	}

	// Adding twice is idempotent.
	for i := 0; i < 2; i++ {
		if err := f.st.AddParticipant(ctx, f.room.ID, carol.ID); err != nil {
			t.Fatalf("add participant: %v", err)
		}
	}
	ids, err := f.st.ListParticipants(ctx, f.room.ID)
	if err != nil {
		t.Fatalf("list participants: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("expected 3 participants, got %v", ids)
	}
}

func TestListMessagesPagination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedMessages(t, f.alice.ID, "one", "two", "three", "four", "five")

	page, err := f.st.ListMessages(ctx, f.room.ID, 2, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 2 || page[0].Text != "five" || page[1].Text != "four" {
		t.Fatalf("unexpected first page: %v %v", page[0].Text, page[1].Text)
	}
	if page[0].SenderName != "alice" {
		t.Fatalf("sender name %q, want alice", page[0].SenderName)
	}

	page, err = f.st.ListMessages(ctx, f.room.ID, 2, 4)
	if err != nil {
		t.Fatalf("list with skip: %v", err)
	}
	if len(page) != 1 || page[0].Text != "one" {
		t.Fatalf("unexpected last page: %+v", page)
	}
}

func TestListMessagesExcludesDeleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	msgs := f.seedMessages(t, f.alice.ID, "keep", "remove")

	if err := f.st.SoftDeleteMessage(ctx, msgs[1].ID); err != nil {
		t.Fatalf("soft delete: %v", err)
	}

	page, err := f.st.ListMessages(ctx, f.room.ID, 50, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 1 || page[0].Text != "keep" {
		t.Fatalf("deleted message still listed: %+v", page)
	}

	latest, err := f.st.LatestMessageID(ctx, f.room.ID)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest != msgs[0].ID {
		t.Fatalf("latest %s, want %s", latest, msgs[0].ID)
	}

	if err := f.st.SoftDeleteMessage(ctx, "no-such-id"); !errors.Is(err, store.ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound, got %v", err)
	}
}

func TestAppendReadByBackfills(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	msgs := f.seedMessages(t, f.alice.ID, "one", "two", "three")

	now := time.Now().UTC()
	marked, err := f.st.AppendReadBy(ctx, f.room.ID, f.bob.ID, msgs[1].ID, now)
	if err != nil {
		t.Fatalf("append read-by: %v", err)
	}
	if marked != 2 {
		t.Fatalf("marked %d messages, want 2", marked)
	}

	page, err := f.st.ListMessages(ctx, f.room.ID, 50, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, msg := range page {
		wantRead := msg.Text != "three"
		if msg.ReadByUser(f.bob.ID) != wantRead {
			t.Fatalf("message %q read-by state wrong", msg.Text)
		}
	}

	// A second acknowledgement of the same message marks nothing.
	marked, err = f.st.AppendReadBy(ctx, f.room.ID, f.bob.ID, msgs[1].ID, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("repeat append: %v", err)
	}
	if marked != 0 {
		t.Fatalf("repeat acknowledgement marked %d, want 0", marked)
	}

	// Acknowledging a newer message marks only the gap.
	marked, err = f.st.AppendReadBy(ctx, f.room.ID, f.bob.ID, msgs[2].ID, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("newer append: %v", err)
	}
	if marked != 1 {
		t.Fatalf("newer acknowledgement marked %d, want 1", marked)
	}
}

func TestAppendReadByUnknownMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	msgs := f.seedMessages(t, f.alice.ID, "one")

	if _, err := f.st.AppendReadBy(ctx, f.room.ID, f.bob.ID, "missing", time.Now()); !errors.Is(err, store.ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound, got %v", err)
	}

	// A message id from another room must also miss.
	other, err := f.st.CreateRoom(ctx, "other", store.RoomTypeGroup, []int64{f.bob.ID})
	if err != nil {
		t.Fatalf("create other room: %v", err)
	}
	if _, err := f.st.AppendReadBy(ctx, other.ID, f.bob.ID, msgs[0].ID, time.Now()); !errors.Is(err, store.ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound for cross-room id, got %v", err)
	}
}

func TestCountUnreadForUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	msgs := f.seedMessages(t, f.alice.ID, "one", "two", "three")

	// Own messages never count as unread.
	count, err := f.st.CountUnreadForUser(ctx, f.room.ID, f.alice.ID)
	if err != nil {
		t.Fatalf("count for sender: %v", err)
	}
	if count != 0 {
		t.Fatalf("sender unread %d, want 0", count)
	}

	count, err = f.st.CountUnreadForUser(ctx, f.room.ID, f.bob.ID)
	if err != nil {
		t.Fatalf("count for bob: %v", err)
	}
	if count != 3 {
		t.Fatalf("bob unread %d, want 3", count)
	}

	if _, err := f.st.AppendReadBy(ctx, f.room.ID, f.bob.ID, msgs[0].ID, time.Now()); err != nil {
		t.Fatalf("append read-by: %v", err)
	}
	count, err = f.st.CountUnreadForUser(ctx, f.room.ID, f.bob.ID)
	if err != nil {
		t.Fatalf("count after read: %v", err)
	}
	if count != 2 {
		t.Fatalf("bob unread %d after reading one, want 2", count)
	}
}

func TestListRoomsForUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	solo, err := f.st.CreateRoom(ctx, "alice-only", store.RoomTypeDirect, []int64{f.alice.ID})
	if err != nil {
		t.Fatalf("create solo room: %v", err)
	}

	msgs := f.seedMessages(t, f.alice.ID, "hello bob")
	if err := f.st.SetLastMessage(ctx, f.room.ID, msgs[0].ID, msgs[0].CreatedAt); err != nil {
		t.Fatalf("set last message: %v", err)
	}

	rooms, err := f.st.ListRoomsForUser(ctx, f.bob.ID)
	if err != nil {
		t.Fatalf("list rooms for bob: %v", err)
	}
	if len(rooms) != 1 {
		t.Fatalf("bob sees %d rooms, want 1", len(rooms))
	}
	sum := rooms[0]
	if sum.ID != f.room.ID || sum.ParticipantCount != 2 || sum.UnreadCount != 1 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	if sum.LastMessageID == nil || *sum.LastMessageID != msgs[0].ID {
		t.Fatalf("last message not recorded in summary")
	}

	rooms, err = f.st.ListRoomsForUser(ctx, f.alice.ID)
	if err != nil {
		t.Fatalf("list rooms for alice: %v", err)
	}
	if len(rooms) != 2 {
		t.Fatalf("alice sees %d rooms, want 2", len(rooms))
	}
	// Room with the newest activity sorts first.
	if rooms[0].ID != f.room.ID || rooms[1].ID != solo.ID {
		t.Fatalf("unexpected room order: %d, %d", rooms[0].ID, rooms[1].ID)
	}
}

func TestGetMessageWithMedia(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	msg := &store.Message{
		ID:       "media-msg",
		RoomID:   f.room.ID,
		SenderID: f.alice.ID,
		Media: []store.MediaItem{
			{Type: "image", URL: "https://cdn.example/pic.png", Width: 800, Height: 600},
		},
		CreatedAt: time.Now().UTC(),
	}
	if err := f.st.CreateMessage(ctx, msg); err != nil {
		t.Fatalf("create message: %v", err)
	}

	got, err := f.st.GetMessage(ctx, msg.ID)
	if err != nil {
		t.Fatalf("get message: %v", err)
	}
	if len(got.Media) != 1 || got.Media[0].URL != msg.Media[0].URL || got.Media[0].Width != 800 {
		t.Fatalf("media round trip failed: %+v", got.Media)
	}

	if _, err := f.st.GetMessage(ctx, "missing"); !errors.Is(err, store.ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound, got %v", err)
	}
}

func TestRoomLookupMisses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.st.GetRoomByID(ctx, 9999); !errors.Is(err, store.ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
	if err := f.st.SetLastMessage(ctx, 9999, "x", time.Now()); !errors.Is(err, store.ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound on update, got %v", err)
	}
	if _, err := f.st.GetUserByUsername(ctx, "nobody"); !errors.Is(err, store.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}
