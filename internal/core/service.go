package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ieum-labs/roomsync/internal/store"
)

// Service orchestrates the message synchronization core: the send path
// (persist, then publish), read-receipt aggregation, and the unread counter.
// All message and read-by mutations go through the store, which serializes
// writes; the registry and its subscription sets are the only in-memory
// shared state.
type Service struct {
	store      store.Store
	registry   *Registry
	dispatcher *Dispatcher
	unread     *UnreadCounter
	log        *zerolog.Logger
}

// NewService wires the core components together.
func NewService(st store.Store, registry *Registry, dispatcher *Dispatcher, logger *zerolog.Logger) *Service {
	return &Service{
		store:      st,
		registry:   registry,
		dispatcher: dispatcher,
		unread:     NewUnreadCounter(),
		log:        logger,
	}
}

// Registry exposes the connection registry for transport lifecycle calls.
func (s *Service) Registry() *Registry {
	return s.registry
}

// Unread exposes the room-scoped unread counter.
func (s *Service) Unread() *UnreadCounter {
	return s.unread
}

// SendMessage persists a message and fans it out to the room's subscribers.
// The publish happens strictly after the store commit, so any pushed
// message is already retrievable via the history fetch path.
func (s *Service) SendMessage(ctx context.Context, roomID, senderID int64, text string, media []store.MediaItem) (*store.Message, error) {
	if text == "" && len(media) == 0 {
		return nil, coreError(ErrCodeBadRequest, "message needs text or media")
	}

	if _, err := s.store.GetRoomByID(ctx, roomID); err != nil {
		if errors.Is(err, store.ErrRoomNotFound) {
			return nil, ErrUnknownRoom
		}
		return nil, fmt.Errorf("load room: %w", err)
	}

	ok, err := s.store.IsParticipant(ctx, roomID, senderID)
	if err != nil {
		return nil, fmt.Errorf("check participant: %w", err)
	}
	if !ok {
		return nil, ErrNotParticipant
	}

	sender, err := s.store.GetUserByID(ctx, senderID)
	if err != nil {
		return nil, fmt.Errorf("load sender: %w", err)
	}

	msg := &store.Message{
		ID:         uuid.NewString(),
		RoomID:     roomID,
		SenderID:   senderID,
		SenderName: sender.Username,
		Text:       text,
		Media:      media,
		CreatedAt:  time.Now().UTC(),
	}

	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("persist message: %w", err)
	}

	if err := s.store.SetLastMessage(ctx, roomID, msg.ID, msg.CreatedAt); err != nil {
		s.log.Warn().Err(err).Int64("room_id", roomID).Msg("failed to record last message")
	}

	// Write-before-broadcast: the message is durable at this point.
	s.dispatcher.Publish(msg)

	count := s.unread.Increment(roomID)
	s.dispatcher.PublishRoomUpdate(&RoomUpdate{
		RoomID:        roomID,
		LastMessageID: msg.ID,
		LastMessageAt: msg.CreatedAt,
		UnreadCount:   count,
	})

	s.log.Debug().
		Str("message_id", msg.ID).
		Int64("room_id", roomID).
		Int64("sender_id", senderID).
		Msg("message published")

	return msg, nil
}

// MarkRead records that the user has read up through the given message and
// propagates a read-state delta to the room's other subscribers. Idempotent
// per user per message: a repeat acknowledgement marks nothing and emits
// nothing. Returns ErrUnknownMessage when the message id does not exist in
// the room.
func (s *Service) MarkRead(ctx context.Context, roomID, userID int64, messageID string, origin *Conn) (*ReadDelta, error) {
	now := time.Now().UTC()

	marked, err := s.store.AppendReadBy(ctx, roomID, userID, messageID, now)
	if err != nil {
		if errors.Is(err, store.ErrMessageNotFound) {
			return nil, ErrUnknownMessage
		}
		return nil, fmt.Errorf("append read-by: %w", err)
	}
	if marked == 0 {
		return nil, nil
	}

	latest, err := s.store.LatestMessageID(ctx, roomID)
	if err != nil {
		s.log.Warn().Err(err).Int64("room_id", roomID).Msg("failed to resolve latest message")
	} else if latest == messageID {
		s.unread.Reset(roomID)
	}

	delta := &ReadDelta{
		RoomID:    roomID,
		MessageID: messageID,
		UserID:    userID,
		ReadAt:    now,
	}
	s.dispatcher.PublishRead(delta, origin)

	s.log.Debug().
		Str("message_id", messageID).
		Int64("room_id", roomID).
		Int64("user_id", userID).
		Int("marked", marked).
		Msg("read receipt recorded")

	return delta, nil
}

// History retrieves a page of the room's messages, newest first. This is
// the snapshot half of client reconciliation; the push stream is the other.
func (s *Service) History(ctx context.Context, roomID int64, limit, skip int) ([]*store.Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if skip < 0 {
		skip = 0
	}

	if _, err := s.store.GetRoomByID(ctx, roomID); err != nil {
		if errors.Is(err, store.ErrRoomNotFound) {
			return nil, ErrUnknownRoom
		}
		return nil, fmt.Errorf("load room: %w", err)
	}

	return s.store.ListMessages(ctx, roomID, limit, skip)
}

// JoinRoom subscribes the connection to a room and announces the join.
// Idempotent: rejoining an already-joined room is a no-op.
func (s *Service) JoinRoom(c *Conn, roomID int64) {
	if !s.registry.Join(c, roomID) {
		return
	}
	s.dispatcher.PublishPresence(EventUserJoined, roomID, c.UserID, c.UserName, c)
}

// LeaveRoom removes the subscription and announces the leave. Idempotent.
func (s *Service) LeaveRoom(c *Conn, roomID int64) {
	if !s.registry.Leave(c, roomID) {
		return
	}
	s.dispatcher.PublishPresence(EventUserLeft, roomID, c.UserID, c.UserName, c)
}

// Disconnect removes the connection and all its subscriptions, announcing
// the leave to each room it was in.
func (s *Service) Disconnect(c *Conn) {
	for _, roomID := range s.registry.Unregister(c) {
		s.dispatcher.PublishPresence(EventUserLeft, roomID, c.UserID, c.UserName, c)
	}
}

// Typing relays an ephemeral typing indicator to the room.
func (s *Service) Typing(c *Conn, roomID int64, isTyping bool) {
	s.dispatcher.PublishTyping(&Typing{
		RoomID:   roomID,
		UserID:   c.UserID,
		UserName: c.UserName,
		IsTyping: isTyping,
	}, c)
}
