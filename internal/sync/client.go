package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/ieum-labs/roomsync/internal/proto"
	"github.com/ieum-labs/roomsync/internal/store"
)

const (
	historyPageSize   = 50
	historyAttempts   = 5
	historyBaseDelay  = 500 * time.Millisecond
	historyMaxDelay   = 8 * time.Second
	reconnectBaseWait = time.Second
	reconnectMaxWait  = 30 * time.Second
)

// Client maintains one authenticated connection to a roomsync server and a
// reconciliation buffer per joined room. It seeds each buffer from the REST
// history snapshot, folds the push stream into it, and on reconnect
// re-joins every room and repairs gaps against a fresh snapshot.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     *zerolog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	buffers map[int64]*Buffer

	onMessage    func(roomID int64, msg proto.MessageData)
	onRead       func(delta proto.MessagesReadData)
	onRoomUpdate func(update proto.RoomUpdatedData)
	onResync     func(roomID int64)
}

// NewClient constructs a client for the given HTTP base URL (for example
// "http://localhost:8080") and bearer token.
func NewClient(baseURL, token string, logger *zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
		log:     logger,
		buffers: make(map[int64]*Buffer),
	}
}

// SetMessageHandler sets the callback for newly incorporated messages.
// Duplicate deliveries are absorbed by the buffer and never reach it.
func (c *Client) SetMessageHandler(fn func(roomID int64, msg proto.MessageData)) {
	c.onMessage = fn
}

// SetReadHandler sets the callback for incorporated read-state deltas.
func (c *Client) SetReadHandler(fn func(delta proto.MessagesReadData)) {
	c.onRead = fn
}

// SetRoomUpdateHandler sets the callback for room-updated events.
func (c *Client) SetRoomUpdateHandler(fn func(update proto.RoomUpdatedData)) {
	c.onRoomUpdate = fn
}

// SetResyncHandler sets the callback invoked after a buffer was rebuilt
// from scratch following a detected gap.
func (c *Client) SetResyncHandler(fn func(roomID int64)) {
	c.onResync = fn
}

// Buffer returns the reconciliation buffer for a joined room, or nil.
func (c *Client) Buffer(roomID int64) *Buffer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffers[roomID]
}

// Run connects and processes the push stream until the context is
// cancelled, transparently reconnecting with exponential backoff. Already
// buffered messages survive disconnects; only live updates pause.
func (c *Client) Run(ctx context.Context) error {
	wait := reconnectBaseWait
	for {
		err := c.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn().Err(err).Dur("retry_in", wait).Msg("connection lost, reconnecting")

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
		wait = min(wait*2, reconnectMaxWait)
	}
}

func (c *Client) runOnce(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "closing")

	c.mu.Lock()
	c.conn = conn
	rooms := make([]int64, 0, len(c.buffers))
	for roomID := range c.buffers {
		rooms = append(rooms, roomID)
	}
	c.mu.Unlock()

	// Re-join previously subscribed rooms and repair any gap that opened
	// while disconnected.
	for _, roomID := range rooms {
		if err := c.sendJoin(ctx, roomID); err != nil {
			return err
		}
		if err := c.resyncRoom(ctx, roomID); err != nil {
			c.log.Warn().Err(err).Int64("room_id", roomID).Msg("resync failed")
			if buf := c.Buffer(roomID); buf != nil {
				buf.MarkResyncRequired()
			}
		}
	}

	return c.readLoop(ctx, conn)
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	wsURL, err := c.websocketURL()
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	return conn, nil
}

func (c *Client) websocketURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws"
	u.RawQuery = url.Values{"token": {c.token}}.Encode()
	return u.String(), nil
}

// JoinRoom subscribes to a room and seeds its buffer from the history
// snapshot. Rejoining an already-joined room only reconciles the buffer.
func (c *Client) JoinRoom(ctx context.Context, roomID int64) error {
	c.mu.Lock()
	buf, known := c.buffers[roomID]
	if !known {
		buf = NewBuffer()
		c.buffers[roomID] = buf
	}
	c.mu.Unlock()

	if err := c.sendJoin(ctx, roomID); err != nil {
		return err
	}

	history, err := c.fetchHistory(ctx, roomID)
	if err != nil {
		// Buffer stays empty (or stale); the caller surfaces a
		// retryable error state.
		buf.MarkResyncRequired()
		return err
	}
	if known {
		buf.Reconcile(history)
	} else {
		// Pushes may already be flowing for this room; SeedSnapshot keeps
		// any that arrived while the snapshot request was in flight.
		buf.SeedSnapshot(history)
	}
	return nil
}

// LeaveRoom unsubscribes from a room and drops its buffer.
func (c *Client) LeaveRoom(ctx context.Context, roomID int64) error {
	c.mu.Lock()
	delete(c.buffers, roomID)
	c.mu.Unlock()
	return c.send(ctx, proto.InboundTypeLeaveRoom, proto.JoinRoomData{RoomID: roomID})
}

// SendMessage submits a message over the socket.
func (c *Client) SendMessage(ctx context.Context, roomID int64, text string, media []store.MediaItem) error {
	return c.send(ctx, proto.InboundTypeSendMessage, proto.SendMessageData{
		RoomID: roomID,
		Text:   text,
		Media:  media,
	})
}

// MarkRead acknowledges reading up through the given message.
func (c *Client) MarkRead(ctx context.Context, roomID int64, messageID string) error {
	return c.send(ctx, proto.InboundTypeMarkRead, proto.MarkReadData{
		RoomID:    roomID,
		MessageID: messageID,
	})
}

func (c *Client) sendJoin(ctx context.Context, roomID int64) error {
	return c.send(ctx, proto.InboundTypeJoinRoom, proto.JoinRoomData{RoomID: roomID})
}

func (c *Client) send(ctx context.Context, eventType string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", eventType, err)
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}

	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: eventType, Data: payload}); err != nil {
		return fmt.Errorf("send %s: %w", eventType, err)
	}
	return nil
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		var outbound struct {
			Type  string          `json:"type"`
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
			Error *proto.Error    `json:"error"`
		}
		if err := wsjson.Read(ctx, conn, &outbound); err != nil {
			return err
		}

		if outbound.Type == proto.OutboundTypeError && outbound.Error != nil {
			c.log.Warn().Str("code", outbound.Error.Code).Str("msg", outbound.Error.Msg).Msg("server error")
			continue
		}

		c.handleEvent(outbound.Event, outbound.Data)
	}
}

func (c *Client) handleEvent(event string, data json.RawMessage) {
	switch event {
	case proto.EventNewMessage:
		var msg proto.MessageData
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warn().Err(err).Msg("bad new-message payload")
			return
		}
		buf := c.Buffer(msg.RoomID)
		if buf == nil {
			return
		}
		if buf.ApplyPush(msg) && c.onMessage != nil {
			c.onMessage(msg.RoomID, msg)
		}

	case proto.EventMessagesRead:
		var delta proto.MessagesReadData
		if err := json.Unmarshal(data, &delta); err != nil {
			c.log.Warn().Err(err).Msg("bad messages-read payload")
			return
		}
		buf := c.Buffer(delta.RoomID)
		if buf == nil {
			return
		}
		if buf.ApplyReadDelta(delta) && c.onRead != nil {
			c.onRead(delta)
		}

	case proto.EventRoomUpdated:
		var update proto.RoomUpdatedData
		if err := json.Unmarshal(data, &update); err != nil {
			c.log.Warn().Err(err).Msg("bad room-updated payload")
			return
		}
		if c.onRoomUpdate != nil {
			c.onRoomUpdate(update)
		}
	}
}

func (c *Client) resyncRoom(ctx context.Context, roomID int64) error {
	buf := c.Buffer(roomID)
	if buf == nil {
		return nil
	}
	history, err := c.fetchHistory(ctx, roomID)
	if err != nil {
		return err
	}
	if buf.Reconcile(history) && c.onResync != nil {
		c.onResync(roomID)
	}
	return nil
}

// historyResponse mirrors the history endpoint's JSON shape.
type historyResponse struct {
	Messages []proto.MessageData `json:"messages"`
	HasMore  bool                `json:"hasMore"`
}

// fetchHistory retrieves the newest history page and returns it in
// chronological order. Retries with exponential backoff; fails fast rather
// than blocking room rendering indefinitely.
func (c *Client) fetchHistory(ctx context.Context, roomID int64) ([]proto.MessageData, error) {
	var lastErr error
	delay := historyBaseDelay
	for attempt := 0; attempt < historyAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			delay = min(delay*2, historyMaxDelay)
		}

		history, err := c.fetchHistoryOnce(ctx, roomID)
		if err == nil {
			return history, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("fetch history: %w", lastErr)
}

func (c *Client) fetchHistoryOnce(ctx context.Context, roomID int64) ([]proto.MessageData, error) {
	url := fmt.Sprintf("%s/api/rooms/%d/messages?limit=%d", c.baseURL, roomID, historyPageSize)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("history fetch status %d", resp.StatusCode)
	}

	var body historyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}

	// Newest first on the wire; chronological in the buffer.
	msgs := body.Messages
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}
