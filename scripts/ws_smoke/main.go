package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/ieum-labs/roomsync/internal/proto"
)

// End-to-end smoke run against a live server: registers two users, creates
// a shared room, connects both over websocket, sends a message from one,
// marks it read from the other, and verifies the read receipt arrives back.
func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	base := flag.String("base", "http://localhost:8080", "server base URL")
	text := flag.String("text", "hello from smoke test", "message text to send")
	timeout := flag.Duration("timeout", 10*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	suffix := time.Now().UnixNano()
	tokenA, err := register(ctx, *base, fmt.Sprintf("smoke-a-%d", suffix))
	if err != nil {
		return fmt.Errorf("register a: %w", err)
	}
	tokenB, err := register(ctx, *base, fmt.Sprintf("smoke-b-%d", suffix))
	if err != nil {
		return fmt.Errorf("register b: %w", err)
	}

	roomID, err := createRoom(ctx, *base, tokenA, tokenB)
	if err != nil {
		return fmt.Errorf("create room: %w", err)
	}
	fmt.Printf("room %d created\n", roomID)

	connA, err := dial(ctx, *base, tokenA)
	if err != nil {
		return fmt.Errorf("dial a: %w", err)
	}
	defer connA.Close(websocket.StatusNormalClosure, "bye")

	connB, err := dial(ctx, *base, tokenB)
	if err != nil {
		return fmt.Errorf("dial b: %w", err)
	}
	defer connB.Close(websocket.StatusNormalClosure, "bye")

	if err := send(ctx, connA, proto.InboundTypeJoinRoom, proto.JoinRoomData{RoomID: roomID}); err != nil {
		return err
	}
	if err := send(ctx, connB, proto.InboundTypeJoinRoom, proto.JoinRoomData{RoomID: roomID}); err != nil {
		return err
	}

	if err := send(ctx, connA, proto.InboundTypeSendMessage, proto.SendMessageData{RoomID: roomID, Text: *text}); err != nil {
		return err
	}

	msg, err := await[proto.MessageData](ctx, connB, proto.EventNewMessage)
	if err != nil {
		return fmt.Errorf("await new-message on b: %w", err)
	}
	fmt.Printf("b received message %s: %q\n", msg.ID, msg.Text)

	if err := send(ctx, connB, proto.InboundTypeMarkRead, proto.MarkReadData{RoomID: roomID, MessageID: msg.ID}); err != nil {
		return err
	}

	delta, err := await[proto.MessagesReadData](ctx, connA, proto.EventMessagesRead)
	if err != nil {
		return fmt.Errorf("await messages-read on a: %w", err)
	}
	fmt.Printf("a received read receipt: user %d read %s at %s\n", delta.UserID, delta.MessageID, delta.ReadAt)

	fmt.Println("smoke test passed")
	return nil
}

func dial(ctx context.Context, base, token string) (*websocket.Conn, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = "/ws"
	u.RawQuery = url.Values{"token": {token}}.Encode()

	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	return conn, err
}

func send(ctx context.Context, conn *websocket.Conn, eventType string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", eventType, err)
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: eventType, Data: payload}); err != nil {
		return fmt.Errorf("send %s: %w", eventType, err)
	}
	return nil
}

// await reads frames until the wanted event arrives, decoding its payload.
func await[T any](ctx context.Context, conn *websocket.Conn, event string) (T, error) {
	var zero T
	for {
		var outbound struct {
			Type  string          `json:"type"`
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
			Error *proto.Error    `json:"error"`
		}
		if err := wsjson.Read(ctx, conn, &outbound); err != nil {
			return zero, err
		}
		if outbound.Type == proto.OutboundTypeError && outbound.Error != nil {
			return zero, fmt.Errorf("server error %s: %s", outbound.Error.Code, outbound.Error.Msg)
		}
		if outbound.Event != event {
			continue
		}
		var data T
		if err := json.Unmarshal(outbound.Data, &data); err != nil {
			return zero, fmt.Errorf("decode %s: %w", event, err)
		}
		return data, nil
	}
}

func register(ctx context.Context, base, username string) (string, error) {
	body, err := json.Marshal(map[string]string{"username": username, "password": "smoke-pass"})
	if err != nil {
		return "", err
	}
	resp, err := post(ctx, base+"/api/register", "", body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("register status %d", resp.StatusCode)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Token, nil
}

func createRoom(ctx context.Context, base, creatorToken, otherToken string) (int64, error) {
	otherID, err := whoami(otherToken)
	if err != nil {
		return 0, err
	}
	body, err := json.Marshal(map[string]any{
		"name":           "smoke-room",
		"type":           "group",
		"participantIds": []int64{otherID},
	})
	if err != nil {
		return 0, err
	}
	resp, err := post(ctx, base+"/api/rooms", creatorToken, body)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return 0, fmt.Errorf("create room status %d", resp.StatusCode)
	}
	var out struct {
		ID int64 `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, err
	}
	return out.ID, nil
}

// whoami extracts the user id from the token's claims without verifying the
// signature; only the server needs to trust it.
func whoami(token string) (int64, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return 0, fmt.Errorf("malformed token")
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return 0, err
	}
	var claims struct {
		UserID int64 `json:"user_id"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return 0, err
	}
	return claims.UserID, nil
}

func post(ctx context.Context, url, token string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return http.DefaultClient.Do(req)
}
