package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	stdhttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/ieum-labs/roomsync/internal/auth"
	"github.com/ieum-labs/roomsync/internal/config"
	"github.com/ieum-labs/roomsync/internal/core"
	"github.com/ieum-labs/roomsync/internal/store"
	"github.com/ieum-labs/roomsync/internal/store/sqlite"
)

type testEnv struct {
	ts       *httptest.Server
	st       store.Store
	registry *core.Registry
}

func startTestServer(t *testing.T) *testEnv {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	logger := zerolog.Nop()
	authService := auth.NewService(st, &auth.JWTConfig{
		Secret:   []byte("test-secret"),
		Issuer:   "roomsync-test",
		Audience: "roomsync-test",
		TTL:      time.Hour,
	})

	registry := core.NewRegistry(&logger)
	dispatcher := core.NewDispatcher(registry, &logger)
	service := core.NewService(st, registry, dispatcher, &logger)

	server := NewServer(service, authService, st, config.Config{
		Addr:              ":0",
		ReadHeaderTimeout: time.Second,
		ShutdownTimeout:   time.Second,
	}, &logger)

	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	return &testEnv{ts: ts, st: st, registry: registry}
}

// awaitSubscribers blocks until the room has at least want live
// subscriptions. Join frames are processed asynchronously, so tests
// that depend on a prior join being in effect must wait for it here.
func (e *testEnv) awaitSubscribers(t *testing.T, roomID int64, want int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(e.registry.Subscribers(roomID)) >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("room %d never reached %d subscribers", roomID, want)
}

func (e *testEnv) registerUser(t *testing.T, username string) string {
	t.Helper()

	status, body := e.postJSON(t, "/api/register", "", map[string]string{
		"username": username,
		"password": "password123",
	})
	if status != stdhttp.StatusCreated {
		t.Fatalf("register %s: status %d body %s", username, status, body)
	}

	var resp AuthResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decode register response: %v", err)
	}
	return resp.Token
}

func (e *testEnv) createRoom(t *testing.T, token string, participants ...int64) int64 {
	t.Helper()

	status, body := e.postJSON(t, "/api/rooms", token, map[string]any{
		"name":           "test-room",
		"type":           "group",
		"participantIds": participants,
	})
	if status != stdhttp.StatusCreated {
		t.Fatalf("create room: status %d body %s", status, body)
	}

	var resp RoomResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decode room response: %v", err)
	}
	return resp.ID
}

func (e *testEnv) userID(t *testing.T, username string) int64 {
	t.Helper()

	user, err := e.st.GetUserByUsername(context.Background(), username)
	if err != nil {
		t.Fatalf("lookup %s: %v", username, err)
	}
	return user.ID
}

func (e *testEnv) postJSON(t *testing.T, path, token string, payload any) (int, []byte) {
	t.Helper()

	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req, err := stdhttp.NewRequest(stdhttp.MethodPost, e.ts.URL+path, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return e.do(t, req)
}

func (e *testEnv) request(t *testing.T, method, path, token string) (int, []byte) {
	t.Helper()

	req, err := stdhttp.NewRequest(method, e.ts.URL+path, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return e.do(t, req)
}

func (e *testEnv) do(t *testing.T, req *stdhttp.Request) (int, []byte) {
	t.Helper()

	resp, err := e.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("request %s %s: %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read response body: %v", err)
	}
	return resp.StatusCode, buf.Bytes()
}

func (e *testEnv) dialWS(t *testing.T, ctx context.Context, token string) *websocket.Conn {
	t.Helper()

	wsURL := strings.Replace(e.ts.URL, "http", "ws", 1) + "/ws?token=" + token
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

type outboundFrame struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code string `json:"code"`
		Msg  string `json:"msg"`
	} `json:"error"`
}

// awaitFrame reads frames until one matches the wanted event (or, for
// error frames, wanted == "error").
func awaitFrame(t *testing.T, ctx context.Context, conn *websocket.Conn, wanted string) outboundFrame {
	t.Helper()

	for {
		var frame outboundFrame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			t.Fatalf("read frame while waiting for %q: %v", wanted, err)
		}
		if wanted == "error" && frame.Type == "error" {
			return frame
		}
		if frame.Event == wanted {
			return frame
		}
	}
}

// awaitFrameAny reads the next frame, whatever it is.
func awaitFrameAny(t *testing.T, ctx context.Context, conn *websocket.Conn) outboundFrame {
	t.Helper()

	var frame outboundFrame
	if err := wsjson.Read(ctx, conn, &frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return frame
}

func sendFrame(t *testing.T, ctx context.Context, conn *websocket.Conn, eventType string, data any) {
	t.Helper()

	payload, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal %s payload: %v", eventType, err)
	}
	if err := wsjson.Write(ctx, conn, map[string]any{"type": eventType, "data": json.RawMessage(payload)}); err != nil {
		t.Fatalf("send %s: %v", eventType, err)
	}
}

func decodeFrame[T any](t *testing.T, frame outboundFrame) T {
	t.Helper()

	var out T
	if err := json.Unmarshal(frame.Data, &out); err != nil {
		t.Fatalf("decode %s payload: %v", frame.Event, err)
	}
	return out
}

func historyPath(roomID int64) string {
	return fmt.Sprintf("/api/rooms/%d/messages", roomID)
}
