package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	logging "github.com/ieum-labs/roomsync/internal/log"
	"github.com/ieum-labs/roomsync/internal/proto"
	roomsync "github.com/ieum-labs/roomsync/internal/sync"
)

// Interactive chat client. Logs in (registering on first use), joins a room
// through the reconciling sync client, prints the buffered history, and
// relays typed lines as messages. "/read" acknowledges the latest message.
func main() {
	if err := run(); err != nil {
		log.Printf("ws_chat: %v", err)
		os.Exit(1)
	}
}

func run() error {
	base := flag.String("base", "http://localhost:8080", "server base URL")
	user := flag.String("user", "cli-user", "username")
	pass := flag.String("pass", "password", "password")
	room := flag.Int64("room", 1, "room id to join")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	token, err := login(ctx, *base, *user, *pass)
	if err != nil {
		return err
	}

	logger := logging.New("warn")
	client := roomsync.NewClient(*base, token, logger)
	client.SetMessageHandler(func(roomID int64, msg proto.MessageData) {
		fmt.Printf("[room %d] %s: %s\n", roomID, msg.SenderName, msg.Text)
	})
	client.SetReadHandler(func(delta proto.MessagesReadData) {
		fmt.Printf("[room %d] user %d read up to %s\n", delta.RoomID, delta.UserID, delta.MessageID)
	})
	client.SetResyncHandler(func(roomID int64) {
		fmt.Printf("[room %d] resynced from history\n", roomID)
	})

	runErr := make(chan error, 1)
	go func() { runErr <- client.Run(ctx) }()

	if err := client.JoinRoom(ctx, *room); err != nil {
		return fmt.Errorf("join room %d: %w", *room, err)
	}

	if buf := client.Buffer(*room); buf != nil {
		for _, msg := range buf.Messages() {
			fmt.Printf("[room %d] %s: %s\n", *room, msg.SenderName, msg.Text)
		}
	}
	fmt.Printf("Joined room %d as %s. Type to send, /read to mark read, Ctrl+C to exit.\n", *room, *user)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-runErr:
			return err
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			text := strings.TrimSpace(line)
			switch {
			case text == "":
			case text == "/read":
				buf := client.Buffer(*room)
				if buf == nil || buf.Watermark() == "" {
					fmt.Println("nothing to mark read")
					continue
				}
				if err := client.MarkRead(ctx, *room, buf.Watermark()); err != nil {
					log.Printf("mark read: %v", err)
				}
			default:
				if err := client.SendMessage(ctx, *room, text, nil); err != nil {
					log.Printf("send: %v", err)
				}
			}
		}
	}
}

// login obtains a token, registering the user if it does not exist yet.
func login(ctx context.Context, base, user, pass string) (string, error) {
	token, err := authRequest(ctx, base+"/api/login", user, pass)
	if err == nil {
		return token, nil
	}
	return authRequest(ctx, base+"/api/register", user, pass)
}

func authRequest(ctx context.Context, url, user, pass string) (string, error) {
	body, err := json.Marshal(map[string]string{"username": user, "password": pass})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("auth status %d", resp.StatusCode)
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Token, nil
}
