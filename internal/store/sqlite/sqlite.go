package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ieum-labs/roomsync/internal/store"
)

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	username      TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS rooms (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	name            TEXT NOT NULL,
	type            TEXT NOT NULL DEFAULT 'group',
	last_message_id TEXT,
	last_message_at DATETIME,
	created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS room_participants (
	room_id   INTEGER NOT NULL,
	user_id   INTEGER NOT NULL,
	joined_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (room_id, user_id),
	FOREIGN KEY (room_id) REFERENCES rooms(id),
	FOREIGN KEY (user_id) REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS messages (
	id         TEXT PRIMARY KEY,
	room_id    INTEGER NOT NULL,
	sender_id  INTEGER NOT NULL,
	text       TEXT NOT NULL DEFAULT '',
	media      TEXT NOT NULL DEFAULT '[]',
	created_at DATETIME NOT NULL,
	is_deleted BOOLEAN NOT NULL DEFAULT 0,
	FOREIGN KEY (room_id) REFERENCES rooms(id),
	FOREIGN KEY (sender_id) REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS message_reads (
	message_id TEXT NOT NULL,
	user_id    INTEGER NOT NULL,
	read_at    DATETIME NOT NULL,
	PRIMARY KEY (message_id, user_id),
	FOREIGN KEY (message_id) REFERENCES messages(id),
	FOREIGN KEY (user_id) REFERENCES users(id)
);

CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room_id);
CREATE INDEX IF NOT EXISTS idx_room_participants_user ON room_participants(user_id);
`

// New creates a new SQLite store and ensures the schema exists.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with single connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// NewWithSetup creates a new SQLite store and runs a setup function after
// the schema is applied. Useful for tests that seed fixture rows.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	s, err := New(dbPath)
	if err != nil {
		return nil, err
	}

	if setup != nil {
		if err := setup(s.db); err != nil {
			s.db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== UserStore implementation ====

// CreateUser creates a new user with hashed password.
func (s *SQLiteStore) CreateUser(ctx context.Context, username, passwordHash string) (*store.User, error) {
	query := `
		INSERT INTO users (username, password_hash)
		VALUES (?, ?)
	`
	result, err := s.db.ExecContext(ctx, query, username, passwordHash)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	return s.GetUserByID(ctx, id)
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id int64) (*store.User, error) {
	query := `
		SELECT id, username, password_hash, created_at
		FROM users
		WHERE id = ?
	`
	var user store.User
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrUserNotFound
		}
		return nil, fmt.Errorf("query user: %w", err)
	}

	return &user, nil
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	query := `
		SELECT id, username, password_hash, created_at
		FROM users
		WHERE username = ?
	`
	var user store.User
	err := s.db.QueryRowContext(ctx, query, username).Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrUserNotFound
		}
		return nil, fmt.Errorf("query user: %w", err)
	}

	return &user, nil
}

// ==== RoomStore implementation ====

// CreateRoom creates a room and adds the given participants.
func (s *SQLiteStore) CreateRoom(ctx context.Context, name string, roomType store.RoomType, participantIDs []int64) (*store.Room, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `INSERT INTO rooms (name, type) VALUES (?, ?)`, name, string(roomType))
	if err != nil {
		return nil, fmt.Errorf("insert room: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	for _, uid := range participantIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO room_participants (room_id, user_id) VALUES (?, ?)`, id, uid); err != nil {
			return nil, fmt.Errorf("insert participant: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return s.GetRoomByID(ctx, id)
}

// GetRoomByID retrieves a room by ID.
func (s *SQLiteStore) GetRoomByID(ctx context.Context, id int64) (*store.Room, error) {
	query := `
		SELECT id, name, type, last_message_id, last_message_at, created_at
		FROM rooms
		WHERE id = ?
	`
	var room store.Room
	var roomType string
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&room.ID,
		&room.Name,
		&roomType,
		&room.LastMessageID,
		&room.LastMessageAt,
		&room.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrRoomNotFound
		}
		return nil, fmt.Errorf("query room: %w", err)
	}
	room.Type = store.RoomType(roomType)

	return &room, nil
}

// ListRoomsForUser lists rooms the user participates in, newest activity
// first, with per-viewer unread counts derived from read-by absence.
func (s *SQLiteStore) ListRoomsForUser(ctx context.Context, userID int64) ([]*store.RoomSummary, error) {
	query := `
		SELECT r.id, r.name, r.type, r.last_message_id, r.last_message_at, r.created_at,
		       (SELECT COUNT(*) FROM room_participants p2 WHERE p2.room_id = r.id),
		       (SELECT COUNT(*) FROM messages m
		        WHERE m.room_id = r.id AND m.is_deleted = 0 AND m.sender_id != ?
		          AND NOT EXISTS (SELECT 1 FROM message_reads mr
		                          WHERE mr.message_id = m.id AND mr.user_id = ?))
		FROM rooms r
		JOIN room_participants p ON p.room_id = r.id AND p.user_id = ?
		ORDER BY COALESCE(r.last_message_at, r.created_at) DESC
	`
	rows, err := s.db.QueryContext(ctx, query, userID, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("query rooms: %w", err)
	}
	defer rows.Close()

	var summaries []*store.RoomSummary
	for rows.Next() {
		var sum store.RoomSummary
		var roomType string
		if err := rows.Scan(
			&sum.ID,
			&sum.Name,
			&roomType,
			&sum.LastMessageID,
			&sum.LastMessageAt,
			&sum.CreatedAt,
			&sum.ParticipantCount,
			&sum.UnreadCount,
		); err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		sum.Type = store.RoomType(roomType)
		summaries = append(summaries, &sum)
	}

	return summaries, rows.Err()
}

// AddParticipant adds a user to a room. Idempotent.
func (s *SQLiteStore) AddParticipant(ctx context.Context, roomID, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO room_participants (room_id, user_id) VALUES (?, ?)`, roomID, userID)
	if err != nil {
		return fmt.Errorf("insert participant: %w", err)
	}
	return nil
}

// IsParticipant checks whether the user is in the room's participant list.
func (s *SQLiteStore) IsParticipant(ctx context.Context, roomID, userID int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM room_participants WHERE room_id = ? AND user_id = ?`, roomID, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query participant: %w", err)
	}
	return true, nil
}

// ListParticipants lists user IDs of all room participants.
func (s *SQLiteStore) ListParticipants(ctx context.Context, roomID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM room_participants WHERE room_id = ? ORDER BY user_id`, roomID)
	if err != nil {
		return nil, fmt.Errorf("query participants: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// SetLastMessage records the room's most recent message reference.
func (s *SQLiteStore) SetLastMessage(ctx context.Context, roomID int64, messageID string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE rooms SET last_message_id = ?, last_message_at = ? WHERE id = ?`, messageID, at, roomID)
	if err != nil {
		return fmt.Errorf("update room: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return store.ErrRoomNotFound
	}
	return nil
}

// ==== MessageStore implementation ====

// CreateMessage durably persists a message.
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *store.Message) error {
	media, err := json.Marshal(msg.Media)
	if err != nil {
		return fmt.Errorf("marshal media: %w", err)
	}

	query := `
		INSERT INTO messages (id, room_id, sender_id, text, media, created_at, is_deleted)
		VALUES (?, ?, ?, ?, ?, ?, 0)
	`
	if _, err := s.db.ExecContext(ctx, query,
		msg.ID, msg.RoomID, msg.SenderID, msg.Text, string(media), msg.CreatedAt); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	return nil
}

// GetMessage retrieves a single message with its read-by list.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*store.Message, error) {
	query := `
		SELECT m.id, m.room_id, m.sender_id, u.username, m.text, m.media, m.created_at, m.is_deleted
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.id = ?
	`
	msg, err := s.scanMessage(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, err
	}

	if err := s.attachReadBy(ctx, []*store.Message{msg}); err != nil {
		return nil, err
	}
	return msg, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) scanMessage(row rowScanner) (*store.Message, error) {
	var msg store.Message
	var media string
	err := row.Scan(
		&msg.ID,
		&msg.RoomID,
		&msg.SenderID,
		&msg.SenderName,
		&msg.Text,
		&media,
		&msg.CreatedAt,
		&msg.IsDeleted,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrMessageNotFound
		}
		return nil, fmt.Errorf("scan message: %w", err)
	}
	if err := json.Unmarshal([]byte(media), &msg.Media); err != nil {
		return nil, fmt.Errorf("unmarshal media: %w", err)
	}
	return &msg, nil
}

// ListMessages retrieves up to limit messages of a room, newest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, roomID int64, limit, skip int) ([]*store.Message, error) {
	query := `
		SELECT m.id, m.room_id, m.sender_id, u.username, m.text, m.media, m.created_at, m.is_deleted
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.room_id = ? AND m.is_deleted = 0
		ORDER BY m.rowid DESC
		LIMIT ? OFFSET ?
	`
	rows, err := s.db.QueryContext(ctx, query, roomID, limit, skip)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*store.Message
	for rows.Next() {
		msg, err := s.scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	if err := s.attachReadBy(ctx, messages); err != nil {
		return nil, err
	}

	return messages, nil
}

// attachReadBy fills the ReadBy lists of the given messages in one query.
func (s *SQLiteStore) attachReadBy(ctx context.Context, messages []*store.Message) error {
	if len(messages) == 0 {
		return nil
	}

	byID := make(map[string]*store.Message, len(messages))
	placeholders := make([]string, 0, len(messages))
	args := make([]any, 0, len(messages))
	for _, msg := range messages {
		byID[msg.ID] = msg
		placeholders = append(placeholders, "?")
		args = append(args, msg.ID)
	}

	query := `
		SELECT message_id, user_id, read_at
		FROM message_reads
		WHERE message_id IN (` + strings.Join(placeholders, ",") + `)
		ORDER BY read_at
	`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query reads: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var messageID string
		var receipt store.ReadReceipt
		if err := rows.Scan(&messageID, &receipt.UserID, &receipt.ReadAt); err != nil {
			return fmt.Errorf("scan read: %w", err)
		}
		if msg, ok := byID[messageID]; ok {
			msg.ReadBy = append(msg.ReadBy, receipt)
		}
	}

	return rows.Err()
}

// AppendReadBy marks the referenced message and every earlier message in the
// room as read by the user. Idempotent set-add: existing entries are kept.
func (s *SQLiteStore) AppendReadBy(ctx context.Context, roomID, userID int64, messageID string, at time.Time) (int, error) {
	var anchor int64
	err := s.db.QueryRowContext(ctx,
		`SELECT rowid FROM messages WHERE id = ? AND room_id = ?`, messageID, roomID).Scan(&anchor)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, store.ErrMessageNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("query anchor message: %w", err)
	}

	query := `
		INSERT OR IGNORE INTO message_reads (message_id, user_id, read_at)
		SELECT m.id, ?, ?
		FROM messages m
		WHERE m.room_id = ? AND m.is_deleted = 0 AND m.rowid <= ?
	`
	result, err := s.db.ExecContext(ctx, query, userID, at, roomID, anchor)
	if err != nil {
		return 0, fmt.Errorf("insert reads: %w", err)
	}

	marked, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(marked), nil
}

// LatestMessageID returns the id of the newest message in the room.
func (s *SQLiteStore) LatestMessageID(ctx context.Context, roomID int64) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM messages WHERE room_id = ? AND is_deleted = 0 ORDER BY rowid DESC LIMIT 1`,
		roomID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query latest message: %w", err)
	}
	return id, nil
}

// CountUnreadForUser counts messages the user has neither sent nor acknowledged.
func (s *SQLiteStore) CountUnreadForUser(ctx context.Context, roomID, userID int64) (int64, error) {
	query := `
		SELECT COUNT(*)
		FROM messages m
		WHERE m.room_id = ? AND m.is_deleted = 0 AND m.sender_id != ?
		  AND NOT EXISTS (SELECT 1 FROM message_reads mr
		                  WHERE mr.message_id = m.id AND mr.user_id = ?)
	`
	var count int64
	if err := s.db.QueryRowContext(ctx, query, roomID, userID, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return count, nil
}

// SoftDeleteMessage flags a message as deleted without removing it.
func (s *SQLiteStore) SoftDeleteMessage(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE messages SET is_deleted = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return store.ErrMessageNotFound
	}
	return nil
}
