// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides identity/room/thread/message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	hub    *watchHub
	logger *slog.Logger

	// Guards server-assigned message timestamps. Appends must never produce
	// an equal or earlier timestamp than a prior append, regardless of wall
	// clock resolution.
	tsMu   sync.Mutex
	lastTS time.Time
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		hub:    newWatchHub(),
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS identities (
			id           TEXT PRIMARY KEY,
			display_name TEXT NOT NULL,
			avatar_url   TEXT NOT NULL DEFAULT '',
			email        TEXT NOT NULL DEFAULT '',
			kind         TEXT NOT NULL,
			created_at   INTEGER NOT NULL,

			CHECK (kind IN ('human', 'assistant'))
		);

		CREATE TABLE IF NOT EXISTS rooms (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			owner_id   TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS room_members (
			room_id     TEXT NOT NULL,
			identity_id TEXT NOT NULL,

			PRIMARY KEY (room_id, identity_id),
			FOREIGN KEY (room_id) REFERENCES rooms(id)
		);

		CREATE INDEX IF NOT EXISTS idx_room_members_identity
			ON room_members(identity_id);

		CREATE TABLE IF NOT EXISTS threads (
			id         TEXT PRIMARY KEY,
			created_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS thread_participants (
			thread_id   TEXT NOT NULL,
			identity_id TEXT NOT NULL,
			position    INTEGER NOT NULL,

			PRIMARY KEY (thread_id, identity_id),
			FOREIGN KEY (thread_id) REFERENCES threads(id)
		);

		CREATE INDEX IF NOT EXISTS idx_thread_participants_identity
			ON thread_participants(identity_id);

		CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			kind            TEXT NOT NULL,
			sender_id       TEXT NOT NULL,
			text            TEXT NOT NULL,
			ts              INTEGER NOT NULL,

			CHECK (kind IN ('room', 'thread'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_ts
			ON messages(conversation_id, ts);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// PutIdentity inserts or replaces an identity (upsert)
func (s *SQLiteStore) PutIdentity(ctx context.Context, identity *Identity) error {
	if identity.CreatedAt.IsZero() {
		identity.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO identities (id, display_name, avatar_url, email, kind, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = excluded.display_name,
			avatar_url   = excluded.avatar_url,
			email        = excluded.email
	`, identity.ID, identity.DisplayName, identity.AvatarURL, identity.Email,
		string(identity.Kind), identity.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("putting identity: %w", err)
	}
	s.hub.notify(topicIdentities)
	return nil
}

// CreateIdentity inserts a new identity. If one with the same id already
// exists, it returns ErrDuplicateIdentity.
func (s *SQLiteStore) CreateIdentity(ctx context.Context, identity *Identity) error {
	if identity.CreatedAt.IsZero() {
		identity.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO identities (id, display_name, avatar_url, email, kind, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, identity.ID, identity.DisplayName, identity.AvatarURL, identity.Email,
		string(identity.Kind), identity.CreatedAt.UnixNano())
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateIdentity
		}
		return fmt.Errorf("creating identity: %w", err)
	}
	s.hub.notify(topicIdentities)
	return nil
}

// GetIdentity retrieves an identity by id
func (s *SQLiteStore) GetIdentity(ctx context.Context, id string) (*Identity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, avatar_url, email, kind, created_at
		FROM identities WHERE id = ?
	`, id)
	return scanIdentity(row)
}

// ListIdentities returns all known identities ordered by display name
func (s *SQLiteStore) ListIdentities(ctx context.Context) ([]*Identity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, display_name, avatar_url, email, kind, created_at
		FROM identities ORDER BY display_name, id
	`)
	if err != nil {
		return nil, fmt.Errorf("listing identities: %w", err)
	}
	defer rows.Close()

	var identities []*Identity
	for rows.Next() {
		identity, err := scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		identities = append(identities, identity)
	}
	return identities, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIdentity(row rowScanner) (*Identity, error) {
	var identity Identity
	var kind string
	var createdAt int64
	err := row.Scan(&identity.ID, &identity.DisplayName, &identity.AvatarURL,
		&identity.Email, &kind, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning identity: %w", err)
	}
	identity.Kind = IdentityKind(kind)
	identity.CreatedAt = time.Unix(0, createdAt).UTC()
	return &identity, nil
}

// CreateRoom inserts a room and its member set in one transaction.
// An empty ID is filled with a generated UUID.
func (s *SQLiteStore) CreateRoom(ctx context.Context, room *Room) error {
	if room.ID == "" {
		room.ID = uuid.New().String()
	}
	if room.CreatedAt.IsZero() {
		room.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO rooms (id, name, owner_id, created_at) VALUES (?, ?, ?, ?)
	`, room.ID, room.Name, room.OwnerID, room.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("creating room: %w", err)
	}

	for _, member := range room.Members {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO room_members (room_id, identity_id) VALUES (?, ?)
		`, room.ID, member)
		if err != nil {
			return fmt.Errorf("adding room member: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing room: %w", err)
	}
	s.hub.notify(topicRooms)
	return nil
}

// GetRoom retrieves a room with its member set
func (s *SQLiteStore) GetRoom(ctx context.Context, id string) (*Room, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, owner_id, created_at FROM rooms WHERE id = ?
	`, id)

	var room Room
	var createdAt int64
	err := row.Scan(&room.ID, &room.Name, &room.OwnerID, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning room: %w", err)
	}
	room.CreatedAt = time.Unix(0, createdAt).UTC()

	room.Members, err = s.roomMembers(ctx, room.ID)
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func (s *SQLiteStore) roomMembers(ctx context.Context, roomID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT identity_id FROM room_members WHERE room_id = ? ORDER BY identity_id
	`, roomID)
	if err != nil {
		return nil, fmt.Errorf("listing room members: %w", err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("scanning room member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// ListRoomsVisibleTo returns rooms where identityID is the owner or a member
func (s *SQLiteStore) ListRoomsVisibleTo(ctx context.Context, identityID string) ([]*Room, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, owner_id, created_at FROM rooms
		WHERE owner_id = ?
		   OR id IN (SELECT room_id FROM room_members WHERE identity_id = ?)
		ORDER BY created_at, id
	`, identityID, identityID)
	if err != nil {
		return nil, fmt.Errorf("listing rooms: %w", err)
	}
	defer rows.Close()

	var rooms []*Room
	for rows.Next() {
		var room Room
		var createdAt int64
		if err := rows.Scan(&room.ID, &room.Name, &room.OwnerID, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning room: %w", err)
		}
		room.CreatedAt = time.Unix(0, createdAt).UTC()
		rooms = append(rooms, &room)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, room := range rooms {
		room.Members, err = s.roomMembers(ctx, room.ID)
		if err != nil {
			return nil, err
		}
	}
	return rooms, nil
}

// CreateThread inserts a thread and its participant set atomically. If a
// thread with the same id already exists, it returns ErrDuplicateThread.
// This is the create-if-absent primitive the resolver relies on: concurrent
// duplicate attempts collide on the primary key instead of racing a
// read-then-write check.
func (s *SQLiteStore) CreateThread(ctx context.Context, thread *Thread) error {
	if thread.CreatedAt.IsZero() {
		thread.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO threads (id, created_at) VALUES (?, ?)
	`, thread.ID, thread.CreatedAt.UnixNano())
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateThread
		}
		return fmt.Errorf("creating thread: %w", err)
	}

	for i, p := range thread.Participants {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO thread_participants (thread_id, identity_id, position)
			VALUES (?, ?, ?)
		`, thread.ID, p, i)
		if err != nil {
			return fmt.Errorf("adding thread participant: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing thread: %w", err)
	}
	s.hub.notify(topicThreads)
	return nil
}

// GetThread retrieves a thread with its participant set
func (s *SQLiteStore) GetThread(ctx context.Context, id string) (*Thread, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, created_at FROM threads WHERE id = ?
	`, id)

	var thread Thread
	var createdAt int64
	err := row.Scan(&thread.ID, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning thread: %w", err)
	}
	thread.CreatedAt = time.Unix(0, createdAt).UTC()

	thread.Participants, err = s.threadParticipants(ctx, thread.ID)
	if err != nil {
		return nil, err
	}
	return &thread, nil
}

func (s *SQLiteStore) threadParticipants(ctx context.Context, threadID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT identity_id FROM thread_participants
		WHERE thread_id = ? ORDER BY position
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("listing thread participants: %w", err)
	}
	defer rows.Close()

	var participants []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scanning thread participant: %w", err)
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

// ListThreadsByParticipant returns threads that identityID participates in
func (s *SQLiteStore) ListThreadsByParticipant(ctx context.Context, identityID string) ([]*Thread, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.created_at FROM threads t
		JOIN thread_participants tp ON tp.thread_id = t.id
		WHERE tp.identity_id = ?
		ORDER BY t.created_at, t.id
	`, identityID)
	if err != nil {
		return nil, fmt.Errorf("listing threads: %w", err)
	}
	defer rows.Close()

	var threads []*Thread
	for rows.Next() {
		var thread Thread
		var createdAt int64
		if err := rows.Scan(&thread.ID, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning thread: %w", err)
		}
		thread.CreatedAt = time.Unix(0, createdAt).UTC()
		threads = append(threads, &thread)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, thread := range threads {
		thread.Participants, err = s.threadParticipants(ctx, thread.ID)
		if err != nil {
			return nil, err
		}
	}
	return threads, nil
}

// nextTimestamp assigns the server-side message timestamp. Monotonic: if the
// wall clock has not advanced past the previous append, the new timestamp is
// bumped one microsecond beyond it.
func (s *SQLiteStore) nextTimestamp() time.Time {
	s.tsMu.Lock()
	defer s.tsMu.Unlock()

	ts := time.Now().UTC()
	if !ts.After(s.lastTS) {
		ts = s.lastTS.Add(time.Microsecond)
	}
	s.lastTS = ts
	return ts
}

// AppendMessage writes a message, assigning its id and timestamp.
// Any caller-supplied timestamp is ignored.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	msg.Timestamp = s.nextTimestamp()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, kind, sender_id, text, ts)
		VALUES (?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.ConversationID, string(msg.Kind), msg.SenderID, msg.Text,
		msg.Timestamp.UnixNano())
	if err != nil {
		return fmt.Errorf("appending message: %w", err)
	}
	s.hub.notify(topicMessages(msg.ConversationID))
	return nil
}

// ListMessages returns all messages of a conversation ascending by timestamp
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	return s.queryMessages(ctx, `
		SELECT id, conversation_id, kind, sender_id, text, ts FROM messages
		WHERE conversation_id = ? ORDER BY ts ASC
	`, conversationID)
}

// ListRecentMessages returns up to limit messages descending by timestamp
func (s *SQLiteStore) ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	return s.queryMessages(ctx, `
		SELECT id, conversation_id, kind, sender_id, text, ts FROM messages
		WHERE conversation_id = ? ORDER BY ts DESC LIMIT ?
	`, conversationID, limit)
}

// LatestMessage returns the most recent message of a conversation,
// or ErrNotFound if the conversation has no messages.
func (s *SQLiteStore) LatestMessage(ctx context.Context, conversationID string) (*Message, error) {
	msgs, err := s.ListRecentMessages(ctx, conversationID, 1)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, ErrNotFound
	}
	return msgs[0], nil
}

func (s *SQLiteStore) queryMessages(ctx context.Context, query string, args ...any) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		var msg Message
		var kind string
		var ts int64
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &kind, &msg.SenderID,
			&msg.Text, &ts); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msg.Kind = ConversationKind(kind)
		msg.Timestamp = time.Unix(0, ts).UTC()
		msgs = append(msgs, &msg)
	}
	return msgs, rows.Err()
}

// Close closes the watch hub and the underlying database
func (s *SQLiteStore) Close() error {
	s.hub.close()
	return s.db.Close()
}
