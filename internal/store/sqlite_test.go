// ABOUTME: Tests for the SQLite store implementation
// ABOUTME: Verifies identity/room/thread persistence, duplicate detection, message ordering

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_CreateIdentity_Duplicate(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	identity := &Identity{ID: "u1", DisplayName: "Alice", Kind: IdentityKindHuman}
	require.NoError(t, s.CreateIdentity(ctx, identity))

	err := s.CreateIdentity(ctx, &Identity{ID: "u1", DisplayName: "Imposter", Kind: IdentityKindHuman})
	assert.ErrorIs(t, err, ErrDuplicateIdentity)

	got, err := s.GetIdentity(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.DisplayName)
	assert.Equal(t, IdentityKindHuman, got.Kind)
}

func TestSQLiteStore_PutIdentity_Upserts(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutIdentity(ctx, &Identity{
		ID: "u1", DisplayName: "Alice", Kind: IdentityKindHuman,
	}))
	require.NoError(t, s.PutIdentity(ctx, &Identity{
		ID: "u1", DisplayName: "Alice B.", Email: "alice@example.com", Kind: IdentityKindHuman,
	}))

	got, err := s.GetIdentity(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Alice B.", got.DisplayName)
	assert.Equal(t, "alice@example.com", got.Email)

	identities, err := s.ListIdentities(ctx)
	require.NoError(t, err)
	assert.Len(t, identities, 1)
}

func TestSQLiteStore_GetIdentity_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.GetIdentity(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_RoomVisibility(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	room := &Room{Name: "general", OwnerID: "u2", Members: []string{"u1"}}
	require.NoError(t, s.CreateRoom(ctx, room))
	require.NotEmpty(t, room.ID)

	// Visible to the member
	rooms, err := s.ListRoomsVisibleTo(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, "general", rooms[0].Name)
	assert.Equal(t, []string{"u1"}, rooms[0].Members)

	// Visible to the owner even when not in the member set
	rooms, err = s.ListRoomsVisibleTo(ctx, "u2")
	require.NoError(t, err)
	assert.Len(t, rooms, 1)

	// Invisible to everyone else
	rooms, err = s.ListRoomsVisibleTo(ctx, "u3")
	require.NoError(t, err)
	assert.Empty(t, rooms)
}

func TestSQLiteStore_CreateThread_Duplicate(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	thread := &Thread{ID: "u1_u2", Participants: []string{"u1", "u2"}}
	require.NoError(t, s.CreateThread(ctx, thread))

	err := s.CreateThread(ctx, &Thread{ID: "u1_u2", Participants: []string{"u1", "u2"}})
	assert.ErrorIs(t, err, ErrDuplicateThread)

	got, err := s.GetThread(ctx, "u1_u2")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, got.Participants)
}

func TestSQLiteStore_ListThreadsByParticipant(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateThread(ctx, &Thread{ID: "u1_u2", Participants: []string{"u1", "u2"}}))
	require.NoError(t, s.CreateThread(ctx, &Thread{ID: "u2_u3", Participants: []string{"u2", "u3"}}))

	threads, err := s.ListThreadsByParticipant(ctx, "u2")
	require.NoError(t, err)
	assert.Len(t, threads, 2)

	threads, err = s.ListThreadsByParticipant(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.Equal(t, "u1_u2", threads[0].ID)

	threads, err = s.ListThreadsByParticipant(ctx, "u4")
	require.NoError(t, err)
	assert.Empty(t, threads)
}

func TestSQLiteStore_AppendMessage_AssignsIDAndTimestamp(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	// Caller-supplied timestamps must be ignored
	msg := &Message{
		ConversationID: "u1_u2",
		Kind:           ConversationKindThread,
		SenderID:       "u1",
		Text:           "hi",
		Timestamp:      time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.AppendMessage(ctx, msg))

	assert.NotEmpty(t, msg.ID)
	assert.True(t, msg.Timestamp.After(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)))

	msgs, err := s.ListMessages(ctx, "u1_u2")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "u1", msgs[0].SenderID)
	assert.Equal(t, "hi", msgs[0].Text)
}

func TestSQLiteStore_MessageTimestampsMonotonic(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	const n = 50
	for i := 0; i < n; i++ {
		require.NoError(t, s.AppendMessage(ctx, &Message{
			ConversationID: "room-1",
			Kind:           ConversationKindRoom,
			SenderID:       "u1",
			Text:           "msg",
		}))
	}

	msgs, err := s.ListMessages(ctx, "room-1")
	require.NoError(t, err)
	require.Len(t, msgs, n)

	for i := 1; i < len(msgs); i++ {
		assert.True(t, msgs[i].Timestamp.After(msgs[i-1].Timestamp),
			"timestamps must be strictly increasing at index %d", i)
	}
}

func TestSQLiteStore_ListRecentMessages(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, text := range []string{"one", "two", "three"} {
		require.NoError(t, s.AppendMessage(ctx, &Message{
			ConversationID: "room-1",
			Kind:           ConversationKindRoom,
			SenderID:       "u1",
			Text:           text,
		}))
	}

	msgs, err := s.ListRecentMessages(ctx, "room-1", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "three", msgs[0].Text)
	assert.Equal(t, "two", msgs[1].Text)
}

func TestSQLiteStore_LatestMessage(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.LatestMessage(ctx, "empty")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.AppendMessage(ctx, &Message{
		ConversationID: "u1_u2", Kind: ConversationKindThread, SenderID: "u1", Text: "first",
	}))
	require.NoError(t, s.AppendMessage(ctx, &Message{
		ConversationID: "u1_u2", Kind: ConversationKindThread, SenderID: "u2", Text: "second",
	}))

	latest, err := s.LatestMessage(ctx, "u1_u2")
	require.NoError(t, err)
	assert.Equal(t, "second", latest.Text)
	assert.Equal(t, "u2", latest.SenderID)
}
