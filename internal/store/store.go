// ABOUTME: Store interface and data types for parley persistence
// ABOUTME: Defines Identity, Room, Thread, Message and the Store interface with live watches

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateThread is returned when trying to create a thread that already exists
var ErrDuplicateThread = errors.New("thread already exists")

// ErrDuplicateIdentity is returned when trying to create an identity that already exists
var ErrDuplicateIdentity = errors.New("identity already exists")

// IdentityKind distinguishes human accounts from the synthetic assistant.
// Modeled as a tagged kind rather than a bool so callers can't treat the
// assistant as an ordinary removable account.
type IdentityKind string

const (
	IdentityKindHuman     IdentityKind = "human"
	IdentityKindAssistant IdentityKind = "assistant"
)

// Identity is a participant in the directory, human or assistant
type Identity struct {
	ID          string
	DisplayName string
	AvatarURL   string
	Email       string
	Kind        IdentityKind
	CreatedAt   time.Time
}

// IsAssistant reports whether this identity is the synthetic assistant.
func (i *Identity) IsAssistant() bool {
	return i.Kind == IdentityKindAssistant
}

// Room is a named group conversation with an owner and a member set.
// Visible to an identity iff it is the owner or a member.
type Room struct {
	ID        string
	Name      string
	OwnerID   string
	Members   []string
	CreatedAt time.Time
}

// VisibleTo reports whether the room should appear in identityID's view.
func (r *Room) VisibleTo(identityID string) bool {
	if r.OwnerID == identityID {
		return true
	}
	for _, m := range r.Members {
		if m == identityID {
			return true
		}
	}
	return false
}

// Thread is a direct conversation addressed by its participant set.
// Participants are stored sorted; the id is a deterministic function of them.
type Thread struct {
	ID           string
	Participants []string
	CreatedAt    time.Time
}

// HasParticipant reports whether identityID participates in the thread.
func (t *Thread) HasParticipant(identityID string) bool {
	for _, p := range t.Participants {
		if p == identityID {
			return true
		}
	}
	return false
}

// ConversationKind tags which collection a conversation's messages live in
type ConversationKind string

const (
	ConversationKindRoom   ConversationKind = "room"
	ConversationKindThread ConversationKind = "thread"
)

// Message is a single append-only message within a room or thread.
// Timestamp is assigned by the store at append time, monotonic per store,
// never client-supplied.
type Message struct {
	ID             string
	ConversationID string
	Kind           ConversationKind
	SenderID       string
	Text           string
	Timestamp      time.Time
}

// Store defines the persistence interface for identities, conversations
// and messages, plus live snapshot subscriptions for each collection.
type Store interface {
	// Identities
	PutIdentity(ctx context.Context, identity *Identity) error
	CreateIdentity(ctx context.Context, identity *Identity) error
	GetIdentity(ctx context.Context, id string) (*Identity, error)
	ListIdentities(ctx context.Context) ([]*Identity, error)

	// Rooms
	CreateRoom(ctx context.Context, room *Room) error
	GetRoom(ctx context.Context, id string) (*Room, error)
	ListRoomsVisibleTo(ctx context.Context, identityID string) ([]*Room, error)

	// Threads
	CreateThread(ctx context.Context, thread *Thread) error
	GetThread(ctx context.Context, id string) (*Thread, error)
	ListThreadsByParticipant(ctx context.Context, identityID string) ([]*Thread, error)

	// Messages
	AppendMessage(ctx context.Context, msg *Message) error
	ListMessages(ctx context.Context, conversationID string) ([]*Message, error)
	ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error)
	LatestMessage(ctx context.Context, conversationID string) (*Message, error)

	// Live snapshot subscriptions. Each returns a channel that receives the
	// current snapshot immediately and a fresh snapshot after every mutation
	// of the collection, plus a cancel func that closes the channel.
	// Delivery is last-snapshot-wins: intermediate snapshots may be skipped.
	WatchIdentities(ctx context.Context) (<-chan []*Identity, func())
	WatchRooms(ctx context.Context, identityID string) (<-chan []*Room, func())
	WatchThreads(ctx context.Context, identityID string) (<-chan []*Thread, func())
	WatchMessages(ctx context.Context, conversationID string) (<-chan []*Message, func())

	// Close releases any resources held by the store
	Close() error
}
