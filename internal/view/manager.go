// ABOUTME: Per-identity synchronization manager - reconciles store watches into view state
// ABOUTME: At most one live subscription per logical stream; snapshots replace wholesale

package view

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/parleychat/parley/internal/store"
)

// WatchStore defines what the manager needs from storage
type WatchStore interface {
	WatchIdentities(ctx context.Context) (<-chan []*store.Identity, func())
	WatchRooms(ctx context.Context, identityID string) (<-chan []*store.Room, func())
	WatchThreads(ctx context.Context, identityID string) (<-chan []*store.Thread, func())
	WatchMessages(ctx context.Context, conversationID string) (<-chan []*store.Message, func())
}

// Conversation is one entry of the derived conversation list: a room or
// thread visible to the identity, with a resolved display title. Not
// persisted.
type Conversation struct {
	ID    string                 `json:"id"`
	Kind  store.ConversationKind `json:"kind"`
	Title string                 `json:"title"`
}

// Manager maintains the live view state for a single identity: the identity
// directory, the visible rooms and threads, and the messages of the active
// conversation. Each incoming snapshot replaces the corresponding local
// state wholesale.
type Manager struct {
	store      WatchStore
	identityID string
	logger     *slog.Logger

	mu         sync.Mutex
	identities map[string]*store.Identity
	rooms      []*store.Room
	threads    []*store.Thread
	messages   []*store.Message
	activeID   string
	activeKind store.ConversationKind

	// cancelMessages tears down the current message subscription; nil when
	// no conversation is active. activeGen fences out snapshots from a
	// superseded subscription that were already in flight.
	cancelMessages func()
	activeGen      int

	// cancelStreams tears down the identity/room/thread subscriptions.
	cancelStreams []func()

	updates chan struct{}
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewManager creates a manager for identityID and starts its identity, room,
// and thread subscriptions. Callers must Close it. Pass nil logger for
// default.
func NewManager(s WatchStore, identityID string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		store:      s,
		identityID: identityID,
		logger:     logger.With("component", "view", "identity_id", identityID),
		identities: make(map[string]*store.Identity),
		updates:    make(chan struct{}, 1),
		ctx:        ctx,
		cancel:     cancel,
	}

	identityCh, cancelIdentities := s.WatchIdentities(ctx)
	roomCh, cancelRooms := s.WatchRooms(ctx, identityID)
	threadCh, cancelThreads := s.WatchThreads(ctx, identityID)
	m.cancelStreams = []func(){cancelIdentities, cancelRooms, cancelThreads}

	m.wg.Add(3)
	go m.consumeIdentities(identityCh)
	go m.consumeRooms(roomCh)
	go m.consumeThreads(threadCh)

	return m
}

func (m *Manager) consumeIdentities(ch <-chan []*store.Identity) {
	defer m.wg.Done()
	for snapshot := range ch {
		m.mu.Lock()
		m.identities = make(map[string]*store.Identity, len(snapshot))
		for _, id := range snapshot {
			m.identities[id.ID] = id
		}
		m.mu.Unlock()
		m.notify()
	}
}

func (m *Manager) consumeRooms(ch <-chan []*store.Room) {
	defer m.wg.Done()
	for snapshot := range ch {
		m.mu.Lock()
		m.rooms = snapshot
		m.mu.Unlock()
		m.notify()
	}
}

func (m *Manager) consumeThreads(ch <-chan []*store.Thread) {
	defer m.wg.Done()
	for snapshot := range ch {
		m.mu.Lock()
		m.threads = snapshot
		invalidated := m.activeKind == store.ConversationKindThread &&
			m.activeID != "" && !containsThread(snapshot, m.activeID)
		if invalidated {
			m.clearActiveLocked()
		}
		m.mu.Unlock()
		if invalidated {
			m.logger.Info("active thread disappeared, clearing selection")
		}
		m.notify()
	}
}

func containsThread(threads []*store.Thread, id string) bool {
	for _, t := range threads {
		if t.ID == id {
			return true
		}
	}
	return false
}

// SetActiveConversation switches the message stream to the given
// conversation, cancelling any prior stream first. An empty id clears the
// selection.
func (m *Manager) SetActiveConversation(id string, kind store.ConversationKind) {
	m.mu.Lock()
	m.clearActiveLocked()
	if id == "" {
		m.mu.Unlock()
		m.notify()
		return
	}

	m.activeID = id
	m.activeKind = kind
	m.activeGen++
	gen := m.activeGen

	ch, cancel := m.store.WatchMessages(m.ctx, id)
	m.cancelMessages = cancel
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		for snapshot := range ch {
			m.mu.Lock()
			if m.activeGen != gen {
				// Superseded while this snapshot was in flight
				m.mu.Unlock()
				return
			}
			m.messages = snapshot
			m.mu.Unlock()
			m.notify()
		}
	}()

	m.notify()
}

// clearActiveLocked cancels the message subscription and resets the
// selection. Caller holds m.mu.
func (m *Manager) clearActiveLocked() {
	if m.cancelMessages != nil {
		m.cancelMessages()
		m.cancelMessages = nil
	}
	m.activeID = ""
	m.activeKind = ""
	m.activeGen++
	m.messages = nil
}

// Conversations returns the visible rooms and threads with display titles:
// the room's name, or the other thread participants' display names.
func (m *Manager) Conversations() []Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Conversation, 0, len(m.rooms)+len(m.threads))
	for _, r := range m.rooms {
		out = append(out, Conversation{ID: r.ID, Kind: store.ConversationKindRoom, Title: r.Name})
	}
	for _, t := range m.threads {
		out = append(out, Conversation{ID: t.ID, Kind: store.ConversationKindThread, Title: m.threadTitleLocked(t)})
	}
	return out
}

// threadTitleLocked joins the display names of every participant other than
// this identity. Caller holds m.mu.
func (m *Manager) threadTitleLocked(t *store.Thread) string {
	var names []string
	for _, p := range t.Participants {
		if p == m.identityID {
			continue
		}
		if id, ok := m.identities[p]; ok && id.DisplayName != "" {
			names = append(names, id.DisplayName)
		} else {
			names = append(names, p)
		}
	}
	return strings.Join(names, ", ")
}

// Messages returns the current snapshot of the active conversation's
// messages, ascending by timestamp.
func (m *Manager) Messages() []*store.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*store.Message, len(m.messages))
	copy(out, m.messages)
	return out
}

// Active returns the active conversation id and kind; id is empty when
// nothing is selected.
func (m *Manager) Active() (string, store.ConversationKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeID, m.activeKind
}

// Updates returns a coalescing channel that receives a hint whenever any
// view state changed. Receivers re-read through the accessors.
func (m *Manager) Updates() <-chan struct{} {
	return m.updates
}

func (m *Manager) notify() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	select {
	case m.updates <- struct{}{}:
	default:
	}
}

// Close cancels every subscription and stops the manager. Idempotent.
func (m *Manager) Close() {
	m.once.Do(func() {
		m.mu.Lock()
		if m.cancelMessages != nil {
			m.cancelMessages()
			m.cancelMessages = nil
		}
		m.mu.Unlock()

		m.cancel()
		for _, cancel := range m.cancelStreams {
			cancel()
		}
		m.wg.Wait()

		m.mu.Lock()
		m.closed = true
		close(m.updates)
		m.mu.Unlock()
	})
}
