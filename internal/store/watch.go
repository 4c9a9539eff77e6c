// ABOUTME: Live snapshot subscriptions over store collections
// ABOUTME: A change hub triggers re-queries; subscribers get full snapshots, last-wins

package store

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

const (
	topicIdentities = "identities"
	topicRooms      = "rooms"
	topicThreads    = "threads"
)

func topicMessages(conversationID string) string {
	return "messages/" + conversationID
}

// watchHub is an in-memory change-notification fan-out, keyed by collection
// topic. Subscribers receive coalesced change hints (a buffered struct{}
// channel); the actual data is re-queried by the watcher goroutine.
type watchHub struct {
	mu     sync.Mutex
	subs   map[string]map[string]chan struct{} // topic -> subID -> hint ch
	closed bool
}

func newWatchHub() *watchHub {
	return &watchHub{
		subs: make(map[string]map[string]chan struct{}),
	}
}

// subscribe registers a hint channel for the topic and returns it with an
// unsubscribe func. The hint channel has capacity 1 so pending hints coalesce.
func (h *watchHub) subscribe(topic string) (<-chan struct{}, func()) {
	subID := uuid.New().String()
	ch := make(chan struct{}, 1)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	if _, ok := h.subs[topic]; !ok {
		h.subs[topic] = make(map[string]chan struct{})
	}
	h.subs[topic][subID] = ch
	h.mu.Unlock()

	return ch, func() { h.unsubscribe(topic, subID) }
}

func (h *watchHub) unsubscribe(topic, subID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.subs[topic]
	if !ok {
		return
	}
	if _, exists := subs[subID]; !exists {
		return
	}
	delete(subs, subID)
	if len(subs) == 0 {
		delete(h.subs, topic)
	}
}

// notify signals every subscriber of the topic. Non-blocking: a subscriber
// with a hint already pending is left as-is, it will re-query once anyway.
func (h *watchHub) notify(topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.subs[topic] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (h *watchHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for topic, subs := range h.subs {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(h.subs, topic)
	}
}

// WatchIdentities streams snapshots of the identity directory
func (s *SQLiteStore) WatchIdentities(ctx context.Context) (<-chan []*Identity, func()) {
	return watchSnapshots(ctx, s, topicIdentities, func(ctx context.Context) ([]*Identity, error) {
		return s.ListIdentities(ctx)
	})
}

// WatchRooms streams snapshots of the rooms visible to identityID
func (s *SQLiteStore) WatchRooms(ctx context.Context, identityID string) (<-chan []*Room, func()) {
	return watchSnapshots(ctx, s, topicRooms, func(ctx context.Context) ([]*Room, error) {
		return s.ListRoomsVisibleTo(ctx, identityID)
	})
}

// WatchThreads streams snapshots of the threads identityID participates in
func (s *SQLiteStore) WatchThreads(ctx context.Context, identityID string) (<-chan []*Thread, func()) {
	return watchSnapshots(ctx, s, topicThreads, func(ctx context.Context) ([]*Thread, error) {
		return s.ListThreadsByParticipant(ctx, identityID)
	})
}

// WatchMessages streams snapshots of a conversation's messages, ascending
// by timestamp
func (s *SQLiteStore) WatchMessages(ctx context.Context, conversationID string) (<-chan []*Message, func()) {
	return watchSnapshots(ctx, s, topicMessages(conversationID), func(ctx context.Context) ([]*Message, error) {
		return s.ListMessages(ctx, conversationID)
	})
}

// watchSnapshots runs the subscription loop: deliver the current snapshot on
// subscribe, then re-query and re-deliver after every change hint. A failed
// query is logged and skipped, leaving the subscriber's view stale rather
// than tearing the stream down. The returned cancel func is idempotent and
// closes the snapshot channel.
func watchSnapshots[T any](ctx context.Context, s *SQLiteStore, topic string, query func(context.Context) ([]T, error)) (<-chan []T, func()) {
	out := make(chan []T, 1)
	hints, unsub := s.hub.subscribe(topic)
	done := make(chan struct{})

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			unsub()
			close(done)
		})
	}

	go func() {
		defer close(out)

		deliver := func() {
			snapshot, err := query(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Error("watch query failed", "topic", topic, "error", err)
				}
				return
			}
			// Last-snapshot-wins: replace a pending undelivered snapshot
			// instead of blocking on a slow receiver.
			for {
				select {
				case out <- snapshot:
					return
				default:
				}
				select {
				case <-out:
				default:
				}
			}
		}

		deliver()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				cancel()
				return
			case _, ok := <-hints:
				if !ok {
					return
				}
				deliver()
			}
		}
	}()

	return out, cancel
}
