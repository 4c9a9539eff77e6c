// ABOUTME: Thread identity resolution - deterministic ids for pairwise and group threads
// ABOUTME: Create-if-absent with duplicate fallback makes resolution idempotent under races

package resolver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/parleychat/parley/internal/store"
)

// ErrInvalidParticipants is returned when the combined participant set has
// fewer than two members.
var ErrInvalidParticipants = errors.New("a conversation needs at least two distinct participants")

// pairSeparator joins the two sorted ids of a pairwise thread.
const pairSeparator = "_"

// groupIDPrefix marks hash-derived group thread ids.
const groupIDPrefix = "g-"

// ThreadStore defines what the resolver needs from storage
type ThreadStore interface {
	CreateThread(ctx context.Context, thread *store.Thread) error
	GetThread(ctx context.Context, id string) (*store.Thread, error)
}

// Resolver computes the canonical thread for a participant set, creating it
// if absent. Both pairwise and group ids are pure functions of the sorted
// participant set, so concurrent resolution from any side lands on one
// thread: the store's atomic create-if-absent settles the race.
type Resolver struct {
	store  ThreadStore
	logger *slog.Logger
}

// New creates a Resolver. Pass nil logger for default.
func New(s ThreadStore, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		store:  s,
		logger: logger.With("component", "resolver"),
	}
}

// Resolve returns the unique thread for requester + targets, creating it if
// it does not exist yet. Creation writes the sorted participant set and a
// creation timestamp; it never writes a message.
func (r *Resolver) Resolve(ctx context.Context, requesterID string, targetIDs []string) (*store.Thread, error) {
	participants := CanonicalParticipants(requesterID, targetIDs)
	if len(participants) < 2 {
		return nil, ErrInvalidParticipants
	}

	id := ThreadID(participants)

	thread, err := r.store.GetThread(ctx, id)
	if err == nil {
		return thread, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("looking up thread: %w", err)
	}

	thread = &store.Thread{
		ID:           id,
		Participants: participants,
		CreatedAt:    time.Now().UTC(),
	}
	if err := r.store.CreateThread(ctx, thread); err != nil {
		// Another resolver won the create race; its thread is ours too.
		if errors.Is(err, store.ErrDuplicateThread) {
			existing, lookupErr := r.store.GetThread(ctx, id)
			if lookupErr == nil {
				r.logger.Debug("found existing thread after race", "thread_id", id)
				return existing, nil
			}
			return nil, fmt.Errorf("looking up thread after duplicate: %w", lookupErr)
		}
		return nil, fmt.Errorf("creating thread: %w", err)
	}

	r.logger.Debug("thread created",
		"thread_id", thread.ID,
		"participants", len(participants))
	return thread, nil
}

// CanonicalParticipants deduplicates requester + targets, drops empty ids,
// and returns the set sorted lexicographically.
func CanonicalParticipants(requesterID string, targetIDs []string) []string {
	combined := append([]string{requesterID}, targetIDs...)
	participants := lo.Filter(lo.Uniq(combined), func(id string, _ int) bool {
		return id != ""
	})
	sort.Strings(participants)
	return participants
}

// ThreadID derives the canonical thread id from a sorted participant set.
// Two participants: the ids joined with "_", giving O(1) addressing for the
// common direct-message case. More: a content hash of the set, so set-equal
// groups map to the same id no matter who creates them or in which order
// the members were enumerated.
func ThreadID(sortedParticipants []string) string {
	if len(sortedParticipants) == 2 {
		return sortedParticipants[0] + pairSeparator + sortedParticipants[1]
	}
	h := sha256.Sum256([]byte(strings.Join(sortedParticipants, "\x00")))
	return groupIDPrefix + hex.EncodeToString(h[:])[:32]
}
