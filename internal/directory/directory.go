// ABOUTME: Profile directory for human and assistant identities
// ABOUTME: Humans are upserted on sign-in; the assistant is created lazily, exactly once

package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/parleychat/parley/internal/store"
)

// IdentityStore defines what the directory needs from storage
type IdentityStore interface {
	PutIdentity(ctx context.Context, identity *store.Identity) error
	CreateIdentity(ctx context.Context, identity *store.Identity) error
	GetIdentity(ctx context.Context, id string) (*store.Identity, error)
	ListIdentities(ctx context.Context) ([]*store.Identity, error)
}

// Profile is what the opaque identity provider supplies on sign-in
type Profile struct {
	UserID      string
	DisplayName string
	AvatarURL   string
	Email       string
}

// Directory maintains the set of known identities. It owns the single
// synthetic assistant identity: fixed id, created lazily on first reference,
// never deleted.
type Directory struct {
	store  IdentityStore
	logger *slog.Logger

	assistantID   string
	assistantName string

	mu        sync.Mutex
	assistant *store.Identity // cached after first EnsureAssistant
}

// New creates a Directory. Pass nil logger for default.
func New(s IdentityStore, assistantID, assistantName string, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{
		store:         s,
		logger:        logger.With("component", "directory"),
		assistantID:   assistantID,
		assistantName: assistantName,
	}
}

// AssistantID returns the fixed id of the synthetic assistant identity.
func (d *Directory) AssistantID() string {
	return d.assistantID
}

// EnsureIdentity upserts the human identity for a sign-in profile and
// returns the stored record. A profile without a display name falls back
// to the user id.
func (d *Directory) EnsureIdentity(ctx context.Context, profile Profile) (*store.Identity, error) {
	if profile.UserID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	if profile.UserID == d.assistantID {
		return nil, fmt.Errorf("identity id %q is reserved for the assistant", d.assistantID)
	}

	displayName := profile.DisplayName
	if displayName == "" {
		displayName = profile.UserID
	}

	identity := &store.Identity{
		ID:          profile.UserID,
		DisplayName: displayName,
		AvatarURL:   profile.AvatarURL,
		Email:       profile.Email,
		Kind:        store.IdentityKindHuman,
		CreatedAt:   time.Now().UTC(),
	}
	if err := d.store.PutIdentity(ctx, identity); err != nil {
		return nil, fmt.Errorf("ensuring identity: %w", err)
	}

	d.logger.Debug("identity ensured", "identity_id", identity.ID)
	return identity, nil
}

// EnsureAssistant returns the assistant identity, creating it on first
// reference. Creation is atomic: a concurrent duplicate attempt falls back
// to reading the winner's record.
func (d *Directory) EnsureAssistant(ctx context.Context) (*store.Identity, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.assistant != nil {
		return d.assistant, nil
	}

	assistant := &store.Identity{
		ID:          d.assistantID,
		DisplayName: d.assistantName,
		Kind:        store.IdentityKindAssistant,
		CreatedAt:   time.Now().UTC(),
	}
	err := d.store.CreateIdentity(ctx, assistant)
	if err != nil {
		if !errors.Is(err, store.ErrDuplicateIdentity) {
			return nil, fmt.Errorf("creating assistant identity: %w", err)
		}
		assistant, err = d.store.GetIdentity(ctx, d.assistantID)
		if err != nil {
			return nil, fmt.Errorf("looking up assistant identity: %w", err)
		}
	} else {
		d.logger.Info("assistant identity created", "identity_id", d.assistantID)
	}

	d.assistant = assistant
	return assistant, nil
}

// Get retrieves an identity by id
func (d *Directory) Get(ctx context.Context, id string) (*store.Identity, error) {
	return d.store.GetIdentity(ctx, id)
}

// List returns all known identities
func (d *Directory) List(ctx context.Context) ([]*store.Identity, error) {
	return d.store.ListIdentities(ctx)
}

// DisplayName resolves an identity id to its display name, falling back to
// the raw id when the identity is unknown.
func (d *Directory) DisplayName(ctx context.Context, id string) string {
	identity, err := d.store.GetIdentity(ctx, id)
	if err != nil {
		return id
	}
	return identity.DisplayName
}
