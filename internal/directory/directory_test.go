// ABOUTME: Tests for the profile directory
// ABOUTME: Verifies sign-in upserts and lazy, once-only assistant creation

package directory

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleychat/parley/internal/store"
)

func createTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestEnsureIdentity_Upserts(t *testing.T) {
	d := New(createTestStore(t), "assistant", "Assistant", nil)
	ctx := context.Background()

	first, err := d.EnsureIdentity(ctx, Profile{UserID: "u1", DisplayName: "Alice"})
	require.NoError(t, err)
	assert.Equal(t, store.IdentityKindHuman, first.Kind)

	// Second sign-in updates the profile instead of failing
	second, err := d.EnsureIdentity(ctx, Profile{UserID: "u1", DisplayName: "Alice B.", Email: "a@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "Alice B.", second.DisplayName)

	identities, err := d.List(ctx)
	require.NoError(t, err)
	assert.Len(t, identities, 1)
}

func TestEnsureIdentity_DisplayNameFallback(t *testing.T) {
	d := New(createTestStore(t), "assistant", "Assistant", nil)

	identity, err := d.EnsureIdentity(context.Background(), Profile{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "u1", identity.DisplayName)
}

func TestEnsureIdentity_RejectsAssistantID(t *testing.T) {
	d := New(createTestStore(t), "assistant", "Assistant", nil)

	_, err := d.EnsureIdentity(context.Background(), Profile{UserID: "assistant"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reserved")
}

func TestEnsureAssistant_LazyAndIdempotent(t *testing.T) {
	s := createTestStore(t)
	d := New(s, "assistant", "Assistant", nil)
	ctx := context.Background()

	// Nothing exists until the first reference
	identities, err := d.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, identities)

	assistant, err := d.EnsureAssistant(ctx)
	require.NoError(t, err)
	assert.Equal(t, "assistant", assistant.ID)
	assert.Equal(t, store.IdentityKindAssistant, assistant.Kind)
	assert.True(t, assistant.IsAssistant())

	again, err := d.EnsureAssistant(ctx)
	require.NoError(t, err)
	assert.Equal(t, assistant.ID, again.ID)

	identities, err = d.List(ctx)
	require.NoError(t, err)
	assert.Len(t, identities, 1)
}

func TestEnsureAssistant_ConcurrentCreation(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	// Two directories over one store, racing to create the assistant
	d1 := New(s, "assistant", "Assistant", nil)
	d2 := New(s, "assistant", "Assistant", nil)

	var wg sync.WaitGroup
	results := make([]*store.Identity, 2)
	errs := make([]error, 2)
	for i, d := range []*Directory{d1, d2} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = d.EnsureAssistant(ctx)
		}()
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, results[0].ID, results[1].ID)

	identities, err := s.ListIdentities(ctx)
	require.NoError(t, err)
	assert.Len(t, identities, 1)
}

func TestDisplayName_FallsBackToID(t *testing.T) {
	d := New(createTestStore(t), "assistant", "Assistant", nil)
	ctx := context.Background()

	_, err := d.EnsureIdentity(ctx, Profile{UserID: "u1", DisplayName: "Alice"})
	require.NoError(t, err)

	assert.Equal(t, "Alice", d.DisplayName(ctx, "u1"))
	assert.Equal(t, "ghost", d.DisplayName(ctx, "ghost"))
}
