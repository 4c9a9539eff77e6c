// ABOUTME: HTTP facade tests over real components and a temp SQLite store
// ABOUTME: Exercises routes, the identity header, and the error status mapping

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleychat/parley/internal/assistant"
	"github.com/parleychat/parley/internal/compose"
	"github.com/parleychat/parley/internal/directory"
	"github.com/parleychat/parley/internal/dispatch"
	"github.com/parleychat/parley/internal/resolver"
	"github.com/parleychat/parley/internal/store"
	"github.com/parleychat/parley/internal/view"
)

const (
	testWaitLimit    = 2 * time.Second
	testPollInterval = 5 * time.Millisecond
)

// stubClient stands in for the generative service
type stubClient struct {
	result string
	err    error
}

func (s *stubClient) GenerateContent(context.Context, string, string) (string, error) {
	return s.result, s.err
}

type testEnv struct {
	server *Server
	store  *store.SQLiteStore
	views  *view.Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "parley.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	client := &stubClient{result: "generated text"}
	dir := directory.New(st, "assistant", "Assistant", nil)
	orch := assistant.New(st, dir, client, "persona", nil)
	disp := dispatch.New(st, orch, "assistant", nil)
	comp := compose.New(st, dir, client, nil)
	views := view.NewRegistry(st, nil)
	t.Cleanup(views.Close)

	return &testEnv{
		server: NewServer(Deps{
			Store:      st,
			Directory:  dir,
			Resolver:   resolver.New(st, nil),
			Dispatcher: disp,
			Composer:   comp,
			Views:      views,
		}),
		store: st,
		views: views,
	}
}

func (e *testEnv) do(t *testing.T, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(IdentityHeader, userID)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSignIn_UpsertsIdentity(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/identities", "u1", map[string]string{
		"display_name": "Alice",
		"email":        "alice@example.com",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "u1", body["id"])
	assert.Equal(t, "Alice", body["display_name"])
	assert.Equal(t, "human", body["kind"])
}

func TestSignIn_RequiresIdentityHeader(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/v1/identities", "", map[string]string{"display_name": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateRoomAndSendMessage(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/rooms", "u1", map[string]any{
		"name":    "General",
		"members": []string{"u2"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	roomID := decode(t, rec)["id"].(string)
	require.NotEmpty(t, roomID)

	rec = env.do(t, http.MethodPost, "/v1/conversations/room/"+roomID+"/messages", "u1",
		map[string]any{"text": "hello room"})
	require.Equal(t, http.StatusCreated, rec.Code)

	msg := decode(t, rec)
	assert.Equal(t, "u1", msg["sender_id"])
	assert.Equal(t, "hello room", msg["text"])
	assert.NotEmpty(t, msg["id"])

	rec = env.do(t, http.MethodGet, "/v1/conversations/room/"+roomID+"/messages", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var msgs []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msgs))
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello room", msgs[0]["text"])
}

func TestResolveThread_DeterministicPair(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/conversations/resolve", "u1",
		map[string]any{"targets": []string{"u2"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u1_u2", decode(t, rec)["id"])

	// Same pair from the other side lands in the same thread
	rec = env.do(t, http.MethodPost, "/v1/conversations/resolve", "u2",
		map[string]any{"targets": []string{"u1"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u1_u2", decode(t, rec)["id"])
}

func TestResolveThread_InvalidParticipants(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/v1/conversations/resolve", "u1",
		map[string]any{"targets": []string{"u1"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendMessage_UnsupportedKind(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/v1/conversations/broadcast/c1/messages", "u1",
		map[string]any{"text": "hi"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendMessage_UnknownThread(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/v1/conversations/thread/u1_u9/messages", "u1",
		map[string]any{"text": "hi"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListConversations_ReflectsView(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/rooms", "u1", map[string]any{"name": "General"})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = env.do(t, http.MethodPost, "/v1/conversations/resolve", "u1",
		map[string]any{"targets": []string{"u2"}})
	require.Equal(t, http.StatusOK, rec.Code)

	require.Eventually(t, func() bool {
		rec := env.do(t, http.MethodGet, "/v1/conversations", "u1", nil)
		if rec.Code != http.StatusOK {
			return false
		}
		var convs []map[string]any
		if err := json.Unmarshal(rec.Body.Bytes(), &convs); err != nil {
			return false
		}
		return len(convs) == 2
	}, testWaitLimit, testPollInterval, "room and thread should appear in the caller's view")
}

func TestRoomSummary(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/rooms", "u1", map[string]any{"name": "General"})
	roomID := decode(t, rec)["id"].(string)

	// Empty room short-circuits without the service
	rec = env.do(t, http.MethodGet, "/v1/rooms/"+roomID+"/summary", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "No messages to summarize.", decode(t, rec)["summary"])

	env.do(t, http.MethodPost, fmt.Sprintf("/v1/conversations/room/%s/messages", roomID), "u1",
		map[string]any{"text": "standup at ten"})

	rec = env.do(t, http.MethodGet, "/v1/rooms/"+roomID+"/summary", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "generated text", decode(t, rec)["summary"])
}

func TestRoomSummary_UnknownRoom(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/v1/rooms/nope/summary", "u1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDraftReply(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/conversations/resolve", "u1",
		map[string]any{"targets": []string{"u2"}})
	threadID := decode(t, rec)["id"].(string)

	// u2 writes; u1 asks for a draft
	env.do(t, http.MethodPost, "/v1/conversations/thread/"+threadID+"/messages", "u2",
		map[string]any{"text": "lunch tomorrow?"})

	rec = env.do(t, http.MethodGet, "/v1/threads/"+threadID+"/draft", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "generated text", decode(t, rec)["draft"])

	// The sender of the latest message gets the sentinel instead
	rec = env.do(t, http.MethodGet, "/v1/threads/"+threadID+"/draft", "u2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Couldn't draft a reply.", decode(t, rec)["draft"])
}
