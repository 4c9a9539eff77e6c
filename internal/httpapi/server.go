// ABOUTME: JSON HTTP facade over the chat core, presentation-free
// ABOUTME: Identity comes from the X-Parley-User header; errors map to 400/404/500

package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/parleychat/parley/internal/compose"
	"github.com/parleychat/parley/internal/directory"
	"github.com/parleychat/parley/internal/dispatch"
	"github.com/parleychat/parley/internal/resolver"
	"github.com/parleychat/parley/internal/store"
	"github.com/parleychat/parley/internal/view"
)

// IdentityHeader carries the opaque user identifier issued by the identity
// provider. Requests without it are rejected on identity-bound routes.
const IdentityHeader = "X-Parley-User"

// Server is the HTTP facade wiring the core components to JSON routes.
type Server struct {
	echo       *echo.Echo
	store      store.Store
	directory  *directory.Directory
	resolver   *resolver.Resolver
	dispatcher *dispatch.Dispatcher
	composer   *compose.Composer
	views      *view.Registry
	logger     *slog.Logger
}

// Deps bundles everything the server needs.
type Deps struct {
	Store      store.Store
	Directory  *directory.Directory
	Resolver   *resolver.Resolver
	Dispatcher *dispatch.Dispatcher
	Composer   *compose.Composer
	Views      *view.Registry
	Logger     *slog.Logger
}

// NewServer creates the facade. Pass nil logger for default.
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:       e,
		store:      deps.Store,
		directory:  deps.Directory,
		resolver:   deps.Resolver,
		dispatcher: deps.Dispatcher,
		composer:   deps.Composer,
		views:      deps.Views,
		logger:     logger.With("component", "httpapi"),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	v1 := s.echo.Group("/v1")
	v1.POST("/identities", s.signIn)
	v1.GET("/identities", s.listIdentities)
	v1.POST("/rooms", s.createRoom)
	v1.GET("/rooms/:id/summary", s.summarizeRoom)
	v1.GET("/threads/:id/draft", s.draftReply)
	v1.GET("/conversations", s.listConversations)
	v1.POST("/conversations/resolve", s.resolveThread)
	v1.POST("/conversations/:kind/:id/messages", s.sendMessage)
	v1.GET("/conversations/:kind/:id/messages", s.listMessages)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Start serves until Shutdown is called.
func (s *Server) Start(addr string) error {
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// requester extracts the caller identity from the request header.
func requester(c echo.Context) (string, error) {
	id := c.Request().Header.Get(IdentityHeader)
	if id == "" {
		return "", echo.NewHTTPError(http.StatusBadRequest, "missing "+IdentityHeader+" header")
	}
	return id, nil
}

// jsonError maps core errors onto HTTP statuses.
func (s *Server) jsonError(c echo.Context, err error) error {
	var httpErr *echo.HTTPError
	switch {
	case errors.As(err, &httpErr):
		return err
	case errors.Is(err, resolver.ErrInvalidParticipants),
		errors.Is(err, dispatch.ErrUnsupportedKind):
		return c.JSON(http.StatusBadRequest, errorBody(err))
	case errors.Is(err, store.ErrNotFound):
		return c.JSON(http.StatusNotFound, errorBody(err))
	default:
		s.logger.Error("request failed", "path", c.Path(), "error", err)
		return c.JSON(http.StatusInternalServerError, errorBody(err))
	}
}

func errorBody(err error) map[string]string {
	return map[string]string{"error": err.Error()}
}

type signInRequest struct {
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
	Email       string `json:"email"`
}

func (s *Server) signIn(c echo.Context) error {
	userID, err := requester(c)
	if err != nil {
		return err
	}
	var req signInRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	identity, err := s.directory.EnsureIdentity(c.Request().Context(), directory.Profile{
		UserID:      userID,
		DisplayName: req.DisplayName,
		AvatarURL:   req.AvatarURL,
		Email:       req.Email,
	})
	if err != nil {
		return s.jsonError(c, err)
	}
	return c.JSON(http.StatusOK, identityJSON(identity))
}

func (s *Server) listIdentities(c echo.Context) error {
	identities, err := s.directory.List(c.Request().Context())
	if err != nil {
		return s.jsonError(c, err)
	}
	out := make([]any, 0, len(identities))
	for _, identity := range identities {
		out = append(out, identityJSON(identity))
	}
	return c.JSON(http.StatusOK, out)
}

type createRoomRequest struct {
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

func (s *Server) createRoom(c echo.Context) error {
	ownerID, err := requester(c)
	if err != nil {
		return err
	}
	var req createRoomRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "room name is required")
	}

	room := &store.Room{
		ID:      uuid.NewString(),
		Name:    req.Name,
		OwnerID: ownerID,
		Members: req.Members,
	}
	if err := s.store.CreateRoom(c.Request().Context(), room); err != nil {
		return s.jsonError(c, err)
	}
	return c.JSON(http.StatusCreated, roomJSON(room))
}

func (s *Server) listConversations(c echo.Context) error {
	userID, err := requester(c)
	if err != nil {
		return err
	}
	manager := s.views.Manager(userID)
	if manager == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "shutting down")
	}
	return c.JSON(http.StatusOK, manager.Conversations())
}

type resolveRequest struct {
	Targets []string `json:"targets"`
}

func (s *Server) resolveThread(c echo.Context) error {
	userID, err := requester(c)
	if err != nil {
		return err
	}
	var req resolveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	thread, err := s.resolver.Resolve(c.Request().Context(), userID, req.Targets)
	if err != nil {
		return s.jsonError(c, err)
	}
	return c.JSON(http.StatusOK, threadJSON(thread))
}

type sendMessageRequest struct {
	Text         string   `json:"text"`
	Participants []string `json:"participants"`
}

func (s *Server) sendMessage(c echo.Context) error {
	senderID, err := requester(c)
	if err != nil {
		return err
	}
	kind, err := conversationKind(c.Param("kind"))
	if err != nil {
		return s.jsonError(c, err)
	}
	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Text == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message text is required")
	}

	ctx := c.Request().Context()
	conversationID := c.Param("id")

	participants := req.Participants
	if kind == store.ConversationKindThread && len(participants) == 0 {
		thread, err := s.store.GetThread(ctx, conversationID)
		if err != nil {
			return s.jsonError(c, err)
		}
		participants = thread.Participants
	}

	msg, err := s.dispatcher.Send(ctx, &dispatch.SendRequest{
		ConversationID: conversationID,
		Kind:           kind,
		SenderID:       senderID,
		Text:           req.Text,
		Participants:   participants,
	})
	if err != nil {
		return s.jsonError(c, err)
	}
	return c.JSON(http.StatusCreated, messageJSON(msg))
}

func (s *Server) listMessages(c echo.Context) error {
	if _, err := conversationKind(c.Param("kind")); err != nil {
		return s.jsonError(c, err)
	}
	msgs, err := s.store.ListMessages(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.jsonError(c, err)
	}
	out := make([]any, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, messageJSON(msg))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) summarizeRoom(c echo.Context) error {
	if _, err := requester(c); err != nil {
		return err
	}
	ctx := c.Request().Context()
	roomID := c.Param("id")
	if _, err := s.store.GetRoom(ctx, roomID); err != nil {
		return s.jsonError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{
		"room_id": roomID,
		"summary": s.composer.Summarize(ctx, roomID),
	})
}

func (s *Server) draftReply(c echo.Context) error {
	userID, err := requester(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	threadID := c.Param("id")
	if _, err := s.store.GetThread(ctx, threadID); err != nil {
		return s.jsonError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{
		"thread_id": threadID,
		"draft":     s.composer.DraftReply(ctx, userID, threadID),
	})
}

func conversationKind(raw string) (store.ConversationKind, error) {
	switch store.ConversationKind(raw) {
	case store.ConversationKindRoom:
		return store.ConversationKindRoom, nil
	case store.ConversationKindThread:
		return store.ConversationKindThread, nil
	default:
		return "", fmt.Errorf("%w: %q", dispatch.ErrUnsupportedKind, raw)
	}
}

func identityJSON(i *store.Identity) map[string]any {
	return map[string]any{
		"id":           i.ID,
		"display_name": i.DisplayName,
		"avatar_url":   i.AvatarURL,
		"email":        i.Email,
		"kind":         i.Kind,
		"created_at":   i.CreatedAt.Format(time.RFC3339),
	}
}

func roomJSON(r *store.Room) map[string]any {
	return map[string]any{
		"id":         r.ID,
		"name":       r.Name,
		"owner_id":   r.OwnerID,
		"members":    r.Members,
		"created_at": r.CreatedAt.Format(time.RFC3339),
	}
}

func threadJSON(t *store.Thread) map[string]any {
	return map[string]any{
		"id":           t.ID,
		"participants": t.Participants,
		"created_at":   t.CreatedAt.Format(time.RFC3339),
	}
}

func messageJSON(m *store.Message) map[string]any {
	return map[string]any{
		"id":              m.ID,
		"conversation_id": m.ConversationID,
		"kind":            m.Kind,
		"sender_id":       m.SenderID,
		"text":            m.Text,
		"timestamp":       m.Timestamp.Format(time.RFC3339Nano),
	}
}
