// ABOUTME: Derived-text operations - room summaries and suggested replies
// ABOUTME: Read-only, single-attempt; failures degrade to fixed user-facing strings

package compose

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/parleychat/parley/internal/store"
)

// summaryWindow is how many recent messages a room summary considers.
const summaryWindow = 30

// User-facing fallback strings. These are results, not errors: both
// operations degrade instead of failing.
const (
	NoMessagesSentinel   = "No messages to summarize."
	SummaryErrorSentinel = "Error generating summary."
	DraftSentinel        = "Couldn't draft a reply."
)

const summaryInstruction = "Summarize the following chat conversation in a few short sentences. " +
	"Mention who said what only where it matters."

const draftInstruction = "You are drafting a reply on behalf of the user. " +
	"Write a single short sentence replying to the message. " +
	"Do not use quotation marks. Output only the reply."

// MessageReader defines what the composer needs from storage
type MessageReader interface {
	ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]*store.Message, error)
	LatestMessage(ctx context.Context, conversationID string) (*store.Message, error)
}

// NameResolver resolves sender ids to display names for rendering
type NameResolver interface {
	DisplayName(ctx context.Context, id string) string
	AssistantID() string
}

// CompletionClient defines what the composer needs from the generative service
type CompletionClient interface {
	GenerateContent(ctx context.Context, systemInstruction, prompt string) (string, error)
}

// Composer produces derived text from conversations without mutating them.
type Composer struct {
	store  MessageReader
	names  NameResolver
	client CompletionClient
	logger *slog.Logger
}

// New creates a Composer. Pass nil logger for default.
func New(s MessageReader, names NameResolver, client CompletionClient, logger *slog.Logger) *Composer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Composer{
		store:  s,
		names:  names,
		client: client,
		logger: logger.With("component", "compose"),
	}
}

// Summarize renders the room's recent messages chronologically and asks the
// service for a summary. Single attempt; an empty room short-circuits
// without an external call.
func (c *Composer) Summarize(ctx context.Context, roomID string) string {
	msgs, err := c.store.ListRecentMessages(ctx, roomID, summaryWindow)
	if err != nil {
		c.logger.Error("failed to fetch room messages", "room_id", roomID, "error", err)
		return SummaryErrorSentinel
	}
	if len(msgs) == 0 {
		return NoMessagesSentinel
	}

	// Recent-first from the store; render oldest-first
	var b strings.Builder
	for i := len(msgs) - 1; i >= 0; i-- {
		msg := msgs[i]
		fmt.Fprintf(&b, "[%s] %s: %s\n",
			msg.Timestamp.Format("15:04"),
			c.names.DisplayName(ctx, msg.SenderID),
			msg.Text)
	}

	summary, err := c.client.GenerateContent(ctx, summaryInstruction, b.String())
	if err != nil || summary == "" {
		if err != nil {
			c.logger.Warn("summary generation failed", "room_id", roomID, "error", err)
		}
		return SummaryErrorSentinel
	}
	return summary
}

// DraftReply suggests a reply to the latest message of a thread on behalf of
// requesterID. Returns the sentinel without calling the service when there
// is nothing sensible to reply to: no messages, the requester's own message,
// or an assistant message.
func (c *Composer) DraftReply(ctx context.Context, requesterID, threadID string) string {
	latest, err := c.store.LatestMessage(ctx, threadID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			c.logger.Error("failed to fetch latest message", "thread_id", threadID, "error", err)
		}
		return DraftSentinel
	}
	if latest.SenderID == requesterID || latest.SenderID == c.names.AssistantID() {
		return DraftSentinel
	}

	draft, err := c.client.GenerateContent(ctx, draftInstruction, latest.Text)
	if err != nil || strings.TrimSpace(draft) == "" {
		if err != nil {
			c.logger.Warn("draft generation failed", "thread_id", threadID, "error", err)
		}
		return DraftSentinel
	}
	return strings.TrimSpace(draft)
}
