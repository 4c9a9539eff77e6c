// ABOUTME: Assistant orchestrator - turns thread messages into generated replies
// ABOUTME: Best-effort with 429 backoff; failures abandon silently, never surface to conversations

package assistant

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/parleychat/parley/internal/gemini"
	"github.com/parleychat/parley/internal/store"
)

// fallbackReply is written when the service answered but the response shape
// carried no text.
const fallbackReply = "I couldn't generate a response."

// MessageStore defines what the orchestrator needs from storage
type MessageStore interface {
	AppendMessage(ctx context.Context, msg *store.Message) error
}

// AssistantDirectory resolves the assistant identity the reply is
// attributed to.
type AssistantDirectory interface {
	EnsureAssistant(ctx context.Context) (*store.Identity, error)
}

// CompletionClient defines what the orchestrator needs from the generative
// service.
type CompletionClient interface {
	GenerateContent(ctx context.Context, systemInstruction, prompt string) (string, error)
}

// Orchestrator produces assistant replies in direct threads. It is the only
// component that writes messages attributed to the assistant identity.
type Orchestrator struct {
	store     MessageStore
	directory AssistantDirectory
	client    CompletionClient
	persona   string
	logger    *slog.Logger

	// sleep is swapped out in tests to record delays instead of waiting.
	sleep func(time.Duration)
}

// New creates an Orchestrator. Pass nil logger for default.
func New(s MessageStore, d AssistantDirectory, client CompletionClient, persona string, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:     s,
		directory: d,
		client:    client,
		persona:   persona,
		logger:    logger.With("component", "assistant"),
		sleep:     time.Sleep,
	}
}

// Respond generates a reply to promptText and appends it to the thread.
// Best-effort: every failure path is logged and swallowed, the conversation
// never sees an error message. Rate-limited attempts back off and retry up
// to maxAttempts; any other failure aborts immediately.
func (o *Orchestrator) Respond(ctx context.Context, threadID, promptText string) {
	assistant, err := o.directory.EnsureAssistant(ctx)
	if err != nil {
		o.logger.Error("assistant identity unavailable", "thread_id", threadID, "error", err)
		return
	}

	text, ok := o.generate(ctx, threadID, promptText)
	if !ok {
		return
	}
	if text == "" {
		text = fallbackReply
	}

	msg := &store.Message{
		ConversationID: threadID,
		Kind:           store.ConversationKindThread,
		SenderID:       assistant.ID,
		Text:           text,
	}
	if err := o.store.AppendMessage(ctx, msg); err != nil {
		o.logger.Error("failed to write assistant reply", "thread_id", threadID, "error", err)
		return
	}

	o.logger.Debug("assistant reply written",
		"thread_id", threadID,
		"message_id", msg.ID)
}

// generate runs the completion call under the retry policy. The bool result
// reports whether a completion was obtained at all.
func (o *Orchestrator) generate(ctx context.Context, threadID, promptText string) (string, bool) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		text, err := o.client.GenerateContent(ctx, o.persona, promptText)
		if err == nil {
			return text, true
		}

		if !errors.Is(err, gemini.ErrRateLimited) {
			o.logger.Warn("completion failed, abandoning",
				"thread_id", threadID,
				"attempt", attempt+1,
				"error", err)
			return "", false
		}
		if attempt == maxAttempts-1 {
			break
		}

		delay := NextDelay(attempt)
		o.logger.Debug("rate limited, backing off",
			"thread_id", threadID,
			"attempt", attempt+1,
			"delay", delay)
		o.sleep(delay)
	}

	o.logger.Warn("rate limited on every attempt, abandoning",
		"thread_id", threadID,
		"attempts", maxAttempts)
	return "", false
}
