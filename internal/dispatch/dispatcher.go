// ABOUTME: Message dispatcher - persists outgoing messages and triggers assistant replies
// ABOUTME: The trigger is fire-and-forget, scheduled strictly after the message write lands

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/parleychat/parley/internal/store"
)

// ErrUnsupportedKind is returned for any conversation kind other than
// room or thread. A contract error, never retried.
var ErrUnsupportedKind = errors.New("unsupported conversation kind")

// respondTimeout bounds a detached assistant invocation. The caller's
// context does not apply: an in-flight reply outlives conversation switches.
const respondTimeout = 2 * time.Minute

// MessageStore defines what the dispatcher needs from storage
type MessageStore interface {
	AppendMessage(ctx context.Context, msg *store.Message) error
}

// Responder defines what the dispatcher needs from the assistant layer
type Responder interface {
	Respond(ctx context.Context, threadID, promptText string)
}

// SendRequest carries everything needed to dispatch a message
type SendRequest struct {
	ConversationID string
	Kind           store.ConversationKind
	SenderID       string
	Text           string

	// Participants of the conversation, used for the assistant trigger
	// check. Never mutated after conversation creation.
	Participants []string
}

// Dispatcher writes outgoing messages and schedules assistant replies for
// direct threads with the assistant.
type Dispatcher struct {
	store       MessageStore
	responder   Responder
	assistantID string
	logger      *slog.Logger

	// background wraps the goroutine spawn; tests swap it to run inline.
	background func(func())
}

// New creates a Dispatcher. Pass nil logger for default.
func New(s MessageStore, responder Responder, assistantID string, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:       s,
		responder:   responder,
		assistantID: assistantID,
		logger:      logger.With("component", "dispatch"),
		background:  func(fn func()) { go fn() },
	}
}

// Send persists the message and returns once the write is durable. If the
// conversation is a two-party thread with the assistant, the assistant's
// reply is scheduled after the write completes; its outcome never affects
// the caller, and its failure never rolls back the message.
func (d *Dispatcher) Send(ctx context.Context, req *SendRequest) (*store.Message, error) {
	if req.Kind != store.ConversationKindRoom && req.Kind != store.ConversationKindThread {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKind, req.Kind)
	}

	msg := &store.Message{
		ConversationID: req.ConversationID,
		Kind:           req.Kind,
		SenderID:       req.SenderID,
		Text:           req.Text,
	}
	if err := d.store.AppendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("writing message: %w", err)
	}

	d.logger.Debug("message dispatched",
		"conversation_id", req.ConversationID,
		"kind", req.Kind,
		"message_id", msg.ID)

	if d.shouldTriggerAssistant(req) {
		threadID, text := req.ConversationID, req.Text
		d.background(func() {
			// Detached context: the reply must survive the caller moving on.
			respondCtx, cancel := context.WithTimeout(context.Background(), respondTimeout)
			defer cancel()
			d.responder.Respond(respondCtx, threadID, text)
		})
	}

	return msg, nil
}

// shouldTriggerAssistant reports whether the message addresses the assistant:
// a direct two-party thread with the assistant as the other side. The sender
// being the assistant itself never triggers (no self-reply loops).
func (d *Dispatcher) shouldTriggerAssistant(req *SendRequest) bool {
	if req.Kind != store.ConversationKindThread {
		return false
	}
	if len(req.Participants) != 2 {
		return false
	}
	if req.SenderID == d.assistantID {
		return false
	}
	for _, p := range req.Participants {
		if p == d.assistantID {
			return true
		}
	}
	return false
}
