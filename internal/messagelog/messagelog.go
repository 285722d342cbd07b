// Package messagelog owns the rules of a conversation's message log: messages
// are only ever appended, edits add a version instead of overwriting history,
// and deletion is a flag.
package messagelog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/comigor/chatbot-go/internal/logger"
	"github.com/comigor/chatbot-go/internal/store"
)

// DeletedPlaceholder replaces the content of soft-deleted messages wherever
// the log is fed back into generation.
const DeletedPlaceholder = "This message was deleted"

// ErrInvalidMessage is returned by AppendMessages for a batch that breaks the
// log rules (missing id, unknown type, repeated id).
var ErrInvalidMessage = errors.New("invalid message")

// Engine applies log operations on top of a ConversationStore.
type Engine struct {
	store  store.ConversationStore
	now    func() time.Time
	logger *slog.Logger
}

// New creates an Engine backed by s.
func New(s store.ConversationStore) *Engine {
	return &Engine{
		store:  s,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.For(nil, "messagelog"),
	}
}

// NewMessage builds a message with a fresh UUIDv4 id and versions seeded with
// the initial content.
func NewMessage(typ store.MessageType, content string) store.Message {
	now := time.Now().UTC()
	return store.Message{
		MessageID: uuid.NewString(),
		Type:      typ,
		Message:   content,
		Versions:  []string{content},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// VisibleContent is the text of m as generation should see it.
func VisibleContent(m store.Message) string {
	if m.IsDeleted {
		return DeletedPlaceholder
	}
	return m.Message
}

// GetConversation returns the conversation with chatID regardless of bot.
func (e *Engine) GetConversation(ctx context.Context, chatID string) (*store.Conversation, error) {
	return e.store.GetConversation(ctx, chatID)
}

// GetHistory returns the conversation only if it belongs to botID.
func (e *Engine) GetHistory(ctx context.Context, chatID, botID string) (*store.Conversation, error) {
	return e.store.GetConversationForBot(ctx, chatID, botID)
}

// CreateConversation starts an empty log. store.ErrConflict if chatID is taken.
func (e *Engine) CreateConversation(ctx context.Context, chatID, botID string) (*store.Conversation, error) {
	now := e.now()
	conv := &store.Conversation{
		ChatID:    chatID,
		BotID:     botID,
		Messages:  []store.Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.CreateConversation(ctx, conv); err != nil {
		return nil, err
	}
	e.logger.Debug("conversation started", "chat_id", chatID, "bot_id", botID)
	return conv, nil
}

// AppendMessages appends msgs to the end of the log, in order, as one write.
func (e *Engine) AppendMessages(ctx context.Context, chatID string, msgs ...store.Message) error {
	if len(msgs) == 0 {
		return fmt.Errorf("%w: nothing to append", ErrInvalidMessage)
	}

	now := e.now()
	seen := make(map[string]struct{}, len(msgs))
	batch := make([]store.Message, len(msgs))
	for i, m := range msgs {
		if m.MessageID == "" {
			return fmt.Errorf("%w: empty message_id", ErrInvalidMessage)
		}
		if !m.Type.Valid() {
			return fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, m.Type)
		}
		if _, dup := seen[m.MessageID]; dup {
			return fmt.Errorf("%w: repeated message_id %s", ErrInvalidMessage, m.MessageID)
		}
		seen[m.MessageID] = struct{}{}

		if len(m.Versions) == 0 {
			m.Versions = []string{m.Message}
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		if m.UpdatedAt.IsZero() {
			m.UpdatedAt = m.CreatedAt
		}
		batch[i] = m
	}

	if err := e.store.PushMessages(ctx, chatID, batch); err != nil {
		return err
	}
	e.logger.Debug("messages appended", "chat_id", chatID, "count", len(batch))
	return nil
}

// UpdateMessageContent replaces the current text of a message and records it
// as a new version.
func (e *Engine) UpdateMessageContent(ctx context.Context, chatID, messageID, text string) error {
	if err := e.store.SetMessageContent(ctx, chatID, messageID, text, e.now()); err != nil {
		return err
	}
	e.logger.Debug("message edited", "chat_id", chatID, "message_id", messageID)
	return nil
}

// SoftDeleteMessage flags a message as deleted. Deleting twice is not an error.
func (e *Engine) SoftDeleteMessage(ctx context.Context, chatID, messageID string) error {
	if err := e.store.MarkMessageDeleted(ctx, chatID, messageID, e.now()); err != nil {
		return err
	}
	e.logger.Debug("message deleted", "chat_id", chatID, "message_id", messageID)
	return nil
}
