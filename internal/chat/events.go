package chat

import (
	"context"

	"github.com/comigor/chatbot-go/internal/store"
)

// EventKind names a streamed turn event.
type EventKind string

const (
	EventUserMessage      EventKind = "user_message"
	EventAssistantMessage EventKind = "assistant_message"
	EventDone             EventKind = "done"
	// EventError ends a turn whose messages could not be saved. No done
	// event follows it.
	EventError EventKind = "error"
)

// Event is one item pushed to the caller during a turn. Data is one of the
// payload types below and is meant to be JSON encoded.
type Event struct {
	Kind EventKind
	Data any
}

type UserMessagePayload struct {
	MessageID string            `json:"message_id"`
	Type      store.MessageType `json:"type"`
	Message   string            `json:"message"`
	Status    string            `json:"status"`
}

type AssistantMessagePayload struct {
	MessageID string `json:"message_id"`
	Delta     string `json:"delta"`
	Buffer    string `json:"buffer"`
}

type DonePayload struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

type ErrorPayload struct {
	Detail string `json:"detail"`
}

// Sink receives the events of a turn in order. A Send error means the caller
// is gone; the turn stops emitting but still saves what it has.
type Sink interface {
	Send(Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event) error

func (f SinkFunc) Send(e Event) error { return f(e) }

// BotDirectory supplies the bot description used to brief the generator.
type BotDirectory interface {
	Description(ctx context.Context, botID string) (string, error)
}

// SendRequest submits one user message.
type SendRequest struct {
	ChatID  string `json:"chat_id"`
	BotID   string `json:"bot_id"`
	Message string `json:"message"`
}

// EditRequest changes or deletes one message. Exactly one of UpdatedValue and
// IsDelete must be set.
type EditRequest struct {
	ChatID       string  `json:"chat_id"`
	BotID        string  `json:"bot_id"`
	MessageID    string  `json:"message_id"`
	UpdatedValue *string `json:"updated_value,omitempty"`
	IsDelete     bool    `json:"is_delete,omitempty"`
}

type HistoryMessage struct {
	MessageID string            `json:"message_id"`
	Type      store.MessageType `json:"type"`
	Message   string            `json:"message"`
	Versions  []string          `json:"versions"`
	IsDeleted bool              `json:"is_deleted"`
}

// ChatHistory is the caller view of a conversation.
type ChatHistory struct {
	ChatID   string           `json:"chat_id"`
	BotID    string           `json:"bot_id"`
	Messages []HistoryMessage `json:"messages"`
}

func newChatHistory(conv *store.Conversation) *ChatHistory {
	h := &ChatHistory{
		ChatID:   conv.ChatID,
		BotID:    conv.BotID,
		Messages: make([]HistoryMessage, 0, len(conv.Messages)),
	}
	for _, m := range conv.Messages {
		versions := m.Versions
		if versions == nil {
			versions = []string{}
		}
		h.Messages = append(h.Messages, HistoryMessage{
			MessageID: m.MessageID,
			Type:      m.Type,
			Message:   m.Message,
			Versions:  versions,
			IsDeleted: m.IsDeleted,
		})
	}
	return h
}
