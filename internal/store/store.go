// Package store persists conversations and bot profiles.
//
// A conversation is a single document: (chat_id, bot_id) plus an ordered list
// of messages. Backends only offer single-document atomic primitives (create,
// push messages, set one message's content while appending a version, flag one
// message as deleted). Rules about what may be pushed live in messagelog.
package store

import (
	"context"
	"errors"
	"slices"
	"time"
)

var (
	// ErrNotFound is returned when a conversation, message or bot does not exist
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a unique key (chat_id, message_id) is already taken
	ErrConflict = errors.New("already exists")
	// ErrInvalidID is returned when an identifier is malformed for the backend
	ErrInvalidID = errors.New("invalid identifier")
)

// MessageType is the author role of a message
type MessageType string

const (
	MessageTypeUser      MessageType = "user"
	MessageTypeAssistant MessageType = "assistant"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	return t == MessageTypeUser || t == MessageTypeAssistant
}

// Message is one entry of a conversation log.
type Message struct {
	MessageID string      `bson:"message_id" json:"message_id"`
	Type      MessageType `bson:"type" json:"type"`
	Message   string      `bson:"message" json:"message"`
	Versions  []string    `bson:"versions" json:"versions"`
	IsDeleted bool        `bson:"is_deleted" json:"is_deleted"`
	CreatedAt time.Time   `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time   `bson:"updated_at" json:"updated_at"`
}

// Conversation is the ordered message log of one chat.
type Conversation struct {
	ChatID    string    `bson:"chat_id" json:"chat_id"`
	BotID     string    `bson:"bot_id" json:"bot_id"`
	Messages  []Message `bson:"messages" json:"messages"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// Clone returns a deep copy of c.
func (c *Conversation) Clone() *Conversation {
	out := *c
	out.Messages = make([]Message, len(c.Messages))
	for i, m := range c.Messages {
		m.Versions = slices.Clone(m.Versions)
		out.Messages[i] = m
	}
	return &out
}

// IndexOf returns the position of messageID in the log, or -1.
func (c *Conversation) IndexOf(messageID string) int {
	return slices.IndexFunc(c.Messages, func(m Message) bool { return m.MessageID == messageID })
}

// StarterMessage is the greeting a bot shows before the first turn.
type StarterMessage struct {
	Message     string   `bson:"message" json:"message"`
	ActionItems []string `bson:"action_items" json:"action_items"`
}

// Bot is a bot profile.
type Bot struct {
	ID                   string         `bson:"-" json:"id"`
	Headline             string         `bson:"headline" json:"headline"`
	StarterMessage       StarterMessage `bson:"starter_message" json:"starter_message"`
	SecondaryDescription *string        `bson:"secondary_description,omitempty" json:"secondary_description,omitempty"`
	Logo                 *string        `bson:"logo,omitempty" json:"logo,omitempty"`
	AdminPasswordHash    string         `bson:"admin_password" json:"-"`
	CreatedAt            time.Time      `bson:"created_at" json:"created_at"`
	UpdatedAt            time.Time      `bson:"updated_at" json:"updated_at"`
}

// BotUpdate is a partial bot update; nil fields are left unchanged.
type BotUpdate struct {
	Headline             *string
	StarterMessage       *StarterMessage
	SecondaryDescription *string
	Logo                 *string
}

// Apply copies the set fields of u onto b.
func (u BotUpdate) Apply(b *Bot) {
	if u.Headline != nil {
		b.Headline = *u.Headline
	}
	if u.StarterMessage != nil {
		b.StarterMessage = *u.StarterMessage
	}
	if u.SecondaryDescription != nil {
		b.SecondaryDescription = u.SecondaryDescription
	}
	if u.Logo != nil {
		b.Logo = u.Logo
	}
}

// ConversationStore is the document-level persistence contract for conversations.
type ConversationStore interface {
	// GetConversation looks a conversation up by chat_id alone.
	GetConversation(ctx context.Context, chatID string) (*Conversation, error)
	// GetConversationForBot only matches when both chat_id and bot_id agree.
	GetConversationForBot(ctx context.Context, chatID, botID string) (*Conversation, error)
	// CreateConversation inserts a new conversation; ErrConflict if chat_id exists.
	CreateConversation(ctx context.Context, conv *Conversation) error
	// PushMessages appends msgs in order in one write. ErrNotFound when the
	// conversation is missing, ErrConflict when a message_id is already present.
	PushMessages(ctx context.Context, chatID string, msgs []Message) error
	// SetMessageContent sets the current text of one message and appends it to
	// its versions.
	SetMessageContent(ctx context.Context, chatID, messageID, content string, at time.Time) error
	// MarkMessageDeleted sets the deleted flag of one message.
	MarkMessageDeleted(ctx context.Context, chatID, messageID string, at time.Time) error
}

// BotStore persists bot profiles.
type BotStore interface {
	// CreateBot inserts bot and assigns bot.ID.
	CreateBot(ctx context.Context, bot *Bot) error
	GetBot(ctx context.Context, id string) (*Bot, error)
	ListBots(ctx context.Context) ([]*Bot, error)
	UpdateBot(ctx context.Context, id string, upd BotUpdate, at time.Time) (*Bot, error)
	DeleteBot(ctx context.Context, id string) error
}

// Store is a complete persistence backend.
type Store interface {
	ConversationStore
	BotStore
	// Close releases any resources held by the store
	Close() error
}
