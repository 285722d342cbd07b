package store

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps everything in process memory. Each method holds the lock
// for exactly one document operation, which mirrors the atomicity the
// persistent backends give.
type MemoryStore struct {
	mu            sync.Mutex
	conversations map[string]*Conversation
	bots          map[string]*Bot
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*Conversation),
		bots:          make(map[string]*Bot),
	}
}

func (s *MemoryStore) GetConversation(_ context.Context, chatID string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[chatID]
	if !ok {
		return nil, ErrNotFound
	}
	return conv.Clone(), nil
}

func (s *MemoryStore) GetConversationForBot(_ context.Context, chatID, botID string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[chatID]
	if !ok || conv.BotID != botID {
		return nil, ErrNotFound
	}
	return conv.Clone(), nil
}

func (s *MemoryStore) CreateConversation(_ context.Context, conv *Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[conv.ChatID]; ok {
		return ErrConflict
	}
	s.conversations[conv.ChatID] = conv.Clone()
	return nil
}

func (s *MemoryStore) PushMessages(_ context.Context, chatID string, msgs []Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[chatID]
	if !ok {
		return ErrNotFound
	}
	for _, m := range msgs {
		if conv.IndexOf(m.MessageID) >= 0 {
			return ErrConflict
		}
	}
	for _, m := range msgs {
		m.Versions = slices.Clone(m.Versions)
		conv.Messages = append(conv.Messages, m)
	}
	conv.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) SetMessageContent(_ context.Context, chatID, messageID, content string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, err := s.findMessage(chatID, messageID)
	if err != nil {
		return err
	}
	msg.Message = content
	msg.Versions = append(msg.Versions, content)
	msg.UpdatedAt = at
	return nil
}

func (s *MemoryStore) MarkMessageDeleted(_ context.Context, chatID, messageID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, err := s.findMessage(chatID, messageID)
	if err != nil {
		return err
	}
	if !msg.IsDeleted {
		msg.IsDeleted = true
		msg.UpdatedAt = at
	}
	return nil
}

// findMessage must be called with s.mu held.
func (s *MemoryStore) findMessage(chatID, messageID string) (*Message, error) {
	conv, ok := s.conversations[chatID]
	if !ok {
		return nil, ErrNotFound
	}
	i := conv.IndexOf(messageID)
	if i < 0 {
		return nil, ErrNotFound
	}
	return &conv.Messages[i], nil
}

func (s *MemoryStore) CreateBot(_ context.Context, bot *Bot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bot.ID = uuid.New().String()
	s.bots[bot.ID] = cloneBot(bot)
	return nil
}

func (s *MemoryStore) GetBot(_ context.Context, id string) (*Bot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bot, ok := s.bots[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneBot(bot), nil
}

func (s *MemoryStore) ListBots(_ context.Context) ([]*Bot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Bot, 0, len(s.bots))
	for _, b := range s.bots {
		out = append(out, cloneBot(b))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) UpdateBot(_ context.Context, id string, upd BotUpdate, at time.Time) (*Bot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bot, ok := s.bots[id]
	if !ok {
		return nil, ErrNotFound
	}
	upd.Apply(bot)
	bot.UpdatedAt = at
	return cloneBot(bot), nil
}

func (s *MemoryStore) DeleteBot(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.bots[id]; !ok {
		return ErrNotFound
	}
	delete(s.bots, id)
	return nil
}

func cloneBot(b *Bot) *Bot {
	cp := *b
	cp.StarterMessage.ActionItems = slices.Clone(b.StarterMessage.ActionItems)
	if b.SecondaryDescription != nil {
		d := *b.SecondaryDescription
		cp.SecondaryDescription = &d
	}
	if b.Logo != nil {
		l := *b.Logo
		cp.Logo = &l
	}
	return &cp
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
