package chat

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comigor/chatbot-go/internal/apperr"
	"github.com/comigor/chatbot-go/internal/bots"
	"github.com/comigor/chatbot-go/internal/llm"
	"github.com/comigor/chatbot-go/internal/messagelog"
	"github.com/comigor/chatbot-go/internal/store"
)

// mockGenerator replays deltas, then fails with err (or ends with io.EOF).
type mockGenerator struct {
	deltas  []string
	err     error
	openErr error

	mu     sync.Mutex
	turns  []llm.Turn
	closed bool
}

func (m *mockGenerator) Stream(ctx context.Context, turns []llm.Turn) (llm.Stream, error) {
	m.mu.Lock()
	m.turns = turns
	m.mu.Unlock()
	if m.openErr != nil {
		return nil, m.openErr
	}
	return &mockStream{gen: m}, nil
}

type mockStream struct {
	gen *mockGenerator
	pos int
}

func (s *mockStream) Recv() (string, error) {
	if s.pos < len(s.gen.deltas) {
		d := s.gen.deltas[s.pos]
		s.pos++
		return d, nil
	}
	if s.gen.err != nil {
		return "", s.gen.err
	}
	return "", io.EOF
}

func (s *mockStream) Close() error {
	s.gen.mu.Lock()
	s.gen.closed = true
	s.gen.mu.Unlock()
	return nil
}

type mockBots map[string]string

func (m mockBots) Description(_ context.Context, botID string) (string, error) {
	if d, ok := m[botID]; ok {
		return d, nil
	}
	return bots.NoDescription, nil
}

// recorder collects events; it fails every Send after failAfter events when
// failAfter > 0.
type recorder struct {
	events    []Event
	failAfter int
}

func (r *recorder) Send(e Event) error {
	if r.failAfter > 0 && len(r.events) >= r.failAfter {
		return errors.New("client went away")
	}
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) kinds() []EventKind {
	out := make([]EventKind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}

// failingPushStore rejects every append.
type failingPushStore struct {
	*store.MemoryStore
}

func (failingPushStore) PushMessages(context.Context, string, []store.Message) error {
	return errors.New("write concern failed")
}

func newTestService(t *testing.T, gen llm.Generator) (*Service, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	return NewService(messagelog.New(st), gen, mockBots{"bot": "A friendly gopher"}, Options{}), st
}

func TestProcess_FullTurn(t *testing.T) {
	gen := &mockGenerator{deltas: []string{"Hel", "lo", " there"}}
	svc, _ := newTestService(t, gen)
	rec := &recorder{}

	err := svc.Process(context.Background(), SendRequest{ChatID: "chat", BotID: "bot", Message: "hi"}, rec)
	require.NoError(t, err)

	require.Equal(t, []EventKind{
		EventUserMessage,
		EventAssistantMessage, EventAssistantMessage, EventAssistantMessage,
		EventDone,
	}, rec.kinds())

	user := rec.events[0].Data.(UserMessagePayload)
	assert.Equal(t, "hi", user.Message)
	assert.Equal(t, store.MessageTypeUser, user.Type)
	assert.Equal(t, "received", user.Status)

	var assistantID, prev string
	for _, e := range rec.events[1:4] {
		p := e.Data.(AssistantMessagePayload)
		if assistantID == "" {
			assistantID = p.MessageID
		}
		assert.Equal(t, assistantID, p.MessageID)
		assert.Equal(t, prev+p.Delta, p.Buffer, "buffer grows by exactly the delta")
		prev = p.Buffer
	}
	assert.Equal(t, "Hello there", prev)

	done := rec.events[4].Data.(DonePayload)
	assert.Equal(t, assistantID, done.MessageID)
	assert.Equal(t, "completed", done.Status)
	assert.True(t, gen.closed)

	h, err := svc.GetChatHistory(context.Background(), "chat", "bot")
	require.NoError(t, err)
	require.Len(t, h.Messages, 2)
	assert.Equal(t, user.MessageID, h.Messages[0].MessageID)
	assert.Equal(t, "hi", h.Messages[0].Message)
	assert.Equal(t, store.MessageTypeAssistant, h.Messages[1].Type)
	assert.Equal(t, assistantID, h.Messages[1].MessageID)
	assert.Equal(t, "Hello there", h.Messages[1].Message)
	assert.Equal(t, []string{"Hello there"}, h.Messages[1].Versions)
}

func TestProcess_WithEchoGenerator(t *testing.T) {
	svc, _ := newTestService(t, llm.EchoGenerator{})
	rec := &recorder{}

	require.NoError(t, svc.Process(context.Background(), SendRequest{ChatID: "c", BotID: "bot", Message: "hi"}, rec))

	// user_message, one fragment per character of "Echo: hi", done
	require.Len(t, rec.events, 1+len("Echo: hi")+1)
	last := rec.events[len(rec.events)-2].Data.(AssistantMessagePayload)
	assert.Equal(t, "Echo: hi", last.Buffer)
}

func TestProcess_PromptIncludesPreambleAndVisibleHistory(t *testing.T) {
	gen := &mockGenerator{deltas: []string{"ok"}}
	svc, _ := newTestService(t, gen)
	ctx := context.Background()

	require.NoError(t, svc.Process(ctx, SendRequest{ChatID: "c", BotID: "bot", Message: "first"}, &recorder{}))
	h, err := svc.GetChatHistory(ctx, "c", "bot")
	require.NoError(t, err)
	_, err = svc.EditMessage(ctx, EditRequest{ChatID: "c", BotID: "bot", MessageID: h.Messages[0].MessageID, IsDelete: true})
	require.NoError(t, err)

	require.NoError(t, svc.Process(ctx, SendRequest{ChatID: "c", BotID: "bot", Message: "second"}, &recorder{}))

	require.Len(t, gen.turns, 4)
	assert.Equal(t, llm.RoleSystem, gen.turns[0].Role)
	assert.Contains(t, gen.turns[0].Content, "Bot Description: \nA friendly gopher")
	assert.NotContains(t, gen.turns[0].Content, "{bot_description}")
	assert.Equal(t, llm.Turn{Role: llm.RoleUser, Content: messagelog.DeletedPlaceholder}, gen.turns[1])
	assert.Equal(t, llm.Turn{Role: llm.RoleAssistant, Content: "ok"}, gen.turns[2])
	assert.Equal(t, llm.Turn{Role: llm.RoleUser, Content: "second"}, gen.turns[3])
}

func TestProcess_UnknownBotGetsPlaceholderDescription(t *testing.T) {
	gen := &mockGenerator{}
	svc, _ := newTestService(t, gen)

	require.NoError(t, svc.Process(context.Background(), SendRequest{ChatID: "c", BotID: "ghost", Message: "hi"}, &recorder{}))
	assert.True(t, strings.HasSuffix(gen.turns[0].Content, bots.NoDescription))
}

func TestProcess_ImmediateGeneratorFailure(t *testing.T) {
	for name, gen := range map[string]*mockGenerator{
		"open fails":       {openErr: errors.New("upstream 503")},
		"first recv fails": {err: errors.New("connection reset")},
	} {
		t.Run(name, func(t *testing.T) {
			svc, _ := newTestService(t, gen)
			rec := &recorder{}

			require.NoError(t, svc.Process(context.Background(), SendRequest{ChatID: "c", BotID: "bot", Message: "hi"}, rec))
			require.Equal(t, []EventKind{EventUserMessage, EventAssistantMessage, EventDone}, rec.kinds())

			notice := rec.events[1].Data.(AssistantMessagePayload)
			assert.Equal(t, FailureNotice, notice.Delta)
			assert.Equal(t, FailureNotice, notice.Buffer)

			h, err := svc.GetChatHistory(context.Background(), "c", "bot")
			require.NoError(t, err)
			require.Len(t, h.Messages, 2)
			assert.Equal(t, FailureNotice, h.Messages[1].Message)
		})
	}
}

func TestProcess_MidStreamFailureIsAbsorbed(t *testing.T) {
	gen := &mockGenerator{deltas: []string{"Par", "tial"}, err: errors.New("stream broke")}
	svc, _ := newTestService(t, gen)
	rec := &recorder{}

	require.NoError(t, svc.Process(context.Background(), SendRequest{ChatID: "c", BotID: "bot", Message: "hi"}, rec))
	require.Equal(t, []EventKind{
		EventUserMessage, EventAssistantMessage, EventAssistantMessage, EventAssistantMessage, EventDone,
	}, rec.kinds())

	last := rec.events[3].Data.(AssistantMessagePayload)
	assert.Equal(t, FailureNotice, last.Delta)
	assert.Equal(t, "Partial"+FailureNotice, last.Buffer)

	h, err := svc.GetChatHistory(context.Background(), "c", "bot")
	require.NoError(t, err)
	assert.Equal(t, "Partial"+FailureNotice, h.Messages[1].Message)
}

func TestProcess_DisconnectStillPersistsPartialReply(t *testing.T) {
	gen := &mockGenerator{deltas: []string{"a", "b", "c", "d"}}
	svc, _ := newTestService(t, gen)
	// user_message and two fragments get through, then the caller is gone
	rec := &recorder{failAfter: 3}

	require.NoError(t, svc.Process(context.Background(), SendRequest{ChatID: "c", BotID: "bot", Message: "hi"}, rec))
	assert.Equal(t, []EventKind{EventUserMessage, EventAssistantMessage, EventAssistantMessage}, rec.kinds())
	assert.True(t, gen.closed)

	h, err := svc.GetChatHistory(context.Background(), "c", "bot")
	require.NoError(t, err)
	require.Len(t, h.Messages, 2)
	assert.Equal(t, "abc", h.Messages[1].Message, "the fragment whose send failed is still kept")
}

func TestProcess_CancelledContextStillPersists(t *testing.T) {
	gen := &mockGenerator{deltas: []string{"a", "b"}}
	svc, _ := newTestService(t, gen)

	ctx, cancel := context.WithCancel(context.Background())
	sink := SinkFunc(func(e Event) error {
		if e.Kind == EventAssistantMessage {
			cancel()
		}
		return nil
	})

	require.NoError(t, svc.Process(ctx, SendRequest{ChatID: "c", BotID: "bot", Message: "hi"}, sink))

	h, err := svc.GetChatHistory(context.Background(), "c", "bot")
	require.NoError(t, err)
	require.Len(t, h.Messages, 2)
	assert.Equal(t, "a", h.Messages[1].Message)
}

func TestProcess_PersistFailureIsInternal(t *testing.T) {
	st := failingPushStore{store.NewMemoryStore()}
	svc := NewService(messagelog.New(st), &mockGenerator{deltas: []string{"x"}}, mockBots{}, Options{})
	rec := &recorder{}

	err := svc.Process(context.Background(), SendRequest{ChatID: "c", BotID: "bot", Message: "hi"}, rec)
	require.ErrorIs(t, err, apperr.ErrInternal)
	assert.Equal(t, "Failed to save messages", apperr.Message(err))

	require.Equal(t, []EventKind{EventUserMessage, EventAssistantMessage, EventError}, rec.kinds())
	assert.Equal(t, "Failed to save messages", rec.events[2].Data.(ErrorPayload).Detail)
}

func TestProcess_ChatOwnedByAnotherBot(t *testing.T) {
	svc, _ := newTestService(t, &mockGenerator{})
	ctx := context.Background()
	require.NoError(t, svc.Process(ctx, SendRequest{ChatID: "c", BotID: "bot", Message: "hi"}, &recorder{}))

	rec := &recorder{}
	err := svc.Process(ctx, SendRequest{ChatID: "c", BotID: "other", Message: "hi"}, rec)
	require.ErrorIs(t, err, apperr.ErrConflict)
	assert.Empty(t, rec.events)
}

func TestProcess_RequiresIDs(t *testing.T) {
	svc, _ := newTestService(t, &mockGenerator{})
	err := svc.Process(context.Background(), SendRequest{BotID: "bot", Message: "hi"}, &recorder{})
	require.ErrorIs(t, err, apperr.ErrBadRequest)
}

func TestProcess_ConcurrentTurnsOnFreshChat(t *testing.T) {
	svc, _ := newTestService(t, llm.EchoGenerator{})
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = svc.Process(ctx, SendRequest{ChatID: "race", BotID: "bot", Message: "hi"}, &recorder{})
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	h, err := svc.GetChatHistory(ctx, "race", "bot")
	require.NoError(t, err)
	require.Len(t, h.Messages, 16)
	for i := 0; i < len(h.Messages); i += 2 {
		assert.Equal(t, store.MessageTypeUser, h.Messages[i].Type)
		assert.Equal(t, store.MessageTypeAssistant, h.Messages[i+1].Type)
	}
}
