// Package chat runs streamed chat turns and serves the history and edit
// operations over a conversation log.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/qmuntal/stateless"

	"github.com/comigor/chatbot-go/internal/apperr"
	"github.com/comigor/chatbot-go/internal/bots"
	"github.com/comigor/chatbot-go/internal/llm"
	"github.com/comigor/chatbot-go/internal/logger"
	"github.com/comigor/chatbot-go/internal/messagelog"
	"github.com/comigor/chatbot-go/internal/store"
)

// DefaultSystemPrompt briefs the generator. {bot_description} is replaced by
// the bot's description.
const DefaultSystemPrompt = "You are a helpful AI assistant. Provide clear, accurate, and engaging responses. " +
	"Based on the user's message and description of the bot, provide a response that is relevant to the user's message and the bot's description. " +
	"Try to reply in 50-60 words or less, unless required to reply in more words.\n" +
	"Bot Description: \n{bot_description}"

// FailureNotice is appended to a reply whose generation broke off.
const FailureNotice = "Sorry, I couldn't generate a response. Please try again."

const (
	statusReceived  = "received"
	statusCompleted = "completed"

	defaultPersistTimeout = 5 * time.Second
)

// Turn states
const (
	StateCreated       = "Created"
	StateUserPersisted = "UserPersisted"
	StateGenerating    = "Generating"
	StateFailed        = "Failed"
	StateCompleted     = "Completed"
	StateAborted       = "Aborted" // messages could not be saved
)

// Turn triggers
const (
	triggerAcknowledge      = "Acknowledge"
	triggerGenerate         = "Generate"
	triggerGenerationFailed = "GenerationFailed"
	triggerFinish           = "Finish"
	triggerAbort            = "Abort"
)

// Options tunes a Service.
type Options struct {
	// SystemPrompt overrides DefaultSystemPrompt.
	SystemPrompt string
	// FragmentDelay paces assistant_message events.
	FragmentDelay time.Duration
	// PersistTimeout bounds the final save, which runs even after the caller
	// has gone away.
	PersistTimeout time.Duration
}

// Service is the chat controller.
type Service struct {
	log    *messagelog.Engine
	gen    llm.Generator
	bots   BotDirectory
	opts   Options
	logger *slog.Logger
}

func NewService(log *messagelog.Engine, gen llm.Generator, bots BotDirectory, opts Options) *Service {
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = DefaultSystemPrompt
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = defaultPersistTimeout
	}
	return &Service{
		log:    log,
		gen:    gen,
		bots:   bots,
		opts:   opts,
		logger: logger.For(nil, "chat"),
	}
}

// turn carries the state of one Process call across FSM actions.
type turn struct {
	svc          *Service
	sink         Sink
	req          SendRequest
	userMsg      store.Message
	assistantMsg store.Message
	prompt       []llm.Turn
	buffer       strings.Builder
	deltas       int
	genErr       error
	persistErr   error
	disconnected bool
	logger       *slog.Logger
}

// send forwards e unless the caller has already gone.
func (t *turn) send(e Event) {
	if t.disconnected {
		return
	}
	if err := t.sink.Send(e); err != nil {
		t.logger.Info("caller disconnected", "event", e.Kind, "error", err)
		t.disconnected = true
	}
}

func (t *turn) assistantDelta(delta string) {
	t.send(Event{Kind: EventAssistantMessage, Data: AssistantMessagePayload{
		MessageID: t.assistantMsg.MessageID,
		Delta:     delta,
		Buffer:    t.buffer.String(),
	}})
}

// Process runs one chat turn and pushes its events to sink. The returned
// error is nil for every turn whose messages were saved, including turns whose
// generation failed or whose caller disconnected.
func (s *Service) Process(ctx context.Context, req SendRequest, sink Sink) error {
	if req.ChatID == "" || req.BotID == "" {
		return apperr.BadRequest("chat_id and bot_id are required")
	}

	t := &turn{
		svc:          s,
		sink:         sink,
		req:          req,
		userMsg:      messagelog.NewMessage(store.MessageTypeUser, req.Message),
		assistantMsg: messagelog.NewMessage(store.MessageTypeAssistant, ""),
		logger:       s.logger.With("chat_id", req.ChatID, "bot_id", req.BotID),
	}

	conv, err := s.loadOrCreate(ctx, req.ChatID, req.BotID)
	if err != nil {
		return err
	}
	t.prompt = s.buildPrompt(ctx, conv, req)

	fsm := stateless.NewStateMachine(StateCreated)

	fsm.Configure(StateCreated).
		Permit(triggerAcknowledge, StateUserPersisted)

	fsm.Configure(StateUserPersisted).
		OnEntry(func(ctx context.Context, _ ...any) error {
			t.send(Event{Kind: EventUserMessage, Data: UserMessagePayload{
				MessageID: t.userMsg.MessageID,
				Type:      store.MessageTypeUser,
				Message:   req.Message,
				Status:    statusReceived,
			}})
			return nil
		}).
		Permit(triggerGenerate, StateGenerating)

	fsm.Configure(StateGenerating).
		OnEntry(func(ctx context.Context, _ ...any) error {
			t.generate(ctx)
			return nil
		}).
		Permit(triggerGenerationFailed, StateFailed).
		Permit(triggerFinish, StateCompleted).
		Permit(triggerAbort, StateAborted)

	fsm.Configure(StateFailed).
		OnEntry(func(ctx context.Context, _ ...any) error {
			t.logger.Warn("generation failed; appending notice", "error", t.genErr, "deltas", t.deltas)
			t.buffer.WriteString(FailureNotice)
			t.assistantDelta(FailureNotice)
			return nil
		}).
		Permit(triggerFinish, StateCompleted).
		Permit(triggerAbort, StateAborted)

	fsm.Configure(StateCompleted).
		OnEntry(func(ctx context.Context, _ ...any) error {
			t.send(Event{Kind: EventDone, Data: DonePayload{
				MessageID: t.assistantMsg.MessageID,
				Status:    statusCompleted,
			}})
			return nil
		})

	fsm.Configure(StateAborted).
		OnEntry(func(ctx context.Context, _ ...any) error {
			t.send(Event{Kind: EventError, Data: ErrorPayload{Detail: apperr.Message(t.persistErr)}})
			return nil
		})

	if err := fsm.FireCtx(ctx, triggerAcknowledge); err != nil {
		return fmt.Errorf("acknowledging message: %w", err)
	}
	if err := fsm.FireCtx(ctx, triggerGenerate); err != nil {
		return fmt.Errorf("generating reply: %w", err)
	}
	if t.genErr != nil {
		if err := fsm.FireCtx(ctx, triggerGenerationFailed); err != nil {
			return fmt.Errorf("absorbing generation failure: %w", err)
		}
	}

	if t.persistErr = t.persist(ctx); t.persistErr != nil {
		if err := fsm.FireCtx(ctx, triggerAbort); err != nil {
			t.logger.Warn("FSM fire error", "error", err)
		}
		return t.persistErr
	}
	if err := fsm.FireCtx(ctx, triggerFinish); err != nil {
		return fmt.Errorf("finishing turn: %w", err)
	}

	t.logger.Info("turn completed",
		"state", fsm.MustState(),
		"deltas", t.deltas,
		"failed", t.genErr != nil,
		"disconnected", t.disconnected)
	return nil
}

// loadOrCreate returns the conversation for chatID, creating it for botID on
// first use. A concurrent creator winning the race is not an error.
func (s *Service) loadOrCreate(ctx context.Context, chatID, botID string) (*store.Conversation, error) {
	conv, err := s.log.GetConversation(ctx, chatID)
	if errors.Is(err, store.ErrNotFound) {
		conv, err = s.log.CreateConversation(ctx, chatID, botID)
		if errors.Is(err, store.ErrConflict) {
			conv, err = s.log.GetConversation(ctx, chatID)
		}
	}
	if err != nil {
		return nil, apperr.Internal("Failed to load conversation", err)
	}
	if conv.BotID != botID {
		return nil, apperr.Conflict("Chat belongs to a different bot")
	}
	return conv, nil
}

// buildPrompt lays out the preamble, the prior log and the new message.
func (s *Service) buildPrompt(ctx context.Context, conv *store.Conversation, req SendRequest) []llm.Turn {
	desc, err := s.bots.Description(ctx, req.BotID)
	if err != nil {
		s.logger.Warn("bot description unavailable", "bot_id", req.BotID, "error", err)
		desc = bots.NoDescription
	}

	turns := make([]llm.Turn, 0, len(conv.Messages)+2)
	turns = append(turns, llm.Turn{
		Role:    llm.RoleSystem,
		Content: strings.ReplaceAll(s.opts.SystemPrompt, "{bot_description}", desc),
	})
	for _, m := range conv.Messages {
		role := llm.RoleUser
		if m.Type == store.MessageTypeAssistant {
			role = llm.RoleAssistant
		}
		turns = append(turns, llm.Turn{Role: role, Content: messagelog.VisibleContent(m)})
	}
	return append(turns, llm.Turn{Role: llm.RoleUser, Content: req.Message})
}

// generate streams the reply into the buffer. Failures are recorded in genErr;
// a cancelled ctx counts as a disconnect, not a failure.
func (t *turn) generate(ctx context.Context) {
	if t.disconnected || ctx.Err() != nil {
		t.disconnected = true
		return
	}

	stream, err := t.svc.gen.Stream(ctx, t.prompt)
	if err != nil {
		if ctx.Err() != nil {
			t.disconnected = true
			return
		}
		t.genErr = err
		return
	}
	defer stream.Close()

	for {
		if ctx.Err() != nil {
			t.disconnected = true
			return
		}
		delta, err := stream.Recv()
		if err == io.EOF {
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				t.disconnected = true
				return
			}
			t.genErr = err
			return
		}

		t.deltas++
		t.buffer.WriteString(delta)
		t.assistantDelta(delta)
		if t.disconnected {
			return
		}

		if d := t.svc.opts.FragmentDelay; d > 0 {
			select {
			case <-ctx.Done():
				t.disconnected = true
				return
			case <-time.After(d):
			}
		}
	}
}

// persist saves both messages in one append. It runs on a context detached
// from the caller so that a disconnect does not drop the reply.
func (t *turn) persist(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.svc.opts.PersistTimeout)
	defer cancel()

	reply := t.buffer.String()
	t.assistantMsg.Message = reply
	t.assistantMsg.Versions = []string{reply}

	if err := t.svc.log.AppendMessages(ctx, t.req.ChatID, t.userMsg, t.assistantMsg); err != nil {
		t.logger.Error("failed to save messages", "error", err)
		return apperr.Internal("Failed to save messages", err)
	}
	return nil
}
