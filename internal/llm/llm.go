package llm

import (
	"context"
	"fmt"
	"io"

	"github.com/sashabaranov/go-openai"

	"github.com/comigor/chatbot-go/internal/config"
	"github.com/comigor/chatbot-go/internal/logger"
)

// NewClient creates a new OpenAI client
func NewClient(cfg config.LLMConfig) *openai.Client {
	config := openai.DefaultConfig(cfg.APIKey)
	config.BaseURL = cfg.BaseURL

	return openai.NewClientWithConfig(config)
}

// New returns the generator selected by cfg.Provider.
func New(cfg config.LLMConfig) (Generator, error) {
	switch cfg.Provider {
	case config.ProviderEcho, "":
		return EchoGenerator{}, nil
	case config.ProviderOpenAI:
		return NewOpenAIGenerator(NewClient(cfg), cfg.Model), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// OpenAIGenerator streams chat completions from an OpenAI compatible API.
type OpenAIGenerator struct {
	client Client
	model  string
}

func NewOpenAIGenerator(client Client, model string) *OpenAIGenerator {
	return &OpenAIGenerator{client: client, model: model}
}

func (g *OpenAIGenerator) Stream(ctx context.Context, turns []Turn) (Stream, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(turns))
	for _, t := range turns {
		messages = append(messages, openai.ChatCompletionMessage{Role: string(t.Role), Content: t.Content})
	}

	logger.L.Debug("opening completion stream", "component", "llm", "model", g.model, "turns", len(turns))
	stream, err := g.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    g.model,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating completion stream: %w", err)
	}
	return &openAIStream{stream: stream}, nil
}

type openAIStream struct {
	stream *openai.ChatCompletionStream
}

// Recv skips chunks that carry no content (role headers, finish markers).
func (s *openAIStream) Recv() (string, error) {
	for {
		resp, err := s.stream.Recv()
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
			continue
		}
		return resp.Choices[0].Delta.Content, nil
	}
}

func (s *openAIStream) Close() error {
	s.stream.Close()
	return nil
}

// EchoPrefix starts every EchoGenerator reply.
const EchoPrefix = "Echo: "

// EchoGenerator answers "Echo: <last user message>" one character at a time.
// It needs no backend and is the default provider.
type EchoGenerator struct{}

func (EchoGenerator) Stream(ctx context.Context, turns []Turn) (Stream, error) {
	var last string
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == RoleUser {
			last = turns[i].Content
			break
		}
	}
	return &echoStream{ctx: ctx, reply: []rune(EchoPrefix + last)}, nil
}

type echoStream struct {
	ctx   context.Context
	reply []rune
	pos   int
}

func (s *echoStream) Recv() (string, error) {
	if err := s.ctx.Err(); err != nil {
		return "", err
	}
	if s.pos >= len(s.reply) {
		return "", io.EOF
	}
	r := s.reply[s.pos]
	s.pos++
	return string(r), nil
}

func (s *echoStream) Close() error {
	s.pos = len(s.reply)
	return nil
}
