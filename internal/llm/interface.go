package llm

import (
	"context"

	"github.com/sashabaranov/go-openai"
)

// Role is the author of a Turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message of a generation request.
type Turn struct {
	Role    Role
	Content string
}

// Stream yields the fragments of one reply. Recv returns io.EOF after the last
// fragment. A stream cannot be restarted.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// Generator produces a streamed reply for a conversation.
type Generator interface {
	Stream(ctx context.Context, turns []Turn) (Stream, error)
}

// Client is minimal subset of openai.Client used by OpenAIGenerator; it is easy to swap in tests.
type Client interface {
	CreateChatCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (*openai.ChatCompletionStream, error)
}
