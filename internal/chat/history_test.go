package chat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comigor/chatbot-go/internal/apperr"
	"github.com/comigor/chatbot-go/internal/store"
)

func strPtr(s string) *string { return &s }

// seedChat runs one echo-like turn so that chat "c" under "bot" holds a user
// and an assistant message.
func seedChat(t *testing.T) (*Service, *ChatHistory) {
	t.Helper()
	svc, _ := newTestService(t, &mockGenerator{deltas: []string{"Echo: hi"}})
	require.NoError(t, svc.Process(context.Background(), SendRequest{ChatID: "c", BotID: "bot", Message: "hi"}, &recorder{}))
	h, err := svc.GetChatHistory(context.Background(), "c", "bot")
	require.NoError(t, err)
	return svc, h
}

func TestGetChatHistory(t *testing.T) {
	svc, h := seedChat(t)
	ctx := context.Background()

	assert.Equal(t, "c", h.ChatID)
	assert.Equal(t, "bot", h.BotID)
	require.Len(t, h.Messages, 2)

	again, err := svc.GetChatHistory(ctx, "c", "bot")
	require.NoError(t, err)
	assert.Equal(t, h, again, "reads without mutation are identical")

	_, err = svc.GetChatHistory(ctx, "c", "other-bot")
	require.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Equal(t, "Conversation not found", apperr.Message(err))

	_, err = svc.GetChatHistory(ctx, "missing", "bot")
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestEditMessage_Update(t *testing.T) {
	svc, h := seedChat(t)
	id := h.Messages[0].MessageID

	updated, err := svc.EditMessage(context.Background(), EditRequest{
		ChatID: "c", BotID: "bot", MessageID: id, UpdatedValue: strPtr("hello"),
	})
	require.NoError(t, err)
	require.Len(t, updated.Messages, 2)
	m := updated.Messages[0]
	assert.Equal(t, id, m.MessageID)
	assert.Equal(t, "hello", m.Message)
	assert.Equal(t, []string{"hi", "hello"}, m.Versions)
	assert.Equal(t, store.MessageTypeUser, m.Type)
	assert.Equal(t, h.Messages[1], updated.Messages[1], "other messages are untouched")
}

func TestEditMessage_Delete(t *testing.T) {
	svc, h := seedChat(t)
	id := h.Messages[1].MessageID

	req := EditRequest{ChatID: "c", BotID: "bot", MessageID: id, IsDelete: true}
	updated, err := svc.EditMessage(context.Background(), req)
	require.NoError(t, err)
	m := updated.Messages[1]
	assert.True(t, m.IsDeleted)
	assert.Equal(t, "Echo: hi", m.Message)
	assert.Equal(t, []string{"Echo: hi"}, m.Versions)

	again, err := svc.EditMessage(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, updated, again)
}

func TestEditMessage_Errors(t *testing.T) {
	svc, h := seedChat(t)
	id := h.Messages[0].MessageID

	tests := []struct {
		name string
		req  EditRequest
		kind error
		msg  string
	}{
		{
			name: "neither intent",
			req:  EditRequest{ChatID: "c", BotID: "bot", MessageID: id},
			kind: apperr.ErrBadRequest,
			msg:  "Either updated_value or is_delete must be provided",
		},
		{
			name: "both intents",
			req:  EditRequest{ChatID: "c", BotID: "bot", MessageID: id, UpdatedValue: strPtr("x"), IsDelete: true},
			kind: apperr.ErrBadRequest,
			msg:  "Either updated_value or is_delete must be provided",
		},
		{
			name: "missing message id",
			req:  EditRequest{ChatID: "c", BotID: "bot", IsDelete: true},
			kind: apperr.ErrBadRequest,
		},
		{
			name: "unknown conversation",
			req:  EditRequest{ChatID: "nope", BotID: "bot", MessageID: id, IsDelete: true},
			kind: apperr.ErrNotFound,
			msg:  "Conversation not found",
		},
		{
			name: "wrong bot",
			req:  EditRequest{ChatID: "c", BotID: "other", MessageID: id, IsDelete: true},
			kind: apperr.ErrNotFound,
			msg:  "Conversation not found",
		},
		{
			name: "unknown message",
			req:  EditRequest{ChatID: "c", BotID: "bot", MessageID: "nope", UpdatedValue: strPtr("x")},
			kind: apperr.ErrNotFound,
			msg:  "Message not found",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.EditMessage(context.Background(), tt.req)
			require.ErrorIs(t, err, tt.kind)
			if tt.msg != "" {
				assert.Equal(t, tt.msg, apperr.Message(err))
			}
		})
	}

	after, err := svc.GetChatHistory(context.Background(), "c", "bot")
	require.NoError(t, err)
	assert.Equal(t, h, after, "failed edits change nothing")
}
