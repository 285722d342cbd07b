package chat

import (
	"context"
	"errors"

	"github.com/comigor/chatbot-go/internal/apperr"
	"github.com/comigor/chatbot-go/internal/store"
)

// GetChatHistory returns the conversation chatID if it belongs to botID.
func (s *Service) GetChatHistory(ctx context.Context, chatID, botID string) (*ChatHistory, error) {
	if chatID == "" || botID == "" {
		return nil, apperr.BadRequest("chat_id and bot_id are required")
	}
	conv, err := s.log.GetHistory(ctx, chatID, botID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("Conversation not found")
	}
	if err != nil {
		return nil, apperr.Internal("Failed to load conversation", err)
	}
	return newChatHistory(conv), nil
}

// EditMessage applies an edit or a soft delete and returns the updated history.
func (s *Service) EditMessage(ctx context.Context, req EditRequest) (*ChatHistory, error) {
	if req.ChatID == "" || req.BotID == "" || req.MessageID == "" {
		return nil, apperr.BadRequest("chat_id, bot_id and message_id are required")
	}
	if (req.UpdatedValue == nil) == !req.IsDelete {
		return nil, apperr.BadRequest("Either updated_value or is_delete must be provided")
	}

	if _, err := s.GetChatHistory(ctx, req.ChatID, req.BotID); err != nil {
		return nil, err
	}

	var err error
	if req.UpdatedValue != nil {
		err = s.log.UpdateMessageContent(ctx, req.ChatID, req.MessageID, *req.UpdatedValue)
	} else {
		err = s.log.SoftDeleteMessage(ctx, req.ChatID, req.MessageID)
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("Message not found")
	}
	if err != nil {
		return nil, apperr.Internal("Failed to update message", err)
	}

	s.logger.Info("message edited", "chat_id", req.ChatID, "message_id", req.MessageID, "deleted", req.IsDelete)
	return s.GetChatHistory(ctx, req.ChatID, req.BotID)
}
