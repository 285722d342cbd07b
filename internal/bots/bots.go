// Package bots manages bot profiles and the per-bot admin password.
package bots

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/comigor/chatbot-go/internal/apperr"
	"github.com/comigor/chatbot-go/internal/logger"
	"github.com/comigor/chatbot-go/internal/store"
)

// NoDescription stands in for a bot that has no description to offer.
const NoDescription = "No bot description provided"

// CreateRequest carries a new bot profile. AdminPassword is the plain text
// secret; only its hash is stored.
type CreateRequest struct {
	Headline             string               `json:"headline"`
	StarterMessage       store.StarterMessage `json:"starter_message"`
	SecondaryDescription *string              `json:"secondary_description,omitempty"`
	Logo                 *string              `json:"logo,omitempty"`
	AdminPassword        string               `json:"admin_password"`
}

// UpdateRequest is a partial update; absent fields are left unchanged.
type UpdateRequest struct {
	Headline             *string               `json:"headline,omitempty"`
	StarterMessage       *store.StarterMessage `json:"starter_message,omitempty"`
	SecondaryDescription *string               `json:"secondary_description,omitempty"`
	Logo                 *string               `json:"logo,omitempty"`
}

// Service implements bot CRUD on a BotStore.
type Service struct {
	store  store.BotStore
	cost   int
	now    func() time.Time
	logger *slog.Logger
}

// NewService creates a bot service using bcrypt.DefaultCost.
func NewService(s store.BotStore) *Service {
	return &Service{
		store:  s,
		cost:   bcrypt.DefaultCost,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.For(nil, "bots"),
	}
}

// botError translates store errors for a bot lookup.
func botError(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return apperr.NotFound("Bot not found")
	case errors.Is(err, store.ErrInvalidID):
		return apperr.BadRequest("Invalid bot id")
	default:
		return apperr.Internal("Error retrieving bot", err)
	}
}

func (s *Service) List(ctx context.Context) ([]*store.Bot, error) {
	bots, err := s.store.ListBots(ctx)
	if err != nil {
		return nil, apperr.Internal("Error listing bots", err)
	}
	return bots, nil
}

func (s *Service) Get(ctx context.Context, id string) (*store.Bot, error) {
	bot, err := s.store.GetBot(ctx, id)
	if err != nil {
		return nil, botError(err)
	}
	return bot, nil
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (*store.Bot, error) {
	if strings.TrimSpace(req.Headline) == "" {
		return nil, apperr.BadRequest("headline is required")
	}
	if req.AdminPassword == "" {
		return nil, apperr.BadRequest("admin_password is required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.AdminPassword), s.cost)
	if err != nil {
		// bcrypt rejects passwords longer than 72 bytes
		return nil, apperr.BadRequest("admin_password is not usable: " + err.Error())
	}

	starter := req.StarterMessage
	if starter.ActionItems == nil {
		starter.ActionItems = []string{}
	}
	now := s.now()
	bot := &store.Bot{
		Headline:             req.Headline,
		StarterMessage:       starter,
		SecondaryDescription: req.SecondaryDescription,
		Logo:                 req.Logo,
		AdminPasswordHash:    string(hash),
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.store.CreateBot(ctx, bot); err != nil {
		return nil, apperr.Internal("Error creating bot", err)
	}

	s.logger.Info("bot created", "bot_id", bot.ID, "headline", bot.Headline)
	return bot, nil
}

func (s *Service) Update(ctx context.Context, id string, req UpdateRequest) (*store.Bot, error) {
	if req.Headline != nil && strings.TrimSpace(*req.Headline) == "" {
		return nil, apperr.BadRequest("headline cannot be empty")
	}
	bot, err := s.store.UpdateBot(ctx, id, store.BotUpdate{
		Headline:             req.Headline,
		StarterMessage:       req.StarterMessage,
		SecondaryDescription: req.SecondaryDescription,
		Logo:                 req.Logo,
	}, s.now())
	if err != nil {
		return nil, botError(err)
	}
	s.logger.Info("bot updated", "bot_id", id)
	return bot, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteBot(ctx, id); err != nil {
		return botError(err)
	}
	s.logger.Info("bot deleted", "bot_id", id)
	return nil
}

// Description returns the text used to brief the reply generator about a bot.
// Unknown bots and bots without a description get NoDescription.
func (s *Service) Description(ctx context.Context, botID string) (string, error) {
	bot, err := s.store.GetBot(ctx, botID)
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrInvalidID) {
		return NoDescription, nil
	}
	if err != nil {
		return NoDescription, err
	}
	if bot.SecondaryDescription == nil || strings.TrimSpace(*bot.SecondaryDescription) == "" {
		return NoDescription, nil
	}
	return *bot.SecondaryDescription, nil
}

// VerifyAdmin checks password against the bot's stored hash.
func (s *Service) VerifyAdmin(ctx context.Context, botID, password string) error {
	if password == "" {
		return apperr.Unauthorized("Admin password is required")
	}
	bot, err := s.store.GetBot(ctx, botID)
	if err != nil && !errors.Is(err, store.ErrNotFound) && !errors.Is(err, store.ErrInvalidID) {
		return apperr.Internal("Error retrieving bot", err)
	}
	if err != nil || bcrypt.CompareHashAndPassword([]byte(bot.AdminPasswordHash), []byte(password)) != nil {
		s.logger.Warn("admin password rejected", "bot_id", botID)
		return apperr.Unauthorized("Invalid admin password")
	}
	return nil
}
