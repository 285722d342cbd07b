// Package api exposes the bot and chat services over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/comigor/chatbot-go/internal/apperr"
	"github.com/comigor/chatbot-go/internal/bots"
	"github.com/comigor/chatbot-go/internal/chat"
	"github.com/comigor/chatbot-go/internal/logger"
)

// AdminPasswordHeader carries the bot admin secret on guarded routes.
const AdminPasswordHeader = "admin-password"

// Server holds the HTTP handlers.
type Server struct {
	chat   *chat.Service
	bots   *bots.Service
	prefix string
	logger *slog.Logger
}

// New creates a Server mounting its API routes under prefix (e.g. "/api/v1").
func New(chatSvc *chat.Service, botSvc *bots.Service, prefix string) *Server {
	return &Server{
		chat:   chatSvc,
		bots:   botSvc,
		prefix: strings.TrimSuffix(prefix, "/"),
		logger: logger.For(nil, "api"),
	}
}

// Handler returns the complete handler: routes wrapped in CORS and request
// logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleWelcome)

	mux.HandleFunc("GET "+s.prefix+"/bot", s.handleListBots)
	mux.HandleFunc("POST "+s.prefix+"/bot", s.handleCreateBot)
	mux.Handle("GET "+s.prefix+"/bot/{bot_id}", s.requireAdmin(http.HandlerFunc(s.handleGetBot)))
	mux.Handle("PUT "+s.prefix+"/bot/{bot_id}", s.requireAdmin(http.HandlerFunc(s.handleUpdateBot)))
	mux.Handle("DELETE "+s.prefix+"/bot/{bot_id}", s.requireAdmin(http.HandlerFunc(s.handleDeleteBot)))

	mux.HandleFunc("GET "+s.prefix+"/chat/history", s.handleChatHistory)
	mux.HandleFunc("PUT "+s.prefix+"/chat/message", s.handleEditMessage)
	mux.HandleFunc("POST "+s.prefix+"/chat/sse", s.handleChatSSE)

	return s.logRequests(cors(mux))
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to write response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, map[string]string{"detail": message})
}

// sendError maps a service error to its status and caller-facing message.
func (s *Server) sendError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	} else if errors.Is(err, apperr.ErrUnauthorized) {
		s.logger.Warn("request unauthorized", "method", r.Method, "path", r.URL.Path)
	}
	s.sendJSONError(w, status, apperr.Message(err))
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.BadRequest("invalid JSON body")
	}
	return nil
}
