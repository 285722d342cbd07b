package api

import (
	"net/http"
	"time"

	"github.com/comigor/chatbot-go/internal/bots"
	"github.com/comigor/chatbot-go/internal/chat"
)

func (s *Server) handleWelcome(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string]string{"message": "Welcome to Chatbot API"})
}

// botSummary is the list view of a bot.
type botSummary struct {
	ID        string    `json:"id"`
	Headline  string    `json:"headline"`
	Logo      *string   `json:"logo,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) handleListBots(w http.ResponseWriter, r *http.Request) {
	list, err := s.bots.List(r.Context())
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	out := make([]botSummary, 0, len(list))
	for _, b := range list {
		out = append(out, botSummary{ID: b.ID, Headline: b.Headline, Logo: b.Logo, CreatedAt: b.CreatedAt})
	}
	s.sendJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateBot(w http.ResponseWriter, r *http.Request) {
	var req bots.CreateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.sendError(w, r, err)
		return
	}
	bot, err := s.bots.Create(r.Context(), req)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, bot)
}

func (s *Server) handleGetBot(w http.ResponseWriter, r *http.Request) {
	bot, err := s.bots.Get(r.Context(), r.PathValue("bot_id"))
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, bot)
}

func (s *Server) handleUpdateBot(w http.ResponseWriter, r *http.Request) {
	var req bots.UpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.sendError(w, r, err)
		return
	}
	bot, err := s.bots.Update(r.Context(), r.PathValue("bot_id"), req)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, bot)
}

func (s *Server) handleDeleteBot(w http.ResponseWriter, r *http.Request) {
	if err := s.bots.Delete(r.Context(), r.PathValue("bot_id")); err != nil {
		s.sendError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	h, err := s.chat.GetChatHistory(r.Context(), q.Get("chat_id"), q.Get("bot_id"))
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, h)
}

func (s *Server) handleEditMessage(w http.ResponseWriter, r *http.Request) {
	var req chat.EditRequest
	if err := decodeJSON(r, &req); err != nil {
		s.sendError(w, r, err)
		return
	}
	h, err := s.chat.EditMessage(r.Context(), req)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, h)
}

// handleChatSSE runs one chat turn and streams its events. Errors raised
// before the first event become ordinary JSON error responses; later ones
// have already been reported in-band by the turn.
func (s *Server) handleChatSSE(w http.ResponseWriter, r *http.Request) {
	var req chat.SendRequest
	if err := decodeJSON(r, &req); err != nil {
		s.sendError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.logger.Error("streaming not supported")
		s.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	sink := &sseSink{ctx: r.Context(), w: w, flusher: flusher}
	err := s.chat.Process(r.Context(), req, sink)
	if err == nil {
		return
	}
	if !sink.started {
		s.sendError(w, r, err)
		return
	}
	s.logger.Error("chat turn failed after streaming started", "chat_id", req.ChatID, "error", err)
}
