package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/comigor/chatbot-go/internal/chat"
)

// sseSink writes chat events as server-sent events. Headers are only sent with
// the first event so that a turn rejected up front can still get a plain JSON
// error response.
type sseSink struct {
	ctx     context.Context
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func (s *sseSink) Send(e chat.Event) error {
	if err := s.ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", e.Kind, err)
	}

	if !s.started {
		h := s.w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}

	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", e.Kind, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
