package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/comigor/chatbot-go/internal/api"
	"github.com/comigor/chatbot-go/internal/bots"
	"github.com/comigor/chatbot-go/internal/chat"
	"github.com/comigor/chatbot-go/internal/config"
	"github.com/comigor/chatbot-go/internal/llm"
	"github.com/comigor/chatbot-go/internal/logger"
	"github.com/comigor/chatbot-go/internal/messagelog"
	"github.com/comigor/chatbot-go/internal/store"
)

func main() {
	if err := run(); err != nil {
		logger.L.Error("chatbot exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger.SetLevel(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Open the store once; every request shares it
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.L.Warn("failed to close store", "error", err)
		}
	}()

	gen, err := llm.New(cfg.LLM)
	if err != nil {
		return err
	}

	botSvc := bots.NewService(st)
	chatSvc := chat.NewService(messagelog.New(st), gen, botSvc, chat.Options{
		SystemPrompt:   cfg.LLM.SystemPrompt,
		FragmentDelay:  cfg.Stream.FragmentDelay,
		PersistTimeout: cfg.Stream.PersistTimeout,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           api.New(chatSvc, botSvc, cfg.Server.APIPrefix).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.L.Info("starting server",
			"address", srv.Addr,
			"store", cfg.Store.Driver,
			"llm", cfg.LLM.Provider)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.L.Info("shutting down", "timeout", cfg.Server.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
