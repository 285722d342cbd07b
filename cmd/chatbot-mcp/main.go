package main

import (
	"context"
	"os"

	"github.com/comigor/chatbot-go/internal/bots"
	"github.com/comigor/chatbot-go/internal/chat"
	"github.com/comigor/chatbot-go/internal/config"
	"github.com/comigor/chatbot-go/internal/llm"
	"github.com/comigor/chatbot-go/internal/logger"
	"github.com/comigor/chatbot-go/internal/mcpserver"
	"github.com/comigor/chatbot-go/internal/messagelog"
	"github.com/comigor/chatbot-go/internal/store"
)

var version = "dev"

func main() {
	// stdout carries the protocol
	logger.SetOutput(os.Stderr)

	cfg, err := config.Load()
	if err != nil {
		logger.L.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger.SetLevel(cfg.Log.Level)

	st, err := store.Open(context.Background(), cfg.Store)
	if err != nil {
		logger.L.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	gen, err := llm.New(cfg.LLM)
	if err != nil {
		logger.L.Error("failed to create generator", "error", err)
		os.Exit(1)
	}
	chatSvc := chat.NewService(messagelog.New(st), gen, bots.NewService(st), chat.Options{
		SystemPrompt:   cfg.LLM.SystemPrompt,
		PersistTimeout: cfg.Stream.PersistTimeout,
	})

	if err := mcpserver.New(chatSvc, version).ServeStdio(); err != nil {
		logger.L.Error("mcp server stopped", "error", err)
		os.Exit(1)
	}
}
