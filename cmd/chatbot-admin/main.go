// Admin CLI for bot profiles and conversation logs. It talks to the
// configured store directly, so it works without a running server.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"

	"github.com/comigor/chatbot-go/internal/bots"
	"github.com/comigor/chatbot-go/internal/chat"
	"github.com/comigor/chatbot-go/internal/config"
	"github.com/comigor/chatbot-go/internal/llm"
	"github.com/comigor/chatbot-go/internal/logger"
	"github.com/comigor/chatbot-go/internal/messagelog"
	"github.com/comigor/chatbot-go/internal/store"
)

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stdout)
		os.Exit(1)
	}
	logger.SetOutput(os.Stderr)

	cfg, err := config.Load()
	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
	logger.SetLevel(cfg.Log.Level)

	ctx := context.Background()
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := newApp(st, os.Stdout).run(ctx, os.Args[1:]); err != nil {
		color.Red("Error: %v\n", err)
		st.Close()
		os.Exit(1)
	}
}

// app holds the services the commands operate on.
type app struct {
	bots *bots.Service
	chat *chat.Service
	out  io.Writer
}

func newApp(st store.Store, out io.Writer) *app {
	botSvc := bots.NewService(st)
	return &app{
		bots: botSvc,
		// history reads never generate; echo keeps the service self-contained
		chat: chat.NewService(messagelog.New(st), llm.EchoGenerator{}, botSvc, chat.Options{}),
		out:  out,
	}
}

func (a *app) run(ctx context.Context, args []string) error {
	cmd, args := args[0], args[1:]
	switch cmd {
	case "bots":
		return a.cmdBots(ctx, args)
	case "history":
		return a.cmdHistory(ctx, args)
	case "help", "-h", "--help":
		printUsage(a.out)
		return nil
	default:
		printUsage(a.out)
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func printUsage(w io.Writer) {
	yellow := color.New(color.FgYellow)

	fmt.Fprintln(w, "Usage: chatbot-admin <command> [args]")
	fmt.Fprintln(w)
	yellow.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  bots                    List all bots")
	fmt.Fprintln(w, "  bots list               List all bots")
	fmt.Fprintln(w, "  bots create             Create a bot (--headline, --password required)")
	fmt.Fprintln(w, "  bots delete <id>        Delete a bot by ID")
	fmt.Fprintln(w, "  history                 Show a conversation (--chat, --bot required)")
	fmt.Fprintln(w)
	yellow.Fprintln(w, "Environment:")
	fmt.Fprintln(w, "  CONFIG_PATH             Path to config.yaml")
	fmt.Fprintln(w, "  CHATBOT_STORE_DRIVER    sqlite, mongo or memory")
	fmt.Fprintln(w)
	yellow.Fprintln(w, "Examples:")
	fmt.Fprintln(w, "  chatbot-admin bots create --headline 'Support' --password s3cret --action 'Track my order'")
	fmt.Fprintln(w, "  chatbot-admin history --chat 4f1c --bot 65a1b2c3d4e5f6a7b8c9d0e1")
	fmt.Fprintln(w)
}
