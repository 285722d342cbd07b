package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/pflag"

	"github.com/comigor/chatbot-go/internal/bots"
	"github.com/comigor/chatbot-go/internal/store"
)

// cmdBots handles bots subcommands
func (a *app) cmdBots(ctx context.Context, args []string) error {
	subcmd := "list"
	if len(args) > 0 {
		subcmd, args = args[0], args[1:]
	}

	switch subcmd {
	case "list":
		return a.cmdBotsList(ctx)
	case "create":
		return a.cmdBotsCreate(ctx, args)
	case "delete":
		return a.cmdBotsDelete(ctx, args)
	default:
		return fmt.Errorf("unknown bots subcommand: %s", subcmd)
	}
}

func (a *app) cmdBotsList(ctx context.Context) error {
	list, err := a.bots.List(ctx)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Fprintln(a.out)
	cyan.Fprintln(a.out, "  Bots")
	cyan.Fprintln(a.out, "  ----")

	if len(list) == 0 {
		fmt.Fprintln(a.out, "  (no bots)")
		fmt.Fprintln(a.out)
		return nil
	}

	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tHEADLINE\tDESCRIPTION\tCREATED")
	fmt.Fprintln(w, "  --\t--------\t-----------\t-------")
	for _, b := range list {
		desc := ""
		if b.SecondaryDescription != nil {
			desc = truncate(*b.SecondaryDescription, 32)
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n", b.ID, truncate(b.Headline, 24), desc, b.CreatedAt.Format("Jan 02 15:04"))
	}
	w.Flush()
	fmt.Fprintln(a.out)
	return nil
}

func (a *app) cmdBotsCreate(ctx context.Context, args []string) error {
	flags := pflag.NewFlagSet("bots create", pflag.ContinueOnError)
	flags.SetOutput(a.out)
	headline := flags.String("headline", "", "bot headline (required)")
	password := flags.String("password", "", "admin password (required)")
	description := flags.String("description", "", "description used to brief the reply generator")
	logo := flags.String("logo", "", "logo URL")
	welcome := flags.String("welcome", "", "starter message shown before the first turn")
	actions := flags.StringArray("action", nil, "starter action item (repeatable)")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *headline == "" || *password == "" {
		return fmt.Errorf("usage: bots create --headline <text> --password <secret> [--description <text>] [--logo <url>] [--welcome <text>] [--action <text>...]")
	}

	req := bots.CreateRequest{
		Headline:       *headline,
		StarterMessage: store.StarterMessage{Message: *welcome, ActionItems: *actions},
		AdminPassword:  *password,
	}
	if *description != "" {
		req.SecondaryDescription = description
	}
	if *logo != "" {
		req.Logo = logo
	}

	bot, err := a.bots.Create(ctx, req)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Fprintf(a.out, "✓ Created bot: %s\n", bot.ID)
	fmt.Fprintf(a.out, "  Headline:  %s\n", bot.Headline)
	if len(bot.StarterMessage.ActionItems) > 0 {
		fmt.Fprintf(a.out, "  Actions:   %s\n", strings.Join(bot.StarterMessage.ActionItems, ", "))
	}
	return nil
}

func (a *app) cmdBotsDelete(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: bots delete <bot-id>")
	}
	if err := a.bots.Delete(ctx, args[0]); err != nil {
		return err
	}
	green := color.New(color.FgGreen)
	green.Fprintf(a.out, "✓ Deleted bot: %s\n", args[0])
	return nil
}

func (a *app) cmdHistory(ctx context.Context, args []string) error {
	flags := pflag.NewFlagSet("history", pflag.ContinueOnError)
	flags.SetOutput(a.out)
	chatID := flags.String("chat", "", "chat id (required)")
	botID := flags.String("bot", "", "bot id (required)")
	showVersions := flags.Bool("versions", false, "print every version of edited messages")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *chatID == "" || *botID == "" {
		return fmt.Errorf("usage: history --chat <chat-id> --bot <bot-id> [--versions]")
	}

	h, err := a.chat.GetChatHistory(ctx, *chatID, *botID)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	dim := color.New(color.Faint, color.Italic)
	fmt.Fprintln(a.out)
	cyan.Fprintf(a.out, "  Chat %s (%d messages)\n", h.ChatID, len(h.Messages))
	fmt.Fprintln(a.out)

	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tTYPE\tMESSAGE\tEDITS")
	fmt.Fprintln(w, "  --\t----\t-------\t-----")
	for _, m := range h.Messages {
		text := truncate(m.Message, 60)
		if m.IsDeleted {
			text = "[deleted] " + text
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%d\n", truncate(m.MessageID, 8), m.Type, text, max(len(m.Versions)-1, 0))
	}
	w.Flush()

	if *showVersions {
		for _, m := range h.Messages {
			if len(m.Versions) < 2 {
				continue
			}
			fmt.Fprintln(a.out)
			fmt.Fprintf(a.out, "  %s\n", m.MessageID)
			for i, v := range m.Versions {
				dim.Fprintf(a.out, "    v%d: %s\n", i+1, v)
			}
		}
	}
	fmt.Fprintln(a.out)
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
