// Package mcpserver exposes chat history and message editing as Model Context
// Protocol tools.
package mcpserver

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/comigor/chatbot-go/internal/apperr"
	"github.com/comigor/chatbot-go/internal/chat"
	"github.com/comigor/chatbot-go/internal/logger"
)

const serverName = "chatbot"

// Tool names
const (
	ToolGetChatHistory = "get_chat_history"
	ToolEditMessage    = "edit_message"
)

// Server wraps an MCP server whose tools call into a chat.Service.
type Server struct {
	chat   *chat.Service
	mcp    *server.MCPServer
	logger *slog.Logger
}

type toolDef struct {
	tool    mcp.Tool
	handler server.ToolHandlerFunc
}

// New creates the server and registers every tool.
func New(chatSvc *chat.Service, version string) *Server {
	s := &Server{
		chat:   chatSvc,
		mcp:    server.NewMCPServer(serverName, version, server.WithToolCapabilities(false)),
		logger: logger.For(nil, "mcp"),
	}
	for _, def := range s.tools() {
		s.mcp.AddTool(def.tool, def.handler)
		s.logger.Debug("registered tool", "tool", def.tool.Name)
	}
	return s
}

func (s *Server) tools() []toolDef {
	return []toolDef{
		{
			tool: mcp.NewTool(ToolGetChatHistory,
				mcp.WithDescription("Return the ordered message log of a chat, including edit versions and deleted flags."),
				mcp.WithString("chat_id", mcp.Required(), mcp.Description("Chat identifier")),
				mcp.WithString("bot_id", mcp.Required(), mcp.Description("Bot the chat belongs to")),
			),
			handler: s.handleGetChatHistory,
		},
		{
			tool: mcp.NewTool(ToolEditMessage,
				mcp.WithDescription("Edit the text of one message or soft-delete it. Provide exactly one of updated_value or is_delete."),
				mcp.WithString("chat_id", mcp.Required(), mcp.Description("Chat identifier")),
				mcp.WithString("bot_id", mcp.Required(), mcp.Description("Bot the chat belongs to")),
				mcp.WithString("message_id", mcp.Required(), mcp.Description("Message to change")),
				mcp.WithString("updated_value", mcp.Description("New text for the message")),
				mcp.WithBoolean("is_delete", mcp.Description("Soft-delete the message")),
			),
			handler: s.handleEditMessage,
		},
	}
}

// MCPServer returns the underlying server, e.g. for a transport other than stdio.
func (s *Server) MCPServer() *server.MCPServer { return s.mcp }

// ServeStdio serves the tools over stdin/stdout until the input is closed.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

func (s *Server) handleGetChatHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(req)
	h, err := s.chat.GetChatHistory(ctx, stringArg(args, "chat_id"), stringArg(args, "bot_id"))
	if err != nil {
		return s.toolError(req, err), nil
	}
	return jsonResult(h)
}

func (s *Server) handleEditMessage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(req)
	edit := chat.EditRequest{
		ChatID:    stringArg(args, "chat_id"),
		BotID:     stringArg(args, "bot_id"),
		MessageID: stringArg(args, "message_id"),
	}
	if v, ok := args["updated_value"].(string); ok {
		edit.UpdatedValue = &v
	}
	if v, ok := args["is_delete"].(bool); ok {
		edit.IsDelete = v
	}

	h, err := s.chat.EditMessage(ctx, edit)
	if err != nil {
		return s.toolError(req, err), nil
	}
	return jsonResult(h)
}

// toolError reports a service error as a tool-level error result; internal
// causes are logged, not returned.
func (s *Server) toolError(req mcp.CallToolRequest, err error) *mcp.CallToolResult {
	if apperr.HTTPStatus(err) >= 500 {
		s.logger.Error("tool call failed", "tool", req.Params.Name, "error", err)
	}
	return mcp.NewToolResultError(apperr.Message(err))
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(b)), nil
}

func arguments(req mcp.CallToolRequest) map[string]any {
	var raw any = req.Params.Arguments
	m, _ := raw.(map[string]any)
	return m
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}
