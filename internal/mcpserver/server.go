// Package mcpserver publishes the tool registry over the Model Context
// Protocol, either on stdio or as a streamable HTTP endpoint.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	apperrors "github.com/ytdlpvpn/ytdlp-vpn/internal/errors"
	"github.com/ytdlpvpn/ytdlp-vpn/internal/logger"
	"github.com/ytdlpvpn/ytdlp-vpn/internal/tools"
)

// Name is the server name announced during initialization
const Name = "ytdlp-vpn"

// New registers every tool of reg on a fresh MCP server
func New(reg *tools.Registry, version string) *server.MCPServer {
	s := server.NewMCPServer(Name, version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	for _, t := range reg.List() {
		s.AddTool(mcp.NewToolWithRawSchema(t.Name, t.Description, t.InputSchema()), callTool(reg, t.Name))
	}
	return s
}

// callTool forwards an MCP call to the registry. Tool failures become
// error results so the client sees the same text the HTTP routes return.
func callTool(reg *tools.Registry, name string) server.ToolHandlerFunc {
	log := logger.Default().WithComponent("mcp")

	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		raw, err := json.Marshal(req.GetArguments())
		if err != nil {
			return mcp.NewToolResultError("invalid arguments: " + err.Error()), nil
		}

		res, err := reg.Call(ctx, name, raw)
		if err != nil {
			log.Debug(ctx, "tool call failed", map[string]interface{}{
				"tool":  name,
				"error": err.Error(),
			})
			text := res.Text
			var appErr *apperrors.AppError
			if text == "" && errors.As(err, &appErr) {
				text = appErr.Message
			} else if text == "" {
				text = err.Error()
			}
			return mcp.NewToolResultError(text), nil
		}
		return mcp.NewToolResultText(res.Text), nil
	}
}

// HTTPHandler serves s over streamable HTTP
func HTTPHandler(s *server.MCPServer) http.Handler {
	return server.NewStreamableHTTPServer(s)
}

// ServeStdio runs the JSON-RPC loop on in and out until ctx is done or in
// is closed.
func ServeStdio(ctx context.Context, s *server.MCPServer, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(s).Listen(ctx, in, out)
}
