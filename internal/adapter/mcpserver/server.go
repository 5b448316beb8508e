// Package mcpserver exposes the compiled tool catalog to MCP clients.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"toolbridge/internal/domain"
	"toolbridge/internal/usecase/catalog"
)

// Catalog lists and executes compiled tools.
type Catalog interface {
	ListTools() []catalog.ToolInfo
	ExecuteTool(ctx context.Context, name string, params domain.Params) (domain.ExecutionResult, error)
}

// Server adapts a Catalog to the MCP tool protocol.
type Server struct {
	mcp     *server.MCPServer
	catalog Catalog
	logger  *slog.Logger
}

// New registers every catalog tool with a fresh MCP server.
func New(cat Catalog, name, version string, logger *slog.Logger) (*Server, error) {
	s := &Server{
		mcp:     server.NewMCPServer(name, version, server.WithToolCapabilities(false)),
		catalog: cat,
		logger:  logger.With("component", "mcpserver"),
	}

	for _, info := range cat.ListTools() {
		raw, err := json.Marshal(info.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("marshal input schema for %s: %w", info.Name, err)
		}
		tool := mcp.NewToolWithRawSchema(info.Name, info.Description, raw)
		s.mcp.AddTool(tool, s.handler(info.Name))
	}
	return s, nil
}

// MCP returns the underlying protocol server.
func (s *Server) MCP() *server.MCPServer { return s.mcp }

// Serve speaks MCP over the given streams until ctx is cancelled or in
// is closed.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))
	s.logger.Info("mcp server listening on stdio")
	return stdio.Listen(ctx, in, out)
}

// handler routes a tool call to the catalog. Failed executions are
// returned as tool errors so the client model can react to them.
func (s *Server) handler(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		params := domain.Params(req.GetArguments())

		res, err := s.catalog.ExecuteTool(ctx, name, params)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		body, err := json.Marshal(res)
		if err != nil {
			return nil, fmt.Errorf("marshal result of %s: %w", name, err)
		}
		if !res.Success {
			s.logger.Debug("mcp tool call failed", "tool", name, "kind", res.ErrorKind, "error", res.Error)
			return mcp.NewToolResultError(string(body)), nil
		}
		return mcp.NewToolResultText(string(body)), nil
	}
}
