package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"

	"github.com/rodrigopv/faleproxy/internal/render"
	"github.com/rodrigopv/faleproxy/internal/relay"
)

const (
	toolName        = "fale_fetch"
	shutdownTimeout = 5 * time.Second
)

// MCPServer represents an MCP server instance
type MCPServer struct {
	addr      string
	version   string
	relay     *relay.Relay
	log       *logrus.Logger
	mcpServer *server.MCPServer
}

// NewMCPServer creates a new MCP server instance and registers its tools.
func NewMCPServer(addr, version string, r *relay.Relay, logger *logrus.Logger) *MCPServer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &MCPServer{
		addr:    addr,
		version: version,
		relay:   r,
		log:     logger,
	}
	s.init()
	return s
}

// init creates the mcp-go server with the fetch tool
func (s *MCPServer) init() {
	mcpServer := server.NewMCPServer(
		"faleproxy",
		s.version,
		server.WithLogging(),
		server.WithRecovery(),
	)

	fetchTool := mcp.NewTool(toolName,
		mcp.WithDescription("Fetch a web page and return its HTML with every Yale replaced by Fale in the text content"),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("Absolute http(s) URL of the page to fetch"),
		),
		mcp.WithString("format",
			mcp.Description("Output format (html, json or markdown)"),
			mcp.Enum(render.FormatHTML, render.FormatJSON, render.FormatMarkdown),
		),
	)

	mcpServer.AddTool(fetchTool, s.handleFetchToolRequest)
	s.mcpServer = mcpServer
}

// Start listens on the configured address and serves the MCP server over SSE
// until ctx is cancelled.
func (s *MCPServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("mcpserver: failed to listen on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves SSE on ln until ctx is cancelled, then shuts down gracefully.
// Open SSE streams are tied to ctx so they end when shutdown begins.
func (s *MCPServer) Serve(ctx context.Context, ln net.Listener) error {
	if s.mcpServer == nil {
		return fmt.Errorf("MCP server not initialized")
	}

	streamCtx, cancelStreams := context.WithCancel(context.Background())
	defer cancelStreams()

	httpServer := &http.Server{
		Handler:           server.NewSSEServer(s.mcpServer),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return streamCtx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(ln)
	}()
	s.log.WithField("addr", ln.Addr().String()).Info("Starting MCP SSE server")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("mcpserver: %w", err)
	case <-ctx.Done():
	}

	s.log.Info("Shutting down MCP SSE server")
	cancelStreams()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("mcpserver: shutdown failed: %w", err)
	}
	return nil
}

// handleFetchToolRequest handles fetch tool requests from MCP clients
func (s *MCPServer) handleFetchToolRequest(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	targetURL, _ := request.Params.Arguments["url"].(string)

	format := render.FormatJSON
	if f, ok := request.Params.Arguments["format"].(string); ok && f != "" {
		format = f
	}

	s.log.WithFields(logrus.Fields{"url": targetURL, "format": format}).Info("Received MCP fetch request")

	result, err := s.relay.Handle(ctx, relay.NewFetchRequest(targetURL))
	if err != nil {
		var validationErr *relay.ValidationError
		if errors.As(err, &validationErr) {
			return mcp.NewToolResultError(validationErr.Message), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}

	switch format {
	case render.FormatJSON:
		jsonData, jsonErr := json.MarshalIndent(result, "", "  ")
		if jsonErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Error converting result to JSON: %v", jsonErr)), nil
		}
		return mcp.NewToolResultText(string(jsonData)), nil
	case render.FormatHTML:
		return mcp.NewToolResultText(result.Content), nil
	case render.FormatMarkdown:
		md, mdErr := render.Markdown(result)
		if mdErr != nil {
			return mcp.NewToolResultError(mdErr.Error()), nil
		}
		return mcp.NewToolResultText(md), nil
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown format: %s", format)), nil
	}
}
