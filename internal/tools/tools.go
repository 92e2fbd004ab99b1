// Package tools exposes the orchestrator as MCP tools.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/loykin/themerig/internal/orchestrator"
)

const (
	ServerName = "themerig"

	ToolCreateEnvironment = "create_environment"
	ToolGetScreenshots    = "get_screenshots"
	ToolEnvironmentStatus = "environment_status"

	argTarget = "customer_name"
)

// Orchestrator is what the tools dispatch to.
type Orchestrator interface {
	CreateEnvironment(ctx context.Context, target string) orchestrator.CreateResult
	GetScreenshots(ctx context.Context, target string) orchestrator.CaptureResult
	Status(ctx context.Context) orchestrator.EnvironmentStatus
}

type Server struct {
	orch Orchestrator
	log  *slog.Logger
	mcp  *server.MCPServer
}

func New(orch Orchestrator, version string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Server{orch: orch, log: log}
	s.mcp = server.NewMCPServer(ServerName, version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	s.mcp.AddTool(mcp.NewTool(ToolCreateEnvironment,
		mcp.WithDescription("Provision a theme file and screenshots directory for a customer and start the backend and frontend services if they are not already running. Returns immediately; services may take 1-2 minutes to become ready."),
		mcp.WithString(argTarget, mcp.Required(),
			mcp.Description("Customer identifier: letters, digits, hyphens and underscores")),
	), s.createEnvironment)
	s.mcp.AddTool(mcp.NewTool(ToolGetScreenshots,
		mcp.WithDescription("Run the UI workflow against the running environment and save the next round of screenshots for a customer. Requires create_environment and healthy services."),
		mcp.WithString(argTarget, mcp.Required(),
			mcp.Description("Customer identifier used with create_environment")),
	), s.getScreenshots)
	s.mcp.AddTool(mcp.NewTool(ToolEnvironmentStatus,
		mcp.WithDescription("Report whether the backend and frontend answer their health URLs and what the supervisor is tracking."),
	), s.environmentStatus)
	return s
}

// MCP returns the underlying server.
func (s *Server) MCP() *server.MCPServer { return s.mcp }

func (s *Server) createEnvironment(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	target, err := req.RequireString(argTarget)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	s.log.Info("tool call", "tool", ToolCreateEnvironment, "target", target)
	return jsonResult(s.orch.CreateEnvironment(ctx, target))
}

func (s *Server) getScreenshots(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	target, err := req.RequireString(argTarget)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	s.log.Info("tool call", "tool", ToolGetScreenshots, "target", target)
	return jsonResult(s.orch.GetScreenshots(ctx, target))
}

func (s *Server) environmentStatus(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.orch.Status(ctx))
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(b)), nil
}

// ServeStdio serves the tools over in/out until ctx is cancelled or in is
// closed.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(slog.NewLogLogger(s.log.Handler(), slog.LevelError))
	err := stdio.Listen(ctx, in, out)
	if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// ServeSSE serves the tools over SSE on addr until ctx is cancelled.
// baseURL is the externally visible address advertised to clients.
func (s *Server) ServeSSE(ctx context.Context, addr, baseURL string) error {
	sse := server.NewSSEServer(s.mcp, server.WithBaseURL(baseURL))
	errCh := make(chan error, 1)
	go func() { errCh <- sse.Start(addr) }()
	s.log.Info("sse transport listening", "addr", addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sse.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
