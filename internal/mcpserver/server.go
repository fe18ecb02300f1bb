package mcpserver

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"

	"github.com/mark3labs/mcp-go/server"

	"github.com/mark3labs/taskr/internal/logger"
	"github.com/mark3labs/taskr/internal/tools"
)

// Server exposes the sandboxed workspace tools to external MCP clients, over
// streamable HTTP or stdio. Every call goes through the same executor, so
// clients get the same path confinement and command policy as a task run.
type Server struct {
	executor  *tools.Executor
	name      string
	version   string
	mcpServer *server.MCPServer
	stdServer *http.Server
	port      int
	mu        sync.Mutex
}

// New creates a server backed by executor. Nothing listens until Start or
// ServeStdio is called.
func New(executor *tools.Executor, version string) *Server {
	if version == "" {
		version = "dev"
	}
	return &Server{
		executor: executor,
		name:     "taskr-workspace",
		version:  version,
	}
}

func (s *Server) build() *server.MCPServer {
	srv := server.NewMCPServer(
		s.name,
		s.version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)
	s.registerTools(srv)
	return srv
}

// Start serves MCP over HTTP on 127.0.0.1:port. A port of 0 picks a random
// free port. Returns the bound port.
func (s *Server) Start(ctx context.Context, port int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stdServer != nil {
		return 0, fmt.Errorf("server already started")
	}
	s.mcpServer = s.build()

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return 0, fmt.Errorf("failed to listen on port %d: %w", port, err)
	}
	s.port = listener.Addr().(*net.TCPAddr).Port

	// Listener is passed directly to avoid a TOCTOU race on the port
	mux := http.NewServeMux()
	mux.Handle("/mcp", server.NewStreamableHTTPServer(
		s.mcpServer,
		server.WithStateLess(true),
	))
	s.stdServer = &http.Server{Handler: mux}

	stdServer := s.stdServer
	go func() {
		if err := stdServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			logger.Error("MCP server error: %v", err)
		}
	}()

	logger.Info("MCP server listening on port %d", s.port)
	return s.port, nil
}

// Stop shuts the HTTP server down. Safe to call when not started.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stdServer == nil {
		return nil
	}

	logger.Debug("Stopping MCP server")
	if err := s.stdServer.Shutdown(context.Background()); err != nil {
		logger.Warn("Error stopping MCP server: %v", err)
		return fmt.Errorf("failed to stop server: %w", err)
	}

	s.stdServer = nil
	s.mcpServer = nil
	return nil
}

// URL returns the HTTP URL for the MCP endpoint.
func (s *Server) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("http://localhost:%d/mcp", s.port)
}

// ServeStdio serves MCP over in and out until ctx is cancelled or in is closed.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.build())
	logger.Info("MCP server serving on stdio")
	if err := stdio.Listen(ctx, in, out); err != nil && ctx.Err() == nil {
		return fmt.Errorf("stdio server: %w", err)
	}
	return nil
}
