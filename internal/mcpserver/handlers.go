package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mark3labs/taskr/internal/tools"
)

// registerTools adds every catalog tool except task_complete, which only
// means something inside a task run.
func (s *Server) registerTools(srv *server.MCPServer) {
	for _, tool := range tools.Catalog() {
		if tool.Name == string(tools.TaskComplete) {
			continue
		}
		srv.AddTool(tool, s.handleTool)
	}
}

// handleTool forwards a call to the executor. Tool failures are reported as
// error results, never as protocol errors.
func (s *Server) handleTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := request.Params.Name
	if name == string(tools.TaskComplete) {
		return mcp.NewToolResultError("task_complete is only available inside a task run"), nil
	}

	args := request.GetArguments()
	if args == nil {
		args = map[string]any{}
	}
	input, err := json.Marshal(args)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}

	res := s.executor.Execute(ctx, name, input)
	if !res.Success {
		return mcp.NewToolResultError(res.Content()), nil
	}
	return mcp.NewToolResultText(res.Output), nil
}
