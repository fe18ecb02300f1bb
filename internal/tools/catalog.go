package tools

import (
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mark3labs/taskr/internal/llm"
)

// Catalog returns the tool definitions advertised to the model, in catalog order.
func Catalog() []mcp.Tool {
	return []mcp.Tool{
		mcp.NewTool(string(ReadFile),
			mcp.WithDescription("Read a UTF-8 text file from the workspace. Large files are rejected and long output is truncated."),
			mcp.WithString("path", mcp.Required(),
				mcp.Description("Path relative to the workspace root"),
			),
		),
		mcp.NewTool(string(WriteFile),
			mcp.WithDescription("Create or overwrite a file in the workspace. Parent directories are created. Returns a unified diff of the change."),
			mcp.WithString("path", mcp.Required(),
				mcp.Description("Path relative to the workspace root"),
			),
			mcp.WithString("content", mcp.Required(),
				mcp.Description("Complete new file content"),
			),
		),
		mcp.NewTool(string(ListFiles),
			mcp.WithDescription("List the entries of a workspace directory (non-recursive)."),
			mcp.WithString("path",
				mcp.Description("Directory relative to the workspace root (default: root)"),
			),
		),
		mcp.NewTool(string(ExecuteBash),
			mcp.WithDescription("Run a shell command in the workspace root. Only allowlisted commands (package managers, build tools, compilers, test runners, linters, read-only inspection) are permitted. Commands run with a minimal environment and a timeout."),
			mcp.WithString("command", mcp.Required(),
				mcp.Description("The command line to run"),
			),
		),
		mcp.NewTool(string(GitCommand),
			mcp.WithDescription("Run a git subcommand in the workspace root, e.g. \"status\" or \"commit -m message\". Force pushes must use --force-with-lease."),
			mcp.WithString("args", mcp.Required(),
				mcp.Description("Arguments after \"git\""),
			),
		),
		mcp.NewTool(string(CreateDirectory),
			mcp.WithDescription("Create a directory (and any missing parents) in the workspace."),
			mcp.WithString("path", mcp.Required(),
				mcp.Description("Directory relative to the workspace root"),
			),
		),
		mcp.NewTool(string(DeleteFile),
			mcp.WithDescription("Delete a file or directory in the workspace. The workspace root and very large directories cannot be deleted."),
			mcp.WithString("path", mcp.Required(),
				mcp.Description("Path relative to the workspace root"),
			),
		),
		mcp.NewTool(string(SearchFiles),
			mcp.WithDescription("Find files by glob pattern (*, ?, **) and optionally by content substring. Skips .git, node_modules and .gitignore'd paths."),
			mcp.WithString("pattern", mcp.Required(),
				mcp.Description("Glob pattern; without a slash it matches file names at any depth"),
			),
			mcp.WithString("content",
				mcp.Description("Only return lines containing this substring"),
			),
			mcp.WithString("path",
				mcp.Description("Directory to search in (default: root)"),
			),
		),
		mcp.NewTool(string(TaskComplete),
			mcp.WithDescription("Signal that the goal is achieved. Call exactly once when done."),
			mcp.WithString("summary", mcp.Required(),
				mcp.Description("Short summary of what was done"),
			),
		),
	}
}

// Specs projects the catalog onto the model service tool format.
func Specs() []llm.ToolSpec {
	catalog := Catalog()
	specs := make([]llm.ToolSpec, 0, len(catalog))
	for _, t := range catalog {
		specs = append(specs, llm.ToolSpec{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: inputSchema(t),
		})
	}
	return specs
}

// inputSchema extracts the JSON schema through the tool's wire encoding so
// raw and structured schemas are handled alike.
func inputSchema(t mcp.Tool) json.RawMessage {
	data, err := json.Marshal(t)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	var wire struct {
		InputSchema json.RawMessage `json:"inputSchema"`
	}
	if err := json.Unmarshal(data, &wire); err != nil || len(wire.InputSchema) == 0 {
		return json.RawMessage(`{"type":"object"}`)
	}
	return wire.InputSchema
}
