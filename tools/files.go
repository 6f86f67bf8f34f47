package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	warren "github.com/everydev1618/gowarren"
)

const maxReadBytes = 256 * 1024

// ReadFileTool reads a file within the agent's readable directories.
type ReadFileTool struct{}

func (t *ReadFileTool) Schema() warren.ToolSchema {
	return warren.ToolSchema{
		Name:        "read_file",
		Description: "Read a text file. Relative paths resolve against the agent workspace.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{"type": "string", "description": "File path"},
			},
			"required": []any{"path"},
		},
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]any, tc warren.ToolContext) (warren.ToolOutput, error) {
	path, err := stringArg(args, "path")
	if err != nil {
		return warren.ToolOutput{}, err
	}
	path = resolvePath(path, tc.Permissions.WorkingDir)

	if !tc.Permissions.CanRead(path) {
		return warren.ToolOutput{}, fmt.Errorf("read access to %s is not permitted", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return warren.ToolOutput{}, err
	}
	if len(data) > maxReadBytes {
		return warren.ToolOutput{
			Text: string(data[:maxReadBytes]) + fmt.Sprintf("\n[truncated, %d bytes total]", len(data)),
		}, nil
	}
	return warren.ToolOutput{Text: string(data)}, nil
}

// WriteFileTool writes a file within the agent's writable directories.
type WriteFileTool struct{}

func (t *WriteFileTool) Schema() warren.ToolSchema {
	return warren.ToolSchema{
		Name:        "write_file",
		Description: "Write content to a file, creating parent directories as needed.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":    map[string]any{"type": "string", "description": "File path"},
				"content": map[string]any{"type": "string", "description": "Content to write"},
			},
			"required": []any{"path", "content"},
		},
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]any, tc warren.ToolContext) (warren.ToolOutput, error) {
	path, err := stringArg(args, "path")
	if err != nil {
		return warren.ToolOutput{}, err
	}
	content, ok := args["content"].(string)
	if !ok {
		return warren.ToolOutput{}, fmt.Errorf("missing required argument %q", "content")
	}
	path = resolvePath(path, tc.Permissions.WorkingDir)

	if !tc.Permissions.CanWrite(path) {
		return warren.ToolOutput{}, fmt.Errorf("write access to %s is not permitted", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return warren.ToolOutput{}, err
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return warren.ToolOutput{}, err
	}
	return warren.ToolOutput{Text: "File written successfully", Files: []string{path}}, nil
}

// ListDirTool lists a directory within the agent's readable directories.
type ListDirTool struct{}

func (t *ListDirTool) Schema() warren.ToolSchema {
	return warren.ToolSchema{
		Name:        "list_dir",
		Description: "List directory entries. Directories are suffixed with /.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{"type": "string", "description": "Directory path, defaults to the workspace"},
			},
		},
	}
}

func (t *ListDirTool) Execute(ctx context.Context, args map[string]any, tc warren.ToolContext) (warren.ToolOutput, error) {
	path, _ := args["path"].(string)
	if path == "" {
		path = tc.Permissions.WorkingDir
	}
	path = resolvePath(path, tc.Permissions.WorkingDir)

	if !tc.Permissions.CanRead(path) {
		return warren.ToolOutput{}, fmt.Errorf("read access to %s is not permitted", path)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return warren.ToolOutput{}, err
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	return warren.ToolOutput{Text: strings.Join(names, "\n")}, nil
}
