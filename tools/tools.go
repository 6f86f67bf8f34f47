// Package tools provides the built-in tools agents may invoke.
package tools

import (
	"fmt"
	"path/filepath"

	warren "github.com/everydev1618/gowarren"
	"github.com/everydev1618/gowarren/container"
)

// RegisterBuiltins adds the built-in tools to a registry. The sandbox
// manager may be nil; exec then falls back to sandboxed host execution.
func RegisterBuiltins(reg *warren.ToolRegistry, sandbox *container.Manager) error {
	builtins := []warren.Tool{
		&ReadFileTool{},
		&WriteFileTool{},
		&ListDirTool{},
		&WebFetchTool{},
		&ExecTool{Sandbox: sandbox},
		&SpawnAgentTool{},
		&RequestPermissionTool{},
	}
	for _, t := range builtins {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// resolvePath makes a tool path argument absolute against the agent's
// working directory.
func resolvePath(path, workingDir string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(workingDir, path)
}

// stringArg reads a required string argument.
func stringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("missing required argument %q", key)
	}
	return v, nil
}
