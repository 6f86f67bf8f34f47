package tools

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	warren "github.com/everydev1618/gowarren"
	"github.com/everydev1618/gowarren/container"
)

const execTimeout = 2 * time.Minute

// absPathRe matches absolute path tokens inside shell command strings.
// Stops at whitespace and common shell meta-characters.
var absPathRe = regexp.MustCompile(`(/[^\s"'<>|&;(){}\[\]\\]+)`)

// ExecTool runs a shell command in the agent's Docker sandbox when one is
// available, otherwise directly on the host confined to the workspace.
type ExecTool struct {
	Sandbox *container.Manager
}

func (t *ExecTool) Schema() warren.ToolSchema {
	return warren.ToolSchema{
		Name:        "exec",
		Description: "Run a shell command in the agent workspace and return its output.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{"type": "string", "description": "Shell command to run"},
			},
			"required": []any{"command"},
		},
	}
}

func (t *ExecTool) Execute(ctx context.Context, args map[string]any, tc warren.ToolContext) (warren.ToolOutput, error) {
	command, err := stringArg(args, "command")
	if err != nil {
		return warren.ToolOutput{}, err
	}
	workingDir := tc.Permissions.WorkingDir
	if !tc.Permissions.CanWrite(workingDir) {
		return warren.ToolOutput{}, fmt.Errorf("write access to %s is not permitted", workingDir)
	}

	ctx, cancel := context.WithTimeout(ctx, execTimeout)
	defer cancel()

	if t.Sandbox != nil && t.Sandbox.IsAvailable() {
		return t.execSandboxed(ctx, command, tc)
	}
	return execHost(ctx, command, workingDir)
}

func (t *ExecTool) execSandboxed(ctx context.Context, command string, tc warren.ToolContext) (warren.ToolOutput, error) {
	result, err := t.Sandbox.Exec(ctx, string(tc.AgentID), tc.Permissions.WorkingDir, []string{"sh", "-c", command})
	if err != nil {
		return warren.ToolOutput{}, err
	}
	return formatExecResult(result.Stdout, result.Stderr, result.ExitCode)
}

// execHost runs the command on the host with HOME and TMPDIR pointed at the
// workspace and absolute paths outside it rewritten in.
func execHost(ctx context.Context, command, workingDir string) (warren.ToolOutput, error) {
	command = rewriteCommandPaths(command, workingDir)

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = workingDir
	cmd.Env = sandboxEnv(workingDir)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if exitErr, ok := err.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	} else if err != nil {
		return warren.ToolOutput{}, err
	}
	return formatExecResult(stdout.String(), stderr.String(), exitCode)
}

func formatExecResult(stdout, stderr string, exitCode int) (warren.ToolOutput, error) {
	var parts []string
	if stdout != "" {
		parts = append(parts, stdout)
	}
	if stderr != "" {
		parts = append(parts, "stderr:\n"+stderr)
	}
	text := strings.TrimSpace(strings.Join(parts, "\n"))
	if exitCode != 0 {
		if text == "" {
			text = "(no output)"
		}
		return warren.ToolOutput{}, fmt.Errorf("exit code %d\n%s", exitCode, text)
	}
	if text == "" {
		text = "(no output)"
	}
	return warren.ToolOutput{Text: text}, nil
}

// rewriteCommandPaths rewrites absolute paths in a shell command that escape
// the workspace, redirecting them to workspace/basename.
func rewriteCommandPaths(command, workspace string) string {
	return absPathRe.ReplaceAllStringFunc(command, func(match string) string {
		clean := filepath.Clean(match)
		rel, err := filepath.Rel(workspace, clean)
		if err != nil || strings.HasPrefix(rel, "..") {
			return filepath.Join(workspace, filepath.Base(clean))
		}
		return match
	})
}

// sandboxEnv returns the current environment with HOME and TMPDIR pointed at
// the workspace, preventing shell expansions like ~ from escaping.
func sandboxEnv(workspace string) []string {
	env := os.Environ()
	result := make([]string, 0, len(env)+2)
	for _, e := range env {
		if strings.HasPrefix(e, "HOME=") || strings.HasPrefix(e, "TMPDIR=") {
			continue
		}
		result = append(result, e)
	}
	return append(result, "HOME="+workspace, "TMPDIR="+workspace)
}
