package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	warren "github.com/everydev1618/gowarren"
)

func toolContext(workingDir string) warren.ToolContext {
	return warren.ToolContext{Permissions: warren.DefaultPermissions(workingDir)}
}

func TestReadFileTool(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "note.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	tool := &ReadFileTool{}
	out, err := tool.Execute(context.Background(), map[string]any{"path": "note.txt"}, toolContext(dir))
	if err != nil {
		t.Fatalf("Execute() = %v", err)
	}
	if out.Text != "hello" {
		t.Errorf("Text = %q, want hello", out.Text)
	}
}

func TestReadFileToolDeniedOutsideRoots(t *testing.T) {
	tool := &ReadFileTool{}
	_, err := tool.Execute(context.Background(), map[string]any{"path": "/etc/passwd"}, toolContext(t.TempDir()))
	if err == nil || !strings.Contains(err.Error(), "not permitted") {
		t.Errorf("Execute() = %v, want permission error", err)
	}
}

func TestReadFileToolTruncatesLargeFiles(t *testing.T) {
	dir := t.TempDir()
	big := make([]byte, maxReadBytes+100)
	for i := range big {
		big[i] = 'a'
	}
	if err := os.WriteFile(filepath.Join(dir, "big.txt"), big, 0o644); err != nil {
		t.Fatal(err)
	}

	tool := &ReadFileTool{}
	out, err := tool.Execute(context.Background(), map[string]any{"path": "big.txt"}, toolContext(dir))
	if err != nil {
		t.Fatalf("Execute() = %v", err)
	}
	if !strings.Contains(out.Text, "[truncated") {
		t.Error("large file not truncated")
	}
}

func TestWriteFileToolCreatesParents(t *testing.T) {
	dir := t.TempDir()

	tool := &WriteFileTool{}
	out, err := tool.Execute(context.Background(), map[string]any{
		"path":    "sub/dir/out.txt",
		"content": "data",
	}, toolContext(dir))
	if err != nil {
		t.Fatalf("Execute() = %v", err)
	}
	if len(out.Files) != 1 {
		t.Errorf("Files = %v, want the written path", out.Files)
	}

	data, err := os.ReadFile(filepath.Join(dir, "sub", "dir", "out.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "data" {
		t.Errorf("written content = %q", data)
	}
}

func TestWriteFileToolDeniedOutsideRoots(t *testing.T) {
	tool := &WriteFileTool{}
	_, err := tool.Execute(context.Background(), map[string]any{
		"path":    "/tmp/escape.txt",
		"content": "x",
	}, toolContext(t.TempDir()))
	if err == nil || !strings.Contains(err.Error(), "not permitted") {
		t.Errorf("Execute() = %v, want permission error", err)
	}
}

func TestListDirTool(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "nested"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	tool := &ListDirTool{}
	out, err := tool.Execute(context.Background(), map[string]any{}, toolContext(dir))
	if err != nil {
		t.Fatalf("Execute() = %v", err)
	}
	if !strings.Contains(out.Text, "a.txt") || !strings.Contains(out.Text, "nested/") {
		t.Errorf("listing = %q, want file and dir with slash", out.Text)
	}
}

func TestWebFetchToolRequiresPermission(t *testing.T) {
	tool := &WebFetchTool{}
	_, err := tool.Execute(context.Background(), map[string]any{"url": "https://example.com"}, toolContext(t.TempDir()))
	if err == nil || !strings.Contains(err.Error(), "web access is not permitted") {
		t.Errorf("Execute() = %v, want web permission error", err)
	}
}

func TestWebFetchToolRejectsSchemes(t *testing.T) {
	tc := toolContext(t.TempDir())
	tc.Permissions.Web = true

	tool := &WebFetchTool{}
	_, err := tool.Execute(context.Background(), map[string]any{"url": "file:///etc/passwd"}, tc)
	if err == nil || !strings.Contains(err.Error(), "unsupported URL scheme") {
		t.Errorf("Execute() = %v, want scheme error", err)
	}
}

func TestRewriteCommandPaths(t *testing.T) {
	workspace := "/home/agent/workspace"

	tests := []struct {
		command string
		want    string
	}{
		{"cat /etc/passwd", "cat " + workspace + "/passwd"},
		{"cat " + workspace + "/notes.txt", "cat " + workspace + "/notes.txt"},
		{"ls relative/path", "ls relative/path"},
		{"echo hi", "echo hi"},
	}

	for _, tt := range tests {
		if got := rewriteCommandPaths(tt.command, workspace); got != tt.want {
			t.Errorf("rewriteCommandPaths(%q) = %q, want %q", tt.command, got, tt.want)
		}
	}
}

func TestSandboxEnvOverridesHome(t *testing.T) {
	env := sandboxEnv("/ws")

	var home, tmpdir string
	for _, e := range env {
		if strings.HasPrefix(e, "HOME=") {
			home = e
		}
		if strings.HasPrefix(e, "TMPDIR=") {
			tmpdir = e
		}
	}
	if home != "HOME=/ws" || tmpdir != "TMPDIR=/ws" {
		t.Errorf("HOME = %q, TMPDIR = %q, want both pointed at the workspace", home, tmpdir)
	}
}

func TestFormatExecResult(t *testing.T) {
	out, err := formatExecResult("stdout text", "warning", 0)
	if err != nil {
		t.Fatalf("formatExecResult() = %v", err)
	}
	if !strings.Contains(out.Text, "stdout text") || !strings.Contains(out.Text, "stderr:\nwarning") {
		t.Errorf("Text = %q, want stdout and labeled stderr", out.Text)
	}

	if _, err := formatExecResult("", "boom", 2); err == nil || !strings.Contains(err.Error(), "exit code 2") {
		t.Errorf("nonzero exit = %v, want exit code error", err)
	}
}

func TestRegisterBuiltins(t *testing.T) {
	reg := warren.NewToolRegistry()
	if err := RegisterBuiltins(reg, nil); err != nil {
		t.Fatalf("RegisterBuiltins() = %v", err)
	}

	want := []string{"read_file", "write_file", "list_dir", "web_fetch", "exec", "spawn_agent", "request_permission"}
	names := map[string]bool{}
	for _, s := range reg.Schemas() {
		names[s.Name] = true
	}
	for _, name := range want {
		if !names[name] {
			t.Errorf("builtin %q not registered", name)
		}
	}
}
