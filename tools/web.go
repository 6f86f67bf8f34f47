package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	warren "github.com/everydev1618/gowarren"
)

const (
	maxFetchBytes   = 512 * 1024
	webFetchTimeout = 30 * time.Second
)

// WebFetchTool retrieves a URL. Requires the agent's web permission.
type WebFetchTool struct {
	// Client overrides the default HTTP client, mainly for tests.
	Client *http.Client
}

func (t *WebFetchTool) Schema() warren.ToolSchema {
	return warren.ToolSchema{
		Name:        "web_fetch",
		Description: "Fetch a URL over HTTP(S) and return the response body.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{"type": "string", "description": "The URL to fetch"},
			},
			"required": []any{"url"},
		},
	}
}

func (t *WebFetchTool) Execute(ctx context.Context, args map[string]any, tc warren.ToolContext) (warren.ToolOutput, error) {
	rawURL, err := stringArg(args, "url")
	if err != nil {
		return warren.ToolOutput{}, err
	}
	if !tc.Permissions.Web {
		return warren.ToolOutput{}, fmt.Errorf("web access is not permitted")
	}
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return warren.ToolOutput{}, fmt.Errorf("unsupported URL scheme: %s", rawURL)
	}

	client := t.Client
	if client == nil {
		client = &http.Client{Timeout: webFetchTimeout}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return warren.ToolOutput{}, err
	}
	req.Header.Set("User-Agent", "warren/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return warren.ToolOutput{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes+1))
	if err != nil {
		return warren.ToolOutput{}, err
	}

	text := string(body)
	if len(body) > maxFetchBytes {
		text = text[:maxFetchBytes] + "\n[truncated]"
	}
	if resp.StatusCode >= 400 {
		return warren.ToolOutput{}, fmt.Errorf("HTTP %d: %s", resp.StatusCode, firstLine(text))
	}
	return warren.ToolOutput{Text: text}, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
