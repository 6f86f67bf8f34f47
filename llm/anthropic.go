// Package llm provides inference provider implementations.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	warren "github.com/everydev1618/gowarren"
)

// Default Anthropic configuration values
const (
	DefaultAnthropicTimeout = 5 * time.Minute
	DefaultAnthropicModel   = "claude-sonnet-4-20250514"
	DefaultAnthropicBaseURL = "https://api.anthropic.com"
	DefaultMaxTokens        = 8192
)

// AnthropicClient is an InferenceClient backed by the Anthropic API.
type AnthropicClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	model      string
	maxTokens  int
}

// AnthropicOption configures the Anthropic client.
type AnthropicOption func(*AnthropicClient)

// WithAPIKey sets the API key.
func WithAPIKey(key string) AnthropicOption {
	return func(a *AnthropicClient) { a.apiKey = key }
}

// WithModel sets the model.
func WithModel(model string) AnthropicOption {
	return func(a *AnthropicClient) { a.model = model }
}

// WithBaseURL sets the API base URL.
func WithBaseURL(url string) AnthropicOption {
	return func(a *AnthropicClient) { a.baseURL = url }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) AnthropicOption {
	return func(a *AnthropicClient) { a.httpClient = client }
}

// NewAnthropic creates an Anthropic client. The API key defaults to
// ANTHROPIC_API_KEY.
func NewAnthropic(opts ...AnthropicOption) *AnthropicClient {
	a := &AnthropicClient{
		apiKey:     os.Getenv("ANTHROPIC_API_KEY"),
		baseURL:    DefaultAnthropicBaseURL,
		httpClient: &http.Client{Timeout: DefaultAnthropicTimeout},
		model:      DefaultAnthropicModel,
		maxTokens:  DefaultMaxTokens,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// AnthropicFactory returns the provider factory for the "anthropic" id.
// Recognized options: api_key, base_url, max_tokens.
func AnthropicFactory() warren.ProviderFactory {
	return func(cfg warren.ProviderConfig) (warren.InferenceClient, error) {
		opts := []AnthropicOption{}
		if cfg.Model != "" {
			opts = append(opts, WithModel(cfg.Model))
		}
		if v, ok := cfg.Options["api_key"].(string); ok && v != "" {
			opts = append(opts, WithAPIKey(v))
		}
		if v, ok := cfg.Options["base_url"].(string); ok && v != "" {
			opts = append(opts, WithBaseURL(v))
		}
		a := NewAnthropic(opts...)
		if v, ok := cfg.Options["max_tokens"].(int); ok && v > 0 {
			a.maxTokens = v
		}
		if a.apiKey == "" {
			return nil, fmt.Errorf("anthropic: no API key configured")
		}
		return a, nil
	}
}

// ModelID names the concrete model the client calls.
func (a *AnthropicClient) ModelID() string { return a.model }

// cacheControl marks a block for Anthropic prompt caching.
type cacheControl struct {
	Type string `json:"type"` // "ephemeral"
}

type systemBlock struct {
	Type         string        `json:"type"`
	Text         string        `json:"text"`
	CacheControl *cacheControl `json:"cache_control,omitempty"`
}

type anthropicRequest struct {
	Model     string          `json:"model"`
	Messages  []anthropicMsg  `json:"messages"`
	System    any             `json:"system,omitempty"` // string or []systemBlock
	MaxTokens int             `json:"max_tokens"`
	Tools     []anthropicTool `json:"tools,omitempty"`
}

type anthropicMsg struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type anthropicTool struct {
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	InputSchema  map[string]any `json:"input_schema"`
	CacheControl *cacheControl  `json:"cache_control,omitempty"`
}

type anthropicResponse struct {
	ID         string         `json:"id"`
	Content    []contentBlock `json:"content"`
	Model      string         `json:"model"`
	StopReason string         `json:"stop_reason"`
	Usage      struct {
		InputTokens              int `json:"input_tokens"`
		OutputTokens             int `json:"output_tokens"`
		CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
		CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	} `json:"usage"`
}

// ValidateKey makes a minimal API call to verify the API key is valid.
func (a *AnthropicClient) ValidateKey(ctx context.Context) error {
	if a.apiKey == "" {
		return fmt.Errorf("API key is empty")
	}
	req := &anthropicRequest{
		Model:     a.model,
		MaxTokens: 1,
		Messages: []anthropicMsg{{
			Role:    "user",
			Content: []contentBlock{{Type: "text", Text: "hi"}},
		}},
	}
	if _, err := a.doRequest(ctx, req); err != nil {
		return fmt.Errorf("could not reach Anthropic API: %w", err)
	}
	return nil
}

// Complete runs one non-streaming completion.
func (a *AnthropicClient) Complete(ctx context.Context, req warren.CompletionRequest) (warren.Message, error) {
	start := time.Now()

	apiReq := a.buildRequest(req)
	resp, err := a.doRequest(ctx, apiReq)
	if err != nil {
		return warren.Message{}, err
	}

	slog.Debug("anthropic completion",
		"agent_id", req.AgentID,
		"model", resp.Model,
		"stop", resp.StopReason,
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
		"cache_read_tokens", resp.Usage.CacheReadInputTokens,
		"latency_ms", time.Since(start).Milliseconds())

	return parseResponse(resp), nil
}

// buildRequest converts the engine's message history into the Anthropic wire
// shape: tool results become user-role tool_result blocks, system notes
// become user text, and the prompt prefix (system + tools) is marked for
// caching.
func (a *AnthropicClient) buildRequest(req warren.CompletionRequest) *anthropicRequest {
	out := &anthropicRequest{
		Model:     a.model,
		MaxTokens: a.maxTokens,
	}

	if req.System != "" {
		out.System = []systemBlock{{
			Type:         "text",
			Text:         req.System,
			CacheControl: &cacheControl{Type: "ephemeral"},
		}}
	}

	for _, msg := range req.Messages {
		role := "user"
		if msg.Role == warren.RoleAssistant {
			role = "assistant"
		}

		var blocks []contentBlock
		for _, b := range msg.Blocks {
			switch b.Type {
			case warren.BlockText:
				if b.Text != "" {
					blocks = append(blocks, contentBlock{Type: "text", Text: b.Text})
				}
			case warren.BlockToolCall:
				input := b.Arguments
				if len(input) == 0 {
					input = json.RawMessage(`{}`)
				}
				blocks = append(blocks, contentBlock{
					Type:  "tool_use",
					ID:    b.ToolCallID,
					Name:  b.ToolName,
					Input: input,
				})
			case warren.BlockToolResult:
				blocks = append(blocks, contentBlock{
					Type:      "tool_result",
					ToolUseID: b.ToolCallID,
					Content:   b.Text,
					IsError:   b.IsError,
				})
			}
		}
		if len(blocks) == 0 {
			continue
		}

		// Merge into the previous message when roles match; the API
		// rejects consecutive same-role messages.
		if n := len(out.Messages); n > 0 && out.Messages[n-1].Role == role {
			out.Messages[n-1].Content = append(out.Messages[n-1].Content, blocks...)
			continue
		}
		out.Messages = append(out.Messages, anthropicMsg{Role: role, Content: blocks})
	}

	for i, t := range req.Tools {
		at := anthropicTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		}
		if i == len(req.Tools)-1 {
			at.CacheControl = &cacheControl{Type: "ephemeral"}
		}
		out.Tools = append(out.Tools, at)
	}

	return out
}

func parseResponse(resp *anthropicResponse) warren.Message {
	msg := warren.Message{Role: warren.RoleAssistant, At: time.Now().UTC()}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			msg.Blocks = append(msg.Blocks, warren.Block{Type: warren.BlockText, Text: block.Text})
		case "tool_use":
			msg.Blocks = append(msg.Blocks, warren.Block{
				Type:       warren.BlockToolCall,
				ToolCallID: block.ID,
				ToolName:   block.Name,
				Arguments:  block.Input,
			})
		}
	}
	return msg
}

func (a *AnthropicClient) createHTTPRequest(ctx context.Context, req *anthropicRequest) (*http.Request, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", a.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")
	return httpReq, nil
}

func (a *AnthropicClient) doRequest(ctx context.Context, req *anthropicRequest) (*anthropicResponse, error) {
	const maxRetries = 5

	for attempt := 0; attempt <= maxRetries; attempt++ {
		httpReq, err := a.createHTTPRequest(ctx, req)
		if err != nil {
			return nil, err
		}

		httpResp, err := a.httpClient.Do(httpReq)
		if err != nil {
			return nil, fmt.Errorf("http request: %w", err)
		}

		body, err := io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}

		if httpResp.StatusCode == http.StatusOK {
			var resp anthropicResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				return nil, fmt.Errorf("unmarshal response: %w", err)
			}
			return &resp, nil
		}

		// Retry on 429 (rate limit) and 529 (overloaded).
		if (httpResp.StatusCode == 429 || httpResp.StatusCode == 529) && attempt < maxRetries {
			wait := retryAfterDelay(httpResp, attempt)
			slog.Warn("API rate limited, retrying", "status", httpResp.StatusCode, "attempt", attempt+1, "wait", wait)
			select {
			case <-time.After(wait):
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		return nil, fmt.Errorf("API error %d: %s", httpResp.StatusCode, string(body))
	}

	return nil, fmt.Errorf("max retries exceeded")
}

// retryAfterDelay returns how long to wait before retrying a rate-limited
// request. It respects the retry-after header if present, otherwise uses
// exponential backoff.
func retryAfterDelay(resp *http.Response, attempt int) time.Duration {
	if ra := resp.Header.Get("retry-after"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	// Exponential backoff: 5s, 10s, 20s, 40s, 60s
	wait := time.Duration(5<<uint(attempt)) * time.Second
	if wait > 60*time.Second {
		wait = 60 * time.Second
	}
	return wait
}
