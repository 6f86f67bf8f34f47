package warren

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ToolSchema describes a tool to the model.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// ToolOutput is a successful tool execution result.
type ToolOutput struct {
	Text  string
	Files []string
}

// ToolContext carries everything a tool may touch during execution: the
// calling agent's identity and permissions, the message context being
// processed, and the connector registry for outbound side effects.
type ToolContext struct {
	AgentID     AgentID
	Permissions Permissions
	Context     MessageContext
	Source      string
	Connectors  *ConnectorRegistry
	System      *AgentSystem
}

// Tool is a named, schema-validated function the model may invoke.
type Tool interface {
	Schema() ToolSchema
	Execute(ctx context.Context, args map[string]any, tc ToolContext) (ToolOutput, error)
}

// ToolRegistry maps tool names to implementations and is the engine's tool
// resolver. Execution never throws to the caller: every path, including
// unknown tools, bad arguments and panics, produces a toolResult message.
type ToolRegistry struct {
	mu       sync.RWMutex
	tools    map[string]Tool
	schemas  map[string]*jsonschema.Schema
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a tool. The input schema is compiled once here; a schema
// that fails to compile is a programming error.
func (r *ToolRegistry) Register(t Tool) error {
	schema := t.Schema()
	compiled, err := compileSchema(schema)
	if err != nil {
		return fmt.Errorf("tool %s: %w", schema.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[schema.Name]; ok {
		return fmt.Errorf("tool %s: already registered", schema.Name)
	}
	r.tools[schema.Name] = t
	r.schemas[schema.Name] = compiled
	return nil
}

// Schemas returns the active tool set for an inference call.
func (r *ToolRegistry) Schemas() []ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolSchema, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.Schema())
	}
	return out
}

// Execute runs the tool_call block and returns its toolResult message.
func (r *ToolRegistry) Execute(ctx context.Context, call Block, tc ToolContext) (result Message) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("tool panic", "tool", call.ToolName, "panic", rec)
			result = toolResultMessage(call.ToolCallID, fmt.Sprintf("tool %s panicked: %v", call.ToolName, rec), true, nil)
		}
	}()

	r.mu.RLock()
	tool, ok := r.tools[call.ToolName]
	compiled := r.schemas[call.ToolName]
	r.mu.RUnlock()

	if !ok {
		return toolResultMessage(call.ToolCallID, "Unknown tool: "+call.ToolName, true, nil)
	}

	args, err := decodeArguments(call.Arguments)
	if err != nil {
		return toolResultMessage(call.ToolCallID, "invalid arguments: "+err.Error(), true, nil)
	}
	if compiled != nil {
		if err := compiled.Validate(anyArguments(call.Arguments)); err != nil {
			return toolResultMessage(call.ToolCallID, "invalid arguments: "+err.Error(), true, nil)
		}
	}

	out, err := tool.Execute(ctx, args, tc)
	if err != nil {
		return toolResultMessage(call.ToolCallID, err.Error(), true, nil)
	}
	return toolResultMessage(call.ToolCallID, out.Text, false, out.Files)
}

func decodeArguments(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	return args, nil
}

// anyArguments decodes the raw arguments with the number handling the
// schema validator expects.
func anyArguments(raw json.RawMessage) any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	v, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return map[string]any{}
	}
	return v
}

func compileSchema(schema ToolSchema) (*jsonschema.Schema, error) {
	input := schema.InputSchema
	if input == nil {
		input = map[string]any{"type": "object"}
	}
	data, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	url := "inline://" + schema.Name + ".json"
	if err := compiler.AddResource(url, doc); err != nil {
		return nil, err
	}
	return compiler.Compile(url)
}
