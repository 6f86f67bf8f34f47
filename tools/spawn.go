package tools

import (
	"context"
	"fmt"

	warren "github.com/everydev1618/gowarren"
)

// SpawnAgentTool starts a background agent working on a prompt. The spawned
// agent inherits the caller's routing so its replies reach the same channel.
type SpawnAgentTool struct{}

func (t *SpawnAgentTool) Schema() warren.ToolSchema {
	return warren.ToolSchema{
		Name:        "spawn_agent",
		Description: "Start a background agent to work on a task independently. Returns its agent id immediately.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"prompt": map[string]any{"type": "string", "description": "Task for the background agent"},
				"name":   map[string]any{"type": "string", "description": "Optional short name for the agent"},
			},
			"required": []any{"prompt"},
		},
	}
}

func (t *SpawnAgentTool) Execute(ctx context.Context, args map[string]any, tc warren.ToolContext) (warren.ToolOutput, error) {
	prompt, err := stringArg(args, "prompt")
	if err != nil {
		return warren.ToolOutput{}, err
	}
	if tc.System == nil {
		return warren.ToolOutput{}, fmt.Errorf("background agents are not available")
	}
	name, _ := args["name"].(string)

	id := tc.System.StartBackgroundAgent(warren.BackgroundAgentRequest{
		Prompt:        prompt,
		ParentAgentID: tc.AgentID,
		Name:          name,
	})
	return warren.ToolOutput{Text: "Started background agent " + string(id)}, nil
}
