package tools

import (
	"context"
	"fmt"

	warren "github.com/everydev1618/gowarren"
)

// RequestPermissionTool asks the user, through the source connector, to
// grant the agent additional access. The grant itself arrives later as a
// permission decision; the tool only delivers the prompt.
type RequestPermissionTool struct{}

func (t *RequestPermissionTool) Schema() warren.ToolSchema {
	return warren.ToolSchema{
		Name:        "request_permission",
		Description: "Ask the user to grant web access or read/write access to a directory. The user must approve before the access takes effect.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"kind": map[string]any{
					"type":        "string",
					"enum":        []any{"web", "read", "write"},
					"description": "The capability to request",
				},
				"path": map[string]any{
					"type":        "string",
					"description": "Absolute directory path, required for read and write",
				},
			},
			"required": []any{"kind"},
		},
	}
}

func (t *RequestPermissionTool) Execute(ctx context.Context, args map[string]any, tc warren.ToolContext) (warren.ToolOutput, error) {
	kindArg, err := stringArg(args, "kind")
	if err != nil {
		return warren.ToolOutput{}, err
	}
	kind := warren.AccessKind(kindArg)
	switch kind {
	case warren.AccessWeb, warren.AccessRead, warren.AccessWrite:
	default:
		return warren.ToolOutput{}, fmt.Errorf("unknown access kind %q", kindArg)
	}

	path, _ := args["path"].(string)
	if kind != warren.AccessWeb && path == "" {
		return warren.ToolOutput{}, fmt.Errorf("path is required for %s access", kind)
	}

	connector := tc.Connectors.Get(tc.Source)
	if connector == nil {
		return warren.ToolOutput{}, fmt.Errorf("no connector for source %q", tc.Source)
	}
	requester, ok := connector.(warren.PermissionRequester)
	if !ok {
		return warren.ToolOutput{}, fmt.Errorf("connector %q cannot prompt for permissions", tc.Source)
	}

	var descriptor warren.AgentDescriptor
	if tc.System != nil {
		if agent := tc.System.Get(tc.AgentID); agent != nil {
			descriptor = agent.State().Descriptor
		}
	}

	request := []warren.AccessRequest{{Kind: kind, Path: path}}
	if err := requester.RequestPermission(tc.Context.ChannelID, request, tc.Context, descriptor); err != nil {
		return warren.ToolOutput{}, err
	}
	return warren.ToolOutput{Text: "Permission request sent. The access takes effect once the user approves."}, nil
}
