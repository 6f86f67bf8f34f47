package warren

import (
	"encoding/json"
	"strings"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleToolCall   Role = "toolCall"
	RoleToolResult Role = "toolResult"
	RoleSystemNote Role = "system-note"
)

// BlockType discriminates message content blocks.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolCall   BlockType = "tool_call"
	BlockToolResult BlockType = "tool_result"
)

// Block is one unit of message content. Text blocks carry Text; tool_call
// blocks carry ToolCallID, ToolName and Arguments; tool_result blocks carry
// ToolCallID, Text and IsError.
type Block struct {
	Type       BlockType       `json:"type"`
	Text       string          `json:"text,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	Arguments  json.RawMessage `json:"arguments,omitempty"`
	IsError    bool            `json:"is_error,omitempty"`
	Files      []string        `json:"files,omitempty"`
}

// Message is an ordered sequence of content blocks with a role.
type Message struct {
	Role   Role      `json:"role"`
	Blocks []Block   `json:"blocks"`
	At     time.Time `json:"at,omitempty"`
}

// TextMessage builds a single-text-block message.
func TextMessage(role Role, text string) Message {
	return Message{
		Role:   role,
		Blocks: []Block{{Type: BlockText, Text: text}},
		At:     time.Now().UTC(),
	}
}

// Text concatenates all text blocks of the message with newlines.
func (m Message) Text() string {
	var parts []string
	for _, b := range m.Blocks {
		if b.Type == BlockText && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// ToolCalls returns the tool_call blocks in declaration order.
func (m Message) ToolCalls() []Block {
	var calls []Block
	for _, b := range m.Blocks {
		if b.Type == BlockToolCall {
			calls = append(calls, b)
		}
	}
	return calls
}

// FileRefs returns all file references attached to the message blocks.
func (m Message) FileRefs() []string {
	var files []string
	for _, b := range m.Blocks {
		files = append(files, b.Files...)
	}
	return files
}

// toolResultMessage builds the toolResult message answering a tool_call block.
func toolResultMessage(callID, text string, isError bool, files []string) Message {
	return Message{
		Role: RoleToolResult,
		Blocks: []Block{{
			Type:       BlockToolResult,
			ToolCallID: callID,
			Text:       text,
			IsError:    isError,
			Files:      files,
		}},
		At: time.Now().UTC(),
	}
}
