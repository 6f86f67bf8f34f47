package warren

import (
	"encoding/json"
	"time"
)

// Routing remembers where an agent's replies go: the connector source and
// the message context of the first user message. Transient fields
// (MessageID, ephemeral command markers) are stripped before persistence.
type Routing struct {
	Source  string         `json:"source"`
	Context MessageContext `json:"context"`
}

// MessageContext carries the connector-level addressing of a message.
type MessageContext struct {
	ChannelID string `json:"channel_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	TaskID    string `json:"task_id,omitempty"`
	Command   string `json:"command,omitempty"`
}

// stripTransient drops the fields that must not survive persistence.
func (c MessageContext) stripTransient() MessageContext {
	c.MessageID = ""
	c.Command = ""
	return c
}

// BackgroundMeta marks an agent as a background (spawned) agent.
type BackgroundMeta struct {
	Kind          string  `json:"kind"`
	ParentAgentID AgentID `json:"parent_agent_id,omitempty"`
	Name          string  `json:"name,omitempty"`
}

// AgentState is the full in-memory and persisted state of one agent.
// Messages are append-only within a turn; UpdatedAt never precedes CreatedAt.
type AgentState struct {
	Messages    []Message       `json:"messages"`
	ProviderID  string          `json:"provider_id,omitempty"`
	Permissions Permissions     `json:"permissions"`
	Descriptor  AgentDescriptor `json:"descriptor"`
	Routing     *Routing        `json:"routing,omitempty"`
	Meta        *BackgroundMeta `json:"meta,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// NewAgentState builds the initial state for a descriptor.
func NewAgentState(descriptor AgentDescriptor, workingDir string) AgentState {
	now := time.Now().UTC()
	return AgentState{
		Messages:    []Message{},
		Permissions: DefaultPermissions(workingDir),
		Descriptor:  descriptor,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// normalized returns a persistence-safe copy: transient routing fields
// stripped, UpdatedAt clamped to be at least CreatedAt.
func (s AgentState) normalized() AgentState {
	if s.Routing != nil {
		r := *s.Routing
		r.Context = r.Context.stripTransient()
		s.Routing = &r
	}
	if s.UpdatedAt.Before(s.CreatedAt) {
		s.UpdatedAt = s.CreatedAt
	}
	return s
}

// stateFields is the set of recognized top-level state keys. Unknown keys
// found on disk are stripped on read.
var stateFields = map[string]bool{
	"messages":    true,
	"provider_id": true,
	"permissions": true,
	"descriptor":  true,
	"routing":     true,
	"meta":        true,
	"created_at":  true,
	"updated_at":  true,
}

// decodeAgentState parses persisted state, stripping unknown top-level
// fields. Missing required fields make the whole state corrupt.
func decodeAgentState(data []byte) (AgentState, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return AgentState{}, err
	}
	for k := range raw {
		if !stateFields[k] {
			delete(raw, k)
		}
	}
	for _, required := range []string{"messages", "permissions", "descriptor", "created_at", "updated_at"} {
		if _, ok := raw[required]; !ok {
			return AgentState{}, ErrCorruptState
		}
	}
	cleaned, err := json.Marshal(raw)
	if err != nil {
		return AgentState{}, err
	}
	var s AgentState
	if err := json.Unmarshal(cleaned, &s); err != nil {
		return AgentState{}, err
	}
	if err := s.Descriptor.Validate(); err != nil {
		return AgentState{}, ErrCorruptState
	}
	return s, nil
}
