package warren

import (
	"encoding/json"
	"fmt"
)

// DescriptorType discriminates the agent descriptor variants.
type DescriptorType string

const (
	// DescriptorUser identifies an agent derived from an external chat identity.
	DescriptorUser DescriptorType = "user"

	// DescriptorCron identifies a scheduled-task agent.
	DescriptorCron DescriptorType = "cron"

	// DescriptorHeartbeat identifies the singleton periodic agent.
	DescriptorHeartbeat DescriptorType = "heartbeat"

	// DescriptorSubagent identifies a background agent spawned by another agent.
	DescriptorSubagent DescriptorType = "subagent"
)

// AgentDescriptor is the immutable identity record of an agent. Exactly one
// variant's fields are set, selected by Type. Two descriptors are equal iff
// all fields match.
type AgentDescriptor struct {
	Type DescriptorType `json:"type"`

	// user variant
	Connector string `json:"connector,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	ChannelID string `json:"channel_id,omitempty"`

	// cron and subagent variants
	ID string `json:"id,omitempty"`

	// subagent variant
	ParentAgentID AgentID `json:"parent_agent_id,omitempty"`
	Name          string  `json:"name,omitempty"`
}

// UserDescriptor builds a user-variant descriptor.
func UserDescriptor(connector, userID, channelID string) AgentDescriptor {
	return AgentDescriptor{
		Type:      DescriptorUser,
		Connector: connector,
		UserID:    userID,
		ChannelID: channelID,
	}
}

// CronDescriptor builds a cron-variant descriptor for a task uid.
func CronDescriptor(taskID string) AgentDescriptor {
	return AgentDescriptor{Type: DescriptorCron, ID: taskID}
}

// HeartbeatDescriptor builds the singleton heartbeat descriptor.
func HeartbeatDescriptor() AgentDescriptor {
	return AgentDescriptor{Type: DescriptorHeartbeat}
}

// SubagentDescriptor builds a subagent descriptor.
func SubagentDescriptor(id string, parent AgentID, name string) AgentDescriptor {
	return AgentDescriptor{Type: DescriptorSubagent, ID: id, ParentAgentID: parent, Name: name}
}

// Key returns the canonical reverse-lookup key for the descriptor, and
// whether one exists. Only user and heartbeat descriptors have keys; cron
// and subagent agents are addressed by agent id.
func (d AgentDescriptor) Key() (string, bool) {
	switch d.Type {
	case DescriptorUser:
		return "user:" + d.Connector + ":" + d.ChannelID + ":" + d.UserID, true
	case DescriptorHeartbeat:
		return "heartbeat", true
	}
	return "", false
}

// Equal reports whether two descriptors are the same identity.
func (d AgentDescriptor) Equal(o AgentDescriptor) bool {
	return d == o
}

// Validate checks that the descriptor's variant fields are consistent.
func (d AgentDescriptor) Validate() error {
	switch d.Type {
	case DescriptorUser:
		if d.Connector == "" || d.UserID == "" || d.ChannelID == "" {
			return fmt.Errorf("user descriptor missing fields: %+v", d)
		}
	case DescriptorCron:
		if d.ID == "" {
			return fmt.Errorf("cron descriptor missing task id")
		}
	case DescriptorHeartbeat:
		// No fields.
	case DescriptorSubagent:
		if d.ID == "" {
			return fmt.Errorf("subagent descriptor missing id")
		}
	default:
		return fmt.Errorf("unknown descriptor type %q", d.Type)
	}
	return nil
}

// decodeDescriptor parses a descriptor from JSON and validates it.
func decodeDescriptor(data []byte) (AgentDescriptor, error) {
	var d AgentDescriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return AgentDescriptor{}, err
	}
	if err := d.Validate(); err != nil {
		return AgentDescriptor{}, err
	}
	return d, nil
}
