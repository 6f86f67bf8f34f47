package warren

import (
	"strings"

	"github.com/google/uuid"
)

// AgentID is the stable primary key for an agent and all of its persisted
// data. It is an opaque 32-character lowercase hex string.
type AgentID string

// StorageID names the on-disk session directory for an agent. It is minted
// once per agent and never reused.
type StorageID string

// NewAgentID mints a fresh agent id.
func NewAgentID() AgentID {
	return AgentID(newOpaqueID())
}

// NewStorageID mints a fresh storage id.
func NewStorageID() StorageID {
	return StorageID(newOpaqueID())
}

func newOpaqueID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// ValidAgentID reports whether s is a well-formed agent id:
// 24 to 32 lowercase alphanumeric characters.
func ValidAgentID(s string) bool {
	if len(s) < 24 || len(s) > 32 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}

func (id AgentID) String() string   { return string(id) }
func (id StorageID) String() string { return string(id) }
