package serve

import (
	"time"

	warren "github.com/everydev1618/gowarren"
)

// --- SSE wire format ---

// Frame is one SSE event: `data: <JSON>\n\n`. The first frame after connect
// is {type:"init", payload:{status, cron}}.
type Frame struct {
	Type      string    `json:"type"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// InitPayload is the payload of the init frame.
type InitPayload struct {
	Status StatusResponse    `json:"status"`
	Cron   []warren.CronTask `json:"cron"`
}

// --- API Response Types ---

// StatusResponse contains engine status.
type StatusResponse struct {
	Stage  string `json:"stage"`
	Agents int    `json:"agents"`
	Uptime string `json:"uptime"`
}

// AgentResponse is the API representation of an agent.
type AgentResponse struct {
	AgentID    warren.AgentID         `json:"agent_id"`
	Descriptor warren.AgentDescriptor `json:"descriptor"`
	Provider   string                 `json:"provider,omitempty"`
	Messages   int                    `json:"messages"`
	Processing bool                   `json:"processing"`
	Pending    int                    `json:"pending"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

// HistoryResponse is an agent's projected session history.
type HistoryResponse struct {
	AgentID warren.AgentID         `json:"agent_id"`
	Records []warren.HistoryRecord `json:"records"`
}

// SendRequest injects a message into an agent.
type SendRequest struct {
	Text string `json:"text"`
}

// SendResponse acknowledges an injected message.
type SendResponse struct {
	AgentID warren.AgentID `json:"agent_id"`
}

// --- Dashboard event store ---

// StoreEvent is one persisted bus event for the dashboard timeline.
type StoreEvent struct {
	ID        int64     `json:"id"`
	Type      string    `json:"type"`
	AgentID   string    `json:"agent_id,omitempty"`
	Payload   string    `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Store persists dashboard events.
type Store interface {
	Init() error
	InsertEvent(e StoreEvent) error
	ListEvents(limit int) ([]StoreEvent, error)
	Close() error
}
