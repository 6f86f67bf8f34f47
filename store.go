package warren

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Log entry kinds.
const (
	EntrySessionCreated = "session_created"
	EntryIncoming       = "incoming"
	EntryOutgoing       = "outgoing"
	EntryState          = "state"
	EntryNote           = "note"
)

// Outgoing origins.
const (
	OriginModel  = "model"
	OriginSystem = "system"
)

// LogEntry is one line of an agent's log.jsonl. All entries carry the type,
// ids and timestamp; the remaining fields depend on the kind.
type LogEntry struct {
	Type      string          `json:"type"`
	AgentID   AgentID         `json:"agent_id"`
	StorageID StorageID       `json:"storage_id"`
	Source    string          `json:"source,omitempty"`
	MessageID string          `json:"message_id,omitempty"`
	Context   *MessageContext `json:"context,omitempty"`
	At        time.Time       `json:"at"`

	// session_created
	Descriptor *AgentDescriptor `json:"descriptor,omitempty"`
	CreatedAt  *time.Time       `json:"created_at,omitempty"`

	// incoming / outgoing
	Text       string     `json:"text,omitempty"`
	Files      []string   `json:"files,omitempty"`
	Origin     string     `json:"origin,omitempty"`
	ReceivedAt *time.Time `json:"received_at,omitempty"`
	SentAt     *time.Time `json:"sent_at,omitempty"`

	// state
	State     *AgentState `json:"state,omitempty"`
	UpdatedAt *time.Time  `json:"updated_at,omitempty"`

	// note
	Kind string `json:"kind,omitempty"`
}

// HistoryKind classifies projected history records.
type HistoryKind string

const (
	HistoryStart         HistoryKind = "start"
	HistoryReset         HistoryKind = "reset"
	HistoryUserMessage   HistoryKind = "user_message"
	HistoryAssistantMsg  HistoryKind = "assistant_message"
	HistoryToolResult    HistoryKind = "tool_result"
	HistoryNote          HistoryKind = "note"
)

// HistoryRecord is the projection of a log entry for history queries.
// Derived from the log, never primary.
type HistoryRecord struct {
	Kind  HistoryKind `json:"kind"`
	Text  string      `json:"text,omitempty"`
	Files []string    `json:"files,omitempty"`
	At    time.Time   `json:"at"`
}

// LoadedAgent is one agent as recovered from disk.
type LoadedAgent struct {
	AgentID       AgentID
	StorageID     StorageID
	Descriptor    AgentDescriptor
	State         AgentState
	LastEntryKind string
}

// SessionStore persists per-agent session data under
// dataDir/agents/<agentId>/: an append-only log.jsonl, atomically replaced
// descriptor.json and state.json snapshots, and a files/ directory.
//
// Each agent directory has a single writer (the owning agent goroutine);
// reads may run concurrently and must tolerate a partial trailing line.
type SessionStore struct {
	dataDir string

	mu    sync.Mutex
	locks map[AgentID]*sync.Mutex
}

// NewSessionStore creates a store rooted at dataDir.
func NewSessionStore(dataDir string) *SessionStore {
	return &SessionStore{
		dataDir: dataDir,
		locks:   make(map[AgentID]*sync.Mutex),
	}
}

// AgentDir returns the directory for an agent id.
func (s *SessionStore) AgentDir(id AgentID) string {
	return filepath.Join(s.dataDir, "agents", string(id))
}

// FilesDir returns the attachment directory for an agent id.
func (s *SessionStore) FilesDir(id AgentID) string {
	return filepath.Join(s.AgentDir(id), "files")
}

func (s *SessionStore) lock(id AgentID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// RecordSessionCreated creates the agent directory, writes descriptor.json
// and appends the session_created entry.
func (s *SessionStore) RecordSessionCreated(id AgentID, storage StorageID, descriptor AgentDescriptor) error {
	l := s.lock(id)
	l.Lock()
	defer l.Unlock()

	dir := s.AgentDir(id)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	data, err := json.Marshal(descriptor)
	if err != nil {
		return err
	}
	if err := atomicWrite(filepath.Join(dir, "descriptor.json"), data); err != nil {
		return err
	}
	now := time.Now().UTC()
	return s.append(id, LogEntry{
		Type:       EntrySessionCreated,
		AgentID:    id,
		StorageID:  storage,
		At:         now,
		Descriptor: &descriptor,
		CreatedAt:  &now,
	})
}

// RecordIncoming appends an incoming entry.
func (s *SessionStore) RecordIncoming(id AgentID, storage StorageID, source, text string, files []string, ctx MessageContext) error {
	l := s.lock(id)
	l.Lock()
	defer l.Unlock()

	now := time.Now().UTC()
	stripped := ctx.stripTransient()
	return s.append(id, LogEntry{
		Type:       EntryIncoming,
		AgentID:    id,
		StorageID:  storage,
		Source:     source,
		MessageID:  ctx.MessageID,
		Context:    &stripped,
		At:         now,
		Text:       text,
		Files:      files,
		ReceivedAt: &now,
	})
}

// RecordOutgoing appends an outgoing entry.
func (s *SessionStore) RecordOutgoing(id AgentID, storage StorageID, source, text string, files []string, origin string, ctx MessageContext) error {
	l := s.lock(id)
	l.Lock()
	defer l.Unlock()

	now := time.Now().UTC()
	stripped := ctx.stripTransient()
	return s.append(id, LogEntry{
		Type:      EntryOutgoing,
		AgentID:   id,
		StorageID: storage,
		Source:    source,
		Context:   &stripped,
		At:        now,
		Text:      text,
		Files:     files,
		Origin:    origin,
		SentAt:    &now,
	})
}

// RecordState appends a state entry and atomically rewrites state.json with
// the normalized snapshot.
func (s *SessionStore) RecordState(id AgentID, storage StorageID, state AgentState) error {
	l := s.lock(id)
	l.Lock()
	defer l.Unlock()

	normalized := state.normalized()
	data, err := json.Marshal(normalized)
	if err != nil {
		return err
	}
	if err := atomicWrite(filepath.Join(s.AgentDir(id), "state.json"), data); err != nil {
		return err
	}
	now := time.Now().UTC()
	return s.append(id, LogEntry{
		Type:      EntryState,
		AgentID:   id,
		StorageID: storage,
		At:        now,
		State:     &normalized,
		UpdatedAt: &normalized.UpdatedAt,
	})
}

// RecordNote appends a note entry.
func (s *SessionStore) RecordNote(id AgentID, storage StorageID, kind, text string) error {
	l := s.lock(id)
	l.Lock()
	defer l.Unlock()

	now := time.Now().UTC()
	return s.append(id, LogEntry{
		Type:      EntryNote,
		AgentID:   id,
		StorageID: storage,
		At:        now,
		Kind:      kind,
		Text:      text,
	})
}

// append writes one JSONL line. Entries are single JSON objects, UTF-8,
// newline terminated, never mutated in place.
func (s *SessionStore) append(id AgentID, entry LogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(s.AgentDir(id), "log.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return err
	}
	return f.Sync()
}

// LoadAgents enumerates agent directories, returning every agent whose
// descriptor and state parse. Corrupt agents are logged and skipped, never
// fatal to the engine.
func (s *SessionStore) LoadAgents() ([]LoadedAgent, error) {
	entries, err := os.ReadDir(filepath.Join(s.dataDir, "agents"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var loaded []LoadedAgent
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id := AgentID(entry.Name())
		if !ValidAgentID(string(id)) {
			slog.Warn("store: skipping directory with invalid agent id", "dir", entry.Name())
			continue
		}
		agent, err := s.loadAgent(id)
		if err != nil {
			slog.Warn("store: skipping corrupt agent", "agent_id", id, "error", err)
			continue
		}
		loaded = append(loaded, agent)
	}
	return loaded, nil
}

func (s *SessionStore) loadAgent(id AgentID) (LoadedAgent, error) {
	dir := s.AgentDir(id)

	descData, err := os.ReadFile(filepath.Join(dir, "descriptor.json"))
	if err != nil {
		return LoadedAgent{}, fmt.Errorf("descriptor: %w", err)
	}
	descriptor, err := decodeDescriptor(descData)
	if err != nil {
		return LoadedAgent{}, fmt.Errorf("descriptor: %w", err)
	}

	stateData, err := os.ReadFile(filepath.Join(dir, "state.json"))
	var state AgentState
	if err != nil {
		if !os.IsNotExist(err) {
			return LoadedAgent{}, fmt.Errorf("state: %w", err)
		}
		// Session created but never snapshotted; start fresh.
		state = NewAgentState(descriptor, "")
	} else {
		state, err = decodeAgentState(stateData)
		if err != nil {
			return LoadedAgent{}, fmt.Errorf("state: %w", err)
		}
	}

	lastKind, storage := s.scanTail(id)
	if storage == "" {
		storage = StorageID(id)
	}
	return LoadedAgent{
		AgentID:       id,
		StorageID:     storage,
		Descriptor:    descriptor,
		State:         state,
		LastEntryKind: lastKind,
	}, nil
}

// scanTail returns the kind and storage id of the last complete log line.
func (s *SessionStore) scanTail(id AgentID) (string, StorageID) {
	f, err := os.Open(filepath.Join(s.AgentDir(id), "log.jsonl"))
	if err != nil {
		return "", ""
	}
	defer f.Close()

	var lastKind string
	var storage StorageID
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry LogEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			// Partial or corrupt trailing line; tolerated.
			continue
		}
		lastKind = entry.Type
		if entry.StorageID != "" {
			storage = entry.StorageID
		}
	}
	return lastKind, storage
}

// ReadHistory scans the log into history records. Unparseable lines are
// logged and skipped; a partial trailing line is tolerated.
func (s *SessionStore) ReadHistory(id AgentID) ([]HistoryRecord, error) {
	f, err := os.Open(filepath.Join(s.AgentDir(id), "log.jsonl"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var records []HistoryRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry LogEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			slog.Warn("store: skipping bad log line", "agent_id", id, "error", err)
			continue
		}
		if record, ok := projectHistory(entry); ok {
			records = append(records, record)
		}
	}
	return records, nil
}

func projectHistory(entry LogEntry) (HistoryRecord, bool) {
	switch entry.Type {
	case EntrySessionCreated:
		return HistoryRecord{Kind: HistoryStart, At: entry.At}, true
	case EntryIncoming:
		return HistoryRecord{Kind: HistoryUserMessage, Text: entry.Text, Files: entry.Files, At: entry.At}, true
	case EntryOutgoing:
		return HistoryRecord{Kind: HistoryAssistantMsg, Text: entry.Text, Files: entry.Files, At: entry.At}, true
	case EntryNote:
		switch entry.Kind {
		case "reset":
			return HistoryRecord{Kind: HistoryReset, At: entry.At}, true
		case "tool_result":
			return HistoryRecord{Kind: HistoryToolResult, Text: entry.Text, At: entry.At}, true
		default:
			return HistoryRecord{Kind: HistoryNote, Text: entry.Text, At: entry.At}, true
		}
	}
	// state entries are snapshots, not history.
	return HistoryRecord{}, false
}

// atomicWrite writes data to path via a same-directory temp file and rename,
// so concurrent readers see either the old or the new content.
func atomicWrite(path string, data []byte) error {
	tmp := fmt.Sprintf("%s.tmp-%d-%d", path, os.Getpid(), time.Now().UnixNano())
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
