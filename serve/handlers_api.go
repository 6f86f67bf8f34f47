package serve

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"strings"

	warren "github.com/everydev1618/gowarren"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleStatus returns engine status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

// handleListAgents returns all live agents, newest activity first.
func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents := s.system.Agents()
	out := make([]AgentResponse, 0, len(agents))
	for _, a := range agents {
		out = append(out, agentResponse(a))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	writeJSON(w, http.StatusOK, out)
}

// handleGetAgent returns one agent.
func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	agent := s.system.Get(warren.AgentID(r.PathValue("id")))
	if agent == nil {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, agentResponse(agent))
}

// handleHistory returns the agent's projected session history.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := warren.AgentID(r.PathValue("id"))
	if s.system.Get(id) == nil {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}
	records, err := s.sessions.ReadHistory(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, HistoryResponse{AgentID: id, Records: records})
}

// handleReset posts a reset item to the agent. Unknown agents are a no-op,
// mirroring the engine semantics, but reported to the caller.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	id := warren.AgentID(r.PathValue("id"))
	if s.system.Get(id) == nil {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}
	s.system.Reset(id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSend injects a system-authored message into an agent.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	id, err := s.system.SendAgentMessage(warren.AgentMessageRequest{
		AgentID: warren.AgentID(r.PathValue("id")),
		Text:    req.Text,
	})
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, SendResponse{AgentID: id})
}

// handleListCron returns the registered cron tasks.
func (s *Server) handleListCron(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cron.Tasks())
}

// handleAddCron registers a task.
func (s *Server) handleAddCron(w http.ResponseWriter, r *http.Request) {
	var task warren.CronTask
	if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	added, err := s.cron.AddTask(task)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, added)
}

// handleRemoveCron unregisters a task.
func (s *Server) handleRemoveCron(w http.ResponseWriter, r *http.Request) {
	if err := s.cron.RemoveTask(r.PathValue("id")); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleTimeline returns recent persisted bus events, newest first.
func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	events, err := s.store.ListEvents(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func agentResponse(a *warren.Agent) AgentResponse {
	state := a.State()
	return AgentResponse{
		AgentID:    a.ID(),
		Descriptor: state.Descriptor,
		Provider:   state.ProviderID,
		Messages:   len(state.Messages),
		Processing: a.IsProcessing(),
		Pending:    a.Pending(),
		CreatedAt:  state.CreatedAt,
		UpdatedAt:  state.UpdatedAt,
	}
}
