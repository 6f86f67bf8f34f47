package warren

import "errors"

// Standard errors
var (
	// ErrAgentNotFound is returned when an agent id does not resolve to a live agent.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrNoProvider is returned by the inference router when no configured
	// provider yields a reply.
	ErrNoProvider = errors.New("no inference provider available")

	// ErrSystemNotRunning is returned when an operation requires a running AgentSystem.
	ErrSystemNotRunning = errors.New("agent system is not running")

	// ErrInboxClosed is returned when posting to or draining a closed inbox.
	ErrInboxClosed = errors.New("inbox closed")

	// ErrNotCompleted is returned when reading a completion that has not resolved.
	ErrNotCompleted = errors.New("operation not completed")

	// ErrInvalidAgentID is returned for ids that are not 24-32 lowercase alphanumerics.
	ErrInvalidAgentID = errors.New("invalid agent id")

	// ErrPathNotAbsolute is returned when a permission decision carries a
	// path that is not absolute after canonicalization.
	ErrPathNotAbsolute = errors.New("path is not absolute")

	// ErrCorruptState is returned when persisted agent state fails validation.
	ErrCorruptState = errors.New("corrupt agent state")

	// ErrShutdown is returned for work abandoned during engine shutdown.
	ErrShutdown = errors.New("engine shutting down")
)

// AgentError wraps errors with agent context.
type AgentError struct {
	AgentID string
	Err     error
}

func (e *AgentError) Error() string {
	return "agent " + e.AgentID + ": " + e.Err.Error()
}

func (e *AgentError) Unwrap() error {
	return e.Err
}
