package subagent

import (
	"context"
	"errors"

	"github.com/owulveryck/a2ahub/internal/a2a"
)

// TaskHandler is the function signature for handling requests routed to a
// skill. The payload is the full request payload, "action" included. The
// returned payload becomes the response; a returned error becomes an error
// reply carrying {"error": err.Error()}.
type TaskHandler func(ctx context.Context, payload a2a.Payload) (a2a.Payload, error)

// Skill represents a capability that the agent can perform
type Skill struct {
	Name        string
	Description string
	Handler     TaskHandler
}

// Common errors
var (
	ErrMissingAgentID       = errors.New("agent ID is required")
	ErrMissingName          = errors.New("agent name is required")
	ErrMissingDescription   = errors.New("agent description is required")
	ErrUnsupportedTransport = errors.New("unsupported transport")
	ErrNoSkills             = errors.New("at least one skill must be registered")
	ErrDuplicateSkill       = errors.New("skill with this name already registered")
	ErrAgentNotStarted      = errors.New("agent has not been started")
	ErrAgentAlreadyRunning  = errors.New("agent is already running")
)
