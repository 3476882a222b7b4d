package agenthub

import (
	"sort"
	"sync"
	"time"

	"github.com/owulveryck/a2ahub/internal/transport"
)

// AgentRegistration is one registry entry.
type AgentRegistration struct {
	AgentID      string
	Capabilities []string
	Endpoints    map[string]any
	ConnectedAt  time.Time
	conn         transport.Conn
}

// AgentInfo is the public view of a registration.
type AgentInfo struct {
	AgentID      string         `json:"agent_id"`
	Capabilities []string       `json:"capabilities"`
	Endpoints    map[string]any `json:"endpoints,omitempty"`
	ConnectedAt  time.Time      `json:"connected_at"`
}

// AgentRegistry maps agent ids to their live connection. All access goes
// through its methods.
type AgentRegistry struct {
	mu     sync.RWMutex
	agents map[string]*AgentRegistration
}

func NewAgentRegistry() *AgentRegistry {
	return &AgentRegistry{agents: make(map[string]*AgentRegistration)}
}

// Insert stores reg, replacing any prior entry for the same id. It returns
// the replaced connection, if any.
func (r *AgentRegistry) Insert(reg *AgentRegistration) (replaced transport.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.agents[reg.AgentID]; ok {
		replaced = prev.conn
	}
	r.agents[reg.AgentID] = reg
	return replaced
}

// Lookup returns the connection registered for agentID.
func (r *AgentRegistry) Lookup(agentID string) (transport.Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.agents[agentID]
	if !ok {
		return nil, false
	}
	return reg.conn, true
}

// Evict removes agentID only while it is still bound to conn, so a failure
// on a stale connection cannot remove a newer registration.
func (r *AgentRegistry) Evict(agentID string, conn transport.Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.agents[agentID]
	if !ok || reg.conn != conn {
		return false
	}
	delete(r.agents, agentID)
	return true
}

// EvictConn removes every entry bound to conn and returns their ids.
func (r *AgentRegistry) EvictConn(conn transport.Conn) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var evicted []string
	for id, reg := range r.agents {
		if reg.conn == conn {
			delete(r.agents, id)
			evicted = append(evicted, id)
		}
	}
	sort.Strings(evicted)
	return evicted
}

type recipient struct {
	agentID string
	conn    transport.Conn
}

// recipients snapshots every entry except exclude, ordered by id.
func (r *AgentRegistry) recipients(exclude string) []recipient {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]recipient, 0, len(r.agents))
	for id, reg := range r.agents {
		if id != exclude {
			out = append(out, recipient{agentID: id, conn: reg.conn})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].agentID < out[j].agentID })
	return out
}

// Snapshot returns the current registrations ordered by id.
func (r *AgentRegistry) Snapshot() []AgentInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]AgentInfo, 0, len(r.agents))
	for _, reg := range r.agents {
		out = append(out, AgentInfo{
			AgentID:      reg.AgentID,
			Capabilities: append([]string(nil), reg.Capabilities...),
			Endpoints:    reg.Endpoints,
			ConnectedAt:  reg.ConnectedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

func (r *AgentRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}
