// Package registry defines the terminal registry the supervision subsystems
// read session metadata from, plus an in-memory implementation.
package registry

import (
	"sort"
	"sync"
)

// Status is the lifecycle status of a session as shown to users.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusBusy    Status = "busy"
	StatusStopped Status = "stopped"
	StatusError   Status = "error"
)

// Session is one supervised worker session.
type Session struct {
	ID     string
	Role   string // empty for plain shells
	Status Status
	// Missing is set when the health monitor confirmed the session is gone.
	Missing bool
}

// HasRole reports whether the session runs an agent with a role.
func (s Session) HasRole() bool {
	return s.Role != ""
}

// StatusPatch is a partial update; nil fields are left unchanged.
type StatusPatch struct {
	Status  *Status
	Missing *bool
}

// Registry is the read/update surface of the terminal registry.
type Registry interface {
	List() []Session
	Get(id string) (Session, bool)
	UpdateStatus(id string, patch StatusPatch)
}

// Memory is a mutex-guarded in-memory Registry.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

// NewMemory creates an empty in-memory registry.
func NewMemory() *Memory {
	return &Memory{sessions: make(map[string]Session)}
}

// Add inserts or replaces a session.
func (m *Memory) Add(s Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.Status == "" {
		s.Status = StatusIdle
	}
	m.sessions[s.ID] = s
}

// Remove deletes a session. Returns false if it was not present.
func (m *Memory) Remove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return false
	}
	delete(m.sessions, id)
	return true
}

// List returns all sessions ordered by ID.
func (m *Memory) List() []Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns a session by ID.
func (m *Memory) Get(id string) (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// UpdateStatus applies patch to the session. Unknown IDs are ignored.
func (m *Memory) UpdateStatus(id string, patch StatusPatch) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return
	}
	if patch.Status != nil {
		s.Status = *patch.Status
	}
	if patch.Missing != nil {
		s.Missing = *patch.Missing
	}
	m.sessions[id] = s
}

// StatusPtr is a helper for building patches.
func StatusPtr(s Status) *Status {
	return &s
}

// BoolPtr is a helper for building patches.
func BoolPtr(b bool) *bool {
	return &b
}
