package mail

import (
	"sync"
	"time"
)

// Session is a live agent identity bound to a project. Sessions exist in
// process memory only; the durable record is the agent_registered event
// and the agents projection row.
type Session struct {
	Key        string
	ProjectKey string
	Agent      string
	StartedAt  time.Time
}

// Registry tracks sessions by an opaque key chosen by the caller (the
// CLI uses one key per process). It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Get returns the session for key, if registered.
func (r *Registry) Get(key string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[key]
	return s, ok
}

// Put registers or replaces a session.
func (r *Registry) Put(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.Key] = s
}

// Remove drops a session. Safe to call for unknown keys.
func (r *Registry) Remove(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, key)
}

// Clear drops all sessions. Tests use this between cases.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = make(map[string]*Session)
}
