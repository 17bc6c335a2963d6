package mcp

import "sync"

// SessionRegistry maps thread IDs to the MCP session that last drove them.
// Populated when a session calls a tool naming a thread.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]string // threadID → sessionID
}

// NewSessionRegistry creates an empty SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]string)}
}

// Register binds a thread to a session, replacing any previous binding.
func (r *SessionRegistry) Register(threadID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[threadID] = sessionID
}

// SessionFor returns the session bound to the thread, if any.
func (r *SessionRegistry) SessionFor(threadID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.sessions[threadID]
	return sid, ok
}

// Remove drops every thread bound to the session.
func (r *SessionRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for tid, sid := range r.sessions {
		if sid == sessionID {
			delete(r.sessions, tid)
		}
	}
}

// Len returns the number of bound threads.
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
