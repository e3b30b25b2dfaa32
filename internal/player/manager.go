package player

import "sync"

// Manager hands out one playback session per authenticated session id. Each
// session is an explicit object owned here and injected into its consumers
// rather than shared as ambient global state.
type Manager struct {
	mutex    sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates an empty session registry.
func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
	}
}

// Get returns the playback session for an auth session id, creating it on
// first use.
func (m *Manager) Get(sessionID string) *Session {
	m.mutex.RLock()
	session, exists := m.sessions[sessionID]
	m.mutex.RUnlock()
	if exists {
		return session
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	if session, exists = m.sessions[sessionID]; exists {
		return session
	}
	session = NewSession()
	m.sessions[sessionID] = session
	return session
}

// Remove resets and drops the playback session for an auth session id. Called
// on logout.
func (m *Manager) Remove(sessionID string) {
	m.mutex.Lock()
	session, exists := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mutex.Unlock()

	if exists {
		session.Reset()
	}
}

// Len reports the number of live playback sessions.
func (m *Manager) Len() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.sessions)
}
