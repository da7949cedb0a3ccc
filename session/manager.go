package session

import (
	"sync"

	"github.com/hftsim/matchbox/config"
)

const maxSessions = 1000

// Manager owns every live session plus the user store and IP tracker.
// One username maps to at most one session; a new login replaces the
// old session.
type Manager struct {
	mu                sync.Mutex
	sessions          map[uint32]*Session
	usernameToSession map[string]uint32
	nextSessionID     uint32

	users *UserDB
	ips   *IPManager
}

// NewManager returns an empty session manager.
func NewManager() *Manager {
	return &Manager{
		sessions:          make(map[uint32]*Session),
		usernameToSession: make(map[string]uint32),
		nextSessionID:     1,
		users:             NewUserDB(),
		ips:               NewIPManager(),
	}
}

// Users exposes the user store for account management.
func (m *Manager) Users() *UserDB {
	return m.users
}

// IPs exposes the per-IP tracker.
func (m *Manager) IPs() *IPManager {
	return m.ips
}

// CreateUser registers a user account.
func (m *Manager) CreateUser(username, password string, isMarketMaker, isAdmin bool, email string) bool {
	return m.users.CreateUser(username, password, isMarketMaker, isAdmin, email)
}

// CreateSession opens a session for username from clientIP. It returns
// 0 when the global cap is hit, the IP is banned or over its own cap.
// An existing session for the username is replaced.
func (m *Manager) CreateSession(username, clientIP string) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sessions) >= maxSessions {
		return 0
	}
	if !m.ips.IsAllowed(clientIP) || !m.ips.CanCreateSession(clientIP) {
		return 0
	}

	if oldID, ok := m.usernameToSession[username]; ok {
		if old, live := m.sessions[oldID]; live {
			m.ips.RemoveSession(old.ClientIP, oldID)
			delete(m.sessions, oldID)
		}
		delete(m.usernameToSession, username)
	}

	id := m.nextSessionID
	m.nextSessionID++

	s := newSession(id, username, clientIP)
	m.sessions[id] = s
	m.usernameToSession[username] = id
	m.ips.AddSession(clientIP, id)

	config.Logger.Debugf("[session] opened session %d for %s from %s", id, username, clientIP)
	return id
}

// AuthenticateSession logs a session in, recording the outcome against
// the client IP.
func (m *Manager) AuthenticateSession(sessionID uint32, password string) bool {
	s := m.Get(sessionID)
	if s == nil {
		return false
	}

	if !m.ips.IsAllowed(s.ClientIP) {
		return false
	}

	if s.Authenticate(password, m.users) {
		m.ips.ClearFailedAttempts(s.ClientIP)
		return true
	}
	m.ips.RecordFailedAttempt(s.ClientIP)
	return false
}

// Get looks up a session by id.
func (m *Manager) Get(sessionID uint32) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[sessionID]
}

// GetByUsername looks up the session of a username.
func (m *Manager) GetByUsername(username string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.usernameToSession[username]; ok {
		return m.sessions[id]
	}
	return nil
}

// Remove closes a session.
func (m *Manager) Remove(sessionID uint32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return false
	}

	delete(m.usernameToSession, s.Username)
	m.ips.RemoveSession(s.ClientIP, sessionID)
	delete(m.sessions, sessionID)
	return true
}

// CleanupInactive drops every session whose heartbeat has expired and
// returns how many were removed.
func (m *Manager) CleanupInactive() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, s := range m.sessions {
		if s.IsActive() {
			continue
		}
		delete(m.usernameToSession, s.Username)
		m.ips.RemoveSession(s.ClientIP, id)
		delete(m.sessions, id)
		removed++
	}
	if removed > 0 {
		config.Logger.Debugf("[session] cleaned up %d inactive sessions", removed)
	}
	return removed
}

// ActiveCount returns the number of open sessions.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// AuthenticatedCount returns the number of logged-in sessions.
func (m *Manager) AuthenticatedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, s := range m.sessions {
		if s.IsAuthenticated() {
			count++
		}
	}
	return count
}

// MarketMakerSessions returns the ids of logged-in market maker
// sessions.
func (m *Manager) MarketMakerSessions() []uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []uint32
	for id, s := range m.sessions {
		if s.IsAuthenticated() && s.IsMarketMaker() {
			ids = append(ids, id)
		}
	}
	return ids
}
