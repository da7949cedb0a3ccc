package session

import (
	"sync"
	"time"
)

const (
	maxSessionsPerIP = 5
	maxFailedPerIP   = 10
	banDurationSecs  = 3600
)

// IPManager tracks sessions and failed logins per client IP, banning an
// IP for one hour after ten failed attempts.
type IPManager struct {
	mu             sync.Mutex
	ipToSessions   map[string][]uint32
	failedAttempts map[string]int
	blacklist      map[string]int64
	now            func() int64
}

// NewIPManager returns an empty IP tracker.
func NewIPManager() *IPManager {
	return &IPManager{
		ipToSessions:   make(map[string][]uint32),
		failedAttempts: make(map[string]int),
		blacklist:      make(map[string]int64),
		now:            func() int64 { return time.Now().Unix() },
	}
}

// IsAllowed reports whether the IP is not banned. Expired bans are
// dropped on the way through.
func (m *IPManager) IsAllowed(ip string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isAllowedLocked(ip)
}

func (m *IPManager) isAllowedLocked(ip string) bool {
	until, banned := m.blacklist[ip]
	if !banned {
		return true
	}
	if until > m.now() {
		return false
	}
	delete(m.blacklist, ip)
	return true
}

// CanCreateSession reports whether the IP is under its session cap.
func (m *IPManager) CanCreateSession(ip string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.canCreateSessionLocked(ip)
}

func (m *IPManager) canCreateSessionLocked(ip string) bool {
	return len(m.ipToSessions[ip]) < maxSessionsPerIP
}

// AddSession registers a session under the IP when the cap allows.
func (m *IPManager) AddSession(ip string, sessionID uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.canCreateSessionLocked(ip) {
		m.ipToSessions[ip] = append(m.ipToSessions[ip], sessionID)
	}
}

// RemoveSession drops a session from the IP's list.
func (m *IPManager) RemoveSession(ip string, sessionID uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sessions, ok := m.ipToSessions[ip]
	if !ok {
		return
	}
	for i, id := range sessions {
		if id == sessionID {
			m.ipToSessions[ip] = append(sessions[:i], sessions[i+1:]...)
			break
		}
	}
	if len(m.ipToSessions[ip]) == 0 {
		delete(m.ipToSessions, ip)
	}
}

// RecordFailedAttempt counts one failed login for the IP and bans it
// once the threshold is crossed.
func (m *IPManager) RecordFailedAttempt(ip string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.failedAttempts[ip]++
	if m.failedAttempts[ip] >= maxFailedPerIP {
		m.blacklist[ip] = m.now() + banDurationSecs
	}
}

// ClearFailedAttempts forgets the IP's failure count.
func (m *IPManager) ClearFailedAttempts(ip string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.failedAttempts, ip)
}

// SessionCount returns the number of sessions open from the IP.
func (m *IPManager) SessionCount(ip string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ipToSessions[ip])
}
