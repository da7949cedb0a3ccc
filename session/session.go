package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	regularTimeoutMillis = 30_000
	mmTimeoutMillis      = 60_000
	regularMsgPerSec     = 100
	mmMsgPerSec          = 200
)

// Session is one client connection. A session starts unauthenticated;
// it can place orders only after a successful login and while its
// heartbeat is fresh.
type Session struct {
	mu sync.Mutex

	ID       uint32
	Token    uuid.UUID
	Username string
	ClientIP string

	authenticated bool
	isMarketMaker bool
	isAdmin       bool

	lastHeartbeat int64
	loginTime     int64

	msgStamps []int64

	totalMessages      uint64
	totalOrders        uint64
	totalCancellations uint64

	now func() int64
}

func newSession(id uint32, username, clientIP string) *Session {
	s := &Session{
		ID:       id,
		Token:    uuid.New(),
		Username: username,
		ClientIP: clientIP,
		now:      func() int64 { return time.Now().UnixMilli() },
	}
	s.lastHeartbeat = s.now()
	s.loginTime = s.lastHeartbeat
	return s
}

// Authenticate logs the session in against the user store.
func (s *Session) Authenticate(password string, db *UserDB) bool {
	isMM, isAdmin, ok := db.Authenticate(s.Username, password)
	if !ok {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.authenticated = true
	s.isMarketMaker = isMM
	s.isAdmin = isAdmin
	s.lastHeartbeat = s.now()
	return true
}

// Heartbeat refreshes the session's liveness.
func (s *Session) Heartbeat() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastHeartbeat = s.now()
}

// IsActive reports whether the heartbeat is fresh. Market makers get a
// 60 second window, everyone else 30.
func (s *Session) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isActiveLocked()
}

func (s *Session) isActiveLocked() bool {
	timeout := int64(regularTimeoutMillis)
	if s.isMarketMaker {
		timeout = mmTimeoutMillis
	}
	return s.now()-s.lastHeartbeat < timeout
}

// IsRateLimited records one message against the sliding window and
// reports whether the session is over its per-second cap.
func (s *Session) IsRateLimited() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	i := 0
	for i < len(s.msgStamps) && now-s.msgStamps[i] > 1000 {
		i++
	}
	if i > 0 {
		s.msgStamps = s.msgStamps[i:]
	}

	limit := regularMsgPerSec
	if s.isMarketMaker {
		limit = mmMsgPerSec
	}
	if len(s.msgStamps) >= limit {
		return true
	}

	s.msgStamps = append(s.msgStamps, now)
	s.totalMessages++
	return false
}

// RecordOrderPlaced counts one accepted order and refreshes the
// heartbeat.
func (s *Session) RecordOrderPlaced() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalOrders++
	s.lastHeartbeat = s.now()
}

// RecordCancellation counts one cancel request.
func (s *Session) RecordCancellation() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalCancellations++
}

// CanPlaceOrders reports whether the session may submit orders.
func (s *Session) CanPlaceOrders() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticated && s.isActiveLocked()
}

// CanAccessMarketData reports whether the session may read the book.
func (s *Session) CanAccessMarketData() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticated
}

// IsAuthenticated reports whether the session has logged in.
func (s *Session) IsAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticated
}

// IsMarketMaker reports the market maker flag of the logged-in user.
func (s *Session) IsMarketMaker() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isMarketMaker
}

// IsAdmin reports the admin flag of the logged-in user.
func (s *Session) IsAdmin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isAdmin
}

// Counters returns the session's message, order and cancel totals.
func (s *Session) Counters() (messages, orders, cancels uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalMessages, s.totalOrders, s.totalCancellations
}
