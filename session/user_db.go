package session

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

const (
	maxFailedLogins  = 5
	loginLockoutSecs = 300
)

type userRecord struct {
	Username        string
	PasswordHash    string
	Salt            string
	IsMarketMaker   bool
	IsAdmin         bool
	IsActive        bool
	Email           string
	CreatedAt       int64
	FailedLogins    int
	LastFailedLogin int64
}

// UserDB is an in-memory user store with salted password hashes and a
// failed-login lockout.
type UserDB struct {
	mu    sync.Mutex
	users map[string]*userRecord
	now   func() int64
}

// NewUserDB returns an empty user store.
func NewUserDB() *UserDB {
	return &UserDB{
		users: make(map[string]*userRecord),
		now:   func() int64 { return time.Now().Unix() },
	}
}

func hashPassword(password, salt string) string {
	sum := sha256.Sum256([]byte(password + salt))
	return hex.EncodeToString(sum[:])
}

func generateSalt() string {
	var raw [8]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "0000000000000000"
	}
	return hex.EncodeToString(raw[:])
}

// CreateUser registers a user. Duplicate usernames report false.
func (db *UserDB) CreateUser(username, password string, isMarketMaker, isAdmin bool, email string) bool {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, exists := db.users[username]; exists {
		return false
	}

	salt := generateSalt()
	db.users[username] = &userRecord{
		Username:      username,
		Salt:          salt,
		PasswordHash:  hashPassword(password, salt),
		IsMarketMaker: isMarketMaker,
		IsAdmin:       isAdmin,
		IsActive:      true,
		Email:         email,
		CreatedAt:     db.now(),
	}
	return true
}

// Authenticate verifies the password. Five failures in a row lock the
// account for five minutes; inactive accounts never authenticate.
func (db *UserDB) Authenticate(username, password string) (isMarketMaker, isAdmin, ok bool) {
	db.mu.Lock()
	defer db.mu.Unlock()

	user, exists := db.users[username]
	if !exists {
		return false, false, false
	}

	now := db.now()
	if user.FailedLogins >= maxFailedLogins && now-user.LastFailedLogin <= loginLockoutSecs {
		return false, false, false
	}
	if !user.IsActive {
		return false, false, false
	}
	if hashPassword(password, user.Salt) != user.PasswordHash {
		user.FailedLogins++
		user.LastFailedLogin = now
		return false, false, false
	}

	user.FailedLogins = 0
	return user.IsMarketMaker, user.IsAdmin, true
}

// IsActive reports whether the user exists and is active.
func (db *UserDB) IsActive(username string) bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	user, exists := db.users[username]
	return exists && user.IsActive
}

// Deactivate disables a user without removing it.
func (db *UserDB) Deactivate(username string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if user, exists := db.users[username]; exists {
		user.IsActive = false
	}
}
