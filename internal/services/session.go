package services

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionStore keeps logged-in sessions in memory. Sessions also carry the
// user's unlocked private key PEM for the lifetime of the session so
// server-side signing operations can use it without re-prompting for the
// password; it is never written to storage.
type SessionStore struct {
	sessions map[string]SessionData
	ttl      time.Duration
	mutex    sync.RWMutex
	stopChan chan struct{}
}

type SessionData struct {
	UserID        uint
	PrivateKeyPEM string
	ExpiresAt     time.Time
	IPAddress     string
	UserAgent     string
}

func NewSessionStore(ttl time.Duration) *SessionStore {
	ss := &SessionStore{
		sessions: make(map[string]SessionData),
		ttl:      ttl,
		stopChan: make(chan struct{}),
	}
	go ss.startBackgroundCleanup()
	return ss
}

func (ss *SessionStore) startBackgroundCleanup() {
	ticker := time.NewTicker(15 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ss.stopChan:
			return
		case <-ticker.C:
			ss.cleanupExpired()
		}
	}
}

func (ss *SessionStore) cleanupExpired() {
	ss.mutex.Lock()
	defer ss.mutex.Unlock()

	now := time.Now()
	for token, session := range ss.sessions {
		if now.After(session.ExpiresAt) {
			delete(ss.sessions, token)
		}
	}
}

func (ss *SessionStore) Create(userID uint, privateKeyPEM, ipAddress, userAgent string) string {
	token := uuid.New().String()
	ss.mutex.Lock()
	ss.sessions[token] = SessionData{
		UserID:        userID,
		PrivateKeyPEM: privateKeyPEM,
		ExpiresAt:     time.Now().Add(ss.ttl),
		IPAddress:     ipAddress,
		UserAgent:     userAgent,
	}
	ss.mutex.Unlock()
	return token
}

func (ss *SessionStore) Get(token string) (SessionData, bool) {
	ss.mutex.RLock()
	sd, exists := ss.sessions[token]
	ss.mutex.RUnlock()
	if !exists || time.Now().After(sd.ExpiresAt) {
		return SessionData{}, false
	}
	return sd, true
}

func (ss *SessionStore) Delete(token string) {
	ss.mutex.Lock()
	delete(ss.sessions, token)
	ss.mutex.Unlock()
}

func (ss *SessionStore) Close() {
	close(ss.stopChan)
}
