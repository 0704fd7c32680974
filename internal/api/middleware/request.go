package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	maxLoginFailures   = 5
	loginFailureExpiry = 15 * time.Minute
)

// IPAttemptTracker counts failed login attempts per client IP. An IP that
// fails more than maxLoginFailures times inside the expiry window is
// blocked until its entry ages out. Login failures are the signal, not
// requests: a correct password resets the counter.
type IPAttemptTracker struct {
	attempts     map[string]*ipAttemptInfo
	mu           sync.RWMutex
	cleanupEvery time.Duration
}

type ipAttemptInfo struct {
	count       int
	lastAttempt time.Time
	blocked     bool
}

func NewIPAttemptTracker() *IPAttemptTracker {
	tracker := &IPAttemptTracker{
		attempts:     make(map[string]*ipAttemptInfo),
		cleanupEvery: 5 * time.Minute,
	}

	go tracker.startCleanup()

	return tracker
}

func (t *IPAttemptTracker) startCleanup() {
	ticker := time.NewTicker(t.cleanupEvery)
	defer ticker.Stop()

	for range ticker.C {
		t.cleanOldEntries()
	}
}

func (t *IPAttemptTracker) cleanOldEntries() {
	t.mu.Lock()
	defer t.mu.Unlock()

	expiry := time.Now().Add(-loginFailureExpiry)
	for ip, info := range t.attempts {
		if info.lastAttempt.Before(expiry) {
			delete(t.attempts, ip)
		}
	}
}

func (t *IPAttemptTracker) RecordFailure(ip string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	info, exists := t.attempts[ip]
	if !exists {
		info = &ipAttemptInfo{}
		t.attempts[ip] = info
	}

	info.count++
	info.lastAttempt = time.Now()

	if info.count > maxLoginFailures {
		info.blocked = true
	}
}

// Reset clears the counter for an IP after a successful login.
func (t *IPAttemptTracker) Reset(ip string) {
	t.mu.Lock()
	delete(t.attempts, ip)
	t.mu.Unlock()
}

func (t *IPAttemptTracker) Blocked(ip string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	info, exists := t.attempts[ip]
	if !exists {
		return false
	}
	if time.Since(info.lastAttempt) > loginFailureExpiry {
		return false
	}
	return info.blocked
}

type RequestMiddleware struct {
	logger         *zap.Logger
	attemptTracker *IPAttemptTracker
}

func NewRequestMiddleware(logger *zap.Logger) *RequestMiddleware {
	return &RequestMiddleware{
		logger:         logger,
		attemptTracker: NewIPAttemptTracker(),
	}
}

func (rm *RequestMiddleware) ProcessRequest() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := uuid.New().String()
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		rm.logger.Info("Request completed",
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", duration),
			zap.String("client_ip", c.ClientIP()))
	}
}

// LoginAttemptMiddleware throttles password guessing on the login route.
// A blocked IP is refused before the handler runs, so neither the bcrypt
// compare nor the private key unwrap happens for it. An unauthorized
// response counts as a failure; a successful login clears the counter.
func (rm *RequestMiddleware) LoginAttemptMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := c.ClientIP()
		if rm.attemptTracker.Blocked(clientIP) {
			rm.logger.Warn("Login blocked due to repeated failures",
				zap.String("client_ip", clientIP))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"message": "Too many failed login attempts, try again later",
			})
			return
		}

		c.Next()

		switch c.Writer.Status() {
		case http.StatusUnauthorized:
			rm.attemptTracker.RecordFailure(clientIP)
		case http.StatusOK:
			rm.attemptTracker.Reset(clientIP)
		}
	}
}

func (rm *RequestMiddleware) RecoverPanic() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				requestID := c.GetString("request_id")
				rm.logger.Error("Panic recovered",
					zap.String("request_id", requestID),
					zap.Any("error", err),
					zap.Stack("stack"))
				c.AbortWithStatusJSON(500, gin.H{
					"success": false,
					"message": "Internal server error",
				})
			}
		}()
		c.Next()
	}
}
