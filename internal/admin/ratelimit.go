package admin

import (
	"sync"
	"time"
)

// RateLimiter caps state-changing admin requests per client IP over a
// sliding window. The admin surface carries no credentials, so the
// limiter is the backstop against a runaway script hammering
// start/stop or broadcast.
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string]*windowInfo

	maxRequests int
	windowSize  time.Duration
}

type windowInfo struct {
	count     int
	firstTime time.Time
}

// NewRateLimiter creates a limiter allowing maxRequests per windowSize
// per IP.
func NewRateLimiter(maxRequests int, windowSize time.Duration) *RateLimiter {
	rl := &RateLimiter{
		requests:    make(map[string]*windowInfo),
		maxRequests: maxRequests,
		windowSize:  windowSize,
	}
	go rl.cleanup()
	return rl
}

// DefaultRateLimiter allows 60 state-changing requests per minute.
func DefaultRateLimiter() *RateLimiter {
	return NewRateLimiter(60, time.Minute)
}

// Allow records a request from the IP and reports whether it is within
// the limit.
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	info, exists := rl.requests[ip]
	if !exists || now.Sub(info.firstTime) > rl.windowSize {
		rl.requests[ip] = &windowInfo{count: 1, firstTime: now}
		return true
	}

	info.count++
	return info.count <= rl.maxRequests
}

// cleanup periodically drops expired windows.
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	for range ticker.C {
		rl.mu.Lock()
		now := time.Now()
		for ip, info := range rl.requests {
			if now.Sub(info.firstTime) > rl.windowSize {
				delete(rl.requests, ip)
			}
		}
		rl.mu.Unlock()
	}
}
