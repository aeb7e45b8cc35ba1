// ABOUTME: Per-owner and per-IP rate limiting using a token bucket.
// ABOUTME: Keeps a runaway client from starving the server.

package main

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig holds rate limiter settings.
type RateLimitConfig struct {
	Interval time.Duration // Time between allowed requests; zero or less disables limiting
	Burst    int           // Max burst size
}

// DefaultRateLimitConfig returns ~100 req/min with burst of 10.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Interval: 600 * time.Millisecond,
		Burst:    10,
	}
}

// HealthRateLimitConfig is looser; clients probe health while deciding
// whether they are online.
func HealthRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Interval: 100 * time.Millisecond,
		Burst:    20,
	}
}

// rateLimiterStore hands out one limiter per key.
type rateLimiterStore struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	config   RateLimitConfig
}

func newRateLimiterStore(config RateLimitConfig) *rateLimiterStore {
	return &rateLimiterStore{
		limiters: make(map[string]*rate.Limiter),
		config:   config,
	}
}

func (s *rateLimiterStore) get(key string) *rate.Limiter {
	s.mu.RLock()
	limiter, ok := s.limiters[key]
	s.mu.RUnlock()
	if ok {
		return limiter
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if limiter, ok := s.limiters[key]; ok {
		return limiter
	}
	limit := rate.Inf
	if s.config.Interval > 0 {
		limit = rate.Every(s.config.Interval)
	}
	limiter = rate.NewLimiter(limit, s.config.Burst)
	s.limiters[key] = limiter
	return limiter
}

func (s *rateLimiterStore) setConfig(cfg RateLimitConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config = cfg
	// Existing limiters keep the old rate; drop them.
	s.limiters = make(map[string]*rate.Limiter)
}

// getClientIP returns the connection's remote address. Proxy headers are
// honored only when trustProxy is set.
func getClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
