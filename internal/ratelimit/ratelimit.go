// Package ratelimit applies per-client request rate limiting to the
// gateway's HTTP and WebSocket entry points.
package ratelimit

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// clientLimiter pairs a token bucket with the time it was last used, so
// idle entries can be evicted.
type clientLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// Limiter applies a per-client token bucket, keyed by bearer token when
// present and falling back to remote IP otherwise. Configuration mirrors
// spec.md §6's security.rate_limit block, expressed there as a fixed
// request budget per rolling window rather than a raw rate — New
// converts requestsPerWindow/windowSecs into the equivalent token-bucket
// rate and burst internally.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*clientLimiter
	rate     rate.Limit
	burst    int
}

// New creates a Limiter that allows up to requestsPerWindow requests per
// windowSecs-second window, per client key. Internally this is a token
// bucket refilling at requestsPerWindow/windowSecs per second with a
// burst capacity of requestsPerWindow, which is equivalent to a sliding
// window at steady state and simpler to reason about at the edges.
func New(requestsPerWindow, windowSecs int) *Limiter {
	if windowSecs <= 0 {
		windowSecs = 1
	}
	rl := &Limiter{
		limiters: make(map[string]*clientLimiter),
		rate:     rate.Limit(float64(requestsPerWindow) / float64(windowSecs)),
		burst:    requestsPerWindow,
	}
	go rl.evictLoop()
	return rl
}

func (rl *Limiter) evictLoop() {
	for range time.Tick(5 * time.Minute) {
		rl.mu.Lock()
		for key, l := range rl.limiters {
			if time.Since(l.lastSeen) > 10*time.Minute {
				delete(rl.limiters, key)
			}
		}
		rl.mu.Unlock()
	}
}

func (rl *Limiter) limiterFor(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	l, ok := rl.limiters[key]
	if !ok {
		l = &clientLimiter{lim: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[key] = l
	}
	l.lastSeen = time.Now()
	return l.lim
}

// Allow reports whether a request from key is within its bucket.
func (rl *Limiter) Allow(key string) bool {
	return rl.limiterFor(key).Allow()
}

// Middleware wraps an http.Handler, rejecting over-limit requests with
// 429, per spec.md §4.4's "reject, don't queue" philosophy extended to
// the transport layer.
func (rl *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := ClientKey(r)
		if !rl.Allow(key) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientKey derives the rate-limit bucket key for a request: the bearer
// token if present (so one API key gets one bucket across IPs), else
// the client's remote address.
func ClientKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); len(auth) > 7 && auth[:7] == "Bearer " {
		return "tok:" + auth[7:]
	}
	return "ip:" + clientIP(r)
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for j := 0; j < len(xff); j++ {
			if xff[j] == ',' {
				return xff[:j]
			}
		}
		return xff
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
