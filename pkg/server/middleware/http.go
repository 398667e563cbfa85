// Package middleware provides the HTTP middleware used by the clipview
// server: request logging, shared-secret auth, and a global rate limit.
package middleware

import (
	"net/http"
	"strings"
	"sync"
	"time"
)

// HTTPMiddleware wraps an http.Handler.
type HTTPMiddleware func(http.Handler) http.Handler

// Wrap applies middleware in order, skipping nil entries.
func Wrap(h http.Handler, middlewares ...HTTPMiddleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		if mw := middlewares[i]; mw != nil {
			h = mw(h)
		}
	}
	return h
}

// Logging logs method, path, remote address, status, and duration of
// every request.
func Logging(logf func(format string, args ...any)) HTTPMiddleware {
	if logf == nil {
		return nil
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r)
			logf("%s %s from %s -> %d (%s)", r.Method, r.URL.Path, r.RemoteAddr, recorder.status, time.Since(start).Round(time.Millisecond))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// APIKeyAuth enforces a shared secret sent via X-API-Key or Bearer token.
func APIKeyAuth(key string) HTTPMiddleware {
	secret := strings.TrimSpace(key)
	if secret == "" {
		return nil
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if extractAPIKey(r) != secret {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractAPIKey(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get("X-API-Key")); v != "" {
		return v
	}
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// RateLimitOptions configures the shared rate limiter.
type RateLimitOptions struct {
	Requests int
	Window   time.Duration
	Now      func() time.Time
}

// RateLimit enforces a token bucket over all requests.
func RateLimit(opts RateLimitOptions) HTTPMiddleware {
	if opts.Requests <= 0 || opts.Window <= 0 {
		return nil
	}
	bucket := newTokenBucket(opts)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !bucket.Allow() {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type tokenBucket struct {
	mu           sync.Mutex
	capacity     float64
	tokens       float64
	refillPerSec float64
	last         time.Time
	now          func() time.Time
}

func newTokenBucket(opts RateLimitOptions) *tokenBucket {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &tokenBucket{
		capacity:     float64(opts.Requests),
		tokens:       float64(opts.Requests),
		refillPerSec: float64(opts.Requests) / opts.Window.Seconds(),
		last:         now(),
		now:          now,
	}
}

func (t *tokenBucket) Allow() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	if elapsed := now.Sub(t.last).Seconds(); elapsed > 0 {
		t.tokens += elapsed * t.refillPerSec
		if t.tokens > t.capacity {
			t.tokens = t.capacity
		}
		t.last = now
	}
	if t.tokens < 1 {
		return false
	}
	t.tokens--
	return true
}
