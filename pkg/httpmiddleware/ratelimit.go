package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// RateLimitConfig configures the sliding window rate limiter.
type RateLimitConfig struct {
	// Max is the per-client budget for one window.
	Max    int
	Window time.Duration

	// Strict is a smaller budget applied to StrictRoutes, kept per client and
	// route. Routes where codes can be guessed, like coupon validation, belong
	// here. Zero disables it.
	Strict       int
	StrictRoutes []string
	// Find resolves a request to its route pattern. Required for StrictRoutes.
	Find RouteFinder

	// KeyFunc identifies the client. Defaults to ClientIP.
	KeyFunc func(*http.Request) string
	// Skip exempts requests from limiting, such as health probes.
	Skip func(*http.Request) bool
}

// window is a two-bucket sliding window counter.
type window struct {
	start time.Time
	prev  float64
	curr  float64
}

func (w *window) advance(now time.Time, size time.Duration) {
	switch elapsed := now.Sub(w.start); {
	case elapsed >= 2*size:
		w.prev, w.curr = 0, 0
		w.start = now.Truncate(size)
	case elapsed >= size:
		w.prev, w.curr = w.curr, 0
		w.start = w.start.Add(size)
	}
}

// estimate weights the previous bucket by its overlap with the window ending
// at now.
func (w *window) estimate(now time.Time, size time.Duration) float64 {
	overlap := 1 - float64(now.Sub(w.start))/float64(size)
	if overlap < 0 {
		overlap = 0
	}
	return w.prev*overlap + w.curr
}

type limiter struct {
	size time.Duration

	mu      sync.Mutex
	windows map[string]*window
}

func newLimiter(size time.Duration) *limiter {
	return &limiter{size: size, windows: make(map[string]*window)}
}

// take spends one request of budget limit for key.
func (l *limiter) take(key string, limit int, now time.Time) (remaining int, resetAt time.Time, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, found := l.windows[key]
	if !found {
		w = &window{start: now}
		l.windows[key] = w
	}
	w.advance(now, l.size)

	used := w.estimate(now, l.size)
	resetAt = w.start.Add(l.size)
	if used >= float64(limit) {
		return 0, resetAt, false
	}
	w.curr++
	return max(0, int(float64(limit)-used-1)), resetAt, true
}

// evict drops windows idle for two full periods.
func (l *limiter) evict(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key, w := range l.windows {
		if now.Sub(w.start) >= 2*l.size {
			delete(l.windows, key)
		}
	}
}

func (l *limiter) evictEvery(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.evict(now)
		}
	}
}

// RateLimit returns a middleware enforcing cfg. Over-budget requests get 429
// with a Retry-After header; every limited response carries the
// X-RateLimit-Limit, X-RateLimit-Remaining and X-RateLimit-Reset headers.
//
// Stale windows are never evicted; use RateLimitWithCleanup for servers.
func RateLimit(cfg RateLimitConfig) Middleware {
	return rateLimit(cfg, newLimiter(cfg.Window))
}

// RateLimitWithCleanup is RateLimit plus a goroutine evicting idle clients
// every two windows until ctx is done.
func RateLimitWithCleanup(ctx context.Context, cfg RateLimitConfig) Middleware {
	l := newLimiter(cfg.Window)
	go l.evictEvery(ctx, 2*cfg.Window)
	return rateLimit(cfg, l)
}

func rateLimit(cfg RateLimitConfig, l *limiter) Middleware {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = ClientIP
	}
	strict := func(*http.Request) (string, bool) { return "", false }
	if cfg.Strict > 0 && cfg.Find != nil && len(cfg.StrictRoutes) > 0 {
		strict = func(r *http.Request) (string, bool) {
			route := cfg.Find(r)
			return route, slices.Contains(cfg.StrictRoutes, route)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Skip != nil && cfg.Skip(r) {
				next.ServeHTTP(w, r)
				return
			}

			key, limit := cfg.KeyFunc(r), cfg.Max
			if route, ok := strict(r); ok {
				key, limit = key+" "+route, cfg.Strict
			}

			remaining, resetAt, ok := l.take(key, limit, time.Now())
			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
			if ok {
				next.ServeHTTP(w, r)
				return
			}

			wait := max(0, time.Until(resetAt))
			h.Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			zctx.From(r.Context()).Debug("Rate limit exceeded",
				zap.String("key", key),
				zap.Int("limit", limit),
			)
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		})
	}
}

// ClientIP returns the first X-Forwarded-For hop, then X-Real-IP, then the
// host part of RemoteAddr.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// SkipPaths exempts exact request paths.
func SkipPaths(paths ...string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		return slices.Contains(paths, r.URL.Path)
	}
}
