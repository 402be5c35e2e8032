package handlers

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hanko-field/rewards/internal/platform/auth"
	"github.com/hanko-field/rewards/internal/platform/httpx"
	"github.com/hanko-field/rewards/internal/platform/requestctx"
)

// RateLimiter admits or refuses one request for key. The Redis limiter in platform/cache and
// the in-process limiter below both satisfy it.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type localRateLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time
	mu     sync.Mutex
	store  map[string]rateEntry
}

type rateEntry struct {
	count int
	reset time.Time
}

// NewLocalRateLimiter returns a fixed window limiter held in process memory. It returns nil when
// limit or window is not positive, which disables limiting.
func NewLocalRateLimiter(limit int, window time.Duration, clock func() time.Time) RateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &localRateLimiter{
		limit:  limit,
		window: window,
		clock:  clock,
		store:  make(map[string]rateEntry),
	}
}

func (l *localRateLimiter) Allow(_ context.Context, key string) (bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.store[key]
	if !ok || now.After(entry.reset) {
		l.store[key] = rateEntry{count: 1, reset: now.Add(l.window)}
		l.pruneExpiredLocked(now)
		return true, nil
	}

	if entry.count >= l.limit {
		return false, nil
	}
	entry.count++
	l.store[key] = entry
	return true, nil
}

func (l *localRateLimiter) pruneExpiredLocked(now time.Time) {
	for key, entry := range l.store {
		if now.After(entry.reset) {
			delete(l.store, key)
		}
	}
}

// RateLimit rejects requests over the limiter's budget with 429. Requests are keyed by the
// authenticated user when there is one, else by client IP. Limiter failures let the request
// through.
func RateLimit(limiter RateLimiter, scope string, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			key := scope + ":" + requesterKey(r)
			allowed, err := limiter.Allow(ctx, key)
			if err != nil {
				requestctx.Logger(ctx).Warn("rate limiter unavailable", zap.String("scope", scope), zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many requests", http.StatusTooManyRequests).
					WithDetails(map[string]any{"scope": scope}).
					WithRetryAfter(window))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requesterKey(r *http.Request) string {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok && identity.UID != "" {
		return "user:" + identity.UID
	}
	host := strings.TrimSpace(r.RemoteAddr)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return "ip:" + host
}
