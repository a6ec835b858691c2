package middleware

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter applies a token bucket per owner.
type RateLimiter struct {
	perMinute int
	burst     int
	ttl       time.Duration
	limiters  sync.Map // ownerID -> *cachedLimiter
}

// Option configures a RateLimiter.
type Option func(*RateLimiter)

// WithTTL sets how long an idle owner's bucket is kept (default: 5m).
func WithTTL(ttl time.Duration) Option {
	return func(rl *RateLimiter) {
		rl.ttl = ttl
	}
}

// NewRateLimiter allows perMinute requests per owner with the given burst.
// perMinute <= 0 disables limiting.
func NewRateLimiter(perMinute, burst int, opts ...Option) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	rl := &RateLimiter{perMinute: perMinute, burst: burst, ttl: 5 * time.Minute}
	for _, opt := range opts {
		opt(rl)
	}
	return rl
}

// Middleware must run after RequireOwner.
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ownerID, ok := OwnerIDFromContext(r.Context())
			if !ok {
				writeError(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			if rl.perMinute > 0 && !rl.limiter(ownerID).Allow() {
				w.Header().Set("Retry-After", "1")
				writeError(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

type cachedLimiter struct {
	limiter   *rate.Limiter
	expiresAt time.Time
}

func (rl *RateLimiter) limiter(ownerID string) *rate.Limiter {
	now := time.Now()
	fresh := &cachedLimiter{
		limiter:   rate.NewLimiter(rate.Every(time.Minute/time.Duration(rl.perMinute)), rl.burst),
		expiresAt: now.Add(rl.ttl),
	}

	v, loaded := rl.limiters.LoadOrStore(ownerID, fresh)
	if !loaded {
		return fresh.limiter
	}
	cached := v.(*cachedLimiter)
	if now.Before(cached.expiresAt) {
		return cached.limiter
	}

	// Expired: replace unless another request already did
	if rl.limiters.CompareAndSwap(ownerID, cached, fresh) {
		return fresh.limiter
	}
	v, _ = rl.limiters.Load(ownerID)
	return v.(*cachedLimiter).limiter
}
