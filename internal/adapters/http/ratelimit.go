package http

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/domain"
)

type RateLimitConfig struct {
	// PerSecond <= 0 disables limiting.
	PerSecond float64
	Burst     int
	IdleTTL   time.Duration
}

// ipRateLimiter keeps one token bucket per client IP. Buckets idle longer
// than IdleTTL are dropped on the next sweep so the map cannot grow without bound.
type ipRateLimiter struct {
	cfg       RateLimitConfig
	nowFn     func() time.Time
	mu        sync.Mutex
	limiters  map[string]*clientLimiter
	lastSweep time.Time
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newIPRateLimiter(cfg RateLimitConfig) *ipRateLimiter {
	if cfg.PerSecond <= 0 {
		return nil
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.PerSecond) + 1
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}
	return &ipRateLimiter{
		cfg:      cfg,
		nowFn:    time.Now,
		limiters: make(map[string]*clientLimiter),
	}
}

func (l *ipRateLimiter) allow(ip string) bool {
	now := l.nowFn()
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) > l.cfg.IdleTTL {
		for key, c := range l.limiters {
			if now.Sub(c.lastSeen) > l.cfg.IdleTTL {
				delete(l.limiters, key)
			}
		}
		l.lastSweep = now
	}

	c, ok := l.limiters[ip]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(rate.Limit(l.cfg.PerSecond), l.cfg.Burst)}
		l.limiters[ip] = c
	}
	c.lastSeen = now
	return c.limiter.AllowN(now, 1)
}

// rateLimitMiddleware guards the unauthenticated credential endpoints.
func (h *Handler) rateLimitMiddleware(operation string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if h.limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !h.limiter.allow(readIP(r)) {
				w.Header().Set("Retry-After", "1")
				writeMappedError(r.Context(), w, operation, domain.ErrRateLimited)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
