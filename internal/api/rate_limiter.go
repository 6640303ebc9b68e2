package api

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/tao-dividends/internal/errors"
)

// defaultIdleTTL is how long a client may stay silent before its bucket is dropped.
// A bucket idle that long has refilled, so dropping it does not change any decision.
const defaultIdleTTL = 10 * time.Minute

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client address
type RateLimiter struct {
	mu        sync.Mutex
	clients   map[string]*clientLimiter
	lastSweep time.Time

	limit     rate.Limit
	burstSize int
	idleTTL   time.Duration
	now       func() time.Time
}

// NewRateLimiter creates a limiter allowing rps requests per second per client.
// A non-positive rps disables limiting.
func NewRateLimiter(rps, burst int) *RateLimiter {
	if burst <= 0 {
		burst = rps
	}
	return &RateLimiter{
		clients:   make(map[string]*clientLimiter),
		limit:     rate.Limit(rps),
		burstSize: burst,
		idleTTL:   defaultIdleTTL,
		now:       time.Now,
	}
}

// Allow reports whether client may make a request now
func (rl *RateLimiter) Allow(client string) bool {
	if rl.limit <= 0 {
		return true
	}
	now := rl.now()

	rl.mu.Lock()
	if now.Sub(rl.lastSweep) >= rl.idleTTL {
		rl.sweep(now)
	}
	entry, ok := rl.clients[client]
	if !ok {
		entry = &clientLimiter{limiter: rate.NewLimiter(rl.limit, rl.burstSize)}
		rl.clients[client] = entry
	}
	entry.lastSeen = now
	rl.mu.Unlock()

	return entry.limiter.AllowN(now, 1)
}

// sweep drops clients idle for at least idleTTL. Callers hold rl.mu.
func (rl *RateLimiter) sweep(now time.Time) {
	for client, entry := range rl.clients {
		if now.Sub(entry.lastSeen) >= rl.idleTTL {
			delete(rl.clients, client)
		}
	}
	rl.lastSweep = now
}

// clientKey identifies the caller by remote IP
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimitMiddleware creates a middleware that enforces rate limiting
func RateLimitMiddleware(rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.Allow(clientKey(r)) {
				w.Header().Set("Retry-After", "1")
				respondCategorized(w, apperrors.NewRateLimitError(1))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
