// Package limiter throttles the HTTP run endpoint per client and caps the
// number of executions in flight.
package limiter

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/caffeineduck/rurema/internal/metrics"
	"golang.org/x/time/rate"
)

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter applies a token bucket per client address and a global cap on
// concurrent requests. A zero rate disables the per-client bucket; a zero
// maxConcurrent disables the cap.
type RateLimiter struct {
	rate          rate.Limit
	burst         int
	maxConcurrent int
	trustForward  bool

	mu      sync.Mutex
	clients map[string]*client
	active  int
	now     func() time.Time
}

// Option configures a RateLimiter.
type Option func(*RateLimiter)

// WithTrustForwardedFor keys clients by the first X-Forwarded-For hop instead
// of the connection address. Only enable it behind a proxy that sets the
// header; otherwise any client can pick its own bucket.
func WithTrustForwardedFor() Option {
	return func(rl *RateLimiter) {
		rl.trustForward = true
	}
}

// New returns a RateLimiter allowing perClientRPS requests per second with
// the given burst for each client address.
func New(perClientRPS float64, burst int, maxConcurrent int, opts ...Option) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	rl := &RateLimiter{
		rate:          rate.Limit(perClientRPS),
		burst:         burst,
		maxConcurrent: maxConcurrent,
		clients:       make(map[string]*client),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(rl)
	}
	return rl
}

// Allow reports whether a request from addr may proceed. Every true result
// must be paired with a call to Done. A request turned away by the
// concurrency cap does not spend the client's token.
func (rl *RateLimiter) Allow(addr string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.maxConcurrent > 0 && rl.active >= rl.maxConcurrent {
		metrics.RateLimitHits.Inc()
		return false
	}

	if rl.rate > 0 {
		c, ok := rl.clients[addr]
		if !ok {
			c = &client{limiter: rate.NewLimiter(rl.rate, rl.burst)}
			rl.clients[addr] = c
		}
		c.lastSeen = rl.now()
		if !c.limiter.AllowN(c.lastSeen, 1) {
			metrics.RateLimitHits.Inc()
			return false
		}
	}

	rl.active++
	return true
}

// Done releases a slot taken by Allow.
func (rl *RateLimiter) Done() {
	rl.mu.Lock()
	if rl.active > 0 {
		rl.active--
	}
	rl.mu.Unlock()
}

// Middleware rejects requests over the limit with 429 Too Many Requests.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(rl.clientAddr(r)) {
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		defer rl.Done()

		next.ServeHTTP(w, r)
	})
}

// Prune forgets clients idle for longer than idle.
func (rl *RateLimiter) Prune(idle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-idle)
	removed := 0
	for addr, c := range rl.clients {
		if c.lastSeen.Before(cutoff) {
			delete(rl.clients, addr)
			removed++
		}
	}
	return removed
}

// StartCleanup prunes idle clients every interval until ctx is done.
func (rl *RateLimiter) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.Prune(interval)
			}
		}
	}()
}

func (rl *RateLimiter) clientAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); rl.trustForward && fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
