// Package middleware holds HTTP middleware shared by the local gateway.
package middleware

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// idleClient is how long a per-client limiter is kept after its last request.
const idleClient = 3 * time.Minute

// SecurityHeaders stops browsers from framing, sniffing or caching gateway
// responses. The gateway is reachable from any local web page, so it never
// relies on the browser's defaults.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Content-Security-Policy", "default-src 'none'")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// RateLimitConfig configures RateLimit.
type RateLimitConfig struct {
	RequestsPerMin int
	BurstSize      int
}

// Enabled reports whether the limit is active.
func (c RateLimitConfig) Enabled() bool {
	return c.RequestsPerMin > 0
}

// RateLimit applies a token bucket per remote host. Idle entries are
// evicted by a janitor goroutine that lives until ctx is done.
func RateLimit(ctx context.Context, cfg RateLimitConfig) func(http.Handler) http.Handler {
	type client struct {
		limiter  *rate.Limiter
		lastSeen time.Time
	}
	if !cfg.Enabled() {
		return func(next http.Handler) http.Handler { return next }
	}
	burst := max(cfg.BurstSize, 1)

	var mu sync.Mutex
	clients := make(map[string]*client)

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				mu.Lock()
				for host, c := range clients {
					if now.Sub(c.lastSeen) > idleClient {
						delete(clients, host)
					}
				}
				mu.Unlock()
			}
		}
	}()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			host := remoteHost(r)

			mu.Lock()
			c, ok := clients[host]
			if !ok {
				c = &client{limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerMin)/60, burst)}
				clients[host] = c
			}
			c.lastSeen = time.Now()
			mu.Unlock()

			if !c.limiter.Allow() {
				w.Header().Set("Retry-After", "1")
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// remoteHost is the TCP peer address without its port. Proxy headers are
// ignored: the gateway only ever sits on a local interface.
func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
