package lndaddr

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"golang.org/x/time/rate"
)

// limiterIdleTimeout is how long a client's limiter is kept after its last
// request.
const limiterIdleTimeout = 10 * time.Minute

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter limits requests per client IP.
type rateLimiter struct {
	rate       rate.Limit
	burst      int
	trustProxy bool
	clock      clock.Clock

	mu       sync.Mutex
	limiters map[string]*clientLimiter
}

func newRateLimiter(perSecond float64, burst int, trustProxy bool,
	clk clock.Clock) *rateLimiter {

	if burst < 1 {
		burst = 1
	}

	return &rateLimiter{
		rate:       rate.Limit(perSecond),
		burst:      burst,
		trustProxy: trustProxy,
		clock:      clk,
		limiters:   make(map[string]*clientLimiter),
	}
}

// allow reports whether the client may make another request now.
func (rl *rateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	cl, ok := rl.limiters[key]
	if !ok {
		cl = &clientLimiter{
			limiter: rate.NewLimiter(rl.rate, rl.burst),
		}
		rl.limiters[key] = cl
	}
	cl.lastSeen = now

	return cl.limiter.AllowN(now, 1)
}

// cleanup removes limiters of clients that have been idle for a while and
// returns the number removed.
func (rl *rateLimiter) cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	var removed int
	for key, cl := range rl.limiters {
		if now.Sub(cl.lastSeen) >= limiterIdleTimeout {
			delete(rl.limiters, key)
			removed++
		}
	}

	return removed
}

// clientKey identifies the client of a request.
func (rl *rateLimiter) clientKey(r *http.Request) string {
	// Only the rightmost entry is appended by the trusted proxy, everything
	// left of it is under the client's control.
	if rl.trustProxy {
		fwds := r.Header.Values("X-Forwarded-For")
		for i := len(fwds) - 1; i >= 0; i-- {
			entries := strings.Split(fwds[i], ",")
			for j := len(entries) - 1; j >= 0; j-- {
				entry := strings.TrimSpace(entries[j])
				if entry != "" {
					return entry
				}
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}

// handler rejects requests of clients exceeding their rate.
func (rl *rateLimiter) handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := rl.clientKey(r)
		if !rl.allow(key) {
			log.Debugf("Rate limit exceeded for %s on %s", key,
				r.URL.Path)

			httpRequestsTotal.WithLabelValues(
				"ratelimited", "429",
			).Inc()
			writeError(w, http.StatusTooManyRequests,
				errRateLimited)

			return
		}

		next.ServeHTTP(w, r)
	})
}
