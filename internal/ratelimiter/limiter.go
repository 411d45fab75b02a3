// Package ratelimiter provides a per-client token bucket map for the
// generation endpoint. Limiting is opt-in; a nil *Limiter admits everything.
package ratelimiter

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// evictEvery bounds how often the idle sweep runs, counted in Allow calls.
const evictEvery = 512

type client struct {
	lim  *rate.Limiter
	last time.Time
}

// Limiter hands out one token bucket per key and evicts buckets that have
// been idle longer than ttl.
type Limiter struct {
	mu     sync.Mutex
	limit  rate.Limit
	burst  int
	ttl    time.Duration
	byKey  map[string]*client
	allows int
}

// New builds a limiter allowing rps requests per second with the given
// burst per key. Buckets idle longer than ttl are dropped.
func New(rps float64, burst int, ttl time.Duration) *Limiter {
	if burst < 1 {
		burst = 1
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Limiter{
		limit: rate.Limit(rps),
		burst: burst,
		ttl:   ttl,
		byKey: make(map[string]*client),
	}
}

// Allow reports whether the request identified by key may proceed at now.
// A nil limiter always allows.
func (l *Limiter) Allow(key string, now time.Time) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.byKey[key]
	if !ok {
		c = &client{lim: rate.NewLimiter(l.limit, l.burst)}
		l.byKey[key] = c
	}
	c.last = now

	l.allows++
	if l.allows%evictEvery == 0 {
		l.evict(now)
	}

	return c.lim.AllowN(now, 1)
}

// evict drops idle buckets. Caller holds l.mu.
func (l *Limiter) evict(now time.Time) {
	for key, c := range l.byKey {
		if now.Sub(c.last) > l.ttl {
			delete(l.byKey, key)
		}
	}
}

// ClientKey derives the limiter key for a request from the peer address,
// ignoring the port so one host maps to one bucket.
func ClientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
