package web

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"
)

// Default cleanup intervals.
const (
	cleanupInterval = 1 * time.Minute
	visitorTimeout  = 3 * time.Minute
)

// visitor is a single caller (IP) and its token bucket state.
type visitor struct {
	// mu protects the bucket so different visitors never contend.
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

// RateLimiter limits requests per client IP with a token bucket.
type RateLimiter struct {
	// visitors maps IP addresses to their bucket.
	visitors map[string]*visitor
	// mu protects the map itself (adding/removing visitors).
	mu sync.RWMutex

	// rate is the number of tokens added per second.
	rate float64
	// capacity is the max burst size.
	capacity float64

	// trusted are the proxies whose X-Forwarded-For header is honored.
	trusted []netip.Prefix

	now func() time.Time
}

// NewRateLimiter creates a RateLimiter and starts the background cleanup,
// which runs until ctx is done.
func NewRateLimiter(ctx context.Context, rate, capacity float64) *RateLimiter {
	rl := &RateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate,
		capacity: capacity,
		now:      time.Now,
	}

	go rl.cleanupLoop(ctx)

	return rl
}

// getVisitor retrieves or creates the bucket for ip.
func (rl *RateLimiter) getVisitor(ip string) *visitor {
	// 1. Fast Path: Read Lock
	rl.mu.RLock()
	v, exists := rl.visitors[ip]
	rl.mu.RUnlock()

	if exists {
		return v
	}

	// 2. Slow Path: Write Lock
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if v, exists = rl.visitors[ip]; !exists {
		v = &visitor{
			tokens:     rl.capacity, // Start full
			lastRefill: rl.now(),
		}
		rl.visitors[ip] = v
	}
	return v
}

// Allow reports whether ip may make another request, refilling its bucket
// lazily from the time elapsed since the last call.
func (rl *RateLimiter) Allow(ip string) bool {
	v := rl.getVisitor(ip)

	v.mu.Lock()
	defer v.mu.Unlock()

	now := rl.now()

	// 1. Lazy refill
	if elapsed := now.Sub(v.lastRefill).Seconds(); elapsed > 0 {
		v.tokens = min(v.tokens+elapsed*rl.rate, rl.capacity)
		v.lastRefill = now
	}

	// 2. Consume token
	if v.tokens >= 1.0 {
		v.tokens--
		return true
	}
	return false
}

// TrustProxies makes the limiter key requests arriving from the given
// networks by the client address they forwarded. Without trusted proxies the
// X-Forwarded-For header is ignored.
func (rl *RateLimiter) TrustProxies(prefixes []netip.Prefix) {
	rl.trusted = prefixes
}

// Len returns the number of tracked visitors.
func (rl *RateLimiter) Len() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.visitors)
}

func (rl *RateLimiter) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.evictIdle()
		}
	}
}

// evictIdle drops visitors that have not been seen for visitorTimeout.
func (rl *RateLimiter) evictIdle() {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	for ip, v := range rl.visitors {
		v.mu.Lock()
		if now.Sub(v.lastRefill) > visitorTimeout {
			delete(rl.visitors, ip)
		}
		v.mu.Unlock()
	}
}

// Middleware rejects requests from callers that ran out of tokens.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(rl.clientIP(r)) {
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP returns the peer address, or, when the peer is a trusted proxy,
// the right-most X-Forwarded-For hop that is not itself a trusted proxy.
func (rl *RateLimiter) clientIP(r *http.Request) string {
	client := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		client = host
	}

	fwd := r.Header.Values("X-Forwarded-For")
	if len(fwd) == 0 || !rl.isTrusted(client) {
		return client
	}

	hops := strings.Split(strings.Join(fwd, ","), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if _, err := netip.ParseAddr(hop); err != nil {
			return client
		}
		if !rl.isTrusted(hop) {
			return hop
		}
		client = hop
	}
	return client
}

func (rl *RateLimiter) isTrusted(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range rl.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
