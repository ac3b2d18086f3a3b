package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/deptkpi/kpi/internal/http/render"
)

const (
	limiterIdleTTL    = 10 * time.Minute
	limiterSweepEvery = time.Minute
)

// RateLimiter holds one token bucket per client key.
type RateLimiter struct {
	limit     rate.Limit
	burst     int
	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows reqPerSec sustained requests per key with the given burst.
func NewRateLimiter(reqPerSec float64, burst int) *RateLimiter {
	return &RateLimiter{
		limit:     rate.Limit(reqPerSec),
		burst:     burst,
		buckets:   make(map[string]*bucket),
		lastSweep: time.Now(),
	}
}

// allow spends one token for key. When the bucket is empty it returns how long the
// client should wait.
func (r *RateLimiter) allow(key string, now time.Time) (bool, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.buckets[key] = b
	}
	b.lastSeen = now

	if now.Sub(r.lastSweep) >= limiterSweepEvery {
		for k, other := range r.buckets {
			if now.Sub(other.lastSeen) > limiterIdleTTL {
				delete(r.buckets, k)
			}
		}
		r.lastSweep = now
	}

	res := b.limiter.ReserveN(now, 1)
	if !res.OK() {
		return false, time.Second
	}
	if wait := res.DelayFrom(now); wait > 0 {
		res.CancelAt(now)
		return false, wait
	}
	return true, 0
}

func (r *RateLimiter) middleware(key func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			k := key(req)
			if k == "" {
				next.ServeHTTP(w, req)
				return
			}

			ok, wait := r.allow(k, time.Now())
			if !ok {
				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(wait)))
				render.Error(w, http.StatusTooManyRequests, "มีการเรียกใช้งานถี่เกินไป กรุณาลองใหม่อีกครั้ง")
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

// IPRateLimit keys on the client address. chi's RealIP runs first, so RemoteAddr already
// holds the forwarded address behind a proxy.
func IPRateLimit(limiter *RateLimiter) func(http.Handler) http.Handler {
	return limiter.middleware(clientIP)
}

// UserRateLimit keys on the authenticated subject; anonymous requests pass.
func UserRateLimit(limiter *RateLimiter) func(http.Handler) http.Handler {
	return limiter.middleware(func(r *http.Request) string {
		return GetSubject(r.Context())
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func retryAfterSeconds(wait time.Duration) int {
	secs := int(math.Ceil(wait.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
